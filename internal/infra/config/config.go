package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию клиентских сервисов.
type AppConfig struct {
	AppEnv string `envconfig:"APP_ENV" default:"dev"`
	Port   int    `envconfig:"PORT" default:"8080"`

	API struct {
		BaseURL string        `envconfig:"API_BASE_URL" default:"http://localhost:8080/api"`
		Token   string        `envconfig:"API_TOKEN"`
		UserID  string        `envconfig:"API_USER_ID"`
		Timeout time.Duration `envconfig:"API_TIMEOUT" default:"10s"`
	} `envconfig:""`

	Stream struct {
		InitialBackoff time.Duration `envconfig:"STREAM_INITIAL_BACKOFF" default:"5s"`
		MaxBackoff     time.Duration `envconfig:"STREAM_MAX_BACKOFF" default:"2m"`
		MaxElapsed     time.Duration `envconfig:"STREAM_MAX_ELAPSED" default:"30m"`
	} `envconfig:""`

	Unread struct {
		PollInterval time.Duration `envconfig:"UNREAD_POLL_INTERVAL" default:"30s"`
	} `envconfig:""`

	RedisAddr string `envconfig:"REDIS_ADDR"`

	Telegram struct {
		Token  string `envconfig:"TG_BOT_TOKEN"`
		ChatID int64  `envconfig:"TG_CHAT_ID"`
	} `envconfig:""`

	AMQP struct {
		URL      string `envconfig:"AMQP_URL"`
		Exchange string `envconfig:"AMQP_EXCHANGE" default:"dealstream.events"`
	} `envconfig:""`

	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}
