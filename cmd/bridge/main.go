package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"dealstream/internal/adapters/amqpsink"
	"dealstream/internal/adapters/api"
	"dealstream/internal/adapters/sse"
	"dealstream/internal/adapters/telegramsink"
	"dealstream/internal/domain"
	"dealstream/internal/infra/config"
	"dealstream/internal/infra/log"
	"dealstream/internal/infra/metrics"
	"dealstream/internal/infra/prefs"
	"dealstream/internal/usecase/notify"
)

// bridge подписывается на ленту уведомлений маркетплейса и доставляет
// события во внешние каналы: Telegram и AMQP.
func main() {
	cfg := config.Load()
	logger := log.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	metrics.StartServer(ctx, logger, cfg.MetricsAddr)

	client, err := api.New(cfg.API.BaseURL, cfg.API.Token, api.WithTimeout(cfg.API.Timeout))
	if err != nil {
		logger.Fatal().Err(err).Msg("bridge: не удалось создать API-клиент")
	}
	dialer, err := sse.NewDialer(cfg.API.BaseURL, logger,
		sse.WithBackoff(cfg.Stream.InitialBackoff, cfg.Stream.MaxBackoff, cfg.Stream.MaxElapsed))
	if err != nil {
		logger.Fatal().Err(err).Msg("bridge: не удалось создать SSE-дайлер")
	}

	var prefsRepo domain.PrefsRepo
	if cfg.RedisAddr != "" {
		prefsRepo = prefs.NewRedis(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}))
	} else {
		logger.Warn().Msg("bridge: REDIS_ADDR не задан, настройки хранятся в памяти")
		prefsRepo = prefs.NewMemory()
	}

	var sinks []domain.Sink
	if cfg.Telegram.Token != "" {
		botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
		if err != nil {
			logger.Fatal().Err(err).Msg("bridge: не удалось создать бота")
		}
		sinks = append(sinks, telegramsink.New(botAPI, cfg.Telegram.ChatID, logger))
	}
	if cfg.AMQP.URL != "" {
		amqpSink, err := amqpsink.New(cfg.AMQP.URL, cfg.AMQP.Exchange)
		if err != nil {
			logger.Fatal().Err(err).Msg("bridge: не удалось подключиться к AMQP")
		}
		defer amqpSink.Close()
		sinks = append(sinks, amqpSink)
	}
	if len(sinks) == 0 {
		logger.Warn().Msg("bridge: ни один приёмник не настроен, события только логируются")
	}

	ctrl := notify.NewController(notify.Config{
		API:          client,
		Dialer:       dialer,
		Prefs:        prefsRepo,
		Token:        cfg.API.Token,
		UserID:       cfg.API.UserID,
		PollInterval: cfg.Unread.PollInterval,
		Logger:       logger,
	})
	ctrl.OnItem(func(item domain.Item) {
		if !ctrl.Prefs().Push {
			return
		}
		for _, sink := range sinks {
			go func(sink domain.Sink) {
				deliverCtx, deliverCancel := context.WithTimeout(context.Background(), 15*time.Second)
				defer deliverCancel()
				if err := sink.Deliver(deliverCtx, item); err != nil {
					logger.Error().Err(err).Str("item_id", item.ID).Msg("bridge: доставка не удалась")
				}
			}(sink)
		}
		logger.Info().Str("item_id", item.ID).Str("kind", string(item.Kind)).Msg("bridge: уведомление получено")
	})

	if err := ctrl.Open(ctx); err != nil {
		logger.Fatal().Err(err).Msg("bridge: не удалось открыть ленту уведомлений")
	}
	defer ctrl.Close()

	logger.Info().Str("api", cfg.API.BaseURL).Msg("bridge запущен")
	ctrl.Run(ctx)
	logger.Info().Msg("остановка bridge")
}
