package sse

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"dealstream/internal/domain"
	"dealstream/internal/infra/metrics"
)

// Dialer создаёт SSE-потоки каналов. Один Dialer обслуживает один бэкенд.
type Dialer struct {
	baseURL    *url.URL
	httpClient *http.Client
	log        zerolog.Logger

	initialBackoff time.Duration
	maxBackoff     time.Duration
	maxElapsed     time.Duration
}

// Option настраивает Dialer.
type Option func(*Dialer)

// WithHTTPClient задаёт свой http.Client. Клиент не должен иметь общий
// Timeout: он оборвал бы долгоживущий поток.
func WithHTTPClient(client *http.Client) Option {
	return func(d *Dialer) {
		if client != nil {
			d.httpClient = client
		}
	}
}

// WithBackoff задаёт параметры переподключения.
func WithBackoff(initial, max, maxElapsed time.Duration) Option {
	return func(d *Dialer) {
		if initial > 0 {
			d.initialBackoff = initial
		}
		if max > 0 {
			d.maxBackoff = max
		}
		if maxElapsed > 0 {
			d.maxElapsed = maxElapsed
		}
	}
}

// NewDialer создаёт Dialer для базового URL API.
func NewDialer(baseURL string, log zerolog.Logger, opts ...Option) (*Dialer, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("baseURL is required")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Scheme == "" {
		parsed.Scheme = "http"
	}
	d := &Dialer{
		baseURL:        parsed,
		httpClient:     &http.Client{},
		log:            log,
		initialBackoff: 5 * time.Second,
		maxBackoff:     2 * time.Minute,
		maxElapsed:     30 * time.Minute,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// DialChat создаёт поток чат-канала.
func (d *Dialer) DialChat(channelID, token string) domain.Stream {
	return d.dial(fmt.Sprintf("/chats/%s/stream", url.PathEscape(channelID)), token, string(domain.ChannelChat))
}

// DialNotifications создаёт поток глобальной ленты уведомлений.
func (d *Dialer) DialNotifications(token string) domain.Stream {
	return d.dial("/notifications/stream", token, string(domain.ChannelNotification))
}

func (d *Dialer) dial(endpoint, token, kind string) domain.Stream {
	resolved := *d.baseURL
	resolved.Path = strings.TrimSuffix(d.baseURL.Path, "/") + endpoint
	return &stream{
		dialer: d,
		url:    resolved.String(),
		token:  token,
		kind:   kind,
		log:    d.log.With().Str("component", "stream").Str("kind", kind).Logger(),
	}
}

// stream — одно server-push соединение с автоматическим переподключением.
// Сетевые сбои никогда не всплывают ошибкой: наблюдаемы только переходы
// состояния. Повторное открытие управляется флагом wanted, а не состоянием
// соединения, чтобы Close, пришедший между обрывом и срабатыванием таймера
// переподключения, не был проигнорирован.
type stream struct {
	dialer *Dialer
	url    string
	token  string
	kind   string
	log    zerolog.Logger

	mu      sync.Mutex
	wanted  bool
	state   domain.ConnState
	cancel  context.CancelFunc
	onEvent func(domain.StreamEvent)
	onState func(domain.ConnState)
}

// OnEvent регистрирует обработчик разобранных событий.
func (s *stream) OnEvent(fn func(domain.StreamEvent)) {
	s.mu.Lock()
	s.onEvent = fn
	s.mu.Unlock()
}

// OnState регистрирует обработчик переходов состояния.
func (s *stream) OnState(fn func(domain.ConnState)) {
	s.mu.Lock()
	s.onState = fn
	s.mu.Unlock()
}

// Open запускает соединение. Повторный Open работающего потока — no-op.
func (s *stream) Open() {
	s.mu.Lock()
	if s.wanted {
		s.mu.Unlock()
		return
	}
	s.wanted = true
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.mu.Unlock()

	go s.run(ctx)
}

// Close останавливает поток и отменяет запланированное переподключение.
// Идемпотентен.
func (s *stream) Close() {
	s.mu.Lock()
	if !s.wanted {
		s.mu.Unlock()
		return
	}
	s.wanted = false
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (s *stream) run(ctx context.Context) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.dialer.initialBackoff
	bo.MaxInterval = s.dialer.maxBackoff
	bo.MaxElapsedTime = s.dialer.maxElapsed

	for {
		s.setState(domain.ConnConnecting)
		err := s.connectOnce(ctx, bo)
		if ctx.Err() != nil || !s.isWanted() {
			s.setState(domain.ConnClosed)
			return
		}
		if err != nil {
			s.log.Debug().Err(err).Msg("stream: соединение оборвано")
		}
		s.setState(domain.ConnClosed)

		next := bo.NextBackOff()
		if next == backoff.Stop {
			s.log.Warn().Str("url", s.url).Msg("stream: исчерпаны попытки переподключения")
			metrics.StreamGaveUp.WithLabelValues(s.kind).Inc()
			s.setState(domain.ConnGaveUp)
			return
		}
		metrics.StreamReconnects.WithLabelValues(s.kind).Inc()

		select {
		case <-ctx.Done():
			return
		case <-time.After(next):
		}
	}
}

// connectOnce держит одно соединение до обрыва. Возвращает причину обрыва,
// nil — если сервер корректно закрыл поток.
func (s *stream) connectOnce(ctx context.Context, bo *backoff.ExponentialBackOff) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := s.dialer.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("open stream: status %d", resp.StatusCode)
	}

	// Успешное подключение обнуляет окно ретраев.
	bo.Reset()
	s.setState(domain.ConnOpen)

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() > 0 {
				s.dispatch(data.String())
				data.Reset()
			}
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		default:
			// Комментарии (:keepalive) и прочие поля SSE пропускаются.
		}
	}
	return scanner.Err()
}

// dispatch разбирает payload и зовёт обработчик. Одно битое событие не
// должно останавливать поток.
func (s *stream) dispatch(raw string) {
	ev, err := domain.ParseStreamEvent([]byte(raw))
	if err != nil {
		metrics.StreamEventsDropped.Inc()
		s.log.Warn().Err(err).Msg("stream: событие пропущено")
		return
	}
	metrics.StreamEventsTotal.WithLabelValues(string(ev.Type)).Inc()

	s.mu.Lock()
	handler := s.onEvent
	s.mu.Unlock()
	if handler != nil {
		handler(ev)
	}
}

func (s *stream) isWanted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wanted
}

func (s *stream) setState(next domain.ConnState) {
	s.mu.Lock()
	if s.state == next {
		s.mu.Unlock()
		return
	}
	s.state = next
	handler := s.onState
	s.mu.Unlock()
	if handler != nil {
		handler(next)
	}
}

var _ domain.Stream = (*stream)(nil)
var _ domain.StreamDialer = (*Dialer)(nil)
