package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	StreamReconnects = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stream_reconnects_total",
		Help: "Количество переподключений потока",
	}, []string{"channel_kind"})

	StreamGaveUp = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stream_gave_up_total",
		Help: "Количество потоков, исчерпавших попытки переподключения",
	}, []string{"channel_kind"})

	StreamEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stream_events_total",
		Help: "Количество принятых событий потока",
	}, []string{"type"})

	StreamEventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stream_events_dropped_total",
		Help: "Количество событий, отброшенных из-за ошибок разбора",
	})

	SendFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "send_failures_total",
		Help: "Ошибки отправки сообщений",
	})

	UnreadTotal = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "unread_total",
		Help: "Текущий глобальный счётчик непрочитанного",
	}, []string{"subsystem"})

	SinkDeliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sink_deliveries_total",
		Help: "Количество доставок во внешние приёмники",
	}, []string{"sink", "status"})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: prometheus.DefBuckets,
	}, []string{"component", "operation", "status"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		StreamReconnects,
		StreamGaveUp,
		StreamEventsTotal,
		StreamEventsDropped,
		SendFailures,
		UnreadTotal,
		SinkDeliveries,
		NetworkRequestDuration,
	)
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownTimeout, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	NetworkRequestDuration.WithLabelValues(component, operation, status).Observe(time.Since(start).Seconds())
}
