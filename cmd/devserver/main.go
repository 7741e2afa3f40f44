package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"dealstream/internal/devserver"
	"dealstream/internal/infra/config"
	"dealstream/internal/infra/log"
)

// devserver — учебный бэкенд в памяти для локальной разработки клиента.
func main() {
	cfg := config.Load()
	logger := log.NewLogger(cfg.AppEnv)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: devserver.New(logger).Router,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("devserver запущен")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("devserver остановлен с ошибкой")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("остановка devserver")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
}
