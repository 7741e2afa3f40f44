package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"dealstream/internal/adapters/api"
	"dealstream/internal/adapters/sse"
	"dealstream/internal/domain"
	"dealstream/internal/infra/config"
	"dealstream/internal/infra/log"
	"dealstream/internal/usecase/chat"
	"dealstream/internal/usecase/unread"
)

// chat — консольный клиент одного чат-канала. Первый аргумент — id канала.
func main() {
	cfg := config.Load()
	logger := log.NewLogger(cfg.AppEnv)

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "использование: chat <channel-id>")
		os.Exit(2)
	}
	channelID := os.Args[1]

	client, err := api.New(cfg.API.BaseURL, cfg.API.Token, api.WithTimeout(cfg.API.Timeout))
	if err != nil {
		logger.Fatal().Err(err).Msg("chat: не удалось создать API-клиент")
	}
	dialer, err := sse.NewDialer(cfg.API.BaseURL, logger,
		sse.WithBackoff(cfg.Stream.InitialBackoff, cfg.Stream.MaxBackoff, cfg.Stream.MaxElapsed))
	if err != nil {
		logger.Fatal().Err(err).Msg("chat: не удалось создать SSE-дайлер")
	}

	tracker := unread.New(nil)
	ctrl := chat.NewController(chat.Config{
		API:     client,
		Dialer:  dialer,
		Tracker: tracker,
		Token:   cfg.API.Token,
		SelfID:  cfg.API.UserID,
		Logger:  logger,
	})

	var mu sync.Mutex
	seen := make(map[string]bool)
	ctrl.OnChange(func(snap chat.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		for _, item := range snap.Items {
			if seen[item.ID] || item.Pending {
				continue
			}
			seen[item.ID] = true
			fmt.Printf("[%s] %s: %s\n", item.CreatedAt.Format("15:04"), item.SenderID, item.Body)
		}
		if len(snap.TypingUsers) > 0 {
			fmt.Printf("... набирает: %s\n", strings.Join(snap.TypingUsers, ", "))
		}
		if snap.Conn == domain.ConnGaveUp {
			fmt.Println("соединение потеряно, переподключение исчерпано")
		}
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	if err := ctrl.Open(ctx, channelID); err != nil {
		logger.Fatal().Err(err).Msg("chat: не удалось открыть канал")
	}
	defer ctrl.Close()
	ctrl.SetFocused(true)

	fmt.Printf("канал %s открыт, /quit для выхода\n", channelID)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit":
			return
		case line == "/read":
			if err := ctrl.MarkChannelRead(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "не удалось отметить прочитанным: %v\n", err)
			}
		default:
			ctrl.Typing()
			if _, err := ctrl.Send(ctx, line, nil); err != nil {
				fmt.Fprintf(os.Stderr, "отправка не удалась: %v\n", err)
			}
		}
	}
}
