package sse

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"dealstream/internal/domain"
)

func testDialer(t *testing.T, baseURL string) *Dialer {
	t.Helper()
	d, err := NewDialer(baseURL, zerolog.Nop(), WithBackoff(10*time.Millisecond, 20*time.Millisecond, time.Minute))
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	return d
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("не дождались: %s", msg)
}

func TestStreamDeliversEventsAndToleratesGarbage(t *testing.T) {
	var gotToken atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken.Store(r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "data: {\"type\":\"message\",\"data\":{\"id\":\"m1\",\"body\":\"привет\"}}\n\n")
		fmt.Fprint(w, "data: это не json\n\n")
		fmt.Fprint(w, "data: {\"type\":\"galactic_sync\",\"data\":{}}\n\n")
		fmt.Fprint(w, ": keepalive\n\n")
		fmt.Fprint(w, "data: {\"type\":\"typing\",\"data\":{\"userId\":\"u2\",\"isTyping\":true}}\n\n")
		flusher.Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	var mu sync.Mutex
	var events []domain.StreamEvent
	s := testDialer(t, srv.URL).DialChat("ch1", "token-1")
	s.OnEvent(func(ev domain.StreamEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})
	s.Open()
	defer s.Close()

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) >= 3
	}, "три разобранных события")

	mu.Lock()
	defer mu.Unlock()
	if events[0].Type != domain.EventMessage {
		t.Fatalf("ожидали message первым, получили %s", events[0].Type)
	}
	if events[1].Type != "galactic_sync" {
		t.Fatalf("неизвестный тип должен доходить до обработчика как есть")
	}
	if events[2].Type != domain.EventTyping {
		t.Fatalf("поток должен пережить битое событие и продолжить")
	}
	if gotToken.Load() != "Bearer token-1" {
		t.Fatalf("ожидали bearer-токен, получили %v", gotToken.Load())
	}
}

func TestStreamReconnectsUntilClosed(t *testing.T) {
	var conns int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&conns, 1)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"type\":\"message\",\"data\":{\"id\":\"m1\"}}\n\n")
		// Соединение сразу закрывается — клиент обязан переподключиться.
	}))
	defer srv.Close()

	s := testDialer(t, srv.URL).DialChat("ch1", "t")
	s.Open()

	waitFor(t, 2*time.Second, func() bool {
		return atomic.LoadInt32(&conns) >= 3
	}, "минимум три подключения подряд")

	s.Close()
	// Даём сработать уже взведённому таймеру, если Close его не отменил.
	time.Sleep(100 * time.Millisecond)
	after := atomic.LoadInt32(&conns)
	time.Sleep(150 * time.Millisecond)
	if atomic.LoadInt32(&conns) != after {
		t.Fatalf("после Close новых подключений быть не должно")
	}
}

func TestStreamCloseIsIdempotent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	s := testDialer(t, srv.URL).DialChat("ch1", "t")
	s.Open()
	s.Close()
	s.Close()
	s.Open()
	s.Close()
}

func TestStreamGivesUpAfterMaxElapsed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	d, err := NewDialer(srv.URL, zerolog.Nop(), WithBackoff(5*time.Millisecond, 10*time.Millisecond, 40*time.Millisecond))
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	s := d.DialNotifications("t")

	var mu sync.Mutex
	var states []domain.ConnState
	s.OnState(func(st domain.ConnState) {
		mu.Lock()
		states = append(states, st)
		mu.Unlock()
	})
	s.Open()
	defer s.Close()

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, st := range states {
			if st == domain.ConnGaveUp {
				return true
			}
		}
		return false
	}, "терминальное состояние gave_up")
}
