package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"dealstream/internal/domain"
)

func TestListMessagesPassesAuthAndPaging(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chats/ch1/messages" {
			t.Errorf("неожиданный путь: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("нет bearer-токена")
		}
		if r.URL.Query().Get("limit") != "50" || r.URL.Query().Get("offset") != "10" {
			t.Errorf("неожиданная пагинация: %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"id":"m1","body":"привет"},{"id":"m2","body":"ответ"}]`))
	}))
	defer srv.Close()

	client, err := New(srv.URL, "tok")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	items, err := client.ListMessages(context.Background(), "ch1", 50, 10)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(items) != 2 || items[0].ID != "m1" {
		t.Fatalf("неожиданный ответ: %+v", items)
	}
}

func TestSendMessageJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("без вложений ожидали json, получили %s", ct)
		}
		w.Write([]byte(`{"id":"srv-1","clientRef":"ref-1","body":"hello"}`))
	}))
	defer srv.Close()

	client, _ := New(srv.URL, "tok")
	item, err := client.SendMessage(context.Background(), "ch1", domain.Draft{Body: "hello", ClientRef: "ref-1"})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if item.ID != "srv-1" || item.ClientRef != "ref-1" {
		t.Fatalf("сервер должен вернуть item с clientRef: %+v", item)
	}
}

func TestSendMessageMultipartWithAttachments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ожидали multipart: %v", err)
		}
		if r.FormValue("clientRef") != "ref-2" {
			t.Errorf("clientRef не дошёл")
		}
		files := r.MultipartForm.File["attachments"]
		if len(files) != 1 || files[0].Filename != "brief.pdf" {
			t.Errorf("вложение не дошло: %+v", files)
		}
		w.Write([]byte(`{"id":"srv-2","clientRef":"ref-2"}`))
	}))
	defer srv.Close()

	client, _ := New(srv.URL, "tok")
	draft := domain.Draft{
		Body:      "смета",
		ClientRef: "ref-2",
		Attachments: []domain.Upload{
			{Name: "brief.pdf", MIMEType: "application/pdf", Reader: strings.NewReader("%PDF-1.4")},
		},
	}
	item, err := client.SendMessage(context.Background(), "ch1", draft)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if item.ID != "srv-2" {
		t.Fatalf("неожиданный ответ: %+v", item)
	}
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"код в теле", http.StatusBadRequest, `{"error":"no auth","code":"unauthorized"}`, domain.ErrUnauthorized},
		{"статус 403", http.StatusForbidden, `нет`, domain.ErrForbidden},
		{"статус 404", http.StatusNotFound, ``, domain.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			client, _ := New(srv.URL, "tok")
			_, err := client.UnreadCount(context.Background())
			if !errors.Is(err, tc.want) {
				t.Fatalf("ожидали %v, получили %v", tc.want, err)
			}
		})
	}
}

func TestUnreadCount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/notifications/unread-count" {
			t.Errorf("неожиданный путь: %s", r.URL.Path)
		}
		w.Write([]byte(`{"count":17}`))
	}))
	defer srv.Close()

	client, _ := New(srv.URL, "tok")
	count, err := client.UnreadCount(context.Background())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if count != 17 {
		t.Fatalf("ожидали 17, получили %d", count)
	}
}
