package devserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"dealstream/internal/domain"
)

// Server — учебный бэкенд в памяти, реализующий REST/SSE-контракт
// маркетплейса. Используется для локальной разработки и интеграционных
// тестов клиента; ничего не персистит.
type Server struct {
	Router chi.Router
	log    zerolog.Logger

	mu    sync.Mutex
	rooms map[string]*room
	feed  *room
}

type room struct {
	mu     sync.Mutex
	items  []domain.Item
	broker *broker
}

func newRoom() *room {
	return &room{broker: newBroker()}
}

// New создаёт сервер с полным набором маршрутов.
func New(logger zerolog.Logger) *Server {
	s := &Server{
		log:   logger.With().Str("component", "devserver").Logger(),
		rooms: make(map[string]*room),
		feed:  newRoom(),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Minute))
	r.Use(s.auth)

	r.Get("/chats/{channelID}/stream", s.chatStream)
	r.Get("/chats/{channelID}/messages", s.listMessages)
	r.Post("/chats/{channelID}/messages", s.sendMessage)
	r.Post("/chats/{channelID}/messages/{itemID}/read", s.markMessageRead)
	r.Post("/chats/{channelID}/read", s.markChannelRead)
	r.Post("/chats/{channelID}/typing", s.setTyping)

	r.Get("/notifications/stream", s.notificationStream)
	r.Get("/notifications", s.listNotifications)
	r.Post("/notifications/{itemID}/read", s.markNotificationRead)
	r.Post("/notifications/read-all", s.markAllNotificationsRead)
	r.Get("/notifications/unread-count", s.unreadCount)

	s.Router = r
	return s
}

// auth принимает любой непустой bearer-токен и считает его идентификатором
// пользователя. Пустой токен — 401 в формате ошибок боевого API.
func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if userID := bearerToken(r); userID == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "требуется bearer-токен")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	header := r.Header.Get("Authorization")
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):]
	}
	return ""
}

// PushNotification кладёт уведомление в ленту и рассылает его подписчикам.
// Тестовый хук: в боевом API уведомления порождает сервер.
func (s *Server) PushNotification(item domain.Item) {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	eventType := domain.EventMessage
	if item.Kind != "" {
		eventType = domain.EventType(item.Kind)
	}
	s.feed.append(item)
	s.feed.broker.broadcast(marshalEvent(eventType, item))
}

func (s *Server) roomFor(channelID string) *room {
	s.mu.Lock()
	defer s.mu.Unlock()
	rm, ok := s.rooms[channelID]
	if !ok {
		rm = newRoom()
		s.rooms[channelID] = rm
	}
	return rm
}

func (s *Server) chatStream(w http.ResponseWriter, r *http.Request) {
	s.serveStream(w, r, s.roomFor(chi.URLParam(r, "channelID")))
}

func (s *Server) notificationStream(w http.ResponseWriter, r *http.Request) {
	s.serveStream(w, r, s.feed)
}

func (s *Server) serveStream(w http.ResponseWriter, r *http.Request, rm *room) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal", "стриминг не поддерживается")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := rm.broker.subscribe()
	defer rm.broker.unsubscribe(sub)

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case payload, ok := <-sub:
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	rm := s.roomFor(chi.URLParam(r, "channelID"))
	writeJSON(w, http.StatusOK, rm.list(parsePaging(r)))
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelID")
	rm := s.roomFor(channelID)

	item := domain.Item{
		ID:        uuid.NewString(),
		ChannelID: channelID,
		SenderID:  bearerToken(r),
		CreatedAt: time.Now().UTC(),
		Delivery:  domain.DeliverySent,
	}

	if mediaType := r.Header.Get("Content-Type"); len(mediaType) >= 19 && mediaType[:19] == "multipart/form-data" {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		item.Body = r.FormValue("body")
		item.ClientRef = r.FormValue("clientRef")
		for _, file := range r.MultipartForm.File["attachments"] {
			item.Attachments = append(item.Attachments, domain.Attachment{
				URL:          "/uploads/" + uuid.NewString(),
				MIMEType:     file.Header.Get("Content-Type"),
				Size:         file.Size,
				OriginalName: file.Filename,
			})
		}
	} else {
		var req struct {
			Body      string `json:"body"`
			ClientRef string `json:"clientRef"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		item.Body = req.Body
		item.ClientRef = req.ClientRef
	}

	rm.append(item)
	// Эхо в поток: клиент обязан свести его с ответом POST по clientRef.
	rm.broker.broadcast(marshalEvent(domain.EventMessage, item))
	s.log.Debug().Str("channel_id", channelID).Str("item_id", item.ID).Msg("сообщение принято")
	writeJSON(w, http.StatusCreated, item)
}

func (s *Server) markMessageRead(w http.ResponseWriter, r *http.Request) {
	rm := s.roomFor(chi.URLParam(r, "channelID"))
	itemID := chi.URLParam(r, "itemID")
	if !rm.markRead(itemID) {
		writeError(w, http.StatusNotFound, "not_found", "сообщение не найдено")
		return
	}
	rm.broker.broadcast(marshalEvent(domain.EventRead, domain.ReceiptPayload{ItemID: itemID, UserID: bearerToken(r)}))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) markChannelRead(w http.ResponseWriter, r *http.Request) {
	rm := s.roomFor(chi.URLParam(r, "channelID"))
	for _, item := range rm.list(0, 0) {
		if rm.markRead(item.ID) {
			rm.broker.broadcast(marshalEvent(domain.EventRead, domain.ReceiptPayload{ItemID: item.ID, UserID: bearerToken(r)}))
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) setTyping(w http.ResponseWriter, r *http.Request) {
	rm := s.roomFor(chi.URLParam(r, "channelID"))
	var req struct {
		IsTyping bool `json:"isTyping"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	rm.broker.broadcast(marshalEvent(domain.EventTyping, domain.TypingPayload{
		UserID:   bearerToken(r),
		IsTyping: req.IsTyping,
	}))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listNotifications(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePaging(r)
	items := s.feed.list(0, 0)
	// Лента отдаётся свежими вперёд.
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	if offset < len(items) {
		items = items[offset:]
	} else {
		items = nil
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) markNotificationRead(w http.ResponseWriter, r *http.Request) {
	if !s.feed.markRead(chi.URLParam(r, "itemID")) {
		writeError(w, http.StatusNotFound, "not_found", "уведомление не найдено")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) markAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	for _, item := range s.feed.list(0, 0) {
		s.feed.markRead(item.ID)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) unreadCount(w http.ResponseWriter, r *http.Request) {
	count := 0
	for _, item := range s.feed.list(0, 0) {
		if !item.Read {
			count++
		}
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": count})
}

func (rm *room) append(item domain.Item) {
	rm.mu.Lock()
	rm.items = append(rm.items, item)
	rm.mu.Unlock()
}

func (rm *room) list(limit, offset int) []domain.Item {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	items := make([]domain.Item, len(rm.items))
	copy(items, rm.items)
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func (rm *room) markRead(itemID string) bool {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	for i := range rm.items {
		if rm.items[i].ID == itemID {
			changed := !rm.items[i].Read
			rm.items[i].Read = true
			if rm.items[i].Delivery.Advances(domain.DeliveryRead) {
				rm.items[i].Delivery = domain.DeliveryRead
			}
			return changed
		}
	}
	return false
}

func parsePaging(r *http.Request) (limit, offset int) {
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	return limit, offset
}

func marshalEvent(eventType domain.EventType, data any) []byte {
	raw, _ := json.Marshal(data)
	payload, _ := json.Marshal(domain.StreamEvent{Type: eventType, Data: raw})
	return payload
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": message, "code": code})
}
