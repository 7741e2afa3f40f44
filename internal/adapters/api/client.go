package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"dealstream/internal/domain"
	"dealstream/internal/infra/metrics"
)

// Client — REST-клиент API маркетплейса: сообщения, уведомления,
// квитанции о прочтении, статус набора.
type Client struct {
	baseURL    *url.URL
	token      string
	httpClient *http.Client
}

// Option настраивает клиент.
type Option func(*Client)

// WithHTTPClient задаёт свой http.Client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithTimeout задаёт таймаут запросов.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if c.httpClient == nil {
			c.httpClient = &http.Client{}
		}
		c.httpClient.Timeout = timeout
	}
}

type apiError struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// New создаёт клиент для базового URL и bearer-токена.
func New(baseURL, token string, opts ...Option) (*Client, error) {
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
	client := &Client{
		baseURL:    parsed,
		token:      token,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// ListMessages возвращает историю сообщений канала.
func (c *Client) ListMessages(ctx context.Context, channelID string, limit, offset int) ([]domain.Item, error) {
	endpoint := fmt.Sprintf("/chats/%s/messages?limit=%d&offset=%d", url.PathEscape(channelID), limit, offset)
	var items []domain.Item
	if err := c.get(ctx, "list_messages", endpoint, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// SendMessage отправляет сообщение. С вложениями уходит multipart-запрос,
// без — обычный JSON. Сервер возвращает созданный Item с проставленным
// clientRef из черновика.
func (c *Client) SendMessage(ctx context.Context, channelID string, draft domain.Draft) (domain.Item, error) {
	endpoint := fmt.Sprintf("/chats/%s/messages", url.PathEscape(channelID))
	var item domain.Item
	if len(draft.Attachments) == 0 {
		payload := map[string]any{"body": draft.Body, "clientRef": draft.ClientRef}
		if err := c.post(ctx, "send_message", endpoint, payload, &item); err != nil {
			return domain.Item{}, err
		}
		return item, nil
	}
	if err := c.postMultipart(ctx, endpoint, draft, &item); err != nil {
		return domain.Item{}, err
	}
	return item, nil
}

// MarkRead помечает одно сообщение прочитанным.
func (c *Client) MarkRead(ctx context.Context, channelID, itemID string) error {
	endpoint := fmt.Sprintf("/chats/%s/messages/%s/read", url.PathEscape(channelID), url.PathEscape(itemID))
	return c.post(ctx, "mark_read", endpoint, nil, nil)
}

// MarkChannelRead помечает прочитанным весь канал.
func (c *Client) MarkChannelRead(ctx context.Context, channelID string) error {
	endpoint := fmt.Sprintf("/chats/%s/read", url.PathEscape(channelID))
	return c.post(ctx, "mark_channel_read", endpoint, nil, nil)
}

// SetTyping передаёт фронт локального набора текста.
func (c *Client) SetTyping(ctx context.Context, channelID string, isTyping bool) error {
	endpoint := fmt.Sprintf("/chats/%s/typing", url.PathEscape(channelID))
	return c.post(ctx, "set_typing", endpoint, map[string]any{"isTyping": isTyping}, nil)
}

// ListNotifications возвращает страницу ленты уведомлений.
func (c *Client) ListNotifications(ctx context.Context, limit, offset int) ([]domain.Item, error) {
	endpoint := fmt.Sprintf("/notifications?limit=%d&offset=%d", limit, offset)
	var items []domain.Item
	if err := c.get(ctx, "list_notifications", endpoint, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// MarkNotificationRead помечает одно уведомление прочитанным.
func (c *Client) MarkNotificationRead(ctx context.Context, itemID string) error {
	endpoint := fmt.Sprintf("/notifications/%s/read", url.PathEscape(itemID))
	return c.post(ctx, "mark_notification_read", endpoint, nil, nil)
}

// MarkAllNotificationsRead помечает прочитанной всю ленту.
func (c *Client) MarkAllNotificationsRead(ctx context.Context) error {
	return c.post(ctx, "mark_all_notifications_read", "/notifications/read-all", nil, nil)
}

// UnreadCount возвращает серверный счётчик непрочитанных уведомлений.
func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	if err := c.get(ctx, "unread_count", "/notifications/unread-count", &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

func (c *Client) get(ctx context.Context, operation, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(operation, req, out)
}

func (c *Client) post(ctx context.Context, operation, endpoint string, body, out any) error {
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return err
	}
	return c.do(operation, req, out)
}

func (c *Client) postMultipart(ctx context.Context, endpoint string, draft domain.Draft, out any) error {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.WriteField("body", draft.Body); err != nil {
		return fmt.Errorf("write body field: %w", err)
	}
	if err := writer.WriteField("clientRef", draft.ClientRef); err != nil {
		return fmt.Errorf("write clientRef field: %w", err)
	}
	for i, upload := range draft.Attachments {
		part, err := writer.CreateFormFile("attachments", upload.Name)
		if err != nil {
			return fmt.Errorf("create form file %d: %w", i, err)
		}
		if _, err := io.Copy(part, upload.Reader); err != nil {
			return fmt.Errorf("copy attachment %s: %w", upload.Name, err)
		}
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.resolve(endpoint), &buf)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.token)
	return c.do("send_message_multipart", req, out)
}

func (c *Client) resolve(endpoint string) string {
	resolved := *c.baseURL
	parts := strings.SplitN(endpoint, "?", 2)
	resolved.Path = strings.TrimSuffix(c.baseURL.Path, "/") + parts[0]
	if len(parts) == 2 {
		resolved.RawQuery = parts[1]
	}
	return resolved.String()
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body any) (*http.Request, error) {
	var buf io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		buf = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.resolve(endpoint), buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	return req, nil
}

func (c *Client) do(operation string, req *http.Request, out any) error {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	defer func() { metrics.ObserveNetworkRequest("api", operation, start, err) }()
	if err != nil {
		return fmt.Errorf("marketplace api request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr apiError
		data, readErr := io.ReadAll(resp.Body)
		if readErr == nil && len(data) > 0 {
			_ = json.Unmarshal(data, &apiErr)
		}
		if apiErr.Error == "" {
			apiErr.Error = strings.TrimSpace(string(data))
		}
		err = mapAPIError(resp.StatusCode, apiErr)
		return err
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if decodeErr := json.NewDecoder(resp.Body).Decode(out); decodeErr != nil {
		err = fmt.Errorf("decode response: %w", decodeErr)
		return err
	}
	return nil
}

func mapAPIError(status int, err apiError) error {
	switch err.Code {
	case "unauthorized":
		return domain.ErrUnauthorized
	case "forbidden":
		return domain.ErrForbidden
	case "not_found":
		return domain.ErrNotFound
	}
	switch status {
	case http.StatusUnauthorized:
		return domain.ErrUnauthorized
	case http.StatusForbidden:
		return domain.ErrForbidden
	case http.StatusNotFound:
		return domain.ErrNotFound
	}
	if err.Code != "" {
		return fmt.Errorf("marketplace api error [%s]: %s", err.Code, err.Error)
	}
	return fmt.Errorf("marketplace api error: status=%d message=%s", status, err.Error)
}

var _ domain.MessageAPI = (*Client)(nil)
var _ domain.NotificationAPI = (*Client)(nil)
