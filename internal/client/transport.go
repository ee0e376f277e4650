package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"ephemeral-chat/internal/models"
)

// StatusError is a non-2xx answer from the chat service.
type StatusError struct {
	StatusCode int
	Method     string
	Path       string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("client: %s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

func (e *StatusError) HTTPStatusCode() int { return e.StatusCode }

// HTTPBackend is the Backend spoken over the REST API and websocket feed.
type HTTPBackend struct {
	baseURL    string
	token      string
	httpClient *http.Client
	dialer     *websocket.Dialer
	buffer     int
}

type BackendOption func(*HTTPBackend)

func WithBackendHTTPClient(hc *http.Client) BackendOption {
	return func(b *HTTPBackend) { b.httpClient = hc }
}

func WithDialer(d *websocket.Dialer) BackendOption {
	return func(b *HTTPBackend) { b.dialer = d }
}

func NewHTTPBackend(baseURL, token string, opts ...BackendOption) (*HTTPBackend, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("client: base url must not be empty")
	}
	b := &HTTPBackend{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		dialer:     websocket.DefaultDialer,
		buffer:     64,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

func (b *HTTPBackend) ListMessages(ctx context.Context, conversationID int64) ([]models.Message, error) {
	var out struct {
		Messages []models.Message `json:"messages"`
	}
	path := fmt.Sprintf("/conversations/%d/messages", conversationID)
	if err := b.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

func (b *HTTPBackend) MarkViewed(ctx context.Context, conversationID int64, messageID uuid.UUID) (models.Message, error) {
	var out struct {
		Message models.Message `json:"message"`
	}
	path := fmt.Sprintf("/conversations/%d/messages/%s/view", conversationID, messageID)
	if err := b.doJSON(ctx, http.MethodPost, path, nil, &out); err != nil {
		return models.Message{}, err
	}
	return out.Message, nil
}

func (b *HTTPBackend) RequestDelete(ctx context.Context, conversationID int64, messageID uuid.UUID, scope models.DeleteScope) error {
	path := fmt.Sprintf("/conversations/%d/messages/%s?scope=%s", conversationID, messageID, url.QueryEscape(string(scope)))
	return b.doJSON(ctx, http.MethodDelete, path, nil, nil)
}

func (b *HTTPBackend) Translate(ctx context.Context, conversationID int64, messageID uuid.UUID, target string) (models.Translation, error) {
	var out struct {
		Translation models.Translation `json:"translation"`
	}
	path := fmt.Sprintf("/conversations/%d/messages/%s/translate", conversationID, messageID)
	body := map[string]string{"target_lang": target}
	if err := b.doJSON(ctx, http.MethodPost, path, body, &out); err != nil {
		return models.Translation{}, err
	}
	return out.Translation, nil
}

// Subscribe dials the conversation feed. The channel closes when the
// connection drops or ctx is done.
func (b *HTTPBackend) Subscribe(ctx context.Context, conversationID int64) (<-chan models.FeedEvent, error) {
	wsURL, err := b.feedURL(conversationID)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	if b.token != "" {
		header.Set("Authorization", "Bearer "+b.token)
	}
	conn, res, err := b.dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if res != nil {
			return nil, &StatusError{StatusCode: res.StatusCode, Method: http.MethodGet, Path: wsURL, Body: err.Error()}
		}
		return nil, errors.Wrap(err, "client: dial feed")
	}

	out := make(chan models.FeedEvent, b.buffer)
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()
	go func() {
		defer close(out)
		defer conn.Close()
		for {
			var ev models.FeedEvent
			if err := conn.ReadJSON(&ev); err != nil {
				return
			}
			if ev.Type == "" {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (b *HTTPBackend) feedURL(conversationID int64) (string, error) {
	u, err := url.Parse(b.baseURL)
	if err != nil {
		return "", errors.Wrap(err, "client: parse base url")
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + fmt.Sprintf("/ws/conversations/%d", conversationID)
	return u.String(), nil
}

func (b *HTTPBackend) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "client: marshal request")
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, reader)
	if err != nil {
		return errors.Wrap(err, "client: create request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}

	res, err := b.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "client: %s %s", method, path)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return &StatusError{StatusCode: res.StatusCode, Method: method, Path: path, Body: string(buf)}
	}
	if out == nil || res.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(res.Body, 4<<20)).Decode(out); err != nil {
		return errors.Wrap(err, "client: decode response")
	}
	return nil
}

var _ Backend = (*HTTPBackend)(nil)
