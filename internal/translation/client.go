package translation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"ephemeral-chat/internal/paramstore"
)

type translateRequest struct {
	Text   string `json:"text"`
	Source string `json:"source,omitempty"`
	Target string `json:"target"`
}

type translateResponse struct {
	TranslatedText string `json:"translated_text"`
	DetectedSource string `json:"detected_source"`
}

// Result is one backend translation.
type Result struct {
	Text           string
	DetectedSource string
}

// HTTPStatusError is a non-2xx answer from the translation backend.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("translation: status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

// Client talks to the translation backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	apiKey     string
	getter     paramstore.Getter
	keyParam   string

	keyOnce     sync.Once
	resolvedKey string
	keyErr      error
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient = &http.Client{Timeout: d}
		}
	}
}

// WithAPIKey sets a static key.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = strings.TrimSpace(key) }
}

// WithParamStoreKey resolves the key from the parameter store on first use.
func WithParamStoreKey(getter paramstore.Getter, prefix string) Option {
	return func(c *Client) {
		c.getter = getter
		c.keyParam = strings.TrimRight(strings.TrimSpace(prefix), "/") + "/translation-api-key"
	}
}

func NewClient(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("translation: base url must not be empty")
	}
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) translateURL() string {
	if strings.HasSuffix(c.baseURL, "/v1") {
		return c.baseURL + "/translate"
	}
	return c.baseURL + "/v1/translate"
}

func (c *Client) key(ctx context.Context) (string, error) {
	if c.apiKey != "" || c.getter == nil {
		return c.apiKey, nil
	}
	c.keyOnce.Do(func() {
		c.resolvedKey, c.keyErr = c.getter.GetParameter(ctx, c.keyParam)
		if c.keyErr == nil && strings.TrimSpace(c.resolvedKey) == "" {
			c.keyErr = errors.New("translation: api key parameter is empty")
		}
	})
	return strings.TrimSpace(c.resolvedKey), c.keyErr
}

// Translate renders text in target. source may be empty.
func (c *Client) Translate(ctx context.Context, text, source, target string) (Result, error) {
	if strings.TrimSpace(target) == "" {
		return Result{}, errors.New("translation: target language must not be empty")
	}
	apiKey, err := c.key(ctx)
	if err != nil {
		return Result{}, err
	}

	body, err := json.Marshal(translateRequest{Text: text, Source: source, Target: target})
	if err != nil {
		return Result{}, errors.Wrap(err, "translation: marshal request")
	}
	url := c.translateURL()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Result{}, errors.Wrap(err, "translation: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, errors.Wrap(err, "translation: request failed")
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return Result{}, &HTTPStatusError{StatusCode: res.StatusCode, URL: url, Body: string(buf)}
	}

	var payload translateResponse
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(&payload); err != nil {
		return Result{}, errors.Wrap(err, "translation: decode response")
	}
	if payload.TranslatedText == "" {
		return Result{}, errors.New("translation: empty translation")
	}
	return Result{Text: payload.TranslatedText, DetectedSource: payload.DetectedSource}, nil
}
