// Package habitica is the reward side of the sync: it creates, scores and
// deletes Habitica todos through the v3 REST API. Every request goes through
// one rate limiter owned by the Client.
package habitica

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/thruflo/tasksync/internal/state"
)

// DefaultBaseURL is the public Habitica endpoint.
const DefaultBaseURL = "https://habitica.com"

const appName = "tasksync"

// Client talks to the Habitica API on behalf of one user.
type Client struct {
	baseURL    string
	userID     string
	apiKey     string
	httpClient *http.Client
	limiter    *rateLimiter
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another server.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithMinInterval sets the minimum spacing between two requests.
func WithMinInterval(d time.Duration) Option {
	return func(c *Client) {
		c.limiter = newRateLimiter(d)
	}
}

// New creates a Client for the given Habitica user id and API token.
func New(userID, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		userID:     userID,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    newRateLimiter(DefaultMinInterval),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error,omitempty"`
	Message string          `json:"message,omitempty"`
}

type createRequest struct {
	Text     string      `json:"text"`
	Type     string      `json:"type"`
	Priority json.Number `json:"priority"`
}

type taskData struct {
	ID       string `json:"id"`
	LegacyID string `json:"_id"`
}

// Create adds a todo and returns its Habitica id.
func (c *Client) Create(ctx context.Context, text string, difficulty state.Difficulty) (string, error) {
	if !difficulty.Valid() {
		return "", fmt.Errorf("habitica: invalid difficulty %d", int(difficulty))
	}
	body, err := json.Marshal(createRequest{
		Text:     text,
		Type:     "todo",
		Priority: json.Number(difficulty.Value()),
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode task: %w", err)
	}

	raw, err := c.do(ctx, http.MethodPost, "/api/v3/tasks/user", body)
	if err != nil {
		return "", err
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", &PayloadError{Payload: string(raw), Err: err}
	}
	var data taskData
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return "", &PayloadError{Payload: string(raw), Err: err}
		}
	}
	id := data.ID
	if id == "" {
		id = data.LegacyID
	}
	if id == "" {
		return "", &PayloadError{Payload: string(raw), Err: errors.New("missing task id")}
	}
	return id, nil
}

// Score checks the todo off ("score up").
func (c *Client) Score(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodPost, "/api/v3/tasks/"+url.PathEscape(id)+"/score/up", nil)
	return err
}

// Delete removes the todo.
func (c *Client) Delete(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodDelete, "/api/v3/tasks/"+url.PathEscape(id), nil)
	return err
}

// do sends one request. ctx is honoured while waiting for the rate limiter.
// A request already sent is not cancelled: it runs until it completes or
// the HTTP client times out.
func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	if err := c.limiter.wait(ctx); err != nil {
		return nil, err
	}
	defer c.limiter.done()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(context.WithoutCancel(ctx), method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("x-api-user", c.userID)
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("x-client", c.userID+"-"+appName)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("habitica %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("habitica %s %s: failed to read response: %w", method, path, err)
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		return raw, nil
	case http.StatusNotFound:
		return nil, fmt.Errorf("habitica %s %s: %w", method, path, ErrNotFound)
	default:
		return nil, &StatusError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(raw)),
		}
	}
}
