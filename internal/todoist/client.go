// Package todoist pulls task changes from the Todoist Sync API (v9).
package todoist

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/thruflo/tasksync/internal/state"
)

// DefaultBaseURL is the Sync API root.
const DefaultBaseURL = "https://api.todoist.com/sync/v9"

// fullSyncToken asks Todoist for every item instead of a delta.
const fullSyncToken = "*"

// Client pulls item changes for one Todoist account.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another server.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// New creates a Client authenticating with the personal API token. The
// token is sent as an OAuth2 bearer token.
func New(ctx context.Context, token string, opts ...Option) *Client {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, &http.Client{Timeout: 30 * time.Second})
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})

	c := &Client{
		baseURL:    DefaultBaseURL,
		httpClient: oauth2.NewClient(ctx, src),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type syncResponse struct {
	SyncToken string            `json:"sync_token"`
	FullSync  bool              `json:"full_sync"`
	Items     []json.RawMessage `json:"items"`
}

type item struct {
	ID             string   `json:"id"`
	Content        string   `json:"content"`
	Priority       int      `json:"priority"`
	Labels         []string `json:"labels"`
	Checked        bool     `json:"checked"`
	IsDeleted      bool     `json:"is_deleted"`
	Due            *due     `json:"due"`
	ResponsibleUID *string  `json:"responsible_uid"`
	CompletedAt    *string  `json:"completed_at"`
}

type due struct {
	Date        string `json:"date"`
	IsRecurring bool   `json:"is_recurring"`
}

// Sync pulls the items changed since cursor. An empty cursor requests a
// full sync. Items that cannot be decoded are reported in
// Snapshot.Rejected and the rest of the pull is still returned.
//
// A cancelled ctx prevents the request from being sent but does not abort
// one in flight; the HTTP client timeout still applies.
func (c *Client) Sync(ctx context.Context, cursor string) (*state.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cursor == "" {
		cursor = fullSyncToken
	}
	form := url.Values{}
	form.Set("sync_token", cursor)
	form.Set("resource_types", `["items"]`)

	req, err := http.NewRequestWithContext(context.WithoutCancel(ctx), http.MethodPost, c.baseURL+"/sync", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("todoist sync: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("todoist sync: failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, ErrInvalidToken
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	var body syncResponse
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, &PayloadError{Payload: string(raw), Err: err}
	}
	if body.SyncToken == "" {
		return nil, &PayloadError{Payload: string(raw), Err: fmt.Errorf("missing sync_token")}
	}

	snapshot := &state.Snapshot{
		Cursor:   body.SyncToken,
		FullSync: body.FullSync,
	}
	for _, rawItem := range body.Items {
		task, err := decodeItem(rawItem)
		if err != nil {
			snapshot.Rejected = append(snapshot.Rejected, &PayloadError{Payload: string(rawItem), Err: err})
			continue
		}
		snapshot.Items = append(snapshot.Items, task)
	}
	return snapshot, nil
}

func decodeItem(raw json.RawMessage) (state.SourceTask, error) {
	var it item
	if err := json.Unmarshal(raw, &it); err != nil {
		return state.SourceTask{}, err
	}
	if it.ID == "" {
		return state.SourceTask{}, fmt.Errorf("missing id")
	}
	priority := state.Priority(it.Priority)
	if !priority.Valid() {
		return state.SourceTask{}, fmt.Errorf("invalid priority %d", it.Priority)
	}

	task := state.SourceTask{
		ID:       it.ID,
		Content:  it.Content,
		Priority: priority,
		Labels:   it.Labels,
		Deleted:  it.IsDeleted,
		Checked:  it.Checked,
	}
	if it.ResponsibleUID != nil {
		task.ResponsibleUID = *it.ResponsibleUID
	}
	if it.Due != nil {
		ts, err := parseTimestamp(it.Due.Date)
		if err != nil {
			return state.SourceTask{}, fmt.Errorf("due date: %w", err)
		}
		task.DueAt = &ts
		task.Recurring = it.Due.IsRecurring
	}
	if it.CompletedAt != nil && *it.CompletedAt != "" {
		ts, err := parseTimestamp(*it.CompletedAt)
		if err != nil {
			return state.SourceTask{}, fmt.Errorf("completed_at: %w", err)
		}
		task.CompletedAt = &ts
	}
	return task, nil
}

// Todoist dates are either full RFC3339 timestamps, floating date-times
// without a zone, or plain dates. Floating values are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02",
}

func parseTimestamp(s string) (int64, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.Unix(), nil
		}
	}
	return 0, fmt.Errorf("unrecognised timestamp %q", s)
}
