// Package meeting talks to the video-conference companion service.
package meeting

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

	"github.com/google/uuid"
)

// ErrDisabled is returned when no companion service is configured.
var ErrDisabled = errors.New("meeting: companion service not configured")

// HTTPDoer is satisfied by *http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Request describes the meeting window.
type Request struct {
	Topic     string    `json:"topic"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// Meeting is the companion's view of a created meeting.
type Meeting struct {
	ID       string `json:"id"`
	JoinURL  string `json:"join_url"`
	StartURL string `json:"start_url"`
	Password string `json:"password,omitempty"`
}

type payload struct {
	Topic           string    `json:"topic"`
	StartTime       time.Time `json:"start_time"`
	DurationMinutes int       `json:"duration_minutes"`
}

func toPayload(r Request) payload {
	minutes := int(r.EndTime.Sub(r.StartTime).Round(time.Minute) / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	return payload{Topic: r.Topic, StartTime: r.StartTime.UTC(), DurationMinutes: minutes}
}

// StatusError reports a non-2xx response from the companion.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("meeting: %s returned status %d: %s", e.Op, e.Status, e.Body)
}

// Client wraps interactions with the companion API.
type Client struct {
	baseURL string
	apiKey  string
	http    HTTPDoer
}

// NewClient constructs a new client. An empty baseURL yields a client whose calls return
// ErrDisabled.
func NewClient(baseURL, apiKey string, doer HTTPDoer) *Client {
	if doer == nil {
		doer = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, http: doer}
}

// Enabled reports whether a companion URL is configured.
func (c *Client) Enabled() bool {
	return c != nil && c.baseURL != ""
}

// Ping checks if the remote service is available.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.do(ctx, "ping", http.MethodGet, "/health", nil, "")
	return err
}

// Create schedules a meeting.
func (c *Client) Create(ctx context.Context, r Request) (Meeting, error) {
	body, err := c.do(ctx, "create", http.MethodPost, "/meetings", toPayload(r), uuid.NewString())
	if err != nil {
		return Meeting{}, err
	}
	var m Meeting
	if err := json.Unmarshal(body, &m); err != nil {
		return Meeting{}, fmt.Errorf("meeting: decode create response: %w", err)
	}
	if m.ID == "" {
		return Meeting{}, errors.New("meeting: create response missing id")
	}
	return m, nil
}

// Update moves or renames a meeting.
func (c *Client) Update(ctx context.Context, id string, r Request) error {
	_, err := c.do(ctx, "update", http.MethodPatch, "/meetings/"+url.PathEscape(id), toPayload(r), uuid.NewString())
	return err
}

// Delete cancels a meeting. A meeting that no longer exists counts as deleted.
func (c *Client) Delete(ctx context.Context, id string) error {
	_, err := c.do(ctx, "delete", http.MethodDelete, "/meetings/"+url.PathEscape(id), nil, "")
	var se *StatusError
	if errors.As(err, &se) && se.Status == http.StatusNotFound {
		return nil
	}
	return err
}

func (c *Client) do(ctx context.Context, op, method, path string, in any, idempotencyKey string) ([]byte, error) {
	if !c.Enabled() {
		return nil, ErrDisabled
	}
	var reader io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("meeting: %s: %w", op, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("meeting: %s: read body: %w", op, err)
	}
	if resp.StatusCode >= 400 {
		return nil, &StatusError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return body, nil
}
