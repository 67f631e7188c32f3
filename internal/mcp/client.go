package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/DevRickLin/feishu-nudge/internal/api"
	"github.com/DevRickLin/feishu-nudge/internal/biz/domain"
	"github.com/DevRickLin/feishu-nudge/internal/service"
)

// Client is the HTTP client for the nudge API
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new API client
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func sessionPath(sessionID, suffix string) string {
	return "/api/sessions/" + url.PathEscape(sessionID) + suffix
}

// ============ Sessions ============

// ListSessions lists known sessions, optionally only subscribed ones
func (c *Client) ListSessions(ctx context.Context, subscribedOnly bool) ([]api.SessionView, error) {
	path := "/api/sessions"
	if subscribedOnly {
		path += "?subscribed=true"
	}
	var out []api.SessionView
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetSession gets one session
func (c *Client) GetSession(ctx context.Context, sessionID string) (*api.SessionView, error) {
	var out api.SessionView
	if err := c.do(ctx, http.MethodGet, sessionPath(sessionID, ""), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Subscribe turns proactive messaging on for a session
func (c *Client) Subscribe(ctx context.Context, sessionID string) (*api.SubscriptionResponse, error) {
	var out api.SubscriptionResponse
	if err := c.do(ctx, http.MethodPost, sessionPath(sessionID, "/subscription"), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Unsubscribe turns proactive messaging off for a session
func (c *Client) Unsubscribe(ctx context.Context, sessionID string) (*api.SubscriptionResponse, error) {
	var out api.SubscriptionResponse
	if err := c.do(ctx, http.MethodDelete, sessionPath(sessionID, "/subscription"), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetPersona binds a persona to a session; an empty prompt unbinds it
func (c *Client) SetPersona(ctx context.Context, sessionID string, p domain.Persona) error {
	return c.do(ctx, http.MethodPut, sessionPath(sessionID, "/persona"), p, nil)
}

// ============ Reminders ============

// ListReminders lists a session's reminders
func (c *Client) ListReminders(ctx context.Context, sessionID string) ([]domain.Reminder, error) {
	var out []domain.Reminder
	if err := c.do(ctx, http.MethodGet, sessionPath(sessionID, "/reminders"), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AddReminder creates a reminder
func (c *Client) AddReminder(ctx context.Context, sessionID string, req api.AddReminderRequest) (*domain.Reminder, error) {
	var out domain.Reminder
	if err := c.do(ctx, http.MethodPost, sessionPath(sessionID, "/reminders"), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteReminder removes a reminder
func (c *Client) DeleteReminder(ctx context.Context, sessionID string, id int64) error {
	return c.do(ctx, http.MethodDelete, sessionPath(sessionID, fmt.Sprintf("/reminders/%d", id)), nil, nil)
}

// ============ Scheduler ============

// Tick runs one scheduler pass on the server
func (c *Client) Tick(ctx context.Context) (*service.TickReport, error) {
	var out service.TickReport
	if err := c.do(ctx, http.MethodPost, "/api/tick", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ============ HTTP Helpers ============

// APIError is a non-2xx response from the API
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var reader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal body: %w", err)
		}
		reader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP %s failed: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		var payload struct {
			Error string `json:"error"`
		}
		msg := string(bytes.TrimSpace(raw))
		if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
			msg = payload.Error
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}

	if result != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
