package avatar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/livekit/protocol/logger"

	"github.com/avierra/avatarbridge/internal/reliability"
)

// Client drives the vendor REST API that spins up remote avatar render
// sessions. A created session joins the given room on its own and lip-syncs
// to the room audio.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client

	// maxRetries > 0 enables bounded retry on retryable statuses. The stock
	// configuration keeps the single-attempt behavior.
	maxRetries int
}

type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
}

// CreateSessionRequest mirrors the vendor session-creation payload.
type CreateSessionRequest struct {
	AvatarID      string
	RoomName      string
	URL           string
	Token         string
	SessionConfig map[string]any
}

// Session is the vendor's view of a render session.
type Session struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// APIError carries the vendor status code and response body text.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("avatar service status %d: %s", e.StatusCode, e.Body)
}

func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("avatar: base url is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("avatar: api key is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: cfg.MaxRetries,
	}, nil
}

type createSessionPayload struct {
	AvatarID      string         `json:"avatar_id"`
	URL           string         `json:"url"`
	Token         string         `json:"token"`
	LiveKitRoom   string         `json:"livekit_room"`
	AutoStart     bool           `json:"auto_start"`
	SessionConfig map[string]any `json:"session_config,omitempty"`
}

// CreateSession requests a new render session and returns the vendor session
// id and status.
func (c *Client) CreateSession(ctx context.Context, req CreateSessionRequest) (Session, error) {
	if req.AvatarID == "" || req.RoomName == "" || req.URL == "" || req.Token == "" {
		return Session{}, fmt.Errorf("avatar: avatar id, room, url and token are required")
	}

	payload, err := json.Marshal(createSessionPayload{
		AvatarID:      req.AvatarID,
		URL:           req.URL,
		Token:         req.Token,
		LiveKitRoom:   req.RoomName,
		AutoStart:     true,
		SessionConfig: req.SessionConfig,
	})
	if err != nil {
		return Session{}, fmt.Errorf("avatar: marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		session, err := c.postSession(ctx, payload)
		if err == nil {
			return session, nil
		}
		lastErr = err

		apiErr, ok := err.(*APIError)
		if !ok || attempt >= c.maxRetries || !reliability.IsRetryableHTTPStatus(apiErr.StatusCode) {
			return Session{}, lastErr
		}

		backoff := reliability.ExponentialBackoff(attempt, 250*time.Millisecond, 2*time.Second)
		logger.Warnw("retrying avatar session creation", err,
			"attempt", attempt+1, "backoff", backoff)
		select {
		case <-ctx.Done():
			return Session{}, ctx.Err()
		case <-time.After(backoff):
		}
	}
}

func (c *Client) postSession(ctx context.Context, payload []byte) (Session, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/sessions", bytes.NewReader(payload))
	if err != nil {
		return Session{}, fmt.Errorf("avatar: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)

	res, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Session{}, fmt.Errorf("avatar: send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return Session{}, &APIError{StatusCode: res.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var session Session
	if err := json.NewDecoder(res.Body).Decode(&session); err != nil {
		return Session{}, fmt.Errorf("avatar: decode response: %w", err)
	}
	if session.ID == "" {
		return Session{}, fmt.Errorf("avatar: response missing session id")
	}
	return session, nil
}

// GetSession fetches the current vendor status of a session. The coordinator
// uses this for its single delayed post-start status check.
func (c *Client) GetSession(ctx context.Context, sessionID string) (Session, error) {
	if sessionID == "" {
		return Session{}, fmt.Errorf("avatar: session id is required")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/sessions/"+sessionID, nil)
	if err != nil {
		return Session{}, fmt.Errorf("avatar: create request: %w", err)
	}
	httpReq.Header.Set("x-api-key", c.apiKey)

	res, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Session{}, fmt.Errorf("avatar: send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return Session{}, &APIError{StatusCode: res.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var session Session
	if err := json.NewDecoder(res.Body).Decode(&session); err != nil {
		return Session{}, fmt.Errorf("avatar: decode response: %w", err)
	}
	return session, nil
}
