// Package session owns the stable session identity for one user run and wraps
// all calls to the remote generation service.
//
// The client performs no retries; retry policy belongs to the caller. Every
// failure is surfaced as one of the typed errors in errors.go so callers can
// distinguish transport failures from backend rejections.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"echoflow/pkg/logx"
	"echoflow/pkg/metrics"
	"echoflow/pkg/persona"
)

const (
	chatPath     = "/chat"
	profilesPath = "/chat/user-profiles/generate"
)

// Session is the stable identity correlating all backend calls for one run.
type Session struct {
	ID        string
	CreatedAt time.Time
}

// Client talks to the remote generation service under one session identity.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *logx.Logger
	rec     metrics.Recorder

	mu       sync.Mutex
	session  *Session
	inFlight bool
}

// NewClient creates a client for the given backend base URL. The timeout
// applies to every request in addition to any caller-supplied context.
func NewClient(baseURL string, timeout time.Duration, rec metrics.Recorder) *Client {
	if rec == nil {
		rec = metrics.NopRecorder{}
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logx.NewLogger("session-client"),
		rec:     rec,
	}
}

// Open allocates the session identity. Called exactly once per run; a second
// call fails with ErrSessionAlreadyOpen.
func (c *Client) Open() (Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil {
		return Session{}, ErrSessionAlreadyOpen
	}

	now := time.Now().UTC()
	c.session = &Session{
		ID:        fmt.Sprintf("user_%d_%s", now.UnixMilli(), uuid.NewString()[:8]),
		CreatedAt: now,
	}
	c.logger.Info("Session opened: %s", c.session.ID)
	return *c.session, nil
}

// SessionID returns the session identity, or "" before Open.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return ""
	}
	return c.session.ID
}

type chatRequest struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

type chatResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
}

type profilesRequest struct {
	SessionID string `json:"sessionId"`
	Count     int    `json:"count"`
	Platform  string `json:"platform"`
	Tone      string `json:"tone"`
}

type profilesResponse struct {
	Success bool              `json:"success"`
	Message string            `json:"message"`
	Data    []persona.Persona `json:"data"`
}

// Send posts a chat message and returns the assistant reply.
func (c *Client) Send(ctx context.Context, message string) (reply string, err error) {
	sessionID, err := c.beginRequest()
	if err != nil {
		return "", err
	}
	defer c.endRequest()

	start := time.Now()
	defer func() { c.observe(sessionID, "chat", start, err) }()

	var resp chatResponse
	if err = c.post(ctx, chatPath, chatRequest{SessionID: sessionID, Message: message}, &resp); err != nil {
		return "", err
	}

	if !resp.Success {
		err = fmt.Errorf("%w: chat endpoint returned success=false", ErrGenerationRejected)
		return "", err
	}

	// The backend echoes the session it answered under; a mismatch means it
	// lost conversational context.
	if resp.SessionID != "" && resp.SessionID != sessionID {
		c.logger.Warn("Backend replied under session %s, expected %s", resp.SessionID, sessionID)
	}

	return resp.Message, nil
}

// GeneratePersonas requests candidate personas conditioned on the current
// session's conversation.
func (c *Client) GeneratePersonas(ctx context.Context, count int, platform, tone string) (result []persona.Persona, err error) {
	sessionID, err := c.beginRequest()
	if err != nil {
		return nil, err
	}
	defer c.endRequest()

	start := time.Now()
	defer func() { c.observe(sessionID, "profiles", start, err) }()

	var resp profilesResponse
	req := profilesRequest{SessionID: sessionID, Count: count, Platform: platform, Tone: tone}
	if err = c.post(ctx, profilesPath, req, &resp); err != nil {
		return nil, err
	}

	if !resp.Success {
		err = fmt.Errorf("%w: profile generation returned success=false", ErrGenerationRejected)
		return nil, err
	}

	return resp.Data, nil
}

// beginRequest takes the in-flight slot and returns the session id.
func (c *Client) beginRequest() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return "", ErrSessionNotOpen
	}
	if c.inFlight {
		return "", ErrRequestInFlight
	}
	c.inFlight = true
	return c.session.ID, nil
}

func (c *Client) endRequest() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inFlight = false
}

// post performs a JSON POST and decodes the response into out. Transport
// failures, non-2xx statuses, and undecodable bodies all map to
// ErrBackendUnavailable with the cause wrapped.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	c.logger.Debug("POST %s", url)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s returned status %d: %s", ErrBackendUnavailable, path, resp.StatusCode, string(data))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: failed to decode %s response: %v", ErrBackendUnavailable, path, err)
	}

	return nil
}

func (c *Client) observe(sessionID, endpoint string, start time.Time, err error) {
	status := "success"
	errorType := ""
	if err != nil {
		status = "error"
		errorType = classifyError(err)
	}
	c.rec.ObserveBackendRequest(sessionID, endpoint, status, errorType, time.Since(start))
}

func classifyError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrGenerationRejected):
		return "rejected"
	case errors.Is(err, ErrBackendUnavailable):
		return "unavailable"
	default:
		return "internal"
	}
}
