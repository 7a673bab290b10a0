// Package bridge is a typed HTTP client for the WhatsApp bridge process
// (a WAHA-compatible service): session lifecycle, QR pairing, text sends,
// and webhook configuration, each returning typed results and errors. The
// client never retries; retry policy belongs to the outbound queue for
// sends and to the supervisor for health.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/zapa-app/zapa/internal/apierrors"
)

// Client talks to the bridge's HTTP API. Zero value is not usable; build
// with New.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// Config configures per-operation timeouts (default 30s total, 5s
// connect).
type Config struct {
	BaseURL        string
	APIKey         string
	Timeout        time.Duration
	ConnectTimeout time.Duration
}

func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	connTimeout := cfg.ConnectTimeout
	if connTimeout == 0 {
		connTimeout = 5 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: connTimeout}).DialContext,
			},
		},
	}
}

// SessionStatus mirrors the bridge's session lifecycle vocabulary, mapped
// 1:1 to storage.SessionStatus by callers.
type SessionStatus string

const (
	StatusQRPending    SessionStatus = "QR_PENDING"
	StatusConnected    SessionStatus = "CONNECTED"
	StatusDisconnected SessionStatus = "DISCONNECTED"
	StatusError        SessionStatus = "ERROR"
)

type SessionInfo struct {
	Name   string        `json:"name"`
	Status SessionStatus `json:"status"`
}

// Health checks the bridge process is reachable.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/api/health", nil)
	return err
}

// CreateSession starts (or idempotently re-starts) a named session.
func (c *Client) CreateSession(ctx context.Context, name string) (*SessionInfo, error) {
	body, err := c.do(ctx, http.MethodPost, "/api/sessions/start", map[string]string{"name": name})
	if err != nil {
		return nil, err
	}
	return c.decodeSession(name, body)
}

// GetSession fetches current status for a session.
func (c *Client) GetSession(ctx context.Context, name string) (*SessionInfo, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/sessions/"+name, nil)
	if err != nil {
		return nil, err
	}
	return c.decodeSession(name, body)
}

// ListSessions returns every session known to the bridge.
func (c *Client) ListSessions(ctx context.Context) ([]SessionInfo, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/sessions", nil)
	if err != nil {
		return nil, err
	}
	var raw []struct {
		Name   string `json:"name"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, apierrors.Wrap(apierrors.KindBridgeUnreachable, "decode session list", err)
	}
	out := make([]SessionInfo, 0, len(raw))
	for _, r := range raw {
		out = append(out, SessionInfo{Name: r.Name, Status: normalizeStatus(r.Status)})
	}
	return out, nil
}

// DeleteSession tears down a session.
func (c *Client) DeleteSession(ctx context.Context, name string) error {
	_, err := c.do(ctx, http.MethodDelete, "/api/sessions/"+name, nil)
	return err
}

// QRResult is the pairing QR payload and its validity window.
type QRResult struct {
	QR       string `json:"qr"`
	TimeoutS int    `json:"timeout_s"`
}

// GetQR returns the raw pairing-code text for a session still awaiting
// scan, and how long it stays valid.
func (c *Client) GetQR(ctx context.Context, name string) (*QRResult, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/"+name+"/auth/qr?format=raw", nil)
	if err != nil {
		return nil, err
	}
	var raw struct {
		Value   string `json:"value"`
		Timeout int    `json:"timeout"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, apierrors.Wrap(apierrors.KindBridgeUnreachable, "decode qr response", err)
	}
	timeout := raw.Timeout
	if timeout == 0 {
		timeout = 45
	}
	return &QRResult{QR: raw.Value, TimeoutS: timeout}, nil
}

// SendText sends a plain-text message to a WhatsApp-formatted phone
// number. Returns the bridge's external message id for later
// delivery-status correlation.
func (c *Client) SendText(ctx context.Context, session, phoneNumber, text string) (externalID string, err error) {
	payload := map[string]interface{}{
		"session": session,
		"chatId":  NormalizeJID(phoneNumber),
		"text":    text,
	}
	body, err := c.do(ctx, http.MethodPost, "/api/sendText", payload)
	if err != nil {
		return "", err
	}
	var resp struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", apierrors.Wrap(apierrors.KindBridgeUnreachable, "decode send response", err)
	}
	return resp.ID, nil
}

// ConfigureWebhook points the bridge's message events at url.
func (c *Client) ConfigureWebhook(ctx context.Context, session, url string) error {
	payload := map[string]interface{}{
		"config": map[string]interface{}{
			"webhooks": []map[string]interface{}{
				{"url": url, "events": []string{"message", "message.ack"}},
			},
		},
	}
	_, err := c.do(ctx, http.MethodPut, "/api/sessions/"+session, payload)
	return err
}

func (c *Client) decodeSession(name string, body []byte) (*SessionInfo, error) {
	var raw struct {
		Name   string `json:"name"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, apierrors.Wrap(apierrors.KindBridgeUnreachable, "decode session", err)
	}
	if raw.Name == "" {
		raw.Name = name
	}
	return &SessionInfo{Name: raw.Name, Status: normalizeStatus(raw.Status)}, nil
}

func normalizeStatus(s string) SessionStatus {
	switch s {
	case "WORKING":
		return StatusConnected
	case "SCAN_QR_CODE", "STARTING":
		return StatusQRPending
	case "STOPPED", "FAILED":
		return StatusDisconnected
	default:
		return StatusError
	}
}

// NormalizeJID turns a phone number in +E.164 or bare-digit form into the
// canonical WhatsApp JID `<digits>@s.whatsapp.net`. Already-formed JIDs
// pass through unchanged.
func NormalizeJID(phoneNumber string) string {
	digits := strings.TrimPrefix(phoneNumber, "+")
	if strings.Contains(digits, "@") {
		return digits
	}
	return digits + "@s.whatsapp.net"
}

func (c *Client) do(ctx context.Context, method, path string, payload interface{}) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, apierrors.Wrap(apierrors.KindInternal, "marshal bridge request", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindInternal, "build bridge request", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindBridgeUnreachable, fmt.Sprintf("%s %s", method, path), err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		msg := fmt.Sprintf("bridge returned %d: %s", resp.StatusCode, string(body))
		switch resp.StatusCode {
		case http.StatusNotFound:
			return nil, apierrors.New(apierrors.KindNotFound, msg)
		case http.StatusConflict:
			return nil, apierrors.New(apierrors.KindConflict, msg)
		default:
			return nil, apierrors.New(apierrors.KindBridgeUnreachable, msg)
		}
	}
	return body, nil
}
