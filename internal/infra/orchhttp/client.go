// Package orchhttp implements orch.Client against the orchestrator HTTP
// API. Plain calls are JSON over HTTP; task events arrive on a websocket.
// The API key is exchanged for a bearer token on first use and again
// shortly before the token expires.
package orchhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/matiasleandrokruk/nerve/internal/domain/orch"
	pkgauth "github.com/matiasleandrokruk/nerve/pkg/auth"
)

const (
	mimeJSON          = "application/json"
	headerContentType = "Content-Type"

	defaultTimeout = 30 * time.Second
	// refreshMargin renews a cached token this long before it expires.
	refreshMargin = 30 * time.Second
)

// Client talks to one orchestrator.
type Client struct {
	baseURL    string
	apiKey     string
	subject    string
	httpClient *http.Client
	dialer     *websocket.Dialer
	logger     *slog.Logger
	now        func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

type Option func(*Client)

// WithHTTPClient replaces the default client (30s timeout).
func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.httpClient = hc } }

// WithSubject names the caller in issued tokens.
func WithSubject(subject string) Option { return func(c *Client) { c.subject = subject } }

func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.logger = l } }

// New returns a client for baseURL (e.g. "http://127.0.0.1:8080").
func New(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: defaultTimeout},
		dialer:     &websocket.Dialer{HandshakeTimeout: defaultTimeout},
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ orch.Client = (*Client)(nil)

// ─── orch.Client ─────────────────────────────────────────────────────────────

func (c *Client) Capabilities(ctx context.Context) (*orch.CapabilitySnapshot, error) {
	var snap orch.CapabilitySnapshot
	if err := c.do(ctx, http.MethodGet, "/v1/capabilities", nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (c *Client) Enqueue(ctx context.Context, req orch.TaskRequest) (*orch.TaskAccepted, error) {
	var accepted orch.TaskAccepted
	if err := c.do(ctx, http.MethodPost, "/v1/tasks", req, &accepted); err != nil {
		return nil, err
	}
	return &accepted, nil
}

func (c *Client) Cancel(ctx context.Context, id orch.TaskID) (orch.Cancelled, error) {
	var res orch.Cancelled
	if err := c.do(ctx, http.MethodPost, "/v1/tasks/"+url.PathEscape(string(id))+"/cancel", nil, &res); err != nil {
		return orch.Cancelled{}, err
	}
	return res, nil
}

// Stream dials the task's event websocket. A refused handshake carries the
// server's error envelope in its body.
func (c *Client) Stream(ctx context.Context, id orch.TaskID) (orch.EventStream, error) {
	wsURL, err := c.wsURL("/v1/tasks/" + url.PathEscape(string(id)) + "/events")
	if err != nil {
		return nil, err
	}
	header, err := c.authHeader(ctx)
	if err != nil {
		return nil, err
	}

	conn, resp, err := c.dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close() //nolint:errcheck
			if resp.StatusCode == http.StatusUnauthorized {
				c.clearToken()
			}
			return nil, decodeError(resp)
		}
		return nil, unavailable(fmt.Errorf("dial %s: %w", wsURL, err))
	}
	c.logger.Debug("event stream opened", "task_id", id)
	return &wsStream{conn: conn}, nil
}

// ─── helpers ─────────────────────────────────────────────────────────────────

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return &orch.ServerError{Code: orch.CodeBadRequest, Message: err.Error(), Retriable: orch.Ptr(false)}
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return &orch.ServerError{Code: orch.CodeBadRequest, Message: err.Error(), Retriable: orch.Ptr(false)}
	}
	if in != nil {
		req.Header.Set(headerContentType, mimeJSON)
	}
	header, err := c.authHeader(ctx)
	if err != nil {
		return err
	}
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return unavailable(fmt.Errorf("%s %s: %w", method, path, err))
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode == http.StatusUnauthorized {
			c.clearToken()
		}
		return decodeError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &orch.ServerError{Code: orch.CodeInternal, Message: "decode response: " + err.Error(), Retriable: orch.Ptr(false)}
	}
	return nil
}

// authHeader returns the Authorization header, fetching a token when the
// cached one is missing or about to expire. No API key means no header.
func (c *Client) authHeader(ctx context.Context) (http.Header, error) {
	header := http.Header{}
	if c.apiKey == "" {
		return header, nil
	}
	token, err := c.bearer(ctx)
	if err != nil {
		return nil, err
	}
	header.Set("Authorization", "Bearer "+token)
	return header, nil
}

func (c *Client) bearer(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && c.now().Add(refreshMargin).Before(c.expiresAt) {
		return c.token, nil
	}

	data, _ := json.Marshal(map[string]string{"api_key": c.apiKey, "subject": c.subject})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/token", bytes.NewReader(data))
	if err != nil {
		return "", &orch.ServerError{Code: orch.CodeBadRequest, Message: err.Error(), Retriable: orch.Ptr(false)}
	}
	req.Header.Set(headerContentType, mimeJSON)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", unavailable(fmt.Errorf("token exchange: %w", err))
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		return "", decodeError(resp)
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &orch.ServerError{Code: orch.CodeUnauthorized, Message: "decode token: " + err.Error(), Retriable: orch.Ptr(false)}
	}
	exp, err := pkgauth.ExpiresAt(out.Token)
	if err != nil {
		return "", &orch.ServerError{Code: orch.CodeUnauthorized, Message: err.Error(), Retriable: orch.Ptr(false)}
	}
	c.token, c.expiresAt = out.Token, exp
	c.logger.Debug("bearer token refreshed", "expires_at", exp)
	return c.token, nil
}

func (c *Client) clearToken() {
	c.mu.Lock()
	c.token, c.expiresAt = "", time.Time{}
	c.mu.Unlock()
}

func (c *Client) wsURL(path string) (string, error) {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return "", &orch.ServerError{Code: orch.CodeBadRequest, Message: err.Error(), Retriable: orch.Ptr(false)}
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	return u.String(), nil
}

// decodeError reads the error envelope of a failed response. Bodies that
// are not an envelope keep the status text as message.
func decodeError(resp *http.Response) error {
	var se orch.ServerError
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(data, &se); err != nil || se.Code == "" {
		se = orch.ServerError{Code: codeForStatus(resp.StatusCode), Message: strings.TrimSpace(string(data))}
		if se.Message == "" {
			se.Message = http.StatusText(resp.StatusCode)
		}
	}
	if se.Retriable == nil {
		se.Retriable = orch.Ptr(resp.StatusCode >= http.StatusInternalServerError)
	}
	return &se
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusNotFound:
		return orch.CodeUnknownTask
	case http.StatusBadRequest:
		return orch.CodeBadRequest
	case http.StatusUnauthorized, http.StatusForbidden:
		return orch.CodeUnauthorized
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return orch.CodeTransportUnavailable
	default:
		return orch.CodeInternal
	}
}

func unavailable(err error) error {
	var se *orch.ServerError
	if errors.As(err, &se) {
		return se
	}
	return &orch.ServerError{Code: orch.CodeTransportUnavailable, Message: err.Error(), Retriable: orch.Ptr(true)}
}

// ─── event stream ────────────────────────────────────────────────────────────

// wsStream reads one JSON event per text frame. A connection that breaks
// before a terminal event yields a single Error event.
type wsStream struct {
	conn *websocket.Conn
	done bool
}

func (s *wsStream) Next() (orch.StreamEvent, bool) {
	if s.done {
		return orch.StreamEvent{}, false
	}
	var evt orch.StreamEvent
	if err := s.conn.ReadJSON(&evt); err != nil {
		s.done = true
		if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
			return orch.StreamEvent{}, false
		}
		return orch.ErrorEvent("stream interrupted: " + err.Error()), true
	}
	if evt.Kind == orch.EventEnd || evt.Kind == orch.EventError {
		s.done = true
	}
	return evt, true
}

func (s *wsStream) Close() error {
	s.done = true
	return s.conn.Close()
}
