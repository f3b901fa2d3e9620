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
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"schedform/internal/domain"
)

// DefaultTimeout bounds a single call when no http.Client is supplied.
const DefaultTimeout = 5 * time.Second

// RequestIDHeader carries a per-call id; chi's RequestID middleware reads it.
const RequestIDHeader = "X-Request-Id"

// Client builds and sends one request per scheduler operation. It keeps no
// state between calls and never retries.
type Client struct {
	base    *url.URL
	http    *http.Client
	timeout time.Duration
	headers map[string]string
	log     zerolog.Logger
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

// WithTimeout bounds each call. It applies to the client given by
// WithHTTPClient too, whichever option comes first; the caller's client
// is copied, not modified.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithHeader sets a header on every request, e.g. an auth token.
func WithHeader(key, value string) Option {
	return func(c *Client) { c.headers[key] = value }
}

func WithLogger(l zerolog.Logger) Option { return func(c *Client) { c.log = l } }

func New(baseURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid base URL %q: scheme must be http or https", baseURL)
	}
	c := &Client{
		base:    u,
		http:    &http.Client{Timeout: DefaultTimeout},
		headers: map[string]string{},
		log:     log.Logger,
	}
	for _, o := range opts {
		o(c)
	}
	if c.timeout > 0 {
		h := *c.http
		h.Timeout = c.timeout
		c.http = &h
	}
	return c, nil
}

// call sends one request and decodes the envelope payload into out.
func (c *Client) call(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	u := *c.base
	u.Path = c.base.Path + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return &domain.ValidationError{Field: "body", Msg: op + ": " + err.Error()}
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), rdr)
	if err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	reqID := uuid.NewString()
	req.Header.Set(RequestIDHeader, reqID)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Debug().Err(err).Str("op", op).Str("request_id", reqID).Msg("request failed")
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	c.log.Debug().
		Str("op", op).
		Str("method", method).
		Str("path", u.Path).
		Str("request_id", reqID).
		Int("status", resp.StatusCode).
		Dur("took", time.Since(start)).
		Msg("scheduler call")

	if resp.StatusCode >= 400 {
		return &TransportError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", strings.TrimSpace(string(raw)))}
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return &TransportError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("invalid envelope: %w", err)}
	}
	if !IsSuccess(env.Code) {
		return &RemoteError{Op: op, Code: env.Code, Msg: env.Msg}
	}
	if out == nil {
		return nil
	}
	payload := env.Payload()
	if payload == nil {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return &TransportError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("invalid payload: %w", err)}
	}
	return nil
}
