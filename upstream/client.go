// Package upstream implements the Upstream Client from spec §4.A: a
// single HTTP POST to the pricing API, classified into typed failure
// kinds, bounded by a hard per-call deadline. No retries live here;
// retry/backoff policy belongs to the breaker and coordinator layers.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Error kinds classified from the upstream response, per spec §4.A.
// Each implements breaker.Countable so the circuit breaker can decide
// whether it reflects upstream health (Timeout/Server/Network) or a
// caller/contract bug (Client/Protocol), which must not be counted.
type (
	// TimeoutError is returned on connect/read timeout.
	TimeoutError struct{ Err error }
	// ClientError is returned on HTTP 4xx.
	ClientError struct {
		Status int
		Detail string
	}
	// ServerError is returned on HTTP 5xx.
	ServerError struct{ Status int }
	// NetworkError is returned on DNS/socket failure.
	NetworkError struct{ Err error }
	// ProtocolError is returned when a 200 response's shape doesn't
	// match the documented contract.
	ProtocolError struct{ Detail string }
	// GenericError wraps any other failure not classified above.
	GenericError struct{ Err error }
)

func (e *TimeoutError) Error() string  { return fmt.Sprintf("upstream: timeout: %v", e.Err) }
func (e *ClientError) Error() string   { return fmt.Sprintf("upstream: client error (%d): %s", e.Status, e.Detail) }
func (e *ServerError) Error() string   { return fmt.Sprintf("upstream: server error (%d)", e.Status) }
func (e *NetworkError) Error() string  { return fmt.Sprintf("upstream: network error: %v", e.Err) }
func (e *ProtocolError) Error() string { return fmt.Sprintf("upstream: protocol error: %s", e.Detail) }
func (e *GenericError) Error() string  { return fmt.Sprintf("upstream: %v", e.Err) }

func (e *TimeoutError) CountsAsFailure() bool  { return true }
func (e *ClientError) CountsAsFailure() bool   { return false }
func (e *ServerError) CountsAsFailure() bool   { return true }
func (e *NetworkError) CountsAsFailure() bool  { return true }
func (e *ProtocolError) CountsAsFailure() bool { return false }
func (e *GenericError) CountsAsFailure() bool  { return true }

func (e *TimeoutError) Unwrap() error { return e.Err }
func (e *NetworkError) Unwrap() error { return e.Err }
func (e *GenericError) Unwrap() error { return e.Err }

// requestBody mirrors the upstream wire contract's single-attribute
// triple (spec §6).
type requestBody struct {
	Attributes []attribute `json:"attributes"`
}

type attribute struct {
	Period string `json:"period"`
	Hotel  string `json:"hotel"`
	Room   string `json:"room"`
}

type responseBody struct {
	Rates []rateEntry `json:"rates"`
	Error string      `json:"error"`
}

type rateEntry struct {
	Rate string `json:"rate"`
}

// Client issues pricing requests to the upstream API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	userAgent  string
	timeout    time.Duration
	log        *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying *http.Client (tests inject a
// client pointed at an httptest.Server).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger overrides the client's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// New constructs an upstream Client. baseURL and token come from
// config.Config (RATE_API_URL, RATE_API_TOKEN); timeout is the
// per-call deadline (spec §4.A: 5s).
func New(baseURL, token, userAgent string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{},
		baseURL:    baseURL,
		token:      token,
		userAgent:  userAgent,
		timeout:    timeout,
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchRate issues a single POST for the given (period, hotel, room)
// and returns the first rate in the response, or a typed error.
func (c *Client) FetchRate(ctx context.Context, period, hotel, room string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(requestBody{Attributes: []attribute{{Period: period, Hotel: hotel, Room: room}}})
	if err != nil {
		return "", &GenericError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/pricing", bytes.NewReader(body))
	if err != nil {
		return "", &GenericError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if c.token != "" {
		req.Header.Set("token", c.token)
	}

	c.log.Info("upstream call start", "period", period, "hotel", hotel, "room", room)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		classified := classifyTransportError(err)
		c.log.Warn("upstream call failed", "err", classified)
		return "", classified
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &GenericError{Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		rate, perr := parseSuccess(raw)
		if perr != nil {
			c.log.Warn("upstream protocol error", "err", perr)
			return "", perr
		}
		c.log.Info("upstream call finished", "period", period, "hotel", hotel, "room", room)
		return rate, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		cerr := &ClientError{Status: resp.StatusCode, Detail: extractErrorDetail(raw, resp.StatusCode)}
		c.log.Warn("upstream client error", "err", cerr)
		return "", cerr
	case resp.StatusCode >= 500:
		serr := &ServerError{Status: resp.StatusCode}
		c.log.Warn("upstream server error", "err", serr)
		return "", serr
	default:
		gerr := &GenericError{Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
		return "", gerr
	}
}

func parseSuccess(raw []byte) (string, error) {
	var body responseBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return "", &ProtocolError{Detail: "malformed json body"}
	}
	if len(body.Rates) == 0 || body.Rates[0].Rate == "" {
		return "", &ProtocolError{Detail: "missing or empty rates[0].rate"}
	}
	return body.Rates[0].Rate, nil
}

func extractErrorDetail(raw []byte, status int) string {
	var body responseBody
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != "" {
		return body.Error
	}
	return http.StatusText(status)
}

func classifyTransportError(err error) error {
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TimeoutError{Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Err: err}
	}
	return &NetworkError{Err: err}
}
