// Package transport performs JSON HTTP requests against gateway endpoints,
// guarded by internal/reliability and captured as scrubbed transcripts.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"paychain/internal/reliability"
	"paychain/internal/transcripts"

	"go.uber.org/zap"
)

const maxBodyBytes = 4 << 20

// ErrBaseURLRequired is returned by New when no base URL is configured.
var ErrBaseURLRequired = errors.New("transport base url is required")

// StatusError reports a server-side failure (HTTP 5xx). It is a defect from
// the caller's point of view, not a gateway decline.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gateway returned %d", e.StatusCode)
}

// Request describes one outbound call. Body is JSON-encoded when non-nil.
type Request struct {
	Method         string
	Path           string
	Query          url.Values
	Header         http.Header
	Body           any
	IdempotencyKey string
}

// Idempotent reports whether the request may be retried.
func (r Request) Idempotent() bool {
	if r.IdempotencyKey != "" {
		return true
	}
	switch strings.ToUpper(r.Method) {
	case "", http.MethodGet, http.MethodHead, http.MethodDelete:
		return true
	}
	return false
}

// Response is a completed HTTP exchange with a status below 500.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports a 2xx status.
func (r Response) OK() bool { return r.StatusCode >= 200 && r.StatusCode < 300 }

// JSON decodes the body into v.
func (r Response) JSON(v any) error {
	if len(r.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Config configures a Client.
type Config struct {
	Gateway    string
	BaseURL    string
	HTTPClient *http.Client
	Header     http.Header
	Guard      *reliability.Guard
	Scrub      func(string) string
	Sink       transcripts.Sink
	Metrics    Metrics
	Logger     *zap.Logger
	Now        func() time.Time
}

// Metrics receives guard events. observability.Metrics implements it.
type Metrics interface {
	AddRetry(gateway string)
	AddBreakerOpen(gateway string)
}

// Client sends requests to one gateway.
type Client struct {
	gateway string
	base    *url.URL
	http    *http.Client
	header  http.Header
	guard   *reliability.Guard
	scrub   func(string) string
	sink    transcripts.Sink
	metrics Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// New constructs a Client.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, ErrBaseURLRequired
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	guard := cfg.Guard
	if guard != nil && cfg.Metrics != nil {
		observed := *guard
		onRetry := observed.Retry.OnRetry
		observed.Retry.OnRetry = func(attempt int, err error) {
			cfg.Metrics.AddRetry(cfg.Gateway)
			if onRetry != nil {
				onRetry(attempt, err)
			}
		}
		guard = &observed
	}
	return &Client{
		gateway: cfg.Gateway,
		base:    base,
		http:    httpClient,
		header:  cfg.Header.Clone(),
		guard:   guard,
		scrub:   cfg.Scrub,
		sink:    cfg.Sink,
		metrics: cfg.Metrics,
		logger:  logger.With(zap.String("gateway", cfg.Gateway)),
		now:     now,
	}, nil
}

// Do sends req. Responses with status below 500 are returned without error
// so the adapter can turn 4xx bodies into failed outcomes. 5xx responses and
// network failures are returned as errors; idempotent requests are retried
// according to the guard.
func (c *Client) Do(ctx context.Context, req Request) (Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var payload []byte
	if req.Body != nil {
		var err error
		payload, err = json.Marshal(req.Body)
		if err != nil {
			return Response{}, fmt.Errorf("encode request: %w", err)
		}
	}

	var resp Response
	attempt := func() error {
		r, err := c.send(ctx, req, payload)
		if err != nil {
			return err
		}
		resp = r
		return nil
	}

	var err error
	if req.Idempotent() {
		err = c.guard.Do(ctx, attempt)
	} else {
		err = c.guard.Once(ctx, attempt)
	}
	if err != nil {
		if errors.Is(err, reliability.ErrCircuitOpen) && c.metrics != nil {
			c.metrics.AddBreakerOpen(c.gateway)
		}
		return Response{}, err
	}
	return resp, nil
}

func (c *Client) send(ctx context.Context, req Request, payload []byte) (Response, error) {
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}
	target := c.resolve(req)

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return Response{}, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range c.header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	for k, vs := range req.Header {
		httpReq.Header.Del(k)
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Accept", "application/json")
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.IdempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	}

	start := c.now()
	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		c.logger.Warn("gateway request failed",
			zap.String("method", method),
			zap.String("path", target.Path),
			zap.Duration("duration", c.now().Sub(start)),
			zap.Error(err),
		)
		c.capture(ctx, httpReq, payload, nil, nil)
		return Response{}, err
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodyBytes))
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}
	c.logger.Debug("gateway request",
		zap.String("method", method),
		zap.String("path", target.Path),
		zap.Int("status", httpResp.StatusCode),
		zap.Duration("duration", c.now().Sub(start)),
	)
	c.capture(ctx, httpReq, payload, httpResp, respBody)

	if httpResp.StatusCode >= 500 {
		return Response{}, &StatusError{StatusCode: httpResp.StatusCode, Body: string(respBody)}
	}
	return Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header.Clone(),
		Body:       respBody,
	}, nil
}

func (c *Client) resolve(req Request) *url.URL {
	u := *c.base
	path := req.Path
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u.Path = strings.TrimRight(c.base.Path, "/") + path
	if len(req.Query) > 0 {
		u.RawQuery = req.Query.Encode()
	}
	return &u
}

func (c *Client) capture(ctx context.Context, req *http.Request, payload []byte, resp *http.Response, respBody []byte) {
	if c.sink == nil {
		return
	}
	text := Render(req, payload, resp, respBody)
	if c.scrub != nil {
		text = c.scrub(text)
	}
	err := c.sink.Record(ctx, transcripts.Transcript{
		ChainID:    transcripts.ChainIDFromContext(ctx),
		Gateway:    c.gateway,
		Body:       text,
		CapturedAt: c.now(),
	})
	if err != nil {
		c.logger.Warn("record transcript", zap.Error(err))
	}
}

// Render formats an exchange as a wire transcript. resp may be nil when the
// request never got an answer.
func Render(req *http.Request, payload []byte, resp *http.Response, respBody []byte) string {
	var b strings.Builder
	fmt.Fprintf(&b, "opening connection to %s...\n", req.URL.Host)

	uri := req.URL.RequestURI()
	line(&b, "->", fmt.Sprintf("%s %s HTTP/1.1\r\n", req.Method, uri))
	for _, k := range sortedKeys(req.Header) {
		for _, v := range req.Header[k] {
			line(&b, "->", k+": "+v+"\r\n")
		}
	}
	line(&b, "->", "\r\n")
	if len(payload) > 0 {
		line(&b, "->", string(payload))
	}

	if resp == nil {
		b.WriteString("connection failed\n")
		return b.String()
	}
	line(&b, "<-", fmt.Sprintf("HTTP/1.1 %d %s\r\n", resp.StatusCode, http.StatusText(resp.StatusCode)))
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		line(&b, "<-", "Content-Type: "+ct+"\r\n")
	}
	line(&b, "<-", "\r\n")
	if len(respBody) > 0 {
		line(&b, "<-", string(respBody))
	}
	return b.String()
}

func line(b *strings.Builder, dir, text string) {
	b.WriteString(dir)
	b.WriteByte(' ')
	b.WriteString(strconv.Quote(text))
	b.WriteByte('\n')
}

func sortedKeys(h http.Header) []string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Retryable reports whether err is worth another attempt: server errors and
// network failures, but not cancellation or an open breaker.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, reliability.ErrCircuitOpen) {
		return false
	}
	var status *StatusError
	if errors.As(err, &status) {
		return status.StatusCode != http.StatusNotImplemented
	}
	return true
}
