// Package client talks to the remote ticketing backend. Every failure is
// normalized into *APIError; the client never retries.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/feupam/feupam-checkout/pkg/logger"
	"github.com/feupam/feupam-checkout/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const maxBodyLog = 1024

// Config contains client configuration
type Config struct {
	BaseURL        string
	DefaultTimeout time.Duration
	// ReadTimeout applies to status checks and listings
	ReadTimeout time.Duration
	// WriteTimeout applies to reservation and payment calls
	WriteTimeout time.Duration
	Tokens       TokenSource
	HTTPClient   *http.Client
	Logger       *logger.Logger
}

// Client is the remote API client
type Client struct {
	baseURL        string
	defaultTimeout time.Duration
	readTimeout    time.Duration
	writeTimeout   time.Duration
	tokens         TokenSource
	http           *http.Client
	log            *logger.Logger
}

// New creates a new API client
func New(cfg *Config) (*Client, error) {
	if cfg == nil || cfg.BaseURL == "" {
		return nil, errors.New("backend base url is required")
	}

	c := &Client{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		defaultTimeout: cfg.DefaultTimeout,
		readTimeout:    cfg.ReadTimeout,
		writeTimeout:   cfg.WriteTimeout,
		tokens:         cfg.Tokens,
		http:           cfg.HTTPClient,
		log:            cfg.Logger,
	}
	if c.defaultTimeout <= 0 {
		c.defaultTimeout = 30 * time.Second
	}
	if c.readTimeout <= 0 {
		c.readTimeout = 15 * time.Second
	}
	if c.writeTimeout <= 0 {
		c.writeTimeout = 30 * time.Second
	}
	if c.tokens == nil {
		c.tokens = ContextTokenSource{}
	}
	if c.http == nil {
		c.http = &http.Client{Transport: newTransport()}
	}
	if c.log == nil {
		c.log = logger.Get()
	}
	return c, nil
}

func newTransport() *http.Transport {
	return &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          200,
		MaxIdleConnsPerHost:   100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: time.Second,
		ForceAttemptHTTP2:     true,
	}
}

// call describes one backend request
type call struct {
	method  string
	path    string
	body    interface{}
	timeout time.Duration
	// public calls attach a token only when one is available
	public bool
}

// do executes c and decodes a 2xx body into out. It returns the raw body so
// callers can run their own decoders.
func (c *Client) do(ctx context.Context, req call, out interface{}) ([]byte, error) {
	ctx, span := telemetry.StartSpan(ctx, "client."+req.method+" "+req.path)
	defer span.End()
	span.SetAttributes(
		attribute.String("http.method", req.method),
		attribute.String("http.path", req.path),
	)

	raw, status, err := c.roundTrip(ctx, req)
	span.SetAttributes(attribute.Int("http.status_code", status))
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			err = fmt.Errorf("failed to decode %s %s response: %w", req.method, req.path, err)
			telemetry.RecordError(span, err)
			return raw, err
		}
	}
	return raw, nil
}

func (c *Client) roundTrip(ctx context.Context, req call) ([]byte, int, error) {
	var body io.Reader
	var payload []byte
	if req.body != nil {
		var err error
		payload, err = json.Marshal(req.body)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to encode request body: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	token, err := c.tokens.Token(ctx)
	if err != nil && !req.public {
		return nil, 0, fmt.Errorf("%s %s: %w", req.method, req.path, err)
	}

	timeout := req.timeout
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, req.method, c.baseURL+req.path, body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	telemetry.InjectHTTP(callCtx, httpReq.Header)

	log := c.log.WithContext(ctx).With(
		zap.String("method", req.method),
		zap.String("path", req.path),
	)
	log.Debug("backend request", zap.Int("body_bytes", len(payload)))

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		// the caller went away; nothing to normalize
		if ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, 0, ctx.Err()
		}
		timedOut := errors.Is(callCtx.Err(), context.DeadlineExceeded)
		apiErr := transportError(err, timedOut)
		log.Warn("backend request failed",
			zap.Int("status", apiErr.Status),
			zap.String("code", apiErr.Code),
			zap.Duration("latency", time.Since(start)),
			zap.Error(err),
		)
		return nil, apiErr.Status, apiErr
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		timedOut := errors.Is(callCtx.Err(), context.DeadlineExceeded)
		apiErr := transportError(err, timedOut)
		return nil, apiErr.Status, apiErr
	}

	fields := []zap.Field{
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)),
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := statusError(resp.StatusCode, raw, resp.Header.Get("X-Request-ID"))
		fields = append(fields, zap.String("code", apiErr.Code), zap.String("message", apiErr.Message))
		if resp.StatusCode >= 500 {
			log.Error("backend response", fields...)
		} else {
			log.Warn("backend response", fields...)
		}
		return nil, resp.StatusCode, apiErr
	}

	log.Debug("backend response", append(fields, zap.String("body", truncate(raw)))...)
	return raw, resp.StatusCode, nil
}

func truncate(b []byte) string {
	if len(b) > maxBodyLog {
		return string(b[:maxBodyLog]) + "..."
	}
	return string(b)
}
