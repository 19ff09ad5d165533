package sinks

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

	"go.uber.org/zap"

	"github.com/JakeFAU/batch-progress/internal/progress"
)

// unknownMessageCode is the webhook API error code for a deleted message.
const unknownMessageCode = 10008

const maxErrorBody = 64 << 10

// RateLimiter gates outgoing webhook calls per endpoint.
type RateLimiter interface {
	Wait(ctx context.Context, endpoint string) error
}

// WebhookConfig configures a WebhookSink.
type WebhookConfig struct {
	// URL is the webhook endpoint that owns the progress message.
	URL string
	// FallbackURL receives fallback notifications; URL is used when empty.
	FallbackURL string
	Title       string
	// Timeout bounds each HTTP call (default 10s).
	Timeout    time.Duration
	HTTPClient *http.Client
	Limiter    RateLimiter
	Logger     *zap.Logger
}

// WebhookSink renders progress as a single chat message created through an
// incoming webhook and edited in place.
type WebhookSink struct {
	endpoint *url.URL
	fallback *url.URL
	title    string
	timeout  time.Duration
	client   *http.Client
	limiter  RateLimiter
	logger   *zap.Logger
}

// HTTPError describes a non-2xx webhook response.
type HTTPError struct {
	Op         string
	StatusCode int
	// Code is the API error code from the JSON body, or 0.
	Code    int
	Message string
}

func (e *HTTPError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("webhook %s: status %d: code %d: %s", e.Op, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("webhook %s: status %d: %s", e.Op, e.StatusCode, e.Message)
}

// NewWebhookSink validates cfg and returns a sink.
func NewWebhookSink(cfg WebhookConfig) (*WebhookSink, error) {
	endpoint, err := parseWebhookURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("webhook url: %w", err)
	}
	fallback := endpoint
	if cfg.FallbackURL != "" {
		fallback, err = parseWebhookURL(cfg.FallbackURL)
		if err != nil {
			return nil, fmt.Errorf("webhook fallback url: %w", err)
		}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookSink{
		endpoint: endpoint,
		fallback: fallback,
		title:    cfg.Title,
		timeout:  timeout,
		client:   client,
		limiter:  cfg.Limiter,
		logger:   logger,
	}, nil
}

// InitialRender posts a new message and returns its id as the target.
func (s *WebhookSink) InitialRender(ctx context.Context, p progress.Payload) (progress.Target, error) {
	u := *s.endpoint
	q := u.Query()
	q.Set("wait", "true")
	u.RawQuery = q.Encode()

	var created struct {
		ID string `json:"id"`
	}
	if err := s.do(ctx, "create", http.MethodPost, &u, p, &created); err != nil {
		return "", err
	}
	if created.ID == "" {
		return "", errors.New("webhook create: response carried no message id")
	}
	return progress.Target(created.ID), nil
}

// UpdateRender edits the message identified by target. A missing message is
// reported as progress.ErrTargetGone.
func (s *WebhookSink) UpdateRender(ctx context.Context, target progress.Target, p progress.Payload) error {
	if target == "" {
		return fmt.Errorf("webhook edit: %w", progress.ErrTargetGone)
	}
	u := *s.endpoint
	u.Path = strings.TrimSuffix(u.Path, "/") + "/messages/" + url.PathEscape(string(target))
	u.RawPath = ""

	err := s.do(ctx, "edit", http.MethodPatch, &u, p, nil)
	var httpErr *HTTPError
	if errors.As(err, &httpErr) &&
		(httpErr.StatusCode == http.StatusNotFound || httpErr.Code == unknownMessageCode) {
		return fmt.Errorf("%w: %w", progress.ErrTargetGone, err)
	}
	return err
}

// FallbackNotify posts the payload as a new standalone message.
func (s *WebhookSink) FallbackNotify(ctx context.Context, p progress.Payload) error {
	u := *s.fallback
	return s.do(ctx, "fallback", http.MethodPost, &u, p, nil)
}

func (s *WebhookSink) do(
	ctx context.Context,
	op, method string,
	u *url.URL,
	p progress.Payload,
	out any,
) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx, u.String()); err != nil {
			return fmt.Errorf("webhook %s: %w", op, err)
		}
	}

	body, err := json.Marshal(buildMessage(s.title, p))
	if err != nil {
		return fmt.Errorf("webhook %s: encode message: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook %s: build request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook %s: %w", op, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		_ = resp.Body.Close()
	}()
	s.logger.Debug("webhook call",
		zap.String("op", op),
		zap.Int("status", resp.StatusCode),
		zap.Duration("dur", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeHTTPError(op, resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxErrorBody)).Decode(out); err != nil {
		return fmt.Errorf("webhook %s: decode response: %w", op, err)
	}
	return nil
}

func decodeHTTPError(op string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	httpErr := &HTTPError{Op: op, StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	var apiErr struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &apiErr) == nil {
		httpErr.Code = apiErr.Code
		if apiErr.Message != "" {
			httpErr.Message = apiErr.Message
		}
	}
	return httpErr
}

func parseWebhookURL(raw string) (*url.URL, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, errors.New("is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, errors.New("host is required")
	}
	return u, nil
}
