// Package delivery sends classification events to the collection backend.
//
// First attempts run post-response with a short timeout and only transport failures count;
// the response status is not inspected. Retries run from the job runner with a longer
// timeout and require a 2xx. Failed first attempts are handed to the retry scheduler.
package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawler-sentinel/internal/event"
	"github.com/JakeFAU/crawler-sentinel/internal/hash/sha256"
	"github.com/JakeFAU/crawler-sentinel/internal/metrics"
	"github.com/JakeFAU/crawler-sentinel/internal/telemetry"
)

// Endpoint is the collection path appended to the backend base URL.
const Endpoint = "/api/v1/log_request"

// Header names sent with every report.
const (
	HeaderCorrelationID = "X-Correlation-Request-ID"
	HeaderRetryCount    = "X-Retry-Count"
)

var (
	// ErrInvalidBackendURL marks a non-transient configuration failure; nothing is retried.
	ErrInvalidBackendURL = errors.New("invalid backend url")
	// ErrUnexpectedStatus marks a non-2xx response to a retry attempt.
	ErrUnexpectedStatus = errors.New("unexpected response status")
)

// Recorder receives delivery outcomes.
type Recorder interface {
	RecordError(ctx context.Context, category telemetry.Category, msg string, fields map[string]string) telemetry.Category
	RecordSuccess(ctx context.Context, retry bool)
}

// Retrier persists failed events and schedules their re-delivery.
type Retrier interface {
	Enqueue(ctx context.Context, key string, evt event.ClassificationEvent) error
	ScheduleRetry(ctx context.Context, key string) error
	Purge(ctx context.Context, key string) error
}

// Limiter throttles outbound calls per destination.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// KeyGenerator derives retry keys from event content and time.
type KeyGenerator interface {
	RetryKey(payload []byte, at time.Time) string
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Config carries the outbound call settings.
type Config struct {
	BackendURL          string
	UserAgent           string
	FirstAttemptTimeout time.Duration
	RetryTimeout        time.Duration
}

// Engine performs delivery attempts.
type Engine struct {
	cfg      Config
	client   *http.Client
	recorder Recorder
	retrier  Retrier
	limiter  Limiter
	keys     KeyGenerator
	hasher   *sha256.Hasher
	clock    Clock
	logger   *zap.Logger
	tracer   trace.Tracer
}

// Option customizes an Engine.
type Option func(*Engine)

// WithResolver replaces the resolver used to vet redirect targets.
func WithResolver(r Resolver) Option {
	return func(e *Engine) {
		e.client.CheckRedirect = redirectGuard(r)
	}
}

// WithTransport replaces the HTTP transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(e *Engine) {
		e.client.Transport = rt
	}
}

// NewEngine constructs an Engine. limiter may be nil.
func NewEngine(
	cfg Config,
	recorder Recorder,
	retrier Retrier,
	limiter Limiter,
	keys KeyGenerator,
	clock Clock,
	logger *zap.Logger,
	opts ...Option,
) *Engine {
	metrics.Init()
	if cfg.FirstAttemptTimeout <= 0 {
		cfg.FirstAttemptTimeout = 2 * time.Second
	}
	if cfg.RetryTimeout <= 0 {
		cfg.RetryTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		cfg: cfg,
		client: &http.Client{
			Transport:     http.DefaultTransport.(*http.Transport).Clone(),
			CheckRedirect: redirectGuard(defaultResolver),
		},
		recorder: recorder,
		retrier:  retrier,
		limiter:  limiter,
		keys:     keys,
		hasher:   sha256.New(),
		clock:    clock,
		logger:   logger.Named("delivery"),
		tracer:   otel.Tracer("github.com/JakeFAU/crawler-sentinel/internal/delivery"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EndpointURL validates base and returns the full collection URL.
func EndpointURL(base string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidBackendURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidBackendURL, base)
	}
	return strings.TrimRight(u.String(), "/") + Endpoint, nil
}

// Deliver makes the first attempt for evt. On transport failure the event is persisted for
// retry under a fresh key. An invalid backend URL is recorded and never retried.
func (e *Engine) Deliver(ctx context.Context, evt event.ClassificationEvent) error {
	target, err := EndpointURL(e.cfg.BackendURL)
	if err != nil {
		e.recorder.RecordError(ctx, "", err.Error(), map[string]string{"backend": e.cfg.BackendURL})
		return err
	}
	body, err := evt.Marshal()
	if err != nil {
		e.recorder.RecordError(ctx, "", err.Error(), nil)
		return err
	}

	ctx, span := e.tracer.Start(ctx, "delivery.Deliver", trace.WithAttributes(
		attribute.Bool("sentinel.retry", false),
		attribute.String("sentinel.site_id", evt.SiteID),
	))
	defer span.End()

	start := time.Now()
	_, err = e.send(ctx, target, body, e.cfg.FirstAttemptTimeout, 0)
	metrics.ObserveDelivery(target, false, err == nil, time.Since(start))
	if err == nil {
		e.recorder.RecordSuccess(ctx, false)
		return nil
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, "first attempt failed")

	key := e.keys.RetryKey(body, e.clock.Now())
	span.SetAttributes(attribute.String("sentinel.retry_key", key))
	e.recorder.RecordError(ctx, "", Describe(err, e.cfg.FirstAttemptTimeout), map[string]string{
		"retry_key": key,
		"cause":     err.Error(),
	})
	if qerr := e.retrier.Enqueue(ctx, key, evt); qerr != nil {
		e.logger.Error("enqueue retry failed", zap.String("retry_key", key), zap.Error(qerr))
		return errors.Join(err, qerr)
	}
	return err
}

// Redeliver retries a persisted record. A 2xx purges the record; any other outcome asks the
// retrier to schedule the next attempt, which purges the record once attempts run out.
func (e *Engine) Redeliver(ctx context.Context, rec event.RetryRecord) error {
	fields := map[string]string{
		"retry_key": rec.RetryKey,
		"attempt":   strconv.Itoa(rec.Attempts),
	}
	target, err := EndpointURL(e.cfg.BackendURL)
	if err != nil {
		e.recorder.RecordError(ctx, "", err.Error(), fields)
		if perr := e.retrier.Purge(ctx, rec.RetryKey); perr != nil {
			e.logger.Warn("purge retry record failed", zap.String("retry_key", rec.RetryKey), zap.Error(perr))
		}
		return err
	}
	body, err := rec.Payload.Marshal()
	if err != nil {
		e.recorder.RecordError(ctx, "", err.Error(), fields)
		return err
	}

	ctx, span := e.tracer.Start(ctx, "delivery.Redeliver", trace.WithAttributes(
		attribute.Bool("sentinel.retry", true),
		attribute.String("sentinel.retry_key", rec.RetryKey),
		attribute.Int("sentinel.attempt", rec.Attempts),
	))
	defer span.End()

	start := time.Now()
	status, err := e.send(ctx, target, body, e.cfg.RetryTimeout, rec.Attempts)
	if err == nil && (status < 200 || status > 299) {
		err = fmt.Errorf("%w %d", ErrUnexpectedStatus, status)
	}
	metrics.ObserveDelivery(target, true, err == nil, time.Since(start))
	span.SetAttributes(attribute.Int("http.status_code", status))

	if err == nil {
		e.recorder.RecordSuccess(ctx, true)
		if perr := e.retrier.Purge(ctx, rec.RetryKey); perr != nil {
			e.logger.Warn("purge retry record failed", zap.String("retry_key", rec.RetryKey), zap.Error(perr))
		}
		return nil
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, "retry attempt failed")
	fields["cause"] = err.Error()
	e.recorder.RecordError(ctx, "", Describe(err, e.cfg.RetryTimeout), fields)
	if serr := e.retrier.ScheduleRetry(ctx, rec.RetryKey); serr != nil {
		return errors.Join(err, serr)
	}
	return err
}

// send POSTs body and returns the response status. The body is drained and discarded.
func (e *Engine) send(ctx context.Context, target string, body []byte, timeout time.Duration, retryCount int) (int, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx, target); err != nil {
			return 0, err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	ua := e.cfg.UserAgent
	if retryCount > 0 {
		ua += " (retry)"
		req.Header.Set(HeaderRetryCount, strconv.Itoa(retryCount))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", ua)
	req.Header.Set(HeaderCorrelationID, e.hasher.CorrelationID(body, e.clock.Now()))

	resp, err := e.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		_ = resp.Body.Close()
	}()
	return resp.StatusCode, nil
}
