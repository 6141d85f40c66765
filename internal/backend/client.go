package backend

import (
	"bytes"
	"context"
	"encoding/json"
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
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"finitefield.org/edu-storefront/internal/envelope"
	"finitefield.org/edu-storefront/internal/platform/requestctx"
)

const (
	defaultTimeout    = 10 * time.Second
	maxErrorBodyBytes = 64 << 10
	metricNamespace   = "finitefield.org/edu-storefront/backend"
)

var tracer = otel.Tracer("finitefield.org/edu-storefront/internal/backend")

// ErrBaseURLRequired is returned by NewClient without a base URL.
var ErrBaseURLRequired = errors.New("backend: base url required")

// StatusError reports a non-2xx backend response. Body holds the decoded JSON payload when the
// response carried one, so callers can read {success, message} contracts from it.
type StatusError struct {
	Method string
	Path   string
	Status int
	Body   any
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend: %s %s: status %d", e.Method, e.Path, e.Status)
}

// Client issues JSON requests against the content API and returns decoded envelopes.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
	meter   metric.Meter
	latency metric.Float64Histogram
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithRateLimit throttles outbound requests. A non-positive perSecond disables throttling.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithLogger sets the fallback logger used when the request context carries none.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMeter records request latency on m instead of the global meter provider.
func WithMeter(m metric.Meter) Option {
	return func(c *Client) {
		if m != nil {
			c.meter = m
		}
	}
}

// NewClient constructs a client for baseURL, typically ending in /api.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, ErrBaseURLRequired
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("backend: parse base url: %w", err)
	}
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: defaultTimeout},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.meter == nil {
		c.meter = otel.GetMeterProvider().Meter(metricNamespace)
	}
	latency, err := c.meter.Float64Histogram(
		"backend.request.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Latency in milliseconds for content API requests"),
	)
	if err != nil {
		c.logger.Warn("backend: unable to register latency metric", zap.Error(err))
	} else {
		c.latency = latency
	}
	return c, nil
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// Get fetches path and returns the decoded envelope.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (any, error) {
	return c.do(ctx, http.MethodGet, path, query, nil, nil)
}

// Post sends body as JSON to path and returns the decoded envelope.
func (c *Client) Post(ctx context.Context, path string, body any, header http.Header) (any, error) {
	return c.do(ctx, http.MethodPost, path, nil, body, header)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, header http.Header) (result any, err error) {
	ctx, span := tracer.Start(ctx, "backend."+method+" "+path,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("backend.path", path),
		),
	)
	start := time.Now()
	status := 0
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.Int("http.response.status_code", status))
		span.End()
		c.recordLatency(ctx, method, path, status, time.Since(start))
		c.loggerFor(ctx).Debug("backend request",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.Error(err),
		)
	}()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("backend: %s %s: throttle: %w", method, path, err)
		}
	}

	endpoint, err := c.endpoint(path, query)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("backend: %s %s: encode: %w", method, path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("backend: %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if lang := requestctx.Locale(ctx); lang != "" {
		req.Header.Set("Accept-Language", lang)
	}
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	status = resp.StatusCode

	if resp.StatusCode >= http.StatusBadRequest {
		decoded, _ := envelope.Decode(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil, &StatusError{Method: method, Path: path, Status: resp.StatusCode, Body: decoded}
	}
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}

	decoded, err := envelope.Decode(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("backend: %s %s: %w", method, path, err)
	}
	return decoded, nil
}

func (c *Client) endpoint(path string, query url.Values) (string, error) {
	endpoint, err := url.JoinPath(c.baseURL, strings.Trim(path, "/"))
	if err != nil {
		return "", fmt.Errorf("backend: join %s: %w", path, err)
	}
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	return endpoint, nil
}

func (c *Client) recordLatency(ctx context.Context, method, path string, status int, d time.Duration) {
	if c.latency == nil {
		return
	}
	c.latency.Record(ctx, float64(d)/float64(time.Millisecond), metric.WithAttributes(
		attribute.String("http.request.method", method),
		attribute.String("backend.route", routeOf(path)),
		attribute.Int("http.response.status_code", status),
	))
}

// routeOf keeps only the leading path segment so ids do not explode metric cardinality.
func routeOf(path string) string {
	path = strings.Trim(path, "/")
	if i := strings.IndexByte(path, '/'); i >= 0 {
		return path[:i]
	}
	return path
}

func (c *Client) loggerFor(ctx context.Context) *zap.Logger {
	if logger := requestctx.Logger(ctx); logger != requestctx.NoopLogger() {
		return logger
	}
	return c.logger
}

// Categories lists content categories.
func (c *Client) Categories(ctx context.Context) (any, error) {
	return c.Get(ctx, "categories", nil)
}

// Series lists the series of a category. page is omitted when non-positive.
func (c *Client) Series(ctx context.Context, categoryID string, page int) (any, error) {
	var query url.Values
	if page > 0 {
		query = url.Values{"page": []string{strconv.Itoa(page)}}
	}
	return c.Get(ctx, "categories/"+categoryID+"/series", query)
}

// Videos lists the videos of a series.
func (c *Client) Videos(ctx context.Context, seriesID string) (any, error) {
	return c.Get(ctx, "series/"+seriesID+"/videos", nil)
}

// Plans lists subscription plans.
func (c *Client) Plans(ctx context.Context) (any, error) {
	return c.Get(ctx, "plans", nil)
}

// Challenge fetches one challenge.
func (c *Client) Challenge(ctx context.Context, id string) (any, error) {
	return c.Get(ctx, "challenges/"+id, nil)
}

// CompleteChallenge marks a challenge completed with the generated image.
func (c *Client) CompleteChallenge(ctx context.Context, id, imageURL string) (any, error) {
	body := map[string]string{"generated_image_url": imageURL}
	return c.Post(ctx, "challenges/"+id+"/complete", body, nil)
}
