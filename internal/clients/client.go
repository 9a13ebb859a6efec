// internal/clients/client.go
package clients

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

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"libracirc/internal/metrics"
)

var (
	// ErrNotFound is returned when a collaborator answers 404.
	ErrNotFound = errors.New("not found")
	// ErrMalformedResponse is returned when a 2xx body cannot be decoded.
	ErrMalformedResponse = errors.New("malformed response")
)

// StatusError is returned for any other non-2xx answer.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: unexpected status code: %d", e.Method, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: unexpected status code: %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

func (e *StatusError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Options tunes every client built from them.
type Options struct {
	Timeout    time.Duration
	MaxRetries uint
	// RateLimit is requests per second; zero disables limiting.
	RateLimit  float64
	Logger     *zap.Logger
}

// client is the transport shared by every collaborator client: rate
// limiting, a circuit breaker per collaborator, retries for reads and a span
// per call.
type client struct {
	name    string
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	retries uint
	logger  *zap.Logger
	tracer  trace.Tracer
}

func newClient(name, baseURL string, opts Options) *client {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), max(1, int(opts.RateLimit)))
	}

	return &client{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    name,
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("circuit breaker state changed",
					zap.String("client", name),
					zap.Stringer("from", from),
					zap.Stringer("to", to),
				)
			},
			IsSuccessful: func(err error) bool {
				return err == nil || !isTemporary(err)
			},
		}),
		limiter: limiter,
		retries: opts.MaxRetries,
		logger:  logger,
		tracer:  otel.Tracer("libracirc/clients"),
	}
}

// get decodes the JSON body of a GET into out, retrying temporary failures.
func (c *client) get(ctx context.Context, path string, query url.Values, out any) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := c.do(ctx, http.MethodGet, path, query, nil, out)
		if err != nil && !isTemporary(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(newBackOff()),
		backoff.WithMaxTries(c.retries+1),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Debug("retrying request",
				zap.String("client", c.name),
				zap.String("path", path),
				zap.Duration("backoff", next),
				zap.Error(err),
			)
		}),
	)
	return err
}

// post sends in as JSON and decodes the answer into out. It is never retried.
func (c *client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode request body: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, nil, body, out)
}

func (c *client) do(ctx context.Context, method, path string, query url.Values, body []byte, out any) (err error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	ctx, span := c.tracer.Start(ctx, c.name+"."+strings.ToLower(method),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.url", target),
		),
	)
	start := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		metrics.ClientRequestDuration.WithLabelValues(c.name, method, outcome).Observe(time.Since(start).Seconds())
		span.End()
	}()

	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	_, err = c.breaker.Execute(func() (interface{}, error) {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

		if resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%s %s: %w", method, target, ErrNotFound)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return nil, &StatusError{
				Method:     method,
				URL:        target,
				StatusCode: resp.StatusCode,
				Body:       strings.TrimSpace(string(msg)),
			}
		}

		if out == nil {
			return nil, nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return nil, fmt.Errorf("%s: %w: %w", c.name, ErrMalformedResponse, err)
		}
		return nil, nil
	})
	return err
}

func newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	return b
}

// isTemporary reports whether a failed call is worth repeating.
func isTemporary(err error) bool {
	if errors.Is(err, ErrNotFound) || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}
	if errors.Is(err, ErrMalformedResponse) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	return true
}
