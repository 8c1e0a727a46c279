package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"weather-archive/internal/models"
	"weather-archive/pkg/logging"
	"weather-archive/pkg/metrics"
)

// RetryPolicy bounds the attempts for one request. The delay after failed
// attempt n (1-based) is BaseDelay * 2^(n-1).
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetryPolicy mirrors the archive client defaults: 3 attempts, 1s base
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second}

// Delay returns the wait after the given failed attempt
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return p.BaseDelay * time.Duration(1<<(attempt-1))
}

// TextFetcher is the contract the tabular layer needs from a transport.
// ok is false when the archive reports the resource as absent.
type TextFetcher interface {
	FetchText(ctx context.Context, url string) (text string, ok bool, err error)
}

// TransportOptions tunes a Transport. Zero values pick defaults.
type TransportOptions struct {
	Retry RetryPolicy
	// BreakerThreshold is the number of consecutive transport failures
	// that opens the circuit breaker.
	BreakerThreshold uint32
	BreakerTimeout   time.Duration
	// Sleep waits between attempts; tests replace it to record delays.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Transport performs authenticated GET requests against the archive
type Transport struct {
	client  *http.Client
	tokens  *TokenSource
	retry   RetryPolicy
	breaker *gobreaker.CircuitBreaker
	sleep   func(ctx context.Context, d time.Duration) error
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// statusError is a non-success response that is not an empty marker
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.code)
}

// callerCanceledError is a request aborted by the caller's context; the
// breaker does not count it against the archive
type callerCanceledError struct {
	err error
}

func (e *callerCanceledError) Error() string { return e.err.Error() }
func (e *callerCanceledError) Unwrap() error { return e.err }

type attemptResult struct {
	body  string
	empty bool
}

// NewTransport creates an authenticated archive transport
func NewTransport(client *http.Client, tokens *TokenSource, opts TransportOptions, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *Transport {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	if opts.Retry.MaxAttempts < 1 {
		opts.Retry.MaxAttempts = DefaultRetryPolicy.MaxAttempts
	}
	if opts.Retry.BaseDelay <= 0 {
		opts.Retry.BaseDelay = DefaultRetryPolicy.BaseDelay
	}
	if opts.BreakerThreshold == 0 {
		opts.BreakerThreshold = 10
	}
	if opts.BreakerTimeout <= 0 {
		opts.BreakerTimeout = time.Minute
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}

	threshold := opts.BreakerThreshold
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "archive",
		MaxRequests: 1,
		Timeout:     opts.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			var cc *callerCanceledError
			return err == nil || errors.As(err, &cc)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn(context.Background(), "[ARCHIVE_BREAKER] Circuit breaker state changed", logging.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
		},
	})

	return &Transport{
		client:  client,
		tokens:  tokens,
		retry:   opts.Retry,
		breaker: cb,
		sleep:   opts.Sleep,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// FetchText GETs url with the bearer token. A 404 or 500 response is a valid
// empty result (ok=false, err=nil). Connection failures, timeouts and other
// non-success statuses are retried with exponential backoff and surface as a
// *models.TransportError once attempts are exhausted.
func (t *Transport) FetchText(ctx context.Context, url string) (string, bool, error) {
	start := time.Now()

	token, err := t.tokens.Token(ctx)
	if err != nil {
		return "", false, err
	}

	var (
		lastErr    error
		lastStatus int
	)

	for attempt := 1; attempt <= t.retry.MaxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return "", false, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)

		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", false, ctxErr
		}
		res, err := t.breaker.Execute(func() (interface{}, error) {
			return t.do(req)
		})
		if err == nil {
			result := res.(attemptResult)
			if result.empty {
				t.metrics.RecordArchiveRequest("empty", time.Since(start))
				t.logger.Debug(ctx, "[ARCHIVE_EMPTY] Archive reported resource as absent", logging.Fields{
					"url": url,
				})
				return "", false, nil
			}
			t.metrics.RecordArchiveRequest("ok", time.Since(start))
			return result.body, true, nil
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			t.metrics.RecordArchiveRequest("error", time.Since(start))
			return "", false, &models.TransportError{URL: url, Attempts: attempt, Err: err}
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", false, ctxErr
		}

		lastErr = err
		lastStatus = 0
		var se *statusError
		if errors.As(err, &se) {
			lastStatus = se.code
		}

		if attempt == t.retry.MaxAttempts {
			break
		}

		delay := t.retry.Delay(attempt)
		t.metrics.ArchiveRetriesTotal.Inc()
		t.logger.Warn(ctx, "[ARCHIVE_RETRY] Archive request failed, backing off", logging.Fields{
			"url":      url,
			"attempt":  attempt,
			"delay_ms": delay.Milliseconds(),
			"error":    err.Error(),
		})
		if err := t.sleep(ctx, delay); err != nil {
			return "", false, err
		}
	}

	t.metrics.RecordArchiveRequest("error", time.Since(start))
	return "", false, &models.TransportError{
		URL:        url,
		StatusCode: lastStatus,
		Attempts:   t.retry.MaxAttempts,
		Err:        lastErr,
	}
}

func (t *Transport) do(req *http.Request) (attemptResult, error) {
	resp, err := t.client.Do(req)
	if err != nil {
		if req.Context().Err() != nil {
			return attemptResult{}, &callerCanceledError{err: err}
		}
		return attemptResult{}, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusInternalServerError:
		io.Copy(io.Discard, resp.Body)
		return attemptResult{empty: true}, nil
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		io.Copy(io.Discard, resp.Body)
		return attemptResult{}, &statusError{code: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return attemptResult{}, fmt.Errorf("failed to read response body: %w", err)
	}
	return attemptResult{body: string(body)}, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
