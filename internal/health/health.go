// Package health probes freshly launched runtime containers before the
// deployer cuts traffic over to them.
package health

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ErrExhausted is returned when every probe attempt failed.
var ErrExhausted = errors.New("health check attempts exhausted")

// Checker performs one health check attempt.
type Checker interface {
	Check(ctx context.Context) error
}

// HTTPChecker checks an HTTP endpoint; any 2xx status is healthy.
type HTTPChecker struct {
	URL    string
	Client *http.Client
}

// NewHTTPChecker creates a checker for url with the given per-attempt
// timeout.
func NewHTTPChecker(url string, timeout time.Duration) *HTTPChecker {
	return &HTTPChecker{
		URL:    url,
		Client: &http.Client{Timeout: timeout},
	}
}

// Check performs one GET against the endpoint.
func (h *HTTPChecker) Check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unhealthy status %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	return nil
}

// Prober retries a checker a bounded number of times at a fixed interval.
type Prober struct {
	Attempts int
	Interval time.Duration

	// OnAttempt observes every attempt (may be nil).
	OnAttempt func(attempt int, err error)
}

// Probe runs up to Attempts checks. It returns nil on the first success,
// ErrExhausted after the last failure, or the context error on
// cancellation.
func (p *Prober) Probe(ctx context.Context, checker Checker) error {
	wait := backoff.NewConstantBackOff(p.Interval)

	var lastErr error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		err := checker.Check(ctx)
		if p.OnAttempt != nil {
			p.OnAttempt(attempt, err)
		}
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt == p.Attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait.NextBackOff()):
		}
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrExhausted, p.Attempts, lastErr)
}
