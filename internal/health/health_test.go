package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestHTTPChecker2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewHTTPChecker(srv.URL+"/health", time.Second)
	if err := c.Check(context.Background()); err != nil {
		t.Errorf("Check = %v, want nil for 204", err)
	}
}

func TestHTTPCheckerNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewHTTPChecker(srv.URL+"/health", time.Second)
	if err := c.Check(context.Background()); err == nil {
		t.Error("Check = nil, want error for 500")
	}
}

func TestHTTPCheckerUnreachable(t *testing.T) {
	c := NewHTTPChecker("http://127.0.0.1:1/health", 100*time.Millisecond)
	if err := c.Check(context.Background()); err == nil {
		t.Error("Check = nil, want connection error")
	}
}

type flakyChecker struct {
	failures int32
}

func (f *flakyChecker) Check(context.Context) error {
	if atomic.AddInt32(&f.failures, -1) >= 0 {
		return errors.New("not ready")
	}
	return nil
}

func TestProbeSucceedsAfterRetries(t *testing.T) {
	var attempts []bool
	p := &Prober{
		Attempts: 5,
		Interval: time.Millisecond,
		OnAttempt: func(_ int, err error) {
			attempts = append(attempts, err == nil)
		},
	}

	err := p.Probe(context.Background(), &flakyChecker{failures: 2})
	if err != nil {
		t.Fatalf("Probe = %v", err)
	}
	if len(attempts) != 3 {
		t.Errorf("attempts = %v, want 3", attempts)
	}
	if attempts[0] || attempts[1] || !attempts[2] {
		t.Errorf("attempt results = %v", attempts)
	}
}

func TestProbeExhausted(t *testing.T) {
	p := &Prober{Attempts: 3, Interval: time.Millisecond}
	err := p.Probe(context.Background(), &flakyChecker{failures: 100})
	if !errors.Is(err, ErrExhausted) {
		t.Errorf("err = %v, want ErrExhausted", err)
	}
}

func TestProbeCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := &Prober{Attempts: 100, Interval: time.Minute}
	err := p.Probe(ctx, &flakyChecker{failures: 100})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
