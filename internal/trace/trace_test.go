package trace

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMiddlewarePropagatesHeader(t *testing.T) {
	var seen string
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = FromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(Header, "trace-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if seen != "trace-123" {
		t.Errorf("context trace id = %q", seen)
	}
	if rec.Header().Get(Header) != "trace-123" {
		t.Errorf("response header = %q", rec.Header().Get(Header))
	}
}

func TestMiddlewareGeneratesID(t *testing.T) {
	var seen string
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = FromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if seen == "" {
		t.Error("no trace id generated")
	}
	if rec.Header().Get(Header) != seen {
		t.Error("response header does not match context id")
	}
}

func TestFromContextEmpty(t *testing.T) {
	if got := FromContext(httptest.NewRequest(http.MethodGet, "/", nil).Context()); got != "" {
		t.Errorf("FromContext = %q, want empty", got)
	}
}
