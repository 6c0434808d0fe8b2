package router

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/S-Choi-1997/easyCICD-sub000/internal/store"
)

type fakeStore struct {
	projects map[string]*store.Project
	named    map[string]*store.NamedContainer
	lookups  int
}

func (f *fakeStore) GetProjectByName(projectName string) (*store.Project, error) {
	f.lookups++
	p, ok := f.projects[projectName]
	if !ok {
		return nil, store.ErrNotFound
	}
	return p, nil
}

func (f *fakeStore) GetNamedContainer(containerName string) (*store.NamedContainer, error) {
	c, ok := f.named[containerName]
	if !ok {
		return nil, store.ErrNotFound
	}
	return c, nil
}

func handleStr(s string) *string { return &s }

// backend starts an upstream that echoes a marker and returns its port.
func backend(t *testing.T, marker string) (int, func()) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, marker)
	}))
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	port, _ := strconv.Atoi(u.Port())
	return port, srv.Close
}

func get(t *testing.T, rt *Router, host string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "http://placeholder/", nil)
	req.Host = host
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, req)
	return rec
}

func TestRouteToActiveSlot(t *testing.T) {
	port, closeBackend := backend(t, "green says hi")
	defer closeBackend()

	fs := &fakeStore{projects: map[string]*store.Project{
		"svc": {
			ID:             1,
			Name:           "svc",
			ActiveSlot:     store.SlotGreen,
			GreenContainer: handleStr("h1"),
			BluePort:       1,
			GreenPort:      port,
		},
	}}
	rt := New(fs, "ci.example.com", "127.0.0.1", 0)

	rec := get(t, rt, "svc-app.ci.example.com")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	if string(body) != "green says hi" {
		t.Errorf("body = %q", body)
	}
}

func TestRouteNormalizesHost(t *testing.T) {
	port, closeBackend := backend(t, "ok")
	defer closeBackend()

	fs := &fakeStore{projects: map[string]*store.Project{
		"svc": {ID: 1, Name: "svc", ActiveSlot: store.SlotBlue, BlueContainer: handleStr("h"), BluePort: port},
	}}
	rt := New(fs, "ci.example.com", "127.0.0.1", 0)

	rec := get(t, rt, "SVC-app.CI.Example.Com:8000")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want normalized host to match", rec.Code)
	}
}

func TestRouteUnknownHost404(t *testing.T) {
	rt := New(&fakeStore{}, "ci.example.com", "127.0.0.1", 0)

	for _, host := range []string{
		"missing-app.ci.example.com",
		"svc-app.other.com",
		"ci.example.com",
		"a.b.ci.example.com",
	} {
		rec := get(t, rt, host)
		if rec.Code != http.StatusNotFound {
			t.Errorf("host %q: status = %d, want 404", host, rec.Code)
		}
	}
}

func TestRouteNoActiveHandle404(t *testing.T) {
	fs := &fakeStore{projects: map[string]*store.Project{
		"svc": {ID: 1, Name: "svc", ActiveSlot: store.SlotBlue, BluePort: 10000},
	}}
	rt := New(fs, "ci.example.com", "127.0.0.1", 0)

	rec := get(t, rt, "svc-app.ci.example.com")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 when active slot has no container", rec.Code)
	}
}

func TestRouteUpstreamDown502(t *testing.T) {
	fs := &fakeStore{projects: map[string]*store.Project{
		"svc": {ID: 1, Name: "svc", ActiveSlot: store.SlotBlue, BlueContainer: handleStr("h"), BluePort: 1},
	}}
	rt := New(fs, "ci.example.com", "127.0.0.1", 0)

	rec := get(t, rt, "svc-app.ci.example.com")
	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
}

func TestRouteNamedContainer(t *testing.T) {
	port, closeBackend := backend(t, "from redis ui")
	defer closeBackend()

	fs := &fakeStore{named: map[string]*store.NamedContainer{
		"dashboard": {ID: 1, Name: "dashboard", HTTP: true, Handle: handleStr("h"), HostPort: port},
		"redis":     {ID: 2, Name: "redis", HTTP: false, Handle: handleStr("h"), HostPort: 1234},
	}}
	rt := New(fs, "ci.example.com", "127.0.0.1", 0)

	rec := get(t, rt, "dashboard.ci.example.com")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	if string(body) != "from redis ui" {
		t.Errorf("body = %q", body)
	}

	// Non-HTTP named containers are not proxied.
	rec = get(t, rt, "redis.ci.example.com")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 for TCP container", rec.Code)
	}
}

func TestCacheObservesCutoverAfterTTL(t *testing.T) {
	bluePort, closeBlue := backend(t, "blue")
	defer closeBlue()
	greenPort, closeGreen := backend(t, "green")
	defer closeGreen()

	p := &store.Project{
		ID: 1, Name: "svc",
		ActiveSlot:    store.SlotBlue,
		BlueContainer: handleStr("hb"),
		BluePort:      bluePort,
		GreenPort:     greenPort,
	}
	fs := &fakeStore{projects: map[string]*store.Project{"svc": p}}

	rt := New(fs, "ci.example.com", "127.0.0.1", time.Minute)
	clock := time.Now()
	rt.now = func() time.Time { return clock }

	rec := get(t, rt, "svc-app.ci.example.com")
	if body, _ := io.ReadAll(rec.Body); string(body) != "blue" {
		t.Fatalf("pre-cutover body = %q", body)
	}

	// Cutover in the store.
	p.ActiveSlot = store.SlotGreen
	p.GreenContainer = handleStr("hg")

	// Within TTL the cached resolution still serves blue.
	rec = get(t, rt, "svc-app.ci.example.com")
	if body, _ := io.ReadAll(rec.Body); string(body) != "blue" {
		t.Fatalf("cached body = %q", body)
	}

	// After TTL expiry the router observes the new active slot.
	clock = clock.Add(2 * time.Minute)
	rec = get(t, rt, "svc-app.ci.example.com")
	if body, _ := io.ReadAll(rec.Body); string(body) != "green" {
		t.Errorf("post-TTL body = %q, want green", body)
	}
}

func TestFlushInvalidatesImmediately(t *testing.T) {
	bluePort, closeBlue := backend(t, "blue")
	defer closeBlue()
	greenPort, closeGreen := backend(t, "green")
	defer closeGreen()

	p := &store.Project{
		ID: 1, Name: "svc",
		ActiveSlot:    store.SlotBlue,
		BlueContainer: handleStr("hb"),
		BluePort:      bluePort,
		GreenPort:     greenPort,
	}
	fs := &fakeStore{projects: map[string]*store.Project{"svc": p}}
	rt := New(fs, "ci.example.com", "127.0.0.1", time.Hour)

	get(t, rt, "svc-app.ci.example.com")

	p.ActiveSlot = store.SlotGreen
	p.GreenContainer = handleStr("hg")
	rt.Flush()

	rec := get(t, rt, "svc-app.ci.example.com")
	if body, _ := io.ReadAll(rec.Body); string(body) != "green" {
		t.Errorf("post-flush body = %q, want green", body)
	}
}

func TestCacheLimitsStoreReads(t *testing.T) {
	port, closeBackend := backend(t, "ok")
	defer closeBackend()

	fs := &fakeStore{projects: map[string]*store.Project{
		"svc": {ID: 1, Name: "svc", ActiveSlot: store.SlotBlue, BlueContainer: handleStr("h"), BluePort: port},
	}}
	rt := New(fs, "ci.example.com", "127.0.0.1", time.Hour)

	for i := 0; i < 5; i++ {
		get(t, rt, "svc-app.ci.example.com")
	}
	if fs.lookups != 1 {
		t.Errorf("store lookups = %d, want 1 with warm cache", fs.lookups)
	}
}

func TestNormalizeHost(t *testing.T) {
	cases := map[string]string{
		"Svc-App.Example.COM":  "svc-app.example.com",
		"svc-app.example.com.": "svc-app.example.com",
		"host:8080":            "host",
		"host":                 "host",
	}
	for in, want := range cases {
		if got := normalizeHost(in); got != want {
			t.Errorf("normalizeHost(%q) = %q, want %q", in, got, want)
		}
	}
}
