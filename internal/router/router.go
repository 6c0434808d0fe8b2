// Package router is the host-header reverse proxy in front of project
// slots and named HTTP containers. Routing is data-driven: each request
// resolves the target from live deployment state, so a cutover needs no
// reconfiguration step.
package router

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/S-Choi-1997/easyCICD-sub000/internal/events"
	"github.com/S-Choi-1997/easyCICD-sub000/internal/log"
	"github.com/S-Choi-1997/easyCICD-sub000/internal/store"
)

// appSuffix distinguishes project hostnames: {project}-app.{base-domain}.
const appSuffix = "-app"

// Store is the slice of the persistent store the router reads. Both
// lookups sit on the request hot path and are index-backed.
type Store interface {
	GetProjectByName(projectName string) (*store.Project, error)
	GetNamedContainer(containerName string) (*store.NamedContainer, error)
}

// Router resolves Host headers against deployment state and proxies.
type Router struct {
	store      Store
	baseDomain string
	gateway    string
	ttl        time.Duration

	mu    sync.RWMutex
	cache map[string]cacheEntry

	// now is swappable for tests.
	now func() time.Time
}

type cacheEntry struct {
	target  string // host:port, empty = negative entry
	expires time.Time
}

// New creates a router. ttl bounds how stale a cached resolution may be;
// zero disables caching.
func New(st Store, baseDomain, gateway string, ttl time.Duration) *Router {
	return &Router{
		store:      st,
		baseDomain: strings.ToLower(strings.TrimPrefix(baseDomain, ".")),
		gateway:    gateway,
		ttl:        ttl,
		cache:      make(map[string]cacheEntry),
		now:        time.Now,
	}
}

// WatchEvents flushes the cache on deployment and container lifecycle
// events so cutovers are observed ahead of TTL expiry. Returns when the
// subscription closes.
func (rt *Router) WatchEvents(sub *events.Subscription) {
	for e := range sub.C {
		switch e.(type) {
		case events.Deployment, events.SlotContainerStatus, events.NamedContainerStatus:
			rt.Flush()
		}
	}
}

// Flush drops every cached resolution.
func (rt *Router) Flush() {
	rt.mu.Lock()
	rt.cache = make(map[string]cacheEntry)
	rt.mu.Unlock()
}

// ServeHTTP implements the proxy.
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	host := normalizeHost(r.Host)

	target, err := rt.resolve(host)
	if err != nil {
		rt.writeError(w, http.StatusNotFound, "no route", fmt.Sprintf("no application for host %q", host))
		return
	}

	targetURL := &url.URL{Scheme: "http", Host: target}
	proxy := httputil.NewSingleHostReverseProxy(targetURL)
	proxy.FlushInterval = -1 // stream responses without buffering
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		log.Debug("upstream unreachable", "host", host, "target", target, "error", err)
		rt.writeError(w, http.StatusBadGateway, "upstream unreachable", err.Error())
	}
	proxy.ServeHTTP(w, r)
}

var errNoRoute = errors.New("no route")

// resolve maps a normalized hostname to its upstream host:port, consulting
// the TTL cache first.
func (rt *Router) resolve(host string) (string, error) {
	if rt.ttl > 0 {
		rt.mu.RLock()
		entry, ok := rt.cache[host]
		rt.mu.RUnlock()
		if ok && rt.now().Before(entry.expires) {
			if entry.target == "" {
				return "", errNoRoute
			}
			return entry.target, nil
		}
	}

	target, err := rt.lookup(host)
	if err != nil && !errors.Is(err, errNoRoute) {
		return "", err
	}

	if rt.ttl > 0 {
		rt.mu.Lock()
		rt.cache[host] = cacheEntry{target: target, expires: rt.now().Add(rt.ttl)}
		rt.mu.Unlock()
	}
	if target == "" {
		return "", errNoRoute
	}
	return target, nil
}

func (rt *Router) lookup(host string) (string, error) {
	sub, ok := strings.CutSuffix(host, "."+rt.baseDomain)
	if !ok || sub == "" || strings.Contains(sub, ".") {
		return "", errNoRoute
	}

	if projectName, ok := strings.CutSuffix(sub, appSuffix); ok && projectName != "" {
		p, err := rt.store.GetProjectByName(projectName)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return "", errNoRoute
			}
			return "", err
		}
		// Only route to a recorded container in the active slot.
		if p.SlotContainer(p.ActiveSlot) == nil {
			return "", errNoRoute
		}
		return fmt.Sprintf("%s:%d", rt.gateway, p.SlotPort(p.ActiveSlot)), nil
	}

	c, err := rt.store.GetNamedContainer(sub)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", errNoRoute
		}
		return "", err
	}
	if !c.HTTP || c.Handle == nil || c.HostPort == 0 {
		return "", errNoRoute
	}
	return fmt.Sprintf("%s:%d", rt.gateway, c.HostPort), nil
}

func (rt *Router) writeError(w http.ResponseWriter, code int, errType, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":  errType,
		"detail": detail,
	})
}

// normalizeHost strips any port and lowercases the hostname.
func normalizeHost(host string) string {
	if idx := strings.LastIndex(host, ":"); idx != -1 && !strings.Contains(host[idx:], "]") {
		host = host[:idx]
	}
	return strings.ToLower(strings.TrimSuffix(host, "."))
}
