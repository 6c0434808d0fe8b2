package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/S-Choi-1997/easyCICD-sub000/internal/docker"
	"github.com/S-Choi-1997/easyCICD-sub000/internal/events"
	"github.com/S-Choi-1997/easyCICD-sub000/internal/log"
	"github.com/S-Choi-1997/easyCICD-sub000/internal/name"
	"github.com/S-Choi-1997/easyCICD-sub000/internal/ports"
	"github.com/S-Choi-1997/easyCICD-sub000/internal/store"
	"github.com/S-Choi-1997/easyCICD-sub000/internal/trace"
)

// Server is the controller's HTTP API over a unix socket. It is the only
// inbound surface; the reverse proxy router listens separately.
type Server struct {
	daemon    *Daemon
	sockPath  string
	server    *http.Server
	listener  net.Listener
	startedAt time.Time
}

// NewServer creates the API server for a daemon.
func NewServer(d *Daemon, sockPath string) *Server {
	s := &Server{daemon: d, sockPath: sockPath, startedAt: time.Now()}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	mux.HandleFunc("GET /v1/metrics", s.handleMetrics)
	mux.HandleFunc("GET /v1/events", s.handleEvents)

	mux.HandleFunc("POST /v1/projects", s.handleCreateProject)
	mux.HandleFunc("GET /v1/projects", s.handleListProjects)
	mux.HandleFunc("GET /v1/projects/{name}", s.handleGetProject)
	mux.HandleFunc("DELETE /v1/projects/{name}", s.handleDeleteProject)
	mux.HandleFunc("POST /v1/projects/{name}/builds", s.handleTriggerBuild)
	mux.HandleFunc("GET /v1/projects/{name}/builds", s.handleListBuilds)
	mux.HandleFunc("POST /v1/projects/{name}/runtime/{op}", s.handleRuntimeOp)

	mux.HandleFunc("GET /v1/builds/{id}", s.handleGetBuild)
	mux.HandleFunc("POST /v1/builds/{id}/rollback", s.handleRollback)
	mux.HandleFunc("GET /v1/builds/{id}/log", s.handleBuildLog)
	mux.HandleFunc("GET /v1/builds/{id}/deploy-log", s.handleDeployLog)

	mux.HandleFunc("PUT /v1/settings/{key}", s.handlePutSetting)

	mux.HandleFunc("POST /v1/named", s.handleCreateNamed)
	mux.HandleFunc("GET /v1/named", s.handleListNamed)
	mux.HandleFunc("DELETE /v1/named/{name}", s.handleRemoveNamed)
	mux.HandleFunc("POST /v1/named/{name}/{op}", s.handleNamedOp)

	s.server = &http.Server{
		Handler:           trace.Middleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start begins listening on the unix socket, removing any stale socket
// file first.
func (s *Server) Start() error {
	os.Remove(s.sockPath)
	listener, err := net.Listen("unix", s.sockPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.sockPath, err)
	}
	s.listener = listener
	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("api server error", "error", err)
		}
	}()
	log.Info("api listening", "socket", s.sockPath)
	return nil
}

// Shutdown stops the server and removes the socket file.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.server.Shutdown(ctx)
	os.Remove(s.sockPath)
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	projects, err := s.daemon.Store.ListProjects()
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, HealthResponse{
		PID:           os.Getpid(),
		StartedAt:     s.startedAt.UTC().Format(time.RFC3339),
		Projects:      len(projects),
		PendingBuilds: s.daemon.Queue.PendingCount(),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.daemon.Metrics.Handler().ServeHTTP(w, r)
}

// handleEvents streams bus events to the client as newline-delimited
// tagged JSON until the client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, r, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}

	sub := s.daemon.Bus.Subscribe(256)
	defer sub.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case e, open := <-sub.C:
			if !open {
				return
			}
			data, err := events.Encode(e)
			if err != nil {
				continue
			}
			if _, err := w.Write(append(data, '\n')); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var spec store.ProjectSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if err := name.ValidateLabel(spec.Name); err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if spec.Runtime.Port <= 0 {
		s.writeError(w, r, http.StatusBadRequest, errors.New("runtime.port must be set"))
		return
	}
	if spec.Runtime.HealthCheckPath == "" {
		spec.Runtime.HealthCheckPath = "/health"
	}
	if spec.Branch == "" {
		spec.Branch = "main"
	}

	p, err := s.daemon.createProject(spec)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.daemon.Store.ListProjects()
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	out := make([]ProjectStatus, 0, len(projects))
	for _, p := range projects {
		st := ProjectStatus{Project: p}
		if builds, err := s.daemon.Store.ListBuilds(p.ID); err == nil && len(builds) > 0 {
			st.LastBuild = builds[0]
		}
		out = append(out, st)
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	p, err := s.daemon.Store.GetProjectByName(r.PathValue("name"))
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	st := ProjectStatus{Project: p}
	if builds, err := s.daemon.Store.ListBuilds(p.ID); err == nil && len(builds) > 0 {
		st.LastBuild = builds[0]
	}
	s.writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	p, err := s.daemon.Store.GetProjectByName(r.PathValue("name"))
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	if err := s.daemon.destroyProject(r.Context(), p); err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTriggerBuild(w http.ResponseWriter, r *http.Request) {
	p, err := s.daemon.Store.GetProjectByName(r.PathValue("name"))
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}

	var req TriggerBuildRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, r, http.StatusBadRequest, err)
			return
		}
	}

	b, err := s.daemon.triggerBuild(p, store.CommitInfo{
		Hash:    req.CommitHash,
		Message: req.CommitMessage,
		Author:  req.Author,
	})
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, acceptedResponse{Accepted: true, BuildID: b.ID, Time: time.Now().UTC()})
}

func (s *Server) handleListBuilds(w http.ResponseWriter, r *http.Request) {
	p, err := s.daemon.Store.GetProjectByName(r.PathValue("name"))
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	builds, err := s.daemon.Store.ListBuilds(p.ID)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, builds)
}

func (s *Server) handleRuntimeOp(w http.ResponseWriter, r *http.Request) {
	p, err := s.daemon.Store.GetProjectByName(r.PathValue("name"))
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}

	switch r.PathValue("op") {
	case "start":
		err = s.daemon.Supervisor.Start(r.Context(), p.ID)
	case "stop":
		err = s.daemon.Supervisor.StopProject(r.Context(), p.ID)
	case "restart":
		err = s.daemon.Supervisor.Restart(r.Context(), p.ID)
	default:
		s.writeError(w, r, http.StatusNotFound, fmt.Errorf("unknown runtime operation %q", r.PathValue("op")))
		return
	}
	if err != nil {
		s.writeError(w, r, http.StatusConflict, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetBuild(w http.ResponseWriter, r *http.Request) {
	b, p, err := s.buildByPath(r)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, BuildResponse{Build: b, Project: p.Name})
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	b, p, err := s.buildByPath(r)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	if b.Status != store.BuildSuccess || b.DeployedSlot == nil {
		s.writeError(w, r, http.StatusConflict,
			fmt.Errorf("build #%d is not a deployed successful build", b.BuildNumber))
		return
	}

	go func() {
		if err := s.daemon.Deployer.Rollback(s.daemon.baseCtx, p, b); err != nil {
			log.Warn("rollback failed", "project_id", p.ID, "build_id", b.ID, "error", err)
		}
	}()
	s.writeJSON(w, http.StatusAccepted, acceptedResponse{Accepted: true, BuildID: b.ID, Time: time.Now().UTC()})
}

func (s *Server) handleBuildLog(w http.ResponseWriter, r *http.Request) {
	b, _, err := s.buildByPath(r)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	s.serveFile(w, r, b.LogPath)
}

func (s *Server) handleDeployLog(w http.ResponseWriter, r *http.Request) {
	b, _, err := s.buildByPath(r)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	s.serveFile(w, r, b.DeployLogPath)
}

func (s *Server) handlePutSetting(w http.ResponseWriter, r *http.Request) {
	value, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if err := s.daemon.Store.SetSetting(r.PathValue("key"), string(value)); err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreateNamed(w http.ResponseWriter, r *http.Request) {
	var spec store.NamedContainerSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	c, err := s.daemon.Named.Create(r.Context(), spec)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleListNamed(w http.ResponseWriter, r *http.Request) {
	containers, err := s.daemon.Store.ListNamedContainers()
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, containers)
}

func (s *Server) handleRemoveNamed(w http.ResponseWriter, r *http.Request) {
	if err := s.daemon.Named.Remove(r.Context(), r.PathValue("name")); err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleNamedOp(w http.ResponseWriter, r *http.Request) {
	var err error
	switch r.PathValue("op") {
	case "start":
		err = s.daemon.Named.Start(r.Context(), r.PathValue("name"))
	case "stop":
		err = s.daemon.Named.Stop(r.Context(), r.PathValue("name"))
	default:
		s.writeError(w, r, http.StatusNotFound, fmt.Errorf("unknown operation %q", r.PathValue("op")))
		return
	}
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) buildByPath(r *http.Request) (*store.Build, *store.Project, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		return nil, nil, store.ErrNotFound
	}
	b, err := s.daemon.Store.GetBuild(id)
	if err != nil {
		return nil, nil, err
	}
	p, err := s.daemon.Store.GetProject(b.ProjectID)
	if err != nil {
		return nil, nil, err
	}
	return b, p, nil
}

func (s *Server) serveFile(w http.ResponseWriter, r *http.Request, path string) {
	f, err := os.Open(path)
	if err != nil {
		s.writeError(w, r, http.StatusNotFound, errors.New("log not available"))
		return
	}
	defer f.Close()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.Copy(w, f)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.writeError(w, r, http.StatusNotFound, err)
	case errors.Is(err, store.ErrConflict):
		s.writeError(w, r, http.StatusConflict, err)
	case errors.Is(err, ports.ErrPortExhausted):
		s.writeError(w, r, http.StatusConflict, err)
	case errors.Is(err, docker.ErrDriverUnavailable):
		s.writeError(w, r, http.StatusServiceUnavailable, err)
	default:
		s.writeError(w, r, http.StatusInternalServerError, err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, code int, err error) {
	log.Debug("api error", "path", r.URL.Path, "code", code,
		"trace_id", trace.FromContext(r.Context()), "error", err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: http.StatusText(code), Detail: err.Error()})
}
