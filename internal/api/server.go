package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/AaronLay10/SceneWorkbench/internal/authority"
	"github.com/AaronLay10/SceneWorkbench/internal/compose"
	"github.com/AaronLay10/SceneWorkbench/internal/events"
	"github.com/AaronLay10/SceneWorkbench/internal/scene"
	"github.com/AaronLay10/SceneWorkbench/internal/version"
)

// Options configure a Server.
type Options struct {
	Addr string
	// Deps are shared by every scene session. Deps.Catalog also serves the
	// scene list endpoints.
	Deps     scene.Deps
	Session  scene.Options
	Logs     authority.LogFeed
	LogLines int
	Watcher  Watcher
	Debounce time.Duration

	Auth      *Auth
	TLS       *TLSConfig
	Readiness *Readiness
	Logger    *slog.Logger
}

// Server exposes scene sessions to canvas clients over HTTP and websockets.
type Server struct {
	addr      string
	deps      scene.Deps
	sessions  *Sessions
	logs      authority.LogFeed
	logLines  int
	auth      *Auth
	tls       *TLSConfig
	readiness *Readiness
	logger    *slog.Logger
}

// NewServer builds a server from opts.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Readiness == nil {
		opts.Readiness = NewReadiness()
	}
	if opts.Session.Logger == nil {
		opts.Session.Logger = logger
	}
	return &Server{
		addr:      opts.Addr,
		deps:      opts.Deps,
		sessions:  NewSessions(opts.Deps, opts.Session, opts.Watcher, opts.Debounce, logger),
		logs:      opts.Logs,
		logLines:  opts.LogLines,
		auth:      opts.Auth,
		tls:       opts.TLS,
		readiness: opts.Readiness,
		logger:    logger.With("component", "api"),
	}
}

// Sessions returns the live session registry.
func (s *Server) Sessions() *Sessions { return s.sessions }

// Handler returns the HTTP routes of the server.
func (s *Server) Handler() http.Handler {
	anyRole := s.auth.RequireAnyRole
	admin := s.auth.RequireAdmin

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler)
	mux.HandleFunc("GET /ready", s.readiness.handler)
	mux.Handle("GET /metrics", metricsHandler())

	mux.HandleFunc("GET /events", anyRole(eventsHandler))
	mux.HandleFunc("GET /ws/events", anyRole(s.journalHandler))

	mux.HandleFunc("GET /api/scenes", anyRole(s.listScenes))
	mux.HandleFunc("POST /api/scenes", admin(s.createScene))
	mux.HandleFunc("DELETE /api/scenes/{scene}", admin(s.deleteScene))
	mux.HandleFunc("GET /api/scenes/{scene}/includes", anyRole(s.includedScenes))
	mux.HandleFunc("POST /api/scenes/{scene}/import", admin(s.importScene))
	mux.HandleFunc("POST /api/scenes/{scene}/detach", admin(s.detachScene))
	mux.HandleFunc("GET /api/scenes/{scene}/graph", anyRole(s.sceneGraph))
	mux.HandleFunc("GET /api/scenes/{scene}/services/{id}", anyRole(s.serviceDefinition))

	mux.HandleFunc("GET /ws/scenes/{scene}", anyRole(s.canvasHandler))
	mux.HandleFunc("GET /ws/scenes/{scene}/services/{id}/logs", anyRole(s.logsHandler))
	return mux
}

// ListenAndServe serves until ctx is canceled, then shuts down gracefully:
// sessions are closed and journal streams ended.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	tlsCfg, err := s.tls.Load()
	if err != nil {
		return err
	}
	srv.TLSConfig = tlsCfg

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", s.addr, "tls", tlsCfg != nil, "auth", s.auth.Enabled())
		if tlsCfg != nil {
			errCh <- srv.ListenAndServeTLS("", "")
		} else {
			errCh <- srv.ListenAndServe()
		}
	}()

	select {
	case err := <-errCh:
		s.sessions.CloseAll()
		return err
	case <-ctx.Done():
	}

	s.sessions.CloseAll()
	events.CloseAllSubscribers()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type HealthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Version   string `json:"version"`
	Hostname  string `json:"hostname"`
	Timestamp string `json:"ts"`
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	host, _ := os.Hostname()
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Service:   "workbench",
		Version:   version.Version,
		Hostname:  host,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func eventsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, events.RecentEvents(0, events.FilterFromQuery(r.URL.Query())))
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type sceneRequest struct {
	Scene string `json:"scene"`
}

func (s *Server) catalog(w http.ResponseWriter) (authority.Catalog, bool) {
	if s.deps.Catalog == nil {
		writeJSON(w, http.StatusNotImplemented, ErrorResponse{Error: scene.ErrNoCatalog.Error()})
		return nil, false
	}
	return s.deps.Catalog, true
}

func (s *Server) listScenes(w http.ResponseWriter, r *http.Request) {
	c, ok := s.catalog(w)
	if !ok {
		return
	}
	scenes, err := c.Scenes(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if scenes == nil {
		scenes = []authority.Scene{}
	}
	writeJSON(w, http.StatusOK, scenes)
}

func decodeScene(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req sceneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid JSON"})
		return "", false
	}
	if err := authority.ValidateSceneName(req.Scene); err != nil {
		writeError(w, err)
		return "", false
	}
	return req.Scene, true
}

func (s *Server) createScene(w http.ResponseWriter, r *http.Request) {
	c, ok := s.catalog(w)
	if !ok {
		return
	}
	name, ok := decodeScene(w, r)
	if !ok {
		return
	}
	if err := c.CreateScene(r.Context(), name); err != nil {
		writeError(w, err)
		return
	}
	events.Emit("info", "scene.created", "", map[string]interface{}{"scene": name})
	writeJSON(w, http.StatusCreated, authority.Scene{Name: name})
}

func (s *Server) deleteScene(w http.ResponseWriter, r *http.Request) {
	c, ok := s.catalog(w)
	if !ok {
		return
	}
	name := r.PathValue("scene")
	if err := authority.ValidateSceneName(name); err != nil {
		writeError(w, err)
		return
	}
	if err := c.DeleteScene(r.Context(), name); err != nil {
		writeError(w, err)
		return
	}
	events.Emit("info", "scene.deleted", "", map[string]interface{}{"scene": name})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) includedScenes(w http.ResponseWriter, r *http.Request) {
	c, ok := s.catalog(w)
	if !ok {
		return
	}
	scenes, err := c.IncludedScenes(r.Context(), r.PathValue("scene"))
	if err != nil {
		writeError(w, err)
		return
	}
	if scenes == nil {
		scenes = []authority.Scene{}
	}
	writeJSON(w, http.StatusOK, scenes)
}

func (s *Server) importScene(w http.ResponseWriter, r *http.Request) {
	s.changeIncludes(w, r, "scene.imported", authority.Catalog.ImportScene)
}

func (s *Server) detachScene(w http.ResponseWriter, r *http.Request) {
	s.changeIncludes(w, r, "scene.detached", authority.Catalog.DetachScene)
}

// changeIncludes runs an import or detach and reloads the live session of
// the scene, if any, so canvases pick up the new services.
func (s *Server) changeIncludes(w http.ResponseWriter, r *http.Request, event string, op func(authority.Catalog, context.Context, string, string) error) {
	c, ok := s.catalog(w)
	if !ok {
		return
	}
	name := r.PathValue("scene")
	other, ok := decodeScene(w, r)
	if !ok {
		return
	}
	if err := op(c, r.Context(), name, other); err != nil {
		writeError(w, err)
		return
	}
	events.Emit("info", event, "", map[string]interface{}{"scene": name, "other": other})
	if sess, ok := s.sessions.Get(name); ok {
		if err := sess.Reload(r.Context()); err != nil {
			s.logger.Warn("reload after include change failed", "scene", name, "error", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) sceneGraph(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("scene")
	if err := authority.ValidateSceneName(name); err != nil {
		writeError(w, err)
		return
	}
	sess, release, err := s.sessions.Acquire(r.Context(), name)
	if err != nil {
		writeError(w, err)
		return
	}
	defer release()
	snap, err := sess.Snapshot()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) serviceDefinition(w http.ResponseWriter, r *http.Request) {
	c, ok := s.catalog(w)
	if !ok {
		return
	}
	name, id := r.PathValue("scene"), r.PathValue("id")
	if err := authority.ValidateServiceID(id); err != nil {
		writeError(w, err)
		return
	}
	payload, err := c.Service(r.Context(), name, id)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	_, _ = w.Write([]byte(payload))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err onto a status code: validation failures are the
// client's fault, authority rejections conflict with the definitions.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case authority.IsValidation(err):
		status = http.StatusBadRequest
	case errors.Is(err, compose.ErrSceneNotFound):
		status = http.StatusNotFound
	case authority.IsAuthority(err):
		status = http.StatusConflict
	case errors.Is(err, ErrShuttingDown), errors.Is(err, scene.ErrClosed):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}
