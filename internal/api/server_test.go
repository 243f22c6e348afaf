package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/AaronLay10/SceneWorkbench/internal/authority"
	"github.com/AaronLay10/SceneWorkbench/internal/authority/authoritytest"
	"github.com/AaronLay10/SceneWorkbench/internal/compose"
	"github.com/AaronLay10/SceneWorkbench/internal/config"
	"github.com/AaronLay10/SceneWorkbench/internal/graph"
	"github.com/AaronLay10/SceneWorkbench/internal/scene"
)

const testScene = `
services:
  db:
    image: postgres:16
  cache:
    image: redis:7
  api:
    image: example/api
    depends_on: [db]
`

type testEnv struct {
	server  *Server
	repo    *compose.Repository
	runtime *authoritytest.Authority
	feed    *authoritytest.Feed
	root    string
}

func newTestEnv(t *testing.T, auth *Auth) *testEnv {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "web")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, compose.FileName), []byte(testScene), 0o644); err != nil {
		t.Fatal(err)
	}

	repo := compose.NewRepository(root, nil)
	runtime := authoritytest.New()
	feed := authoritytest.NewFeed()
	srv := NewServer(Options{
		Deps: scene.Deps{
			Authority: authority.NewComposite(repo, runtime),
			Feed:      feed,
			Catalog:   repo,
		},
		Logs:     feed,
		LogLines: 10,
		Auth:     auth,
	})
	t.Cleanup(srv.Sessions().CloseAll)
	return &testEnv{server: srv, repo: repo, runtime: runtime, feed: feed, root: root}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	healthHandler(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var resp HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if resp.Status != "ok" {
		t.Errorf("expected status 'ok', got '%s'", resp.Status)
	}
	if resp.Version == "" {
		t.Error("expected a version")
	}
}

func TestReadyEndpoint_AllReady(t *testing.T) {
	r := NewReadiness()
	r.Add("mqtt", false, func() error { return nil })
	r.Add("postgres", true, func() error { return nil })

	w := httptest.NewRecorder()
	r.handler(w, httptest.NewRequest("GET", "/ready", nil))

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var resp ReadinessResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.Ready {
		t.Error("expected ready=true")
	}
	if resp.Checks["mqtt"].Status != "ok" {
		t.Errorf("expected mqtt status 'ok', got '%s'", resp.Checks["mqtt"].Status)
	}
	if resp.Checks["postgres"].Status != "ok" {
		t.Errorf("expected postgres status 'ok', got '%s'", resp.Checks["postgres"].Status)
	}
}

func TestReadyEndpoint_RequiredCheckFails(t *testing.T) {
	r := NewReadiness()
	r.Add("mqtt", false, func() error { return errors.New("not connected") })

	w := httptest.NewRecorder()
	r.handler(w, httptest.NewRequest("GET", "/ready", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", w.Code)
	}
	var resp ReadinessResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Ready {
		t.Error("expected ready=false")
	}
	if resp.Checks["mqtt"].Error != "not connected" {
		t.Errorf("expected mqtt error, got %q", resp.Checks["mqtt"].Error)
	}
}

func TestReadyEndpoint_OptionalCheckFails(t *testing.T) {
	r := NewReadiness()
	r.Add("postgres", true, func() error { return errors.New("connection refused") })

	w := httptest.NewRecorder()
	r.handler(w, httptest.NewRequest("GET", "/ready", nil))

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
	var resp ReadinessResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.Ready {
		t.Error("expected ready=true with only an optional failure")
	}
	if got := resp.Checks["postgres"]; got.Status != "fail" || !got.Optional {
		t.Errorf("unexpected postgres check %+v", got)
	}
}

func TestWriteErrorStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", &authority.ValidationError{Field: "service id", Reason: "empty"}, http.StatusBadRequest},
		{"scene not found", fmt.Errorf("%w: gone", compose.ErrSceneNotFound), http.StatusNotFound},
		{"wrapped not found", authority.Reject("get_scene_services", "gone", compose.ErrSceneNotFound), http.StatusNotFound},
		{"authority", authority.Reject("create_dependency", "web", errors.New("cycle")), http.StatusConflict},
		{"shutting down", ErrShuttingDown, http.StatusServiceUnavailable},
		{"closed session", scene.ErrClosed, http.StatusServiceUnavailable},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			writeError(w, tt.err)
			if w.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, w.Code)
			}
			var resp ErrorResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp.Error != tt.err.Error() {
				t.Errorf("expected error %q, got %q", tt.err.Error(), resp.Error)
			}
		})
	}
}

func TestSceneCatalogEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, "POST", "/api/scenes", `{"scene":"infra"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", w.Code, w.Body.String())
	}

	w = env.do(t, "POST", "/api/scenes", `{"scene":"infra"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("duplicate create: expected 400, got %d", w.Code)
	}

	w = env.do(t, "POST", "/api/scenes", `{"scene":"../etc"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid name: expected 400, got %d", w.Code)
	}

	w = env.do(t, "GET", "/api/scenes", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", w.Code)
	}
	var scenes []authority.Scene
	if err := json.NewDecoder(w.Body).Decode(&scenes); err != nil {
		t.Fatalf("failed to decode scenes: %v", err)
	}
	names := map[string]bool{}
	for _, s := range scenes {
		names[s.Name] = true
	}
	if !names["web"] || !names["infra"] || len(scenes) != 2 {
		t.Errorf("unexpected scenes %v", scenes)
	}

	w = env.do(t, "DELETE", "/api/scenes/infra", "")
	if w.Code != http.StatusNoContent {
		t.Errorf("delete: expected 204, got %d", w.Code)
	}
	w = env.do(t, "DELETE", "/api/scenes/infra", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("second delete: expected 404, got %d", w.Code)
	}
}

func TestImportAndDetachEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)
	if err := env.repo.CreateScene(context.Background(), "tools"); err != nil {
		t.Fatal(err)
	}
	if err := env.repo.CreateService(context.Background(), "tools", "adminer", "image: adminer\n"); err != nil {
		t.Fatal(err)
	}

	w := env.do(t, "POST", "/api/scenes/web/import", `{"scene":"tools"}`)
	if w.Code != http.StatusNoContent {
		t.Fatalf("import: expected 204, got %d: %s", w.Code, w.Body.String())
	}

	w = env.do(t, "GET", "/api/scenes/web/includes", "")
	var included []authority.Scene
	if err := json.NewDecoder(w.Body).Decode(&included); err != nil {
		t.Fatalf("failed to decode includes: %v", err)
	}
	if len(included) != 1 || included[0].Name != "tools" {
		t.Errorf("expected tools to be included, got %v", included)
	}

	w = env.do(t, "POST", "/api/scenes/web/detach", `{"scene":"tools"}`)
	if w.Code != http.StatusNoContent {
		t.Fatalf("detach: expected 204, got %d: %s", w.Code, w.Body.String())
	}
	w = env.do(t, "GET", "/api/scenes/web/includes", "")
	included = nil
	if err := json.NewDecoder(w.Body).Decode(&included); err != nil {
		t.Fatalf("failed to decode includes: %v", err)
	}
	if len(included) != 0 {
		t.Errorf("expected no includes, got %v", included)
	}
}

func TestSceneGraphEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, "GET", "/api/scenes/web/graph", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var snap graph.Snapshot
	if err := json.NewDecoder(w.Body).Decode(&snap); err != nil {
		t.Fatalf("failed to decode snapshot: %v", err)
	}
	if len(snap.Nodes) != 3 {
		t.Errorf("expected 3 nodes, got %d", len(snap.Nodes))
	}
	if len(snap.Edges) != 1 || snap.Edges[0].ID != graph.EdgeID("db", "api") {
		t.Errorf("expected the db->api edge, got %v", snap.Edges)
	}

	// The session is released once the request is done.
	if live := env.server.Sessions().Live(); len(live) != 0 {
		t.Errorf("expected no live sessions, got %v", live)
	}

	w = env.do(t, "GET", "/api/scenes/missing/graph", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("missing scene: expected 404, got %d", w.Code)
	}
}

func TestServiceDefinitionEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, "GET", "/api/scenes/web/services/api", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/yaml" {
		t.Errorf("expected YAML content type, got %q", ct)
	}
	if !strings.Contains(w.Body.String(), "example/api") {
		t.Errorf("expected the api image in %q", w.Body.String())
	}

	w = env.do(t, "GET", "/api/scenes/web/services/-bad", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid id: expected 400, got %d", w.Code)
	}
}

func TestRoutesRequireRoles(t *testing.T) {
	auth := NewAuth(
		config.Credentials{User: "admin", Password: "secret"},
		config.Credentials{User: "operator", Password: "hunter2"},
	)
	env := newTestEnv(t, auth)

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		user, pass string
		want       int
	}{
		{"health is public", "GET", "/health", "", "", "", http.StatusOK},
		{"list needs credentials", "GET", "/api/scenes", "", "", "", http.StatusUnauthorized},
		{"operator lists", "GET", "/api/scenes", "", "operator", "hunter2", http.StatusOK},
		{"operator cannot create", "POST", "/api/scenes", `{"scene":"x"}`, "operator", "hunter2", http.StatusForbidden},
		{"admin creates", "POST", "/api/scenes", `{"scene":"x"}`, "admin", "secret", http.StatusCreated},
		{"wrong password", "GET", "/api/scenes", "", "admin", "nope", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req *http.Request
			if tt.body == "" {
				req = httptest.NewRequest(tt.method, tt.path, nil)
			} else {
				req = httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			}
			if tt.user != "" {
				req.SetBasicAuth(tt.user, tt.pass)
			}
			w := httptest.NewRecorder()
			env.server.Handler().ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, w.Code)
			}
		})
	}
}

func TestCatalogNotConfigured(t *testing.T) {
	srv := NewServer(Options{Deps: scene.Deps{Authority: authoritytest.New(), Feed: authoritytest.NewFeed()}})
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/api/scenes", nil))
	if w.Code != http.StatusNotImplemented {
		t.Errorf("expected 501, got %d", w.Code)
	}
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	srv := NewServer(Options{
		Addr: "127.0.0.1:0",
		Deps: scene.Deps{Authority: authoritytest.New(), Feed: authoritytest.NewFeed()},
	})
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}

	if _, _, err := srv.Sessions().Acquire(context.Background(), "web"); !errors.Is(err, ErrShuttingDown) {
		t.Errorf("expected ErrShuttingDown after shutdown, got %v", err)
	}
}
