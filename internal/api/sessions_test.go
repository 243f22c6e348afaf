package api

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/AaronLay10/SceneWorkbench/internal/authority"
	"github.com/AaronLay10/SceneWorkbench/internal/authority/authoritytest"
	"github.com/AaronLay10/SceneWorkbench/internal/scene"
)

type fakeWatcher struct {
	mu      sync.Mutex
	fns     map[string]func()
	stopped map[string]bool
}

func newFakeWatcher() *fakeWatcher {
	return &fakeWatcher{fns: map[string]func(){}, stopped: map[string]bool{}}
}

func (w *fakeWatcher) Watch(ctx context.Context, scene string, _ time.Duration, fn func()) error {
	w.mu.Lock()
	w.fns[scene] = fn
	w.mu.Unlock()
	<-ctx.Done()
	w.mu.Lock()
	w.stopped[scene] = true
	w.mu.Unlock()
	return nil
}

func (w *fakeWatcher) fire(scene string) bool {
	w.mu.Lock()
	fn := w.fns[scene]
	w.mu.Unlock()
	if fn == nil {
		return false
	}
	fn()
	return true
}

func (w *fakeWatcher) isStopped(scene string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stopped[scene]
}

func newTestSessions(t *testing.T, watcher Watcher) (*Sessions, *authoritytest.Authority) {
	t.Helper()
	auth := authoritytest.New()
	auth.SetServices("web",
		authoritytest.Svc("db", "web"),
		authoritytest.Svc("api", "web", "db"),
	)
	deps := scene.Deps{Authority: auth, Feed: authoritytest.NewFeed()}
	m := NewSessions(deps, scene.Options{}, watcher, 0, nil)
	t.Cleanup(m.CloseAll)
	return m, auth
}

func TestSessionsShareOneSession(t *testing.T) {
	m, auth := newTestSessions(t, nil)
	ctx := context.Background()

	a, releaseA, err := m.Acquire(ctx, "web")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	b, releaseB, err := m.Acquire(ctx, "web")
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if a != b {
		t.Error("expected both holders to share one session")
	}
	if n := len(auth.CallsFor("get_scene_services")); n != 1 {
		t.Errorf("expected one load, got %d", n)
	}

	releaseA()
	releaseA() // idempotent
	if _, ok := m.Get("web"); !ok {
		t.Error("expected the session to stay open while b holds it")
	}

	releaseB()
	if _, ok := m.Get("web"); ok {
		t.Error("expected the session to close after the last release")
	}
	if _, err := a.Snapshot(); !errors.Is(err, scene.ErrClosed) {
		t.Errorf("expected ErrClosed from a released session, got %v", err)
	}
}

func TestSessionsConcurrentAcquire(t *testing.T) {
	m, auth := newTestSessions(t, nil)

	var wg sync.WaitGroup
	sessions := make([]*scene.Session, 8)
	releases := make([]func(), 8)
	for i := range sessions {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, release, err := m.Acquire(context.Background(), "web")
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			sessions[i], releases[i] = s, release
		}(i)
	}
	wg.Wait()

	for _, s := range sessions[1:] {
		if s != sessions[0] {
			t.Fatal("expected every caller to get the same session")
		}
	}
	if n := len(auth.CallsFor("get_scene_services")); n != 1 {
		t.Errorf("expected one load, got %d", n)
	}
	for _, release := range releases {
		release()
	}
	if live := m.Live(); len(live) != 0 {
		t.Errorf("expected no live sessions, got %v", live)
	}
}

func TestSessionsOpenFailure(t *testing.T) {
	m, auth := newTestSessions(t, nil)
	auth.FailOn("get_scene_services", errors.New("scene not found"))

	if _, _, err := m.Acquire(context.Background(), "web"); !authority.IsAuthority(err) {
		t.Fatalf("expected an authority error, got %v", err)
	}
	if live := m.Live(); len(live) != 0 {
		t.Errorf("expected the failed entry to be dropped, got %v", live)
	}

	auth.FailOn("get_scene_services", nil)
	_, release, err := m.Acquire(context.Background(), "web")
	if err != nil {
		t.Fatalf("expected a retry to succeed, got %v", err)
	}
	release()
}

func TestSessionsReloadOnFileChange(t *testing.T) {
	w := newFakeWatcher()
	m, auth := newTestSessions(t, w)

	_, release, err := m.Acquire(context.Background(), "web")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return w.fire("web") }, "watch to start")
	if n := len(auth.CallsFor("get_scene_services")); n != 2 {
		t.Errorf("expected a reload after the file change, got %d loads", n)
	}

	release()
	waitFor(t, 2*time.Second, func() bool { return w.isStopped("web") }, "watch to stop")
}

func TestSessionsCloseAll(t *testing.T) {
	m, _ := newTestSessions(t, nil)

	s, release, err := m.Acquire(context.Background(), "web")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer release()

	m.CloseAll()
	if _, err := s.Snapshot(); !errors.Is(err, scene.ErrClosed) {
		t.Errorf("expected the session to be closed, got %v", err)
	}
	if _, _, err := m.Acquire(context.Background(), "web"); !errors.Is(err, ErrShuttingDown) {
		t.Errorf("expected ErrShuttingDown, got %v", err)
	}
}

func TestSessionsReopenWaitsForClose(t *testing.T) {
	m, auth := newTestSessions(t, nil)
	ctx := context.Background()

	_, release, err := m.Acquire(ctx, "web")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	stopping := make(chan struct{})
	unblock := make(chan struct{})
	var once sync.Once
	auth.OnCall("stop_emitting_scene_status", func() {
		once.Do(func() {
			close(stopping)
			<-unblock
		})
	})

	go release()
	<-stopping
	if live := m.Live(); len(live) != 0 {
		t.Errorf("expected a closing session not to be live, got %v", live)
	}

	acquired := make(chan func(), 1)
	go func() {
		_, next, err := m.Acquire(ctx, "web")
		if err != nil {
			t.Errorf("reacquire: %v", err)
			acquired <- nil
			return
		}
		acquired <- next
	}()

	select {
	case <-acquired:
		close(unblock)
		t.Fatal("expected the new session to wait for the old one to close")
	case <-time.After(50 * time.Millisecond):
	}
	if n := len(auth.CallsFor("get_scene_services")); n != 1 {
		t.Errorf("expected no second load while closing, got %d loads", n)
	}

	close(unblock)
	var releaseNew func()
	select {
	case releaseNew = <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for the session to reopen")
	}
	if releaseNew == nil {
		return
	}
	defer releaseNew()

	lastStop, lastStart := -1, -1
	for i, c := range auth.Calls() {
		switch c.Op {
		case "stop_emitting_scene_status":
			lastStop = i
		case "start_emitting_scene_status":
			lastStart = i
		}
	}
	if lastStart < lastStop {
		t.Errorf("expected the new session to start emitting after the old one stopped, calls %v", auth.Calls())
	}
}
