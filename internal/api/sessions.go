package api

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/AaronLay10/SceneWorkbench/internal/events"
	"github.com/AaronLay10/SceneWorkbench/internal/scene"
)

// Watcher reports edits of a scene's definitions made outside the workbench.
type Watcher interface {
	Watch(ctx context.Context, scene string, debounce time.Duration, fn func()) error
}

// ErrShuttingDown is returned by Acquire after CloseAll.
var ErrShuttingDown = errors.New("server is shutting down")

type sessionEntry struct {
	ready   chan struct{} // closed once open finished
	gone    chan struct{} // closed once the last release finished closing
	session *scene.Session
	err     error
	refs    int
	stop    context.CancelFunc
	closing bool
	closed  bool
}

// Sessions shares one scene.Session per scene between the canvases viewing
// it. A session is closed when its last holder releases it.
type Sessions struct {
	deps     scene.Deps
	opts     scene.Options
	watcher  Watcher
	debounce time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	entries map[string]*sessionEntry
	closed  bool
}

// NewSessions creates a session registry. watcher may be nil.
func NewSessions(deps scene.Deps, opts scene.Options, watcher Watcher, debounce time.Duration, logger *slog.Logger) *Sessions {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sessions{
		deps:     deps,
		opts:     opts,
		watcher:  watcher,
		debounce: debounce,
		logger:   logger.With("component", "sessions"),
		entries:  make(map[string]*sessionEntry),
	}
}

// Acquire returns the session of name, opening it if needed. A session still
// closing after its last release is waited for before a new one opens. The
// returned release func must be called exactly once.
func (m *Sessions) Acquire(ctx context.Context, name string) (*scene.Session, func(), error) {
	m.mu.Lock()
	for {
		if m.closed {
			m.mu.Unlock()
			return nil, nil, ErrShuttingDown
		}
		e, ok := m.entries[name]
		if !ok {
			break
		}
		if e.closing {
			m.mu.Unlock()
			select {
			case <-e.gone:
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			}
			m.mu.Lock()
			continue
		}
		e.refs++
		m.mu.Unlock()
		<-e.ready
		if e.err != nil {
			m.release(name, e)
			return nil, nil, e.err
		}
		return e.session, m.releaser(name, e), nil
	}
	e := &sessionEntry{ready: make(chan struct{}), gone: make(chan struct{}), refs: 1}
	m.entries[name] = e
	m.mu.Unlock()

	e.session, e.err = scene.Open(ctx, name, m.deps, m.opts)
	if e.err == nil {
		sessionsOpen.Inc()
		m.watch(name, e)
	}
	close(e.ready)
	if e.err != nil {
		m.release(name, e)
		return nil, nil, e.err
	}
	return e.session, m.releaser(name, e), nil
}

func (m *Sessions) releaser(name string, e *sessionEntry) func() {
	var once sync.Once
	return func() { once.Do(func() { m.release(name, e) }) }
}

// release drops one reference. The last one closes the session; the entry
// stays registered as closing until Close returns.
func (m *Sessions) release(name string, e *sessionEntry) {
	m.mu.Lock()
	e.refs--
	if e.refs > 0 {
		m.mu.Unlock()
		return
	}
	e.closing = true
	m.mu.Unlock()

	m.closeEntry(e)

	m.mu.Lock()
	if m.entries[name] == e {
		delete(m.entries, name)
	}
	m.mu.Unlock()
	close(e.gone)
}

// closeEntry closes the session of e once.
func (m *Sessions) closeEntry(e *sessionEntry) {
	m.mu.Lock()
	done := e.closed || e.session == nil
	e.closed = true
	m.mu.Unlock()
	if done {
		return
	}

	if e.stop != nil {
		e.stop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.session.Close(ctx); err != nil {
		m.logger.Warn("closing session", "scene", e.session.Scene(), "error", err)
	}
	sessionsOpen.Dec()
}

// watch reloads the session whenever the scene's definitions change on
// disk.
func (m *Sessions) watch(name string, e *sessionEntry) {
	if m.watcher == nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.stop = cancel
	sess := e.session
	go func() {
		err := m.watcher.Watch(ctx, name, m.debounce, func() {
			fileReloads.Inc()
			events.Emit("info", "compose.changed", "", map[string]interface{}{
				"scene":             name,
				events.SessionField: sess.ID(),
			})
			if err := sess.Reload(ctx); err != nil && !errors.Is(err, scene.ErrClosed) {
				m.logger.Warn("reload after file change failed", "scene", name, "error", err)
			}
		})
		if err != nil {
			m.logger.Warn("file watcher stopped", "scene", name, "error", err)
		}
	}()
}

// Live returns the scenes with a live session.
func (m *Sessions) Live() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.entries))
	for name, e := range m.entries {
		if !e.closing {
			out = append(out, name)
		}
	}
	return out
}

// Get returns the live session of name without acquiring it.
func (m *Sessions) Get(name string) (*scene.Session, bool) {
	m.mu.Lock()
	e, ok := m.entries[name]
	closing := ok && e.closing
	m.mu.Unlock()
	if !ok || closing {
		return nil, false
	}
	select {
	case <-e.ready:
		return e.session, e.err == nil
	default:
		return nil, false
	}
}

// CloseAll closes every session and refuses new ones. Holders see the
// sessions' closed notice.
func (m *Sessions) CloseAll() {
	m.mu.Lock()
	m.closed = true
	entries := m.entries
	m.entries = make(map[string]*sessionEntry)
	m.mu.Unlock()

	for _, e := range entries {
		<-e.ready
		m.closeEntry(e)
	}
}
