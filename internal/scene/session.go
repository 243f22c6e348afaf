// Package scene runs one scene view: it loads the authority's services into
// a graph store, keeps the store consistent with every user edit and with
// live status events, and re-lays the graph out on demand.
//
// # Event loop
//
// Each Session owns one goroutine, the only code that touches its
// graph.Store. Authority calls run on the calling goroutine; their results
// are posted back to the loop together with the generation the call started
// in. Reload and Close advance the generation, so a result or status event
// from an older generation is dropped instead of being applied to a store
// that has since been replaced.
//
// Structural gestures (connect, disconnect, delete, condition change) are
// serialized by an operation lock, so edits to one node or edge never
// interleave.
package scene

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/AaronLay10/SceneWorkbench/internal/authority"
	"github.com/AaronLay10/SceneWorkbench/internal/events"
	"github.com/AaronLay10/SceneWorkbench/internal/graph"
	"github.com/AaronLay10/SceneWorkbench/internal/overlay"
)

const inboxSize = 64

// Session is a live view of one scene.
type Session struct {
	id     string
	scene  string
	deps   Deps
	opts   Options
	logger *slog.Logger

	inbox  chan func()
	stopCh chan struct{}
	done   chan struct{}
	wg     sync.WaitGroup

	opMu   sync.Mutex // structural gestures
	loadMu sync.Mutex // load, reload and close
	gen    atomic.Uint64

	ovMu    sync.Mutex
	overlay *overlay.Overlay

	listenMu  sync.Mutex
	nextLsn   int
	listeners map[int]func(Notice)

	closeOnce sync.Once
	closeErr  error

	// owned by the loop goroutine
	store *graph.Store
}

// Open starts a session for scene and loads it. When the load fails the
// session is closed and the error returned.
func Open(ctx context.Context, scene string, deps Deps, opts Options) (*Session, error) {
	if err := authority.ValidateSceneName(scene); err != nil {
		return nil, err
	}
	s := newSession(scene, deps, opts)
	if err := s.load(ctx, "load"); err != nil {
		_ = s.Close(ctx)
		return nil, err
	}
	return s, nil
}

func newSession(scene string, deps Deps, opts Options) *Session {
	opts = opts.withDefaults()
	id := uuid.NewString()
	s := &Session{
		id:        id,
		scene:     scene,
		deps:      deps,
		opts:      opts,
		logger:    opts.Logger.With("component", "scene", "scene", scene, "session_id", id),
		inbox:     make(chan func(), inboxSize),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
		listeners: make(map[int]func(Notice)),
		store:     graph.NewStore(),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

// ID is the unique id of this session, used to correlate journal entries.
func (s *Session) ID() string { return s.id }

// Scene is the viewed scene name.
func (s *Session) Scene() string { return s.scene }

// Generation increases on every reload and on close.
func (s *Session) Generation() uint64 { return s.gen.Load() }

func (s *Session) run() {
	defer s.wg.Done()
	defer close(s.done)

	for {
		select {
		case <-s.stopCh:
			return
		case fn := <-s.inbox:
			fn()
		}
	}
}

// post queues fn on the loop without waiting for it.
func (s *Session) post(fn func()) bool {
	select {
	case s.inbox <- fn:
		return true
	case <-s.done:
		return false
	}
}

// do runs fn on the loop and waits for it.
func (s *Session) do(fn func()) error {
	finished := make(chan struct{})
	if !s.post(func() {
		fn()
		close(finished)
	}) {
		return ErrClosed
	}
	select {
	case <-finished:
		return nil
	case <-s.done:
		return ErrClosed
	}
}

// commit applies fn to the store if the session is still in generation gen.
func (s *Session) commit(gen uint64, op string, fn func(*graph.Store) error) error {
	var err error
	stale := false
	if derr := s.do(func() {
		if gen != s.gen.Load() {
			stale = true
			return
		}
		err = fn(s.store)
	}); derr != nil {
		return derr
	}
	if stale {
		s.logger.Info("discarding stale completion", "op", op, "generation", gen)
		s.journal("info", "completion.discarded", "result arrived after the view changed", map[string]interface{}{
			"op":         op,
			"generation": gen,
		})
		return ErrDiscarded
	}
	return err
}

// Snapshot returns a copy of the current graph.
func (s *Session) Snapshot() (graph.Snapshot, error) {
	var snap graph.Snapshot
	err := s.do(func() { snap = s.store.Snapshot() })
	return snap, err
}

// Listen registers fn for every notice the session publishes. fn runs on
// the goroutine that produced the notice, possibly the event loop, so it
// must not block or call back into the session. The returned func removes
// the listener.
func (s *Session) Listen(fn func(Notice)) func() {
	s.listenMu.Lock()
	defer s.listenMu.Unlock()
	s.nextLsn++
	id := s.nextLsn
	s.listeners[id] = fn
	return func() {
		s.listenMu.Lock()
		delete(s.listeners, id)
		s.listenMu.Unlock()
	}
}

func (s *Session) publish(n Notice) {
	s.listenMu.Lock()
	fns := make([]func(Notice), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.listenMu.Unlock()
	for _, fn := range fns {
		fn(n)
	}
}

func (s *Session) journal(level, name, msg string, fields map[string]interface{}) {
	if fields == nil {
		fields = map[string]interface{}{}
	}
	fields["scene"] = s.scene
	fields[events.SessionField] = s.id
	if _, err := events.Emit(level, name, msg, fields); err != nil {
		s.logger.Error("journal emit failed", "event", name, "error", err)
	}
}

// load fetches the authority's services and replaces the store. A failed
// fetch leaves the current graph and its subscriptions untouched; otherwise
// the subscriptions of the previous generation are closed before the new
// ones open. On reload the authority stops emitting status in between.
func (s *Session) load(ctx context.Context, op string) error {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()
	if s.isClosed() {
		return ErrClosed
	}

	services, err := s.deps.Authority.SceneServices(ctx, s.scene)
	if err != nil {
		err = authority.Reject("get_scene_services", s.scene, err)
		s.surface(op, err)
		s.journal("error", "scene.load_failed", err.Error(), nil)
		return err
	}
	if op == "reload" {
		if err := s.deps.Authority.StopStatusEmission(ctx, s.scene); err != nil {
			err = authority.Reject("stop_emitting_scene_status", s.scene, err)
			s.surface(op, err)
			return err
		}
	}

	gen := s.gen.Add(1)
	s.swapOverlay(nil)

	nodes, edges := Translate(s.scene, services)
	Place(nodes, edges, s.opts.Layout)

	var ids []string
	err = s.commit(gen, op, func(st *graph.Store) error {
		for _, e := range st.ReplaceAll(nodes, edges) {
			s.logger.Warn("dropping dependency on unknown service", "source", e.Source, "target", e.Target)
		}
		ids = st.Snapshot().NodeIDs()
		return nil
	})
	if err != nil {
		return err
	}

	ov := overlay.New(s.deps.Feed, s.scene, s.statusHandler(gen), s.logger)
	s.swapOverlay(ov)
	for _, serr := range ov.Sync(ids) {
		s.logger.Warn("status subscription failed", "error", serr)
	}

	if err := s.deps.Authority.StartStatusEmission(ctx, s.scene); err != nil {
		s.surface(op, authority.Reject("start_emitting_scene_status", s.scene, err))
	}

	name := "scene.loaded"
	if op == "reload" {
		name = "scene.reloaded"
	}
	s.journal("info", name, "", map[string]interface{}{
		"services":   len(nodes),
		"generation": gen,
	})
	s.logger.Info("scene loaded", "services", len(nodes), "generation", gen)
	s.publish(Notice{Kind: NoticeLoaded, Op: op})
	return nil
}

func (s *Session) swapOverlay(next *overlay.Overlay) {
	s.ovMu.Lock()
	prev := s.overlay
	s.overlay = next
	s.ovMu.Unlock()
	if prev != nil {
		if err := prev.Close(); err != nil {
			s.logger.Warn("closing status subscriptions", "error", err)
		}
	}
}

func (s *Session) dropSubscription(id string) {
	s.ovMu.Lock()
	ov := s.overlay
	s.ovMu.Unlock()
	if ov != nil {
		ov.Drop(id)
	}
}

// Subscribed returns the services with a live status subscription.
func (s *Session) Subscribed() []string {
	s.ovMu.Lock()
	ov := s.overlay
	s.ovMu.Unlock()
	if ov == nil {
		return nil
	}
	return ov.Subscribed()
}

func (s *Session) statusHandler(gen uint64) overlay.Handler {
	return func(id string, ev authority.StatusEvent) {
		if gen != s.gen.Load() {
			return
		}
		s.journal("info", "status.changed", ev.Message, map[string]interface{}{
			"service": id,
			"status":  string(ev.Status),
		})
		s.post(func() {
			if gen != s.gen.Load() {
				return
			}
			changed := overlay.Apply(s.store, id, ev)
			s.publish(Notice{Kind: NoticeStatus, Target: id, Message: string(ev.Status)})
			if len(changed) > 0 {
				s.logger.Debug("edge activity changed", "service", id, "edges", changed)
			}
		})
	}
}

// Reload discards the current graph and loads it again from the authority.
// Status subscriptions are closed before the reload and reopened after. When
// the services cannot be fetched the current graph stays live.
func (s *Session) Reload(ctx context.Context) error {
	if s.isClosed() {
		return ErrClosed
	}
	return s.load(ctx, "reload")
}

func (s *Session) isClosed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Close ends the view: status subscriptions are released, the authority is
// told to stop emitting status and the event loop exits. Results of edits
// still in flight are discarded. A load in progress finishes first. Close is
// idempotent.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.loadMu.Lock()
		defer s.loadMu.Unlock()
		s.gen.Add(1)
		s.swapOverlay(nil)
		if err := s.deps.Authority.StopStatusEmission(ctx, s.scene); err != nil {
			s.closeErr = authority.Reject("stop_emitting_scene_status", s.scene, err)
			s.logger.Warn("stopping status emission", "error", err)
		}
		close(s.stopCh)
		s.wg.Wait()
		s.journal("info", "scene.closed", "", nil)
		s.publish(Notice{Kind: NoticeClosed})
	})
	return s.closeErr
}
