// Package logs follows the log output of one service.
package logs

import (
	"context"
	"errors"
	"sync"

	"github.com/AaronLay10/SceneWorkbench/internal/authority"
	"github.com/AaronLay10/SceneWorkbench/internal/events"
)

// DefaultLines is how many lines a Tail keeps when no size is given.
const DefaultLines = 1000

// Tail keeps the recent log lines of one service and fans new lines out to
// listeners. A line with Clear set empties the buffer before it is added.
type Tail struct {
	key     authority.Key
	runtime authority.Runtime
	sub     authority.Subscription
	lines   *events.RingBuffer[authority.LogEvent]

	mu        sync.Mutex
	listeners map[int]func(authority.LogEvent)
	nextID    int
	closed    bool
}

// Open begins log emission for key and subscribes to its lines. If the
// subscription fails, emission is ended again.
func Open(ctx context.Context, key authority.Key, runtime authority.Runtime, feed authority.LogFeed, size int) (*Tail, error) {
	if err := authority.ValidateSceneName(key.Scene); err != nil {
		return nil, err
	}
	if err := authority.ValidateServiceID(key.Service); err != nil {
		return nil, err
	}
	if size <= 0 {
		size = DefaultLines
	}
	t := &Tail{
		key:       key,
		runtime:   runtime,
		lines:     events.NewRingBuffer[authority.LogEvent](size),
		listeners: make(map[int]func(authority.LogEvent)),
	}

	if err := runtime.StartLogEmission(ctx, key.Scene, key.Service); err != nil {
		return nil, authority.Reject("start_log_emission", key.Scene, err)
	}
	sub, err := feed.SubscribeLogs(key, t.handle)
	if err != nil {
		stopErr := runtime.StopLogEmission(ctx, key.Scene, key.Service)
		return nil, errors.Join(&authority.SubscriptionError{Key: key, Err: err}, stopErr)
	}
	t.sub = sub

	events.Emit("info", "logs.opened", "", map[string]interface{}{
		"scene":   key.Scene,
		"service": key.Service,
	})
	return t, nil
}

// Key returns the service being followed.
func (t *Tail) Key() authority.Key { return t.key }

func (t *Tail) handle(ev authority.LogEvent) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	if ev.Clear {
		t.lines.Clear()
	}
	t.lines.Add(ev)
	listeners := make([]func(authority.LogEvent), 0, len(t.listeners))
	for _, fn := range t.listeners {
		listeners = append(listeners, fn)
	}
	t.mu.Unlock()

	for _, fn := range listeners {
		fn(ev)
	}
}

// Lines returns the buffered lines, oldest first.
func (t *Tail) Lines() []authority.LogEvent {
	return t.lines.Snapshot()
}

// Listen registers fn for every new line and returns a function removing it.
func (t *Tail) Listen(fn func(authority.LogEvent)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextID
	t.nextID++
	t.listeners[id] = fn
	return func() {
		t.mu.Lock()
		delete(t.listeners, id)
		t.mu.Unlock()
	}
}

// Close unsubscribes and ends log emission. It is safe to call twice.
func (t *Tail) Close(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.listeners = map[int]func(authority.LogEvent){}
	t.mu.Unlock()

	var errs []error
	if err := t.sub.Unsubscribe(); err != nil {
		errs = append(errs, err)
	}
	if err := t.runtime.StopLogEmission(ctx, t.key.Scene, t.key.Service); err != nil {
		errs = append(errs, authority.Reject("stop_log_emission", t.key.Scene, err))
	}
	events.Emit("info", "logs.closed", "", map[string]interface{}{
		"scene":   t.key.Scene,
		"service": t.key.Service,
	})
	return errors.Join(errs...)
}
