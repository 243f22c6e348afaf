// Package overlay keeps node status and edge activity in step with the
// authority's status events.
//
// Overlay owns the subscriptions: at most one per (scene, service). Events
// are handed to a Handler, normally a session posting onto its event loop,
// and applied to the graph with Apply on that loop.
package overlay

import (
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/AaronLay10/SceneWorkbench/internal/authority"
	"github.com/AaronLay10/SceneWorkbench/internal/events"
)

// Handler receives status events for one service id of the scene.
type Handler func(serviceID string, ev authority.StatusEvent)

// Overlay tracks status subscriptions for one scene view.
type Overlay struct {
	mu      sync.Mutex
	feed    authority.StatusFeed
	scene   string
	handler Handler
	logger  *slog.Logger
	subs    map[string]authority.Subscription // service id -> live subscription
	closed  bool
}

// New creates an overlay for scene. No subscription is opened until Sync.
func New(feed authority.StatusFeed, scene string, handler Handler, logger *slog.Logger) *Overlay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Overlay{
		feed:    feed,
		scene:   scene,
		handler: handler,
		logger:  logger.With("component", "overlay", "scene", scene),
		subs:    make(map[string]authority.Subscription),
	}
}

// Sync makes the subscription set match ids: new ids are subscribed, ids no
// longer present are unsubscribed, ids already subscribed are left alone.
// Subscription failures are logged and returned; they never stop the others.
func (o *Overlay) Sync(ids []string) []error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}

	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}

	var errs []error
	for _, id := range sortedKeys(o.subs) {
		if _, ok := want[id]; !ok {
			o.dropLocked(id)
		}
	}
	for _, id := range ids {
		if _, ok := o.subs[id]; ok {
			continue
		}
		if err := o.openLocked(id); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func (o *Overlay) openLocked(id string) error {
	key := authority.Key{Scene: o.scene, Service: id}
	sub, err := o.feed.SubscribeStatus(key, func(ev authority.StatusEvent) {
		o.handler(id, ev)
	})
	if err != nil {
		serr := &authority.SubscriptionError{Key: key, Err: err}
		o.logger.Warn("status subscription failed", "service", id, "error", err)
		events.Emit("warning", "subscription.error", "status subscription failed", map[string]interface{}{
			"scene":   o.scene,
			"service": id,
			"error":   err.Error(),
		})
		return serr
	}
	o.subs[id] = sub
	return nil
}

func (o *Overlay) dropLocked(id string) {
	sub, ok := o.subs[id]
	if !ok {
		return
	}
	delete(o.subs, id)
	if err := sub.Unsubscribe(); err != nil {
		o.logger.Warn("status unsubscribe failed", "service", id, "error", err)
	}
}

// Drop closes the subscription of one service, if any.
func (o *Overlay) Drop(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dropLocked(id)
}

// Close releases every subscription. Sync after Close does nothing.
func (o *Overlay) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	o.closed = true

	var errs []error
	for _, id := range sortedKeys(o.subs) {
		if err := o.subs[id].Unsubscribe(); err != nil {
			errs = append(errs, &authority.SubscriptionError{Key: authority.Key{Scene: o.scene, Service: id}, Err: err})
		}
	}
	o.subs = make(map[string]authority.Subscription)
	return errors.Join(errs...)
}

// Subscribed returns the service ids with a live subscription, sorted.
func (o *Overlay) Subscribed() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return sortedKeys(o.subs)
}

func sortedKeys(m map[string]authority.Subscription) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
