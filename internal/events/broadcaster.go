package events

import (
	"net/url"
	"sync"
	"sync/atomic"
)

const subscriberBuffer = 64

// Filter selects the journal entries a subscriber sees. Zero fields match
// everything.
type Filter struct {
	Scene     string
	SessionID string
}

// FilterFromQuery reads the scene and session query parameters.
func FilterFromQuery(q url.Values) Filter {
	return Filter{Scene: q.Get("scene"), SessionID: q.Get("session")}
}

// Match reports whether e passes the filter.
func (f Filter) Match(e Event) bool {
	if f.Scene != "" {
		if s, _ := e.Fields["scene"].(string); s != f.Scene {
			return false
		}
	}
	if f.SessionID != "" {
		if s, _ := e.Fields[SessionField].(string); s != f.SessionID {
			return false
		}
	}
	return true
}

// Subscriber receives the journal entries matching its filter on C. C is
// closed by Unsubscribe or CloseAllSubscribers.
type Subscriber struct {
	C <-chan Event

	ch      chan Event
	filter  Filter
	dropped atomic.Uint64
}

// Dropped counts entries skipped because the subscriber fell behind.
func (s *Subscriber) Dropped() uint64 { return s.dropped.Load() }

type broadcaster struct {
	mu   sync.RWMutex
	subs map[*Subscriber]struct{}
}

var hub = &broadcaster{subs: make(map[*Subscriber]struct{})}

// Subscribe registers a journal stream for the entries matching f.
func Subscribe(f Filter) *Subscriber {
	ch := make(chan Event, subscriberBuffer)
	sub := &Subscriber{C: ch, ch: ch, filter: f}
	hub.mu.Lock()
	hub.subs[sub] = struct{}{}
	hub.mu.Unlock()
	return sub
}

// Unsubscribe removes sub and closes its channel. Unsubscribing twice, or
// after CloseAllSubscribers, is a no-op.
func Unsubscribe(sub *Subscriber) {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	if _, ok := hub.subs[sub]; !ok {
		return
	}
	delete(hub.subs, sub)
	close(sub.ch)
}

// broadcast never blocks Emit: a full subscriber misses the entry.
func broadcast(e Event) {
	hub.mu.RLock()
	defer hub.mu.RUnlock()

	for sub := range hub.subs {
		if !sub.filter.Match(e) {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			sub.dropped.Add(1)
		}
	}
}

// CloseAllSubscribers ends every stream. Called on shutdown so websocket
// writers return.
func CloseAllSubscribers() {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	for sub := range hub.subs {
		close(sub.ch)
	}
	hub.subs = make(map[*Subscriber]struct{})
}

// SubscriberCount returns the number of open streams.
func SubscriberCount() int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	return len(hub.subs)
}

// RecentEvents returns the last n buffered entries matching f, oldest
// first. n <= 0 returns all of them.
func RecentEvents(n int, f Filter) []Event {
	all := buffer.Snapshot()
	out := make([]Event, 0, len(all))
	for _, e := range all {
		if f.Match(e) {
			out = append(out, e)
		}
	}
	if n <= 0 || n >= len(out) {
		return out
	}
	return out[len(out)-n:]
}
