package mqtt

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/AaronLay10/SceneWorkbench/internal/authority"
)

// DefaultPrefix is the first topic segment when none is configured.
const DefaultPrefix = "workbench"

// StatusTopic returns the status topic of one service.
func StatusTopic(prefix string, key authority.Key) string {
	return strings.Join([]string{prefixOr(prefix), key.Scene, key.Service, "status"}, "/")
}

// LogTopic returns the log topic of one service.
func LogTopic(prefix string, key authority.Key) string {
	return strings.Join([]string{prefixOr(prefix), key.Scene, key.Service, "logs"}, "/")
}

func prefixOr(prefix string) string {
	if prefix == "" {
		return DefaultPrefix
	}
	return strings.TrimSuffix(prefix, "/")
}

// Feed delivers status and log events received from the broker. It keeps one
// broker subscription per topic however many handlers listen on it, and
// releases the topic with its last handler.
type Feed struct {
	broker Broker
	prefix string
	logger *slog.Logger

	// opMu serializes broker subscribe and unsubscribe calls; mu guards
	// the handler map and is never held across a broker call.
	opMu   sync.Mutex
	mu     sync.RWMutex
	topics map[string]map[uint64]func([]byte)
	nextID uint64
}

var (
	_ authority.StatusFeed = (*Feed)(nil)
	_ authority.LogFeed    = (*Feed)(nil)
)

// NewFeed creates a feed reading topics under prefix.
func NewFeed(broker Broker, prefix string, logger *slog.Logger) *Feed {
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed{
		broker: broker,
		prefix: prefixOr(prefix),
		logger: logger.With("component", "mqtt.feed"),
		topics: make(map[string]map[uint64]func([]byte)),
	}
}

// SubscribeStatus delivers status events of key to handler. A bare status
// string is accepted as well as a JSON StatusEvent.
func (f *Feed) SubscribeStatus(key authority.Key, handler func(authority.StatusEvent)) (authority.Subscription, error) {
	return f.subscribe(StatusTopic(f.prefix, key), func(payload []byte) {
		handler(decodeStatus(payload))
	})
}

// SubscribeLogs delivers log events of key to handler. A payload that is not
// a JSON LogEvent is delivered as one stdout line.
func (f *Feed) SubscribeLogs(key authority.Key, handler func(authority.LogEvent)) (authority.Subscription, error) {
	return f.subscribe(LogTopic(f.prefix, key), func(payload []byte) {
		handler(decodeLog(payload))
	})
}

func decodeStatus(payload []byte) authority.StatusEvent {
	var wire struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(payload, &wire); err != nil {
		return authority.StatusEvent{Status: authority.ParseStatus(string(payload))}
	}
	return authority.StatusEvent{Status: authority.ParseStatus(wire.Status), Message: wire.Message}
}

func decodeLog(payload []byte) authority.LogEvent {
	var ev authority.LogEvent
	if err := json.Unmarshal(payload, &ev); err != nil || (ev.Text == "" && !ev.Clear) {
		return authority.LogEvent{Text: string(payload), Type: authority.LogStdout}
	}
	if ev.Type == "" {
		ev.Type = authority.LogStdout
	}
	return ev
}

func (f *Feed) subscribe(topic string, handler func([]byte)) (authority.Subscription, error) {
	f.opMu.Lock()
	defer f.opMu.Unlock()

	// The handler is registered before the broker call so a retained
	// message delivered during Subscribe is not lost.
	f.mu.Lock()
	handlers, ok := f.topics[topic]
	if !ok {
		handlers = make(map[uint64]func([]byte))
		f.topics[topic] = handlers
	}
	f.nextID++
	id := f.nextID
	handlers[id] = handler
	f.mu.Unlock()

	if !ok {
		if err := f.broker.Subscribe(topic, f.dispatch); err != nil {
			f.mu.Lock()
			delete(f.topics, topic)
			f.mu.Unlock()
			return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}
	}
	return &subscription{feed: f, topic: topic, id: id}, nil
}

func (f *Feed) dispatch(_ paho.Client, msg paho.Message) {
	f.mu.RLock()
	handlers := make([]func([]byte), 0, len(f.topics[msg.Topic()]))
	for _, h := range f.topics[msg.Topic()] {
		handlers = append(handlers, h)
	}
	f.mu.RUnlock()

	for _, h := range handlers {
		h(msg.Payload())
	}
}

func (f *Feed) release(topic string, id uint64) error {
	f.opMu.Lock()
	defer f.opMu.Unlock()

	f.mu.Lock()
	handlers, ok := f.topics[topic]
	if !ok {
		f.mu.Unlock()
		return nil
	}
	delete(handlers, id)
	last := len(handlers) == 0
	if last {
		delete(f.topics, topic)
	}
	f.mu.Unlock()

	if !last {
		return nil
	}
	if err := f.broker.Unsubscribe(topic); err != nil {
		f.logger.Warn("unsubscribe failed", "topic", topic, "error", err)
		return fmt.Errorf("failed to unsubscribe from %s: %w", topic, err)
	}
	return nil
}

// Topics returns the topics with at least one handler.
func (f *Feed) Topics() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.topics))
	for t := range f.topics {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

type subscription struct {
	feed  *Feed
	topic string
	id    uint64
	once  sync.Once
}

// Unsubscribe releases the handler. Later calls are no-ops.
func (s *subscription) Unsubscribe() error {
	var err error
	s.once.Do(func() { err = s.feed.release(s.topic, s.id) })
	return err
}
