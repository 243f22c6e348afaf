// Package events is the workbench activity journal.
//
// Every domain event goes through Emit, which checks the name against an
// allowlist, keeps it in an in-memory ring buffer, fans it out to websocket
// subscribers and, when a Store is attached, persists it.
package events

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Store persists journal entries. A nil Store keeps the journal in memory
// only.
type Store interface {
	Append(ts time.Time, level, event, msg string, fields map[string]interface{}, sessionID string) error
}

var buffer = NewRingBuffer[Event](512)

var (
	store         Store
	storeMu       sync.RWMutex
	storeErrorLog bool
)

// SetStore attaches the persistent store. Pass nil to detach.
func SetStore(s Store) {
	storeMu.Lock()
	store = s
	storeErrorLog = false
	storeMu.Unlock()
}

// GetStore returns the attached store (for API queries).
func GetStore() Store {
	storeMu.RLock()
	defer storeMu.RUnlock()
	return store
}

type Event struct {
	Timestamp string                 `json:"ts"`
	Level     string                 `json:"level"`
	Name      string                 `json:"event"`
	Message   string                 `json:"msg,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// SessionField is the field carrying the scene session id. It is stored in
// its own column when persisted.
const SessionField = "session_id"

func Emit(level, name, msg string, fields map[string]interface{}) ([]byte, error) {
	if err := Validate(name); err != nil {
		return nil, err
	}

	ts := time.Now().UTC()
	e := Event{
		Timestamp: ts.Format(time.RFC3339Nano),
		Level:     level,
		Name:      name,
		Message:   msg,
		Fields:    fields,
	}

	buffer.Add(e)
	broadcast(e)

	storeMu.RLock()
	s := store
	errorLogged := storeErrorLog
	storeMu.RUnlock()

	if s != nil {
		sessionID, _ := fields[SessionField].(string)
		if err := s.Append(ts, level, name, msg, fields, sessionID); err != nil && !errorLogged {
			// Goes straight to the buffer: a failing store must not recurse
			// through Emit.
			storeMu.Lock()
			first := !storeErrorLog
			storeErrorLog = true
			storeMu.Unlock()
			if first {
				buffer.Add(Event{
					Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
					Level:     "error",
					Name:      "system.error",
					Message:   "journal append failed",
					Fields: map[string]interface{}{
						"error": err.Error(),
					},
				})
			}
		}
	}

	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	return b, nil
}

func Snapshot() []Event {
	return buffer.Snapshot()
}

// TotalCount returns how many events were emitted since start.
func TotalCount() uint64 {
	return buffer.TotalCount()
}

// Clear resets the event buffer. Used for testing.
func Clear() {
	buffer.Clear()
}
