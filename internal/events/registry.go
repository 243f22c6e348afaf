package events

import "fmt"

var allowedEvents = map[string]struct{}{
	// scene sessions
	"scene.loaded":      {},
	"scene.reloaded":    {},
	"scene.load_failed": {},
	"scene.relayout":    {},
	"scene.closed":      {},

	// scene catalog
	"scene.created":  {},
	"scene.deleted":  {},
	"scene.imported": {},
	"scene.detached": {},

	// dependency edits
	"dependency.created":           {},
	"dependency.deleted":           {},
	"dependency.condition_changed": {},
	"dependency.rejected":          {},
	"dependency.restored":          {},

	// services
	"service.created":  {},
	"service.updated":  {},
	"service.deleted":  {},
	"service.rejected": {},

	// runtime
	"runtime.command":  {},
	"runtime.rejected": {},

	// live state
	"status.changed":       {},
	"subscription.error":   {},
	"logs.opened":          {},
	"logs.closed":          {},
	"compose.changed":      {},
	"completion.discarded": {},

	// transport
	"mqtt.connected":    {},
	"mqtt.disconnected": {},
	"mqtt.error":        {},

	// system
	"system.startup":  {},
	"system.shutdown": {},
	"system.error":    {},
}

func Validate(event string) error {
	if _, ok := allowedEvents[event]; !ok {
		return fmt.Errorf("unknown event: %s", event)
	}
	return nil
}
