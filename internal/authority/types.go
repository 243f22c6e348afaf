// Package authority describes the orchestration backend that owns service
// definitions, dependency conditions, process lifecycle and log streams.
//
// The workbench never persists any of this itself: every structural edit is a
// request to an Authority, and live state arrives through a StatusFeed or a
// LogFeed keyed by scene and service id.
package authority

import (
	"fmt"
	"strings"
)

// Condition is a compose depends_on condition.
type Condition string

const (
	ConditionStarted               Condition = "service_started"
	ConditionHealthy               Condition = "service_healthy"
	ConditionCompletedSuccessfully Condition = "service_completed_successfully"
)

// DefaultCondition is used when a dependency is drawn on the canvas.
const DefaultCondition = ConditionStarted

// ParseCondition accepts both the compose value ("service_healthy") and the
// short form ("healthy").
func ParseCondition(raw string) (Condition, error) {
	s := strings.TrimSpace(strings.ToLower(raw))
	if s == "" {
		return DefaultCondition, nil
	}
	if !strings.HasPrefix(s, "service_") {
		s = "service_" + s
	}
	switch c := Condition(s); c {
	case ConditionStarted, ConditionHealthy, ConditionCompletedSuccessfully:
		return c, nil
	}
	return "", &ValidationError{Field: "condition", Value: raw, Reason: "unknown dependency condition"}
}

// Short returns the condition without the "service_" prefix.
func (c Condition) Short() string {
	return strings.TrimPrefix(string(c), "service_")
}

// Status is the runtime status of a service as reported by the authority.
type Status string

const (
	StatusUnknown Status = "unknown"
	StatusPaused  Status = "paused"
	StatusRunning Status = "running"
	StatusLoading Status = "loading"
	StatusError   Status = "error"
)

// ParseStatus maps a wire value to a Status. Unrecognized values map to
// StatusUnknown rather than failing, since status is presentation only.
func ParseStatus(raw string) Status {
	switch s := Status(strings.ToLower(strings.TrimSpace(raw))); s {
	case StatusPaused, StatusRunning, StatusLoading, StatusError:
		return s
	}
	return StatusUnknown
}

// Dependency is one depends_on entry.
type Dependency struct {
	Condition Condition `json:"condition" yaml:"condition"`
}

// Service is the authoritative record of one service as seen from a scene.
// DependsOn is keyed by the id of the service this one depends on.
type Service struct {
	ID         string                `json:"id"`
	Kind       string                `json:"type,omitempty"`
	OwnerScene string                `json:"sceneName"`
	DependsOn  map[string]Dependency `json:"dependsOn"`
}

// Scene is a named collection of services.
type Scene struct {
	Name string `json:"name"`
}

// Key identifies a per-service event stream.
type Key struct {
	Scene   string
	Service string
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s", k.Scene, k.Service)
}

// StatusEvent is emitted by the authority for one (scene, service).
type StatusEvent struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// LogType tells stdout and stderr lines apart.
type LogType string

const (
	LogStdout LogType = "stdout"
	LogStderr LogType = "stderr"
)

// LogEvent is one log line. Clear asks the viewer to drop what it has
// before appending this line.
type LogEvent struct {
	Text      string  `json:"text"`
	Type      LogType `json:"type"`
	Timestamp string  `json:"timestamp"`
	Clear     bool    `json:"clear"`
}
