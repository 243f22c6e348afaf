package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/AaronLay10/SceneWorkbench/internal/authority"
	"github.com/AaronLay10/SceneWorkbench/internal/events"
)

// Command actions understood by the runtime agent.
const (
	ActionStartScene          = "start_scene"
	ActionStopScene           = "stop_scene"
	ActionStartService        = "start_service"
	ActionStopService         = "stop_service"
	ActionStartStatusEmission = "start_emitting_scene_status"
	ActionStopStatusEmission  = "stop_emitting_scene_status"
	ActionStartLogEmission    = "start_emitting_service_logs"
	ActionStopLogEmission     = "stop_emitting_service_logs"
)

// ErrNotConnected is returned when a command is issued while the broker
// connection is down.
var ErrNotConnected = errors.New("mqtt client not connected")

// Command is the payload published on a scene command topic.
type Command struct {
	ID       string    `json:"id"`
	Action   string    `json:"action"`
	Scene    string    `json:"scene"`
	Service  string    `json:"service,omitempty"`
	IssuedAt time.Time `json:"issued_at"`
}

// CommandTopic returns the command topic of scene.
func CommandTopic(prefix, scene string) string {
	return prefixOr(prefix) + "/" + scene + "/commands"
}

// Commander implements authority.Runtime by publishing commands. A command
// is accepted once the broker acknowledges it.
type Commander struct {
	broker Broker
	prefix string
	now    func() time.Time
}

var _ authority.Runtime = (*Commander)(nil)

// NewCommander creates a commander publishing under prefix.
func NewCommander(broker Broker, prefix string) *Commander {
	return &Commander{broker: broker, prefix: prefixOr(prefix), now: time.Now}
}

func (c *Commander) send(ctx context.Context, action, scene, service string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	topic := CommandTopic(c.prefix, scene)
	cmd := Command{
		ID:       uuid.NewString(),
		Action:   action,
		Scene:    scene,
		Service:  service,
		IssuedAt: c.now().UTC(),
	}
	b, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to marshal command: %w", err)
	}

	if c.broker == nil || !c.broker.IsConnected() {
		return c.fail(cmd, topic, ErrNotConnected)
	}
	if err := c.broker.Publish(topic, b); err != nil {
		return c.fail(cmd, topic, fmt.Errorf("publish failed: %w", err))
	}
	return nil
}

func (c *Commander) fail(cmd Command, topic string, err error) error {
	fields := map[string]interface{}{
		"action": cmd.Action,
		"scene":  cmd.Scene,
		"topic":  topic,
		"error":  err.Error(),
	}
	if cmd.Service != "" {
		fields["service"] = cmd.Service
	}
	events.Emit("error", "mqtt.error", "command not delivered", fields)
	return &authority.AuthorityError{Op: cmd.Action, Scene: cmd.Scene, Err: err}
}

func (c *Commander) StartScene(ctx context.Context, scene string) error {
	return c.send(ctx, ActionStartScene, scene, "")
}

func (c *Commander) StopScene(ctx context.Context, scene string) error {
	return c.send(ctx, ActionStopScene, scene, "")
}

func (c *Commander) StartService(ctx context.Context, scene, serviceID string) error {
	return c.send(ctx, ActionStartService, scene, serviceID)
}

func (c *Commander) StopService(ctx context.Context, scene, serviceID string) error {
	return c.send(ctx, ActionStopService, scene, serviceID)
}

func (c *Commander) StartStatusEmission(ctx context.Context, scene string) error {
	return c.send(ctx, ActionStartStatusEmission, scene, "")
}

func (c *Commander) StopStatusEmission(ctx context.Context, scene string) error {
	return c.send(ctx, ActionStopStatusEmission, scene, "")
}

func (c *Commander) StartLogEmission(ctx context.Context, scene, serviceID string) error {
	return c.send(ctx, ActionStartLogEmission, scene, serviceID)
}

func (c *Commander) StopLogEmission(ctx context.Context, scene, serviceID string) error {
	return c.send(ctx, ActionStopLogEmission, scene, serviceID)
}
