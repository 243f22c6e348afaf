// Package mqtt carries authority events and runtime commands over an MQTT
// broker. Topics are laid out per scene and service:
//
//	<prefix>/<scene>/<service>/status   status events (JSON StatusEvent)
//	<prefix>/<scene>/<service>/logs     log lines (JSON LogEvent)
//	<prefix>/<scene>/commands           runtime commands (JSON Command)
package mqtt

import (
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/AaronLay10/SceneWorkbench/internal/events"
)

const (
	defaultBrokerURL = "tcp://localhost:1883"
	opTimeout        = 10 * time.Second
	qos              = 1
)

// Broker is the subset of the client used by feeds and the commander.
type Broker interface {
	Subscribe(topic string, handler paho.MessageHandler) error
	Unsubscribe(topic string) error
	Publish(topic string, payload []byte) error
	IsConnected() bool
}

// BrokerURL returns the MQTT broker URL from env, then fallback, then the
// local default.
func BrokerURL(fallback string) string {
	if url := os.Getenv("MQTT_URL"); url != "" {
		return url
	}
	if fallback != "" {
		return fallback
	}
	return defaultBrokerURL
}

// Client wraps the Paho client. Subscriptions are remembered and replayed
// after every reconnect, since the broker session is not persistent.
type Client struct {
	client paho.Client
	url    string
	logger *slog.Logger

	mu   sync.Mutex
	subs map[string]paho.MessageHandler
}

// NewClient creates a client for url but does not connect.
func NewClient(url, clientID string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		url:    url,
		logger: logger.With("component", "mqtt"),
		subs:   make(map[string]paho.MessageHandler),
	}
	opts := paho.NewClientOptions().
		AddBroker(url).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetKeepAlive(30 * time.Second).
		SetOnConnectHandler(func(paho.Client) { c.onConnect() }).
		SetConnectionLostHandler(func(_ paho.Client, err error) { c.onConnectionLost(err) })
	c.client = paho.NewClient(opts)
	return c
}

// Connect attempts to connect to the broker without blocking indefinitely.
func (c *Client) Connect() error {
	token := c.client.Connect()
	if !token.WaitTimeout(opTimeout) {
		return &ConnectTimeoutError{URL: c.url}
	}
	return token.Error()
}

func (c *Client) onConnect() {
	events.Emit("info", "mqtt.connected", "", map[string]interface{}{"url": c.url})

	c.mu.Lock()
	topics := make(map[string]paho.MessageHandler, len(c.subs))
	for t, h := range c.subs {
		topics[t] = h
	}
	c.mu.Unlock()

	// Handlers run on the paho router goroutine; the resubscribe must not
	// wait on tokens there.
	for topic, handler := range topics {
		topic, handler := topic, handler
		token := c.client.Subscribe(topic, qos, handler)
		go func() {
			if token.WaitTimeout(opTimeout) && token.Error() == nil {
				return
			}
			c.logger.Warn("resubscribe failed", "topic", topic, "error", token.Error())
			events.Emit("error", "mqtt.error", "resubscribe failed", map[string]interface{}{"topic": topic})
		}()
	}
}

func (c *Client) onConnectionLost(err error) {
	c.logger.Warn("connection lost", "url", c.url, "error", err)
	events.Emit("warning", "mqtt.disconnected", "connection lost", map[string]interface{}{
		"url":   c.url,
		"error": err.Error(),
	})
}

// Subscribe subscribes to topic and remembers it for reconnects.
func (c *Client) Subscribe(topic string, handler paho.MessageHandler) error {
	token := c.client.Subscribe(topic, qos, handler)
	if !token.WaitTimeout(opTimeout) {
		return &TimeoutError{Op: "subscribe", Topic: topic}
	}
	if err := token.Error(); err != nil {
		return err
	}
	c.mu.Lock()
	c.subs[topic] = handler
	c.mu.Unlock()
	return nil
}

// Unsubscribe drops topic. It is forgotten even when the broker call fails.
func (c *Client) Unsubscribe(topic string) error {
	c.mu.Lock()
	delete(c.subs, topic)
	c.mu.Unlock()

	token := c.client.Unsubscribe(topic)
	if !token.WaitTimeout(opTimeout) {
		return &TimeoutError{Op: "unsubscribe", Topic: topic}
	}
	return token.Error()
}

// Publish sends payload to topic.
func (c *Client) Publish(topic string, payload []byte) error {
	token := c.client.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(opTimeout) {
		return &TimeoutError{Op: "publish", Topic: topic}
	}
	return token.Error()
}

// Topics returns the remembered subscriptions.
func (c *Client) Topics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.subs))
	for t := range c.subs {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Disconnect cleanly disconnects from the broker.
func (c *Client) Disconnect() {
	c.client.Disconnect(1000)
}

// IsConnected returns true if the client is connected.
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

// ConnectTimeoutError indicates connection timed out.
type ConnectTimeoutError struct {
	URL string
}

func (e *ConnectTimeoutError) Error() string {
	return "mqtt connect timeout: " + e.URL
}

// TimeoutError indicates a subscribe, unsubscribe or publish timed out.
type TimeoutError struct {
	Op    string
	Topic string
}

func (e *TimeoutError) Error() string {
	return "mqtt " + e.Op + " timeout: " + e.Topic
}
