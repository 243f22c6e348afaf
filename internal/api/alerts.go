package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"
)

// Alert severity levels
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
	SeverityInfo     = "info"
)

const (
	EnvAlertWebhookURL = "WORKBENCH_ALERT_WEBHOOK_URL"
	EnvAlertDelay      = "WORKBENCH_ALERT_DELAY"

	defaultAlertDelay = 30 * time.Second
)

// AlertPayload is the JSON structure sent to the webhook.
type AlertPayload struct {
	Workspace string                 `json:"workspace"`
	Check     string                 `json:"check"`
	Timestamp string                 `json:"timestamp"`
	Severity  string                 `json:"severity"`
	Message   string                 `json:"message,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

type outage struct {
	since time.Time
	sent  bool
}

// Alerter posts a webhook when a readiness check has been failing for
// longer than Delay, and again when it recovers. Without a webhook URL
// alerts are only logged.
type Alerter struct {
	WebhookURL string
	Delay      time.Duration
	Workspace  string

	client *http.Client
	logger *slog.Logger

	mu      sync.Mutex
	outages map[string]*outage
	send    func(AlertPayload)
}

// NewAlerter reads the webhook settings from the environment.
func NewAlerter(workspace string, logger *slog.Logger) *Alerter {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Alerter{
		WebhookURL: os.Getenv(EnvAlertWebhookURL),
		Delay:      defaultAlertDelay,
		Workspace:  workspace,
		client:     &http.Client{Timeout: 10 * time.Second},
		logger:     logger.With("component", "alerts"),
		outages:    make(map[string]*outage),
	}
	if raw := os.Getenv(EnvAlertDelay); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			a.Delay = d
		} else {
			a.logger.Warn("ignoring invalid alert delay", "value", raw, "error", err)
		}
	}
	a.send = a.post
	return a
}

// Observe records the state of check at now and sends an alert on a long
// outage or on recovery after an alerted outage.
func (a *Alerter) Observe(check string, res CheckResult, now time.Time) {
	a.mu.Lock()
	o := a.outages[check]
	var payload *AlertPayload
	switch {
	case res.Status == "ok":
		if o != nil && o.sent {
			payload = &AlertPayload{
				Check:    check,
				Severity: SeverityInfo,
				Message:  check + " restored",
				Details:  map[string]interface{}{"recovered_at": now.UTC().Format(time.RFC3339)},
			}
		}
		delete(a.outages, check)
	case o == nil:
		a.outages[check] = &outage{since: now}
	case !o.sent && now.Sub(o.since) >= a.Delay:
		o.sent = true
		severity := SeverityCritical
		if res.Optional {
			severity = SeverityWarning
		}
		payload = &AlertPayload{
			Check:    check,
			Severity: severity,
			Message:  check + " unavailable",
			Details: map[string]interface{}{
				"error":                res.Error,
				"disconnected_since":   o.since.UTC().Format(time.RFC3339),
				"disconnected_seconds": int(now.Sub(o.since).Seconds()),
			},
		}
	}
	a.mu.Unlock()

	if payload != nil {
		payload.Workspace = a.Workspace
		payload.Timestamp = now.UTC().Format(time.RFC3339)
		a.send(*payload)
	}
}

// Run evaluates readiness every interval until ctx is done.
func (a *Alerter) Run(ctx context.Context, readiness *Readiness, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			resp := readiness.Evaluate()
			names := make([]string, 0, len(resp.Checks))
			for name := range resp.Checks {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				a.Observe(name, resp.Checks[name], now)
			}
		}
	}
}

func (a *Alerter) post(payload AlertPayload) {
	if a.WebhookURL == "" {
		a.logger.Warn("alert", "check", payload.Check, "severity", payload.Severity,
			"message", payload.Message, "details", payload.Details)
		return
	}
	body, err := json.Marshal(payload)
	if err != nil {
		a.logger.Error("failed to marshal alert", "error", err)
		return
	}
	resp, err := a.client.Post(a.WebhookURL, "application/json", bytes.NewReader(body))
	if err != nil {
		a.logger.Warn("alert webhook POST failed", "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		a.logger.Warn("alert webhook returned an error", "status", resp.StatusCode)
	}
}
