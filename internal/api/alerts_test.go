package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func TestAlerterFromEnv(t *testing.T) {
	t.Setenv(EnvAlertWebhookURL, "http://alerts.example/hook")
	t.Setenv(EnvAlertDelay, "5s")

	a := NewAlerter("bench", nil)
	if a.WebhookURL != "http://alerts.example/hook" {
		t.Errorf("expected the webhook URL from env, got %q", a.WebhookURL)
	}
	if a.Delay != 5*time.Second {
		t.Errorf("expected a 5s delay, got %s", a.Delay)
	}
}

func TestAlerterInvalidDelayKeepsDefault(t *testing.T) {
	t.Setenv(EnvAlertDelay, "soon")
	if a := NewAlerter("bench", nil); a.Delay != defaultAlertDelay {
		t.Errorf("expected the default delay, got %s", a.Delay)
	}
}

func TestAlerterOutageAndRecovery(t *testing.T) {
	a := NewAlerter("bench", nil)
	a.Delay = 30 * time.Second
	var sent []AlertPayload
	a.send = func(p AlertPayload) { sent = append(sent, p) }

	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	down := CheckResult{Status: "fail", Error: "not connected"}

	a.Observe("mqtt", down, start)
	a.Observe("mqtt", down, start.Add(10*time.Second))
	if len(sent) != 0 {
		t.Fatalf("expected no alert before the delay, got %v", sent)
	}

	a.Observe("mqtt", down, start.Add(30*time.Second))
	a.Observe("mqtt", down, start.Add(60*time.Second))
	if len(sent) != 1 {
		t.Fatalf("expected exactly one outage alert, got %d", len(sent))
	}
	if sent[0].Severity != SeverityCritical || sent[0].Check != "mqtt" || sent[0].Workspace != "bench" {
		t.Errorf("unexpected alert %+v", sent[0])
	}
	if sent[0].Details["error"] != "not connected" {
		t.Errorf("expected the check error in details, got %v", sent[0].Details)
	}

	a.Observe("mqtt", CheckResult{Status: "ok"}, start.Add(90*time.Second))
	if len(sent) != 2 || sent[1].Severity != SeverityInfo {
		t.Fatalf("expected a recovery alert, got %v", sent)
	}

	// A short blip after recovery alerts nothing.
	a.Observe("mqtt", down, start.Add(100*time.Second))
	a.Observe("mqtt", CheckResult{Status: "ok"}, start.Add(101*time.Second))
	if len(sent) != 2 {
		t.Errorf("expected no alert for a short outage, got %v", sent[2:])
	}
}

func TestAlerterOptionalCheckIsWarning(t *testing.T) {
	a := NewAlerter("bench", nil)
	a.Delay = 0
	var sent []AlertPayload
	a.send = func(p AlertPayload) { sent = append(sent, p) }

	now := time.Now()
	res := CheckResult{Status: "fail", Optional: true, Error: "connection refused"}
	a.Observe("postgres", res, now)
	a.Observe("postgres", res, now)
	if len(sent) != 1 || sent[0].Severity != SeverityWarning {
		t.Errorf("expected one warning, got %v", sent)
	}
}

func TestAlerterPostsWebhook(t *testing.T) {
	var mu sync.Mutex
	var got []AlertPayload
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p AlertPayload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			t.Errorf("failed to decode alert: %v", err)
		}
		mu.Lock()
		got = append(got, p)
		mu.Unlock()
	}))
	defer hook.Close()

	t.Setenv(EnvAlertWebhookURL, hook.URL)
	a := NewAlerter("bench", nil)
	a.post(AlertPayload{Workspace: "bench", Check: "mqtt", Severity: SeverityCritical})

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0].Check != "mqtt" {
		t.Errorf("expected one posted alert, got %v", got)
	}
}
