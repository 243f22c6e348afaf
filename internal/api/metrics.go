package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AaronLay10/SceneWorkbench/internal/events"
	"github.com/AaronLay10/SceneWorkbench/internal/version"
)

var (
	// sessionsOpen is the number of scenes with a live session.
	sessionsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "workbench",
		Name:      "sessions_open",
		Help:      "Number of scene sessions currently open",
	})

	// canvasClients is the number of connected canvas websockets.
	canvasClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "workbench",
		Name:      "canvas_clients",
		Help:      "Number of connected canvas websocket clients",
	})

	// logClients is the number of connected log tail websockets.
	logClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "workbench",
		Name:      "log_clients",
		Help:      "Number of connected log tail websocket clients",
	})

	// gestures counts canvas gestures.
	// Labels: type (connect, delete_node, ...), result (ok, rejected)
	gestures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "workbench",
		Name:      "gestures_total",
		Help:      "Canvas gestures handled, by type and result",
	}, []string{"type", "result"})

	// fileReloads counts reloads triggered by compose file changes on disk.
	fileReloads = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "workbench",
		Name:      "file_reloads_total",
		Help:      "Session reloads triggered by compose file edits",
	})

	_ = promauto.NewCounterFunc(prometheus.CounterOpts{
		Namespace: "workbench",
		Name:      "events_total",
		Help:      "Journal events emitted since startup",
	}, func() float64 { return float64(events.TotalCount()) })

	_ = promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "workbench",
		Name:      "event_stream_clients",
		Help:      "Number of journal websocket subscribers",
	}, func() float64 { return float64(events.SubscriberCount()) })

	buildInfo = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace:   "workbench",
		Name:        "build_info",
		Help:        "Build information",
		ConstLabels: prometheus.Labels{"version": version.Version},
	})
)

func init() {
	buildInfo.Set(1)
}

// metricsHandler serves the default Prometheus registry.
func metricsHandler() http.Handler {
	return promhttp.Handler()
}
