package api

import (
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/openhydrology/flume/internal/events"
	"github.com/openhydrology/flume/internal/version"
)

// Metrics state
var (
	metricsState = &MetricsState{}
)

// MetricsState holds runtime metrics for the /metrics endpoint.
type MetricsState struct {
	mu                     sync.RWMutex
	startTime              time.Time
	basinName              string
	calibrationsTotal      int64
	lastCalibrationTimeSec int64 // Unix timestamp, -1 if none yet
}

// InitMetrics initializes the metrics system. Must be called at startup.
func InitMetrics() {
	metricsState.mu.Lock()
	defer metricsState.mu.Unlock()
	metricsState.startTime = time.Now()
	metricsState.lastCalibrationTimeSec = -1
}

// SetBasinName sets the basin name for metrics labels.
func SetBasinName(name string) {
	metricsState.mu.Lock()
	defer metricsState.mu.Unlock()
	metricsState.basinName = name
}

// GetBasinName returns the current basin name.
func GetBasinName() string {
	metricsState.mu.RLock()
	defer metricsState.mu.RUnlock()
	return metricsState.basinName
}

// RecordCalibration registers a finished calibration run for the counter
// and last-success timestamp.
func RecordCalibration(ts time.Time) {
	metricsState.mu.Lock()
	defer metricsState.mu.Unlock()
	metricsState.calibrationsTotal++
	metricsState.lastCalibrationTimeSec = ts.Unix()
}

// metricsHandler returns Prometheus-compatible metrics in text format.
func metricsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	// Gather metrics
	metricsState.mu.RLock()
	startTime := metricsState.startTime
	basinName := metricsState.basinName
	calibrationsTotal := metricsState.calibrationsTotal
	lastCalibration := metricsState.lastCalibrationTimeSec
	metricsState.mu.RUnlock()

	uptime := time.Since(startTime).Seconds()
	eventsTotal := events.TotalCount()

	readiness.mu.RLock()
	networkReady := readiness.networkReady
	mqttConnected := readiness.mqttConnected
	postgresConnected := readiness.postgresConnected
	readiness.mu.RUnlock()

	wsClients := events.SubscriberCount()

	networkReadyVal := 0
	if networkReady {
		networkReadyVal = 1
	}

	mqttConnectedVal := 0
	if mqttConnected {
		mqttConnectedVal = 1
	}

	postgresConnectedVal := 0
	if postgresConnected {
		postgresConnectedVal = 1
	}

	// Get hostname for instance label
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "unknown"
	}

	// Build Prometheus text format response
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	// Helper to write metric with optional labels
	writeMetric := func(name, mtype, help string, value interface{}, labels string) {
		fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		fmt.Fprintf(w, "# TYPE %s %s\n", name, mtype)
		if labels != "" {
			fmt.Fprintf(w, "%s{%s} %v\n", name, labels, value)
		} else {
			fmt.Fprintf(w, "%s %v\n", name, value)
		}
	}

	// Common labels
	labels := fmt.Sprintf(`basin="%s",instance="%s",version="%s"`, basinName, hostname, version.Version)

	// Uptime
	writeMetric("flume_uptime_seconds", "gauge",
		"Number of seconds since the service started", uptime, labels)

	// Network loaded
	writeMetric("flume_network_ready", "gauge",
		"Whether the network model is loaded (1) or not (0)", networkReadyVal, labels)

	// Events total
	writeMetric("flume_events_total", "counter",
		"Total number of events emitted since startup", eventsTotal, labels)

	// MQTT connected
	writeMetric("flume_mqtt_connected", "gauge",
		"Whether the gauge feed broker is connected (1) or not (0)", mqttConnectedVal, labels)

	// Postgres connected
	writeMetric("flume_postgres_connected", "gauge",
		"Whether PostgreSQL is connected (1) or not (0)", postgresConnectedVal, labels)

	// WebSocket clients
	writeMetric("flume_ws_clients", "gauge",
		"Number of active WebSocket client connections", wsClients, labels)

	// Calibrations since startup
	writeMetric("flume_calibrations_total", "counter",
		"Total number of calibration runs completed since startup", calibrationsTotal, labels)

	// Last calibration timestamp
	writeMetric("flume_last_calibration_timestamp", "gauge",
		"Unix timestamp of the last completed calibration run (-1 if none)", lastCalibration, labels)
}
