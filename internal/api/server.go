package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/openhydrology/flume/internal/events"
)

// Engine is the calibration service driven by the HTTP layer. An empty
// node name on StartRun calibrates the whole network, outlet by outlet.
type Engine interface {
	HasNode(name string) bool
	StartRun(node string) (string, error)
	CancelRun() bool
	Status() map[string]interface{}
	ResetNode(name string) error
	NodeParameters(name string) (map[string]float64, error)
}

var engine Engine

// SetEngine sets the calibration engine used by the calibration and
// operator endpoints.
func SetEngine(e Engine) {
	engine = e
}

// readiness tracks dependency state for the /ready endpoint. The network
// check is required; MQTT and Postgres may be marked optional, in which
// case an outage degrades the check instead of failing it.
var readiness = struct {
	mu                sync.RWMutex
	networkReady      bool
	mqttConnected     bool
	mqttOptional      bool
	postgresConnected bool
	postgresOptional  bool
}{}

// SetNetworkReady marks the network model as loaded and runnable.
func SetNetworkReady(ready bool) {
	readiness.mu.Lock()
	readiness.networkReady = ready
	readiness.mu.Unlock()
}

// SetMQTTState updates the gauge feed connection state.
func SetMQTTState(connected, optional bool) {
	readiness.mu.Lock()
	readiness.mqttConnected = connected
	readiness.mqttOptional = optional
	readiness.mu.Unlock()
}

// SetPostgresState updates the run store connection state.
func SetPostgresState(connected, optional bool) {
	readiness.mu.Lock()
	readiness.postgresConnected = connected
	readiness.postgresOptional = optional
	readiness.mu.Unlock()
}

// Check is one dependency's entry in the readiness response.
type Check struct {
	Status   string `json:"status"`
	Optional bool   `json:"optional,omitempty"`
}

// ReadinessResponse is the /ready payload.
type ReadinessResponse struct {
	Ready       bool             `json:"ready"`
	Checks      map[string]Check `json:"checks"`
	NotReadyMsg string           `json:"message,omitempty"`
}

func readyHandler(w http.ResponseWriter, r *http.Request) {
	readiness.mu.RLock()
	networkReady := readiness.networkReady
	mqttConnected := readiness.mqttConnected
	mqttOptional := readiness.mqttOptional
	postgresConnected := readiness.postgresConnected
	postgresOptional := readiness.postgresOptional
	readiness.mu.RUnlock()

	checks := make(map[string]Check, 3)
	var reasons []string

	if networkReady {
		checks["network"] = Check{Status: "ok"}
	} else {
		checks["network"] = Check{Status: "not_ready"}
		reasons = append(reasons, "network model not loaded")
	}

	switch {
	case mqttConnected:
		checks["mqtt"] = Check{Status: "ok", Optional: mqttOptional}
	case mqttOptional:
		checks["mqtt"] = Check{Status: "unavailable", Optional: true}
	default:
		checks["mqtt"] = Check{Status: "not_ready"}
		reasons = append(reasons, "gauge feed disconnected")
	}

	switch {
	case postgresConnected:
		checks["postgres"] = Check{Status: "ok", Optional: postgresOptional}
	case postgresOptional:
		checks["postgres"] = Check{Status: "unavailable", Optional: true}
	default:
		checks["postgres"] = Check{Status: "not_ready"}
		reasons = append(reasons, "run store unavailable")
	}

	resp := ReadinessResponse{
		Ready:       len(reasons) == 0,
		Checks:      checks,
		NotReadyMsg: strings.Join(reasons, "; "),
	}

	w.Header().Set("Content-Type", "application/json")
	if !resp.Ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(resp)
}

type HealthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Basin     string `json:"basin,omitempty"`
	Hostname  string `json:"hostname"`
	Timestamp string `json:"ts"`
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	host, _ := os.Hostname()
	resp := HealthResponse{
		Status:    "ok",
		Service:   "flume",
		Basin:     GetBasinName(),
		Hostname:  host,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// eventsHandler serves the in-memory ring by default. With ?source=db it
// reads back from Postgres instead, honoring an optional ?limit.
func eventsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.URL.Query().Get("source") != "db" {
		_ = json.NewEncoder(w).Encode(events.Snapshot())
		return
	}

	client := events.GetPostgresClient()
	if client == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "event store not configured"})
		return
	}

	limit := 100
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			limit = n
		}
	}

	rows, err := client.Query(limit)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}
	_ = json.NewEncoder(w).Encode(rows)
}

// CalibrationRequest names the node to calibrate. An empty node runs the
// whole network.
type CalibrationRequest struct {
	Node string `json:"node,omitempty"`
}

// CalibrationResponse reports the started run.
type CalibrationResponse struct {
	OK    bool   `json:"ok"`
	RunID string `json:"run_id,omitempty"`
	Error string `json:"error,omitempty"`
}

func calibrationStartHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		_ = json.NewEncoder(w).Encode(CalibrationResponse{OK: false, Error: "method not allowed"})
		return
	}

	var req CalibrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(CalibrationResponse{OK: false, Error: "invalid JSON"})
		return
	}

	if engine == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(CalibrationResponse{OK: false, Error: "engine not ready"})
		return
	}

	if req.Node != "" && !engine.HasNode(req.Node) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(CalibrationResponse{OK: false, Error: "node not found"})
		return
	}

	runID, err := engine.StartRun(req.Node)
	if err != nil {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(CalibrationResponse{OK: false, Error: err.Error()})
		return
	}

	events.Emit("info", "operator.calibrate", "", map[string]interface{}{
		"action": "start",
		"node":   req.Node,
		"run_id": runID,
	})

	_ = json.NewEncoder(w).Encode(CalibrationResponse{OK: true, RunID: runID})
}

func calibrationCancelHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		_ = json.NewEncoder(w).Encode(CalibrationResponse{OK: false, Error: "method not allowed"})
		return
	}

	if engine == nil || !engine.CancelRun() {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(CalibrationResponse{OK: false, Error: "no calibration running"})
		return
	}

	events.Emit("info", "operator.calibrate", "", map[string]interface{}{
		"action": "cancel",
	})

	_ = json.NewEncoder(w).Encode(CalibrationResponse{OK: true})
}

func calibrationStatusHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if engine == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "engine not ready"})
		return
	}

	_ = json.NewEncoder(w).Encode(engine.Status())
}

// OperatorRequest names the node an operator action applies to.
type OperatorRequest struct {
	Node string `json:"node"`
}

type OperatorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// decodeOperatorRequest validates method, body, and node existence shared
// by the operator endpoints. It writes the error response itself and
// returns ok=false when the request should not proceed.
func decodeOperatorRequest(w http.ResponseWriter, r *http.Request) (OperatorRequest, bool) {
	var req OperatorRequest

	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		_ = json.NewEncoder(w).Encode(OperatorResponse{OK: false, Error: "method not allowed"})
		return req, false
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(OperatorResponse{OK: false, Error: "invalid JSON"})
		return req, false
	}

	if req.Node == "" {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(OperatorResponse{OK: false, Error: "node required"})
		return req, false
	}

	if engine == nil || !engine.HasNode(req.Node) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(OperatorResponse{OK: false, Error: "node not found"})
		return req, false
	}

	return req, true
}

func operatorResetHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	req, ok := decodeOperatorRequest(w, r)
	if !ok {
		return
	}

	if err := engine.ResetNode(req.Node); err != nil {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(OperatorResponse{OK: false, Error: err.Error()})
		return
	}

	events.Emit("info", "operator.reset", "", map[string]interface{}{
		"node": req.Node,
	})

	_ = json.NewEncoder(w).Encode(OperatorResponse{OK: true})
}

// ParametersResponse lists a node's current parameter values.
type ParametersResponse struct {
	OK         bool               `json:"ok"`
	Node       string             `json:"node,omitempty"`
	Parameters map[string]float64 `json:"parameters,omitempty"`
	Error      string             `json:"error,omitempty"`
}

func operatorParametersHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	name := r.URL.Query().Get("node")
	if name == "" {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(ParametersResponse{OK: false, Error: "node required"})
		return
	}

	if engine == nil || !engine.HasNode(name) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(ParametersResponse{OK: false, Error: "node not found"})
		return
	}

	params, err := engine.NodeParameters(name)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(ParametersResponse{OK: false, Error: err.Error()})
		return
	}

	events.Emit("info", "operator.parameters", "", map[string]interface{}{
		"node": name,
	})

	_ = json.NewEncoder(w).Encode(ParametersResponse{OK: true, Node: name, Parameters: params})
}

// ListenAndServe starts the API server on the given port, with TLS when
// configured. It blocks until the server exits.
func ListenAndServe(port int) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", RequireAnyRole(uiHandler))
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/ready", readyHandler)
	mux.HandleFunc("/metrics", metricsHandler)
	mux.HandleFunc("/events", eventsHandler)
	mux.HandleFunc("/ws/events", wsEventsHandler)
	mux.HandleFunc("/calibration/start", RequireAdmin(calibrationStartHandler))
	mux.HandleFunc("/calibration/cancel", RequireAdmin(calibrationCancelHandler))
	mux.HandleFunc("/calibration/status", calibrationStatusHandler)
	mux.HandleFunc("/operator/reset-node", RequireAnyRole(operatorResetHandler))
	mux.HandleFunc("/operator/parameters", RequireAnyRole(operatorParametersHandler))

	addr := fmt.Sprintf(":%d", port)
	srv := &http.Server{Addr: addr, Handler: mux}

	if IsTLSEnabled() {
		if cfg := LoadTLSConfig(); cfg != nil {
			srv.TLSConfig = cfg
			log.Printf("API listening on %s (TLS)\n", addr)
			return srv.ListenAndServeTLS("", "")
		}
		log.Printf("TLS configured but certificate load failed, serving plain HTTP")
	}

	log.Printf("API listening on %s\n", addr)
	return srv.ListenAndServe()
}

// Start starts the API server in a goroutine.
// Errors are logged but do not stop the caller.
func Start(port int) {
	go func() {
		if err := ListenAndServe(port); err != nil {
			log.Printf("api server error: %v", err)
		}
	}()
}
