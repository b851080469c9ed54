package telemetry

import (
	"sync"
	"time"

	"github.com/openhydrology/flume/internal/events"
)

// LoggerState tracks a registered data logger's health.
type LoggerState struct {
	LoggerID     string
	LastSeen     time.Time
	HeartbeatSec int
	Stations     []string // station codes
	Connected    bool
}

// Monitor tracks logger registration and gauge staleness. It owns the
// station registry so registrations and health share one view.
type Monitor struct {
	mu        sync.RWMutex
	loggers   map[string]*LoggerState
	registry  *StationRegistry
	specs     map[string]StationSpec
	tolerance float64 // multiplier for heartbeat interval (e.g., 2.0 = 2x heartbeat)
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// NewMonitor creates a new logger monitor.
// tolerance is the multiplier for heartbeat interval before considering a gauge stale.
func NewMonitor(specs map[string]StationSpec, tolerance float64) *Monitor {
	if tolerance <= 1.0 {
		tolerance = 2.0 // default: miss 1 heartbeat
	}
	return &Monitor{
		loggers:   make(map[string]*LoggerState),
		registry:  NewStationRegistry(),
		specs:     specs,
		tolerance: tolerance,
		stopCh:    make(chan struct{}),
	}
}

// StationRegistry returns the registry the monitor maintains.
func (m *Monitor) StationRegistry() *StationRegistry {
	return m.registry
}

// HandleRegistration processes a registration payload.
// Returns validation result and emits appropriate events.
func (m *Monitor) HandleRegistration(payload *RegistrationPayload) *ValidationResult {
	result := ValidateRegistration(payload, m.specs)

	m.mu.Lock()
	defer m.mu.Unlock()

	loggerID := payload.Logger.ID
	now := time.Now()

	var codes []string
	for _, st := range payload.Stations {
		codes = append(codes, st.Code)
	}

	existing, known := m.loggers[loggerID]
	isRecovery := known && existing != nil && !existing.Connected

	if result.Valid {
		m.loggers[loggerID] = &LoggerState{
			LoggerID:     loggerID,
			LastSeen:     now,
			HeartbeatSec: payload.Logger.HeartbeatSec,
			Stations:     codes,
			Connected:    true,
		}
		m.registry.RegisterFromPayload(payload)

		name := "gauge.registered"
		if isRecovery {
			name = "gauge.recovered"
		}
		for _, st := range payload.Stations {
			events.Emit("info", name, "", map[string]interface{}{
				"logger":  loggerID,
				"station": st.Code,
				"node":    st.Node,
				"kind":    st.Kind,
			})
		}
	} else {
		events.Emit("error", "gauge.error", "registration validation failed", map[string]interface{}{
			"logger": loggerID,
			"errors": result.Errors,
		})
	}

	return result
}

// Start begins the background staleness check loop.
func (m *Monitor) Start(checkInterval time.Duration) {
	m.wg.Add(1)
	go m.staleCheckLoop(checkInterval)
}

// Stop stops the background staleness check loop.
func (m *Monitor) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

func (m *Monitor) staleCheckLoop(interval time.Duration) {
	defer m.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.checkStale()
		}
	}
}

func (m *Monitor) checkStale() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()

	for loggerID, state := range m.loggers {
		if !state.Connected || state.HeartbeatSec <= 0 {
			continue
		}

		// Staleness threshold: heartbeat * tolerance
		timeout := time.Duration(float64(state.HeartbeatSec)*m.tolerance) * time.Second
		if now.Sub(state.LastSeen) > timeout {
			state.Connected = false

			for _, code := range state.Stations {
				events.Emit("warn", "gauge.stale", "heartbeat timeout", map[string]interface{}{
					"logger":      loggerID,
					"station":     code,
					"last_seen":   state.LastSeen.Format(time.RFC3339),
					"timeout_sec": timeout.Seconds(),
				})
			}
		}
	}
}

// GetLoggerState returns the state of a logger (for testing/inspection).
func (m *Monitor) GetLoggerState(loggerID string) *LoggerState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if state, ok := m.loggers[loggerID]; ok {
		// Return a copy
		cpy := *state
		cpy.Stations = append([]string{}, state.Stations...)
		return &cpy
	}
	return nil
}

// ConnectedLoggers returns a list of currently connected logger IDs.
func (m *Monitor) ConnectedLoggers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []string
	for id, state := range m.loggers {
		if state.Connected {
			ids = append(ids, id)
		}
	}
	return ids
}
