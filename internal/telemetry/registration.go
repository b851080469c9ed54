package telemetry

import (
	"encoding/json"
	"fmt"
)

// RegistrationTopic is where data loggers publish their registration
// payloads. Re-publishing doubles as the heartbeat.
const RegistrationTopic = "flume/loggers/registration"

// RegistrationPayload represents a v1 data-logger registration message.
type RegistrationPayload struct {
	Version  int                   `json:"version"`
	Logger   LoggerInfo            `json:"logger"`
	Stations []StationRegistration `json:"stations"`
}

// LoggerInfo contains data-logger metadata.
type LoggerInfo struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	Firmware     string `json:"firmware"`
	UptimeMS     int64  `json:"uptime_ms"`
	HeartbeatSec int    `json:"heartbeat_sec"`
}

// StationRegistration describes a single station provided by the logger.
type StationRegistration struct {
	Code   string        `json:"code"`
	Node   string        `json:"node"`
	Kind   string        `json:"kind"`
	Unit   string        `json:"unit"`
	Topics StationTopics `json:"topics"`
}

// StationTopics defines MQTT topics for station data.
type StationTopics struct {
	Publish string `json:"publish"`
}

// ParseRegistration parses a registration payload from JSON bytes.
func ParseRegistration(data []byte) (*RegistrationPayload, error) {
	var payload RegistrationPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("invalid registration JSON: %w", err)
	}

	if payload.Version != 1 {
		return nil, fmt.Errorf("unsupported registration version: %d", payload.Version)
	}

	if payload.Logger.ID == "" {
		return nil, fmt.Errorf("logger.id is required")
	}

	return &payload, nil
}

// StationSpec defines an expected station from site configuration.
type StationSpec struct {
	Kind     string
	Node     string
	Required bool
}

// ValidationResult contains validation outcome.
type ValidationResult struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

// ValidateRegistration validates a registration payload against station specs.
func ValidateRegistration(payload *RegistrationPayload, specs map[string]StationSpec) *ValidationResult {
	result := &ValidationResult{Valid: true}

	// Build map of registered stations
	registered := make(map[string]*StationRegistration)
	for i := range payload.Stations {
		st := &payload.Stations[i]
		if st.Code == "" {
			result.Errors = append(result.Errors, "station with empty code")
			result.Valid = false
			continue
		}
		registered[st.Code] = st
	}

	// Check each spec against registration
	for code, spec := range specs {
		reg, found := registered[code]
		if !found {
			if spec.Required {
				result.Errors = append(result.Errors, fmt.Sprintf("required station missing: %s", code))
				result.Valid = false
			}
			continue
		}

		// Validate kind matches
		if reg.Kind != spec.Kind {
			result.Errors = append(result.Errors, fmt.Sprintf("station %s: kind mismatch (expected %s, got %s)", code, spec.Kind, reg.Kind))
			result.Valid = false
		}

		// Validate observed node matches
		if spec.Node != "" && reg.Node != spec.Node {
			result.Errors = append(result.Errors, fmt.Sprintf("station %s: node mismatch (expected %s, got %s)", code, spec.Node, reg.Node))
			result.Valid = false
		}
	}

	// Warn about unrecognized stations
	for code := range registered {
		if _, ok := specs[code]; !ok {
			result.Warnings = append(result.Warnings, fmt.Sprintf("unrecognized station: %s", code))
		}
	}

	return result
}

// SpecFromConfig converts a station definition to a StationSpec.
func SpecFromConfig(kind, node string, required bool) StationSpec {
	return StationSpec{
		Kind:     kind,
		Node:     node,
		Required: required,
	}
}
