package telemetry

import (
	"fmt"
	"sync"
)

// Station kinds. A flow gauge observes discharge at a catchment outlet,
// a level gauge observes reservoir stage, a rain gauge feeds forcing.
const (
	GaugeFlow  = "flow"
	GaugeLevel = "level"
	GaugeRain  = "rain"
)

// Station holds runtime information about a registered gauging station.
type Station struct {
	Code      string
	LoggerID  string
	Node      string // network node this station observes
	Kind      string
	Unit      string
	DataTopic string
}

// StationRegistry maintains a mapping of station codes to their MQTT
// topics and metadata.
type StationRegistry struct {
	mu       sync.RWMutex
	stations map[string]*Station
}

// NewStationRegistry creates a new empty station registry.
func NewStationRegistry() *StationRegistry {
	return &StationRegistry{
		stations: make(map[string]*Station),
	}
}

// Register adds or updates a station in the registry.
func (r *StationRegistry) Register(st *Station) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stations[st.Code] = st
}

// Unregister removes a station from the registry.
func (r *StationRegistry) Unregister(code string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.stations, code)
}

// Get returns a station by code, or nil if not found.
func (r *StationRegistry) Get(code string) *Station {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if st, ok := r.stations[code]; ok {
		// Return a copy to prevent mutation
		cpy := *st
		return &cpy
	}
	return nil
}

// Exists returns true if the station is registered.
func (r *StationRegistry) Exists(code string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.stations[code]
	return ok
}

// DataTopicFor returns the data topic for a station, or empty string if
// not found.
func (r *StationRegistry) DataTopicFor(code string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if st, ok := r.stations[code]; ok {
		return st.DataTopic
	}
	return ""
}

// ByNode returns the stations observing a network node.
func (r *StationRegistry) ByNode(node string) []*Station {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Station
	for _, st := range r.stations {
		if st.Node == node {
			cpy := *st
			out = append(out, &cpy)
		}
	}
	return out
}

// ValidateObservation validates that a station exists and carries the
// given kind of observation. Returns an error describing the failure,
// or nil if valid.
func (r *StationRegistry) ValidateObservation(code, kind string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st, ok := r.stations[code]
	if !ok {
		return fmt.Errorf("station not registered: %s", code)
	}
	if st.DataTopic == "" {
		return fmt.Errorf("station %s has no data topic", code)
	}
	if st.Kind != kind {
		return fmt.Errorf("station %s records %s, not %s", code, st.Kind, kind)
	}
	return nil
}

// All returns a copy of all registered stations.
func (r *StationRegistry) All() []*Station {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*Station, 0, len(r.stations))
	for _, st := range r.stations {
		cpy := *st
		result = append(result, &cpy)
	}
	return result
}

// RegisterFromPayload registers all stations from a registration payload.
func (r *StationRegistry) RegisterFromPayload(payload *RegistrationPayload) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, st := range payload.Stations {
		r.stations[st.Code] = &Station{
			Code:      st.Code,
			LoggerID:  payload.Logger.ID,
			Node:      st.Node,
			Kind:      st.Kind,
			Unit:      st.Unit,
			DataTopic: st.Topics.Publish,
		}
	}
}

// Clear removes all stations from the registry.
func (r *StationRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stations = make(map[string]*Station)
}
