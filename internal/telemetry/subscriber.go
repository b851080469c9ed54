package telemetry

import (
	"encoding/json"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/openhydrology/flume/internal/events"
)

// Observation is a single gauge reading on a station data topic.
type Observation struct {
	Timestamp time.Time `json:"t"`
	Value     float64   `json:"value"`
}

// ObservationSink receives parsed observations. Implementations must be
// safe for concurrent use; readings arrive on Paho's delivery goroutines.
type ObservationSink interface {
	Record(st *Station, ts time.Time, value float64) error
}

// SubscribeClient is the slice of Client the subscriber needs. Tests
// substitute an in-memory implementation.
type SubscribeClient interface {
	Subscribe(topic string, handler paho.MessageHandler) error
}

// StationSubscriber manages subscriptions to station data topics.
// It ensures idempotent subscription handling across reconnects.
type StationSubscriber struct {
	mu         sync.RWMutex
	client     SubscribeClient
	registry   *StationRegistry
	sink       ObservationSink
	subscribed map[string]bool // topic -> subscribed
}

// NewStationSubscriber creates a new station subscriber. A nil sink
// drops readings after emitting their events.
func NewStationSubscriber(client SubscribeClient, registry *StationRegistry, sink ObservationSink) *StationSubscriber {
	return &StationSubscriber{
		client:     client,
		registry:   registry,
		sink:       sink,
		subscribed: make(map[string]bool),
	}
}

// SubscribeStation subscribes to a station's data topic if not already
// subscribed. Calling multiple times for the same station is safe.
func (s *StationSubscriber) SubscribeStation(st *Station) error {
	if st.DataTopic == "" {
		return nil // No data topic to subscribe to
	}

	s.mu.Lock()
	if s.subscribed[st.DataTopic] {
		s.mu.Unlock()
		return nil // Already subscribed
	}
	s.mu.Unlock()

	handler := s.createHandler(*st)
	if err := s.client.Subscribe(st.DataTopic, handler); err != nil {
		return err
	}

	s.mu.Lock()
	s.subscribed[st.DataTopic] = true
	s.mu.Unlock()

	return nil
}

// SubscribeAll subscribes to all stations in the registry.
// Useful for initial subscription after connection.
func (s *StationSubscriber) SubscribeAll() error {
	for _, st := range s.registry.All() {
		if err := s.SubscribeStation(st); err != nil {
			// Log error but continue with other stations
			events.Emit("error", "gauge.error", "failed to subscribe to station data", map[string]interface{}{
				"station": st.Code,
				"topic":   st.DataTopic,
				"error":   err.Error(),
			})
		}
	}
	return nil
}

// createHandler creates a message handler that records readings and
// emits gauge.observation events.
func (s *StationSubscriber) createHandler(st Station) paho.MessageHandler {
	return func(client paho.Client, msg paho.Message) {
		var obs Observation
		if err := json.Unmarshal(msg.Payload(), &obs); err != nil {
			events.Emit("error", "gauge.error", "unparseable observation", map[string]interface{}{
				"station": st.Code,
				"topic":   st.DataTopic,
				"error":   err.Error(),
			})
			return
		}

		if s.sink != nil {
			if err := s.sink.Record(&st, obs.Timestamp, obs.Value); err != nil {
				events.Emit("error", "gauge.error", "observation rejected", map[string]interface{}{
					"station": st.Code,
					"node":    st.Node,
					"error":   err.Error(),
				})
				return
			}
		}

		events.Emit("info", "gauge.observation", "", map[string]interface{}{
			"logger":  st.LoggerID,
			"station": st.Code,
			"node":    st.Node,
			"kind":    st.Kind,
			"value":   obs.Value,
		})
	}
}

// IsSubscribed returns true if the topic is already subscribed.
func (s *StationSubscriber) IsSubscribed(topic string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subscribed[topic]
}

// SubscribedTopics returns a list of all subscribed topics.
func (s *StationSubscriber) SubscribedTopics() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	topics := make([]string, 0, len(s.subscribed))
	for topic := range s.subscribed {
		topics = append(topics, topic)
	}
	return topics
}

// ClearSubscriptions clears the subscription tracking.
// Call this on disconnect to allow re-subscription on reconnect.
func (s *StationSubscriber) ClearSubscriptions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribed = make(map[string]bool)
}
