package events

import "fmt"

var allowedEvents = map[string]struct{}{
	// network
	"network.loaded":     {},
	"network.node_added": {},
	"network.edge_added": {},

	// calibration
	"calibration.started":           {},
	"calibration.completed":         {},
	"calibration.failed":            {},
	"calibration.trace":             {},
	"calibration.target_reached":    {},
	"calibration.restored":          {},
	"calibration.network_started":   {},
	"calibration.network_completed": {},
	"calibration.artifact_saved":    {},

	// gauge
	"gauge.registered":  {},
	"gauge.observation": {},
	"gauge.stale":       {},
	"gauge.recovered":   {},
	"gauge.error":       {},

	// operator
	"operator.reset":      {},
	"operator.calibrate":  {},
	"operator.parameters": {},

	// system
	"system.startup":  {},
	"system.shutdown": {},
	"system.error":    {},
}

func Validate(event string) error {
	if _, ok := allowedEvents[event]; !ok {
		return fmt.Errorf("unknown event: %s", event)
	}
	return nil
}
