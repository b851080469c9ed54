package calibrate

import (
	"fmt"

	"github.com/openhydrology/flume/internal/network"
	"github.com/openhydrology/flume/internal/node"
	"github.com/openhydrology/flume/internal/storage/postgres"
)

// RestoreParameters applies the most recent stored run per node to the
// network, warm-starting later calibrations. Nodes without a stored
// run, or whose stored parameters no longer match, keep their current
// values. Returns the number of nodes restored. A nil client restores
// nothing.
func RestoreParameters(client *postgres.Client, nw *network.Network) (int, error) {
	if client == nil {
		return 0, nil
	}

	runs, err := client.LatestRuns()
	if err != nil {
		return 0, err
	}

	restored := 0
	for name, run := range runs {
		id, err := nw.NodeID(name)
		if err != nil {
			continue
		}
		n, err := nw.Node(id)
		if err != nil {
			continue
		}
		if err := applyStored(n, run.Parameters); err != nil {
			emit("warn", "system.error", map[string]interface{}{
				"error": fmt.Sprintf("restore skipped node %q: %v", name, err),
			})
			continue
		}
		restored++
	}

	if restored > 0 {
		emit("info", "calibration.restored", map[string]interface{}{
			"nodes": restored,
		})
	}
	return restored, nil
}

func applyStored(n node.Node, params map[string]float64) error {
	info, err := n.ParameterInfo(false)
	if err != nil {
		return err
	}
	values := make([]float64, len(info))
	for i, p := range info {
		v, ok := params[p.Name]
		if !ok {
			return fmt.Errorf("missing parameter %q", p.Name)
		}
		values[i] = v
	}
	return n.UpdateParameters(values...)
}
