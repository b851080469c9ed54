package calibrate

import (
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/openhydrology/flume/internal/optimizer"
	"github.com/openhydrology/flume/internal/storage/postgres"
)

// Result records one node's calibration. Upstream holds the results of
// the nodes calibrated before it in the same session, mirroring the
// recursion.
type Result struct {
	RunID          string
	Node           string
	ParameterNames []string
	Best           optimizer.Result
	StartedAt      time.Time
	FinishedAt     time.Time
	Upstream       []*Result
}

// Parameters zips the parameter names with the best values found.
func (r *Result) Parameters() map[string]float64 {
	out := make(map[string]float64, len(r.ParameterNames))
	for i, name := range r.ParameterNames {
		if i < len(r.Best.Params) {
			out[name] = r.Best.Params[i]
		}
	}
	return out
}

// Flatten returns the results in execution order, upstream before
// downstream, the receiver last.
func (r *Result) Flatten() []*Result {
	var out []*Result
	for _, u := range r.Upstream {
		out = append(out, u.Flatten()...)
	}
	return append(out, r)
}

func (r *Result) runRow() postgres.RunRow {
	fitness := r.Best.Fitness
	if math.IsInf(fitness, -1) {
		fitness = -math.MaxFloat64
	}
	return postgres.RunRow{
		RunID:       r.RunID,
		Node:        r.Node,
		StartedAt:   r.StartedAt,
		FinishedAt:  r.FinishedAt,
		Fitness:     fitness,
		Stop:        string(r.Best.Stop),
		Evaluations: r.Best.Evaluations,
		Parameters:  r.Parameters(),
	}
}

// Save writes the result tree to path as a gob artifact. An empty path
// writes to a fresh file under the system temp directory. Returns the
// path written.
func Save(r *Result, path string) (string, error) {
	var f *os.File
	var err error
	if path == "" {
		f, err = os.CreateTemp("", "flume-run-*.gob")
	} else {
		f, err = os.Create(path)
	}
	if err != nil {
		return "", fmt.Errorf("failed to create artifact: %w", err)
	}

	if err := gob.NewEncoder(f).Encode(r); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to encode artifact: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close artifact: %w", err)
	}

	emit("info", "calibration.artifact_saved", map[string]interface{}{
		"node": r.Node,
		"path": f.Name(),
	})
	return f.Name(), nil
}

// Load reads a result tree saved by Save.
func Load(path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact: %w", err)
	}
	defer f.Close()

	var r Result
	if err := gob.NewDecoder(f).Decode(&r); err != nil {
		return nil, fmt.Errorf("failed to decode artifact: %w", err)
	}
	return &r, nil
}
