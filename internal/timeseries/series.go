// Package timeseries holds the sampled records that drive and score
// simulations: regularly spaced value series, forcing datasets, and the
// pairing rules used when observed and simulated records overlap only
// partially.
package timeseries

import (
	"fmt"
	"math"
	"time"
)

// Missing marks a sample with no recorded value.
var Missing = math.NaN()

// IsMissing reports whether v is a missing sample.
func IsMissing(v float64) bool {
	return math.IsNaN(v)
}

// Series is a regularly sampled record. Values are indexed from Start in
// increments of Step; missing samples are NaN.
type Series struct {
	Start  time.Time
	Step   time.Duration
	Values []float64
}

// New returns a Series over the given values. Step must be positive.
func New(start time.Time, step time.Duration, values []float64) (*Series, error) {
	if step <= 0 {
		return nil, fmt.Errorf("timeseries: step must be positive, got %s", step)
	}
	return &Series{Start: start, Step: step, Values: values}, nil
}

// Len returns the number of samples.
func (s *Series) Len() int {
	return len(s.Values)
}

// TimeAt returns the timestamp of sample i.
func (s *Series) TimeAt(i int) time.Time {
	return s.Start.Add(time.Duration(i) * s.Step)
}

// Index returns the sample index for timestamp t, or -1 if t precedes
// Start or does not fall on the sampling grid.
func (s *Series) Index(t time.Time) int {
	if s.Step <= 0 || t.Before(s.Start) {
		return -1
	}
	d := t.Sub(s.Start)
	if d%s.Step != 0 {
		return -1
	}
	return int(d / s.Step)
}

// SetAt records a value at timestamp t, growing the series with missing
// samples as needed. Timestamps off the sampling grid are rejected.
func (s *Series) SetAt(t time.Time, v float64) error {
	i := s.Index(t)
	if i < 0 {
		return fmt.Errorf("timeseries: timestamp %s is not on the sampling grid (start=%s step=%s)",
			t.Format(time.RFC3339), s.Start.Format(time.RFC3339), s.Step)
	}
	for len(s.Values) <= i {
		s.Values = append(s.Values, Missing)
	}
	s.Values[i] = v
	return nil
}

// Copy returns a deep copy of the series.
func (s *Series) Copy() *Series {
	vals := make([]float64, len(s.Values))
	copy(vals, s.Values)
	return &Series{Start: s.Start, Step: s.Step, Values: vals}
}

// Paired returns the samples where both observed and simulated carry a
// value, dropping any pair with a missing side. The inputs are compared
// positionally over their common length.
func Paired(observed, simulated []float64) (obs, sim []float64) {
	n := len(observed)
	if len(simulated) < n {
		n = len(simulated)
	}
	obs = make([]float64, 0, n)
	sim = make([]float64, 0, n)
	for i := 0; i < n; i++ {
		if IsMissing(observed[i]) || IsMissing(simulated[i]) {
			continue
		}
		obs = append(obs, observed[i])
		sim = append(sim, simulated[i])
	}
	return obs, sim
}

// Forcing is the external input record a node is run over. Rain and Evap
// span the simulation period; Extraction and Exchange are optional and, when
// present, must match the period length.
type Forcing struct {
	Start      time.Time
	Step       time.Duration
	Rain       []float64
	Evap       []float64
	Extraction []float64
	Exchange   []float64
}

// Len returns the number of simulation steps.
func (f *Forcing) Len() int {
	return len(f.Rain)
}

// Validate checks that the forcing record is internally consistent.
func (f *Forcing) Validate() error {
	if f.Step <= 0 {
		return fmt.Errorf("timeseries: forcing step must be positive, got %s", f.Step)
	}
	if len(f.Rain) == 0 {
		return fmt.Errorf("timeseries: forcing has no rain record")
	}
	if len(f.Evap) != len(f.Rain) {
		return fmt.Errorf("timeseries: evap length %d does not match rain length %d", len(f.Evap), len(f.Rain))
	}
	if f.Extraction != nil && len(f.Extraction) != len(f.Rain) {
		return fmt.Errorf("timeseries: extraction length %d does not match rain length %d", len(f.Extraction), len(f.Rain))
	}
	if f.Exchange != nil && len(f.Exchange) != len(f.Rain) {
		return fmt.Errorf("timeseries: exchange length %d does not match rain length %d", len(f.Exchange), len(f.Rain))
	}
	return nil
}
