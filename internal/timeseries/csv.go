package timeseries

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Accepted timestamp layouts, tried in order.
var timeLayouts = []string{"2006-01-02", time.RFC3339}

func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("timeseries: unrecognized timestamp %q", s)
}

// parseValue reads one sample; an empty cell or "nan" is a missing sample.
func parseValue(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "nan") {
		return Missing, nil
	}
	return strconv.ParseFloat(s, 64)
}

func readRecords(path string, minCols int) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("timeseries: %s has no data rows", path)
	}
	for i, rec := range records {
		if len(rec) < minCols {
			return nil, fmt.Errorf("timeseries: %s row %d has %d columns, want at least %d", path, i+1, len(rec), minCols)
		}
	}
	return records, nil
}

// LoadSeriesCSV reads a two-column (timestamp, value) file with a header
// row. The sampling step is inferred from the first two timestamps.
func LoadSeriesCSV(path string) (*Series, error) {
	records, err := readRecords(path, 2)
	if err != nil {
		return nil, err
	}
	rows := records[1:]
	if len(rows) < 2 {
		return nil, fmt.Errorf("timeseries: %s needs at least two data rows to infer the step", path)
	}

	start, err := parseTime(rows[0][0])
	if err != nil {
		return nil, err
	}
	second, err := parseTime(rows[1][0])
	if err != nil {
		return nil, err
	}
	step := second.Sub(start)
	if step <= 0 {
		return nil, fmt.Errorf("timeseries: %s timestamps are not increasing", path)
	}

	values := make([]float64, 0, len(rows))
	for i, rec := range rows {
		v, err := parseValue(rec[1])
		if err != nil {
			return nil, fmt.Errorf("timeseries: %s row %d: %w", path, i+2, err)
		}
		values = append(values, v)
	}
	return New(start, step, values)
}

// LoadForcingCSV reads a forcing file with header
// timestamp,rain,evap[,extraction[,exchange]]. Optional columns are
// included only when present in the header.
func LoadForcingCSV(path string) (*Forcing, error) {
	records, err := readRecords(path, 3)
	if err != nil {
		return nil, err
	}
	header := records[0]
	rows := records[1:]
	if len(rows) < 2 {
		return nil, fmt.Errorf("timeseries: %s needs at least two data rows to infer the step", path)
	}

	start, err := parseTime(rows[0][0])
	if err != nil {
		return nil, err
	}
	second, err := parseTime(rows[1][0])
	if err != nil {
		return nil, err
	}
	step := second.Sub(start)
	if step <= 0 {
		return nil, fmt.Errorf("timeseries: %s timestamps are not increasing", path)
	}

	f := &Forcing{
		Start: start,
		Step:  step,
		Rain:  make([]float64, 0, len(rows)),
		Evap:  make([]float64, 0, len(rows)),
	}
	if len(header) > 3 {
		f.Extraction = make([]float64, 0, len(rows))
	}
	if len(header) > 4 {
		f.Exchange = make([]float64, 0, len(rows))
	}

	for i, rec := range rows {
		cols := make([]float64, 0, 4)
		for c := 1; c < len(header) && c < len(rec); c++ {
			v, err := parseValue(rec[c])
			if err != nil {
				return nil, fmt.Errorf("timeseries: %s row %d column %d: %w", path, i+2, c+1, err)
			}
			cols = append(cols, v)
		}
		f.Rain = append(f.Rain, cols[0])
		f.Evap = append(f.Evap, cols[1])
		if f.Extraction != nil && len(cols) > 2 {
			f.Extraction = append(f.Extraction, cols[2])
		}
		if f.Exchange != nil && len(cols) > 3 {
			f.Exchange = append(f.Exchange, cols[3])
		}
	}

	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}
