package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// RunRow represents a completed calibration run stored in Postgres.
type RunRow struct {
	RunID       string             `json:"run_id"`
	BasinID     string             `json:"basin_id"`
	Node        string             `json:"node"`
	StartedAt   time.Time          `json:"started_at"`
	FinishedAt  time.Time          `json:"finished_at"`
	Fitness     float64            `json:"fitness"`
	Stop        string             `json:"stop"`
	Evaluations int                `json:"evaluations"`
	Parameters  map[string]float64 `json:"parameters"`
}

// AppendRun inserts a calibration run record.
func (c *Client) AppendRun(r RunRow) error {
	paramsJSON, err := json.Marshal(r.Parameters)
	if err != nil {
		return fmt.Errorf("failed to marshal parameters: %w", err)
	}

	query := `
		INSERT INTO calibration_runs (run_id, basin_id, node, started_at, finished_at, fitness, stop, evaluations, parameters)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = c.db.Exec(query, r.RunID, c.basinID, r.Node, r.StartedAt, r.FinishedAt, r.Fitness, r.Stop, r.Evaluations, paramsJSON)
	return err
}

// LatestRuns returns the most recent run per node for this basin.
func (c *Client) LatestRuns() (map[string]RunRow, error) {
	query := `
		SELECT DISTINCT ON (node) run_id, basin_id, node, started_at, finished_at, fitness, stop, evaluations, parameters
		FROM calibration_runs
		WHERE basin_id = $1
		ORDER BY node, finished_at DESC
	`
	rows, err := c.db.Query(query, c.basinID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]RunRow)
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out[r.Node] = r
	}
	return out, rows.Err()
}

// RecentRuns returns the last N runs for this basin in descending order by finish time.
func (c *Client) RecentRuns(limit int) ([]RunRow, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 1000 {
		limit = 1000
	}

	query := `
		SELECT run_id, basin_id, node, started_at, finished_at, fitness, stop, evaluations, parameters
		FROM calibration_runs
		WHERE basin_id = $1
		ORDER BY finished_at DESC
		LIMIT $2
	`
	rows, err := c.db.Query(query, c.basinID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRow
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRun(rows *sql.Rows) (RunRow, error) {
	var r RunRow
	var paramsJSON []byte
	if err := rows.Scan(&r.RunID, &r.BasinID, &r.Node, &r.StartedAt, &r.FinishedAt, &r.Fitness, &r.Stop, &r.Evaluations, &paramsJSON); err != nil {
		return r, err
	}
	if len(paramsJSON) > 0 {
		if err := json.Unmarshal(paramsJSON, &r.Parameters); err != nil {
			return r, fmt.Errorf("failed to unmarshal parameters: %w", err)
		}
	}
	return r, nil
}
