// Package metricsstore persists per-job, per-step, per-model token usage and
// cost, and aggregates it back into a model.Metrics snapshot for a Job.
package metricsstore

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/antigravity-dev/chakravarti/internal/model"
)

// Store provides SQLite-backed persistence for step-level usage records.
type Store struct {
	db *sql.DB
}

// Usage is one recorded completion call's token and cost accounting.
type Usage struct {
	ID           int64
	JobID        string
	StepID       string
	AttemptID    string
	ModelID      string
	InputTokens  int64
	OutputTokens int64
	CostUSD      float64
	RecordedAt   time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS step_usage (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id TEXT NOT NULL,
	step_id TEXT NOT NULL DEFAULT '',
	attempt_id TEXT NOT NULL DEFAULT '',
	model_id TEXT NOT NULL,
	input_tokens INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	cost_usd REAL NOT NULL DEFAULT 0,
	recorded_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_step_usage_job ON step_usage(job_id);
CREATE INDEX IF NOT EXISTS idx_step_usage_job_model ON step_usage(job_id, model_id);
`

// Open creates or opens a SQLite database at dbPath and ensures the schema
// exists.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("metricsstore: open %s: %w", dbPath, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("metricsstore: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordStepUsage appends one completion call's usage, attributed to a Job,
// Step, Attempt, and the model that served it.
func (s *Store) RecordStepUsage(jobID, stepID, attemptID, modelID string, inputTokens, outputTokens int64, costUSD float64) error {
	_, err := s.db.Exec(
		`INSERT INTO step_usage (job_id, step_id, attempt_id, model_id, input_tokens, output_tokens, cost_usd) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		jobID, stepID, attemptID, modelID, inputTokens, outputTokens, costUSD,
	)
	if err != nil {
		return fmt.Errorf("metricsstore: record step usage: %w", err)
	}
	return nil
}

// JobMetrics aggregates every recorded usage row for jobID into a
// model.Metrics snapshot, broken down per model.
func (s *Store) JobMetrics(jobID string) (model.Metrics, error) {
	metrics := model.Metrics{JobID: jobID, ByModel: make(map[string]float64)}

	row := s.db.QueryRow(
		`SELECT COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0), COALESCE(SUM(cost_usd), 0)
		 FROM step_usage WHERE job_id = ?`, jobID,
	)
	if err := row.Scan(&metrics.InputTokens, &metrics.OutputTokens, &metrics.CostUSD); err != nil {
		return model.Metrics{}, fmt.Errorf("metricsstore: aggregate job metrics: %w", err)
	}

	rows, err := s.db.Query(
		`SELECT model_id, COALESCE(SUM(cost_usd), 0) FROM step_usage WHERE job_id = ? GROUP BY model_id`, jobID,
	)
	if err != nil {
		return model.Metrics{}, fmt.Errorf("metricsstore: aggregate per-model cost: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var modelID string
		var cost float64
		if err := rows.Scan(&modelID, &cost); err != nil {
			return model.Metrics{}, fmt.Errorf("metricsstore: scan per-model cost: %w", err)
		}
		metrics.ByModel[modelID] = cost
	}
	if err := rows.Err(); err != nil {
		return model.Metrics{}, fmt.Errorf("metricsstore: iterate per-model cost: %w", err)
	}

	return metrics, nil
}

// StepUsage returns every usage row recorded for a single step, ordered by
// recorded_at, for drilling into a step's cost after the fact.
func (s *Store) StepUsage(jobID, stepID string) ([]Usage, error) {
	rows, err := s.db.Query(
		`SELECT id, job_id, step_id, attempt_id, model_id, input_tokens, output_tokens, cost_usd, recorded_at
		 FROM step_usage WHERE job_id = ? AND step_id = ? ORDER BY recorded_at ASC`,
		jobID, stepID,
	)
	if err != nil {
		return nil, fmt.Errorf("metricsstore: query step usage: %w", err)
	}
	defer rows.Close()

	var out []Usage
	for rows.Next() {
		var u Usage
		if err := rows.Scan(&u.ID, &u.JobID, &u.StepID, &u.AttemptID, &u.ModelID, &u.InputTokens, &u.OutputTokens, &u.CostUSD, &u.RecordedAt); err != nil {
			return nil, fmt.Errorf("metricsstore: scan step usage: %w", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("metricsstore: iterate step usage: %w", err)
	}
	return out, nil
}

// CostByModel returns total cost attributed to modelID across every job,
// within the trailing window ending now. A non-positive window returns
// all-time cost.
func (s *Store) CostByModel(modelID string, window time.Duration) (float64, error) {
	var cost float64
	var row *sql.Row
	if window > 0 {
		since := time.Now().Add(-window)
		row = s.db.QueryRow(
			`SELECT COALESCE(SUM(cost_usd), 0) FROM step_usage WHERE model_id = ? AND recorded_at >= ?`,
			modelID, since,
		)
	} else {
		row = s.db.QueryRow(
			`SELECT COALESCE(SUM(cost_usd), 0) FROM step_usage WHERE model_id = ?`, modelID,
		)
	}
	if err := row.Scan(&cost); err != nil {
		return 0, fmt.Errorf("metricsstore: aggregate cost by model: %w", err)
	}
	return cost, nil
}

// CostByJob returns total cost attributed to jobID within the trailing
// window ending now. A non-positive window returns all-time cost; this is
// JobMetrics' CostUSD field without the per-model breakdown, for callers
// that only need the scalar.
func (s *Store) CostByJob(jobID string, window time.Duration) (float64, error) {
	var cost float64
	var row *sql.Row
	if window > 0 {
		since := time.Now().Add(-window)
		row = s.db.QueryRow(
			`SELECT COALESCE(SUM(cost_usd), 0) FROM step_usage WHERE job_id = ? AND recorded_at >= ?`,
			jobID, since,
		)
	} else {
		row = s.db.QueryRow(
			`SELECT COALESCE(SUM(cost_usd), 0) FROM step_usage WHERE job_id = ?`, jobID,
		)
	}
	if err := row.Scan(&cost); err != nil {
		return 0, fmt.Errorf("metricsstore: aggregate cost by job: %w", err)
	}
	return cost, nil
}

// RollingWindowCost sums cost across every job and model in the trailing
// window ending now, the shape a rate limiter or budget dashboard consumes
// to answer "how much have we spent in the last 5 hours/week".
func (s *Store) RollingWindowCost(window time.Duration) (float64, error) {
	since := time.Now().Add(-window)
	var cost float64
	row := s.db.QueryRow(`SELECT COALESCE(SUM(cost_usd), 0) FROM step_usage WHERE recorded_at >= ?`, since)
	if err := row.Scan(&cost); err != nil {
		return 0, fmt.Errorf("metricsstore: aggregate rolling window cost: %w", err)
	}
	return cost, nil
}

// BudgetExceeded reports whether jobID's accumulated cost has reached or
// passed budgetUSD, used by the Orchestrator to enforce JobConfig.BudgetUSD
// (KindBudgetExceeded is terminal, per model.Terminal).
func (s *Store) BudgetExceeded(jobID string, budgetUSD float64) (bool, error) {
	if budgetUSD <= 0 {
		return false, nil
	}
	metrics, err := s.JobMetrics(jobID)
	if err != nil {
		return false, err
	}
	return metrics.CostUSD >= budgetUSD, nil
}
