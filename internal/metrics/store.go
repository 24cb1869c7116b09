package metrics

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"mealsynth/internal/database"
	"mealsynth/internal/shared"
)

// StageMetric is one recorded generation stage.
type StageMetric struct {
	Pipeline         string
	Stage            string
	Model            string
	PromptTokens     int
	CompletionTokens int
	LatencyMS        int64
	Attempts         int
	Success          bool
	Timestamp        time.Time
}

// Store handles persistence of metrics to SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore initializes the Store with an open database.
func NewStore(db *database.DB) *Store {
	return &Store{db: db.SQL, path: db.Path}
}

// Record saves a metric to the database.
func (s *Store) Record(ctx context.Context, m StageMetric) error {
	ts := m.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO generation_metrics (pipeline, stage, model, prompt_tokens, completion_tokens, latency_ms, attempts, success, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.Pipeline, m.Stage, m.Model, m.PromptTokens, m.CompletionTokens, m.LatencyMS, m.Attempts, m.Success, ts,
	)
	if err != nil {
		return fmt.Errorf("failed to record metric: %w", err)
	}
	return nil
}

// RecordMeta records metrics directly from shared.StageMeta.
func (s *Store) RecordMeta(ctx context.Context, meta shared.StageMeta) error {
	return s.Record(ctx, FromStage(meta))
}

// DailyUsage represents token totals for a single day.
type DailyUsage struct {
	Date            string
	TotalPrompt     int
	TotalCompletion int
	TotalExecution  int
	Failures        int
}

// GetDailyUsage retrieves usage for the last N days.
func (s *Store) GetDailyUsage(ctx context.Context, days int) ([]DailyUsage, error) {
	since := time.Now().UTC().AddDate(0, 0, -days)
	rows, err := s.db.QueryContext(ctx, `
		SELECT substr(timestamp, 1, 10) AS day,
		       COALESCE(SUM(prompt_tokens), 0),
		       COALESCE(SUM(completion_tokens), 0),
		       COUNT(*),
		       COALESCE(SUM(CASE WHEN success THEN 0 ELSE 1 END), 0)
		FROM generation_metrics
		WHERE timestamp >= ?
		GROUP BY day
		ORDER BY day DESC`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily usage: %w", err)
	}
	defer rows.Close()

	var results []DailyUsage
	for rows.Next() {
		var u DailyUsage
		if err := rows.Scan(&u.Date, &u.TotalPrompt, &u.TotalCompletion, &u.TotalExecution, &u.Failures); err != nil {
			return nil, fmt.Errorf("failed to scan daily usage: %w", err)
		}
		results = append(results, u)
	}
	return results, rows.Err()
}

// Cleanup removes records older than the specified number of days.
func (s *Store) Cleanup(ctx context.Context, olderThanDays int) (int64, error) {
	threshold := time.Now().UTC().AddDate(0, 0, -olderThanDays)
	res, err := s.db.ExecContext(ctx, `DELETE FROM generation_metrics WHERE timestamp < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up metrics: %w", err)
	}
	return res.RowsAffected()
}

// FromStage converts a stage record into a StageMetric.
func FromStage(meta shared.StageMeta) StageMetric {
	return StageMetric{
		Pipeline:         meta.Pipeline,
		Stage:            meta.Stage,
		Model:            meta.Usage.Model,
		PromptTokens:     meta.Usage.PromptTokens,
		CompletionTokens: meta.Usage.CompletionTokens,
		LatencyMS:        meta.Latency.Milliseconds(),
		Attempts:         meta.Attempts,
		Success:          meta.Success,
		Timestamp:        time.Now().UTC(),
	}
}
