package metrics

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// SysHealth represents real-time process metrics.
type SysHealth struct {
	AllocMB      uint64 `json:"allocMb"`
	TotalAllocMB uint64 `json:"totalAllocMb"`
	SysMB        uint64 `json:"sysMb"`
	NumGC        uint32 `json:"numGc"`
	Goroutines   int    `json:"goroutines"`
	DataDiskSize string `json:"dataDiskSize"`
	Uptime       string `json:"uptime"`
}

var startedAt = time.Now()

// GetSysHealth collects process health and the size of dataPath.
func GetSysHealth(dataPath string) SysHealth {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return SysHealth{
		AllocMB:      m.Alloc / 1024 / 1024,
		TotalAllocMB: m.TotalAlloc / 1024 / 1024,
		SysMB:        m.Sys / 1024 / 1024,
		NumGC:        m.NumGC,
		Goroutines:   runtime.NumGoroutine(),
		DataDiskSize: formatBytes(dirSize(dataPath)),
		Uptime:       time.Since(startedAt).Round(time.Second).String(),
	}
}

// DatabaseHealth describes the plan database file and its schema.
type DatabaseHealth struct {
	Path          string `json:"path"`
	Size          string `json:"size"`
	SchemaVersion uint   `json:"schemaVersion"`
	SchemaDirty   bool   `json:"schemaDirty"`
}

// GenerationHealth summarises the generation stages of a recent window.
type GenerationHealth struct {
	Window    string `json:"window"`
	Stages    int    `json:"stages"`
	Failures  int    `json:"failures"`
	Tokens    int    `json:"tokens"`
	LastStage string `json:"lastStage,omitempty"`
}

// Health is the full health report of a running engine.
type Health struct {
	System     SysHealth        `json:"system"`
	Database   DatabaseHealth   `json:"database"`
	Generation GenerationHealth `json:"generation"`
}

// Health reports process health, the database schema and the generation
// activity of the last window.
func (s *Store) Health(ctx context.Context, window time.Duration) (Health, error) {
	h := Health{
		System: GetSysHealth(filepath.Dir(s.path)),
		Database: DatabaseHealth{
			Path: s.path,
			Size: formatBytes(fileSize(s.path) + fileSize(s.path+"-wal")),
		},
		Generation: GenerationHealth{Window: window.String()},
	}

	err := s.db.QueryRowContext(ctx, `SELECT version, dirty FROM schema_migrations LIMIT 1`).
		Scan(&h.Database.SchemaVersion, &h.Database.SchemaDirty)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return h, fmt.Errorf("failed to read schema version: %w", err)
	}

	since := time.Now().UTC().Add(-window)
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN success THEN 0 ELSE 1 END), 0),
		       COALESCE(SUM(prompt_tokens + completion_tokens), 0),
		       COALESCE(MAX(timestamp), '')
		FROM generation_metrics
		WHERE timestamp >= ?`, since).
		Scan(&h.Generation.Stages, &h.Generation.Failures, &h.Generation.Tokens, &h.Generation.LastStage)
	if err != nil {
		return h, fmt.Errorf("failed to summarise generation metrics: %w", err)
	}
	return h, nil
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

func dirSize(path string) int64 {
	var size int64
	_ = filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size
}

func formatBytes(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}
