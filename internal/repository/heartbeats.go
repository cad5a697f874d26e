package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// HeartbeatsRepository upserts job heartbeats into system_jobs. Written by
// every job run, read only by external monitoring.
type HeartbeatsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewHeartbeatsRepository creates the heartbeats repository.
func NewHeartbeatsRepository(db *sql.DB, logger *zap.Logger) *HeartbeatsRepository {
	return &HeartbeatsRepository{
		db:     db,
		logger: logger,
	}
}

// Upsert records the latest run of a job. Last write wins.
func (r *HeartbeatsRepository) Upsert(ctx context.Context, jobCode, status, details string, now time.Time) error {
	if jobCode == "" {
		return fmt.Errorf("job_code is required")
	}
	if status == "" {
		return fmt.Errorf("status is required")
	}

	query := `
		INSERT INTO system_jobs (job_code, last_run_at, status, details, updated_at)
		VALUES ($1, $2, $3, $4, $2)
		ON CONFLICT (job_code) DO UPDATE SET
			last_run_at = EXCLUDED.last_run_at,
			status = EXCLUDED.status,
			details = EXCLUDED.details,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.ExecContext(ctx, query, jobCode, now, status, details)
	if err != nil {
		return fmt.Errorf("failed to upsert heartbeat: %w", err)
	}
	return nil
}
