package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wisefido-notify/internal/models"
)

func setupMockHeartbeatsDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *HeartbeatsRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	logger := zap.NewNop()
	repo := NewHeartbeatsRepository(db, logger)

	return db, mock, repo
}

func TestHeartbeatUpsert_Success(t *testing.T) {
	db, mock, repo := setupMockHeartbeatsDB(t)
	defer db.Close()

	ctx := context.Background()
	now := time.Now()
	details := "Processed 3 due rules (0 failed), raised 2 issues, queued 4 notifications"

	mock.ExpectExec(`INSERT INTO system_jobs`).
		WithArgs(models.JobCodeRuleRunner, now, models.JobStatusOK, details).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.Upsert(ctx, models.JobCodeRuleRunner, models.JobStatusOK, details, now)

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHeartbeatUpsert_MissingJobCode(t *testing.T) {
	db, mock, repo := setupMockHeartbeatsDB(t)
	defer db.Close()

	err := repo.Upsert(context.Background(), "", models.JobStatusOK, "", time.Now())

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "job_code is required")

	require.NoError(t, mock.ExpectationsWereMet())
}
