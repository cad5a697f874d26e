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
)

func setupMockDetectionDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *DetectionRunner) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	logger := zap.NewNop()
	runner := NewDetectionRunner(db, logger, 30*time.Second, 1000)

	return db, mock, runner
}

func TestDetectionRun_MapsColumns(t *testing.T) {
	db, mock, runner := setupMockDetectionDB(t)
	defer db.Close()

	ctx := context.Background()
	query := "SELECT id AS entity_id, owner AS recipient_id, ctx AS context FROM things"

	rows := sqlmock.NewRows([]string{"entity_id", "recipient_id", "context"}).
		AddRow("thing-1", "user-1", `{"size":10}`).
		AddRow("thing-2", nil, nil)

	mock.ExpectQuery(`SELECT`).WillReturnRows(rows)

	results, err := runner.Run(ctx, "TEST_RULE", query)

	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "thing-1", results[0].EntityID)
	require.NotNil(t, results[0].RecipientID)
	assert.Equal(t, "user-1", *results[0].RecipientID)
	assert.JSONEq(t, `{"size":10}`, string(results[0].Context))

	assert.Equal(t, "thing-2", results[1].EntityID)
	assert.Nil(t, results[1].RecipientID)
	assert.JSONEq(t, `{}`, string(results[1].Context))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDetectionRun_NumericEntityID(t *testing.T) {
	db, mock, runner := setupMockDetectionDB(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"entity_id"}).AddRow(int64(42))
	mock.ExpectQuery(`SELECT`).WillReturnRows(rows)

	results, err := runner.Run(context.Background(), "TEST_RULE", "SELECT id AS entity_id FROM things")

	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "42", results[0].EntityID)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDetectionRun_SkipsRowsWithoutEntityID(t *testing.T) {
	db, mock, runner := setupMockDetectionDB(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"entity_id", "custom_title"}).
		AddRow(nil, "ignored").
		AddRow("thing-1", "Custom title")

	mock.ExpectQuery(`SELECT`).WillReturnRows(rows)

	results, err := runner.Run(context.Background(), "TEST_RULE", "SELECT * FROM things")

	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "thing-1", results[0].EntityID)
	require.NotNil(t, results[0].CustomTitle)
	assert.Equal(t, "Custom title", *results[0].CustomTitle)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDetectionRun_MalformedContextBecomesEmpty(t *testing.T) {
	db, mock, runner := setupMockDetectionDB(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"entity_id", "context"}).
		AddRow("thing-1", `{not json`)

	mock.ExpectQuery(`SELECT`).WillReturnRows(rows)

	results, err := runner.Run(context.Background(), "TEST_RULE", "SELECT * FROM things")

	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.JSONEq(t, `{}`, string(results[0].Context))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDetectionRun_RowCap(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	runner := NewDetectionRunner(db, zap.NewNop(), 30*time.Second, 2)

	rows := sqlmock.NewRows([]string{"entity_id"}).
		AddRow("a").
		AddRow("b").
		AddRow("c")

	mock.ExpectQuery(`SELECT`).WillReturnRows(rows)

	results, err := runner.Run(context.Background(), "TEST_RULE", "SELECT id AS entity_id FROM things")

	require.NoError(t, err)
	assert.Len(t, results, 2)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureReadOnly(t *testing.T) {
	assert.NoError(t, ensureReadOnly("SELECT 1"))
	assert.NoError(t, ensureReadOnly("  select id as entity_id from t  "))
	assert.NoError(t, ensureReadOnly("WITH x AS (SELECT 1) SELECT * FROM x"))
	assert.NoError(t, ensureReadOnly("SELECT 1;"))

	assert.Error(t, ensureReadOnly(""))
	assert.Error(t, ensureReadOnly("DELETE FROM things"))
	assert.Error(t, ensureReadOnly("UPDATE things SET a = 1"))
	assert.Error(t, ensureReadOnly("SELECT 1; DROP TABLE things"))
}
