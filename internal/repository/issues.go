package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"wisefido-notify/internal/models"
)

// IssuesRepository owns the notification_issues table: dedup lookup,
// detection refresh, and the operator mutation contract.
type IssuesRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewIssuesRepository creates the issues repository.
func NewIssuesRepository(db *sql.DB, logger *zap.Logger) *IssuesRepository {
	return &IssuesRepository{
		db:     db,
		logger: logger,
	}
}

// IssueFilters narrows ListIssues results.
type IssueFilters struct {
	Status     *string
	Severity   *string
	RuleID     *string
	AssignedTo *string
	Search     *string    // matches title, entity_id
	DateFrom   *time.Time // first_detected_at >= DateFrom
	DateTo     *time.Time // first_detected_at <= DateTo
	Unresolved bool       // status IN (OPEN, IN_PROGRESS)
}

const issueColumns = `
		id,
		rule_id,
		entity_type,
		entity_id,
		title,
		context,
		severity,
		status,
		assigned_to,
		first_detected_at,
		last_detected_at,
		resolved_at,
		snoozed_until,
		resolution_notes,
		created_at,
		updated_at`

// GetByDedupKey looks up the issue for (rule_id, entity_type, entity_id).
// Returns nil when no issue exists.
func (r *IssuesRepository) GetByDedupKey(ctx context.Context, ruleID, entityType, entityID string) (*models.Issue, error) {
	if ruleID == "" {
		return nil, fmt.Errorf("rule_id is required")
	}
	if entityType == "" {
		return nil, fmt.Errorf("entity_type is required")
	}
	if entityID == "" {
		return nil, fmt.Errorf("entity_id is required")
	}

	query := `
		SELECT ` + issueColumns + `
		FROM notification_issues
		WHERE rule_id = $1
		  AND entity_type = $2
		  AND entity_id = $3
	`

	issue, err := scanIssueRow(r.db.QueryRowContext(ctx, query, ruleID, entityType, entityID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get issue: %w", err)
	}
	return issue, nil
}

// GetByID returns one issue by id.
func (r *IssuesRepository) GetByID(ctx context.Context, issueID string) (*models.Issue, error) {
	if issueID == "" {
		return nil, fmt.Errorf("issue_id is required")
	}

	query := `
		SELECT ` + issueColumns + `
		FROM notification_issues
		WHERE id = $1
	`

	issue, err := scanIssueRow(r.db.QueryRowContext(ctx, query, issueID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("issue not found: id=%s", issueID)
		}
		return nil, fmt.Errorf("failed to get issue: %w", err)
	}
	return issue, nil
}

// Create inserts a new OPEN issue. The dedup key carries a unique
// constraint; when a concurrent runner wins the insert race this returns
// nil and the caller re-reads the existing issue.
func (r *IssuesRepository) Create(ctx context.Context, rule *models.Rule, entityID, title string, contextJSON json.RawMessage, assignedTo *string, now time.Time) (*models.Issue, error) {
	if rule == nil {
		return nil, fmt.Errorf("rule is required")
	}
	if entityID == "" {
		return nil, fmt.Errorf("entity_id is required")
	}
	if len(contextJSON) == 0 {
		contextJSON = json.RawMessage("{}")
	}

	query := `
		INSERT INTO notification_issues (
			id,
			rule_id,
			entity_type,
			entity_id,
			title,
			context,
			severity,
			status,
			assigned_to,
			first_detected_at,
			last_detected_at,
			created_at,
			updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
		)
		ON CONFLICT (rule_id, entity_type, entity_id) DO NOTHING
		RETURNING ` + issueColumns + `
	`

	issue, err := scanIssueRow(r.db.QueryRowContext(ctx, query,
		uuid.New().String(),
		rule.ID,
		rule.EntityType,
		entityID,
		title,
		[]byte(contextJSON),
		rule.Severity,
		models.IssueStatusOpen,
		assignedTo,
		now,
		now,
		now,
		now,
	))
	if err != nil {
		if err == sql.ErrNoRows {
			// Lost the insert race; the issue already exists.
			return nil, nil
		}
		return nil, fmt.Errorf("failed to create issue: %w", err)
	}
	return issue, nil
}

// RefreshDetection records a repeat detection on an existing issue. The
// title is rewritten only when withTitle is set (snoozed issues keep their
// title). Status is never touched here.
func (r *IssuesRepository) RefreshDetection(ctx context.Context, issueID, title string, contextJSON json.RawMessage, withTitle bool, now time.Time) error {
	if issueID == "" {
		return fmt.Errorf("issue_id is required")
	}
	if len(contextJSON) == 0 {
		contextJSON = json.RawMessage("{}")
	}

	var query string
	var args []interface{}
	if withTitle {
		query = `
			UPDATE notification_issues
			SET last_detected_at = $1,
			    title = $2,
			    context = $3,
			    updated_at = $1
			WHERE id = $4
		`
		args = []interface{}{now, title, []byte(contextJSON), issueID}
	} else {
		query = `
			UPDATE notification_issues
			SET last_detected_at = $1,
			    context = $2,
			    updated_at = $1
			WHERE id = $3
		`
		args = []interface{}{now, []byte(contextJSON), issueID}
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to refresh issue: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read refresh result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("issue not found: id=%s", issueID)
	}
	return nil
}

// ============================================
// Operator mutation contract
// ============================================

// UpdateStatus transitions an issue's status. RESOLVED sets resolved_at;
// notes, when given, replace resolution_notes.
func (r *IssuesRepository) UpdateStatus(ctx context.Context, issueID, status string, notes *string) error {
	if issueID == "" {
		return fmt.Errorf("issue_id is required")
	}
	if !validIssueStatus(status) {
		return fmt.Errorf("invalid status: %s", status)
	}

	query := `
		UPDATE notification_issues
		SET status = $1,
		    resolution_notes = COALESCE($2, resolution_notes),
		    resolved_at = CASE WHEN $1 = 'RESOLVED' THEN now() ELSE resolved_at END,
		    updated_at = now()
		WHERE id = $3
	`

	result, err := r.db.ExecContext(ctx, query, status, notes, issueID)
	if err != nil {
		return fmt.Errorf("failed to update issue status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("issue not found: id=%s", issueID)
	}
	return nil
}

// BulkUpdateStatus transitions several issues at once. Returns the number
// of rows changed.
func (r *IssuesRepository) BulkUpdateStatus(ctx context.Context, issueIDs []string, status string, notes *string) (int64, error) {
	if len(issueIDs) == 0 {
		return 0, fmt.Errorf("issue_ids are required")
	}
	if !validIssueStatus(status) {
		return 0, fmt.Errorf("invalid status: %s", status)
	}

	placeholders := make([]string, len(issueIDs))
	args := []interface{}{status, notes}
	for i, id := range issueIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+3)
		args = append(args, id)
	}

	query := fmt.Sprintf(`
		UPDATE notification_issues
		SET status = $1,
		    resolution_notes = COALESCE($2, resolution_notes),
		    resolved_at = CASE WHEN $1 = 'RESOLVED' THEN now() ELSE resolved_at END,
		    updated_at = now()
		WHERE id IN (%s)
	`, strings.Join(placeholders, ", "))

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to bulk update issues: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read bulk update result: %w", err)
	}
	return affected, nil
}

// Snooze suppresses notifications for the issue until the given time.
// Duration is bounded to 1-72 hours from now.
func (r *IssuesRepository) Snooze(ctx context.Context, issueID string, until, now time.Time) error {
	if issueID == "" {
		return fmt.Errorf("issue_id is required")
	}
	d := until.Sub(now)
	if d < time.Hour || d > 72*time.Hour {
		return fmt.Errorf("invalid snooze duration: must be 1-72 hours")
	}

	query := `
		UPDATE notification_issues
		SET snoozed_until = $1,
		    updated_at = $2
		WHERE id = $3
	`

	result, err := r.db.ExecContext(ctx, query, until, now, issueID)
	if err != nil {
		return fmt.Errorf("failed to snooze issue: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read snooze result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("issue not found: id=%s", issueID)
	}
	return nil
}

// Assign sets or clears the issue's assignee.
func (r *IssuesRepository) Assign(ctx context.Context, issueID string, userID *string) error {
	if issueID == "" {
		return fmt.Errorf("issue_id is required")
	}

	query := `
		UPDATE notification_issues
		SET assigned_to = $1,
		    updated_at = now()
		WHERE id = $2
	`

	result, err := r.db.ExecContext(ctx, query, userID, issueID)
	if err != nil {
		return fmt.Errorf("failed to assign issue: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read assign result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("issue not found: id=%s", issueID)
	}
	return nil
}

// AddNote appends a timestamped line to resolution_notes.
func (r *IssuesRepository) AddNote(ctx context.Context, issueID, note string, now time.Time) error {
	if issueID == "" {
		return fmt.Errorf("issue_id is required")
	}
	if note == "" {
		return fmt.Errorf("note is required")
	}

	line := fmt.Sprintf("\n[%s] %s", now.UTC().Format("2006-01-02 15:04:05"), note)
	query := `
		UPDATE notification_issues
		SET resolution_notes = COALESCE(resolution_notes, '') || $1,
		    updated_at = $2
		WHERE id = $3
	`

	result, err := r.db.ExecContext(ctx, query, line, now, issueID)
	if err != nil {
		return fmt.Errorf("failed to add note: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read add note result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("issue not found: id=%s", issueID)
	}
	return nil
}

// ListIssues returns issues matching the filters, most urgent first:
// active snoozes sink, then severity, status, and recency order.
func (r *IssuesRepository) ListIssues(ctx context.Context, filters IssueFilters, limit int) ([]models.Issue, error) {
	if limit <= 0 {
		limit = 100
	}

	sb := strings.Builder{}
	sb.WriteString(`
		SELECT ` + issueColumns + `
		FROM notification_issues
		WHERE 1=1
	`)
	args := []interface{}{}
	argN := 1

	addArg := func(clause string, value interface{}) {
		sb.WriteString(fmt.Sprintf(clause, argN))
		args = append(args, value)
		argN++
	}

	if filters.Status != nil {
		addArg(" AND status = $%d", *filters.Status)
	}
	if filters.Unresolved {
		sb.WriteString(" AND status IN ('OPEN', 'IN_PROGRESS')")
	}
	if filters.Severity != nil {
		addArg(" AND severity = $%d", *filters.Severity)
	}
	if filters.RuleID != nil {
		addArg(" AND rule_id = $%d", *filters.RuleID)
	}
	if filters.AssignedTo != nil {
		addArg(" AND assigned_to = $%d", *filters.AssignedTo)
	}
	if filters.Search != nil {
		pattern := "%" + *filters.Search + "%"
		sb.WriteString(fmt.Sprintf(" AND (title ILIKE $%d OR entity_id ILIKE $%d)", argN, argN+1))
		args = append(args, pattern, pattern)
		argN += 2
	}
	if filters.DateFrom != nil {
		addArg(" AND first_detected_at >= $%d", *filters.DateFrom)
	}
	if filters.DateTo != nil {
		addArg(" AND first_detected_at <= $%d", *filters.DateTo)
	}

	sb.WriteString(fmt.Sprintf(`
		ORDER BY
			CASE WHEN snoozed_until > now() THEN 1 ELSE 0 END,
			CASE severity WHEN 'CRITICAL' THEN 0 WHEN 'WARNING' THEN 1 ELSE 2 END,
			CASE status WHEN 'OPEN' THEN 0 WHEN 'IN_PROGRESS' THEN 1 WHEN 'RESOLVED' THEN 2 ELSE 3 END,
			last_detected_at DESC
		LIMIT $%d
	`, argN))
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list issues: %w", err)
	}
	defer rows.Close()

	var issues []models.Issue
	for rows.Next() {
		issue, err := scanIssueRows(rows)
		if err != nil {
			return nil, err
		}
		issues = append(issues, *issue)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate issues: %w", err)
	}
	return issues, nil
}

func validIssueStatus(status string) bool {
	switch status {
	case models.IssueStatusOpen, models.IssueStatusInProgress,
		models.IssueStatusResolved, models.IssueStatusIgnored:
		return true
	}
	return false
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanIssueRow(row rowScanner) (*models.Issue, error) {
	var issue models.Issue
	var contextJSON []byte
	var assignedTo, resolutionNotes sql.NullString
	var resolvedAt, snoozedUntil sql.NullTime

	err := row.Scan(
		&issue.ID,
		&issue.RuleID,
		&issue.EntityType,
		&issue.EntityID,
		&issue.Title,
		&contextJSON,
		&issue.Severity,
		&issue.Status,
		&assignedTo,
		&issue.FirstDetectedAt,
		&issue.LastDetectedAt,
		&resolvedAt,
		&snoozedUntil,
		&resolutionNotes,
		&issue.CreatedAt,
		&issue.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if assignedTo.Valid {
		issue.AssignedTo = &assignedTo.String
	}
	if resolutionNotes.Valid {
		issue.ResolutionNotes = &resolutionNotes.String
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		issue.ResolvedAt = &t
	}
	if snoozedUntil.Valid {
		t := snoozedUntil.Time
		issue.SnoozedUntil = &t
	}
	if len(contextJSON) > 0 {
		issue.Context = contextJSON
	} else {
		issue.Context = json.RawMessage("{}")
	}

	return &issue, nil
}

func scanIssueRows(rows *sql.Rows) (*models.Issue, error) {
	issue, err := scanIssueRow(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan issue: %w", err)
	}
	return issue, nil
}
