package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"wisefido-notify/internal/models"
)

// NotificationsRepository owns the notifications table: throttle checks,
// pending-claim for the dispatcher, and the inbox read contract.
type NotificationsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewNotificationsRepository creates the notifications repository.
func NewNotificationsRepository(db *sql.DB, logger *zap.Logger) *NotificationsRepository {
	return &NotificationsRepository{
		db:     db,
		logger: logger,
	}
}

const notificationColumns = `
		id,
		issue_id,
		rule_id,
		recipient_id,
		channel,
		message_title,
		message_body,
		status,
		error_message,
		created_at,
		sent_at,
		read_at,
		updated_at`

// ExistsRecent reports whether a notification for the same
// (issue, recipient, channel) was created within the last cooldownMinutes.
// This is the per-recipient-per-channel throttle.
func (r *NotificationsRepository) ExistsRecent(ctx context.Context, issueID, recipientID, channel string, cooldownMinutes int, now time.Time) (bool, error) {
	if issueID == "" {
		return false, fmt.Errorf("issue_id is required")
	}
	if recipientID == "" {
		return false, fmt.Errorf("recipient_id is required")
	}
	if channel == "" {
		return false, fmt.Errorf("channel is required")
	}
	if cooldownMinutes <= 0 {
		return false, nil
	}

	cutoff := now.Add(-time.Duration(cooldownMinutes) * time.Minute)
	query := `
		SELECT 1
		FROM notifications
		WHERE issue_id = $1
		  AND recipient_id = $2
		  AND channel = $3
		  AND created_at > $4
		LIMIT 1
	`

	var one int
	err := r.db.QueryRowContext(ctx, query, issueID, recipientID, channel, cutoff).Scan(&one)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("failed to check recent notifications: %w", err)
	}
	return true, nil
}

// Create inserts one PENDING notification.
func (r *NotificationsRepository) Create(ctx context.Context, issueID *string, ruleID, recipientID, channel, title, body string, now time.Time) (*models.Notification, error) {
	if ruleID == "" {
		return nil, fmt.Errorf("rule_id is required")
	}
	if recipientID == "" {
		return nil, fmt.Errorf("recipient_id is required")
	}
	if channel == "" {
		return nil, fmt.Errorf("channel is required")
	}

	n := &models.Notification{
		ID:           uuid.New().String(),
		IssueID:      issueID,
		RuleID:       ruleID,
		RecipientID:  recipientID,
		Channel:      channel,
		MessageTitle: title,
		MessageBody:  body,
		Status:       models.NotificationStatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	query := `
		INSERT INTO notifications (
			id,
			issue_id,
			rule_id,
			recipient_id,
			channel,
			message_title,
			message_body,
			status,
			created_at,
			updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)
	`

	_, err := r.db.ExecContext(ctx, query,
		n.ID,
		n.IssueID,
		n.RuleID,
		n.RecipientID,
		n.Channel,
		n.MessageTitle,
		n.MessageBody,
		n.Status,
		n.CreatedAt,
		n.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create notification: %w", err)
	}
	return n, nil
}

// RequeueStale returns SENDING rows older than maxAge to PENDING. Recovers
// claims orphaned by a crashed dispatcher run; delivery stays at-least-once.
func (r *NotificationsRepository) RequeueStale(ctx context.Context, maxAge time.Duration, now time.Time) (int64, error) {
	cutoff := now.Add(-maxAge)
	query := `
		UPDATE notifications
		SET status = $1,
		    updated_at = $2
		WHERE status = $3
		  AND updated_at < $4
	`

	result, err := r.db.ExecContext(ctx, query,
		models.NotificationStatusPending, now,
		models.NotificationStatusSending, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue stale notifications: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read requeue result: %w", err)
	}
	return affected, nil
}

// ClaimPending atomically flips up to batchSize of the oldest PENDING rows
// to SENDING and returns them joined with recipient contact details.
// FOR UPDATE SKIP LOCKED keeps two concurrent dispatcher runs from ever
// claiming the same row.
func (r *NotificationsRepository) ClaimPending(ctx context.Context, batchSize int, now time.Time) ([]models.Delivery, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch_size must be positive")
	}

	query := `
		WITH claim AS (
			SELECT id
			FROM notifications
			WHERE status = $3
			ORDER BY created_at ASC
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		UPDATE notifications n
		SET status = $1,
		    updated_at = $2
		FROM claim
		WHERE n.id = claim.id
		RETURNING
			n.id, n.issue_id, n.rule_id, n.recipient_id, n.channel,
			n.message_title, n.message_body, n.status, n.error_message,
			n.created_at, n.sent_at, n.read_at, n.updated_at,
			(SELECT u.email FROM users u WHERE u.id = n.recipient_id),
			(SELECT u.name FROM users u WHERE u.id = n.recipient_id)
	`

	rows, err := r.db.QueryContext(ctx, query,
		models.NotificationStatusSending, now,
		models.NotificationStatusPending, batchSize,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to claim pending notifications: %w", err)
	}
	defer rows.Close()

	var deliveries []models.Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		deliveries = append(deliveries, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate claimed notifications: %w", err)
	}
	return deliveries, nil
}

// MarkSent transitions a claimed notification to SENT.
func (r *NotificationsRepository) MarkSent(ctx context.Context, notificationID string, now time.Time) error {
	if notificationID == "" {
		return fmt.Errorf("notification_id is required")
	}

	query := `
		UPDATE notifications
		SET status = $1,
		    sent_at = $2,
		    updated_at = $2
		WHERE id = $3
		  AND status = $4
	`

	result, err := r.db.ExecContext(ctx, query,
		models.NotificationStatusSent, now, notificationID,
		models.NotificationStatusSending,
	)
	if err != nil {
		return fmt.Errorf("failed to mark notification sent: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read mark sent result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("notification not claimed: id=%s", notificationID)
	}
	return nil
}

// MarkFailed transitions a claimed notification to FAILED with the cause.
// FAILED is terminal; re-queueing is an operator action.
func (r *NotificationsRepository) MarkFailed(ctx context.Context, notificationID, errorMessage string, now time.Time) error {
	if notificationID == "" {
		return fmt.Errorf("notification_id is required")
	}
	if errorMessage == "" {
		errorMessage = "send failed"
	}

	query := `
		UPDATE notifications
		SET status = $1,
		    error_message = $2,
		    updated_at = $3
		WHERE id = $4
		  AND status = $5
	`

	result, err := r.db.ExecContext(ctx, query,
		models.NotificationStatusFailed, errorMessage, now, notificationID,
		models.NotificationStatusSending,
	)
	if err != nil {
		return fmt.Errorf("failed to mark notification failed: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read mark failed result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("notification not claimed: id=%s", notificationID)
	}
	return nil
}

// ============================================
// Inbox read contract
// ============================================

// MarkRead flips one SENT notification owned by the recipient to READ.
func (r *NotificationsRepository) MarkRead(ctx context.Context, notificationID, recipientID string, now time.Time) error {
	if notificationID == "" {
		return fmt.Errorf("notification_id is required")
	}
	if recipientID == "" {
		return fmt.Errorf("recipient_id is required")
	}

	query := `
		UPDATE notifications
		SET status = $1,
		    read_at = $2,
		    updated_at = $2
		WHERE id = $3
		  AND recipient_id = $4
		  AND status = $5
	`

	result, err := r.db.ExecContext(ctx, query,
		models.NotificationStatusRead, now, notificationID, recipientID,
		models.NotificationStatusSent,
	)
	if err != nil {
		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read mark read result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("notification not found or not readable: id=%s", notificationID)
	}
	return nil
}

// MarkAllRead flips every SENT notification of the recipient to READ.
func (r *NotificationsRepository) MarkAllRead(ctx context.Context, recipientID string, now time.Time) (int64, error) {
	if recipientID == "" {
		return 0, fmt.Errorf("recipient_id is required")
	}

	query := `
		UPDATE notifications
		SET status = $1,
		    read_at = $2,
		    updated_at = $2
		WHERE recipient_id = $3
		  AND status = $4
	`

	result, err := r.db.ExecContext(ctx, query,
		models.NotificationStatusRead, now, recipientID,
		models.NotificationStatusSent,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to mark all read: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read mark all read result: %w", err)
	}
	return affected, nil
}

// CountUnread returns the recipient's SENT (not yet read) count.
func (r *NotificationsRepository) CountUnread(ctx context.Context, recipientID string) (int, error) {
	if recipientID == "" {
		return 0, fmt.Errorf("recipient_id is required")
	}

	query := `
		SELECT COUNT(*)
		FROM notifications
		WHERE recipient_id = $1
		  AND status = $2
	`

	var count int
	err := r.db.QueryRowContext(ctx, query, recipientID, models.NotificationStatusSent).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread notifications: %w", err)
	}
	return count, nil
}

// ListForRecipient returns the recipient's notifications, newest first.
// onlyUnread restricts to SENT rows.
func (r *NotificationsRepository) ListForRecipient(ctx context.Context, recipientID string, onlyUnread bool, limit int) ([]models.Notification, error) {
	if recipientID == "" {
		return nil, fmt.Errorf("recipient_id is required")
	}
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE recipient_id = $1
		  AND status IN ($2, $3)
	`
	args := []interface{}{recipientID, models.NotificationStatusSent, models.NotificationStatusRead}
	if onlyUnread {
		query = `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE recipient_id = $1
		  AND status = $2
	`
		args = []interface{}{recipientID, models.NotificationStatusSent}
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args)+1)
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var notifications []models.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, *n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate notifications: %w", err)
	}
	return notifications, nil
}

func scanNotification(rows *sql.Rows) (*models.Notification, error) {
	var n models.Notification
	var issueID, errorMessage sql.NullString
	var sentAt, readAt sql.NullTime

	err := rows.Scan(
		&n.ID,
		&issueID,
		&n.RuleID,
		&n.RecipientID,
		&n.Channel,
		&n.MessageTitle,
		&n.MessageBody,
		&n.Status,
		&errorMessage,
		&n.CreatedAt,
		&sentAt,
		&readAt,
		&n.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan notification: %w", err)
	}

	if issueID.Valid {
		n.IssueID = &issueID.String
	}
	if errorMessage.Valid {
		n.ErrorMessage = &errorMessage.String
	}
	if sentAt.Valid {
		t := sentAt.Time
		n.SentAt = &t
	}
	if readAt.Valid {
		t := readAt.Time
		n.ReadAt = &t
	}
	return &n, nil
}

func scanDelivery(rows *sql.Rows) (*models.Delivery, error) {
	var d models.Delivery
	var issueID, errorMessage, email, name sql.NullString
	var sentAt, readAt sql.NullTime

	err := rows.Scan(
		&d.ID,
		&issueID,
		&d.RuleID,
		&d.RecipientID,
		&d.Channel,
		&d.MessageTitle,
		&d.MessageBody,
		&d.Status,
		&errorMessage,
		&d.CreatedAt,
		&sentAt,
		&readAt,
		&d.UpdatedAt,
		&email,
		&name,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan delivery: %w", err)
	}

	if issueID.Valid {
		d.IssueID = &issueID.String
	}
	if errorMessage.Valid {
		d.ErrorMessage = &errorMessage.String
	}
	if sentAt.Valid {
		t := sentAt.Time
		d.SentAt = &t
	}
	if readAt.Valid {
		t := readAt.Time
		d.ReadAt = &t
	}
	if email.Valid {
		d.RecipientEmail = &email.String
	}
	if name.Valid {
		d.RecipientName = &name.String
	}
	return &d, nil
}
