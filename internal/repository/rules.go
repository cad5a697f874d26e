package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"wisefido-notify/internal/models"
)

// RulesRepository reads notification rules and claims due cron slots.
type RulesRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewRulesRepository creates the rules repository.
func NewRulesRepository(db *sql.DB, logger *zap.Logger) *RulesRepository {
	return &RulesRepository{
		db:     db,
		logger: logger,
	}
}

const ruleColumns = `
		id,
		code,
		name,
		entity_type,
		severity,
		condition_type,
		schedule_expression,
		event_code,
		event_filter,
		entity_id_field,
		recipient_id_field,
		detection_query,
		title_template,
		body_template,
		channels,
		target_role,
		broadcast_roles,
		cooldown_minutes,
		is_active,
		last_due_at,
		last_executed_at,
		created_at,
		updated_at`

// ListActiveScheduled returns all active SCHEDULED_SQL rules.
func (r *RulesRepository) ListActiveScheduled(ctx context.Context) ([]models.Rule, error) {
	query := `
		SELECT ` + ruleColumns + `
		FROM notification_rules
		WHERE condition_type = $1
		  AND is_active = true
		ORDER BY code
	`

	rows, err := r.db.QueryContext(ctx, query, models.ConditionScheduledSQL)
	if err != nil {
		return nil, fmt.Errorf("failed to list scheduled rules: %w", err)
	}
	defer rows.Close()

	return r.scanRules(rows)
}

// ListActiveByEvent returns all active EVENT_BASED rules matching an event code.
func (r *RulesRepository) ListActiveByEvent(ctx context.Context, eventCode string) ([]models.Rule, error) {
	if eventCode == "" {
		return nil, fmt.Errorf("event_code is required")
	}

	query := `
		SELECT ` + ruleColumns + `
		FROM notification_rules
		WHERE condition_type = $1
		  AND event_code = $2
		  AND is_active = true
		ORDER BY code
	`

	rows, err := r.db.QueryContext(ctx, query, models.ConditionEventBased, eventCode)
	if err != nil {
		return nil, fmt.Errorf("failed to list event rules: %w", err)
	}
	defer rows.Close()

	return r.scanRules(rows)
}

// ClaimDueSlot atomically records that the rule fired for the given cron
// slot. Returns false when another runner already claimed a slot at or past
// this one, so two overlapping invocations never both fire the same slot.
func (r *RulesRepository) ClaimDueSlot(ctx context.Context, ruleID string, slot, now time.Time) (bool, error) {
	if ruleID == "" {
		return false, fmt.Errorf("rule_id is required")
	}

	query := `
		UPDATE notification_rules
		SET last_due_at = $1,
		    last_executed_at = $2,
		    updated_at = $2
		WHERE id = $3
		  AND (last_due_at IS NULL OR last_due_at < $1)
	`

	result, err := r.db.ExecContext(ctx, query, slot, now, ruleID)
	if err != nil {
		return false, fmt.Errorf("failed to claim due slot: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read claim result: %w", err)
	}
	return affected > 0, nil
}

func (r *RulesRepository) scanRules(rows *sql.Rows) ([]models.Rule, error) {
	var rules []models.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rules: %w", err)
	}
	return rules, nil
}

func scanRule(rows *sql.Rows) (*models.Rule, error) {
	var rule models.Rule
	var scheduleExpr, detectionQuery sql.NullString
	var eventCode, entityIDField, recipientIDField sql.NullString
	var eventFilter, channels, broadcastRoles []byte
	var lastDueAt, lastExecutedAt sql.NullTime

	err := rows.Scan(
		&rule.ID,
		&rule.Code,
		&rule.Name,
		&rule.EntityType,
		&rule.Severity,
		&rule.ConditionType,
		&scheduleExpr,
		&eventCode,
		&eventFilter,
		&entityIDField,
		&recipientIDField,
		&detectionQuery,
		&rule.TitleTemplate,
		&rule.BodyTemplate,
		&channels,
		&rule.TargetRole,
		&broadcastRoles,
		&rule.CooldownMinutes,
		&rule.IsActive,
		&lastDueAt,
		&lastExecutedAt,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan rule: %w", err)
	}

	rule.ScheduleExpression = scheduleExpr.String
	rule.DetectionQuery = detectionQuery.String
	if eventCode.Valid {
		rule.EventCode = &eventCode.String
	}
	if entityIDField.Valid {
		rule.EntityIDField = &entityIDField.String
	}
	if recipientIDField.Valid {
		rule.RecipientIDField = &recipientIDField.String
	}
	if lastDueAt.Valid {
		t := lastDueAt.Time
		rule.LastDueAt = &t
	}
	if lastExecutedAt.Valid {
		t := lastExecutedAt.Time
		rule.LastExecutedAt = &t
	}

	if len(eventFilter) > 0 {
		rule.EventFilter = eventFilter
	} else {
		rule.EventFilter = json.RawMessage("{}")
	}
	if len(channels) > 0 {
		if err := json.Unmarshal(channels, &rule.Channels); err != nil {
			return nil, fmt.Errorf("failed to decode channels for rule %s: %w", rule.Code, err)
		}
	}
	if len(broadcastRoles) > 0 {
		if err := json.Unmarshal(broadcastRoles, &rule.BroadcastRoles); err != nil {
			return nil, fmt.Errorf("failed to decode broadcast_roles for rule %s: %w", rule.Code, err)
		}
	}

	return &rule, nil
}
