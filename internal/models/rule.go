package models

import (
	"encoding/json"
	"time"
)

// Severity levels copied onto issues at creation time.
const (
	SeverityInfo     = "INFO"
	SeverityWarning  = "WARNING"
	SeverityCritical = "CRITICAL"
)

// Rule condition types.
const (
	ConditionScheduledSQL = "SCHEDULED_SQL"
	ConditionEventBased   = "EVENT_BASED"
)

// Channel identifiers.
const (
	ChannelInApp   = "IN_APP"
	ChannelEmail   = "EMAIL"
	ChannelWebhook = "WEBHOOK"
)

// TargetRoleMix unions the seed recipient with the rule's broadcast roles.
const TargetRoleMix = "MIX"

// Rule is a named detection definition (corresponds to notification_rules).
type Rule struct {
	ID                 string          `json:"id" db:"id"`
	Code               string          `json:"code" db:"code"`
	Name               string          `json:"name" db:"name"`
	EntityType         string          `json:"entity_type" db:"entity_type"`
	Severity           string          `json:"severity" db:"severity"`             // INFO, WARNING, CRITICAL
	ConditionType      string          `json:"condition_type" db:"condition_type"` // SCHEDULED_SQL, EVENT_BASED
	ScheduleExpression string          `json:"schedule_expression" db:"schedule_expression"`
	EventCode          *string         `json:"event_code,omitempty" db:"event_code"`
	EventFilter        json.RawMessage `json:"event_filter" db:"event_filter"` // JSONB equality map
	EntityIDField      *string         `json:"entity_id_field,omitempty" db:"entity_id_field"`
	RecipientIDField   *string         `json:"recipient_id_field,omitempty" db:"recipient_id_field"`
	DetectionQuery     string          `json:"detection_query" db:"detection_query"`
	TitleTemplate      string          `json:"title_template" db:"title_template"`
	BodyTemplate       string          `json:"body_template" db:"body_template"`
	Channels           []string        `json:"channels" db:"channels"`               // JSONB array, ordered
	TargetRole         string          `json:"target_role" db:"target_role"`         // role name or MIX
	BroadcastRoles     []string        `json:"broadcast_roles" db:"broadcast_roles"` // JSONB array, used by MIX
	CooldownMinutes    int             `json:"cooldown_minutes" db:"cooldown_minutes"`
	IsActive           bool            `json:"is_active" db:"is_active"`
	LastDueAt          *time.Time      `json:"last_due_at,omitempty" db:"last_due_at"`
	LastExecutedAt     *time.Time      `json:"last_executed_at,omitempty" db:"last_executed_at"`
	CreatedAt          time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at" db:"updated_at"`
}
