package models

import (
	"encoding/json"
	"time"
)

// Issue statuses. Status is operator-controlled; detection never changes it.
const (
	IssueStatusOpen       = "OPEN"
	IssueStatusInProgress = "IN_PROGRESS"
	IssueStatusResolved   = "RESOLVED"
	IssueStatusIgnored    = "IGNORED"
)

// Issue is a deduplicated occurrence of a rule firing against one entity
// (corresponds to notification_issues). At most one issue exists per
// (rule_id, entity_type, entity_id).
type Issue struct {
	ID              string          `json:"id" db:"id"`
	RuleID          string          `json:"rule_id" db:"rule_id"`
	EntityType      string          `json:"entity_type" db:"entity_type"`
	EntityID        string          `json:"entity_id" db:"entity_id"`
	Title           string          `json:"title" db:"title"`
	Context         json.RawMessage `json:"context" db:"context"` // JSONB
	Severity        string          `json:"severity" db:"severity"`
	Status          string          `json:"status" db:"status"`
	AssignedTo      *string         `json:"assigned_to,omitempty" db:"assigned_to"`
	FirstDetectedAt time.Time       `json:"first_detected_at" db:"first_detected_at"`
	LastDetectedAt  time.Time       `json:"last_detected_at" db:"last_detected_at"`
	ResolvedAt      *time.Time      `json:"resolved_at,omitempty" db:"resolved_at"`
	SnoozedUntil    *time.Time      `json:"snoozed_until,omitempty" db:"snoozed_until"`
	ResolutionNotes *string         `json:"resolution_notes,omitempty" db:"resolution_notes"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`
}

// Snoozed reports whether the issue is snoozed at the given instant.
// The boundary is strict: a detection arriving the instant the snooze
// expires is treated as not snoozed.
func (i *Issue) Snoozed(now time.Time) bool {
	return i.SnoozedUntil != nil && i.SnoozedUntil.After(now)
}
