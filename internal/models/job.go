package models

import "time"

// Job heartbeat statuses.
const (
	JobStatusOK      = "OK"
	JobStatusWarning = "WARNING"
	JobStatusError   = "ERROR"
)

// Job codes written to system_jobs.
const (
	JobCodeRuleRunner    = "RULE_RUNNER"
	JobCodeDispatcher    = "NOTIF_DISPATCHER"
	JobCodeEventConsumer = "EVENT_CONSUMER"
)

// JobHeartbeat is the last-run record of a periodic job (corresponds to
// system_jobs). Upserted on every run; consumed by external monitoring.
type JobHeartbeat struct {
	JobCode   string    `json:"job_code" db:"job_code"`
	LastRunAt time.Time `json:"last_run_at" db:"last_run_at"`
	Status    string    `json:"status" db:"status"` // OK, WARNING, ERROR
	Details   string    `json:"details" db:"details"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// User is a read-only projection of the users table used for recipient
// resolution and email delivery.
type User struct {
	ID       string  `json:"id" db:"id"`
	Name     string  `json:"name" db:"name"`
	Email    *string `json:"email,omitempty" db:"email"`
	Role     string  `json:"role" db:"role"`
	IsActive bool    `json:"is_active" db:"is_active"`
}
