package models

import "time"

// Notification statuses. SENDING is a transient claim marker used by the
// dispatcher; external readers treat SENDING rows as in-flight PENDING.
const (
	NotificationStatusPending = "PENDING"
	NotificationStatusSending = "SENDING"
	NotificationStatusSent    = "SENT"
	NotificationStatusFailed  = "FAILED"
	NotificationStatusRead    = "READ"
)

// Notification is one delivery attempt unit (corresponds to notifications).
// Created by fan-out, transitioned to SENT/FAILED by the dispatcher, and to
// READ by the inbox through MarkRead.
type Notification struct {
	ID           string     `json:"id" db:"id"`
	IssueID      *string    `json:"issue_id,omitempty" db:"issue_id"` // null for ad hoc sends
	RuleID       string     `json:"rule_id" db:"rule_id"`
	RecipientID  string     `json:"recipient_id" db:"recipient_id"`
	Channel      string     `json:"channel" db:"channel"`
	MessageTitle string     `json:"message_title" db:"message_title"`
	MessageBody  string     `json:"message_body" db:"message_body"`
	Status       string     `json:"status" db:"status"`
	ErrorMessage *string    `json:"error_message,omitempty" db:"error_message"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	SentAt       *time.Time `json:"sent_at,omitempty" db:"sent_at"`
	ReadAt       *time.Time `json:"read_at,omitempty" db:"read_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}

// Delivery is a claimed notification joined with the recipient's contact
// details, handed to channel senders.
type Delivery struct {
	Notification
	RecipientEmail *string `json:"recipient_email,omitempty"`
	RecipientName  *string `json:"recipient_name,omitempty"`
}
