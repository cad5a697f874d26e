// Package engine implements the issue ledger, recipient resolution, and
// notification fan-out shared by the scheduled rule runner and the event
// consumer.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"wisefido-notify/internal/models"
	"wisefido-notify/internal/template"
)

// IssueStore is the slice of the issues repository the engine needs.
type IssueStore interface {
	GetByDedupKey(ctx context.Context, ruleID, entityType, entityID string) (*models.Issue, error)
	Create(ctx context.Context, rule *models.Rule, entityID, title string, contextJSON json.RawMessage, assignedTo *string, now time.Time) (*models.Issue, error)
	RefreshDetection(ctx context.Context, issueID, title string, contextJSON json.RawMessage, withTitle bool, now time.Time) error
}

// NotificationStore is the slice of the notifications repository the
// engine needs for fan-out.
type NotificationStore interface {
	ExistsRecent(ctx context.Context, issueID, recipientID, channel string, cooldownMinutes int, now time.Time) (bool, error)
	Create(ctx context.Context, issueID *string, ruleID, recipientID, channel, title, body string, now time.Time) (*models.Notification, error)
}

// UserDirectory resolves roles to active user ids.
type UserDirectory interface {
	ListActiveIDsByRole(ctx context.Context, role string) ([]string, error)
	ListActiveIDsByRoles(ctx context.Context, roles []string) ([]string, error)
}

// RuleStore locates active event rules for ProcessEvent.
type RuleStore interface {
	ListActiveByEvent(ctx context.Context, eventCode string) ([]models.Rule, error)
}

// Options tunes engine behavior.
type Options struct {
	// BroadcastRoles are the target_role values resolved to every active
	// user holding that role rather than to the seed recipient.
	BroadcastRoles []string
}

// DefaultOptions returns the default engine options.
func DefaultOptions() Options {
	return Options{
		BroadcastRoles: []string{"ADMIN", "CEO"},
	}
}

// Engine raises deduplicated issues and fans out throttled notifications.
type Engine struct {
	rules         RuleStore
	issues        IssueStore
	notifications NotificationStore
	users         UserDirectory
	opts          Options
	logger        *zap.Logger

	// now is swappable in tests.
	now func() time.Time
}

// New creates the engine.
func New(rules RuleStore, issues IssueStore, notifications NotificationStore, users UserDirectory, opts Options, logger *zap.Logger) *Engine {
	if len(opts.BroadcastRoles) == 0 {
		opts.BroadcastRoles = DefaultOptions().BroadcastRoles
	}
	return &Engine{
		rules:         rules,
		issues:        issues,
		notifications: notifications,
		users:         users,
		opts:          opts,
		logger:        logger,
		now:           time.Now,
	}
}

// RaiseResult reports what one detection did.
type RaiseResult struct {
	Issue                *models.Issue
	Created              bool // a new issue was opened
	Notified             bool // fan-out ran (issue not snoozed)
	NotificationsCreated int
}

// RaiseIssue is the single entry point for a detection hit: it upserts the
// deduplicated issue and, unless the issue is snoozed, fans out pending
// notifications. Status of an existing issue is never changed here; a
// resolved issue re-detecting stays resolved until an operator reopens it.
func (e *Engine) RaiseIssue(ctx context.Context, rule *models.Rule, entityID string, recipientID *string, contextJSON json.RawMessage, customTitle, customBody *string) (*RaiseResult, error) {
	if rule == nil {
		return nil, fmt.Errorf("rule is required")
	}
	if entityID == "" {
		return nil, fmt.Errorf("entity_id is required")
	}

	now := e.now()
	contextJSON, contextMap := decodeContext(contextJSON, rule.Code, e.logger)

	title := template.Render(rule.TitleTemplate, contextMap)
	if customTitle != nil && *customTitle != "" {
		title = *customTitle
	}

	issue, created, shouldNotify, err := e.raiseOrRefresh(ctx, rule, entityID, recipientID, title, contextJSON, now)
	if err != nil {
		return nil, err
	}

	result := &RaiseResult{Issue: issue, Created: created, Notified: shouldNotify}
	if !shouldNotify {
		return result, nil
	}

	count, err := e.fanOut(ctx, rule, issue, recipientID, contextMap, title, customBody, now)
	if err != nil {
		return nil, err
	}
	result.NotificationsCreated = count
	return result, nil
}

// raiseOrRefresh upserts the issue for the dedup key and decides whether
// notifications should go out. The insert races against concurrent
// runners; losing the race degrades to a refresh of the winner's row.
func (e *Engine) raiseOrRefresh(ctx context.Context, rule *models.Rule, entityID string, recipientID *string, title string, contextJSON json.RawMessage, now time.Time) (*models.Issue, bool, bool, error) {
	issue, err := e.issues.GetByDedupKey(ctx, rule.ID, rule.EntityType, entityID)
	if err != nil {
		return nil, false, false, err
	}

	if issue == nil {
		created, err := e.issues.Create(ctx, rule, entityID, title, contextJSON, recipientID, now)
		if err != nil {
			return nil, false, false, err
		}
		if created != nil {
			e.logger.Info("Issue opened",
				zap.String("rule_code", rule.Code),
				zap.String("entity_id", entityID),
				zap.String("issue_id", created.ID),
			)
			return created, true, true, nil
		}
		// Lost the insert race; fall through to refresh the existing row.
		issue, err = e.issues.GetByDedupKey(ctx, rule.ID, rule.EntityType, entityID)
		if err != nil {
			return nil, false, false, err
		}
		if issue == nil {
			return nil, false, false, fmt.Errorf("issue vanished after insert conflict: rule=%s entity=%s", rule.Code, entityID)
		}
	}

	if issue.Snoozed(now) {
		// Detection is recorded, notification suppressed. The title is
		// kept as the operator last saw it.
		if err := e.issues.RefreshDetection(ctx, issue.ID, "", contextJSON, false, now); err != nil {
			return nil, false, false, err
		}
		e.logger.Debug("Detection on snoozed issue recorded",
			zap.String("rule_code", rule.Code),
			zap.String("issue_id", issue.ID),
		)
		return issue, false, false, nil
	}

	if err := e.issues.RefreshDetection(ctx, issue.ID, title, contextJSON, true, now); err != nil {
		return nil, false, false, err
	}
	return issue, false, true, nil
}

// decodeContext parses the context payload; malformed payloads are logged
// and treated as an empty object.
func decodeContext(contextJSON json.RawMessage, ruleCode string, logger *zap.Logger) (json.RawMessage, map[string]interface{}) {
	if len(contextJSON) == 0 {
		return json.RawMessage("{}"), map[string]interface{}{}
	}

	contextMap := map[string]interface{}{}
	if err := json.Unmarshal(contextJSON, &contextMap); err != nil {
		logger.Warn("Malformed context payload treated as empty object",
			zap.String("rule_code", ruleCode),
			zap.Error(err),
		)
		return json.RawMessage("{}"), map[string]interface{}{}
	}
	return contextJSON, contextMap
}
