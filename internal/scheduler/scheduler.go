// Package scheduler runs the scheduled rule pass: it decides which rules
// are due by their cron expression, claims the due slot, executes the
// detection query, and hands every candidate row to the engine.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"wisefido-notify/internal/engine"
	"wisefido-notify/internal/models"
	"wisefido-notify/internal/repository"
)

// RuleSource lists scheduled rules and claims due slots.
type RuleSource interface {
	ListActiveScheduled(ctx context.Context) ([]models.Rule, error)
	ClaimDueSlot(ctx context.Context, ruleID string, slot, now time.Time) (bool, error)
}

// Detector executes a rule's detection query.
type Detector interface {
	Run(ctx context.Context, ruleCode, query string) ([]repository.DetectionRow, error)
}

// IssueRaiser is the engine entry point the scheduler drives.
type IssueRaiser interface {
	RaiseIssue(ctx context.Context, rule *models.Rule, entityID string, recipientID *string, contextJSON json.RawMessage, customTitle, customBody *string) (*engine.RaiseResult, error)
}

// RunStats summarizes one scheduler pass for the heartbeat.
type RunStats struct {
	RulesDue             int
	RulesFailed          int
	IssuesRaised         int
	NotificationsCreated int
}

// Details renders the heartbeat details line.
func (s RunStats) Details() string {
	return fmt.Sprintf("Processed %d due rules (%d failed), raised %d issues, queued %d notifications",
		s.RulesDue, s.RulesFailed, s.IssuesRaised, s.NotificationsCreated)
}

// Scheduler drives one rule-runner pass.
type Scheduler struct {
	rules    RuleSource
	detector Detector
	engine   IssueRaiser
	logger   *zap.Logger
}

// New creates the scheduler.
func New(rules RuleSource, detector Detector, raiser IssueRaiser, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		rules:    rules,
		detector: detector,
		engine:   raiser,
		logger:   logger,
	}
}

// Tick evaluates every active scheduled rule against now. Per-rule
// failures are contained and reported in the stats; only a failure to list
// the rules at all aborts the run.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) (RunStats, error) {
	stats := RunStats{}

	rules, err := s.rules.ListActiveScheduled(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to list scheduled rules: %w", err)
	}

	for i := range rules {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		default:
		}

		rule := &rules[i]
		slot, due, err := s.dueSlot(rule, now)
		if err != nil {
			s.logger.Warn("Rule with invalid schedule skipped",
				zap.String("rule_code", rule.Code),
				zap.String("schedule", rule.ScheduleExpression),
				zap.Error(err),
			)
			stats.RulesFailed++
			continue
		}
		if !due {
			continue
		}

		claimed, err := s.rules.ClaimDueSlot(ctx, rule.ID, slot, now)
		if err != nil {
			s.logger.Error("Failed to claim due slot",
				zap.String("rule_code", rule.Code),
				zap.Error(err),
			)
			stats.RulesFailed++
			continue
		}
		if !claimed {
			// Another runner took this slot.
			s.logger.Debug("Due slot already claimed",
				zap.String("rule_code", rule.Code),
				zap.Time("slot", slot),
			)
			continue
		}

		stats.RulesDue++
		if err := s.runRule(ctx, rule, &stats); err != nil {
			s.logger.Error("Rule detection failed",
				zap.String("rule_code", rule.Code),
				zap.Error(err),
			)
			stats.RulesFailed++
		}
	}

	return stats, nil
}

// dueSlot computes the most recent cron slot for the rule and decides
// whether it is due: the slot must be strictly newer than the stored
// last_due_at, and the rule-level cooldown must have elapsed since the
// last actual execution. The second check guards against rapid re-fire
// after restarts or when the cron field is finer than the cooldown.
func (s *Scheduler) dueSlot(rule *models.Rule, now time.Time) (time.Time, bool, error) {
	sched, err := ParseSchedule(rule.ScheduleExpression)
	if err != nil {
		return time.Time{}, false, err
	}

	slot, ok := prevFireTime(sched, now)
	if !ok {
		return time.Time{}, false, nil
	}

	if rule.LastDueAt != nil && !slot.After(*rule.LastDueAt) {
		return slot, false, nil
	}
	if rule.CooldownMinutes > 0 && rule.LastExecutedAt != nil {
		cooldown := time.Duration(rule.CooldownMinutes) * time.Minute
		if now.Sub(*rule.LastExecutedAt) < cooldown {
			return slot, false, nil
		}
	}
	return slot, true, nil
}

// runRule executes the rule's detection query and raises one issue per
// candidate row. Row-level failures are logged and do not stop the rule.
func (s *Scheduler) runRule(ctx context.Context, rule *models.Rule, stats *RunStats) error {
	rows, err := s.detector.Run(ctx, rule.Code, rule.DetectionQuery)
	if err != nil {
		return err
	}

	s.logger.Info("Rule detection executed",
		zap.String("rule_code", rule.Code),
		zap.Int("rows", len(rows)),
	)

	for _, row := range rows {
		result, err := s.engine.RaiseIssue(ctx, rule, row.EntityID, row.RecipientID, row.Context, row.CustomTitle, row.CustomBody)
		if err != nil {
			s.logger.Error("Failed to raise issue",
				zap.String("rule_code", rule.Code),
				zap.String("entity_id", row.EntityID),
				zap.Error(err),
			)
			continue
		}
		stats.IssuesRaised++
		stats.NotificationsCreated += result.NotificationsCreated
	}
	return nil
}
