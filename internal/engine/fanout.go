package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"wisefido-notify/internal/models"
	"wisefido-notify/internal/template"
)

// fanOut expands (resolved recipients x rule channels) into PENDING
// notifications, skipping pairs still inside the per-recipient-per-channel
// cooldown. The existence check and the insert form one advisory throttle
// decision per pair.
func (e *Engine) fanOut(ctx context.Context, rule *models.Rule, issue *models.Issue, seedRecipientID *string, contextMap map[string]interface{}, title string, customBody *string, now time.Time) (int, error) {
	if len(rule.Channels) == 0 {
		return 0, nil
	}

	recipients, err := e.resolveRecipients(ctx, rule, seedRecipientID)
	if err != nil {
		return 0, err
	}
	if len(recipients) == 0 {
		// Valid outcome: nothing to deliver to.
		e.logger.Debug("No recipients resolved",
			zap.String("rule_code", rule.Code),
			zap.String("target_role", rule.TargetRole),
		)
		return 0, nil
	}

	body := template.Render(rule.BodyTemplate, contextMap)
	if customBody != nil && *customBody != "" {
		body = *customBody
	}

	created := 0
	for _, recipientID := range recipients {
		for _, channel := range rule.Channels {
			recent, err := e.notifications.ExistsRecent(ctx, issue.ID, recipientID, channel, rule.CooldownMinutes, now)
			if err != nil {
				return created, err
			}
			if recent {
				continue
			}

			issueID := issue.ID
			if _, err := e.notifications.Create(ctx, &issueID, rule.ID, recipientID, channel, title, body, now); err != nil {
				return created, err
			}
			created++
		}
	}

	if created > 0 {
		e.logger.Info("Notifications queued",
			zap.String("rule_code", rule.Code),
			zap.String("issue_id", issue.ID),
			zap.Int("count", created),
		)
	}
	return created, nil
}
