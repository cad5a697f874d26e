package engine

import (
	"context"

	"wisefido-notify/internal/models"
)

// resolveRecipients maps a rule's target audience to a deduplicated set of
// user ids. Single-target roles resolve to the seed recipient; broadcast
// roles resolve to every active holder of the role; MIX unions the seed
// with the rule's broadcast roles. An empty result is valid.
func (e *Engine) resolveRecipients(ctx context.Context, rule *models.Rule, seedRecipientID *string) ([]string, error) {
	var recipients []string

	switch {
	case rule.TargetRole == models.TargetRoleMix:
		if seedRecipientID != nil && *seedRecipientID != "" {
			recipients = append(recipients, *seedRecipientID)
		}
		roles := rule.BroadcastRoles
		if len(roles) == 0 {
			roles = e.opts.BroadcastRoles
		}
		ids, err := e.users.ListActiveIDsByRoles(ctx, roles)
		if err != nil {
			return nil, err
		}
		recipients = append(recipients, ids...)

	case e.isBroadcastRole(rule.TargetRole):
		ids, err := e.users.ListActiveIDsByRole(ctx, rule.TargetRole)
		if err != nil {
			return nil, err
		}
		recipients = append(recipients, ids...)

	default:
		if seedRecipientID != nil && *seedRecipientID != "" {
			recipients = append(recipients, *seedRecipientID)
		}
	}

	return dedupe(recipients), nil
}

func (e *Engine) isBroadcastRole(role string) bool {
	for _, r := range e.opts.BroadcastRoles {
		if r == role {
			return true
		}
	}
	return false
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
