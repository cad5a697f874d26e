package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// ProcessEvent matches active EVENT_BASED rules against one domain event
// and raises issues through the same ledger and fan-out path as scheduled
// detection. Rules whose filter does not match the payload are skipped;
// rules without an extractable entity_id are skipped and logged.
func (e *Engine) ProcessEvent(ctx context.Context, eventCode string, payload map[string]interface{}) (int, error) {
	if eventCode == "" {
		return 0, fmt.Errorf("event_code is required")
	}
	if payload == nil {
		payload = map[string]interface{}{}
	}

	rules, err := e.rules.ListActiveByEvent(ctx, eventCode)
	if err != nil {
		return 0, fmt.Errorf("failed to load event rules: %w", err)
	}

	raised := 0
	for i := range rules {
		rule := &rules[i]

		filter, err := decodeEventFilter(rule.EventFilter)
		if err != nil {
			e.logger.Warn("Malformed event filter, rule skipped",
				zap.String("rule_code", rule.Code),
				zap.Error(err),
			)
			continue
		}
		if !matchesFilter(payload, filter) {
			continue
		}

		entityID := extractField(payload, rule.EntityIDField)
		if entityID == "" {
			e.logger.Warn("Event without entity_id, rule skipped",
				zap.String("rule_code", rule.Code),
				zap.String("event_code", eventCode),
			)
			continue
		}

		var recipientID *string
		if recipient := extractField(payload, rule.RecipientIDField); recipient != "" {
			recipientID = &recipient
		}

		contextJSON, err := json.Marshal(payload)
		if err != nil {
			contextJSON = []byte("{}")
		}

		if _, err := e.RaiseIssue(ctx, rule, entityID, recipientID, contextJSON, nil, nil); err != nil {
			e.logger.Error("Failed to raise issue from event",
				zap.String("rule_code", rule.Code),
				zap.String("event_code", eventCode),
				zap.String("entity_id", entityID),
				zap.Error(err),
			)
			continue
		}
		raised++
	}
	return raised, nil
}

func decodeEventFilter(raw json.RawMessage) (map[string]interface{}, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	filter := map[string]interface{}{}
	if err := json.Unmarshal(raw, &filter); err != nil {
		return nil, err
	}
	return filter, nil
}

// matchesFilter applies the rule's equality filter: every filter key must
// be present in the payload with an equal value. Values are compared by
// their textual form so numeric payloads match string filters.
func matchesFilter(payload, filter map[string]interface{}) bool {
	for key, expected := range filter {
		actual, ok := payload[key]
		if !ok {
			return false
		}
		if fmt.Sprintf("%v", actual) != fmt.Sprintf("%v", expected) {
			return false
		}
	}
	return true
}

func extractField(payload map[string]interface{}, field *string) string {
	if field == nil || *field == "" {
		return ""
	}
	value, ok := payload[*field]
	if !ok || value == nil {
		return ""
	}
	return fmt.Sprintf("%v", value)
}
