package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DetectionRow is one candidate row returned by a rule's detection query.
// Columns beyond entity_id are optional.
type DetectionRow struct {
	EntityID    string
	RecipientID *string
	Context     json.RawMessage
	CustomTitle *string
	CustomBody  *string
}

// DetectionRunner executes rule-authored detection queries. Queries are
// administrator-authored and trusted, but still run read-only, with a
// timeout and a row cap. This is not a sandbox for untrusted input.
type DetectionRunner struct {
	db           *sql.DB
	logger       *zap.Logger
	queryTimeout time.Duration
	maxRows      int
}

// NewDetectionRunner creates the detection query runner.
func NewDetectionRunner(db *sql.DB, logger *zap.Logger, queryTimeout time.Duration, maxRows int) *DetectionRunner {
	if queryTimeout <= 0 {
		queryTimeout = 30 * time.Second
	}
	if maxRows <= 0 {
		maxRows = 1000
	}
	return &DetectionRunner{
		db:           db,
		logger:       logger,
		queryTimeout: queryTimeout,
		maxRows:      maxRows,
	}
}

// Run executes a detection query and maps its rows to DetectionRows. Rows
// without an entity_id are skipped and logged. A malformed context column
// decodes as an empty object.
func (r *DetectionRunner) Run(ctx context.Context, ruleCode, query string) ([]DetectionRow, error) {
	if err := ensureReadOnly(query); err != nil {
		return nil, err
	}

	queryCtx, cancel := context.WithTimeout(ctx, r.queryTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(queryCtx, query)
	if err != nil {
		return nil, fmt.Errorf("detection query failed: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read detection columns: %w", err)
	}

	var results []DetectionRow
	for rows.Next() {
		if len(results) >= r.maxRows {
			r.logger.Warn("Detection query hit row cap, remaining rows skipped",
				zap.String("rule_code", ruleCode),
				zap.Int("max_rows", r.maxRows),
			)
			break
		}

		values := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan detection row: %w", err)
		}

		row := mapDetectionRow(columns, values)
		if row.EntityID == "" {
			r.logger.Warn("Detection row without entity_id skipped",
				zap.String("rule_code", ruleCode),
			)
			continue
		}
		if len(row.Context) > 0 && !json.Valid(row.Context) {
			r.logger.Warn("Malformed context payload treated as empty object",
				zap.String("rule_code", ruleCode),
				zap.String("entity_id", row.EntityID),
			)
			row.Context = json.RawMessage("{}")
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate detection rows: %w", err)
	}
	return results, nil
}

func mapDetectionRow(columns []string, values []interface{}) DetectionRow {
	row := DetectionRow{Context: json.RawMessage("{}")}
	for i, col := range columns {
		text, ok := valueToString(values[i])
		if !ok {
			continue
		}
		switch strings.ToLower(col) {
		case "entity_id":
			row.EntityID = text
		case "recipient_id", "recipient_user_id":
			if text != "" {
				v := text
				row.RecipientID = &v
			}
		case "context", "context_json":
			if text != "" {
				row.Context = json.RawMessage(text)
			}
		case "custom_title":
			if text != "" {
				v := text
				row.CustomTitle = &v
			}
		case "custom_body":
			if text != "" {
				v := text
				row.CustomBody = &v
			}
		}
	}
	return row
}

func valueToString(value interface{}) (string, bool) {
	switch v := value.(type) {
	case nil:
		return "", false
	case string:
		return v, true
	case []byte:
		return string(v), true
	case int64:
		return fmt.Sprintf("%d", v), true
	case float64:
		return fmt.Sprintf("%v", v), true
	case bool:
		return fmt.Sprintf("%t", v), true
	case time.Time:
		return v.Format(time.RFC3339), true
	default:
		return fmt.Sprintf("%v", v), true
	}
}

// ensureReadOnly rejects anything that is not a single SELECT or WITH
// statement. Rule authors are trusted; this guards against accidents, not
// attacks.
func ensureReadOnly(query string) error {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return fmt.Errorf("detection query is empty")
	}

	upper := strings.ToUpper(trimmed)
	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return fmt.Errorf("detection query must be a SELECT statement")
	}
	if strings.Contains(strings.TrimSuffix(trimmed, ";"), ";") {
		return fmt.Errorf("detection query must be a single statement")
	}
	return nil
}
