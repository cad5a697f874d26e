package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wisefido-notify/internal/engine"
	"wisefido-notify/internal/models"
	"wisefido-notify/internal/repository"
)

// ============================================
// Cron slot computation
// ============================================

func TestParseSchedule_Valid(t *testing.T) {
	for _, expr := range []string{
		"* * * * *",
		"*/10 * * * *",
		"0 3 * * *",
		"30 2 1 * *",
		"0 */5 * * * *", // optional seconds field
		"@hourly",
	} {
		_, err := ParseSchedule(expr)
		assert.NoError(t, err, expr)
	}
}

func TestParseSchedule_Invalid(t *testing.T) {
	for _, expr := range []string{"", "not a cron", "99 * * * *"} {
		_, err := ParseSchedule(expr)
		assert.Error(t, err, expr)
	}
}

func TestPrevFireTime_EveryTenMinutes(t *testing.T) {
	sched, err := ParseSchedule("*/10 * * * *")
	require.NoError(t, err)

	now := time.Date(2025, 6, 1, 12, 13, 45, 0, time.UTC)
	slot, ok := prevFireTime(sched, now)

	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 6, 1, 12, 10, 0, 0, time.UTC), slot)
}

func TestPrevFireTime_ExactBoundary(t *testing.T) {
	sched, err := ParseSchedule("*/10 * * * *")
	require.NoError(t, err)

	now := time.Date(2025, 6, 1, 12, 10, 0, 0, time.UTC)
	slot, ok := prevFireTime(sched, now)

	require.True(t, ok)
	assert.Equal(t, now, slot)
}

func TestPrevFireTime_DailySchedule(t *testing.T) {
	sched, err := ParseSchedule("0 3 * * *")
	require.NoError(t, err)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	slot, ok := prevFireTime(sched, now)

	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 6, 1, 3, 0, 0, 0, time.UTC), slot)
}

func TestPrevFireTime_MonthlySchedule(t *testing.T) {
	sched, err := ParseSchedule("30 2 1 * *")
	require.NoError(t, err)

	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	slot, ok := prevFireTime(sched, now)

	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 6, 1, 2, 30, 0, 0, time.UTC), slot)
}

// ============================================
// Tick fakes
// ============================================

type fakeRuleSource struct {
	rules   []models.Rule
	listErr error

	claims       []claimCall
	claimResults map[string]bool // rule id -> claimed
}

type claimCall struct {
	ruleID string
	slot   time.Time
}

func (s *fakeRuleSource) ListActiveScheduled(_ context.Context) ([]models.Rule, error) {
	return s.rules, s.listErr
}

func (s *fakeRuleSource) ClaimDueSlot(_ context.Context, ruleID string, slot, _ time.Time) (bool, error) {
	s.claims = append(s.claims, claimCall{ruleID: ruleID, slot: slot})
	if s.claimResults == nil {
		return true, nil
	}
	claimed, ok := s.claimResults[ruleID]
	if !ok {
		return true, nil
	}
	return claimed, nil
}

type fakeDetector struct {
	rows map[string][]repository.DetectionRow // rule code -> rows
	errs map[string]error
}

func (d *fakeDetector) Run(_ context.Context, ruleCode, _ string) ([]repository.DetectionRow, error) {
	if err := d.errs[ruleCode]; err != nil {
		return nil, err
	}
	return d.rows[ruleCode], nil
}

type fakeRaiser struct {
	raised []string // entity ids
	err    error
}

func (r *fakeRaiser) RaiseIssue(_ context.Context, _ *models.Rule, entityID string, _ *string, _ json.RawMessage, _, _ *string) (*engine.RaiseResult, error) {
	if r.err != nil {
		return nil, r.err
	}
	r.raised = append(r.raised, entityID)
	return &engine.RaiseResult{NotificationsCreated: 1}, nil
}

func testScheduledRule(code, expr string) models.Rule {
	return models.Rule{
		ID:                 uuid.New().String(),
		Code:               code,
		EntityType:         "order",
		Severity:           models.SeverityWarning,
		ConditionType:      models.ConditionScheduledSQL,
		ScheduleExpression: expr,
		DetectionQuery:     "SELECT id AS entity_id FROM orders WHERE stale",
		IsActive:           true,
	}
}

// ============================================
// Tick
// ============================================

func TestTick_RunsDueRule(t *testing.T) {
	rule := testScheduledRule("STALE_ORDERS", "*/10 * * * *")
	source := &fakeRuleSource{rules: []models.Rule{rule}}
	detector := &fakeDetector{rows: map[string][]repository.DetectionRow{
		"STALE_ORDERS": {{EntityID: "ord-1"}, {EntityID: "ord-2"}},
	}}
	raiser := &fakeRaiser{}

	s := New(source, detector, raiser, zap.NewNop())
	now := time.Date(2025, 6, 1, 12, 10, 0, 0, time.UTC)

	stats, err := s.Tick(context.Background(), now)

	require.NoError(t, err)
	assert.Equal(t, 1, stats.RulesDue)
	assert.Equal(t, 0, stats.RulesFailed)
	assert.Equal(t, 2, stats.IssuesRaised)
	assert.Equal(t, 2, stats.NotificationsCreated)
	assert.Equal(t, []string{"ord-1", "ord-2"}, raiser.raised)

	require.Len(t, source.claims, 1)
	assert.Equal(t, now, source.claims[0].slot)
}

func TestTick_SlotAlreadyProcessed(t *testing.T) {
	rule := testScheduledRule("STALE_ORDERS", "*/10 * * * *")
	slot := time.Date(2025, 6, 1, 12, 10, 0, 0, time.UTC)
	rule.LastDueAt = &slot

	source := &fakeRuleSource{rules: []models.Rule{rule}}
	raiser := &fakeRaiser{}

	s := New(source, &fakeDetector{}, raiser, zap.NewNop())

	// Just before the next slot: the newest slot is still 12:10.
	now := time.Date(2025, 6, 1, 12, 19, 59, 0, time.UTC)
	stats, err := s.Tick(context.Background(), now)

	require.NoError(t, err)
	assert.Equal(t, 0, stats.RulesDue)
	assert.Empty(t, source.claims)
	assert.Empty(t, raiser.raised)
}

func TestTick_NextSlotBecomesDue(t *testing.T) {
	rule := testScheduledRule("STALE_ORDERS", "*/10 * * * *")
	slot := time.Date(2025, 6, 1, 12, 10, 0, 0, time.UTC)
	rule.LastDueAt = &slot

	source := &fakeRuleSource{rules: []models.Rule{rule}}
	detector := &fakeDetector{}
	raiser := &fakeRaiser{}

	s := New(source, detector, raiser, zap.NewNop())

	now := time.Date(2025, 6, 1, 12, 20, 0, 0, time.UTC)
	stats, err := s.Tick(context.Background(), now)

	require.NoError(t, err)
	assert.Equal(t, 1, stats.RulesDue)
	require.Len(t, source.claims, 1)
	assert.Equal(t, now, source.claims[0].slot)
}

func TestTick_CooldownBlocksRapidRefire(t *testing.T) {
	rule := testScheduledRule("BUSY_RULE", "* * * * *")
	rule.CooldownMinutes = 10
	executed := time.Date(2025, 6, 1, 12, 5, 0, 0, time.UTC)
	rule.LastExecutedAt = &executed

	source := &fakeRuleSource{rules: []models.Rule{rule}}
	raiser := &fakeRaiser{}

	s := New(source, &fakeDetector{}, raiser, zap.NewNop())

	now := time.Date(2025, 6, 1, 12, 8, 0, 0, time.UTC)
	stats, err := s.Tick(context.Background(), now)

	require.NoError(t, err)
	assert.Equal(t, 0, stats.RulesDue)
	assert.Empty(t, source.claims)
}

func TestTick_ClaimLostToConcurrentRunner(t *testing.T) {
	rule := testScheduledRule("STALE_ORDERS", "*/10 * * * *")
	source := &fakeRuleSource{
		rules:        []models.Rule{rule},
		claimResults: map[string]bool{rule.ID: false},
	}
	raiser := &fakeRaiser{}

	s := New(source, &fakeDetector{}, raiser, zap.NewNop())

	now := time.Date(2025, 6, 1, 12, 10, 0, 0, time.UTC)
	stats, err := s.Tick(context.Background(), now)

	require.NoError(t, err)
	assert.Equal(t, 0, stats.RulesDue)
	assert.Empty(t, raiser.raised)
	require.Len(t, source.claims, 1)
}

func TestTick_InvalidScheduleCountsAsFailed(t *testing.T) {
	good := testScheduledRule("GOOD", "*/10 * * * *")
	bad := testScheduledRule("BAD", "not a cron")

	source := &fakeRuleSource{rules: []models.Rule{bad, good}}
	detector := &fakeDetector{rows: map[string][]repository.DetectionRow{
		"GOOD": {{EntityID: "ord-1"}},
	}}
	raiser := &fakeRaiser{}

	s := New(source, detector, raiser, zap.NewNop())

	now := time.Date(2025, 6, 1, 12, 10, 0, 0, time.UTC)
	stats, err := s.Tick(context.Background(), now)

	require.NoError(t, err)
	assert.Equal(t, 1, stats.RulesFailed)
	assert.Equal(t, 1, stats.RulesDue)
	assert.Equal(t, []string{"ord-1"}, raiser.raised)
}

func TestTick_DetectionFailureDoesNotStopOtherRules(t *testing.T) {
	failing := testScheduledRule("FAILING", "*/10 * * * *")
	good := testScheduledRule("GOOD", "*/10 * * * *")

	source := &fakeRuleSource{rules: []models.Rule{failing, good}}
	detector := &fakeDetector{
		rows: map[string][]repository.DetectionRow{
			"GOOD": {{EntityID: "ord-1"}},
		},
		errs: map[string]error{
			"FAILING": fmt.Errorf("relation does not exist"),
		},
	}
	raiser := &fakeRaiser{}

	s := New(source, detector, raiser, zap.NewNop())

	now := time.Date(2025, 6, 1, 12, 10, 0, 0, time.UTC)
	stats, err := s.Tick(context.Background(), now)

	require.NoError(t, err)
	assert.Equal(t, 2, stats.RulesDue)
	assert.Equal(t, 1, stats.RulesFailed)
	assert.Equal(t, []string{"ord-1"}, raiser.raised)
}

func TestTick_ListFailureAborts(t *testing.T) {
	source := &fakeRuleSource{listErr: fmt.Errorf("connection refused")}

	s := New(source, &fakeDetector{}, &fakeRaiser{}, zap.NewNop())

	_, err := s.Tick(context.Background(), time.Now())

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to list scheduled rules")
}
