package triggers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerflow/conductor/pkg/models"
	"github.com/ledgerflow/conductor/pkg/persistence/file"
)

func staticSample(sample map[string]any) SampleSource {
	return SampleSourceFunc(func(context.Context, *models.Trigger) (map[string]any, error) {
		return sample, nil
	})
}

func saveThresholdTrigger(t *testing.T, p *file.Persistence, cfg *models.ThresholdConfig) *models.Trigger {
	t.Helper()

	trigger := &models.Trigger{
		ID:         "trg-threshold",
		WorkflowID: "wf-1",
		Type:       models.TriggerTypeThreshold,
		Active:     true,
		Threshold:  cfg,
	}
	require.NoError(t, p.TriggerRepository().Save(t.Context(), trigger))

	return trigger
}

func TestPeriodicEvaluator_ThresholdFiresOncePerPeriod(t *testing.T) {
	p := file.NewPersistence(t.TempDir())
	saveThresholdTrigger(t, p, &models.ThresholdConfig{
		Field:    "pending_invoices",
		Operator: models.ThresholdGreaterThan,
		Value:    100,
	})

	callback := &captureCallback{}
	evaluator := NewPeriodicEvaluator(discardLogger(), p, staticSample(map[string]any{"pending_invoices": 150}), time.Minute)

	evaluator.sweep(t.Context(), callback.fn())
	evaluator.sweep(t.Context(), callback.fn())

	// Condition held on both sweeps but the period marker makes the second a no-op.
	require.Equal(t, 1, callback.count())

	request := callback.last()
	assert.Equal(t, "wf-1", request.WorkflowID)
	assert.Equal(t, "pending_invoices", request.Input["field"])
	assert.Equal(t, 150.0, request.Input["value"])
	assert.Equal(t, "gt", request.Input["operator"])
	assert.Contains(t, request.Input, "sample")
}

func TestPeriodicEvaluator_ThresholdNotMet(t *testing.T) {
	p := file.NewPersistence(t.TempDir())
	saveThresholdTrigger(t, p, &models.ThresholdConfig{
		Field:    "pending_invoices",
		Operator: models.ThresholdGreaterOrEqual,
		Value:    100,
	})

	callback := &captureCallback{}
	evaluator := NewPeriodicEvaluator(discardLogger(), p, staticSample(map[string]any{"pending_invoices": 99}), time.Minute)

	evaluator.sweep(t.Context(), callback.fn())

	assert.Zero(t, callback.count())
}

func TestWorkflowVariablesSource(t *testing.T) {
	p := file.NewPersistence(t.TempDir())
	require.NoError(t, p.WorkflowRepository().Save(t.Context(), &models.Workflow{
		ID:             "wf-1",
		OrganizationID: "org-1",
		Name:           "invoice sweep",
		Status:         models.WorkflowStatusActive,
		Variables:      map[string]any{"pending_invoices": 150.0},
	}))

	trigger := saveThresholdTrigger(t, p, &models.ThresholdConfig{
		Field:    "pending_invoices",
		Operator: models.ThresholdGreaterThan,
		Value:    100,
	})

	sample, err := WorkflowVariablesSource(p).Sample(t.Context(), trigger)
	require.NoError(t, err)
	assert.Equal(t, 150.0, sample["pending_invoices"])

	trigger.WorkflowID = "wf-missing"
	_, err = WorkflowVariablesSource(p).Sample(t.Context(), trigger)
	require.Error(t, err)
}

func TestPeriodicEvaluator_SampleErrorSkipsTrigger(t *testing.T) {
	p := file.NewPersistence(t.TempDir())
	saveThresholdTrigger(t, p, &models.ThresholdConfig{
		Field:    "pending_invoices",
		Operator: models.ThresholdGreaterThan,
		Value:    100,
	})

	callback := &captureCallback{}
	source := SampleSourceFunc(func(context.Context, *models.Trigger) (map[string]any, error) {
		return nil, errors.New("metrics endpoint unreachable")
	})
	evaluator := NewPeriodicEvaluator(discardLogger(), p, source, time.Minute)

	evaluator.sweep(t.Context(), callback.fn())

	assert.Zero(t, callback.count())
}

func TestPeriodicEvaluator_DeadlineFiresAtConfiguredOffset(t *testing.T) {
	p := file.NewPersistence(t.TempDir())

	trigger := &models.Trigger{
		ID:         "trg-deadline",
		WorkflowID: "wf-1",
		Type:       models.TriggerTypeDeadline,
		Active:     true,
		Deadline: &models.DeadlineConfig{
			DateField:  "due_date",
			OffsetDays: []int{7, 1},
		},
	}
	require.NoError(t, p.TriggerRepository().Save(t.Context(), trigger))

	dueDate := time.Now().UTC().AddDate(0, 0, 7).Format("2006-01-02")
	callback := &captureCallback{}
	evaluator := NewPeriodicEvaluator(discardLogger(), p, staticSample(map[string]any{"due_date": dueDate}), time.Minute)

	evaluator.sweep(t.Context(), callback.fn())

	require.Equal(t, 1, callback.count())

	request := callback.last()
	assert.Equal(t, dueDate, request.Input["target_date"])
	assert.Equal(t, 7, request.Input["days_remaining"])
}

func TestPeriodicEvaluator_DeadlineNotDueYet(t *testing.T) {
	p := file.NewPersistence(t.TempDir())

	trigger := &models.Trigger{
		ID:         "trg-deadline-far",
		WorkflowID: "wf-1",
		Type:       models.TriggerTypeDeadline,
		Active:     true,
		Deadline: &models.DeadlineConfig{
			DateField:  "due_date",
			OffsetDays: []int{1, 0},
		},
	}
	require.NoError(t, p.TriggerRepository().Save(t.Context(), trigger))

	dueDate := time.Now().UTC().AddDate(0, 0, 30).Format("2006-01-02")
	callback := &captureCallback{}
	evaluator := NewPeriodicEvaluator(discardLogger(), p, staticSample(map[string]any{"due_date": dueDate}), time.Minute)

	evaluator.sweep(t.Context(), callback.fn())

	assert.Zero(t, callback.count())
}

func TestThresholdHolds_Operators(t *testing.T) {
	tests := []struct {
		operator models.ThresholdOperator
		value    float64
		sample   float64
		want     bool
	}{
		{models.ThresholdGreaterThan, 100, 100, false},
		{models.ThresholdGreaterThan, 100, 101, true},
		{models.ThresholdGreaterOrEqual, 100, 100, true},
		{models.ThresholdLessThan, 100, 99, true},
		{models.ThresholdLessThan, 100, 100, false},
		{models.ThresholdLessOrEqual, 100, 100, true},
		{models.ThresholdEqual, 100, 100, true},
		{models.ThresholdEqual, 100, 100.5, false},
	}

	for _, tt := range tests {
		cfg := &models.ThresholdConfig{Field: "v", Operator: tt.operator, Value: tt.value}

		holds, _, err := thresholdHolds(cfg, map[string]any{"v": tt.sample})
		require.NoError(t, err)
		assert.Equal(t, tt.want, holds, "%s %v vs %v", tt.operator, tt.sample, tt.value)
	}
}

func TestThresholdHolds_MissingOrNonNumericField(t *testing.T) {
	cfg := &models.ThresholdConfig{Field: "v", Operator: models.ThresholdGreaterThan, Value: 1}

	_, _, err := thresholdHolds(cfg, map[string]any{})
	assert.Error(t, err)

	_, _, err = thresholdHolds(cfg, map[string]any{"v": "many"})
	assert.Error(t, err)
}
