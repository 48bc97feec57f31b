package triggers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerflow/conductor/pkg/models"
	"github.com/ledgerflow/conductor/pkg/persistence/file"
)

func saveDueSchedule(t *testing.T, p *file.Persistence, triggerID string, allowOverlap bool) *models.Schedule {
	t.Helper()

	trigger := &models.Trigger{
		ID:         triggerID,
		WorkflowID: "wf-1",
		Type:       models.TriggerTypeSchedule,
		Active:     true,
		Schedule: &models.ScheduleConfig{
			CronExpression: "* * * * *",
			AllowOverlap:   allowOverlap,
		},
	}
	require.NoError(t, p.TriggerRepository().Save(t.Context(), trigger))

	schedule, err := models.NewSchedule("sch-"+triggerID, trigger)
	require.NoError(t, err)

	// Force the schedule due so the first scan picks it up.
	schedule.NextRunAt = time.Now().UTC().Add(-time.Minute)
	require.NoError(t, p.ScheduleRepository().Save(t.Context(), schedule))

	return schedule
}

func TestScanner_FiresDueSchedule(t *testing.T) {
	p := file.NewPersistence(t.TempDir())
	saveDueSchedule(t, p, "trg-due", false)

	callback := &captureCallback{}
	scanner := NewScanner(discardLogger(), p, 10*time.Millisecond)

	require.NoError(t, scanner.Start(t.Context(), callback.fn()))
	defer scanner.Stop(t.Context())

	require.Eventually(t, func() bool {
		return callback.count() >= 1
	}, 2*time.Second, 10*time.Millisecond)

	request := callback.last()
	assert.Equal(t, "wf-1", request.WorkflowID)
	assert.Equal(t, "trg-due", request.TriggerID)
	assert.Equal(t, string(models.TriggerTypeSchedule), request.TriggerType)
	assert.Contains(t, request.Input, "scheduled_for")

	require.NoError(t, scanner.Stop(t.Context()))

	// The fired tick advanced NextRunAt into the future, so a rescan does not
	// double-fire.
	stored, err := p.ScheduleRepository().GetByTriggerID(t.Context(), "trg-due")
	require.NoError(t, err)
	assert.True(t, stored.NextRunAt.After(time.Now().UTC()))
	require.NotNil(t, stored.LastRunAt)
}

func TestScanner_SuppressesOverlappingRun(t *testing.T) {
	p := file.NewPersistence(t.TempDir())
	saveDueSchedule(t, p, "trg-busy", false)

	// A still-running execution for the same trigger blocks the tick.
	running := &models.Execution{
		ID:         "exec-running",
		WorkflowID: "wf-1",
		TriggerID:  "trg-busy",
		Status:     models.ExecutionStatusRunning,
	}
	require.NoError(t, p.ExecutionRepository().Save(t.Context(), running))

	callback := &captureCallback{}
	scanner := NewScanner(discardLogger(), p, 10*time.Millisecond)

	require.NoError(t, scanner.Start(t.Context(), callback.fn()))
	defer scanner.Stop(t.Context())

	require.Eventually(t, func() bool {
		missed, err := p.ScheduleRepository().MissedRuns(t.Context(), "trg-busy")

		return err == nil && len(missed) >= 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, scanner.Stop(t.Context()))

	assert.Zero(t, callback.count())

	missed, err := p.ScheduleRepository().MissedRuns(t.Context(), "trg-busy")
	require.NoError(t, err)
	assert.Equal(t, "exec-running", missed[0].BlockedByID)
	assert.Equal(t, "trg-busy", missed[0].TriggerID)

	stored, err := p.ScheduleRepository().GetByTriggerID(t.Context(), "trg-busy")
	require.NoError(t, err)
	assert.True(t, stored.NextRunAt.After(time.Now().UTC()))
}

func TestScanner_DeactivatedTriggerAdvancesWithoutFiring(t *testing.T) {
	p := file.NewPersistence(t.TempDir())
	saveDueSchedule(t, p, "trg-gone", false)

	// Deactivate the trigger after the schedule row exists.
	trigger, err := p.TriggerRepository().GetByID(t.Context(), "trg-gone")
	require.NoError(t, err)
	trigger.Active = false
	require.NoError(t, p.TriggerRepository().Save(t.Context(), trigger))

	callback := &captureCallback{}
	scanner := NewScanner(discardLogger(), p, 10*time.Millisecond)

	require.NoError(t, scanner.Start(t.Context(), callback.fn()))
	defer scanner.Stop(t.Context())

	require.Eventually(t, func() bool {
		stored, err := p.ScheduleRepository().GetByTriggerID(t.Context(), "trg-gone")

		return err == nil && stored.NextRunAt.After(time.Now().UTC())
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, scanner.Stop(t.Context()))

	assert.Zero(t, callback.count())
}

func TestScanner_DoubleStartRejected(t *testing.T) {
	p := file.NewPersistence(t.TempDir())

	callback := &captureCallback{}
	scanner := NewScanner(discardLogger(), p, 50*time.Millisecond)

	require.NoError(t, scanner.Start(t.Context(), callback.fn()))
	assert.ErrorIs(t, scanner.Start(t.Context(), callback.fn()), ErrScannerRunning)

	require.NoError(t, scanner.Stop(t.Context()))
	assert.NoError(t, scanner.Err())

	// Restartable after a clean stop.
	require.NoError(t, scanner.Start(t.Context(), callback.fn()))
	require.NoError(t, scanner.Stop(t.Context()))
}
