package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecution_TransitionTo_HappyPath(t *testing.T) {
	execution := &Execution{Status: ExecutionStatusPending}

	require.NoError(t, execution.TransitionTo(ExecutionStatusRunning))
	require.NotNil(t, execution.StartedAt)

	require.NoError(t, execution.TransitionTo(ExecutionStatusCompleted))
	require.NotNil(t, execution.FinishedAt)
	assert.True(t, execution.Status.IsTerminal())
}

func TestExecution_TransitionTo_RejectsTerminalEscape(t *testing.T) {
	execution := &Execution{Status: ExecutionStatusCompleted}

	err := execution.TransitionTo(ExecutionStatusRunning)
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)
}

func TestExecution_TransitionTo_WaitingRoundTrip(t *testing.T) {
	execution := &Execution{Status: ExecutionStatusPending}

	require.NoError(t, execution.TransitionTo(ExecutionStatusRunning))
	require.NoError(t, execution.TransitionTo(ExecutionStatusWaiting))
	require.NoError(t, execution.TransitionTo(ExecutionStatusRunning))
	require.NoError(t, execution.TransitionTo(ExecutionStatusFailed))
}

func TestExecution_TransitionTo_SameStatusIsNoop(t *testing.T) {
	execution := &Execution{Status: ExecutionStatusRunning}
	assert.NoError(t, execution.TransitionTo(ExecutionStatusRunning))
}

func TestExecution_Progress(t *testing.T) {
	execution := &Execution{
		Steps: []*StepExecution{
			{StepID: "a", Status: StepStatusCompleted},
			{StepID: "b", Status: StepStatusSkipped},
			{StepID: "c", Status: StepStatusRunning},
			{StepID: "d", Status: StepStatusPending},
		},
	}

	assert.Equal(t, 50, execution.Progress())
}

func TestExecution_Progress_Empty(t *testing.T) {
	execution := &Execution{}
	assert.Equal(t, 0, execution.Progress())
}

func TestExecution_CurrentSteps(t *testing.T) {
	execution := &Execution{
		Steps: []*StepExecution{
			{StepID: "a", Status: StepStatusCompleted},
			{StepID: "b", Status: StepStatusRunning},
			{StepID: "c", Status: StepStatusRunning},
		},
	}

	assert.ElementsMatch(t, []string{"b", "c"}, execution.CurrentSteps())
}
