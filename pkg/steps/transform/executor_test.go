package transform

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestExecute_ObjectExpressionBecomesOutput(t *testing.T) {
	executor, err := newExecutor(map[string]any{
		"expression": `{"account": "{{.account_id}}", "net": {{.gross}}}`,
	}, discardLogger())
	require.NoError(t, err)

	output, err := executor.Execute(t.Context(), map[string]any{
		"account_id": "acc-1",
		"gross":      99.5,
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"account": "acc-1", "net": 99.5}, output)
}

func TestExecute_ScalarLandsUnderField(t *testing.T) {
	executor, err := newExecutor(map[string]any{
		"expression": "{{.count}}",
		"field":      "total",
	}, discardLogger())
	require.NoError(t, err)

	output, err := executor.Execute(t.Context(), map[string]any{"count": 3})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"total": float64(3)}, output)
}

func TestExecute_BadExpressionErrors(t *testing.T) {
	executor, err := newExecutor(map[string]any{"expression": "{{.missing}}"}, discardLogger())
	require.NoError(t, err)

	_, err = executor.Execute(t.Context(), map[string]any{})
	require.Error(t, err)
}

func TestNewExecutor_RequiresExpression(t *testing.T) {
	_, err := newExecutor(map[string]any{}, discardLogger())
	require.Error(t, err)
}

func TestFactory(t *testing.T) {
	factory := NewFactory()
	assert.Equal(t, "transform", factory.ID())

	executor, err := factory.Create(map[string]any{"expression": "{{.x}}"}, discardLogger())
	require.NoError(t, err)
	assert.NotNil(t, executor)
}
