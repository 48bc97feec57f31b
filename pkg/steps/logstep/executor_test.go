package logstep

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecute_LogsRenderedMessageAndPassesInputThrough(t *testing.T) {
	var buf bytes.Buffer

	logger := slog.New(slog.NewTextHandler(&buf, nil))

	executor, err := newExecutor(map[string]any{
		"message": "settled {{.invoice_id}}",
		"level":   "warn",
	}, logger)
	require.NoError(t, err)

	input := map[string]any{"invoice_id": "inv-7"}

	output, err := executor.Execute(t.Context(), input)
	require.NoError(t, err)

	assert.Equal(t, input, output)
	assert.Contains(t, buf.String(), "settled inv-7")
	assert.Contains(t, buf.String(), "level=WARN")
}

func TestExecute_DefaultMessageDumpsInput(t *testing.T) {
	var buf bytes.Buffer

	logger := slog.New(slog.NewTextHandler(&buf, nil))

	executor, err := newExecutor(map[string]any{}, logger)
	require.NoError(t, err)

	_, err = executor.Execute(t.Context(), map[string]any{"k": "v"})
	require.NoError(t, err)

	assert.Contains(t, buf.String(), `\"k\":\"v\"`)
}

func TestNewExecutor_RejectsUnknownLevel(t *testing.T) {
	_, err := newExecutor(map[string]any{"level": "loud"}, slog.New(slog.DiscardHandler))
	require.Error(t, err)
}

func TestFactory(t *testing.T) {
	factory := NewFactory()
	assert.Equal(t, "log", factory.ID())

	executor, err := factory.Create(map[string]any{}, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	assert.NotNil(t, executor)
}
