package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderString(t *testing.T) {
	out, err := RenderString("hello {{.name}}", map[string]any{"name": "world"})
	require.NoError(t, err)
	assert.Equal(t, "hello world", out)
}

func TestRenderString_MissingKeyErrors(t *testing.T) {
	_, err := RenderString("{{.missing}}", map[string]any{"name": "world"})
	require.Error(t, err)
}

func TestRender_CoercesTypes(t *testing.T) {
	tests := []struct {
		name string
		expr string
		data map[string]any
		want any
	}{
		{"number", "{{.count}}", map[string]any{"count": 42}, float64(42)},
		{"boolean", "{{.ok}}", map[string]any{"ok": true}, true},
		{"string", "plain text", nil, "plain text"},
		{
			"json object",
			`{"total": {{.total}}}`,
			map[string]any{"total": 7},
			map[string]any{"total": float64(7)},
		},
		{
			"json array",
			`[{{.a}}, {{.b}}]`,
			map[string]any{"a": 1, "b": 2},
			[]any{float64(1), float64(2)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Render(tt.expr, tt.data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRender_JSONFunc(t *testing.T) {
	got, err := Render(`{{json .payload}}`, map[string]any{
		"payload": map[string]any{"id": "abc"},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": "abc"}, got)
}

func TestRenderMap(t *testing.T) {
	rendered, err := RenderMap(map[string]string{
		"Authorization": "Bearer {{.token}}",
		"Accept":        "application/json",
	}, map[string]any{"token": "t-1"})
	require.NoError(t, err)

	assert.Equal(t, "Bearer t-1", rendered["Authorization"])
	assert.Equal(t, "application/json", rendered["Accept"])
}
