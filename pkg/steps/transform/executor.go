// Package transform provides the transform step executor: template
// expressions reshaping the step input into a new output payload.
package transform

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ledgerflow/conductor/pkg/protocol"
	"github.com/ledgerflow/conductor/pkg/template"
)

type Executor struct {
	logger     *slog.Logger
	expression string
	field      string
}

func newExecutor(config map[string]any, logger *slog.Logger) (*Executor, error) {
	expression, _ := config["expression"].(string)
	if expression == "" {
		return nil, fmt.Errorf("transform step requires an expression")
	}

	field, _ := config["field"].(string)
	if field == "" {
		field = "result"
	}

	return &Executor{
		logger:     logger.With("module", "transform_step"),
		expression: expression,
		field:      field,
	}, nil
}

// Execute renders the expression over the input. A rendered JSON object
// becomes the output directly; any other value lands under the configured
// output field.
func (e *Executor) Execute(ctx context.Context, input map[string]any) (map[string]any, error) {
	value, err := template.Render(e.expression, input)
	if err != nil {
		return nil, fmt.Errorf("transformation failed: %w", err)
	}

	if object, ok := value.(map[string]any); ok {
		return object, nil
	}

	return map[string]any{e.field: value}, nil
}

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) ID() string {
	return "transform"
}

func (f *Factory) Create(config map[string]any, logger *slog.Logger) (protocol.StepExecutor, error) {
	return newExecutor(config, logger)
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"expression": map[string]any{
				"type":        "string",
				"description": "Template expression rendered over the step input.",
			},
			"field": map[string]any{
				"type":        "string",
				"description": "Output field for scalar results. Defaults to result.",
			},
		},
		"required":             []string{"expression"},
		"additionalProperties": false,
	}
}
