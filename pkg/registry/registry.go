// Package registry holds the step-executor factories available to the engine.
package registry

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/ledgerflow/conductor/pkg/protocol"
)

type Registry struct {
	logger            *slog.Logger
	executorFactories map[string]protocol.StepExecutorFactory
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger:            log,
		executorFactories: make(map[string]protocol.StepExecutorFactory),
	}
}

func (r *Registry) RegisterExecutor(factory protocol.StepExecutorFactory) {
	r.executorFactories[factory.ID()] = factory
}

// CreateExecutor validates the step configuration against the factory's
// schema and instantiates the executor.
func (r *Registry) CreateExecutor(executorType string, config map[string]any) (protocol.StepExecutor, error) {
	factory, ok := r.executorFactories[executorType]
	if !ok {
		return nil, fmt.Errorf("executor type '%s' not registered", executorType)
	}

	if err := r.validateConfig(factory, config); err != nil {
		return nil, err
	}

	return factory.Create(config, r.logger)
}

// ValidateStepConfig checks a step configuration without instantiating the
// executor. Used at workflow save time so bad configuration never reaches
// execution.
func (r *Registry) ValidateStepConfig(executorType string, config map[string]any) error {
	factory, ok := r.executorFactories[executorType]
	if !ok {
		return fmt.Errorf("executor type '%s' not registered", executorType)
	}

	return r.validateConfig(factory, config)
}

func (r *Registry) validateConfig(factory protocol.StepExecutorFactory, config map[string]any) error {
	schema := factory.Schema()
	if schema == nil {
		return nil
	}

	schemaLoader := gojsonschema.NewGoLoader(schema)
	dataLoader := gojsonschema.NewGoLoader(config)

	result, err := gojsonschema.Validate(schemaLoader, dataLoader)
	if err != nil {
		return fmt.Errorf("schema validation failed for executor '%s': %w", factory.ID(), err)
	}

	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}

		return fmt.Errorf("invalid configuration for executor '%s': %s", factory.ID(), strings.Join(details, "; "))
	}

	return nil
}

// ExecutorTypes lists the registered executor type ids.
func (r *Registry) ExecutorTypes() []string {
	types := make([]string, 0, len(r.executorFactories))
	for id := range r.executorFactories {
		types = append(types, id)
	}

	return types
}

// HealthCheck reports whether the registry is usable.
func (r *Registry) HealthCheck() (string, bool) {
	if len(r.executorFactories) == 0 {
		return "no step executors registered", false
	}

	return fmt.Sprintf("%d executor types registered", len(r.executorFactories)), true
}
