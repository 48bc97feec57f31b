package cmd

import (
	"log/slog"

	"github.com/ledgerflow/conductor/pkg/registry"
	"github.com/ledgerflow/conductor/pkg/steps/httprequest"
	"github.com/ledgerflow/conductor/pkg/steps/logstep"
	"github.com/ledgerflow/conductor/pkg/steps/transform"
)

// NewRegistry builds the step-executor registry with the built-in executor
// types.
func NewRegistry(logger *slog.Logger) *registry.Registry {
	reg := registry.NewRegistry(logger)

	reg.RegisterExecutor(httprequest.NewFactory())
	reg.RegisterExecutor(transform.NewFactory())
	reg.RegisterExecutor(logstep.NewFactory())

	return reg
}
