// Package models defines the core domain models for workflow execution and resilience.
package models

import (
	"errors"
	"fmt"
	"time"
)

// WorkflowStatus represents the lifecycle state of a workflow.
type WorkflowStatus string

const (
	WorkflowStatusDraft    WorkflowStatus = "draft"    // Editable, not executable
	WorkflowStatusActive   WorkflowStatus = "active"   // Executable by triggers
	WorkflowStatusPaused   WorkflowStatus = "paused"   // Temporarily not executable
	WorkflowStatusArchived WorkflowStatus = "archived" // Historical, not executable
)

// Workflow represents a directed graph of steps. A workflow referenced by an
// execution is immutable; edits create a new version.
type Workflow struct {
	ID             string          `json:"id"`
	OrganizationID string          `json:"organization_id" validate:"required"`
	Name           string          `json:"name"            validate:"required,min=3"`
	Description    string          `json:"description"`
	Status         WorkflowStatus  `json:"status"          validate:"required"`
	Steps          []*WorkflowStep `json:"steps"`
	RetryPolicy    *RetryPolicy    `json:"retry_policy,omitempty"` // Workflow-level default, overridable per step
	Variables      map[string]any  `json:"variables,omitempty"`
	Metadata       map[string]any  `json:"metadata,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	DeletedAt      *time.Time      `json:"deleted_at,omitempty"`
}

var (
	ErrUnknownDependency = errors.New("step depends on unknown step")
	ErrDependencyCycle   = errors.New("workflow graph contains a dependency cycle")
	ErrStepNotFound      = errors.New("step not found in workflow")
)

// IsExecutable reports whether the workflow may be run by a trigger.
func (w *Workflow) IsExecutable() bool {
	return w.Status == WorkflowStatusActive && w.DeletedAt == nil
}

// StepByID returns the step with the given id.
func (w *Workflow) StepByID(stepID string) (*WorkflowStep, error) {
	for _, step := range w.Steps {
		if step.ID == stepID {
			return step, nil
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrStepNotFound, stepID)
}

// ValidateGraph checks that every dependency edge references a known step and
// that the graph is acyclic.
func (w *Workflow) ValidateGraph() error {
	ids := make(map[string]bool, len(w.Steps))
	for _, step := range w.Steps {
		ids[step.ID] = true
	}

	for _, step := range w.Steps {
		for _, dep := range step.DependsOn {
			if !ids[dep] {
				return fmt.Errorf("%w: step %s depends on %s", ErrUnknownDependency, step.ID, dep)
			}
		}
	}

	// Kahn's algorithm: if not every step can be ordered, there is a cycle.
	indegree := make(map[string]int, len(w.Steps))
	dependents := make(map[string][]string, len(w.Steps))

	for _, step := range w.Steps {
		indegree[step.ID] = len(step.DependsOn)
		for _, dep := range step.DependsOn {
			dependents[dep] = append(dependents[dep], step.ID)
		}
	}

	queue := make([]string, 0, len(w.Steps))
	for id, degree := range indegree {
		if degree == 0 {
			queue = append(queue, id)
		}
	}

	ordered := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		ordered++

		for _, next := range dependents[id] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if ordered != len(w.Steps) {
		return ErrDependencyCycle
	}

	return nil
}
