package models

// CompensationType identifies the kind of compensating action registered on a step.
type CompensationType string

const (
	CompensationTypeAPICall      CompensationType = "api_call"     // Outbound HTTP call
	CompensationTypeDataUpdate   CompensationType = "data_update"  // Data-mutation operation
	CompensationTypeNotification CompensationType = "notification" // Notify a human or system
	CompensationTypeManual       CompensationType = "manual"       // Placeholder instruction for an operator
)

// Compensation describes the corrective action to run if a later step fails
// after this step completed.
type Compensation struct {
	Type          CompensationType `json:"type" validate:"required,oneof=api_call data_update notification manual"`
	Configuration map[string]any   `json:"configuration,omitempty"`
}

// WorkflowStep is one node of the workflow graph. Steps with no dependency
// edge between them may run concurrently; DependsOn edges define the partial
// order the engine preserves.
type WorkflowStep struct {
	ID             string         `json:"id"            validate:"required"`
	UID            string         `json:"uid"           validate:"required,lowercase,alphanum"`
	Name           string         `json:"name"          validate:"required"`
	ExecutorType   string         `json:"executor_type" validate:"required"`
	Configuration  map[string]any `json:"configuration,omitempty"`
	DependsOn      []string       `json:"depends_on,omitempty"`
	RetryPolicy    *RetryPolicy   `json:"retry_policy,omitempty"`
	TimeoutSeconds int            `json:"timeout_seconds,omitempty"`
	Compensation   *Compensation  `json:"compensation,omitempty"`
	Enabled        bool           `json:"enabled"`
}
