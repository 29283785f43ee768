// ABOUTME: Error taxonomy for the pipeline engine: configuration, validation, retry, plugin, and timeout errors.
// ABOUTME: All types embed EngineError for uniform wrapping, Unwrap, and errors.As matching.
package pipeline

import "fmt"

// EngineError is the base error type for the pipeline engine. All other error
// types embed it directly.
type EngineError struct {
	Message string
	Cause   error
}

func (e *EngineError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *EngineError) Unwrap() error {
	return e.Cause
}

// ConfigurationError indicates the batch cannot make progress at all: a
// missing collaborator, capability, or invalid step definition. It is raised
// before any row is processed and aborts the whole run.
type ConfigurationError struct {
	EngineError
}

// NewConfigurationError builds a ConfigurationError with a formatted message.
func NewConfigurationError(format string, args ...any) *ConfigurationError {
	return &ConfigurationError{EngineError{Message: fmt.Sprintf(format, args...)}}
}

// ValidationKind classifies why a model reply failed validation.
type ValidationKind string

const (
	// ValidationJSONParse: the reply was not valid JSON when a schema was required.
	ValidationJSONParse ValidationKind = "JSON_PARSE_ERROR"
	// ValidationCustom: schema mismatch or an external verify command rejected the reply.
	ValidationCustom ValidationKind = "CUSTOM_ERROR"
)

// ValidationError is a recoverable per-attempt failure inside the retry loop.
// Detail is folded into the corrective follow-up turn so the model can
// self-correct.
type ValidationError struct {
	EngineError
	Kind   ValidationKind
	Detail string
}

// NewValidationError builds a ValidationError of the given kind.
func NewValidationError(kind ValidationKind, detail string) *ValidationError {
	return &ValidationError{
		EngineError: EngineError{Message: fmt.Sprintf("validation failed (%s)", kind)},
		Kind:        kind,
		Detail:      detail,
	}
}

// RetriesExhaustedError is terminal for one branch: the validation loop used
// every allowed model call without producing a valid reply.
type RetriesExhaustedError struct {
	EngineError
	Attempts int
	Last     *ValidationError
}

// PluginExecutionError is terminal for the active context whose plugin failed.
type PluginExecutionError struct {
	EngineError
	Plugin string
}

// TimeoutError indicates a task exceeded its step's declared timeout.
type TimeoutError struct {
	EngineError
	StepIndex int
}

// RowError records the first fatal failure in a row's lineage, keyed by the
// row's original input index.
type RowError struct {
	Index     int
	StepIndex int
	Err       error
}

func (e RowError) Error() string {
	return fmt.Sprintf("row %d (step %d): %v", e.Index, e.StepIndex, e.Err)
}

func (e RowError) Unwrap() error {
	return e.Err
}
