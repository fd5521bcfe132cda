package domain

import "fmt"

// Failure codes classify terminal execution failures for retry policy and
// reporting. The set is closed; processors surface anything else as
// internal_failure.
const (
	FailureConfiguration       = "configuration_failure"
	FailureValidation          = "validation_failure"
	FailureExternalCall        = "external_call_failure"
	FailureExternalCallTimeout = "external_call_timeout"
	FailurePersistence         = "persistence_failure"
	FailureInternal            = "internal_failure"
)

// Execution phases, used for failure attribution.
const (
	PhaseTransform      = "transform"
	PhaseValidateInput  = "validate_input"
	PhaseExtract        = "extract"
	PhaseValidateOutput = "validate_output"
	PhaseConsolidate    = "consolidate"
)

// PhaseError is a classified processor failure carrying the phase it
// occurred in. Dispatcher records Code/Phase/Reason on the execution row.
type PhaseError struct {
	Code   string
	Phase  string
	Reason string
	Err    error
}

func (e *PhaseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s in %s: %s: %v", e.Code, e.Phase, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s in %s: %s", e.Code, e.Phase, e.Reason)
}

func (e *PhaseError) Unwrap() error { return e.Err }

// NewPhaseError builds a classified failure.
func NewPhaseError(code, phase, reason string, err error) *PhaseError {
	return &PhaseError{Code: code, Phase: phase, Reason: reason, Err: err}
}

// ValidationResult is the outcome of a validate phase. A non-valid result
// with no error fails the execution with validation_failure.
type ValidationResult struct {
	Valid   bool     `json:"valid"`
	Reasons []string `json:"reasons,omitempty"`
}

// Invalid builds a failed validation result.
func Invalid(reasons ...string) ValidationResult {
	return ValidationResult{Valid: false, Reasons: reasons}
}

// Valid builds a passing validation result.
func Valid() ValidationResult { return ValidationResult{Valid: true} }
