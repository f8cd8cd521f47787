package rules

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Sentinel errors for preconditions checked before any engine call.
var (
	ErrEmptyRule          = errors.New("rule must not be empty")
	ErrRuleTooLong        = errors.New("rule is too long")
	ErrEmptyRuleSet       = errors.New("rule set is empty")
	ErrMissingCombination = errors.New("rules have not been combined")
	// ErrStaleCombination is returned when the rule set changed after the
	// last combine. It matches ErrMissingCombination with errors.Is.
	ErrStaleCombination = fmt.Errorf("%w: rule set changed since last combine", ErrMissingCombination)
)

// Fallback messages used when the engine rejects a rule without an explanation.
const (
	FallbackAddMessage    = "Error adding rule"
	FallbackUpdateMessage = "Error updating rule"
)

// ValidationError is returned when the rule engine rejects a rule.
// Message is the engine's own explanation, passed through verbatim.
type ValidationError struct {
	Status  int
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// TransportError wraps network, timeout and decoding failures talking to the engine.
type TransportError struct {
	Op  string // create_rule, combine_rules or evaluate_rule
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// CombineError is returned when a combine request fails, either with a
// non-success status or, with Err set, a transport failure.
type CombineError struct {
	Status  int
	Message string
	Err     error
}

func (e *CombineError) Error() string {
	switch {
	case e.Err != nil:
		return "combine failed: " + e.Err.Error()
	case e.Message == "":
		return fmt.Sprintf("combine failed (status %d)", e.Status)
	default:
		return fmt.Sprintf("combine failed (status %d): %s", e.Status, e.Message)
	}
}

func (e *CombineError) Unwrap() error { return e.Err }

// EvaluationError is returned when the engine answers an evaluate request with
// a non-success status. StatusText mirrors the HTTP reason phrase.
type EvaluationError struct {
	Status     int
	StatusText string
}

func (e *EvaluationError) Error() string {
	return "Network response was not ok: " + e.StatusText
}

// NewEvaluationError builds an EvaluationError for an HTTP status code.
func NewEvaluationError(status int) *EvaluationError {
	return &EvaluationError{Status: status, StatusText: http.StatusText(status)}
}

// IncompleteDataError lists record fields that were missing or blank.
type IncompleteDataError struct {
	Missing []string
}

func (e *IncompleteDataError) Error() string {
	return "incomplete data record, missing: " + strings.Join(e.Missing, ", ")
}

// InvalidNumericFieldError is returned when a numeric record field does not
// parse as an integer.
type InvalidNumericFieldError struct {
	Field string
	Value string
	Err   error
}

func (e *InvalidNumericFieldError) Error() string {
	return fmt.Sprintf("field %q must be an integer, got %q", e.Field, e.Value)
}

func (e *InvalidNumericFieldError) Unwrap() error { return e.Err }
