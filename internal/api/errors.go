package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/TimurManjosov/rulekit/internal/rules"
	"github.com/TimurManjosov/rulekit/internal/session"
)

// ErrorCode represents machine-readable error codes
type ErrorCode string

const (
	// General error codes
	ErrCodeInternal    ErrorCode = "INTERNAL_ERROR"
	ErrCodeNotFound    ErrorCode = "NOT_FOUND"
	ErrCodeRateLimited ErrorCode = "RATE_LIMITED"
	ErrCodeInvalidJSON ErrorCode = "INVALID_JSON"

	// Rule set error codes
	ErrCodeEmptyRule   ErrorCode = "EMPTY_RULE"
	ErrCodeRuleTooLong ErrorCode = "RULE_TOO_LONG"
	ErrCodeEmptySet    ErrorCode = "EMPTY_RULE_SET"
	ErrCodeValidation  ErrorCode = "VALIDATION_ERROR"

	// Engine error codes
	ErrCodeEngineUnavailable ErrorCode = "ENGINE_UNAVAILABLE"
	ErrCodeCombineFailed     ErrorCode = "COMBINE_FAILED"
	ErrCodeSuperseded        ErrorCode = "SUPERSEDED"
	ErrCodeEvaluationFailed  ErrorCode = "EVALUATION_FAILED"

	// Evaluation precondition codes
	ErrCodeIncompleteData     ErrorCode = "INCOMPLETE_DATA"
	ErrCodeInvalidNumeric     ErrorCode = "INVALID_NUMERIC_FIELD"
	ErrCodeMissingCombination ErrorCode = "MISSING_COMBINATION"
	ErrCodeStaleCombination   ErrorCode = "STALE_COMBINATION"
)

// ErrorResponse represents a structured error response
type ErrorResponse struct {
	Error     string            `json:"error"`                // HTTP status text
	Message   string            `json:"message"`              // Human-readable description
	Code      ErrorCode         `json:"code"`                 // Machine-readable error code
	Fields    map[string]string `json:"fields,omitempty"`     // Field-level errors
	RequestID string            `json:"request_id,omitempty"` // Request ID for debugging
}

// NewErrorResponse creates a new error response
func NewErrorResponse(statusCode int, code ErrorCode, message string) *ErrorResponse {
	return &ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    code,
	}
}

// WithFields adds field-level errors to the response
func (e *ErrorResponse) WithFields(fields map[string]string) *ErrorResponse {
	e.Fields = fields
	return e
}

// WithRequestID adds a request ID to the response
func (e *ErrorResponse) WithRequestID(requestID string) *ErrorResponse {
	e.RequestID = requestID
	return e
}

// writeErrorResponse writes a structured error response to the http response writer
func writeErrorResponse(w http.ResponseWriter, r *http.Request, statusCode int, errResp *ErrorResponse) {
	if reqID := middleware.GetReqID(r.Context()); reqID != "" {
		errResp.RequestID = reqID
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errResp)
}

// BadRequestError creates a bad request error response
func BadRequestError(w http.ResponseWriter, r *http.Request, code ErrorCode, message string) {
	errResp := NewErrorResponse(http.StatusBadRequest, code, message)
	writeErrorResponse(w, r, http.StatusBadRequest, errResp)
}

// NotFoundError creates a not found error response
func NotFoundError(w http.ResponseWriter, r *http.Request, message string) {
	errResp := NewErrorResponse(http.StatusNotFound, ErrCodeNotFound, message)
	writeErrorResponse(w, r, http.StatusNotFound, errResp)
}

// InternalError creates an internal server error response
func InternalError(w http.ResponseWriter, r *http.Request, message string) {
	errResp := NewErrorResponse(http.StatusInternalServerError, ErrCodeInternal, message)
	writeErrorResponse(w, r, http.StatusInternalServerError, errResp)
}

// RateLimitedError creates a too-many-requests error response
func RateLimitedError(w http.ResponseWriter, r *http.Request) {
	errResp := NewErrorResponse(http.StatusTooManyRequests, ErrCodeRateLimited, "rate limit exceeded, retry later")
	writeErrorResponse(w, r, http.StatusTooManyRequests, errResp)
}

// classify maps a session or engine error to an HTTP status and error response.
// Order matters: wrapped errors are checked before the errors they wrap.
func classify(err error) (int, *ErrorResponse) {
	var (
		vErr *rules.ValidationError
		cErr *rules.CombineError
		tErr *rules.TransportError
		eErr *rules.EvaluationError
		iErr *rules.IncompleteDataError
		nErr *rules.InvalidNumericFieldError
	)

	switch {
	case errors.Is(err, rules.ErrEmptyRule):
		return http.StatusBadRequest, NewErrorResponse(http.StatusBadRequest, ErrCodeEmptyRule, err.Error())
	case errors.Is(err, rules.ErrRuleTooLong):
		return http.StatusBadRequest, NewErrorResponse(http.StatusBadRequest, ErrCodeRuleTooLong, err.Error())
	case errors.Is(err, rules.ErrEmptyRuleSet):
		return http.StatusConflict, NewErrorResponse(http.StatusConflict, ErrCodeEmptySet, err.Error())
	case errors.Is(err, rules.ErrStaleCombination):
		return http.StatusConflict, NewErrorResponse(http.StatusConflict, ErrCodeStaleCombination, err.Error())
	case errors.Is(err, rules.ErrMissingCombination):
		return http.StatusConflict, NewErrorResponse(http.StatusConflict, ErrCodeMissingCombination, err.Error())
	case errors.Is(err, session.ErrSuperseded):
		return http.StatusConflict, NewErrorResponse(http.StatusConflict, ErrCodeSuperseded, err.Error())
	case errors.As(err, &vErr):
		return http.StatusUnprocessableEntity, NewErrorResponse(http.StatusUnprocessableEntity, ErrCodeValidation, vErr.Message)
	case errors.As(err, &iErr):
		fields := make(map[string]string, len(iErr.Missing))
		for _, f := range iErr.Missing {
			fields[f] = "is required"
		}
		return http.StatusBadRequest, NewErrorResponse(http.StatusBadRequest, ErrCodeIncompleteData, err.Error()).WithFields(fields)
	case errors.As(err, &nErr):
		return http.StatusBadRequest, NewErrorResponse(http.StatusBadRequest, ErrCodeInvalidNumeric, err.Error()).
			WithFields(map[string]string{nErr.Field: "must be an integer"})
	case errors.As(err, &cErr):
		return http.StatusBadGateway, NewErrorResponse(http.StatusBadGateway, ErrCodeCombineFailed, err.Error())
	case errors.As(err, &eErr):
		return http.StatusBadGateway, NewErrorResponse(http.StatusBadGateway, ErrCodeEvaluationFailed, err.Error())
	case errors.As(err, &tErr):
		return http.StatusBadGateway, NewErrorResponse(http.StatusBadGateway, ErrCodeEngineUnavailable, err.Error())
	default:
		return http.StatusInternalServerError, NewErrorResponse(http.StatusInternalServerError, ErrCodeInternal, "internal error")
	}
}

// writeSessionError writes the structured response for a session operation failure.
func writeSessionError(w http.ResponseWriter, r *http.Request, err error) {
	status, errResp := classify(err)
	writeErrorResponse(w, r, status, errResp)
}
