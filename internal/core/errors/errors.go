package errors

const (
	HttpInternalError     = "internal_error"
	HttpAccountNotFound   = "account_not_found"
	HttpInvalidStateError = "invalid_state"
)

// ErrorResponse is the error response body for control API errors.
type ErrorResponse struct {
	ErrorType string      `json:"error_type"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
}
