package errors

import (
	"net/http"
	"time"
)

// ErrorCode represents a standardized error code
type ErrorCode string

const (
	// Authentication errors (401xx)
	ErrInvalidCredentials ErrorCode = "40101"
	ErrTokenExpired       ErrorCode = "40102"

	// Resource errors (404xx)
	ErrThreadNotFound   ErrorCode = "40401"
	ErrDocumentNotFound ErrorCode = "40402"

	// Request errors (400xx)
	ErrInvalidRequest   ErrorCode = "40001"
	ErrValidationFailed ErrorCode = "40002"
	ErrMissingFields    ErrorCode = "40003"
	ErrNoFile           ErrorCode = "40004"
	ErrUnsupportedModel ErrorCode = "40005"

	// Payload errors (413xx)
	ErrFileTooLarge ErrorCode = "41301"

	// Rate limit errors (429xx)
	ErrRateLimited ErrorCode = "42901"

	// Server errors (500xx)
	ErrInternalServer          ErrorCode = "50001"
	ErrStorageFailed           ErrorCode = "50002"
	ErrModelServiceUnavailable ErrorCode = "50301"
	ErrModelServiceTimeout     ErrorCode = "50401"
)

// APIError represents a standardized API error
type APIError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	Details    any       `json:"details,omitempty"`
	HTTPStatus int       `json:"-"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return e.Message
}

// WithMessage returns a copy of the error carrying a different message
func (e *APIError) WithMessage(message string) *APIError {
	cp := *e
	cp.Message = message
	return &cp
}

// ErrorResponse represents the error response format
type ErrorResponse struct {
	Error         APIError `json:"error"`
	RequestID     string   `json:"request_id"`
	CorrelationID string   `json:"correlation_id,omitempty"`
	Path          string   `json:"path,omitempty"`
	Method        string   `json:"method,omitempty"`
	Timestamp     string   `json:"timestamp"`
}

// NewErrorResponse wraps an APIError with request context
func NewErrorResponse(err *APIError, requestID, correlationID, path, method string) *ErrorResponse {
	return &ErrorResponse{
		Error:         *err,
		RequestID:     requestID,
		CorrelationID: correlationID,
		Path:          path,
		Method:        method,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	}
}

// Common errors
var (
	ErrInvalidCredentialsError = &APIError{
		Code:       ErrInvalidCredentials,
		Message:    "Missing or invalid access token",
		HTTPStatus: http.StatusUnauthorized,
	}

	ErrTokenExpiredError = &APIError{
		Code:       ErrTokenExpired,
		Message:    "Token has expired",
		HTTPStatus: http.StatusUnauthorized,
	}

	ErrThreadNotFoundError = &APIError{
		Code:       ErrThreadNotFound,
		Message:    "Thread not found",
		HTTPStatus: http.StatusNotFound,
	}

	ErrDocumentNotFoundError = &APIError{
		Code:       ErrDocumentNotFound,
		Message:    "Document not found",
		HTTPStatus: http.StatusNotFound,
	}

	ErrNoFileError = &APIError{
		Code:       ErrNoFile,
		Message:    "No file provided",
		HTTPStatus: http.StatusBadRequest,
	}

	ErrFileTooLargeError = &APIError{
		Code:       ErrFileTooLarge,
		Message:    "File exceeds the upload size limit",
		HTTPStatus: http.StatusRequestEntityTooLarge,
	}

	ErrRateLimitedError = &APIError{
		Code:       ErrRateLimited,
		Message:    "Rate limit exceeded",
		HTTPStatus: http.StatusTooManyRequests,
	}

	ErrInternalServerError = &APIError{
		Code:       ErrInternalServer,
		Message:    "Internal server error",
		HTTPStatus: http.StatusInternalServerError,
	}

	ErrModelServiceUnavailableError = &APIError{
		Code:       ErrModelServiceUnavailable,
		Message:    "Model service unavailable",
		HTTPStatus: http.StatusServiceUnavailable,
	}

	ErrModelServiceTimeoutError = &APIError{
		Code:       ErrModelServiceTimeout,
		Message:    "Model service timeout",
		HTTPStatus: http.StatusGatewayTimeout,
	}
)

// NewValidationError creates a validation error with details
func NewValidationError(details any) *APIError {
	return &APIError{
		Code:       ErrValidationFailed,
		Message:    "Validation failed",
		Details:    details,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewInvalidRequestError creates an invalid request error
func NewInvalidRequestError(message string) *APIError {
	return &APIError{
		Code:       ErrInvalidRequest,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewMissingFieldsError reports required request fields that were absent
func NewMissingFieldsError(message string) *APIError {
	return &APIError{
		Code:       ErrMissingFields,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewUnsupportedModelError reports a model ID the model service does not offer
func NewUnsupportedModelError(modelID string) *APIError {
	return &APIError{
		Code:       ErrUnsupportedModel,
		Message:    "Unknown model: " + modelID,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewStorageError reports a failure of the document store or blob storage
func NewStorageError(message string) *APIError {
	return &APIError{
		Code:       ErrStorageFailed,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
	}
}
