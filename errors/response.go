package errors

import (
	stderrors "errors"
	"net/http"
)

// ErrorResponse is the JSON body sent for a failed request.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Code      ErrorCode      `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details,omitempty"`
}

func (e *AppError) ToResponse() ErrorResponse {
	return ErrorResponse{Error: ErrorBody{
		Code:      e.Code,
		Message:   e.Message,
		Retryable: e.Retryable,
		Details:   e.Details,
	}}
}

// AsAppError finds the first *AppError in err's chain.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// Response maps any error to an HTTP status and body. Errors outside the
// AppError taxonomy become a 500 that does not leak their text.
func Response(err error) (int, ErrorResponse) {
	appErr, ok := AsAppError(err)
	if !ok {
		appErr = New(ErrCodeInternal, "internal server error", http.StatusInternalServerError)
	}
	status := appErr.HTTPStatus
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return status, appErr.ToResponse()
}
