package engine

import (
	"fmt"

	"entityflow/internal/validation"
)

type AppError struct {
	Code    string            `json:"code"`
	Status  int               `json:"-"`
	Message string            `json:"message"`
	Errors  validation.Errors `json:"errors,omitempty"`
}

func (e *AppError) Error() string {
	return e.Message
}

// ErrorResponse is the JSON envelope for failed HTTP requests.
type ErrorResponse struct {
	Error *AppError `json:"error"`
}

func NewAppError(code string, status int, msg string) *AppError {
	return &AppError{Code: code, Status: status, Message: msg}
}

func ValidationFailed(errs validation.Errors) *AppError {
	return &AppError{
		Code:    "VALIDATION_FAILED",
		Status:  422,
		Message: "Validation failed",
		Errors:  errs,
	}
}

func PermissionDenied(action, table string) *AppError {
	return &AppError{
		Code:    "FORBIDDEN",
		Status:  403,
		Message: fmt.Sprintf("You are not allowed to %s %s records", action, table),
	}
}

func NotFound(table string, id any) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Status:  404,
		Message: fmt.Sprintf("%s with id %v not found", table, id),
	}
}

// PersistenceFailed hides the driver message from callers.
func PersistenceFailed() *AppError {
	return &AppError{
		Code:    "PERSISTENCE_FAILED",
		Status:  500,
		Message: "The record could not be saved",
	}
}

func HookAborted(err error) *AppError {
	return &AppError{
		Code:    "HOOK_ABORTED",
		Status:  422,
		Message: err.Error(),
	}
}

func WorkflowFailed(msg string) *AppError {
	return &AppError{
		Code:    "WORKFLOW_FAILED",
		Status:  409,
		Message: msg,
	}
}

func Conflict(msg string) *AppError {
	return &AppError{
		Code:    "CONFLICT",
		Status:  409,
		Message: msg,
	}
}

func UnauthorizedError(msg string) *AppError {
	return &AppError{Code: "UNAUTHORIZED", Status: 401, Message: msg}
}

func ForbiddenError(msg string) *AppError {
	return &AppError{Code: "FORBIDDEN", Status: 403, Message: msg}
}

func CSRFFailed() *AppError {
	return &AppError{
		Code:    "CSRF_FAILED",
		Status:  419,
		Message: "Invalid or missing CSRF token",
	}
}

// Result is what every orchestrator write returns.
type Result struct {
	Success  bool              `json:"success"`
	ID       any               `json:"id,omitempty"`
	From     string            `json:"from,omitempty"`
	To       string            `json:"to,omitempty"`
	Code     string            `json:"code,omitempty"`
	Error    string            `json:"error,omitempty"`
	Errors   validation.Errors `json:"errors,omitempty"`
	Warnings []string          `json:"warnings,omitempty"`

	status int
}

// Status is the HTTP status matching the result.
func (r *Result) Status() int {
	if r.status != 0 {
		return r.status
	}
	return 200
}

func success(id any) *Result {
	return &Result{Success: true, ID: id}
}

func failure(e *AppError) *Result {
	r := &Result{Code: e.Code, Error: e.Message, status: e.Status}
	if len(e.Errors) > 0 {
		r.Errors = e.Errors
	}
	return r
}
