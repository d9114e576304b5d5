package domain

import (
	"net/http"

	"github.com/pkg/errors"
)

var (
	ErrPasteNotFound      = NewErr("PASTE_NOT_FOUND", "Paste not found or expired", http.StatusNotFound)
	ErrBackendUnavailable = NewErr("BACKEND_UNAVAILABLE", "Storage unavailable", http.StatusServiceUnavailable)
	ErrInvalidRequest     = NewErr("INVALID_REQUEST", "Invalid JSON in request body", http.StatusBadRequest)
	ErrValidation         = NewErr("VALIDATION_FAILED", "Validation failed", http.StatusBadRequest)
	ErrPasteTooLarge      = NewErr("PASTE_TOO_LARGE", "Paste too large", http.StatusBadRequest)
	ErrRateLimitExceeded  = NewErr("RATE_LIMIT_EXCEEDED", "Too many requests", http.StatusTooManyRequests)
	ErrInternalServer     = NewErr("INTERNAL_ERROR", "Internal server error", http.StatusInternalServerError)
	ErrIDGenerationFailed = NewErr("ID_GENERATION_FAILED", "Could not allocate paste id", http.StatusInternalServerError)
)

type Err struct {
	Code   string `json:"code"`
	Msg    string `json:"message"`
	Status int    `json:"-"`
}

func (e *Err) Error() string { return e.Msg }
func NewErr(code, msg string, status int) *Err {
	return &Err{Code: code, Msg: msg, Status: status}
}

// BackendErr wraps a failed key-value call. It matches ErrBackendUnavailable
// under errors.Is while keeping the driver error reachable through Unwrap.
type BackendErr struct {
	Op  string
	Err error
}

func (e *BackendErr) Error() string {
	return "backend " + e.Op + ": " + e.Err.Error()
}
func (e *BackendErr) Unwrap() error { return e.Err }
func (e *BackendErr) Is(target error) bool {
	return target == ErrBackendUnavailable
}

func Backend(op string, err error) error {
	if err == nil {
		return nil
	}
	return &BackendErr{Op: op, Err: err}
}

// ErrResp is the JSON error body. Error carries the human message so
// clients can match on it directly.
type ErrResp struct {
	Error     string        `json:"error"`
	Code      string        `json:"code"`
	Details   []FieldDetail `json:"details,omitempty"`
	RequestID string        `json:"request_id,omitempty"`
}

type FieldDetail struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func ToResp(err error) ErrResp {
	if e := asErr(err); e != nil {
		return ErrResp{Error: e.Msg, Code: e.Code}
	}
	return ErrResp{Error: ErrInternalServer.Msg, Code: ErrInternalServer.Code}
}
func Status(err error) int {
	if e := asErr(err); e != nil {
		return e.Status
	}
	return http.StatusInternalServerError
}
func asErr(err error) *Err {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrBackendUnavailable) {
		return ErrBackendUnavailable
	}
	var e *Err
	if errors.As(err, &e) {
		return e
	}
	if e, ok := errors.Cause(err).(*Err); ok {
		return e
	}
	return nil
}
