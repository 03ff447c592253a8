// Package errs provides the error types returned to API clients.
package errs

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrCode is a transport independent error classification.
type ErrCode struct {
	value string
}

func (ec ErrCode) String() string { return ec.value }

var (
	InvalidArgument  = ErrCode{"invalid_argument"}
	Unauthenticated  = ErrCode{"unauthenticated"}
	PermissionDenied = ErrCode{"permission_denied"}
	NotFound         = ErrCode{"not_found"}
	AlreadyExists    = ErrCode{"already_exists"}
	Conflict         = ErrCode{"conflict"}
	Unavailable      = ErrCode{"unavailable"}
	Upstream         = ErrCode{"upstream"}
	Internal         = ErrCode{"internal"}
)

var httpStatus = map[ErrCode]int{
	InvalidArgument:  http.StatusBadRequest,
	Unauthenticated:  http.StatusUnauthorized,
	PermissionDenied: http.StatusForbidden,
	NotFound:         http.StatusNotFound,
	AlreadyExists:    http.StatusConflict,
	Conflict:         http.StatusConflict,
	Unavailable:      http.StatusServiceUnavailable,
	Upstream:         http.StatusBadGateway,
	Internal:         http.StatusInternalServerError,
}

// Error is the body of every failed API response.
type Error struct {
	Code    ErrCode           `json:"-"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`

	err error
}

// New wraps err with code. Field level details of FieldErrors are kept.
func New(code ErrCode, err error) *Error {
	e := &Error{Code: code, Message: err.Error(), err: err}

	var fe FieldErrors
	if errors.As(err, &fe) {
		e.Message = "data validation error"
		e.Fields = fe.Fields()
	}
	return e
}

// Wrap returns err as an unclassified Error. The error middleware assigns
// the code from the domain error err wraps.
func Wrap(err error) *Error {
	return &Error{Message: err.Error(), err: err}
}

// Classified reports whether e carries a code.
func (e *Error) Classified() bool { return e.Code != ErrCode{} }

// Newf constructs an Error from a format string.
func Newf(code ErrCode, format string, v ...any) *Error {
	return New(code, fmt.Errorf(format, v...))
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.err }

// Encode implements the web.Encoder interface.
func (e *Error) Encode() ([]byte, string, error) {
	body := struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Fields  map[string]string `json:"fields,omitempty"`
	}{e.Code.String(), e.Message, e.Fields}

	data, err := json.Marshal(body)
	return data, "application/json", err
}

// HTTPStatus implements the web httpStatus interface.
func (e *Error) HTTPStatus() int {
	if s, ok := httpStatus[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// IsError reports whether err is or wraps an *Error.
func IsError(err error) bool {
	var e *Error
	return errors.As(err, &e)
}

// GetError returns the *Error in err's chain, or nil.
func GetError(err error) *Error {
	var e *Error
	if !errors.As(err, &e) {
		return nil
	}
	return e
}
