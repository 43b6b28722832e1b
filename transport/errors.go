package transport

import (
	"fmt"

	"github.com/kapetan-io/errors"
)

const (
	CodeOK            = 200
	CodeBadRequest    = 400
	CodeNotFound      = 404
	CodeConflict      = 409
	CodeRetryRequest  = 429
	CodeRequestFailed = 500
)

// CodeText returns the text form of a reply code as used in the Reply body.
func CodeText(code int) string {
	switch code {
	case CodeOK:
		return "OK"
	case CodeBadRequest:
		return "Bad Request"
	case CodeNotFound:
		return "Not Found"
	case CodeConflict:
		return "Conflict"
	case CodeRetryRequest:
		return "Retry Request"
	case CodeRequestFailed:
		return "Request Failed"
	default:
		return fmt.Sprintf("Code(%d)", code)
	}
}

// Error is implemented by every typed transport error. The HTTP handler uses
// Code and ToReply to build the response without inspecting concrete types.
type Error interface {
	error
	Code() int
	Message() string
	ToReply() *Reply
}

// FromReply rebuilds the typed error a server encoded into a Reply, so client
// code sees the same error types the service returned. Unknown codes come
// back as ErrRequestFailed.
func FromReply(r *Reply) Error {
	switch r.Code {
	case CodeBadRequest:
		return &ErrInvalidOption{msg: r.Message}
	case CodeNotFound:
		return &ErrNotFound{msg: r.Message}
	case CodeConflict:
		return &ErrConflict{msg: r.Message}
	case CodeRetryRequest:
		return &ErrRetryRequest{msg: r.Message}
	default:
		return &ErrRequestFailed{msg: r.Message}
	}
}

// -------------------------------------------------

// ErrRequestFailed is used to tell the client that the request was valid, but it failed for some reason.
type ErrRequestFailed struct {
	msg string
}

func NewRequestFailed(msg string, args ...any) *ErrRequestFailed {
	return &ErrRequestFailed{msg: fmt.Sprintf(msg, args...)}
}

func (e *ErrRequestFailed) Error() string {
	return e.msg
}

func (e *ErrRequestFailed) Is(target error) bool {
	var err *ErrRequestFailed
	return errors.As(target, &err)
}

func (e *ErrRequestFailed) Code() int {
	return CodeRequestFailed
}

func (e *ErrRequestFailed) Message() string {
	return e.msg
}

func (e *ErrRequestFailed) ToReply() *Reply {
	return &Reply{
		Message:  e.msg,
		CodeText: CodeText(CodeRequestFailed),
		Code:     CodeRequestFailed,
	}
}

var _ Error = &ErrRequestFailed{}

// -------------------------------------------------

// ErrInvalidOption is used to indicate an option provided was invalid for some reason
type ErrInvalidOption struct {
	msg string
}

func NewInvalidOption(msg string, args ...any) *ErrInvalidOption {
	return &ErrInvalidOption{msg: fmt.Sprintf(msg, args...)}
}

func (e *ErrInvalidOption) Error() string {
	return e.msg
}

func (e *ErrInvalidOption) Is(target error) bool {
	var err *ErrInvalidOption
	return errors.As(target, &err)
}

func (e *ErrInvalidOption) Code() int {
	return CodeBadRequest
}

func (e *ErrInvalidOption) Message() string {
	return e.msg
}

func (e *ErrInvalidOption) ToReply() *Reply {
	return &Reply{
		Message:  e.msg,
		CodeText: CodeText(CodeBadRequest),
		Code:     CodeBadRequest,
	}
}

var _ Error = &ErrInvalidOption{}

// -------------------------------------------------

// ErrNotFound is used to indicate the requested app or duplication does not exist
type ErrNotFound struct {
	msg string
}

func NewNotFound(msg string, args ...any) *ErrNotFound {
	return &ErrNotFound{msg: fmt.Sprintf(msg, args...)}
}

func (e *ErrNotFound) Error() string {
	return e.msg
}

func (e *ErrNotFound) Is(target error) bool {
	var err *ErrNotFound
	return errors.As(target, &err)
}

func (e *ErrNotFound) Code() int {
	return CodeNotFound
}

func (e *ErrNotFound) Message() string {
	return e.msg
}

func (e *ErrNotFound) ToReply() *Reply {
	return &Reply{
		Message:  e.msg,
		CodeText: CodeText(CodeNotFound),
		Code:     CodeNotFound,
	}
}

var _ Error = &ErrNotFound{}

// -------------------------------------------------

// ErrRetryRequest is used to tell the client that the request was valid, the server did not encounter a failure, but
// the request did not succeed. The client should retry
type ErrRetryRequest struct {
	msg string
}

func NewRetryRequest(msg string, args ...any) *ErrRetryRequest {
	return &ErrRetryRequest{msg: fmt.Sprintf(msg, args...)}
}

func (e *ErrRetryRequest) Error() string {
	return e.msg
}

func (e *ErrRetryRequest) Is(target error) bool {
	var err *ErrRetryRequest
	return errors.As(target, &err)
}

func (e *ErrRetryRequest) Code() int {
	return CodeRetryRequest
}

func (e *ErrRetryRequest) Message() string {
	return e.msg
}

func (e *ErrRetryRequest) ToReply() *Reply {
	return &Reply{
		Message:  e.msg,
		CodeText: CodeText(CodeRetryRequest),
		Code:     CodeRetryRequest,
	}
}

var _ Error = &ErrRetryRequest{}

// -------------------------------------------------

// ErrConflict is used to indicate the request lost to a concurrent alteration
// or attempted an illegal status transition
type ErrConflict struct {
	msg string
}

func NewConflict(msg string, args ...any) *ErrConflict {
	return &ErrConflict{
		msg: fmt.Sprintf(msg, args...),
	}
}

func (e *ErrConflict) Error() string {
	return e.msg
}

func (e *ErrConflict) Is(target error) bool {
	var err *ErrConflict
	return errors.As(target, &err)
}

func (e *ErrConflict) Code() int {
	return CodeConflict
}

func (e *ErrConflict) Message() string {
	return e.msg
}

func (e *ErrConflict) ToReply() *Reply {
	return &Reply{
		Message:  e.msg,
		CodeText: CodeText(CodeConflict),
		Code:     CodeConflict,
	}
}

var _ Error = &ErrConflict{}
