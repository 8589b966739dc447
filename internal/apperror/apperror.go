// Package apperror classifies failures into the kinds clients see and the
// resilience layer acts on.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the stable classification of a failure.
type Kind string

const (
	KindBadRequest         Kind = "BAD_REQUEST"
	KindUnauthenticated    Kind = "UNAUTHENTICATED"
	KindNotFound           Kind = "NOT_FOUND"
	KindConflict           Kind = "CONFLICT"
	KindLobbyFull          Kind = "LOBBY_FULL"
	KindLobbyStarted       Kind = "LOBBY_STARTED"
	KindInvalidMove        Kind = "INVALID_MOVE"
	KindTooManyRequests    Kind = "TOO_MANY_REQUESTS"
	KindRequestTimeout     Kind = "REQUEST_TIMEOUT"
	KindServiceUnavailable Kind = "SERVICE_UNAVAILABLE"
	KindUpstreamFailure    Kind = "UPSTREAM_FAILURE"
	KindInternal           Kind = "INTERNAL"
)

var statusByKind = map[Kind]int{
	KindBadRequest:         http.StatusBadRequest,
	KindUnauthenticated:    http.StatusUnauthorized,
	KindNotFound:           http.StatusNotFound,
	KindConflict:           http.StatusConflict,
	KindLobbyFull:          http.StatusBadRequest,
	KindLobbyStarted:       http.StatusConflict,
	KindInvalidMove:        http.StatusBadRequest,
	KindTooManyRequests:    http.StatusTooManyRequests,
	KindRequestTimeout:     http.StatusRequestTimeout,
	KindServiceUnavailable: http.StatusServiceUnavailable,
	KindUpstreamFailure:    http.StatusBadGateway,
	KindInternal:           http.StatusInternalServerError,
}

// Client kinds describe a problem with the request itself. They never count
// against a dependency's health.
var clientKinds = map[Kind]bool{
	KindBadRequest:      true,
	KindUnauthenticated: true,
	KindNotFound:        true,
	KindConflict:        true,
	KindLobbyFull:       true,
	KindLobbyStarted:    true,
	KindInvalidMove:     true,
}

// Error carries a Kind, a message that is safe to return to clients, and the
// underlying cause which is only ever logged.
type Error struct {
	Kind      Kind
	Message   string
	Err       error
	transient bool
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same Kind, so errors.Is(err, apperror.NotFound(""))
// style checks work regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(err error, kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func BadRequest(message string) *Error      { return New(KindBadRequest, message) }
func Unauthenticated(message string) *Error { return New(KindUnauthenticated, message) }
func NotFound(message string) *Error        { return New(KindNotFound, message) }
func Conflict(message string) *Error        { return New(KindConflict, message) }
func InvalidMove(message string) *Error     { return New(KindInvalidMove, message) }

// Upstream wraps an infrastructure failure. The cause stays out of the
// public message.
func Upstream(err error, message string) *Error {
	return Wrap(err, KindUpstreamFailure, message)
}

// Transient marks err as safe to retry. Non-*Error values are wrapped as
// upstream failures first.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		cp := *appErr
		cp.transient = true
		return &cp
	}
	return &Error{Kind: KindUpstreamFailure, Message: "upstream failure", Err: err, transient: true}
}

// KindOf returns the Kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsClient reports whether err was caused by the caller's input.
func IsClient(err error) bool {
	return err != nil && clientKinds[KindOf(err)]
}

func IsTransient(err error) bool {
	var appErr *Error
	return errors.As(err, &appErr) && appErr.transient
}

// StatusCode maps err to an HTTP status.
func StatusCode(err error) int {
	if code, ok := statusByKind[KindOf(err)]; ok {
		return code
	}
	return http.StatusInternalServerError
}

// PublicMessage is the text returned to clients. Unclassified errors get a
// generic message so internals never leak.
func PublicMessage(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) && appErr.Message != "" {
		return appErr.Message
	}
	return "internal server error"
}
