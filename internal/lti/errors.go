package lti

import (
	"errors"
	"net/http"
)

// Kind classifies launch failures.
type Kind string

const (
	KindBadRequest        Kind = "bad_request"
	KindInvalidState      Kind = "invalid_state"
	KindTokenVerification Kind = "token_verification_failed"
	KindNonceMismatch     Kind = "nonce_mismatch"
)

// Error is returned by Authenticator operations. Reason is short and safe to
// show to the platform; Err keeps the underlying cause for server logs.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	msg := "lti: " + string(e.Kind)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind, so errors.Is(err, ErrInvalidState) works for any reason.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Reason == "" && t.Err == nil && t.Kind == e.Kind
}

var (
	ErrBadRequest        = &Error{Kind: KindBadRequest}
	ErrInvalidState      = &Error{Kind: KindInvalidState}
	ErrTokenVerification = &Error{Kind: KindTokenVerification}
	ErrNonceMismatch     = &Error{Kind: KindNonceMismatch}
)

func newError(kind Kind, reason string, cause error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: cause}
}

// HTTPStatus maps an Authenticator error to the response status.
func HTTPStatus(err error) int {
	var e *Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case KindBadRequest, KindInvalidState:
		return http.StatusBadRequest
	case KindTokenVerification, KindNonceMismatch:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// PublicReason is the text that may be sent back to the browser.
func PublicReason(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return "internal error"
	}
	if e.Reason == "" {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Reason
}
