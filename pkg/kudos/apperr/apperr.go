// Package apperr defines the typed error model shared by every Kudos
// service. Services return *Error values; the HTTP boundary is the only
// layer that turns them into status codes and response envelopes.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for transport mapping.
type Kind int

const (
	KindValidation Kind = iota // malformed input, unmet field constraints
	KindBusinessRule
	KindAuth      // unauthenticated or bad/expired credentials
	KindForbidden // authenticated but denied
	KindNotFound
	KindConflict
	KindInternal
)

// Error is a domain error with a stable machine code. Detail is a
// translation key resolved by the boundary, never raw user text.
type Error struct {
	Kind    Kind
	Code    string // stable machine code, e.g. "business_rule.last_admin"
	Detail  string // i18n message key
	Meta    map[string]any
	wrapped error
}

func (e *Error) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.wrapped)
	}
	return e.Code
}

func (e *Error) Unwrap() error { return e.wrapped }

// Wrap attaches an underlying cause while keeping the code stable.
func (e *Error) Wrap(err error) *Error {
	c := *e
	c.wrapped = err
	return &c
}

// WithMeta returns a copy carrying extra context for logs and envelopes.
func (e *Error) WithMeta(key string, value any) *Error {
	c := *e
	c.Meta = map[string]any{key: value}
	for k, v := range e.Meta {
		c.Meta[k] = v
	}
	return &c
}

func newErr(kind Kind, code, detail string) *Error {
	return &Error{Kind: kind, Code: code, Detail: detail}
}

// Validation builds a field-level validation error.
func Validation(detail string) *Error {
	return newErr(KindValidation, "validation_error", detail)
}

// BusinessRule builds a named business-rule rejection,
// code "business_rule.<name>".
func BusinessRule(name, detail string) *Error {
	return newErr(KindBusinessRule, "business_rule."+name, detail)
}

// Conflict builds a uniqueness conflict, code "conflict.<name>".
func Conflict(name, detail string) *Error {
	return newErr(KindConflict, "conflict."+name, detail)
}

// Forbidden builds a denial with a rule sub-code, code "authz.denied".
func Forbidden(subCode, detail string) *Error {
	e := newErr(KindForbidden, "authz.denied", detail)
	e.Meta = map[string]any{"sub_code": subCode}
	return e
}

// Sentinel errors reused across services.
var (
	ErrNotFound      = newErr(KindNotFound, "not_found", "error.not_found")
	ErrInternal      = newErr(KindInternal, "internal_error", "error.internal")
	ErrInvalidToken  = newErr(KindAuth, "auth.invalid_token", "error.invalid_token")
	ErrExpiredToken  = newErr(KindAuth, "auth.expired_token", "error.expired_token")
	ErrInactiveUser  = newErr(KindAuth, "auth.inactive_user", "error.inactive_user")
	ErrUnauthorized  = newErr(KindAuth, "auth.unauthorized", "error.unauthorized")
	ErrBadCredential = newErr(KindAuth, "auth.invalid_credentials", "error.invalid_credentials")
)

// As extracts an *Error from an error chain.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// Is reports whether err carries the same stable code as target.
func Is(err error, target *Error) bool {
	e, ok := As(err)
	return ok && e.Code == target.Code
}

// Internal wraps an unexpected error without leaking its detail.
func Internal(err error) *Error {
	return ErrInternal.Wrap(err)
}
