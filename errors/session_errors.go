package errors

import (
	"errors"
	"fmt"
)

// Kind separates identity-provider failures from document-store failures.
type Kind string

const (
	KindAuth  Kind = "auth"
	KindStore Kind = "store"
)

// Code is a stable, machine readable reason within a Kind.
type Code string

// Auth codes
const (
	InvalidCredential   Code = "invalid-credential"
	InvalidEmail        Code = "invalid-email"
	EmailAlreadyInUse   Code = "email-already-in-use"
	WeakPassword        Code = "weak-password"
	UserNotFound        Code = "user-not-found"
	OperationNotAllowed Code = "operation-not-allowed"
	FederationFailed    Code = "federation-failed"
	InvalidResetToken   Code = "invalid-reset-token"
	Network             Code = "network"
)

// Store codes
const (
	Unavailable      Code = "unavailable"
	AlreadyExists    Code = "already-exists"
	NotFound         Code = "not-found"
	PermissionDenied Code = "permission-denied"
)

// Error is the tagged error returned by every session and profile operation.
type Error struct {
	Kind    Kind   `json:"kind"`
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s/%s: %s: %v", e.Kind, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s/%s: %s", e.Kind, e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewAuthError builds an identity-provider error.
func NewAuthError(code Code, message string, cause error) *Error {
	return &Error{Kind: KindAuth, Code: code, Message: message, Cause: cause}
}

// NewStoreError builds a document-store error.
func NewStoreError(code Code, message string, cause error) *Error {
	return &Error{Kind: KindStore, Code: code, Message: message, Cause: cause}
}

// AsAuth returns err unchanged when it already carries a Kind, otherwise it
// tags it as an auth error with the given code.
func AsAuth(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return NewAuthError(code, message, err)
}

// AsStore is the store counterpart of AsAuth.
func AsStore(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return NewStoreError(code, message, err)
}

// KindOf reports the Kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// CodeOf returns the Code of the first *Error in err's chain, or "".
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

func IsAuth(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindAuth
}

func IsStore(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindStore
}
