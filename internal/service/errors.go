package service

import (
	"errors"
	"fmt"
)

// Tipos de error del dominio. Se comparan con errors.Is.
var (
	ErrValidation   = errors.New("validation error")
	ErrConflict     = errors.New("conflict")
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrTokenInvalid = errors.New("token invalid")
	ErrTokenExpired = errors.New("token expired")
	ErrUpload       = errors.New("upload failed")
	ErrRateLimited  = errors.New("rate limited")
	ErrInternal     = errors.New("internal error")
)

// Error lleva el tipo, un mensaje apto para el cliente y la causa interna,
// que solo se registra en logs.
type Error struct {
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

func newError(kind error, message string) error {
	return &Error{Kind: kind, Message: message}
}

func wrapError(kind error, message string, cause error) error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

func internalError(message string, cause error) error {
	return wrapError(ErrInternal, message, cause)
}
