package service

import "errors"

// Error kinds. Handlers map these to HTTP statuses; match with errors.Is.
var (
	ErrUnauthenticated  = errors.New("unauthenticated")
	ErrForbidden        = errors.New("forbidden")
	ErrNotFound         = errors.New("not found")
	ErrInvalidRequest   = errors.New("invalid request")
	ErrOutOfStock       = errors.New("out of stock")
	ErrEmptyCart        = errors.New("empty cart")
	ErrAlreadyPaid      = errors.New("already paid")
	ErrInvalidSignature = errors.New("invalid signature")
)

// Error is a failure of a known kind with a client-facing message.
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Kind }

func newError(kind error, message string) error {
	return &Error{Kind: kind, Message: message}
}
