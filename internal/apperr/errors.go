package apperr

import (
	"errors"
	"net/http"
)

// Kind classifies a failure so transports can map it to a status.
type Kind string

const (
	KindAuthentication Kind = "authentication_error"
	KindValidation     Kind = "validation_error"
	KindAuthorization  Kind = "authorization_error"
	KindNotFound       Kind = "not_found"
	KindConflict       Kind = "conflict"
	KindDelivery       Kind = "delivery_error"
	KindInternal       Kind = "internal_error"
)

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func Authentication(msg string) error { return &Error{Kind: KindAuthentication, Message: msg} }
func Validation(msg string) error     { return &Error{Kind: KindValidation, Message: msg} }
func Forbidden(msg string) error      { return &Error{Kind: KindAuthorization, Message: msg} }
func NotFound(msg string) error       { return &Error{Kind: KindNotFound, Message: msg} }
func Conflict(msg string) error       { return &Error{Kind: KindConflict, Message: msg} }

func Delivery(msg string, err error) error {
	return &Error{Kind: KindDelivery, Message: msg, Err: err}
}

func Internal(msg string, err error) error {
	return &Error{Kind: KindInternal, Message: msg, Err: err}
}

// KindOf reports the kind of the first *Error in err's chain.
// Errors that were never classified are internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func Is(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

// Message returns the caller-safe message. Internal details are not exposed.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != KindInternal {
		return e.Message
	}
	return "internal server error"
}

func HTTPStatus(k Kind) int {
	switch k {
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthorization:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindDelivery:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
