package httpclient

import (
	"errors"
	"fmt"
)

// Kind classifies a failed backend request.
type Kind int

const (
	// KindTransport: the request never produced a response (DNS, refused, timeout).
	KindTransport Kind = iota
	// KindStatus: HTTP status other than 200.
	KindStatus
	// KindBusiness: HTTP 200 but envelope code other than 200.
	KindBusiness
	// KindDecode: the response body was not a valid envelope.
	KindDecode
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindStatus:
		return "status"
	case KindBusiness:
		return "business"
	case KindDecode:
		return "decode"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is returned for every failed request.
type Error struct {
	Kind   Kind
	Method string
	Path   string
	Status int
	Code   int
	Msg    string
	Err    error

	notified bool
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindTransport:
		return fmt.Sprintf("%s %s: %v", e.Method, e.Path, e.Err)
	case KindDecode:
		return fmt.Sprintf("%s %s: decoding response: %v", e.Method, e.Path, e.Err)
	default:
		return fmt.Sprintf("%s %s: %s", e.Method, e.Path, e.Msg)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// IsTransport reports whether err is a transport-level failure.
func IsTransport(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindTransport
}

// Notified reports whether the client already surfaced err to the user.
func Notified(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.notified
}
