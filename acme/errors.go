package acme

import (
	"fmt"

	"github.com/go-acmecert/acmecert/acme/resources"
)

// ErrorKind is a closed enum of the error categories this module's engines
// raise. Callers distinguish them with errors.As against *Error and a switch
// on Kind, rather than matching against specific error strings.
//
// This replaces the teacher's (and its own source's) convention of ad hoc
// fmt.Errorf strings with interned meaning — see spec.md §9's "dynamic
// throws by symbol -> closed error enum" design note.
type ErrorKind int

const (
	_ ErrorKind = iota
	KindDirectoryFetch
	KindNonce
	KindAcmeRequest
	KindOrderFailed
	KindOrderTimeout
)

func (k ErrorKind) String() string {
	switch k {
	case KindDirectoryFetch:
		return "DirectoryFetchError"
	case KindNonce:
		return "NonceError"
	case KindAcmeRequest:
		return "AcmeRequestError"
	case KindOrderFailed:
		return "OrderFailedError"
	case KindOrderTimeout:
		return "OrderTimeoutError"
	default:
		return "UnknownError"
	}
}

// Problem holds the RFC 7807 problem document fields an Error carries. It
// mirrors resources.Problem; the signed-request engine decodes failed
// responses into it directly.
type Problem struct {
	Type   string
	Detail string
	Status int
}

// Error is the concrete error type produced by this package. Op names the
// failing operation (e.g. "newOrder", "newAccount") for log/debug context.
type Error struct {
	Kind    ErrorKind
	Op      string
	Problem *Problem
	Err     error
}

func (e *Error) Error() string {
	if e.Problem != nil {
		return fmt.Sprintf("acme: %s: %s: %s (%s)", e.Op, e.Kind, e.Problem.Type, e.Problem.Detail)
	}
	if e.Err != nil {
		return fmt.Sprintf("acme: %s: %s: %s", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("acme: %s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func errAuthorizationTimedOut(url string) error {
	return fmt.Errorf("authorization %s did not leave pending within %s", url, pollDeadline)
}

func errOrderTimedOut(url string) error {
	return fmt.Errorf("order %s did not reach a terminal status within %s", url, pollDeadline)
}

func errNoHTTP01Challenge(authzURL string) error {
	return fmt.Errorf("authorization %s offered no http-01 challenge", authzURL)
}

func errAuthorizationFailed(url string, authz *resources.Authorization) error {
	if authz.Error != nil {
		return fmt.Errorf("authorization %s failed: %s (%s)", url, authz.Error.Type, authz.Error.Detail)
	}
	return fmt.Errorf("authorization %s settled in unexpected status %q", url, authz.Status)
}

func errOrderInvalid(order *resources.Order) error {
	if order.Error != nil {
		return fmt.Errorf("order %s invalid: %s (%s)", order.URL, order.Error.Type, order.Error.Detail)
	}
	return fmt.Errorf("order %s in unexpected status %q", order.URL, order.Status)
}
