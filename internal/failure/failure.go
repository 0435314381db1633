// Package failure classifies errors at component boundaries so callers can
// branch on what went wrong instead of on message text.
package failure

import (
	"errors"
	"fmt"
)

type Kind int

const (
	Unknown Kind = iota
	Config
	Database
	Completion
	MalformedResponse
	UpstreamHTTP
	InvalidArgument
)

func (k Kind) String() string {
	switch k {
	case Config:
		return "config"
	case Database:
		return "database"
	case Completion:
		return "completion"
	case MalformedResponse:
		return "malformed_response"
	case UpstreamHTTP:
		return "upstream_http"
	case InvalidArgument:
		return "invalid_argument"
	default:
		return "unknown"
	}
}

type Error struct {
	Kind Kind
	Op   string
	// StatusCode is set for UpstreamHTTP failures that got a response.
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return e.Op + ": " + e.Err.Error()
	case e.Err != nil:
		return e.Err.Error()
	case e.Op != "":
		return e.Op + ": " + e.Kind.String() + " failure"
	default:
		return e.Kind.String() + " failure"
	}
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Newf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// HTTPStatus builds an UpstreamHTTP failure for a non-2xx response.
func HTTPStatus(op string, status int, body string) error {
	return &Error{
		Kind:       UpstreamHTTP,
		Op:         op,
		StatusCode: status,
		Err:        fmt.Errorf("unexpected status %d: %s", status, body),
	}
}

// KindOf returns the outermost classified kind in err's chain.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Unknown
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
