package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"

	"github.com/sashabaranov/go-openai"
)

// GenericErrorMessage is the only failure text a caller ever sees.
const GenericErrorMessage = "Error al generar la respuesta"

// ErrorCodeHeader carries the public error code on failed responses.
const ErrorCodeHeader = "X-Error-Code"

// CodeInternal is reported for failures that carry no Kind, such as a
// recovered panic.
const CodeInternal = "internal_error"

// Kind classifies a relay failure.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindTransport
	KindRejection
	KindMalformed
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindTransport:
		return "transport"
	case KindRejection:
		return "rejection"
	case KindMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Code is the stable public error code for the kind.
func (k Kind) Code() string {
	switch k {
	case KindValidation:
		return "invalid_request"
	case KindTransport:
		return "upstream_unavailable"
	case KindRejection:
		return "upstream_rejected"
	case KindMalformed:
		return "upstream_malformed"
	default:
		return CodeInternal
	}
}

// Error is a classified relay failure. Status and Body are set for
// upstream rejections.
type Error struct {
	Kind   Kind
	Status int
	Body   string
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: upstream status %d: %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of err, or 0 when err is not a relay error.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return 0
}

func validationError(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Err: fmt.Errorf(format, args...)}
}

// classifyUpstream maps an error from the upstream client onto a Kind.
func classifyUpstream(err error) *Error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &Error{Kind: KindRejection, Status: apiErr.HTTPStatusCode, Body: apiErr.Message, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &Error{Kind: KindRejection, Status: reqErr.HTTPStatusCode, Body: reqErr.Error(), Err: err}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTransport, Err: err}
	}
	var urlErr *url.Error
	var netErr net.Error
	if errors.As(err, &urlErr) || errors.As(err, &netErr) {
		return &Error{Kind: KindTransport, Err: err}
	}
	return &Error{Kind: KindMalformed, Err: err}
}
