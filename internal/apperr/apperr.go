// Package apperr classifies failures of the retrieval pipeline so callers can
// tell fallback-worthy provider failures apart from terminal request errors.
package apperr

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
)

// Kind is the classification of an error.
type Kind string

const (
	KindInvalidArgument     Kind = "invalid_argument"
	KindProviderUnavailable Kind = "provider_unavailable"
	KindProviderError       Kind = "provider_error"
	KindParseError          Kind = "parse_error"
	KindNotFound            Kind = "not_found"
	KindEmbeddingFailed     Kind = "embedding_failed"
	KindInternal            Kind = "internal"
)

// Error is a classified error. Op names the operation that failed and Msg is
// the human-readable reason shown to callers.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	default:
		return e.Msg
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// InvalidArgument reports missing or malformed caller input.
func InvalidArgument(op, msg string) *Error {
	return &Error{Kind: KindInvalidArgument, Op: op, Msg: msg}
}

// Unavailable reports a capability that is not installed or reachable.
func Unavailable(op, msg string, err error) *Error {
	return &Error{Kind: KindProviderUnavailable, Op: op, Msg: msg, Err: err}
}

// Provider reports a capability call that executed but failed.
func Provider(op, msg string, err error) *Error {
	return &Error{Kind: KindProviderError, Op: op, Msg: msg, Err: err}
}

// Parse reports a structured response that could not be decoded.
func Parse(op, msg string, err error) *Error {
	return &Error{Kind: KindParseError, Op: op, Msg: msg, Err: err}
}

// NotFound reports a referenced entity that does not exist.
func NotFound(op, msg string) *Error {
	return &Error{Kind: KindNotFound, Op: op, Msg: msg}
}

// EmbeddingFailed aggregates the failures of every embedding path.
func EmbeddingFailed(op string, causes ...error) *Error {
	return &Error{Kind: KindEmbeddingFailed, Op: op, Msg: "all embedding providers failed", Err: errors.Join(causes...)}
}

// KindOf returns the kind of the first classified error in err's chain, or
// KindInternal when none is found.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message returns the caller-facing reason for err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Msg
	}
	return "internal error"
}

// Code maps err to the matching gRPC status code.
func Code(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	switch KindOf(err) {
	case KindInvalidArgument:
		return codes.InvalidArgument
	case KindNotFound:
		return codes.NotFound
	case KindProviderUnavailable, KindEmbeddingFailed:
		return codes.Unavailable
	case KindProviderError:
		return codes.Unknown
	case KindParseError:
		return codes.DataLoss
	default:
		return codes.Internal
	}
}
