// Package xerrors defines the error-kind taxonomy shared by every transport.
package xerrors

import "fmt"

// Kind classifies an error by how a caller should react to it.
type Kind int

const (
	// Connectivity means the node RPC endpoint is unreachable or timed out.
	Connectivity Kind = iota
	// Protocol means the node returned something this indexer cannot parse.
	Protocol
	// Corruption means the local store holds data that violates its own
	// invariants. Fatal: the process should exit rather than serve wrong answers.
	Corruption
	// Consistency means the store is internally fine but momentarily behind
	// or ahead of what a caller expects (e.g. query during a reorg replay).
	Consistency
	// Client means the caller sent a malformed or out-of-range request.
	Client
	// Resource means a local limit was hit (pool full, cache eviction storm,
	// too many connections).
	Resource
)

func (k Kind) String() string {
	switch k {
	case Connectivity:
		return "connectivity"
	case Protocol:
		return "protocol"
	case Corruption:
		return "corruption"
	case Consistency:
		return "consistency"
	case Client:
		return "client"
	case Resource:
		return "resource"
	default:
		return "unknown"
	}
}

// Error wraps an underlying error with a Kind.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a Kind-tagged error with no underlying cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap tags an existing error with a Kind.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the Kind from err, defaulting to Resource if err is not
// (or does not wrap) an *Error — an untagged error is treated conservatively
// as a local problem rather than blamed on the client or the node.
func KindOf(err error) Kind {
	var e *Error
	if As(err, &e) {
		return e.Kind
	}
	return Resource
}

// As is a thin re-export of errors.As to keep this package's public surface
// self-contained for callers that only need Kind inspection.
func As(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// IsFatal reports whether err represents unrecoverable local corruption.
func IsFatal(err error) bool {
	return KindOf(err) == Corruption
}
