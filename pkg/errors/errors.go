package errors

import (
	"fmt"
	"strings"

	cerrors "github.com/cockroachdb/errors"
)

// Kind classifies why a compilation did not produce code. Every kind
// degrades the same way: the trace keeps running in the interpreter.
type Kind int

const (
	Unsupported       Kind = iota + 1 // a micro-op has no stencil
	ResourceExhausted                 // code buffer or executable memory
	EncodingOverflow                  // operand does not fit its hole
	MalformedTrace                    // trace failed static analysis
	DanglingTransfer                  // control hole with no valid target
	Configuration                     // JIT set up for an unusable target
)

var kindNames = map[Kind]string{
	Unsupported:       "unsupported operation",
	ResourceExhausted: "resource exhaustion",
	EncodingOverflow:  "encoding overflow",
	MalformedTrace:    "malformed trace",
	DanglingTransfer:  "dangling transfer",
	Configuration:     "configuration",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// CompileError is the single error type returned by the compiler pipeline.
type CompileError struct {
	Kind    Kind
	Message string
	Op      string // micro-op name, empty when not tied to a record
	Index   int    // trace position, -1 when not tied to a record
	Cause   error
}

func (e *CompileError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Index >= 0 {
		if e.Op != "" {
			fmt.Fprintf(&b, " (%s at trace[%d])", e.Op, e.Index)
		} else {
			fmt.Fprintf(&b, " (trace[%d])", e.Index)
		}
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

func (e *CompileError) Unwrap() error {
	return e.Cause
}

// Is lets the kind sentinels below match any CompileError of that kind.
func (e *CompileError) Is(target error) bool {
	t, ok := target.(*CompileError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.Cause == nil
}

// At ties the error to a trace record.
func (e *CompileError) At(index int, op string) *CompileError {
	e.Index = index
	e.Op = op
	return e
}

// Kind sentinels for use with errors.Is.
var (
	ErrUnsupported       = &CompileError{Kind: Unsupported, Index: -1}
	ErrResourceExhausted = &CompileError{Kind: ResourceExhausted, Index: -1}
	ErrEncodingOverflow  = &CompileError{Kind: EncodingOverflow, Index: -1}
	ErrMalformedTrace    = &CompileError{Kind: MalformedTrace, Index: -1}
	ErrDanglingTransfer  = &CompileError{Kind: DanglingTransfer, Index: -1}
	ErrConfiguration     = &CompileError{Kind: Configuration, Index: -1}
)

// Newf creates a compile error with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *CompileError {
	return &CompileError{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Index:   -1,
	}
}

// Wrap classifies an existing error, keeping its stack.
func Wrap(kind Kind, err error, message string) *CompileError {
	return &CompileError{
		Kind:    kind,
		Message: message,
		Index:   -1,
		Cause:   cerrors.WithStack(err),
	}
}

// KindOf reports the kind of the first CompileError in err's chain.
func KindOf(err error) (Kind, bool) {
	var ce *CompileError
	if cerrors.As(err, &ce) {
		return ce.Kind, true
	}
	return 0, false
}

// IsKind checks whether err carries a CompileError of the given kind.
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
