package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseContext  Phase = "context"  // context create/adopt/release
	PhaseEvaluate Phase = "evaluate" // script evaluation
	PhaseSyntax   Phase = "syntax"   // syntax checking
	PhaseCall     Phase = "call"     // calling script functions
	PhaseConvert  Phase = "convert"  // value coercion, host <-> script
	PhaseProperty Phase = "property" // property get/set
	PhaseCallback Phase = "callback" // engine -> host callback dispatch
	PhaseHeap     Phase = "heap"     // native memory
	PhaseRegistry Phase = "registry" // callback registry
)

// Kind categorizes the error
type Kind string

const (
	KindNotCallable     Kind = "not_callable"
	KindNotAnObject     Kind = "not_an_object"
	KindEngineException Kind = "engine_exception"
	KindBridgeInternal  Kind = "bridge_internal"
	KindTypeMismatch    Kind = "type_mismatch"
	KindOutOfBounds     Kind = "out_of_bounds"
	KindOutOfMemory     Kind = "out_of_memory"
	KindInvalidData     Kind = "invalid_data"
	KindInvalidInput    Kind = "invalid_input"
	KindNotFound        Kind = "not_found"
	KindClosed          Kind = "closed"
	KindUnsupported     Kind = "unsupported"
)

// Sentinels for errors.Is matching by Kind across all phases.
var (
	ErrNotCallable     = &Error{Kind: KindNotCallable}
	ErrNotAnObject     = &Error{Kind: KindNotAnObject}
	ErrEngineException = &Error{Kind: KindEngineException}
	ErrBridgeInternal  = &Error{Kind: KindBridgeInternal}
	ErrClosed          = &Error{Kind: KindClosed}
)

// Error is the structured error type used throughout the library
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	GoType string
	JSType string
	Detail string
	Stack  string
	Path   []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	if e.Phase != "" {
		b.WriteByte('[')
		b.WriteString(string(e.Phase))
		b.WriteString("] ")
	}
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.GoType != "" || e.JSType != "" {
		b.WriteString(": ")
		if e.GoType != "" && e.JSType != "" {
			b.WriteString("Go type ")
			b.WriteString(e.GoType)
			b.WriteString(", JS type ")
			b.WriteString(e.JSType)
		} else if e.GoType != "" {
			b.WriteString("Go type ")
			b.WriteString(e.GoType)
		} else {
			b.WriteString("JS type ")
			b.WriteString(e.JSType)
		}
	}

	if e.Detail != "" {
		if e.GoType != "" || e.JSType != "" {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Message returns the detail text alone, without phase or kind decoration.
// For engine exceptions this is the script-visible message.
func (e *Error) Message() string {
	return e.Detail
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error.
// A target without a Phase matches on Kind alone.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		if t.Phase == "" {
			return e.Kind == t.Kind
		}
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the property path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// GoType sets the Go type name
func (b *Builder) GoType(t string) *Builder {
	b.err.GoType = t
	return b
}

// JSType sets the script type name
func (b *Builder) JSType(t string) *Builder {
	b.err.JSType = t
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Stack sets the engine stack trace
func (b *Builder) Stack(s string) *Builder {
	b.err.Stack = s
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// NotCallable creates an error for calling a value that is not a function
func NotCallable(phase Phase, jsType string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotCallable,
		JSType: jsType,
		Detail: "value is not a function",
	}
}

// NotAnObject creates an error for object operations on a primitive
func NotAnObject(phase Phase, jsType, op string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotAnObject,
		JSType: jsType,
		Detail: fmt.Sprintf("cannot %s on a non-object value", op),
	}
}

// EngineException creates an error for an exception raised by the engine
func EngineException(phase Phase, message string, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindEngineException,
		Detail: message,
		Cause:  cause,
	}
}

// BridgeInternal creates an error for a broken engine/bridge invariant.
// Callers panic with it; it is never returned.
func BridgeInternal(detail string, args ...any) *Error {
	if len(args) > 0 {
		detail = fmt.Sprintf(detail, args...)
	}
	return &Error{
		Phase:  PhaseCallback,
		Kind:   KindBridgeInternal,
		Detail: detail,
	}
}

// TypeMismatch creates a type mismatch error
func TypeMismatch(phase Phase, path []string, goType, jsType string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindTypeMismatch,
		Path:   path,
		GoType: goType,
		JSType: jsType,
	}
}

// OutOfBounds creates an out of bounds error
func OutOfBounds(phase Phase, path []string, index, length int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Path:   path,
		Detail: fmt.Sprintf("index %d out of bounds (length %d)", index, length),
		Value:  index,
	}
}

// OutOfMemory creates an allocation failure error
func OutOfMemory(phase Phase, size uint64) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfMemory,
		Detail: fmt.Sprintf("failed to allocate %d bytes", size),
		Value:  size,
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// InvalidData creates an invalid data error
func InvalidData(phase Phase, path []string, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidData,
		Path:   path,
		Detail: detail,
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// Closed creates an error for operations on a released resource
func Closed(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindClosed,
		Detail: fmt.Sprintf("%s is closed", what),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}
