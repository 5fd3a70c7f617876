package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseNegotiate Phase = "negotiate" // capability mask construction
	PhaseBackend   Phase = "backend"   // environment setup and ABI calls
	PhaseSession   Phase = "session"   // handle lifecycle
	PhaseTranscode Phase = "transcode" // backend transcode call
	PhaseMap       Phase = "map"       // backend format to GPU format
	PhaseTopology  Phase = "topology"  // layers/faces to view dimension
	PhaseInput     Phase = "input"     // reading container bytes
	PhaseLoad      Phase = "load"      // module loading and validation
)

// Kind categorizes the error
type Kind string

const (
	KindSessionCreationFailed Kind = "session_creation_failed"
	KindTranscodeFailed       Kind = "transcode_failed"
	KindInputReadFailed       Kind = "input_read_failed"
	KindInvariantViolation    Kind = "invariant_violation"
	KindInvalidState          Kind = "invalid_state"
	KindInvalidHandle         Kind = "invalid_handle"
	KindNotInitialized        Kind = "not_initialized"
	KindOutOfBounds           Kind = "out_of_bounds"
	KindAllocation            Kind = "allocation"
	KindMissingExport         Kind = "missing_export"
	KindSignatureMismatch     Kind = "signature_mismatch"
	KindUnsupported           Kind = "unsupported"
	KindInvalidInput          Kind = "invalid_input"
	KindInstantiation         Kind = "instantiation"
	KindTrap                  Kind = "trap"
)

// Sentinels for errors.Is matching by kind regardless of phase.
var (
	ErrSessionCreationFailed = &Error{Kind: KindSessionCreationFailed}
	ErrTranscodeFailed       = &Error{Kind: KindTranscodeFailed}
	ErrInputReadFailed       = &Error{Kind: KindInputReadFailed}
	ErrInvariantViolation    = &Error{Kind: KindInvariantViolation}
	ErrInvalidState          = &Error{Kind: KindInvalidState}
	ErrInvalidHandle         = &Error{Kind: KindInvalidHandle}
	ErrNotInitialized        = &Error{Kind: KindNotInitialized}
)

// Error is the structured error type used throughout the module
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Stage  string
	Detail string
	Path   []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Stage != "" {
		b.WriteString(" in ")
		b.WriteString(e.Stage)
	}

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error.
// A target without a phase matches on kind alone. Invalid-state errors
// also match invariant-violation targets.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Phase != "" && e.Phase != t.Phase {
		return false
	}
	if e.Kind == KindInvalidState && t.Kind == KindInvariantViolation {
		return true
	}
	return e.Kind == t.Kind
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

// Path sets the field path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// Stage sets the backend step that failed
func (b *Builder) Stage(stage string) *Builder {
	b.err.Stage = stage
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

// SessionCreationFailed reports an invalid handle returned by the backend.
func SessionCreationFailed(cause error) *Error {
	return &Error{
		Phase:  PhaseSession,
		Kind:   KindSessionCreationFailed,
		Stage:  "new",
		Detail: "backend returned an invalid handle",
		Cause:  cause,
	}
}

// TranscodeFailed reports a backend failure at the named stage.
func TranscodeFailed(stage string, cause error) *Error {
	return &Error{
		Phase:  PhaseTranscode,
		Kind:   KindTranscodeFailed,
		Stage:  stage,
		Detail: "backend reported failure",
		Cause:  cause,
	}
}

// InputReadFailed wraps an upstream read error unchanged.
func InputReadFailed(cause error) *Error {
	return &Error{
		Phase:  PhaseInput,
		Kind:   KindInputReadFailed,
		Detail: "read container bytes",
		Cause:  cause,
	}
}

// InvariantViolation reports a value the backend should never produce.
func InvariantViolation(phase Phase, value any, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvariantViolation,
		Detail: detail,
		Value:  value,
	}
}

// InvalidState reports an operation attempted in the wrong lifecycle state.
func InvalidState(op, state string) *Error {
	return &Error{
		Phase:  PhaseSession,
		Kind:   KindInvalidState,
		Detail: fmt.Sprintf("%s not allowed in state %s", op, state),
		Value:  state,
	}
}

// InvalidHandle reports a handle unknown to the environment's arena.
func InvalidHandle(handle uint32) *Error {
	return &Error{
		Phase:  PhaseBackend,
		Kind:   KindInvalidHandle,
		Detail: fmt.Sprintf("handle %d is not live", handle),
		Value:  handle,
	}
}

// NotInitialized creates a not-initialized error
func NotInitialized(phase Phase, component string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotInitialized,
		Detail: fmt.Sprintf("%s not initialized", component),
	}
}

// OutOfBounds creates an out of bounds error for linear memory access
func OutOfBounds(phase Phase, offset, length uint32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Detail: fmt.Sprintf("offset=%d, length=%d", offset, length),
		Value:  offset,
	}
}

// AllocationFailed creates an allocation failure error
func AllocationFailed(phase Phase, size uint32, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindAllocation,
		Detail: fmt.Sprintf("failed to allocate %d bytes", size),
		Cause:  cause,
	}
}

// MissingExport reports an ABI entry point absent from the backend module.
func MissingExport(name string) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindMissingExport,
		Detail: fmt.Sprintf("export %q not found", name),
		Value:  name,
	}
}

// SignatureMismatch reports an ABI entry point with an unexpected core signature.
func SignatureMismatch(name, want, got string) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindSignatureMismatch,
		Path:   []string{name},
		Detail: fmt.Sprintf("want %s, got %s", want, got),
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

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Instantiation creates an instantiation error
func Instantiation(cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInstantiation,
		Detail: "instantiate module",
		Cause:  cause,
	}
}

// Trap reports a guest call that trapped or was aborted.
func Trap(name string, cause error) *Error {
	return &Error{
		Phase:  PhaseBackend,
		Kind:   KindTrap,
		Path:   []string{name},
		Detail: "guest call failed",
		Cause:  cause,
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

// IsKind reports whether any *Error in err's chain has the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return stderrors.As(err, &e) && e.Kind == kind
}
