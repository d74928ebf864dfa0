package metta

import "fmt"

// VmErrorKind enumerates the fatal VM failure modes. Fatal errors abort
// the current evaluation rather than becoming Error terms, because by
// the time they're detected the value/call stacks are no longer
// trustworthy. The one exception is backtracking: when re-evaluating a
// resumed alternative fails, backtrack pushes the failure as an
// ExecRuntime Error term.
type VmErrorKind int

const (
	ErrStackUnderflow VmErrorKind = iota
	ErrValueStackOverflow
	ErrCallStackOverflow
	ErrInvalidOpcode
	ErrInvalidConstant
	ErrInvalidLocal
	ErrHalted
)

func (k VmErrorKind) String() string {
	switch k {
	case ErrStackUnderflow:
		return "StackUnderflow"
	case ErrValueStackOverflow:
		return "ValueStackOverflow"
	case ErrCallStackOverflow:
		return "CallStackOverflow"
	case ErrInvalidOpcode:
		return "InvalidOpcode"
	case ErrInvalidConstant:
		return "InvalidConstant"
	case ErrInvalidLocal:
		return "InvalidLocal"
	case ErrHalted:
		return "Halted"
	default:
		return "Unknown"
	}
}

// VmError is a fatal VM condition. It implements error so it composes
// with fmt.Errorf/%w the way the rest of the module does.
type VmError struct {
	Kind   VmErrorKind
	Detail string
}

func (e *VmError) Error() string {
	if e.Detail == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func newVmError(kind VmErrorKind, format string, args ...interface{}) *VmError {
	return &VmError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// CompileErrorKind enumerates compiler failure modes.
type CompileErrorKind int

const (
	ErrInvalidArity CompileErrorKind = iota
	ErrInvalidExpression
	ErrTooManyConstants
	ErrUnboundUpvalue
)

func (k CompileErrorKind) String() string {
	switch k {
	case ErrInvalidArity:
		return "InvalidArity"
	case ErrInvalidExpression:
		return "InvalidExpression"
	case ErrTooManyConstants:
		return "TooManyConstants"
	case ErrUnboundUpvalue:
		return "UnboundUpvalue"
	default:
		return "Unknown"
	}
}

// CompileError is returned by the compiler; callers may choose to fall
// back to tree-walk evaluation rather than treat it as fatal.
type CompileError struct {
	Kind   CompileErrorKind
	Detail string
}

func (e *CompileError) Error() string {
	if e.Detail == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func newCompileError(kind CompileErrorKind, format string, args ...interface{}) *CompileError {
	return &CompileError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// ExecErrorKind enumerates grounded-operation failure modes.
// These become ErrorTerm values on the value stack rather than Go errors —
// execKind is retained on the term's Payload so catch-handlers and tests
// can discriminate kinds without parsing the message.
type ExecErrorKind int

const (
	ExecIncorrectArgument ExecErrorKind = iota
	ExecArithmetic
	ExecTypeError
	ExecRuntime
)

func (k ExecErrorKind) String() string {
	switch k {
	case ExecIncorrectArgument:
		return "IncorrectArgument"
	case ExecArithmetic:
		return "Arithmetic"
	case ExecTypeError:
		return "TypeError"
	case ExecRuntime:
		return "Runtime"
	default:
		return "Unknown"
	}
}

// NewExecError builds the ErrorTerm a grounded operation returns on
// failure, tagging the payload with its kind so catch-handlers can branch
// on it (Payload is `(kind-name)` as a Symbol when no richer payload is
// available).
func NewExecError(kind ExecErrorKind, format string, args ...interface{}) ErrorTerm {
	return NewError(fmt.Sprintf(format, args...), NewSymbol(kind.String()))
}
