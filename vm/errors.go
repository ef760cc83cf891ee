package vm

import (
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Script errors
// ---------------------------------------------------------------------------

// Kind classifies a script failure.
type Kind int

const (
	// KindValidation is an opcode-specific argument error.
	KindValidation Kind = iota
	// KindThrown is raised by the throw opcode.
	KindThrown
	KindUnknownOpcode
	KindOutOfGas
	KindPermissionDenied
	// KindSecurity marks an attempted sandbox escape. It is never caught by try.
	KindSecurity
)

var kindNames = map[Kind]string{
	KindValidation:       "Validation",
	KindThrown:           "Thrown",
	KindUnknownOpcode:    "UnknownOpcode",
	KindOutOfGas:         "OutOfGas",
	KindPermissionDenied: "PermissionDenied",
	KindSecurity:         "SecurityError",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Sentinels for errors.Is. A *ScriptError matches the sentinel of its Kind.
var (
	ErrValidation       = errors.New("validation error")
	ErrThrown           = errors.New("thrown error")
	ErrUnknownOpcode    = errors.New("unknown opcode")
	ErrOutOfGas         = errors.New("out of gas")
	ErrPermissionDenied = errors.New("permission denied")
	ErrSecurity         = errors.New("security error")
)

var kindSentinels = map[Kind]error{
	KindValidation:       ErrValidation,
	KindThrown:           ErrThrown,
	KindUnknownOpcode:    ErrUnknownOpcode,
	KindOutOfGas:         ErrOutOfGas,
	KindPermissionDenied: ErrPermissionDenied,
	KindSecurity:         ErrSecurity,
}

// Frame is one entry of a script call stack.
type Frame struct {
	Name string
	Args []any
}

// ScriptError is the error type produced by evaluation.
//
// Op and Args describe the innermost failing opcode. StackTrace lists the
// lambda and verb frames active at the point of failure, innermost first.
type ScriptError struct {
	Kind       Kind
	Message    string
	Op         string
	Args       []any
	StackTrace []Frame

	annotated bool
	cause     error
}

// Error returns the message.
func (e *ScriptError) Error() string {
	return e.Message
}

// Unwrap returns the underlying cause, if any.
func (e *ScriptError) Unwrap() error {
	return e.cause
}

// Is matches the sentinel for the error's Kind.
func (e *ScriptError) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

// Annotated reports whether opcode context has been attached.
func (e *ScriptError) Annotated() bool {
	return e.annotated
}

// Errorf creates a ScriptError of the given kind.
func Errorf(kind Kind, format string, args ...any) *ScriptError {
	return &ScriptError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap converts err into a ScriptError of the given kind, keeping it as the
// cause. A ScriptError is returned unchanged.
func Wrap(kind Kind, err error) *ScriptError {
	var se *ScriptError
	if errors.As(err, &se) {
		return se
	}
	return &ScriptError{Kind: kind, Message: err.Error(), cause: err}
}

// AsScriptError returns err as a ScriptError, treating foreign errors as
// validation failures.
func AsScriptError(err error) *ScriptError {
	return Wrap(KindValidation, err)
}

// KindOf reports the kind of err, or -1 if it is not a script error.
func KindOf(err error) Kind {
	var se *ScriptError
	if errors.As(err, &se) {
		return se.Kind
	}
	return -1
}

func outOfGas() *ScriptError {
	return Errorf(KindOutOfGas, "Script ran out of gas!")
}

// UnknownOpcode reports a reference to an opcode missing from the registry.
func UnknownOpcode(op string) *ScriptError {
	return Errorf(KindUnknownOpcode, "Unknown opcode: %s", op)
}

// SecurityViolation reports an attempt to reach a dangerous key.
func SecurityViolation(key string) *ScriptError {
	return Errorf(KindSecurity, "Security Error: Cannot access dangerous key %q", key)
}

// annotate attaches opcode context to err unless a deeper frame already did.
func annotate(err error, op string, args []any, stack *callStack) error {
	if _, ok := err.(*breakSignal); ok {
		return err
	}
	se := AsScriptError(err)
	if se.annotated {
		return se
	}
	se.annotated = true
	se.Op = op
	se.Args = args
	se.StackTrace = stack.snapshot()
	return se
}

// Annotate attaches opcode context to err the way the interpreter does. The
// compiler uses it so that compiled code reports identical context.
func Annotate(ctx *Context, err error, op string, args []any) error {
	return annotate(err, op, args, ctx.run.stack)
}

// breakSignal unwinds to the nearest enclosing loop.
type breakSignal struct {
	value any
}

func (b *breakSignal) Error() string {
	return "break outside of loop"
}

// Break returns the control signal raised by the break opcode.
func Break(value any) error {
	return &breakSignal{value: value}
}

// IsBreak reports whether err is a break signal and returns its value.
func IsBreak(err error) (any, bool) {
	b, ok := err.(*breakSignal)
	if !ok {
		return nil, false
	}
	return b.value, true
}
