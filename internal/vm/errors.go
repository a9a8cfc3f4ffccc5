// errors.go - Failure modes of script assembly and execution.

package vm

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrStackUnderflow is returned when an instruction needs more elements than the stack holds.
	ErrStackUnderflow = errors.New("stack underflow")
	// ErrStackOverflow is returned when the stack would grow past MaxStackDepth.
	ErrStackOverflow = errors.New("stack overflow")
	// ErrInvalidMemoryAccess is returned for addresses outside [0, MaxMemoryAddress).
	ErrInvalidMemoryAccess = errors.New("invalid memory access")
	// ErrUnknownCapability is returned when a call or capability target cannot be resolved.
	ErrUnknownCapability = errors.New("unknown capability")
	// ErrCycleLimit is returned when execution exceeds the cycle budget.
	ErrCycleLimit = errors.New("cycle limit exceeded")
	// ErrCallDepth is returned when nested calls exceed MaxCallDepth.
	ErrCallDepth = errors.New("call depth exceeded")
	// ErrNotUint is returned when an operand used as an address or count is not a small integer.
	ErrNotUint = errors.New("operand is not a valid unsigned integer")
	// ErrTooManyInputs is returned when the initial stack inputs exceed MinStackDepth.
	ErrTooManyInputs = errors.New("too many stack inputs")
)

// AssertionError is raised by assert, assert_eq and assert_eqw. Tag is the error tag attached
// to the instruction in source (".err=TAG"), empty when none was given.
type AssertionError struct {
	Tag string
}

func (e *AssertionError) Error() string {
	if e.Tag == "" {
		return "assertion failed"
	}
	return fmt.Sprintf("assertion failed: %s", e.Tag)
}

// ExecutionError names the instruction that aborted execution.
type ExecutionError struct {
	Clk uint64 // cycle at which the instruction ran
	Op  string // instruction mnemonic
	Err error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("clk %d: %s: %v", e.Clk, e.Op, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// PanicError wraps a recover() catching a panic() during execution.
type PanicError struct {
	PanicValue interface{}
	StackTrace string
}

func (pe PanicError) Error() string {
	return fmt.Sprintf("panic in script execution: %v\n%s", pe.PanicValue, pe.StackTrace)
}

// AssemblyError reports a source error with its line.
type AssemblyError struct {
	Line int
	Msg  string
}

func (e *AssemblyError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}

// AssertionTag returns the tag of the first AssertionError in err's chain.
func AssertionTag(err error) (string, bool) {
	var ae *AssertionError
	if errors.As(err, &ae) {
		return ae.Tag, true
	}
	return "", false
}
