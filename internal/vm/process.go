// process.go - Execution of assembled programs.
//
// A Process owns its operand stack and memory for the duration of one run. Nothing it touches is
// shared with other processes, so independent runs may proceed concurrently as long as their
// hosts are independent. Execution runs to completion or stops at the first failing instruction.

package vm

import (
	"runtime"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"notevm/internal/field"
)

const (
	// MaxMemoryAddress bounds word addresses: valid addresses are [0, MaxMemoryAddress).
	MaxMemoryAddress = 1 << 16
	// MaxCallDepth bounds nested call instructions.
	MaxCallDepth = 8
	// DefaultMaxCycles is the cycle budget of a process unless overridden.
	DefaultMaxCycles = 1 << 20
)

// Host provides everything a script can observe or affect outside its own stack and memory:
// the note being executed, procedures of the executing account and the capabilities reached
// through syscall.
type Host interface {
	NoteInputs() field.Felts
	NoteAssets() []field.Word
	NoteSerialNumber() field.Word
	NoteScriptRoot() field.Word
	NoteSender() (prefix, suffix field.Felt)

	// Procedure resolves a call target that is not part of the executing program.
	Procedure(root field.Word) (*Procedure, bool)

	// Syscall runs the capability identified by id against the stack. Unknown ids must be
	// reported with ErrUnknownCapability.
	Syscall(id field.Word, stack *Stack) error
}

// Option configures a Process.
type Option func(*Process)

// WithTracer attaches a tracer notified around every instruction.
func WithTracer(t Tracer) Option {
	return func(p *Process) { p.tracer = t }
}

// WithMaxCycles overrides the cycle budget.
func WithMaxCycles(n uint64) Option {
	return func(p *Process) { p.maxCycles = n }
}

// WithLogger sets the logger used by debug.stack.
func WithLogger(log zerolog.Logger) Option {
	return func(p *Process) { p.log = log }
}

type memory map[uint32]field.Word

// Process executes one program against a host.
type Process struct {
	program   *Program
	host      Host
	stack     *Stack
	mem       memory
	depth     int
	clk       uint64
	maxCycles uint64
	tracer    Tracer
	log       zerolog.Logger
}

// NewProcess prepares a program for execution.
func NewProcess(program *Program, host Host, opts ...Option) *Process {
	p := &Process{
		program:   program,
		host:      host,
		maxCycles: DefaultMaxCycles,
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Execute runs the main body with inputs on top of the initial stack (inputs[0] topmost) and
// returns the top MinStackDepth elements of the final stack.
func (p *Process) Execute(inputs field.Felts) (outputs field.Felts, err error) {
	defer func() {
		if x := recover(); x != nil {
			buf := make([]byte, 16*1024)
			stlen := runtime.Stack(buf, false)
			outputs = nil
			err = PanicError{x, string(buf[:stlen])}
			p.log.Error().Err(err).Msg("recovered panic in Execute")
		}
	}()

	stack, err := NewStack(inputs)
	if err != nil {
		return nil, err
	}
	p.stack = stack
	p.mem = memory{}
	p.clk = 0
	p.depth = 0

	if err := p.execBody(p.program.Main); err != nil {
		return nil, err
	}
	return p.stack.Top(MinStackDepth), nil
}

// Clk returns the number of instructions executed so far.
func (p *Process) Clk() uint64 {
	return p.clk
}

// Stack returns the operand stack of the current run.
func (p *Process) Stack() *Stack {
	return p.stack
}

func (p *Process) execBody(body []Instruction) error {
	for i := range body {
		if err := p.step(&body[i]); err != nil {
			return err
		}
	}
	return nil
}

// tick charges one cycle to ins, failing once the budget is spent.
func (p *Process) tick(ins *Instruction) error {
	if p.clk >= p.maxCycles {
		return &ExecutionError{Clk: p.clk, Op: ins.String(), Err: ErrCycleLimit}
	}
	p.clk++
	return nil
}

func (p *Process) step(ins *Instruction) error {
	clk := p.clk
	if clk >= p.maxCycles {
		return &ExecutionError{Clk: clk, Op: ins.String(), Err: ErrCycleLimit}
	}
	var spec *OpSpec
	if ins.Op < opLimit {
		spec = opsByOpcode[ins.Op]
	}
	if spec == nil {
		return &ExecutionError{Clk: clk, Op: ins.String(), Err: errors.Errorf("invalid opcode %d", ins.Op)}
	}
	p.clk++

	if p.tracer != nil {
		p.tracer.BeforeOp(clk, ins, p.stack)
	}
	err := spec.op(p, ins)
	if p.tracer != nil {
		p.tracer.AfterOp(clk, ins, p.stack, err)
	}
	if err == nil {
		return nil
	}
	// failures inside nested blocks are already attributed to the innermost instruction
	var ee *ExecutionError
	if errors.As(err, &ee) {
		return err
	}
	return &ExecutionError{Clk: clk, Op: ins.String(), Err: err}
}

func (m memory) load(addr uint64) (field.Word, error) {
	if addr >= MaxMemoryAddress {
		return field.Word{}, errors.Wrapf(ErrInvalidMemoryAccess, "address %d", addr)
	}
	return m[uint32(addr)], nil
}

func (m memory) store(addr uint64, w field.Word) error {
	if addr >= MaxMemoryAddress {
		return errors.Wrapf(ErrInvalidMemoryAccess, "address %d", addr)
	}
	if w.IsEmpty() {
		delete(m, uint32(addr))
		return nil
	}
	m[uint32(addr)] = w
	return nil
}

// storeWords writes consecutive words starting at addr. The whole range must be addressable.
func (m memory) storeWords(addr uint64, words []field.Word) error {
	if addr >= MaxMemoryAddress || uint64(len(words)) > MaxMemoryAddress-addr {
		return errors.Wrapf(ErrInvalidMemoryAccess, "%d words at address %d", len(words), addr)
	}
	for i, w := range words {
		if err := m.store(addr+uint64(i), w); err != nil {
			return err
		}
	}
	return nil
}
