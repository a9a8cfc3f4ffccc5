// tracer.go - Execution tracing.
//
// A Tracer observes every executed instruction. RecordingTracer keeps a compact record of each
// step whose commitment identifies the run: executing the same program against the same host
// state always yields the same trace and therefore the same commitment, which is what the proving
// side replays against.

package vm

import (
	"notevm/internal/digest"
	"notevm/internal/field"
)

// Tracer is notified around every executed instruction. Control flow instructions are reported
// before and after their whole block.
type Tracer interface {
	BeforeOp(clk uint64, ins *Instruction, stack *Stack)
	AfterOp(clk uint64, ins *Instruction, stack *Stack, err error)
}

// NullTracer implements Tracer and does nothing. Embed it to implement only some hooks.
type NullTracer struct{}

// BeforeOp does nothing.
func (NullTracer) BeforeOp(uint64, *Instruction, *Stack) {}

// AfterOp does nothing.
func (NullTracer) AfterOp(uint64, *Instruction, *Stack, error) {}

// Step is the record of one executed instruction.
type Step struct {
	Clk    uint64     `cbor:"1,keyasint" json:"clk"`
	Op     Opcode     `cbor:"2,keyasint" json:"op"`
	Target field.Word `cbor:"3,keyasint" json:"target"`
	Depth  int        `cbor:"4,keyasint" json:"depth"` // stack depth after the instruction
	Top    field.Word `cbor:"5,keyasint" json:"top"`   // top word after the instruction
	Failed bool       `cbor:"6,keyasint" json:"failed,omitempty"`
}

func (s *Step) word() field.Word {
	failed := uint64(0)
	if s.Failed {
		failed = 1
	}
	head := field.NewWord(s.Clk, uint64(s.Op), uint64(s.Depth), failed)
	return digest.Hash(field.WordsToFelts(head, s.Target, s.Top))
}

// Trace is the ordered record of one run.
type Trace struct {
	ScriptRoot field.Word `cbor:"1,keyasint" json:"script_root"`
	Steps      []Step     `cbor:"2,keyasint" json:"steps"`
}

// Commitment folds the steps into a single word, starting from the script root.
func (t *Trace) Commitment() field.Word {
	acc := t.ScriptRoot
	for i := range t.Steps {
		acc = digest.Merge(acc, t.Steps[i].word())
	}
	return acc
}

// Cycles returns the number of executed instructions.
func (t *Trace) Cycles() int {
	return len(t.Steps)
}

// RecordingTracer records every step of a run.
type RecordingTracer struct {
	NullTracer
	trace Trace
}

// NewRecordingTracer returns a tracer for a run of the program with the given root.
func NewRecordingTracer(scriptRoot field.Word) *RecordingTracer {
	return &RecordingTracer{trace: Trace{ScriptRoot: scriptRoot}}
}

// AfterOp records the step.
func (t *RecordingTracer) AfterOp(clk uint64, ins *Instruction, stack *Stack, err error) {
	var top field.Word
	copy(top[:], stack.Top(field.WordSize))
	t.trace.Steps = append(t.trace.Steps, Step{
		Clk:    clk,
		Op:     ins.Op,
		Target: ins.Target,
		Depth:  stack.Depth(),
		Top:    top,
		Failed: err != nil,
	})
}

// Trace returns the recorded trace.
func (t *RecordingTracer) Trace() *Trace {
	return &t.trace
}
