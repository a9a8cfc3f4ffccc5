package vm

import (
	"fmt"
	"strings"
)

// Opcode identifies an instruction.
type Opcode uint8

// Opcodes. Values are part of the canonical encoding and therefore of every root: append only.
const (
	OpPush Opcode = iota + 1
	OpPadw
	OpDrop
	OpDropw
	OpDup
	OpDupw
	OpSwap
	OpSwapw
	OpMovup
	OpMovdn
	OpAdd
	OpSub
	OpMul
	OpEq
	OpNeq
	OpAssert
	OpAssertEq
	OpAssertEqw
	OpHash
	OpHmerge
	OpHperm
	OpMemLoadw
	OpMemStorew
	OpGetInputs
	OpGetAssets
	OpGetSerialNumber
	OpGetScriptRoot
	OpGetSender
	OpCall
	OpExec
	OpSyscall
	OpTruncateStack
	OpDebugStack
	OpRepeat
	OpIf
	OpWhile
	opLimit
)

// immKind says how the assembler reads the dot-separated immediates of a mnemonic.
type immKind int

const (
	immNone     immKind = iota
	immIndex            // one integer in [Min, Max], Default when omitted unless Required
	immValues           // one or more element values (push)
	immAddress          // optional memory address; popped from the stack when omitted
	immTarget           // a procedure or capability path (call, exec, syscall)
	immControl          // control flow, assembled as a block
)

// OpDetails records the immediate layout of an instruction.
type OpDetails struct {
	Imm      immKind
	Min      uint64
	Max      uint64
	Default  uint64
	Required bool
	Tagged   bool // accepts .err=TAG
}

type evalFunc func(p *Process, ins *Instruction) error

// OpSpec defines one instruction.
type OpSpec struct {
	Opcode Opcode
	Name   string
	op     evalFunc
	OpDetails
}

func index(lo, hi, def uint64) OpDetails {
	return OpDetails{Imm: immIndex, Min: lo, Max: hi, Default: def}
}

func required(lo, hi uint64) OpDetails {
	return OpDetails{Imm: immIndex, Min: lo, Max: hi, Required: true}
}

var (
	noImm  = OpDetails{}
	tagged = OpDetails{Tagged: true}
)

// OpSpecs is the table of instructions that can be assembled and executed.
var OpSpecs = []OpSpec{
	{OpPush, "push", opPush, OpDetails{Imm: immValues}},
	{OpPadw, "padw", opPadw, noImm},
	{OpDrop, "drop", opDrop, noImm},
	{OpDropw, "dropw", opDropw, noImm},
	{OpDup, "dup", opDup, index(0, 15, 0)},
	{OpDupw, "dupw", opDupw, index(0, 3, 0)},
	{OpSwap, "swap", opSwap, index(1, 15, 1)},
	{OpSwapw, "swapw", opSwapw, index(1, 3, 1)},
	{OpMovup, "movup", opMovup, required(2, 15)},
	{OpMovdn, "movdn", opMovdn, required(2, 15)},
	{OpAdd, "add", opAdd, noImm},
	{OpSub, "sub", opSub, noImm},
	{OpMul, "mul", opMul, noImm},
	{OpEq, "eq", opEq, noImm},
	{OpNeq, "neq", opNeq, noImm},
	{OpAssert, "assert", opAssert, tagged},
	{OpAssertEq, "assert_eq", opAssertEq, tagged},
	{OpAssertEqw, "assert_eqw", opAssertEqw, tagged},
	{OpHash, "hash", opHash, noImm},
	{OpHmerge, "hmerge", opHmerge, noImm},
	{OpHperm, "hperm", opHperm, noImm},
	{OpMemLoadw, "mem_loadw", opMemLoadw, OpDetails{Imm: immAddress}},
	{OpMemStorew, "mem_storew", opMemStorew, OpDetails{Imm: immAddress}},
	{OpGetInputs, "get_inputs", opGetInputs, noImm},
	{OpGetAssets, "get_assets", opGetAssets, noImm},
	{OpGetSerialNumber, "get_serial_number", opGetSerialNumber, noImm},
	{OpGetScriptRoot, "get_script_root", opGetScriptRoot, noImm},
	{OpGetSender, "get_sender", opGetSender, noImm},
	{OpCall, "call", opCall, OpDetails{Imm: immTarget}},
	{OpExec, "exec", opExec, OpDetails{Imm: immTarget}},
	{OpSyscall, "syscall", opSyscall, OpDetails{Imm: immTarget}},
	{OpTruncateStack, "truncate_stack", opTruncateStack, noImm},
	{OpDebugStack, "debug.stack", opDebugStack, noImm},
	{OpRepeat, "repeat", opRepeat, OpDetails{Imm: immControl, Min: 1, Max: 1 << 16}},
	{OpIf, "if.true", opIf, OpDetails{Imm: immControl}},
	{OpWhile, "while.true", opWhile, OpDetails{Imm: immControl}},
}

var opsByOpcode [opLimit]*OpSpec
var opsByName = make(map[string]*OpSpec, len(OpSpecs))

// note::, sys:: and bare kernel query names accepted by exec.
var kernelAliases = map[string]Opcode{
	"note::get_inputs":        OpGetInputs,
	"note::get_assets":        OpGetAssets,
	"note::get_serial_number": OpGetSerialNumber,
	"note::get_script_root":   OpGetScriptRoot,
	"note::get_sender":        OpGetSender,
	"sys::truncate_stack":     OpTruncateStack,
}

func init() {
	for i := range OpSpecs {
		spec := &OpSpecs[i]
		opsByOpcode[spec.Opcode] = spec
		opsByName[spec.Name] = spec
	}
}

// LookupOp returns the instruction definition for a mnemonic.
func LookupOp(name string) (*OpSpec, bool) {
	spec, ok := opsByName[name]
	return spec, ok
}

func (op Opcode) String() string {
	if op < opLimit && opsByOpcode[op] != nil {
		return opsByOpcode[op].Name
	}
	return fmt.Sprintf("opcode(%d)", uint8(op))
}

// String renders the instruction head the way it is written in source, without nested blocks.
func (ins *Instruction) String() string {
	var sb strings.Builder
	sb.WriteString(ins.Op.String())
	switch ins.Op {
	case OpCall, OpExec, OpSyscall:
		sb.WriteString(".")
		if ins.Tag != "" {
			sb.WriteString(ins.Tag)
		} else {
			sb.WriteString(ins.Target.String())
		}
		return sb.String()
	}
	for i := range ins.Imm {
		sb.WriteString(".")
		sb.WriteString(ins.Imm[i].String())
	}
	if ins.Tag != "" {
		sb.WriteString(".err=")
		sb.WriteString(ins.Tag)
	}
	return sb.String()
}
