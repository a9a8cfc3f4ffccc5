package vm

import (
	"strings"

	"github.com/pkg/errors"

	"notevm/internal/digest"
	"notevm/internal/field"
)

var (
	one  = field.NewFelt(1)
	zero = field.NewFelt(0)
)

// imm returns the integer immediate of an instruction or def when it has none.
func imm(ins *Instruction, def int) int {
	if len(ins.Imm) == 0 {
		return def
	}
	return int(ins.Imm[0].Uint64())
}

func boolFelt(b bool) field.Felt {
	if b {
		return one
	}
	return zero
}

func opPush(p *Process, ins *Instruction) error {
	for i := range ins.Imm {
		if err := p.stack.Push(ins.Imm[i]); err != nil {
			return err
		}
	}
	return nil
}

func opPadw(p *Process, ins *Instruction) error {
	return p.stack.PushWord(field.EmptyWord)
}

func opDrop(p *Process, ins *Instruction) error {
	_, err := p.stack.Pop()
	return err
}

func opDropw(p *Process, ins *Instruction) error {
	_, err := p.stack.PopWord()
	return err
}

func opDup(p *Process, ins *Instruction) error {
	v, err := p.stack.Get(imm(ins, 0))
	if err != nil {
		return err
	}
	return p.stack.Push(v)
}

func opDupw(p *Process, ins *Instruction) error {
	w, err := p.stack.PeekWord(imm(ins, 0))
	if err != nil {
		return err
	}
	return p.stack.PushWord(w)
}

func opSwap(p *Process, ins *Instruction) error {
	n := imm(ins, 1)
	if err := p.stack.require(n + 1); err != nil {
		return err
	}
	p.stack.swap(0, n)
	return nil
}

func opSwapw(p *Process, ins *Instruction) error {
	n := imm(ins, 1)
	a, err := p.stack.PeekWord(0)
	if err != nil {
		return err
	}
	b, err := p.stack.PeekWord(n)
	if err != nil {
		return err
	}
	if err := p.stack.SetWord(0, b); err != nil {
		return err
	}
	return p.stack.SetWord(n, a)
}

func opMovup(p *Process, ins *Instruction) error {
	n := imm(ins, 2)
	if err := p.stack.require(n + 1); err != nil {
		return err
	}
	p.stack.moveUp(n)
	return nil
}

func opMovdn(p *Process, ins *Instruction) error {
	n := imm(ins, 2)
	if err := p.stack.require(n + 1); err != nil {
		return err
	}
	p.stack.moveDown(n)
	return nil
}

// popPair pops b (the top) and a (below it).
func popPair(s *Stack) (a, b field.Felt, err error) {
	if err = s.require(2); err != nil {
		return
	}
	b, _ = s.Pop()
	a, _ = s.Pop()
	return
}

func opAdd(p *Process, ins *Instruction) error {
	a, b, err := popPair(p.stack)
	if err != nil {
		return err
	}
	var r field.Felt
	r.Add(&a, &b)
	return p.stack.Push(r)
}

func opSub(p *Process, ins *Instruction) error {
	a, b, err := popPair(p.stack)
	if err != nil {
		return err
	}
	var r field.Felt
	r.Sub(&a, &b)
	return p.stack.Push(r)
}

func opMul(p *Process, ins *Instruction) error {
	a, b, err := popPair(p.stack)
	if err != nil {
		return err
	}
	var r field.Felt
	r.Mul(&a, &b)
	return p.stack.Push(r)
}

func opEq(p *Process, ins *Instruction) error {
	a, b, err := popPair(p.stack)
	if err != nil {
		return err
	}
	return p.stack.Push(boolFelt(a == b))
}

func opNeq(p *Process, ins *Instruction) error {
	a, b, err := popPair(p.stack)
	if err != nil {
		return err
	}
	return p.stack.Push(boolFelt(a != b))
}

func opAssert(p *Process, ins *Instruction) error {
	v, err := p.stack.Pop()
	if err != nil {
		return err
	}
	if v != one {
		return &AssertionError{Tag: ins.Tag}
	}
	return nil
}

func opAssertEq(p *Process, ins *Instruction) error {
	a, b, err := popPair(p.stack)
	if err != nil {
		return err
	}
	if a != b {
		return &AssertionError{Tag: ins.Tag}
	}
	return nil
}

func opAssertEqw(p *Process, ins *Instruction) error {
	if err := p.stack.require(2 * field.WordSize); err != nil {
		return err
	}
	b, _ := p.stack.PopWord()
	a, _ := p.stack.PopWord()
	if a != b {
		return &AssertionError{Tag: ins.Tag}
	}
	return nil
}

// hash: [A] -> [HashWord(A)]
func opHash(p *Process, ins *Instruction) error {
	w, err := p.stack.PopWord()
	if err != nil {
		return err
	}
	return p.stack.PushWord(digest.HashWord(w))
}

// hmerge: [B, A] -> [Merge(A, B)]
func opHmerge(p *Process, ins *Instruction) error {
	if err := p.stack.require(2 * field.WordSize); err != nil {
		return err
	}
	b, _ := p.stack.PopWord()
	a, _ := p.stack.PopWord()
	return p.stack.PushWord(digest.Merge(a, b))
}

// hperm permutes the top Width elements in place; depth i holds state element i.
func opHperm(p *Process, ins *Instruction) error {
	if err := p.stack.require(digest.Width); err != nil {
		return err
	}
	var state [digest.Width]field.Felt
	last := len(p.stack.elems) - 1
	for i := range state {
		state[i] = p.stack.elems[last-i]
	}
	out := digest.Permute(state)
	for i := range out {
		p.stack.elems[last-i] = out[i]
	}
	return nil
}

// address returns the immediate address or pops it from the stack.
func (p *Process) address(ins *Instruction) (uint64, error) {
	if len(ins.Imm) > 0 {
		return ins.Imm[0].Uint64(), nil
	}
	v, err := p.stack.Pop()
	if err != nil {
		return 0, err
	}
	if !v.IsUint64() {
		return 0, errors.Wrapf(ErrInvalidMemoryAccess, "address %s", v.String())
	}
	return v.Uint64(), nil
}

// mem_loadw: [A, W] -> [mem[A]] or, with an immediate address, [W] -> [mem[A]]
func opMemLoadw(p *Process, ins *Instruction) error {
	addr, err := p.address(ins)
	if err != nil {
		return err
	}
	w, err := p.mem.load(addr)
	if err != nil {
		return err
	}
	return p.stack.SetWord(0, w)
}

// mem_storew: [A, W] -> [W] or, with an immediate address, [W] -> [W]; mem[A] = W
func opMemStorew(p *Process, ins *Instruction) error {
	addr, err := p.address(ins)
	if err != nil {
		return err
	}
	w, err := p.stack.PeekWord(0)
	if err != nil {
		return err
	}
	return p.mem.store(addr, w)
}

// get_inputs: [dest_ptr] -> [num_inputs, dest_ptr]
func opGetInputs(p *Process, ins *Instruction) error {
	inputs := p.host.NoteInputs()
	return p.copyToMemory(inputs.ToWords(), uint64(len(inputs)))
}

// get_assets: [dest_ptr] -> [num_assets, dest_ptr]
func opGetAssets(p *Process, ins *Instruction) error {
	assets := p.host.NoteAssets()
	return p.copyToMemory(assets, uint64(len(assets)))
}

func (p *Process) copyToMemory(words []field.Word, count uint64) error {
	v, err := p.stack.Pop()
	if err != nil {
		return err
	}
	if !v.IsUint64() {
		return errors.Wrapf(ErrInvalidMemoryAccess, "destination %s", v.String())
	}
	if err := p.mem.storeWords(v.Uint64(), words); err != nil {
		return err
	}
	if err := p.stack.Push(v); err != nil {
		return err
	}
	return p.stack.PushUint64(count)
}

func opGetSerialNumber(p *Process, ins *Instruction) error {
	return p.stack.PushWord(p.host.NoteSerialNumber())
}

func opGetScriptRoot(p *Process, ins *Instruction) error {
	return p.stack.PushWord(p.host.NoteScriptRoot())
}

// get_sender: [] -> [sender_prefix, sender_suffix]
func opGetSender(p *Process, ins *Instruction) error {
	prefix, suffix := p.host.NoteSender()
	if err := p.stack.Push(suffix); err != nil {
		return err
	}
	return p.stack.Push(prefix)
}

// call runs a procedure resolved by root in a fresh memory context.
func opCall(p *Process, ins *Instruction) error {
	if p.depth >= MaxCallDepth {
		return errors.Wrapf(ErrCallDepth, "depth %d", p.depth)
	}
	proc, ok := p.program.Procedure(ins.Target)
	if !ok {
		proc, ok = p.host.Procedure(ins.Target)
	}
	if !ok {
		return errors.Wrapf(ErrUnknownCapability, "no procedure with root %s", ins.Target)
	}
	saved := p.mem
	p.mem = memory{}
	p.depth++
	err := p.execBody(proc.Body)
	p.depth--
	p.mem = saved
	return err
}

// exec runs an inlined procedure body in the current memory context.
func opExec(p *Process, ins *Instruction) error {
	return p.execBody(ins.Body)
}

func opSyscall(p *Process, ins *Instruction) error {
	if p.host == nil {
		return errors.Wrapf(ErrUnknownCapability, "%s", ins.Tag)
	}
	if err := p.host.Syscall(ins.Target, p.stack); err != nil {
		return errors.Wrapf(err, "%s", ins.Tag)
	}
	return nil
}

func opTruncateStack(p *Process, ins *Instruction) error {
	p.stack.truncate()
	return nil
}

func opDebugStack(p *Process, ins *Instruction) error {
	top := p.stack.Top(MinStackDepth)
	elems := make([]string, len(top))
	for i := range top {
		elems[i] = top[i].String()
	}
	p.log.Debug().
		Uint64("clk", p.clk).
		Int("depth", p.stack.Depth()).
		Str("top", strings.Join(elems, " ")).
		Msg("debug.stack")
	return nil
}

// repeat.N: runs Body N times; every iteration costs a cycle, so empty bodies stay bounded
func opRepeat(p *Process, ins *Instruction) error {
	n := imm(ins, 1)
	for i := 0; i < n; i++ {
		if err := p.tick(ins); err != nil {
			return err
		}
		if err := p.execBody(ins.Body); err != nil {
			return err
		}
	}
	return nil
}

// popCondition pops a boolean operand of if.true and while.true.
func (p *Process) popCondition(ins *Instruction) (bool, error) {
	c, err := p.stack.Pop()
	if err != nil {
		return false, err
	}
	switch c {
	case one:
		return true, nil
	case zero:
		return false, nil
	default:
		return false, errors.Errorf("%s condition must be 0 or 1, got %s", ins.Op, c.String())
	}
}

// if.true: [c] -> []; runs Body when c = 1 and Else when c = 0
func opIf(p *Process, ins *Instruction) error {
	c, err := p.popCondition(ins)
	if err != nil {
		return err
	}
	if c {
		return p.execBody(ins.Body)
	}
	return p.execBody(ins.Else)
}

// while.true: pops a condition and runs Body while it is 1. Body must leave the next
// condition on top.
func opWhile(p *Process, ins *Instruction) error {
	for {
		c, err := p.popCondition(ins)
		if err != nil || !c {
			return err
		}
		if err := p.tick(ins); err != nil {
			return err
		}
		if err := p.execBody(ins.Body); err != nil {
			return err
		}
	}
}
