package vm

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"notevm/internal/field"
)

const counterSource = `
# increments the value stored in slot 0
proc.load
    push.0 exec.account::get_item
end

export.increment
    exec.load
    push.1 add
    push.0 exec.account::set_item
    dropw
end

export.read
    exec.load
end
`

func TestAssembleProgram(t *testing.T) {
	t.Run("Roots are content addressed", func(t *testing.T) {
		a, err := NewAssembler().AssembleProgram("begin push.1 drop end")
		require.NoError(t, err)
		b, err := NewAssembler().AssembleProgram("# same body\nbegin\n  push.1\n  drop\nend")
		require.NoError(t, err)
		c, err := NewAssembler().AssembleProgram("begin push.2 drop end")
		require.NoError(t, err)
		require.Equal(t, a.Root(), b.Root())
		require.NotEqual(t, a.Root(), c.Root())
	})

	t.Run("Capabilities become syscalls", func(t *testing.T) {
		prog, err := NewAssembler().AssembleProgram("begin call.wallet::receive_asset exec.account::get_id end")
		require.NoError(t, err)
		require.Len(t, prog.Main, 2)
		require.Equal(t, OpSyscall, prog.Main[0].Op)
		require.Equal(t, CapabilityID(CapReceiveAsset), prog.Main[0].Target)
		require.Equal(t, CapGetID, prog.Main[1].Tag)
	})

	t.Run("Local exec is inlined and call is by root", func(t *testing.T) {
		prog, err := NewAssembler().AssembleProgram(`
proc.two
    push.2
end
begin
    exec.two
    call.two
end`)
		require.NoError(t, err)
		require.Len(t, prog.Procedures, 1)
		root := prog.Procedures[0].Root
		require.Equal(t, Instruction{Op: OpExec, Target: root, Tag: "two", Body: prog.Procedures[0].Body}, prog.Main[0])
		require.Equal(t, Instruction{Op: OpCall, Target: root, Tag: "two"}, prog.Main[1])

		out, err := NewProcess(prog, &testHost{}).Execute(nil)
		require.NoError(t, err)
		require.Equal(t, field.Uint64s(2, 2), out[:2])
	})

	t.Run("Imports with alias", func(t *testing.T) {
		counter, err := NewAssembler().AssembleLibrary("contracts::counter", counterSource)
		require.NoError(t, err)
		asm := NewAssembler().WithLibrary(counter)

		prog, err := asm.AssembleProgram("use.contracts::counter->ctr begin call.ctr::increment end")
		require.NoError(t, err)
		inc, ok := counter.Export("increment")
		require.True(t, ok)
		require.Equal(t, inc.Root, prog.Main[0].Target)

		prog, err = asm.AssembleProgram("use.contracts::counter begin call.counter::read end")
		require.NoError(t, err)
		read, _ := counter.Export("read")
		require.Equal(t, read.Root, prog.Main[0].Target)
	})

	t.Run("Errors", func(t *testing.T) {
		cases := map[string]string{
			"unknown instruction":  "begin\n frobnicate\nend",
			"unclosed block":       "begin push.1",
			"missing begin":        "proc.x push.1 end",
			"undefined procedure":  "begin exec.nowhere end",
			"unknown capability":   "begin call.wallet::mint end",
			"unknown library":      "use.std::math begin end",
			"movup out of range":   "begin movup.1 end",
			"movup without index":  "begin movup end",
			"address out of range": "begin mem_loadw.65536 end",
			"empty push":           "begin push end",
			"bad value":            "begin push.abc end",
			"duplicate procedure":  "proc.a push.1 end proc.a push.2 end begin end",
			"immediate on drop":    "begin drop.1 end",
		}
		for name, src := range cases {
			t.Run(name, func(t *testing.T) {
				_, err := NewAssembler().AssembleProgram(src)
				var ae *AssemblyError
				require.True(t, errors.As(err, &ae), "got %v", err)
			})
		}

		_, err := NewAssembler().AssembleProgram("begin\n\n  frobnicate\nend")
		var ae *AssemblyError
		require.True(t, errors.As(err, &ae))
		require.Equal(t, 3, ae.Line)
	})
}

func TestAssembleLibrary(t *testing.T) {
	lib, err := NewAssembler().AssembleLibrary("contracts::counter", counterSource)
	require.NoError(t, err)
	require.Len(t, lib.Procedures, 2)
	_, ok := lib.Export("load")
	require.False(t, ok)
	require.NotEqual(t, field.EmptyWord, lib.Root())

	_, err = NewAssembler().AssembleLibrary("x", "begin end")
	require.Error(t, err)
	_, err = NewAssembler().AssembleLibrary("x", "proc.hidden push.1 end")
	require.Error(t, err)
	_, err = NewAssembler().AssembleLibrary("x", "proc.hidden push.1 end export.a call.hidden end")
	require.Error(t, err)
}

func TestEncoding(t *testing.T) {
	counter, err := NewAssembler().AssembleLibrary("contracts::counter", counterSource)
	require.NoError(t, err)
	prog, err := NewAssembler().WithLibrary(counter).AssembleProgram(`
use.contracts::counter
const.TIMES=3
proc.bump
    push.1 add
end
begin
    push.0
    repeat.TIMES exec.bump end
    push.1 if.true call.counter::increment else push.9 end
    assert_eq.err=NEVER
end`)
	require.NoError(t, err)

	t.Run("Program", func(t *testing.T) {
		data, err := prog.MarshalBinary()
		require.NoError(t, err)
		again, err := prog.MarshalBinary()
		require.NoError(t, err)
		require.Equal(t, data, again)

		var decoded Program
		require.NoError(t, decoded.UnmarshalBinary(data))
		require.Equal(t, prog.Root(), decoded.Root())
		require.Len(t, decoded.Procedures, 1)
	})

	t.Run("Library", func(t *testing.T) {
		data, err := counter.MarshalBinary()
		require.NoError(t, err)
		var decoded Library
		require.NoError(t, decoded.UnmarshalBinary(data))
		require.Equal(t, counter.Root(), decoded.Root())
		require.Equal(t, counter.Namespace, decoded.Namespace)
	})

	t.Run("Tampered root", func(t *testing.T) {
		forged := &Program{Main: prog.Main, Procedures: prog.Procedures, root: field.NewWord(1, 2, 3, 4)}
		data, err := forged.MarshalBinary()
		require.NoError(t, err)
		var decoded Program
		require.ErrorIs(t, decoded.UnmarshalBinary(data), ErrRootMismatch)
	})

	t.Run("Instructions out of range", func(t *testing.T) {
		for _, test := range []struct {
			name string
			ins  Instruction
		}{
			{"repeat count", Instruction{Op: OpRepeat, Imm: field.Uint64s(1 << 40)}},
			{"repeat without count", Instruction{Op: OpRepeat}},
			{"unknown opcode", Instruction{Op: opLimit}},
			{"movup index", Instruction{Op: OpMovup, Imm: field.Uint64s(16)}},
			{"dup without index", Instruction{Op: OpDup}},
			{"memory address", Instruction{Op: OpMemLoadw, Imm: field.Uint64s(MaxMemoryAddress)}},
			{"push nothing", Instruction{Op: OpPush}},
			{"immediate on drop", Instruction{Op: OpDrop, Imm: field.Uint64s(1)}},
			{"tag on add", Instruction{Op: OpAdd, Tag: "NOPE"}},
			{"block on drop", Instruction{Op: OpDrop, Body: []Instruction{{Op: OpDrop}}}},
			{"else on while", Instruction{Op: OpWhile, Else: []Instruction{{Op: OpDrop}}}},
			{"nested", Instruction{Op: OpIf, Body: []Instruction{{Op: OpRepeat, Imm: field.Uint64s(0)}}}},
		} {
			t.Run(test.name, func(t *testing.T) {
				data, err := NewProgram([]Instruction{test.ins}, nil).MarshalBinary()
				require.NoError(t, err)
				var decoded Program
				require.ErrorIs(t, decoded.UnmarshalBinary(data), ErrInvalidInstruction)
			})
		}
	})

	t.Run("Exec body must match its target", func(t *testing.T) {
		ins := Instruction{Op: OpExec, Target: field.NewWord(1, 0, 0, 0), Body: []Instruction{{Op: OpDrop}}}
		data, err := NewProgram([]Instruction{ins}, nil).MarshalBinary()
		require.NoError(t, err)
		var decoded Program
		require.ErrorIs(t, decoded.UnmarshalBinary(data), ErrRootMismatch)
	})

	t.Run("Library procedures are checked", func(t *testing.T) {
		bad := &Library{Namespace: "bad", Procedures: []*Procedure{
			NewProcedure("spin", []Instruction{{Op: OpRepeat, Imm: field.Uint64s(1 << 20)}}),
		}}
		data, err := bad.MarshalBinary()
		require.NoError(t, err)
		var decoded Library
		require.ErrorIs(t, decoded.UnmarshalBinary(data), ErrInvalidInstruction)
	})
}
