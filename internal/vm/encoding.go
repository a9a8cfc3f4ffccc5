// encoding.go - Canonical binary form of programs and libraries.
//
// Programs and libraries are encoded as deterministic CBOR. Roots are recomputed when decoding
// and a stored root that does not match its body is rejected, so a decoded program is always
// identified by what it does. Every decoded instruction must also be one the assembler could have
// produced: known opcode, immediates within the ranges of its OpSpec.

package vm

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"

	"notevm/internal/field"
)

// MaxNestedLevels bounds CBOR nesting when decoding instruction trees.
const MaxNestedLevels = 1024

var (
	// ErrRootMismatch is returned when a decoded root does not match the decoded body.
	ErrRootMismatch = errors.New("root does not match body")
	// ErrInvalidInstruction is returned when a decoded instruction could not have been assembled.
	ErrInvalidInstruction = errors.New("invalid instruction")
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	if encMode, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic(err)
	}
	if decMode, err = (cbor.DecOptions{MaxNestedLevels: MaxNestedLevels}).DecMode(); err != nil {
		panic(err)
	}
}

type programRecord struct {
	Main       []Instruction `cbor:"1,keyasint"`
	Procedures []*Procedure  `cbor:"2,keyasint,omitempty"`
	Root       field.Word    `cbor:"3,keyasint"`
}

// MarshalBinary encodes the program.
func (p *Program) MarshalBinary() ([]byte, error) {
	return encMode.Marshal(programRecord{Main: p.Main, Procedures: p.Procedures, Root: p.root})
}

// UnmarshalBinary decodes a program and checks every root.
func (p *Program) UnmarshalBinary(data []byte) error {
	var rec programRecord
	if err := decMode.Unmarshal(data, &rec); err != nil {
		return errors.Wrap(err, "decoding program")
	}
	if err := verifyProcedures(rec.Procedures); err != nil {
		return err
	}
	if err := verifyBody(rec.Main); err != nil {
		return errors.Wrap(err, "program main")
	}
	prog := NewProgram(rec.Main, rec.Procedures)
	if prog.root != rec.Root {
		return errors.Wrapf(ErrRootMismatch, "program %s", rec.Root)
	}
	*p = *prog
	return nil
}

// MarshalCBOR embeds the program in an enclosing CBOR document.
func (p *Program) MarshalCBOR() ([]byte, error) {
	return p.MarshalBinary()
}

// UnmarshalCBOR decodes a program embedded by MarshalCBOR.
func (p *Program) UnmarshalCBOR(data []byte) error {
	return p.UnmarshalBinary(data)
}

type libraryRecord Library

// MarshalBinary encodes the library.
func (l *Library) MarshalBinary() ([]byte, error) {
	return encMode.Marshal((*libraryRecord)(l))
}

// UnmarshalBinary decodes a library and checks every procedure root.
func (l *Library) UnmarshalBinary(data []byte) error {
	var rec libraryRecord
	if err := decMode.Unmarshal(data, &rec); err != nil {
		return errors.Wrap(err, "decoding library")
	}
	if err := verifyProcedures(rec.Procedures); err != nil {
		return errors.Wrapf(err, "library %s", rec.Namespace)
	}
	*l = Library(rec)
	return nil
}

// MarshalCBOR embeds the library in an enclosing CBOR document.
func (l *Library) MarshalCBOR() ([]byte, error) {
	return l.MarshalBinary()
}

// UnmarshalCBOR decodes a library embedded by MarshalCBOR.
func (l *Library) UnmarshalCBOR(data []byte) error {
	return l.UnmarshalBinary(data)
}

func verifyProcedures(procs []*Procedure) error {
	for _, proc := range procs {
		if proc == nil {
			return errors.New("nil procedure")
		}
		if root := BodyRoot(proc.Body); root != proc.Root {
			return errors.Wrapf(ErrRootMismatch, "procedure %s", proc.Name)
		}
		if err := verifyBody(proc.Body); err != nil {
			return errors.Wrapf(err, "procedure %s", proc.Name)
		}
	}
	return nil
}

func verifyBody(body []Instruction) error {
	for i := range body {
		if err := verifyInstruction(&body[i]); err != nil {
			return err
		}
	}
	return nil
}

// verifyInstruction applies the checks the assembler makes on source to a decoded instruction.
func verifyInstruction(ins *Instruction) error {
	var spec *OpSpec
	if ins.Op < opLimit {
		spec = opsByOpcode[ins.Op]
	}
	if spec == nil {
		return errors.Wrapf(ErrInvalidInstruction, "opcode %d", uint8(ins.Op))
	}
	invalid := func(format string, args ...interface{}) error {
		return errors.Wrapf(ErrInvalidInstruction, "%s: %s", spec.Name, fmt.Sprintf(format, args...))
	}

	if ins.Tag != "" && !spec.Tagged && spec.Imm != immTarget {
		return invalid("unexpected tag")
	}
	// Body holds blocks and the inlined callee of exec; Else only the false branch of if.
	if len(ins.Body) > 0 && spec.Imm != immControl && ins.Op != OpExec {
		return invalid("unexpected block")
	}
	if len(ins.Else) > 0 && ins.Op != OpIf {
		return invalid("unexpected else block")
	}
	if ins.Op == OpExec && BodyRoot(ins.Body) != ins.Target {
		return errors.Wrapf(ErrRootMismatch, "exec.%s", ins.Tag)
	}

	switch {
	case spec.Imm == immIndex || ins.Op == OpRepeat:
		if len(ins.Imm) != 1 {
			return invalid("expects one immediate, got %d", len(ins.Imm))
		}
		v, err := field.FeltToUint64(ins.Imm[0])
		if err != nil || v < spec.Min || v > spec.Max {
			return invalid("immediate %s out of range [%d, %d]", ins.Imm[0].String(), spec.Min, spec.Max)
		}
	case spec.Imm == immValues:
		if len(ins.Imm) == 0 || len(ins.Imm) > MinStackDepth {
			return invalid("takes 1 to %d values, got %d", MinStackDepth, len(ins.Imm))
		}
	case spec.Imm == immAddress:
		if len(ins.Imm) > 1 {
			return invalid("expects at most one address")
		}
		if len(ins.Imm) == 1 {
			v, err := field.FeltToUint64(ins.Imm[0])
			if err != nil || v >= MaxMemoryAddress {
				return invalid("address %s out of range", ins.Imm[0].String())
			}
		}
	default:
		if len(ins.Imm) != 0 {
			return invalid("takes no immediate")
		}
	}

	if err := verifyBody(ins.Body); err != nil {
		return err
	}
	return verifyBody(ins.Else)
}
