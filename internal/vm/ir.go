// ir.go - Assembled program representation.
//
// Source is assembled into a tree of instructions. Procedures, programs and libraries are
// content addressed: their root is the digest of the canonical element encoding of their
// instructions, so two procedures with the same body share a root whatever they are named.

package vm

import (
	"notevm/internal/digest"
	"notevm/internal/field"
)

// Instruction is one node of an assembled body.
//
// Imm holds immediates (push values, indices, addresses, repeat counts). Target holds the
// procedure root of call and exec, or the capability id of invoke. Tag is the assertion tag,
// or the symbolic name of a call target kept for tracing. Body holds the block of repeat and
// the true branch of if, and the inlined callee of exec. Else holds the false branch of if.
type Instruction struct {
	Op     Opcode        `cbor:"1,keyasint"`
	Imm    field.Felts   `cbor:"2,keyasint,omitempty"`
	Target field.Word    `cbor:"3,keyasint"`
	Tag    string        `cbor:"4,keyasint,omitempty"`
	Body   []Instruction `cbor:"5,keyasint,omitempty"`
	Else   []Instruction `cbor:"6,keyasint,omitempty"`
}

// Procedure is a named, content addressed body.
type Procedure struct {
	Name string        `cbor:"1,keyasint"`
	Body []Instruction `cbor:"2,keyasint"`
	Root field.Word    `cbor:"3,keyasint"`
}

// NewProcedure builds a procedure and computes its root.
func NewProcedure(name string, body []Instruction) *Procedure {
	return &Procedure{Name: name, Body: body, Root: BodyRoot(body)}
}

// Program is an executable script: a main body plus the procedures it calls by root.
type Program struct {
	Main       []Instruction
	Procedures []*Procedure
	root       field.Word
}

// NewProgram builds a program and computes its root.
func NewProgram(main []Instruction, procedures []*Procedure) *Program {
	return &Program{Main: main, Procedures: procedures, root: BodyRoot(main)}
}

// Root returns the script root, the digest identifying the program.
func (p *Program) Root() field.Word {
	return p.root
}

// Procedure finds a procedure of the program by root.
func (p *Program) Procedure(root field.Word) (*Procedure, bool) {
	return findProcedure(p.Procedures, root)
}

// Library is a set of exported procedures published under a namespace, such as account code.
type Library struct {
	Namespace  string       `cbor:"1,keyasint"`
	Procedures []*Procedure `cbor:"2,keyasint"`
}

// Export finds an exported procedure by name.
func (l *Library) Export(name string) (*Procedure, bool) {
	if l == nil {
		return nil, false
	}
	for _, proc := range l.Procedures {
		if proc.Name == name {
			return proc, true
		}
	}
	return nil, false
}

// Procedure finds an exported procedure by root.
func (l *Library) Procedure(root field.Word) (*Procedure, bool) {
	if l == nil {
		return nil, false
	}
	return findProcedure(l.Procedures, root)
}

// Root commits to the set of exported procedures. A nil library has the empty root.
func (l *Library) Root() field.Word {
	if l == nil || len(l.Procedures) == 0 {
		return field.EmptyWord
	}
	roots := make([]field.Word, len(l.Procedures))
	for i, proc := range l.Procedures {
		roots[i] = proc.Root
	}
	return digest.Hash(field.WordsToFelts(roots...))
}

// Merge returns a library holding the exports of l followed by those of other. It is used to
// compose account code out of several components.
func (l *Library) Merge(other *Library) *Library {
	out := &Library{Namespace: l.Namespace}
	out.Procedures = append(out.Procedures, l.Procedures...)
	for _, proc := range other.Procedures {
		if _, ok := out.Procedure(proc.Root); !ok {
			out.Procedures = append(out.Procedures, proc)
		}
	}
	return out
}

func findProcedure(procs []*Procedure, root field.Word) (*Procedure, bool) {
	for _, proc := range procs {
		if proc.Root == root {
			return proc, true
		}
	}
	return nil, false
}

// BodyRoot returns the digest of the canonical element encoding of a body.
func BodyRoot(body []Instruction) field.Word {
	return digest.Hash(encodeBody(nil, body))
}

func encodeBody(dst field.Felts, body []Instruction) field.Felts {
	dst = append(dst, field.NewFelt(uint64(len(body))))
	for i := range body {
		dst = encodeInstruction(dst, &body[i])
	}
	return dst
}

func encodeInstruction(dst field.Felts, ins *Instruction) field.Felts {
	dst = append(dst, field.NewFelt(uint64(ins.Op)), field.NewFelt(uint64(len(ins.Imm))))
	dst = append(dst, ins.Imm...)
	dst = append(dst, ins.Target[:]...)
	tag := field.EmptyWord
	if ins.Tag != "" {
		tag = digest.HashBytes([]byte(ins.Tag))
	}
	dst = append(dst, tag[:]...)
	dst = encodeBody(dst, ins.Body)
	return encodeBody(dst, ins.Else)
}
