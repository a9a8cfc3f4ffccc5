// assembler.go - Text to instruction tree.
//
// Source is a sequence of whitespace separated tokens; '#' starts a comment that runs to the end
// of the line. A program is
//
//	use.<namespace>[-><alias>]
//	const.<NAME>=<value>
//	proc.<name> ... end | export.<name> ... end
//	begin ... end
//
// and a library is the same without the begin block. Immediates follow the mnemonic separated by
// dots (push.1.2, movup.3, mem_loadw.0, assert_eqw.err=TAG).
//
// Procedure references are never substituted as text. exec copies the body of an already
// assembled procedure into the instruction, call keeps only the procedure root and is resolved
// when it runs, first against the program and then against the code of the executing account.

package vm

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"notevm/internal/field"
)

// Assembler turns source into programs and libraries. Libraries added with WithLibrary can be
// imported by the sources it assembles.
type Assembler struct {
	libraries    map[string]*Library
	capabilities map[string]field.Word
}

// NewAssembler returns an assembler that knows DefaultCapabilities and no libraries.
func NewAssembler() *Assembler {
	a := &Assembler{
		libraries:    make(map[string]*Library),
		capabilities: make(map[string]field.Word),
	}
	for _, name := range DefaultCapabilities {
		a.capabilities[name] = CapabilityID(name)
	}
	return a
}

// WithLibrary makes libraries available to the sources assembled next.
func (a *Assembler) WithLibrary(libs ...*Library) *Assembler {
	for _, lib := range libs {
		a.libraries[lib.Namespace] = lib
	}
	return a
}

// AssembleProgram assembles an executable script.
func (a *Assembler) AssembleProgram(src string) (*Program, error) {
	p := newParser(a, src, false)
	main, err := p.parseModule()
	if err != nil {
		return nil, err
	}
	if main == nil {
		return nil, &AssemblyError{Line: p.line(), Msg: "missing begin block"}
	}
	return NewProgram(main, p.order), nil
}

// AssembleLibrary assembles a library published under namespace. Only export procedures are
// part of the result.
func (a *Assembler) AssembleLibrary(namespace, src string) (*Library, error) {
	if namespace == "" {
		return nil, &AssemblyError{Msg: "empty library namespace"}
	}
	p := newParser(a, src, true)
	if _, err := p.parseModule(); err != nil {
		return nil, err
	}
	lib := &Library{Namespace: namespace}
	for _, proc := range p.order {
		if p.exported[proc.Name] {
			lib.Procedures = append(lib.Procedures, proc)
		}
	}
	if len(lib.Procedures) == 0 {
		return nil, &AssemblyError{Line: p.line(), Msg: "library exports no procedures"}
	}
	return lib, nil
}

type token struct {
	text string
	line int
}

type parser struct {
	asm      *Assembler
	library  bool
	toks     []token
	pos      int
	consts   map[string]uint64
	imports  map[string]string
	procs    map[string]*Procedure
	exported map[string]bool
	order    []*Procedure
}

func newParser(a *Assembler, src string, library bool) *parser {
	p := &parser{
		asm:      a,
		library:  library,
		consts:   make(map[string]uint64),
		imports:  make(map[string]string),
		procs:    make(map[string]*Procedure),
		exported: make(map[string]bool),
	}
	for i, line := range strings.Split(src, "\n") {
		if c := strings.IndexByte(line, '#'); c >= 0 {
			line = line[:c]
		}
		for _, f := range strings.Fields(line) {
			p.toks = append(p.toks, token{text: f, line: i + 1})
		}
	}
	return p
}

func (p *parser) line() int {
	switch {
	case p.pos < len(p.toks):
		return p.toks[p.pos].line
	case len(p.toks) > 0:
		return p.toks[len(p.toks)-1].line
	default:
		return 0
	}
}

func (p *parser) errorf(tok token, format string, args ...interface{}) error {
	return &AssemblyError{Line: tok.line, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) parseModule() ([]Instruction, error) {
	var main []Instruction
	for p.pos < len(p.toks) {
		tok := p.toks[p.pos]
		p.pos++
		var err error
		switch {
		case strings.HasPrefix(tok.text, "use."):
			err = p.parseUse(tok)
		case strings.HasPrefix(tok.text, "const."):
			err = p.parseConst(tok)
		case strings.HasPrefix(tok.text, "proc."), strings.HasPrefix(tok.text, "export."):
			err = p.parseProc(tok)
		case tok.text == "begin":
			if p.library {
				return nil, p.errorf(tok, "begin block in library")
			}
			if main != nil {
				return nil, p.errorf(tok, "duplicate begin block")
			}
			main, _, err = p.parseBlock(tok, "end")
			if err == nil && main == nil {
				main = []Instruction{}
			}
		default:
			err = p.errorf(tok, "unexpected %q at module level", tok.text)
		}
		if err != nil {
			return nil, err
		}
	}
	return main, nil
}

func (p *parser) parseUse(tok token) error {
	path := strings.TrimPrefix(tok.text, "use.")
	alias := ""
	if i := strings.Index(path, "->"); i >= 0 {
		path, alias = path[:i], path[i+2:]
	}
	if alias == "" {
		alias = path
		if i := strings.LastIndex(path, "::"); i >= 0 {
			alias = path[i+2:]
		}
	}
	if _, ok := p.asm.libraries[path]; !ok {
		return p.errorf(tok, "unknown library %q", path)
	}
	if _, dup := p.imports[alias]; dup {
		return p.errorf(tok, "duplicate import alias %q", alias)
	}
	p.imports[alias] = path
	return nil
}

func (p *parser) parseConst(tok token) error {
	def := strings.TrimPrefix(tok.text, "const.")
	i := strings.IndexByte(def, '=')
	if i <= 0 {
		return p.errorf(tok, "malformed constant %q", tok.text)
	}
	name, value := def[:i], def[i+1:]
	if _, dup := p.consts[name]; dup {
		return p.errorf(tok, "duplicate constant %q", name)
	}
	v, err := p.parseValue(value)
	if err != nil {
		return p.errorf(tok, "constant %s: %v", name, err)
	}
	p.consts[name] = v
	return nil
}

func (p *parser) parseProc(tok token) error {
	exported := strings.HasPrefix(tok.text, "export.")
	name := strings.TrimPrefix(strings.TrimPrefix(tok.text, "export."), "proc.")
	if name == "" || strings.ContainsAny(name, ".:") {
		return p.errorf(tok, "invalid procedure name %q", name)
	}
	if _, dup := p.procs[name]; dup {
		return p.errorf(tok, "duplicate procedure %q", name)
	}
	body, _, err := p.parseBlock(tok, "end")
	if err != nil {
		return err
	}
	proc := NewProcedure(name, body)
	p.procs[name] = proc
	p.exported[name] = exported
	p.order = append(p.order, proc)
	return nil
}

// parseBlock reads instructions up to one of the terminators and returns the terminator found.
func (p *parser) parseBlock(open token, terms ...string) ([]Instruction, string, error) {
	var body []Instruction
	for p.pos < len(p.toks) {
		tok := p.toks[p.pos]
		p.pos++
		for _, term := range terms {
			if tok.text == term {
				return body, term, nil
			}
		}
		ins, err := p.parseInstruction(tok)
		if err != nil {
			return nil, "", err
		}
		body = append(body, ins)
	}
	return nil, "", p.errorf(open, "%q is never closed", open.text)
}

func (p *parser) parseInstruction(tok token) (Instruction, error) {
	text := tok.text
	switch {
	case text == "debug.stack":
		return Instruction{Op: OpDebugStack}, nil
	case text == "if.true":
		body, term, err := p.parseBlock(tok, "else", "end")
		if err != nil {
			return Instruction{}, err
		}
		ins := Instruction{Op: OpIf, Body: body}
		if term == "else" {
			if ins.Else, _, err = p.parseBlock(tok, "end"); err != nil {
				return Instruction{}, err
			}
		}
		return ins, nil
	case text == "while.true":
		body, _, err := p.parseBlock(tok, "end")
		if err != nil {
			return Instruction{}, err
		}
		return Instruction{Op: OpWhile, Body: body}, nil
	case strings.HasPrefix(text, "repeat."):
		n, err := p.parseValue(strings.TrimPrefix(text, "repeat."))
		if err != nil {
			return Instruction{}, p.errorf(tok, "repeat count: %v", err)
		}
		spec := opsByOpcode[OpRepeat]
		if n < spec.Min || n > spec.Max {
			return Instruction{}, p.errorf(tok, "repeat count %d out of range [%d, %d]", n, spec.Min, spec.Max)
		}
		body, _, err := p.parseBlock(tok, "end")
		if err != nil {
			return Instruction{}, err
		}
		return Instruction{Op: OpRepeat, Imm: field.Uint64s(n), Body: body}, nil
	}

	name, rest := text, ""
	if i := strings.IndexByte(text, '.'); i >= 0 {
		name, rest = text[:i], text[i+1:]
	}
	if op, ok := kernelAliases[name]; ok && rest == "" {
		return Instruction{Op: op}, nil
	}
	spec, ok := opsByName[name]
	if !ok || spec.Imm == immControl {
		return Instruction{}, p.errorf(tok, "unknown instruction %q", text)
	}
	ins := Instruction{Op: spec.Opcode}

	if spec.Tagged {
		if strings.HasPrefix(rest, "err=") {
			ins.Tag = strings.Trim(strings.TrimPrefix(rest, "err="), `"`)
			if ins.Tag == "" {
				return Instruction{}, p.errorf(tok, "empty error tag")
			}
			rest = ""
		}
	}

	switch spec.Imm {
	case immNone:
		if rest != "" {
			return Instruction{}, p.errorf(tok, "%s takes no immediate", name)
		}
	case immIndex:
		v := spec.Default
		if rest == "" && spec.Required {
			return Instruction{}, p.errorf(tok, "%s requires an index", name)
		}
		if rest != "" {
			var err error
			if v, err = p.parseValue(rest); err != nil {
				return Instruction{}, p.errorf(tok, "%s: %v", name, err)
			}
		}
		if v < spec.Min || v > spec.Max {
			return Instruction{}, p.errorf(tok, "%s index %d out of range [%d, %d]", name, v, spec.Min, spec.Max)
		}
		ins.Imm = field.Uint64s(v)
	case immValues:
		parts := strings.Split(rest, ".")
		if rest == "" || len(parts) > MinStackDepth {
			return Instruction{}, p.errorf(tok, "push takes 1 to %d values", MinStackDepth)
		}
		ins.Imm = make(field.Felts, len(parts))
		for i, part := range parts {
			v, err := p.parseValue(part)
			if err != nil {
				return Instruction{}, p.errorf(tok, "push: %v", err)
			}
			ins.Imm[i] = field.NewFelt(v)
		}
	case immAddress:
		if rest != "" {
			v, err := p.parseValue(rest)
			if err != nil {
				return Instruction{}, p.errorf(tok, "%s: %v", name, err)
			}
			if v >= MaxMemoryAddress {
				return Instruction{}, p.errorf(tok, "%s: address %d out of range", name, v)
			}
			ins.Imm = field.Uint64s(v)
		}
	case immTarget:
		if rest == "" {
			return Instruction{}, p.errorf(tok, "%s requires a target", name)
		}
		return p.resolveTarget(tok, spec.Opcode, rest)
	}
	return ins, nil
}

// resolveTarget links call, exec and syscall targets. Resolution order: kernel queries (exec
// only), local procedures, imported or linked libraries, then capabilities.
func (p *parser) resolveTarget(tok token, op Opcode, target string) (Instruction, error) {
	if kop, ok := kernelAliases[target]; ok && op == OpExec {
		return Instruction{Op: kop}, nil
	}

	i := strings.LastIndex(target, "::")
	if i < 0 {
		if op == OpSyscall {
			return Instruction{}, p.errorf(tok, "syscall target %q is not a capability path", target)
		}
		proc, ok := p.procs[target]
		if !ok {
			return Instruction{}, p.errorf(tok, "undefined procedure %q", target)
		}
		return p.link(tok, op, target, proc)
	}

	module, name := target[:i], target[i+2:]
	ns := module
	if path, ok := p.imports[module]; ok {
		ns = path
	}
	if op != OpSyscall {
		if lib, ok := p.asm.libraries[ns]; ok {
			proc, ok := lib.Export(name)
			if !ok {
				return Instruction{}, p.errorf(tok, "library %s does not export %q", ns, name)
			}
			return p.link(tok, op, target, proc)
		}
	}
	for _, capName := range []string{target, ns + "::" + name} {
		if id, ok := p.asm.capabilities[capName]; ok {
			return Instruction{Op: OpSyscall, Target: id, Tag: capName}, nil
		}
	}
	return Instruction{}, p.errorf(tok, "unknown procedure or capability %q", target)
}

func (p *parser) link(tok token, op Opcode, target string, proc *Procedure) (Instruction, error) {
	if op == OpExec {
		return Instruction{Op: OpExec, Target: proc.Root, Tag: target, Body: proc.Body}, nil
	}
	if p.library && !strings.Contains(target, "::") && !p.exported[target] {
		return Instruction{}, p.errorf(tok, "library procedures can only call exported procedures, %q is local", target)
	}
	return Instruction{Op: OpCall, Target: proc.Root, Tag: target}, nil
}

func (p *parser) parseValue(s string) (uint64, error) {
	if v, ok := p.consts[s]; ok {
		return v, nil
	}
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, errors.Errorf("invalid value %q", s)
	}
	return v, nil
}
