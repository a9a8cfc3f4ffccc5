package vm

import (
	"github.com/pkg/errors"

	"notevm/internal/field"
)

const (
	// MinStackDepth is the depth of the initial stack and the number of elements kept by
	// truncate_stack.
	MinStackDepth = 16
	// MaxStackDepth bounds the operand stack.
	MaxStackDepth = 1000
)

// Stack is the operand stack. Depth 0 is the top. A word is laid out with element 0 on top.
type Stack struct {
	elems []field.Felt // elems[len-1] is the top
}

// NewStack returns a stack of MinStackDepth elements: inputs on top (inputs[0] topmost) over
// zeros.
func NewStack(inputs field.Felts) (*Stack, error) {
	if len(inputs) > MinStackDepth {
		return nil, errors.Wrapf(ErrTooManyInputs, "got %d, max %d", len(inputs), MinStackDepth)
	}
	s := &Stack{elems: make([]field.Felt, MinStackDepth, 2*MinStackDepth)}
	for i, v := range inputs {
		s.elems[MinStackDepth-1-i] = v
	}
	return s, nil
}

// Depth returns the number of elements on the stack.
func (s *Stack) Depth() int {
	return len(s.elems)
}

// Get returns the element at depth i.
func (s *Stack) Get(i int) (field.Felt, error) {
	if i < 0 || i >= len(s.elems) {
		return field.Felt{}, errors.Wrapf(ErrStackUnderflow, "read at depth %d of %d", i, len(s.elems))
	}
	return s.elems[len(s.elems)-1-i], nil
}

// Top returns up to n elements from the top, topmost first.
func (s *Stack) Top(n int) field.Felts {
	if n > len(s.elems) {
		n = len(s.elems)
	}
	out := make(field.Felts, n)
	for i := range out {
		out[i] = s.elems[len(s.elems)-1-i]
	}
	return out
}

// Push pushes an element.
func (s *Stack) Push(v field.Felt) error {
	if len(s.elems) >= MaxStackDepth {
		return ErrStackOverflow
	}
	s.elems = append(s.elems, v)
	return nil
}

// PushUint64 pushes a small integer.
func (s *Stack) PushUint64(v uint64) error {
	return s.Push(field.NewFelt(v))
}

// Pop removes and returns the top element.
func (s *Stack) Pop() (field.Felt, error) {
	if len(s.elems) == 0 {
		return field.Felt{}, ErrStackUnderflow
	}
	last := len(s.elems) - 1
	v := s.elems[last]
	s.elems = s.elems[:last]
	return v, nil
}

// PopUint32 pops an element that must fit in 32 bits, such as an address or an index.
func (s *Stack) PopUint32() (uint32, error) {
	v, err := s.Pop()
	if err != nil {
		return 0, err
	}
	if !v.IsUint64() || v.Uint64() > 0xffffffff {
		return 0, errors.Wrapf(ErrNotUint, "element %s", v.String())
	}
	return uint32(v.Uint64()), nil
}

// PushWord pushes w so that w[0] ends on top.
func (s *Stack) PushWord(w field.Word) error {
	if len(s.elems)+field.WordSize > MaxStackDepth {
		return ErrStackOverflow
	}
	for i := field.WordSize - 1; i >= 0; i-- {
		s.elems = append(s.elems, w[i])
	}
	return nil
}

// PopWord removes the top word. The topmost element becomes w[0].
func (s *Stack) PopWord() (field.Word, error) {
	var w field.Word
	if len(s.elems) < field.WordSize {
		return w, errors.Wrapf(ErrStackUnderflow, "need a word, depth %d", len(s.elems))
	}
	for i := 0; i < field.WordSize; i++ {
		w[i] = s.elems[len(s.elems)-1-i]
	}
	s.elems = s.elems[:len(s.elems)-field.WordSize]
	return w, nil
}

// PeekWord returns word n (elements 4n..4n+3 from the top) without removing it.
func (s *Stack) PeekWord(n int) (field.Word, error) {
	var w field.Word
	base := n * field.WordSize
	if base+field.WordSize > len(s.elems) {
		return w, errors.Wrapf(ErrStackUnderflow, "need word %d, depth %d", n, len(s.elems))
	}
	for i := 0; i < field.WordSize; i++ {
		w[i] = s.elems[len(s.elems)-1-base-i]
	}
	return w, nil
}

// SetWord overwrites word n.
func (s *Stack) SetWord(n int, w field.Word) error {
	base := n * field.WordSize
	if base+field.WordSize > len(s.elems) {
		return errors.Wrapf(ErrStackUnderflow, "need word %d, depth %d", n, len(s.elems))
	}
	for i := 0; i < field.WordSize; i++ {
		s.elems[len(s.elems)-1-base-i] = w[i]
	}
	return nil
}

// require fails with ErrStackUnderflow unless at least n elements are present.
func (s *Stack) require(n int) error {
	if len(s.elems) < n {
		return errors.Wrapf(ErrStackUnderflow, "need %d elements, depth %d", n, len(s.elems))
	}
	return nil
}

// swap exchanges the elements at depths i and j.
func (s *Stack) swap(i, j int) {
	last := len(s.elems) - 1
	s.elems[last-i], s.elems[last-j] = s.elems[last-j], s.elems[last-i]
}

// moveUp moves the element at depth n to the top.
func (s *Stack) moveUp(n int) {
	last := len(s.elems) - 1
	v := s.elems[last-n]
	copy(s.elems[last-n:], s.elems[last-n+1:])
	s.elems[last] = v
}

// moveDown moves the top element to depth n.
func (s *Stack) moveDown(n int) {
	last := len(s.elems) - 1
	v := s.elems[last]
	copy(s.elems[last-n+1:], s.elems[last-n:last])
	s.elems[last-n] = v
}

// truncate keeps the top MinStackDepth elements.
func (s *Stack) truncate() {
	if len(s.elems) > MinStackDepth {
		kept := make([]field.Felt, MinStackDepth, 2*MinStackDepth)
		copy(kept, s.elems[len(s.elems)-MinStackDepth:])
		s.elems = kept
	}
}
