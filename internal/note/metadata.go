package note

import (
	"fmt"

	"github.com/pkg/errors"

	"notevm/internal/account"
	"notevm/internal/field"
)

// Type is the visibility of a note.
type Type uint8

const (
	// Public notes are stored in full by the ledger.
	Public Type = 1
	// Private notes are known to the ledger only by id.
	Private Type = 2
)

func (t Type) String() string {
	switch t {
	case Public:
		return "public"
	case Private:
		return "private"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// Tag is a routing hint that lets clients find notes addressed to them.
type Tag uint32

// TagForAccount derives the tag of notes addressed to an account from the high bits of its
// prefix.
func TagForAccount(id account.ID) Tag {
	return Tag(id.Prefix.Bits()[3] >> 32)
}

// HintKind selects the form of an ExecutionHint.
type HintKind uint8

const (
	// HintNone carries no information; the note may be tried at any time.
	HintNone HintKind = iota
	// HintAlways says the note can always be consumed.
	HintAlways
	// HintAfterBlock says the note cannot be consumed before a block number.
	HintAfterBlock
)

// ExecutionHint tells consumers when a note is expected to be consumable.
type ExecutionHint struct {
	Kind  HintKind `cbor:"1,keyasint" json:"kind"`
	Block uint32   `cbor:"2,keyasint,omitempty" json:"block,omitempty"`
}

// Always returns the hint of notes consumable at any time.
func Always() ExecutionHint { return ExecutionHint{Kind: HintAlways} }

// NoHint returns the empty hint.
func NoHint() ExecutionHint { return ExecutionHint{Kind: HintNone} }

// AfterBlock returns the hint of notes consumable from block n on.
func AfterBlock(n uint32) ExecutionHint { return ExecutionHint{Kind: HintAfterBlock, Block: n} }

// CanExecute reports whether the hint allows consumption at the given block.
func (h ExecutionHint) CanExecute(block uint32) bool {
	if h.Kind == HintAfterBlock {
		return block >= h.Block
	}
	return true
}

func (h ExecutionHint) validate() error {
	if h.Kind > HintAfterBlock {
		return errors.Errorf("unknown execution hint %d", h.Kind)
	}
	if h.Kind != HintAfterBlock && h.Block != 0 {
		return errors.New("block number set on a hint without one")
	}
	return nil
}

func (h ExecutionHint) String() string {
	switch h.Kind {
	case HintAlways:
		return "always"
	case HintAfterBlock:
		return fmt.Sprintf("after_block(%d)", h.Block)
	default:
		return "none"
	}
}

// Metadata describes a note without being part of its id.
type Metadata struct {
	Sender        account.ID
	Type          Type
	Tag           Tag
	ExecutionHint ExecutionHint
	Aux           field.Felt
}

// Validate checks the metadata fields.
func (m Metadata) Validate() error {
	if m.Sender.IsZero() {
		return errors.New("note sender is not set")
	}
	if m.Type != Public && m.Type != Private {
		return errors.Errorf("invalid note type %d", m.Type)
	}
	return m.ExecutionHint.validate()
}

// Felts lays the metadata out as two words:
// [sender prefix, sender suffix, type << 32 | tag, kind << 32 | block, aux, 0, 0, 0].
func (m Metadata) Felts() field.Felts {
	return field.Felts{
		m.Sender.Prefix,
		m.Sender.Suffix,
		field.NewFelt(uint64(m.Type)<<32 | uint64(m.Tag)),
		field.NewFelt(uint64(m.ExecutionHint.Kind)<<32 | uint64(m.ExecutionHint.Block)),
		m.Aux,
		{}, {}, {},
	}
}
