// note.go - Notes: bearer assets locked by a script.
//
// A note carries fungible assets and a recipient: a serial number, a script and the inputs the
// script reads. Whoever can make the script succeed moves the assets. A note is immutable once
// built; its id and nullifier are computed at construction.
//
//	recipient = Merge(Merge(Merge(serial, 0), script root), inputs commitment)
//	id        = Merge(recipient, assets commitment)
//	nullifier = Hash(serial || script root || inputs commitment || assets commitment)
//
// Identical content yields an identical id. The nullifier is what the ledger records when the
// note is consumed; it cannot be linked to the id without knowing the serial number.

package note

import (
	"github.com/pkg/errors"

	"notevm/internal/account"
	"notevm/internal/digest"
	"notevm/internal/field"
	"notevm/internal/vm"
)

const (
	// MaxInputs bounds the number of note inputs.
	MaxInputs = 128
	// MaxAssets bounds the number of assets of a note.
	MaxAssets = 64
)

var (
	// ErrTooManyInputs is returned when a note has more than MaxInputs inputs.
	ErrTooManyInputs = errors.New("too many note inputs")
	// ErrTooManyAssets is returned when a note has more than MaxAssets assets.
	ErrTooManyAssets = errors.New("too many note assets")
	// ErrDuplicateIssuer is returned when two assets of a note share an issuer.
	ErrDuplicateIssuer = errors.New("duplicate asset issuer")
)

// Inputs are the values a note script reads with get_inputs.
type Inputs struct {
	values     field.Felts
	commitment field.Word
}

// NewInputs validates and builds note inputs.
func NewInputs(values field.Felts) (*Inputs, error) {
	if len(values) > MaxInputs {
		return nil, errors.Wrapf(ErrTooManyInputs, "got %d, max %d", len(values), MaxInputs)
	}
	v := make(field.Felts, len(values))
	copy(v, values)
	return &Inputs{values: v, commitment: digest.Hash(v)}, nil
}

// Values returns a copy of the inputs.
func (in *Inputs) Values() field.Felts {
	out := make(field.Felts, len(in.values))
	copy(out, in.values)
	return out
}

// Len returns the number of inputs.
func (in *Inputs) Len() int { return len(in.values) }

// Commitment is the digest of the inputs.
func (in *Inputs) Commitment() field.Word { return in.commitment }

// Assets are the ordered fungible assets of a note. Issuers are unique.
type Assets struct {
	assets     []account.FungibleAsset
	commitment field.Word
}

// NewAssets validates and builds note assets.
func NewAssets(assets ...account.FungibleAsset) (*Assets, error) {
	if len(assets) > MaxAssets {
		return nil, errors.Wrapf(ErrTooManyAssets, "got %d, max %d", len(assets), MaxAssets)
	}
	seen := make(map[account.ID]struct{}, len(assets))
	list := make([]account.FungibleAsset, len(assets))
	words := make([]field.Word, len(assets))
	for i, a := range assets {
		if err := a.Validate(); err != nil {
			return nil, errors.Wrapf(err, "asset %d", i)
		}
		if _, dup := seen[a.Issuer]; dup {
			return nil, errors.Wrapf(ErrDuplicateIssuer, "issuer %s", a.Issuer)
		}
		seen[a.Issuer] = struct{}{}
		list[i] = a
		words[i] = a.Word()
	}
	return &Assets{assets: list, commitment: digest.Hash(field.WordsToFelts(words...))}, nil
}

// List returns a copy of the assets in order.
func (a *Assets) List() []account.FungibleAsset {
	out := make([]account.FungibleAsset, len(a.assets))
	copy(out, a.assets)
	return out
}

// Words returns the asset words in order, as get_assets writes them.
func (a *Assets) Words() []field.Word {
	out := make([]field.Word, len(a.assets))
	for i, asset := range a.assets {
		out[i] = asset.Word()
	}
	return out
}

// Len returns the number of assets.
func (a *Assets) Len() int { return len(a.assets) }

// Commitment is the digest of the asset words.
func (a *Assets) Commitment() field.Word { return a.commitment }

// Recipient is who can consume a note: anyone who knows the serial number and can satisfy the
// script given the inputs.
type Recipient struct {
	serial field.Word
	script *vm.Program
	inputs *Inputs
	digest field.Word
}

// NewRecipient builds a recipient and computes its digest.
func NewRecipient(serial field.Word, script *vm.Program, inputs *Inputs) (*Recipient, error) {
	if script == nil {
		return nil, errors.New("recipient has no script")
	}
	if inputs == nil {
		inputs, _ = NewInputs(nil)
	}
	d := digest.Merge(digest.Merge(digest.Merge(serial, field.EmptyWord), script.Root()), inputs.Commitment())
	return &Recipient{serial: serial, script: script, inputs: inputs, digest: d}, nil
}

// SerialNumber returns the secret serial number.
func (r *Recipient) SerialNumber() field.Word { return r.serial }

// Script returns the note script.
func (r *Recipient) Script() *vm.Program { return r.script }

// Inputs returns the note inputs.
func (r *Recipient) Inputs() *Inputs { return r.inputs }

// Digest returns the recipient digest.
func (r *Recipient) Digest() field.Word { return r.digest }

// Note is an immutable note.
type Note struct {
	assets    *Assets
	metadata  Metadata
	recipient *Recipient
	id        field.Word
	nullifier field.Word
}

// New builds a note.
func New(assets *Assets, metadata Metadata, recipient *Recipient) (*Note, error) {
	if assets == nil || recipient == nil {
		return nil, errors.New("note requires assets and a recipient")
	}
	if err := metadata.Validate(); err != nil {
		return nil, err
	}
	id := digest.Merge(recipient.Digest(), assets.Commitment())
	nullifier := digest.Hash(field.WordsToFelts(
		recipient.SerialNumber(),
		recipient.Script().Root(),
		recipient.Inputs().Commitment(),
		assets.Commitment(),
	))
	return &Note{assets: assets, metadata: metadata, recipient: recipient, id: id, nullifier: nullifier}, nil
}

// ID returns the note id.
func (n *Note) ID() field.Word { return n.id }

// Nullifier returns the value recorded by the ledger when the note is consumed.
func (n *Note) Nullifier() field.Word { return n.nullifier }

// Assets returns the note assets.
func (n *Note) Assets() *Assets { return n.assets }

// Metadata returns the note metadata.
func (n *Note) Metadata() Metadata { return n.metadata }

// Recipient returns the note recipient.
func (n *Note) Recipient() *Recipient { return n.recipient }

// Script returns the note script.
func (n *Note) Script() *vm.Program { return n.recipient.script }

// Inputs returns the note inputs.
func (n *Note) Inputs() *Inputs { return n.recipient.inputs }

// SerialNumber returns the note serial number.
func (n *Note) SerialNumber() field.Word { return n.recipient.serial }

// Commitment binds the id to the metadata: Merge(id, Hash(metadata)).
func (n *Note) Commitment() field.Word {
	return digest.Merge(n.id, digest.Hash(n.metadata.Felts()))
}

// RandomSerialNumber samples a fresh serial number.
func RandomSerialNumber() (field.Word, error) {
	var w field.Word
	for i := range w {
		e, err := field.RandomFelt()
		if err != nil {
			return field.Word{}, errors.Wrap(err, "sampling serial number")
		}
		w[i] = e
	}
	return w, nil
}
