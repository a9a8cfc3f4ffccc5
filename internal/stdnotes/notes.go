package stdnotes

import (
	"github.com/pkg/errors"

	"notevm/internal/account"
	"notevm/internal/digest"
	"notevm/internal/field"
	"notevm/internal/note"
	"notevm/internal/vm"
)

// HashGateDigest returns the value a hash-gated note stores as its inputs for a secret.
func HashGateDigest(secret field.Word) field.Word {
	return digest.HashWord(secret)
}

// NewHashGateNote builds a public note consumable by whoever passes secret as note args.
func NewHashGateNote(sender account.ID, secret, serial field.Word, assets ...account.FungibleAsset) (*note.Note, error) {
	expected := HashGateDigest(secret)
	return build(sender, HashGateScript(), expected[:], serial, 0, assets)
}

// NewNoTransferNote builds a note gated like NewHashGateNote whose assets are never moved.
func NewNoTransferNote(sender account.ID, secret, serial field.Word, assets ...account.FungibleAsset) (*note.Note, error) {
	expected := HashGateDigest(secret)
	return build(sender, NoTransferScript(), expected[:], serial, 0, assets)
}

// NewP2IDNote builds a note paying assets to target.
func NewP2IDNote(sender, target account.ID, serial field.Word, assets ...account.FungibleAsset) (*note.Note, error) {
	inputs := field.Felts{target.Prefix, target.Suffix}
	return build(sender, P2IDScript(), inputs, serial, note.TagForAccount(target), assets)
}

// NewIncrementNote builds an asset-less note that increments the counter of its consumer.
func NewIncrementNote(sender account.ID, serial field.Word) (*note.Note, error) {
	return build(sender, IncrementCounterScript(), nil, serial, 0, nil)
}

// NewMapUpdateNote builds an asset-less note writing value under key in the map of its
// consumer, which must currently hold old under key.
func NewMapUpdateNote(sender account.ID, key, value, old, serial field.Word) (*note.Note, error) {
	inputs := field.WordsToFelts(key, value, old)
	return build(sender, MapUpdateScript(), inputs, serial, 0, nil)
}

func build(sender account.ID, script *vm.Program, values field.Felts, serial field.Word, tag note.Tag, assets []account.FungibleAsset) (*note.Note, error) {
	inputs, err := note.NewInputs(values)
	if err != nil {
		return nil, err
	}
	recipient, err := note.NewRecipient(serial, script, inputs)
	if err != nil {
		return nil, err
	}
	noteAssets, err := note.NewAssets(assets...)
	if err != nil {
		return nil, errors.Wrap(err, "note assets")
	}
	metadata := note.Metadata{
		Sender:        sender,
		Type:          note.Public,
		Tag:           tag,
		ExecutionHint: note.Always(),
	}
	return note.New(noteAssets, metadata, recipient)
}
