// encoding.go - Canonical byte encoding and JSON form of notes.
//
// The canonical encoding is deterministic CBOR in which every field element is written as its
// big-endian 32-byte form, in order. Decoding rebuilds the note from its parts, so the id and
// nullifier of a decoded note are always recomputed, never trusted.

package note

import (
	"encoding/json"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"

	"notevm/internal/account"
	"notevm/internal/field"
	"notevm/internal/vm"
)

// ErrIDMismatch is returned when a decoded note does not hash to the id it was sent with.
var ErrIDMismatch = errors.New("note id does not match note content")

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	if encMode, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic(err)
	}
	if decMode, err = (cbor.DecOptions{MaxNestedLevels: vm.MaxNestedLevels}).DecMode(); err != nil {
		panic(err)
	}
}

type metadataRecord struct {
	Sender account.ID    `cbor:"1,keyasint" json:"sender"`
	Type   Type          `cbor:"2,keyasint" json:"type"`
	Tag    Tag           `cbor:"3,keyasint" json:"tag"`
	Hint   ExecutionHint `cbor:"4,keyasint" json:"execution_hint"`
	Aux    field.Felts   `cbor:"5,keyasint" json:"aux"`
}

func newMetadataRecord(m Metadata) metadataRecord {
	return metadataRecord{Sender: m.Sender, Type: m.Type, Tag: m.Tag, Hint: m.ExecutionHint, Aux: field.Felts{m.Aux}}
}

func (r metadataRecord) metadata() (Metadata, error) {
	if len(r.Aux) != 1 {
		return Metadata{}, errors.Errorf("metadata aux must be one element, got %d", len(r.Aux))
	}
	return Metadata{Sender: r.Sender, Type: r.Type, Tag: r.Tag, ExecutionHint: r.Hint, Aux: r.Aux[0]}, nil
}

type noteRecord struct {
	Assets       []account.FungibleAsset `cbor:"1,keyasint,omitempty"`
	Metadata     metadataRecord          `cbor:"2,keyasint"`
	SerialNumber field.Word              `cbor:"3,keyasint"`
	Script       *vm.Program             `cbor:"4,keyasint"`
	Inputs       field.Felts             `cbor:"5,keyasint,omitempty"`
}

func (n *Note) record() noteRecord {
	return noteRecord{
		Assets:       n.assets.List(),
		Metadata:     newMetadataRecord(n.metadata),
		SerialNumber: n.recipient.serial,
		Script:       n.recipient.script,
		Inputs:       n.recipient.inputs.Values(),
	}
}

func fromRecord(rec noteRecord) (*Note, error) {
	if rec.Script == nil {
		return nil, errors.New("note has no script")
	}
	assets, err := NewAssets(rec.Assets...)
	if err != nil {
		return nil, err
	}
	inputs, err := NewInputs(rec.Inputs)
	if err != nil {
		return nil, err
	}
	recipient, err := NewRecipient(rec.SerialNumber, rec.Script, inputs)
	if err != nil {
		return nil, err
	}
	metadata, err := rec.Metadata.metadata()
	if err != nil {
		return nil, err
	}
	return New(assets, metadata, recipient)
}

// MarshalBinary returns the canonical encoding of the note.
func (n *Note) MarshalBinary() ([]byte, error) {
	return encMode.Marshal(n.record())
}

// UnmarshalBinary decodes a note written by MarshalBinary.
func (n *Note) UnmarshalBinary(data []byte) error {
	var rec noteRecord
	if err := decMode.Unmarshal(data, &rec); err != nil {
		return errors.Wrap(err, "decoding note")
	}
	decoded, err := fromRecord(rec)
	if err != nil {
		return errors.Wrap(err, "decoding note")
	}
	*n = *decoded
	return nil
}

// MarshalCBOR embeds the note in an enclosing CBOR document.
func (n *Note) MarshalCBOR() ([]byte, error) {
	return n.MarshalBinary()
}

// UnmarshalCBOR decodes a note embedded by MarshalCBOR.
func (n *Note) UnmarshalCBOR(data []byte) error {
	return n.UnmarshalBinary(data)
}

type noteJSON struct {
	ID           field.Word              `json:"id"`
	Assets       []account.FungibleAsset `json:"assets"`
	Metadata     metadataRecord          `json:"metadata"`
	SerialNumber field.Word              `json:"serial_number"`
	Script       []byte                  `json:"script"`
	Inputs       field.Felts             `json:"inputs"`
}

// MarshalJSON encodes the note with its id. The script is carried in its binary form.
func (n *Note) MarshalJSON() ([]byte, error) {
	script, err := n.recipient.script.MarshalBinary()
	if err != nil {
		return nil, err
	}
	rec := n.record()
	return json.Marshal(noteJSON{
		ID:           n.id,
		Assets:       rec.Assets,
		Metadata:     rec.Metadata,
		SerialNumber: rec.SerialNumber,
		Script:       script,
		Inputs:       rec.Inputs,
	})
}

// UnmarshalJSON decodes a note and checks it hashes to the id it carries.
func (n *Note) UnmarshalJSON(data []byte) error {
	var nj noteJSON
	if err := json.Unmarshal(data, &nj); err != nil {
		return errors.Wrap(err, "decoding note")
	}
	var script vm.Program
	if err := script.UnmarshalBinary(nj.Script); err != nil {
		return err
	}
	decoded, err := fromRecord(noteRecord{
		Assets:       nj.Assets,
		Metadata:     nj.Metadata,
		SerialNumber: nj.SerialNumber,
		Script:       &script,
		Inputs:       nj.Inputs,
	})
	if err != nil {
		return errors.Wrap(err, "decoding note")
	}
	if decoded.id != nj.ID {
		return errors.Wrapf(ErrIDMismatch, "got %s, computed %s", nj.ID, decoded.id)
	}
	*n = *decoded
	return nil
}
