package account

import (
	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"

	"notevm/internal/field"
	"notevm/internal/vm"
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
	if decMode, err = (cbor.DecOptions{MaxNestedLevels: vm.MaxNestedLevels}).DecMode(); err != nil {
		panic(err)
	}
}

type slotRecord struct {
	Type    SlotType   `cbor:"1,keyasint"`
	Value   field.Word `cbor:"2,keyasint"`
	Entries []MapEntry `cbor:"3,keyasint,omitempty"`
}

type accountRecord struct {
	ID     ID              `cbor:"1,keyasint"`
	Nonce  uint64          `cbor:"2,keyasint"`
	Assets []FungibleAsset `cbor:"3,keyasint,omitempty"`
	Slots  []slotRecord    `cbor:"4,keyasint,omitempty"`
	Code   *vm.Library     `cbor:"5,keyasint,omitempty"`
}

// MarshalBinary encodes the account as deterministic CBOR.
func (a *Account) MarshalBinary() ([]byte, error) {
	rec := accountRecord{ID: a.ID, Nonce: a.Nonce, Assets: a.Vault.Assets(), Code: a.Code}
	for i := range a.Storage.slots {
		slot := &a.Storage.slots[i]
		sr := slotRecord{Type: slot.Type, Value: slot.Value}
		if slot.Type == MapSlot {
			sr.Entries = slot.Map.Entries()
		}
		rec.Slots = append(rec.Slots, sr)
	}
	return encMode.Marshal(rec)
}

// UnmarshalBinary decodes an account written by MarshalBinary.
func (a *Account) UnmarshalBinary(data []byte) error {
	var rec accountRecord
	if err := decMode.Unmarshal(data, &rec); err != nil {
		return errors.Wrap(err, "decoding account")
	}
	slots := make([]StorageSlot, len(rec.Slots))
	for i, sr := range rec.Slots {
		switch sr.Type {
		case ValueSlot:
			slots[i] = NewValueSlot(sr.Value)
		case MapSlot:
			slots[i] = NewMapSlot(NewStorageMap(sr.Entries...))
		default:
			return errors.Errorf("slot %d has unknown type %d", i, sr.Type)
		}
	}
	storage, err := NewStorage(slots...)
	if err != nil {
		return err
	}
	acc, err := New(rec.ID, rec.Code, storage, rec.Assets...)
	if err != nil {
		return errors.Wrap(err, "decoding account")
	}
	acc.Nonce = rec.Nonce
	*a = *acc
	return nil
}

// deltaRecord has the layout of Delta without its methods.
type deltaRecord Delta

// MarshalBinary encodes the delta as deterministic CBOR.
func (d *Delta) MarshalBinary() ([]byte, error) {
	return encMode.Marshal((*deltaRecord)(d))
}

// UnmarshalBinary decodes a delta written by MarshalBinary.
func (d *Delta) UnmarshalBinary(data []byte) error {
	var rec deltaRecord
	if err := decMode.Unmarshal(data, &rec); err != nil {
		return errors.Wrap(err, "decoding account delta")
	}
	*d = Delta(rec)
	return nil
}
