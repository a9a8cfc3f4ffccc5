package ledger

import (
	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"

	"notevm/internal/account"
	"notevm/internal/field"
	"notevm/internal/txexec"
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
	if decMode, err = (cbor.DecOptions{}).DecMode(); err != nil {
		panic(err)
	}
}

// TxRecord is the header of a committed transaction.
type TxRecord struct {
	ID                field.Word     `cbor:"1,keyasint" json:"id"`
	AccountID         account.ID     `cbor:"2,keyasint" json:"account_id"`
	InitialCommitment field.Word     `cbor:"3,keyasint" json:"initial_commitment"`
	FinalCommitment   field.Word     `cbor:"4,keyasint" json:"final_commitment"`
	Nullifiers        []field.Word   `cbor:"5,keyasint" json:"nullifiers"`
	OutputNotes       []field.Word   `cbor:"6,keyasint,omitempty" json:"output_notes,omitempty"`
	Height            uint32         `cbor:"7,keyasint" json:"height"`
	Delta             *account.Delta `cbor:"8,keyasint" json:"delta"`
}

func newTxRecord(tx *txexec.ExecutedTransaction, height uint32) *TxRecord {
	rec := &TxRecord{
		ID:                tx.ID,
		AccountID:         tx.AccountID,
		InitialCommitment: tx.InitialCommitment,
		FinalCommitment:   tx.FinalCommitment,
		Nullifiers:        tx.Nullifiers,
		Height:            height,
		Delta:             tx.Delta,
	}
	for _, n := range tx.OutputNotes {
		rec.OutputNotes = append(rec.OutputNotes, n.ID())
	}
	return rec
}

type txRecord TxRecord

// MarshalBinary encodes the record as deterministic CBOR.
func (r *TxRecord) MarshalBinary() ([]byte, error) {
	return encMode.Marshal((*txRecord)(r))
}

// UnmarshalBinary decodes a record written by MarshalBinary.
func (r *TxRecord) UnmarshalBinary(data []byte) error {
	var rec txRecord
	if err := decMode.Unmarshal(data, &rec); err != nil {
		return errors.Wrap(err, "decoding transaction record")
	}
	*r = TxRecord(rec)
	return nil
}
