// cbor.go - Canonical CBOR form of words and element vectors.
//
// Words and element vectors are carried as CBOR byte strings holding their canonical big-endian
// encoding, so encoded notes, programs and accounts preserve element order and never expose the
// internal Montgomery limbs.

package field

import (
	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
)

// MarshalCBOR encodes the word as a 128-byte string.
func (w Word) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(w.Bytes())
}

// UnmarshalCBOR decodes a word written by MarshalCBOR.
func (w *Word) UnmarshalCBOR(data []byte) error {
	var b []byte
	if err := cbor.Unmarshal(data, &b); err != nil {
		return errors.Wrap(err, "word must be a CBOR byte string")
	}
	parsed, err := WordFromBytes(b)
	if err != nil {
		return err
	}
	*w = parsed
	return nil
}

// MarshalCBOR encodes the elements as one byte string of concatenated canonical encodings.
func (fs Felts) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(fs.Bytes())
}

// UnmarshalCBOR decodes elements written by MarshalCBOR. An empty string decodes to nil.
func (fs *Felts) UnmarshalCBOR(data []byte) error {
	var b []byte
	if err := cbor.Unmarshal(data, &b); err != nil {
		return errors.Wrap(err, "elements must be a CBOR byte string")
	}
	if len(b)%FeltBytes != 0 {
		return errors.Errorf("invalid element vector length %d", len(b))
	}
	if len(b) == 0 {
		*fs = nil
		return nil
	}
	out := make(Felts, len(b)/FeltBytes)
	for i := range out {
		e, err := FeltFromBytes(b[i*FeltBytes : (i+1)*FeltBytes])
		if err != nil {
			return errors.Wrapf(err, "element %d", i)
		}
		out[i] = e
	}
	*fs = out
	return nil
}
