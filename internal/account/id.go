// id.go - Account identifiers.

package account

import (
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"

	"notevm/internal/digest"
	"notevm/internal/field"
)

// IDBytes is the size of the canonical encoding of an ID.
const IDBytes = 2 * field.FeltBytes

// ID identifies an account, and the issuer of a fungible asset. It is two field elements so that
// it fits in half a word.
type ID struct {
	Prefix field.Felt
	Suffix field.Felt
}

// NewID derives an account id from a seed word.
func NewID(seed field.Word) ID {
	h := digest.HashWord(seed)
	return ID{Prefix: h[0], Suffix: h[1]}
}

// RandomID derives an account id from a random seed.
func RandomID() (ID, error) {
	var seed field.Word
	for i := range seed {
		e, err := field.RandomFelt()
		if err != nil {
			return ID{}, err
		}
		seed[i] = e
	}
	return NewID(seed), nil
}

// IsZero reports whether the id is unset.
func (id ID) IsZero() bool {
	return id == ID{}
}

// Bytes returns prefix then suffix, big-endian.
func (id ID) Bytes() []byte {
	return field.Felts{id.Prefix, id.Suffix}.Bytes()
}

// IDFromBytes decodes the output of Bytes.
func IDFromBytes(b []byte) (ID, error) {
	if len(b) != IDBytes {
		return ID{}, errors.Errorf("invalid account id length %d, expected %d", len(b), IDBytes)
	}
	prefix, err := field.FeltFromBytes(b[:field.FeltBytes])
	if err != nil {
		return ID{}, errors.Wrap(err, "account id prefix")
	}
	suffix, err := field.FeltFromBytes(b[field.FeltBytes:])
	if err != nil {
		return ID{}, errors.Wrap(err, "account id suffix")
	}
	return ID{Prefix: prefix, Suffix: suffix}, nil
}

// String returns the 0x-prefixed hex form.
func (id ID) String() string {
	return "0x" + hex.EncodeToString(id.Bytes())
}

// ParseID parses the output of String.
func ParseID(s string) (ID, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return ID{}, errors.Wrap(err, "invalid account id hex")
	}
	return IDFromBytes(b)
}

// Less orders ids by prefix then suffix.
func (id ID) Less(o ID) bool {
	if c := id.Prefix.Cmp(&o.Prefix); c != 0 {
		return c < 0
	}
	return id.Suffix.Cmp(&o.Suffix) < 0
}

// MarshalJSON encodes the id as a hex string.
func (id ID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

// UnmarshalJSON decodes a hex string.
func (id *ID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return errors.Wrap(err, "account id must be a JSON string")
	}
	parsed, err := ParseID(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// MarshalCBOR encodes the id as a byte string.
func (id ID) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(id.Bytes())
}

// UnmarshalCBOR decodes a byte string written by MarshalCBOR.
func (id *ID) UnmarshalCBOR(data []byte) error {
	var b []byte
	if err := cbor.Unmarshal(data, &b); err != nil {
		return errors.Wrap(err, "account id must be a CBOR byte string")
	}
	parsed, err := IDFromBytes(b)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
