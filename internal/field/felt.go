// felt.go - Field elements for the note execution core.
//
// Every value the interpreter, the notes and the digest function handle is an element of the
// BLS12-377 scalar field. Elements are kept in gnark-crypto's Montgomery representation, which is
// canonical, so two equal elements compare equal with ==.

package field

import (
	"encoding/json"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr"
	"github.com/pkg/errors"
)

// Felt is a field element.
type Felt = fr.Element

// FeltBytes is the size of the canonical big-endian encoding of a Felt.
const FeltBytes = fr.Bytes

// ErrNotUint64 is returned when a field element does not fit in 64 bits.
var ErrNotUint64 = errors.New("field element does not fit in 64 bits")

// NewFelt returns the field element v.
func NewFelt(v uint64) Felt {
	var e Felt
	e.SetUint64(v)
	return e
}

// FeltToUint64 returns the element as an unsigned integer.
func FeltToUint64(e Felt) (uint64, error) {
	if !e.IsUint64() {
		return 0, errors.Wrapf(ErrNotUint64, "element %s", e.String())
	}
	return e.Uint64(), nil
}

// FeltFromBytes decodes a canonical 32-byte big-endian element.
// Encodings that are not reduced modulo the field order are rejected.
func FeltFromBytes(b []byte) (Felt, error) {
	var e Felt
	if len(b) != FeltBytes {
		return e, errors.Errorf("invalid element length %d, expected %d", len(b), FeltBytes)
	}
	if new(big.Int).SetBytes(b).Cmp(fr.Modulus()) >= 0 {
		return e, errors.New("element encoding is not reduced")
	}
	e.SetBytes(b)
	return e, nil
}

// RandomFelt samples a uniformly random element.
func RandomFelt() (Felt, error) {
	var e Felt
	if _, err := e.SetRandom(); err != nil {
		return e, errors.Wrap(err, "sampling random element")
	}
	return e, nil
}

// Felts is an ordered sequence of field elements.
type Felts []Felt

// Uint64s builds a Felts from unsigned integers, preserving order.
func Uint64s(vs ...uint64) Felts {
	out := make(Felts, len(vs))
	for i, v := range vs {
		out[i] = NewFelt(v)
	}
	return out
}

// Bytes returns the concatenated canonical encoding of the elements.
func (fs Felts) Bytes() []byte {
	out := make([]byte, 0, len(fs)*FeltBytes)
	for i := range fs {
		b := fs[i].Bytes()
		out = append(out, b[:]...)
	}
	return out
}

// ToWords packs the elements into words, zero-padding the last word.
func (fs Felts) ToWords() []Word {
	words := make([]Word, (len(fs)+WordSize-1)/WordSize)
	for i, e := range fs {
		words[i/WordSize][i%WordSize] = e
	}
	return words
}

// WordsToFelts flattens words into elements, preserving order.
func WordsToFelts(words ...Word) Felts {
	out := make(Felts, 0, len(words)*WordSize)
	for _, w := range words {
		out = append(out, w[:]...)
	}
	return out
}

// MarshalJSON encodes the elements as decimal strings.
func (fs Felts) MarshalJSON() ([]byte, error) {
	out := make([]string, len(fs))
	for i := range fs {
		out[i] = fs[i].BigInt(new(big.Int)).String()
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes decimal strings written by MarshalJSON.
func (fs *Felts) UnmarshalJSON(data []byte) error {
	var in []string
	if err := json.Unmarshal(data, &in); err != nil {
		return errors.Wrap(err, "elements must be a JSON array of strings")
	}
	out := make(Felts, len(in))
	for i, s := range in {
		e, err := ParseFelt(s)
		if err != nil {
			return errors.Wrapf(err, "element %d", i)
		}
		out[i] = e
	}
	*fs = out
	return nil
}

// ParseFelt parses a decimal element. Values at or above the field order are rejected.
func ParseFelt(s string) (Felt, error) {
	var e Felt
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 || v.Cmp(fr.Modulus()) >= 0 {
		return e, errors.Errorf("invalid element %q", s)
	}
	e.SetBigInt(v)
	return e, nil
}
