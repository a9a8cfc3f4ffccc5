// word.go - Four-element words, the unit of hashing, memory and note identity.

package field

import (
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

// WordSize is the number of elements in a word.
const WordSize = 4

// WordBytes is the size of the canonical encoding of a word.
const WordBytes = WordSize * FeltBytes

// Word is a fixed-width vector of four field elements.
type Word [WordSize]Felt

// EmptyWord is the all-zero word.
var EmptyWord Word

// NewWord builds a word from unsigned integers, element 0 first.
func NewWord(a, b, c, d uint64) Word {
	return Word{NewFelt(a), NewFelt(b), NewFelt(c), NewFelt(d)}
}

// IsEmpty reports whether all elements are zero.
func (w Word) IsEmpty() bool {
	return w == EmptyWord
}

// Bytes returns the canonical encoding: each element big-endian, element 0 first.
func (w Word) Bytes() []byte {
	return Felts(w[:]).Bytes()
}

// WordFromBytes decodes the canonical encoding of a word.
func WordFromBytes(b []byte) (Word, error) {
	var w Word
	if len(b) != WordBytes {
		return w, errors.Errorf("invalid word length %d, expected %d", len(b), WordBytes)
	}
	for i := 0; i < WordSize; i++ {
		e, err := FeltFromBytes(b[i*FeltBytes : (i+1)*FeltBytes])
		if err != nil {
			return w, errors.Wrapf(err, "word element %d", i)
		}
		w[i] = e
	}
	return w, nil
}

// String returns the 0x-prefixed hex encoding of the word.
func (w Word) String() string {
	return "0x" + hex.EncodeToString(w.Bytes())
}

// ParseWord parses the output of Word.String.
func ParseWord(s string) (Word, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return Word{}, errors.Wrap(err, "invalid word hex")
	}
	return WordFromBytes(b)
}

// MarshalJSON encodes the word as a hex string.
func (w Word) MarshalJSON() ([]byte, error) {
	return json.Marshal(w.String())
}

// UnmarshalJSON decodes a hex string produced by MarshalJSON.
func (w *Word) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return errors.Wrap(err, "word must be a JSON string")
	}
	parsed, err := ParseWord(s)
	if err != nil {
		return err
	}
	*w = parsed
	return nil
}

// Less orders words by their canonical encoding. Used to sort map keys deterministically.
func (w Word) Less(o Word) bool {
	for i := 0; i < WordSize; i++ {
		if c := w[i].Cmp(&o[i]); c != 0 {
			return c < 0
		}
	}
	return false
}
