// digest.go - Fixed-output hash over field-element vectors.
//
// The digest of a vector is one word. Output element i is the MiMC hash (BLS12-377 scalar field)
// of the index i followed by the input elements, so every output element is an independent
// MiMC evaluation that a gnark circuit can reproduce with std/hash/mimc.
//
// Inputs are absorbed element by element. Callers hashing a single word follow the zero-word
// front padding convention (PadWord) so that every gated digest covers exactly Rate elements.

package digest

import (
	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr/mimc"
	"github.com/pkg/errors"

	"notevm/internal/field"
)

const (
	// Rate is the number of elements absorbed per block: two words.
	Rate = 2 * field.WordSize

	// Width is the permutation state size used by Permute: a capacity word plus the rate.
	Width = 3 * field.WordSize
)

// ErrUnalignedInput is returned by HashAligned for inputs that are not a multiple of Rate.
var ErrUnalignedInput = errors.New("input length is not a multiple of the hash rate")

// Hash returns the digest of the elements.
func Hash(elems []field.Felt) field.Word {
	var out field.Word
	for i := 0; i < field.WordSize; i++ {
		out[i] = hashIndexed(uint64(i), elems)
	}
	return out
}

// HashAligned hashes a rate-aligned input and rejects anything else.
func HashAligned(elems []field.Felt) (field.Word, error) {
	if len(elems)%Rate != 0 {
		return field.Word{}, errors.Wrapf(ErrUnalignedInput, "got %d elements", len(elems))
	}
	return Hash(elems), nil
}

// PadWord prepends the empty word: [0, 0, 0, 0] || w.
func PadWord(w field.Word) []field.Felt {
	return field.WordsToFelts(field.EmptyWord, w)
}

// HashWord returns the digest of a single zero-padded word.
func HashWord(w field.Word) field.Word {
	return Hash(PadWord(w))
}

// Merge returns the digest of two words, a first.
func Merge(a, b field.Word) field.Word {
	return Hash(field.WordsToFelts(a, b))
}

// Permute maps a Width-element state to a new state. Each output word k is the digest of the
// state with k appended, so the permutation is deterministic and position sensitive.
func Permute(state [Width]field.Felt) [Width]field.Felt {
	var out [Width]field.Felt
	in := make([]field.Felt, Width+1)
	copy(in, state[:])
	for k := 0; k < Width/field.WordSize; k++ {
		in[Width] = field.NewFelt(uint64(k))
		w := Hash(in)
		copy(out[k*field.WordSize:], w[:])
	}
	return out
}

// HashBytes hashes an arbitrary byte string. The bytes are split into 31-byte chunks so that
// every chunk is a reduced element, and the length is absorbed first.
func HashBytes(data []byte) field.Word {
	const chunk = field.FeltBytes - 1
	elems := make([]field.Felt, 0, 1+(len(data)+chunk-1)/chunk)
	elems = append(elems, field.NewFelt(uint64(len(data))))
	for start := 0; start < len(data); start += chunk {
		end := start + chunk
		if end > len(data) {
			end = len(data)
		}
		var e field.Felt
		e.SetBytes(data[start:end])
		elems = append(elems, e)
	}
	return Hash(elems)
}

// hashIndexed computes MiMC(index || elems).
func hashIndexed(index uint64, elems []field.Felt) field.Felt {
	h := mimc.NewMiMC()
	idx := field.NewFelt(index)
	b := idx.Bytes()
	h.Write(b[:])
	for i := range elems {
		eb := elems[i].Bytes()
		h.Write(eb[:])
	}
	var out field.Felt
	out.SetBytes(h.Sum(nil))
	return out
}
