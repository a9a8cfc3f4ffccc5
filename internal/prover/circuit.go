// circuit.go - Hash gate relation as a gnark circuit.

package prover

import (
	"math/big"

	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/mimc"

	"notevm/internal/field"
)

// SecretCircuit proves knowledge of a secret word whose padded digest is Expected. Each output
// element i is MiMC(i || 0, 0, 0, 0 || secret), matching digest.HashWord.
type SecretCircuit struct {
	// Public inputs
	Expected [field.WordSize]frontend.Variable `gnark:",public"`

	// Private inputs
	Secret [field.WordSize]frontend.Variable
}

func (c *SecretCircuit) Define(api frontend.API) error {
	for i := 0; i < field.WordSize; i++ {
		hasher, err := mimc.NewMiMC(api)
		if err != nil {
			return err
		}
		hasher.Write(i)
		for j := 0; j < field.WordSize; j++ {
			hasher.Write(0)
		}
		hasher.Write(c.Secret[:]...)
		api.AssertIsEqual(c.Expected[i], hasher.Sum())
	}
	return nil
}

// assignWord converts a word to circuit assignments.
func assignWord(w field.Word) [field.WordSize]frontend.Variable {
	var out [field.WordSize]frontend.Variable
	for i := range w {
		out[i] = w[i].BigInt(new(big.Int))
	}
	return out
}
