// vault.go - Fungible asset balances of an account.

package account

import (
	"github.com/pkg/errors"

	"notevm/internal/digest"
	"notevm/internal/field"
)

var (
	// ErrInsufficientBalance is returned when a withdrawal exceeds the balance.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrBalanceOverflow is returned when a deposit would exceed MaxAssetAmount.
	ErrBalanceOverflow = errors.New("balance overflow")
)

// Vault maps issuers to balances. Zero balances are not stored, so two vaults holding the same
// amounts are equal and share a commitment.
type Vault struct {
	balances map[ID]uint64
}

// NewVault builds a vault holding the given assets.
func NewVault(assets ...FungibleAsset) (*Vault, error) {
	v := &Vault{balances: make(map[ID]uint64)}
	for _, a := range assets {
		if err := v.Deposit(a); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// Deposit adds the asset to the vault.
func (v *Vault) Deposit(a FungibleAsset) error {
	if err := a.Validate(); err != nil {
		return err
	}
	if a.Amount == 0 {
		return nil
	}
	bal := v.balances[a.Issuer]
	if a.Amount > MaxAssetAmount-bal {
		return errors.Wrapf(ErrBalanceOverflow, "issuer %s: %d + %d", a.Issuer, bal, a.Amount)
	}
	v.balances[a.Issuer] = bal + a.Amount
	return nil
}

// Withdraw removes the asset from the vault.
func (v *Vault) Withdraw(a FungibleAsset) error {
	if err := a.Validate(); err != nil {
		return err
	}
	bal := v.balances[a.Issuer]
	if a.Amount > bal {
		return errors.Wrapf(ErrInsufficientBalance, "issuer %s: have %d, need %d", a.Issuer, bal, a.Amount)
	}
	if bal == a.Amount {
		delete(v.balances, a.Issuer)
	} else {
		v.balances[a.Issuer] = bal - a.Amount
	}
	return nil
}

// Balance returns the amount held of the asset issued by issuer.
func (v *Vault) Balance(issuer ID) uint64 {
	return v.balances[issuer]
}

// Assets returns the holdings sorted by issuer.
func (v *Vault) Assets() []FungibleAsset {
	out := make([]FungibleAsset, 0, len(v.balances))
	for issuer, amount := range v.balances {
		out = append(out, FungibleAsset{Issuer: issuer, Amount: amount})
	}
	SortAssets(out)
	return out
}

// Commitment is the digest of the sorted asset words. An empty vault commits to the empty word.
func (v *Vault) Commitment() field.Word {
	if len(v.balances) == 0 {
		return field.EmptyWord
	}
	assets := v.Assets()
	words := make([]field.Word, len(assets))
	for i, a := range assets {
		words[i] = a.Word()
	}
	return digest.Hash(field.WordsToFelts(words...))
}

// Clone returns an independent copy.
func (v *Vault) Clone() *Vault {
	c := &Vault{balances: make(map[ID]uint64, len(v.balances))}
	for issuer, amount := range v.balances {
		c.balances[issuer] = amount
	}
	return c
}

// Equal reports whether both vaults hold the same balances.
func (v *Vault) Equal(o *Vault) bool {
	if len(v.balances) != len(o.balances) {
		return false
	}
	for issuer, amount := range v.balances {
		if o.balances[issuer] != amount {
			return false
		}
	}
	return true
}
