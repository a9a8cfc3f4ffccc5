package account

import (
	"sort"

	"github.com/pkg/errors"

	"notevm/internal/field"
)

// MaxAssetAmount is the largest amount a fungible asset or a vault balance can hold.
const MaxAssetAmount = 1<<63 - 1

// ErrInvalidAsset is returned for malformed assets and asset words.
var ErrInvalidAsset = errors.New("invalid asset")

// FungibleAsset is an amount of the asset issued by the faucet account Issuer.
type FungibleAsset struct {
	Issuer ID     `cbor:"1,keyasint" json:"issuer"`
	Amount uint64 `cbor:"2,keyasint" json:"amount"`
}

// NewFungibleAsset validates and builds an asset.
func NewFungibleAsset(issuer ID, amount uint64) (FungibleAsset, error) {
	a := FungibleAsset{Issuer: issuer, Amount: amount}
	return a, a.Validate()
}

// Validate checks the issuer is set and the amount is in range.
func (a FungibleAsset) Validate() error {
	if a.Issuer.IsZero() {
		return errors.Wrap(ErrInvalidAsset, "missing issuer")
	}
	if a.Amount > MaxAssetAmount {
		return errors.Wrapf(ErrInvalidAsset, "amount %d exceeds %d", a.Amount, uint64(MaxAssetAmount))
	}
	return nil
}

// Word encodes the asset as [amount, 0, issuer suffix, issuer prefix].
func (a FungibleAsset) Word() field.Word {
	return field.Word{field.NewFelt(a.Amount), {}, a.Issuer.Suffix, a.Issuer.Prefix}
}

// AssetFromWord decodes and validates an asset word.
func AssetFromWord(w field.Word) (FungibleAsset, error) {
	amount, err := field.FeltToUint64(w[0])
	if err != nil {
		return FungibleAsset{}, errors.Wrap(ErrInvalidAsset, "amount is not an integer")
	}
	if !w[1].IsZero() {
		return FungibleAsset{}, errors.Wrap(ErrInvalidAsset, "element 1 must be zero")
	}
	a := FungibleAsset{Issuer: ID{Prefix: w[3], Suffix: w[2]}, Amount: amount}
	return a, a.Validate()
}

// SortAssets orders assets by issuer.
func SortAssets(assets []FungibleAsset) {
	sort.Slice(assets, func(i, j int) bool { return assets[i].Issuer.Less(assets[j].Issuer) })
}
