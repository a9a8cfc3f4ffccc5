// account.go - Accounts: identity, vault, storage, code and nonce.
//
// An Account value is a snapshot. Evaluations work on clones and hand back a Delta; only the
// ledger applies deltas to the state it stores.

package account

import (
	"github.com/pkg/errors"

	"notevm/internal/digest"
	"notevm/internal/field"
	"notevm/internal/vm"
)

// Account is the state of one account.
type Account struct {
	ID      ID
	Vault   *Vault
	Storage *Storage
	Code    *vm.Library // exported procedures reachable from note scripts with call
	Nonce   uint64
}

// New builds a fresh account with nonce zero.
func New(id ID, code *vm.Library, storage *Storage, assets ...FungibleAsset) (*Account, error) {
	if id.IsZero() {
		return nil, errors.New("account id is zero")
	}
	vault, err := NewVault(assets...)
	if err != nil {
		return nil, err
	}
	if storage == nil {
		storage, _ = NewStorage()
	}
	return &Account{ID: id, Vault: vault, Storage: storage, Code: code}, nil
}

// Clone returns a deep snapshot. Code is immutable and shared.
func (a *Account) Clone() *Account {
	return &Account{
		ID:      a.ID,
		Vault:   a.Vault.Clone(),
		Storage: a.Storage.Clone(),
		Code:    a.Code,
		Nonce:   a.Nonce,
	}
}

// Commitment is the digest of [prefix, suffix, 0, nonce] || vault || storage || code root.
func (a *Account) Commitment() field.Word {
	head := field.Word{a.ID.Prefix, a.ID.Suffix, {}, field.NewFelt(a.Nonce)}
	return digest.Hash(field.WordsToFelts(head, a.Vault.Commitment(), a.Storage.Commitment(), a.Code.Root()))
}

// ApplyDelta validates the delta against the account and applies it. On error the account is
// left unchanged.
func (a *Account) ApplyDelta(d *Delta) error {
	if d.AccountID != a.ID {
		return errors.Wrapf(ErrDeltaMismatch, "delta for %s applied to %s", d.AccountID, a.ID)
	}
	if d.NonceIncrement == 0 {
		return ErrNonceNotIncremented
	}
	if a.Nonce+d.NonceIncrement < a.Nonce {
		return errors.Wrap(ErrDeltaMismatch, "nonce overflow")
	}

	vault := a.Vault.Clone()
	for _, asset := range d.Vault.Removed {
		if err := vault.Withdraw(asset); err != nil {
			return errors.Wrap(err, "applying vault delta")
		}
	}
	for _, asset := range d.Vault.Added {
		if err := vault.Deposit(asset); err != nil {
			return errors.Wrap(err, "applying vault delta")
		}
	}

	storage := a.Storage.Clone()
	for _, u := range d.Storage.Values {
		if _, err := storage.SetItem(int(u.Index), u.Value); err != nil {
			return errors.Wrap(err, "applying storage delta")
		}
	}
	for _, u := range d.Storage.Maps {
		if _, _, err := storage.SetMapItem(int(u.Index), u.Key, u.Value); err != nil {
			return errors.Wrap(err, "applying storage delta")
		}
	}

	a.Vault = vault
	a.Storage = storage
	a.Nonce += d.NonceIncrement
	return nil
}
