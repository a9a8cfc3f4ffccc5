// delta.go - Account state changes produced by a transaction.

package account

import (
	"sort"

	"github.com/pkg/errors"

	"notevm/internal/field"
)

var (
	// ErrDeltaMismatch is returned when a delta does not fit the account it is applied to.
	ErrDeltaMismatch = errors.New("account delta does not match account")
	// ErrNonceNotIncremented is returned for deltas that leave the nonce unchanged.
	ErrNonceNotIncremented = errors.New("account delta must increment the nonce")
)

// VaultDelta lists the net change per issuer, sorted by issuer.
type VaultDelta struct {
	Added   []FungibleAsset `cbor:"1,keyasint,omitempty" json:"added,omitempty"`
	Removed []FungibleAsset `cbor:"2,keyasint,omitempty" json:"removed,omitempty"`
}

// ValueUpdate is the new word of a value slot.
type ValueUpdate struct {
	Index uint8      `cbor:"1,keyasint" json:"index"`
	Value field.Word `cbor:"2,keyasint" json:"value"`
}

// MapUpdate is the new value of one key of a map slot.
type MapUpdate struct {
	Index uint8      `cbor:"1,keyasint" json:"index"`
	Key   field.Word `cbor:"2,keyasint" json:"key"`
	Value field.Word `cbor:"3,keyasint" json:"value"`
}

// StorageDelta lists changed value slots and map entries in slot then key order.
type StorageDelta struct {
	Values []ValueUpdate `cbor:"1,keyasint,omitempty" json:"values,omitempty"`
	Maps   []MapUpdate   `cbor:"2,keyasint,omitempty" json:"maps,omitempty"`
}

// Delta is the change a committed transaction makes to one account.
type Delta struct {
	AccountID      ID           `cbor:"1,keyasint" json:"account_id"`
	Vault          VaultDelta   `cbor:"2,keyasint" json:"vault"`
	Storage        StorageDelta `cbor:"3,keyasint" json:"storage"`
	NonceIncrement uint64       `cbor:"4,keyasint" json:"nonce_increment"`
}

// NewDelta computes the delta that turns before into after.
func NewDelta(before, after *Account, nonceIncrement uint64) (*Delta, error) {
	if before.ID != after.ID {
		return nil, errors.Wrapf(ErrDeltaMismatch, "%s vs %s", before.ID, after.ID)
	}
	storage, err := DiffStorage(before.Storage, after.Storage)
	if err != nil {
		return nil, err
	}
	return &Delta{
		AccountID:      before.ID,
		Vault:          DiffVaults(before.Vault, after.Vault),
		Storage:        storage,
		NonceIncrement: nonceIncrement,
	}, nil
}

// IsEmpty reports whether the delta changes neither vault nor storage.
func (d *Delta) IsEmpty() bool {
	return len(d.Vault.Added) == 0 && len(d.Vault.Removed) == 0 &&
		len(d.Storage.Values) == 0 && len(d.Storage.Maps) == 0
}

// DiffVaults returns the net per-issuer change from before to after.
func DiffVaults(before, after *Vault) VaultDelta {
	var d VaultDelta
	for issuer, amount := range after.balances {
		prev := before.balances[issuer]
		if amount > prev {
			d.Added = append(d.Added, FungibleAsset{Issuer: issuer, Amount: amount - prev})
		}
	}
	for issuer, prev := range before.balances {
		amount := after.balances[issuer]
		if prev > amount {
			d.Removed = append(d.Removed, FungibleAsset{Issuer: issuer, Amount: prev - amount})
		}
	}
	SortAssets(d.Added)
	SortAssets(d.Removed)
	return d
}

// DiffStorage returns the changed slots and entries. Both sides must have the same layout.
func DiffStorage(before, after *Storage) (StorageDelta, error) {
	var d StorageDelta
	if len(before.slots) != len(after.slots) {
		return d, errors.Wrapf(ErrDeltaMismatch, "%d slots vs %d", len(before.slots), len(after.slots))
	}
	for i := range before.slots {
		b, a := &before.slots[i], &after.slots[i]
		if b.Type != a.Type {
			return d, errors.Wrapf(ErrSlotType, "slot %d changed type", i)
		}
		switch a.Type {
		case ValueSlot:
			if a.Value != b.Value {
				d.Values = append(d.Values, ValueUpdate{Index: uint8(i), Value: a.Value})
			}
		case MapSlot:
			var updates []MapUpdate
			for k, v := range a.Map.entries {
				if b.Map.entries[k] != v {
					updates = append(updates, MapUpdate{Index: uint8(i), Key: k, Value: v})
				}
			}
			for k := range b.Map.entries {
				if _, ok := a.Map.entries[k]; !ok {
					updates = append(updates, MapUpdate{Index: uint8(i), Key: k})
				}
			}
			sort.Slice(updates, func(x, y int) bool { return updates[x].Key.Less(updates[y].Key) })
			d.Maps = append(d.Maps, updates...)
		}
	}
	return d, nil
}
