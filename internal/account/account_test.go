package account

import (
	"testing"

	"github.com/stretchr/testify/require"

	"notevm/internal/field"
	"notevm/internal/vm"
)

var (
	faucetX = NewID(field.NewWord(1, 0, 0, 0))
	faucetY = NewID(field.NewWord(2, 0, 0, 0))
	alice   = NewID(field.NewWord(3, 0, 0, 0))
)

func asset(t *testing.T, issuer ID, amount uint64) FungibleAsset {
	t.Helper()
	a, err := NewFungibleAsset(issuer, amount)
	require.NoError(t, err)
	return a
}

func TestAssetWord(t *testing.T) {
	a := asset(t, faucetX, 50)
	w := a.Word()
	require.Equal(t, field.NewFelt(50), w[0])
	require.True(t, w[1].IsZero())
	require.Equal(t, faucetX.Suffix, w[2])
	require.Equal(t, faucetX.Prefix, w[3])

	decoded, err := AssetFromWord(w)
	require.NoError(t, err)
	require.Equal(t, a, decoded)

	w[1] = field.NewFelt(1)
	_, err = AssetFromWord(w)
	require.ErrorIs(t, err, ErrInvalidAsset)

	_, err = AssetFromWord(field.NewWord(5, 0, 0, 0))
	require.ErrorIs(t, err, ErrInvalidAsset)

	_, err = NewFungibleAsset(faucetX, MaxAssetAmount+1)
	require.ErrorIs(t, err, ErrInvalidAsset)
}

func TestVault(t *testing.T) {
	t.Run("Deposit and withdraw", func(t *testing.T) {
		v, err := NewVault(asset(t, faucetX, 10))
		require.NoError(t, err)
		require.NoError(t, v.Deposit(asset(t, faucetX, 5)))
		require.Equal(t, uint64(15), v.Balance(faucetX))

		require.NoError(t, v.Withdraw(asset(t, faucetX, 15)))
		require.Zero(t, v.Balance(faucetX))
		require.Empty(t, v.Assets())
		require.Equal(t, field.EmptyWord, v.Commitment())
	})

	t.Run("Insufficient balance leaves the vault unchanged", func(t *testing.T) {
		v, err := NewVault(asset(t, faucetX, 10))
		require.NoError(t, err)
		before := v.Commitment()
		require.ErrorIs(t, v.Withdraw(asset(t, faucetX, 11)), ErrInsufficientBalance)
		require.ErrorIs(t, v.Withdraw(asset(t, faucetY, 1)), ErrInsufficientBalance)
		require.Equal(t, before, v.Commitment())
	})

	t.Run("Overflow", func(t *testing.T) {
		v, err := NewVault(asset(t, faucetX, MaxAssetAmount))
		require.NoError(t, err)
		require.ErrorIs(t, v.Deposit(asset(t, faucetX, 1)), ErrBalanceOverflow)
		require.Equal(t, uint64(MaxAssetAmount), v.Balance(faucetX))
	})

	t.Run("Commitment ignores insertion order", func(t *testing.T) {
		a, err := NewVault(asset(t, faucetX, 1), asset(t, faucetY, 2))
		require.NoError(t, err)
		b, err := NewVault(asset(t, faucetY, 2), asset(t, faucetX, 1))
		require.NoError(t, err)
		require.Equal(t, a.Commitment(), b.Commitment())
		require.True(t, a.Equal(b))

		c := a.Clone()
		require.NoError(t, c.Deposit(asset(t, faucetX, 1)))
		require.NotEqual(t, a.Commitment(), c.Commitment())
		require.Equal(t, uint64(1), a.Balance(faucetX))
	})
}

func TestStorage(t *testing.T) {
	s, err := NewStorage(NewValueSlot(field.NewWord(1, 0, 0, 0)), NewMapSlot(nil))
	require.NoError(t, err)

	old, err := s.SetItem(0, field.NewWord(2, 0, 0, 0))
	require.NoError(t, err)
	require.Equal(t, field.NewWord(1, 0, 0, 0), old)
	v, err := s.GetItem(0)
	require.NoError(t, err)
	require.Equal(t, field.NewWord(2, 0, 0, 0), v)

	emptyRoot, err := s.GetItem(1)
	require.NoError(t, err)
	require.Equal(t, field.EmptyWord, emptyRoot)

	key, value := field.NewWord(7, 7, 7, 7), field.NewWord(9, 0, 0, 0)
	oldRoot, oldValue, err := s.SetMapItem(1, key, value)
	require.NoError(t, err)
	require.Equal(t, emptyRoot, oldRoot)
	require.Equal(t, field.EmptyWord, oldValue)

	got, err := s.GetMapItem(1, key)
	require.NoError(t, err)
	require.Equal(t, value, got)
	root, err := s.GetItem(1)
	require.NoError(t, err)
	require.NotEqual(t, emptyRoot, root)

	_, err = s.GetItem(2)
	require.ErrorIs(t, err, ErrSlotIndex)
	_, err = s.SetItem(1, value)
	require.ErrorIs(t, err, ErrSlotType)
	_, err = s.GetMapItem(0, key)
	require.ErrorIs(t, err, ErrSlotType)

	c := s.Clone()
	_, _, err = c.SetMapItem(1, key, field.EmptyWord)
	require.NoError(t, err)
	got, err = s.GetMapItem(1, key)
	require.NoError(t, err)
	require.Equal(t, value, got)
	require.NotEqual(t, s.Commitment(), c.Commitment())
}

func newAccount(t *testing.T) *Account {
	t.Helper()
	storage, err := NewStorage(NewValueSlot(field.EmptyWord), NewMapSlot(nil))
	require.NoError(t, err)
	code, err := vm.NewAssembler().AssembleLibrary("wallet", "export.receive_asset syscall.wallet::receive_asset end")
	require.NoError(t, err)
	acc, err := New(alice, code, storage, asset(t, faucetY, 5))
	require.NoError(t, err)
	return acc
}

func TestDelta(t *testing.T) {
	before := newAccount(t)
	after := before.Clone()
	require.NoError(t, after.Vault.Deposit(asset(t, faucetX, 50)))
	require.NoError(t, after.Vault.Withdraw(asset(t, faucetY, 2)))
	_, err := after.Storage.SetItem(0, field.NewWord(1, 0, 0, 0))
	require.NoError(t, err)
	_, _, err = after.Storage.SetMapItem(1, field.NewWord(4, 0, 0, 0), field.NewWord(8, 0, 0, 0))
	require.NoError(t, err)

	delta, err := NewDelta(before, after, 1)
	require.NoError(t, err)
	require.False(t, delta.IsEmpty())
	require.Equal(t, []FungibleAsset{asset(t, faucetX, 50)}, delta.Vault.Added)
	require.Equal(t, []FungibleAsset{asset(t, faucetY, 2)}, delta.Vault.Removed)
	require.Len(t, delta.Storage.Values, 1)
	require.Len(t, delta.Storage.Maps, 1)

	t.Run("Apply reproduces the final state", func(t *testing.T) {
		acc := before.Clone()
		require.NoError(t, acc.ApplyDelta(delta))
		after.Nonce = 1
		require.Equal(t, after.Commitment(), acc.Commitment())
		require.Equal(t, uint64(1), acc.Nonce)
	})

	t.Run("Failed apply leaves the account unchanged", func(t *testing.T) {
		acc := before.Clone()
		commitment := acc.Commitment()
		bad := *delta
		bad.Vault.Removed = []FungibleAsset{asset(t, faucetY, 100)}
		require.ErrorIs(t, acc.ApplyDelta(&bad), ErrInsufficientBalance)
		require.Equal(t, commitment, acc.Commitment())

		bad = *delta
		bad.NonceIncrement = 0
		require.ErrorIs(t, acc.ApplyDelta(&bad), ErrNonceNotIncremented)

		bad = *delta
		bad.AccountID = faucetX
		require.ErrorIs(t, acc.ApplyDelta(&bad), ErrDeltaMismatch)
		require.Equal(t, commitment, acc.Commitment())
	})

	t.Run("Empty delta still bumps the nonce", func(t *testing.T) {
		acc := before.Clone()
		empty, err := NewDelta(before, before.Clone(), 1)
		require.NoError(t, err)
		require.True(t, empty.IsEmpty())
		require.NoError(t, acc.ApplyDelta(empty))
		require.Equal(t, uint64(1), acc.Nonce)
		require.True(t, acc.Vault.Equal(before.Vault))
	})

	t.Run("Encoding", func(t *testing.T) {
		data, err := delta.MarshalBinary()
		require.NoError(t, err)
		var decoded Delta
		require.NoError(t, decoded.UnmarshalBinary(data))
		require.Equal(t, *delta, decoded)
	})
}

func TestAccountEncoding(t *testing.T) {
	acc := newAccount(t)
	acc.Nonce = 7
	_, _, err := acc.Storage.SetMapItem(1, field.NewWord(1, 2, 3, 4), field.NewWord(5, 6, 7, 8))
	require.NoError(t, err)

	data, err := acc.MarshalBinary()
	require.NoError(t, err)
	var decoded Account
	require.NoError(t, decoded.UnmarshalBinary(data))
	require.Equal(t, acc.Commitment(), decoded.Commitment())
	require.Equal(t, acc.Code.Root(), decoded.Code.Root())
	require.Equal(t, uint64(7), decoded.Nonce)

	id, err := ParseID(acc.ID.String())
	require.NoError(t, err)
	require.Equal(t, acc.ID, id)
}
