package txexec

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"notevm/internal/account"
	"notevm/internal/field"
	"notevm/internal/note"
	"notevm/internal/stdnotes"
	"notevm/internal/vm"
)

type memStore struct {
	accounts map[account.ID]*account.Account
	consumed map[field.Word]bool
	notes    map[field.Word]bool
}

func newMemStore() *memStore {
	return &memStore{
		accounts: make(map[account.ID]*account.Account),
		consumed: make(map[field.Word]bool),
		notes:    make(map[field.Word]bool),
	}
}

func (s *memStore) GetAccountState(id account.ID) (*account.Account, error) {
	a, ok := s.accounts[id]
	if !ok {
		return nil, errors.Errorf("account %s not found", id)
	}
	return a.Clone(), nil
}

func (s *memStore) IsConsumed(nullifier field.Word) (bool, error) { return s.consumed[nullifier], nil }
func (s *memStore) HasNote(id field.Word) (bool, error)           { return s.notes[id], nil }

var (
	faucetX  = account.NewID(field.NewWord(100, 0, 0, 0))
	faucetY  = account.NewID(field.NewWord(101, 0, 0, 0))
	sender   = account.NewID(field.NewWord(200, 0, 0, 0))
	secret   = field.NewWord(1, 2, 3, 4)
	badGuess = field.NewWord(1, 2, 3, 5)
)

func asset(t *testing.T, issuer account.ID, amount uint64) account.FungibleAsset {
	t.Helper()
	a, err := account.NewFungibleAsset(issuer, amount)
	require.NoError(t, err)
	return a
}

func newAccount(t *testing.T, s *memStore, seed uint64, code *vm.Library, assets ...account.FungibleAsset) *account.Account {
	t.Helper()
	storage, err := account.NewStorage(account.NewValueSlot(field.EmptyWord))
	require.NoError(t, err)
	a, err := account.New(account.NewID(field.NewWord(seed, 0, 0, 0)), code, storage, assets...)
	require.NoError(t, err)
	s.accounts[a.ID] = a
	return a
}

func addNote(s *memStore, n *note.Note) *note.Note {
	s.notes[n.ID()] = true
	return n
}

func hashGateNote(t *testing.T, s *memStore, serial uint64, assets ...account.FungibleAsset) *note.Note {
	t.Helper()
	n, err := stdnotes.NewHashGateNote(sender, secret, field.NewWord(serial, 0, 0, 0), assets...)
	require.NoError(t, err)
	return addNote(s, n)
}

func consume(acct *account.Account, args field.Word, notes ...*note.Note) *Request {
	req := &Request{AccountID: acct.ID}
	for _, n := range notes {
		req.InputNotes = append(req.InputNotes, InputNote{Note: n, Args: args})
	}
	return req
}

// applied returns the account after the delta of tx.
func applied(t *testing.T, before *account.Account, tx *ExecutedTransaction) *account.Account {
	t.Helper()
	after := before.Clone()
	require.NoError(t, after.ApplyDelta(tx.Delta))
	require.Equal(t, tx.FinalCommitment, after.Commitment())
	return after
}

func TestHashGate(t *testing.T) {
	ctx := context.Background()
	s := newMemStore()
	acct := newAccount(t, s, 1, stdnotes.BasicWalletCode())
	n := hashGateNote(t, s, 1, asset(t, faucetX, 50))
	exec := NewExecutor(s)

	t.Run("Right secret moves the assets", func(t *testing.T) {
		tx, err := exec.Execute(ctx, consume(acct, secret, n))
		require.NoError(t, err)
		after := applied(t, acct, tx)
		require.Equal(t, uint64(50), after.Vault.Balance(faucetX))
		require.Equal(t, acct.Nonce+1, after.Nonce)
		require.Equal(t, []account.FungibleAsset{asset(t, faucetX, 50)}, tx.Delta.Vault.Added)
		require.Empty(t, tx.Unclaimed)
		require.Equal(t, []field.Word{n.Nullifier()}, tx.Nullifiers)
		require.Equal(t, acct.Commitment(), tx.InitialCommitment)
		require.Len(t, tx.Traces, 1)
		require.Positive(t, tx.Cycles())
	})

	t.Run("Wrong secret aborts without changes", func(t *testing.T) {
		before := s.accounts[acct.ID].Commitment()
		tx, err := exec.Execute(ctx, consume(acct, badGuess, n))
		require.Nil(t, tx)
		var te *Error
		require.True(t, errors.As(err, &te))
		require.Equal(t, Executing, te.State)
		require.Equal(t, 0, te.NoteIndex)
		require.Equal(t, n.ID(), te.NoteID)
		tag, ok := te.AssertionTag()
		require.True(t, ok)
		require.Equal(t, stdnotes.TagWrongSecret, tag)
		require.Equal(t, before, s.accounts[acct.ID].Commitment())
		require.Zero(t, s.accounts[acct.ID].Vault.Balance(faucetX))
		require.Zero(t, s.accounts[acct.ID].Nonce)
	})

	t.Run("Evaluation is deterministic", func(t *testing.T) {
		a, err := exec.Execute(ctx, consume(acct, secret, n))
		require.NoError(t, err)
		b, err := exec.Execute(ctx, consume(acct, secret, n))
		require.NoError(t, err)
		require.Equal(t, a.ID, b.ID)
		require.Equal(t, a.Delta, b.Delta)
		require.Equal(t, a.TraceCommitment(), b.TraceCommitment())

		_, errA := exec.Execute(ctx, consume(acct, badGuess, n))
		_, errB := exec.Execute(ctx, consume(acct, badGuess, n))
		require.Equal(t, errA.Error(), errB.Error())
	})

	t.Run("Several notes increment the nonce once", func(t *testing.T) {
		other := hashGateNote(t, s, 2, asset(t, faucetX, 25), asset(t, faucetY, 7))
		tx, err := exec.Execute(ctx, consume(acct, secret, n, other))
		require.NoError(t, err)
		after := applied(t, acct, tx)
		require.Equal(t, uint64(75), after.Vault.Balance(faucetX))
		require.Equal(t, uint64(7), after.Vault.Balance(faucetY))
		require.Equal(t, uint64(1), after.Nonce)
		require.Equal(t, uint64(1), tx.Delta.NonceIncrement)
	})

	t.Run("Account without a wallet cannot receive", func(t *testing.T) {
		bare := newAccount(t, s, 2, nil)
		_, err := exec.Execute(ctx, consume(bare, secret, n))
		require.ErrorIs(t, err, vm.ErrUnknownCapability)
	})
}

func TestNoTransfer(t *testing.T) {
	s := newMemStore()
	acct := newAccount(t, s, 1, stdnotes.BasicWalletCode(), asset(t, faucetX, 10))
	n, err := stdnotes.NewNoTransferNote(sender, secret, field.NewWord(9, 0, 0, 0), asset(t, faucetX, 50))
	require.NoError(t, err)
	addNote(s, n)

	tx, err := NewExecutor(s).Execute(context.Background(), consume(acct, secret, n))
	require.NoError(t, err)
	after := applied(t, acct, tx)
	require.Equal(t, uint64(1), after.Nonce)
	require.True(t, acct.Vault.Equal(after.Vault))
	require.True(t, tx.Delta.IsEmpty())
	require.Equal(t, []UnclaimedAssets{{NoteID: n.ID(), Assets: []account.FungibleAsset{asset(t, faucetX, 50)}}}, tx.Unclaimed)
}

func TestAbortIsAtomic(t *testing.T) {
	ctx := context.Background()
	s := newMemStore()
	acct := newAccount(t, s, 1, stdnotes.BasicWalletCode(), asset(t, faucetX, 5))
	paid := hashGateNote(t, s, 1, asset(t, faucetX, 50))
	locked := hashGateNote(t, s, 2, asset(t, faucetY, 20))
	stored, err := s.accounts[acct.ID].MarshalBinary()
	require.NoError(t, err)
	exec := NewExecutor(s)

	req := &Request{AccountID: acct.ID, InputNotes: []InputNote{
		{Note: paid, Args: secret},
		{Note: locked, Args: badGuess},
	}}
	tx, err := exec.Execute(ctx, req)
	require.Nil(t, tx)
	var te *Error
	require.True(t, errors.As(err, &te))
	require.Equal(t, Executing, te.State)
	require.Equal(t, 1, te.NoteIndex)
	require.Equal(t, locked.ID(), te.NoteID)
	tag, ok := te.AssertionTag()
	require.True(t, ok)
	require.Equal(t, stdnotes.TagWrongSecret, tag)

	// the deposit of the first note never reaches the stored account
	data, err := s.accounts[acct.ID].MarshalBinary()
	require.NoError(t, err)
	require.Equal(t, stored, data)
	require.Equal(t, uint64(5), s.accounts[acct.ID].Vault.Balance(faucetX))
	require.Equal(t, acct.Nonce, s.accounts[acct.ID].Nonce)
	require.Empty(t, s.consumed)

	req.InputNotes[1].Args = secret
	tx, err = exec.Execute(ctx, req)
	require.NoError(t, err)
	after := applied(t, acct, tx)
	require.Equal(t, uint64(55), after.Vault.Balance(faucetX))
	require.Equal(t, uint64(20), after.Vault.Balance(faucetY))
	require.Equal(t, acct.Nonce+1, after.Nonce)
}

func TestPreconditions(t *testing.T) {
	ctx := context.Background()
	s := newMemStore()
	acct := newAccount(t, s, 1, stdnotes.BasicWalletCode())
	n := hashGateNote(t, s, 1, asset(t, faucetX, 50))
	exec := NewExecutor(s)

	rejected := func(t *testing.T, err error, target error) *Error {
		t.Helper()
		require.ErrorIs(t, err, target)
		var te *Error
		require.True(t, errors.As(err, &te))
		require.Equal(t, Pending, te.State)
		return te
	}

	t.Run("No notes", func(t *testing.T) {
		_, err := exec.Execute(ctx, &Request{AccountID: acct.ID})
		rejected(t, err, ErrNoInputNotes)
	})

	t.Run("Unknown account", func(t *testing.T) {
		_, err := exec.Execute(ctx, &Request{AccountID: faucetY, InputNotes: []InputNote{{Note: n, Args: secret}}})
		require.Error(t, err)
	})

	t.Run("Duplicate note", func(t *testing.T) {
		_, err := exec.Execute(ctx, consume(acct, secret, n, n))
		te := rejected(t, err, ErrDuplicateNote)
		require.Equal(t, 1, te.NoteIndex)
	})

	t.Run("Consumed note", func(t *testing.T) {
		spent := hashGateNote(t, s, 2, asset(t, faucetX, 1))
		s.consumed[spent.Nullifier()] = true
		_, err := exec.Execute(ctx, consume(acct, secret, n, spent))
		te := rejected(t, err, ErrNoteAlreadyConsumed)
		require.Equal(t, 1, te.NoteIndex)
		require.Equal(t, spent.ID(), te.NoteID)
	})

	t.Run("Unknown note", func(t *testing.T) {
		unknown, err := stdnotes.NewHashGateNote(sender, secret, field.NewWord(3, 0, 0, 0), asset(t, faucetX, 1))
		require.NoError(t, err)
		_, err = exec.Execute(ctx, consume(acct, secret, unknown))
		rejected(t, err, ErrUnknownNote)

		tx, err := NewExecutor(s, WithUnauthenticatedNotes()).Execute(ctx, consume(acct, secret, unknown))
		require.NoError(t, err)
		require.Equal(t, uint64(1), applied(t, acct, tx).Vault.Balance(faucetX))
	})

	t.Run("Execution hint", func(t *testing.T) {
		inputs, err := note.NewInputs(nil)
		require.NoError(t, err)
		recipient, err := note.NewRecipient(field.NewWord(4, 0, 0, 0), stdnotes.NoTransferScript(), inputs)
		require.NoError(t, err)
		assets, err := note.NewAssets()
		require.NoError(t, err)
		late, err := note.New(assets, note.Metadata{Sender: sender, Type: note.Public, ExecutionHint: note.AfterBlock(10)}, recipient)
		require.NoError(t, err)
		addNote(s, late)

		req := consume(acct, secret, late)
		req.ReferenceBlock = 9
		_, err = exec.Execute(ctx, req)
		rejected(t, err, ErrNoteNotConsumable)
	})
}

func TestNoteScripts(t *testing.T) {
	ctx := context.Background()
	s := newMemStore()
	code := stdnotes.BasicWalletCode(stdnotes.CounterLibrary())
	alice := newAccount(t, s, 1, code, asset(t, faucetX, 30))
	bob := newAccount(t, s, 2, code)
	exec := NewExecutor(s)

	t.Run("Pay to id", func(t *testing.T) {
		n, err := stdnotes.NewP2IDNote(sender, bob.ID, field.NewWord(1, 1, 0, 0), asset(t, faucetX, 5))
		require.NoError(t, err)
		addNote(s, n)

		_, err = exec.Execute(ctx, consume(alice, field.EmptyWord, n))
		tag, ok := vm.AssertionTag(err)
		require.True(t, ok)
		require.Equal(t, stdnotes.TagWrongTargetAccount, tag)

		tx, err := exec.Execute(ctx, consume(bob, field.EmptyWord, n))
		require.NoError(t, err)
		require.Equal(t, uint64(5), applied(t, bob, tx).Vault.Balance(faucetX))
	})

	t.Run("Counter", func(t *testing.T) {
		first, err := stdnotes.NewIncrementNote(sender, field.NewWord(2, 1, 0, 0))
		require.NoError(t, err)
		second, err := stdnotes.NewIncrementNote(sender, field.NewWord(2, 2, 0, 0))
		require.NoError(t, err)
		addNote(s, first)
		addNote(s, second)

		tx, err := exec.Execute(ctx, consume(alice, field.EmptyWord, first, second))
		require.NoError(t, err)
		after := applied(t, alice, tx)
		count, err := after.Storage.GetItem(0)
		require.NoError(t, err)
		require.Equal(t, field.NewWord(2, 0, 0, 0), count)
		require.Equal(t, []account.ValueUpdate{{Index: 0, Value: field.NewWord(2, 0, 0, 0)}}, tx.Delta.Storage.Values)
	})

	t.Run("Output notes are paid from the vault", func(t *testing.T) {
		in := hashGateNote(t, s, 7, asset(t, faucetX, 50))
		out, err := stdnotes.NewP2IDNote(alice.ID, bob.ID, field.NewWord(3, 1, 0, 0), asset(t, faucetX, 70))
		require.NoError(t, err)

		req := consume(alice, secret, in)
		req.OutputNotes = []*note.Note{out}
		tx, err := exec.Execute(ctx, req)
		require.NoError(t, err)
		after := applied(t, alice, tx)
		require.Equal(t, uint64(10), after.Vault.Balance(faucetX))
		require.Equal(t, []account.FungibleAsset{asset(t, faucetX, 20)}, tx.Delta.Vault.Removed)

		tooMuch, err := stdnotes.NewP2IDNote(alice.ID, bob.ID, field.NewWord(3, 2, 0, 0), asset(t, faucetX, 81))
		require.NoError(t, err)
		req.OutputNotes = []*note.Note{tooMuch}
		_, err = exec.Execute(ctx, req)
		require.ErrorIs(t, err, account.ErrInsufficientBalance)

		req.OutputNotes = []*note.Note{out, out}
		_, err = exec.Execute(ctx, req)
		require.ErrorIs(t, err, ErrDuplicateOutputNote)
	})
}

func TestCancellation(t *testing.T) {
	s := newMemStore()
	acct := newAccount(t, s, 1, stdnotes.BasicWalletCode())
	n := hashGateNote(t, s, 1, asset(t, faucetX, 50))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewExecutor(s).Execute(ctx, consume(acct, secret, n))
	require.ErrorIs(t, err, context.Canceled)
	var te *Error
	require.True(t, errors.As(err, &te))
	require.Equal(t, Executing, te.State)
}

func TestCycleLimit(t *testing.T) {
	s := newMemStore()
	acct := newAccount(t, s, 1, stdnotes.BasicWalletCode())
	n := hashGateNote(t, s, 1, asset(t, faucetX, 50))

	_, err := NewExecutor(s, WithMaxCycles(5)).Execute(context.Background(), consume(acct, secret, n))
	require.ErrorIs(t, err, vm.ErrCycleLimit)
}

func TestExecuteBatch(t *testing.T) {
	s := newMemStore()
	var reqs []*Request
	for i := uint64(1); i <= 5; i++ {
		acct := newAccount(t, s, i, stdnotes.BasicWalletCode())
		n := hashGateNote(t, s, i, asset(t, faucetX, 10*i))
		args := secret
		if i == 3 {
			args = badGuess
		}
		reqs = append(reqs, consume(acct, args, n))
	}

	results, err := NewExecutor(s, WithConcurrency(2)).ExecuteBatch(context.Background(), reqs)
	require.NoError(t, err)
	require.Len(t, results, len(reqs))
	for i, r := range results {
		if i == 2 {
			require.Error(t, r.Err)
			require.Nil(t, r.Tx)
			continue
		}
		require.NoError(t, r.Err)
		require.Equal(t, reqs[i].AccountID, r.Tx.AccountID)
		require.Equal(t, []account.FungibleAsset{asset(t, faucetX, 10*uint64(i+1))}, r.Tx.Delta.Vault.Added)
	}
}

func TestStorageMap(t *testing.T) {
	ctx := context.Background()
	s := newMemStore()
	storage, err := account.NewStorage(account.NewValueSlot(field.EmptyWord), account.NewMapSlot(nil))
	require.NoError(t, err)
	acct, err := account.New(account.NewID(field.NewWord(9, 0, 0, 0)), stdnotes.BasicWalletCode(stdnotes.MappingLibrary()), storage)
	require.NoError(t, err)
	s.accounts[acct.ID] = acct
	exec := NewExecutor(s)

	key := field.NewWord(1, 2, 3, 4)
	first := field.NewWord(5, 6, 7, 8)
	second := field.NewWord(9, 10, 11, 12)
	mapRoot := func(a *account.Account) field.Word {
		slot, err := a.Storage.Slot(stdnotes.MappingSlot)
		require.NoError(t, err)
		return slot.Map.Root()
	}
	update := func(serial uint64, value, old field.Word) *note.Note {
		n, err := stdnotes.NewMapUpdateNote(sender, key, value, old, field.NewWord(serial, 9, 0, 0))
		require.NoError(t, err)
		return addNote(s, n)
	}

	t.Run("Write to an empty map", func(t *testing.T) {
		tx, err := exec.Execute(ctx, consume(acct, field.EmptyWord, update(1, first, field.EmptyWord)))
		require.NoError(t, err)
		require.Equal(t, []account.MapUpdate{{Index: stdnotes.MappingSlot, Key: key, Value: first}}, tx.Delta.Storage.Maps)
		require.Empty(t, tx.Delta.Storage.Values)

		after := applied(t, acct, tx)
		value, err := after.Storage.GetMapItem(stdnotes.MappingSlot, key)
		require.NoError(t, err)
		require.Equal(t, first, value)
		s.accounts[acct.ID] = after
	})

	t.Run("Overwrite leaves the old root above the old value", func(t *testing.T) {
		before := s.accounts[acct.ID]
		oldRoot := mapRoot(before)
		require.NotEqual(t, field.EmptyWord, oldRoot)

		tx, err := exec.Execute(ctx, consume(before, oldRoot, update(2, second, first)))
		require.NoError(t, err)
		require.Equal(t, []account.MapUpdate{{Index: stdnotes.MappingSlot, Key: key, Value: second}}, tx.Delta.Storage.Maps)
		after := applied(t, before, tx)
		require.NotEqual(t, oldRoot, mapRoot(after))
	})

	t.Run("Wrong old value", func(t *testing.T) {
		before := s.accounts[acct.ID]
		_, err := exec.Execute(ctx, consume(before, mapRoot(before), update(3, second, field.EmptyWord)))
		tag, ok := vm.AssertionTag(err)
		require.True(t, ok)
		require.Equal(t, stdnotes.TagWrongOldMapValue, tag)
	})

	t.Run("Wrong old root", func(t *testing.T) {
		_, err := exec.Execute(ctx, consume(acct, first, update(4, second, first)))
		tag, ok := vm.AssertionTag(err)
		require.True(t, ok)
		require.Equal(t, stdnotes.TagWrongOldMapRoot, tag)
	})

	t.Run("Map slot required", func(t *testing.T) {
		plain := newAccount(t, s, 10, stdnotes.BasicWalletCode(stdnotes.MappingLibrary()))
		_, err := exec.Execute(ctx, consume(plain, field.EmptyWord, update(5, first, field.EmptyWord)))
		require.ErrorIs(t, err, account.ErrSlotIndex)
	})
}
