package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"notevm/internal/account"
	"notevm/internal/field"
	"notevm/internal/metrics"
	"notevm/internal/note"
	"notevm/internal/stdnotes"
	"notevm/internal/txexec"
)

var (
	faucet = account.NewID(field.NewWord(100, 0, 0, 0))
	sender = account.NewID(field.NewWord(200, 0, 0, 0))
	secret = field.NewWord(1, 2, 3, 4)
)

type fixture struct {
	ledger *Ledger
	acct   *account.Account
	exec   *txexec.Executor
}

func setup(t *testing.T, l *Ledger) *fixture {
	t.Helper()
	acct, err := account.New(account.NewID(field.NewWord(1, 0, 0, 0)), stdnotes.BasicWalletCode(), nil)
	require.NoError(t, err)
	require.NoError(t, l.CreateAccount(acct))
	return &fixture{ledger: l, acct: acct, exec: txexec.NewExecutor(l)}
}

func (f *fixture) gateNote(t *testing.T, serial, amount uint64) *note.Note {
	t.Helper()
	a, err := account.NewFungibleAsset(faucet, amount)
	require.NoError(t, err)
	n, err := stdnotes.NewHashGateNote(sender, secret, field.NewWord(serial, 0, 0, 0), a)
	require.NoError(t, err)
	require.NoError(t, f.ledger.AddNote(n))
	return n
}

func (f *fixture) execute(t *testing.T, notes ...*note.Note) *txexec.ExecutedTransaction {
	t.Helper()
	req := &txexec.Request{AccountID: f.acct.ID, ReferenceBlock: f.ledger.Height()}
	for _, n := range notes {
		req.InputNotes = append(req.InputNotes, txexec.InputNote{Note: n, Args: secret})
	}
	tx, err := f.exec.Execute(context.Background(), req)
	require.NoError(t, err)
	return tx
}

func TestCommit(t *testing.T) {
	m := metrics.NewCollector()
	l, err := OpenMemory(WithMetrics(m), WithCacheSize(2))
	require.NoError(t, err)
	defer l.Close()
	f := setup(t, l)

	first := f.gateNote(t, 1, 50)
	second := f.gateNote(t, 2, 20)

	t.Run("Commit applies the delta", func(t *testing.T) {
		tx := f.execute(t, first)
		rec, err := l.Commit(tx)
		require.NoError(t, err)
		require.Equal(t, uint32(1), rec.Height)
		require.Equal(t, uint32(1), l.Height())

		got, err := l.GetAccountState(f.acct.ID)
		require.NoError(t, err)
		require.Equal(t, uint64(50), got.Vault.Balance(faucet))
		require.Equal(t, uint64(1), got.Nonce)
		require.Equal(t, tx.FinalCommitment, got.Commitment())

		consumed, err := l.IsConsumed(first.Nullifier())
		require.NoError(t, err)
		require.True(t, consumed)
		by, err := l.ConsumedBy(first.Nullifier())
		require.NoError(t, err)
		require.Equal(t, tx.ID, by)

		status, err := l.TransactionStatus(tx.ID)
		require.NoError(t, err)
		require.Equal(t, txexec.Committed, status)
		stored, err := l.Transaction(tx.ID)
		require.NoError(t, err)
		require.Equal(t, tx.Nullifiers, stored.Nullifiers)
		require.Equal(t, tx.Delta.Vault, stored.Delta.Vault)
	})

	t.Run("Consumed notes are rejected before execution", func(t *testing.T) {
		_, err := f.exec.Execute(context.Background(), &txexec.Request{
			AccountID:  f.acct.ID,
			InputNotes: []txexec.InputNote{{Note: first, Args: secret}},
		})
		require.ErrorIs(t, err, ErrNoteAlreadyConsumed)
	})

	t.Run("Stale transactions are rejected", func(t *testing.T) {
		a := f.execute(t, second)
		third := f.gateNote(t, 3, 5)
		b := f.execute(t, third)

		_, err := l.Commit(a)
		require.NoError(t, err)
		_, err = l.Commit(b)
		require.ErrorIs(t, err, ErrStaleState)
		_, err = l.Commit(a)
		require.Error(t, err)

		got, err := l.GetAccountState(f.acct.ID)
		require.NoError(t, err)
		require.Equal(t, uint64(70), got.Vault.Balance(faucet))
		require.Equal(t, uint64(2), got.Nonce)

		status, err := l.TransactionStatus(b.ID)
		require.ErrorIs(t, err, ErrTransactionNotFound)
		require.Equal(t, txexec.Pending, status)
	})

	t.Run("Snapshots are independent", func(t *testing.T) {
		snap, err := l.GetAccountState(f.acct.ID)
		require.NoError(t, err)
		require.NoError(t, snap.Vault.Deposit(account.FungibleAsset{Issuer: faucet, Amount: 1000}))
		again, err := l.GetAccountState(f.acct.ID)
		require.NoError(t, err)
		require.Equal(t, uint64(70), again.Vault.Balance(faucet))
	})

	summary, err := m.Summary()
	require.NoError(t, err)
	require.Equal(t, float64(2), summary["noted_commits_total_outcome_committed"])
	require.Equal(t, float64(2), summary["noted_commits_total_outcome_rejected"])
	require.Equal(t, float64(1), summary["noted_accounts"])
}

func TestAbortedTransaction(t *testing.T) {
	l, err := OpenMemory()
	require.NoError(t, err)
	defer l.Close()
	f := setup(t, l)
	paid := f.gateNote(t, 1, 50)
	locked := f.gateNote(t, 2, 20)
	before, err := l.GetAccountState(f.acct.ID)
	require.NoError(t, err)
	stored, err := before.MarshalBinary()
	require.NoError(t, err)

	_, err = f.exec.Execute(context.Background(), &txexec.Request{
		AccountID: f.acct.ID,
		InputNotes: []txexec.InputNote{
			{Note: paid, Args: secret},
			{Note: locked, Args: field.NewWord(9, 9, 9, 9)},
		},
	})
	var te *txexec.Error
	require.ErrorAs(t, err, &te)
	require.Equal(t, 1, te.NoteIndex)

	got, err := l.GetAccountState(f.acct.ID)
	require.NoError(t, err)
	data, err := got.MarshalBinary()
	require.NoError(t, err)
	require.Equal(t, stored, data)
	require.Equal(t, uint32(0), l.Height())
	for _, n := range []*note.Note{paid, locked} {
		consumed, err := l.IsConsumed(n.Nullifier())
		require.NoError(t, err)
		require.False(t, consumed)
	}
}

func TestOutputNotes(t *testing.T) {
	l, err := OpenMemory()
	require.NoError(t, err)
	defer l.Close()
	f := setup(t, l)
	in := f.gateNote(t, 1, 50)

	target := account.NewID(field.NewWord(2, 0, 0, 0))
	a, err := account.NewFungibleAsset(faucet, 30)
	require.NoError(t, err)
	out, err := stdnotes.NewP2IDNote(f.acct.ID, target, field.NewWord(9, 9, 0, 0), a)
	require.NoError(t, err)

	tx, err := f.exec.Execute(context.Background(), &txexec.Request{
		AccountID:   f.acct.ID,
		InputNotes:  []txexec.InputNote{{Note: in, Args: secret}},
		OutputNotes: []*note.Note{out},
	})
	require.NoError(t, err)
	_, err = l.Commit(tx)
	require.NoError(t, err)

	stored, err := l.GetNote(out.ID())
	require.NoError(t, err)
	require.Equal(t, out.ID(), stored.ID())
	known, err := l.HasNote(out.ID())
	require.NoError(t, err)
	require.True(t, known)

	got, err := l.GetAccountState(f.acct.ID)
	require.NoError(t, err)
	require.Equal(t, uint64(20), got.Vault.Balance(faucet))
}

func TestAccounts(t *testing.T) {
	l, err := OpenMemory()
	require.NoError(t, err)
	defer l.Close()
	f := setup(t, l)

	require.ErrorIs(t, l.CreateAccount(f.acct), ErrAccountExists)
	_, err = l.GetAccountState(faucet)
	require.ErrorIs(t, err, ErrAccountNotFound)
	_, err = l.GetNote(field.NewWord(1, 1, 1, 1))
	require.ErrorIs(t, err, ErrNoteNotFound)

	n := f.gateNote(t, 1, 1)
	require.ErrorIs(t, l.AddNote(n), ErrNoteExists)

	t.Run("ApplyDelta", func(t *testing.T) {
		d := &account.Delta{
			AccountID:      f.acct.ID,
			Vault:          account.VaultDelta{Added: []account.FungibleAsset{{Issuer: faucet, Amount: 9}}},
			NonceIncrement: 1,
		}
		require.NoError(t, l.ApplyDelta(d))
		got, err := l.GetAccountState(f.acct.ID)
		require.NoError(t, err)
		require.Equal(t, uint64(9), got.Vault.Balance(faucet))

		d.NonceIncrement = 0
		require.ErrorIs(t, l.ApplyDelta(d), account.ErrNonceNotIncremented)
	})
}

func TestReopen(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir)
	require.NoError(t, err)
	f := setup(t, l)
	tx := f.execute(t, f.gateNote(t, 1, 50))
	_, err = l.Commit(tx)
	require.NoError(t, err)
	require.NoError(t, l.Close())

	l, err = Open(dir)
	require.NoError(t, err)
	defer l.Close()
	require.Equal(t, uint32(1), l.Height())
	got, err := l.GetAccountState(f.acct.ID)
	require.NoError(t, err)
	require.Equal(t, tx.FinalCommitment, got.Commitment())
	status, err := l.TransactionStatus(tx.ID)
	require.NoError(t, err)
	require.Equal(t, txexec.Committed, status)
}
