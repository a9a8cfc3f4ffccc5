package client

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"notevm/internal/account"
	"notevm/internal/field"
	"notevm/internal/ledger"
	"notevm/internal/note"
	"notevm/internal/prover"
	"notevm/internal/stdnotes"
	"notevm/internal/txexec"
	"notevm/internal/wallet"
)

type fakeProver struct {
	proved  int
	reject  error
	onProve func()
}

func (p *fakeProver) Prove(ctx context.Context, tx *txexec.ExecutedTransaction) (*prover.ProvenTransaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.proved++
	if p.onProve != nil {
		p.onProve()
	}
	return &prover.ProvenTransaction{Tx: tx, TraceCommitment: tx.TraceCommitment()}, nil
}

func (p *fakeProver) Verify(*prover.ProvenTransaction) error { return p.reject }

var (
	faucet = account.NewID(field.NewWord(100, 0, 0, 0))
	secret = field.NewWord(1, 2, 3, 4)
)

type env struct {
	ledger *ledger.Ledger
	alice  *account.Account
}

func newEnv(t *testing.T) *env {
	t.Helper()
	l, err := ledger.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	alice, err := account.New(account.NewID(field.NewWord(1, 0, 0, 0)), stdnotes.BasicWalletCode(), nil)
	require.NoError(t, err)
	require.NoError(t, l.CreateAccount(alice))
	return &env{ledger: l, alice: alice}
}

func (e *env) gateNote(t *testing.T, serial, amount uint64) *note.Note {
	t.Helper()
	a, err := account.NewFungibleAsset(faucet, amount)
	require.NoError(t, err)
	n, err := stdnotes.NewHashGateNote(faucet, secret, field.NewWord(serial, 0, 0, 0), a)
	require.NoError(t, err)
	require.NoError(t, e.ledger.AddNote(n))
	return n
}

func (e *env) balance(t *testing.T) uint64 {
	t.Helper()
	a, err := e.ledger.GetAccountState(e.alice.ID)
	require.NoError(t, err)
	return a.Vault.Balance(faucet)
}

func TestConsumeNote(t *testing.T) {
	e := newEnv(t)
	n := e.gateNote(t, 1, 50)
	w := wallet.New("alice", e.alice.ID)
	require.NoError(t, w.AddNote(n, secret))
	p := &fakeProver{}
	c := New(e.ledger, WithWallet(w), WithProver(p))

	res := c.ConsumeNote(context.Background(), n.ID())
	require.NoError(t, res.Err)
	require.Equal(t, Committed, res.Status)
	require.NotNil(t, res.Proof)
	require.Equal(t, uint32(1), res.Record.Height)
	require.Equal(t, 1, p.proved)
	require.Equal(t, uint64(50), e.balance(t))
	require.Empty(t, w.Unconsumed())

	again := c.ConsumeNote(context.Background(), n.ID())
	require.Equal(t, Failed, again.Status)
	require.ErrorIs(t, again.Err, txexec.ErrNoteAlreadyConsumed)
}

func TestConsumeNotes(t *testing.T) {
	e := newEnv(t)
	w := wallet.New("alice", e.alice.ID)
	for i := uint64(1); i <= 3; i++ {
		require.NoError(t, w.AddNote(e.gateNote(t, i, 10*i), secret))
	}
	c := New(e.ledger, WithWallet(w))

	res := c.ConsumeNotes(context.Background())
	require.Equal(t, Committed, res.Status)
	require.Len(t, res.Tx.Nullifiers, 3)
	require.Equal(t, uint64(60), e.balance(t))
	require.Empty(t, w.Unconsumed())
}

func TestSubmissionOutcomes(t *testing.T) {
	t.Run("Wrong secret fails", func(t *testing.T) {
		e := newEnv(t)
		n := e.gateNote(t, 1, 50)
		w := wallet.New("alice", e.alice.ID)
		require.NoError(t, w.AddNote(n, field.NewWord(9, 9, 9, 9)))
		res := New(e.ledger, WithWallet(w)).ConsumeNote(context.Background(), n.ID())
		require.Equal(t, Failed, res.Status)
		var txErr *txexec.Error
		require.True(t, errors.As(res.Err, &txErr))
		tag, ok := txErr.AssertionTag()
		require.True(t, ok)
		require.Equal(t, stdnotes.TagWrongSecret, tag)
		require.Len(t, w.Unconsumed(), 1)
	})

	t.Run("Context ending before commit fails", func(t *testing.T) {
		e := newEnv(t)
		n := e.gateNote(t, 1, 50)
		w := wallet.New("alice", e.alice.ID)
		require.NoError(t, w.AddNote(n, secret))
		c := New(e.ledger, WithWallet(w))

		tx, err := c.NewTransaction(context.Background(), &txexec.Request{
			AccountID:  e.alice.ID,
			InputNotes: w.Unconsumed(),
		})
		require.NoError(t, err)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		res := c.SubmitTransaction(ctx, tx)
		require.Equal(t, Failed, res.Status)
		require.ErrorIs(t, res.Err, context.Canceled)
		require.Zero(t, e.balance(t))
		require.Len(t, w.Unconsumed(), 1)

		// the context ends once the proof is done
		ctx, cancel = context.WithCancel(context.Background())
		p := &fakeProver{onProve: cancel}
		res = New(e.ledger, WithWallet(w), WithProver(p)).SubmitTransaction(ctx, tx)
		require.Equal(t, Failed, res.Status)
		require.ErrorIs(t, res.Err, context.Canceled)
		require.Equal(t, 1, p.proved)
		require.Zero(t, e.balance(t))

		res = c.SubmitTransaction(context.Background(), tx)
		require.Equal(t, Committed, res.Status)
	})

	t.Run("Stale transaction fails", func(t *testing.T) {
		e := newEnv(t)
		c := New(e.ledger)
		var txs []*txexec.ExecutedTransaction
		for i := uint64(1); i <= 2; i++ {
			tx, err := c.NewTransaction(context.Background(), &txexec.Request{
				AccountID:  e.alice.ID,
				InputNotes: []txexec.InputNote{{Note: e.gateNote(t, i, 5), Args: secret}},
			})
			require.NoError(t, err)
			txs = append(txs, tx)
		}
		require.Equal(t, Committed, c.SubmitTransaction(context.Background(), txs[0]).Status)
		res := c.SubmitTransaction(context.Background(), txs[1])
		require.Equal(t, Failed, res.Status)
		require.ErrorIs(t, res.Err, ledger.ErrStaleState)
	})

	t.Run("Rejected proof fails", func(t *testing.T) {
		e := newEnv(t)
		n := e.gateNote(t, 1, 50)
		w := wallet.New("alice", e.alice.ID)
		require.NoError(t, w.AddNote(n, secret))
		res := New(e.ledger, WithWallet(w), WithProver(&fakeProver{reject: prover.ErrInvalidProof})).
			ConsumeNote(context.Background(), n.ID())
		require.Equal(t, Failed, res.Status)
		require.ErrorIs(t, res.Err, prover.ErrInvalidProof)
		require.Zero(t, e.balance(t))
	})
}

func TestRefresh(t *testing.T) {
	e := newEnv(t)
	n := e.gateNote(t, 1, 50)

	alice := New(e.ledger, WithWallet(wallet.New("alice", e.alice.ID)))
	bob := New(e.ledger, WithWallet(wallet.New("bob", account.NewID(field.NewWord(2, 0, 0, 0)))))
	require.NoError(t, alice.Wallet().AddNote(n, secret))
	require.NoError(t, bob.Wallet().AddNote(n, secret))

	require.Equal(t, Committed, alice.ConsumeNote(context.Background(), n.ID()).Status)
	changed, err := bob.Refresh()
	require.NoError(t, err)
	require.Equal(t, 1, changed)
	require.Empty(t, bob.Wallet().Unconsumed())

	_, err = New(e.ledger).Refresh()
	require.ErrorIs(t, err, ErrNoWallet)
}

func TestStatus(t *testing.T) {
	for _, s := range []Status{Committed, Pending, Failed} {
		text, err := s.MarshalText()
		require.NoError(t, err)
		var got Status
		require.NoError(t, got.UnmarshalText(text))
		require.Equal(t, s, got)
	}
	require.Equal(t, Committed, StatusOf(nil))
	require.Equal(t, Failed, StatusOf(errors.Wrap(context.DeadlineExceeded, "commit")))
	require.Equal(t, Failed, StatusOf(ledger.ErrStaleState))
}
