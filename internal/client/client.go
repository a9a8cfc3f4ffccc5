// client.go - Participant facing API: execute, prove and commit transactions.
//
// A Client bundles everything one participant needs to consume notes: the ledger it commits to,
// the executor that evaluates note scripts, an optional prover and the participant's wallet.
// Nothing here is global; every dependency is passed in, and every blocking call takes a
// context whose deadline bounds it.

package client

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"notevm/internal/field"
	"notevm/internal/ledger"
	"notevm/internal/prover"
	"notevm/internal/txexec"
	"notevm/internal/wallet"
)

// ErrNoWallet is returned by the wallet based helpers when the client has none.
var ErrNoWallet = errors.New("client has no wallet")

// Status is the outcome of a submission.
type Status uint8

const (
	// Committed: the ledger applied the transaction.
	Committed Status = iota
	// Pending: the outcome is unknown, as when a call to a remote node times out.
	Pending
	// Failed: the transaction was rejected and nothing changed.
	Failed
)

func (s Status) String() string {
	switch s {
	case Committed:
		return "committed"
	case Pending:
		return "pending"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	for _, candidate := range []Status{Committed, Pending, Failed} {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return errors.Errorf("unknown status %q", text)
}

// StatusOf maps the error of a local evaluation or commit to a submission status. Commit is the
// only step that changes the ledger and it either applies or returns an error, so a local
// submission is never left pending: a context that ends before Commit fails it.
func StatusOf(err error) Status {
	if err == nil {
		return Committed
	}
	return Failed
}

// Result is the outcome of a submission. Err is set unless Status is Committed.
type Result struct {
	Status Status
	Tx     *txexec.ExecutedTransaction
	Proof  *prover.ProvenTransaction
	Record *ledger.TxRecord
	Err    error
}

type verifier interface {
	Verify(*prover.ProvenTransaction) error
}

// Option configures a Client.
type Option func(*Client)

// WithProver proves transactions before they are committed.
func WithProver(p prover.Prover) Option {
	return func(c *Client) { c.prover = p }
}

// WithWallet sets the participant wallet.
func WithWallet(w *wallet.Wallet) Option {
	return func(c *Client) { c.wallet = w }
}

// WithLogger sets the client logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithExecutor replaces the default executor over the ledger.
func WithExecutor(e *txexec.Executor) Option {
	return func(c *Client) { c.executor = e }
}

// Client executes, proves and commits transactions for one participant.
type Client struct {
	ledger   *ledger.Ledger
	executor *txexec.Executor
	prover   prover.Prover
	wallet   *wallet.Wallet
	log      zerolog.Logger
}

// New creates a client over a ledger.
func New(l *ledger.Ledger, opts ...Option) *Client {
	c := &Client{ledger: l, log: zerolog.Nop()}
	for _, o := range opts {
		o(c)
	}
	if c.executor == nil {
		c.executor = txexec.NewExecutor(l, txexec.WithLogger(c.log))
	}
	return c
}

// Wallet returns the participant wallet, if any.
func (c *Client) Wallet() *wallet.Wallet { return c.wallet }

// NewTransaction evaluates a request against the current ledger state.
func (c *Client) NewTransaction(ctx context.Context, req *txexec.Request) (*txexec.ExecutedTransaction, error) {
	return c.executor.Execute(ctx, req)
}

// SubmitTransaction proves the transaction when a prover is set and commits it. Notes the
// wallet knows are marked consumed once committed.
func (c *Client) SubmitTransaction(ctx context.Context, tx *txexec.ExecutedTransaction) Result {
	res := Result{Tx: tx}
	fail := func(err error) Result {
		res.Status, res.Err = StatusOf(err), err
		c.log.Warn().Err(err).Str("tx", tx.ID.String()).Stringer("status", res.Status).Msg("submission not committed")
		return res
	}

	if c.prover != nil {
		proven, err := c.prover.Prove(ctx, tx)
		if err != nil {
			return fail(err)
		}
		if v, ok := c.prover.(verifier); ok {
			if err := v.Verify(proven); err != nil {
				return fail(err)
			}
		}
		res.Proof = proven
	}
	if err := ctx.Err(); err != nil {
		return fail(err)
	}
	rec, err := c.ledger.Commit(tx)
	if err != nil {
		return fail(err)
	}
	res.Status, res.Record = Committed, rec

	if c.wallet != nil {
		for _, in := range tx.InputNotes {
			if err := c.wallet.MarkConsumed(in.Note.ID()); err != nil && !errors.Is(err, wallet.ErrNoteUnknown) {
				c.log.Error().Err(err).Msg("updating wallet")
			}
		}
	}
	return res
}

// ConsumeNotes consumes wallet notes into the wallet's account in one transaction. With no ids
// every unconsumed note is consumed.
func (c *Client) ConsumeNotes(ctx context.Context, ids ...field.Word) Result {
	if c.wallet == nil {
		return Result{Status: Failed, Err: ErrNoWallet}
	}
	req := &txexec.Request{AccountID: c.wallet.AccountID, ReferenceBlock: c.ledger.Height()}
	if len(ids) == 0 {
		req.InputNotes = c.wallet.Unconsumed()
	}
	for _, id := range ids {
		in, err := c.wallet.InputNote(id)
		if err != nil {
			return Result{Status: Failed, Err: err}
		}
		req.InputNotes = append(req.InputNotes, in)
	}
	tx, err := c.NewTransaction(ctx, req)
	if err != nil {
		return Result{Status: StatusOf(err), Err: err}
	}
	return c.SubmitTransaction(ctx, tx)
}

// ConsumeNote consumes one wallet note.
func (c *Client) ConsumeNote(ctx context.Context, id field.Word) Result {
	return c.ConsumeNotes(ctx, id)
}

// Refresh reconciles the wallet with the ledger's nullifier set.
func (c *Client) Refresh() (int, error) {
	if c.wallet == nil {
		return 0, ErrNoWallet
	}
	return c.wallet.Refresh(c.ledger)
}
