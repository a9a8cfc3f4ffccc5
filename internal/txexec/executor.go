// executor.go - Transaction evaluation.
//
// An evaluation moves Pending -> Executing -> Committed or Aborted. It reads an account snapshot
// from the store, runs the script of every input note in order against a private copy of that
// account and, when every script succeeds, returns the resulting delta with the nonce
// incremented by exactly one. Nothing is written anywhere: the store is only read, and an
// aborted evaluation leaves no trace.
//
// Evaluations of different requests share nothing but the store, so they may run concurrently.

package txexec

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"notevm/internal/account"
	"notevm/internal/field"
	"notevm/internal/metrics"
	"notevm/internal/vm"
)

// DefaultConcurrency bounds concurrent evaluations of ExecuteBatch.
const DefaultConcurrency = 8

// Store is the read side of the ledger.
type Store interface {
	GetAccountState(id account.ID) (*account.Account, error)
	IsConsumed(nullifier field.Word) (bool, error)
	HasNote(id field.Word) (bool, error)
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the executor logger.
func WithLogger(log zerolog.Logger) Option {
	return func(e *Executor) { e.log = log }
}

// WithMetrics records evaluations in a collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(e *Executor) { e.metrics = m }
}

// WithMaxCycles sets the cycle budget of each note script.
func WithMaxCycles(n uint64) Option {
	return func(e *Executor) { e.maxCycles = n }
}

// WithConcurrency bounds the evaluations ExecuteBatch runs at once.
func WithConcurrency(n int) Option {
	return func(e *Executor) { e.concurrency = n }
}

// WithUnauthenticatedNotes lets requests consume notes the store does not know, as long as
// they are not consumed.
func WithUnauthenticatedNotes() Option {
	return func(e *Executor) { e.unauthenticated = true }
}

// Executor evaluates transaction requests.
type Executor struct {
	store           Store
	log             zerolog.Logger
	metrics         *metrics.Collector
	maxCycles       uint64
	concurrency     int
	unauthenticated bool
}

// NewExecutor returns an executor reading from store.
func NewExecutor(store Store, opts ...Option) *Executor {
	e := &Executor{
		store:       store,
		log:         zerolog.Nop(),
		maxCycles:   vm.DefaultMaxCycles,
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute evaluates a request. Failures are returned as *Error. The context is checked before
// each note script runs; a script that has started always runs to completion.
func (e *Executor) Execute(ctx context.Context, req *Request) (*ExecutedTransaction, error) {
	start := time.Now()
	log := e.log.With().Str("account", req.AccountID.String()).Logger()

	tx, err := e.execute(ctx, req, log)
	if err != nil {
		e.metrics.RecordEvaluation(outcome(err), time.Since(start), 0, len(req.InputNotes))
		log.Info().Err(err).Msg("transaction aborted")
		return nil, err
	}
	e.metrics.RecordEvaluation(metrics.OutcomeCommitted, time.Since(start), tx.Cycles(), len(tx.Nullifiers))
	log.Info().
		Str("tx", tx.ID.String()).
		Int("notes", len(tx.Nullifiers)).
		Int("cycles", tx.Cycles()).
		Dur("elapsed", time.Since(start)).
		Msg("transaction executed")
	return tx, nil
}

func outcome(err error) string {
	var te *Error
	if errors.As(err, &te) && te.State == Pending {
		return metrics.OutcomeRejected
	}
	return metrics.OutcomeAborted
}

func (e *Executor) execute(ctx context.Context, req *Request, log zerolog.Logger) (*ExecutedTransaction, error) {
	before, nullifiers, err := e.prepare(req)
	if err != nil {
		return nil, err
	}

	// Executing: every change lands on the working copy only.
	working := before.Clone()
	tx := &ExecutedTransaction{
		AccountID:         req.AccountID,
		InitialCommitment: before.Commitment(),
		InputNotes:        req.InputNotes,
		Nullifiers:        nullifiers,
		ReferenceBlock:    req.ReferenceBlock,
	}
	for i, in := range req.InputNotes {
		fail := func(err error) error {
			return &Error{State: Executing, NoteIndex: i, NoteID: in.Note.ID(), Err: err}
		}
		if err := ctx.Err(); err != nil {
			return nil, fail(err)
		}
		host := newNoteHost(working, in.Note, log)
		tracer := vm.NewRecordingTracer(in.Note.Script().Root())
		proc := vm.NewProcess(in.Note.Script(), host,
			vm.WithTracer(tracer),
			vm.WithMaxCycles(e.maxCycles),
			vm.WithLogger(log),
		)
		if _, err := proc.Execute(in.Args[:]); err != nil {
			return nil, fail(err)
		}
		tx.Traces = append(tx.Traces, tracer.Trace())
		if left := host.unclaimed(); len(left) > 0 {
			tx.Unclaimed = append(tx.Unclaimed, UnclaimedAssets{NoteID: in.Note.ID(), Assets: left})
		}
		log.Debug().
			Str("note", in.Note.ID().String()).
			Uint64("cycles", proc.Clk()).
			Msg("note consumed")
	}

	seen := make(map[field.Word]struct{}, len(req.OutputNotes))
	for _, out := range req.OutputNotes {
		if _, dup := seen[out.ID()]; dup {
			return nil, &Error{State: Executing, NoteIndex: -1, Err: errors.Wrapf(ErrDuplicateOutputNote, "%s", out.ID())}
		}
		seen[out.ID()] = struct{}{}
		for _, asset := range out.Assets().List() {
			if err := working.Vault.Withdraw(asset); err != nil {
				return nil, &Error{State: Executing, NoteIndex: -1, Err: errors.Wrapf(err, "output note %s", out.ID())}
			}
		}
	}

	delta, err := account.NewDelta(before, working, 1)
	if err != nil {
		return nil, &Error{State: Executing, NoteIndex: -1, Err: err}
	}
	working.Nonce++

	tx.Delta = delta
	tx.OutputNotes = req.OutputNotes
	tx.FinalCommitment = working.Commitment()
	tx.ID = TransactionID(tx.InitialCommitment, tx.FinalCommitment,
		InputNotesCommitment(tx.Nullifiers), OutputNotesCommitment(tx.OutputNotes))
	return tx, nil
}

// prepare checks every precondition and returns the account snapshot and the nullifiers of the
// input notes.
func (e *Executor) prepare(req *Request) (*account.Account, []field.Word, error) {
	reject := func(i int, id field.Word, err error) error {
		return &Error{State: Pending, NoteIndex: i, NoteID: id, Err: err}
	}
	if len(req.InputNotes) == 0 {
		return nil, nil, reject(-1, field.EmptyWord, ErrNoInputNotes)
	}
	acct, err := e.store.GetAccountState(req.AccountID)
	if err != nil {
		return nil, nil, reject(-1, field.EmptyWord, err)
	}

	nullifiers := make([]field.Word, len(req.InputNotes))
	seen := make(map[field.Word]int, len(req.InputNotes))
	for i, in := range req.InputNotes {
		if in.Note == nil {
			return nil, nil, reject(i, field.EmptyWord, errors.New("missing note"))
		}
		id, nullifier := in.Note.ID(), in.Note.Nullifier()
		if j, dup := seen[nullifier]; dup {
			return nil, nil, reject(i, id, errors.Wrapf(ErrDuplicateNote, "same as note %d", j))
		}
		seen[nullifier] = i

		consumed, err := e.store.IsConsumed(nullifier)
		if err != nil {
			return nil, nil, reject(i, id, err)
		}
		if consumed {
			return nil, nil, reject(i, id, ErrNoteAlreadyConsumed)
		}
		if !e.unauthenticated {
			known, err := e.store.HasNote(id)
			if err != nil {
				return nil, nil, reject(i, id, err)
			}
			if !known {
				return nil, nil, reject(i, id, ErrUnknownNote)
			}
		}
		if hint := in.Note.Metadata().ExecutionHint; !hint.CanExecute(req.ReferenceBlock) {
			return nil, nil, reject(i, id, errors.Wrapf(ErrNoteNotConsumable, "%s at block %d", hint, req.ReferenceBlock))
		}
		nullifiers[i] = nullifier
	}
	return acct, nullifiers, nil
}

// Result is the outcome of one request of a batch.
type Result struct {
	Tx  *ExecutedTransaction
	Err error
}

// ExecuteBatch evaluates independent requests concurrently and returns their results in request
// order. Requests touching the same account are evaluated against the same snapshot; the ledger
// accepts at most one of them. Requests not started when ctx ends fail with the context error,
// which is also returned.
func (e *Executor) ExecuteBatch(ctx context.Context, reqs []*Request) ([]Result, error) {
	results := make([]Result, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, req := range reqs {
		if err := gctx.Err(); err != nil {
			results[i].Err = err
			continue
		}
		g.Go(func() error {
			results[i].Tx, results[i].Err = e.Execute(gctx, req)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, ctx.Err()
}
