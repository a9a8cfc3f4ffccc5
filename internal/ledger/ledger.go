// ledger.go - Persistent account, note and nullifier store.
//
// The ledger is the only place account state changes. It stores accounts, notes, the
// append-only nullifier set and committed transaction headers in LevelDB, and serializes
// commits: a transaction commits only when the account still has the commitment it was executed
// against and none of its notes has been consumed in the meantime. Everything a commit writes
// goes into one LevelDB batch.

package ledger

import (
	"encoding/binary"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/syndtr/goleveldb/leveldb"
	lerrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"notevm/internal/account"
	"notevm/internal/field"
	"notevm/internal/metrics"
	"notevm/internal/note"
	"notevm/internal/txexec"
)

// DefaultCacheSize is the number of accounts kept decoded in memory.
const DefaultCacheSize = 1024

var (
	// ErrNoteAlreadyConsumed is returned when a commit spends a nullifier already recorded.
	ErrNoteAlreadyConsumed = txexec.ErrNoteAlreadyConsumed
	// ErrAccountNotFound is returned for unknown account ids.
	ErrAccountNotFound = errors.New("account not found")
	// ErrAccountExists is returned when creating an account twice.
	ErrAccountExists = errors.New("account already exists")
	// ErrNoteNotFound is returned for unknown note ids.
	ErrNoteNotFound = errors.New("note not found")
	// ErrNoteExists is returned when adding a note twice.
	ErrNoteExists = errors.New("note already exists")
	// ErrTransactionNotFound is returned for unknown transaction ids.
	ErrTransactionNotFound = errors.New("transaction not found")
	// ErrStaleState is returned when the account changed after the transaction was executed.
	ErrStaleState = errors.New("account state changed since execution")
)

var (
	accountPrefix   = []byte("a/")
	notePrefix      = []byte("n/")
	nullifierPrefix = []byte("x/")
	txPrefix        = []byte("t/")
	heightKey       = []byte("m/height")
)

func key(prefix, id []byte) []byte {
	k := make([]byte, 0, len(prefix)+len(id))
	return append(append(k, prefix...), id...)
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithLogger sets the ledger logger.
func WithLogger(log zerolog.Logger) Option {
	return func(l *Ledger) { l.log = log }
}

// WithMetrics records commits and the account count in a collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(l *Ledger) { l.metrics = m }
}

// WithCacheSize sets the account cache size.
func WithCacheSize(n int) Option {
	return func(l *Ledger) { l.cacheSize = n }
}

// Ledger is a LevelDB backed ledger.
type Ledger struct {
	mu        sync.Mutex // serializes writes
	db        *leveldb.DB
	cache     *lru.Cache
	cacheSize int
	height    uint32
	accounts  int
	log       zerolog.Logger
	metrics   *metrics.Collector
}

// Open opens or creates a ledger in a directory, recovering it when corrupted.
func Open(path string, opts ...Option) (*Ledger, error) {
	options := &opt.Options{Filter: filter.NewBloomFilter(10)}
	db, err := leveldb.OpenFile(path, options)
	if _, corrupted := err.(*lerrors.ErrCorrupted); corrupted {
		db, err = leveldb.RecoverFile(path, nil)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "opening ledger at %s", path)
	}
	return newLedger(db, opts)
}

// OpenMemory opens a ledger that lives in memory only.
func OpenMemory(opts ...Option) (*Ledger, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, err
	}
	return newLedger(db, opts)
}

func newLedger(db *leveldb.DB, opts []Option) (*Ledger, error) {
	l := &Ledger{db: db, cacheSize: DefaultCacheSize, log: zerolog.Nop()}
	for _, o := range opts {
		o(l)
	}
	cache, err := lru.New(l.cacheSize)
	if err != nil {
		db.Close()
		return nil, err
	}
	l.cache = cache

	raw, err := db.Get(heightKey, nil)
	switch {
	case err == nil && len(raw) == 4:
		l.height = binary.BigEndian.Uint32(raw)
	case err != nil && err != leveldb.ErrNotFound:
		db.Close()
		return nil, err
	}
	iter := db.NewIterator(util.BytesPrefix(accountPrefix), nil)
	for iter.Next() {
		l.accounts++
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		db.Close()
		return nil, err
	}
	l.metrics.SetAccounts(l.accounts)
	return l, nil
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Height is the number of committed transactions. It serves as the reference block of new
// transactions.
func (l *Ledger) Height() uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.height
}

// GetAccountState returns a deep snapshot of an account.
func (l *Ledger) GetAccountState(id account.ID) (*account.Account, error) {
	a, err := l.loadAccount(id)
	if err != nil {
		return nil, err
	}
	return a.Clone(), nil
}

// loadAccount returns the cached account. Callers must not modify it.
func (l *Ledger) loadAccount(id account.ID) (*account.Account, error) {
	if v, ok := l.cache.Get(id); ok {
		return v.(*account.Account), nil
	}
	raw, err := l.db.Get(key(accountPrefix, id.Bytes()), nil)
	if err == leveldb.ErrNotFound {
		return nil, errors.Wrapf(ErrAccountNotFound, "%s", id)
	}
	if err != nil {
		return nil, err
	}
	a := new(account.Account)
	if err := a.UnmarshalBinary(raw); err != nil {
		return nil, err
	}
	l.cache.Add(id, a)
	return a, nil
}

// CreateAccount stores a new account, such as a genesis wallet or a faucet.
func (l *Ledger) CreateAccount(a *account.Account) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := key(accountPrefix, a.ID.Bytes())
	exists, err := l.db.Has(k, nil)
	if err != nil {
		return err
	}
	if exists {
		return errors.Wrapf(ErrAccountExists, "%s", a.ID)
	}
	raw, err := a.MarshalBinary()
	if err != nil {
		return err
	}
	if err := l.db.Put(k, raw, nil); err != nil {
		return err
	}
	l.cache.Add(a.ID, a.Clone())
	l.accounts++
	l.metrics.SetAccounts(l.accounts)
	l.log.Info().Str("account", a.ID.String()).Msg("account created")
	return nil
}

// AddNote stores a note outside any transaction, such as a genesis note.
func (l *Ledger) AddNote(n *note.Note) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := key(notePrefix, n.ID().Bytes())
	exists, err := l.db.Has(k, nil)
	if err != nil {
		return err
	}
	if exists {
		return errors.Wrapf(ErrNoteExists, "%s", n.ID())
	}
	raw, err := n.MarshalBinary()
	if err != nil {
		return err
	}
	return l.db.Put(k, raw, nil)
}

// GetNote returns a stored note.
func (l *Ledger) GetNote(id field.Word) (*note.Note, error) {
	raw, err := l.db.Get(key(notePrefix, id.Bytes()), nil)
	if err == leveldb.ErrNotFound {
		return nil, errors.Wrapf(ErrNoteNotFound, "%s", id)
	}
	if err != nil {
		return nil, err
	}
	n := new(note.Note)
	if err := n.UnmarshalBinary(raw); err != nil {
		return nil, err
	}
	return n, nil
}

// HasNote reports whether a note is stored.
func (l *Ledger) HasNote(id field.Word) (bool, error) {
	return l.db.Has(key(notePrefix, id.Bytes()), nil)
}

// IsConsumed reports whether a nullifier has been recorded.
func (l *Ledger) IsConsumed(nullifier field.Word) (bool, error) {
	return l.db.Has(key(nullifierPrefix, nullifier.Bytes()), nil)
}

// ApplyDelta applies a delta to a stored account outside any transaction.
func (l *Ledger) ApplyDelta(d *account.Delta) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	a, err := l.loadAccount(d.AccountID)
	if err != nil {
		return err
	}
	updated := a.Clone()
	if err := updated.ApplyDelta(d); err != nil {
		return err
	}
	batch := new(leveldb.Batch)
	if err := putAccount(batch, updated); err != nil {
		return err
	}
	if err := l.db.Write(batch, nil); err != nil {
		return err
	}
	l.cache.Add(updated.ID, updated)
	return nil
}

func putAccount(batch *leveldb.Batch, a *account.Account) error {
	raw, err := a.MarshalBinary()
	if err != nil {
		return err
	}
	batch.Put(key(accountPrefix, a.ID.Bytes()), raw)
	return nil
}

// Commit applies an executed transaction: the account delta, the nullifiers of the consumed
// notes and the created notes, atomically.
func (l *Ledger) Commit(tx *txexec.ExecutedTransaction) (*TxRecord, error) {
	rec, err := l.commit(tx)
	if err != nil {
		l.metrics.RecordCommit(metrics.OutcomeRejected)
		l.log.Warn().Err(err).Str("tx", tx.ID.String()).Msg("commit rejected")
		return nil, err
	}
	l.metrics.RecordCommit(metrics.OutcomeCommitted)
	l.log.Info().
		Str("tx", tx.ID.String()).
		Str("account", tx.AccountID.String()).
		Uint32("height", rec.Height).
		Msg("transaction committed")
	return rec, nil
}

func (l *Ledger) commit(tx *txexec.ExecutedTransaction) (*TxRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if found, err := l.db.Has(key(txPrefix, tx.ID.Bytes()), nil); err != nil {
		return nil, err
	} else if found {
		return nil, errors.Errorf("transaction %s already committed", tx.ID)
	}
	a, err := l.loadAccount(tx.AccountID)
	if err != nil {
		return nil, err
	}
	if a.Commitment() != tx.InitialCommitment {
		return nil, errors.Wrapf(ErrStaleState, "account %s", tx.AccountID)
	}
	for _, nf := range tx.Nullifiers {
		consumed, err := l.db.Has(key(nullifierPrefix, nf.Bytes()), nil)
		if err != nil {
			return nil, err
		}
		if consumed {
			return nil, errors.Wrapf(ErrNoteAlreadyConsumed, "nullifier %s", nf)
		}
	}
	updated := a.Clone()
	if err := updated.ApplyDelta(tx.Delta); err != nil {
		return nil, err
	}
	if updated.Commitment() != tx.FinalCommitment {
		return nil, errors.Wrapf(account.ErrDeltaMismatch, "transaction %s does not reach its final commitment", tx.ID)
	}

	batch := new(leveldb.Batch)
	if err := putAccount(batch, updated); err != nil {
		return nil, err
	}
	for _, nf := range tx.Nullifiers {
		batch.Put(key(nullifierPrefix, nf.Bytes()), tx.ID.Bytes())
	}
	for _, n := range tx.OutputNotes {
		raw, err := n.MarshalBinary()
		if err != nil {
			return nil, err
		}
		batch.Put(key(notePrefix, n.ID().Bytes()), raw)
	}
	rec := newTxRecord(tx, l.height+1)
	raw, err := rec.MarshalBinary()
	if err != nil {
		return nil, err
	}
	batch.Put(key(txPrefix, tx.ID.Bytes()), raw)
	var height [4]byte
	binary.BigEndian.PutUint32(height[:], rec.Height)
	batch.Put(heightKey, height[:])

	if err := l.db.Write(batch, nil); err != nil {
		return nil, err
	}
	l.height = rec.Height
	l.cache.Add(updated.ID, updated)
	return rec, nil
}

// Transaction returns the record of a committed transaction.
func (l *Ledger) Transaction(id field.Word) (*TxRecord, error) {
	raw, err := l.db.Get(key(txPrefix, id.Bytes()), nil)
	if err == leveldb.ErrNotFound {
		return nil, errors.Wrapf(ErrTransactionNotFound, "%s", id)
	}
	if err != nil {
		return nil, err
	}
	rec := new(TxRecord)
	if err := rec.UnmarshalBinary(raw); err != nil {
		return nil, err
	}
	return rec, nil
}

// TransactionStatus returns Committed for committed transactions and ErrTransactionNotFound
// otherwise.
func (l *Ledger) TransactionStatus(id field.Word) (txexec.State, error) {
	if _, err := l.Transaction(id); err != nil {
		return txexec.Pending, err
	}
	return txexec.Committed, nil
}

// ConsumedBy returns the id of the transaction that recorded a nullifier.
func (l *Ledger) ConsumedBy(nullifier field.Word) (field.Word, error) {
	raw, err := l.db.Get(key(nullifierPrefix, nullifier.Bytes()), nil)
	if err == leveldb.ErrNotFound {
		return field.Word{}, errors.Wrapf(ErrNoteNotFound, "nullifier %s", nullifier)
	}
	if err != nil {
		return field.Word{}, err
	}
	return field.WordFromBytes(raw)
}
