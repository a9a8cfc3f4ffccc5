// wallet.go - Client side record of the notes an account can consume.
//
// A wallet keeps every note its owner was told about together with the note args needed to
// consume it, such as the secret of a hash gate. The ledger never learns the args. Consumption
// is tracked locally and reconciled against the ledger's nullifier set with Refresh.
//
// Wallets are persisted as indented JSON, one file per participant.

package wallet

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/pkg/errors"

	"notevm/internal/account"
	"notevm/internal/field"
	"notevm/internal/note"
	"notevm/internal/txexec"
)

var (
	// ErrNoteKnown is returned when adding a note twice.
	ErrNoteKnown = errors.New("note already in wallet")
	// ErrNoteUnknown is returned for notes the wallet does not hold.
	ErrNoteUnknown = errors.New("note not in wallet")
)

// NullifierSet reports consumed notes. The ledger implements it.
type NullifierSet interface {
	IsConsumed(nullifier field.Word) (bool, error)
}

// Record is a known note.
type Record struct {
	Note     *note.Note `json:"note"`
	Args     field.Word `json:"args"`
	Consumed bool       `json:"consumed"`
}

// Wallet holds the notes one account can consume.
type Wallet struct {
	mu        sync.Mutex
	Name      string     `json:"name"`
	AccountID account.ID `json:"account_id"`
	Records   []*Record  `json:"records"`
}

// New creates an empty wallet for an account.
func New(name string, id account.ID) *Wallet {
	return &Wallet{Name: name, AccountID: id}
}

// Load loads a wallet from a JSON file.
func Load(path string) (*Wallet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var w Wallet
	if err := json.NewDecoder(f).Decode(&w); err != nil {
		return nil, errors.Wrapf(err, "decoding wallet %s", path)
	}
	return &w, nil
}

// Save writes the wallet to a JSON file.
func (w *Wallet) Save(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(w)
}

// AddNote records a note and the args it is consumed with.
func (w *Wallet) AddNote(n *note.Note, args field.Word) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.find(n.ID()) != nil {
		return errors.Wrapf(ErrNoteKnown, "%s", n.ID())
	}
	w.Records = append(w.Records, &Record{Note: n, Args: args})
	return nil
}

func (w *Wallet) find(id field.Word) *Record {
	for _, r := range w.Records {
		if r.Note.ID() == id {
			return r
		}
	}
	return nil
}

// InputNote returns a known note ready to be consumed.
func (w *Wallet) InputNote(id field.Word) (txexec.InputNote, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	r := w.find(id)
	if r == nil {
		return txexec.InputNote{}, errors.Wrapf(ErrNoteUnknown, "%s", id)
	}
	return txexec.InputNote{Note: r.Note, Args: r.Args}, nil
}

// Unconsumed returns the notes not yet consumed, in the order they were added.
func (w *Wallet) Unconsumed() []txexec.InputNote {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []txexec.InputNote
	for _, r := range w.Records {
		if !r.Consumed {
			out = append(out, txexec.InputNote{Note: r.Note, Args: r.Args})
		}
	}
	return out
}

// MarkConsumed marks notes as consumed, typically after a commit.
func (w *Wallet) MarkConsumed(ids ...field.Word) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, id := range ids {
		r := w.find(id)
		if r == nil {
			return errors.Wrapf(ErrNoteUnknown, "%s", id)
		}
		r.Consumed = true
	}
	return nil
}

// Refresh marks every note whose nullifier the ledger has recorded, including notes consumed
// elsewhere, and returns how many changed.
func (w *Wallet) Refresh(set NullifierSet) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	changed := 0
	for _, r := range w.Records {
		if r.Consumed {
			continue
		}
		consumed, err := set.IsConsumed(r.Note.Nullifier())
		if err != nil {
			return changed, err
		}
		if consumed {
			r.Consumed = true
			changed++
		}
	}
	return changed, nil
}
