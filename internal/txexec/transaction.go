// transaction.go - Transaction requests, outcomes and evaluation errors.

package txexec

import (
	"fmt"

	"github.com/pkg/errors"

	"notevm/internal/account"
	"notevm/internal/digest"
	"notevm/internal/field"
	"notevm/internal/note"
	"notevm/internal/vm"
)

// State is the lifecycle state of a transaction evaluation.
type State uint8

const (
	// Pending: inputs assembled, preconditions being checked.
	Pending State = iota
	// Executing: note scripts are running against a private copy of the account.
	Executing
	// Committed: every input note was consumed and the delta is final.
	Committed
	// Aborted: terminal, nothing changed.
	Aborted
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Executing:
		return "executing"
	case Committed:
		return "committed"
	case Aborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	for _, candidate := range []State{Pending, Executing, Committed, Aborted} {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return errors.Errorf("unknown transaction state %q", text)
}

// Precondition failures, detected before any script runs.
var (
	ErrNoInputNotes        = errors.New("transaction consumes no notes")
	ErrDuplicateNote       = errors.New("note consumed twice in one transaction")
	ErrNoteAlreadyConsumed = errors.New("note already consumed")
	ErrUnknownNote         = errors.New("note unknown to the ledger")
	ErrNoteNotConsumable   = errors.New("note not consumable at the reference block")
	ErrDuplicateOutputNote = errors.New("duplicate output note")
)

// Error reports an aborted evaluation: the state it failed in and, when a note script failed,
// the index of that note in the request.
type Error struct {
	State     State // Pending for precondition failures, Executing otherwise
	NoteIndex int   // -1 when no single input note is at fault
	NoteID    field.Word
	Err       error
}

func (e *Error) Error() string {
	if e.NoteIndex < 0 {
		return fmt.Sprintf("transaction aborted while %s: %v", e.State, e.Err)
	}
	return fmt.Sprintf("transaction aborted while %s, note %d (%s): %v", e.State, e.NoteIndex, e.NoteID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// AssertionTag returns the tag of the failed script assertion, if that is why it aborted.
func (e *Error) AssertionTag() (string, bool) {
	return vm.AssertionTag(e.Err)
}

// InputNote is a note to consume with the arguments its script receives on top of the stack.
type InputNote struct {
	Note *note.Note `json:"note"`
	Args field.Word `json:"args"`
}

// Request is everything needed to evaluate a transaction.
type Request struct {
	AccountID      account.ID   `json:"account_id"`
	InputNotes     []InputNote  `json:"input_notes"`
	OutputNotes    []*note.Note `json:"output_notes,omitempty"`
	ReferenceBlock uint32       `json:"reference_block"`
}

// UnclaimedAssets are assets a consumed note still held when its script finished. They are
// destroyed with the note.
type UnclaimedAssets struct {
	NoteID field.Word              `json:"note_id"`
	Assets []account.FungibleAsset `json:"assets"`
}

// ExecutedTransaction is the outcome of a committed evaluation. Nothing is applied to the
// ledger until it is committed there.
type ExecutedTransaction struct {
	ID                field.Word        `json:"id"`
	AccountID         account.ID        `json:"account_id"`
	InitialCommitment field.Word        `json:"initial_commitment"`
	FinalCommitment   field.Word        `json:"final_commitment"`
	Delta             *account.Delta    `json:"delta"`
	InputNotes        []InputNote       `json:"-"`
	Nullifiers        []field.Word      `json:"nullifiers"`
	OutputNotes       []*note.Note      `json:"output_notes,omitempty"`
	Unclaimed         []UnclaimedAssets `json:"unclaimed,omitempty"`
	Traces            []*vm.Trace       `json:"-"`
	ReferenceBlock    uint32            `json:"reference_block"`
}

// Cycles returns the number of instructions executed across all input notes.
func (tx *ExecutedTransaction) Cycles() int {
	n := 0
	for _, t := range tx.Traces {
		n += t.Cycles()
	}
	return n
}

// TraceCommitment folds the per-note trace commitments in input order.
func (tx *ExecutedTransaction) TraceCommitment() field.Word {
	acc := field.EmptyWord
	for _, t := range tx.Traces {
		acc = digest.Merge(acc, t.Commitment())
	}
	return acc
}

// InputNotesCommitment is the digest of the nullifiers of the consumed notes, in order.
func InputNotesCommitment(nullifiers []field.Word) field.Word {
	return digest.Hash(field.WordsToFelts(nullifiers...))
}

// OutputNotesCommitment is the digest of the ids of the created notes, in order.
func OutputNotesCommitment(notes []*note.Note) field.Word {
	ids := make([]field.Word, len(notes))
	for i, n := range notes {
		ids[i] = n.ID()
	}
	return digest.Hash(field.WordsToFelts(ids...))
}

// TransactionID binds the account transition to the notes it consumed and created.
func TransactionID(initial, final, inputs, outputs field.Word) field.Word {
	return digest.Hash(field.WordsToFelts(initial, final, inputs, outputs))
}
