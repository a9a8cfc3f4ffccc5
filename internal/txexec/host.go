// host.go - The transaction kernel seen by a running note script.
//
// A noteHost serves one input note. It answers note queries, resolves call targets against the
// code of the consuming account and runs capabilities against the working copy of that
// account. Receive capabilities only move assets the note still holds, so a script can never
// create assets.

package txexec

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"notevm/internal/account"
	"notevm/internal/field"
	"notevm/internal/note"
	"notevm/internal/vm"
)

// ErrAssetNotInNote is returned when a script receives more of an asset than the note holds.
var ErrAssetNotInNote = errors.New("asset not held by the note")

type capability func(h *noteHost, stack *vm.Stack) error

var capabilities = map[field.Word]capability{
	vm.CapabilityID(vm.CapReceiveAsset):      (*noteHost).receiveAsset,
	vm.CapabilityID(vm.CapReceiveNoteAssets): (*noteHost).receiveNoteAssets,
	vm.CapabilityID(vm.CapGetItem):           (*noteHost).getItem,
	vm.CapabilityID(vm.CapSetItem):           (*noteHost).setItem,
	vm.CapabilityID(vm.CapGetMapItem):        (*noteHost).getMapItem,
	vm.CapabilityID(vm.CapSetMapItem):        (*noteHost).setMapItem,
	vm.CapabilityID(vm.CapGetID):             (*noteHost).getID,
	vm.CapabilityID(vm.CapGetNonce):          (*noteHost).getNonce,
}

type noteHost struct {
	acct      *account.Account
	note      *note.Note
	remaining map[account.ID]uint64
	log       zerolog.Logger
}

func newNoteHost(acct *account.Account, n *note.Note, log zerolog.Logger) *noteHost {
	h := &noteHost{
		acct:      acct,
		note:      n,
		remaining: make(map[account.ID]uint64, n.Assets().Len()),
		log:       log,
	}
	for _, a := range n.Assets().List() {
		h.remaining[a.Issuer] = a.Amount
	}
	return h
}

// unclaimed returns the assets the script left in the note, in note order.
func (h *noteHost) unclaimed() []account.FungibleAsset {
	var out []account.FungibleAsset
	for _, a := range h.note.Assets().List() {
		if left := h.remaining[a.Issuer]; left > 0 {
			out = append(out, account.FungibleAsset{Issuer: a.Issuer, Amount: left})
		}
	}
	return out
}

func (h *noteHost) NoteInputs() field.Felts      { return h.note.Inputs().Values() }
func (h *noteHost) NoteAssets() []field.Word     { return h.note.Assets().Words() }
func (h *noteHost) NoteSerialNumber() field.Word { return h.note.SerialNumber() }
func (h *noteHost) NoteScriptRoot() field.Word   { return h.note.Script().Root() }

func (h *noteHost) NoteSender() (prefix, suffix field.Felt) {
	sender := h.note.Metadata().Sender
	return sender.Prefix, sender.Suffix
}

func (h *noteHost) Procedure(root field.Word) (*vm.Procedure, bool) {
	return h.acct.Code.Procedure(root)
}

func (h *noteHost) Syscall(id field.Word, stack *vm.Stack) error {
	fn, ok := capabilities[id]
	if !ok {
		return errors.Wrapf(vm.ErrUnknownCapability, "capability %s", id)
	}
	return fn(h, stack)
}

func (h *noteHost) deposit(asset account.FungibleAsset) error {
	if h.remaining[asset.Issuer] < asset.Amount {
		return errors.Wrapf(ErrAssetNotInNote, "%d of %s, note holds %d", asset.Amount, asset.Issuer, h.remaining[asset.Issuer])
	}
	if err := h.acct.Vault.Deposit(asset); err != nil {
		return err
	}
	h.remaining[asset.Issuer] -= asset.Amount
	h.log.Debug().
		Str("issuer", asset.Issuer.String()).
		Uint64("amount", asset.Amount).
		Msg("asset received")
	return nil
}

// [ASSET] -> []
func (h *noteHost) receiveAsset(stack *vm.Stack) error {
	w, err := stack.PopWord()
	if err != nil {
		return err
	}
	asset, err := account.AssetFromWord(w)
	if err != nil {
		return err
	}
	return h.deposit(asset)
}

// [] -> []
func (h *noteHost) receiveNoteAssets(stack *vm.Stack) error {
	for _, asset := range h.unclaimed() {
		if err := h.deposit(asset); err != nil {
			return err
		}
	}
	return nil
}

func popIndex(stack *vm.Stack) (int, error) {
	index, err := stack.PopUint32()
	if err != nil {
		return 0, errors.Wrap(err, "slot index")
	}
	return int(index), nil
}

// [index] -> [VALUE]
func (h *noteHost) getItem(stack *vm.Stack) error {
	index, err := popIndex(stack)
	if err != nil {
		return err
	}
	value, err := h.acct.Storage.GetItem(index)
	if err != nil {
		return err
	}
	return stack.PushWord(value)
}

// [index, VALUE] -> [OLD_VALUE]
func (h *noteHost) setItem(stack *vm.Stack) error {
	index, err := popIndex(stack)
	if err != nil {
		return err
	}
	value, err := stack.PopWord()
	if err != nil {
		return err
	}
	old, err := h.acct.Storage.SetItem(index, value)
	if err != nil {
		return err
	}
	return stack.PushWord(old)
}

// [index, KEY] -> [VALUE]
func (h *noteHost) getMapItem(stack *vm.Stack) error {
	index, err := popIndex(stack)
	if err != nil {
		return err
	}
	key, err := stack.PopWord()
	if err != nil {
		return err
	}
	value, err := h.acct.Storage.GetMapItem(index, key)
	if err != nil {
		return err
	}
	return stack.PushWord(value)
}

// [index, KEY, VALUE] -> [OLD_MAP_ROOT, OLD_VALUE]
func (h *noteHost) setMapItem(stack *vm.Stack) error {
	index, err := popIndex(stack)
	if err != nil {
		return err
	}
	key, err := stack.PopWord()
	if err != nil {
		return err
	}
	value, err := stack.PopWord()
	if err != nil {
		return err
	}
	oldRoot, oldValue, err := h.acct.Storage.SetMapItem(index, key, value)
	if err != nil {
		return err
	}
	if err := stack.PushWord(oldValue); err != nil {
		return err
	}
	return stack.PushWord(oldRoot)
}

// [] -> [prefix, suffix]
func (h *noteHost) getID(stack *vm.Stack) error {
	if err := stack.Push(h.acct.ID.Suffix); err != nil {
		return err
	}
	return stack.Push(h.acct.ID.Prefix)
}

// [] -> [nonce]
func (h *noteHost) getNonce(stack *vm.Stack) error {
	return stack.PushUint64(h.acct.Nonce)
}
