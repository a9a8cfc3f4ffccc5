package rpc

import (
	"notevm/internal/account"
	"notevm/internal/client"
	"notevm/internal/field"
	"notevm/internal/note"
	"notevm/internal/txexec"
)

// CreateAccountRequest creates a basic wallet account. A missing id is drawn at random. Value
// slots come first, followed by empty map slots.
type CreateAccountRequest struct {
	ID         *account.ID             `json:"id,omitempty"`
	Assets     []account.FungibleAsset `json:"assets,omitempty"`
	Components []string                `json:"components,omitempty"`
	ValueSlots int                     `json:"value_slots,omitempty"`
	MapSlots   int                     `json:"map_slots,omitempty"`
}

// AccountView is the public state of an account.
type AccountView struct {
	ID                account.ID              `json:"id"`
	Nonce             uint64                  `json:"nonce"`
	Commitment        field.Word              `json:"commitment"`
	Assets            []account.FungibleAsset `json:"assets"`
	StorageCommitment field.Word              `json:"storage_commitment"`
	CodeRoot          field.Word              `json:"code_root"`
}

func newAccountView(a *account.Account) *AccountView {
	return &AccountView{
		ID:                a.ID,
		Nonce:             a.Nonce,
		Commitment:        a.Commitment(),
		Assets:            a.Vault.Assets(),
		StorageCommitment: a.Storage.Commitment(),
		CodeRoot:          a.Code.Root(),
	}
}

// NoteView is a stored note and whether it has been consumed.
type NoteView struct {
	Note     *note.Note `json:"note"`
	Consumed bool       `json:"consumed"`
}

// NoteCreated acknowledges a stored note.
type NoteCreated struct {
	ID        field.Word `json:"id"`
	Nullifier field.Word `json:"nullifier"`
}

// TransactionResponse is the outcome of one submitted request.
type TransactionResponse struct {
	Status       client.Status               `json:"status"`
	Transaction  *txexec.ExecutedTransaction `json:"transaction,omitempty"`
	Height       uint32                      `json:"height,omitempty"`
	Proofs       int                         `json:"proofs,omitempty"`
	Error        string                      `json:"error,omitempty"`
	AssertionTag string                      `json:"assertion_tag,omitempty"`
	NoteIndex    *int                        `json:"note_index,omitempty"`
}

// BatchRequest submits several requests at once. They are evaluated concurrently against the
// same ledger state and committed in order.
type BatchRequest struct {
	Requests []*txexec.Request `json:"requests"`
}

// BatchResponse holds one response per request, in order.
type BatchResponse struct {
	Results []*TransactionResponse `json:"results"`
}
