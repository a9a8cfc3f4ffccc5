package note

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"notevm/internal/account"
	"notevm/internal/digest"
	"notevm/internal/field"
	"notevm/internal/vm"
)

var (
	faucet = account.NewID(field.NewWord(1, 0, 0, 0))
	sender = account.NewID(field.NewWord(2, 0, 0, 0))
)

func buildNote(t *testing.T, serial field.Word, amount uint64, inputs field.Felts, src string) *Note {
	t.Helper()
	script, err := vm.NewAssembler().AssembleProgram(src)
	require.NoError(t, err)
	in, err := NewInputs(inputs)
	require.NoError(t, err)
	recipient, err := NewRecipient(serial, script, in)
	require.NoError(t, err)
	asset, err := account.NewFungibleAsset(faucet, amount)
	require.NoError(t, err)
	assets, err := NewAssets(asset)
	require.NoError(t, err)
	n, err := New(assets, Metadata{Sender: sender, Type: Public, Tag: TagForAccount(sender), ExecutionHint: Always()}, recipient)
	require.NoError(t, err)
	return n
}

func TestNoteIdentity(t *testing.T) {
	serial := field.NewWord(5, 6, 7, 8)
	base := buildNote(t, serial, 50, field.Uint64s(1, 2, 3, 4), "begin push.1 drop end")

	t.Run("Identical content gives identical id", func(t *testing.T) {
		again := buildNote(t, serial, 50, field.Uint64s(1, 2, 3, 4), "begin\n  push.1\n  drop\nend")
		require.Equal(t, base.ID(), again.ID())
		require.Equal(t, base.Nullifier(), again.Nullifier())
	})

	t.Run("Every component changes the id", func(t *testing.T) {
		variants := []*Note{
			buildNote(t, field.NewWord(5, 6, 7, 9), 50, field.Uint64s(1, 2, 3, 4), "begin push.1 drop end"),
			buildNote(t, serial, 51, field.Uint64s(1, 2, 3, 4), "begin push.1 drop end"),
			buildNote(t, serial, 50, field.Uint64s(1, 2, 3, 5), "begin push.1 drop end"),
			buildNote(t, serial, 50, field.Uint64s(1, 2, 3, 4), "begin push.2 drop end"),
		}
		for _, v := range variants {
			require.NotEqual(t, base.ID(), v.ID())
			require.NotEqual(t, base.Nullifier(), v.Nullifier())
		}
	})

	t.Run("Id layout", func(t *testing.T) {
		recipient := digest.Merge(digest.Merge(digest.Merge(serial, field.EmptyWord), base.Script().Root()), base.Inputs().Commitment())
		require.Equal(t, recipient, base.Recipient().Digest())
		require.Equal(t, digest.Merge(recipient, base.Assets().Commitment()), base.ID())
		require.NotEqual(t, base.ID(), base.Nullifier())
	})

	t.Run("Accessors return copies", func(t *testing.T) {
		values := base.Inputs().Values()
		values[0] = field.NewFelt(99)
		require.Equal(t, field.NewFelt(1), base.Inputs().Values()[0])

		assets := base.Assets().List()
		assets[0].Amount = 1
		require.Equal(t, uint64(50), base.Assets().List()[0].Amount)
	})
}

func TestNoteValidation(t *testing.T) {
	script, err := vm.NewAssembler().AssembleProgram("begin end")
	require.NoError(t, err)

	_, err = NewInputs(make(field.Felts, MaxInputs+1))
	require.ErrorIs(t, err, ErrTooManyInputs)

	a, err := account.NewFungibleAsset(faucet, 1)
	require.NoError(t, err)
	_, err = NewAssets(a, a)
	require.ErrorIs(t, err, ErrDuplicateIssuer)

	assets, err := NewAssets(a)
	require.NoError(t, err)
	recipient, err := NewRecipient(field.EmptyWord, script, nil)
	require.NoError(t, err)
	_, err = New(assets, Metadata{Type: Public}, recipient)
	require.Error(t, err)
	_, err = New(assets, Metadata{Sender: sender, Type: 3}, recipient)
	require.Error(t, err)
	_, err = New(assets, Metadata{Sender: sender, Type: Private, ExecutionHint: ExecutionHint{Kind: HintAlways, Block: 3}}, recipient)
	require.Error(t, err)
}

func TestExecutionHint(t *testing.T) {
	require.True(t, Always().CanExecute(0))
	require.True(t, NoHint().CanExecute(0))
	require.False(t, AfterBlock(10).CanExecute(9))
	require.True(t, AfterBlock(10).CanExecute(10))
	require.Equal(t, "after_block(10)", AfterBlock(10).String())
}

func TestNoteEncoding(t *testing.T) {
	serial, err := RandomSerialNumber()
	require.NoError(t, err)
	n := buildNote(t, serial, 50, field.Uint64s(1, 2, 3, 4), "begin push.0 exec.note::get_inputs drop drop end")

	t.Run("Binary", func(t *testing.T) {
		data, err := n.MarshalBinary()
		require.NoError(t, err)
		again, err := n.MarshalBinary()
		require.NoError(t, err)
		require.Equal(t, data, again)

		var decoded Note
		require.NoError(t, decoded.UnmarshalBinary(data))
		require.Equal(t, n.ID(), decoded.ID())
		require.Equal(t, n.Nullifier(), decoded.Nullifier())
		require.Equal(t, n.Commitment(), decoded.Commitment())
		require.Equal(t, n.Metadata(), decoded.Metadata())
	})

	t.Run("JSON", func(t *testing.T) {
		data, err := json.Marshal(n)
		require.NoError(t, err)
		var decoded Note
		require.NoError(t, json.Unmarshal(data, &decoded))
		require.Equal(t, n.ID(), decoded.ID())

		var raw map[string]interface{}
		require.NoError(t, json.Unmarshal(data, &raw))
		raw["serial_number"] = field.NewWord(1, 1, 1, 1).String()
		tampered, err := json.Marshal(raw)
		require.NoError(t, err)
		require.ErrorIs(t, json.Unmarshal(tampered, &decoded), ErrIDMismatch)
	})
}
