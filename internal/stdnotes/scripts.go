// scripts.go - Standard account components and note scripts.
//
// Account components are libraries whose exports become part of account code. Note scripts
// link against them and reach their procedures with call, so the procedure that actually runs is
// the one the consuming account carries.

package stdnotes

import (
	"sync"

	"notevm/internal/vm"
)

// Namespaces of the standard account components.
const (
	WalletNamespace  = "wallet"
	CounterNamespace = "counter"
	MappingNamespace = "mapping"
)

// MappingSlot is the storage slot holding the map of the mapping component.
const MappingSlot = 1

// Assertion tags raised by the standard scripts.
const (
	TagWrongNumberOfInputs = "WRONG_NUMBER_OF_INPUTS"
	TagWrongSecret         = "HASH_GATE_WRONG_SECRET"
	TagWrongTargetAccount  = "P2ID_WRONG_TARGET_ACCOUNT"
	TagWrongOldMapRoot     = "MAPPING_WRONG_OLD_ROOT"
	TagWrongOldMapValue    = "MAPPING_WRONG_OLD_VALUE"
	TagWrongMapValue       = "MAPPING_WRONG_VALUE"
)

const walletSource = `
# => [ASSET]
export.receive_asset
    syscall.wallet::receive_asset
end

# => []
export.receive_note_assets
    syscall.wallet::receive_note_assets
end
`

const counterSource = `
# Slot 0 holds [count, 0, 0, 0].
export.increment_count
    push.0 exec.account::get_item
    # => [count, 0, 0, 0]
    push.1 add
    push.0 exec.account::set_item
    # => [OLD_VALUE]
    dropw
end

export.get_count
    push.0 exec.account::get_item
end
`

// Slot 0 is left to the account; slot 1 holds the map.
const mappingSource = `
# => [KEY, VALUE]
export.write
    push.1 exec.account::set_map_item
    # => [OLD_MAP_ROOT, OLD_VALUE]
end

# => [KEY]
export.read
    push.1 exec.account::get_map_item
    # => [VALUE]
end
`

// Moves every asset of the note one by one through the wallet of the consuming account.
const addNoteAssets = `
proc.add_note_assets_to_account
    push.0 exec.note::get_assets
    # => [num_assets, ptr]
    dup push.0 neq
    while.true
        swap dup padw movup.4 mem_loadw
        # => [ASSET, ptr, num_assets]
        call.wallet::receive_asset
        push.1 add swap push.1 sub
        # => [num_assets - 1, ptr + 1]
        dup push.0 neq
    end
    drop drop
end
`

// The note args carry the secret; the inputs carry its digest.
const hashGateCheck = `
    # => [SECRET]
    hash
    # => [DIGEST]
    push.0 exec.note::get_inputs
    # => [num_inputs, ptr, DIGEST]
    push.4 assert_eq.err=WRONG_NUMBER_OF_INPUTS
    padw movup.4 mem_loadw
    # => [EXPECTED, DIGEST]
    assert_eqw.err=HASH_GATE_WRONG_SECRET
`

const hashGateSource = `
use.wallet
` + addNoteAssets + `
begin
` + hashGateCheck + `
    exec.add_note_assets_to_account
end
`

const noTransferSource = `
begin
` + hashGateCheck + `
end
`

const p2idSource = `
use.wallet

begin
    push.0 exec.note::get_inputs
    # => [num_inputs, ptr]
    push.2 assert_eq.err=WRONG_NUMBER_OF_INPUTS
    padw movup.4 mem_loadw
    # => [target_prefix, target_suffix, 0, 0]
    exec.account::get_id
    # => [prefix, suffix, target_prefix, target_suffix, 0, 0]
    movup.2 assert_eq.err=P2ID_WRONG_TARGET_ACCOUNT
    assert_eq.err=P2ID_WRONG_TARGET_ACCOUNT
    drop drop
    call.wallet::receive_note_assets
end
`

const incrementCounterSource = `
use.counter

begin
    call.counter::increment_count
end
`

// The note args carry the map root expected before the write; the inputs carry
// [KEY, VALUE, OLD_VALUE].
const mapUpdateSource = `
use.mapping

begin
    # => [ROOT]
    push.0 exec.note::get_inputs
    push.12 assert_eq.err=WRONG_NUMBER_OF_INPUTS
    drop
    padw mem_loadw.2 swapw
    padw mem_loadw.1
    padw mem_loadw.0
    # => [KEY, VALUE, ROOT, OLD_VALUE]
    call.mapping::write
    # => [OLD_MAP_ROOT, OLD_VALUE, ROOT, EXPECTED_OLD_VALUE]
    swapw swapw.2
    assert_eqw.err=MAPPING_WRONG_OLD_ROOT
    assert_eqw.err=MAPPING_WRONG_OLD_VALUE
    padw mem_loadw.0
    call.mapping::read
    # => [STORED]
    padw mem_loadw.1
    assert_eqw.err=MAPPING_WRONG_VALUE
end
`

type assembled struct {
	wallet, counter, mapping                         *vm.Library
	hashGate, noTransfer, p2id, increment, mapUpdate *vm.Program
}

var (
	stdOnce sync.Once
	std     assembled
)

// load assembles the standard sources once. They are constants, so failing to assemble them is a
// programming error.
func load() *assembled {
	stdOnce.Do(func() {
		asm := vm.NewAssembler()
		std.wallet = mustLibrary(asm.AssembleLibrary(WalletNamespace, walletSource))
		std.counter = mustLibrary(asm.AssembleLibrary(CounterNamespace, counterSource))
		std.mapping = mustLibrary(asm.AssembleLibrary(MappingNamespace, mappingSource))
		asm.WithLibrary(std.wallet, std.counter, std.mapping)
		std.hashGate = mustProgram(asm.AssembleProgram(hashGateSource))
		std.noTransfer = mustProgram(asm.AssembleProgram(noTransferSource))
		std.p2id = mustProgram(asm.AssembleProgram(p2idSource))
		std.increment = mustProgram(asm.AssembleProgram(incrementCounterSource))
		std.mapUpdate = mustProgram(asm.AssembleProgram(mapUpdateSource))
	})
	return &std
}

func mustLibrary(lib *vm.Library, err error) *vm.Library {
	if err != nil {
		panic(err)
	}
	return lib
}

func mustProgram(p *vm.Program, err error) *vm.Program {
	if err != nil {
		panic(err)
	}
	return p
}

// WalletLibrary is the basic wallet component: receive_asset and receive_note_assets.
func WalletLibrary() *vm.Library { return load().wallet }

// CounterLibrary is a component keeping a counter in storage slot 0.
func CounterLibrary() *vm.Library { return load().counter }

// MappingLibrary is a component keeping a word-to-word map in storage slot MappingSlot. write
// takes [KEY, VALUE] and leaves [OLD_MAP_ROOT, OLD_VALUE]; read turns [KEY] into [VALUE].
func MappingLibrary() *vm.Library { return load().mapping }

// HashGateScript consumes a note when the note args hash to the digest held in its four
// inputs, moving every asset of the note into the consuming account.
func HashGateScript() *vm.Program { return load().hashGate }

// NoTransferScript checks the same gate as HashGateScript and never moves an asset.
func NoTransferScript() *vm.Program { return load().noTransfer }

// P2IDScript pays the note assets to the account whose id is held in its two inputs,
// [prefix, suffix].
func P2IDScript() *vm.Program { return load().p2id }

// IncrementCounterScript increments the counter of the consuming account.
func IncrementCounterScript() *vm.Program { return load().increment }

// MapUpdateScript writes VALUE under KEY in the map of the consuming account and reads it back.
// It checks the map root given as note args and the previous value held in its inputs,
// [KEY, VALUE, OLD_VALUE].
func MapUpdateScript() *vm.Program { return load().mapUpdate }

// BasicWalletCode returns account code made of the wallet component followed by any other
// components.
func BasicWalletCode(components ...*vm.Library) *vm.Library {
	code := WalletLibrary()
	for _, c := range components {
		code = code.Merge(c)
	}
	return code
}
