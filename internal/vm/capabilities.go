package vm

import (
	"notevm/internal/digest"
	"notevm/internal/field"
)

// Capabilities exposed by the transaction kernel. Scripts reach them through syscall, or
// through call and exec when no linked library exports the same path.
const (
	CapReceiveAsset      = "wallet::receive_asset"       // [ASSET] -> []
	CapReceiveNoteAssets = "wallet::receive_note_assets" // [] -> []
	CapGetItem           = "account::get_item"           // [index] -> [VALUE]
	CapSetItem           = "account::set_item"           // [index, VALUE] -> [OLD_VALUE]
	CapGetMapItem        = "account::get_map_item"       // [index, KEY] -> [VALUE]
	CapSetMapItem        = "account::set_map_item"       // [index, KEY, VALUE] -> [OLD_MAP_ROOT, OLD_VALUE]
	CapGetID             = "account::get_id"             // [] -> [prefix, suffix]
	CapGetNonce          = "account::get_nonce"          // [] -> [nonce]
)

// DefaultCapabilities lists the capability paths known to a new Assembler.
var DefaultCapabilities = []string{
	CapReceiveAsset,
	CapReceiveNoteAssets,
	CapGetItem,
	CapSetItem,
	CapGetMapItem,
	CapSetMapItem,
	CapGetID,
	CapGetNonce,
}

// CapabilityID returns the identifier a syscall carries for the named capability.
func CapabilityID(name string) field.Word {
	return digest.HashBytes([]byte(name))
}
