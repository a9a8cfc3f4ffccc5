// storage.go - Account storage slots.
//
// Storage is a fixed array of slots chosen when the account is created. A value slot holds one
// word. A map slot holds a word-to-word map and exposes its root, the digest of its sorted
// entries, wherever a value slot would expose its word.

package account

import (
	"sort"

	"github.com/pkg/errors"

	"notevm/internal/digest"
	"notevm/internal/field"
)

// MaxStorageSlots bounds the number of slots of an account.
const MaxStorageSlots = 255

var (
	// ErrSlotIndex is returned for indices past the last slot.
	ErrSlotIndex = errors.New("storage slot index out of range")
	// ErrSlotType is returned when a value operation targets a map slot or the reverse.
	ErrSlotType = errors.New("storage slot type mismatch")
)

// SlotType is the kind of a storage slot.
type SlotType uint8

const (
	ValueSlot SlotType = iota
	MapSlot
)

func (t SlotType) String() string {
	switch t {
	case ValueSlot:
		return "value"
	case MapSlot:
		return "map"
	default:
		return "unknown"
	}
}

// MapEntry is one key/value pair of a storage map.
type MapEntry struct {
	Key   field.Word `cbor:"1,keyasint" json:"key"`
	Value field.Word `cbor:"2,keyasint" json:"value"`
}

// StorageMap is a word-to-word map. Keys mapped to the empty word are absent.
type StorageMap struct {
	entries map[field.Word]field.Word
}

// NewStorageMap builds a map from entries.
func NewStorageMap(entries ...MapEntry) *StorageMap {
	m := &StorageMap{entries: make(map[field.Word]field.Word, len(entries))}
	for _, e := range entries {
		m.Set(e.Key, e.Value)
	}
	return m
}

// Get returns the value stored under key, or the empty word.
func (m *StorageMap) Get(key field.Word) field.Word {
	return m.entries[key]
}

// Set stores value under key and returns the previous value.
func (m *StorageMap) Set(key, value field.Word) field.Word {
	old := m.entries[key]
	if value.IsEmpty() {
		delete(m.entries, key)
	} else {
		m.entries[key] = value
	}
	return old
}

// Entries returns the entries sorted by key.
func (m *StorageMap) Entries() []MapEntry {
	out := make([]MapEntry, 0, len(m.entries))
	for k, v := range m.entries {
		out = append(out, MapEntry{Key: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.Less(out[j].Key) })
	return out
}

// Root is the digest of the sorted entries. An empty map has the empty root.
func (m *StorageMap) Root() field.Word {
	if len(m.entries) == 0 {
		return field.EmptyWord
	}
	entries := m.Entries()
	words := make([]field.Word, 0, 2*len(entries))
	for _, e := range entries {
		words = append(words, e.Key, e.Value)
	}
	return digest.Hash(field.WordsToFelts(words...))
}

// Clone returns an independent copy.
func (m *StorageMap) Clone() *StorageMap {
	c := &StorageMap{entries: make(map[field.Word]field.Word, len(m.entries))}
	for k, v := range m.entries {
		c.entries[k] = v
	}
	return c
}

// StorageSlot is one slot. Map is set only for map slots.
type StorageSlot struct {
	Type  SlotType
	Value field.Word
	Map   *StorageMap
}

// NewValueSlot returns a value slot holding w.
func NewValueSlot(w field.Word) StorageSlot {
	return StorageSlot{Type: ValueSlot, Value: w}
}

// NewMapSlot returns a map slot holding m, or an empty map when m is nil.
func NewMapSlot(m *StorageMap) StorageSlot {
	if m == nil {
		m = NewStorageMap()
	}
	return StorageSlot{Type: MapSlot, Map: m}
}

// word is what get_item exposes for the slot.
func (s *StorageSlot) word() field.Word {
	if s.Type == MapSlot {
		return s.Map.Root()
	}
	return s.Value
}

// Storage is the slot array of an account.
type Storage struct {
	slots []StorageSlot
}

// NewStorage builds storage from slots.
func NewStorage(slots ...StorageSlot) (*Storage, error) {
	if len(slots) > MaxStorageSlots {
		return nil, errors.Errorf("%d storage slots, max %d", len(slots), MaxStorageSlots)
	}
	s := &Storage{slots: make([]StorageSlot, len(slots))}
	for i, slot := range slots {
		if slot.Type == MapSlot && slot.Map == nil {
			slot.Map = NewStorageMap()
		}
		s.slots[i] = slot
	}
	return s, nil
}

// NumSlots returns the number of slots.
func (s *Storage) NumSlots() int {
	return len(s.slots)
}

// Slot returns a copy of slot index. The map of a map slot is shared, not copied.
func (s *Storage) Slot(index int) (StorageSlot, error) {
	if index < 0 || index >= len(s.slots) {
		return StorageSlot{}, errors.Wrapf(ErrSlotIndex, "slot %d of %d", index, len(s.slots))
	}
	return s.slots[index], nil
}

func (s *Storage) slot(index int, want SlotType) (*StorageSlot, error) {
	if index < 0 || index >= len(s.slots) {
		return nil, errors.Wrapf(ErrSlotIndex, "slot %d of %d", index, len(s.slots))
	}
	slot := &s.slots[index]
	if slot.Type != want {
		return nil, errors.Wrapf(ErrSlotType, "slot %d is a %s slot", index, slot.Type)
	}
	return slot, nil
}

// GetItem returns the word of a value slot or the root of a map slot.
func (s *Storage) GetItem(index int) (field.Word, error) {
	if index < 0 || index >= len(s.slots) {
		return field.Word{}, errors.Wrapf(ErrSlotIndex, "slot %d of %d", index, len(s.slots))
	}
	return s.slots[index].word(), nil
}

// SetItem overwrites a value slot and returns the previous value.
func (s *Storage) SetItem(index int, value field.Word) (field.Word, error) {
	slot, err := s.slot(index, ValueSlot)
	if err != nil {
		return field.Word{}, err
	}
	old := slot.Value
	slot.Value = value
	return old, nil
}

// GetMapItem returns the value stored under key in a map slot.
func (s *Storage) GetMapItem(index int, key field.Word) (field.Word, error) {
	slot, err := s.slot(index, MapSlot)
	if err != nil {
		return field.Word{}, err
	}
	return slot.Map.Get(key), nil
}

// SetMapItem stores value under key in a map slot and returns the previous map root and value.
func (s *Storage) SetMapItem(index int, key, value field.Word) (oldRoot, oldValue field.Word, err error) {
	slot, err := s.slot(index, MapSlot)
	if err != nil {
		return field.Word{}, field.Word{}, err
	}
	oldRoot = slot.Map.Root()
	oldValue = slot.Map.Set(key, value)
	return oldRoot, oldValue, nil
}

// Commitment is the digest of every slot's type and exposed word, in slot order.
func (s *Storage) Commitment() field.Word {
	elems := make(field.Felts, 0, len(s.slots)*(field.WordSize+1))
	for i := range s.slots {
		w := s.slots[i].word()
		elems = append(elems, field.NewFelt(uint64(s.slots[i].Type)))
		elems = append(elems, w[:]...)
	}
	return digest.Hash(elems)
}

// Clone returns an independent copy, maps included.
func (s *Storage) Clone() *Storage {
	c := &Storage{slots: make([]StorageSlot, len(s.slots))}
	for i, slot := range s.slots {
		if slot.Map != nil {
			slot.Map = slot.Map.Clone()
		}
		c.slots[i] = slot
	}
	return c
}
