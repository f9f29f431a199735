package core

import (
	"bytes"

	"github.com/cespare/xxhash/v2"
)

// --------------------------------------------------------------------------
// PrimeKey
// --------------------------------------------------------------------------

// inlineKeyCap is the number of key bytes stored directly in the PrimeKey
// struct. Longer keys spill to a heap allocation.
const inlineKeyCap = 28

const (
	keyFlagSticky    uint8 = 1 << 0 // key is exempt from eviction
	keyFlagHasExpire uint8 = 1 << 1 // an expire-table entry exists for this key
	keyFlagHasMCFlag uint8 = 1 << 2 // a memcached flag is stored for this key
)

// PrimeKey is a compact byte-string key. Keys up to inlineKeyCap bytes are
// stored inline without a separate allocation. Equality and hashing are
// byte-wise. The key additionally carries three metadata bits: sticky,
// has-expire and has-flag.
//
// PrimeKey values are copied freely; the heap buffer of a long key is
// shared between copies and must be treated as immutable.
type PrimeKey struct {
	inline [inlineKeyCap]byte
	heap   []byte
	size   uint8
	flags  uint8
}

// NewPrimeKey creates a key from the given bytes. The bytes are copied.
func NewPrimeKey(key []byte) PrimeKey {
	var k PrimeKey
	k.assign(key)
	return k
}

// NewPrimeKeyString creates a key from the given string.
func NewPrimeKeyString(key string) PrimeKey {
	var k PrimeKey
	k.assign([]byte(key))
	return k
}

func (k *PrimeKey) assign(key []byte) {
	if len(key) <= inlineKeyCap {
		copy(k.inline[:], key)
		k.heap = nil
		k.size = uint8(len(key))
		return
	}
	k.heap = bytes.Clone(key)
	k.size = 0
}

// Bytes returns the key bytes. The returned slice must not be modified.
func (k *PrimeKey) Bytes() []byte {
	if k.heap != nil {
		return k.heap
	}
	return k.inline[:k.size]
}

// String returns the key as a string.
func (k *PrimeKey) String() string {
	return string(k.Bytes())
}

// Len returns the length of the key in bytes.
func (k *PrimeKey) Len() int {
	if k.heap != nil {
		return len(k.heap)
	}
	return int(k.size)
}

// IsInline reports whether the key bytes are stored inline.
func (k *PrimeKey) IsInline() bool {
	return k.heap == nil
}

// Equal reports byte-wise equality with other.
func (k *PrimeKey) Equal(other *PrimeKey) bool {
	return bytes.Equal(k.Bytes(), other.Bytes())
}

// EqualBytes reports byte-wise equality with a raw byte slice.
func (k *PrimeKey) EqualBytes(other []byte) bool {
	return bytes.Equal(k.Bytes(), other)
}

// Hash returns the 64-bit hash of the key bytes.
func (k *PrimeKey) Hash() uint64 {
	return xxhash.Sum64(k.Bytes())
}

// HashBytes returns the hash a PrimeKey built from key would have. It lets
// lookups avoid constructing a key.
func HashBytes(key []byte) uint64 {
	return xxhash.Sum64(key)
}

// HashString is HashBytes for string keys without a copy.
func HashString(key string) uint64 {
	return xxhash.Sum64String(key)
}

// Sticky reports whether the key is exempt from eviction.
func (k *PrimeKey) Sticky() bool { return k.flags&keyFlagSticky != 0 }

// SetSticky sets or clears the sticky bit.
func (k *PrimeKey) SetSticky(v bool) { k.setFlag(keyFlagSticky, v) }

// HasExpire reports whether an expire-table entry exists for this key.
func (k *PrimeKey) HasExpire() bool { return k.flags&keyFlagHasExpire != 0 }

// SetHasExpire sets or clears the has-expire bit. The caller is
// responsible for keeping the bit in sync with the expire table.
func (k *PrimeKey) SetHasExpire(v bool) { k.setFlag(keyFlagHasExpire, v) }

// HasMCFlag reports whether a memcached flag is stored for this key.
func (k *PrimeKey) HasMCFlag() bool { return k.flags&keyFlagHasMCFlag != 0 }

// SetHasMCFlag sets or clears the has-flag bit.
func (k *PrimeKey) SetHasMCFlag(v bool) { k.setFlag(keyFlagHasMCFlag, v) }

func (k *PrimeKey) setFlag(bit uint8, v bool) {
	if v {
		k.flags |= bit
	} else {
		k.flags &^= bit
	}
}

// MallocUsed returns the heap bytes attributable to the key itself.
// Inline keys cost nothing beyond the slot they occupy.
func (k *PrimeKey) MallocUsed() int64 {
	if k.heap != nil {
		return int64(cap(k.heap))
	}
	return 0
}
