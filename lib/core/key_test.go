package core

import (
	"bytes"
	"strings"
	"testing"
)

// TestPrimeKeyInline tests that short keys stay inline and long keys spill
func TestPrimeKeyInline(t *testing.T) {
	testCases := []struct {
		name   string
		key    string
		inline bool
	}{
		{"Empty", "", true},
		{"Short", "session:42", true},
		{"ExactCapacity", strings.Repeat("a", 28), true},
		{"OneOverCapacity", strings.Repeat("a", 29), false},
		{"Long", strings.Repeat("key-", 32), false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			k := NewPrimeKeyString(tc.key)

			if k.IsInline() != tc.inline {
				t.Errorf("IsInline() = %v, want %v", k.IsInline(), tc.inline)
			}
			if k.String() != tc.key {
				t.Errorf("String() = %q, want %q", k.String(), tc.key)
			}
			if k.Len() != len(tc.key) {
				t.Errorf("Len() = %d, want %d", k.Len(), len(tc.key))
			}
			if tc.inline && k.MallocUsed() != 0 {
				t.Errorf("Inline key reports %d heap bytes", k.MallocUsed())
			}
			if !tc.inline && k.MallocUsed() < int64(len(tc.key)) {
				t.Errorf("Heap key reports %d heap bytes, want at least %d", k.MallocUsed(), len(tc.key))
			}
		})
	}
}

// TestPrimeKeyCopiesInput tests that the constructor does not alias the caller's buffer
func TestPrimeKeyCopiesInput(t *testing.T) {
	buf := []byte(strings.Repeat("x", 64))
	k := NewPrimeKey(buf)

	buf[0] = 'y'

	if k.Bytes()[0] != 'x' {
		t.Error("Key aliases the caller's buffer")
	}
}

// TestPrimeKeyEquality tests byte-wise equality across storage forms
func TestPrimeKeyEquality(t *testing.T) {
	short := NewPrimeKeyString("abc")
	shortCopy := NewPrimeKey([]byte("abc"))
	long := NewPrimeKeyString(strings.Repeat("abc", 20))
	longCopy := NewPrimeKeyString(strings.Repeat("abc", 20))

	if !short.Equal(&shortCopy) {
		t.Error("Equal short keys compare unequal")
	}
	if !long.Equal(&longCopy) {
		t.Error("Equal long keys compare unequal")
	}
	if short.Equal(&long) {
		t.Error("Different keys compare equal")
	}
	if !short.EqualBytes([]byte("abc")) {
		t.Error("EqualBytes misses a match")
	}
	if short.EqualBytes([]byte("abd")) {
		t.Error("EqualBytes reports a false match")
	}
}

// TestPrimeKeyHash tests that all hash entry points agree
func TestPrimeKeyHash(t *testing.T) {
	keys := []string{"", "a", "counter:1", strings.Repeat("long", 32)}

	for _, key := range keys {
		k := NewPrimeKeyString(key)
		if k.Hash() != HashBytes([]byte(key)) {
			t.Errorf("Hash mismatch between key and bytes for %q", key)
		}
		if k.Hash() != HashString(key) {
			t.Errorf("Hash mismatch between key and string for %q", key)
		}
	}

	a := NewPrimeKeyString("a")
	b := NewPrimeKeyString("b")
	if a.Hash() == b.Hash() {
		t.Error("Distinct short keys hash identically")
	}
}

// TestPrimeKeyFlags tests the metadata bits
func TestPrimeKeyFlags(t *testing.T) {
	k := NewPrimeKeyString("flagged")

	if k.Sticky() || k.HasExpire() || k.HasMCFlag() {
		t.Fatal("Fresh key has flags set")
	}

	k.SetSticky(true)
	k.SetHasExpire(true)
	k.SetHasMCFlag(true)
	if !k.Sticky() || !k.HasExpire() || !k.HasMCFlag() {
		t.Error("Flags not set")
	}

	// Clearing one bit leaves the others alone
	k.SetHasExpire(false)
	if k.HasExpire() {
		t.Error("HasExpire still set after clearing")
	}
	if !k.Sticky() || !k.HasMCFlag() {
		t.Error("Clearing one flag disturbed another")
	}

	if !bytes.Equal(k.Bytes(), []byte("flagged")) {
		t.Error("Flag updates changed the key bytes")
	}
}
