package core

import (
	"bytes"
	"testing"
)

// fixedSizer is a non-string payload with a known heap footprint
type fixedSizer struct {
	size int64
}

func (s *fixedSizer) MallocUsed() int64 { return s.size }

// TestStringValue tests the string-typed value constructor and accessors
func TestStringValue(t *testing.T) {
	data := []byte("payload")
	v := NewStringValue(data)

	if v.ObjType() != ObjString {
		t.Errorf("ObjType() = %v, want ObjString", v.ObjType())
	}
	if v.Encoding() != EncRaw {
		t.Errorf("Encoding() = %v, want EncRaw", v.Encoding())
	}
	if !bytes.Equal(v.StringData(), data) {
		t.Errorf("StringData() = %q, want %q", v.StringData(), data)
	}
	if v.IsEmpty() {
		t.Error("Value with payload reports empty")
	}
	if v.MallocUsed() < int64(len(data)) {
		t.Errorf("MallocUsed() = %d, want at least payload size %d", v.MallocUsed(), len(data))
	}
}

// TestEmptyValue tests the zero value placeholder semantics
func TestEmptyValue(t *testing.T) {
	var v PrimeValue

	if !v.IsEmpty() {
		t.Error("Zero value does not report empty")
	}
	if v.MallocUsed() != 0 {
		t.Errorf("Empty value reports %d heap bytes", v.MallocUsed())
	}

	v.SetString([]byte("filled"))
	if v.IsEmpty() {
		t.Error("Value still empty after SetString")
	}
	if v.ObjType() != ObjString {
		t.Errorf("ObjType() = %v after SetString, want ObjString", v.ObjType())
	}
}

// TestObjectValue tests the non-string payload path
func TestObjectValue(t *testing.T) {
	obj := &fixedSizer{size: 200}
	v := NewObjectValue(ObjHash, EncHashTable, obj)

	if v.ObjType() != ObjHash {
		t.Errorf("ObjType() = %v, want ObjHash", v.ObjType())
	}
	if v.Object() != obj {
		t.Error("Object() does not return the stored payload")
	}
	if v.StringData() != nil {
		t.Error("Object value exposes string data")
	}
	if v.MallocUsed() < 200 {
		t.Errorf("MallocUsed() = %d, want at least the object's 200", v.MallocUsed())
	}

	// SetString replaces the object payload in place
	v.SetString([]byte("now a string"))
	if v.ObjType() != ObjString || v.Object() != nil {
		t.Error("SetString did not replace the object payload")
	}
}

// TestRawValue tests the wire-restore constructor
func TestRawValue(t *testing.T) {
	v := NewRawValue(ObjList, EncListPack, []byte{1, 2, 3})

	if v.ObjType() != ObjList {
		t.Errorf("ObjType() = %v, want ObjList", v.ObjType())
	}
	if v.Encoding() != EncListPack {
		t.Errorf("Encoding() = %v, want EncListPack", v.Encoding())
	}
	if !bytes.Equal(v.StringData(), []byte{1, 2, 3}) {
		t.Error("Raw payload not retained")
	}
}

// TestValueFlags tests the tiered-storage bits and their MallocUsed effect
func TestValueFlags(t *testing.T) {
	v := NewStringValue(make([]byte, 1024))

	if v.IsExternal() || v.HasIOPending() {
		t.Fatal("Fresh value has tiering flags set")
	}

	inMemory := v.MallocUsed()
	if inMemory < 1024 {
		t.Fatalf("MallocUsed() = %d, want at least 1024", inMemory)
	}

	v.SetExternal(true)
	if !v.IsExternal() {
		t.Error("External bit not set")
	}
	if v.MallocUsed() >= inMemory {
		t.Errorf("External value reports %d heap bytes, want less than in-memory %d", v.MallocUsed(), inMemory)
	}

	v.SetIOPending(true)
	if !v.HasIOPending() {
		t.Error("IO-pending bit not set")
	}
	v.SetIOPending(false)
	if v.HasIOPending() {
		t.Error("IO-pending bit still set after clearing")
	}
	if !v.IsExternal() {
		t.Error("Clearing IO-pending disturbed the external bit")
	}
}

// TestEncodingUpdate tests that SetEncoding only touches the discriminator
func TestEncodingUpdate(t *testing.T) {
	v := NewStringValue([]byte("123"))

	v.SetEncoding(EncInt)
	if v.Encoding() != EncInt {
		t.Errorf("Encoding() = %v, want EncInt", v.Encoding())
	}
	if v.ObjType() != ObjString || !bytes.Equal(v.StringData(), []byte("123")) {
		t.Error("SetEncoding disturbed the payload")
	}
}
