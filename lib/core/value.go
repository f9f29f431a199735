package core

// --------------------------------------------------------------------------
// PrimeValue
// --------------------------------------------------------------------------

const (
	valFlagExternal  uint8 = 1 << 0 // value body lives in tiered storage
	valFlagIOPending uint8 = 1 << 1 // a tiered-storage I/O is in flight
)

// valueOverhead approximates the fixed per-object bookkeeping cost that is
// not captured by the payload itself.
const valueOverhead = 16

// PrimeValue is a tagged union over the supported object types. The string
// payload is stored directly, all other object types are carried through
// the obj field. The value additionally tracks an encoding discriminator
// and tiered-storage bits.
type PrimeValue struct {
	tag   ObjType
	enc   Encoding
	flags uint8
	str   []byte
	obj   Sizer
}

// Sizer is implemented by non-string object payloads so the value can
// report heap usage without knowing the payload structure.
type Sizer interface {
	MallocUsed() int64
}

// NewStringValue creates a string-typed value. The bytes are not copied.
func NewStringValue(data []byte) PrimeValue {
	return PrimeValue{tag: ObjString, enc: EncRaw, str: data}
}

// NewRawValue creates a value of the given type whose payload is kept
// as raw bytes, the form migration restores from the wire.
func NewRawValue(tag ObjType, enc Encoding, data []byte) PrimeValue {
	return PrimeValue{tag: tag, enc: enc, str: data}
}

// NewObjectValue creates a value of the given non-string type.
func NewObjectValue(tag ObjType, enc Encoding, obj Sizer) PrimeValue {
	return PrimeValue{tag: tag, enc: enc, obj: obj}
}

// ObjType returns the object type tag.
func (v *PrimeValue) ObjType() ObjType { return v.tag }

// Encoding returns the encoding discriminator.
func (v *PrimeValue) Encoding() Encoding { return v.enc }

// SetEncoding updates the encoding discriminator.
func (v *PrimeValue) SetEncoding(enc Encoding) { v.enc = enc }

// StringData returns the payload of a string-typed value. The returned
// slice must not be modified while the value is stored in a table.
func (v *PrimeValue) StringData() []byte { return v.str }

// SetString replaces the value with a string payload in place. In-place
// replacement keeps table iterators to this slot valid.
func (v *PrimeValue) SetString(data []byte) {
	v.tag = ObjString
	v.enc = EncRaw
	v.str = data
	v.obj = nil
}

// Object returns the payload of a non-string value.
func (v *PrimeValue) Object() Sizer { return v.obj }

// IsEmpty reports whether the value holds no payload yet. AddOrFind
// inserts empty values that the caller fills in afterwards.
func (v *PrimeValue) IsEmpty() bool { return v.str == nil && v.obj == nil }

// IsExternal reports whether the value body lives in tiered storage.
func (v *PrimeValue) IsExternal() bool { return v.flags&valFlagExternal != 0 }

// SetExternal sets or clears the tiered-storage bit.
func (v *PrimeValue) SetExternal(ext bool) { v.setFlag(valFlagExternal, ext) }

// HasIOPending reports whether a tiered-storage I/O is in flight.
func (v *PrimeValue) HasIOPending() bool { return v.flags&valFlagIOPending != 0 }

// SetIOPending sets or clears the in-flight I/O bit.
func (v *PrimeValue) SetIOPending(p bool) { v.setFlag(valFlagIOPending, p) }

func (v *PrimeValue) setFlag(bit uint8, val bool) {
	if val {
		v.flags |= bit
	} else {
		v.flags &^= bit
	}
}

// MallocUsed returns the heap bytes attributable to the value payload.
func (v *PrimeValue) MallocUsed() int64 {
	if v.IsExternal() {
		return valueOverhead
	}
	if v.str != nil {
		return valueOverhead + int64(cap(v.str))
	}
	if v.obj != nil {
		return valueOverhead + v.obj.MallocUsed()
	}
	return 0
}
