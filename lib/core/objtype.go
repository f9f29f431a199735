package core

// --------------------------------------------------------------------------
// Object Types
// --------------------------------------------------------------------------

// ObjType discriminates the kind of object stored under a key.
type ObjType uint8

const (
	ObjString ObjType = iota
	ObjList
	ObjHash
	ObjSet
	ObjZSet
	ObjJSON
	ObjStream

	// ObjAny is used by lookups that accept any object type.
	ObjAny ObjType = 0xff
)

// String returns the wire-protocol name of the object type.
func (t ObjType) String() string {
	switch t {
	case ObjString:
		return "string"
	case ObjList:
		return "list"
	case ObjHash:
		return "hash"
	case ObjSet:
		return "set"
	case ObjZSet:
		return "zset"
	case ObjJSON:
		return "ReJSON-RL"
	case ObjStream:
		return "stream"
	default:
		return "none"
	}
}

// Encoding describes the internal representation of a value. It is carried
// for statistics and wire compatibility, the engine core treats it as
// opaque.
type Encoding uint8

const (
	EncRaw Encoding = iota
	EncInt
	EncListPack
	EncHashTable
	EncSkipList
	EncIntSet
	EncJSONTree
	EncStreamRax
)

// String returns the wire-protocol name of the encoding.
func (e Encoding) String() string {
	switch e {
	case EncRaw:
		return "raw"
	case EncInt:
		return "int"
	case EncListPack:
		return "listpack"
	case EncHashTable:
		return "hashtable"
	case EncSkipList:
		return "skiplist"
	case EncIntSet:
		return "intset"
	case EncJSONTree:
		return "json"
	case EncStreamRax:
		return "stream"
	default:
		return "unknown"
	}
}
