package core

import (
	"fmt"
)

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode)
// and an error message. All data-path errors in the engine are values of
// this type, they are never panicked across package boundaries.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message.
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("EngineError (code %s): %s", e.Code, e.Msg)
}

// Is reports whether target is an *Error with the same return code.
// This makes errors.Is work on code identity rather than message identity.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// NewError creates a new Error with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// NewErrorf creates a new Error with the given code and a formatted message.
func NewErrorf(code RetCode, format string, args ...any) *Error {
	return &Error{
		Code: code,
		Msg:  fmt.Sprintf(format, args...),
	}
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess        RetCode = iota // 0: Command executed successfully.
	RetCInternalError                 // 1: Command failed due to an internal error.
	RetCKeyNotFound                   // 2: Lookup miss or the key expired during the lookup.
	RetCWrongType                     // 3: Type-checked lookup saw a different object type.
	RetCOutOfMemory                   // 4: Insertion rejected by the eviction policy or allocator.
	RetCOutOfRange                    // 5: Expire deadline exceeds the compressed representation.
	RetCSkipped                       // 6: Expire update refused by NX/XX/GT/LT flag.
	RetCKeyMoved                      // 7: Key's slot now belongs to a peer node.
	RetCSyntaxErr                     // 8: Malformed sub-command arguments.
	RetCInvalidConfig                 // 9: Cluster config unparsable or self-inconsistent.
)

// String returns the symbolic name of the return code.
func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInternalError:
		return "InternalError"
	case RetCKeyNotFound:
		return "KeyNotFound"
	case RetCWrongType:
		return "WrongType"
	case RetCOutOfMemory:
		return "OutOfMemory"
	case RetCOutOfRange:
		return "OutOfRange"
	case RetCSkipped:
		return "Skipped"
	case RetCKeyMoved:
		return "KeyMoved"
	case RetCSyntaxErr:
		return "SyntaxErr"
	case RetCInvalidConfig:
		return "InvalidConfig"
	default:
		return "Unknown"
	}
}

// Sentinel errors for use with errors.Is. Callers that need a message
// attach one via NewError with the same code.
var (
	ErrKeyNotFound   = NewError(RetCKeyNotFound, "key not found")
	ErrWrongType     = NewError(RetCWrongType, "operation against a key holding the wrong kind of value")
	ErrOutOfMemory   = NewError(RetCOutOfMemory, "insufficient memory to complete the operation")
	ErrOutOfRange    = NewError(RetCOutOfRange, "expiration deadline out of range")
	ErrSkipped       = NewError(RetCSkipped, "operation skipped")
	ErrKeyMoved      = NewError(RetCKeyMoved, "key slot is owned by another node")
	ErrSyntax        = NewError(RetCSyntaxErr, "syntax error")
	ErrInvalidConfig = NewError(RetCInvalidConfig, "invalid cluster configuration")
)
