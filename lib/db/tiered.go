package db

import (
	"github.com/marlinkv/marlin/lib/core"
)

// TieredStorage is the load/free/cancel interface of the external value
// store. The engine core only drives it, the implementation lives
// elsewhere.
type TieredStorage interface {
	// Load synchronously fetches the body of an external value. It may
	// suspend the calling worker cooperatively, callers must refresh
	// any table iterator they hold afterwards.
	Load(dbIndex int, key string) ([]byte, error)
	// CancelIO aborts an in-flight write-back for the key.
	CancelIO(dbIndex int, key string)
	// Free releases the external body of a deleted key.
	Free(dbIndex int, key string)
}

// nopTiered rejects loads. It backs slices running without a tiered
// store, where external values cannot exist in the first place.
type nopTiered struct{}

func (nopTiered) Load(int, string) ([]byte, error) {
	return nil, core.NewError(core.RetCInternalError, "tiered storage not configured")
}
func (nopTiered) CancelIO(int, string) {}
func (nopTiered) Free(int, string)     {}
