// Package core defines the data model shared by the engine's storage
// layers: keys, values, object types, compressed expirations, intent
// locks, per-slot statistics and the hot-key sketch.
//
// The package focuses on:
//   - A compact key representation with inline storage for short keys
//     and per-key metadata bits (sticky, has-expire, has-flag)
//   - A tagged-union value type covering all supported object types
//     with a heap-usage accessor
//   - A compressed relative expiration representation measured from a
//     per-table base timestamp
//   - Intent locks with shared and exclusive modes keyed by lock keys
//   - Typed error values with stable return codes
//
// All types in this package are plain data and are not safe for
// concurrent use unless explicitly documented otherwise. They are owned
// by exactly one shard worker at a time.
package core
