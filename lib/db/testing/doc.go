// Package testing provides standardised tests and benchmarks for
// DbSlice configurations.
//
// The package contains:
//   - testing: A test suite exercising the read path, write path, expiry
//     and flush behaviour of a slice
//   - benchmark: Performance tests for measuring throughput of common
//     slice operations
//
// This package is particularly useful for:
//   - Validating that different slice configurations (caching mode,
//     cluster mode, memory budgets) honour the same behavioural contract
//   - Measuring how configuration changes affect throughput
//
// Example usage:
//
//	// Creating a factory function for a configuration
//	factory := func() *db.DbSlice {
//		return db.New(db.Options{ShardID: 0, DbCount: 16})
//	}
//
//	// Running the standard test suite
//	testing.RunSliceTests(t, "Default", factory)
//
//	// Running performance benchmarks
//	testing.RunSliceBenchmarks(b, "Default", factory)
//
// All tests drive the slice from a single goroutine, matching the
// ownership model of a shard worker.
package testing
