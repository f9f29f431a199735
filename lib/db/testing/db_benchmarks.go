package testing

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/marlinkv/marlin/lib/core"
	"github.com/marlinkv/marlin/lib/db"
)

// RunSliceBenchmarks runs all benchmarks for a DbSlice configuration.
// Benchmarks are sequential, matching the single worker that owns a
// slice in a running node.
func RunSliceBenchmarks(b *testing.B, name string, factory SliceFactory) {
	b.Run(name, func(b *testing.B) {
		b.Run("Set", func(b *testing.B) {
			benchmarkSet(b, factory())
		})

		b.Run("SetExisting", func(b *testing.B) {
			benchmarkSetExisting(b, factory())
		})

		b.Run("SetLargeValue", func(b *testing.B) {
			benchmarkSetLargeValue(b, factory())
		})

		b.Run("SetWithExpiry", func(b *testing.B) {
			benchmarkSetWithExpiry(b, factory())
		})

		b.Run("Get", func(b *testing.B) {
			benchmarkGet(b, factory())
		})

		b.Run("Get(miss)", func(b *testing.B) {
			benchmarkGetMiss(b, factory())
		})

		b.Run("GetWithExpiry", func(b *testing.B) {
			benchmarkGetWithExpiry(b, factory())
		})

		b.Run("Delete", func(b *testing.B) {
			benchmarkDelete(b, factory())
		})

		b.Run("ExpirySweep", func(b *testing.B) {
			benchmarkExpirySweep(b, factory())
		})

		b.Run("MixedUsage", func(b *testing.B) {
			benchmarkMixedUsage(b, factory())
		})
	})
}

// --------------------------------------------------------------------------
// Benchmark functions
// --------------------------------------------------------------------------

func benchmarkSet(b *testing.B, s *db.DbSlice) {
	ctx := ctxAt(testBaseMs)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		key := fmt.Sprintf("test-key-%d", i)
		value := []byte(fmt.Sprintf("test-value-%d", i))
		if err := s.AddOrUpdate(ctx, key, core.NewStringValue(value), 0); err != nil {
			b.Fatalf("AddOrUpdate failed: %v", err)
		}
	}
}

func benchmarkSetExisting(b *testing.B, s *db.DbSlice) {
	ctx := ctxAt(testBaseMs)

	numKeys := 10_000
	for i := 0; i < numKeys; i++ {
		key := fmt.Sprintf("test-key-%d", i)
		value := []byte(fmt.Sprintf("test-value-%d", i))
		if err := s.AddOrUpdate(ctx, key, core.NewStringValue(value), 0); err != nil {
			b.Fatalf("AddOrUpdate failed: %v", err)
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		key := fmt.Sprintf("test-key-%d", i%numKeys)
		value := []byte(fmt.Sprintf("test-value-%d", i))
		if err := s.AddOrUpdate(ctx, key, core.NewStringValue(value), 0); err != nil {
			b.Fatalf("AddOrUpdate failed: %v", err)
		}
	}
}

func benchmarkSetLargeValue(b *testing.B, s *db.DbSlice) {
	ctx := ctxAt(testBaseMs)
	largeValue := make([]byte, 1*1024*1024) // 1MB

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		key := fmt.Sprintf("test-key-%d", i)
		if err := s.AddOrUpdate(ctx, key, core.NewStringValue(largeValue), 0); err != nil {
			b.Fatalf("AddOrUpdate failed: %v", err)
		}
	}
}

func benchmarkSetWithExpiry(b *testing.B, s *db.DbSlice) {
	ctx := ctxAt(testBaseMs)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		key := fmt.Sprintf("test-expiry-key-%d", i)
		value := []byte(fmt.Sprintf("test-expiry-value-%d", i))
		if err := s.AddOrUpdate(ctx, key, core.NewStringValue(value), testBaseMs+int64(i)+1); err != nil {
			b.Fatalf("AddOrUpdate failed: %v", err)
		}
	}
}

func benchmarkGet(b *testing.B, s *db.DbSlice) {
	ctx := ctxAt(testBaseMs)

	numKeys := 10_000
	for i := 0; i < numKeys; i++ {
		key := fmt.Sprintf("test-key-%d", i)
		value := []byte(fmt.Sprintf("test-value-%d", i))
		if err := s.AddOrUpdate(ctx, key, core.NewStringValue(value), 0); err != nil {
			b.Fatalf("AddOrUpdate failed: %v", err)
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		key := fmt.Sprintf("test-key-%d", i%numKeys)
		if _, err := s.FindReadOnly(ctx, key, core.ObjString); err != nil {
			b.Fatalf("FindReadOnly failed: %v", err)
		}
	}
}

func benchmarkGetMiss(b *testing.B, s *db.DbSlice) {
	ctx := ctxAt(testBaseMs)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, err := s.FindReadOnly(ctx, "missing-key", core.ObjString)
		if !core.ErrKeyNotFound.Is(err) {
			b.Fatalf("Expected key-not-found, got %v", err)
		}
	}
}

func benchmarkGetWithExpiry(b *testing.B, s *db.DbSlice) {
	numKeys := 10_000
	ctx := ctxAt(testBaseMs)

	// 50% of the keys carry a deadline, about half of those are due
	for i := 0; i < numKeys; i++ {
		key := fmt.Sprintf("test-expiry-key-%d", i)
		value := []byte(fmt.Sprintf("test-expiry-value-%d", i))
		var deadline int64
		if i%2 == 0 {
			deadline = testBaseMs + int64(i%1000)
		}
		if err := s.AddOrUpdate(ctx, key, core.NewStringValue(value), deadline); err != nil {
			b.Fatalf("AddOrUpdate failed: %v", err)
		}
	}

	readCtx := ctxAt(testBaseMs + 500)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		key := fmt.Sprintf("test-expiry-key-%d", i%numKeys)
		_, err := s.FindReadOnly(readCtx, key, core.ObjString)
		if err != nil && !core.ErrKeyNotFound.Is(err) {
			b.Fatalf("FindReadOnly failed: %v", err)
		}
	}
}

func benchmarkDelete(b *testing.B, s *db.DbSlice) {
	ctx := ctxAt(testBaseMs)

	numKeys := 100_000
	if b.N < numKeys {
		numKeys = b.N
	}

	keys := make([]string, numKeys)
	for i := 0; i < numKeys; i++ {
		keys[i] = fmt.Sprintf("test-key-%d", i)
		value := []byte(fmt.Sprintf("test-value-%d", i))
		if err := s.AddOrUpdate(ctx, keys[i], core.NewStringValue(value), 0); err != nil {
			b.Fatalf("AddOrUpdate failed: %v", err)
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.Del(ctx, keys[i%numKeys])
	}
}

func benchmarkExpirySweep(b *testing.B, s *db.DbSlice) {
	ctx := ctxAt(testBaseMs)

	numKeys := 50_000
	for i := 0; i < numKeys; i++ {
		key := fmt.Sprintf("sweep-key-%d", i)
		value := []byte(fmt.Sprintf("sweep-value-%d", i))
		if err := s.AddOrUpdate(ctx, key, core.NewStringValue(value), testBaseMs+int64(i%2000)+1); err != nil {
			b.Fatalf("AddOrUpdate failed: %v", err)
		}
	}

	sweepCtx := ctxAt(testBaseMs + 1000)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.DeleteExpiredStep(sweepCtx, 4)
	}
}

func benchmarkMixedUsage(b *testing.B, s *db.DbSlice) {
	ctx := ctxAt(testBaseMs)

	numKeys := 100_000
	if b.N < numKeys {
		numKeys = b.N
	}
	if numKeys == 0 {
		numKeys = 1
	}

	keys := make([]string, numKeys)
	for i := 0; i < numKeys; i++ {
		keys[i] = fmt.Sprintf("test-key-%d", i)
		value := []byte(fmt.Sprintf("test-value-%d", i))
		if err := s.AddOrUpdate(ctx, keys[i], core.NewStringValue(value), 0); err != nil {
			b.Fatalf("AddOrUpdate failed: %v", err)
		}
	}

	rnd := rand.New(rand.NewSource(42))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		// for every 10th operation, use a completely new key
		var key string
		if i%10 == 0 {
			key = fmt.Sprintf("new-key-%d", i)
		} else {
			key = keys[rnd.Intn(numKeys)]
		}

		switch i % 5 {
		case 0, 1: // Get
			_, err := s.FindReadOnly(ctx, key, core.ObjString)
			if err != nil && !core.ErrKeyNotFound.Is(err) {
				b.Fatalf("FindReadOnly failed: %v", err)
			}
		case 2, 3: // Set
			value := []byte(fmt.Sprintf("mixed-value-%d", i))
			if err := s.AddOrUpdate(ctx, key, core.NewStringValue(value), 0); err != nil {
				b.Fatalf("AddOrUpdate failed: %v", err)
			}
		case 4: // Delete
			s.Del(ctx, key)
		}
	}
}
