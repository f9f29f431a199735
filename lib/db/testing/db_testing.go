package testing

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/marlinkv/marlin/lib/core"
	"github.com/marlinkv/marlin/lib/db"
)

// SliceFactory is a function that creates a fresh DbSlice for one test
type SliceFactory func() *db.DbSlice

// RunSliceTests runs a comprehensive test suite against a DbSlice
// configuration. The slice contract is single-threaded, so all tests
// drive the slice from one goroutine the way a shard worker would.
func RunSliceTests(t *testing.T, name string, factory SliceFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Set&Get", func(t *testing.T) {
			testSetGet(t, factory())
		})

		t.Run("AddNew", func(t *testing.T) {
			testAddNew(t, factory())
		})

		t.Run("Delete", func(t *testing.T) {
			testDelete(t, factory())
		})

		t.Run("TypeMismatch", func(t *testing.T) {
			testTypeMismatch(t, factory())
		})

		t.Run("LazyExpiry", func(t *testing.T) {
			testLazyExpiry(t, factory())
		})

		t.Run("UpdateExpire", func(t *testing.T) {
			testUpdateExpire(t, factory())
		})

		t.Run("ManyExpiringKeys", func(t *testing.T) {
			testManyExpiringKeys(t, factory())
		})

		t.Run("FlushDb", func(t *testing.T) {
			testFlushDb(t, factory())
		})

		t.Run("Events", func(t *testing.T) {
			testEvents(t, factory())
		})

		t.Run("EdgeCases", func(t *testing.T) {
			testEdgeCases(t, factory())
		})

		t.Run("CollisionHandling", func(t *testing.T) {
			testCollisionHandling(t, factory())
		})

		t.Run("RealisticUsage", func(t *testing.T) {
			testRealisticUsage(t, factory())
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

const testBaseMs = int64(1_000_000)

func ctxAt(nowMs int64) db.Context {
	return db.Context{DbIndex: 0, TimeNowMs: nowMs}
}

func set(t testing.TB, s *db.DbSlice, nowMs int64, key string, value []byte) {
	t.Helper()
	if err := s.AddOrUpdate(ctxAt(nowMs), key, core.NewStringValue(value), 0); err != nil {
		t.Fatalf("AddOrUpdate(%s) failed: %v", key, err)
	}
}

func setE(t testing.TB, s *db.DbSlice, nowMs int64, key string, value []byte, expireAtMs int64) {
	t.Helper()
	if err := s.AddOrUpdate(ctxAt(nowMs), key, core.NewStringValue(value), expireAtMs); err != nil {
		t.Fatalf("AddOrUpdate(%s) failed: %v", key, err)
	}
}

// get reads key as a string value and reports whether it exists.
func get(t testing.TB, s *db.DbSlice, nowMs int64, key string) ([]byte, bool) {
	t.Helper()
	ctx := ctxAt(nowMs)
	res, err := s.FindReadOnly(ctx, key, core.ObjString)
	if err != nil {
		if core.ErrKeyNotFound.Is(err) {
			return nil, false
		}
		t.Fatalf("FindReadOnly(%s) failed: %v", key, err)
	}
	dbt := s.GetDBTable(ctx)
	return dbt.Prime().Value(res.It).StringData(), true
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testSetGet(t *testing.T, s *db.DbSlice) {
	now := testBaseMs

	testKey := "test-key"
	testValue1 := []byte("test-value1")
	testValue2 := []byte("test-value2")

	set(t, s, now, testKey, testValue1)

	result, exists := get(t, s, now, testKey)
	if !exists {
		t.Errorf("Expected key %s to exist after AddOrUpdate", testKey)
	}
	if !bytes.Equal(result, testValue1) {
		t.Errorf("Expected value %s, got %s", testValue1, result)
	}

	set(t, s, now, testKey, testValue2)

	result, exists = get(t, s, now, testKey)
	if !exists {
		t.Errorf("Expected key %s to exist after update", testKey)
	}
	if !bytes.Equal(result, testValue2) {
		t.Errorf("Expected value %s, got %s", testValue2, result)
	}

	_, exists = get(t, s, now, "nonexistent-key")
	if exists {
		t.Errorf("Expected nonexistent key to return exists=false")
	}

	if size := s.DbSize(0); size != 1 {
		t.Errorf("Expected db size 1, got %d", size)
	}
}

func testAddNew(t *testing.T, s *db.DbSlice) {
	now := testBaseMs

	testKey := "add-new-key"
	testValue1 := []byte("first")
	testValue2 := []byte("second")

	if err := s.AddNew(ctxAt(now), testKey, core.NewStringValue(testValue1), 0); err != nil {
		t.Fatalf("AddNew on a fresh key failed: %v", err)
	}

	result, exists := get(t, s, now, testKey)
	if !exists || !bytes.Equal(result, testValue1) {
		t.Errorf("Expected value %s after AddNew, got %s (exists=%v)", testValue1, result, exists)
	}

	res, err := s.AddOrFind(ctxAt(now), testKey)
	if err != nil {
		t.Fatalf("AddOrFind failed: %v", err)
	}
	if res.IsNew {
		t.Errorf("AddOrFind reported IsNew for an existing key")
	}
	res.Updater.Run()

	set(t, s, now, testKey, testValue2)
	result, _ = get(t, s, now, testKey)
	if !bytes.Equal(result, testValue2) {
		t.Errorf("Expected value %s after overwrite, got %s", testValue2, result)
	}
}

func testDelete(t *testing.T, s *db.DbSlice) {
	now := testBaseMs

	testKey := "delete-test-key"
	testValue := []byte("delete-test-value")

	set(t, s, now, testKey, testValue)

	if _, exists := get(t, s, now, testKey); !exists {
		t.Errorf("Expected key %s to exist after AddOrUpdate", testKey)
	}

	if !s.Del(ctxAt(now), testKey) {
		t.Errorf("Expected Del to report true for an existing key")
	}

	if _, exists := get(t, s, now, testKey); exists {
		t.Errorf("Expected key %s to not exist after Del", testKey)
	}

	if s.Del(ctxAt(now), "nonexistent-key") {
		t.Errorf("Expected Del to report false for a nonexistent key")
	}
}

func testTypeMismatch(t *testing.T, s *db.DbSlice) {
	now := testBaseMs

	testKey := "typed-key"
	set(t, s, now, testKey, []byte("string-value"))

	_, err := s.FindReadOnly(ctxAt(now), testKey, core.ObjList)
	if err == nil {
		t.Fatalf("Expected a type error when reading a string as a list")
	}
	if core.ErrKeyNotFound.Is(err) {
		t.Errorf("Type mismatch must not report key-not-found")
	}

	if _, err := s.FindReadOnly(ctxAt(now), testKey, core.ObjAny); err != nil {
		t.Errorf("ObjAny lookup failed on an existing key: %v", err)
	}
}

func testLazyExpiry(t *testing.T, s *db.DbSlice) {
	now := testBaseMs

	testKey := "expiring-key"
	testValue := []byte("expiring-value")

	setE(t, s, now, testKey, testValue, now+100)

	result, exists := get(t, s, now+99, testKey)
	if !exists {
		t.Errorf("Key should still exist 1ms before its deadline")
	}
	if !bytes.Equal(result, testValue) {
		t.Errorf("Expected value %s, got %s", testValue, result)
	}

	if _, exists = get(t, s, now+100, testKey); exists {
		t.Errorf("Key should have expired at its deadline")
	}

	if s.DbSize(0) != 0 {
		t.Errorf("Lazy expiry should have removed the entry from the table")
	}

	testKey2 := "not-expiring-key"
	testValue2 := []byte("not-expiring-value")

	setE(t, s, now, testKey2, testValue2, 0)

	if _, exists = get(t, s, now+1_000_000, testKey2); !exists {
		t.Errorf("Key without a deadline should never expire")
	}

	// replay paths disable lazy expiry
	testKey3 := "replayed-key"
	setE(t, s, now, testKey3, []byte("v"), now+10)

	s.SetExpireAllowed(false)
	if _, exists = get(t, s, now+20, testKey3); !exists {
		t.Errorf("Key should survive its deadline while expiry is disabled")
	}
	s.SetExpireAllowed(true)

	if _, exists = get(t, s, now+20, testKey3); exists {
		t.Errorf("Key should expire once expiry is re-enabled")
	}
}

func testUpdateExpire(t *testing.T, s *db.DbSlice) {
	now := testBaseMs

	testKey := "expire-update-key"
	set(t, s, now, testKey, []byte("v"))

	// relative deadline in seconds
	res, err := s.FindMutable(ctxAt(now), testKey, core.ObjString)
	if err != nil {
		t.Fatalf("FindMutable failed: %v", err)
	}
	deadline, err := s.UpdateExpire(ctxAt(now), &res, db.ExpireParams{Value: 10, UnitSec: true})
	if err != nil {
		t.Fatalf("UpdateExpire failed: %v", err)
	}
	if deadline != now+10_000 {
		t.Errorf("Expected deadline %d, got %d", now+10_000, deadline)
	}

	// NX must not overwrite an existing deadline
	res, err = s.FindMutable(ctxAt(now), testKey, core.ObjString)
	if err != nil {
		t.Fatalf("FindMutable failed: %v", err)
	}
	_, err = s.UpdateExpire(ctxAt(now), &res, db.ExpireParams{Value: 99, UnitSec: true, Flags: db.ExpireNX})
	if !core.ErrSkipped.Is(err) {
		t.Errorf("Expected NX on a key with a deadline to be skipped, got %v", err)
	}

	// GT keeps the later deadline
	res, err = s.FindMutable(ctxAt(now), testKey, core.ObjString)
	if err != nil {
		t.Fatalf("FindMutable failed: %v", err)
	}
	_, err = s.UpdateExpire(ctxAt(now), &res, db.ExpireParams{Value: 5, UnitSec: true, Flags: db.ExpireGT})
	if !core.ErrSkipped.Is(err) {
		t.Errorf("Expected GT with an earlier deadline to be skipped, got %v", err)
	}

	// persist removes the deadline
	res, err = s.FindMutable(ctxAt(now), testKey, core.ObjString)
	if err != nil {
		t.Fatalf("FindMutable failed: %v", err)
	}
	deadline, err = s.UpdateExpire(ctxAt(now), &res, db.ExpireParams{Persist: true})
	if err != nil {
		t.Fatalf("Persist failed: %v", err)
	}
	if deadline != 0 {
		t.Errorf("Expected deadline 0 after persist, got %d", deadline)
	}
	if _, exists := get(t, s, now+1_000_000, testKey); !exists {
		t.Errorf("Persisted key should not expire")
	}

	// a deadline in the past deletes the key
	res, err = s.FindMutable(ctxAt(now), testKey, core.ObjString)
	if err != nil {
		t.Fatalf("FindMutable failed: %v", err)
	}
	deadline, err = s.UpdateExpire(ctxAt(now), &res, db.ExpireParams{Value: -10})
	if err != nil {
		t.Fatalf("UpdateExpire with a past deadline failed: %v", err)
	}
	if deadline != -1 {
		t.Errorf("Expected -1 for a past deadline, got %d", deadline)
	}
	if _, exists := get(t, s, now, testKey); exists {
		t.Errorf("Key should be gone after a past deadline")
	}
}

func testManyExpiringKeys(t *testing.T, s *db.DbSlice) {
	now := testBaseMs
	numKeys := 1000

	for i := 0; i < numKeys; i++ {
		key := fmt.Sprintf("expire-key-%d", i)
		value := []byte(fmt.Sprintf("expire-value-%d", i))
		ttl := int64(i % 100)
		var deadline int64
		if ttl > 0 {
			deadline = now + ttl
		}
		setE(t, s, now, key, value, deadline)

		if _, exists := get(t, s, now, key); !exists {
			t.Errorf("Key %s not found after AddOrUpdate", key)
		}
	}

	// the active sweep collects due entries without lookups
	sweepAt := now + 50
	for i := 0; i < 1000; i++ {
		if s.DeleteExpiredStep(ctxAt(sweepAt), 10) == 0 {
			break
		}
	}

	for i := 0; i < numKeys; i++ {
		key := fmt.Sprintf("expire-key-%d", i)
		ttl := int64(i % 100)

		_, exists := get(t, s, sweepAt, key)
		if ttl > 0 && ttl <= 50 {
			if exists {
				t.Errorf("Key %s should have expired at offset 50 (TTL=%d)", key, ttl)
			}
		} else if !exists {
			t.Errorf("Key %s should still exist at offset 50 (TTL=%d)", key, ttl)
		}
	}
}

func testFlushDb(t *testing.T, s *db.DbSlice) {
	now := testBaseMs

	for i := 0; i < 100; i++ {
		key := fmt.Sprintf("flush-key-%d", i)
		if err := s.AddOrUpdate(db.Context{DbIndex: 0, TimeNowMs: now}, key, core.NewStringValue([]byte("v")), 0); err != nil {
			t.Fatalf("AddOrUpdate failed: %v", err)
		}
		if err := s.AddOrUpdate(db.Context{DbIndex: 1, TimeNowMs: now}, key, core.NewStringValue([]byte("v")), 0); err != nil {
			t.Fatalf("AddOrUpdate failed: %v", err)
		}
	}

	s.FlushDb(db.Context{DbIndex: 0, TimeNowMs: now})

	if size := s.DbSize(0); size != 0 {
		t.Errorf("Expected db 0 to be empty after FlushDb, got %d keys", size)
	}
	if size := s.DbSize(1); size != 100 {
		t.Errorf("Expected db 1 to be untouched by FlushDb, got %d keys", size)
	}

	s.FlushAll(now)

	if size := s.DbSize(1); size != 0 {
		t.Errorf("Expected db 1 to be empty after FlushAll, got %d keys", size)
	}
}

func testEvents(t *testing.T, s *db.DbSlice) {
	now := testBaseMs

	before := s.Events()

	set(t, s, now, "events-key", []byte("v"))
	get(t, s, now, "events-key")
	get(t, s, now, "events-miss")
	setE(t, s, now, "events-expiring", []byte("v"), now+1)
	get(t, s, now+2, "events-expiring")

	after := s.Events()

	if after.Mutations <= before.Mutations {
		t.Errorf("Expected mutation counter to advance")
	}
	if after.Hits <= before.Hits {
		t.Errorf("Expected hit counter to advance")
	}
	if after.Misses <= before.Misses {
		t.Errorf("Expected miss counter to advance")
	}
	if after.ExpiredKeys <= before.ExpiredKeys {
		t.Errorf("Expected expired-key counter to advance")
	}
}

func testEdgeCases(t *testing.T, s *db.DbSlice) {
	now := testBaseMs

	emptyKey := ""
	emptyKeyValue := []byte("value for empty key")

	set(t, s, now, emptyKey, emptyKeyValue)

	result, exists := get(t, s, now, emptyKey)
	if !exists {
		t.Errorf("Empty key not found after AddOrUpdate")
	} else if !bytes.Equal(result, emptyKeyValue) {
		t.Errorf("Value mismatch for empty key")
	}

	emptyValueKey := "empty-value-key"
	var emptyValue []byte

	set(t, s, now, emptyValueKey, emptyValue)

	result, exists = get(t, s, now, emptyValueKey)
	if !exists {
		t.Errorf("Key for empty value not found after AddOrUpdate")
	} else if len(result) != 0 {
		t.Errorf("Empty value resulted in non-empty value: %v", result)
	}

	largeKey := string(make([]byte, 1000))
	largeKeyValue := []byte("value for large key")

	set(t, s, now, largeKey, largeKeyValue)

	result, exists = get(t, s, now, largeKey)
	if !exists {
		t.Errorf("Large key not found after AddOrUpdate")
	} else if !bytes.Equal(result, largeKeyValue) {
		t.Errorf("Value mismatch for large key")
	}

	largeValueKey := "large-value-key"
	largeValue := make([]byte, 1024*1024)
	for i := range largeValue {
		largeValue[i] = byte(i % 256)
	}

	set(t, s, now, largeValueKey, largeValue)

	result, exists = get(t, s, now, largeValueKey)
	if !exists {
		t.Errorf("Key for large value not found after AddOrUpdate")
	} else if !bytes.Equal(result, largeValue) {
		t.Errorf("Large value mismatch")
	}
}

func testCollisionHandling(t *testing.T, s *db.DbSlice) {
	now := testBaseMs

	prefix := "collision-test-"
	numKeys := 1000

	for i := 0; i < numKeys; i++ {
		key := fmt.Sprintf("%s%d", prefix, i)
		value := []byte(fmt.Sprintf("value-%d", i))
		set(t, s, now, key, value)
	}

	for i := 0; i < numKeys; i++ {
		key := fmt.Sprintf("%s%d", prefix, i)
		expectedValue := []byte(fmt.Sprintf("value-%d", i))

		actualValue, exists := get(t, s, now, key)
		if !exists {
			t.Errorf("Key %s not found", key)
			continue
		}
		if !bytes.Equal(actualValue, expectedValue) {
			t.Errorf("Value for key %s does not match: expected %s, got %s",
				key, expectedValue, actualValue)
		}
	}

	for i := 0; i < numKeys; i += 2 {
		key := fmt.Sprintf("%s%d", prefix, i)
		s.Del(ctxAt(now), key)
	}

	for i := 0; i < numKeys; i++ {
		key := fmt.Sprintf("%s%d", prefix, i)
		_, exists := get(t, s, now, key)

		if i%2 == 0 {
			if exists {
				t.Errorf("Key %s should be deleted", key)
			}
		} else {
			if !exists {
				t.Errorf("Key %s should still exist", key)
			}
		}
	}
}

func testRealisticUsage(t *testing.T, s *db.DbSlice) {
	now := testBaseMs
	numOperations := 10_000

	// the slice is owned by one worker, so the workload is sequential;
	// a shadow map tracks the expected state
	shadow := make(map[string][]byte)

	for i := 0; i < numOperations; i++ {
		var op string
		switch i % 10 {
		case 0, 1, 2, 3, 4, 5, 6:
			op = "set"
		case 7, 8:
			op = "get"
		case 9:
			op = "delete"
		}

		var key string
		if i%5 == 0 {
			key = fmt.Sprintf("hot-key-%d", i%50)
		} else {
			key = fmt.Sprintf("key-%d", i)
		}

		switch op {
		case "set":
			valueSize := 64
			if i%10 == 0 {
				valueSize = 1024
			}
			value := make([]byte, valueSize)
			for j := 0; j < valueSize; j++ {
				value[j] = byte((i + j) % 256)
			}
			set(t, s, now, key, value)
			shadow[key] = value
		case "get":
			actual, exists := get(t, s, now, key)
			expected, want := shadow[key]
			if exists != want {
				t.Errorf("Existence mismatch for key %s: got %v, want %v", key, exists, want)
			} else if exists && !bytes.Equal(actual, expected) {
				t.Errorf("Value mismatch for key %s", key)
			}
		case "delete":
			_, want := shadow[key]
			if got := s.Del(ctxAt(now), key); got != want {
				t.Errorf("Del(%s) reported %v, want %v", key, got, want)
			}
			delete(shadow, key)
		}
	}

	for key, expected := range shadow {
		actual, exists := get(t, s, now, key)
		if !exists {
			t.Errorf("Key %s missing in final verification", key)
			continue
		}
		if !bytes.Equal(actual, expected) {
			t.Errorf("Value mismatch for key %s in final verification", key)
		}
	}

	if size := s.DbSize(0); size != len(shadow) {
		t.Errorf("Expected db size %d, got %d", len(shadow), size)
	}
}
