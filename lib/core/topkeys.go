package core

import (
	"sort"

	gometrics "github.com/rcrowley/go-metrics"
)

// --------------------------------------------------------------------------
// TopKeys
// --------------------------------------------------------------------------

// TopKeys is a bounded hot-key sketch. It tracks access counters for up
// to capacity keys in a go-metrics registry; once full, a new key only
// displaces the coldest tracked key when its observed pressure exceeds
// that key's counter. This keeps the sketch focused on the keys that are
// actually hot instead of the keys that were touched first.
//
// Thread-safety: not thread-safe, owned by the shard worker.
type TopKeys struct {
	registry gometrics.Registry
	capacity int
	tracked  int
	// pressure accumulates touches of untracked keys since the last
	// displacement, a cheap stand-in for per-key estimates.
	pressure int64
}

// TopKeyEntry is one entry of a TopKeys report.
type TopKeyEntry struct {
	Key   string
	Count int64
}

// NewTopKeys creates a sketch tracking at most capacity keys. A zero or
// negative capacity disables tracking.
func NewTopKeys(capacity int) *TopKeys {
	return &TopKeys{
		registry: gometrics.NewRegistry(),
		capacity: capacity,
	}
}

// Touch records one access of key.
func (t *TopKeys) Touch(key string) {
	if t.capacity <= 0 {
		return
	}
	if c := t.registry.Get(key); c != nil {
		c.(gometrics.Counter).Inc(1)
		return
	}
	if t.tracked < t.capacity {
		gometrics.GetOrRegisterCounter(key, t.registry).Inc(1)
		t.tracked++
		return
	}
	t.pressure++
	coldKey, coldCount := t.coldest()
	if t.pressure > coldCount {
		t.registry.Unregister(coldKey)
		gometrics.GetOrRegisterCounter(key, t.registry).Inc(1)
		t.pressure = 0
	}
}

func (t *TopKeys) coldest() (string, int64) {
	var key string
	var count int64 = -1
	t.registry.Each(func(name string, m any) {
		c := m.(gometrics.Counter).Count()
		if count < 0 || c < count {
			key, count = name, c
		}
	})
	return key, count
}

// Report returns the tracked keys ordered by descending count.
func (t *TopKeys) Report() []TopKeyEntry {
	var out []TopKeyEntry
	t.registry.Each(func(name string, m any) {
		out = append(out, TopKeyEntry{Key: name, Count: m.(gometrics.Counter).Count()})
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	return out
}

// Reset drops all tracked keys.
func (t *TopKeys) Reset() {
	t.registry.UnregisterAll()
	t.tracked = 0
	t.pressure = 0
}
