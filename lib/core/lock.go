package core

import (
	"strings"
)

// --------------------------------------------------------------------------
// Intent Locks
// --------------------------------------------------------------------------

// LockMode is the mode of an intent lock.
type LockMode uint8

const (
	LockShared LockMode = iota
	LockExclusive
)

// String returns the symbolic name of the lock mode.
func (m LockMode) String() string {
	if m == LockExclusive {
		return "EXCLUSIVE"
	}
	return "SHARED"
}

// LockKey identifies a lock in the lock table. Keys created from
// transient command arguments must be converted with Owned before they
// are stored beyond the current command.
type LockKey struct {
	key string
}

// NewLockKey creates a lock key that aliases the given string. It is
// valid only for the duration of the current command.
func NewLockKey(key string) LockKey {
	return LockKey{key: key}
}

// Owned returns a lock key backed by its own allocation, safe to retain
// across commands (multi transactions hold locks between commands).
func (k LockKey) Owned() LockKey {
	return LockKey{key: strings.Clone(k.key)}
}

// String returns the underlying key string.
func (k LockKey) String() string { return k.key }

// IntentLock is a two-mode reference-counted lock. It carries no waiter
// queue, callers that fail to acquire retry through their scheduler.
type IntentLock struct {
	cnt [2]uint32
}

// Acquire tries to take the lock in the given mode. Shared mode is
// compatible with other shared holders, exclusive mode requires the lock
// to be completely free.
func (l *IntentLock) Acquire(mode LockMode) bool {
	if l.cnt[LockExclusive] > 0 {
		return false
	}
	if mode == LockExclusive && l.cnt[LockShared] > 0 {
		return false
	}
	l.cnt[mode]++
	return true
}

// Release drops one reference of the given mode.
func (l *IntentLock) Release(mode LockMode) {
	if l.cnt[mode] == 0 {
		panic("intent lock: release without matching acquire")
	}
	l.cnt[mode]--
}

// Check reports whether an acquire in the given mode would succeed.
func (l *IntentLock) Check(mode LockMode) bool {
	if l.cnt[LockExclusive] > 0 {
		return false
	}
	return mode == LockShared || l.cnt[LockShared] == 0
}

// IsFree reports whether no references are held.
func (l *IntentLock) IsFree() bool {
	return l.cnt[LockShared] == 0 && l.cnt[LockExclusive] == 0
}

// LockTable maps lock keys to intent-lock state for one database index.
//
// Thread-safety: not thread-safe. A lock table is owned by its shard
// worker like the rest of the database tables.
type LockTable struct {
	locks map[LockKey]*IntentLock
}

// NewLockTable creates an empty lock table.
func NewLockTable() *LockTable {
	return &LockTable{locks: make(map[LockKey]*IntentLock)}
}

// Acquire atomically tries all requested keys in the given mode. Keys are
// deduplicated first. If any key refuses, Acquire returns false and the
// locks taken for the preceding keys of this call remain held, releasing
// them on failure is the caller's responsibility.
func (t *LockTable) Acquire(keys []LockKey, mode LockMode) bool {
	seen := make(map[LockKey]struct{}, len(keys))
	for _, k := range keys {
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		lock, ok := t.locks[k]
		if !ok {
			lock = &IntentLock{}
			t.locks[k.Owned()] = lock
		}
		if !lock.Acquire(mode) {
			return false
		}
	}
	return true
}

// Release drops one reference of the given mode for each key. When an
// entry's last reference is released the entry is erased.
func (t *LockTable) Release(keys []LockKey, mode LockMode) {
	seen := make(map[LockKey]struct{}, len(keys))
	for _, k := range keys {
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		lock, ok := t.locks[k]
		if !ok {
			panic("intent lock: release of unknown key " + k.String())
		}
		lock.Release(mode)
		if lock.IsFree() {
			delete(t.locks, k)
		}
	}
}

// Check reports whether all keys could be acquired in the given mode
// without mutating any state.
func (t *LockTable) Check(keys []LockKey, mode LockMode) bool {
	for _, k := range keys {
		if lock, ok := t.locks[k]; ok && !lock.Check(mode) {
			return false
		}
	}
	return true
}

// IsLocked reports whether any reference is held for the key.
func (t *LockTable) IsLocked(key LockKey) bool {
	_, ok := t.locks[key]
	return ok
}

// Size returns the number of keys with held references.
func (t *LockTable) Size() int { return len(t.locks) }
