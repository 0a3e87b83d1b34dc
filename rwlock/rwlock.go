// Package rwlock provides the public API for the recursive reader-writer
// lock.
//
// See doc.go for detailed documentation and examples.
package rwlock

import internal "github.com/kolkov/rwlock/internal/lock"

// RecursionMode selects whether a lock tracks per-goroutine holds.
type RecursionMode int

const (
	// NonRecursive locks track no goroutine identity. Re-acquisition and
	// read-to-write upgrade are not available and self-deadlock under
	// contention; this matches the behavior of sync.RWMutex.
	NonRecursive RecursionMode = iota

	// Recursive locks let the owning goroutine re-take read or write
	// access it already holds and upgrade a held read lock to a write
	// lock in place.
	Recursive
)

// String returns the mode name.
func (m RecursionMode) String() string {
	switch m {
	case NonRecursive:
		return "non-recursive"
	case Recursive:
		return "recursive"
	default:
		return "unknown"
	}
}

// A ReadWriteLock coordinates shared (read) and exclusive (write) access to
// a resource. Any number of goroutines may read concurrently; at most one
// goroutine writes, with no concurrent readers other than itself.
//
// The lock is writer-preferring: readers arriving while a writer is active
// or waiting block until the writer has been served. This bounds writer
// wait time at the cost of reader throughput under sustained writes.
//
// A ReadWriteLock must not be copied by value; New returns a pointer and
// all state lives behind it.
type ReadWriteLock struct {
	core *internal.Core
}

// Stats is a consistent snapshot of a lock's counters. Intended for tests
// and diagnostics, not for admission decisions: the lock may change state
// the instant the snapshot is taken.
type Stats = internal.Stats

// New creates a non-recursive lock, equivalent to NewWithMode(NonRecursive).
func New() *ReadWriteLock {
	return NewWithMode(NonRecursive)
}

// NewWithMode creates a lock with the given recursion mode. The mode is
// fixed for the lifetime of the lock.
func NewWithMode(mode RecursionMode) *ReadWriteLock {
	return &ReadWriteLock{core: internal.NewCore(mode == Recursive)}
}

// Mode returns the lock's recursion mode.
func (l *ReadWriteLock) Mode() RecursionMode {
	if l.core.Recursive() {
		return Recursive
	}
	return NonRecursive
}

// LockForRead acquires shared access, blocking while a writer is active or
// waiting.
//
// In Recursive mode the call never blocks when the calling goroutine
// already holds read access (the hold nests) or holds the write lock (the
// writer reads its own data). Every call must be paired with exactly one
// UnlockRead.
func (l *ReadWriteLock) LockForRead() {
	l.core.LockForRead()
}

// LockForWrite acquires exclusive access, blocking while another writer is
// active or readers remain.
//
// In Recursive mode the current writer may nest the call, and a goroutine
// holding read access upgrades to write access in place, proceeding as soon
// as it is the only remaining reader. In NonRecursive mode an upgrade
// attempt is indistinguishable from a fresh write request and deadlocks on
// the caller's own read hold; see the package documentation. Every call
// must be paired with exactly one UnlockWrite.
func (l *ReadWriteLock) LockForWrite() {
	l.core.LockForWrite()
}

// UnlockRead releases one read hold. Calling it without a matching
// LockForRead is a fatal usage error and panics.
func (l *ReadWriteLock) UnlockRead() {
	l.core.UnlockRead()
}

// UnlockWrite releases one write hold. Calling it without a matching
// LockForWrite is a fatal usage error and panics.
func (l *ReadWriteLock) UnlockWrite() {
	l.core.UnlockWrite()
}

// Stats returns a snapshot of the lock's counters.
func (l *ReadWriteLock) Stats() Stats {
	return l.core.Stats()
}
