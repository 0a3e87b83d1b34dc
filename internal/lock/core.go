package lock

import (
	"sync"

	"github.com/kolkov/rwlock/internal/goid"
)

// Core owns all synchronization state for one reader-writer lock.
//
// Every field is guarded by mu. The public methods acquire mu for their
// entire critical section; the only points where a goroutine holds a
// conceptual interest in the lock without holding mu are the condition
// variable waits, during which mu is released and re-acquired by Wait.
//
// The zero value is not usable; construct with NewCore.
type Core struct {
	mu         sync.Mutex
	readerWait *sync.Cond // readers blocked in LockForRead
	writerWait *sync.Cond // writers blocked in LockForWrite

	// recursive is fixed at construction and never changes.
	recursive bool

	// writerGID is the goroutine ID of the current writer, 0 when no
	// writer is active. In non-recursive mode identity is never tracked
	// and this stays 0 even while a writer is active.
	writerGID int64

	activeReaders  int
	activeWriters  int
	waitingReaders int
	waitingWriters int

	// readerHolds maps goroutine ID to that goroutine's nested read
	// count. Allocated in recursive mode only; entries are strictly
	// positive and removed when a count reaches zero.
	readerHolds map[int64]int
}

// Stats is a consistent snapshot of the lock's counters, taken under the
// monitor mutex. Used by tests and by the stress tool's invariant checks.
type Stats struct {
	ActiveReaders  int
	ActiveWriters  int
	WaitingReaders int
	WaitingWriters int

	// WriterGID is the goroutine ID of the current writer, 0 when none
	// (and always 0 in non-recursive mode).
	WriterGID int64

	// ReaderGoroutines is the number of distinct goroutines currently
	// holding read access. Always 0 in non-recursive mode, which tracks
	// no identities.
	ReaderGoroutines int
}

// NewCore creates a lock core. With recursive set, per-goroutine hold
// bookkeeping is enabled and re-entrant acquisition and read-to-write
// upgrade become available.
func NewCore(recursive bool) *Core {
	c := &Core{recursive: recursive}
	c.readerWait = sync.NewCond(&c.mu)
	c.writerWait = sync.NewCond(&c.mu)
	if recursive {
		c.readerHolds = make(map[int64]int)
	}
	return c
}

// Recursive reports whether the core was built in recursive mode.
func (c *Core) Recursive() bool {
	return c.recursive
}

// LockForRead grants the calling goroutine a shared hold, blocking while a
// writer is active or waiting.
//
// In recursive mode the call never blocks when the caller already holds
// read access (the hold nests) or holds the write lock (a writer reading
// its own data).
func (c *Core) LockForRead() {
	c.mu.Lock()
	defer c.mu.Unlock()

	var self int64
	// If the lock is recursive, check whether we currently hold it.
	if c.recursive {
		self = goid.Current()

		// Re-acquiring a read lock.
		if n, ok := c.readerHolds[self]; ok {
			c.readerHolds[self] = n + 1
			c.activeReaders++
			return
		}
		// Using a write lock for reading.
		if c.writerGID == self {
			c.readerHolds[self] = 1
			c.activeReaders++
			return
		}
	}

	// Must wait for all writers to finish. Waiting writers also block us:
	// this is what keeps a stream of readers from starving a writer.
	for c.activeWriters > 0 || c.waitingWriters > 0 {
		c.waitingReaders++
		c.readerWait.Wait()
		c.waitingReaders--
	}

	if c.recursive {
		c.readerHolds[self] = 1
	}
	c.activeReaders++
}

// LockForWrite grants the calling goroutine an exclusive hold, blocking
// while another writer is active or foreign readers remain.
//
// In recursive mode the current writer may nest the call, and a goroutine
// holding only read access upgrades in place: its own read holds are
// excluded from the drain predicate, so it proceeds as soon as it is the
// sole remaining reader. In non-recursive mode no identity is tracked, so
// an upgrade attempt waits for its own read hold like any other and
// deadlocks under contention; that hazard is the caller's to avoid.
func (c *Core) LockForWrite() {
	c.mu.Lock()
	defer c.mu.Unlock()

	var self int64
	selfReads := 0
	if c.recursive {
		self = goid.Current()

		// A recursive lock can be locked for writing again.
		if c.writerGID == self {
			c.activeWriters++
			return
		}
		// If we currently hold read access, those holds stay in the
		// count while we wait: an upgrader keeps its reads.
		selfReads = c.readerHolds[self]
	}

	for c.activeWriters > 0 || c.activeReaders > selfReads {
		c.waitingWriters++
		c.writerWait.Wait()
		c.waitingWriters--
	}

	c.writerGID = self
	c.activeWriters++
}

// UnlockRead releases one read hold of the calling goroutine.
//
// Releasing read access that is not held is a fatal usage error. In
// non-recursive mode no identities exist, so only the aggregate count can
// be checked and a hold may legally be released on a goroutine other than
// the one that took it.
func (c *Core) UnlockRead() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.activeReaders <= 0 {
		panic("rwlock: UnlockRead of unlocked lock")
	}

	if c.recursive {
		self := goid.Current()
		n, ok := c.readerHolds[self]
		if !ok {
			panic("rwlock: UnlockRead by a goroutine holding no read lock")
		}
		if n <= 1 {
			delete(c.readerHolds, self)
		} else {
			c.readerHolds[self] = n - 1
		}
	}

	c.activeReaders--
	if c.activeWriters == 0 {
		if c.activeReaders == 0 {
			c.wakeUp()
		} else if c.recursive && c.waitingWriters > 0 {
			// An upgrader retains its own read holds while it waits, so
			// for it the reader count never reaches zero. Waking on every
			// release while writers wait lets the upgrader claim the lock
			// the moment it is the sole remaining reader. Broadcast, not
			// Signal: a single wakeup could land on a fresh writer, which
			// re-checks its predicate and goes back to sleep, and the
			// upgrader would sleep forever.
			c.writerWait.Broadcast()
		}
	}
}

// UnlockWrite releases one write hold. When the last nested hold is
// released the writer identity is cleared and, if no reads remain either,
// waiters are admitted.
//
// Releasing write access that is not held is a fatal usage error.
func (c *Core) UnlockWrite() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.activeWriters <= 0 {
		panic("rwlock: UnlockWrite of unlocked lock")
	}
	if c.recursive && c.writerGID != goid.Current() {
		panic("rwlock: UnlockWrite by a goroutine not holding the write lock")
	}

	c.activeWriters--
	if c.activeWriters == 0 {
		c.writerGID = 0
		// The writer may still hold reads it took while writing; waiters
		// stay blocked until those drain too.
		if c.activeReaders == 0 {
			c.wakeUp()
		}
	}
}

// wakeUp implements the wakeup policy. Called with mu held, only when the
// lock has fully drained (no active readers or writers).
//
// One waiting writer is preferred over any number of waiting readers; with
// no writer pending, every waiting reader is admitted at once.
func (c *Core) wakeUp() {
	if c.waitingWriters > 0 {
		c.writerWait.Signal()
	} else if c.waitingReaders > 0 {
		c.readerWait.Broadcast()
	}
}

// Stats returns a snapshot of the counters, taken atomically with respect
// to all lock operations.
func (c *Core) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		ActiveReaders:    c.activeReaders,
		ActiveWriters:    c.activeWriters,
		WaitingReaders:   c.waitingReaders,
		WaitingWriters:   c.waitingWriters,
		WriterGID:        c.writerGID,
		ReaderGoroutines: len(c.readerHolds),
	}
}
