// Package rwlock provides a reader-writer lock with an optional recursive
// mode in which the owning goroutine may re-acquire access it already holds
// and upgrade a held read lock to a write lock without self-deadlock.
//
// # Quick Start
//
//	l := rwlock.NewWithMode(rwlock.Recursive)
//
//	l.LockForRead()
//	defer l.UnlockRead()
//	// ... read the protected data ...
//
// The lock coordinates access; the data it protects and the discipline of
// pairing every acquisition with exactly one release are the caller's
// responsibility. The ReadLocker and WriteLocker adapters make scoped
// release convenient and let either side of the lock be passed where a
// sync.Locker is expected.
//
// # Modes
//
// A NonRecursive lock tracks no goroutine identity. It behaves like
// sync.RWMutex: re-acquiring a held lock or attempting a read-to-write
// upgrade self-deadlocks once any contention exists. This hazard is
// documented behavior, not detected or rejected.
//
// A Recursive lock tracks holds per goroutine and grants without blocking:
//   - a nested read by a goroutine already reading,
//   - a read by the current writer (a writer reading its own data),
//   - a nested write by the current writer,
//   - an in-place upgrade from read to write, as soon as the caller is the
//     only remaining reader. The caller keeps its read holds across the
//     upgrade, which is exactly what makes the upgrade deadlock-free.
//
// Recursive-mode holds belong to the goroutine that took them and must be
// released on that goroutine.
//
// # Fairness
//
// The lock is writer-preferring: a reader arriving while a writer is active
// or merely waiting blocks until the writer has been served. Writers cannot
// be starved by a steady stream of readers; under sustained write pressure
// reader throughput may drop toward zero. When the lock drains, one waiting
// writer is admitted if any exists, otherwise all waiting readers are
// admitted at once.
//
// # Errors
//
// There are no error returns and no timeouts. Releasing access that is not
// held panics; a blocked acquisition is unblocked only by a release on
// another goroutine. Callers needing bounded waits must layer a timeout
// externally.
package rwlock
