// Package lock implements the monitor behind the public ReadWriteLock type.
//
// The implementation is a classic condition-variable monitor: a single mutex
// guards every piece of lock state, and two condition variables (one for
// blocked readers, one for blocked writers) implement suspension and wakeup.
//
// # State
//
// Core tracks four counters (active readers, active writers, waiting
// readers, waiting writers), the goroutine ID of the current writer, and --
// in recursive mode only -- a map from goroutine ID to that goroutine's
// nested read count. The map lives under the same mutex as the counters:
// its consistency with activeReaders is load-bearing, so it must never be
// moved to a separately synchronized structure.
//
// # Admission rules
//
// A reader may enter when no writer is active and no writer is waiting
// (writer preference). A writer may enter when no writer is active and no
// readers remain beyond its own holds. Every blocked goroutine re-checks its
// admission predicate after each wakeup, which defends against both spurious
// wakeups and wakeups lost to a competing release.
//
// # Recursive mode
//
// In recursive mode a goroutine may re-take read access it already holds,
// take read access while it is the writer, nest write acquisitions, and
// upgrade a held read lock to a write lock in place. The upgrade works by
// excluding the caller's own read count from the "wait for readers to drain"
// predicate: the upgrader proceeds as soon as it is the only remaining
// reader, without releasing its read hold first.
//
// # Wakeup policy
//
// When the lock drains to idle, one waiting writer is woken if any exists;
// otherwise all waiting readers are woken at once to restore maximum read
// concurrency. In recursive mode a read release that leaves readers active
// additionally wakes all waiting writers: a pending upgrader keeps its own
// read holds while it waits, so the count never reaches zero for it, and
// this is the wakeup that lets it proceed once every foreign reader has
// left. Writers woken this way whose predicate still fails simply sleep
// again.
package lock
