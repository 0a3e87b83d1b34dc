package lock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"

	"github.com/kolkov/rwlock/internal/goid"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// waitFor polls the lock's counters until pred holds, failing the test if
// it does not hold within the deadline. Used to observe goroutines that are
// intentionally blocked inside a lock operation.
func waitFor(t *testing.T, c *Core, pred func(Stats) bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if pred(c.Stats()) {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not reached before deadline, stats: %+v", c.Stats())
}

// TestConcurrentReaders verifies that two goroutines hold read access at
// the same time when no writer is present.
func TestConcurrentReaders(t *testing.T) {
	c := NewCore(false)

	acquired := make(chan struct{}, 2)
	release := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.LockForRead()
			acquired <- struct{}{}
			<-release
			c.UnlockRead()
		}()
	}

	<-acquired
	<-acquired
	require.Equal(t, 2, c.Stats().ActiveReaders)

	close(release)
	wg.Wait()
	require.Equal(t, Stats{}, c.Stats())
}

// TestWriterExcludesReader verifies that a writer blocks until an active
// reader releases, then holds exclusively.
func TestWriterExcludesReader(t *testing.T) {
	c := NewCore(false)

	c.LockForRead()

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.LockForWrite()
		s := c.Stats()
		if s.ActiveWriters != 1 || s.ActiveReaders != 0 {
			t.Errorf("writer granted without exclusivity: %+v", s)
		}
		c.UnlockWrite()
	}()

	waitFor(t, c, func(s Stats) bool { return s.WaitingWriters == 1 })

	// The writer must still be blocked while our read hold exists.
	select {
	case <-done:
		t.Fatal("writer acquired while a reader was active")
	case <-time.After(20 * time.Millisecond):
	}

	c.UnlockRead()
	<-done
	require.Equal(t, Stats{}, c.Stats())
}

// TestRecursiveReadReentrance verifies that N nested read acquisitions by
// one goroutine never block and unwind back to the idle state.
func TestRecursiveReadReentrance(t *testing.T) {
	c := NewCore(true)

	const depth = 5
	for i := 0; i < depth; i++ {
		c.LockForRead()
	}

	s := c.Stats()
	require.Equal(t, depth, s.ActiveReaders)
	require.Equal(t, 1, s.ReaderGoroutines)

	for i := 0; i < depth; i++ {
		c.UnlockRead()
	}
	require.Equal(t, Stats{}, c.Stats())
}

// TestRecursiveUpgrade verifies the in-place read-to-write upgrade: a
// goroutine holding a read lock takes the write lock without blocking while
// no other goroutine holds anything.
func TestRecursiveUpgrade(t *testing.T) {
	c := NewCore(true)

	c.LockForRead()
	c.LockForWrite()

	s := c.Stats()
	require.Equal(t, 1, s.ActiveReaders)
	require.Equal(t, 1, s.ActiveWriters)
	require.Equal(t, goid.Current(), s.WriterGID)

	c.UnlockWrite()
	c.UnlockRead()
	require.Equal(t, Stats{}, c.Stats())
}

// TestWriterReadsSelf verifies that the current writer may take read access
// and nest further write acquisitions without blocking.
func TestWriterReadsSelf(t *testing.T) {
	c := NewCore(true)

	c.LockForWrite()
	c.LockForRead()
	require.Equal(t, 1, c.Stats().ActiveReaders)

	c.LockForWrite()
	require.Equal(t, 2, c.Stats().ActiveWriters)

	c.UnlockWrite()
	c.UnlockWrite()
	c.UnlockRead()
	require.Equal(t, Stats{}, c.Stats())
}

// TestWriterPreference verifies that a reader arriving while a writer is
// already waiting does not overtake the writer.
func TestWriterPreference(t *testing.T) {
	c := NewCore(false)

	c.LockForRead()

	events := make(chan string, 2)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		c.LockForWrite()
		events <- "writer"
		c.UnlockWrite()
	}()
	waitFor(t, c, func(s Stats) bool { return s.WaitingWriters == 1 })

	wg.Add(1)
	go func() {
		defer wg.Done()
		c.LockForRead()
		events <- "reader"
		c.UnlockRead()
	}()
	waitFor(t, c, func(s Stats) bool { return s.WaitingReaders == 1 })

	c.UnlockRead()
	wg.Wait()
	close(events)

	require.Equal(t, "writer", <-events)
	require.Equal(t, "reader", <-events)
	require.Equal(t, Stats{}, c.Stats())
}

// TestUpgradeWaitsForOtherReaders verifies the drain predicate of an
// upgrade: the upgrader's own read holds are excluded, every foreign read
// hold is not.
func TestUpgradeWaitsForOtherReaders(t *testing.T) {
	c := NewCore(true)

	// Foreign read hold, owned by the test goroutine.
	c.LockForRead()

	acquired := make(chan struct{})
	upgraded := make(chan struct{})
	go func() {
		c.LockForRead()
		close(acquired)
		c.LockForWrite()
		close(upgraded)
		c.UnlockWrite()
		c.UnlockRead()
	}()

	<-acquired
	waitFor(t, c, func(s Stats) bool { return s.WaitingWriters == 1 })

	// Two readers remain; the upgrader owns only one of them.
	select {
	case <-upgraded:
		t.Fatal("upgrade completed while a foreign reader was active")
	case <-time.After(20 * time.Millisecond):
	}

	c.UnlockRead()
	<-upgraded

	waitFor(t, c, func(s Stats) bool { return s == Stats{} })
}

// TestUpgradeProceedsWhenForeignReadersDrain verifies the liveness side of
// the upgrade: an upgrader waiting out several foreign readers is granted
// as soon as the last of them releases, even though its own retained read
// holds keep the reader count above zero the whole time.
func TestUpgradeProceedsWhenForeignReadersDrain(t *testing.T) {
	c := NewCore(true)

	const foreignReaders = 3

	// Foreign read holds, all owned by helper goroutines.
	release := make(chan struct{}, foreignReaders)
	var readers sync.WaitGroup
	acquired := make(chan struct{}, foreignReaders)
	for i := 0; i < foreignReaders; i++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			c.LockForRead()
			acquired <- struct{}{}
			<-release
			c.UnlockRead()
		}()
	}
	for i := 0; i < foreignReaders; i++ {
		<-acquired
	}

	upgraded := make(chan struct{})
	go func() {
		c.LockForRead()
		c.LockForWrite()
		close(upgraded)
		c.UnlockWrite()
		c.UnlockRead()
	}()
	waitFor(t, c, func(s Stats) bool { return s.WaitingWriters == 1 })

	// Drain the foreign readers one at a time; the upgrader must stay
	// blocked until the last one is gone.
	for i := 0; i < foreignReaders-1; i++ {
		release <- struct{}{}
		select {
		case <-upgraded:
			t.Fatal("upgrade completed while foreign readers were active")
		case <-time.After(20 * time.Millisecond):
		}
	}
	release <- struct{}{}

	select {
	case <-upgraded:
	case <-time.After(5 * time.Second):
		t.Fatal("upgrader still blocked after the last foreign reader released")
	}

	readers.Wait()
	waitFor(t, c, func(s Stats) bool { return s == Stats{} })
}

// TestUpgradeNotStarvedByFreshWriter verifies that a waiting upgrader is
// granted when the foreign reader drains even with a fresh writer waiting
// alongside it, and that the fresh writer runs only after the upgrader has
// fully released.
func TestUpgradeNotStarvedByFreshWriter(t *testing.T) {
	c := NewCore(true)

	// Foreign read hold, owned by the test goroutine.
	c.LockForRead()

	events := make(chan string, 2)
	var wg sync.WaitGroup

	acquired := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.LockForRead()
		close(acquired)
		c.LockForWrite()
		events <- "upgrader"
		c.UnlockWrite()
		c.UnlockRead()
	}()
	<-acquired
	waitFor(t, c, func(s Stats) bool { return s.WaitingWriters == 1 })

	wg.Add(1)
	go func() {
		defer wg.Done()
		c.LockForWrite()
		events <- "writer"
		c.UnlockWrite()
	}()
	waitFor(t, c, func(s Stats) bool { return s.WaitingWriters == 2 })

	// Both writers are parked. The upgrader's predicate turns true the
	// moment our read hold goes away; the fresh writer's does not, since
	// the upgrader's own read remains.
	c.UnlockRead()
	wg.Wait()
	close(events)

	require.Equal(t, "upgrader", <-events)
	require.Equal(t, "writer", <-events)
	require.Equal(t, Stats{}, c.Stats())
}

// TestPlainModeUpgradeDeadlocks reproduces the documented hazard: in
// non-recursive mode an upgrade attempt waits for its own read hold and
// blocks forever. No identity is tracked in this mode, so the hold can be
// released on another goroutine to unwind the test.
func TestPlainModeUpgradeDeadlocks(t *testing.T) {
	c := NewCore(false)

	released := make(chan struct{})
	go func() {
		c.LockForRead()
		c.LockForWrite() // blocks on our own read hold
		close(released)
		c.UnlockWrite()
	}()

	waitFor(t, c, func(s Stats) bool { return s.WaitingWriters == 1 })

	select {
	case <-released:
		t.Fatal("plain-mode upgrade acquired; expected it to block")
	case <-time.After(50 * time.Millisecond):
	}

	// Release the read hold on the upgrader's behalf.
	c.UnlockRead()
	<-released
	waitFor(t, c, func(s Stats) bool { return s == Stats{} })
}

// TestUnlockViolationsPanic verifies that mismatched unlocks are fatal.
func TestUnlockViolationsPanic(t *testing.T) {
	t.Run("read unlock of idle lock", func(t *testing.T) {
		c := NewCore(false)
		require.PanicsWithValue(t, "rwlock: UnlockRead of unlocked lock", func() {
			c.UnlockRead()
		})
	})

	t.Run("write unlock of idle lock", func(t *testing.T) {
		c := NewCore(false)
		require.PanicsWithValue(t, "rwlock: UnlockWrite of unlocked lock", func() {
			c.UnlockWrite()
		})
	})

	t.Run("recursive read unlock by non-holder", func(t *testing.T) {
		c := NewCore(true)

		held := make(chan struct{})
		release := make(chan struct{})
		done := make(chan struct{})
		go func() {
			defer close(done)
			c.LockForRead()
			close(held)
			<-release
			c.UnlockRead()
		}()

		<-held
		require.PanicsWithValue(t,
			"rwlock: UnlockRead by a goroutine holding no read lock",
			func() { c.UnlockRead() })

		close(release)
		<-done
	})

	t.Run("recursive write unlock by non-owner", func(t *testing.T) {
		c := NewCore(true)

		held := make(chan struct{})
		release := make(chan struct{})
		done := make(chan struct{})
		go func() {
			defer close(done)
			c.LockForWrite()
			close(held)
			<-release
			c.UnlockWrite()
		}()

		<-held
		require.PanicsWithValue(t,
			"rwlock: UnlockWrite by a goroutine not holding the write lock",
			func() { c.UnlockWrite() })

		close(release)
		<-done
	})
}

// TestSymmetry verifies that every sequence returning the lock to idle
// leaves no residue: no hold bookkeeping and no writer identity.
func TestSymmetry(t *testing.T) {
	c := NewCore(true)

	c.LockForRead()
	c.LockForRead()
	c.LockForWrite()
	c.LockForRead()
	c.LockForWrite()

	c.UnlockWrite()
	c.UnlockRead()
	c.UnlockWrite()
	c.UnlockRead()
	c.UnlockRead()

	require.Equal(t, Stats{}, c.Stats())
}

// TestMutualExclusionStress hammers one counter from mixed readers and
// writers and verifies both the final value and that no reader ever
// observes a torn intermediate state.
func TestMutualExclusionStress(t *testing.T) {
	for _, recursive := range []bool{false, true} {
		name := "plain"
		if recursive {
			name = "recursive"
		}
		t.Run(name, func(t *testing.T) {
			c := NewCore(recursive)

			const (
				writers    = 4
				readers    = 8
				increments = 200
			)

			// Two counters moved in lockstep under the write lock; any
			// reader seeing them disagree proves broken exclusion.
			var a, b int

			var g errgroup.Group
			for i := 0; i < writers; i++ {
				g.Go(func() error {
					for j := 0; j < increments; j++ {
						c.LockForWrite()
						a++
						b++
						c.UnlockWrite()
					}
					return nil
				})
			}
			for i := 0; i < readers; i++ {
				g.Go(func() error {
					for j := 0; j < increments; j++ {
						c.LockForRead()
						if a != b {
							t.Errorf("torn read: a=%d b=%d", a, b)
						}
						c.UnlockRead()
					}
					return nil
				})
			}
			require.NoError(t, g.Wait())

			require.Equal(t, writers*increments, a)
			require.Equal(t, writers*increments, b)
			require.Equal(t, Stats{}, c.Stats())
		})
	}
}

func BenchmarkLockForRead(b *testing.B) {
	b.Run("plain", func(b *testing.B) {
		c := NewCore(false)
		b.ReportAllocs()
		for i := 0; i < b.N; i++ {
			c.LockForRead()
			c.UnlockRead()
		}
	})
	b.Run("recursive", func(b *testing.B) {
		c := NewCore(true)
		b.ReportAllocs()
		for i := 0; i < b.N; i++ {
			c.LockForRead()
			c.UnlockRead()
		}
	})
}

func BenchmarkLockForWrite(b *testing.B) {
	b.Run("plain", func(b *testing.B) {
		c := NewCore(false)
		b.ReportAllocs()
		for i := 0; i < b.N; i++ {
			c.LockForWrite()
			c.UnlockWrite()
		}
	})
	b.Run("recursive", func(b *testing.B) {
		c := NewCore(true)
		b.ReportAllocs()
		for i := 0; i < b.N; i++ {
			c.LockForWrite()
			c.UnlockWrite()
		}
	})
}

func BenchmarkReadParallel(b *testing.B) {
	c := NewCore(false)
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			c.LockForRead()
			c.UnlockRead()
		}
	})
}
