package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kolkov/rwlock/keyed"
	"github.com/kolkov/rwlock/rwlock"
)

type config struct {
	readers   int
	writers   int
	upgraders int
	duration  time.Duration
	recursive bool
	keys      int
	verbose   bool
}

func newRootCmd() *cobra.Command {
	var cfg config

	cmd := &cobra.Command{
		Use:          "rwstress",
		Short:        "Stress and invariant-check the rwlock reader-writer lock",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&cfg.readers, "readers", 8, "reader goroutines")
	flags.IntVar(&cfg.writers, "writers", 2, "writer goroutines")
	flags.IntVar(&cfg.upgraders, "upgraders", 0, "read-to-write upgrader goroutines (needs --recursive)")
	flags.DurationVar(&cfg.duration, "duration", 5*time.Second, "how long to run")
	flags.BoolVar(&cfg.recursive, "recursive", false, "use a recursive lock")
	flags.IntVar(&cfg.keys, "keys", 0, "stress a KeyedLock over this many keys instead of one lock")
	flags.BoolVarP(&cfg.verbose, "verbose", "v", false, "development-style logging")

	return cmd
}

// cell is one invariant-checked protected resource: a pair of counters
// moved in lockstep under the write lock, plus occupancy gauges that catch
// exclusion violations the counters alone would miss.
type cell struct {
	a, b int

	// writersInside counts goroutines currently between LockForWrite and
	// UnlockWrite on this cell. Anything other than 0 or 1 is a bug.
	writersInside atomic.Int32
}

var errInvariant = errors.New("lock invariant violated")

func (c *cell) enterWrite() error {
	if n := c.writersInside.Add(1); n != 1 {
		return fmt.Errorf("%w: %d writers inside critical section", errInvariant, n)
	}
	return nil
}

func (c *cell) exitWrite() {
	c.writersInside.Add(-1)
}

func (c *cell) read() error {
	// A reader can never see a writer mid-section: its own admission
	// proves no writer is active. Upgraders are no exception, because
	// their read hold predates their write hold.
	if n := c.writersInside.Load(); n != 0 {
		return fmt.Errorf("%w: reader admitted with %d writers inside", errInvariant, n)
	}
	if c.a != c.b {
		return fmt.Errorf("%w: torn read a=%d b=%d", errInvariant, c.a, c.b)
	}
	return nil
}

func (c *cell) write() error {
	if err := c.enterWrite(); err != nil {
		return err
	}
	c.a++
	c.b++
	c.exitWrite()
	return nil
}

// target abstracts over a single lock and a keyed lock so the worker loops
// stay identical for both shapes.
type target struct {
	cells  []*cell
	single *rwlock.ReadWriteLock
	keyed  *keyed.KeyedLock
	keys   []string
}

func newTarget(cfg config) *target {
	mode := rwlock.NonRecursive
	if cfg.recursive {
		mode = rwlock.Recursive
	}

	if cfg.keys <= 0 {
		return &target{
			cells:  []*cell{{}},
			single: rwlock.NewWithMode(mode),
		}
	}

	t := &target{keyed: keyed.New(mode)}
	for i := 0; i < cfg.keys; i++ {
		t.cells = append(t.cells, &cell{})
		t.keys = append(t.keys, "key-"+strconv.Itoa(i))
	}
	return t
}

func (t *target) pick(i uint64) int {
	return int(i % uint64(len(t.cells)))
}

func (t *target) lockForRead(i int) {
	if t.single != nil {
		t.single.LockForRead()
		return
	}
	t.keyed.LockForRead(t.keys[i])
}

func (t *target) unlockRead(i int) {
	if t.single != nil {
		t.single.UnlockRead()
		return
	}
	t.keyed.UnlockRead(t.keys[i])
}

func (t *target) lockForWrite(i int) {
	if t.single != nil {
		t.single.LockForWrite()
		return
	}
	t.keyed.LockForWrite(t.keys[i])
}

func (t *target) unlockWrite(i int) {
	if t.single != nil {
		t.single.UnlockWrite()
		return
	}
	t.keyed.UnlockWrite(t.keys[i])
}

func run(ctx context.Context, cfg config) error {
	if cfg.upgraders > 0 && !cfg.recursive {
		return errors.New("upgraders require --recursive: a non-recursive upgrade deadlocks by design")
	}
	if cfg.readers+cfg.writers+cfg.upgraders == 0 {
		return errors.New("nothing to do: all worker counts are zero")
	}

	logger, err := newLogger(cfg.verbose)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck // stderr sync failure is uninteresting

	logger.Info("starting stress run",
		zap.Int("readers", cfg.readers),
		zap.Int("writers", cfg.writers),
		zap.Int("upgraders", cfg.upgraders),
		zap.Bool("recursive", cfg.recursive),
		zap.Int("keys", cfg.keys),
		zap.Duration("duration", cfg.duration),
	)

	ctx, cancel := context.WithTimeout(ctx, cfg.duration)
	defer cancel()

	t := newTarget(cfg)

	// An upgrade only avoids deadlock against the upgrader's own read
	// holds. Two upgraders on one lock wait for each other's retained
	// read forever, so each upgrader gets a cell to itself.
	if cfg.upgraders > len(t.cells) {
		return fmt.Errorf("at most one upgrader per lock (%d locks, %d upgraders): concurrent upgraders on one lock deadlock against each other's read holds", len(t.cells), cfg.upgraders)
	}

	var reads, writes, upgrades atomic.Uint64
	start := time.Now()

	g, ctx := errgroup.WithContext(ctx)

	for w := 0; w < cfg.readers; w++ {
		g.Go(func() error {
			var i uint64
			for ctx.Err() == nil {
				i++
				idx := t.pick(i)
				t.lockForRead(idx)
				err := t.cells[idx].read()
				t.unlockRead(idx)
				if err != nil {
					return err
				}
				reads.Add(1)
			}
			return nil
		})
	}

	for w := 0; w < cfg.writers; w++ {
		g.Go(func() error {
			var i uint64
			for ctx.Err() == nil {
				i++
				idx := t.pick(i)
				t.lockForWrite(idx)
				err := t.cells[idx].write()
				t.unlockWrite(idx)
				if err != nil {
					return err
				}
				writes.Add(1)
			}
			return nil
		})
	}

	// Upgraders read first, then promote to a write hold in place while
	// still holding the read. Recursive mode only, one per cell.
	for w := 0; w < cfg.upgraders; w++ {
		idx := w
		g.Go(func() error {
			for ctx.Err() == nil {
				t.lockForRead(idx)
				err := t.cells[idx].read()
				if err == nil {
					t.lockForWrite(idx)
					err = t.cells[idx].write()
					t.unlockWrite(idx)
				}
				t.unlockRead(idx)
				if err != nil {
					return err
				}
				upgrades.Add(1)
			}
			return nil
		})
	}

	runErr := g.Wait()
	elapsed := time.Since(start)

	total := reads.Load() + writes.Load() + upgrades.Load()
	logger.Info("stress run finished",
		zap.Uint64("reads", reads.Load()),
		zap.Uint64("writes", writes.Load()),
		zap.Uint64("upgrades", upgrades.Load()),
		zap.Float64("ops_per_sec", float64(total)/elapsed.Seconds()),
	)

	if runErr != nil && !errors.Is(runErr, context.DeadlineExceeded) {
		logger.Error("invariant check failed", zap.Error(runErr))
		return runErr
	}
	return nil
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
