// Package main implements the rwstress CLI tool.
//
// rwstress hammers a reader-writer lock with a configurable mix of reader,
// writer and upgrader goroutines, verifies the lock's exclusion invariants
// while running, and reports throughput at the end. It exists to shake out
// ordering bugs that unit tests are too polite to trigger:
//
//	rwstress --readers 16 --writers 4 --duration 10s
//	rwstress --recursive --upgraders 1 --readers 8 --duration 30s
//	rwstress --keys 64 --readers 32 --writers 8 --recursive --upgraders 16
//
// A non-zero exit status means an invariant was violated: a torn read, two
// writers inside the critical section at once, or a reader admitted while a
// writer was active.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
