// Goroutine identity extraction.
//
// The recursive lock mode needs to know which goroutine is calling it, the
// same way a recursive pthread lock needs the calling thread ID. The Go
// runtime deliberately hides goroutine IDs, so we recover the ID from the
// header line of a runtime.Stack dump.
//
// Stack trace format: "goroutine 123 [running]:\n..."
//
// Cost is roughly a microsecond per call, dominated by runtime.Stack. The
// lock only asks for an ID in recursive mode, and only while already inside
// its monitor, so the overhead is paid exactly by the callers that opted in
// to per-goroutine bookkeeping.

package goid

import "runtime"

// Current returns the runtime ID of the calling goroutine.
//
// IDs are assigned by the Go runtime starting at 1 (the main goroutine),
// are unique across all live goroutines, and are never reused while the
// goroutine is alive. The returned value is always positive.
func Current() int64 {
	// Only the first line of the trace is needed.
	// Format: "goroutine 123 [running]:\n..."
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	return parse(buf[:n])
}

// parse extracts the goroutine ID from stack trace bytes.
//
// Expected format: "goroutine 123 [running]:...". Returns the numeric ID
// (123 in this example) or 0 if the format is invalid. Parsing works on raw
// bytes, with no regex and no allocations.
func parse(buf []byte) int64 {
	const prefix = "goroutine "

	if len(buf) < len(prefix) || string(buf[:len(prefix)]) != prefix {
		return 0
	}

	var gid int64
	for i := len(prefix); i < len(buf); i++ {
		c := buf[i]
		if c < '0' || c > '9' {
			// Non-digit terminates the ID (the space before "[running]").
			break
		}
		gid = gid*10 + int64(c-'0')
	}
	return gid
}
