// Package storage holds the shared storage-mode machinery used by the
// memory and situation failover stores.
//
// A failover store runs in one of two modes: durable (primary document
// store reachable) or fallback (in-process store). Mode transitions go
// through a compare-and-swap guard so that exactly one goroutine performs
// a given flip; concurrent probes and in-flight operations observe either
// the old mode or the new one, never a half-applied switch.
package storage

import "sync/atomic"

// Mode identifies which backing store a failover store is writing to.
type Mode int32

const (
	// ModeDurable means the primary document store is in use.
	ModeDurable Mode = iota
	// ModeFallback means writes are going to the in-process store.
	// Fallback data does not survive a restart and is not migrated back
	// when the primary reconnects.
	ModeFallback
)

func (m Mode) String() string {
	switch m {
	case ModeDurable:
		return "durable"
	case ModeFallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// ModeGuard is a single-writer mode flag. The zero value is ModeDurable.
type ModeGuard struct {
	v atomic.Int32
}

// Current returns the mode as of this instant. Callers that need a stable
// mode for a multi-step operation should capture it once and route the
// whole operation accordingly.
func (g *ModeGuard) Current() Mode {
	return Mode(g.v.Load())
}

// Transition flips from -> to and reports whether this caller won the flip.
// A false return means another goroutine already moved the guard (or the
// guard was never in `from`), and the caller must not apply transition
// side effects.
func (g *ModeGuard) Transition(from, to Mode) bool {
	return g.v.CompareAndSwap(int32(from), int32(to))
}
