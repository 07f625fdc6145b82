package node

import "sync/atomic"

// Counters track locally swallowed failures. Nothing here is fatal; the
// counts exist so an operator can see what the node is dropping.
type Counters struct {
	Malformed     atomic.Uint64
	InvalidEnv    atomic.Uint64
	AuthFailures  atomic.Uint64
	Unrecognized  atomic.Uint64
	LoopsDetected atomic.Uint64
	RegistryFull  atomic.Uint64
}

// CounterSnapshot is a point-in-time copy for logging.
type CounterSnapshot struct {
	Malformed     uint64
	InvalidEnv    uint64
	AuthFailures  uint64
	Unrecognized  uint64
	LoopsDetected uint64
	RegistryFull  uint64
}

func (c *Counters) Snapshot() CounterSnapshot {
	return CounterSnapshot{
		Malformed:     c.Malformed.Load(),
		InvalidEnv:    c.InvalidEnv.Load(),
		AuthFailures:  c.AuthFailures.Load(),
		Unrecognized:  c.Unrecognized.Load(),
		LoopsDetected: c.LoopsDetected.Load(),
		RegistryFull:  c.RegistryFull.Load(),
	}
}
