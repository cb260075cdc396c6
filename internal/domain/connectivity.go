package domain

import "sync/atomic"

// Connectivity is the process-wide reachability flag for the shared store.
// It is re-evaluated at startup and after every apply attempt.
type Connectivity struct {
	online atomic.Bool
}

// NewConnectivity returns a Connectivity in the given initial state.
func NewConnectivity(online bool) *Connectivity {
	c := &Connectivity{}
	c.online.Store(online)
	return c
}

// Online reports whether the store was reachable at the last attempt.
func (c *Connectivity) Online() bool {
	return c.online.Load()
}

// Observe records the outcome of an apply or ping attempt and reports
// whether the state changed.
func (c *Connectivity) Observe(online bool) bool {
	return c.online.Swap(online) != online
}
