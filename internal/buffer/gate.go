package buffer

import "sync"

// gate is a broadcast wakeup for condition-style waiting. A waiter grabs
// the current channel with wait, re-checks its condition, and blocks on the
// channel; broadcast closes the channel, waking every holder at once.
//
// The protocol avoids lost wakeups as long as waiters grab the channel
// before releasing the lock that guards their condition.
type gate struct {
	mu sync.Mutex
	ch chan struct{}
}

func newGate() *gate {
	return &gate{ch: make(chan struct{})}
}

// wait returns the channel the next broadcast will close.
func (g *gate) wait() <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ch
}

// broadcast wakes all current waiters.
func (g *gate) broadcast() {
	g.mu.Lock()
	close(g.ch)
	g.ch = make(chan struct{})
	g.mu.Unlock()
}
