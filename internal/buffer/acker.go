package buffer

import (
	"sync"
	"sync/atomic"

	"github.com/telepipe/telepipe/pkg/event"
)

// Acker tracks the acknowledgment watermark of one buffer instance: the
// highest sequence number below which every record has been acknowledged.
//
// Acknowledgments may arrive in any order. Out-of-order sequences are held
// in a pending set until the gap before them closes; the watermark then
// advances across the whole contiguous run at once. The watermark is
// published atomically so readers never contend with the ack path.
type Acker struct {
	mu        sync.Mutex
	pending   map[event.SequenceNumber]struct{}
	watermark atomic.Uint64

	// onAdvance runs after each watermark advance, outside the internal
	// lock, with the new watermark.
	onAdvance func(event.SequenceNumber)
}

// NewAcker creates an acker with the given initial watermark.
func NewAcker(watermark event.SequenceNumber, onAdvance func(event.SequenceNumber)) *Acker {
	a := &Acker{
		pending:   make(map[event.SequenceNumber]struct{}),
		onAdvance: onAdvance,
	}
	a.watermark.Store(uint64(watermark))
	return a
}

// Ack records one acknowledgment. Sequences at or below the watermark are
// duplicates and ignored.
func (a *Acker) Ack(seq event.SequenceNumber) {
	a.mu.Lock()
	wm := event.SequenceNumber(a.watermark.Load())
	if seq <= wm {
		a.mu.Unlock()
		return
	}
	if seq != wm+1 {
		a.pending[seq] = struct{}{}
		a.mu.Unlock()
		return
	}

	wm++
	for {
		if _, ok := a.pending[wm+1]; !ok {
			break
		}
		delete(a.pending, wm+1)
		wm++
	}
	a.watermark.Store(uint64(wm))
	a.mu.Unlock()

	if a.onAdvance != nil {
		a.onAdvance(wm)
	}
}

// Watermark returns the current watermark without locking.
func (a *Acker) Watermark() event.SequenceNumber {
	return event.SequenceNumber(a.watermark.Load())
}

// Pending returns the number of acknowledgments held for gaps.
func (a *Acker) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}
