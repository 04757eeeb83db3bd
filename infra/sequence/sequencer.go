package sequence

import "sync/atomic"

// Sequencer numbers lifecycle events. Numbers are strictly increasing
// across restarts as long as it is seeded from the outbox.
type Sequencer struct {
	last atomic.Uint64
}

// New starts after start; the first Next returns start+1.
// Seed it with the journal's LastEventSeq.
func New(start uint64) *Sequencer {
	s := &Sequencer{}
	s.last.Store(start)
	return s
}

func (s *Sequencer) Next() uint64 {
	return s.last.Add(1)
}

// Current returns the last issued number.
func (s *Sequencer) Current() uint64 {
	return s.last.Load()
}

// Advance raises the sequencer to at least v. It never moves backwards.
func (s *Sequencer) Advance(v uint64) {
	for {
		cur := s.last.Load()
		if v <= cur || s.last.CompareAndSwap(cur, v) {
			return
		}
	}
}
