package upload

import "sync/atomic"

// Sequencer provides monotonically increasing upload sequence numbers.
// Only the outcome of the most recently issued sequence may update the
// form state.
type Sequencer struct{ n atomic.Uint64 }

// Next returns the next sequence number.
func (s *Sequencer) Next() uint64 { return s.n.Add(1) }
