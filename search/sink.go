package search

import (
	"ptrscan/chain"
)

// Sink receives chains as they are found. Emit is only ever called from one
// goroutine.
type Sink interface {
	Emit(c chain.Chain) error
}

// Flusher is implemented by sinks that buffer. Flush runs at every level
// boundary and when the search stops.
type Flusher interface {
	Flush() error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(c chain.Chain) error

func (f SinkFunc) Emit(c chain.Chain) error {
	return f(c)
}

type sliceSink struct {
	chains []chain.Chain
}

func (s *sliceSink) Emit(c chain.Chain) error {
	s.chains = append(s.chains, c)
	return nil
}
