package agent

import (
	"context"
	"sync"

	"github.com/haasonsaas/sous/internal/observability"
	"github.com/haasonsaas/sous/pkg/models"
)

// EventSink receives run events in order.
type EventSink interface {
	Emit(ctx context.Context, e models.Event)
}

// StreamSink delivers events on a channel to a single consumer. It stamps each
// event with a monotonic sequence number. Emit blocks while the buffer is full
// and gives up when ctx ends, so a consumer that went away cannot wedge a run.
type StreamSink struct {
	ch      chan models.Event
	metrics *observability.Metrics

	mu     sync.Mutex
	seq    uint64
	closed bool
}

// NewStreamSink creates a sink with the given channel buffer.
func NewStreamSink(buffer int, metrics *observability.Metrics) *StreamSink {
	if buffer < 0 {
		buffer = 0
	}
	return &StreamSink{ch: make(chan models.Event, buffer), metrics: metrics}
}

// Events returns the receive side of the sink.
func (s *StreamSink) Events() <-chan models.Event {
	return s.ch
}

// Emit sends e. Events emitted after Close are dropped.
func (s *StreamSink) Emit(ctx context.Context, e models.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.seq++
	e.Sequence = s.seq

	// Prefer delivery when there is room, even if ctx already ended.
	select {
	case s.ch <- e:
		s.metrics.RecordEvent(string(e.Type))
		return
	default:
	}
	select {
	case s.ch <- e:
		s.metrics.RecordEvent(string(e.Type))
	case <-ctx.Done():
	}
}

// Close closes the channel. It is safe to call more than once.
func (s *StreamSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
