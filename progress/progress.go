package progress

import "sync/atomic"

// Sentinel messages. Consumers must intercept these instead of printing
// them literally.
const (
	ClearLog        = "\x00clear-log"
	RefreshAccounts = "\x00refresh-accounts"
)

// Stream carries human-readable status lines from a long-running flow to
// whatever is presenting them. The channel is buffered; if the consumer
// stops draining, Emit drops the message rather than blocking the flow
// past a page timeout.
type Stream struct {
	ch      chan string
	dropped atomic.Int64
}

func NewStream() *Stream {
	return &Stream{ch: make(chan string, 64)}
}

// Emit queues a status line, discarding it if the consumer lags.
func (s *Stream) Emit(msg string) {
	select {
	case s.ch <- msg:
	default:
		s.dropped.Add(1)
	}
}

func (s *Stream) Events() <-chan string {
	return s.ch
}

// Dropped reports how many messages were discarded due to a slow consumer.
func (s *Stream) Dropped() int {
	return int(s.dropped.Load())
}

// Close ends the stream. The producing flow calls this exactly once when
// it returns; the definitive success/failure travels on the flow's own
// return values, not through the stream.
func (s *Stream) Close() {
	close(s.ch)
}
