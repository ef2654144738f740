package bgshell

import "sync"

// BufferCap bounds each stream's ring buffer.
const BufferCap = 300_000

// StreamState is a bounded ring of one output stream plus a read cursor.
// Bytes dropped off the front are gone; reads that start behind the drop
// point skip the gap and report the loss.
type StreamState struct {
	mu      sync.Mutex
	cap     int
	buf     []byte
	total   int64 // bytes ever appended
	dropped int64 // bytes dropped off the front
	cursor  int64 // next read position in total-stream coordinates
}

// NewStreamState builds a stream with the given capacity (<=0 means BufferCap).
func NewStreamState(capacity int) *StreamState {
	if capacity <= 0 {
		capacity = BufferCap
	}
	return &StreamState{cap: capacity}
}

// Append adds child output to the ring, dropping the oldest excess.
func (s *StreamState) Append(p []byte) {
	if len(p) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = append(s.buf, p...)
	s.total += int64(len(p))
	if excess := len(s.buf) - s.cap; excess > 0 {
		s.buf = s.buf[excess:]
		s.dropped += int64(excess)
	}
}

// ReadSlice returns up to maxBytes starting at max(cursor, dropped).
// droppedBefore reports bytes lost before the read start; more reports data
// remaining beyond the returned slice. Unless peek, the cursor advances past
// the slice (and past any gap).
func (s *StreamState) ReadSlice(maxBytes int, peek bool) (out string, droppedBefore, more bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := s.cursor
	if s.dropped > start {
		start = s.dropped
		droppedBefore = s.cursor < s.dropped
	}
	offset := int(start - s.dropped)
	if offset > len(s.buf) {
		offset = len(s.buf)
	}
	end := offset + maxBytes
	if maxBytes <= 0 || end > len(s.buf) {
		end = len(s.buf)
	}
	out = string(s.buf[offset:end])
	more = end < len(s.buf)
	if !peek {
		s.cursor = start + int64(end-offset)
	}
	return out, droppedBefore, more
}

// Unread reports bytes available past the cursor.
func (s *StreamState) Unread() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos := s.cursor
	if s.dropped > pos {
		pos = s.dropped
	}
	n := s.total - pos
	if n < 0 {
		n = 0
	}
	return n
}

// Stats returns the counters for listings.
func (s *StreamState) Stats() (total, dropped, cursor int64, buffered int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total, s.dropped, s.cursor, len(s.buf)
}
