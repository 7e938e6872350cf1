package decisionlog

import (
	"sync"
)

// MemorySink collects records in memory. For tests and for the in-process
// default when no persistence is configured.
type MemorySink struct {
	mu      sync.Mutex
	records []Record

	// FailNext, when positive, makes that many Append calls fail. Lets tests
	// exercise the writer's retry path.
	FailNext int
}

// NewMemorySink creates an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Append stores the record.
func (s *MemorySink) Append(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailNext > 0 {
		s.FailNext--
		return errSinkUnavailable
	}
	s.records = append(s.records, rec)
	return nil
}

// Close is a no-op.
func (s *MemorySink) Close() error {
	return nil
}

// Records returns a copy of everything appended so far.
func (s *MemorySink) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

// Len returns the number of appended records.
func (s *MemorySink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

var errSinkUnavailable = sinkError("sink temporarily unavailable")

type sinkError string

func (e sinkError) Error() string { return string(e) }

// Ensure MemorySink implements Sink at compile time.
var _ Sink = (*MemorySink)(nil)
