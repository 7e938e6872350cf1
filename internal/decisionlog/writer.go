package decisionlog

import (
	"log/slog"
	"time"
)

const (
	defaultBufferSize   = 10_000
	defaultMaxRetries   = 3
	defaultRetryBackoff = 50 * time.Millisecond
	drainTimeout        = 2 * time.Second
)

// Writer queues decision records and persists them to a Sink in a background
// goroutine. Append is non-blocking: when the buffer is full the record is
// dropped with a warning rather than stalling the invoking path.
type Writer struct {
	sink    Sink
	buffer  chan Record
	done    chan struct{}
	flushed chan struct{}
	logger  *slog.Logger

	maxRetries int
	backoff    time.Duration
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithBufferSize sets the queue capacity.
func WithBufferSize(n int) WriterOption {
	return func(w *Writer) {
		if n > 0 {
			w.buffer = make(chan Record, n)
		}
	}
}

// WithRetry sets how many times a failed sink append is retried and the base
// backoff between attempts. Backoff doubles per attempt.
func WithRetry(maxRetries int, backoff time.Duration) WriterOption {
	return func(w *Writer) {
		if maxRetries >= 0 {
			w.maxRetries = maxRetries
		}
		if backoff > 0 {
			w.backoff = backoff
		}
	}
}

// WithWriterLogger sets the structured logger.
func WithWriterLogger(logger *slog.Logger) WriterOption {
	return func(w *Writer) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewWriter creates a Writer and starts its background persistence loop.
func NewWriter(sink Sink, opts ...WriterOption) *Writer {
	w := &Writer{
		sink:       sink,
		buffer:     make(chan Record, defaultBufferSize),
		done:       make(chan struct{}),
		flushed:    make(chan struct{}),
		logger:     slog.Default(),
		maxRetries: defaultMaxRetries,
		backoff:    defaultRetryBackoff,
	}
	for _, opt := range opts {
		opt(w)
	}

	go w.loop()
	return w
}

// Append queues a record for asynchronous persistence.
// Non-blocking: drops the record if the buffer is full.
func (w *Writer) Append(rec Record) {
	select {
	case w.buffer <- rec:
	default:
		w.logger.Warn("decision log buffer full, dropping record",
			"decision_id", rec.DecisionID,
			"tool", rec.ToolName,
		)
	}
}

// Close drains queued records and closes the sink. Records still arriving
// after the drain window starts may be lost; callers should stop invoking
// before closing.
func (w *Writer) Close() error {
	close(w.done)
	<-w.flushed
	return w.sink.Close()
}

func (w *Writer) loop() {
	defer close(w.flushed)

	for {
		select {
		case rec := <-w.buffer:
			w.persist(rec)
		case <-w.done:
			w.drain()
			return
		}
	}
}

// drain writes out whatever is queued, bounded by drainTimeout.
func (w *Writer) drain() {
	deadline := time.Now().Add(drainTimeout)
	for {
		select {
		case rec := <-w.buffer:
			if time.Now().After(deadline) {
				w.logger.Warn("drain timeout exceeded, dropping remaining records")
				return
			}
			w.persist(rec)
		default:
			return
		}
	}
}

// persist writes one record with bounded retry. Exhausted retries drop the
// record; the decision itself already completed, so losing the audit entry is
// logged loudly but never propagated.
func (w *Writer) persist(rec Record) {
	backoff := w.backoff
	for attempt := 0; ; attempt++ {
		err := w.sink.Append(rec)
		if err == nil {
			return
		}
		if attempt >= w.maxRetries {
			w.logger.Error("decision record dropped after retries",
				"decision_id", rec.DecisionID,
				"tool", rec.ToolName,
				"attempts", attempt+1,
				"error", err,
			)
			return
		}
		time.Sleep(backoff)
		backoff *= 2
	}
}

// Ensure Writer implements Recorder at compile time.
var _ Recorder = (*Writer)(nil)
