package audit

import (
	"context"
	"errors"
	"sync"
	"time"

	"minerva.org/internal/obs"
)

const defaultQueueSize = 256

var errRecorderClosed = errors.New("audit: recorder closed")

// Recorder delivers records to a sink either synchronously (the caller
// blocks and sink failures propagate) or asynchronously (records are
// queued, a dedicated consumer drains them, and failures are logged but
// never surfaced to the triggering operation).
type Recorder struct {
	sink  Sink
	async bool
	queue chan *Record

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithAsync switches the recorder to fire-and-forget mode with a bounded
// queue of the given size (or a default when size <= 0). When the queue is
// full the record is dropped and counted, never blocking the caller.
func WithAsync(size int) RecorderOption {
	return func(r *Recorder) {
		if size <= 0 {
			size = defaultQueueSize
		}
		r.async = true
		r.queue = make(chan *Record, size)
	}
}

// NewRecorder constructs a Recorder over the sink. A nil sink falls back to
// LogSink.
func NewRecorder(sink Sink, opts ...RecorderOption) *Recorder {
	if sink == nil {
		sink = LogSink{}
	}
	r := &Recorder{sink: sink}
	for _, opt := range opts {
		opt(r)
	}
	if r.async {
		r.done = make(chan struct{})
		go r.consume()
	}
	return r
}

// Record delivers rec. In synchronous mode the sink error is returned; in
// asynchronous mode the return is always nil and delivery is best-effort
// with no ordering guarantee between concurrent callers.
func (r *Recorder) Record(ctx context.Context, rec *Record) error {
	if rec == nil {
		return nil
	}
	if !r.async {
		return r.sink.Write(ctx, rec)
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	select {
	case r.queue <- rec:
		obs.SetAuditQueueDepth(len(r.queue))
	default:
		obs.AuditRecordDropped()
		obs.LogEvent(map[string]any{
			"level":  "warn",
			"msg":    "audit queue full, record dropped",
			"action": rec.ActionType,
		})
	}
	r.mu.Unlock()
	return nil
}

// Close stops the consumer after draining queued records. Synchronous
// recorders close immediately.
func (r *Recorder) Close() error {
	if !r.async {
		return nil
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return errRecorderClosed
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()
	<-r.done
	return nil
}

func (r *Recorder) consume() {
	defer close(r.done)
	for rec := range r.queue {
		obs.SetAuditQueueDepth(len(r.queue))
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := r.sink.Write(ctx, rec); err != nil {
			obs.LogEvent(map[string]any{
				"level":  "error",
				"msg":    "audit sink write failed",
				"action": rec.ActionType,
				"error":  err.Error(),
			})
		}
		cancel()
	}
}
