package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type memSink struct {
	mu      sync.Mutex
	records []*Record
	err     error
	block   chan struct{}
}

func (s *memSink) Write(ctx context.Context, rec *Record) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, rec)
	return nil
}

func (s *memSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func TestSyncRecorderPropagatesSinkError(t *testing.T) {
	boom := errors.New("sink down")
	sink := &memSink{err: boom}
	rec := NewRecorder(sink)

	if err := rec.Record(context.Background(), NewRecord("a", "r", "1")); !errors.Is(err, boom) {
		t.Fatalf("expected sink error, got %v", err)
	}

	sink.err = nil
	if err := rec.Record(context.Background(), NewRecord("a", "r", "1")); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if sink.count() != 1 {
		t.Fatalf("expected 1 delivered record, got %d", sink.count())
	}
}

func TestSyncRecorderIgnoresNil(t *testing.T) {
	sink := &memSink{}
	rec := NewRecorder(sink)
	if err := rec.Record(context.Background(), nil); err != nil {
		t.Fatalf("nil record: %v", err)
	}
	if sink.count() != 0 {
		t.Fatalf("nil record must not reach the sink")
	}
}

func TestAsyncRecorderDeliversAndCloses(t *testing.T) {
	sink := &memSink{}
	rec := NewRecorder(sink, WithAsync(8))

	for i := 0; i < 5; i++ {
		if err := rec.Record(context.Background(), NewRecord("a", "r", "1")); err != nil {
			t.Fatalf("async Record must never fail, got %v", err)
		}
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if sink.count() != 5 {
		t.Fatalf("expected 5 records drained on close, got %d", sink.count())
	}

	if err := rec.Close(); err == nil {
		t.Fatalf("second Close must fail")
	}
	// Records after close are silently discarded.
	if err := rec.Record(context.Background(), NewRecord("a", "r", "1")); err != nil {
		t.Fatalf("Record after close: %v", err)
	}
	if sink.count() != 5 {
		t.Fatalf("record delivered after close")
	}
}

func TestAsyncRecorderDropsWhenQueueFull(t *testing.T) {
	block := make(chan struct{})
	sink := &memSink{block: block}
	rec := NewRecorder(sink, WithAsync(1))

	// First record occupies the consumer, second fills the queue, the rest
	// are dropped without blocking the caller.
	for i := 0; i < 6; i++ {
		if err := rec.Record(context.Background(), NewRecord("a", "r", "1")); err != nil {
			t.Fatalf("async Record must never fail, got %v", err)
		}
	}
	close(block)
	if err := rec.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := sink.count(); got > 2 {
		t.Fatalf("expected at most 2 delivered records, got %d", got)
	}
	if got := sink.count(); got == 0 {
		t.Fatalf("expected at least the in-flight record to be delivered")
	}
}

func TestAsyncRecorderSinkFailureDoesNotSurface(t *testing.T) {
	sink := &memSink{err: errors.New("sink down")}
	rec := NewRecorder(sink, WithAsync(4))

	if err := rec.Record(context.Background(), NewRecord("a", "r", "1")); err != nil {
		t.Fatalf("async Record must swallow sink errors, got %v", err)
	}
	// Give the consumer a moment before closing.
	time.Sleep(10 * time.Millisecond)
	if err := rec.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
