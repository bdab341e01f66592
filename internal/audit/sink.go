package audit

import (
	"context"
	"encoding/json"
	"time"

	"minerva.org/internal/obs"
)

// Sink receives completed audit records. Implementations must be safe for
// concurrent use.
type Sink interface {
	Write(ctx context.Context, rec *Record) error
}

// LogSink writes records as JSON lines through the shared logger. It is the
// default sink and the fallback when no persistent sink is configured.
type LogSink struct{}

// Write emits the record as one JSON log line.
func (LogSink) Write(_ context.Context, rec *Record) error {
	data, err := json.Marshal(map[string]any{
		"ts":     rec.CreatedAt.Format(time.RFC3339Nano),
		"type":   "audit",
		"record": rec,
	})
	if err != nil {
		return err
	}
	obs.Logger().Println(string(data))
	return nil
}
