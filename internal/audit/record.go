package audit

import (
	"reflect"
	"time"

	"minerva.org/internal/ids"
)

// Result is the outcome recorded for an audited operation.
type Result string

const (
	ResultSuccess Result = "SUCCESS"
	ResultFailure Result = "FAILURE"
)

// FieldChange is one entry of a field-level diff.
type FieldChange struct {
	Old any `json:"old"`
	New any `json:"new"`
}

// Record is an immutable audit entry. Built once per audited operation and
// consumed append-only by a sink; consumers must treat the stream as
// eventually consistent, ordered by CreatedAt rather than causally.
type Record struct {
	ID            string                 `json:"id"`
	ActionType    string                 `json:"action_type"`
	ResourceType  string                 `json:"resource_type"`
	ResourceID    string                 `json:"resource_id"`
	ActorID       string                 `json:"actor_id,omitempty"`
	ActorUsername string                 `json:"actor_username,omitempty"`
	Changes       map[string]FieldChange `json:"changes,omitempty"`
	Result        Result                 `json:"result"`
	ErrorMessage  string                 `json:"error_message,omitempty"`
	Metadata      map[string]any         `json:"metadata,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
}

// NewRecord starts a successful record for the given operation. Callers
// fill in actor, changes and metadata before handing it to a Recorder.
func NewRecord(actionType, resourceType, resourceID string) *Record {
	return &Record{
		ID:           ids.New(),
		ActionType:   actionType,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Result:       ResultSuccess,
		CreatedAt:    time.Now().UTC(),
	}
}

// Failed marks the record as a failure with the given message.
func (r *Record) Failed(message string) *Record {
	r.Result = ResultFailure
	r.ErrorMessage = message
	return r
}

// WithActor sets the acting user.
func (r *Record) WithActor(id, username string) *Record {
	r.ActorID = id
	r.ActorUsername = username
	return r
}

// WithChanges attaches a field diff.
func (r *Record) WithChanges(changes map[string]FieldChange) *Record {
	if len(changes) > 0 {
		r.Changes = changes
	}
	return r
}

// WithMetadata sets one metadata key.
func (r *Record) WithMetadata(key string, value any) *Record {
	if r.Metadata == nil {
		r.Metadata = map[string]any{}
	}
	r.Metadata[key] = value
	return r
}

// DiffFields computes the field-level diff between two flat key/value
// mappings. Keys whose values are equal are omitted entirely; keys absent
// from before get Old == nil; keys absent from after get New == nil.
func DiffFields(before, after map[string]any) map[string]FieldChange {
	changes := make(map[string]FieldChange)
	for key, newVal := range after {
		oldVal, ok := before[key]
		if !ok {
			changes[key] = FieldChange{Old: nil, New: newVal}
			continue
		}
		if !reflect.DeepEqual(oldVal, newVal) {
			changes[key] = FieldChange{Old: oldVal, New: newVal}
		}
	}
	for key, oldVal := range before {
		if _, ok := after[key]; !ok {
			changes[key] = FieldChange{Old: oldVal, New: nil}
		}
	}
	return changes
}
