// Package realtime subscribes cached queries to row change events coming from
// the backend and fans them out to connected browser sessions.
package realtime

import (
	"encoding/json"
	"fmt"
	"time"
)

type EventType string

const (
	Insert EventType = "INSERT"
	Update EventType = "UPDATE"
	Delete EventType = "DELETE"
)

// ChangeEvent is one row change. New is set for inserts and updates, Old for
// updates and deletes.
type ChangeEvent struct {
	Type            EventType       `json:"type"`
	Schema          string          `json:"schema"`
	Table           string          `json:"table"`
	WorkspaceID     string          `json:"workspace_id"`
	New             json.RawMessage `json:"record,omitempty"`
	Old             json.RawMessage `json:"old_record,omitempty"`
	CommitTimestamp time.Time       `json:"commit_timestamp"`
}

// Record is the row the event is about: New, or Old for deletes.
func (e ChangeEvent) Record() json.RawMessage {
	if e.Type == Delete || len(e.New) == 0 {
		return e.Old
	}
	return e.New
}

// Column returns a top-level column of Record rendered as a string.
func (e ChangeEvent) Column(name string) (string, bool) {
	rec := e.Record()
	if len(rec) == 0 {
		return "", false
	}
	var row map[string]interface{}
	if err := json.Unmarshal(rec, &row); err != nil {
		return "", false
	}
	v, ok := row[name]
	if !ok || v == nil {
		return "", false
	}
	if s, ok := v.(string); ok {
		return s, true
	}
	return fmt.Sprint(v), true
}

// Decode unmarshals Record into dest.
func (e ChangeEvent) Decode(dest interface{}) error {
	rec := e.Record()
	if len(rec) == 0 {
		return fmt.Errorf("%s %s event has no record", e.Table, e.Type)
	}
	if err := json.Unmarshal(rec, dest); err != nil {
		return fmt.Errorf("decode %s record: %w", e.Table, err)
	}
	return nil
}
