// Package storage persists the lifecycle events emitted by the downloadables
// manager so operators can inspect what happened after the fact.
package storage

import (
	"context"
	"time"

	"github.com/italolelis/downloadables/internal/downloadables"
)

// EventRecord represents one persisted group lifecycle event.
type EventRecord struct {
	ID         int64     `json:"id"`
	InstanceID string    `json:"instanceId"`
	GroupID    string    `json:"groupId"`
	Kind       string    `json:"kind"`
	ErrorType  string    `json:"errorType"`
	Downloaded int64     `json:"downloaded"`
	Total      int64     `json:"total"`
	DurationMs int64     `json:"durationMs"`
	Retries    int       `json:"retries"`
	RecordedAt time.Time `json:"recordedAt"`
}

// NewEventRecord converts a tracker event into a record.
func NewEventRecord(instanceID string, e downloadables.Event, at time.Time) EventRecord {
	return EventRecord{
		InstanceID: instanceID,
		GroupID:    e.GroupID,
		Kind:       string(e.Kind),
		ErrorType:  e.ErrorType.String(),
		Downloaded: e.Downloaded,
		Total:      e.Total,
		DurationMs: e.Duration.Milliseconds(),
		Retries:    e.Retries,
		RecordedAt: at.UTC(),
	}
}

// EventReadRepository queries the journal. Results are newest first.
type EventReadRepository interface {
	RecentEvents(ctx context.Context, limit int) ([]EventRecord, error)
	GroupEvents(ctx context.Context, groupID string, limit int) ([]EventRecord, error)
}

type EventWriteRepository interface {
	AppendEvent(ctx context.Context, record EventRecord) error
}

// EventRepository is implemented by every journal backend.
type EventRepository interface {
	EventReadRepository
	EventWriteRepository
}
