package storage

import (
	"context"

	"github.com/italolelis/downloadables/internal/telemetry"
)

// InstrumentedEventRepository wraps an EventRepository with telemetry.
type InstrumentedEventRepository struct {
	repo      EventRepository
	telemetry *telemetry.Telemetry
}

var _ EventRepository = (*InstrumentedEventRepository)(nil)

// NewInstrumentedEventRepository creates a new instrumented event repository.
func NewInstrumentedEventRepository(repo EventRepository, tel *telemetry.Telemetry) *InstrumentedEventRepository {
	return &InstrumentedEventRepository{
		repo:      repo,
		telemetry: tel,
	}
}

// AppendEvent stores an event with telemetry.
func (r *InstrumentedEventRepository) AppendEvent(ctx context.Context, rec EventRecord) error {
	return r.telemetry.InstrumentJournalOperation(ctx, "append_event", func(ctx context.Context) error {
		return r.repo.AppendEvent(ctx, rec)
	})
}

// RecentEvents retrieves the newest events with telemetry.
func (r *InstrumentedEventRepository) RecentEvents(ctx context.Context, limit int) ([]EventRecord, error) {
	var result []EventRecord

	err := r.telemetry.InstrumentJournalOperation(ctx, "recent_events", func(ctx context.Context) error {
		var err error

		result, err = r.repo.RecentEvents(ctx, limit)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// GroupEvents retrieves one group's events with telemetry.
func (r *InstrumentedEventRepository) GroupEvents(ctx context.Context, groupID string, limit int) ([]EventRecord, error) {
	var result []EventRecord

	err := r.telemetry.InstrumentJournalOperation(ctx, "group_events", func(ctx context.Context) error {
		var err error

		result, err = r.repo.GroupEvents(ctx, groupID, limit)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}
