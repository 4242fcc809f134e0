package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/italolelis/downloadables/internal/storage"
)

const selectEvents = `SELECT
	id,
	instance_id,
	group_id,
	kind,
	error_type,
	downloaded,
	total,
	duration_ms,
	retries,
	recorded_at
FROM group_events`

// EventRepository implements storage.EventRepository on SQLite.
type EventRepository struct {
	db *sql.DB
}

var _ storage.EventRepository = (*EventRepository)(nil)

func NewEventRepository(db *sql.DB) *EventRepository {
	return &EventRepository{db: db}
}

func (r *EventRepository) AppendEvent(ctx context.Context, rec storage.EventRecord) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO group_events (instance_id, group_id, kind, error_type, downloaded, total, duration_ms, retries, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.InstanceID, rec.GroupID, rec.Kind, rec.ErrorType,
		rec.Downloaded, rec.Total, rec.DurationMs, rec.Retries,
		rec.RecordedAt.UTC().Format(time.RFC3339Nano),
	)

	return err
}

// RecentEvents returns up to limit events across all groups.
func (r *EventRepository) RecentEvents(ctx context.Context, limit int) ([]storage.EventRecord, error) {
	rows, err := r.db.QueryContext(ctx, selectEvents+` ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEvents(rows)
}

// GroupEvents returns up to limit events of one group.
func (r *EventRepository) GroupEvents(ctx context.Context, groupID string, limit int) ([]storage.EventRecord, error) {
	rows, err := r.db.QueryContext(ctx, selectEvents+` WHERE group_id = ? ORDER BY id DESC LIMIT ?`, groupID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]storage.EventRecord, error) {
	var events []storage.EventRecord

	for rows.Next() {
		var (
			rec        storage.EventRecord
			recordedAt string
		)

		err := rows.Scan(
			&rec.ID, &rec.InstanceID, &rec.GroupID, &rec.Kind, &rec.ErrorType,
			&rec.Downloaded, &rec.Total, &rec.DurationMs, &rec.Retries, &recordedAt,
		)
		if err != nil {
			return nil, err
		}

		rec.RecordedAt, err = time.Parse(time.RFC3339Nano, recordedAt)
		if err != nil {
			return nil, fmt.Errorf("invalid recorded_at %q: %w", recordedAt, err)
		}

		events = append(events, rec)
	}

	return events, rows.Err()
}
