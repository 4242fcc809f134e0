// Package postgres stores the event journal in PostgreSQL through the pgx
// database/sql driver, for hosts that share one journal.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/italolelis/downloadables/internal/storage"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const pingTimeout = 5 * time.Second

const selectEvents = `SELECT id,instance_id,group_id,kind,error_type,downloaded,total,duration_ms,retries,recorded_at FROM group_events`

// EventRepository implements storage.EventRepository backed by PostgreSQL.
type EventRepository struct {
	db *sql.DB
}

var _ storage.EventRepository = (*EventRepository)(nil)

// NewEventRepository connects using dsn, verifies the connection and ensures
// the schema exists.
func NewEventRepository(ctx context.Context, dsn string) (*EventRepository, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to reach journal database: %w", err)
	}

	r := &EventRepository{db: db}
	if err := r.ensureSchema(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to create journal schema: %w", err)
	}

	return r, nil
}

func (r *EventRepository) Close() error { return r.db.Close() }

func (r *EventRepository) ensureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS group_events (
    id BIGSERIAL PRIMARY KEY,
    instance_id TEXT NOT NULL,
    group_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    error_type TEXT NOT NULL DEFAULT 'NONE',
    downloaded BIGINT NOT NULL DEFAULT 0,
    total BIGINT NOT NULL DEFAULT 0,
    duration_ms BIGINT NOT NULL DEFAULT 0,
    retries INTEGER NOT NULL DEFAULT 0,
    recorded_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_group_events_group ON group_events (group_id, id);
`)

	return err
}

func (r *EventRepository) AppendEvent(ctx context.Context, rec storage.EventRecord) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO group_events (instance_id,group_id,kind,error_type,downloaded,total,duration_ms,retries,recorded_at) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		rec.InstanceID, rec.GroupID, rec.Kind, rec.ErrorType, rec.Downloaded, rec.Total, rec.DurationMs, rec.Retries, rec.RecordedAt)

	return err
}

func (r *EventRepository) RecentEvents(ctx context.Context, limit int) ([]storage.EventRecord, error) {
	rows, err := r.db.QueryContext(ctx, selectEvents+` ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEvents(rows)
}

func (r *EventRepository) GroupEvents(ctx context.Context, groupID string, limit int) ([]storage.EventRecord, error) {
	rows, err := r.db.QueryContext(ctx, selectEvents+` WHERE group_id=$1 ORDER BY id DESC LIMIT $2`, groupID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]storage.EventRecord, error) {
	var out []storage.EventRecord

	for rows.Next() {
		var rec storage.EventRecord
		if err := rows.Scan(&rec.ID, &rec.InstanceID, &rec.GroupID, &rec.Kind, &rec.ErrorType,
			&rec.Downloaded, &rec.Total, &rec.DurationMs, &rec.Retries, &rec.RecordedAt); err != nil {
			return nil, err
		}

		rec.RecordedAt = rec.RecordedAt.UTC()
		out = append(out, rec)
	}

	return out, rows.Err()
}
