package storage

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/italolelis/downloadables/internal/downloadables"
	"github.com/italolelis/downloadables/internal/logctx"
)

const flushTimeout = 5 * time.Second

// Journal is a downloadables.Tracker that persists events. Notify runs on the
// host tick, so it only enqueues; Run performs the writes. Events are dropped
// when the buffer is full rather than stalling the tick.
type Journal struct {
	repo       EventWriteRepository
	instanceID string
	events     chan EventRecord
	dropped    atomic.Int64
	now        func() time.Time
}

var _ downloadables.Tracker = (*Journal)(nil)

// NewJournal creates a journal writing to repo with room for buffer pending events.
func NewJournal(repo EventWriteRepository, instanceID string, buffer int) *Journal {
	if buffer < 1 {
		buffer = 1
	}

	return &Journal{
		repo:       repo,
		instanceID: instanceID,
		events:     make(chan EventRecord, buffer),
		now:        time.Now,
	}
}

// Notify implements downloadables.Tracker.
func (j *Journal) Notify(e downloadables.Event) {
	select {
	case j.events <- NewEventRecord(j.instanceID, e, j.now()):
	default:
		j.dropped.Add(1)
	}
}

// Dropped reports how many events were discarded because the buffer was full.
func (j *Journal) Dropped() int64 {
	return j.dropped.Load()
}

// Run writes queued events until ctx is cancelled, then flushes what is left.
func (j *Journal) Run(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx).With("component", "journal")

	for {
		select {
		case <-ctx.Done():
			j.flush(context.WithoutCancel(ctx))

			return nil
		case rec := <-j.events:
			if err := j.repo.AppendEvent(ctx, rec); err != nil {
				logger.ErrorContext(ctx, "failed to append event", "group_id", rec.GroupID, "kind", rec.Kind, "err", err)
			}
		}
	}
}

func (j *Journal) flush(ctx context.Context) {
	logger := logctx.LoggerFromContext(ctx).With("component", "journal")

	ctx, cancel := context.WithTimeout(ctx, flushTimeout)
	defer cancel()

	for {
		select {
		case rec := <-j.events:
			if err := j.repo.AppendEvent(ctx, rec); err != nil {
				logger.ErrorContext(ctx, "failed to flush event", "group_id", rec.GroupID, "err", err)

				return
			}
		default:
			if n := j.Dropped(); n > 0 {
				logger.WarnContext(ctx, "journal dropped events", "count", n)
			}

			return
		}
	}
}
