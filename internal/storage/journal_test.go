package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/italolelis/downloadables/internal/downloadables"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryRepository struct {
	mu      sync.Mutex
	records []EventRecord
	err     error
}

func (r *memoryRepository) AppendEvent(_ context.Context, rec EventRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return r.err
	}

	r.records = append(r.records, rec)

	return nil
}

func (r *memoryRepository) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.records)
}

func TestNewEventRecord(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.FixedZone("CET", 3600))

	rec := NewEventRecord("host", downloadables.Event{
		Kind:       downloadables.EventFailed,
		GroupID:    "forest",
		Downloaded: 10,
		Total:      100,
		Duration:   2 * time.Second,
		ErrorType:  downloadables.ErrorTimeout,
		Retries:    2,
	}, at)

	assert.Equal(t, EventRecord{
		InstanceID: "host",
		GroupID:    "forest",
		Kind:       "failed",
		ErrorType:  "TIMEOUT",
		Downloaded: 10,
		Total:      100,
		DurationMs: 2000,
		Retries:    2,
		RecordedAt: at.UTC(),
	}, rec)
}

func TestJournal_DropsWhenFull(t *testing.T) {
	repo := &memoryRepository{}
	journal := NewJournal(repo, "host", 2)

	for range 5 {
		journal.Notify(downloadables.Event{Kind: downloadables.EventStarted, GroupID: "forest"})
	}

	assert.Equal(t, int64(3), journal.Dropped())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, journal.Run(ctx))
	assert.Equal(t, 2, repo.len(), "buffered events are flushed on shutdown")
}

func TestJournal_KeepsRunningOnWriteErrors(t *testing.T) {
	repo := &memoryRepository{err: errors.New("disk full")}
	journal := NewJournal(repo, "host", 4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- journal.Run(ctx) }()

	journal.Notify(downloadables.Event{Kind: downloadables.EventStarted, GroupID: "forest"})
	time.Sleep(20 * time.Millisecond)

	repo.mu.Lock()
	repo.err = nil
	repo.mu.Unlock()

	journal.Notify(downloadables.Event{Kind: downloadables.EventCompleted, GroupID: "forest"})

	require.Eventually(t, func() bool { return repo.len() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestGenerateInstanceID(t *testing.T) {
	a := GenerateInstanceID()
	b := GenerateInstanceID()

	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}
