package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/italolelis/downloadables/internal/downloadables"
	"github.com/italolelis/downloadables/internal/storage"
	"github.com/italolelis/downloadables/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepository(t *testing.T) *storage.InstrumentedEventRepository {
	t.Helper()

	db, err := InitDB(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)

	t.Cleanup(func() { _ = db.Close() })

	tel, err := telemetry.New(context.Background(), telemetry.Config{Enabled: false})
	require.NoError(t, err)

	return storage.NewInstrumentedEventRepository(NewEventRepository(db), tel)
}

func TestEventRepository_AppendAndQuery(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	events := []downloadables.Event{
		{Kind: downloadables.EventStarted, GroupID: "forest", Total: 100},
		{Kind: downloadables.EventStarted, GroupID: "desert", Total: 200},
		{Kind: downloadables.EventFailed, GroupID: "forest", Downloaded: 40, Total: 100, ErrorType: downloadables.ErrorNoConnection, Retries: 1},
		{Kind: downloadables.EventCompleted, GroupID: "desert", Downloaded: 200, Total: 200, Duration: 1500 * time.Millisecond},
	}

	for i, e := range events {
		rec := storage.NewEventRecord("host-1", e, at.Add(time.Duration(i)*time.Second))
		require.NoError(t, repo.AppendEvent(ctx, rec))
	}

	recent, err := repo.RecentEvents(ctx, 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "desert", recent[0].GroupID)
	assert.Equal(t, "completed", recent[0].Kind)
	assert.Equal(t, int64(1500), recent[0].DurationMs)
	assert.Equal(t, at.Add(3*time.Second), recent[0].RecordedAt)
	assert.Equal(t, "NONE", recent[0].ErrorType)

	forest, err := repo.GroupEvents(ctx, "forest", 10)
	require.NoError(t, err)
	require.Len(t, forest, 2)
	assert.Equal(t, "failed", forest[0].Kind)
	assert.Equal(t, "NO_CONNECTION", forest[0].ErrorType)
	assert.Equal(t, int64(40), forest[0].Downloaded)
	assert.Equal(t, 1, forest[0].Retries)
	assert.Equal(t, "host-1", forest[0].InstanceID)
	assert.Equal(t, "started", forest[1].Kind)
	assert.Greater(t, forest[0].ID, forest[1].ID)
}

func TestEventRepository_Empty(t *testing.T) {
	repo := newTestRepository(t)

	events, err := repo.GroupEvents(context.Background(), "missing", 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestJournal_PersistsThroughRun(t *testing.T) {
	repo := newTestRepository(t)
	journal := storage.NewJournal(repo, "host-1", 8)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- journal.Run(ctx) }()

	journal.Notify(downloadables.Event{Kind: downloadables.EventStarted, GroupID: "forest"})
	journal.Notify(downloadables.Event{Kind: downloadables.EventCompleted, GroupID: "forest"})

	require.Eventually(t, func() bool {
		events, err := repo.GroupEvents(context.Background(), "forest", 10)

		return err == nil && len(events) == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Zero(t, journal.Dropped())
}
