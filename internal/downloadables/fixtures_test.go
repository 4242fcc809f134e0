package downloadables

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

const testAddressables = `{
	"version": "2024.1",
	"locations": [
		{"key": "Assets/Maps/Forest.prefab", "bundle": "forest"},
		{"key": "Assets/Maps/Desert.prefab", "bundle": "desert"}
	]
}`

const testBundles = `{
	"version": "7",
	"bundles": {
		"forest": {"url": "https://cdn.example.com/forest.bundle", "size": 100, "hash": "f0"},
		"desert": {"url": "https://cdn.example.com/desert.bundle", "size": 200, "hash": "d0"},
		"ocean":  {"url": "https://cdn.example.com/ocean.bundle",  "size": 100, "hash": "o0"},
		"shared": {"url": "https://cdn.example.com/shared.bundle", "size": 50,  "hash": "s0"},
		"empty":  {"url": "https://cdn.example.com/empty.bundle",  "size": 0,   "hash": "e0"}
	}
}`

const testDownloadables = `{
	"groups": [
		{"id": "alpha", "priority": 5, "bundles": ["forest"]},
		{"id": "beta",  "priority": 1, "bundles": ["desert"]},
		{"id": "gamma", "priority": 3, "bundles": ["ocean", "shared"]},
		{"id": "delta", "priority": 1, "bundles": ["shared"]},
		{"id": "void",  "priority": 0, "bundles": ["empty"]}
	]
}`

const testConfig = `{
	"concurrencyLimit": 2,
	"stallTimeoutSeconds": 10,
	"speedWindowSeconds": 2,
	"retryBackoffSeconds": [1, 2],
	"maxRetries": 2
}`

type fakeTransfer struct {
	pub     SnapshotPublisher
	starts  []int64
	stops   int
	running bool
}

func (f *fakeTransfer) Start(from int64) {
	f.running = true
	f.starts = append(f.starts, from)
	f.pub.Reset(from)
}

func (f *fakeTransfer) Stop() {
	f.running = false
	f.stops++
}

func (f *fakeTransfer) Snapshot() Snapshot { return f.pub.Load() }

func (f *fakeTransfer) advance(n int64) {
	f.pub.Publish(f.pub.Load().Downloaded + n)
}

type fakeTransport struct {
	transfers map[string]*fakeTransfer
	opened    []string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{transfers: make(map[string]*fakeTransfer)}
}

func (t *fakeTransport) Open(g Group) Transfer {
	f := &fakeTransfer{}
	t.transfers[g.ID] = f
	t.opened = append(t.opened, g.ID)

	return f
}

type recordingTracker struct {
	events []Event
}

func (r *recordingTracker) Notify(e Event) { r.events = append(r.events, e) }

func (r *recordingTracker) kinds(groupID string) []EventKind {
	var kinds []EventKind

	for _, e := range r.events {
		if e.GroupID == groupID {
			kinds = append(kinds, e.Kind)
		}
	}

	return kinds
}

type recordingLogger struct {
	messages []string
}

func (l *recordingLogger) Log(_ context.Context, _ slog.Level, msg string, _ ...any) {
	l.messages = append(l.messages, msg)
}

type testEnv struct {
	m         *Manager
	transport *fakeTransport
	tracker   *recordingTracker
	logs      *bytes.Buffer
}

func newTestEnv(t *testing.T, config string) *testEnv {
	t.Helper()

	env := &testEnv{
		transport: newFakeTransport(),
		tracker:   &recordingTracker{},
		logs:      &bytes.Buffer{},
	}
	env.m = NewManager(env.transport)

	logger := slog.New(slog.NewJSONHandler(env.logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	err := env.m.Initialize(
		[]byte(testAddressables),
		[]byte(testBundles),
		[]byte(config),
		[]byte(testDownloadables),
		true,
		env.tracker,
		logger,
	)
	require.NoError(t, err)

	return env
}

func (e *testEnv) handle(t *testing.T, id string) *groupHandle {
	t.Helper()

	h, err := e.m.CreateDownloadablesHandle(id)
	require.NoError(t, err)

	return h.(*groupHandle)
}

func (e *testEnv) transfer(t *testing.T, id string) *fakeTransfer {
	t.Helper()

	f, ok := e.transport.transfers[id]
	require.True(t, ok, "no transfer opened for %s", id)

	return f
}
