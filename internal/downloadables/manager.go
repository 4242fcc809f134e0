// Package downloadables orchestrates downloadable content groups: it parses
// the build catalogs, schedules group transfers under priority and concurrency
// limits, tracks resumable progress and retries transient failures.
//
// Everything in this package runs on the host's single update tick. Transports
// hand progress over through SnapshotPublisher, so no locking is needed here.
package downloadables

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Manager owns the group registry, the global gates and the scheduler.
type Manager struct {
	transport Transport
	tracker   Tracker
	logger    Logger

	cfg         Config
	catalog     *Catalog
	initialized bool

	automaticEnabled  bool
	downloaderEnabled bool

	handles  map[string]*groupHandle
	// order holds handles in creation order so every pass is deterministic.
	order    []*groupHandle
	priority map[string]int
}

// NewManager returns an uninitialized manager that will open transfers
// through transport.
func NewManager(transport Transport) *Manager {
	m := &Manager{transport: transport}
	m.clear()

	return m
}

func (m *Manager) clear() {
	m.tracker = DummyTracker{}
	m.logger = nopLogger{}
	m.cfg = DefaultConfig()
	m.catalog = nil
	m.initialized = false
	m.automaticEnabled = true
	m.downloaderEnabled = true
	m.handles = make(map[string]*groupHandle)
	m.order = nil
	m.priority = make(map[string]int)
}

// Initialize parses the input documents and builds the registry. A malformed
// document is logged and returned; the manager then stays uninitialized and
// every other operation is inert.
func (m *Manager) Initialize(
	catalog, bundleCatalog, config, downloadablesCatalog []byte,
	trackingEnabled bool,
	tracker Tracker,
	logger Logger,
) error {
	if m.initialized {
		m.Reset()
	}

	if logger == nil {
		logger = nopLogger{}
	}

	if m.transport == nil {
		err := fmt.Errorf("downloadables manager has no transport")
		logger.Log(context.Background(), slog.LevelError, "failed to initialize downloadables", "err", err)

		return err
	}

	cfg, err := ParseConfig(config)
	if err != nil {
		logger.Log(context.Background(), slog.LevelError, "failed to parse downloadables config", "err", err)

		return err
	}

	cat, err := ParseCatalog(catalog, bundleCatalog, downloadablesCatalog)
	if err != nil {
		logger.Log(context.Background(), slog.LevelError, "failed to parse downloadables catalogs", "err", err)

		return err
	}

	m.logger = logger
	m.cfg = cfg
	m.catalog = cat
	m.tracker = DummyTracker{}

	if trackingEnabled && tracker != nil {
		m.tracker = tracker
	}

	m.initialized = true

	logger.Log(context.Background(), slog.LevelInfo, "downloadables initialized",
		"groups", len(cat.Groups),
		"catalog_version", cat.Version,
		"concurrency_limit", cfg.ConcurrencyLimit,
		"tracking", trackingEnabled,
	)

	return nil
}

// Initialized reports whether the last Initialize succeeded.
func (m *Manager) Initialized() bool { return m.initialized }

// Config returns the active tunables.
func (m *Manager) Config() Config { return m.cfg }

// Catalog returns the parsed registry, nil before Initialize.
func (m *Manager) Catalog() *Catalog { return m.catalog }

// Update runs one host tick.
func (m *Manager) Update(dt time.Duration) {
	if !m.initialized || !m.downloaderEnabled {
		return
	}

	for _, h := range m.order {
		switch h.state {
		case StateDownloading:
			h.Update(dt)
		case StateFailed:
			m.tickBackoff(h, dt)
		}
	}

	m.schedule()
}

func (m *Manager) tickBackoff(h *groupHandle, dt time.Duration) {
	if !h.autoRetry || !m.automaticEnabled {
		return
	}

	if h.retries >= m.cfg.MaxRetries {
		h.exhaust()

		return
	}

	h.retryIn -= dt
}

// CreateDownloadablesHandle returns the handle of a group, creating it on
// first use. Repeated calls return the same handle.
func (m *Manager) CreateDownloadablesHandle(groupID string) (Handle, error) {
	if !m.initialized {
		return nil, ErrNotInitialized
	}

	if h, ok := m.handles[groupID]; ok {
		return h, nil
	}

	g, ok := m.catalog.Group(groupID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownGroup, groupID)
	}

	h := newGroupHandle(m, g, m.priorityOf(g))
	m.handles[groupID] = h
	m.order = append(m.order, h)

	return h, nil
}

// SetDownloadableGroupPriority changes the scheduling priority of a group that
// has not started yet or is paused. Other states are left untouched.
func (m *Manager) SetDownloadableGroupPriority(groupID string, priority int) error {
	if !m.initialized {
		return ErrNotInitialized
	}

	if _, ok := m.catalog.Group(groupID); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownGroup, groupID)
	}

	h, ok := m.handles[groupID]
	if !ok {
		m.priority[groupID] = priority

		return nil
	}

	if h.state != StateIdle && h.state != StatePaused {
		return nil
	}

	m.priority[groupID] = priority
	h.priority = priority

	return nil
}

// IsAutomaticDownloaderEnabled reports whether idle groups start on their own.
func (m *Manager) IsAutomaticDownloaderEnabled() bool { return m.automaticEnabled }

// SetAutomaticDownloaderEnabled gates automatic starts and automatic retries.
func (m *Manager) SetAutomaticDownloaderEnabled(enabled bool) {
	m.automaticEnabled = enabled
}

// IsDownloaderEnabled reports the global kill switch.
func (m *Manager) IsDownloaderEnabled() bool { return m.downloaderEnabled }

// SetDownloaderEnabled pauses every in-flight group when disabled and resumes
// them from their watermark when enabled again.
func (m *Manager) SetDownloaderEnabled(enabled bool) {
	if m.downloaderEnabled == enabled {
		return
	}

	m.downloaderEnabled = enabled

	if !m.initialized {
		return
	}

	if !enabled {
		for _, h := range m.order {
			h.pause()
		}

		m.logger.Log(context.Background(), slog.LevelInfo, "downloader disabled")

		return
	}

	m.logger.Log(context.Background(), slog.LevelInfo, "downloader enabled")
	m.schedule()
}

// Reset stops every transfer and forgets all handles and catalogs.
func (m *Manager) Reset() {
	for _, h := range m.order {
		h.detach()
	}

	if m.initialized {
		m.logger.Log(context.Background(), slog.LevelInfo, "downloadables reset", "handles", len(m.order))
	}

	m.clear()
}

// GroupsForKey returns the groups that ship the bundle holding an asset key.
func (m *Manager) GroupsForKey(key string) []string {
	if !m.initialized {
		return nil
	}

	return m.catalog.GroupsForKey(key)
}

func (m *Manager) priorityOf(g Group) int {
	if p, ok := m.priority[g.ID]; ok {
		return p
	}

	return g.Priority
}

// requeue places a group that was just retried by the host.
func (m *Manager) requeue(h *groupHandle) {
	switch {
	case !m.downloaderEnabled:
		h.state = StatePaused
	case m.activeCount() < m.cfg.ConcurrencyLimit:
		h.start()
	default:
		h.state = StateIdle
		h.requested = true
	}
}

func (m *Manager) activeCount() int {
	n := 0

	for _, h := range m.order {
		if h.state == StateDownloading {
			n++
		}
	}

	return n
}
