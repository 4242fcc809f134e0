// Package host drives the downloadables manager: it owns the tick loop,
// serializes control commands onto the tick goroutine and publishes a
// read-only status view for the API.
package host

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/italolelis/downloadables/internal/downloadables"
	"github.com/italolelis/downloadables/internal/logctx"
	"github.com/italolelis/downloadables/internal/telemetry"
)

// ErrStopped is returned by Do once the tick loop has exited.
var ErrStopped = errors.New("host is not running")

// Status is the view published after every tick and command.
type Status struct {
	Initialized       bool                        `json:"initialized"`
	DownloaderEnabled bool                        `json:"downloaderEnabled"`
	AutomaticEnabled  bool                        `json:"automaticEnabled"`
	CatalogVersion    string                      `json:"catalogVersion,omitempty"`
	Groups            []downloadables.GroupStatus `json:"groups"`
	UpdatedAt         time.Time                   `json:"updatedAt"`
}

// Options configures a Host.
type Options struct {
	TickInterval      time.Duration
	AutoCreateHandles bool
	TrackingEnabled   bool
	Tracker           downloadables.Tracker
	Telemetry         *telemetry.Telemetry
}

type command struct {
	fn    func(*downloadables.Manager) error
	reply chan error
}

// Host owns a Manager. Only the goroutine running Run touches it.
type Host struct {
	m      *downloadables.Manager
	loader Loader
	opts   Options

	commands chan command
	done     chan struct{}
	status   atomic.Pointer[Status]

	mu       sync.Mutex
	watchers map[chan Status]struct{}
}

// New creates a host for m. Documents are loaded when Run starts.
func New(m *downloadables.Manager, loader Loader, opts Options) *Host {
	if opts.TickInterval <= 0 {
		opts.TickInterval = 100 * time.Millisecond
	}

	h := &Host{
		m:        m,
		loader:   loader,
		opts:     opts,
		commands: make(chan command),
		done:     make(chan struct{}),
		watchers: make(map[chan Status]struct{}),
	}
	h.status.Store(&Status{})

	return h
}

// Run loads the documents and ticks the manager until ctx is cancelled. A
// failed load is logged and leaves the manager inert until the next Reload.
func (h *Host) Run(ctx context.Context) error {
	defer close(h.done)

	logger := logctx.LoggerFromContext(ctx)

	if err := h.load(ctx); err != nil {
		logger.ErrorContext(ctx, "initial load failed, waiting for reload", "err", err)
		h.opts.Telemetry.RecordSystemError("host", "load")
	}

	h.publish()

	ticker := time.NewTicker(h.opts.TickInterval)
	defer ticker.Stop()

	last := time.Now()

	logger.InfoContext(ctx, "host tick loop started", "tick_interval", h.opts.TickInterval)

	for {
		select {
		case <-ctx.Done():
			logger.InfoContext(ctx, "shutting down host")
			h.m.Reset()
			h.publish()

			return nil
		case cmd := <-h.commands:
			cmd.reply <- cmd.fn(h.m)

			h.publish()
		case now := <-ticker.C:
			dt := now.Sub(last)
			last = now

			h.m.Update(dt)
			h.publish()
		}
	}
}

// Do runs fn on the tick goroutine and returns its error.
func (h *Host) Do(ctx context.Context, fn func(*downloadables.Manager) error) error {
	reply := make(chan error, 1)

	select {
	case h.commands <- command{fn: fn, reply: reply}:
	case <-h.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reload resets the manager and initializes it again from fresh documents.
func (h *Host) Reload(ctx context.Context) error {
	return h.Do(ctx, func(*downloadables.Manager) error {
		return h.load(ctx)
	})
}

// Status returns the latest published view.
func (h *Host) Status() Status {
	return *h.status.Load()
}

// Watch streams status updates until ctx is done. Slow readers only ever see
// the newest status.
func (h *Host) Watch(ctx context.Context) <-chan Status {
	ch := make(chan Status, 1)
	ch <- h.Status()

	h.mu.Lock()
	h.watchers[ch] = struct{}{}
	h.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-h.done:
		}

		h.mu.Lock()
		delete(h.watchers, ch)
		close(ch)
		h.mu.Unlock()
	}()

	return ch
}

func (h *Host) load(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx)

	// Reset restores both gates; a reload keeps what the operator chose.
	downloader, automatic := h.m.IsDownloaderEnabled(), h.m.IsAutomaticDownloaderEnabled()

	h.m.Reset()
	h.m.SetDownloaderEnabled(downloader)
	h.m.SetAutomaticDownloaderEnabled(automatic)

	docs, err := h.loader.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load documents: %w", err)
	}

	err = h.m.Initialize(
		docs.Catalog, docs.BundleCatalog, docs.Config, docs.Downloadables,
		h.opts.TrackingEnabled,
		h.opts.Tracker,
		logger.With("component", "downloadables"),
	)
	if err != nil {
		return err
	}

	if !h.opts.AutoCreateHandles {
		return nil
	}

	for _, g := range h.m.Catalog().Groups {
		if _, err := h.m.CreateDownloadablesHandle(g.ID); err != nil {
			return fmt.Errorf("failed to create handle for %s: %w", g.ID, err)
		}
	}

	logger.InfoContext(ctx, "created group handles", "count", len(h.m.Catalog().Groups))

	return nil
}

func (h *Host) publish() {
	st := &Status{
		Initialized:       h.m.Initialized(),
		DownloaderEnabled: h.m.IsDownloaderEnabled(),
		AutomaticEnabled:  h.m.IsAutomaticDownloaderEnabled(),
		Groups:            h.m.Groups(),
		UpdatedAt:         time.Now().UTC(),
	}

	if c := h.m.Catalog(); c != nil {
		st.CatalogVersion = c.Version
	}

	h.status.Store(st)
	h.recordSchedulerState(st.Groups)

	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.watchers {
		select {
		case ch <- *st:
			continue
		default:
		}

		// Replace the stale pending update.
		select {
		case <-ch:
		default:
		}

		select {
		case ch <- *st:
		default:
		}
	}
}

func (h *Host) recordSchedulerState(groups []downloadables.GroupStatus) {
	var downloading, queued int

	for _, g := range groups {
		switch {
		case g.State == downloadables.StateDownloading:
			downloading++
		case g.HasHandle && (g.State == downloadables.StateIdle || g.State == downloadables.StatePaused):
			queued++
		}
	}

	h.opts.Telemetry.RecordSchedulerState(downloading, queued)
}
