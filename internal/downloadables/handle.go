package downloadables

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Handle is the live per-group controller polled by the host.
type Handle interface {
	GroupID() string
	State() State
	// Update advances progress and speed. It is a no-op outside Downloading.
	Update(dt time.Duration)
	// Progress is downloaded/total in [0,1], 1 when total is zero.
	Progress() float64
	DownloadedBytes() int64
	TotalBytes() int64
	// Speed is bytes per second smoothed over the sampling window.
	Speed() float64
	IsAvailable() bool
	Error() error
	ErrorType() ErrorType
	Retry() error
	RetryCount() int
}

type groupHandle struct {
	m        *Manager
	group    Group
	priority int
	transfer Transfer

	state      State
	downloaded int64
	errType    ErrorType
	err        error
	retries    int

	speed speedSampler

	attemptTime time.Duration
	stalled     time.Duration

	// received is the wire activity last seen in the current attempt.
	received int64

	// requested marks an Idle group the host asked for explicitly.
	requested bool
	// autoRetry is set while a transient failure waits out its backoff.
	autoRetry bool
	retryIn   time.Duration
}

func newGroupHandle(m *Manager, g Group, priority int) *groupHandle {
	h := &groupHandle{
		m:        m,
		group:    g,
		priority: priority,
		errType:  ErrorNone,
		speed:    newSpeedSampler(m.cfg.SpeedWindow),
	}

	if g.TotalBytes == 0 {
		h.complete()
	}

	return h
}

func (h *groupHandle) GroupID() string { return h.group.ID }

func (h *groupHandle) State() State { return h.state }

func (h *groupHandle) TotalBytes() int64 { return h.group.TotalBytes }

func (h *groupHandle) DownloadedBytes() int64 { return h.downloaded }

func (h *groupHandle) RetryCount() int { return h.retries }

func (h *groupHandle) Progress() float64 {
	if h.group.TotalBytes == 0 {
		return 1
	}

	return float64(h.downloaded) / float64(h.group.TotalBytes)
}

func (h *groupHandle) Speed() float64 {
	if h.state != StateDownloading {
		return 0
	}

	return h.speed.rate()
}

func (h *groupHandle) IsAvailable() bool {
	if h.state == StateCompleted {
		return true
	}

	if h.m == nil {
		return false
	}

	threshold := h.m.cfg.AvailabilityThreshold

	return threshold > 0 && h.Progress() >= threshold
}

func (h *groupHandle) Error() error {
	if h.state != StateFailed {
		return nil
	}

	return h.err
}

func (h *groupHandle) ErrorType() ErrorType {
	if h.state != StateFailed {
		return ErrorNone
	}

	return h.errType
}

func (h *groupHandle) Update(dt time.Duration) {
	if h.state != StateDownloading || h.m == nil || h.transfer == nil {
		return
	}

	snap := h.transfer.Snapshot()
	prev := h.downloaded

	if snap.Downloaded > h.downloaded {
		h.downloaded = min(snap.Downloaded, h.group.TotalBytes)
	}

	h.attemptTime += dt
	h.speed.add(dt, h.downloaded)

	if snap.Err != nil {
		h.fail(Classify(snap.Err), snap.Err)

		return
	}

	if h.downloaded >= h.group.TotalBytes {
		h.complete()

		return
	}

	received := snap.Received > h.received
	h.received = snap.Received

	if h.downloaded > prev || received {
		h.stalled = 0

		return
	}

	h.stalled += dt
	if h.stalled >= h.m.cfg.StallTimeout {
		h.fail(ErrorTimeout, ErrStalled)
	}
}

// Retry resumes a failed group from its watermark. On an Idle group it marks
// the group as requested so it starts even with the automatic downloader off.
func (h *groupHandle) Retry() error {
	if h.m == nil {
		return ErrNotInitialized
	}

	switch h.state {
	case StateIdle:
		h.requested = true

		return nil
	case StateFailed:
	default:
		return ErrInvalidState
	}

	if h.errType == ErrorRetriesExhausted {
		return ErrRetriesExceeded
	}

	if h.retries >= h.m.cfg.MaxRetries {
		h.exhaust()

		return ErrRetriesExceeded
	}

	h.retries++
	h.clearError()
	h.notify(EventRetried)
	h.m.requeue(h)

	return nil
}

// preemptible reports whether the group holds a slot without ever having
// received a byte. A group resumed from a watermark is mid-transfer.
func (h *groupHandle) preemptible() bool {
	return h.state == StateDownloading && h.downloaded == 0
}

func (h *groupHandle) start() {
	if h.group.TotalBytes == 0 {
		h.complete()

		return
	}

	kind := EventStarted
	if h.state == StatePaused {
		kind = EventResumed
	}

	if h.transfer == nil {
		h.transfer = h.m.transport.Open(h.group)
	}

	h.state = StateDownloading
	h.requested = false
	h.attemptTime = 0
	h.stalled = 0
	h.received = 0
	h.speed.reset(h.downloaded)
	h.transfer.Start(h.downloaded)

	h.log(slog.LevelDebug, "group download started", "from", h.downloaded, "total", h.group.TotalBytes)
	h.notify(kind)
}

func (h *groupHandle) pause() {
	if h.state != StateDownloading {
		return
	}

	h.stop()
	h.state = StatePaused

	h.log(slog.LevelDebug, "group download paused", "watermark", h.downloaded)
	h.notify(EventPaused)
}

func (h *groupHandle) complete() {
	h.stop()
	h.downloaded = h.group.TotalBytes
	h.state = StateCompleted
	h.clearError()

	h.log(slog.LevelInfo, "group download completed", "total", h.group.TotalBytes, "retries", h.retries)
	h.notify(EventCompleted)
}

func (h *groupHandle) fail(t ErrorType, cause error) {
	h.stop()
	h.state = StateFailed
	h.errType = t
	h.err = &DownloadError{GroupID: h.group.ID, Type: t, Err: cause}
	h.autoRetry = t.Transient()

	if h.autoRetry {
		h.retryIn = h.m.cfg.backoffDelay(h.retries)
	}

	h.log(slog.LevelWarn, "group download failed", "error_type", t, "err", cause, "watermark", h.downloaded)
	h.notify(EventFailed)
}

func (h *groupHandle) exhaust() {
	cause := h.err
	if cause == nil {
		cause = ErrRetriesExceeded
	} else {
		cause = errors.Join(ErrRetriesExceeded, cause)
	}

	h.state = StateFailed
	h.errType = ErrorRetriesExhausted
	h.err = &DownloadError{GroupID: h.group.ID, Type: ErrorRetriesExhausted, Err: cause}
	h.autoRetry = false

	h.log(slog.LevelError, "group retries exhausted", "retries", h.retries)
	h.notify(EventFailed)
}

func (h *groupHandle) clearError() {
	h.errType = ErrorNone
	h.err = nil
	h.autoRetry = false
	h.retryIn = 0
}

func (h *groupHandle) stop() {
	if h.transfer != nil {
		h.transfer.Stop()
	}

	h.stalled = 0
}

// detach severs the handle from its manager on Reset.
func (h *groupHandle) detach() {
	h.stop()
	h.transfer = nil
	h.m = nil
	h.state = StateIdle
	h.downloaded = 0
	h.retries = 0
	h.requested = false
	h.clearError()
}

func (h *groupHandle) notify(kind EventKind) {
	if h.m == nil {
		return
	}

	h.m.tracker.Notify(Event{
		Kind:       kind,
		GroupID:    h.group.ID,
		Downloaded: h.downloaded,
		Total:      h.group.TotalBytes,
		Duration:   h.attemptTime,
		ErrorType:  h.errType,
		Retries:    h.retries,
	})
}

func (h *groupHandle) log(level slog.Level, msg string, args ...any) {
	if h.m == nil {
		return
	}

	h.m.logger.Log(context.Background(), level, msg, append([]any{"group_id", h.group.ID}, args...)...)
}
