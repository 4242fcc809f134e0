package downloadables

import (
	"fmt"
	"math"
	"time"
)

// MockGroupID is the group id reported by every MockHandle.
const MockGroupID = "mock"

type mockAction struct {
	at      time.Duration
	errType ErrorType
}

// MockHandle is a deterministic Handle driven by a scripted timeline instead
// of a transport. Its trajectory depends only on the accumulated elapsed time,
// never on how that time was split into ticks.
type MockHandle struct {
	total   int64
	initial int64
	speed   float64

	// active only grows while Downloading. DownloadedBytes derives from it.
	active  time.Duration
	elapsed time.Duration
	state   State
	errType ErrorType
	retries int

	actions []mockAction
	next    int
}

var _ Handle = (*MockHandle)(nil)

// NewMockHandle builds a mock that moves speed bytes per second from
// initialDownloaded towards total. initialError is the error a handle built
// with startFailed reports; it defaults to SERVER.
func NewMockHandle(initialDownloaded, total int64, speed float64, startPaused, startFailed bool, initialError ErrorType) *MockHandle {
	total = max(total, 0)

	m := &MockHandle{
		total:   total,
		initial: min(max(initialDownloaded, 0), total),
		speed:   math.Max(speed, 0),
		state:   StateDownloading,
		errType: ErrorNone,
	}

	if startFailed {
		m.errType = initialError
		if m.errType == ErrorNone || m.errType == "" {
			m.errType = ErrorServer
		}

		m.state = StateFailed
	}

	if startPaused {
		m.state = StatePaused
	}

	if m.total == 0 || m.initial >= m.total {
		m.state = StateCompleted
		m.errType = ErrorNone
	}

	return m
}

// AddAction schedules errType to be applied once elapsed simulated time is
// reached. Thresholds must be strictly increasing and not already passed.
func (m *MockHandle) AddAction(elapsed time.Duration, errType ErrorType) error {
	if elapsed < m.elapsed {
		return fmt.Errorf("%w: %s already elapsed", ErrActionOrder, elapsed)
	}

	if n := len(m.actions); n > 0 && elapsed <= m.actions[n-1].at {
		return fmt.Errorf("%w: %s after %s", ErrActionOrder, elapsed, m.actions[n-1].at)
	}

	if errType == "" {
		errType = ErrorNone
	}

	m.actions = append(m.actions, mockAction{at: elapsed, errType: errType})

	return nil
}

// Update advances the simulated clock. The clock stops while paused or
// completed; it keeps running while failed so a later NONE action can clear
// the error. Each tick is split at action thresholds.
func (m *MockHandle) Update(dt time.Duration) {
	if dt <= 0 || m.state == StatePaused || m.state == StateCompleted {
		return
	}

	for dt > 0 {
		m.applyDue()

		if m.state == StateCompleted {
			return
		}

		step := dt
		if m.next < len(m.actions) {
			if until := m.actions[m.next].at - m.elapsed; until < step {
				step = until
			}
		}

		m.advance(step)
		m.elapsed += step
		dt -= step
	}

	m.applyDue()
}

func (m *MockHandle) advance(step time.Duration) {
	if m.state != StateDownloading {
		return
	}

	m.active += step
	if m.DownloadedBytes() >= m.total {
		m.state = StateCompleted
	}
}

func (m *MockHandle) applyDue() {
	for m.next < len(m.actions) && m.actions[m.next].at <= m.elapsed {
		m.apply(m.actions[m.next].errType)
		m.next++
	}
}

func (m *MockHandle) apply(t ErrorType) {
	if m.state == StateCompleted {
		return
	}

	m.errType = t

	if t == ErrorNone {
		if m.state == StateFailed {
			m.state = StateDownloading
		}

		return
	}

	if m.state == StateDownloading {
		m.state = StateFailed
	}
}

// Pause stops the simulated clock.
func (m *MockHandle) Pause() {
	if m.state == StateDownloading || m.state == StateFailed {
		m.state = StatePaused
	}
}

// Resume restarts the clock, returning to Failed if an error is still active.
func (m *MockHandle) Resume() {
	if m.state != StatePaused {
		return
	}

	m.state = StateDownloading
	if m.errType != ErrorNone {
		m.state = StateFailed
	}
}

// Elapsed is the accumulated simulated time.
func (m *MockHandle) Elapsed() time.Duration { return m.elapsed }

func (m *MockHandle) GroupID() string { return MockGroupID }

func (m *MockHandle) State() State { return m.state }

func (m *MockHandle) TotalBytes() int64 { return m.total }

func (m *MockHandle) DownloadedBytes() int64 {
	moved := math.Floor(m.speed * m.active.Seconds())
	if moved >= float64(m.total-m.initial) {
		return m.total
	}

	return m.initial + int64(moved)
}

func (m *MockHandle) RetryCount() int { return m.retries }

func (m *MockHandle) Progress() float64 {
	if m.total == 0 {
		return 1
	}

	return float64(m.DownloadedBytes()) / float64(m.total)
}

func (m *MockHandle) Speed() float64 {
	if m.state != StateDownloading {
		return 0
	}

	return m.speed
}

func (m *MockHandle) IsAvailable() bool {
	return m.state == StateCompleted
}

func (m *MockHandle) ErrorType() ErrorType {
	if m.state != StateFailed {
		return ErrorNone
	}

	return m.errType
}

func (m *MockHandle) Error() error {
	if m.state != StateFailed {
		return nil
	}

	return &DownloadError{GroupID: MockGroupID, Type: m.errType}
}

// Retry clears an active error and resumes byte progress.
func (m *MockHandle) Retry() error {
	if m.state != StateFailed {
		return ErrInvalidState
	}

	if m.errType == ErrorRetriesExhausted {
		return ErrRetriesExceeded
	}

	m.retries++
	m.errType = ErrorNone
	m.state = StateDownloading

	return nil
}
