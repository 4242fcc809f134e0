package downloadables

import "time"

// EventKind names a lifecycle notification sent to a Tracker.
type EventKind string

const (
	EventStarted   EventKind = "started"
	EventCompleted EventKind = "completed"
	EventFailed    EventKind = "failed"
	EventRetried   EventKind = "retried"
	EventPaused    EventKind = "paused"
	EventResumed   EventKind = "resumed"
)

// Event is a telemetry notification about one group.
type Event struct {
	Kind       EventKind
	GroupID    string
	Downloaded int64
	Total      int64
	// Duration is the time spent downloading in the current attempt.
	Duration  time.Duration
	ErrorType ErrorType
	Retries   int
}

// Tracker receives lifecycle notifications. Notify runs on the host tick and
// must not block.
type Tracker interface {
	Notify(Event)
}

// DummyTracker discards every event.
type DummyTracker struct{}

func (DummyTracker) Notify(Event) {}

// MultiTracker fans events out to several trackers in order.
type MultiTracker []Tracker

func (m MultiTracker) Notify(e Event) {
	for _, t := range m {
		if t != nil {
			t.Notify(e)
		}
	}
}

// TrackerFunc adapts a function to the Tracker interface.
type TrackerFunc func(Event)

func (f TrackerFunc) Notify(e Event) { f(e) }
