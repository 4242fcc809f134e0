package downloadables

import (
	"cmp"
	"slices"
)

// schedule starts queued groups while slots are free. Candidates are ordered
// by priority descending, then registration order. A candidate may take the
// slot of a lower-priority group that has not received any bytes in its
// current attempt; groups that are moving bytes are never preempted.
func (m *Manager) schedule() {
	if !m.initialized || !m.downloaderEnabled {
		return
	}

	queue := m.candidates()
	if len(queue) == 0 {
		return
	}

	slices.SortStableFunc(queue, byPriority)

	active := m.activeCount()

	for _, h := range queue {
		if active < m.cfg.ConcurrencyLimit {
			m.launch(h)
			active++

			continue
		}

		victim := m.preemptionVictim(h.priority)
		if victim == nil {
			// The queue is sorted, so nothing behind h can preempt either.
			return
		}

		victim.pause()
		m.launch(h)
	}
}

func (m *Manager) launch(h *groupHandle) {
	if h.state == StateFailed {
		// Backoff elapsed for a transient failure.
		h.retries++
		h.clearError()
		h.notify(EventRetried)
	}

	h.start()
}

func (m *Manager) candidates() []*groupHandle {
	var queue []*groupHandle

	for _, h := range m.order {
		switch h.state {
		case StatePaused:
			queue = append(queue, h)
		case StateIdle:
			if m.automaticEnabled || h.requested {
				queue = append(queue, h)
			}
		case StateFailed:
			if m.automaticEnabled && h.autoRetry && h.retryIn <= 0 && h.retries < m.cfg.MaxRetries {
				queue = append(queue, h)
			}
		}
	}

	return queue
}

// preemptionVictim picks the lowest-priority preemptible group below the
// given priority, latest registration first.
func (m *Manager) preemptionVictim(priority int) *groupHandle {
	var victim *groupHandle

	for _, h := range m.order {
		if !h.preemptible() || h.priority >= priority {
			continue
		}

		if victim == nil || byPriority(h, victim) > 0 {
			victim = h
		}
	}

	return victim
}

func byPriority(a, b *groupHandle) int {
	if c := cmp.Compare(b.priority, a.priority); c != 0 {
		return c
	}

	return cmp.Compare(a.group.seq, b.group.seq)
}

// GroupStatus is a read-only view of one catalog group.
type GroupStatus struct {
	ID         string    `json:"id"`
	Priority   int       `json:"priority"`
	HasHandle  bool      `json:"hasHandle"`
	State      State     `json:"state"`
	Downloaded int64     `json:"downloaded"`
	Total      int64     `json:"total"`
	Progress   float64   `json:"progress"`
	Speed      float64   `json:"speed"`
	Available  bool      `json:"available"`
	ErrorType  ErrorType `json:"errorType"`
	Error      string    `json:"error,omitempty"`
	CanRetry   bool      `json:"canRetry"`
	Retries    int       `json:"retries"`
}

// Groups reports every catalog group in registration order.
func (m *Manager) Groups() []GroupStatus {
	if !m.initialized {
		return nil
	}

	out := make([]GroupStatus, 0, len(m.catalog.Groups))
	for _, g := range m.catalog.Groups {
		out = append(out, m.status(g))
	}

	return out
}

// Group reports a single group.
func (m *Manager) Group(id string) (GroupStatus, bool) {
	if !m.initialized {
		return GroupStatus{}, false
	}

	g, ok := m.catalog.Group(id)
	if !ok {
		return GroupStatus{}, false
	}

	return m.status(g), true
}

func (m *Manager) status(g Group) GroupStatus {
	st := GroupStatus{
		ID:        g.ID,
		Priority:  m.priorityOf(g),
		State:     StateIdle,
		Total:     g.TotalBytes,
		ErrorType: ErrorNone,
	}

	h, ok := m.handles[g.ID]
	if !ok {
		return st
	}

	st.HasHandle = true
	st.Priority = h.priority
	st.State = h.state
	st.Downloaded = h.downloaded
	st.Progress = h.Progress()
	st.Speed = h.Speed()
	st.Available = h.IsAvailable()
	st.ErrorType = h.ErrorType()
	st.CanRetry = h.state == StateFailed && h.errType.CanRetry()
	st.Retries = h.retries

	if err := h.Error(); err != nil {
		st.Error = err.Error()
	}

	return st
}
