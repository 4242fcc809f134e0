package downloadables

import "sync/atomic"

// Snapshot is the progress a transport reports for one group.
type Snapshot struct {
	Downloaded int64
	// Received counts every byte the attempt took off the wire, including
	// bytes that rebuild data below the watermark. The stall watchdog reads it.
	Received int64
	Err      error
}

// Transfer moves the bytes of one group. Implementations may use background
// goroutines but must never block the caller; progress is read through
// Snapshot on the host tick.
type Transfer interface {
	// Start begins or resumes the transfer with from bytes already on hand.
	Start(from int64)
	// Stop cancels any in-flight work. Bytes already written are kept.
	Stop()
	Snapshot() Snapshot
}

// Transport opens a Transfer per group.
type Transport interface {
	Open(g Group) Transfer
}

// SnapshotPublisher is the hand-off between transport goroutines and the tick.
// Every publish atomically replaces the snapshot and byte counts never go
// backwards.
type SnapshotPublisher struct {
	current atomic.Pointer[Snapshot]
}

// Publish records downloaded bytes. Lower counts than already published are
// ignored.
func (p *SnapshotPublisher) Publish(downloaded int64) {
	for {
		old := p.current.Load()

		next := Snapshot{Downloaded: downloaded}
		if old != nil {
			if old.Downloaded >= downloaded {
				return
			}

			next.Received = old.Received
			next.Err = old.Err
		}

		if p.current.CompareAndSwap(old, &next) {
			return
		}
	}
}

// Fail records a transport error while keeping the byte count.
func (p *SnapshotPublisher) Fail(err error) {
	for {
		old := p.current.Load()

		next := Snapshot{Err: err}
		if old != nil {
			next.Downloaded = old.Downloaded
			next.Received = old.Received
		}

		if p.current.CompareAndSwap(old, &next) {
			return
		}
	}
}

// AddReceived records n bytes of wire activity without moving the watermark.
func (p *SnapshotPublisher) AddReceived(n int64) {
	if n <= 0 {
		return
	}

	for {
		old := p.current.Load()

		var next Snapshot
		if old != nil {
			next = *old
		}

		next.Received += n

		if p.current.CompareAndSwap(old, &next) {
			return
		}
	}
}

// Reset starts a new attempt from the given watermark with no error.
func (p *SnapshotPublisher) Reset(from int64) {
	p.current.Store(&Snapshot{Downloaded: from})
}

// Load returns the latest snapshot.
func (p *SnapshotPublisher) Load() Snapshot {
	if s := p.current.Load(); s != nil {
		return *s
	}

	return Snapshot{}
}
