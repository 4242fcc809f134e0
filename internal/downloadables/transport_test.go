package downloadables

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSnapshotPublisher(t *testing.T) {
	var p SnapshotPublisher

	assert.Equal(t, Snapshot{}, p.Load())

	p.Publish(10)
	p.Publish(4)
	assert.Equal(t, int64(10), p.Load().Downloaded)

	boom := errors.New("boom")
	p.Fail(boom)
	p.Publish(12)

	snap := p.Load()
	assert.Equal(t, int64(12), snap.Downloaded)
	assert.ErrorIs(t, snap.Err, boom)

	p.Reset(7)
	assert.Equal(t, Snapshot{Downloaded: 7}, p.Load())
}

func TestSnapshotPublisher_ReceivedIsIndependentOfWatermark(t *testing.T) {
	var p SnapshotPublisher

	p.Reset(40)
	p.AddReceived(16)
	p.Publish(20)
	p.AddReceived(0)

	snap := p.Load()
	assert.Equal(t, int64(40), snap.Downloaded)
	assert.Equal(t, int64(16), snap.Received)

	p.Publish(48)
	p.Fail(errors.New("reset by peer"))
	assert.Equal(t, int64(16), p.Load().Received)

	p.Reset(48)
	assert.Equal(t, Snapshot{Downloaded: 48}, p.Load())
}

func TestSnapshotPublisher_ConcurrentPublishersNeverGoBackwards(t *testing.T) {
	var p SnapshotPublisher

	var wg sync.WaitGroup

	for w := 0; w < 8; w++ {
		wg.Add(1)

		go func(w int) {
			defer wg.Done()

			for i := int64(0); i < 1000; i++ {
				p.Publish(i*8 + int64(w))
			}
		}(w)
	}

	done := make(chan struct{})

	go func() {
		wg.Wait()
		close(done)
	}()

	var last int64

	for {
		select {
		case <-done:
			assert.Equal(t, int64(999*8+7), p.Load().Downloaded)

			return
		default:
			cur := p.Load().Downloaded
			assert.GreaterOrEqual(t, cur, last)
			last = cur
		}
	}
}
