package downloadables

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockHandle_CompletesAtConstantSpeed(t *testing.T) {
	h := NewMockHandle(0, 100, 10, false, false, ErrorNone)

	for i := 0; i < 10; i++ {
		assert.False(t, h.IsAvailable(), "available too early at tick %d", i)
		h.Update(time.Second)
	}

	assert.Equal(t, StateCompleted, h.State())
	assert.InDelta(t, 1.0, h.Progress(), 1e-9)
	assert.True(t, h.IsAvailable())
	assert.Equal(t, int64(100), h.DownloadedBytes())
	assert.Zero(t, h.Speed())
}

func TestMockHandle_ScriptedConnectionLoss(t *testing.T) {
	h := NewMockHandle(50, 200, 20, false, false, ErrorNone)
	require.NoError(t, h.AddAction(5*time.Second, ErrorNoConnection))
	require.NoError(t, h.AddAction(35*time.Second, ErrorNone))

	for i := 0; i < 5; i++ {
		h.Update(time.Second)
	}

	assert.Equal(t, int64(150), h.DownloadedBytes())
	assert.Equal(t, ErrorNoConnection, h.ErrorType())
	assert.Equal(t, StateFailed, h.State())
	assert.Error(t, h.Error())

	for h.Elapsed() < 35*time.Second-time.Second {
		h.Update(time.Second)
		assert.Equal(t, int64(150), h.DownloadedBytes(), "moved bytes while failed at %s", h.Elapsed())
	}

	h.Update(time.Second)
	assert.Equal(t, 35*time.Second, h.Elapsed())
	assert.Equal(t, ErrorNone, h.ErrorType())
	assert.Equal(t, StateDownloading, h.State())
	assert.Equal(t, int64(150), h.DownloadedBytes())

	h.Update(time.Second)
	assert.Equal(t, int64(170), h.DownloadedBytes())
}

func TestMockHandle_TickSplittingDoesNotChangeTrajectory(t *testing.T) {
	build := func() *MockHandle {
		h := NewMockHandle(50, 200, 20, false, false, ErrorNone)
		require.NoError(t, h.AddAction(5*time.Second, ErrorNoConnection))
		require.NoError(t, h.AddAction(35*time.Second, ErrorNone))

		return h
	}

	coarse := build()
	coarse.Update(36 * time.Second)

	fine := build()
	for i := 0; i < 360; i++ {
		fine.Update(100 * time.Millisecond)
	}

	uneven := build()
	for _, dt := range []time.Duration{3 * time.Second, 7 * time.Second, 20 * time.Second, 6 * time.Second} {
		uneven.Update(dt)
	}

	for name, h := range map[string]*MockHandle{"fine": fine, "uneven": uneven} {
		assert.Equal(t, coarse.State(), h.State(), name)
		assert.Equal(t, coarse.ErrorType(), h.ErrorType(), name)
		assert.Equal(t, coarse.DownloadedBytes(), h.DownloadedBytes(), name)
		assert.Equal(t, coarse.Elapsed(), h.Elapsed(), name)
	}

	// 5s of progress before the failure and 1s after it clears.
	assert.Equal(t, int64(170), coarse.DownloadedBytes())
	assert.Equal(t, StateDownloading, coarse.State())
}

func TestMockHandle_FractionalSpeedIgnoresTickSize(t *testing.T) {
	tests := []struct {
		name     string
		speed    float64
		duration time.Duration
		want     int64
	}{
		{name: "whole speed", speed: 7, duration: 3 * time.Second, want: 21},
		{name: "below one byte per second", speed: 0.3, duration: 10 * time.Second, want: 3},
		{name: "fractional speed", speed: 1.1, duration: time.Minute, want: 66},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			coarse := NewMockHandle(0, 1000, tt.speed, false, false, ErrorNone)
			coarse.Update(tt.duration)

			fine := NewMockHandle(0, 1000, tt.speed, false, false, ErrorNone)
			for elapsed := time.Duration(0); elapsed < tt.duration; elapsed += 100 * time.Millisecond {
				fine.Update(100 * time.Millisecond)
			}

			assert.Equal(t, tt.duration, fine.Elapsed())
			assert.Equal(t, tt.want, coarse.DownloadedBytes())
			assert.Equal(t, coarse.DownloadedBytes(), fine.DownloadedBytes())
		})
	}
}

func TestMockHandle_AddActionOrdering(t *testing.T) {
	h := NewMockHandle(0, 100, 1, false, false, ErrorNone)

	require.NoError(t, h.AddAction(5*time.Second, ErrorTimeout))
	assert.ErrorIs(t, h.AddAction(5*time.Second, ErrorNone), ErrActionOrder)
	assert.ErrorIs(t, h.AddAction(4*time.Second, ErrorNone), ErrActionOrder)

	h.Update(10 * time.Second)
	assert.ErrorIs(t, h.AddAction(8*time.Second, ErrorNone), ErrActionOrder)
	assert.NoError(t, h.AddAction(12*time.Second, ErrorNone))
}

func TestMockHandle_InitialStates(t *testing.T) {
	tests := []struct {
		name        string
		downloaded  int64
		total       int64
		paused      bool
		failed      bool
		initial     ErrorType
		wantState   State
		wantErrType ErrorType
	}{
		{name: "zero total completes", total: 0, wantState: StateCompleted, wantErrType: ErrorNone},
		{name: "already full", downloaded: 100, total: 100, wantState: StateCompleted, wantErrType: ErrorNone},
		{name: "failed defaults to server", total: 100, failed: true, wantState: StateFailed, wantErrType: ErrorServer},
		{name: "failed with storage", total: 100, failed: true, initial: ErrorStorage, wantState: StateFailed, wantErrType: ErrorStorage},
		{name: "paused", total: 100, paused: true, wantState: StatePaused, wantErrType: ErrorNone},
		{name: "downloading", total: 100, wantState: StateDownloading, wantErrType: ErrorNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewMockHandle(tt.downloaded, tt.total, 10, tt.paused, tt.failed, tt.initial)

			assert.Equal(t, tt.wantState, h.State())
			assert.Equal(t, tt.wantErrType, h.ErrorType())
		})
	}
}

func TestMockHandle_PausedClockStops(t *testing.T) {
	h := NewMockHandle(0, 100, 10, true, false, ErrorNone)
	require.NoError(t, h.AddAction(2*time.Second, ErrorTimeout))

	h.Update(5 * time.Second)
	assert.Zero(t, h.Elapsed())
	assert.Zero(t, h.DownloadedBytes())
	assert.Zero(t, h.Speed())

	h.Resume()
	h.Update(time.Second)
	assert.Equal(t, int64(10), h.DownloadedBytes())
	assert.InDelta(t, 10.0, h.Speed(), 1e-9)

	h.Update(time.Second)
	assert.Equal(t, ErrorTimeout, h.ErrorType())
}

func TestMockHandle_Retry(t *testing.T) {
	h := NewMockHandle(20, 100, 10, false, true, ErrorNoConnection)

	assert.ErrorIs(t, NewMockHandle(0, 100, 10, false, false, ErrorNone).Retry(), ErrInvalidState)

	require.NoError(t, h.Retry())
	assert.Equal(t, 1, h.RetryCount())
	assert.Equal(t, StateDownloading, h.State())
	assert.Equal(t, int64(20), h.DownloadedBytes())

	h.Update(2 * time.Second)
	assert.Equal(t, int64(40), h.DownloadedBytes())
}

func TestMockHandle_ProgressBounds(t *testing.T) {
	h := NewMockHandle(0, 97, 13.7, false, false, ErrorNone)
	require.NoError(t, h.AddAction(time.Second, ErrorTimeout))
	require.NoError(t, h.AddAction(3*time.Second, ErrorNone))

	last := int64(0)
	for i := 0; i < 200; i++ {
		h.Update(73 * time.Millisecond)

		assert.GreaterOrEqual(t, h.DownloadedBytes(), last)
		assert.LessOrEqual(t, h.DownloadedBytes(), h.TotalBytes())
		assert.GreaterOrEqual(t, h.Progress(), 0.0)
		assert.LessOrEqual(t, h.Progress(), 1.0)

		last = h.DownloadedBytes()
	}

	assert.Equal(t, StateCompleted, h.State())
}
