package downloadables

import "time"

type speedSample struct {
	at    time.Duration
	bytes int64
}

// speedSampler smooths throughput over a sliding window of tick samples.
type speedSampler struct {
	window  time.Duration
	clock   time.Duration
	samples []speedSample
}

func newSpeedSampler(window time.Duration) speedSampler {
	return speedSampler{window: window}
}

func (s *speedSampler) reset(bytes int64) {
	s.clock = 0
	s.samples = append(s.samples[:0], speedSample{at: 0, bytes: bytes})
}

func (s *speedSampler) add(dt time.Duration, bytes int64) {
	s.clock += dt
	s.samples = append(s.samples, speedSample{at: s.clock, bytes: bytes})

	// Keep exactly one sample at or before the window start.
	cutoff := s.clock - s.window
	for len(s.samples) > 2 && s.samples[1].at <= cutoff {
		s.samples = s.samples[1:]
	}
}

// rate returns bytes per second across the retained samples.
func (s *speedSampler) rate() float64 {
	if len(s.samples) < 2 {
		return 0
	}

	first, last := s.samples[0], s.samples[len(s.samples)-1]

	span := last.at - first.at
	if span <= 0 {
		return 0
	}

	return float64(last.bytes-first.bytes) / span.Seconds()
}
