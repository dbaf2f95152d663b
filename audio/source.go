package audio

import (
	"math"
	"sync"
)

// Source is a pausable sample reader shared between a playback device
// callback and the goroutine controlling it. Volume and rate changes take
// effect on the next read.
type Source struct {
	mu      sync.Mutex
	samples []int16
	pos     float64
	rate    float64
	volume  float64
	paused  bool
	stopped bool
}

func NewSource(samples []int16) *Source {
	return &Source{samples: samples, rate: 1, volume: 1}
}

// Read fills buf. While paused it writes silence so the device keeps
// running. done reports that the source is exhausted or stopped; n is
// zero in that case.
func (s *Source) Read(buf []int16) (n int, done bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped || int(s.pos) >= len(s.samples) {
		return 0, true
	}
	if s.paused {
		clear(buf)
		return len(buf), false
	}

	for n < len(buf) {
		i := int(s.pos)
		if i >= len(s.samples) {
			break
		}
		v := float64(s.samples[i]) * s.volume
		buf[n] = int16(math.Max(math.MinInt16, math.Min(math.MaxInt16, v)))
		n++
		s.pos += s.rate
	}
	return n, false
}

func (s *Source) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
}

func (s *Source) Resume() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
}

func (s *Source) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// SetVolume clamps v to [0, 1].
func (s *Source) SetVolume(v float64) {
	s.mu.Lock()
	s.volume = math.Max(0, math.Min(1, v))
	s.mu.Unlock()
}

// SetRate clamps r to [0.25, 4].
func (s *Source) SetRate(r float64) {
	s.mu.Lock()
	s.rate = math.Max(0.25, math.Min(4, r))
	s.mu.Unlock()
}

func (s *Source) Volume() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}

func (s *Source) Rate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rate
}

// Stop makes every subsequent Read report done and drops the samples.
func (s *Source) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.samples = nil
	s.mu.Unlock()
}

func (s *Source) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (s *Source) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.samples)
}
