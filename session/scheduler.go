package session

import (
	"context"
	"sync"
	"time"

	"echoengine/audio"
)

type TickResult int

const (
	TickDispatched TickResult = iota
	TickBusy
	TickShort
	TickSilent
	TickStopped
)

func (r TickResult) String() string {
	switch r {
	case TickDispatched:
		return "dispatched"
	case TickBusy:
		return "busy"
	case TickShort:
		return "short"
	case TickSilent:
		return "silent"
	}
	return "stopped"
}

// minTail is the shortest leftover audio flushed on Stop.
const minTail = 300 * time.Millisecond

type SchedulerConfig struct {
	Interval time.Duration
	MinChunk time.Duration
	// Work recognizes one chunk. It runs on the single worker goroutine
	// and the next chunk is held back until it returns.
	Work func(ctx context.Context, c audio.Chunk)
	// Gate, when set, drops chunks it rejects and hands them to OnSilent.
	Gate     func(audio.Chunk) bool
	OnSilent func(audio.Chunk)
	// OnTick observes every tick, including ones that dispatch nothing.
	OnTick func(TickResult)
}

// ChunkScheduler drains the capture buffer on a fixed interval and feeds
// the drained audio to one worker at a time. While the worker is busy the
// buffer keeps growing; nothing is dropped or submitted twice.
type ChunkScheduler struct {
	buf *audio.CaptureBuffer
	cfg SchedulerConfig

	mu       sync.Mutex
	seq      int
	running  bool
	inflight chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	stop     chan struct{}
	loopDone chan struct{}
	// halted is closed when a Stop in progress has finished.
	halted chan struct{}
}

func NewChunkScheduler(buf *audio.CaptureBuffer, cfg SchedulerConfig) *ChunkScheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	return &ChunkScheduler{buf: buf, cfg: cfg}
}

// Start begins ticking. Work runs under a context derived from ctx that is
// cancelled when Stop gives up on it.
func (s *ChunkScheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.stop = make(chan struct{})
	s.loopDone = make(chan struct{})
	s.halted = make(chan struct{})
	go s.loop(s.stop, s.loopDone)
}

func (s *ChunkScheduler) loop(stop, done chan struct{}) {
	defer close(done)
	t := time.NewTicker(s.cfg.Interval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			s.Tick()
		}
	}
}

// Processing reports whether a chunk is with the worker.
func (s *ChunkScheduler) Processing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight != nil
}

// Tick runs one scheduling step.
func (s *ChunkScheduler) Tick() TickResult {
	r := s.tick()
	if s.cfg.OnTick != nil {
		s.cfg.OnTick(r)
	}
	return r
}

func (s *ChunkScheduler) tick() TickResult {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return TickStopped
	}
	if s.inflight != nil {
		s.mu.Unlock()
		return TickBusy
	}
	if s.buf.Len() == 0 || s.buf.Duration() < s.cfg.MinChunk {
		s.mu.Unlock()
		return TickShort
	}
	return s.dispatchLocked(s.buf.DrainAndReset())
}

// dispatchLocked hands pcm to the worker and unlocks s.mu.
func (s *ChunkScheduler) dispatchLocked(pcm []byte) TickResult {
	chunk := audio.NewChunk(s.seq, pcm, s.buf.Format())
	s.seq++

	if s.cfg.Gate != nil && !s.cfg.Gate(chunk) {
		s.mu.Unlock()
		if s.cfg.OnSilent != nil {
			s.cfg.OnSilent(chunk)
		}
		return TickSilent
	}

	done := make(chan struct{})
	s.inflight = done
	ctx := s.ctx
	s.mu.Unlock()

	go func() {
		defer close(done)
		s.cfg.Work(ctx, chunk)
		s.mu.Lock()
		if s.inflight == done {
			s.inflight = nil
		}
		s.mu.Unlock()
	}()
	return TickDispatched
}

// Stop stops the timer, waits for the chunk in flight, then flushes what
// is left in the buffer and waits for that too. If ctx ends first the
// outstanding work is cancelled and abandoned, and ctx.Err() is returned.
// A Stop racing another one waits for the first to finish.
func (s *ChunkScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	if s.stop == nil {
		halted := s.halted
		s.mu.Unlock()
		select {
		case <-halted:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	stop, loopDone, cancel := s.stop, s.loopDone, s.cancel
	s.stop = nil
	s.mu.Unlock()

	close(stop)
	<-loopDone
	defer cancel()

	if err := s.wait(ctx); err != nil {
		s.shutdown()
		return err
	}

	s.mu.Lock()
	pcm := s.buf.DrainAndReset()
	if len(pcm) > 0 && s.buf.Format().Duration(len(pcm)) >= min(minTail, s.cfg.MinChunk) {
		s.dispatchLocked(pcm)
	} else {
		s.mu.Unlock()
	}
	err := s.wait(ctx)
	s.shutdown()
	return err
}

func (s *ChunkScheduler) shutdown() {
	s.mu.Lock()
	s.running = false
	s.inflight = nil
	close(s.halted)
	s.mu.Unlock()
}

func (s *ChunkScheduler) wait(ctx context.Context) error {
	s.mu.Lock()
	done := s.inflight
	s.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
