package recognizer

import (
	"context"
	"sync"
	"time"

	"echoengine/audio"
)

// FakeResponse scripts one Recognize call.
type FakeResponse struct {
	Fragments []Fragment
	Err       error
	Delay     time.Duration
	// Emit is pushed through the Start callback instead of returned.
	Emit []Fragment
}

// Fake is a scripted backend for tests. Calls past the end of the script
// reuse its last entry; an empty script returns nothing.
type Fake struct {
	Desc     Descriptor
	StartErr error
	// Block, when set, holds every Recognize call until it is closed or
	// the call's context ends.
	Block chan struct{}

	mu       sync.Mutex
	script   []FakeResponse
	calls    int
	chunks   []audio.Chunk
	emit     func(Fragment)
	started  int
	stopped  int
	inFlight int
	maxInFl  int
}

func NewFake(script ...FakeResponse) *Fake {
	return &Fake{Desc: Descriptor{Name: "fake"}, script: script}
}

func (f *Fake) Describe() Descriptor { return f.Desc }

func (f *Fake) Start(_ context.Context, emit func(Fragment)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started++
	if f.StartErr != nil {
		return f.StartErr
	}
	f.emit = emit
	return nil
}

func (f *Fake) Recognize(ctx context.Context, chunk audio.Chunk) ([]Fragment, error) {
	f.mu.Lock()
	f.chunks = append(f.chunks, chunk)
	var resp FakeResponse
	if n := len(f.script); n > 0 {
		resp = f.script[min(f.calls, n-1)]
	}
	f.calls++
	f.inFlight++
	f.maxInFl = max(f.maxInFl, f.inFlight)
	emit, block := f.emit, f.Block
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if resp.Delay > 0 {
		select {
		case <-time.After(resp.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if emit != nil {
		for _, fr := range resp.Emit {
			emit(fr)
		}
	}
	return resp.Fragments, resp.Err
}

func (f *Fake) Stop() error {
	f.mu.Lock()
	f.stopped++
	f.emit = nil
	f.mu.Unlock()
	return nil
}

func (f *Fake) Chunks() []audio.Chunk {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]audio.Chunk(nil), f.chunks...)
}

func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// InFlight is the number of Recognize calls running now.
func (f *Fake) InFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inFlight
}

// MaxInFlight is the highest number of overlapping Recognize calls seen.
func (f *Fake) MaxInFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxInFl
}

func (f *Fake) StartStopCounts() (started, stopped int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started, f.stopped
}

// EmitNow pushes a fragment through the Start callback as a streaming
// backend would.
func (f *Fake) EmitNow(fr Fragment) {
	f.mu.Lock()
	emit := f.emit
	f.mu.Unlock()
	if emit != nil {
		emit(fr)
	}
}
