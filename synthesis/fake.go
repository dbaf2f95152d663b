package synthesis

import (
	"context"
	"sync"
)

// FakeEngine returns canned audio. With Block set, Synthesize waits for it
// to be closed or for its context to end.
type FakeEngine struct {
	Audio Audio
	Err   error
	Block chan struct{}

	mu       sync.Mutex
	requests []Request
	stops    int
}

func (f *FakeEngine) Synthesize(ctx context.Context, req Request) (Audio, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	block := f.Block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return Audio{}, ctx.Err()
		}
	}
	if f.Err != nil {
		return Audio{}, f.Err
	}
	return f.Audio, nil
}

// Stop always succeeds, even when nothing is running.
func (f *FakeEngine) Stop() error {
	f.mu.Lock()
	f.stops++
	f.mu.Unlock()
	return nil
}

func (f *FakeEngine) Requests() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Request(nil), f.requests...)
}

func (f *FakeEngine) Stops() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}
