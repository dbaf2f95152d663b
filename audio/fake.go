package audio

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	fakeFrameSize     = 1024
	fakeBytesPerFrame = 2 // 16-bit mono
)

// FakeContext replays canned PCM instead of a microphone and swallows
// playback. It is used by tests and by the -wav flag.
type FakeContext struct {
	pcm      []byte
	realtime bool

	mu        sync.Mutex
	captures  []*FakeCapture
	playbacks []*FakePlayback
	// PlaybackErr is returned by NewPlayback when set.
	PlaybackErr error
	// PlaybackHold keeps fake playbacks from consuming their source until
	// Release is called on them.
	PlaybackHold bool
}

func NewFakeContext(pcm []byte, realtime bool) *FakeContext {
	return &FakeContext{pcm: pcm, realtime: realtime}
}

func NewFakeContextFromWAV(wavPath string, realtime bool) (*FakeContext, error) {
	c, err := ReadWAVFile(wavPath)
	if err != nil {
		return nil, err
	}
	return NewFakeContext(c.PCM, realtime), nil
}

func (f *FakeContext) Devices() ([]DeviceInfo, error) {
	return []DeviceInfo{{ID: "fake", Name: "fake"}}, nil
}

func (f *FakeContext) Close() {}

func (f *FakeContext) NewCapture(_ *DeviceInfo, _ CaptureConfig) (CaptureDevice, error) {
	c := &FakeCapture{pcm: f.pcm, realtime: f.realtime, audioDone: make(chan struct{})}
	f.mu.Lock()
	f.captures = append(f.captures, c)
	f.mu.Unlock()
	return c, nil
}

// Captures returns every capture device opened so far.
func (f *FakeContext) Captures() []*FakeCapture {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakeCapture(nil), f.captures...)
}

func (f *FakeContext) NewPlayback(format Format, src *Source) (Playback, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PlaybackErr != nil {
		return nil, f.PlaybackErr
	}
	p := &FakePlayback{
		Format:  format,
		src:     src,
		done:    make(chan struct{}),
		stopCh:  make(chan struct{}),
		release: make(chan struct{}),
	}
	if !f.PlaybackHold {
		close(p.release)
	}
	f.playbacks = append(f.playbacks, p)
	return p, nil
}

// Playbacks returns every playback created so far.
func (f *FakeContext) Playbacks() []*FakePlayback {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakePlayback(nil), f.playbacks...)
}

type FakeCapture struct {
	pcm       []byte
	realtime  bool
	audioDone chan struct{}

	mu       sync.Mutex
	cb       DataCallback
	stopCh   chan struct{}
	feedDone chan struct{}
}

// AudioDone is closed once the whole clip has been delivered.
func (f *FakeCapture) AudioDone() <-chan struct{} { return f.audioDone }

func (f *FakeCapture) SetCallback(cb DataCallback) {
	f.mu.Lock()
	f.cb = cb
	f.mu.Unlock()
}

func (f *FakeCapture) ClearCallback() {
	f.mu.Lock()
	f.cb = nil
	f.mu.Unlock()
}

func (f *FakeCapture) callback() DataCallback {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cb
}

func (f *FakeCapture) feedChunk(cb DataCallback, pos, chunkBytes int) int {
	end := min(pos+chunkBytes, len(f.pcm))
	chunk := make([]byte, end-pos)
	copy(chunk, f.pcm[pos:end])
	cb(chunk, uint32(len(chunk)/fakeBytesPerFrame))
	return end
}

func (f *FakeCapture) Start() error {
	f.stopCh = make(chan struct{})
	f.feedDone = make(chan struct{})
	// audioDone is reset in Stop, callers may already be waiting on it.

	chunkBytes := fakeFrameSize * fakeBytesPerFrame

	if !f.realtime {
		if cb := f.callback(); cb != nil {
			for pos := 0; pos < len(f.pcm); {
				pos = f.feedChunk(cb, pos, chunkBytes)
			}
		}
		close(f.audioDone)
		close(f.feedDone)
		return nil
	}

	if len(f.pcm) == 0 {
		close(f.audioDone)
	}
	interval := time.Duration(fakeFrameSize) * time.Second / time.Duration(SampleRate)
	go func() {
		defer close(f.feedDone)
		pos := 0
		for {
			if cb := f.callback(); cb != nil && pos < len(f.pcm) {
				pos = f.feedChunk(cb, pos, chunkBytes)
				if pos >= len(f.pcm) {
					close(f.audioDone)
				}
			}

			select {
			case <-f.stopCh:
				return
			case <-time.After(interval):
			}
		}
	}()
	return nil
}

func (f *FakeCapture) Stop() {
	if f.stopCh == nil {
		return
	}
	select {
	case <-f.stopCh:
	default:
		close(f.stopCh)
	}
	<-f.feedDone
	select {
	case <-f.audioDone:
		f.audioDone = make(chan struct{}) // reset for replay
	default:
	}
}

func (f *FakeCapture) Close() {}

// FakePlayback drains its source as fast as possible, or not at all while
// held.
type FakePlayback struct {
	Format Format

	src      *Source
	started  atomic.Bool
	stopped  atomic.Bool
	played   atomic.Int64
	once     sync.Once
	stopOnce sync.Once
	done     chan struct{}
	stopCh   chan struct{}
	release  chan struct{}
	relOnce  sync.Once
}

func (p *FakePlayback) Start() error {
	if !p.started.CompareAndSwap(false, true) {
		return nil
	}
	go func() {
		defer p.finish()
		select {
		case <-p.release:
		case <-p.stopCh:
			return
		}
		buf := make([]int16, fakeFrameSize)
		for {
			n, done := p.src.Read(buf)
			if done {
				return
			}
			if p.src.Paused() {
				time.Sleep(time.Millisecond)
				continue
			}
			p.played.Add(int64(n))
		}
	}()
	return nil
}

func (p *FakePlayback) finish() {
	p.once.Do(func() { close(p.done) })
}

func (p *FakePlayback) Stop() {
	p.stopOnce.Do(func() {
		p.stopped.Store(true)
		p.src.Stop()
		close(p.stopCh)
		if !p.started.Load() {
			p.finish()
		}
	})
	<-p.done
}

func (p *FakePlayback) Done() <-chan struct{} { return p.done }

// Release lets a held playback consume its source.
func (p *FakePlayback) Release() {
	p.relOnce.Do(func() { close(p.release) })
}

func (p *FakePlayback) Source() *Source { return p.src }
func (p *FakePlayback) Started() bool   { return p.started.Load() }
func (p *FakePlayback) Stopped() bool   { return p.stopped.Load() }

// Played counts the non-silent samples consumed.
func (p *FakePlayback) Played() int64 { return p.played.Load() }
