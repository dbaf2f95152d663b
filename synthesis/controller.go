package synthesis

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"echoengine/audio"
	"echoengine/log"
)

// KindEmptyAudio is reported when the engine produced no samples. The
// utterance still completes.
const KindEmptyAudio = "EmptyAudio"

// utterance owns everything of one Speak call. The playback device and
// source are only touched by the run goroutine, except for the pause,
// rate and volume controls on the source.
type utterance struct {
	cancel context.CancelFunc
	src    *audio.Source
	done   chan struct{}
}

// Controller speaks one request at a time:
//
//	Idle -> Synthesizing -> Playing <-> Paused -> Completed|Cancelled|Failed -> Idle
//
// Terminal states are reported and the controller returns to Idle right
// after.
type Controller struct {
	engine Engine
	player Player
	sink   Sink

	mu     sync.Mutex
	state  State
	cur    *utterance
	rate   float64
	volume float64
}

func NewController(engine Engine, player Player, sink Sink) *Controller {
	return &Controller{engine: engine, player: player, sink: sink, rate: 1, volume: 1}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done is closed when the current utterance has returned to Idle. It is
// already closed when nothing is active.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.cur.done
}

// Speak starts synthesizing req and returns once the utterance is under
// way; ctx bounds the whole utterance. It fails without changing state on blank text, on a missing
// engine, or while another utterance is active.
func (c *Controller) Speak(ctx context.Context, req Request) error {
	if strings.TrimSpace(req.Text) == "" {
		return ErrEmptyText
	}
	if c.engine == nil {
		return ErrBackendUnavailable
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur != nil {
		return ErrBusy
	}
	if req.Rate <= 0 {
		req.Rate = c.rate
	}
	if req.Volume <= 0 {
		req.Volume = c.volume
	}

	uctx, cancel := context.WithCancel(ctx)
	u := &utterance{cancel: cancel, done: make(chan struct{})}
	c.cur = u
	c.transition(Synthesizing)
	go c.run(uctx, u, req)
	return nil
}

// Toggle cancels the active utterance, or speaks req when idle. It never
// does both.
func (c *Controller) Toggle(ctx context.Context, req Request) error {
	c.mu.Lock()
	active := c.cur != nil
	c.mu.Unlock()
	if active {
		c.Cancel()
		return nil
	}
	return c.Speak(ctx, req)
}

func (c *Controller) run(ctx context.Context, u *utterance, req Request) {
	defer u.cancel()

	out, err := c.engine.Synthesize(ctx, req)
	switch {
	case ctx.Err() != nil:
		c.finish(u, Cancelled, nil)
		return
	case err != nil:
		c.finish(u, Failed, err)
		return
	case out.Empty():
		c.mu.Lock()
		c.report(KindEmptyAudio, "engine returned no audio")
		c.mu.Unlock()
		log.Warn("synthesis produced zero-length audio")
		c.finish(u, Completed, nil)
		return
	}

	src := audio.NewSource(out.Samples)
	src.SetRate(req.Rate)
	src.SetVolume(req.Volume)

	if c.player == nil {
		c.finish(u, Failed, fmt.Errorf("no audio output: %w", ErrDevice))
		return
	}
	pb, err := c.player.NewPlayback(out.Format, src)
	if err != nil {
		c.finish(u, Failed, fmt.Errorf("%w: %v", ErrDevice, err))
		return
	}

	c.mu.Lock()
	if ctx.Err() != nil {
		c.mu.Unlock()
		pb.Stop()
		c.finish(u, Cancelled, nil)
		return
	}
	u.src = src
	c.transition(Playing)
	c.mu.Unlock()

	if err := pb.Start(); err != nil {
		pb.Stop()
		c.finish(u, Failed, fmt.Errorf("%w: %v", ErrDevice, err))
		return
	}

	terminal := Completed
	select {
	case <-pb.Done():
	case <-ctx.Done():
		terminal = Cancelled
	}
	pb.Stop()
	c.finish(u, terminal, nil)
}

// finish reports the terminal state, releases the utterance and returns
// to Idle.
func (c *Controller) finish(u *utterance, terminal State, err error) {
	if u.src != nil {
		u.src.Stop()
	}
	c.mu.Lock()
	if err != nil {
		log.Errorf("synthesis failed: %v", err)
		c.report(KindName(err), err.Error())
	}
	c.transition(terminal)
	c.transition(Idle)
	c.cur = nil
	c.mu.Unlock()
	close(u.done)
}

// Pause is a no-op unless playing.
func (c *Controller) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Playing || c.cur == nil {
		return
	}
	c.cur.src.Pause()
	c.transition(Paused)
}

// Resume is a no-op unless paused.
func (c *Controller) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Paused || c.cur == nil {
		return
	}
	c.cur.src.Resume()
	c.transition(Playing)
}

// Cancel stops the active utterance and waits until its device and reader
// are released. Cancelling with nothing active succeeds.
func (c *Controller) Cancel() {
	c.mu.Lock()
	u := c.cur
	c.mu.Unlock()
	if u == nil {
		return
	}
	u.cancel()
	if s, ok := c.engine.(Stopper); ok {
		if err := s.Stop(); err != nil {
			log.Warnf("synthesis engine stop: %v", err)
		}
	}
	<-u.done
}

// SetRate changes the playback rate of the active utterance and of later
// ones.
func (c *Controller) SetRate(r float64) {
	if r <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rate = r
	if c.cur != nil && c.cur.src != nil {
		c.cur.src.SetRate(r)
	}
}

// SetVolume changes the volume of the active utterance and of later ones.
func (c *Controller) SetVolume(v float64) {
	if v < 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.volume = v
	if c.cur != nil && c.cur.src != nil {
		c.cur.src.SetVolume(v)
	}
}

// transition must be called with c.mu held.
func (c *Controller) transition(to State) {
	from := c.state
	c.state = to
	log.SynthesisState(from.String(), to.String())
	if c.sink != nil {
		c.sink.OnSessionStateChanged(to.String())
	}
}

// report must be called with c.mu held.
func (c *Controller) report(kind, detail string) {
	if c.sink != nil {
		c.sink.OnError(kind, detail)
	}
}
