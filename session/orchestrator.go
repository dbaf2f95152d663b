// Package session ties capture, chunk scheduling, recognition and
// transcript assembly into one recording session.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"echoengine/audio"
	"echoengine/config"
	"echoengine/log"
	"echoengine/recognizer"
	"echoengine/transcript"
)

// Recording session states reported through StatusSink.
const (
	StateIdle       = "Idle"
	StateRecording  = "Recording"
	StateProcessing = "Processing"
	StateCompleted  = "Completed"
	StateFailed     = "Failed"
	StateTimedOut   = "TimedOut"
)

// KindDeviceError is reported when the capture device cannot be opened
// or started.
const KindDeviceError = "DeviceError"

// streamInterval is how often audio is forwarded to streaming backends.
const streamInterval = 250 * time.Millisecond

var ErrAlreadyRunning = errors.New("session already running")

// Observer receives counters for telemetry. Every method must be cheap.
type Observer interface {
	TickResult(result string)
	ChunkDispatched(bytes int, audio time.Duration)
	RecognitionDone(backend, outcome string, elapsed time.Duration)
	FragmentAccepted(kind string)
}

// Cues plays short audible signals.
type Cues interface {
	PlayStart()
	PlayEnd()
	PlayError()
}

type Options struct {
	Config   config.Config
	Audio    audio.Context
	Backend  recognizer.Backend
	Sink     StatusSink
	Observer Observer
	Cues     Cues
}

// Orchestrator owns one capture device, buffer, scheduler and backend
// session at a time. Start and Stop may be called repeatedly; each Start
// gets a fresh session id and transcript.
type Orchestrator struct {
	opts    Options
	desc    recognizer.Descriptor
	buf     *audio.CaptureBuffer
	asm     *transcript.Assembler
	vad     *audio.VAD
	vadOnce sync.Once

	mu          sync.Mutex
	id          string
	gen         int
	active      bool
	capture     audio.CaptureDevice
	sched       *ChunkScheduler
	silenceStop chan struct{}
	silenceDone chan struct{}
	chunks      int
	// broken is set once a streaming backend has failed; the session
	// is ending and further chunks are dropped.
	broken bool
	done   chan struct{}
}

func New(opts Options) *Orchestrator {
	if opts.Sink == nil {
		opts.Sink = NopSink{}
	}
	return &Orchestrator{
		opts: opts,
		desc: opts.Backend.Describe(),
		buf:  audio.NewCaptureBuffer(audio.CaptureFormat),
		asm:  transcript.New(),
		done: closedChan(),
	}
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// Start opens the backend session and the capture device and begins
// dispatching chunks. Failures are reported to the sink and returned.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active {
		return ErrAlreadyRunning
	}

	o.gen++
	gen := o.gen
	o.id = uuid.NewString()
	o.chunks = 0
	o.broken = false
	o.asm.Reset()
	o.buf.Reopen()

	if err := o.opts.Backend.Start(ctx, func(f recognizer.Fragment) { o.onFragment(gen, f) }); err != nil {
		o.reportErr(err)
		return fmt.Errorf("start %s backend: %w", o.desc.Name, err)
	}

	capture, err := o.openCapture()
	if err != nil {
		_ = o.opts.Backend.Stop()
		o.opts.Sink.OnError(KindDeviceError, err.Error())
		return err
	}

	vad := o.voiceDetector()
	capture.SetCallback(func(data []byte, _ uint32) {
		o.buf.Write(data)
		if vad != nil {
			vad.Process(data)
		}
	})

	o.sched = NewChunkScheduler(o.buf, o.schedulerConfig(gen, vad))
	o.capture = capture
	o.active = true
	o.done = make(chan struct{})

	log.SessionStart(o.id, o.desc.Name, o.opts.Config.Language)
	o.opts.Sink.OnSessionStateChanged(StateRecording)

	if err := capture.Start(); err != nil {
		o.active = false
		capture.ClearCallback()
		capture.Close()
		_ = o.opts.Backend.Stop()
		close(o.done)
		o.opts.Sink.OnError(KindDeviceError, err.Error())
		o.opts.Sink.OnSessionStateChanged(StateIdle)
		return fmt.Errorf("start capture: %w", err)
	}
	o.sched.Start(context.WithoutCancel(ctx))

	if vad != nil && o.opts.Config.Recognition.SilenceWarning {
		o.silenceStop = make(chan struct{})
		o.silenceDone = make(chan struct{})
		go o.watchSilence(vad, o.silenceStop, o.silenceDone)
	}
	if o.opts.Cues != nil {
		o.opts.Cues.PlayStart()
	}
	return nil
}

func (o *Orchestrator) openCapture() (audio.CaptureDevice, error) {
	device, err := audio.FindDevice(o.opts.Audio, o.opts.Config.Device)
	if err != nil {
		return nil, err
	}
	capture, err := o.opts.Audio.NewCapture(device, audio.CaptureConfig{
		SampleRate: audio.SampleRate,
		Channels:   audio.Channels,
	})
	if err != nil {
		return nil, fmt.Errorf("open capture: %w", err)
	}
	return capture, nil
}

// voiceDetector is created once and only when something uses it.
func (o *Orchestrator) voiceDetector() *audio.VAD {
	rc := o.opts.Config.Recognition
	if !rc.SkipSilentChunks && !rc.SilenceWarning {
		return nil
	}
	o.vadOnce.Do(func() {
		v, err := audio.NewVAD()
		if err != nil {
			log.Warnf("voice detection unavailable: %v", err)
			return
		}
		o.vad = v
	})
	if o.vad != nil {
		o.vad.Reset()
	}
	return o.vad
}

func (o *Orchestrator) schedulerConfig(gen int, vad *audio.VAD) SchedulerConfig {
	rc := o.opts.Config.Recognition
	sc := SchedulerConfig{
		Interval: rc.Interval(),
		MinChunk: rc.MinChunk(),
		Work:     func(ctx context.Context, c audio.Chunk) { o.recognize(ctx, gen, c) },
	}
	if o.desc.Streaming {
		sc.Interval = min(sc.Interval, streamInterval)
		sc.MinChunk = 0
	} else if rc.SkipSilentChunks && vad != nil {
		sc.Gate = vad.HasVoice
		sc.OnSilent = func(c audio.Chunk) {
			log.Infof("chunk %d dropped: no voice in %s", c.Seq, c.Duration)
			o.opts.Sink.OnError("NoAudioDetected", fmt.Sprintf("no voice in %.1fs of audio", c.Duration.Seconds()))
		}
	}
	if o.opts.Observer != nil {
		sc.OnTick = func(r TickResult) { o.opts.Observer.TickResult(r.String()) }
	}
	return sc
}

// current reports whether gen is still the active session.
func (o *Orchestrator) current(gen int) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active && o.gen == gen
}

func (o *Orchestrator) recognize(ctx context.Context, gen int, chunk audio.Chunk) {
	o.mu.Lock()
	if !o.active || o.gen != gen || o.broken {
		o.mu.Unlock()
		return
	}
	o.chunks++
	id := o.id
	o.mu.Unlock()

	log.ChunkDispatched(id, chunk.Seq, chunk.Duration.Seconds(), len(chunk.PCM))
	if o.opts.Observer != nil {
		o.opts.Observer.ChunkDispatched(len(chunk.PCM), chunk.Duration)
	}
	if !o.desc.Streaming {
		o.opts.Sink.OnSessionStateChanged(StateProcessing)
	}

	start := time.Now()
	frags, err := o.opts.Backend.Recognize(ctx, chunk)
	elapsed := time.Since(start)

	outcome := "ok"
	if err != nil {
		outcome = recognizer.KindName(err)
	}
	log.RecognitionDone(log.RecognitionMetrics{
		Backend:   o.desc.Name,
		Seq:       chunk.Seq,
		Fragments: len(frags),
		Elapsed:   elapsed,
		Outcome:   outcome,
	})
	if o.opts.Observer != nil {
		o.opts.Observer.RecognitionDone(o.desc.Name, outcome, elapsed)
	}

	if ctx.Err() != nil || !o.current(gen) {
		log.Infof("chunk %d result discarded: session ended", chunk.Seq)
		return
	}

	if err != nil && o.desc.Streaming {
		o.failStream(gen, chunk.Seq, err)
		return
	}

	state := StateCompleted
	if err != nil {
		state = StateFailed
		if errors.Is(err, recognizer.ErrProcessTimeout) {
			state = StateTimedOut
		}
		log.Errorf("recognize chunk %d: %v", chunk.Seq, err)
		o.reportErr(err)
	} else {
		o.accept(frags)
	}
	if !o.desc.Streaming || err != nil {
		o.opts.Sink.OnSessionStateChanged(state)
		o.opts.Sink.OnSessionStateChanged(StateRecording)
	}
}

// failStream reports a broken streaming session once and stops it.
func (o *Orchestrator) failStream(gen, seq int, err error) {
	o.mu.Lock()
	if o.broken || o.gen != gen {
		o.mu.Unlock()
		return
	}
	o.broken = true
	o.mu.Unlock()

	log.Errorf("recognize chunk %d: %v; ending session", seq, err)
	o.reportErr(err)
	o.opts.Sink.OnSessionStateChanged(StateFailed)
	if o.opts.Cues != nil {
		o.opts.Cues.PlayError()
	}
	go o.stopAsync("stream failure")
}

func (o *Orchestrator) stopAsync(reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.Stop(ctx); err != nil {
		log.Warnf("%s: stop: %v", reason, err)
	}
}

func (o *Orchestrator) onFragment(gen int, f recognizer.Fragment) {
	if !o.current(gen) {
		return
	}
	o.accept([]recognizer.Fragment{f})
}

func (o *Orchestrator) accept(frags []recognizer.Fragment) {
	frags = recognizer.Clean(frags)
	if len(frags) == 0 {
		return
	}
	for _, f := range frags {
		if o.opts.Observer != nil {
			o.opts.Observer.FragmentAccepted(f.Kind.String())
		}
	}
	for _, text := range o.asm.AppendAll(frags) {
		log.TranscriptionText(text)
		o.opts.Sink.OnTranscriptAppended(text)
	}
	if frags[len(frags)-1].Kind == recognizer.Partial {
		o.opts.Sink.OnPartialPreview(o.asm.Preview())
	}
}

func (o *Orchestrator) reportErr(err error) {
	o.opts.Sink.OnError(recognizer.KindName(err), err.Error())
}

func (o *Orchestrator) watchSilence(vad *audio.VAD, stop, done chan struct{}) {
	defer close(done)
	mon := newSilenceMonitor(o.opts.Config.Recognition.AutoStopOnSilence)
	t := time.NewTicker(silenceTick)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
		}
		switch mon.Tick(vad.HasSpeechTick()) {
		case SilenceWarn, SilenceRepeat:
			log.Info("no_voice_warning")
			o.opts.Sink.OnError("NoAudioDetected", "no voice detected")
			if o.opts.Cues != nil {
				o.opts.Cues.PlayError()
			}
		case SilenceWarnClear:
			log.Info("voice_resumed")
		case SilenceAutoStop:
			log.Info("silence_auto_stop")
			go o.stopAsync("auto stop")
			return
		}
	}
}

// Stop ends capture, flushes the remaining audio through the backend,
// closes the backend session and returns to Idle. Recognition still
// running when ctx ends is abandoned and its result discarded.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	if !o.active || o.capture == nil {
		o.mu.Unlock()
		return nil
	}
	capture, sched := o.capture, o.sched
	silenceStop, silenceDone := o.silenceStop, o.silenceDone
	o.capture, o.silenceStop, o.silenceDone = nil, nil, nil
	o.mu.Unlock()

	capture.Stop()
	capture.ClearCallback()
	o.buf.Stop()
	if silenceStop != nil {
		close(silenceStop)
		<-silenceDone
	}

	err := sched.Stop(ctx)
	if err != nil {
		log.Warnf("stop: abandoning recognition in flight: %v", err)
	}
	if serr := o.opts.Backend.Stop(); serr != nil {
		log.Warnf("backend stop: %v", serr)
	}
	capture.Close()

	o.mu.Lock()
	o.active = false
	id, chunks, done := o.id, o.chunks, o.done
	o.mu.Unlock()

	log.SessionEnd(id, chunks, len(o.asm.Text()))
	o.opts.Sink.OnSessionStateChanged(StateIdle)
	if o.opts.Cues != nil {
		o.opts.Cues.PlayEnd()
	}
	close(done)
	return err
}

// Done is closed when the current session has stopped.
func (o *Orchestrator) Done() <-chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.done
}

func (o *Orchestrator) Active() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active
}

func (o *Orchestrator) SessionID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.id
}

func (o *Orchestrator) Transcript() string { return o.asm.Text() }
func (o *Orchestrator) Preview() string    { return o.asm.Preview() }

// Display is the committed transcript followed by the live preview.
func (o *Orchestrator) Display() string { return o.asm.Display() }
func (o *Orchestrator) Segments() []string { return o.asm.Segments() }
