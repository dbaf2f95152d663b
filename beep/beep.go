// Package beep plays the short start, end and error cues around a
// recording session.
package beep

import (
	"math"
	"sync"

	"echoengine/audio"
	"echoengine/log"
)

const (
	sampleRate = 44100

	// Start: high pitch, short
	startFreq   = 1200
	startVolume = 0.5
	startDecay  = 60

	// End: medium pitch, slightly longer
	endFreq   = 900
	endVolume = 0.5
	endDecay  = 40

	// Error: low pitch double-beep
	errorFreq   = 350
	errorVolume = 0.6
	errorDecay  = 30

	// Long enough for the device buffer to fill before the stream drains.
	tickDuration = 0.2
)

var cueFormat = audio.Format{SampleRate: sampleRate, Channels: 1}

// Player renders cues through an audio context. A nil Player or one built
// on a nil context is silent.
type Player struct {
	ctx audio.Context

	once  sync.Once
	start []int16
	end   []int16
	err   []int16

	mu       sync.Mutex
	disabled bool
	wg       sync.WaitGroup
}

func New(ctx audio.Context) *Player {
	return &Player{ctx: ctx}
}

func (p *Player) init() {
	p.start = generateTick(sampleRate, startFreq, tickDuration, startVolume, startDecay)
	p.end = generateTick(sampleRate, endFreq, tickDuration, endVolume, endDecay)
	p.err = generateDoubleBeep(sampleRate, errorFreq, 0.08, 0.05, errorVolume, errorDecay)
}

func (p *Player) Disable() {
	if p == nil {
		return
	}
	p.mu.Lock()
	p.disabled = true
	p.mu.Unlock()
}

func (p *Player) PlayStart() { p.play(func() []int16 { return p.start }) }
func (p *Player) PlayEnd()   { p.play(func() []int16 { return p.end }) }
func (p *Player) PlayError() { p.play(func() []int16 { return p.err }) }

// Wait blocks until every cue started so far has finished.
func (p *Player) Wait() {
	if p == nil {
		return
	}
	p.wg.Wait()
}

func (p *Player) play(pick func() []int16) {
	if p == nil || p.ctx == nil {
		return
	}
	p.mu.Lock()
	if p.disabled {
		p.mu.Unlock()
		return
	}
	p.wg.Add(1)
	p.mu.Unlock()

	p.once.Do(p.init)
	samples := pick()

	go func() {
		defer p.wg.Done()
		pb, err := p.ctx.NewPlayback(cueFormat, audio.NewSource(samples))
		if err != nil {
			log.Warn("cue playback: " + err.Error())
			return
		}
		if err := pb.Start(); err != nil {
			log.Warn("cue playback: " + err.Error())
			pb.Stop()
			return
		}
		<-pb.Done()
		pb.Stop()
	}()
}

func generateTick(sampleRate int, freq, duration, volume, decay float64) []int16 {
	n := int(float64(sampleRate) * duration)
	samples := make([]int16, n)
	for i := range samples {
		t := float64(i) / float64(sampleRate)
		envelope := math.Exp(-t * decay)
		samples[i] = int16(math.Sin(2*math.Pi*freq*t) * 32767 * volume * envelope)
	}
	return samples
}

func generateDoubleBeep(sampleRate int, freq, beepDur, gapDur, volume, decay float64) []int16 {
	beep := generateTick(sampleRate, freq, beepDur, volume, decay)
	gap := make([]int16, int(float64(sampleRate)*gapDur))
	result := make([]int16, 0, len(beep)*2+len(gap))
	result = append(result, beep...)
	result = append(result, gap...)
	result = append(result, beep...)
	return result
}
