// Package synthesis turns text into audio and drives its playback through
// a small state machine.
package synthesis

import (
	"context"
	"errors"

	"echoengine/audio"
	"echoengine/process"
)

type State int

const (
	Idle State = iota
	Synthesizing
	Playing
	Paused
	Completed
	Cancelled
	Failed
)

var stateNames = [...]string{"Idle", "Synthesizing", "Playing", "Paused", "Completed", "Cancelled", "Failed"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "Unknown"
}

var (
	ErrEmptyText          = errors.New("text is empty")
	ErrBackendUnavailable = errors.New("no synthesis engine configured")
	ErrDevice             = errors.New("playback device error")
	ErrBusy               = errors.New("synthesis already active")
)

// KindName returns the short name used in status reports and metrics.
func KindName(err error) string {
	var exitErr *process.ExitError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrEmptyText):
		return "EmptyText"
	case errors.Is(err, ErrBackendUnavailable):
		return "BackendUnavailable"
	case errors.Is(err, ErrDevice):
		return "DeviceError"
	case errors.Is(err, process.ErrTimeout):
		return "ProcessTimeout"
	case errors.Is(err, process.ErrNotFound):
		return "ExecutableMissing"
	case errors.As(err, &exitErr):
		return "ProcessNonZeroExit"
	case errors.Is(err, context.Canceled):
		return "Cancelled"
	}
	return "Error"
}

// Request describes one utterance. Voice and Locale are passed to the
// engine untouched. Zero Rate or Volume means the controller's current
// setting.
type Request struct {
	Text   string
	Voice  string
	Locale string
	Rate   float64
	Volume float64
}

// Audio is decoded engine output ready for playback.
type Audio struct {
	Samples []int16
	Format  audio.Format
}

func (a Audio) Empty() bool { return len(a.Samples) == 0 }

// Engine produces the audio for a request.
type Engine interface {
	Synthesize(ctx context.Context, req Request) (Audio, error)
}

// Stopper is implemented by engines that keep their own synthesis session
// which has to be stopped on cancel.
type Stopper interface {
	Stop() error
}

// Player opens playback devices. audio.Context satisfies it.
type Player interface {
	NewPlayback(f audio.Format, src *audio.Source) (audio.Playback, error)
}

// Sink receives state changes and errors. Calls are made in order while
// the controller holds its lock, so implementations must return quickly
// and must not call back into the controller.
type Sink interface {
	OnSessionStateChanged(state string)
	OnError(kind, detail string)
}
