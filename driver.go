package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"echoengine/log"
	"echoengine/session"
	"echoengine/synthesis"
)

const stopTimeout = 35 * time.Second

const driverHelp = `commands:
  start | stop | toggle      control recording
  speak <text>               synthesize and play text (cancels current speech)
  toggle-speak <text>        stop current speech, or speak text when silent
  pause | resume | cancel    control playback
  rate <x> | volume <x>      playback rate (0.5-2) and volume (0-1)
  transcript                 print the transcript so far, with the live preview
  sleep <ms>                 wait
  quit`

// recorder is the part of session.Orchestrator the driver needs.
type recorder interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Active() bool
	Display() string
}

// driver runs line commands from a reader against the recorder and the
// synthesis controller. Used for the interactive console and scripted
// runs.
type driver struct {
	rec   recorder
	synth *synthesis.Controller
	voice synthesis.Request
	out   io.Writer
}

var errQuit = errors.New("quit")

func (d *driver) run(parent context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return d.shutdown()
		case line, ok := <-lines:
			if !ok {
				return d.shutdown()
			}
			if err := d.exec(ctx, line); err != nil {
				if errors.Is(err, errQuit) {
					return d.shutdown()
				}
				fmt.Fprintf(d.out, "error: %v\n", err)
				log.Warnf("command %q: %v", line, err)
			}
		}
	}
}

func (d *driver) exec(ctx context.Context, line string) error {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)
	switch strings.ToLower(cmd) {
	case "":
		return nil
	case "start":
		return d.rec.Start(ctx)
	case "stop":
		return d.stopRecording()
	case "toggle":
		if d.rec.Active() {
			return d.stopRecording()
		}
		return d.rec.Start(ctx)
	case "speak":
		if d.synth == nil {
			return synthesis.ErrBackendUnavailable
		}
		req := d.voice
		req.Text = arg
		if d.synth.State() != synthesis.Idle {
			d.synth.Cancel()
		}
		return d.synth.Speak(ctx, req)
	case "toggle-speak":
		if d.synth == nil {
			return synthesis.ErrBackendUnavailable
		}
		req := d.voice
		req.Text = arg
		return d.synth.Toggle(ctx, req)
	case "pause", "resume", "cancel", "rate", "volume":
		if d.synth == nil {
			return synthesis.ErrBackendUnavailable
		}
		return d.playback(cmd, arg)
	case "transcript":
		fmt.Fprintln(d.out, d.rec.Display())
	case "sleep":
		ms, err := strconv.Atoi(arg)
		if err != nil {
			return fmt.Errorf("sleep: %w", err)
		}
		time.Sleep(time.Duration(ms) * time.Millisecond)
	case "help":
		fmt.Fprintln(d.out, driverHelp)
	case "quit", "exit":
		return errQuit
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}

func (d *driver) playback(cmd, arg string) error {
	switch cmd {
	case "pause":
		d.synth.Pause()
	case "resume":
		d.synth.Resume()
	case "cancel":
		d.synth.Cancel()
	case "rate", "volume":
		v, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", cmd, err)
		}
		if cmd == "rate" {
			d.synth.SetRate(v)
		} else {
			d.synth.SetVolume(v)
		}
	}
	return nil
}

func (d *driver) stopRecording() error {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	return d.rec.Stop(ctx)
}

// shutdown stops recording and playback before returning.
func (d *driver) shutdown() error {
	var err error
	if d.rec.Active() {
		err = d.stopRecording()
	}
	if d.synth != nil {
		d.synth.Cancel()
	}
	return err
}

var _ recorder = (*session.Orchestrator)(nil)
