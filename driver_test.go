package main

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"echoengine/audio"
	"echoengine/session"
	"echoengine/synthesis"
)

type fakeRecorder struct {
	mu     sync.Mutex
	active bool
	starts int
	stops  int
}

func (f *fakeRecorder) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active {
		return session.ErrAlreadyRunning
	}
	f.active = true
	f.starts++
	return nil
}

func (f *fakeRecorder) Stop(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active {
		f.stops++
	}
	f.active = false
	return nil
}

func (f *fakeRecorder) Active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

func (f *fakeRecorder) Display() string { return "hello world" }

func (f *fakeRecorder) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.stops
}

func newTestDriver(t *testing.T) (*driver, *fakeRecorder, *synthesis.FakeEngine, *bytes.Buffer) {
	t.Helper()
	rec := &fakeRecorder{}
	engine := &synthesis.FakeEngine{Audio: synthesis.Audio{
		Samples: make([]int16, 800),
		Format:  audio.CaptureFormat,
	}}
	synth := synthesis.NewController(engine, audio.NewFakeContext(nil, false), session.NopSink{})
	var out bytes.Buffer
	return &driver{rec: rec, synth: synth, voice: synthesis.Request{Voice: "amy"}, out: &out}, rec, engine, &out
}

func TestDriverScript(t *testing.T) {
	d, rec, engine, out := newTestDriver(t)
	script := strings.Join([]string{
		"start",
		"",
		"transcript",
		"toggle",
		"toggle",
		"speak good morning",
		"rate 1.5",
		"bogus",
		"quit",
		"start",
	}, "\n")

	if err := d.run(context.Background(), strings.NewReader(script)); err != nil {
		t.Fatal(err)
	}

	starts, stops := rec.counts()
	if starts != 2 || stops != 2 {
		t.Errorf("starts/stops = %d/%d, want 2/2", starts, stops)
	}
	if rec.Active() {
		t.Error("recorder still active after quit")
	}
	reqs := engine.Requests()
	if len(reqs) != 1 || reqs[0].Text != "good morning" || reqs[0].Voice != "amy" {
		t.Errorf("requests = %+v", reqs)
	}
	if !strings.Contains(out.String(), "hello world") {
		t.Errorf("transcript not printed:\n%s", out.String())
	}
	if !strings.Contains(out.String(), `unknown command "bogus"`) {
		t.Errorf("unknown command not reported:\n%s", out.String())
	}
	if d.synth.State() != synthesis.Idle {
		t.Errorf("synthesis state = %v after shutdown", d.synth.State())
	}
}

func TestDriverToggleSpeak(t *testing.T) {
	d, _, engine, _ := newTestDriver(t)
	engine.Block = make(chan struct{})
	ctx := context.Background()

	if err := d.exec(ctx, "toggle-speak first"); err != nil {
		t.Fatal(err)
	}
	if d.synth.State() != synthesis.Synthesizing {
		t.Fatalf("state = %v, want Synthesizing", d.synth.State())
	}
	if err := d.exec(ctx, "toggle-speak second"); err != nil {
		t.Fatal(err)
	}
	if d.synth.State() != synthesis.Idle {
		t.Errorf("state = %v, want Idle after toggling off", d.synth.State())
	}
	if engine.Stops() != 1 {
		t.Errorf("engine stops = %d, want 1", engine.Stops())
	}
	reqs := engine.Requests()
	if len(reqs) != 1 || reqs[0].Text != "first" || reqs[0].Voice != "amy" {
		t.Errorf("requests = %+v, toggle must not speak while cancelling", reqs)
	}
}

func TestDriverWithoutSynthesis(t *testing.T) {
	d, _, _, _ := newTestDriver(t)
	d.synth = nil
	for _, cmd := range []string{"speak hi", "toggle-speak hi", "pause", "volume 0.5"} {
		if err := d.exec(context.Background(), cmd); err != synthesis.ErrBackendUnavailable {
			t.Errorf("%s: err = %v", cmd, err)
		}
	}
}

func TestDriverBadArguments(t *testing.T) {
	d, _, _, _ := newTestDriver(t)
	for _, cmd := range []string{"rate fast", "volume", "sleep soon"} {
		if err := d.exec(context.Background(), cmd); err == nil {
			t.Errorf("%s: expected error", cmd)
		}
	}
}

func TestDriverStopsOnContext(t *testing.T) {
	d, rec, _, _ := newTestDriver(t)
	if err := d.exec(context.Background(), "start"); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	r, w := io.Pipe()
	defer w.Close()
	go func() { errc <- d.run(ctx, r) }()
	cancel()

	select {
	case err := <-errc:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("driver did not stop on cancel")
	}
	if rec.Active() {
		t.Error("recorder still active")
	}
}
