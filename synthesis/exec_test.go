package synthesis

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"echoengine/audio"
	"echoengine/config"
)

// TestHelperProcess is not a real test. It is re-executed by the tests
// below to stand in for a TTS command line tool.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("ECHOENGINE_HELPER_PROCESS") != "1" {
		return
	}
	defer os.Exit(0)

	args := os.Args
	for i, a := range args {
		if a == "--" {
			args = args[i+1:]
			break
		}
	}
	flags := map[string]string{}
	for i := 0; i+1 < len(args); i++ {
		flags[args[i]] = args[i+1]
	}
	text := flags["-t"]
	if text == "" {
		in, _ := io.ReadAll(os.Stdin)
		text = strings.TrimSpace(string(in))
	}
	if text == "fail" {
		os.Exit(7)
	}
	if flags["-v"] != "amy" {
		os.Exit(8)
	}
	if r, ok := flags["-r"]; ok && r != "1" {
		os.Exit(10)
	}

	samples := make([]int16, 100*len(text))
	for i := range samples {
		samples[i] = int16(i % 100)
	}
	switch os.Getenv("HELPER_MODE") {
	case "sleep":
		time.Sleep(30 * time.Second)
	case "file":
		if text == "silence" {
			os.WriteFile(flags["-o"], nil, 0o644)
			return
		}
		if err := audio.WriteWAVFile(flags["-o"], audio.NewChunk(0, audio.Int16ToBytes(samples), audio.CaptureFormat)); err != nil {
			os.Exit(9)
		}
	case "stdout":
		tmp := filepath.Join(os.TempDir(), "echoengine-helper.wav")
		defer os.Remove(tmp)
		audio.WriteWAVFile(tmp, audio.NewChunk(0, audio.Int16ToBytes(samples), audio.CaptureFormat))
		data, _ := os.ReadFile(tmp)
		os.Stdout.Write(data)
	}
}

func helperEngine(t *testing.T, mode, args string) *ExecEngine {
	t.Helper()
	t.Setenv("ECHOENGINE_HELPER_PROCESS", "1")
	t.Setenv("HELPER_MODE", mode)
	e, err := NewExecEngine(config.SynthesisConfig{
		Command:   "'" + os.Args[0] + "' -test.run=TestHelperProcess -- " + args,
		Voice:     "amy",
		TimeoutMS: 10000,
	})
	if err != nil {
		t.Fatal(err)
	}
	e.tempDir = t.TempDir()
	return e
}

func TestExecEngine(t *testing.T) {
	tests := []struct {
		name string
		mode string
		args string
		text string
	}{
		{"output file, text on stdin", "file", "-v {voice} -o {output}", "hello"},
		{"output file, text argument", "file", "-v {voice} -o {output} -t {text}", "hello there"},
		{"wav on stdout", "stdout", "-v {voice}", "hi"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := helperEngine(t, tt.mode, tt.args)
			out, err := e.Synthesize(context.Background(), Request{Text: tt.text})
			if err != nil {
				t.Fatalf("Synthesize: %v", err)
			}
			if got, want := len(out.Samples), 100*len(tt.text); got != want {
				t.Errorf("samples = %d, want %d", got, want)
			}
			if out.Format != audio.CaptureFormat {
				t.Errorf("format = %+v", out.Format)
			}
			entries, _ := os.ReadDir(e.tempDir)
			if len(entries) != 0 {
				t.Errorf("temp files left: %d", len(entries))
			}
		})
	}
}

func TestExecEngineEmptyOutput(t *testing.T) {
	e := helperEngine(t, "file", "-v {voice} -o {output}")
	out, err := e.Synthesize(context.Background(), Request{Text: "silence"})
	if err != nil || !out.Empty() {
		t.Fatalf("Synthesize = %d samples, %v", len(out.Samples), err)
	}
}

func TestExecEngineErrors(t *testing.T) {
	e := helperEngine(t, "file", "-v {voice} -o {output}")
	_, err := e.Synthesize(context.Background(), Request{Text: "fail"})
	if KindName(err) != "ProcessNonZeroExit" {
		t.Errorf("KindName = %q (%v)", KindName(err), err)
	}

	missing, _ := NewExecEngine(config.SynthesisConfig{Command: "/nonexistent/piper", TimeoutMS: 1000})
	_, err = missing.Synthesize(context.Background(), Request{Text: "x"})
	if KindName(err) != "ExecutableMissing" {
		t.Errorf("KindName = %q (%v)", KindName(err), err)
	}

	if _, err := NewExecEngine(config.SynthesisConfig{}); !errors.Is(err, ErrBackendUnavailable) {
		t.Errorf("NewExecEngine(empty) = %v", err)
	}
}

func TestControllerWithExecEngine(t *testing.T) {
	e := helperEngine(t, "file", "-v {voice} -o {output}")
	player := audio.NewFakeContext(nil, false)
	c := NewController(e, player, nil)
	if err := c.Speak(context.Background(), Request{Text: "hello"}); err != nil {
		t.Fatal(err)
	}
	waitDone(t, c)
	pbs := player.Playbacks()
	if len(pbs) != 1 || pbs[0].Played() != 500 {
		t.Fatalf("playbacks = %d", len(pbs))
	}
}

func TestExecEngineLeavesRateToPlayback(t *testing.T) {
	e := helperEngine(t, "file", "-v {voice} -r {rate} -o {output}")
	player := audio.NewFakeContext(nil, false)
	c := NewController(e, player, nil)
	if err := c.Speak(context.Background(), Request{Text: "hello", Rate: 1.5}); err != nil {
		t.Fatal(err)
	}
	waitDone(t, c)
	pbs := player.Playbacks()
	if len(pbs) != 1 {
		t.Fatalf("playbacks = %d, engine was given a rate other than 1", len(pbs))
	}
	if r := pbs[0].Source().Rate(); r != 1.5 {
		t.Errorf("source rate = %v, want 1.5", r)
	}
	if n := pbs[0].Played(); n >= 500 || n < 300 {
		t.Errorf("played %d samples, want about 334 at rate 1.5", n)
	}
}

func TestExecEngineStopKillsCommand(t *testing.T) {
	e := helperEngine(t, "sleep", "-v {voice} -o {output}")
	errc := make(chan error, 1)
	go func() {
		_, err := e.Synthesize(context.Background(), Request{Text: "hello"})
		errc <- err
	}()

	deadline := time.Now().Add(5 * time.Second)
	for {
		e.mu.Lock()
		running := e.cancel != nil
		e.mu.Unlock()
		if running {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("synthesis never started")
		}
		time.Sleep(time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	if err := e.Stop(); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Synthesize = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Synthesize still running after Stop")
	}
	if err := e.Stop(); err != nil {
		t.Errorf("Stop while idle = %v", err)
	}
}

func TestControllerCancelStopsExecEngine(t *testing.T) {
	e := helperEngine(t, "sleep", "-v {voice} -o {output}")
	c := NewController(e, audio.NewFakeContext(nil, false), nil)
	if err := c.Speak(context.Background(), Request{Text: "hello"}); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	c.Cancel()
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("Cancel took %v", elapsed)
	}
	if c.State() != Idle {
		t.Errorf("state = %v", c.State())
	}
}
