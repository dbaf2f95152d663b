package synthesis

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"echoengine/audio"
	"echoengine/config"
	"echoengine/process"
)

// ExecEngine runs a local TTS command that produces WAV, such as
//
//	piper --model {voice} --output_file {output}
//	espeak-ng -v {voice} -w {output} {text}
//
// Placeholders {voice}, {locale}, {rate}, {output} and {text} are
// substituted per request. Without {text} the text is written to stdin;
// without {output} the WAV is read from stdout. {rate} is always 1: the
// playback source applies the requested rate.
type ExecEngine struct {
	path    string
	args    []string
	cfg     config.SynthesisConfig
	exec    *process.Executor
	tempDir string

	mu     sync.Mutex
	cancel context.CancelFunc
}

func NewExecEngine(cfg config.SynthesisConfig) (*ExecEngine, error) {
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, ErrBackendUnavailable
	}
	path, args, err := process.ParseCommand(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("synthesis.command: %w", err)
	}
	return &ExecEngine{path: path, args: args, cfg: cfg, exec: process.NewExecutor(cfg.Timeout())}, nil
}

func (e *ExecEngine) Synthesize(ctx context.Context, req Request) (Audio, error) {
	if process.Missing(e.path) {
		return Audio{}, fmt.Errorf("%s: %w", e.path, process.ErrNotFound)
	}
	dir, err := os.MkdirTemp(e.tempDir, "echoengine-tts-*")
	if err != nil {
		return Audio{}, fmt.Errorf("temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	ctx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.cancel = nil
		e.mu.Unlock()
		cancel()
	}()

	voice := req.Voice
	if voice == "" {
		voice = e.cfg.Voice
	}
	locale := req.Locale
	if locale == "" {
		locale = e.cfg.Locale
	}
	output := filepath.Join(dir, "speech.wav")
	repl := strings.NewReplacer(
		"{voice}", voice,
		"{locale}", locale,
		"{rate}", "1",
		"{output}", output,
		"{text}", req.Text,
	)

	usesText, usesOutput := false, false
	args := make([]string, len(e.args))
	for i, a := range e.args {
		usesText = usesText || strings.Contains(a, "{text}")
		usesOutput = usesOutput || strings.Contains(a, "{output}")
		args[i] = repl.Replace(a)
	}

	cmd := process.Command{Path: e.path, Args: args, Dir: dir, Timeout: e.cfg.Timeout()}
	if !usesText {
		cmd.Stdin = strings.NewReader(req.Text + "\n")
	}
	res, err := e.exec.Run(ctx, cmd)
	if err != nil {
		return Audio{}, err
	}

	data := res.Stdout
	if usesOutput {
		if data, err = os.ReadFile(output); err != nil {
			return Audio{}, fmt.Errorf("read synthesized audio: %w", err)
		}
	}
	if len(data) == 0 {
		return Audio{}, nil
	}
	samples, f, err := audio.DecodeWAV(bytes.NewReader(data))
	if err != nil {
		return Audio{}, err
	}
	return Audio{Samples: samples, Format: f}, nil
}

// Stop kills the command of the synthesis in progress, if any.
func (e *ExecEngine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.cancel()
	}
	return nil
}
