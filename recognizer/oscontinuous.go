package recognizer

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"echoengine/audio"
	"echoengine/config"
	"echoengine/log"
	"echoengine/process"
)

const osStopGrace = 3 * time.Second

// osResult is one NDJSON line written by the engine.
type osResult struct {
	Text       string   `json:"text"`
	Confidence *float64 `json:"confidence"`
	Final      bool     `json:"final"`
}

// OSContinuous drives a long-running local recognizer process. PCM goes
// to its stdin and results come back as NDJSON on stdout. The literal
// {lang} in the command line is replaced with the session language.
type OSContinuous struct {
	cfg  config.OSConfig
	lang string
	path string
	args []string
	exec *process.Executor

	mu      sync.Mutex
	session *process.Session
	cancel  context.CancelFunc
}

func NewOSContinuous(cfg config.OSConfig, lang string) (*OSContinuous, error) {
	path, args, err := process.ParseCommand(cfg.Command)
	if err != nil {
		return nil, newError(ErrExecutableMissing, "os.command", err)
	}
	for i, a := range args {
		args[i] = strings.ReplaceAll(a, "{lang}", lang)
	}
	return &OSContinuous{cfg: cfg, lang: lang, path: path, args: args, exec: process.NewExecutor(0)}, nil
}

func (o *OSContinuous) Describe() Descriptor {
	return Descriptor{Name: config.BackendOS, Streaming: true, PartialResults: true, ExternalProcess: true}
}

func (o *OSContinuous) Start(_ context.Context, emit func(Fragment)) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session != nil {
		return nil
	}
	if process.Missing(o.path) {
		return newError(ErrExecutableMissing, o.path, nil)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s, err := o.exec.Start(ctx, process.Command{Path: o.path, Args: o.args}, func(line []byte) {
		if f, ok := o.parse(line); ok {
			emit(f)
		}
	})
	if err != nil {
		cancel()
		return fromProcess(o.path, err)
	}
	o.session = s
	o.cancel = cancel
	return nil
}

// parse applies the confidence threshold to finals. Partials are only a
// preview and pass through regardless.
func (o *OSContinuous) parse(line []byte) (Fragment, bool) {
	var r osResult
	if err := json.Unmarshal(line, &r); err != nil {
		log.Warnf("os engine: unparsable line %q", truncate(string(line), 80))
		return Fragment{}, false
	}
	text := strings.TrimSpace(r.Text)
	if text == "" {
		return Fragment{}, false
	}
	kind := Partial
	if r.Final {
		kind = Final
		if r.Confidence != nil {
			accepted := *r.Confidence >= o.cfg.MinConfidence
			log.Confidence(*r.Confidence, accepted)
			if !accepted {
				return Fragment{}, false
			}
		}
	}
	return Fragment{Text: text, Kind: kind, Confidence: r.Confidence, Language: o.lang}, true
}

func (o *OSContinuous) Recognize(_ context.Context, chunk audio.Chunk) ([]Fragment, error) {
	o.mu.Lock()
	s := o.session
	o.mu.Unlock()
	if s == nil {
		return nil, newError(ErrExecutableMissing, "engine not started", nil)
	}
	if err := s.Write(chunk.PCM); err != nil {
		if perr := s.Err(); perr != nil {
			return nil, fromProcess(o.path, perr)
		}
		return nil, newError(ErrProcessNonZeroExit, "engine exited", err)
	}
	return nil, nil
}

func (o *OSContinuous) Stop() error {
	o.mu.Lock()
	s, cancel := o.session, o.cancel
	o.session, o.cancel = nil, nil
	o.mu.Unlock()
	if s == nil {
		return nil
	}
	err := s.Stop(osStopGrace)
	cancel()
	var exitErr *process.ExitError
	if err != nil && !errors.As(err, &exitErr) && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
