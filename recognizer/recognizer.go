package recognizer

import (
	"context"
	"fmt"
	"strings"

	"echoengine/audio"
	"echoengine/config"
)

type Kind int

const (
	Partial Kind = iota
	Final
)

func (k Kind) String() string {
	if k == Final {
		return "final"
	}
	return "partial"
}

// Fragment is one unit of recognized text. A Final fragment is
// authoritative; a Partial one is replaced by whatever arrives next.
type Fragment struct {
	Text       string
	Kind       Kind
	Confidence *float64
	Language   string
}

func (f Fragment) Empty() bool { return strings.TrimSpace(f.Text) == "" }

// Descriptor advertises what a backend can do so callers need not switch
// on its concrete type.
type Descriptor struct {
	Name               string
	Streaming          bool
	PartialResults     bool
	ExternalProcess    bool
	NetworkCredentials bool
}

// Backend turns audio into fragments. Chunked backends return fragments
// from Recognize; streaming backends push them through the emit callback
// given to Start and return nothing from Recognize.
type Backend interface {
	Describe() Descriptor
	Start(ctx context.Context, emit func(Fragment)) error
	Recognize(ctx context.Context, chunk audio.Chunk) ([]Fragment, error)
	// Stop is idempotent and safe on a session that already ended.
	Stop() error
}

// New builds the backend named by cfg.Backend.
func New(cfg config.Config) (Backend, error) {
	switch cfg.Backend {
	case config.BackendCloud:
		return NewCloud(cfg.Cloud, cfg.Language)
	case config.BackendOS:
		return NewOSContinuous(cfg.OS, cfg.Language)
	case config.BackendLocal:
		return NewLocal(cfg.Local, cfg.Language)
	case config.BackendBatch:
		return NewBatch(cfg.Batch, cfg.Language)
	}
	return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}

// Clean drops empty fragments and trims the rest. When a Final follows a
// Partial in the same batch the Partial is superseded and dropped.
func Clean(frags []Fragment) []Fragment {
	var out []Fragment
	for _, f := range frags {
		if f.Empty() {
			continue
		}
		f.Text = strings.TrimSpace(f.Text)
		if f.Kind == Final && len(out) > 0 && out[len(out)-1].Kind == Partial {
			out = out[:len(out)-1]
		}
		out = append(out, f)
	}
	return out
}

func confidence(v float64) *float64 { return &v }
