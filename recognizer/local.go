package recognizer

import (
	"context"
	"os"
	"sync"

	"echoengine/audio"
	"echoengine/config"
	"echoengine/process"
)

// Decoder is an in-process streaming recognizer. Results are JSON objects
// carrying "text" (final) or "partial" fields.
type Decoder interface {
	AcceptWaveform(pcm []byte) bool
	Result() string
	PartialResult() string
	FinalResult() string
	Close()
}

// DecoderFactory opens a decoder for a model directory.
type DecoderFactory func(modelPath string, sampleRate int) (Decoder, error)

// Local feeds chunks to an in-process decoder. Each accepted utterance
// becomes a Final fragment, otherwise the running hypothesis is returned as
// a Partial.
type Local struct {
	cfg  config.LocalConfig
	lang string
	open DecoderFactory

	mu   sync.Mutex
	dec  Decoder
	emit func(Fragment)
}

func NewLocal(cfg config.LocalConfig, lang string) (*Local, error) {
	return NewLocalWithDecoder(cfg, lang, openVosk), nil
}

func NewLocalWithDecoder(cfg config.LocalConfig, lang string, open DecoderFactory) *Local {
	return &Local{cfg: cfg, lang: lang, open: open}
}

func (l *Local) Describe() Descriptor {
	return Descriptor{Name: config.BackendLocal, Streaming: true, PartialResults: true}
}

func (l *Local) Start(_ context.Context, emit func(Fragment)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.dec != nil {
		return nil
	}
	if info, err := os.Stat(l.cfg.ModelPath); l.cfg.ModelPath == "" || err != nil || !info.IsDir() {
		return newError(ErrModelMissing, l.cfg.ModelPath, err)
	}
	dec, err := l.open(l.cfg.ModelPath, audio.SampleRate)
	if err != nil {
		return newError(ErrModelMissing, l.cfg.ModelPath, err)
	}
	l.dec = dec
	l.emit = emit
	return nil
}

func (l *Local) Recognize(_ context.Context, chunk audio.Chunk) ([]Fragment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.dec == nil {
		return nil, newError(ErrModelMissing, "decoder not started", nil)
	}
	if chunk.Empty() {
		return nil, nil
	}
	var f Fragment
	if l.dec.AcceptWaveform(chunk.PCM) {
		f = l.fragment(l.dec.Result(), "text", Final)
	} else {
		f = l.fragment(l.dec.PartialResult(), "partial", Partial)
	}
	return Clean([]Fragment{f}), nil
}

// fragment reads key from a decoder result. Malformed results produce an
// empty fragment.
func (l *Local) fragment(result, key string, kind Kind) Fragment {
	text, _ := process.ScanJSONText(result, key)
	return Fragment{Text: text, Kind: kind, Language: l.lang}
}

// Stop flushes the decoder's last hypothesis through the emit callback.
func (l *Local) Stop() error {
	l.mu.Lock()
	dec, emit := l.dec, l.emit
	l.dec, l.emit = nil, nil
	l.mu.Unlock()
	if dec == nil {
		return nil
	}
	if f := l.fragment(dec.FinalResult(), "text", Final); !f.Empty() && emit != nil {
		emit(f)
	}
	dec.Close()
	return nil
}
