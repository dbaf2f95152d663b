package recognizer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"

	"echoengine/audio"
	"echoengine/config"
	"echoengine/encoder"
	"echoengine/log"
	"echoengine/process"
)

// Batch runs a whisper.cpp style CLI once per chunk:
//
//	<exe> -m <model> -f <input> -l <lang> -t <threads> -otxt -nt -of <output base>
//
// Every invocation gets a private temp directory holding exactly one input
// and one output file; the directory is removed on every return path.
type Batch struct {
	cfg       config.BatchConfig
	lang      string
	exec      *process.Executor
	extraArgs []string

	mu      sync.Mutex
	stopped atomic.Bool
}

func NewBatch(cfg config.BatchConfig, lang string) (*Batch, error) {
	extra, err := process.SplitArgs(cfg.ExtraArgs)
	if err != nil {
		return nil, err
	}
	if cfg.Threads <= 0 {
		cfg.Threads = 4
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "wav"
	}
	return &Batch{
		cfg:       cfg,
		lang:      lang,
		exec:      process.NewExecutor(cfg.Timeout()),
		extraArgs: extra,
	}, nil
}

func (b *Batch) Describe() Descriptor {
	return Descriptor{Name: config.BackendBatch, ExternalProcess: true}
}

// Start only verifies that the executable and model are present.
func (b *Batch) Start(context.Context, func(Fragment)) error {
	b.stopped.Store(false)
	return b.checkPresence()
}

func (b *Batch) checkPresence() error {
	if process.Missing(b.cfg.Executable) {
		return newError(ErrExecutableMissing, b.cfg.Executable, nil)
	}
	if process.Missing(b.cfg.ModelPath) {
		return newError(ErrModelMissing, b.cfg.ModelPath, nil)
	}
	return nil
}

func (b *Batch) Recognize(ctx context.Context, chunk audio.Chunk) ([]Fragment, error) {
	if chunk.Empty() {
		return nil, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkPresence(); err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp(b.cfg.TempDir, "echoengine-batch-*")
	if err != nil {
		return nil, fmt.Errorf("temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	base := filepath.Join(dir, "chunk-"+strconv.Itoa(chunk.Seq))
	input := base + "." + b.cfg.InputFormat
	if err := b.writeInput(input, chunk); err != nil {
		return nil, err
	}

	res, err := b.exec.Run(ctx, process.Command{
		Path:    b.cfg.Executable,
		Args:    b.args(input, base),
		Dir:     dir,
		Timeout: b.cfg.Timeout(),
	})
	if err != nil {
		return nil, fromProcess(b.cfg.Executable, err)
	}
	if b.stopped.Load() {
		return nil, nil
	}

	text := process.ExtractText(base+".txt", res)
	if text == "" {
		log.Infof("batch chunk %d: no speech in %d bytes", chunk.Seq, len(chunk.PCM))
		return nil, nil
	}
	return []Fragment{{Text: text, Kind: Final, Language: b.lang}}, nil
}

func (b *Batch) writeInput(path string, chunk audio.Chunk) error {
	var err error
	switch b.cfg.InputFormat {
	case "flac":
		err = encoder.WriteFLACFile(path, chunk)
	default:
		err = audio.WriteWAVFile(path, chunk)
	}
	if err != nil {
		return fmt.Errorf("write %s input: %w", b.cfg.InputFormat, err)
	}
	return nil
}

func (b *Batch) args(input, outBase string) []string {
	args := append([]string{}, b.extraArgs...)
	args = append(args,
		"-m", b.cfg.ModelPath,
		"-f", input,
		"-l", b.lang,
		"-t", strconv.Itoa(b.cfg.Threads),
		"-otxt",
		"-nt",
		"-of", outBase,
	)
	return args
}

// Stop marks the backend stopped; a run already in flight is left to its
// own timeout and its result is dropped.
func (b *Batch) Stop() error {
	b.stopped.Store(true)
	return nil
}
