package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"

	"echoengine/log"
)

const DefaultTimeout = 30 * time.Second

var (
	ErrTimeout  = errors.New("process timed out")
	ErrNotFound = errors.New("executable not found")
)

// ExitError reports a process that ran to completion with a non-zero status.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if len(msg) > 200 {
		msg = msg[len(msg)-200:]
	}
	if msg == "" {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return fmt.Sprintf("exit status %d: %s", e.Code, msg)
}

type Command struct {
	Path    string
	Args    []string
	Dir     string
	Env     []string
	Stdin   io.Reader
	Timeout time.Duration
}

type Result struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
	Duration time.Duration
}

type Executor struct {
	// Timeout applies when a Command leaves its own unset.
	Timeout time.Duration
}

func NewExecutor(timeout time.Duration) *Executor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Executor{Timeout: timeout}
}

// Run starts the command, collects stdout and stderr, and waits for it to
// exit. A command still running at its deadline has its whole process
// group killed and is reaped before Run returns ErrTimeout.
func (e *Executor) Run(ctx context.Context, c Command) (Result, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = e.Timeout
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, c.Path, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	cmd.Stdin = c.Stdin
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	setProcessGroup(cmd)
	cmd.Cancel = func() error { return killProcessGroup(cmd) }
	cmd.WaitDelay = 2 * time.Second

	start := time.Now()
	err := cmd.Run()
	res := Result{
		ExitCode: -1,
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: time.Since(start),
	}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	timedOut := errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
	log.ProcessRun(c.Path, res.ExitCode, res.Duration, timedOut)

	switch {
	case timedOut:
		return res, fmt.Errorf("%s after %s: %w", filepath.Base(c.Path), timeout, ErrTimeout)
	case ctx.Err() != nil:
		return res, ctx.Err()
	case err == nil:
		return res, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return res, &ExitError{Code: res.ExitCode, Stderr: stderr.String()}
	}
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
		return res, fmt.Errorf("%s: %w", c.Path, ErrNotFound)
	}
	return res, fmt.Errorf("run %s: %w", filepath.Base(c.Path), err)
}

// SplitArgs parses a shell-style argument string.
func SplitArgs(s string) ([]string, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	args, err := shellwords.NewParser().Parse(s)
	if err != nil {
		return nil, fmt.Errorf("parse arguments %q: %w", s, err)
	}
	return args, nil
}

// ParseCommand splits a command line into an executable and its arguments.
func ParseCommand(line string) (string, []string, error) {
	args, err := SplitArgs(line)
	if err != nil {
		return "", nil, err
	}
	if len(args) == 0 {
		return "", nil, fmt.Errorf("command is empty")
	}
	return args[0], args[1:], nil
}

// Missing reports whether path does not name a regular file. Bare names
// are looked up on PATH.
func Missing(path string) bool {
	_, err := Resolve(path)
	return err != nil
}

// Resolve returns the absolute location of an executable or model file.
func Resolve(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", ErrNotFound
	}
	if !strings.ContainsRune(path, filepath.Separator) && !strings.ContainsRune(path, '/') {
		if p, err := exec.LookPath(path); err == nil {
			return p, nil
		}
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	return filepath.Abs(path)
}
