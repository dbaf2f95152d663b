package process

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"echoengine/log"
)

const maxLineBytes = 1 << 20

// Session is a long-running child fed through stdin whose stdout is
// consumed line by line.
type Session struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	path  string
	start time.Time

	stderr bytes.Buffer

	writeMu  sync.Mutex
	stopOnce sync.Once
	done     chan struct{}
	err      error
}

// Start launches c and calls onLine for every stdout line until the
// process exits. The context bounds the whole process lifetime.
func (e *Executor) Start(ctx context.Context, c Command, onLine func([]byte)) (*Session, error) {
	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	setProcessGroup(cmd)
	cmd.Cancel = func() error { return killProcessGroup(cmd) }
	cmd.WaitDelay = 2 * time.Second

	s := &Session{cmd: cmd, path: c.Path, done: make(chan struct{})}
	cmd.Stderr = &s.stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	s.stdin = stdin

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", c.Path, ErrNotFound)
		}
		return nil, fmt.Errorf("start %s: %w", filepath.Base(c.Path), err)
	}
	s.start = time.Now()

	go func() {
		defer close(s.done)
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) > 0 {
				onLine(line)
			}
		}
		io.Copy(io.Discard, stdout)

		waitErr := cmd.Wait()
		code := -1
		if cmd.ProcessState != nil {
			code = cmd.ProcessState.ExitCode()
		}
		log.ProcessRun(s.path, code, time.Since(s.start), false)

		var exitErr *exec.ExitError
		switch {
		case waitErr == nil:
		case ctx.Err() != nil:
			s.err = ctx.Err()
		case errors.As(waitErr, &exitErr):
			s.err = &ExitError{Code: code, Stderr: s.stderr.String()}
		default:
			s.err = waitErr
		}
	}()
	return s, nil
}

// Write sends data to the child's stdin.
func (s *Session) Write(p []byte) error {
	select {
	case <-s.done:
		if s.err != nil {
			return s.err
		}
		return io.ErrClosedPipe
	default:
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.stdin.Write(p)
	return err
}

func (s *Session) Done() <-chan struct{} { return s.done }

// Err is valid once Done is closed.
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Stop closes stdin and waits up to grace for a clean exit before killing
// the process group. Safe to call more than once.
func (s *Session) Stop(grace time.Duration) error {
	s.stopOnce.Do(func() {
		// not under writeMu: a blocked Write must not hold up Stop
		s.stdin.Close()

		select {
		case <-s.done:
		case <-time.After(grace):
			killProcessGroup(s.cmd)
			<-s.done
		}
	})
	<-s.done
	return s.err
}
