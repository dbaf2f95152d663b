package recognizer

import (
	"context"
	"errors"
	"fmt"

	"echoengine/process"
)

var (
	ErrAuth               = errors.New("authentication failed")
	ErrNetwork            = errors.New("network error")
	ErrNoAudioDetected    = errors.New("no audio detected")
	ErrModelMissing       = errors.New("model missing")
	ErrExecutableMissing  = errors.New("executable missing")
	ErrProcessTimeout     = errors.New("process timed out")
	ErrProcessNonZeroExit = errors.New("process exited with non-zero status")
)

// Error carries the taxonomy kind plus a human readable detail.
type Error struct {
	Kind   error
	Detail string
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Detail != "" && e.Err != nil:
		return fmt.Sprintf("%v: %s: %v", e.Kind, e.Detail, e.Err)
	case e.Detail != "":
		return fmt.Sprintf("%v: %s", e.Kind, e.Detail)
	case e.Err != nil:
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	}
	return e.Kind.Error()
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, detail string, err error) *Error {
	return &Error{Kind: kind, Detail: detail, Err: err}
}

// KindName returns the short name used in status reports and metrics.
func KindName(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAuth):
		return "AuthError"
	case errors.Is(err, ErrNetwork):
		return "NetworkError"
	case errors.Is(err, ErrNoAudioDetected):
		return "NoAudioDetected"
	case errors.Is(err, ErrModelMissing):
		return "ModelMissing"
	case errors.Is(err, ErrExecutableMissing):
		return "ExecutableMissing"
	case errors.Is(err, ErrProcessTimeout):
		return "ProcessTimeout"
	case errors.Is(err, ErrProcessNonZeroExit):
		return "ProcessNonZeroExit"
	case errors.Is(err, context.Canceled):
		return "Cancelled"
	}
	return "Error"
}

// fromProcess maps executor failures onto the taxonomy.
func fromProcess(path string, err error) error {
	if err == nil {
		return nil
	}
	var exitErr *process.ExitError
	switch {
	case errors.Is(err, process.ErrTimeout):
		return newError(ErrProcessTimeout, path, err)
	case errors.Is(err, process.ErrNotFound):
		return newError(ErrExecutableMissing, path, err)
	case errors.As(err, &exitErr):
		return newError(ErrProcessNonZeroExit, fmt.Sprintf("%s exited %d", path, exitErr.Code), err)
	}
	return err
}
