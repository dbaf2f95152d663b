package log

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	diagLog        zerolog.Logger
	diagFile       *os.File
	transcriptFile *os.File
	logMu          sync.Mutex
	logReady       bool
	pid            int
	dir            string
)

func ResolveDir(flagPath string) (string, error) {
	// Priority 1: -logpath flag
	if flagPath != "" {
		return absolute(flagPath)
	}

	// Priority 2: ECHOENGINE_LOG_PATH environment variable
	if envPath := os.Getenv("ECHOENGINE_LOG_PATH"); envPath != "" {
		return absolute(envPath)
	}

	// Priority 3: Default OS-specific location
	return getDefaultDir()
}

func absolute(p string) (string, error) {
	if filepath.IsAbs(p) {
		return p, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, p), nil
}

func SetDir(d string) {
	dir = d
}

func Dir() string {
	return dir
}

func EnsureDir() error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

func Init() error {
	logMu.Lock()
	defer logMu.Unlock()

	if err := EnsureDir(); err != nil {
		return err
	}

	pid = os.Getpid()

	var err error

	diagPath := filepath.Join(dir, "diagnostics_log.txt")
	diagFile, err = os.OpenFile(diagPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	transcriptPath := filepath.Join(dir, "transcript_log.txt")
	transcriptFile, err = os.OpenFile(transcriptPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		diagFile.Close()
		return err
	}

	consoleWriter := zerolog.ConsoleWriter{
		Out:        diagFile,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    true,
	}
	diagLog = zerolog.New(consoleWriter).With().Timestamp().Int("pid", pid).Logger()

	logReady = true
	return nil
}

func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	if diagFile != nil {
		diagFile.Close()
		diagFile = nil
	}
	if transcriptFile != nil {
		transcriptFile.Close()
		transcriptFile = nil
	}
	logReady = false
}

func Info(msg string) {
	if logReady {
		diagLog.Info().Msg(msg)
	}
}

func Infof(format string, args ...any) {
	if logReady {
		diagLog.Info().Msg(fmt.Sprintf(format, args...))
	}
}

func Error(msg string) {
	if logReady {
		diagLog.Error().Msg(msg)
	}
}

func Errorf(format string, args ...any) {
	if logReady {
		diagLog.Error().Msg(fmt.Sprintf(format, args...))
	}
}

func Warn(msg string) {
	if logReady {
		diagLog.Warn().Msg(msg)
	}
}

func Warnf(format string, args ...any) {
	if logReady {
		diagLog.Warn().Msg(fmt.Sprintf(format, args...))
	}
}

func SessionStart(sessionID, backend, language string) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("session", sessionID).
		Str("backend", backend).
		Str("lang", language).
		Msg("session_start")
}

func SessionEnd(sessionID string, chunks int, transcriptChars int) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("session", sessionID).
		Int("chunks", chunks).
		Int("transcript_chars", transcriptChars).
		Msg("session_end")
}

func ChunkDispatched(sessionID string, seq int, audioS float64, bytes int) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("session", sessionID).
		Int("seq", seq).
		Float64("audio_s", audioS).
		Int("bytes", bytes).
		Msg("chunk_dispatched")
}

type RecognitionMetrics struct {
	Backend   string
	Seq       int
	Fragments int
	Elapsed   time.Duration
	Outcome   string
}

func RecognitionDone(m RecognitionMetrics) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("backend", m.Backend).
		Int("seq", m.Seq).
		Int("fragments", m.Fragments).
		Float64("elapsed_ms", float64(m.Elapsed.Milliseconds())).
		Str("outcome", m.Outcome).
		Msg("recognition")
}

func ProcessRun(path string, exitCode int, elapsed time.Duration, timedOut bool) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("exe", filepath.Base(path)).
		Int("exit", exitCode).
		Float64("elapsed_ms", float64(elapsed.Milliseconds())).
		Bool("timeout", timedOut).
		Msg("process")
}

func SynthesisState(from, to string) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("from", from).
		Str("to", to).
		Msg("synthesis_state")
}

func Confidence(confidence float64, accepted bool) {
	if !logReady {
		return
	}
	diagLog.Info().Float64("confidence", confidence).Bool("accepted", accepted).Msg("confidence")
}

func TranscriptionText(text string) {
	if !logReady {
		return
	}
	logMu.Lock()
	defer logMu.Unlock()
	line := fmt.Sprintf("%s\t[%d]\t%s\n", time.Now().Format("2006-01-02 15:04:05"), pid, text)
	transcriptFile.WriteString(line)
}
