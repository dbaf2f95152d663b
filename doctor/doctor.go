// Package doctor runs pre-flight presence checks for the configured
// recognition and synthesis backends and the capture device.
package doctor

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"echoengine/audio"
	"echoengine/config"
	"echoengine/process"
	"echoengine/recognizer"
)

type Status int

const (
	Pass Status = iota
	Skip
	Fail
)

func (s Status) String() string {
	switch s {
	case Pass:
		return "PASS"
	case Skip:
		return "SKIP"
	}
	return "FAIL"
}

// Check is one line of the report. Kind names the error taxonomy entry a
// failure maps to.
type Check struct {
	Name   string
	Status Status
	Kind   string
	Detail string
}

var (
	passStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	skipStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
)

// Run prints every check to w and returns an exit code (0=no failures).
// A nil ctx skips the capture checks.
func Run(w io.Writer, cfg config.Config, ctx audio.Context) int {
	fmt.Fprintln(w, "echoengine doctor")
	fmt.Fprintln(w, "=================")

	checks := Checks(cfg)
	if ctx != nil {
		checks = append(checks, checkCapture(ctx, cfg.Device))
	}

	failed := 0
	for _, c := range checks {
		fmt.Fprintln(w, format(c))
		if c.Status == Fail {
			failed++
		}
	}

	fmt.Fprintln(w)
	if failed == 0 {
		fmt.Fprintln(w, "All checks passed!")
		return 0
	}
	fmt.Fprintf(w, "%d check(s) failed. See details above.\n", failed)
	return 1
}

func format(c Check) string {
	var tag string
	switch c.Status {
	case Pass:
		tag = passStyle.Render(c.Status.String())
	case Skip:
		tag = skipStyle.Render(c.Status.String())
	default:
		tag = failStyle.Render(c.Status.String())
	}
	line := fmt.Sprintf("  %s  %s", tag, c.Name)
	if c.Kind != "" {
		line += " [" + c.Kind + "]"
	}
	if c.Detail != "" {
		line += ": " + c.Detail
	}
	return line
}

// Checks evaluates the static checks for every backend. Only the selected
// recognition backend can fail; the others are reported as skipped when
// unconfigured.
func Checks(cfg config.Config) []Check {
	var out []Check
	for _, name := range config.Backends {
		c := checkBackend(cfg, name)
		if name != cfg.Backend && c.Status == Fail {
			c.Status = Skip
		}
		if name == cfg.Backend {
			c.Name += " (selected)"
		}
		out = append(out, c)
	}
	return append(out, checkSynthesis(cfg.Synthesis))
}

func checkBackend(cfg config.Config, name string) Check {
	switch name {
	case config.BackendBatch:
		return checkBatch(cfg.Batch)
	case config.BackendLocal:
		return checkLocal(cfg.Local)
	case config.BackendOS:
		return checkOS(cfg.OS)
	case config.BackendCloud:
		return checkCloud(cfg.Cloud)
	}
	return Check{Name: name, Status: Fail, Detail: "unknown backend"}
}

func checkBatch(b config.BatchConfig) Check {
	c := Check{Name: "batch recognizer"}
	exe, err := process.Resolve(b.Executable)
	if err != nil {
		return fail(c, recognizer.ErrExecutableMissing, b.Executable)
	}
	if process.Missing(b.ModelPath) {
		return fail(c, recognizer.ErrModelMissing, b.ModelPath)
	}
	c.Detail = exe
	return c
}

func checkLocal(l config.LocalConfig) Check {
	c := Check{Name: "local recognizer"}
	info, err := os.Stat(l.ModelPath)
	if l.ModelPath == "" || err != nil || !info.IsDir() {
		return fail(c, recognizer.ErrModelMissing, l.ModelPath)
	}
	if !recognizer.LocalAvailable {
		c.Status = Skip
		c.Detail = "built without vosk support"
		return c
	}
	c.Detail = l.ModelPath
	return c
}

func checkOS(o config.OSConfig) Check {
	c := Check{Name: "os recognizer"}
	exe, _, err := process.ParseCommand(strings.ReplaceAll(o.Command, "{lang}", "en"))
	if err != nil || process.Missing(exe) {
		return fail(c, recognizer.ErrExecutableMissing, o.Command)
	}
	c.Detail = exe
	return c
}

func checkCloud(cl config.CloudConfig) Check {
	c := Check{Name: "cloud recognizer"}
	if strings.TrimSpace(cl.APIKey) == "" {
		return fail(c, recognizer.ErrAuth, "api key not set")
	}
	c.Detail = cl.Endpoint
	return c
}

// A missing synthesis command only disables -speak.
func checkSynthesis(s config.SynthesisConfig) Check {
	c := Check{Name: "synthesis engine"}
	if strings.TrimSpace(s.Command) == "" {
		c.Status = Skip
		c.Detail = "no command configured"
		return c
	}
	exe, _, err := process.ParseCommand(s.Command)
	if err != nil || process.Missing(exe) {
		return fail(c, recognizer.ErrExecutableMissing, s.Command)
	}
	c.Detail = exe
	return c
}

// checkCapture opens the configured device and expects audio within a
// second.
func checkCapture(ctx audio.Context, name string) Check {
	c := Check{Name: "capture device"}
	dev, err := audio.FindDevice(ctx, name)
	if err != nil {
		return failDevice(c, err.Error())
	}
	capture, err := ctx.NewCapture(dev, audio.CaptureConfig{
		SampleRate: audio.SampleRate,
		Channels:   audio.Channels,
	})
	if err != nil {
		return failDevice(c, err.Error())
	}
	defer capture.Close()

	got := make(chan struct{}, 1)
	capture.SetCallback(func(data []byte, _ uint32) {
		if len(data) == 0 {
			return
		}
		select {
		case got <- struct{}{}:
		default:
		}
	})
	if err := capture.Start(); err != nil {
		return failDevice(c, err.Error())
	}
	defer capture.Stop()

	select {
	case <-got:
	case <-time.After(time.Second):
		return failDevice(c, "no audio received")
	}
	if dev != nil {
		c.Detail = dev.Name
	} else {
		c.Detail = "default"
	}
	return c
}

func fail(c Check, kind error, detail string) Check {
	c.Status = Fail
	c.Kind = recognizer.KindName(kind)
	c.Detail = detail
	return c
}

func failDevice(c Check, detail string) Check {
	c.Status = Fail
	c.Kind = "DeviceError"
	c.Detail = detail
	return c
}
