package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

var (
	stateStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("63")).Bold(true)
	finalStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	previewStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
)

// consoleSink prints status events. When redraw is set the partial
// preview is rewritten in place instead of printed on its own line.
type consoleSink struct {
	w      io.Writer
	redraw bool

	mu         sync.Mutex
	previewing bool
}

func newConsoleSink(w io.Writer, redraw bool) *consoleSink {
	return &consoleSink{w: w, redraw: redraw}
}

func (c *consoleSink) clearPreview() {
	if c.previewing {
		fmt.Fprint(c.w, "\r\x1b[K")
		c.previewing = false
	}
}

func (c *consoleSink) OnSessionStateChanged(state string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearPreview()
	fmt.Fprintln(c.w, stateStyle.Render("["+state+"]"))
}

func (c *consoleSink) OnTranscriptAppended(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearPreview()
	fmt.Fprintln(c.w, finalStyle.Render(text))
}

func (c *consoleSink) OnPartialPreview(text string) {
	if text == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.redraw {
		c.clearPreview()
		fmt.Fprint(c.w, previewStyle.Render(text))
		c.previewing = true
		return
	}
	fmt.Fprintln(c.w, previewStyle.Render("… "+text))
}

func (c *consoleSink) OnError(kind, detail string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearPreview()
	line := errorStyle.Render(kind)
	if detail != "" {
		line += " " + detail
	}
	fmt.Fprintln(c.w, line)
}
