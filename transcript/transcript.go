// Package transcript assembles recognition fragments into running text.
package transcript

import (
	"strings"
	"sync"

	"echoengine/recognizer"
)

// Assembler keeps the committed transcript and the latest partial preview.
// Committed text only grows; a partial is replaced by whatever arrives next.
type Assembler struct {
	mu       sync.Mutex
	text     strings.Builder
	segments []string
	preview  string
}

func New() *Assembler { return &Assembler{} }

// Append applies one fragment and reports whether the committed text
// changed. Empty fragments are ignored. A final fragment clears the
// preview.
func (a *Assembler) Append(f recognizer.Fragment) bool {
	text := strings.TrimSpace(f.Text)

	a.mu.Lock()
	defer a.mu.Unlock()

	if text == "" {
		return false
	}
	if f.Kind == recognizer.Partial {
		a.preview = text
		return false
	}

	if a.text.Len() > 0 {
		a.text.WriteByte(' ')
	}
	a.text.WriteString(text)
	a.segments = append(a.segments, text)
	a.preview = ""
	return true
}

// AppendAll applies fragments in order and returns the committed segments
// they added.
func (a *Assembler) AppendAll(frags []recognizer.Fragment) []string {
	var added []string
	for _, f := range frags {
		if a.Append(f) {
			added = append(added, strings.TrimSpace(f.Text))
		}
	}
	return added
}

func (a *Assembler) Text() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.text.String()
}

func (a *Assembler) Preview() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.preview
}

// Display is the committed text followed by the preview, as shown live.
func (a *Assembler) Display() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.text.String()
	switch {
	case a.preview == "":
		return s
	case s == "":
		return a.preview
	}
	return s + " " + a.preview
}

func (a *Assembler) Segments() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.segments...)
}

func (a *Assembler) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.text.Reset()
	a.segments = nil
	a.preview = ""
}
