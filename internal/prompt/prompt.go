// Package prompt renders the named prompt templates sent to the completion
// provider.
//
// Templates use {{slot}} placeholders. A template is compiled once into
// literal and slot segments, and rendering substitutes each slot from a flat
// map of strings. Nothing is looked up by reflection: list data is formatted
// into a single slot value beforehand with Lines.
package prompt

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Name identifies a registered template.
type Name string

// Slots holds the values substituted into a template.
type Slots map[string]string

// TemplateError reports a template that cannot be rendered with the supplied
// slots. It points at a mismatch between a flow and its template, not at bad
// user input.
type TemplateError struct {
	Template Name
	Slot     string
	Reason   string
}

func (e *TemplateError) Error() string {
	if e.Slot != "" {
		return fmt.Sprintf("template %s: slot %q %s", e.Template, e.Slot, e.Reason)
	}
	return fmt.Sprintf("template %s: %s", e.Template, e.Reason)
}

type segment struct {
	text string
	slot string
}

// Template is a compiled prompt template.
type Template struct {
	name     Name
	segments []segment
	slots    []string
}

// Compile parses text into a Template.
func Compile(name Name, text string) (*Template, error) {
	t := &Template{name: name}
	seen := make(map[string]bool)
	rest := text
	for {
		start := strings.Index(rest, "{{")
		if start < 0 {
			if rest != "" {
				t.segments = append(t.segments, segment{text: rest})
			}
			break
		}
		end := strings.Index(rest[start+2:], "}}")
		if end < 0 {
			return nil, &TemplateError{Template: name, Reason: "has an unterminated placeholder"}
		}
		slot := strings.TrimSpace(rest[start+2 : start+2+end])
		if !validSlotName(slot) {
			return nil, &TemplateError{Template: name, Slot: slot, Reason: "is not a valid slot name"}
		}
		if start > 0 {
			t.segments = append(t.segments, segment{text: rest[:start]})
		}
		t.segments = append(t.segments, segment{slot: slot})
		if !seen[slot] {
			seen[slot] = true
			t.slots = append(t.slots, slot)
		}
		rest = rest[start+2+end+2:]
	}
	return t, nil
}

func validSlotName(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '.':
		default:
			return false
		}
	}
	return true
}

// Name returns the template's name.
func (t *Template) Name() Name { return t.name }

// Slots returns the slot names referenced by the template in first-use order.
func (t *Template) Slots() []string {
	return append([]string(nil), t.slots...)
}

// Render substitutes every placeholder. It fails with a *TemplateError naming
// the first referenced slot missing from slots.
func (t *Template) Render(slots Slots) (string, error) {
	for _, name := range t.slots {
		if _, ok := slots[name]; !ok {
			return "", &TemplateError{Template: t.name, Slot: name, Reason: "is missing from the input"}
		}
	}
	var b strings.Builder
	for _, seg := range t.segments {
		if seg.slot == "" {
			b.WriteString(seg.text)
			continue
		}
		b.WriteString(slots[seg.slot])
	}
	return b.String(), nil
}

// Renderer holds the registered templates.
type Renderer struct {
	mu        sync.RWMutex
	templates map[Name]*Template
}

// NewRenderer creates a Renderer preloaded with the built-in templates.
func NewRenderer() *Renderer {
	r := &Renderer{templates: make(map[Name]*Template)}
	for name, text := range defaultTemplates {
		if err := r.Register(name, text); err != nil {
			panic(fmt.Sprintf("built-in template %s does not compile: %v", name, err))
		}
	}
	return r
}

// Register compiles text and stores it under name, replacing any previous
// template with that name.
func (r *Renderer) Register(name Name, text string) error {
	t, err := Compile(name, text)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[name] = t
	return nil
}

// Get returns the template registered under name.
func (r *Renderer) Get(name Name) (*Template, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.templates[name]
	return t, ok
}

// Render renders the template registered under name.
func (r *Renderer) Render(name Name, slots Slots) (string, error) {
	t, ok := r.Get(name)
	if !ok {
		return "", &TemplateError{Template: name, Reason: "is not registered"}
	}
	return t.Render(slots)
}

// LoadDir overrides built-in templates with files named "<template>.txt" in
// dir. Missing files keep the built-in text.
func (r *Renderer) LoadDir(dir string) error {
	slog.Debug("Renderer.LoadDir: loading template overrides", "dir", dir)
	for name := range defaultTemplates {
		path := filepath.Join(dir, string(name)+".txt")
		content, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to read template file %s: %w", path, err)
		}
		if err := r.Register(name, string(content)); err != nil {
			return fmt.Errorf("failed to compile template file %s: %w", path, err)
		}
		slog.Info("Renderer.LoadDir: template overridden", "template", name, "file", path)
	}
	return nil
}

// Line is one item of a list slot.
type Line struct {
	Label string
	Text  string
}

// Lines formats items as "<indent><label>: <text>", one per line, in the
// order given.
func Lines(indent string, items []Line) string {
	var b strings.Builder
	for i, item := range items {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(indent)
		b.WriteString(item.Label)
		b.WriteString(": ")
		b.WriteString(item.Text)
	}
	return b.String()
}
