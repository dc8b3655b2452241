package logging

import (
	"context"
	"log/slog"
	"strings"
	"sync"
)

// Entry is one captured log line with its attributes flattened to strings.
// Grouped keys are joined with dots.
type Entry struct {
	Level     slog.Level
	Message   string
	Component string
	Attrs     map[string]string
}

// Capture records log output for assertions. Install it with CaptureForTest
// and put it back with Restore.
type Capture struct {
	mu      sync.Mutex
	entries []Entry

	prev      *slog.Logger
	prevLevel slog.Level
}

// CaptureForTest swaps the default logger for a capturing one at debug level.
func CaptureForTest() *Capture {
	c := &Capture{prev: slog.Default(), prevLevel: level.Level()}
	slog.SetDefault(slog.New(&captureHandler{capture: c}))
	SetLevel(slog.LevelDebug)
	return c
}

// Restore reinstates the logger and level that were active before capture.
func (c *Capture) Restore() {
	slog.SetDefault(c.prev)
	level.Set(c.prevLevel)
}

// Entries returns a copy of everything captured so far.
func (c *Capture) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Entry(nil), c.entries...)
}

// Match returns the entries at lvl whose message contains msg.
func (c *Capture) Match(lvl slog.Level, msg string) []Entry {
	var out []Entry
	for _, e := range c.Entries() {
		if e.Level == lvl && strings.Contains(e.Message, msg) {
			out = append(out, e)
		}
	}
	return out
}

// Has reports whether any entry at lvl contains msg.
func (c *Capture) Has(lvl slog.Level, msg string) bool {
	return len(c.Match(lvl, msg)) > 0
}

// Count returns the number of entries at lvl.
func (c *Capture) Count(lvl slog.Level) int {
	n := 0
	for _, e := range c.Entries() {
		if e.Level == lvl {
			n++
		}
	}
	return n
}

// HasAttr reports whether any entry carries key=value. Attributes bound with
// With count as well as those passed on the call.
func (c *Capture) HasAttr(key, value string) bool {
	for _, e := range c.Entries() {
		if v, ok := e.Attrs[key]; ok && v == value {
			return true
		}
	}
	return false
}

// From returns the entries logged by a For(component) logger.
func (c *Capture) From(component string) []Entry {
	var out []Entry
	for _, e := range c.Entries() {
		if e.Component == component {
			out = append(out, e)
		}
	}
	return out
}

type captureHandler struct {
	capture *Capture
	attrs   []slog.Attr
	prefix  string
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	e := Entry{Level: r.Level, Message: r.Message, Attrs: make(map[string]string)}
	for _, a := range h.attrs {
		flatten(e.Attrs, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		flatten(e.Attrs, h.prefix, a)
		return true
	})
	e.Component = e.Attrs["component"]

	h.capture.mu.Lock()
	h.capture.entries = append(h.capture.entries, e)
	h.capture.mu.Unlock()
	return nil
}

// flatten stores a under prefix, expanding group values into dotted keys.
func flatten(dst map[string]string, prefix string, a slog.Attr) {
	v := a.Value.Resolve()
	if v.Kind() == slog.KindGroup {
		p := prefix + a.Key + "."
		if a.Key == "" {
			p = prefix
		}
		for _, g := range v.Group() {
			flatten(dst, p, g)
		}
		return
	}
	dst[prefix+a.Key] = v.String()
}

func (h *captureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	next.attrs = append(next.attrs, h.attrs...)
	for _, a := range attrs {
		next.attrs = append(next.attrs, slog.Attr{Key: h.prefix + a.Key, Value: a.Value})
	}
	return &next
}

func (h *captureHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.prefix = h.prefix + name + "."
	return &next
}
