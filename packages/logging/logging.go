// Package logging provides the slog handler used by minitest components.
//
// Records are written as a single line per record:
//
//	15:04:05.000 INFO  pool: worker spawned workerId=... active=2
//
// The component attribute, when present, is hoisted in front of the message.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

// ComponentKey is the attribute used to tag child loggers.
const ComponentKey = "component"

// Options configures a Handler.
type Options struct {
	Level   slog.Leveler
	NoColor bool
}

// Handler is a slog.Handler producing coloured, human readable lines.
type Handler struct {
	mu        *sync.Mutex
	w         io.Writer
	level     slog.Leveler
	noColor   bool
	component string
	attrs     []slog.Attr
	groups    []string
}

// NewHandler creates a handler writing to w.
func NewHandler(w io.Writer, opts *Options) *Handler {
	if opts == nil {
		opts = &Options{}
	}
	level := opts.Level
	if level == nil {
		level = slog.LevelInfo
	}
	return &Handler{
		mu:      &sync.Mutex{},
		w:       w,
		level:   level,
		noColor: opts.NoColor,
	}
}

// New returns a logger backed by a Handler.
func New(w io.Writer, level slog.Level, noColor bool) *slog.Logger {
	return slog.New(NewHandler(w, &Options{Level: level, NoColor: noColor}))
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// Component returns a child logger tagged with name.
func Component(l *slog.Logger, name string) *slog.Logger {
	if l == nil {
		l = Discard()
	}
	return l.With(ComponentKey, name)
}

// LevelFor maps the CLI verbosity flags to a level.
func LevelFor(verbose, quiet bool) slog.Level {
	switch {
	case quiet:
		return slog.LevelError
	case verbose:
		return slog.LevelDebug
	default:
		return slog.LevelWarn
	}
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder

	if !r.Time.IsZero() {
		b.WriteString(r.Time.Format("15:04:05.000"))
		b.WriteByte(' ')
	}
	b.WriteString(h.levelLabel(r.Level))
	b.WriteByte(' ')

	component := h.component
	var attrs []string
	collect := func(a slog.Attr) bool {
		if a.Key == ComponentKey && len(h.groups) == 0 {
			component = a.Value.String()
			return true
		}
		attrs = append(attrs, h.formatAttr(a))
		return true
	}
	for _, a := range h.attrs {
		collect(a)
	}
	r.Attrs(collect)

	if component != "" {
		b.WriteString(h.paint(color.FgCyan, component+":"))
		b.WriteByte(' ')
	}
	b.WriteString(r.Message)
	for _, a := range attrs {
		b.WriteByte(' ')
		b.WriteString(a)
	}
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	clone := *h
	clone.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &clone
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.groups = append(append([]string(nil), h.groups...), name)
	return &clone
}

func (h *Handler) formatAttr(a slog.Attr) string {
	key := a.Key
	if len(h.groups) > 0 {
		key = strings.Join(h.groups, ".") + "." + key
	}
	val := a.Value.Resolve()
	var s string
	switch val.Kind() {
	case slog.KindDuration:
		s = val.Duration().Round(time.Millisecond).String()
	case slog.KindString:
		s = val.String()
		if strings.ContainsAny(s, " \t\"=") {
			s = fmt.Sprintf("%q", s)
		}
	default:
		s = val.String()
	}
	return h.paint(color.Faint, key+"=") + s
}

func (h *Handler) levelLabel(level slog.Level) string {
	label := fmt.Sprintf("%-5s", level.String())
	switch {
	case level >= slog.LevelError:
		return h.paint(color.FgRed, label)
	case level >= slog.LevelWarn:
		return h.paint(color.FgYellow, label)
	case level >= slog.LevelInfo:
		return h.paint(color.FgGreen, label)
	default:
		return h.paint(color.FgHiBlack, label)
	}
}

func (h *Handler) paint(attr color.Attribute, s string) string {
	if h.noColor {
		return s
	}
	c := color.New(attr)
	c.EnableColor()
	return c.Sprint(s)
}
