// Package logging builds the structured logger shared by every component of
// a run. Components receive the logger at construction and tag their records
// with a namespace; nothing in the process mutates a global logger.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// NamespaceKey is the attribute that carries a component's namespace.
const NamespaceKey = "logger"

// Options configures the run logger.
type Options struct {
	Level       string   `yaml:"level" validate:"omitempty,oneof=debug info warn warning error DEBUG INFO WARN WARNING ERROR"`
	Destination string   `yaml:"destination"`
	Format      string   `yaml:"format" validate:"omitempty,oneof=text json"`
	Suppress    []string `yaml:"suppress"`
}

// DefaultOptions logs text at info level to stderr and quiets the HTTP
// clients of the model backends.
func DefaultOptions() Options {
	return Options{
		Level:       "info",
		Destination: "stderr",
		Format:      "text",
		Suppress:    []string{"model.http"},
	}
}

// New returns a logger for opts and a function that releases the
// destination when it is a file.
func New(opts Options) (*slog.Logger, func() error, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}

	var (
		w       io.Writer
		closeFn = func() error { return nil }
	)
	switch opts.Destination {
	case "", "stderr":
		w = os.Stderr
	case "stdout":
		w = os.Stdout
	default:
		f, err := os.OpenFile(opts.Destination, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log destination %s: %w", opts.Destination, err)
		}
		w = f
		closeFn = f.Close
	}

	handler, err := newHandler(w, opts.Format, level)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return slog.New(&filterHandler{next: handler, suppress: opts.Suppress}), closeFn, nil
}

// NewWriter builds a logger that writes to w. Used by tests and by callers
// that already own a writer.
func NewWriter(w io.Writer, opts Options) (*slog.Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	handler, err := newHandler(w, opts.Format, level)
	if err != nil {
		return nil, err
	}
	return slog.New(&filterHandler{next: handler, suppress: opts.Suppress}), nil
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// Named returns a child of l tagged with namespace ns. A nil l yields a
// discarding logger so components can be built without one.
func Named(l *slog.Logger, ns string) *slog.Logger {
	if l == nil {
		l = Discard()
	}
	return l.With(NamespaceKey, ns)
}

// ParseLevel accepts debug, info, warn/warning and error.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}

func newHandler(w io.Writer, format string, level slog.Level) (slog.Handler, error) {
	ho := &slog.HandlerOptions{Level: level}
	switch format {
	case "", "text":
		return slog.NewTextHandler(w, ho), nil
	case "json":
		return slog.NewJSONHandler(w, ho), nil
	}
	return nil, fmt.Errorf("unknown log format %q", format)
}

// filterHandler drops records below warn for suppressed namespaces. A
// suppressed entry matches its namespace and every dotted child of it.
type filterHandler struct {
	next      slog.Handler
	suppress  []string
	namespace string
}

func (h *filterHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if level < slog.LevelWarn && h.suppressed() {
		return false
	}
	return h.next.Enabled(ctx, level)
}

func (h *filterHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level < slog.LevelWarn && h.suppressed() {
		return nil
	}
	return h.next.Handle(ctx, r)
}

func (h *filterHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	ns := h.namespace
	for _, a := range attrs {
		if a.Key == NamespaceKey {
			ns = a.Value.String()
		}
	}
	return &filterHandler{next: h.next.WithAttrs(attrs), suppress: h.suppress, namespace: ns}
}

func (h *filterHandler) WithGroup(name string) slog.Handler {
	return &filterHandler{next: h.next.WithGroup(name), suppress: h.suppress, namespace: h.namespace}
}

func (h *filterHandler) suppressed() bool {
	if h.namespace == "" {
		return false
	}
	for _, s := range h.suppress {
		if h.namespace == s || strings.HasPrefix(h.namespace, s+".") {
			return true
		}
	}
	return false
}
