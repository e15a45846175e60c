package secrets

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"sync"
)

// Placeholder replaces redacted values.
const Placeholder = "***REDACTED***"

// Redactor is a slog.Handler that scrubs registered secret values from
// messages and string attributes before passing records on.
type Redactor struct {
	inner slog.Handler
	set   *secretSet
}

type secretSet struct {
	mu       sync.RWMutex
	values   []string
	replacer *strings.Replacer
}

// NewRedactor wraps inner.
func NewRedactor(inner slog.Handler) *Redactor {
	return &Redactor{inner: inner, set: &secretSet{}}
}

// Add registers a value to redact. Empty values are ignored.
func (r *Redactor) Add(value string) {
	if value == "" {
		return
	}
	s := r.set
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.values {
		if v == value {
			return
		}
	}
	s.values = append(s.values, value)
	pairs := make([]string, 0, 2*len(s.values))
	for _, v := range s.values {
		pairs = append(pairs, v, Placeholder)
	}
	s.replacer = strings.NewReplacer(pairs...)
}

// AddDSN registers a connection string and, when it is a URL, its password.
func (r *Redactor) AddDSN(dsn string) {
	r.Add(dsn)
	if u, err := url.Parse(dsn); err == nil && u.User != nil {
		if pw, ok := u.User.Password(); ok {
			r.Add(pw)
		}
	}
}

// Redact returns s with every registered value replaced.
func (r *Redactor) Redact(s string) string {
	r.set.mu.RLock()
	rep := r.set.replacer
	r.set.mu.RUnlock()
	if rep == nil {
		return s
	}
	return rep.Replace(s)
}

// Enabled implements slog.Handler.
func (r *Redactor) Enabled(ctx context.Context, level slog.Level) bool {
	return r.inner.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (r *Redactor) Handle(ctx context.Context, record slog.Record) error {
	out := slog.NewRecord(record.Time, record.Level, r.Redact(record.Message), record.PC)
	record.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(r.redactAttr(a))
		return true
	})
	return r.inner.Handle(ctx, out)
}

// WithAttrs implements slog.Handler. Attributes bound here are redacted
// against the values registered so far.
func (r *Redactor) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		redacted[i] = r.redactAttr(a)
	}
	return &Redactor{inner: r.inner.WithAttrs(redacted), set: r.set}
}

// WithGroup implements slog.Handler.
func (r *Redactor) WithGroup(name string) slog.Handler {
	return &Redactor{inner: r.inner.WithGroup(name), set: r.set}
}

func (r *Redactor) redactAttr(a slog.Attr) slog.Attr {
	a.Value = a.Value.Resolve()
	switch a.Value.Kind() {
	case slog.KindString:
		return slog.String(a.Key, r.Redact(a.Value.String()))
	case slog.KindGroup:
		group := a.Value.Group()
		out := make([]slog.Attr, len(group))
		for i, g := range group {
			out[i] = r.redactAttr(g)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(out...)}
	case slog.KindAny:
		if err, ok := a.Value.Any().(error); ok {
			return slog.String(a.Key, r.Redact(err.Error()))
		}
	}
	return a
}
