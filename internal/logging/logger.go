package logging

import (
	"io"
	"log/slog"
	"strings"
	"sync"
)

// ParseLevel maps a config level name to an slog.Level. Unknown names map to info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds a text logger at the given level with correlation IDs injected.
func NewLogger(level string, w io.Writer) *slog.Logger {
	inner := slog.NewTextHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)})
	return slog.New(NewCorrelationHandler(inner))
}

// Discard returns a logger that drops everything. Used as the nil-logger default.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// Once remembers keys it has seen so a warning is emitted at most once per key.
// The zero value is ready to use.
type Once struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// First reports whether key is seen for the first time, recording it.
func (o *Once) First(key string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.seen == nil {
		o.seen = make(map[string]struct{})
	}
	if _, ok := o.seen[key]; ok {
		return false
	}
	o.seen[key] = struct{}{}
	return true
}

// Reset forgets every recorded key.
func (o *Once) Reset() {
	o.mu.Lock()
	o.seen = nil
	o.mu.Unlock()
}
