package logging

import (
	"context"
	"log/slog"
)

// Correlation ties a log record to one capture pass and, inside it, to the
// node being captured. Empty fields are not logged.
type Correlation struct {
	RunID      string
	SaveNodeID string
	NodeID     string
}

// Attrs returns the non-empty IDs as slog attributes.
func (c Correlation) Attrs() []slog.Attr {
	attrs := make([]slog.Attr, 0, 3)
	if c.RunID != "" {
		attrs = append(attrs, slog.String("run_id", c.RunID))
	}
	if c.SaveNodeID != "" {
		attrs = append(attrs, slog.String("save_node_id", c.SaveNodeID))
	}
	if c.NodeID != "" {
		attrs = append(attrs, slog.String("node_id", c.NodeID))
	}
	return attrs
}

type ctxKey struct{}

// FromContext returns the correlation stored on ctx, or the zero value.
func FromContext(ctx context.Context) Correlation {
	c, _ := ctx.Value(ctxKey{}).(Correlation)
	return c
}

// WithCorrelation replaces the correlation stored on ctx.
func WithCorrelation(ctx context.Context, c Correlation) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

func update(ctx context.Context, set func(*Correlation)) context.Context {
	c := FromContext(ctx)
	set(&c)
	return WithCorrelation(ctx, c)
}

// WithIDs starts a capture pass: it sets the run and save-node IDs and clears
// any node ID left from an enclosing pass.
func WithIDs(ctx context.Context, runID, saveNodeID string) context.Context {
	return WithCorrelation(ctx, Correlation{RunID: runID, SaveNodeID: saveNodeID})
}

// WithRunID sets the capture-pass run ID.
func WithRunID(ctx context.Context, id string) context.Context {
	return update(ctx, func(c *Correlation) { c.RunID = id })
}

// WithSaveNodeID sets the save node ID.
func WithSaveNodeID(ctx context.Context, id string) context.Context {
	return update(ctx, func(c *Correlation) { c.SaveNodeID = id })
}

// WithNodeID sets the node currently being captured.
func WithNodeID(ctx context.Context, id string) context.Context {
	return update(ctx, func(c *Correlation) { c.NodeID = id })
}

// RunID, SaveNodeID and NodeID read one ID from ctx, or "" if absent.
func RunID(ctx context.Context) string      { return FromContext(ctx).RunID }
func SaveNodeID(ctx context.Context) string { return FromContext(ctx).SaveNodeID }
func NodeID(ctx context.Context) string     { return FromContext(ctx).NodeID }

// LogWith returns logger enriched with the correlation IDs on ctx. Use it for
// loggers whose handler is not a CorrelationHandler.
func LogWith(ctx context.Context, logger *slog.Logger) *slog.Logger {
	attrs := FromContext(ctx).Attrs()
	if len(attrs) == 0 {
		return logger
	}
	args := make([]any, len(attrs))
	for i, a := range attrs {
		args[i] = a
	}
	return logger.With(args...)
}

// CorrelationHandler injects the correlation IDs from the record's context
// into every record, so logger.WarnContext(ctx, ...) needs no extra attributes.
type CorrelationHandler struct {
	inner slog.Handler
}

// NewCorrelationHandler wraps inner.
func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(FromContext(ctx).Attrs()...)
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}
