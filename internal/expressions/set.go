package expressions

import (
	"context"
	"strings"

	"github.com/xxmjskxx/ComfyUI-SaveImageWithMetaDataUniversal-sub000/pkg/schema"
)

// Set dispatches engine-prefixed references such as `cel:inputs.steps > 0.0`
// to the matching engine.
type Set struct {
	engines map[string]Engine
}

// NewSet creates a Set with the expr, cel and jq engines.
func NewSet() (*Set, error) {
	celEngine, err := NewCELEngine()
	if err != nil {
		return nil, err
	}
	return NewSetOf(NewExprEngine(), celEngine, NewGoJQEngine()), nil
}

// NewSetOf creates a Set from explicit engines, keyed by Name.
func NewSetOf(engines ...Engine) *Set {
	s := &Set{engines: make(map[string]Engine, len(engines))}
	for _, e := range engines {
		s.engines[e.Name()] = e
	}
	return s
}

// SplitRef splits "engine:expression". ok is false when ref carries no
// known-looking prefix.
func SplitRef(ref string) (engine, expression string, ok bool) {
	engine, expression, found := strings.Cut(ref, ":")
	if !found || engine == "" || strings.ContainsAny(engine, " .\t") {
		return "", "", false
	}
	return engine, strings.TrimSpace(expression), true
}

// Handles reports whether ref names an engine in the set.
func (s *Set) Handles(ref string) bool {
	engine, _, ok := SplitRef(ref)
	if !ok {
		return false
	}
	_, known := s.engines[engine]
	return known
}

// Evaluate runs ref against data.
func (s *Set) Evaluate(ctx context.Context, ref string, data map[string]any) (any, error) {
	name, expression, ok := SplitRef(ref)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeExpression, "%q is not an engine reference", ref)
	}
	engine, known := s.engines[name]
	if !known {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "unknown expression engine %q", name)
	}
	return engine.Evaluate(ctx, expression, data)
}
