package rules

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/xxmjskxx/ComfyUI-SaveImageWithMetaDataUniversal-sub000/internal/expressions"
	"github.com/xxmjskxx/ComfyUI-SaveImageWithMetaDataUniversal-sub000/internal/logging"
	"github.com/xxmjskxx/ComfyUI-SaveImageWithMetaDataUniversal-sub000/pkg/schema"
)

// Env is everything a capability may look at for one node during one pass.
type Env struct {
	Ctx       context.Context
	NodeID    string
	Node      *schema.Node
	Prompt    schema.Prompt
	ExtraData map[string]any
	Outputs   schema.Outputs
	Inputs    schema.InputData
	Field     schema.Field
	Cache     *RunCache
	Logger    *slog.Logger
}

// Context returns the pass context, never nil.
func (e *Env) Context() context.Context {
	if e.Ctx == nil {
		return context.Background()
	}
	return e.Ctx
}

// ClassType returns the node's class type.
func (e *Env) ClassType() string {
	if e.Node == nil {
		return e.Prompt.ClassOf(e.NodeID)
	}
	return e.Node.ClassType
}

func (e *Env) log() *slog.Logger {
	if e.Logger == nil {
		return logging.Discard()
	}
	return e.Logger
}

// ExpressionEnv is the variable map handed to expression-backed capabilities.
func (e *Env) ExpressionEnv(value any) map[string]any {
	return expressions.NewEnv(e.NodeID, e.ClassType(), e.Inputs.Map(), e.ExtraData, value)
}

// SelectorFunc returns the final value for a field. A []any result yields one
// entry per element; nil yields nothing.
type SelectorFunc func(env *Env) (any, error)

// ValidatorFunc reports whether the captured entry should be kept.
type ValidatorFunc func(env *Env) bool

// FormatterFunc transforms a raw captured value.
type FormatterFunc func(raw any, env *Env) (any, error)

// CapabilityKind names the three capability registries.
type CapabilityKind string

const (
	CapSelector  CapabilityKind = "selector"
	CapValidator CapabilityKind = "validator"
	CapFormatter CapabilityKind = "formatter"
)

// Capabilities holds selectors, validators and formatters keyed by stable
// string id. Ids with an engine prefix (expr:, cel:, jq:) resolve to
// expression-backed callables without registration.
type Capabilities struct {
	mu         sync.RWMutex
	selectors  map[string]SelectorFunc
	validators map[string]ValidatorFunc
	formatters map[string]FormatterFunc

	exprs *expressions.Set
}

// NewCapabilities creates an empty registry. exprs may be nil, which disables
// expression-backed ids.
func NewCapabilities(exprs *expressions.Set) *Capabilities {
	return &Capabilities{
		selectors:  make(map[string]SelectorFunc),
		validators: make(map[string]ValidatorFunc),
		formatters: make(map[string]FormatterFunc),
		exprs:      exprs,
	}
}

func (c *Capabilities) checkID(kind CapabilityKind, id string, nilFn bool) error {
	if id == "" {
		return schema.NewErrorf(schema.ErrCodeValidation, "%s id is empty", kind)
	}
	if nilFn {
		return schema.NewErrorf(schema.ErrCodeValidation, "%s %q is nil", kind, id)
	}
	if _, _, ok := expressions.SplitRef(id); ok {
		return schema.NewErrorf(schema.ErrCodeValidation, "%s id %q uses a reserved engine prefix", kind, id)
	}
	return nil
}

// RegisterSelector adds a selector. Returns a conflict error on duplicate id.
func (c *Capabilities) RegisterSelector(id string, fn SelectorFunc) error {
	if err := c.checkID(CapSelector, id, fn == nil); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.selectors[id]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "selector %q already registered", id)
	}
	c.selectors[id] = fn
	return nil
}

// RegisterValidator adds a validator. Returns a conflict error on duplicate id.
func (c *Capabilities) RegisterValidator(id string, fn ValidatorFunc) error {
	if err := c.checkID(CapValidator, id, fn == nil); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.validators[id]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "validator %q already registered", id)
	}
	c.validators[id] = fn
	return nil
}

// RegisterFormatter adds a formatter. Returns a conflict error on duplicate id.
func (c *Capabilities) RegisterFormatter(id string, fn FormatterFunc) error {
	if err := c.checkID(CapFormatter, id, fn == nil); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.formatters[id]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "formatter %q already registered", id)
	}
	c.formatters[id] = fn
	return nil
}

// Selector looks up a selector by id.
func (c *Capabilities) Selector(id string) (SelectorFunc, bool) {
	c.mu.RLock()
	fn, ok := c.selectors[id]
	c.mu.RUnlock()
	if ok {
		return fn, true
	}
	if !c.expressionID(id) {
		return nil, false
	}
	return func(env *Env) (any, error) {
		return c.exprs.Evaluate(env.Context(), id, env.ExpressionEnv(nil))
	}, true
}

// Validator looks up a validator by id. Expression validators pass only on a
// boolean true result; evaluation errors reject the entry.
func (c *Capabilities) Validator(id string) (ValidatorFunc, bool) {
	c.mu.RLock()
	fn, ok := c.validators[id]
	c.mu.RUnlock()
	if ok {
		return fn, true
	}
	if !c.expressionID(id) {
		return nil, false
	}
	return func(env *Env) bool {
		out, err := c.exprs.Evaluate(env.Context(), id, env.ExpressionEnv(nil))
		if err != nil {
			env.log().WarnContext(env.Context(), "validator expression failed",
				slog.String("id", id), slog.String("error", err.Error()))
			return false
		}
		keep, _ := out.(bool)
		return keep
	}, true
}

// Formatter looks up a formatter by id. Expression formatters see the raw
// value as `value`.
func (c *Capabilities) Formatter(id string) (FormatterFunc, bool) {
	c.mu.RLock()
	fn, ok := c.formatters[id]
	c.mu.RUnlock()
	if ok {
		return fn, true
	}
	if !c.expressionID(id) {
		return nil, false
	}
	return func(raw any, env *Env) (any, error) {
		return c.exprs.Evaluate(env.Context(), id, env.ExpressionEnv(raw))
	}, true
}

// Has reports whether id resolves for kind.
func (c *Capabilities) Has(kind CapabilityKind, id string) bool {
	switch kind {
	case CapSelector:
		_, ok := c.Selector(id)
		return ok
	case CapValidator:
		_, ok := c.Validator(id)
		return ok
	case CapFormatter:
		_, ok := c.Formatter(id)
		return ok
	}
	return false
}

// List returns the registered ids of kind, sorted. Expression ids are not listed.
func (c *Capabilities) List(kind CapabilityKind) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var ids []string
	switch kind {
	case CapSelector:
		for id := range c.selectors {
			ids = append(ids, id)
		}
	case CapValidator:
		for id := range c.validators {
			ids = append(ids, id)
		}
	case CapFormatter:
		for id := range c.formatters {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (c *Capabilities) expressionID(id string) bool {
	return c.exprs != nil && c.exprs.Handles(id)
}
