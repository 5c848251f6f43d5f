package rules

import (
	"log/slog"
	"strings"

	"github.com/xxmjskxx/ComfyUI-SaveImageWithMetaDataUniversal-sub000/pkg/schema"
)

// Apply resolves rule against the node described by env and returns the
// captured values, or nil when the rule yields nothing.
//
// A literal value short-circuits everything. Other kinds obtain a raw value,
// then run the validator (which may drop the entry) and the formatter (applied
// to each value; a list result yields one value per element). A missing
// capability id logs a warning and drops the entry.
func Apply(rule CaptureRule, env *Env, caps *Capabilities) []any {
	if rule.Kind == KindValue {
		return []any{rule.Literal}
	}

	values := raw(rule, env, caps)
	if len(values) == 0 {
		return nil
	}

	if rule.Validate != "" {
		validate, ok := lookupValidator(caps, rule.Validate)
		if !ok {
			missingCapability(env, CapValidator, rule.Validate)
			return nil
		}
		if !validate(env) {
			return nil
		}
	}

	if rule.Format == "" {
		return values
	}
	format, ok := lookupFormatter(caps, rule.Format)
	if !ok {
		missingCapability(env, CapFormatter, rule.Format)
		return nil
	}
	out := make([]any, 0, len(values))
	for _, v := range values {
		fv, err := format(v, env)
		if err != nil {
			env.log().WarnContext(env.Context(), "formatter failed",
				slog.String("formatter", rule.Format),
				slog.String("field", env.Field.String()),
				slog.String("error", err.Error()))
			continue
		}
		out = append(out, flatten(fv)...)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// ReadSimple evaluates a value, field or fields rule against inputs alone.
// Capabilities are not consulted.
func ReadSimple(rule CaptureRule, inputs schema.InputData) (any, bool) {
	switch rule.Kind {
	case KindValue:
		return rule.Literal, true
	case KindField, KindFields:
		vals := readNamed(rule, inputs)
		if len(vals) == 0 {
			return nil, false
		}
		return vals[0], true
	}
	return nil, false
}

func raw(rule CaptureRule, env *Env, caps *Capabilities) []any {
	switch rule.Kind {
	case KindField, KindFields:
		return readNamed(rule, env.Inputs)
	case KindPrefix:
		var out []any
		for _, in := range env.Inputs {
			if !strings.HasPrefix(in.Name, rule.Prefix) || len(in.Values) == 0 {
				continue
			}
			if schema.IsNone(in.Values[0]) {
				continue
			}
			out = append(out, in.Values[0])
		}
		return out
	case KindSelector:
		sel, ok := lookupSelector(caps, rule.Selector)
		if !ok {
			missingCapability(env, CapSelector, rule.Selector)
			return nil
		}
		v, err := sel(env)
		if err != nil {
			env.log().WarnContext(env.Context(), "selector failed",
				slog.String("selector", rule.Selector),
				slog.String("field", env.Field.String()),
				slog.String("error", err.Error()))
			return nil
		}
		return flatten(v)
	}
	return nil
}

func readNamed(rule CaptureRule, inputs schema.InputData) []any {
	if rule.Kind == KindField {
		v, ok := inputs.First(rule.Names[0])
		if !ok || v == nil {
			return nil
		}
		return []any{v}
	}
	for _, name := range rule.Names {
		v, ok := inputs.First(name)
		if ok && !schema.IsNone(v) {
			return []any{v}
		}
	}
	return nil
}

func flatten(v any) []any {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		out := make([]any, 0, len(t))
		for _, e := range t {
			if e != nil {
				out = append(out, e)
			}
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	}
	return []any{v}
}

func lookupSelector(caps *Capabilities, id string) (SelectorFunc, bool) {
	if caps == nil {
		return nil, false
	}
	return caps.Selector(id)
}

func lookupValidator(caps *Capabilities, id string) (ValidatorFunc, bool) {
	if caps == nil {
		return nil, false
	}
	return caps.Validator(id)
}

func lookupFormatter(caps *Capabilities, id string) (FormatterFunc, bool) {
	if caps == nil {
		return nil, false
	}
	return caps.Formatter(id)
}

func missingCapability(env *Env, kind CapabilityKind, id string) {
	if !env.Cache.WarnOnce(string(kind) + ":" + id) {
		return
	}
	env.log().WarnContext(env.Context(), "capability not registered",
		slog.String("kind", string(kind)),
		slog.String("id", id),
		slog.String("class_type", env.ClassType()))
}
