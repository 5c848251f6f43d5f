package rules

import (
	"fmt"
	"strings"

	"github.com/xxmjskxx/ComfyUI-SaveImageWithMetaDataUniversal-sub000/pkg/schema"
)

// Kind selects how a CaptureRule obtains its raw value.
type Kind int

const (
	KindValue Kind = iota + 1
	KindField
	KindFields
	KindPrefix
	KindSelector
)

func (k Kind) String() string {
	switch k {
	case KindValue:
		return "value"
	case KindField:
		return "field"
	case KindFields:
		return "fields"
	case KindPrefix:
		return "prefix"
	case KindSelector:
		return "selector"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// CaptureRule is a declarative extraction recipe for one field of one node
// class. Build rules with Value, Field, Fields, Prefix or Selector.
// Validate and Format hold capability ids; empty means none.
type CaptureRule struct {
	Kind     Kind
	Literal  any
	Names    []string
	Prefix   string
	Selector string

	Validate string
	Format   string
}

// Value returns a rule yielding a fixed literal. It ignores Validate and Format.
func Value(v any) CaptureRule {
	return CaptureRule{Kind: KindValue, Literal: v}
}

// Field returns a rule reading exactly one input.
func Field(name string) CaptureRule {
	return CaptureRule{Kind: KindField, Names: []string{name}}
}

// Fields returns a rule reading the first usable input among names, in order.
func Fields(names ...string) CaptureRule {
	return CaptureRule{Kind: KindFields, Names: append([]string(nil), names...)}
}

// Prefix returns a rule collecting every input whose name starts with p.
func Prefix(p string) CaptureRule {
	return CaptureRule{Kind: KindPrefix, Prefix: p}
}

// Selector returns a rule delegating to a registered selector capability.
func Selector(id string) CaptureRule {
	return CaptureRule{Kind: KindSelector, Selector: id}
}

// WithValidate attaches a validator capability id.
func (r CaptureRule) WithValidate(id string) CaptureRule {
	r.Validate = id
	return r
}

// WithFormat attaches a formatter capability id.
func (r CaptureRule) WithFormat(id string) CaptureRule {
	r.Format = id
	return r
}

// Simple reports whether the rule reads inputs directly (value, field or fields).
// Sampler enumeration only trusts simple rules for step counts.
func (r CaptureRule) Simple() bool {
	switch r.Kind {
	case KindValue, KindField, KindFields:
		return true
	}
	return false
}

// Check reports a malformed rule.
func (r CaptureRule) Check() error {
	switch r.Kind {
	case KindValue:
		return nil
	case KindField:
		if len(r.Names) != 1 || r.Names[0] == "" {
			return schema.NewError(schema.ErrCodeValidation, "field rule needs exactly one input name")
		}
	case KindFields:
		if len(r.Names) == 0 {
			return schema.NewError(schema.ErrCodeValidation, "fields rule needs at least one input name")
		}
		for _, n := range r.Names {
			if n == "" {
				return schema.NewError(schema.ErrCodeValidation, "fields rule has an empty input name")
			}
		}
	case KindPrefix:
		if r.Prefix == "" {
			return schema.NewError(schema.ErrCodeValidation, "prefix rule needs a prefix")
		}
	case KindSelector:
		if r.Selector == "" {
			return schema.NewError(schema.ErrCodeValidation, "selector rule needs a selector id")
		}
	default:
		return schema.NewErrorf(schema.ErrCodeValidation, "unknown rule kind %d", int(r.Kind))
	}
	return nil
}

func (r CaptureRule) String() string {
	var b strings.Builder
	switch r.Kind {
	case KindValue:
		fmt.Fprintf(&b, "value(%v)", r.Literal)
	case KindField, KindFields:
		fmt.Fprintf(&b, "%s(%s)", r.Kind, strings.Join(r.Names, ","))
	case KindPrefix:
		fmt.Fprintf(&b, "prefix(%s)", r.Prefix)
	case KindSelector:
		fmt.Fprintf(&b, "selector(%s)", r.Selector)
	default:
		b.WriteString(r.Kind.String())
	}
	if r.Validate != "" {
		fmt.Fprintf(&b, " validate=%s", r.Validate)
	}
	if r.Format != "" {
		fmt.Fprintf(&b, " format=%s", r.Format)
	}
	return b.String()
}

// ClassRules maps each field to the one rule capturing it for a node class.
type ClassRules map[schema.Field]CaptureRule

// Has reports whether a rule exists for f.
func (c ClassRules) Has(f schema.Field) bool {
	_, ok := c[f]
	return ok
}
