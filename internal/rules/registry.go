package rules

import (
	"sort"
	"sync"

	"github.com/xxmjskxx/ComfyUI-SaveImageWithMetaDataUniversal-sub000/pkg/schema"
)

// Sampler socket roles.
const (
	SocketPositive = "positive"
	SocketNegative = "negative"
)

// SamplerSockets maps a prompt role to the sampler input carrying it.
type SamplerSockets map[string]string

type patternRules struct {
	criterion MatchCriterion
	rules     ClassRules
}

type patternSampler struct {
	criterion MatchCriterion
	sockets   SamplerSockets
}

// Registry holds capture rules per node class and the explicit sampler
// registry. Exact class entries take precedence over pattern entries, which
// are tried in registration order. It is safe for concurrent reads once built.
type Registry struct {
	mu sync.RWMutex

	exact    map[string]ClassRules
	patterns []patternRules

	samplers        map[string]SamplerSockets
	samplerPatterns []patternSampler

	// guiders route prompts to a sampler without being samplers themselves.
	guiders map[string]SamplerSockets
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		exact:    make(map[string]ClassRules),
		samplers: make(map[string]SamplerSockets),
		guiders:  make(map[string]SamplerSockets),
	}
}

// Add registers one rule. A second rule for the same (class, field) is a conflict.
func (r *Registry) Add(class string, field schema.Field, rule CaptureRule) error {
	if class == "" {
		return schema.NewError(schema.ErrCodeValidation, "class type is empty")
	}
	if !field.Valid() {
		return schema.NewErrorf(schema.ErrCodeValidation, "unknown field %d for class %q", int(field), class)
	}
	if err := rule.Check(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cr, ok := r.exact[class]
	if !ok {
		cr = make(ClassRules)
		r.exact[class] = cr
	}
	if _, exists := cr[field]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "rule for %s on class %q already registered", field, class)
	}
	cr[field] = rule
	return nil
}

// AddClass registers every rule in rules for class. It stops at the first error.
func (r *Registry) AddClass(class string, rules ClassRules) error {
	for _, f := range sortedFields(rules) {
		if err := r.Add(class, f, rules[f]); err != nil {
			return err
		}
	}
	return nil
}

// AddPattern registers rules for every class matching c that has no exact entry.
func (r *Registry) AddPattern(c MatchCriterion, rules ClassRules) error {
	if err := CheckCriterion(c); err != nil {
		return err
	}
	if len(rules) == 0 {
		return schema.NewErrorf(schema.ErrCodeValidation, "pattern %s has no rules", c)
	}
	copied := make(ClassRules, len(rules))
	for f, rule := range rules {
		if !f.Valid() {
			return schema.NewErrorf(schema.ErrCodeValidation, "unknown field %d for pattern %s", int(f), c)
		}
		if err := rule.Check(); err != nil {
			return err
		}
		copied[f] = rule
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.patterns = append(r.patterns, patternRules{criterion: c, rules: copied})
	return nil
}

// AddSampler marks class as an explicit sampler with the given prompt sockets.
func (r *Registry) AddSampler(class string, sockets SamplerSockets) error {
	if class == "" {
		return schema.NewError(schema.ErrCodeValidation, "sampler class type is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.samplers[class]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "sampler %q already registered", class)
	}
	r.samplers[class] = copySockets(sockets)
	return nil
}

// AddSamplerPattern marks every class matching c as an explicit sampler.
func (r *Registry) AddSamplerPattern(c MatchCriterion, sockets SamplerSockets) error {
	if err := CheckCriterion(c); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.samplerPatterns = append(r.samplerPatterns, patternSampler{criterion: c, sockets: copySockets(sockets)})
	return nil
}

// AddGuider registers a conditioning guider: a node that carries the prompt
// sockets for a sampler wired through it (CFGGuider and friends). Guiders take
// part in prompt-role tracing only.
func (r *Registry) AddGuider(class string, sockets SamplerSockets) error {
	if class == "" {
		return schema.NewError(schema.ErrCodeValidation, "guider class type is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.guiders[class]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "guider %q already registered", class)
	}
	r.guiders[class] = copySockets(sockets)
	return nil
}

// PromptSockets returns the prompt sockets of a sampler or guider class.
func (r *Registry) PromptSockets(class string) (SamplerSockets, bool) {
	if s, ok := r.Sockets(class); ok {
		return s, true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.guiders[class]
	return s, ok
}

// Rules returns the rule set for class: the exact entry, else the first
// matching pattern entry.
func (r *Registry) Rules(class string) (ClassRules, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if cr, ok := r.exact[class]; ok {
		return cr, true
	}
	for _, p := range r.patterns {
		if Matches(p.criterion, class) {
			return p.rules, true
		}
	}
	return nil, false
}

// Rule returns the rule for (class, field).
func (r *Registry) Rule(class string, field schema.Field) (CaptureRule, bool) {
	cr, ok := r.Rules(class)
	if !ok {
		return CaptureRule{}, false
	}
	rule, ok := cr[field]
	return rule, ok
}

// Sockets returns the prompt sockets of an explicit sampler class.
func (r *Registry) Sockets(class string) (SamplerSockets, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if s, ok := r.samplers[class]; ok {
		return s, true
	}
	for _, p := range r.samplerPatterns {
		if Matches(p.criterion, class) {
			return p.sockets, true
		}
	}
	return nil, false
}

// IsExplicitSampler reports whether class is in the sampler registry.
func (r *Registry) IsExplicitSampler(class string) bool {
	_, ok := r.Sockets(class)
	return ok
}

// IsHeuristicSampler reports whether class's rules look like a sampler:
// a SAMPLER_NAME rule, or both STEPS and CFG rules.
func (r *Registry) IsHeuristicSampler(class string) bool {
	cr, ok := r.Rules(class)
	if !ok {
		return false
	}
	return cr.Has(schema.FieldSamplerName) || (cr.Has(schema.FieldSteps) && cr.Has(schema.FieldCFG))
}

// IsSamplerLike reports whether class is an explicit or heuristic sampler.
func (r *Registry) IsSamplerLike(class string) bool {
	return r.IsExplicitSampler(class) || r.IsHeuristicSampler(class)
}

// IsPromptEncoder reports whether class has a positive or negative prompt rule.
func (r *Registry) IsPromptEncoder(class string) bool {
	cr, ok := r.Rules(class)
	if !ok {
		return false
	}
	return cr.Has(schema.FieldPositivePrompt) || cr.Has(schema.FieldNegativePrompt)
}

// Classes returns the exact class names with rules, sorted.
func (r *Registry) Classes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.exact))
	for c := range r.exact {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of exact classes plus pattern entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.exact) + len(r.patterns)
}

func copySockets(s SamplerSockets) SamplerSockets {
	out := make(SamplerSockets, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// sortedFields returns the fields of rules in enumeration order.
func sortedFields(rules ClassRules) []schema.Field {
	fields := make([]schema.Field, 0, len(rules))
	for f := range rules {
		fields = append(fields, f)
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i] < fields[j] })
	return fields
}
