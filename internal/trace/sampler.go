package trace

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/xxmjskxx/ComfyUI-SaveImageWithMetaDataUniversal-sub000/internal/logging"
	"github.com/xxmjskxx/ComfyUI-SaveImageWithMetaDataUniversal-sub000/internal/rules"
	"github.com/xxmjskxx/ComfyUI-SaveImageWithMetaDataUniversal-sub000/pkg/schema"
)

// Method selects how FindSamplerNodeID picks among traced samplers.
type Method string

const (
	MethodFarthest Method = "farthest"
	MethodNearest  Method = "nearest"
	MethodByNodeID Method = "by_node_id"
)

// ParseMethod validates a sampler selection method name.
func ParseMethod(s string) (Method, error) {
	switch m := Method(strings.ToLower(strings.TrimSpace(s))); m {
	case MethodFarthest, MethodNearest, MethodByNodeID:
		return m, nil
	case "":
		return MethodFarthest, nil
	}
	return "", schema.NewErrorf(schema.ErrCodeValidation, "unknown sampler selection method %q", s)
}

// FindSamplerNodeID picks the sampler node from tree. For farthest and nearest
// it prefers explicit samplers, then heuristic ones. by_node_id accepts
// explicitID only when it was traced and is sampler-like. It returns NoSampler
// when nothing qualifies.
func (t *Tracer) FindSamplerNodeID(ctx context.Context, tree Tree, method Method, explicitID string) string {
	switch method {
	case MethodByNodeID:
		e, ok := tree[explicitID]
		if ok && t.registry.IsSamplerLike(e.ClassType) {
			return explicitID
		}
		return NoSampler
	case MethodFarthest, MethodNearest:
	default:
		logging.LogWith(ctx, t.logger).WarnContext(ctx, "unknown sampler selection method",
			slog.String("method", string(method)))
		return NoSampler
	}

	ordered := tree.Ordered(method == MethodFarthest)
	for _, id := range ordered {
		if t.registry.IsExplicitSampler(tree[id].ClassType) {
			return id
		}
	}
	for _, id := range ordered {
		if t.registry.IsHeuristicSampler(tree[id].ClassType) {
			return id
		}
	}
	return NoSampler
}

// Tier ranks how a sampler candidate was recognized.
type Tier string

const (
	// TierA is a class in the explicit sampler registry.
	TierA Tier = "A"
	// TierB is a class whose rules look like a sampler.
	TierB Tier = "B"
)

// SamplerCandidate is one sampler found in a trace. StartStep and EndStep are
// meaningful only for segments.
type SamplerCandidate struct {
	NodeID      string `json:"node_id"`
	Tier        Tier   `json:"tier"`
	ClassType   string `json:"class_type"`
	SamplerName string `json:"sampler_name,omitempty"`
	Steps       int    `json:"steps"`
	StartStep   int    `json:"start_step"`
	EndStep     int    `json:"end_step"`
	RangeLen    int    `json:"range_len"`
	IsSegment   bool   `json:"is_segment"`
	Distance    int    `json:"distance"`
}

// StepRange renders the inclusive step range of a segment, "start-last".
func (c SamplerCandidate) StepRange() string {
	last := c.EndStep - 1
	if last < c.StartStep {
		last = c.StartStep
	}
	return fmt.Sprintf("%d-%d", c.StartStep, last)
}

// EnumerateSamplers lists every sampler in tree. The first element is the
// primary sampler: tier A before tier B, then the largest (range, steps,
// distance). The rest follow by range descending, distance descending, node id
// ascending. maxMulti <= 0 means no limit.
func (t *Tracer) EnumerateSamplers(ctx context.Context, tree Tree, inputs schema.InputSource, maxMulti int) []SamplerCandidate {
	log := logging.LogWith(ctx, t.logger)

	var out []SamplerCandidate
	for _, id := range tree.Ordered(false) {
		e := tree[id]
		cr, _ := t.registry.Rules(e.ClassType)

		hasName := cr.Has(schema.FieldSamplerName)
		hasSteps := cr.Has(schema.FieldSteps)
		hasStart := cr.Has(schema.FieldStartStep)
		hasEnd := cr.Has(schema.FieldEndStep)

		var tier Tier
		switch {
		case t.registry.IsExplicitSampler(e.ClassType):
			tier = TierA
		case hasName && (hasSteps || (hasStart && hasEnd)):
			tier = TierB
		default:
			continue
		}

		var data schema.InputData
		if inputs != nil {
			data, _ = inputs.InputData(id)
		}

		c := SamplerCandidate{
			NodeID:      id,
			Tier:        tier,
			ClassType:   e.ClassType,
			SamplerName: samplerName(cr, data),
			Distance:    e.Distance,
		}
		c.Steps, _ = readInt(cr, schema.FieldSteps, data)

		if hasStart != hasEnd {
			log.WarnContext(ctx, "sampler defines only one of START_STEP and END_STEP",
				slog.String("node_id", id), slog.String("class_type", e.ClassType))
		}
		if hasStart && hasEnd {
			c.IsSegment = true
			c.StartStep, _ = readInt(cr, schema.FieldStartStep, data)
			end, ok := readInt(cr, schema.FieldEndStep, data)
			if !ok || (c.Steps > 0 && end > c.Steps) {
				end = c.Steps
			}
			if c.StartStep < 0 {
				c.StartStep = 0
			}
			c.EndStep = end
			c.RangeLen = max(end-c.StartStep, 0)
		} else {
			c.RangeLen = c.Steps
		}
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil
	}

	sortCandidates(out)
	if maxMulti > 0 && len(out) > maxMulti {
		out = out[:maxMulti]
	}
	return out
}

// sortCandidates moves the primary candidate to the front and orders the rest.
func sortCandidates(cs []SamplerCandidate) {
	best := 0
	for i := 1; i < len(cs); i++ {
		if betterPrimary(cs[i], cs[best]) {
			best = i
		}
	}
	cs[0], cs[best] = cs[best], cs[0]

	rest := cs[1:]
	sort.SliceStable(rest, func(i, j int) bool {
		a, b := rest[i], rest[j]
		if a.RangeLen != b.RangeLen {
			return a.RangeLen > b.RangeLen
		}
		if a.Distance != b.Distance {
			return a.Distance > b.Distance
		}
		return schema.CompareNodeIDs(a.NodeID, b.NodeID) < 0
	})
}

func betterPrimary(a, b SamplerCandidate) bool {
	if a.Tier != b.Tier {
		return a.Tier == TierA
	}
	if a.RangeLen != b.RangeLen {
		return a.RangeLen > b.RangeLen
	}
	if a.Steps != b.Steps {
		return a.Steps > b.Steps
	}
	if a.Distance != b.Distance {
		return a.Distance > b.Distance
	}
	return schema.CompareNodeIDs(a.NodeID, b.NodeID) < 0
}

// samplerName reads the sampler name through a simple rule, falling back to
// the conventional sampler_name input, and joins the scheduler the same way
// the parameter line does.
func samplerName(cr rules.ClassRules, data schema.InputData) string {
	name := readString(cr, schema.FieldSamplerName, "sampler_name", data)
	if name == "" {
		return ""
	}
	return rules.JoinSampler(name, readString(cr, schema.FieldScheduler, "scheduler", data))
}

func readString(cr rules.ClassRules, f schema.Field, input string, data schema.InputData) string {
	if rule, ok := cr[f]; ok && rule.Simple() {
		if v, ok := rules.ReadSimple(rule, data); ok && !schema.IsNone(v) {
			return fmt.Sprint(v)
		}
	}
	if v, ok := data.First(input); ok && !schema.IsNone(v) {
		return fmt.Sprint(v)
	}
	return ""
}

func readInt(cr rules.ClassRules, f schema.Field, data schema.InputData) (int, bool) {
	rule, ok := cr[f]
	if !ok || !rule.Simple() {
		return 0, false
	}
	v, ok := rules.ReadSimple(rule, data)
	if !ok {
		return 0, false
	}
	return ToInt(v)
}

// ToInt converts a decoded JSON or host value to an int.
func ToInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case int32:
		return int(n), true
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int(n), true
	case float32:
		return int(n), true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i), true
		}
		if f, err := n.Float64(); err == nil {
			return int(f), true
		}
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
			return i, true
		}
	}
	return 0, false
}
