// Package capture runs one metadata capture pass over a prompt graph: it
// applies the rule registry to every node, traces from the save node and the
// chosen sampler, and keeps the candidates each trace reaches.
package capture

import (
	"context"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"github.com/xxmjskxx/ComfyUI-SaveImageWithMetaDataUniversal-sub000/internal/logging"
	"github.com/xxmjskxx/ComfyUI-SaveImageWithMetaDataUniversal-sub000/internal/rules"
	"github.com/xxmjskxx/ComfyUI-SaveImageWithMetaDataUniversal-sub000/internal/trace"
	"github.com/xxmjskxx/ComfyUI-SaveImageWithMetaDataUniversal-sub000/pkg/schema"
)

// Pass is the input of one capture pass.
type Pass struct {
	Prompt     schema.Prompt
	SaveNodeID string

	// Inputs supplies resolved per-node inputs. Nil derives them from Prompt
	// and Outputs.
	Inputs    schema.InputSource
	Outputs   schema.Outputs
	ExtraData map[string]any

	Method        trace.Method // empty means farthest
	SamplerNodeID string       // used by trace.MethodByNodeID
	MaxSamplers   int          // <= 0 means no limit
}

// Entry is one captured value.
type Entry struct {
	NodeID   string `json:"node_id"`
	Value    any    `json:"value"`
	Distance int    `json:"distance"`
}

// Candidates holds captured entries per field, nearest first once filtered.
type Candidates map[schema.Field][]Entry

// First returns the nearest entry for f.
func (c Candidates) First(f schema.Field) (Entry, bool) {
	es := c[f]
	if len(es) == 0 {
		return Entry{}, false
	}
	return es[0], true
}

// Values returns the values captured for f in order.
func (c Candidates) Values(f schema.Field) []any {
	es := c[f]
	if len(es) == 0 {
		return nil
	}
	out := make([]any, len(es))
	for i, e := range es {
		out[i] = e.Value
	}
	return out
}

// Result is the outcome of a capture pass.
type Result struct {
	RunID      string
	SaveNodeID string
	SamplerID  string

	// BeforeSampler is bounded by the sampler's trace, or the save node's when
	// no sampler was found. BeforeSave is bounded by the save node's trace.
	BeforeSampler Candidates
	BeforeSave    Candidates

	Samplers []trace.SamplerCandidate

	// Tree is the trace BeforeSampler was filtered with; SaveTree the save node's.
	Tree     trace.Tree
	SaveTree trace.Tree
}

// HasSampler reports whether a sampler node was located.
func (r *Result) HasSampler() bool {
	return r.SamplerID != trace.NoSampler
}

// Engine runs capture passes. It is safe for concurrent use; each pass owns
// its RunCache.
type Engine struct {
	registry *rules.Registry
	caps     *rules.Capabilities
	tracer   *trace.Tracer
	logger   *slog.Logger
}

// NewEngine creates an Engine. A nil logger discards output.
func NewEngine(registry *rules.Registry, caps *rules.Capabilities, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Engine{
		registry: registry,
		caps:     caps,
		tracer:   trace.NewTracer(registry, logger),
		logger:   logger,
	}
}

// Tracer returns the engine's tracer.
func (e *Engine) Tracer() *trace.Tracer {
	return e.tracer
}

// Capture runs one pass. The only errors are malformed passes; every runtime
// problem degrades to an omitted value and a log line.
func (e *Engine) Capture(ctx context.Context, pass Pass) (*Result, error) {
	if len(pass.Prompt) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "prompt is empty")
	}
	if pass.SaveNodeID == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "save node id is empty")
	}
	method := pass.Method
	if method == "" {
		method = trace.MethodFarthest
	}
	inputs := pass.Inputs
	if inputs == nil {
		inputs = schema.ResolveInputs(pass.Prompt, pass.Outputs)
	}

	runID := uuid.NewString()
	ctx = logging.WithIDs(ctx, runID, pass.SaveNodeID)
	log := logging.LogWith(ctx, e.logger)

	all := e.collect(ctx, pass, inputs, rules.NewRunCache())

	saveTree := e.tracer.Trace(ctx, pass.SaveNodeID, pass.Prompt)
	samplerID := e.tracer.FindSamplerNodeID(ctx, saveTree, method, pass.SamplerNodeID)

	tree := saveTree
	if samplerID != trace.NoSampler {
		tree = e.tracer.Trace(ctx, samplerID, pass.Prompt)
	} else {
		log.WarnContext(ctx, "no sampler found, using save node context",
			slog.String("method", string(method)))
	}

	result := &Result{
		RunID:         runID,
		SaveNodeID:    pass.SaveNodeID,
		SamplerID:     samplerID,
		BeforeSampler: FilterByTrace(all, tree),
		BeforeSave:    FilterByTrace(all, saveTree),
		Samplers:      e.tracer.EnumerateSamplers(ctx, saveTree, inputs, pass.MaxSamplers),
		Tree:          tree,
		SaveTree:      saveTree,
	}
	log.DebugContext(ctx, "capture complete",
		slog.String("sampler_id", samplerID),
		slog.Int("fields", len(result.BeforeSampler)),
		slog.Int("samplers", len(result.Samplers)))
	return result, nil
}

// collect applies every matching rule to every node in the prompt, in node id
// order and field enumeration order.
func (e *Engine) collect(ctx context.Context, pass Pass, inputs schema.InputSource, cache *rules.RunCache) Candidates {
	out := make(Candidates)
	for _, id := range pass.Prompt.IDs() {
		node := pass.Prompt[id]
		if node == nil {
			continue
		}
		cr, ok := e.registry.Rules(node.ClassType)
		if !ok {
			continue
		}
		data, ok := inputs.InputData(id)
		if !ok {
			continue
		}

		nodeCtx := logging.WithNodeID(ctx, id)
		for _, f := range fieldsOf(cr) {
			env := &rules.Env{
				Ctx:       nodeCtx,
				NodeID:    id,
				Node:      node,
				Prompt:    pass.Prompt,
				ExtraData: pass.ExtraData,
				Outputs:   pass.Outputs,
				Inputs:    data,
				Field:     f,
				Cache:     cache,
				Logger:    e.logger,
			}
			for _, v := range rules.Apply(cr[f], env, e.caps) {
				out[f] = append(out[f], Entry{NodeID: id, Value: v})
			}
		}
	}
	return out
}

// FilterByTrace keeps entries whose node is in tree, sets their distance and
// sorts each field ascending by distance. The sort is stable, so entries from
// one node keep their order; ties across nodes go to the lower node id.
func FilterByTrace(candidates Candidates, tree trace.Tree) Candidates {
	out := make(Candidates, len(candidates))
	for f, entries := range candidates {
		var kept []Entry
		for _, en := range entries {
			te, ok := tree[en.NodeID]
			if !ok {
				continue
			}
			en.Distance = te.Distance
			kept = append(kept, en)
		}
		if len(kept) == 0 {
			continue
		}
		sort.SliceStable(kept, func(i, j int) bool {
			if kept[i].Distance != kept[j].Distance {
				return kept[i].Distance < kept[j].Distance
			}
			return schema.CompareNodeIDs(kept[i].NodeID, kept[j].NodeID) < 0
		})
		out[f] = kept
	}
	return out
}

func fieldsOf(cr rules.ClassRules) []schema.Field {
	fields := make([]schema.Field, 0, len(cr))
	for f := range cr {
		fields = append(fields, f)
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i] < fields[j] })
	return fields
}
