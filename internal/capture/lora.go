package capture

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/xxmjskxx/ComfyUI-SaveImageWithMetaDataUniversal-sub000/internal/artifact"
	"github.com/xxmjskxx/ComfyUI-SaveImageWithMetaDataUniversal-sub000/internal/rules"
	"github.com/xxmjskxx/ComfyUI-SaveImageWithMetaDataUniversal-sub000/internal/trace"
	"github.com/xxmjskxx/ComfyUI-SaveImageWithMetaDataUniversal-sub000/pkg/schema"
)

// maxStackSlots bounds indexed widget scanning.
const maxStackSlots = 64

// LoraEntry is one LoRA applied by a stack or an inline tag.
type LoraEntry struct {
	Name          string
	StrengthModel float64
	StrengthClip  float64
}

// stack returns the LoRA entries of a stacker node, parsed once per pass.
func stack(env *rules.Env) []LoraEntry {
	entries, _ := env.Cache.GetOrCompute("lora_stack", env.NodeID, fmt.Sprint(env.Inputs), func() any {
		if es, ok := upstreamStack(env); ok {
			return es
		}
		return ParseStackWidgets(env.Inputs)
	}).([]LoraEntry)
	return entries
}

// upstreamStack reads the output of a stacker wired into the lora_stack input.
func upstreamStack(env *rules.Env) ([]LoraEntry, bool) {
	if v, ok := env.Inputs.First("lora_stack"); ok {
		if es, ok := ParseStackOutput(v); ok {
			return es, true
		}
	}
	if env.Node == nil {
		return nil, false
	}
	link, ok := env.Node.LinkFor("lora_stack")
	if !ok {
		return nil, false
	}
	v, ok := env.Outputs.Slot(*link)
	if !ok {
		return nil, false
	}
	return ParseStackOutput(v)
}

// ParseStackOutput decodes a stacker output: a list of
// [name, model_strength, clip_strength] tuples.
func ParseStackOutput(v any) ([]LoraEntry, bool) {
	items, ok := v.([]any)
	if !ok {
		return nil, false
	}
	var out []LoraEntry
	for _, item := range items {
		tuple, ok := item.([]any)
		if !ok || len(tuple) == 0 || schema.IsNone(tuple[0]) {
			continue
		}
		e := LoraEntry{Name: fmt.Sprint(tuple[0]), StrengthModel: 1, StrengthClip: 1}
		if len(tuple) > 1 {
			if f, ok := ToFloat(tuple[1]); ok {
				e.StrengthModel, e.StrengthClip = f, f
			}
		}
		if len(tuple) > 2 {
			if f, ok := ToFloat(tuple[2]); ok {
				e.StrengthClip = f
			}
		}
		out = append(out, e)
	}
	return out, true
}

// ParseStackWidgets reads lora_name_N widgets with their strengths. lora_count
// bounds the scan when present; otherwise it stops at the first missing index.
// Entries switched off, empty or "None" are skipped.
func ParseStackWidgets(data schema.InputData) []LoraEntry {
	count, bounded := 0, false
	if v, ok := data.First("lora_count"); ok {
		count, bounded = trace.ToInt(v)
	}
	if !bounded || count > maxStackSlots {
		count = maxStackSlots
	}

	modelKeys := []string{"model_str_%d", "model_weight_%d", "lora_wt_%d"}
	clipKeys := []string{"clip_str_%d", "clip_weight_%d", "lora_wt_%d"}
	if mode, ok := data.First("input_mode"); ok && fmt.Sprint(mode) == "simple" {
		modelKeys = []string{"lora_wt_%d", "model_str_%d", "model_weight_%d"}
		clipKeys = []string{"lora_wt_%d", "clip_str_%d", "clip_weight_%d"}
	}

	var out []LoraEntry
	for i := 1; i <= count; i++ {
		name, ok := data.First(fmt.Sprintf("lora_name_%d", i))
		if !ok {
			if bounded {
				continue
			}
			break
		}
		if schema.IsNone(name) || switchedOff(data, i) {
			continue
		}
		out = append(out, LoraEntry{
			Name:          fmt.Sprint(name),
			StrengthModel: firstFloat(data, modelKeys, i),
			StrengthClip:  firstFloat(data, clipKeys, i),
		})
	}
	return out
}

func switchedOff(data schema.InputData, i int) bool {
	v, ok := data.First(fmt.Sprintf("switch_%d", i))
	if !ok {
		return false
	}
	switch t := v.(type) {
	case bool:
		return !t
	case string:
		return strings.EqualFold(t, "off")
	}
	return false
}

func firstFloat(data schema.InputData, keys []string, i int) float64 {
	for _, k := range keys {
		if v, ok := data.First(fmt.Sprintf(k, i)); ok {
			if f, ok := ToFloat(v); ok {
				return f
			}
		}
	}
	return 1
}

var loraTagPattern = regexp.MustCompile(`<lora:([^:<>]+):([^:<>]+)(?::([^:<>]+))?>`)

// ParseLoraTags extracts <lora:name:weight[:clip_weight]> tags from text.
func ParseLoraTags(text string) []LoraEntry {
	var out []LoraEntry
	for _, m := range loraTagPattern.FindAllStringSubmatch(text, -1) {
		name := strings.TrimSpace(m[1])
		if name == "" {
			continue
		}
		e := LoraEntry{Name: name, StrengthModel: 1}
		if f, ok := ToFloat(m[2]); ok {
			e.StrengthModel = f
		}
		e.StrengthClip = e.StrengthModel
		if m[3] != "" {
			if f, ok := ToFloat(m[3]); ok {
				e.StrengthClip = f
			}
		}
		out = append(out, e)
	}
	return out
}

func inline(env *rules.Env) []LoraEntry {
	v, ok := env.Inputs.First("text")
	if !ok {
		return nil
	}
	text, ok := v.(string)
	if !ok {
		return nil
	}
	entries, _ := env.Cache.GetOrCompute("inline_lora", env.NodeID, text, func() any {
		return ParseLoraTags(text)
	}).([]LoraEntry)
	return entries
}

func (b *builtins) names(env *rules.Env, entries []LoraEntry) (any, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	out := make([]any, len(entries))
	for i, e := range entries {
		out[i] = b.displayName(env.Context(), artifact.KindLoRA, e.Name)
	}
	return out, nil
}

func (b *builtins) hashes(env *rules.Env, entries []LoraEntry) (any, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	out := make([]any, len(entries))
	for i, e := range entries {
		out[i] = b.displayHash(env.Context(), artifact.KindLoRA, e.Name)
	}
	return out, nil
}

func strengths(entries []LoraEntry, clip bool) (any, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	out := make([]any, len(entries))
	for i, e := range entries {
		if clip {
			out[i] = e.StrengthClip
		} else {
			out[i] = e.StrengthModel
		}
	}
	return out, nil
}

func (b *builtins) stackNames(env *rules.Env) (any, error) { return b.names(env, stack(env)) }
func (b *builtins) stackHashes(env *rules.Env) (any, error) { return b.hashes(env, stack(env)) }
func stackStrengthModel(env *rules.Env) (any, error) { return strengths(stack(env), false) }
func stackStrengthClip(env *rules.Env) (any, error) { return strengths(stack(env), true) }

func (b *builtins) inlineNames(env *rules.Env) (any, error) { return b.names(env, inline(env)) }
func (b *builtins) inlineHashes(env *rules.Env) (any, error) { return b.hashes(env, inline(env)) }
func inlineStrengthModel(env *rules.Env) (any, error) { return strengths(inline(env), false) }
func inlineStrengthClip(env *rules.Env) (any, error) { return strengths(inline(env), true) }
