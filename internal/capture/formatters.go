package capture

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/xxmjskxx/ComfyUI-SaveImageWithMetaDataUniversal-sub000/internal/artifact"
	"github.com/xxmjskxx/ComfyUI-SaveImageWithMetaDataUniversal-sub000/internal/rules"
	"github.com/xxmjskxx/ComfyUI-SaveImageWithMetaDataUniversal-sub000/internal/trace"
	"github.com/xxmjskxx/ComfyUI-SaveImageWithMetaDataUniversal-sub000/pkg/schema"
)

// latentScale is the pixel size of one latent cell.
const latentScale = 8

func (b *builtins) hashOf(kind artifact.Kind) rules.FormatterFunc {
	return func(raw any, env *rules.Env) (any, error) {
		return b.displayHash(env.Context(), kind, raw), nil
	}
}

var embeddingPattern = regexp.MustCompile(`(?i)embedding:\s*([^\s,()\[\]<>|:]+)`)

// ParseEmbeddings returns the embedding names referenced as "embedding:name"
// in text, in order of first appearance.
func ParseEmbeddings(text string) []string {
	var names []string
	seen := make(map[string]bool)
	for _, m := range embeddingPattern.FindAllStringSubmatch(text, -1) {
		name := strings.TrimRight(m[1], ".")
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names
}

func embeddingsOf(raw any, env *rules.Env) []string {
	text, ok := raw.(string)
	if !ok {
		return nil
	}
	names, _ := env.Cache.GetOrCompute("embedding", env.NodeID, text, func() any {
		return ParseEmbeddings(text)
	}).([]string)
	return names
}

func (b *builtins) embeddingNames(raw any, env *rules.Env) (any, error) {
	names := embeddingsOf(raw, env)
	if len(names) == 0 {
		return nil, nil
	}
	out := make([]any, len(names))
	for i, n := range names {
		out[i] = b.displayName(env.Context(), artifact.KindEmbedding, n)
	}
	return out, nil
}

func (b *builtins) embeddingHashes(raw any, env *rules.Env) (any, error) {
	names := embeddingsOf(raw, env)
	if len(names) == 0 {
		return nil, nil
	}
	out := make([]any, len(names))
	for i, n := range names {
		out[i] = b.displayHash(env.Context(), artifact.KindEmbedding, n)
	}
	return out, nil
}

// clipSkipAbs turns CLIPSetLastLayer's negative layer index into a skip count.
func clipSkipAbs(raw any, _ *rules.Env) (any, error) {
	f, ok := ToFloat(raw)
	if !ok {
		return nil, fmt.Errorf("clip skip %v is not a number", raw)
	}
	return number(math.Abs(f)), nil
}

// latentToPixels reads the spatial size of a latent and returns the width or
// height in pixels, depending on the field being captured.
func latentToPixels(raw any, env *rules.Env) (any, error) {
	w, h, ok := latentSize(raw, 0)
	if !ok {
		return nil, nil
	}
	switch env.Field {
	case schema.FieldImageWidth:
		return w, nil
	case schema.FieldImageHeight:
		return h, nil
	}
	return nil, nil
}

// latentSize accepts {"samples": ...}, {"shape": [b, c, h, w]},
// {"width": w, "height": h} or a bare shape list.
func latentSize(v any, depth int) (int, int, bool) {
	if depth > 3 {
		return 0, 0, false
	}
	switch t := v.(type) {
	case map[string]any:
		if s, ok := t["samples"]; ok {
			return latentSize(s, depth+1)
		}
		if s, ok := t["shape"]; ok {
			return latentSize(s, depth+1)
		}
		w, wok := trace.ToInt(t["width"])
		h, hok := trace.ToInt(t["height"])
		return w, h, wok && hok
	case []any:
		if len(t) < 2 {
			return 0, 0, false
		}
		h, hok := trace.ToInt(t[len(t)-2])
		w, wok := trace.ToInt(t[len(t)-1])
		return w * latentScale, h * latentScale, hok && wok
	case []int:
		if len(t) < 2 {
			return 0, 0, false
		}
		return t[len(t)-1] * latentScale, t[len(t)-2] * latentScale, true
	}
	return 0, 0, false
}

// scaleToPixels multiplies an upscale factor by the size of the nearest
// upstream latent source, found through the node's samples input.
func (b *builtins) scaleToPixels(raw any, env *rules.Env) (any, error) {
	scale, ok := ToFloat(raw)
	if !ok {
		return nil, fmt.Errorf("scale %v is not a number", raw)
	}
	if env.Field != schema.FieldImageWidth && env.Field != schema.FieldImageHeight {
		return nil, nil
	}

	isSource := func(n *schema.Node) bool {
		rule, ok := b.Registry.Rule(n.ClassType, env.Field)
		return ok && rule.Simple() && rule.Format == ""
	}
	sources := trace.Reach(env.Prompt, env.NodeID, "samples", isSource)
	if len(sources) == 0 {
		return nil, nil
	}

	id := sources[0]
	data, ok := schema.ResolveInputs(env.Prompt, env.Outputs).InputData(id)
	if !ok {
		return nil, nil
	}
	rule, _ := b.Registry.Rule(env.Prompt.ClassOf(id), env.Field)
	v, ok := rules.ReadSimple(rule, data)
	if !ok {
		return nil, nil
	}
	base, ok := trace.ToInt(v)
	if !ok {
		return nil, nil
	}
	return int(math.Round(float64(base) * scale)), nil
}

// ToFloat converts a decoded JSON or host value to a float64.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

// number returns integral floats as int.
func number(f float64) any {
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return int(f)
	}
	return f
}
