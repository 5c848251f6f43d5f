// Package render turns a capture result into the parameter dictionary and
// the canonical text block embedded in saved images.
package render

import (
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/xxmjskxx/ComfyUI-SaveImageWithMetaDataUniversal-sub000/internal/artifact"
	"github.com/xxmjskxx/ComfyUI-SaveImageWithMetaDataUniversal-sub000/internal/capture"
	"github.com/xxmjskxx/ComfyUI-SaveImageWithMetaDataUniversal-sub000/internal/rules"
	"github.com/xxmjskxx/ComfyUI-SaveImageWithMetaDataUniversal-sub000/internal/trace"
	"github.com/xxmjskxx/ComfyUI-SaveImageWithMetaDataUniversal-sub000/pkg/schema"
)

// Parameter keys in rendering order.
const (
	KeySteps     = "Steps"
	KeySampler   = "Sampler"
	KeyCFG       = "CFG scale"
	KeySeed      = "Seed"
	KeyClipSkip  = "Clip skip"
	KeySize      = "Size"
	KeyModel     = "Model"
	KeyModelHash = "Model hash"
	KeyVAE       = "VAE"
	KeyVAEHash   = "VAE hash"
	KeyDenoise   = "Denoise"
	KeyGuidance  = "Guidance"
	KeyShift     = "Shift"
)

// trimmedKeys survive trimmed rendering, together with every Lora_* key.
var trimmedKeys = map[string]bool{
	KeySteps: true, KeySampler: true, KeyCFG: true, KeySeed: true, KeySize: true,
	KeyModel: true, KeyModelHash: true, KeyVAE: true, KeyVAEHash: true,
	KeyClipSkip: true, KeyDenoise: true,
}

// Options control building and rendering.
type Options struct {
	// Version is written on the final line.
	Version string
	// Multiline writes one parameter per line instead of a comma-joined line.
	Multiline bool
	// Trimmed keeps only the allow-listed keys and drops optional sections.
	Trimmed bool
}

// LoraHash is one entry of the aggregated LoRA hash summary.
type LoraHash struct {
	Name string
	Hash string
}

// Parameters is the rendered-ready view of a capture result.
type Parameters struct {
	Positive string
	Negative string

	// Fields holds "key → display value" in rendering order.
	Fields *orderedmap.OrderedMap[string, string]
	// Hashes is the structured hash detail: model, vae, lora:<name>, embed:<name>.
	Hashes     *orderedmap.OrderedMap[string, string]
	LoraHashes []LoraHash

	// Samplers is set when more than one sampler was enumerated.
	Samplers []trace.SamplerCandidate
}

// Get returns the display value for key.
func (p *Parameters) Get(key string) (string, bool) {
	return p.Fields.Get(key)
}

// Keys returns the parameter keys in order.
func (p *Parameters) Keys() []string {
	keys := make([]string, 0, p.Fields.Len())
	for pair := p.Fields.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

// BuildParameters assembles the parameter dictionary. Prompts and sampler
// settings come from the sampler view; size falls back to the save view.
func BuildParameters(result *capture.Result, opts Options) *Parameters {
	p := &Parameters{
		Fields: orderedmap.New[string, string](),
		Hashes: orderedmap.New[string, string](),
	}
	if result == nil {
		return p
	}
	sv := result.BeforeSampler

	p.Positive = joinPrompts(sv.Values(schema.FieldPositivePrompt))
	p.Negative = joinPrompts(sv.Values(schema.FieldNegativePrompt))

	set := func(key string, v any) {
		if s := Display(v); s != "" {
			p.Fields.Set(key, s)
		}
	}
	first := func(c capture.Candidates, fs ...schema.Field) (any, bool) {
		for _, f := range fs {
			if e, ok := c.First(f); ok {
				return e.Value, true
			}
		}
		return nil, false
	}
	setFirst := func(key string, fs ...schema.Field) {
		if v, ok := first(sv, fs...); ok {
			set(key, v)
		}
	}

	setFirst(KeySteps, schema.FieldSteps)
	if name, ok := first(sv, schema.FieldSamplerName); ok {
		sampler := Display(name)
		if sched, ok := first(sv, schema.FieldScheduler); ok {
			sampler = rules.JoinSampler(sampler, Display(sched))
		}
		set(KeySampler, sampler)
	}
	setFirst(KeyCFG, schema.FieldCFG)
	setFirst(KeySeed, schema.FieldSeed)
	setFirst(KeyClipSkip, schema.FieldCLIPSkip)
	if size, ok := sizeOf(sv); ok {
		p.Fields.Set(KeySize, size)
	} else if size, ok := sizeOf(result.BeforeSave); ok {
		p.Fields.Set(KeySize, size)
	}

	if model, ok := first(sv, schema.FieldModelName, schema.FieldUNetName); ok {
		set(KeyModel, artifactName(model))
	}
	modelHash, hasModelHash := first(sv, schema.FieldModelHash, schema.FieldUNetHash)
	if hasModelHash {
		set(KeyModelHash, modelHash)
	}
	if vae, ok := first(sv, schema.FieldVAEName); ok {
		set(KeyVAE, artifactName(vae))
	}
	vaeHash, hasVAEHash := first(sv, schema.FieldVAEHash)
	if hasVAEHash {
		set(KeyVAEHash, vaeHash)
	}

	setFirst(KeyDenoise, schema.FieldDenoise)
	setFirst(KeyGuidance, schema.FieldGuidance)
	setFirst(KeyShift, schema.FieldShift)

	addHash(p.Hashes, "model", modelHash, hasModelHash)
	addHash(p.Hashes, "vae", vaeHash, hasVAEHash)

	for i, l := range loras(sv) {
		prefix := fmt.Sprintf("Lora_%d ", i)
		p.Fields.Set(prefix+"Model name", l.name)
		p.Fields.Set(prefix+"Model hash", l.hash)
		if l.strengthModel != "" {
			p.Fields.Set(prefix+"Strength model", l.strengthModel)
		}
		if l.strengthClip != "" {
			p.Fields.Set(prefix+"Strength clip", l.strengthClip)
		}
		addHash(p.Hashes, "lora:"+l.name, l.hash, true)
		if l.hash != artifact.NotAvailable {
			p.LoraHashes = append(p.LoraHashes, LoraHash{Name: l.name, Hash: l.hash})
		}
	}

	for i, emb := range embeddings(sv) {
		prefix := fmt.Sprintf("Embedding_%d ", i)
		p.Fields.Set(prefix+"name", emb.name)
		p.Fields.Set(prefix+"hash", emb.hash)
		addHash(p.Hashes, "embed:"+emb.name, emb.hash, true)
	}

	if len(result.Samplers) > 1 {
		p.Samplers = append([]trace.SamplerCandidate(nil), result.Samplers...)
	}

	if opts.Trimmed {
		trim(p)
	}
	return p
}

// trim drops everything outside the trimmed allow-list.
func trim(p *Parameters) {
	for _, key := range p.Keys() {
		if !trimmedKeys[key] && !strings.HasPrefix(key, "Lora_") {
			p.Fields.Delete(key)
		}
	}
	p.Hashes = orderedmap.New[string, string]()
	p.LoraHashes = nil
	p.Samplers = nil
}

func sizeOf(c capture.Candidates) (string, bool) {
	w, wok := c.First(schema.FieldImageWidth)
	h, hok := c.First(schema.FieldImageHeight)
	if !wok || !hok {
		return "", false
	}
	ws, hs := Display(w.Value), Display(h.Value)
	if ws == "" || hs == "" {
		return "", false
	}
	return ws + "x" + hs, true
}

func addHash(m *orderedmap.OrderedMap[string, string], key string, v any, ok bool) {
	if !ok {
		return
	}
	s := Display(v)
	if s == "" || s == artifact.NotAvailable {
		return
	}
	if _, exists := m.Get(key); !exists {
		m.Set(key, s)
	}
}

// joinPrompts joins the distinct prompt texts feeding one socket.
func joinPrompts(values []any) string {
	var parts []string
	seen := make(map[string]bool)
	for _, v := range values {
		s := strings.TrimSpace(Display(v))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		parts = append(parts, s)
	}
	return strings.Join(parts, ", ")
}

// artifactName shows an artifact token as its file stem.
func artifactName(v any) string {
	s, ok := v.(string)
	if !ok {
		return Display(v)
	}
	name := artifact.Stem(filepath.Base(filepath.FromSlash(strings.ReplaceAll(artifact.Sanitize(s), `\`, "/"))))
	if name == "." || name == "" {
		return artifact.NotAvailable
	}
	return name
}

type loraLine struct {
	name, hash                  string
	strengthModel, strengthClip string
}

// loras aligns the per-field LoRA entries by node and position, nearest node
// first. A name repeated by a later node is dropped.
func loras(c capture.Candidates) []loraLine {
	var out []loraLine
	seen := make(map[string]bool)
	pos := make(map[string]int)
	for _, e := range c[schema.FieldLoraModelName] {
		k := pos[e.NodeID]
		pos[e.NodeID]++

		name := artifactName(e.Value)
		if name == artifact.NotAvailable || seen[name] {
			continue
		}
		seen[name] = true

		l := loraLine{name: name, hash: artifact.NotAvailable}
		if v, ok := nth(c, schema.FieldLoraModelHash, e.NodeID, k); ok {
			l.hash = Display(v)
		}
		if v, ok := nth(c, schema.FieldLoraStrengthModel, e.NodeID, k); ok {
			l.strengthModel = Display(v)
		}
		if v, ok := nth(c, schema.FieldLoraStrengthClip, e.NodeID, k); ok {
			l.strengthClip = Display(v)
		}
		out = append(out, l)
	}
	return out
}

type embeddingLine struct {
	name, hash string
}

func embeddings(c capture.Candidates) []embeddingLine {
	var out []embeddingLine
	seen := make(map[string]bool)
	pos := make(map[string]int)
	for _, e := range c[schema.FieldEmbeddingName] {
		k := pos[e.NodeID]
		pos[e.NodeID]++

		name := Display(e.Value)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true

		l := embeddingLine{name: name, hash: artifact.NotAvailable}
		if v, ok := nth(c, schema.FieldEmbeddingHash, e.NodeID, k); ok {
			l.hash = Display(v)
		}
		out = append(out, l)
	}
	return out
}

// nth returns the k-th value node captured for f.
func nth(c capture.Candidates, f schema.Field, nodeID string, k int) (any, bool) {
	i := 0
	for _, e := range c[f] {
		if e.NodeID != nodeID {
			continue
		}
		if i == k {
			return e.Value, true
		}
		i++
	}
	return nil, false
}

// Display formats a captured value for the text block. Integral floats print
// without a fraction.
func Display(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1e15 {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return Display(float64(t))
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	}
	return fmt.Sprint(v)
}
