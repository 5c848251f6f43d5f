package capture

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xxmjskxx/ComfyUI-SaveImageWithMetaDataUniversal-sub000/internal/artifact"
	"github.com/xxmjskxx/ComfyUI-SaveImageWithMetaDataUniversal-sub000/internal/expressions"
	"github.com/xxmjskxx/ComfyUI-SaveImageWithMetaDataUniversal-sub000/internal/rules"
	"github.com/xxmjskxx/ComfyUI-SaveImageWithMetaDataUniversal-sub000/internal/trace"
	"github.com/xxmjskxx/ComfyUI-SaveImageWithMetaDataUniversal-sub000/pkg/schema"
)

const ksamplerPrompt = `{
  "0": {"class_type": "SaveImage", "inputs": {"images": ["1", 0]}},
  "1": {"class_type": "KSampler", "inputs": {
    "seed": 42, "steps": 28, "cfg": 6.5, "sampler_name": "euler", "scheduler": "karras",
    "denoise": 1.0, "model": ["4", 0], "positive": ["2", 0], "negative": ["3", 0]
  }},
  "2": {"class_type": "CLIPTextEncode", "inputs": {"text": "cat", "clip": ["4", 1]}},
  "3": {"class_type": "CLIPTextEncode", "inputs": {"text": "ugly", "clip": ["4", 1]}},
  "4": {"class_type": "CheckpointLoaderSimple", "inputs": {"ckpt_name": "sd15.safetensors"}}
}`

// --- helpers ---

func mustPrompt(t *testing.T, doc string) schema.Prompt {
	t.Helper()
	p, err := schema.ParsePrompt([]byte(doc))
	require.NoError(t, err)
	return p
}

func newEngine(t *testing.T, svc *artifact.Service) *Engine {
	t.Helper()
	reg := rules.Defaults()
	set, err := expressions.NewSet()
	require.NoError(t, err)
	caps := rules.NewCapabilities(set)
	require.NoError(t, RegisterBuiltins(caps, Deps{Registry: reg, Artifacts: svc}))
	return NewEngine(reg, caps, nil)
}

func capture(t *testing.T, e *Engine, pass Pass) *Result {
	t.Helper()
	res, err := e.Capture(context.Background(), pass)
	require.NoError(t, err)
	return res
}

func firstValue(t *testing.T, c Candidates, f schema.Field) any {
	t.Helper()
	e, ok := c.First(f)
	require.True(t, ok, "no entry for %s", f)
	return e.Value
}

// --- engine ---

func TestCapture_KSamplerScenario(t *testing.T) {
	res := capture(t, newEngine(t, nil), Pass{Prompt: mustPrompt(t, ksamplerPrompt), SaveNodeID: "0"})

	assert.Equal(t, "1", res.SamplerID)
	assert.True(t, res.HasSampler())
	_, err := uuid.Parse(res.RunID)
	assert.NoError(t, err)

	c := res.BeforeSampler
	assert.Equal(t, "cat", firstValue(t, c, schema.FieldPositivePrompt))
	assert.Equal(t, "ugly", firstValue(t, c, schema.FieldNegativePrompt))
	assert.Equal(t, 28.0, firstValue(t, c, schema.FieldSteps))
	assert.Equal(t, 6.5, firstValue(t, c, schema.FieldCFG))
	assert.Equal(t, "euler_karras", firstValue(t, c, schema.FieldSamplerName))
	assert.Equal(t, 42.0, firstValue(t, c, schema.FieldSeed))
	assert.Equal(t, "sd15.safetensors", firstValue(t, c, schema.FieldModelName))
	assert.Equal(t, artifact.NotAvailable, firstValue(t, c, schema.FieldModelHash))

	// Each prompt role keeps only the encoder wired to its socket.
	assert.Len(t, c[schema.FieldPositivePrompt], 1)
	assert.Len(t, c[schema.FieldNegativePrompt], 1)
	assert.Empty(t, c[schema.FieldEmbeddingName])

	require.Len(t, res.Samplers, 1)
	assert.Equal(t, "1", res.Samplers[0].NodeID)
	assert.Equal(t, 28, res.Samplers[0].Steps)
}

const efficientPrompt = `{
  "0": {"class_type": "SaveImage", "inputs": {"images": ["1", 0]}},
  "1": {"class_type": "KSampler (Efficient)", "inputs": {
    "seed": 7, "steps": 25, "cfg": 5.5, "sampler_name": "dpmpp_2m", "scheduler": "karras", "denoise": 1.0,
    "model": ["2", 0], "positive": ["2", 1], "negative": ["2", 2], "latent_image": ["2", 3]
  }},
  "2": {"class_type": "Efficient Loader", "inputs": {
    "ckpt_name": "sdxl.safetensors", "vae_name": "%s", "clip_skip": -2,
    "lora_name": "%s", "lora_model_strength": 0.7, "lora_clip_strength": 0.5,
    "positive": "a castle", "negative": "lowres",
    "empty_latent_width": 832, "empty_latent_height": 1216, "batch_size": 1
  }}
}`

func TestCapture_EfficientLoader(t *testing.T) {
	e := newEngine(t, nil)

	t.Run("baked vae and no lora", func(t *testing.T) {
		doc := fmt.Sprintf(efficientPrompt, "Baked VAE", "None")
		res := capture(t, e, Pass{Prompt: mustPrompt(t, doc), SaveNodeID: "0"})
		require.Equal(t, "1", res.SamplerID)

		c := res.BeforeSampler
		assert.Equal(t, 25.0, firstValue(t, c, schema.FieldSteps))
		assert.Equal(t, "dpmpp_2m_karras", firstValue(t, c, schema.FieldSamplerName))
		assert.Equal(t, "a castle", firstValue(t, c, schema.FieldPositivePrompt))
		assert.Equal(t, "lowres", firstValue(t, c, schema.FieldNegativePrompt))
		assert.Equal(t, "sdxl.safetensors", firstValue(t, c, schema.FieldModelName))
		assert.Equal(t, 832.0, firstValue(t, c, schema.FieldImageWidth))
		// expr formatter
		assert.Equal(t, 2.0, firstValue(t, c, schema.FieldCLIPSkip))
		// jq selector yields nothing for the baked VAE.
		assert.Empty(t, c[schema.FieldVAEName])
		assert.Empty(t, c[schema.FieldVAEHash])
		// cel validator rejects the "None" LoRA.
		assert.Empty(t, c[schema.FieldLoraModelName])
		assert.Empty(t, c[schema.FieldLoraStrengthModel])
	})

	t.Run("explicit vae and lora", func(t *testing.T) {
		doc := fmt.Sprintf(efficientPrompt, "sdxl_vae.safetensors", "detail.safetensors")
		res := capture(t, e, Pass{Prompt: mustPrompt(t, doc), SaveNodeID: "0"})

		c := res.BeforeSampler
		assert.Equal(t, "sdxl_vae.safetensors", firstValue(t, c, schema.FieldVAEName))
		assert.Equal(t, artifact.NotAvailable, firstValue(t, c, schema.FieldVAEHash))
		assert.Equal(t, "detail.safetensors", firstValue(t, c, schema.FieldLoraModelName))
		assert.Equal(t, 0.7, firstValue(t, c, schema.FieldLoraStrengthModel))
		assert.Equal(t, 0.5, firstValue(t, c, schema.FieldLoraStrengthClip))
	})
}

func TestCapture_Distances(t *testing.T) {
	res := capture(t, newEngine(t, nil), Pass{Prompt: mustPrompt(t, ksamplerPrompt), SaveNodeID: "0"})

	steps, _ := res.BeforeSampler.First(schema.FieldSteps)
	assert.Equal(t, Entry{NodeID: "1", Value: 28.0, Distance: 0}, steps)

	steps, _ = res.BeforeSave.First(schema.FieldSteps)
	assert.Equal(t, 1, steps.Distance)
}

func TestCapture_NoSamplerFallsBackToSaveContext(t *testing.T) {
	p := mustPrompt(t, `{
	  "0": {"class_type": "SaveImage", "inputs": {"images": ["5", 0]}},
	  "5": {"class_type": "EmptyLatentImage", "inputs": {"width": 640, "height": 480, "batch_size": 1}},
	  "9": {"class_type": "KSampler", "inputs": {"steps": 10}}
	}`)
	res := capture(t, newEngine(t, nil), Pass{Prompt: p, SaveNodeID: "0"})

	assert.Equal(t, trace.NoSampler, res.SamplerID)
	assert.False(t, res.HasSampler())
	assert.Equal(t, 640.0, firstValue(t, res.BeforeSampler, schema.FieldImageWidth))
	// Steps come from a node outside every trace.
	assert.Empty(t, res.BeforeSampler[schema.FieldSteps])
	assert.Nil(t, res.Samplers)
}

func TestCapture_ByNodeID(t *testing.T) {
	p := mustPrompt(t, ksamplerPrompt)
	e := newEngine(t, nil)

	res := capture(t, e, Pass{Prompt: p, SaveNodeID: "0", Method: trace.MethodByNodeID, SamplerNodeID: "1"})
	assert.Equal(t, "1", res.SamplerID)

	res = capture(t, e, Pass{Prompt: p, SaveNodeID: "0", Method: trace.MethodByNodeID, SamplerNodeID: "2"})
	assert.Equal(t, trace.NoSampler, res.SamplerID)
}

func TestCapture_InvalidPass(t *testing.T) {
	e := newEngine(t, nil)

	_, err := e.Capture(context.Background(), Pass{SaveNodeID: "0"})
	assert.Error(t, err)

	_, err = e.Capture(context.Background(), Pass{Prompt: mustPrompt(t, ksamplerPrompt)})
	assert.Error(t, err)
}

func TestCapture_MissingSaveNode(t *testing.T) {
	res := capture(t, newEngine(t, nil), Pass{Prompt: mustPrompt(t, ksamplerPrompt), SaveNodeID: "77"})
	assert.Equal(t, trace.NoSampler, res.SamplerID)
	assert.Empty(t, res.SaveTree)
	assert.Empty(t, res.BeforeSave)
}

func TestFilterByTrace(t *testing.T) {
	all := Candidates{
		schema.FieldSeed: {
			{NodeID: "9", Value: 1},
			{NodeID: "3", Value: 2},
			{NodeID: "12", Value: 3},
			{NodeID: "4", Value: 4},
		},
		schema.FieldCFG: {{NodeID: "99", Value: 7}},
	}
	tree := trace.Tree{
		"9":  {Distance: 2},
		"3":  {Distance: 1},
		"12": {Distance: 1},
	}

	got := FilterByTrace(all, tree)
	want := Candidates{
		schema.FieldSeed: {
			{NodeID: "3", Value: 2, Distance: 1},
			{NodeID: "12", Value: 3, Distance: 1},
			{NodeID: "9", Value: 1, Distance: 2},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("FilterByTrace() mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []any{2, 3, 1}, got.Values(schema.FieldSeed))
	assert.Nil(t, got.Values(schema.FieldCFG))
}

// --- prompt roles ---

func TestPromptRole_FanInAndGuider(t *testing.T) {
	p := mustPrompt(t, `{
	  "0": {"class_type": "SaveImage", "inputs": {"images": ["1", 0]}},
	  "1": {"class_type": "SamplerCustomAdvanced", "inputs": {"guider": ["6", 0], "sampler": ["7", 0]}},
	  "6": {"class_type": "CFGGuider", "inputs": {"cfg": 4.0, "positive": ["5", 0], "negative": ["3", 0]}},
	  "5": {"class_type": "ConditioningCombine", "inputs": {"conditioning_1": ["2", 0], "conditioning_2": ["4", 0]}},
	  "2": {"class_type": "CLIPTextEncode", "inputs": {"text": "cat"}},
	  "4": {"class_type": "CLIPTextEncode", "inputs": {"text": "hat"}},
	  "3": {"class_type": "CLIPTextEncode", "inputs": {"text": "blurry"}},
	  "7": {"class_type": "KSamplerSelect", "inputs": {"sampler_name": "euler"}}
	}`)
	res := capture(t, newEngine(t, nil), Pass{Prompt: p, SaveNodeID: "0"})

	assert.Equal(t, "1", res.SamplerID)
	assert.Equal(t, []any{"cat", "hat"}, res.BeforeSampler.Values(schema.FieldPositivePrompt))
	assert.Equal(t, []any{"blurry"}, res.BeforeSampler.Values(schema.FieldNegativePrompt))
	assert.Equal(t, 4.0, firstValue(t, res.BeforeSampler, schema.FieldCFG))
	assert.Equal(t, "euler", firstValue(t, res.BeforeSampler, schema.FieldSamplerName))
}

// --- formatters ---

func TestCapture_ScaleAndLatentSize(t *testing.T) {
	p := mustPrompt(t, `{
	  "0": {"class_type": "SaveImage", "inputs": {"images": ["8", 0]}},
	  "8": {"class_type": "VAEDecode", "inputs": {"samples": ["7", 0]}},
	  "7": {"class_type": "LatentUpscaleBy", "inputs": {"upscale_method": "nearest-exact", "scale_by": 1.5, "samples": ["1", 0]}},
	  "1": {"class_type": "KSampler", "inputs": {
	    "steps": 20, "cfg": 7, "sampler_name": "euler", "scheduler": "normal",
	    "positive": ["2", 0], "latent_image": ["5", 0]
	  }},
	  "2": {"class_type": "CLIPTextEncode", "inputs": {"text": "cat"}},
	  "5": {"class_type": "EmptyLatentImage", "inputs": {"width": 512, "height": 768, "batch_size": 1}}
	}`)
	res := capture(t, newEngine(t, nil), Pass{Prompt: p, SaveNodeID: "0"})

	assert.Equal(t, "euler", firstValue(t, res.BeforeSampler, schema.FieldSamplerName))
	assert.Equal(t, 512.0, firstValue(t, res.BeforeSampler, schema.FieldImageWidth))
	assert.Equal(t, 768, firstValue(t, res.BeforeSave, schema.FieldImageWidth))
	assert.Equal(t, 1152, firstValue(t, res.BeforeSave, schema.FieldImageHeight))
	assert.Equal(t, 1.5, firstValue(t, res.BeforeSave, schema.FieldUpscaleBy))
}

func TestLatentToPixels(t *testing.T) {
	tests := []struct {
		name  string
		raw   any
		field schema.Field
		want  any
	}{
		{"samples shape width", map[string]any{"samples": map[string]any{"shape": []any{1, 4, 96, 64}}}, schema.FieldImageWidth, 512},
		{"samples shape height", map[string]any{"samples": map[string]any{"shape": []any{1, 4, 96, 64}}}, schema.FieldImageHeight, 768},
		{"bare shape", []any{1.0, 4.0, 128.0, 128.0}, schema.FieldImageWidth, 1024},
		{"int shape", []int{1, 16, 64, 32}, schema.FieldImageHeight, 512},
		{"explicit size", map[string]any{"width": 640, "height": 480}, schema.FieldImageHeight, 480},
		{"wrong field", []any{1, 4, 8, 8}, schema.FieldSeed, nil},
		{"garbage", "latent", schema.FieldImageWidth, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := latentToPixels(tt.raw, &rules.Env{Field: tt.field})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCapture_LatentFromOutputs(t *testing.T) {
	p := mustPrompt(t, `{
	  "0": {"class_type": "SaveImage", "inputs": {"images": ["8", 0]}},
	  "8": {"class_type": "VAEDecode", "inputs": {"samples": ["1", 0]}},
	  "1": {"class_type": "KSampler", "inputs": {"steps": 4, "sampler_name": "lcm"}}
	}`)
	outputs := schema.Outputs{"1": {map[string]any{"samples": map[string]any{"shape": []any{1, 4, 128, 96}}}}}
	res := capture(t, newEngine(t, nil), Pass{Prompt: p, SaveNodeID: "0", Outputs: outputs})

	assert.Equal(t, 768, firstValue(t, res.BeforeSave, schema.FieldImageWidth))
	assert.Equal(t, 1024, firstValue(t, res.BeforeSave, schema.FieldImageHeight))
}

func TestClipSkipAbs(t *testing.T) {
	got, err := clipSkipAbs(-2.0, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, got)

	got, err = clipSkipAbs("-1.5", nil)
	require.NoError(t, err)
	assert.Equal(t, 1.5, got)

	_, err = clipSkipAbs("last", nil)
	assert.Error(t, err)
}

func TestParseEmbeddings(t *testing.T) {
	got := ParseEmbeddings("embedding:EasyNegative, ugly, (embedding:bad_hands.pt:1.2), EMBEDDING: EasyNegative, embedding:sub/neg.")
	assert.Equal(t, []string{"EasyNegative", "bad_hands.pt", "sub/neg"}, got)
	assert.Nil(t, ParseEmbeddings("no embeddings here"))
}

func TestCapture_Embeddings(t *testing.T) {
	p := mustPrompt(t, `{
	  "0": {"class_type": "SaveImage", "inputs": {"images": ["1", 0]}},
	  "1": {"class_type": "KSampler", "inputs": {"steps": 20, "sampler_name": "euler", "negative": ["3", 0]}},
	  "3": {"class_type": "CLIPTextEncode", "inputs": {"text": "embedding:EasyNegative, embedding:bad_hands.pt"}}
	}`)
	res := capture(t, newEngine(t, nil), Pass{Prompt: p, SaveNodeID: "0"})

	assert.Equal(t, []any{"EasyNegative", "bad_hands"}, res.BeforeSampler.Values(schema.FieldEmbeddingName))
	assert.Equal(t, []any{artifact.NotAvailable, artifact.NotAvailable}, res.BeforeSampler.Values(schema.FieldEmbeddingHash))
}

// --- LoRA ---

func TestParseStackWidgets(t *testing.T) {
	in := func(pairs ...any) schema.InputData {
		var d schema.InputData
		for i := 0; i+1 < len(pairs); i += 2 {
			d = append(d, schema.InputValue{Name: pairs[i].(string), Values: []any{pairs[i+1]}})
		}
		return d
	}

	tests := []struct {
		name string
		data schema.InputData
		want []LoraEntry
	}{
		{
			name: "efficiency simple mode bounded by count",
			data: in("input_mode", "simple", "lora_count", 2,
				"lora_name_1", "a.safetensors", "lora_wt_1", 0.7, "model_str_1", 1.0, "clip_str_1", 1.0,
				"lora_name_2", "None", "lora_wt_2", 1.0,
				"lora_name_3", "c.safetensors", "lora_wt_3", 1.0),
			want: []LoraEntry{{Name: "a.safetensors", StrengthModel: 0.7, StrengthClip: 0.7}},
		},
		{
			name: "efficiency advanced mode",
			data: in("input_mode", "advanced", "lora_count", 1,
				"lora_name_1", "a", "lora_wt_1", 0.7, "model_str_1", 0.9, "clip_str_1", 0.4),
			want: []LoraEntry{{Name: "a", StrengthModel: 0.9, StrengthClip: 0.4}},
		},
		{
			name: "switches without count",
			data: in("switch_1", "On", "lora_name_1", "a", "model_weight_1", 0.5, "clip_weight_1", 0.25,
				"switch_2", "Off", "lora_name_2", "b", "model_weight_2", 1.0, "clip_weight_2", 1.0,
				"switch_3", true, "lora_name_3", "c"),
			want: []LoraEntry{
				{Name: "a", StrengthModel: 0.5, StrengthClip: 0.25},
				{Name: "c", StrengthModel: 1, StrengthClip: 1},
			},
		},
		{
			name: "gap ends unbounded scan",
			data: in("lora_name_1", "a", "lora_name_3", "c"),
			want: []LoraEntry{{Name: "a", StrengthModel: 1, StrengthClip: 1}},
		},
		{
			name: "empty",
			data: nil,
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseStackWidgets(tt.data))
		})
	}
}

func TestParseStackOutput(t *testing.T) {
	got, ok := ParseStackOutput([]any{
		[]any{"a.safetensors", 0.8, 0.6},
		[]any{"None", 1.0, 1.0},
		[]any{"b", 0.5},
		"junk",
	})
	require.True(t, ok)
	assert.Equal(t, []LoraEntry{
		{Name: "a.safetensors", StrengthModel: 0.8, StrengthClip: 0.6},
		{Name: "b", StrengthModel: 0.5, StrengthClip: 0.5},
	}, got)

	_, ok = ParseStackOutput("not a stack")
	assert.False(t, ok)
}

func TestParseLoraTags(t *testing.T) {
	got := ParseLoraTags("a cat <lora:style:0.8>, <lora:detail.v2:1.0:0.5> <lora:broken> <lora:bad:x>")
	assert.Equal(t, []LoraEntry{
		{Name: "style", StrengthModel: 0.8, StrengthClip: 0.8},
		{Name: "detail.v2", StrengthModel: 1.0, StrengthClip: 0.5},
		{Name: "bad", StrengthModel: 1, StrengthClip: 1},
	}, got)
}

func TestCapture_LoraStackPrefersUpstream(t *testing.T) {
	p := mustPrompt(t, `{
	  "0": {"class_type": "SaveImage", "inputs": {"images": ["1", 0]}},
	  "1": {"class_type": "KSampler", "inputs": {"steps": 20, "sampler_name": "euler", "model": ["3", 0]}},
	  "3": {"class_type": "CR LoRA Stack", "inputs": {
	    "switch_1": "On", "lora_name_1": "own.safetensors", "model_weight_1": 1.0, "clip_weight_1": 1.0,
	    "lora_stack": ["4", 0]
	  }},
	  "4": {"class_type": "LoRA Stacker", "inputs": {"lora_count": 1, "lora_name_1": "up.safetensors", "lora_wt_1": 0.3}}
	}`)
	outputs := schema.Outputs{"4": {[]any{[]any{"up.safetensors", 0.3, 0.3}}}}
	res := capture(t, newEngine(t, nil), Pass{Prompt: p, SaveNodeID: "0", Outputs: outputs})

	// Nearest stacker (node 3) reports the upstream stack; node 4 its own widgets.
	names := res.BeforeSampler[schema.FieldLoraModelName]
	require.Len(t, names, 2)
	assert.Equal(t, Entry{NodeID: "3", Value: "up", Distance: 1}, names[0])
	assert.Equal(t, Entry{NodeID: "4", Value: "up", Distance: 2}, names[1])
	assert.Equal(t, []any{0.3, 0.3}, res.BeforeSampler.Values(schema.FieldLoraStrengthModel))
}

func TestCapture_InlineLoraTagsWithIndex(t *testing.T) {
	dir := t.TempDir()
	loraDir := filepath.Join(dir, "loras")
	require.NoError(t, os.MkdirAll(filepath.Join(loraDir, "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(loraDir, "nested", "style.safetensors"), []byte("lora bytes"), 0o644))

	index := artifact.NewLoraIndex([]string{loraDir}, nil)
	resolver := artifact.NewResolver(artifact.Roots{artifact.KindLoRA: {loraDir}}, nil,
		artifact.WithPostResolver(artifact.KindLoRA, index.PostResolver()))
	svc := artifact.NewService(resolver, artifact.NewHashCache(nil), nil)

	p := mustPrompt(t, `{
	  "0": {"class_type": "SaveImage", "inputs": {"images": ["1", 0]}},
	  "1": {"class_type": "KSampler", "inputs": {"steps": 20, "sampler_name": "euler", "model": ["2", 0]}},
	  "2": {"class_type": "LoraTagLoader", "inputs": {"text": "<lora:style:0.6> <lora:missing:1.0>"}}
	}`)
	res := capture(t, newEngine(t, svc), Pass{Prompt: p, SaveNodeID: "0"})

	assert.Equal(t, []any{"style", "missing"}, res.BeforeSampler.Values(schema.FieldLoraModelName))
	hashes := res.BeforeSampler.Values(schema.FieldLoraModelHash)
	require.Len(t, hashes, 2)
	assert.Len(t, hashes[0], artifact.DisplayHashLen)
	assert.Equal(t, artifact.NotAvailable, hashes[1])
	assert.Equal(t, []any{0.6, 1.0}, res.BeforeSampler.Values(schema.FieldLoraStrengthModel))

	_, err := os.Stat(filepath.Join(loraDir, "nested", "style.sha256"))
	assert.NoError(t, err, "sidecar written next to the artifact")
}

func TestCapture_LoraLoaderTrailingDotToken(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "my.lora.v2.safetensors"), []byte("weights"), 0o644))
	resolver := artifact.NewResolver(artifact.Roots{artifact.KindLoRA: {dir}}, nil)
	svc := artifact.NewService(resolver, artifact.NewHashCache(nil), nil)

	p := mustPrompt(t, `{
	  "0": {"class_type": "SaveImage", "inputs": {"images": ["1", 0]}},
	  "1": {"class_type": "KSampler", "inputs": {"steps": 20, "sampler_name": "euler", "model": ["2", 0]}},
	  "2": {"class_type": "LoraLoader", "inputs": {"lora_name": "my.lora.v2.", "strength_model": 0.8, "strength_clip": 1.0}}
	}`)
	e := newEngine(t, svc)
	first := firstValue(t, capture(t, e, Pass{Prompt: p, SaveNodeID: "0"}).BeforeSampler, schema.FieldLoraModelHash)
	second := firstValue(t, capture(t, e, Pass{Prompt: p, SaveNodeID: "0"}).BeforeSampler, schema.FieldLoraModelHash)

	require.IsType(t, "", first)
	assert.Len(t, first, artifact.DisplayHashLen)
	assert.NotEqual(t, artifact.NotAvailable, first)
	assert.Equal(t, first, second)
}

// --- registration ---

func TestRegisterBuiltins(t *testing.T) {
	reg := rules.Defaults()
	caps := rules.NewCapabilities(nil)
	require.NoError(t, RegisterBuiltins(caps, Deps{Registry: reg}))

	for _, id := range []string{rules.SelectSamplerWithScheduler, rules.SelectLoraStackNames, rules.SelectInlineLoraHashes} {
		assert.True(t, caps.Has(rules.CapSelector, id), id)
	}
	assert.True(t, caps.Has(rules.CapValidator, rules.ValidatePositivePrompt))
	assert.True(t, caps.Has(rules.CapFormatter, rules.FormatScaleToPixels))

	err := RegisterBuiltins(caps, Deps{Registry: reg})
	var metaErr *schema.MetaError
	require.ErrorAs(t, err, &metaErr)
	assert.Equal(t, schema.ErrCodeConflict, metaErr.Code)

	assert.Error(t, RegisterBuiltins(rules.NewCapabilities(nil), Deps{}))
}
