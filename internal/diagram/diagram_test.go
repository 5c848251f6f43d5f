package diagram

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xxmjskxx/ComfyUI-SaveImageWithMetaDataUniversal-sub000/internal/trace"
	"github.com/xxmjskxx/ComfyUI-SaveImageWithMetaDataUniversal-sub000/pkg/schema"
)

const ksamplerPrompt = `{
  "0": {"class_type": "SaveImage", "inputs": {"images": ["1", 0]}},
  "1": {"class_type": "KSampler", "inputs": {
    "seed": 42, "model": ["4", 0], "positive": ["2", 0], "negative": ["3", 0]
  }},
  "2": {"class_type": "CLIPTextEncode", "inputs": {"text": "cat", "clip": ["4", 1]}},
  "3": {"class_type": "CLIPTextEncode", "inputs": {"text": "ugly", "clip": ["4", 1]}},
  "4": {"class_type": "CheckpointLoaderSimple", "inputs": {"ckpt_name": "sd15.safetensors"}},
  "9": {"class_type": "PreviewImage", "inputs": {"images": ["1", 0]}}
}`

func ksamplerModel(t *testing.T) *DiagramModel {
	t.Helper()
	prompt, err := schema.ParsePrompt([]byte(ksamplerPrompt))
	require.NoError(t, err)
	tree := trace.Tree{
		"0": {Distance: 0, ClassType: "SaveImage"},
		"1": {Distance: 1, ClassType: "KSampler"},
		"2": {Distance: 2, ClassType: "CLIPTextEncode"},
		"3": {Distance: 2, ClassType: "CLIPTextEncode"},
		"4": {Distance: 2, ClassType: "CheckpointLoaderSimple"},
	}
	return BuildTraceModel(tree, prompt, "1")
}

func TestBuildTraceModel(t *testing.T) {
	model := ksamplerModel(t)

	assert.Equal(t, "trace from 0", model.Title)
	assert.Equal(t, [][]string{{"0"}, {"1"}, {"2", "3", "4"}}, model.Levels)

	kinds := make(map[string]NodeKind)
	for _, n := range model.Nodes {
		kinds[n.ID] = n.Kind
	}
	assert.Equal(t, map[string]NodeKind{
		"0": NodeKindStart,
		"1": NodeKindSampler,
		"2": NodeKindNode,
		"3": NodeKindNode,
		"4": NodeKindNode,
	}, kinds)
	assert.Equal(t, "KSampler (d=1)", model.node("1").Label)

	want := []Edge{
		{From: "1", To: "0", Label: "images"},
		{From: "4", To: "1", Label: "model"},
		{From: "2", To: "1", Label: "positive"},
		{From: "3", To: "1", Label: "negative"},
		{From: "4", To: "2", Label: "clip"},
		{From: "4", To: "3", Label: "clip"},
	}
	if diff := cmp.Diff(want, model.Edges); diff != "" {
		t.Errorf("edges mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildTraceModel_EmptyTree(t *testing.T) {
	model := BuildTraceModel(trace.Tree{}, schema.Prompt{}, trace.NoSampler)
	assert.Empty(t, model.Nodes)
	assert.Empty(t, model.Levels)
	assert.Empty(t, model.Title)
}

func TestRenderMermaid(t *testing.T) {
	output := RenderMermaid(ksamplerModel(t))

	assert.True(t, strings.HasPrefix(output, "graph BT\n"))
	assert.Contains(t, output, `n0(("SaveImage (d=0)"))`)
	assert.Contains(t, output, `n1{{"KSampler (d=1)"}}`)
	assert.Contains(t, output, `n4["CheckpointLoaderSimple (d=2)"]`)
	assert.Contains(t, output, "n4 -->|model| n1")
	assert.Contains(t, output, "class n1 sampler")
	assert.Contains(t, output, "class n0 start")
	assert.NotContains(t, output, "n9")
}

func TestRenderMermaid_EscapesLabels(t *testing.T) {
	model := &DiagramModel{Nodes: []*Node{{ID: "a.b", Label: `say "hi"`, Kind: NodeKindNode}}}
	assert.Contains(t, RenderMermaid(model), `na_b["say #quot;hi#quot;"]`)
}

func TestRenderASCII(t *testing.T) {
	output := RenderASCII(ksamplerModel(t))

	assert.Contains(t, output, "=== trace from 0 ===")
	for _, ch := range []string{"┌", "┐", "└", "┘", "│", "─", "▲"} {
		assert.Contains(t, output, ch)
	}
	assert.Contains(t, output, "1: KSampler (d=1)")
	assert.Contains(t, output, "[SAMPLER]")
	assert.Contains(t, output, "[START]")
	assert.Contains(t, output, "4 ─clip→ 2")

	rows := strings.Split(output, "\n")
	var samplerRow, encoderRow int
	for i, row := range rows {
		if strings.Contains(row, "KSampler (d=1)") {
			samplerRow = i
		}
		if strings.Contains(row, "2: CLIPTextEncode (d=2)") {
			encoderRow = i
			assert.Contains(t, row, "3: CLIPTextEncode (d=2)")
		}
	}
	assert.Less(t, samplerRow, encoderRow)
}
