package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/xxmjskxx/ComfyUI-SaveImageWithMetaDataUniversal-sub000/internal/capture"
	"github.com/xxmjskxx/ComfyUI-SaveImageWithMetaDataUniversal-sub000/internal/diagram"
	"github.com/xxmjskxx/ComfyUI-SaveImageWithMetaDataUniversal-sub000/internal/render"
	"github.com/xxmjskxx/ComfyUI-SaveImageWithMetaDataUniversal-sub000/internal/trace"
	"github.com/xxmjskxx/ComfyUI-SaveImageWithMetaDataUniversal-sub000/internal/validation"
	"github.com/xxmjskxx/ComfyUI-SaveImageWithMetaDataUniversal-sub000/pkg/schema"
)

type renderFlags struct {
	saveNode     string
	inputs       string
	outputs      string
	extra        string
	method       string
	samplerNode  string
	maxSamplers  int
	multiline    bool
	trimmed      bool
	traceDiagram string
	format       string
}

func newRenderCmd(g *globalFlags) *cobra.Command {
	var rf renderFlags

	cmd := &cobra.Command{
		Use:   "render PROMPT",
		Short: "Capture metadata from a prompt graph and print the parameter block",
		Long: "Reads a prompt graph (a file, or - for stdin), traces it from the save\n" +
			"node and prints the rendered parameter block.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRender(cmd, g, &rf, args[0])
		},
	}

	f := cmd.Flags()
	f.StringVar(&rf.saveNode, "save-node", "", "save node id (default: the only Save* node in the graph)")
	f.StringVar(&rf.inputs, "inputs", "", "JSON file with resolved per-node input data")
	f.StringVar(&rf.outputs, "outputs", "", "JSON file with cached node outputs")
	f.StringVar(&rf.extra, "extra", "", "JSON file with the extra data map")
	f.StringVar(&rf.method, "method", "", "sampler selection: farthest, nearest or by_node_id")
	f.StringVar(&rf.samplerNode, "sampler-node", "", "sampler node id for --method by_node_id")
	f.IntVar(&rf.maxSamplers, "max-samplers", -1, "maximum samplers listed in the tail (0 = unlimited)")
	f.BoolVar(&rf.multiline, "multiline", false, "write one parameter per line")
	f.BoolVar(&rf.trimmed, "trimmed", false, "keep only the core parameters")
	f.StringVar(&rf.traceDiagram, "trace-diagram", "", "also print the sampler trace: mermaid or ascii")
	f.StringVar(&rf.format, "format", "text", "output format: text or json")
	return cmd
}

func runRender(cmd *cobra.Command, g *globalFlags, rf *renderFlags, promptPath string) error {
	a, err := newApp(g, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	data, err := readInput(promptPath, cmd.InOrStdin())
	if err != nil {
		return err
	}
	prompt, result, err := validation.ParsePrompt(data)
	if err != nil {
		return err
	}
	if result != nil {
		for _, w := range result.Warnings {
			a.logger.WarnContext(ctx, w.Message,
				slog.String("node_id", w.NodeID), slog.String("input", w.Input), slog.String("code", w.Code))
		}
	}

	pass := capture.Pass{
		Prompt:        prompt,
		SaveNodeID:    rf.saveNode,
		Method:        a.cfg.Method(),
		SamplerNodeID: a.cfg.SamplerNodeID,
		MaxSamplers:   a.cfg.MaxSamplers,
	}
	if pass.SaveNodeID == "" {
		if pass.SaveNodeID, err = findSaveNode(prompt); err != nil {
			return err
		}
	}
	if cmd.Flags().Changed("method") {
		if pass.Method, err = trace.ParseMethod(rf.method); err != nil {
			return err
		}
	}
	if rf.samplerNode != "" {
		pass.SamplerNodeID = rf.samplerNode
	}
	if rf.maxSamplers >= 0 {
		pass.MaxSamplers = rf.maxSamplers
	}
	if err := loadPassData(&pass, rf, cmd.InOrStdin()); err != nil {
		return err
	}

	res, err := a.engine.Capture(ctx, pass)
	if err != nil {
		return err
	}

	opts := render.Options{
		Version:   version,
		Multiline: a.cfg.Multiline || rf.multiline,
		Trimmed:   a.cfg.Trimmed || rf.trimmed,
	}
	params := render.BuildParameters(res, opts)

	out := cmd.OutOrStdout()
	switch rf.format {
	case "text":
		fmt.Fprintln(out, render.Render(params, opts))
	case "json":
		if err := writeJSON(out, res, params); err != nil {
			return err
		}
	default:
		return schema.NewErrorf(schema.ErrCodeValidation, "unknown format %q", rf.format)
	}

	return writeDiagram(out, rf.traceDiagram, res, prompt)
}

// loadPassData reads the optional input, output and extra-data files.
func loadPassData(pass *capture.Pass, rf *renderFlags, stdin io.Reader) error {
	if rf.inputs != "" {
		data, err := readInput(rf.inputs, stdin)
		if err != nil {
			return err
		}
		inputs, err := schema.ParseInputData(data)
		if err != nil {
			return err
		}
		pass.Inputs = inputs
	}
	if rf.outputs != "" {
		data, err := readInput(rf.outputs, stdin)
		if err != nil {
			return err
		}
		outputs, err := schema.ParseOutputs(data)
		if err != nil {
			return err
		}
		pass.Outputs = outputs
	}
	if rf.extra != "" {
		data, err := readInput(rf.extra, stdin)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(data, &pass.ExtraData); err != nil {
			return schema.NewError(schema.ErrCodeValidation, "extra data is not a JSON object").WithCause(err)
		}
	}
	return nil
}

// findSaveNode returns the only node whose class starts with "Save".
func findSaveNode(prompt schema.Prompt) (string, error) {
	var found []string
	for _, id := range prompt.IDs() {
		if strings.HasPrefix(prompt.ClassOf(id), "Save") {
			found = append(found, id)
		}
	}
	switch len(found) {
	case 1:
		return found[0], nil
	case 0:
		return "", schema.NewError(schema.ErrCodeNotFound, "no Save* node in prompt; pass --save-node")
	}
	return "", schema.NewErrorf(schema.ErrCodeValidation,
		"prompt has %d save nodes (%s); pass --save-node", len(found), strings.Join(found, ", "))
}

type renderJSON struct {
	RunID      string                                 `json:"run_id"`
	SaveNodeID string                                 `json:"save_node_id"`
	SamplerID  string                                 `json:"sampler_id"`
	Positive   string                                 `json:"positive"`
	Negative   string                                 `json:"negative"`
	Parameters *orderedmap.OrderedMap[string, string] `json:"parameters"`
	Hashes     *orderedmap.OrderedMap[string, string] `json:"hashes,omitempty"`
	Samplers   []trace.SamplerCandidate               `json:"samplers,omitempty"`
	Tree       trace.Tree                             `json:"trace"`
}

func writeJSON(w io.Writer, res *capture.Result, params *render.Parameters) error {
	doc := renderJSON{
		RunID:      res.RunID,
		SaveNodeID: res.SaveNodeID,
		SamplerID:  res.SamplerID,
		Positive:   params.Positive,
		Negative:   params.Negative,
		Parameters: params.Fields,
		Samplers:   res.Samplers,
		Tree:       res.Tree,
	}
	if params.Hashes.Len() > 0 {
		doc.Hashes = params.Hashes
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

func writeDiagram(w io.Writer, kind string, res *capture.Result, prompt schema.Prompt) error {
	if kind == "" {
		return nil
	}
	model := diagram.BuildTraceModel(res.Tree, prompt, res.SamplerID)
	switch kind {
	case "mermaid":
		_, err := fmt.Fprint(w, "\n"+diagram.RenderMermaid(model))
		return err
	case "ascii":
		_, err := fmt.Fprint(w, "\n"+diagram.RenderASCII(model))
		return err
	}
	return schema.NewErrorf(schema.ErrCodeValidation, "unknown trace diagram %q", kind)
}
