package capture

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/xxmjskxx/ComfyUI-SaveImageWithMetaDataUniversal-sub000/internal/artifact"
	"github.com/xxmjskxx/ComfyUI-SaveImageWithMetaDataUniversal-sub000/internal/rules"
	"github.com/xxmjskxx/ComfyUI-SaveImageWithMetaDataUniversal-sub000/internal/trace"
	"github.com/xxmjskxx/ComfyUI-SaveImageWithMetaDataUniversal-sub000/pkg/schema"
)

// Deps are the collaborators of the built-in capabilities.
type Deps struct {
	Registry *rules.Registry
	// Artifacts resolves names and hashes. Nil reports every hash as "N/A"
	// and uses sanitized tokens as names.
	Artifacts *artifact.Service
}

type builtins struct {
	Deps
}

// RegisterBuiltins registers the selectors, validators and formatters the
// default rules refer to.
func RegisterBuiltins(caps *rules.Capabilities, deps Deps) error {
	if deps.Registry == nil {
		return schema.NewError(schema.ErrCodeValidation, "builtins need a rule registry")
	}
	b := &builtins{Deps: deps}

	validators := map[string]rules.ValidatorFunc{
		rules.ValidatePositivePrompt: b.promptRole(rules.SocketPositive),
		rules.ValidateNegativePrompt: b.promptRole(rules.SocketNegative),
	}
	selectors := map[string]rules.SelectorFunc{
		rules.SelectSamplerWithScheduler:    samplerWithScheduler,
		rules.SelectLoraStackNames:          b.stackNames,
		rules.SelectLoraStackHashes:         b.stackHashes,
		rules.SelectLoraStackStrengthModel:  stackStrengthModel,
		rules.SelectLoraStackStrengthClip:   stackStrengthClip,
		rules.SelectInlineLoraNames:         b.inlineNames,
		rules.SelectInlineLoraHashes:        b.inlineHashes,
		rules.SelectInlineLoraStrengthModel: inlineStrengthModel,
		rules.SelectInlineLoraStrengthClip:  inlineStrengthClip,
	}
	formatters := map[string]rules.FormatterFunc{
		rules.FormatHashCheckpoint:  b.hashOf(artifact.KindCheckpoint),
		rules.FormatHashVAE:         b.hashOf(artifact.KindVAE),
		rules.FormatHashLoRA:        b.hashOf(artifact.KindLoRA),
		rules.FormatHashUNet:        b.hashOf(artifact.KindUNet),
		rules.FormatHashCLIP:        b.hashOf(artifact.KindCLIP),
		rules.FormatHashUpscale:     b.hashOf(artifact.KindUpscale),
		rules.FormatEmbeddingNames:  b.embeddingNames,
		rules.FormatEmbeddingHashes: b.embeddingHashes,
		rules.FormatClipSkipAbs:     clipSkipAbs,
		rules.FormatLatentToPixels:  latentToPixels,
		rules.FormatScaleToPixels:   b.scaleToPixels,
	}

	for _, id := range sortedKeys(validators) {
		if err := caps.RegisterValidator(id, validators[id]); err != nil {
			return err
		}
	}
	for _, id := range sortedKeys(selectors) {
		if err := caps.RegisterSelector(id, selectors[id]); err != nil {
			return err
		}
	}
	for _, id := range sortedKeys(formatters) {
		if err := caps.RegisterFormatter(id, formatters[id]); err != nil {
			return err
		}
	}
	return nil
}

// promptRole reports whether the node is an encoder reachable from some
// sampler or guider through its socket for role. The reachable set is
// computed once per pass.
func (b *builtins) promptRole(role string) rules.ValidatorFunc {
	return func(env *rules.Env) bool {
		set, _ := env.Cache.GetOrCompute("prompt_role", "", role, func() any {
			return b.roleSet(env.Prompt, role)
		}).(map[string]bool)
		return set[env.NodeID]
	}
}

func (b *builtins) roleSet(prompt schema.Prompt, role string) map[string]bool {
	isEncoder := func(n *schema.Node) bool { return b.Registry.IsPromptEncoder(n.ClassType) }

	set := make(map[string]bool)
	for _, id := range prompt.IDs() {
		sockets, ok := b.Registry.PromptSockets(prompt.ClassOf(id))
		if !ok || sockets[role] == "" {
			continue
		}
		for _, enc := range trace.Reach(prompt, id, sockets[role], isEncoder) {
			set[enc] = true
		}
	}
	return set
}

// samplerWithScheduler joins sampler_name and scheduler as "name_scheduler".
// The scheduler is left out when empty, "normal" or already a suffix.
func samplerWithScheduler(env *rules.Env) (any, error) {
	v, ok := env.Inputs.First("sampler_name")
	if !ok || schema.IsNone(v) {
		return nil, nil
	}
	name := fmt.Sprint(v)

	sv, ok := env.Inputs.First("scheduler")
	if !ok || schema.IsNone(sv) {
		return name, nil
	}
	return rules.JoinSampler(name, fmt.Sprint(sv)), nil
}

func (b *builtins) displayName(ctx context.Context, kind artifact.Kind, token any) string {
	if b.Artifacts == nil {
		if s, ok := token.(string); ok {
			if name := artifact.Stem(filepath.Base(filepath.FromSlash(artifact.Sanitize(s)))); name != "" && name != "." {
				return name
			}
		}
		return artifact.NotAvailable
	}
	return b.Artifacts.DisplayName(ctx, kind, token)
}

func (b *builtins) displayHash(ctx context.Context, kind artifact.Kind, token any) string {
	if b.Artifacts == nil {
		return artifact.NotAvailable
	}
	return b.Artifacts.DisplayHash(ctx, kind, token)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
