package rules

import "github.com/xxmjskxx/ComfyUI-SaveImageWithMetaDataUniversal-sub000/pkg/schema"

// Capability ids referenced by the built-in rules. internal/capture registers
// the implementations.
const (
	ValidatePositivePrompt = "is_positive_prompt"
	ValidateNegativePrompt = "is_negative_prompt"

	SelectSamplerWithScheduler = "sampler.with_scheduler"

	SelectLoraStackNames          = "lora_stack.names"
	SelectLoraStackHashes         = "lora_stack.hashes"
	SelectLoraStackStrengthModel  = "lora_stack.strength_model"
	SelectLoraStackStrengthClip   = "lora_stack.strength_clip"
	SelectInlineLoraNames         = "inline_lora.names"
	SelectInlineLoraHashes        = "inline_lora.hashes"
	SelectInlineLoraStrengthModel = "inline_lora.strength_model"
	SelectInlineLoraStrengthClip  = "inline_lora.strength_clip"

	FormatHashCheckpoint  = "hash.checkpoint"
	FormatHashVAE         = "hash.vae"
	FormatHashLoRA        = "hash.lora"
	FormatHashUNet        = "hash.unet"
	FormatHashCLIP        = "hash.clip"
	FormatHashUpscale     = "hash.upscale"
	FormatEmbeddingNames  = "embedding.names"
	FormatEmbeddingHashes = "embedding.hashes"
	FormatClipSkipAbs     = "clip_skip.abs"
	FormatLatentToPixels  = "latent.to_pixels"
	FormatScaleToPixels   = "scale.to_pixels"
)

// Expression-backed capability ids. They resolve through the expression set
// handed to NewCapabilities and need no registration.
const (
	SelectEfficientVAE   = `jq:.inputs.vae_name | select(. != "Baked VAE")`
	ValidateLoraSelected = `cel:has(inputs.lora_name) && inputs.lora_name != "None"`
	FormatAbsValue       = "expr:abs(value)"
)

func promptSockets(positive, negative string) SamplerSockets {
	return SamplerSockets{SocketPositive: positive, SocketNegative: negative}
}

func promptRules(positive, negative CaptureRule) ClassRules {
	return ClassRules{
		schema.FieldPositivePrompt: positive.WithValidate(ValidatePositivePrompt),
		schema.FieldNegativePrompt: negative.WithValidate(ValidateNegativePrompt),
	}
}

func loraStackRules(names, hashes, model, clip string) ClassRules {
	return ClassRules{
		schema.FieldLoraModelName:     Selector(names),
		schema.FieldLoraModelHash:     Selector(hashes),
		schema.FieldLoraStrengthModel: Selector(model),
		schema.FieldLoraStrengthClip:  Selector(clip),
	}
}

func merge(sets ...ClassRules) ClassRules {
	out := make(ClassRules)
	for _, s := range sets {
		for f, r := range s {
			out[f] = r
		}
	}
	return out
}

func ksamplerRules() ClassRules {
	return ClassRules{
		schema.FieldSeed:        Field("seed"),
		schema.FieldSteps:       Field("steps"),
		schema.FieldCFG:         Field("cfg"),
		schema.FieldSamplerName: Selector(SelectSamplerWithScheduler),
		schema.FieldScheduler:   Field("scheduler"),
		schema.FieldDenoise:     Field("denoise"),
	}
}

// efficientLoaderRules covers the efficiency pack's all-in-one loader, which
// carries the prompts, checkpoint, VAE, LoRA and latent size as widgets.
// "Baked VAE" and a "None" LoRA mean nothing was loaded.
func efficientLoaderRules() ClassRules {
	lora := func(input string) CaptureRule { return Field(input).WithValidate(ValidateLoraSelected) }
	return merge(
		promptRules(Field("positive"), Field("negative")),
		ClassRules{
			schema.FieldModelName:         Field("ckpt_name"),
			schema.FieldModelHash:         Field("ckpt_name").WithFormat(FormatHashCheckpoint),
			schema.FieldVAEName:           Selector(SelectEfficientVAE),
			schema.FieldVAEHash:           Selector(SelectEfficientVAE).WithFormat(FormatHashVAE),
			schema.FieldCLIPSkip:          Field("clip_skip").WithFormat(FormatAbsValue),
			schema.FieldLoraModelName:     lora("lora_name"),
			schema.FieldLoraModelHash:     lora("lora_name").WithFormat(FormatHashLoRA),
			schema.FieldLoraStrengthModel: lora("lora_model_strength"),
			schema.FieldLoraStrengthClip:  lora("lora_clip_strength"),
			schema.FieldImageWidth:        Field("empty_latent_width"),
			schema.FieldImageHeight:       Field("empty_latent_height"),
			schema.FieldBatchSize:         Field("batch_size"),
		},
	)
}

// defaultClasses returns the built-in rules for the core node set.
func defaultClasses() map[string]ClassRules {
	ksampler := ksamplerRules()

	textEncode := merge(
		promptRules(Field("text"), Field("text")),
		ClassRules{
			schema.FieldEmbeddingName: Field("text").WithFormat(FormatEmbeddingNames),
			schema.FieldEmbeddingHash: Field("text").WithFormat(FormatEmbeddingHashes),
		},
	)

	latentSize := ClassRules{
		schema.FieldImageWidth:  Field("width"),
		schema.FieldImageHeight: Field("height"),
		schema.FieldBatchSize:   Field("batch_size"),
	}

	return map[string]ClassRules{
		"KSampler": ksampler,
		"KSamplerAdvanced": {
			schema.FieldSeed:        Field("noise_seed"),
			schema.FieldSteps:       Field("steps"),
			schema.FieldCFG:         Field("cfg"),
			schema.FieldSamplerName: Selector(SelectSamplerWithScheduler),
			schema.FieldScheduler:   Field("scheduler"),
			schema.FieldStartStep:   Field("start_at_step"),
			schema.FieldEndStep:     Field("end_at_step"),
		},
		"SamplerCustom": {
			schema.FieldSeed: Field("noise_seed"),
			schema.FieldCFG:  Field("cfg"),
		},
		"KSamplerSelect": {
			schema.FieldSamplerName: Field("sampler_name"),
		},
		"BasicScheduler": {
			schema.FieldScheduler: Field("scheduler"),
			schema.FieldSteps:     Field("steps"),
			schema.FieldDenoise:   Field("denoise"),
		},
		"RandomNoise": {
			schema.FieldSeed: Field("noise_seed"),
		},
		"CFGGuider": {
			schema.FieldCFG: Field("cfg"),
		},

		"CheckpointLoaderSimple": {
			schema.FieldModelName: Field("ckpt_name"),
			schema.FieldModelHash: Field("ckpt_name").WithFormat(FormatHashCheckpoint),
		},
		"VAELoader": {
			schema.FieldVAEName: Field("vae_name"),
			schema.FieldVAEHash: Field("vae_name").WithFormat(FormatHashVAE),
		},
		"UNETLoader": {
			schema.FieldUNetName:    Field("unet_name"),
			schema.FieldUNetHash:    Field("unet_name").WithFormat(FormatHashUNet),
			schema.FieldWeightDType: Field("weight_dtype"),
		},
		"CLIPLoader": {
			schema.FieldCLIPModelName: Field("clip_name"),
			schema.FieldCLIPModelHash: Field("clip_name").WithFormat(FormatHashCLIP),
			schema.FieldModelType:     Field("type"),
		},
		"DualCLIPLoader": {
			schema.FieldCLIPModelName: Prefix("clip_name"),
			schema.FieldCLIPModelHash: Prefix("clip_name").WithFormat(FormatHashCLIP),
			schema.FieldModelType:     Field("type"),
		},
		"LoraLoader": {
			schema.FieldLoraModelName:     Field("lora_name"),
			schema.FieldLoraModelHash:     Field("lora_name").WithFormat(FormatHashLoRA),
			schema.FieldLoraStrengthModel: Field("strength_model"),
			schema.FieldLoraStrengthClip:  Field("strength_clip"),
		},
		"LoraLoaderModelOnly": {
			schema.FieldLoraModelName:     Field("lora_name"),
			schema.FieldLoraModelHash:     Field("lora_name").WithFormat(FormatHashLoRA),
			schema.FieldLoraStrengthModel: Field("strength_model"),
		},
		"LoRA Stacker": loraStackRules(SelectLoraStackNames, SelectLoraStackHashes,
			SelectLoraStackStrengthModel, SelectLoraStackStrengthClip),
		"CR LoRA Stack": loraStackRules(SelectLoraStackNames, SelectLoraStackHashes,
			SelectLoraStackStrengthModel, SelectLoraStackStrengthClip),
		"LoraTagLoader": loraStackRules(SelectInlineLoraNames, SelectInlineLoraHashes,
			SelectInlineLoraStrengthModel, SelectInlineLoraStrengthClip),

		"CLIPTextEncode":     textEncode,
		"CLIPTextEncodeSDXL": promptRules(Fields("text_g", "text_l"), Fields("text_g", "text_l")),
		"CLIPTextEncodeFlux": merge(
			promptRules(Fields("t5xxl", "clip_l"), Fields("t5xxl", "clip_l")),
			ClassRules{
				schema.FieldCLIPPrompt: Field("clip_l"),
				schema.FieldT5Prompt:   Field("t5xxl"),
				schema.FieldGuidance:   Field("guidance"),
			},
		),
		"Efficient Loader": efficientLoaderRules(),
		"CLIPSetLastLayer": {
			schema.FieldCLIPSkip: Field("stop_at_clip_layer").WithFormat(FormatClipSkipAbs),
		},

		"EmptyLatentImage":    latentSize,
		"EmptySD3LatentImage": latentSize,
		"VAEDecode": {
			schema.FieldImageWidth:  Field("samples").WithFormat(FormatLatentToPixels),
			schema.FieldImageHeight: Field("samples").WithFormat(FormatLatentToPixels),
		},
		"LatentUpscaleBy": {
			schema.FieldUpscaleBy:   Field("scale_by"),
			schema.FieldImageWidth:  Field("scale_by").WithFormat(FormatScaleToPixels),
			schema.FieldImageHeight: Field("scale_by").WithFormat(FormatScaleToPixels),
		},
		"FluxGuidance": {
			schema.FieldGuidance: Field("guidance"),
		},
		"ModelSamplingFlux": {
			schema.FieldMaxShift:  Field("max_shift"),
			schema.FieldBaseShift: Field("base_shift"),
		},
		"ModelSamplingSD3": {
			schema.FieldShift: Field("shift"),
		},
		"PerturbedAttentionGuidance": {
			schema.FieldPAGScale: Field("scale"),
		},
		"UpscaleModelLoader": {
			schema.FieldUpscaleModelName: Field("model_name"),
			schema.FieldUpscaleModelHash: Field("model_name").WithFormat(FormatHashUpscale),
		},
	}
}

// Defaults returns a registry populated with the built-in rules and sampler
// sockets for the core node set. A host rule loader would replace or extend it.
func Defaults() *Registry {
	r := NewRegistry()
	for class, cr := range defaultClasses() {
		mustAdd(r.AddClass(class, cr))
	}

	// Text encoders from node packs that keep the core "text" widget.
	mustAdd(r.AddPattern(KeywordGroup{Keywords: []string{"Text", "Encode"}, MinCount: 2},
		promptRules(Field("text"), Field("text"))))

	for _, class := range []string{"KSampler", "KSamplerAdvanced", "SamplerCustom"} {
		mustAdd(r.AddSampler(class, promptSockets("positive", "negative")))
	}
	mustAdd(r.AddSampler("SamplerCustomAdvanced", SamplerSockets{}))
	// Efficiency-style wrappers: "KSampler (Efficient)", "KSampler Adv. (Efficient)".
	efficient := Regex{Pattern: `^KSampler.*\(Efficient\)$`}
	mustAdd(r.AddPattern(efficient, ksamplerRules()))
	mustAdd(r.AddSamplerPattern(efficient, promptSockets("positive", "negative")))

	mustAdd(r.AddGuider("CFGGuider", promptSockets("positive", "negative")))
	mustAdd(r.AddGuider("DualCFGGuider", promptSockets("cond1", "negative")))
	mustAdd(r.AddGuider("BasicGuider", SamplerSockets{SocketPositive: "conditioning"}))
	return r
}

func mustAdd(err error) {
	if err != nil {
		panic("rules: invalid built-in rule: " + err.Error())
	}
}
