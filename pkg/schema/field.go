package schema

import "fmt"

// Field is a semantic metadata role, independent of any node's widget naming.
type Field int

const (
	FieldModelName Field = iota + 1
	FieldModelHash
	FieldVAEName
	FieldVAEHash
	FieldUNetName
	FieldUNetHash
	FieldCLIPModelName
	FieldCLIPModelHash
	FieldPositivePrompt
	FieldNegativePrompt
	FieldCLIPPrompt
	FieldT5Prompt
	FieldCLIPSkip
	FieldSeed
	FieldSteps
	FieldStartStep
	FieldEndStep
	FieldCFG
	FieldGuidance
	FieldSamplerName
	FieldScheduler
	FieldDenoise
	FieldShift
	FieldMaxShift
	FieldBaseShift
	FieldPAGScale
	FieldImageWidth
	FieldImageHeight
	FieldBatchSize
	FieldWeightDType
	FieldLoraModelName
	FieldLoraModelHash
	FieldLoraStrengthModel
	FieldLoraStrengthClip
	FieldEmbeddingName
	FieldEmbeddingHash
	FieldUpscaleModelName
	FieldUpscaleModelHash
	FieldUpscaleBy
	FieldModelType
)

var fieldNames = map[Field]string{
	FieldModelName:         "MODEL_NAME",
	FieldModelHash:         "MODEL_HASH",
	FieldVAEName:           "VAE_NAME",
	FieldVAEHash:           "VAE_HASH",
	FieldUNetName:          "UNET_NAME",
	FieldUNetHash:          "UNET_HASH",
	FieldCLIPModelName:     "CLIP_MODEL_NAME",
	FieldCLIPModelHash:     "CLIP_MODEL_HASH",
	FieldPositivePrompt:    "POSITIVE_PROMPT",
	FieldNegativePrompt:    "NEGATIVE_PROMPT",
	FieldCLIPPrompt:        "CLIP_PROMPT",
	FieldT5Prompt:          "T5_PROMPT",
	FieldCLIPSkip:          "CLIP_SKIP",
	FieldSeed:              "SEED",
	FieldSteps:             "STEPS",
	FieldStartStep:         "START_STEP",
	FieldEndStep:           "END_STEP",
	FieldCFG:               "CFG",
	FieldGuidance:          "GUIDANCE",
	FieldSamplerName:       "SAMPLER_NAME",
	FieldScheduler:         "SCHEDULER",
	FieldDenoise:           "DENOISE",
	FieldShift:             "SHIFT",
	FieldMaxShift:          "MAX_SHIFT",
	FieldBaseShift:         "BASE_SHIFT",
	FieldPAGScale:          "PAG_SCALE",
	FieldImageWidth:        "IMAGE_WIDTH",
	FieldImageHeight:       "IMAGE_HEIGHT",
	FieldBatchSize:         "BATCH_SIZE",
	FieldWeightDType:       "WEIGHT_DTYPE",
	FieldLoraModelName:     "LORA_MODEL_NAME",
	FieldLoraModelHash:     "LORA_MODEL_HASH",
	FieldLoraStrengthModel: "LORA_STRENGTH_MODEL",
	FieldLoraStrengthClip:  "LORA_STRENGTH_CLIP",
	FieldEmbeddingName:     "EMBEDDING_NAME",
	FieldEmbeddingHash:     "EMBEDDING_HASH",
	FieldUpscaleModelName:  "UPSCALE_MODEL_NAME",
	FieldUpscaleModelHash:  "UPSCALE_MODEL_HASH",
	FieldUpscaleBy:         "UPSCALE_BY",
	FieldModelType:         "MODEL_TYPE",
}

var fieldsByName = func() map[string]Field {
	m := make(map[string]Field, len(fieldNames))
	for f, n := range fieldNames {
		m[n] = f
	}
	return m
}()

// AllFields returns every field in declaration order.
func AllFields() []Field {
	out := make([]Field, 0, len(fieldNames))
	for f := FieldModelName; f <= FieldModelType; f++ {
		out = append(out, f)
	}
	return out
}

func (f Field) String() string {
	if n, ok := fieldNames[f]; ok {
		return n
	}
	return fmt.Sprintf("Field(%d)", int(f))
}

// Valid reports whether f is a member of the enumeration.
func (f Field) Valid() bool {
	_, ok := fieldNames[f]
	return ok
}

// ParseField resolves an upper-snake field name.
func ParseField(name string) (Field, error) {
	if f, ok := fieldsByName[name]; ok {
		return f, nil
	}
	return 0, NewErrorf(ErrCodeValidation, "unknown field %q", name)
}

func (f Field) MarshalText() ([]byte, error) {
	if !f.Valid() {
		return nil, NewErrorf(ErrCodeValidation, "invalid field %d", int(f))
	}
	return []byte(f.String()), nil
}

func (f *Field) UnmarshalText(b []byte) error {
	parsed, err := ParseField(string(b))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}
