package validation

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/xxmjskxx/ComfyUI-SaveImageWithMetaDataUniversal-sub000/pkg/schema"
)

const promptSchemaURL = "https://metagen.local/schemas/prompt.json"

// promptSchemaJSON describes the host prompt document: an object of nodes keyed
// by ID, each carrying a class type and an inputs object. Hosts add their own
// bookkeeping keys, so unknown node properties are allowed.
const promptSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://metagen.local/schemas/prompt.json",
  "type": "object",
  "additionalProperties": { "$ref": "#/$defs/node" },
  "$defs": {
    "node": {
      "type": "object",
      "required": ["class_type", "inputs"],
      "properties": {
        "class_type": { "type": "string" },
        "inputs": {
          "type": "object",
          "additionalProperties": { "$ref": "#/$defs/input" }
        },
        "_meta": {
          "type": "object",
          "properties": {
            "title": { "type": "string" }
          }
        }
      }
    },
    "input": {
      "if": {
        "type": "array",
        "minItems": 2,
        "maxItems": 2,
        "prefixItems": [ { "type": "string" }, { "type": "integer" } ]
      },
      "then": {
        "prefixItems": [ { "type": "string", "minLength": 1 }, { "type": "integer", "minimum": 0 } ]
      }
    }
  }
}`

// PromptValidator checks prompt documents against the embedded JSON Schema and
// then runs graph-level checks the schema cannot express.
// It is safe for concurrent use.
type PromptValidator struct {
	promptSchema *jsonschema.Schema
}

// NewPromptValidator compiles the embedded prompt schema.
func NewPromptValidator() (*PromptValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(promptSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal prompt schema: %w", err)
	}
	if err := c.AddResource(promptSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("add prompt schema resource: %w", err)
	}
	sch, err := c.Compile(promptSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile prompt schema: %w", err)
	}
	return &PromptValidator{promptSchema: sch}, nil
}

// ValidateShape checks the raw document against the prompt schema.
func (v *PromptValidator) ValidateShape(data []byte) error {
	if len(strings.TrimSpace(string(data))) == 0 {
		return schema.NewError(schema.ErrCodeValidation, "prompt document is empty")
	}
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(data)))
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "prompt is not valid JSON").WithCause(err)
	}
	if err := v.promptSchema.Validate(doc); err != nil {
		return toMetaError(err)
	}
	return nil
}

// Parse validates and decodes a prompt document. Warnings are returned in the
// result even when err is nil; err is set when the shape is wrong or the graph
// has errors.
func (v *PromptValidator) Parse(data []byte) (schema.Prompt, *schema.ValidationResult, error) {
	if err := v.ValidateShape(data); err != nil {
		return nil, nil, err
	}
	prompt, err := schema.ParsePrompt(data)
	if err != nil {
		return nil, nil, err
	}
	result := CheckPrompt(prompt)
	if err := result.ToError(); err != nil {
		return nil, result, err
	}
	return prompt, result, nil
}

var (
	defaultOnce      sync.Once
	defaultValidator *PromptValidator
	defaultErr       error
)

// ParsePrompt validates and decodes data with a shared validator.
func ParsePrompt(data []byte) (schema.Prompt, *schema.ValidationResult, error) {
	defaultOnce.Do(func() {
		defaultValidator, defaultErr = NewPromptValidator()
	})
	if defaultErr != nil {
		return nil, nil, defaultErr
	}
	return defaultValidator.Parse(data)
}

// toMetaError converts a jsonschema.ValidationError into a MetaError listing
// every leaf violation with its instance location.
func toMetaError(err error) *schema.MetaError {
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}
	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}
	msg := fmt.Sprintf("prompt validation failed with %d errors", len(violations))
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
