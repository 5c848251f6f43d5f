package expressions

import "context"

// Engine evaluates data-defined capability expressions against a node environment.
// Three implementations: CEL (validators), GoJQ (selectors over structured inputs),
// Expr (formatters and general logic).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// Environment variables visible to every engine.
const (
	VarNodeID    = "node_id"
	VarClassType = "class_type"
	VarInputs    = "inputs"
	VarExtra     = "extra"
	VarValue     = "value"
)

// NewEnv builds the evaluation environment for one node. value is the raw
// captured value for formatters and nil otherwise.
func NewEnv(nodeID, classType string, inputs, extra map[string]any, value any) map[string]any {
	if inputs == nil {
		inputs = map[string]any{}
	}
	if extra == nil {
		extra = map[string]any{}
	}
	return map[string]any{
		VarNodeID:    nodeID,
		VarClassType: classType,
		VarInputs:    inputs,
		VarExtra:     extra,
		VarValue:     value,
	}
}
