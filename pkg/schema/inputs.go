package schema

import (
	"encoding/json"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// InputValue is one resolved node input. Values holds the executor's value list;
// rules read its first element.
type InputValue struct {
	Name   string
	Values []any
}

// InputData is a node's resolved input snapshot in declaration order.
type InputData []InputValue

// Get returns the value list for name.
func (d InputData) Get(name string) ([]any, bool) {
	for _, v := range d {
		if v.Name == name {
			return v.Values, true
		}
	}
	return nil, false
}

// First returns the first element of the value list for name.
func (d InputData) First(name string) (any, bool) {
	vals, ok := d.Get(name)
	if !ok || len(vals) == 0 {
		return nil, false
	}
	return vals[0], true
}

// Map flattens the snapshot to name → first value, for expression environments.
func (d InputData) Map() map[string]any {
	m := make(map[string]any, len(d))
	for _, v := range d {
		if len(v.Values) > 0 {
			m[v.Name] = v.Values[0]
		} else {
			m[v.Name] = nil
		}
	}
	return m
}

// Outputs is the executor's output cache: node ID → per-slot results.
type Outputs map[string][]any

// Slot returns the cached output of a link, if present.
func (o Outputs) Slot(l Link) (any, bool) {
	vals, ok := o[l.NodeID]
	if !ok || l.Slot < 0 || l.Slot >= len(vals) {
		return nil, false
	}
	return vals[l.Slot], true
}

// InputSource supplies the resolved input snapshot for a node.
// The host executor implements it; PromptInputs and StaticInputs are the local ones.
type InputSource interface {
	InputData(nodeID string) (InputData, bool)
}

// PromptInputs derives input snapshots from the prompt itself: literals become
// single-element lists, edges are resolved through the outputs cache and omitted
// when the upstream result is unknown.
type PromptInputs struct {
	Prompt  Prompt
	Outputs Outputs
}

// ResolveInputs returns an InputSource backed by the prompt and the outputs cache.
func ResolveInputs(prompt Prompt, outputs Outputs) *PromptInputs {
	return &PromptInputs{Prompt: prompt, Outputs: outputs}
}

// InputData implements InputSource.
func (p *PromptInputs) InputData(nodeID string) (InputData, bool) {
	node, ok := p.Prompt[nodeID]
	if !ok || node == nil {
		return nil, false
	}
	data := make(InputData, 0, len(node.Inputs))
	for _, in := range node.Inputs {
		if in.Link == nil {
			data = append(data, InputValue{Name: in.Name, Values: []any{in.Value}})
			continue
		}
		if v, ok := p.Outputs.Slot(*in.Link); ok {
			data = append(data, InputValue{Name: in.Name, Values: []any{v}})
		}
	}
	return data, true
}

// StaticInputs is a precomputed snapshot, typically decoded from a dump of the
// executor's resolved inputs.
type StaticInputs map[string]InputData

// InputData implements InputSource.
func (s StaticInputs) InputData(nodeID string) (InputData, bool) {
	d, ok := s[nodeID]
	return d, ok
}

// ParseInputData decodes {"<node id>": {"<input>": [values...]}} preserving input order.
// Scalar values are wrapped into single-element lists.
func ParseInputData(data []byte) (StaticInputs, error) {
	nodes := orderedmap.New[string, *orderedmap.OrderedMap[string, any]]()
	if err := json.Unmarshal(data, nodes); err != nil {
		return nil, NewError(ErrCodeValidation, "input data is not a JSON object").WithCause(err)
	}

	out := make(StaticInputs, nodes.Len())
	for pair := nodes.Oldest(); pair != nil; pair = pair.Next() {
		var snapshot InputData
		if pair.Value != nil {
			for in := pair.Value.Oldest(); in != nil; in = in.Next() {
				vals, ok := in.Value.([]any)
				if !ok {
					vals = []any{in.Value}
				}
				snapshot = append(snapshot, InputValue{Name: in.Key, Values: vals})
			}
		}
		out[pair.Key] = snapshot
	}
	return out, nil
}

// ParseOutputs decodes {"<node id>": [slot values...]}.
func ParseOutputs(data []byte) (Outputs, error) {
	var out Outputs
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, NewError(ErrCodeValidation, "outputs is not a JSON object of arrays").WithCause(err)
	}
	return out, nil
}

// IsNone reports whether a captured value is absent: nil, empty string, or the
// host's "None" placeholder.
func IsNone(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == "" || t == "None"
	}
	return false
}
