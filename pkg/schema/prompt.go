package schema

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Prompt is the serialized workflow graph submitted for execution, keyed by node ID.
// It may contain revisits; consumers dedup with a visited set instead of assuming a DAG.
type Prompt map[string]*Node

// Node is a single graph node. Inputs keep their JSON declaration order.
type Node struct {
	ID        string  `json:"-"`
	ClassType string  `json:"class_type"`
	Title     string  `json:"-"`
	Inputs    []Input `json:"-"`
}

// Input is a named node input: either a literal value or an edge to an upstream output.
type Input struct {
	Name  string
	Value any   // literal; nil when Link is set
	Link  *Link // edge; nil for literals
	// Dangling is set on an edge-shaped literal whose target node is not in
	// the prompt. Value then holds the decoded pair.
	Dangling *Link
}

// Link references output slot Slot of node NodeID.
type Link struct {
	NodeID string
	Slot   int
}

// Input returns the input with the given name.
func (n *Node) Input(name string) (Input, bool) {
	for _, in := range n.Inputs {
		if in.Name == name {
			return in, true
		}
	}
	return Input{}, false
}

// LinkFor returns the edge bound to the named input, if that input is an edge.
func (n *Node) LinkFor(name string) (*Link, bool) {
	in, ok := n.Input(name)
	if !ok || in.Link == nil {
		return nil, false
	}
	return in.Link, true
}

// Links returns every edge input in declaration order.
func (n *Node) Links() []Link {
	var links []Link
	for _, in := range n.Inputs {
		if in.Link != nil {
			links = append(links, *in.Link)
		}
	}
	return links
}

// IDs returns the prompt's node IDs in ascending order (numeric-aware).
func (p Prompt) IDs() []string {
	ids := make([]string, 0, len(p))
	for id := range p {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return CompareNodeIDs(ids[i], ids[j]) < 0 })
	return ids
}

// ClassOf returns the class type of a node, or "" if absent.
func (p Prompt) ClassOf(id string) string {
	if n, ok := p[id]; ok && n != nil {
		return n.ClassType
	}
	return ""
}

// CompareNodeIDs orders node IDs numerically when both are integers, lexically otherwise.
// Integer IDs sort before non-integer ones.
func CompareNodeIDs(a, b string) int {
	ai, aErr := strconv.ParseInt(a, 10, 64)
	bi, bErr := strconv.ParseInt(b, 10, 64)
	switch {
	case aErr == nil && bErr == nil:
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		}
		return 0
	case aErr == nil:
		return -1
	case bErr == nil:
		return 1
	}
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

type nodeJSON struct {
	ClassType string                                        `json:"class_type"`
	Inputs    *orderedmap.OrderedMap[string, json.RawMessage] `json:"inputs"`
	Meta      struct {
		Title string `json:"title"`
	} `json:"_meta"`
}

// ParsePrompt decodes a prompt graph, preserving input declaration order.
// Structural validation lives in internal/validation; this only decodes.
func ParsePrompt(data []byte) (Prompt, error) {
	nodes := orderedmap.New[string, json.RawMessage]()
	if err := json.Unmarshal(data, nodes); err != nil {
		return nil, NewError(ErrCodeValidation, "prompt is not a JSON object").WithCause(err)
	}

	known := func(id string) bool {
		_, ok := nodes.Get(id)
		return ok
	}

	prompt := make(Prompt, nodes.Len())
	for pair := nodes.Oldest(); pair != nil; pair = pair.Next() {
		raw := nodeJSON{Inputs: orderedmap.New[string, json.RawMessage]()}
		if err := json.Unmarshal(pair.Value, &raw); err != nil {
			return nil, NewErrorf(ErrCodeValidation, "decode node: %v", err).
				WithNode(pair.Key).WithCause(err)
		}

		node := &Node{ID: pair.Key, ClassType: raw.ClassType, Title: raw.Meta.Title}
		if raw.Inputs != nil {
			for in := raw.Inputs.Oldest(); in != nil; in = in.Next() {
				input, err := decodeInput(in.Key, in.Value, known)
				if err != nil {
					return nil, NewErrorf(ErrCodeValidation, "decode input %q: %v", in.Key, err).
						WithNode(pair.Key).WithCause(err)
				}
				node.Inputs = append(node.Inputs, input)
			}
		}
		prompt[pair.Key] = node
	}
	return prompt, nil
}

// decodeInput classifies a raw input value as an edge or a literal. An edge is
// a two-element list of a node id (string or integer) and an integer slot.
// Edge-shaped values naming a node that is not in the prompt stay literals.
func decodeInput(name string, raw json.RawMessage, known func(id string) bool) (Input, error) {
	trimmed := bytes.TrimSpace(raw)
	var link *Link
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var pair []json.RawMessage
		if err := json.Unmarshal(trimmed, &pair); err == nil && len(pair) == 2 {
			var slot int
			if id, ok := linkTarget(pair[0]); ok && json.Unmarshal(pair[1], &slot) == nil {
				link = &Link{NodeID: id, Slot: slot}
			}
		}
	}
	if link != nil && known(link.NodeID) {
		return Input{Name: name, Link: link}, nil
	}

	var v any
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return Input{}, err
	}
	return Input{Name: name, Value: v, Dangling: link}, nil
}

func linkTarget(raw json.RawMessage) (string, bool) {
	var id string
	if json.Unmarshal(raw, &id) == nil {
		return id, true
	}
	var n int64
	if json.Unmarshal(raw, &n) == nil {
		return strconv.FormatInt(n, 10), true
	}
	return "", false
}
