// Package diagram renders a traced prompt subgraph for debugging capture
// results.
package diagram

import (
	"fmt"

	"github.com/xxmjskxx/ComfyUI-SaveImageWithMetaDataUniversal-sub000/internal/trace"
	"github.com/xxmjskxx/ComfyUI-SaveImageWithMetaDataUniversal-sub000/pkg/schema"
)

// NodeKind classifies a diagram node by its role in the trace.
type NodeKind string

const (
	NodeKindNode    NodeKind = "node"
	NodeKindStart   NodeKind = "start"
	NodeKindSampler NodeKind = "sampler"
)

// DiagramModel is the intermediate representation used by all renderers.
type DiagramModel struct {
	Title string
	Nodes []*Node
	Edges []Edge
	// Levels groups node ids by trace distance, nearest first.
	Levels [][]string
}

// Node is one traced prompt node.
type Node struct {
	ID        string
	Label     string
	ClassType string
	Distance  int
	Kind      NodeKind
}

// Edge points from an upstream node to the node consuming it.
type Edge struct {
	From  string
	To    string
	Label string
}

// BuildTraceModel lays out tree by distance. Only edges between traced nodes
// are kept; samplerID, when traced, is marked as the sampler.
func BuildTraceModel(tree trace.Tree, prompt schema.Prompt, samplerID string) *DiagramModel {
	model := &DiagramModel{}

	for _, id := range tree.Ordered(false) {
		e := tree[id]
		n := &Node{
			ID:        id,
			ClassType: e.ClassType,
			Distance:  e.Distance,
			Label:     fmt.Sprintf("%s (d=%d)", e.ClassType, e.Distance),
			Kind:      NodeKindNode,
		}
		switch {
		case id == samplerID:
			n.Kind = NodeKindSampler
		case e.Distance == 0:
			n.Kind = NodeKindStart
		}
		if e.Distance == 0 {
			model.Title = "trace from " + id
		}
		model.Nodes = append(model.Nodes, n)

		if e.Distance >= len(model.Levels) {
			model.Levels = append(model.Levels, make([][]string, e.Distance-len(model.Levels)+1)...)
		}
		model.Levels[e.Distance] = append(model.Levels[e.Distance], id)

		node := prompt[id]
		if node == nil {
			continue
		}
		for _, in := range node.Inputs {
			if in.Link == nil || !tree.Contains(in.Link.NodeID) {
				continue
			}
			model.Edges = append(model.Edges, Edge{From: in.Link.NodeID, To: id, Label: in.Name})
		}
	}
	return model
}

func (m *DiagramModel) node(id string) *Node {
	for _, n := range m.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}
