// Package trace walks prompt graphs upstream from a node and locates the
// sampler(s) that produced an image.
package trace

import (
	"context"
	"log/slog"
	"sort"

	"github.com/xxmjskxx/ComfyUI-SaveImageWithMetaDataUniversal-sub000/internal/logging"
	"github.com/xxmjskxx/ComfyUI-SaveImageWithMetaDataUniversal-sub000/internal/rules"
	"github.com/xxmjskxx/ComfyUI-SaveImageWithMetaDataUniversal-sub000/pkg/schema"
)

// NoSampler is returned when no sampler can be located.
const NoSampler = "-1"

// Entry is one traced node: its edge-hop distance from the start node.
type Entry struct {
	Distance  int    `json:"distance"`
	ClassType string `json:"class_type"`
}

// Tree maps node id to its trace entry. Built once per pass; never holds a
// node twice.
type Tree map[string]Entry

// Contains reports whether id was reached.
func (t Tree) Contains(id string) bool {
	_, ok := t[id]
	return ok
}

// Distance returns the distance of id, or -1 when it was not reached.
func (t Tree) Distance(id string) int {
	if e, ok := t[id]; ok {
		return e.Distance
	}
	return -1
}

// Ordered returns the node ids sorted by distance (descending when farthest
// is set), ties broken by ascending node id.
func (t Tree) Ordered(farthest bool) []string {
	ids := make([]string, 0, len(t))
	for id := range t {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		di, dj := t[ids[i]].Distance, t[ids[j]].Distance
		if di != dj {
			if farthest {
				return di > dj
			}
			return di < dj
		}
		return schema.CompareNodeIDs(ids[i], ids[j]) < 0
	})
	return ids
}

// Tracer traces prompt graphs against a rule registry.
type Tracer struct {
	registry *rules.Registry
	logger   *slog.Logger
}

// NewTracer creates a Tracer. A nil logger discards output.
func NewTracer(registry *rules.Registry, logger *slog.Logger) *Tracer {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Tracer{registry: registry, logger: logger}
}

// Registry returns the registry the tracer classifies samplers with.
func (t *Tracer) Registry() *rules.Registry {
	return t.registry
}

// Trace runs a breadth-first walk from start following edge inputs only, in
// input declaration order. Edges to ids missing from the prompt are skipped.
// A start node absent from the prompt yields an empty tree.
func (t *Tracer) Trace(ctx context.Context, start string, prompt schema.Prompt) Tree {
	tree := make(Tree)
	node, ok := prompt[start]
	if !ok || node == nil {
		logging.LogWith(ctx, t.logger).WarnContext(ctx, "trace start node not in prompt",
			slog.String("start", start))
		return tree
	}

	tree[start] = Entry{Distance: 0, ClassType: node.ClassType}
	queue := []string{start}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		dist := tree[id].Distance

		for _, in := range prompt[id].Inputs {
			if in.Link == nil {
				continue
			}
			up := in.Link.NodeID
			upNode, ok := prompt[up]
			if !ok || upNode == nil {
				continue
			}
			if _, seen := tree[up]; seen {
				continue
			}
			tree[up] = Entry{Distance: dist + 1, ClassType: upNode.ClassType}
			queue = append(queue, up)
		}
	}
	return tree
}

// Reach walks upstream from the node feeding socket on from, and returns the
// nodes where stop reports true, in discovery order. The walk does not pass
// through stopping nodes. An unbound socket yields nil.
func Reach(prompt schema.Prompt, from, socket string, stop func(n *schema.Node) bool) []string {
	node, ok := prompt[from]
	if !ok || node == nil {
		return nil
	}
	link, ok := node.LinkFor(socket)
	if !ok {
		return nil
	}

	var found []string
	visited := map[string]bool{from: true}
	queue := []string{link.NodeID}
	visited[link.NodeID] = true
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		n, ok := prompt[id]
		if !ok || n == nil {
			continue
		}
		if stop(n) {
			found = append(found, id)
			continue
		}
		for _, l := range n.Links() {
			if visited[l.NodeID] {
				continue
			}
			visited[l.NodeID] = true
			queue = append(queue, l.NodeID)
		}
	}
	return found
}
