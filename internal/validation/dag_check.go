package validation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/xxmjskxx/ComfyUI-SaveImageWithMetaDataUniversal-sub000/pkg/schema"
)

// checkCycles reports nodes that sit on or behind an edge cycle
// (Kahn's algorithm). Cycles are warnings: the tracer keeps a visited set.
func checkCycles(p schema.Prompt) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	// edges[id] = upstream nodes of id, reverse[id] = consumers of id.
	edges := make(map[string][]string, len(p))
	reverse := make(map[string][]string, len(p))

	for id, node := range p {
		if node == nil {
			continue
		}
		seen := make(map[string]bool)
		for _, l := range node.Links() {
			if _, ok := p[l.NodeID]; !ok || l.NodeID == id || seen[l.NodeID] {
				continue // dangling and self edges are reported separately
			}
			seen[l.NodeID] = true
			edges[id] = append(edges[id], l.NodeID)
			reverse[l.NodeID] = append(reverse[l.NodeID], id)
		}
	}

	inDegree := make(map[string]int, len(p))
	queue := make([]string, 0, len(p))
	for id := range p {
		inDegree[id] = len(edges[id])
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	visited := make(map[string]bool, len(p))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited[id] = true
		for _, dep := range reverse[id] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if len(visited) == len(p) {
		return result
	}
	var stuck []string
	for id := range p {
		if !visited[id] {
			stuck = append(stuck, id)
		}
	}
	sort.Slice(stuck, func(i, j int) bool { return schema.CompareNodeIDs(stuck[i], stuck[j]) < 0 })
	result.AddWarning("", "", schema.ErrCodeValidation,
		fmt.Sprintf("prompt contains an edge cycle involving nodes %s", strings.Join(stuck, ", ")))
	return result
}
