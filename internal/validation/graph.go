package validation

import (
	"fmt"
	"strings"

	"github.com/xxmjskxx/ComfyUI-SaveImageWithMetaDataUniversal-sub000/pkg/schema"
)

// CheckPrompt runs graph-level checks on a decoded prompt.
// Empty class types are errors. Edges to missing nodes, negative slots and
// self-edges are warnings: traversal skips them, capture still proceeds.
// So are edge cycles.
func CheckPrompt(p schema.Prompt) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if len(p) == 0 {
		result.AddWarning("", "", schema.ErrCodeValidation, "prompt has no nodes")
		return result
	}

	for _, id := range p.IDs() {
		node := p[id]
		if node == nil {
			result.AddError(id, "", schema.ErrCodeValidation, "node is null")
			continue
		}
		if strings.TrimSpace(node.ClassType) == "" {
			result.AddError(id, "", schema.ErrCodeValidation, "class_type is empty")
		}

		for _, in := range node.Inputs {
			if in.Dangling != nil {
				result.AddWarning(id, in.Name, schema.ErrCodeGraphLookupMiss,
					fmt.Sprintf("references non-existent node %q, kept as a literal", in.Dangling.NodeID))
				continue
			}
			if in.Link == nil {
				continue
			}
			switch {
			case in.Link.NodeID == id:
				result.AddWarning(id, in.Name, schema.ErrCodeValidation, "input links to its own node")
			case in.Link.Slot < 0:
				result.AddWarning(id, in.Name, schema.ErrCodeValidation,
					fmt.Sprintf("negative output slot %d", in.Link.Slot))
			}
			if _, ok := p[in.Link.NodeID]; !ok {
				result.AddWarning(id, in.Name, schema.ErrCodeGraphLookupMiss,
					fmt.Sprintf("references non-existent node %q", in.Link.NodeID))
			}
		}
	}
	result.Merge(checkCycles(p))
	return result
}
