package schema

import "sort"

// ValidationSeverity indicates whether an issue is an error or warning.
type ValidationSeverity string

const (
	SeverityError   ValidationSeverity = "error"
	SeverityWarning ValidationSeverity = "warning"
)

// ValidationIssue is one problem found in a prompt. NodeID is empty for
// prompt-level issues; Input names the offending input, if any.
type ValidationIssue struct {
	NodeID   string             `json:"node_id,omitempty"`
	Input    string             `json:"input,omitempty"`
	Code     string             `json:"code"`
	Message  string             `json:"message"`
	Severity ValidationSeverity `json:"severity"`
}

// Path locates the issue in the prompt document: "/", "/<node>" or
// "/<node>/inputs/<input>".
func (i ValidationIssue) Path() string {
	switch {
	case i.NodeID == "":
		return "/"
	case i.Input == "":
		return "/" + i.NodeID
	}
	return "/" + i.NodeID + "/inputs/" + i.Input
}

// ValidationResult collects the issues of one prompt.
type ValidationResult struct {
	Errors   []ValidationIssue `json:"errors,omitempty"`
	Warnings []ValidationIssue `json:"warnings,omitempty"`
}

// Valid returns true if there are no errors (warnings are acceptable).
func (r *ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

// AddError records an error about nodeID (and input, if not empty).
func (r *ValidationResult) AddError(nodeID, input, code, message string) {
	r.Errors = append(r.Errors, ValidationIssue{
		NodeID: nodeID, Input: input, Code: code, Message: message, Severity: SeverityError,
	})
}

// AddWarning records a warning about nodeID (and input, if not empty).
func (r *ValidationResult) AddWarning(nodeID, input, code, message string) {
	r.Warnings = append(r.Warnings, ValidationIssue{
		NodeID: nodeID, Input: input, Code: code, Message: message, Severity: SeverityWarning,
	})
}

// Merge combines another ValidationResult into this one.
func (r *ValidationResult) Merge(other *ValidationResult) {
	if other == nil {
		return
	}
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
}

// ToError converts the result to a MetaError if invalid, nil if valid. A
// single error keeps its message and node; several are summarized, with the
// affected nodes listed under the "nodes" detail.
func (r *ValidationResult) ToError() error {
	if r.Valid() {
		return nil
	}

	details := map[string]any{
		"error_count":   len(r.Errors),
		"warning_count": len(r.Warnings),
		"errors":        r.Errors,
		"warnings":      r.Warnings,
	}
	if len(r.Errors) == 1 {
		first := r.Errors[0]
		return NewError(ErrCodeValidation, first.Message).WithNode(first.NodeID).WithDetails(details)
	}

	if nodes := r.errorNodes(); len(nodes) > 0 {
		details["nodes"] = nodes
	}
	return NewErrorf(ErrCodeValidation, "validation failed with %d errors", len(r.Errors)).
		WithDetails(details)
}

func (r *ValidationResult) errorNodes() []string {
	seen := make(map[string]bool, len(r.Errors))
	var nodes []string
	for _, e := range r.Errors {
		if e.NodeID == "" || seen[e.NodeID] {
			continue
		}
		seen[e.NodeID] = true
		nodes = append(nodes, e.NodeID)
	}
	sort.Slice(nodes, func(i, j int) bool { return CompareNodeIDs(nodes[i], nodes[j]) < 0 })
	return nodes
}
