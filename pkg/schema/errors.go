package schema

import (
	"errors"
	"fmt"
)

// Error codes. Except for VALIDATION_ERROR and CONFIG_ERROR, which reject
// their input, each names a condition capture degrades around: the value
// becomes a sentinel or is omitted and the save proceeds.
const (
	ErrCodeValidation = "VALIDATION_ERROR"
	ErrCodeConfig     = "CONFIG_ERROR"
	ErrCodeNotFound   = "NOT_FOUND"
	ErrCodeConflict   = "CONFLICT"
	ErrCodeExpression = "EXPRESSION_ERROR"

	ErrCodeUnresolvedArtifact = "UNRESOLVED_ARTIFACT"  // name maps to no file; "N/A"
	ErrCodeMalformedSidecar   = "MALFORMED_SIDECAR"    // recomputed
	ErrCodeGraphLookupMiss    = "GRAPH_LOOKUP_MISS"    // edge or start node absent
	ErrCodeNoSampler          = "NO_SAMPLER"           // save-node context used
	ErrCodeSidecarWrite       = "SIDECAR_WRITE_FAILED" // digest still returned
	ErrCodeHashFailed         = "HASH_FAILED"          // "N/A"
)

// MetaError is the structured error of metadata capture. NodeID names the
// prompt node the error is about, when there is one.
type MetaError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	NodeID  string         `json:"node_id,omitempty"`
	Cause   error          `json:"-"`
}

func (e *MetaError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("[%s] node %s: %s", e.Code, e.NodeID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *MetaError) Unwrap() error {
	return e.Cause
}

// NewError creates a new MetaError.
func NewError(code, message string) *MetaError {
	return &MetaError{Code: code, Message: message}
}

// NewErrorf creates a new MetaError with a formatted message.
func NewErrorf(code, format string, args ...any) *MetaError {
	return &MetaError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithNode attaches the prompt node the error is about.
func (e *MetaError) WithNode(nodeID string) *MetaError {
	e.NodeID = nodeID
	return e
}

// WithCause attaches an underlying cause.
func (e *MetaError) WithCause(err error) *MetaError {
	e.Cause = err
	return e
}

// WithDetails merges details into the error's details.
func (e *MetaError) WithDetails(details map[string]any) *MetaError {
	if e.Details == nil {
		e.Details = make(map[string]any, len(details))
	}
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// CodeOf returns the code of the first MetaError in err's chain, or "".
func CodeOf(err error) string {
	var me *MetaError
	if errors.As(err, &me) {
		return me.Code
	}
	return ""
}

// NodeOf returns the node ID of the first MetaError in err's chain, or "".
func NodeOf(err error) string {
	var me *MetaError
	if errors.As(err, &me) {
		return me.NodeID
	}
	return ""
}
