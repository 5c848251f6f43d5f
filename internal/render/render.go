package render

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/xxmjskxx/ComfyUI-SaveImageWithMetaDataUniversal-sub000/internal/capture"
	"github.com/xxmjskxx/ComfyUI-SaveImageWithMetaDataUniversal-sub000/internal/trace"
)

// VersionPrefix starts the last line of every rendered block.
const VersionPrefix = "Metadata generator version:"

// DefaultVersion is written when Options.Version is empty.
const DefaultVersion = "dev"

// Render writes the canonical block: positive prompt, negative prompt, the
// parameter line (or block), optional hash and sampler sections, and the
// version line.
func Render(p *Parameters, opts Options) string {
	var b strings.Builder

	b.WriteString(p.Positive)
	b.WriteByte('\n')
	b.WriteString("Negative prompt: ")
	b.WriteString(p.Negative)
	b.WriteByte('\n')

	sep := ", "
	if opts.Multiline {
		sep = "\n"
	}
	var parts []string
	for pair := p.Fields.Oldest(); pair != nil; pair = pair.Next() {
		parts = append(parts, pair.Key+": "+quote(pair.Value))
	}
	if len(parts) > 0 {
		b.WriteString(strings.Join(parts, sep))
		b.WriteByte('\n')
	}

	if !opts.Trimmed {
		if p.Hashes != nil && p.Hashes.Len() > 0 {
			if data, err := json.Marshal(p.Hashes); err == nil {
				b.WriteString("Hashes: ")
				b.Write(data)
				b.WriteByte('\n')
			}
		}
		if len(p.LoraHashes) > 0 {
			entries := make([]string, len(p.LoraHashes))
			for i, l := range p.LoraHashes {
				entries[i] = l.Name + ": " + l.Hash
			}
			b.WriteString("Lora hashes: ")
			b.WriteString(strconv.Quote(strings.Join(entries, ", ")))
			b.WriteByte('\n')
		}
		if len(p.Samplers) > 1 {
			b.WriteString("Samplers: ")
			b.WriteString(samplerTail(p.Samplers))
			b.WriteByte('\n')
		}
	}

	version := opts.Version
	if version == "" {
		version = DefaultVersion
	}
	b.WriteString(VersionPrefix + " " + version)
	return b.String()
}

// Block builds and renders a capture result in one step.
func Block(result *capture.Result, opts Options) string {
	return Render(BuildParameters(result, opts), opts)
}

// samplerTail lists the candidates in enumeration order, with the inclusive
// step range of every segment.
func samplerTail(cs []trace.SamplerCandidate) string {
	entries := make([]string, len(cs))
	for i, c := range cs {
		name := c.SamplerName
		if name == "" {
			name = c.ClassType
		}
		detail := fmt.Sprintf("%d steps", c.Steps)
		if c.IsSegment {
			detail = "steps " + c.StepRange()
		}
		entries[i] = fmt.Sprintf("%s (node %s, %s)", name, c.NodeID, detail)
	}
	return strings.Join(entries, "; ")
}

// quote wraps values that would break the comma-joined parameter line.
func quote(v string) string {
	if strings.ContainsAny(v, ",\n\"") {
		return strconv.Quote(v)
	}
	return v
}
