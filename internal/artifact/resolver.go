package artifact

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/xxmjskxx/ComfyUI-SaveImageWithMetaDataUniversal-sub000/internal/logging"
)

// Kind names an artifact folder category.
type Kind string

const (
	KindCheckpoint Kind = "checkpoints"
	KindVAE        Kind = "vae"
	KindLoRA       Kind = "loras"
	KindUNet       Kind = "unet"
	KindCLIP       Kind = "clip"
	KindEmbedding  Kind = "embeddings"
	KindUpscale    Kind = "upscale_models"
)

// Extensions are tried in order when a bare stem does not resolve.
// Earlier entries win when several files share a stem.
var Extensions = []string{".safetensors", ".st", ".ckpt", ".pt", ".bin"}

// DefaultMaxDepth bounds container unwrapping.
const DefaultMaxDepth = 5

// Folders maps a (kind, relative name) pair to an existing file.
type Folders interface {
	FullPath(kind Kind, name string) (string, bool)
}

// Roots is a Folders implementation over plain directories per kind.
type Roots map[Kind][]string

// FullPath returns the first regular file named name under the kind's roots.
// Names escaping their root are rejected.
func (r Roots) FullPath(kind Kind, name string) (string, bool) {
	if name == "" {
		return "", false
	}
	for _, root := range r[kind] {
		candidate := filepath.Join(root, filepath.FromSlash(name))
		rel, err := filepath.Rel(root, candidate)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		if isFile(candidate) {
			return candidate, true
		}
	}
	return "", false
}

// PostResolver is a last-resort lookup tried after folder probing fails.
type PostResolver func(kind Kind, name string) (string, bool)

// Resolution is the outcome of resolving a token.
type Resolution struct {
	DisplayName string
	FullPath    string
}

// Resolved reports whether a file was found.
func (r Resolution) Resolved() bool {
	return r.FullPath != ""
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithMaxDepth bounds container unwrapping depth.
func WithMaxDepth(n int) ResolverOption {
	return func(r *Resolver) {
		if n > 0 {
			r.maxDepth = n
		}
	}
}

// WithPostResolver registers a default post resolver for one kind. Defaults run
// after any resolvers passed to Resolve.
func WithPostResolver(kind Kind, pr PostResolver) ResolverOption {
	return func(r *Resolver) {
		r.defaults[kind] = append(r.defaults[kind], pr)
	}
}

// Resolver maps fuzzy name tokens to absolute artifact paths.
type Resolver struct {
	folders  Folders
	logger   *slog.Logger
	maxDepth int
	defaults map[Kind][]PostResolver
	warned   logging.Once
}

// NewResolver creates a Resolver over the given folder lookup.
func NewResolver(folders Folders, logger *slog.Logger, opts ...ResolverOption) *Resolver {
	if logger == nil {
		logger = logging.Discard()
	}
	r := &Resolver{
		folders:  folders,
		logger:   logger,
		maxDepth: DefaultMaxDepth,
		defaults: make(map[Kind][]PostResolver),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve unwraps token and maps it to a file. Unresolved tokens are logged
// once per (kind, token) and come back with an empty FullPath.
func (r *Resolver) Resolve(ctx context.Context, kind Kind, token any, post ...PostResolver) Resolution {
	chain := append(append([]PostResolver(nil), post...), r.defaults[kind]...)
	visited := make(map[uintptr]struct{})

	res, ok := r.resolveAny(kind, token, chain, 0, visited)
	if ok {
		return res
	}
	if res.DisplayName != "" && r.warned.First(string(kind)+"\x00"+res.DisplayName) {
		r.logger.WarnContext(ctx, "unresolved artifact",
			slog.String("kind", string(kind)),
			slog.String("token", res.DisplayName))
	}
	return res
}

// resolveAny is the single exhaustive resolution over Reference kinds. When no
// candidate resolves, the returned Resolution still carries the first display name seen.
func (r *Resolver) resolveAny(kind Kind, v any, chain []PostResolver, depth int, visited map[uintptr]struct{}) (Resolution, bool) {
	if depth > r.maxDepth {
		return Resolution{}, false
	}
	ref := Classify(v)
	if ref.identity != 0 {
		if _, seen := visited[ref.identity]; seen {
			return Resolution{}, false
		}
		visited[ref.identity] = struct{}{}
	}

	switch ref.Kind {
	case RefString:
		return r.resolveString(kind, ref.Str, chain)

	case RefList:
		var fallback Resolution
		for _, item := range ref.Items {
			res, ok := r.resolveAny(kind, item, chain, depth+1, visited)
			if ok {
				return res, true
			}
			if fallback.DisplayName == "" {
				fallback = res
			}
		}
		return fallback, false

	case RefMapping, RefObject:
		var fallback Resolution
		for _, key := range ConventionalKeys {
			val, present := ref.Lookup(key)
			if !present {
				continue
			}
			res, ok := r.resolveAny(kind, val, chain, depth+1, visited)
			if ok {
				return res, true
			}
			if fallback.DisplayName == "" {
				fallback = res
			}
		}
		return fallback, false

	case RefNone:
		return Resolution{}, false
	}
	return Resolution{}, false
}

// resolveString runs the leaf pipeline: direct, sanitized, extension search, post resolvers.
func (r *Resolver) resolveString(kind Kind, raw string, chain []PostResolver) (Resolution, bool) {
	clean := Sanitize(raw)
	res := Resolution{DisplayName: clean}
	if clean == "" {
		return res, false
	}

	if filepath.IsAbs(raw) && isFile(raw) {
		res.FullPath = raw
		return res, true
	}
	if filepath.IsAbs(clean) && isFile(clean) {
		res.FullPath = clean
		return res, true
	}

	if r.folders != nil {
		if p, ok := r.folders.FullPath(kind, raw); ok {
			res.FullPath = p
			return res, true
		}
		if clean != raw {
			if p, ok := r.folders.FullPath(kind, clean); ok {
				res.FullPath = p
				return res, true
			}
		}
		stem := Stem(clean)
		for _, ext := range Extensions {
			if p, ok := r.folders.FullPath(kind, stem+ext); ok {
				res.FullPath = p
				return res, true
			}
		}
	}

	for _, pr := range chain {
		if pr == nil {
			continue
		}
		if p, ok := pr(kind, clean); ok && isFile(p) {
			res.FullPath = p
			return res, true
		}
	}
	return res, false
}

// Sanitize strips symmetric quoting and surrounding whitespace, then trims the
// trailing dots and spaces Windows cannot store in file names.
func Sanitize(s string) string {
	s = strings.TrimSpace(s)
	for len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '"' || first == '\'') && first == last {
			s = strings.TrimSpace(s[1 : len(s)-1])
			continue
		}
		break
	}
	return strings.TrimRight(s, ". ")
}

// Stem removes a known artifact extension from name. Unknown suffixes such as
// ".v2" are part of the stem.
func Stem(name string) string {
	ext := filepath.Ext(name)
	for _, known := range Extensions {
		if strings.EqualFold(ext, known) {
			return strings.TrimSuffix(name, ext)
		}
	}
	return name
}

func isFile(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}
