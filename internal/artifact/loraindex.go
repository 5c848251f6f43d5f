package artifact

import (
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/text/unicode/norm"

	"github.com/xxmjskxx/ComfyUI-SaveImageWithMetaDataUniversal-sub000/internal/logging"
)

// loraGlob matches every supported artifact extension at any depth.
const loraGlob = "**/*.{safetensors,st,ckpt,pt,bin}"

// IndexEntry is one indexed LoRA file.
type IndexEntry struct {
	Filename string
	AbsPath  string
}

// LoraIndex maps LoRA file stems to files across every configured root. It is
// built lazily, once, on first lookup; the first occurrence of a stem wins.
// It is the last-resort lookup for names that did not come from a loader
// widget, such as inline <lora:name:weight> tags.
type LoraIndex struct {
	roots  []string
	logger *slog.Logger

	once    sync.Once
	entries map[string]IndexEntry
}

// NewLoraIndex creates an index over roots. No filesystem access happens until
// the first Lookup.
func NewLoraIndex(roots []string, logger *slog.Logger) *LoraIndex {
	if logger == nil {
		logger = logging.Discard()
	}
	return &LoraIndex{roots: roots, logger: logger}
}

// Lookup finds a LoRA by name. The name may carry a sub-directory, a known
// extension, quotes or trailing dots; only its base stem is matched.
func (ix *LoraIndex) Lookup(name string) (IndexEntry, bool) {
	ix.once.Do(ix.build)
	key := indexKey(name)
	if key == "" {
		return IndexEntry{}, false
	}
	e, ok := ix.entries[key]
	return e, ok
}

// Len returns the number of indexed stems, building the index if needed.
func (ix *LoraIndex) Len() int {
	ix.once.Do(ix.build)
	return len(ix.entries)
}

// PostResolver exposes the index to the Resolver. It answers only for LoRAs.
func (ix *LoraIndex) PostResolver() PostResolver {
	return func(kind Kind, name string) (string, bool) {
		if kind != KindLoRA {
			return "", false
		}
		e, ok := ix.Lookup(name)
		if !ok {
			return "", false
		}
		return e.AbsPath, true
	}
}

func (ix *LoraIndex) build() {
	ix.entries = make(map[string]IndexEntry)
	for _, root := range ix.roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			ix.logger.Warn("skipping lora root", slog.String("root", root), slog.String("error", err.Error()))
			continue
		}
		if info, err := os.Stat(abs); err != nil || !info.IsDir() {
			ix.logger.Debug("lora root missing", slog.String("root", abs))
			continue
		}

		matches, err := doublestar.Glob(os.DirFS(abs), loraGlob, doublestar.WithFilesOnly())
		if err != nil {
			ix.logger.Warn("lora index scan failed", slog.String("root", abs), slog.String("error", err.Error()))
			continue
		}
		for _, rel := range matches {
			base := path.Base(rel)
			key := norm.NFC.String(Stem(base))
			if _, exists := ix.entries[key]; exists {
				continue
			}
			ix.entries[key] = IndexEntry{
				Filename: base,
				AbsPath:  filepath.Join(abs, filepath.FromSlash(rel)),
			}
		}
	}
	ix.logger.Debug("lora index built", slog.Int("entries", len(ix.entries)))
}

func indexKey(name string) string {
	clean := Sanitize(name)
	clean = strings.ReplaceAll(clean, "\\", "/")
	if clean == "" {
		return ""
	}
	return norm.NFC.String(Stem(path.Base(clean)))
}
