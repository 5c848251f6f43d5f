// Package config loads metagen settings.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/xxmjskxx/ComfyUI-SaveImageWithMetaDataUniversal-sub000/internal/artifact"
	"github.com/xxmjskxx/ComfyUI-SaveImageWithMetaDataUniversal-sub000/internal/trace"
	"github.com/xxmjskxx/ComfyUI-SaveImageWithMetaDataUniversal-sub000/pkg/schema"
)

// Config holds all metagen configuration.
// Priority: env vars > settings file > defaults.
type Config struct {
	ModelsDir        string              `json:"models_dir" yaml:"models_dir"`
	ModelRoots       map[string][]string `json:"model_roots" yaml:"model_roots"`
	LoraRoots        []string            `json:"lora_roots" yaml:"lora_roots"`
	SidecarExt       string              `json:"sidecar_ext" yaml:"sidecar_ext"`
	ForceRehash      bool                `json:"force_rehash" yaml:"force_rehash"`
	SamplerMethod    string              `json:"sampler_method" yaml:"sampler_method"`
	SamplerNodeID    string              `json:"sampler_node_id" yaml:"sampler_node_id"`
	MaxSamplers      int                 `json:"max_samplers" yaml:"max_samplers"`
	Multiline        bool                `json:"multiline" yaml:"multiline"`
	Trimmed          bool                `json:"trimmed" yaml:"trimmed"`
	LogLevel         string              `json:"log_level" yaml:"log_level"`
	ResolverMaxDepth int                 `json:"resolver_max_depth" yaml:"resolver_max_depth"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		ModelsDir:        "models",
		SidecarExt:       artifact.DefaultSidecarExt,
		SamplerMethod:    string(trace.MethodFarthest),
		MaxSamplers:      8,
		LogLevel:         "info",
		ResolverMaxDepth: artifact.DefaultMaxDepth,
	}
}

// Dir is the per-user settings directory.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".metagen"
	}
	return filepath.Join(home, ".metagen")
}

// DefaultPath is the settings file read when no path is given.
func DefaultPath() string {
	return filepath.Join(Dir(), "settings.json")
}

// Load layers defaults, the settings file at path and METADATA_* env vars.
// A missing file is ignored; a malformed one is an error. An empty path reads
// DefaultPath.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultPath()
	}

	if data, err := os.ReadFile(path); err == nil {
		if err := decode(path, data, &cfg); err != nil {
			return Config{}, schema.NewErrorf(schema.ErrCodeConfig, "parse %s", path).WithCause(err)
		}
	} else if !os.IsNotExist(err) {
		return Config{}, schema.NewErrorf(schema.ErrCodeConfig, "read %s", path).WithCause(err)
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	default:
		return json.Unmarshal(data, cfg)
	}
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("METADATA_MODELS_DIR"); v != "" {
		cfg.ModelsDir = v
	}
	if v := os.Getenv("METADATA_LORA_ROOTS"); v != "" {
		cfg.LoraRoots = filepath.SplitList(v)
	}
	if v := os.Getenv("METADATA_SIDECAR_EXT"); v != "" {
		cfg.SidecarExt = v
	}
	if v := os.Getenv("METADATA_SAMPLER_METHOD"); v != "" {
		cfg.SamplerMethod = v
	}
	if v := os.Getenv("METADATA_SAMPLER_NODE_ID"); v != "" {
		cfg.SamplerNodeID = v
	}
	if v := os.Getenv("METADATA_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	for name, dst := range map[string]*bool{
		"METADATA_FORCE_REHASH": &cfg.ForceRehash,
		"METADATA_MULTILINE":    &cfg.Multiline,
		"METADATA_TRIMMED":      &cfg.Trimmed,
	} {
		v := os.Getenv(name)
		if v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return schema.NewErrorf(schema.ErrCodeConfig, "%s: %q is not a boolean", name, v)
		}
		*dst = b
	}

	for name, dst := range map[string]*int{
		"METADATA_MAX_SAMPLERS":       &cfg.MaxSamplers,
		"METADATA_RESOLVER_MAX_DEPTH": &cfg.ResolverMaxDepth,
	} {
		v := os.Getenv(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return schema.NewErrorf(schema.ErrCodeConfig, "%s: %q is not an integer", name, v)
		}
		*dst = n
	}
	return nil
}

// Validate rejects settings no component can run with.
func (c Config) Validate() error {
	if _, err := trace.ParseMethod(c.SamplerMethod); err != nil {
		return schema.NewError(schema.ErrCodeConfig, "invalid sampler_method").WithCause(err)
	}
	if c.MaxSamplers < 0 {
		return schema.NewErrorf(schema.ErrCodeConfig, "max_samplers must not be negative, got %d", c.MaxSamplers)
	}
	if c.ResolverMaxDepth < 1 {
		return schema.NewErrorf(schema.ErrCodeConfig, "resolver_max_depth must be at least 1, got %d", c.ResolverMaxDepth)
	}
	if c.SidecarExt != "" && !strings.HasPrefix(c.SidecarExt, ".") {
		return schema.NewErrorf(schema.ErrCodeConfig, "sidecar_ext %q must start with a dot", c.SidecarExt)
	}
	return nil
}

// kindDirs lists the models-dir subfolders scanned for each kind.
var kindDirs = map[artifact.Kind][]string{
	artifact.KindCheckpoint: {"checkpoints"},
	artifact.KindVAE:        {"vae"},
	artifact.KindLoRA:       {"loras"},
	artifact.KindUNet:       {"unet", "diffusion_models"},
	artifact.KindCLIP:       {"clip", "text_encoders"},
	artifact.KindEmbedding:  {"embeddings"},
	artifact.KindUpscale:    {"upscale_models"},
}

// Folders returns the per-kind search roots: explicit model_roots first, then
// the models-dir subfolders. LoRA roots also include lora_roots.
func (c Config) Folders() artifact.Roots {
	roots := make(artifact.Roots)
	for kind, dirs := range c.ModelRoots {
		roots[artifact.Kind(kind)] = append(roots[artifact.Kind(kind)], dirs...)
	}
	roots[artifact.KindLoRA] = append(roots[artifact.KindLoRA], c.LoraRoots...)
	if c.ModelsDir != "" {
		for kind, dirs := range kindDirs {
			for _, d := range dirs {
				roots[kind] = append(roots[kind], filepath.Join(c.ModelsDir, d))
			}
		}
	}
	for kind, dirs := range roots {
		roots[kind] = dedup(dirs)
	}
	return roots
}

// Method returns the configured sampler selection method.
func (c Config) Method() trace.Method {
	m, err := trace.ParseMethod(c.SamplerMethod)
	if err != nil {
		return trace.MethodFarthest
	}
	return m
}

func dedup(dirs []string) []string {
	seen := make(map[string]bool, len(dirs))
	out := dirs[:0]
	for _, d := range dirs {
		clean := filepath.Clean(d)
		if seen[clean] {
			continue
		}
		seen[clean] = true
		out = append(out, clean)
	}
	return out
}
