package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/xxmjskxx/ComfyUI-SaveImageWithMetaDataUniversal-sub000/internal/artifact"
	"github.com/xxmjskxx/ComfyUI-SaveImageWithMetaDataUniversal-sub000/internal/capture"
	"github.com/xxmjskxx/ComfyUI-SaveImageWithMetaDataUniversal-sub000/internal/config"
	"github.com/xxmjskxx/ComfyUI-SaveImageWithMetaDataUniversal-sub000/internal/expressions"
	"github.com/xxmjskxx/ComfyUI-SaveImageWithMetaDataUniversal-sub000/internal/logging"
	"github.com/xxmjskxx/ComfyUI-SaveImageWithMetaDataUniversal-sub000/internal/rules"
)

// app holds the wired components shared by every subcommand.
type app struct {
	cfg       config.Config
	logger    *slog.Logger
	loras     *artifact.LoraIndex
	artifacts *artifact.Service
	engine    *capture.Engine
}

// newApp loads configuration and wires artifacts, rules, capabilities and the
// capture engine. Logs go to logOut.
func newApp(g *globalFlags, logOut io.Writer) (*app, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, err
	}
	if g.logLevel != "" {
		cfg.LogLevel = g.logLevel
	}
	logger := logging.NewLogger(cfg.LogLevel, logOut)

	roots := cfg.Folders()
	loras := artifact.NewLoraIndex(roots[artifact.KindLoRA], logger)
	resolver := artifact.NewResolver(roots, logger,
		artifact.WithMaxDepth(cfg.ResolverMaxDepth),
		artifact.WithPostResolver(artifact.KindLoRA, loras.PostResolver()),
	)
	hashes := artifact.NewHashCache(logger,
		artifact.WithSidecarExt(cfg.SidecarExt),
		artifact.WithForceRehash(cfg.ForceRehash),
	)
	svc := artifact.NewService(resolver, hashes, logger)

	reg := rules.Defaults()
	set, err := expressions.NewSet()
	if err != nil {
		return nil, fmt.Errorf("expression engines: %w", err)
	}
	caps := rules.NewCapabilities(set)
	if err := capture.RegisterBuiltins(caps, capture.Deps{Registry: reg, Artifacts: svc}); err != nil {
		return nil, fmt.Errorf("register capabilities: %w", err)
	}

	return &app{
		cfg:       cfg,
		logger:    logger,
		loras:     loras,
		artifacts: svc,
		engine:    capture.NewEngine(reg, caps, logger),
	}, nil
}

// readInput reads path, or stdin when path is "-".
func readInput(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}
