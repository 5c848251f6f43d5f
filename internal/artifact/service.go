package artifact

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/xxmjskxx/ComfyUI-SaveImageWithMetaDataUniversal-sub000/internal/logging"
)

// Service pairs a Resolver with a HashCache for the display-level questions the
// capture formatters ask: "what is this artifact called" and "what is its hash".
type Service struct {
	resolver *Resolver
	hashes   *HashCache
	logger   *slog.Logger
}

// NewService creates a Service.
func NewService(resolver *Resolver, hashes *HashCache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Service{resolver: resolver, hashes: hashes, logger: logger}
}

// Resolver returns the underlying resolver.
func (s *Service) Resolver() *Resolver { return s.resolver }

// Hashes returns the underlying hash cache.
func (s *Service) Hashes() *HashCache { return s.hashes }

// Resolve delegates to the resolver.
func (s *Service) Resolve(ctx context.Context, kind Kind, token any, post ...PostResolver) Resolution {
	return s.resolver.Resolve(ctx, kind, token, post...)
}

// DisplayHash resolves token and returns the 10-character hash prefix, or "N/A".
func (s *Service) DisplayHash(ctx context.Context, kind Kind, token any, post ...PostResolver) string {
	res := s.resolver.Resolve(ctx, kind, token, post...)
	if !res.Resolved() {
		return NotAvailable
	}
	h, err := s.hashes.Hash(ctx, res.FullPath, DisplayHashLen)
	if err != nil {
		s.logger.WarnContext(ctx, "artifact hash failed",
			slog.String("kind", string(kind)),
			slog.String("path", res.FullPath),
			slog.String("error", err.Error()))
		return NotAvailable
	}
	return h
}

// DisplayName returns the artifact's display name: the resolved file's stem, or
// the sanitized token when unresolved, or "N/A" when nothing usable was given.
func (s *Service) DisplayName(ctx context.Context, kind Kind, token any, post ...PostResolver) string {
	res := s.resolver.Resolve(ctx, kind, token, post...)
	if res.Resolved() {
		return Stem(filepath.Base(res.FullPath))
	}
	if res.DisplayName != "" {
		return res.DisplayName
	}
	return NotAvailable
}
