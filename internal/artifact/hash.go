package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/xxmjskxx/ComfyUI-SaveImageWithMetaDataUniversal-sub000/internal/logging"
	"github.com/xxmjskxx/ComfyUI-SaveImageWithMetaDataUniversal-sub000/pkg/schema"
)

const (
	// DisplayHashLen is the prefix length used for every displayed artifact hash.
	DisplayHashLen = 10
	// DefaultSidecarExt is appended to the artifact stem to name its sidecar.
	DefaultSidecarExt = ".sha256"
	// NotAvailable stands in for names and hashes that could not be resolved.
	NotAvailable = "N/A"
)

// HashOption configures a HashCache.
type HashOption func(*HashCache)

// WithSidecarExt overrides the sidecar extension.
func WithSidecarExt(ext string) HashOption {
	return func(c *HashCache) {
		if ext == "" {
			return
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		c.ext = ext
	}
}

// WithForceRehash ignores existing sidecars and recomputes every digest.
func WithForceRehash(force bool) HashOption {
	return func(c *HashCache) { c.force = force }
}

// HashCache computes SHA-256 digests of artifact files and persists them in
// sidecar files next to the artifact. Within one cache a file is hashed at most
// once per (size, mtime); concurrent requests for one path share the work.
type HashCache struct {
	ext    string
	force  bool
	logger *slog.Logger

	group  singleflight.Group
	warned logging.Once

	mu   sync.Mutex
	memo map[memoKey]string
}

type memoKey struct {
	path  string
	size  int64
	mtime int64
}

// NewHashCache creates a HashCache.
func NewHashCache(logger *slog.Logger, opts ...HashOption) *HashCache {
	if logger == nil {
		logger = logging.Discard()
	}
	c := &HashCache{
		ext:    DefaultSidecarExt,
		logger: logger,
		memo:   make(map[memoKey]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SidecarPath returns the sidecar location for path: <stem><ext> beside the artifact.
func SidecarPath(path, ext string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ext
}

// Sidecar returns this cache's sidecar location for path.
func (c *HashCache) Sidecar(path string) string {
	return SidecarPath(path, c.ext)
}

// Hash returns the SHA-256 of the file at path, truncated to truncate hex
// characters when 0 < truncate < 64. A valid sidecar is reused without reading
// the artifact; otherwise the full digest is computed and written to the sidecar.
// A failed sidecar write is logged once per path and does not fail the call.
func (c *HashCache) Hash(ctx context.Context, path string, truncate int) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", schema.NewErrorf(schema.ErrCodeHashFailed, "stat %s: %v", path, err).WithCause(err)
	}
	if !info.Mode().IsRegular() {
		return "", schema.NewErrorf(schema.ErrCodeHashFailed, "%s is not a regular file", path)
	}
	key := memoKey{path: path, size: info.Size(), mtime: info.ModTime().UnixNano()}

	c.mu.Lock()
	full, ok := c.memo[key]
	c.mu.Unlock()

	if !ok {
		v, err, _ := c.group.Do(path, func() (any, error) {
			return c.load(ctx, path)
		})
		if err != nil {
			return "", err
		}
		full = v.(string)

		c.mu.Lock()
		c.memo[key] = full
		c.mu.Unlock()
	}

	return truncateHash(full, truncate), nil
}

// load reads a valid sidecar or computes and persists the digest.
func (c *HashCache) load(ctx context.Context, path string) (string, error) {
	sidecar := c.Sidecar(path)

	if !c.force {
		if digest, ok := readSidecar(sidecar); ok {
			return digest, nil
		} else if _, err := os.Stat(sidecar); err == nil {
			c.logger.DebugContext(ctx, "malformed sidecar, recomputing",
				slog.String("code", schema.ErrCodeMalformedSidecar),
				slog.String("sidecar", sidecar))
		}
	}

	digest, err := sha256File(path)
	if err != nil {
		return "", schema.NewErrorf(schema.ErrCodeHashFailed, "hash %s: %v", path, err).WithCause(err)
	}

	if err := os.WriteFile(sidecar, []byte(digest), 0o644); err != nil {
		if c.warned.First(sidecar) {
			c.logger.WarnContext(ctx, "cannot write hash sidecar",
				slog.String("code", schema.ErrCodeSidecarWrite),
				slog.String("sidecar", sidecar),
				slog.String("error", err.Error()))
		}
	}
	return digest, nil
}

// readSidecar returns the sidecar digest, lowercased, when it is exactly 64
// hex characters. Sidecars written by other tools may use uppercase.
func readSidecar(path string) (string, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	digest := strings.TrimSpace(string(data))
	if !IsFullDigest(digest) {
		return "", false
	}
	return strings.ToLower(digest), true
}

// IsFullDigest reports whether s is a 64-character hex SHA-256 digest in
// either case.
func IsFullDigest(s string) bool {
	if len(s) != 64 {
		return false
	}
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if (ch < '0' || ch > '9') && (ch < 'a' || ch > 'f') && (ch < 'A' || ch > 'F') {
			return false
		}
	}
	return true
}

func truncateHash(full string, n int) string {
	if n > 0 && n < len(full) {
		return full[:n]
	}
	return full
}

// sha256Hex computes the SHA-256 hex digest of r.
func sha256Hex(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// sha256File computes the SHA-256 hex digest of a file.
func sha256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return sha256Hex(f)
}
