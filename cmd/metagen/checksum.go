package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xxmjskxx/ComfyUI-SaveImageWithMetaDataUniversal-sub000/internal/artifact"
)

// parseChecksumFile parses a standard checksums file (e.g. shasum -a 256 output).
// Each line: "<hex>  <filename>" or "<hex> *<filename>".
// Returns map[filename]hex with lowercase digests. Malformed lines are skipped.
func parseChecksumFile(r io.Reader) (map[string]string, error) {
	result := make(map[string]string)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		hash, name, ok := strings.Cut(line, " ")
		if !ok {
			continue
		}
		name = strings.TrimPrefix(strings.TrimSpace(name), "*")
		hash = strings.ToLower(hash)
		if name == "" || !artifact.IsFullDigest(hash) {
			continue
		}
		result[name] = hash
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading checksums: %w", err)
	}
	return result, nil
}

// checkResult is the verification outcome for one listed file.
type checkResult struct {
	Name string
	OK   bool
	Err  error
}

// verifyChecksums hashes every file listed in sums, relative to dir, and
// compares it with the listed digest. Results are sorted by name.
func verifyChecksums(ctx context.Context, hashes *artifact.HashCache, dir string, sums map[string]string) []checkResult {
	names := make([]string, 0, len(sums))
	for name := range sums {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make([]checkResult, 0, len(names))
	for _, name := range names {
		got, err := hashes.Hash(ctx, filepath.Join(dir, filepath.FromSlash(name)), 0)
		results = append(results, checkResult{Name: name, OK: err == nil && got == sums[name], Err: err})
	}
	return results
}
