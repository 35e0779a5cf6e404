package hashing

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/opencontainers/go-digest"
)

// Source resolves a digest for a file under an algorithm key. A key is
// either a plain algorithm name ("sha256") or a prefix key built with
// PartialKey ("xxh64@65536").
type Source interface {
	GetOrCompute(ctx context.Context, path, key string) (digest.Digest, error)
}

// ParseKey splits an algorithm key into its algorithm and prefix window.
// window is zero for full-content keys.
func ParseKey(key string) (Algorithm, int64, error) {
	name, rawWindow, partial := strings.Cut(key, "@")
	alg, err := Lookup(name)
	if err != nil {
		return Algorithm{}, 0, err
	}
	if !partial {
		return alg, 0, nil
	}

	window, err := strconv.ParseInt(rawWindow, 10, 64)
	if err != nil || window <= 0 {
		return Algorithm{}, 0, fmt.Errorf("invalid partial window in key %q", key)
	}
	return alg, window, nil
}

// Compute hashes path according to key, bounded by timeout when positive
func Compute(ctx context.Context, path, key string, timeout time.Duration) (digest.Digest, error) {
	alg, window, err := ParseKey(key)
	if err != nil {
		return "", err
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if window > 0 {
		return HashPrefix(ctx, path, alg, window)
	}
	return HashFile(ctx, path, alg)
}

// Direct is an uncached Source
type Direct struct {
	Timeout time.Duration
}

// GetOrCompute always hashes the file
func (d Direct) GetOrCompute(ctx context.Context, path, key string) (digest.Digest, error) {
	return Compute(ctx, path, key, d.Timeout)
}
