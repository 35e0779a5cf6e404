// Package hashing computes content digests for files.
//
// Digests use the "<algorithm>:<hex>" form from go-digest so they can be
// stored, compared and printed without carrying the algorithm separately.
package hashing

import (
	"context"
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/opencontainers/go-digest"
)

const (
	SHA256 = "sha256"
	SHA384 = "sha384"
	SHA512 = "sha512"
	XXH64  = "xxh64"

	// DefaultAlgorithm is used when no algorithm is configured
	DefaultAlgorithm = SHA256

	// DefaultPartialWindow is the leading byte window hashed by the partial filter
	DefaultPartialWindow int64 = 64 * 1024

	readBufferSize = 128 * 1024
)

// Algorithm describes a pluggable hash function
type Algorithm struct {
	Name    string
	Size    int
	NewFunc func() hash.Hash
}

var algorithms = map[string]Algorithm{
	SHA256: {Name: SHA256, Size: sha256.Size, NewFunc: sha256.New},
	SHA384: {Name: SHA384, Size: sha512.Size384, NewFunc: sha512.New384},
	SHA512: {Name: SHA512, Size: sha512.Size, NewFunc: sha512.New},
	XXH64:  {Name: XXH64, Size: 8, NewFunc: func() hash.Hash { return xxhash.New() }},
}

// ErrUnsupportedAlgorithm is returned for unknown algorithm names
var ErrUnsupportedAlgorithm = errors.New("unsupported hash algorithm")

// Lookup returns the algorithm registered under name
func Lookup(name string) (Algorithm, error) {
	alg, ok := algorithms[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Algorithm{}, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, name)
	}
	return alg, nil
}

// Names lists the supported algorithm names in sorted order
func Names() []string {
	names := make([]string, 0, len(algorithms))
	for name := range algorithms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Strong reports whether the algorithm is collision resistant
func (a Algorithm) Strong() bool {
	return a.Name != XXH64
}

// PartialKey names the cache slot for a prefix digest of the given window
func PartialKey(algorithm string, window int64) string {
	return fmt.Sprintf("%s@%d", algorithm, window)
}

// HashFile computes the digest of a whole file. The read loop polls ctx
// between chunks so a cancelled or timed-out hash stops promptly.
func HashFile(ctx context.Context, path string, alg Algorithm) (digest.Digest, error) {
	return hashFile(ctx, path, alg, -1)
}

// HashPrefix computes the digest of the first window bytes of a file.
// Files no larger than window are hashed in full.
func HashPrefix(ctx context.Context, path string, alg Algorithm, window int64) (digest.Digest, error) {
	if window <= 0 {
		return "", fmt.Errorf("invalid partial window %d", window)
	}
	return hashFile(ctx, path, alg, window)
}

// HashReader computes the digest of everything readable from r
func HashReader(ctx context.Context, r io.Reader, alg Algorithm) (digest.Digest, error) {
	h := alg.NewFunc()
	if err := copyContext(ctx, h, r); err != nil {
		return "", err
	}
	return format(alg, h), nil
}

func hashFile(ctx context.Context, path string, alg Algorithm, limit int64) (digest.Digest, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	var r io.Reader = file
	if limit > 0 {
		r = io.LimitReader(file, limit)
	}

	h := alg.NewFunc()
	if err := copyContext(ctx, h, r); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return format(alg, h), nil
}

func copyContext(ctx context.Context, dst io.Writer, src io.Reader) error {
	buf := make([]byte, readBufferSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func format(alg Algorithm, h hash.Hash) digest.Digest {
	return digest.NewDigestFromEncoded(digest.Algorithm(alg.Name), fmt.Sprintf("%x", h.Sum(nil)))
}

// Short returns an abbreviated digest for display
func Short(d digest.Digest) string {
	if !strings.Contains(string(d), ":") {
		return string(d)
	}
	enc := d.Encoded()
	if len(enc) > 12 {
		enc = enc[:12]
	}
	return d.Algorithm().String() + ":" + enc
}
