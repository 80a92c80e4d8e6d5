// Package checksum computes the file digests Dataverse records on
// registration.
package checksum

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"
)

// Algorithm is a checksum type name as Dataverse spells it.
type Algorithm string

const (
	MD5    Algorithm = "MD5"
	SHA1   Algorithm = "SHA-1"
	SHA256 Algorithm = "SHA-256"
	SHA512 Algorithm = "SHA-512"
)

// Algorithms lists the supported types.
var Algorithms = []Algorithm{MD5, SHA1, SHA256, SHA512}

// Parse accepts a type name case-insensitively, with or without the dash
// ("sha256", "SHA-256").
func Parse(name string) (Algorithm, error) {
	norm := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(name), "-", ""))
	for _, alg := range Algorithms {
		if strings.ReplaceAll(string(alg), "-", "") == norm {
			return alg, nil
		}
	}
	return "", fmt.Errorf("unsupported checksum type %q (use MD5, SHA-1, SHA-256 or SHA-512)", name)
}

func (a Algorithm) newHash() (hash.Hash, error) {
	switch a {
	case MD5:
		return md5.New(), nil
	case SHA1:
		return sha1.New(), nil
	case SHA256:
		return sha256.New(), nil
	case SHA512:
		return sha512.New(), nil
	default:
		return nil, fmt.Errorf("unsupported checksum type %q", string(a))
	}
}

// Compute digests r and returns lowercase hex. It stops early with
// ctx.Err() when ctx is cancelled.
func Compute(ctx context.Context, r io.Reader, alg Algorithm) (string, error) {
	h, err := alg.newHash()
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(h, &ctxReader{ctx: ctx, r: r}); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ComputeAt digests the first size bytes of r.
func ComputeAt(ctx context.Context, r io.ReaderAt, size int64, alg Algorithm) (string, error) {
	return Compute(ctx, io.NewSectionReader(r, 0, size), alg)
}

// ComputeFile digests the file at path.
func ComputeFile(ctx context.Context, path string, alg Algorithm) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()
	return Compute(ctx, f, alg)
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
