package dedup

import (
	"context"
	"runtime"

	"github.com/starford/ordo/internal/apperr"
	"github.com/starford/ordo/internal/checksum"
)

// Hasher bounds how many files are hashed at once.
type Hasher struct {
	slots chan struct{}
}

// NewHasher returns a Hasher allowing n concurrent hashes (NumCPU when n <= 0).
func NewHasher(n int) *Hasher {
	if n <= 0 {
		n = runtime.NumCPU()
	}
	return &Hasher{slots: make(chan struct{}, n)}
}

// Hash returns the hex SHA-256 of the file at path.
func (h *Hasher) Hash(ctx context.Context, path string) (string, error) {
	select {
	case h.slots <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	defer func() { <-h.slots }()

	sum, err := checksum.SumFile(path)
	if err != nil {
		return "", apperr.New(apperr.KindHash, "hash", path, err)
	}
	return sum, nil
}

// Verify reports whether a and b have identical content, byte for byte.
func (h *Hasher) Verify(ctx context.Context, a, b string) (bool, error) {
	select {
	case h.slots <- struct{}{}:
	case <-ctx.Done():
		return false, ctx.Err()
	}
	defer func() { <-h.slots }()

	eq, err := checksum.Equal(a, b)
	if err != nil {
		return false, apperr.New(apperr.KindHash, "verify", a, err)
	}
	return eq, nil
}
