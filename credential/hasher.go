package credential

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/semaphore"

	"github.com/togglehq/gatehouse/internal/util"
)

// Hasher runs key derivations with bounded concurrency so a burst of login
// attempts cannot monopolize CPU and memory. Each argon2id derivation holds
// tens of MiB for its duration.
type Hasher struct {
	sem    *semaphore.Weighted
	params util.Argon2idParams
}

// HasherOption configures a Hasher.
type HasherOption func(*Hasher)

// WithConcurrency bounds the number of derivations running at once.
func WithConcurrency(n int) HasherOption {
	return func(h *Hasher) {
		if n > 0 {
			h.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithParams overrides the argon2id parameters used by Hash.
func WithParams(p util.Argon2idParams) HasherOption {
	return func(h *Hasher) {
		h.params = p
	}
}

// NewHasher returns a Hasher limited to GOMAXPROCS concurrent derivations
// unless configured otherwise.
func NewHasher(opts ...HasherOption) *Hasher {
	h := &Hasher{
		sem:    semaphore.NewWeighted(int64(runtime.GOMAXPROCS(0))),
		params: params,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Hash is the context-aware form of the package-level Hash.
func (h *Hasher) Hash(ctx context.Context, password string, salt []byte) (string, error) {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("waiting for hash slot: %w", err)
	}
	defer h.sem.Release(1)
	return hashWith(password, salt, h.params)
}

// Verify is the context-aware form of the package-level Verify. It returns
// an error only when ctx ends before a derivation slot frees up.
func (h *Hasher) Verify(ctx context.Context, password, stored string) (bool, error) {
	if !IsHashed(stored) {
		return verifyWith(password, stored, h.params), nil
	}
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return false, fmt.Errorf("waiting for hash slot: %w", err)
	}
	defer h.sem.Release(1)
	return verifyWith(password, stored, h.params), nil
}
