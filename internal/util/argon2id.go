package util

import (
	"fmt"

	"golang.org/x/crypto/argon2"
)

const (
	// Floors follow the OWASP interactive recommendation.
	MinArgon2Time      = 1
	MinArgon2MemoryKiB = 19 * 1024
	MinArgon2Parallel  = 1

	maxArgon2Time      = 16
	maxArgon2MemoryKiB = 1024 * 1024
	minArgon2idKeyLen  = 16
	maxArgon2idKeyLen  = 64
)

type Argon2idParams struct {
	Time        uint32 `json:"time"`
	MemoryKiB   uint32 `json:"memory"`
	Parallelism uint8  `json:"parallelism"`
	KeyLen      uint32 `json:"key_len"`
}

// DefaultArgon2idParams returns the parameters used for operator passwords.
func DefaultArgon2idParams() Argon2idParams {
	return Argon2idParams{
		Time:        3,
		MemoryKiB:   64 * 1024,
		Parallelism: 4,
		KeyLen:      32,
	}
}

// ValidateArgon2idParams rejects parameter sets that are unusable or that
// could be abused to force unbounded work.
func ValidateArgon2idParams(p Argon2idParams) error {
	if p.Time < MinArgon2Time || p.Time > maxArgon2Time {
		return fmt.Errorf("argon2id time must be between %d and %d, got %d", MinArgon2Time, maxArgon2Time, p.Time)
	}
	if p.MemoryKiB < MinArgon2MemoryKiB || p.MemoryKiB > maxArgon2MemoryKiB {
		return fmt.Errorf("argon2id memory must be between %dKiB and %dKiB, got %dKiB", MinArgon2MemoryKiB, maxArgon2MemoryKiB, p.MemoryKiB)
	}
	if p.Parallelism < MinArgon2Parallel {
		return fmt.Errorf("argon2id parallelism must be at least 1")
	}
	if p.KeyLen < minArgon2idKeyLen || p.KeyLen > maxArgon2idKeyLen {
		return fmt.Errorf("argon2id key length must be between %d and %d bytes, got %d", minArgon2idKeyLen, maxArgon2idKeyLen, p.KeyLen)
	}
	return nil
}

// DeriveArgon2idKey rejects params that fail ValidateArgon2idParams.
func DeriveArgon2idKey(passphrase string, salt []byte, params Argon2idParams) ([]byte, error) {
	if err := ValidateArgon2idParams(params); err != nil {
		return nil, err
	}
	key := argon2.IDKey([]byte(passphrase), salt, params.Time, params.MemoryKiB, params.Parallelism, params.KeyLen)
	return key, nil
}
