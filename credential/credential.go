// Package credential implements one-way password hashing and constant-time
// verification for operator credentials.
//
// Encoded hashes have the form "<tag>:<salt-b64>:<key-b64>". Hash always
// produces the argon2id tag. Verify also accepts scrypt-tagged values written
// by earlier deployments. A stored value that carries no recognized tag is a
// legacy plaintext and is compared directly, in constant time.
package credential

import (
	"crypto/subtle"
	"fmt"
	"strings"

	"golang.org/x/crypto/scrypt"

	"github.com/togglehq/gatehouse/internal/util"
)

const (
	TagArgon2id = "argon2id"
	TagScrypt   = "scrypt"

	// SaltLen is the length of generated salts.
	SaltLen = 16

	scryptN = 1 << 14
	scryptR = 8
	scryptP = 1
)

var params = util.DefaultArgon2idParams()

// Hash derives a key from password and encodes it with its salt. A nil salt
// is replaced by SaltLen random bytes; callers pass an explicit salt only
// for deterministic tests.
func Hash(password string, salt []byte) (string, error) {
	return hashWith(password, salt, params)
}

func hashWith(password string, salt []byte, p util.Argon2idParams) (string, error) {
	if len(salt) == 0 {
		var err error
		if salt, err = util.RandomBytes(SaltLen); err != nil {
			return "", err
		}
	}
	key, err := util.DeriveArgon2idKey(util.Normalize(password), salt, p)
	if err != nil {
		return "", fmt.Errorf("deriving password key: %w", err)
	}
	defer util.WipeBytes(key)
	return TagArgon2id + ":" + util.B64Encode(salt) + ":" + util.B64Encode(key), nil
}

// Verify reports whether password matches stored. It never returns an error:
// malformed tagged values simply do not match.
func Verify(password, stored string) bool {
	return verifyWith(password, stored, params)
}

func verifyWith(password, stored string, p util.Argon2idParams) bool {
	if stored == "" {
		return false
	}
	tag, salt, want, tagged, ok := parse(stored)
	if !tagged {
		return constantTimeEqual(password, stored)
	}
	if !ok {
		return false
	}

	var got []byte
	switch tag {
	case TagArgon2id:
		p.KeyLen = uint32(len(want))
		key, err := util.DeriveArgon2idKey(util.Normalize(password), salt, p)
		if err != nil {
			return false
		}
		got = key
	case TagScrypt:
		key, err := scrypt.Key([]byte(password), salt, scryptN, scryptR, scryptP, len(want))
		if err != nil {
			return false
		}
		got = key
	}
	defer util.WipeBytes(got)
	return subtle.ConstantTimeCompare(got, want) == 1
}

// IsHashed reports whether stored carries a recognized algorithm tag.
func IsHashed(stored string) bool {
	_, _, _, tagged, _ := parse(stored)
	return tagged
}

// parse splits an encoded hash. tagged is true when the value starts with a
// recognized tag; ok is true when the remaining fields also decode.
func parse(stored string) (tag string, salt, key []byte, tagged, ok bool) {
	parts := strings.Split(stored, ":")
	switch parts[0] {
	case TagArgon2id, TagScrypt:
		tag = parts[0]
	default:
		return "", nil, nil, false, false
	}
	if len(parts) != 3 {
		return tag, nil, nil, true, false
	}
	salt, err := util.B64Decode(parts[1])
	if err != nil || len(salt) == 0 {
		return tag, nil, nil, true, false
	}
	key, err = util.B64Decode(parts[2])
	if err != nil || len(key) < 16 || len(key) > 64 {
		return tag, nil, nil, true, false
	}
	return tag, salt, key, true, true
}

// constantTimeEqual compares a and b without early exit on the first
// differing byte. Values of different length are rejected immediately.
func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
