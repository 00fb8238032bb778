package auth

import (
	"crypto/subtle"
	"encoding/base64"

	"github.com/tendant/simple-idm-login/pkg/domain"
	"golang.org/x/crypto/argon2"
)

// Argon2 parameters (OWASP recommended)
const (
	argon2Time    = 1
	argon2Memory  = 64 * 1024 // 64 MB
	argon2Threads = 4
	argon2KeyLen  = 32
)

var errInvalidIterations = domain.ErrInvalidHashIterations

// Argon2Hasher derives Argon2id digests. The account's iteration count,
// when present, is used as the Argon2 time cost.
type Argon2Hasher struct {
	Memory  uint32
	Threads uint8
	KeyLen  uint32
}

// NewArgon2Hasher returns a hasher with the default parameters.
func NewArgon2Hasher() *Argon2Hasher {
	return &Argon2Hasher{
		Memory:  argon2Memory,
		Threads: argon2Threads,
		KeyLen:  argon2KeyLen,
	}
}

// Hash returns the base64 encoded Argon2id digest of password.
func (h *Argon2Hasher) Hash(password, salt string, iterations *int) (string, error) {
	t := uint32(argon2Time)
	if iterations != nil {
		if *iterations < 1 || *iterations > domain.MaxHashIterations {
			return "", errInvalidIterations
		}
		t = uint32(*iterations)
	}

	key := argon2.IDKey([]byte(password), []byte(salt), t, h.Memory, h.Threads, h.KeyLen)
	return base64.RawStdEncoding.EncodeToString(key), nil
}

// constantTimeCompare compares two digests without short-circuiting.
func constantTimeCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
