package security

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// CodeChecker compares a submitted permanent-delete code with the configured
// secret without leaking timing information.
type CodeChecker struct {
	digest []byte
	hash   []byte
}

// NewCodeChecker accepts either a plain code or a bcrypt hash of it. The
// hash wins when both are set.
func NewCodeChecker(plain string, bcryptHash string) (*CodeChecker, error) {
	bcryptHash = strings.TrimSpace(bcryptHash)
	if bcryptHash != "" {
		if _, err := bcrypt.Cost([]byte(bcryptHash)); err != nil {
			return nil, errors.New("permanent delete code hash is not a bcrypt hash")
		}
		return &CodeChecker{hash: []byte(bcryptHash)}, nil
	}

	if plain == "" {
		return nil, errors.New("permanent delete code is not configured")
	}

	sum := sha256.Sum256([]byte(plain))
	return &CodeChecker{digest: sum[:]}, nil
}

func (c *CodeChecker) Matches(code string) bool {
	if c == nil {
		return false
	}

	if len(c.hash) > 0 {
		return bcrypt.CompareHashAndPassword(c.hash, []byte(code)) == nil
	}

	sum := sha256.Sum256([]byte(code))
	return subtle.ConstantTimeCompare(sum[:], c.digest) == 1
}
