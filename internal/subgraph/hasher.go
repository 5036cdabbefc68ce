package subgraph

import (
	"crypto/pbkdf2"
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/hanpama/aegraph/internal/errs"
)

// Hasher turns plain passwords into their stored form.
type Hasher interface {
	Hash(password string) (string, error)
	Verify(stored, password string) bool
}

// PBKDF2 stores passwords as "<salt hex>:<key hex>" using PBKDF2-SHA512.
type PBKDF2 struct {
	SaltLength int
	Iterations int
	KeyLength  int
}

// DefaultHasher uses a 16 byte salt, 100000 iterations and a 64 byte key.
var DefaultHasher Hasher = PBKDF2{SaltLength: 16, Iterations: 100000, KeyLength: 64}

func (p PBKDF2) Hash(password string) (string, error) {
	if password == "" {
		return "", errs.Validation("password", "must not be empty")
	}
	salt := make([]byte, p.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	key, err := pbkdf2.Key(sha512.New, password, salt, p.Iterations, p.KeyLength)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(key), nil
}

func (p PBKDF2) Verify(stored, password string) bool {
	if stored == "" || password == "" {
		return false
	}
	saltHex, keyHex, ok := strings.Cut(stored, ":")
	if !ok {
		return false
	}
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return false
	}
	want, err := hex.DecodeString(keyHex)
	if err != nil {
		return false
	}
	got, err := pbkdf2.Key(sha512.New, password, salt, p.Iterations, len(want))
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(want, got) == 1
}
