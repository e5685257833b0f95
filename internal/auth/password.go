package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/scrypt"
)

const (
	// DefaultCost is log2 of the scrypt N parameter used by HashPassword.
	DefaultCost = 15
	// MaxCost bounds accepted hashes; scrypt needs 1 KiB << cost of memory.
	MaxCost = 20

	saltLen = 16
	keyLen  = 64
)

var errHashFormat = errors.New("invalid password hash: want $7$cost$salt$hash")

// HashPassword returns an scrypt hash of password with a random salt, in the
// form "$7$cost$salt$hash" with base64 salt and hash.
func HashPassword(password string, cost int) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("salt: %w", err)
	}
	return hashWithSalt(password, salt, cost)
}

func hashWithSalt(password string, salt []byte, cost int) (string, error) {
	dk, err := deriveKey(password, salt, cost)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("$7$%d$%s$%s", cost,
		base64.StdEncoding.EncodeToString(salt),
		base64.StdEncoding.EncodeToString(dk)), nil
}

func deriveKey(password string, salt []byte, cost int) ([]byte, error) {
	if err := checkCost(cost); err != nil {
		return nil, err
	}
	dk, err := scrypt.Key([]byte(password), salt, 1<<cost, 8, 1, keyLen)
	if err != nil {
		return nil, fmt.Errorf("scrypt: %w", err)
	}
	return dk, nil
}

func checkCost(cost int) error {
	if cost < 1 || cost > MaxCost {
		return fmt.Errorf("scrypt cost %d out of range 1..%d", cost, MaxCost)
	}
	return nil
}

// hash is a parsed "$7$cost$salt$hash" string.
type hash struct {
	cost int
	salt []byte
	key  []byte
}

func parseHash(s string) (hash, error) {
	parts := strings.Split(s, "$")
	if len(parts) != 5 || parts[0] != "" || parts[1] != "7" {
		return hash{}, errHashFormat
	}
	cost, err := strconv.Atoi(parts[2])
	if err != nil {
		return hash{}, fmt.Errorf("%w: cost: %w", errHashFormat, err)
	}
	if err := checkCost(cost); err != nil {
		return hash{}, fmt.Errorf("%w: %w", errHashFormat, err)
	}
	salt, err := base64.StdEncoding.DecodeString(parts[3])
	if err != nil {
		return hash{}, fmt.Errorf("%w: salt: %w", errHashFormat, err)
	}
	key, err := base64.StdEncoding.DecodeString(parts[4])
	if err != nil || len(key) == 0 {
		return hash{}, fmt.Errorf("%w: hash", errHashFormat)
	}
	return hash{cost: cost, salt: salt, key: key}, nil
}

func (h hash) verify(password string) bool {
	dk, err := deriveKey(password, h.salt, h.cost)
	if err != nil || len(dk) != len(h.key) {
		return false
	}
	return subtle.ConstantTimeCompare(dk, h.key) == 1
}

// VerifyPassword reports whether password matches an encoded hash from
// HashPassword.
func VerifyPassword(encoded, password string) (bool, error) {
	h, err := parseHash(encoded)
	if err != nil {
		return false, err
	}
	return h.verify(password), nil
}
