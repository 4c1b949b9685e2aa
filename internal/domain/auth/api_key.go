// Package auth verifies admin API keys.
package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/alexedwards/argon2id"
)

// ErrInvalidKey is returned when a presented key matches no configured key.
var ErrInvalidKey = errors.New("invalid api key")

// ErrUnknownHashType is returned when a stored hash has an unrecognized format.
var ErrUnknownHashType = errors.New("unknown hash type")

// APIKey is a named admin credential. Hash is an Argon2id PHC string; the
// raw key is never stored.
type APIKey struct {
	Name string
	Hash string
}

// argon2idParams are the OWASP minimum parameters for Argon2id.
var argon2idParams = &argon2id.Params{
	Memory:      47 * 1024, // 47 MiB (OWASP minimum: 46 MiB)
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// HashKey returns an Argon2id hash of rawKey in PHC format:
// $argon2id$v=19$m=47104,t=1,p=1$<salt>$<hash>
func HashKey(rawKey string) (string, error) {
	return argon2id.CreateHash(rawKey, argon2idParams)
}

// IsArgon2idHash reports whether s looks like an Argon2id PHC string with
// decodable parameters.
func IsArgon2idHash(s string) bool {
	if !strings.HasPrefix(s, "$argon2id$") {
		return false
	}
	_, _, _, err := argon2id.DecodeHash(s)
	return err == nil
}

// VerifyKey checks rawKey against an Argon2id hash.
// Returns ErrUnknownHashType for anything that is not Argon2id.
func VerifyKey(rawKey, storedHash string) (bool, error) {
	if !strings.HasPrefix(storedHash, "$argon2id$") {
		return false, ErrUnknownHashType
	}
	return safeArgon2idCompare(rawKey, storedHash)
}

// safeArgon2idCompare converts panics from malformed parameters (t=0, p=0)
// into errors.
func safeArgon2idCompare(rawKey, storedHash string) (match bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			match = false
			err = fmt.Errorf("invalid argon2id hash parameters: %v", r)
		}
	}()
	return argon2id.ComparePasswordAndHash(rawKey, storedHash)
}

// KeyRing authenticates raw keys against a fixed set of APIKeys.
//
// Argon2id is deliberately slow, so successful verifications are remembered
// by the SHA-256 of the raw key. Failed attempts are not cached.
type KeyRing struct {
	keys []APIKey

	mu       sync.RWMutex
	verified map[string]string // sha256(raw) -> key name
}

// NewKeyRing creates a KeyRing. Keys with an unusable hash are rejected.
func NewKeyRing(keys []APIKey) (*KeyRing, error) {
	for _, k := range keys {
		if !IsArgon2idHash(k.Hash) {
			return nil, fmt.Errorf("api key %q: %w", k.Name, ErrUnknownHashType)
		}
	}
	cp := make([]APIKey, len(keys))
	copy(cp, keys)
	return &KeyRing{keys: cp, verified: make(map[string]string)}, nil
}

// Len returns the number of configured keys.
func (r *KeyRing) Len() int {
	if r == nil {
		return 0
	}
	return len(r.keys)
}

// Authenticate returns the name of the key matching rawKey.
func (r *KeyRing) Authenticate(rawKey string) (string, error) {
	if r == nil || rawKey == "" {
		return "", ErrInvalidKey
	}
	sum := sha256.Sum256([]byte(rawKey))
	fp := hex.EncodeToString(sum[:])

	r.mu.RLock()
	name, ok := r.verified[fp]
	r.mu.RUnlock()
	if ok {
		return name, nil
	}

	for _, k := range r.keys {
		match, err := VerifyKey(rawKey, k.Hash)
		if err != nil || !match {
			continue
		}
		r.mu.Lock()
		r.verified[fp] = k.Name
		r.mu.Unlock()
		return k.Name, nil
	}
	return "", ErrInvalidKey
}
