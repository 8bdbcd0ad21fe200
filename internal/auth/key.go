// Package auth implements TrueSight API key material.
//
// Purpose:
//
//	Generation of project API keys, Argon2id hashing and verification of the
//	stored digest, and the lookup cache used by the ingestion edge.
//
// Key Responsibilities:
//
//	Keys follow the shape ts_{live|test}_<32 lowercase alphanumerics>. The
//	first 8 characters are the prefix persisted alongside the hash and used
//	to narrow the candidate set during authentication.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	argonTime    uint32 = 1
	argonMemory  uint32 = 64 * 1024
	argonThreads uint8  = 4
	argonKeyLen  uint32 = 32
	saltLen             = 16

	// PrefixLen is the number of leading key characters stored in clear.
	PrefixLen = 8

	secretLen     = 32
	secretCharset = "abcdefghijklmnopqrstuvwxyz0123456789"
)

// Environment names for API keys.
const (
	EnvironmentLive = "live"
	EnvironmentTest = "test"
)

var keyPattern = regexp.MustCompile(`^ts_(live|test)_[a-z0-9]{32}$`)

// ValidEnvironment reports whether env is a known key environment.
func ValidEnvironment(env string) bool {
	return env == EnvironmentLive || env == EnvironmentTest
}

// GenerateKey mints a new plaintext API key for the given environment.
func GenerateKey(environment string) (string, error) {
	if !ValidEnvironment(environment) {
		return "", fmt.Errorf("invalid key environment %q", environment)
	}

	secret := make([]byte, 0, secretLen)
	buf := make([]byte, secretLen)
	for len(secret) < secretLen {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("generate key secret: %w", err)
		}
		for _, b := range buf {
			// Reject bytes above the largest multiple of the charset size
			// so every character is equally likely.
			if b >= 252 {
				continue
			}
			secret = append(secret, secretCharset[int(b)%len(secretCharset)])
			if len(secret) == secretLen {
				break
			}
		}
	}

	return fmt.Sprintf("ts_%s_%s", environment, secret), nil
}

// WellFormed reports whether key matches the published key shape.
func WellFormed(key string) bool {
	return keyPattern.MatchString(key)
}

// Prefix returns the stored lookup prefix of a key.
func Prefix(key string) string {
	if len(key) < PrefixLen {
		return key
	}
	return key[:PrefixLen]
}

// CacheIndex derives the cache index for a plaintext key. The plaintext is
// never used as a map key directly.
func CacheIndex(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// HashKey derives an Argon2id hash from the provided plaintext key.
func HashKey(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("key cannot be empty")
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	hash := argon2.IDKey([]byte(key), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	encoded := fmt.Sprintf("argon2id$v=19$t=%d$m=%d$p=%d$%s$%s",
		argonTime,
		argonMemory,
		argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	)
	return encoded, nil
}

// VerifyKey compares a plaintext key with a stored Argon2id hash.
func VerifyKey(key, encodedHash string) (bool, error) {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 7 {
		return false, errors.New("parse argon hash: unexpected format")
	}
	if parts[0] != "argon2id" {
		return false, errors.New("parse argon hash: invalid algorithm")
	}
	version, err := strconv.Atoi(strings.TrimPrefix(parts[1], "v="))
	if err != nil {
		return false, fmt.Errorf("parse argon hash version: %w", err)
	}
	if version != 19 {
		return false, fmt.Errorf("parse argon hash: unsupported version %d", version)
	}
	timeCost64, err := strconv.ParseUint(strings.TrimPrefix(parts[2], "t="), 10, 32)
	if err != nil {
		return false, fmt.Errorf("parse argon hash time: %w", err)
	}
	memCost64, err := strconv.ParseUint(strings.TrimPrefix(parts[3], "m="), 10, 32)
	if err != nil {
		return false, fmt.Errorf("parse argon hash memory: %w", err)
	}
	threadCost64, err := strconv.ParseUint(strings.TrimPrefix(parts[4], "p="), 10, 8)
	if err != nil {
		return false, fmt.Errorf("parse argon hash threads: %w", err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, fmt.Errorf("decode salt: %w", err)
	}
	expectedHash, err := base64.RawStdEncoding.DecodeString(parts[6])
	if err != nil {
		return false, fmt.Errorf("decode hash: %w", err)
	}

	actualHash := argon2.IDKey(
		[]byte(key),
		salt,
		uint32(timeCost64),
		uint32(memCost64),
		uint8(threadCost64),
		uint32(len(expectedHash)),
	)
	if subtle.ConstantTimeCompare(actualHash, expectedHash) == 1 {
		return true, nil
	}
	return false, nil
}
