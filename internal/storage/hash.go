package storage

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	// bcryptCost balances hash time against brute-force resistance.
	bcryptCost  = 10
	bcryptLimit = 72
)

// RequestFingerprint computes a stable hex digest of a request payload for
// idempotency comparison. Map keys are sorted so semantically identical
// requests produce identical fingerprints.
func RequestFingerprint(parts map[string]any) string {
	keys := make([]string, 0, len(parts))
	for k := range parts {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	var b strings.Builder

	for _, k := range keys {
		encoded, err := json.Marshal(parts[k])
		if err != nil {
			encoded = []byte(fmt.Sprintf("%v", parts[k]))
		}

		b.WriteString(k)
		b.WriteByte('=')
		b.Write(encoded)
		b.WriteByte(';')
	}

	sum := sha256.Sum256([]byte(b.String()))

	return hex.EncodeToString(sum[:])
}

// HashToken generates a bcrypt hash of an API token for storage. Tokens are
// never persisted in plaintext.
func HashToken(token string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("token cannot be empty")
	}

	input := []byte(token)
	if len(input) > bcryptLimit {
		sum := sha256.Sum256(input)
		input = sum[:]
	}

	hash, err := bcrypt.GenerateFromPassword(input, bcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash token: %w", err)
	}

	return string(hash), nil
}

// CompareTokenHash checks a presented token against a stored bcrypt hash.
// Returns false for any error condition.
func CompareTokenHash(hash, token string) bool {
	if hash == "" || token == "" {
		return false
	}

	input := []byte(token)
	if len(input) > bcryptLimit {
		sum := sha256.Sum256(input)
		input = sum[:]
	}

	return bcrypt.CompareHashAndPassword([]byte(hash), input) == nil
}

// SecureCompare performs constant-time comparison of two strings.
func SecureCompare(a, b string) bool {
	if len(a) != len(b) {
		dummy := make([]byte, len(a))
		subtle.ConstantTimeCompare([]byte(a), dummy)

		return false
	}

	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
