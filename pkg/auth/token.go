package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"time"
)

const (
	// TemporaryTokenBytes is the entropy of a temporary token (32 bytes = 256 bits)
	TemporaryTokenBytes = 32
	// TemporaryTokenLength is the hex-encoded length of a temporary token
	TemporaryTokenLength = TemporaryTokenBytes * 2
	// DefaultTemporaryTokenTTL is how long verification and reset links stay valid
	DefaultTemporaryTokenTTL = 20 * time.Minute
)

// TemporaryToken is a one-time token. Plaintext goes to the user and is never
// stored; Digest and ExpiresAt are persisted.
type TemporaryToken struct {
	Plaintext string
	Digest    string
	ExpiresAt time.Time
}

// IssueTemporaryToken creates a random single-use token
func (s *TokenService) IssueTemporaryToken() (TemporaryToken, error) {
	randomBytes := make([]byte, TemporaryTokenBytes)
	if _, err := rand.Read(randomBytes); err != nil {
		return TemporaryToken{}, fmt.Errorf("failed to generate random bytes: %w", err)
	}

	plaintext := hex.EncodeToString(randomBytes)
	return TemporaryToken{
		Plaintext: plaintext,
		Digest:    HashToken(plaintext),
		ExpiresAt: s.now().Add(s.temporaryTTL),
	}, nil
}

// VerifyTemporaryToken recomputes the digest of plaintext and compares it in
// constant time with storedDigest. The token must also be unexpired.
func (s *TokenService) VerifyTemporaryToken(plaintext, storedDigest string, storedExpiry time.Time) bool {
	if plaintext == "" || storedDigest == "" || storedExpiry.IsZero() {
		return false
	}
	computed := HashToken(plaintext)
	if subtle.ConstantTimeCompare([]byte(computed), []byte(storedDigest)) != 1 {
		return false
	}
	return s.now().Before(storedExpiry)
}

// HashToken computes the SHA-256 hex digest used to store and look up temporary tokens
func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// ValidateTemporaryTokenFormat checks a token is 64 hex characters
func ValidateTemporaryTokenFormat(token string) error {
	if len(token) != TemporaryTokenLength {
		return fmt.Errorf("token must be %d characters", TemporaryTokenLength)
	}
	if _, err := hex.DecodeString(token); err != nil {
		return fmt.Errorf("invalid token encoding: %w", err)
	}
	return nil
}
