package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	// TokenPrefix marks bilregistret session tokens
	TokenPrefix = "brs_" // #nosec G101 -- a prefix, not a credential

	// TokenPrefixLength is how many secret characters identify a token
	TokenPrefixLength = 8

	// TokenLength is the random part of a token in bytes, hex encoded
	TokenLength = 24
)

// GenerateToken returns a new session token and its lookup prefix.
// Format: brs_<48 hex chars>
func GenerateToken() (string, string, error) {
	buf := make([]byte, TokenLength)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("generate token: %w", err)
	}
	secret := hex.EncodeToString(buf)
	return TokenPrefix + secret, secret[:TokenPrefixLength], nil
}

// HashToken bcrypt-hashes the secret part of token
func HashToken(token string, cost int) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(strings.TrimPrefix(token, TokenPrefix)), cost)
	if err != nil {
		return "", fmt.Errorf("hash token: %w", err)
	}
	return string(hash), nil
}

// VerifyToken checks token against a hash from HashToken
func VerifyToken(token, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(strings.TrimPrefix(token, TokenPrefix))) == nil
}

// TokenLookupPrefix returns the part of token used to find its session
func TokenLookupPrefix(token string) string {
	secret := strings.TrimPrefix(token, TokenPrefix)
	if len(secret) < TokenPrefixLength {
		return secret
	}
	return secret[:TokenPrefixLength]
}

// IsValidTokenFormat checks prefix, length and encoding
func IsValidTokenFormat(token string) bool {
	if !strings.HasPrefix(token, TokenPrefix) {
		return false
	}
	secret := strings.TrimPrefix(token, TokenPrefix)
	if len(secret) != TokenLength*2 {
		return false
	}
	_, err := hex.DecodeString(secret)
	return err == nil
}

// MaskToken hides all but the identifying prefix, e.g. brs_a1b2c3d4****
func MaskToken(token string) string {
	if len(token) < len(TokenPrefix)+TokenPrefixLength {
		return "****"
	}
	return token[:len(TokenPrefix)+TokenPrefixLength] + "****"
}
