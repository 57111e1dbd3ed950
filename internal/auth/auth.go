package auth

import (
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/crypto/bcrypt"
)

const (
	bcryptCostFactor = 12
)

// HashAPIKey generates a bcrypt hash for the given API key secret.
// The hash goes into API_KEY_HASH; the secret is never stored.
func HashAPIKey(apiKeySecret string) (string, error) {
	return hashWithCost(apiKeySecret, bcryptCostFactor)
}

func hashWithCost(secret string, cost int) (string, error) {
	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		slog.Error("Failed to generate bcrypt hash for API key", slog.Any("error", err))
		return "", fmt.Errorf("failed to hash api key: %w", err)
	}
	return string(hashedBytes), nil
}

// CheckAPIKey compares a plaintext API key secret with a stored bcrypt hash.
func CheckAPIKey(apiKeySecret, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(apiKeySecret))
	if err != nil {
		if !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			slog.Warn("Error comparing API key hash", slog.Any("error", err))
		}
		return false
	}
	return true
}
