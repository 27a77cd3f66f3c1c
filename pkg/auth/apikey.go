package auth

import (
	"context"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// APIKey is one named key entry. Hash is a bcrypt hash of the key
// value, so configuration files never carry plaintext credentials.
type APIKey struct {
	Name string
	Hash string
}

// APIKeyAuthenticator authenticates callers by API key.
type APIKeyAuthenticator struct {
	keys []APIKey
}

// NewAPIKeyAuthenticator creates an authenticator over the configured keys.
func NewAPIKeyAuthenticator(keys []APIKey) *APIKeyAuthenticator {
	return &APIKeyAuthenticator{keys: keys}
}

// Authenticate compares the context token against every configured key
// hash and returns the matching key's principal.
func (a *APIKeyAuthenticator) Authenticate(ctx context.Context) (*Principal, error) {
	token := GetToken(ctx)
	if token == "" {
		return nil, fmt.Errorf("no API key found in context")
	}

	for _, key := range a.keys {
		if bcrypt.CompareHashAndPassword([]byte(key.Hash), []byte(token)) == nil {
			return &Principal{Name: key.Name, Method: "apikey"}, nil
		}
	}

	return nil, fmt.Errorf("invalid API key")
}

// HashKey produces a bcrypt hash for a plaintext key, for generating
// config entries.
func HashKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing key: %w", err)
	}
	return string(hash), nil
}

// Verify interface compliance.
var _ Authenticator = (*APIKeyAuthenticator)(nil)
