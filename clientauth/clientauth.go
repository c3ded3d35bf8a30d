// Package clientauth authenticates the OAuth clients calling the token and
// introspection endpoints, using bcrypt-hashed client secrets or a custom
// validator function.
//
// Concurrency: All exported functions and types are safe for concurrent use.
// The Verifier does not mutate any shared state after construction.
package clientauth

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Predefined errors for client authentication.
var (
	// ErrInvalidClient is returned when the client id/secret pair is incorrect.
	ErrInvalidClient = errors.New("invalid client credentials")
	// ErrNoCredentialSource is returned when neither Secrets nor Validator is configured.
	ErrNoCredentialSource = errors.New("no client credential source configured")
)

// Config configures the client verifier.
//
// If Validator is set, it takes priority over the Secrets map.
// If only Secrets is set, secrets are compared using bcrypt.
type Config struct {
	// Secrets maps client ids to bcrypt-hashed client secrets.
	// Storing plaintext secrets here is a security violation.
	Secrets map[string]string

	// Validator is an optional custom validation function.
	// The function must return (true, nil) for valid credentials,
	// (false, nil) for invalid credentials, or (false, err) on internal error.
	Validator func(ctx context.Context, clientID, clientSecret string) (bool, error)
}

// Verifier performs client credential verification.
//
// Zero-value is not usable; create via NewVerifier.
type Verifier struct {
	cfg Config
}

// NewVerifier creates a client verifier from the provided Config.
func NewVerifier(cfg Config) (*Verifier, error) {
	if cfg.Validator == nil && len(cfg.Secrets) == 0 {
		return nil, ErrNoCredentialSource
	}
	return &Verifier{cfg: cfg}, nil
}

// Verify checks the provided client id and secret.
//
// If a custom Validator is configured, it is used exclusively. Otherwise the
// Secrets map is consulted with bcrypt comparison. On invalid credentials the
// returned error wraps ErrInvalidClient.
func (v *Verifier) Verify(ctx context.Context, clientID, clientSecret string) error {
	if v.cfg.Validator != nil {
		ok, err := v.cfg.Validator(ctx, clientID, clientSecret)
		if err != nil {
			return fmt.Errorf("client validator: %w", err)
		}
		if !ok {
			return ErrInvalidClient
		}
		return nil
	}
	return v.verifySecrets(clientID, clientSecret)
}

func (v *Verifier) verifySecrets(clientID, clientSecret string) error {
	hashed, exists := v.cfg.Secrets[clientID]
	if !exists {
		// Dummy bcrypt comparison to prevent timing-based client enumeration.
		_ = bcrypt.CompareHashAndPassword([]byte("$2a$10$xxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx"), []byte(clientSecret))
		return ErrInvalidClient
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hashed), []byte(clientSecret)); err != nil {
		return ErrInvalidClient
	}
	return nil
}
