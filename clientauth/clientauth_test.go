package clientauth

import (
	"context"
	"errors"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestNewVerifierRequiresCredentialSource(t *testing.T) {
	if _, err := NewVerifier(Config{}); !errors.Is(err, ErrNoCredentialSource) {
		t.Fatalf("expected %v, got %v", ErrNoCredentialSource, err)
	}
}

func TestVerifySecrets(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	v, err := NewVerifier(Config{Secrets: map[string]string{"client-a": string(hash)}})
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}

	tests := []struct {
		name    string
		id      string
		secret  string
		wantErr bool
	}{
		{name: "valid credentials", id: "client-a", secret: "s3cret"},
		{name: "wrong secret", id: "client-a", secret: "wrong", wantErr: true},
		{name: "unknown client", id: "client-b", secret: "s3cret", wantErr: true},
		{name: "empty secret", id: "client-a", secret: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Verify(context.Background(), tt.id, tt.secret)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidClient) {
					t.Fatalf("expected %v, got %v", ErrInvalidClient, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Verify: %v", err)
			}
		})
	}
}

func TestVerifyCustomValidator(t *testing.T) {
	boom := errors.New("backend down")

	tests := []struct {
		name      string
		validator func(context.Context, string, string) (bool, error)
		wantErr   error
	}{
		{
			name:      "accepting validator",
			validator: func(context.Context, string, string) (bool, error) { return true, nil },
		},
		{
			name:      "rejecting validator",
			validator: func(context.Context, string, string) (bool, error) { return false, nil },
			wantErr:   ErrInvalidClient,
		},
		{
			name:      "failing validator",
			validator: func(context.Context, string, string) (bool, error) { return false, boom },
			wantErr:   boom,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := NewVerifier(Config{Validator: tt.validator})
			if err != nil {
				t.Fatalf("NewVerifier: %v", err)
			}
			err = v.Verify(context.Background(), "client-a", "secret")
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Verify: %v", err)
			}
		})
	}
}

// A Validator takes priority over the Secrets map when both are configured.
func TestValidatorPriority(t *testing.T) {
	hash, _ := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	v, err := NewVerifier(Config{
		Secrets:   map[string]string{"client-a": string(hash)},
		Validator: func(context.Context, string, string) (bool, error) { return false, nil },
	})
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	if err := v.Verify(context.Background(), "client-a", "s3cret"); !errors.Is(err, ErrInvalidClient) {
		t.Fatalf("expected the validator to win, got %v", err)
	}
}
