package trustly

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/keksclan/goTrustly/internal/claims"
)

// TokenValidator validates a raw subject token declared under a token-type
// URN. Implementations are selected by the exchange orchestrator via
// SupportedTokenType and compose freely: the revocation and trusted-issuer
// behaviors are decorators over the default cryptographic validator.
type TokenValidator interface {
	// SupportedTokenType returns the token-type URN this validator handles.
	SupportedTokenType() string

	// Validate verifies the raw token and returns its normalized claims.
	Validate(ctx context.Context, raw string, settings TokenExchangeSettings) (*ValidatedToken, error)
}

// defaultTokenValidator decodes and cryptographically verifies a token using
// the domain's own signing material selected by the declared token type.
type defaultTokenValidator struct {
	tokenType string
	domain    string
	keys      KeyProvider
	parser    *jwt.Parser
	now       func() time.Time
}

func newDefaultTokenValidator(tokenType, domain string, keys KeyProvider, allowedAlgs []string, now func() time.Time) *defaultTokenValidator {
	return &defaultTokenValidator{
		tokenType: tokenType,
		domain:    domain,
		keys:      keys,
		// Temporal checks are applied explicitly after parsing so expiry
		// and not-yet-valid rejections are classified apart from
		// signature failures.
		parser: jwt.NewParser(
			jwt.WithoutClaimsValidation(),
			jwt.WithValidMethods(allowedAlgs),
		),
		now: now,
	}
}

func (v *defaultTokenValidator) SupportedTokenType() string { return v.tokenType }

func (v *defaultTokenValidator) Validate(ctx context.Context, raw string, _ TokenExchangeSettings) (*ValidatedToken, error) {
	var mc jwt.MapClaims
	_, err := v.parser.ParseWithClaims(raw, &mc, func(t *jwt.Token) (any, error) {
		return v.keys.VerificationKey(ctx, v.domain, v.tokenType)
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenMalformed) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrSignatureInvalid, err)
	}

	vt := newValidatedToken(map[string]any(mc), v.tokenType, v.domain)
	if err := checkTemporal(vt, v.now()); err != nil {
		return nil, err
	}
	return vt, nil
}

// newValidatedToken normalizes raw claims into the immutable claim model.
func newValidatedToken(m map[string]any, tokenType, domain string) *ValidatedToken {
	return &ValidatedToken{
		Subject:   claims.String(m, claims.Subject),
		Issuer:    claims.String(m, claims.Issuer),
		ID:        claims.String(m, claims.TokenID),
		Scopes:    NewScopeSet(claims.Scopes(m[claims.Scope])...),
		Audience:  claims.Audiences(m[claims.Audience]),
		Claims:    m,
		ExpiresAt: claims.Time(m[claims.Expiration]),
		IssuedAt:  claims.Time(m[claims.IssuedAt]),
		NotBefore: claims.Time(m[claims.NotBefore]),
		ClientID:  claims.String(m, claims.ClientID),
		TokenType: tokenType,
		Domain:    domain,
	}
}

// checkTemporal enforces the temporal claims when present: a past exp or a
// future nbf is a hard rejection regardless of signature validity.
func checkTemporal(vt *ValidatedToken, now time.Time) error {
	if vt.ExpiresAt != nil && vt.IssuedAt != nil && vt.ExpiresAt.Before(*vt.IssuedAt) {
		return fmt.Errorf("%w: expiration precedes issued-at", ErrInvalidToken)
	}
	if vt.ExpiresAt != nil && vt.ExpiresAt.Before(now) {
		return fmt.Errorf("%w: expired at %s", ErrTokenExpired, vt.ExpiresAt.Format(time.RFC3339))
	}
	if vt.NotBefore != nil && vt.NotBefore.After(now) {
		return fmt.Errorf("%w: valid from %s", ErrTokenNotYetValid, vt.NotBefore.Format(time.RFC3339))
	}
	return nil
}
