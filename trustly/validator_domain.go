package trustly

import (
	"context"
	"fmt"
)

// domainTokenValidator decorates a validator with a revocation check against
// the domain's live token store. The check only applies to tokens the
// current domain issued itself: cross-domain tokens defer revocation to
// issuer trust, not the local store (revocation is the issuing domain's
// responsibility), and tokens without a jti can never be looked up.
type domainTokenValidator struct {
	delegate TokenValidator
	domain   string
	tokens   TokenStore
}

func newDomainTokenValidator(delegate TokenValidator, domain string, tokens TokenStore) *domainTokenValidator {
	return &domainTokenValidator{delegate: delegate, domain: domain, tokens: tokens}
}

func (v *domainTokenValidator) SupportedTokenType() string {
	return v.delegate.SupportedTokenType()
}

func (v *domainTokenValidator) Validate(ctx context.Context, raw string, settings TokenExchangeSettings) (*ValidatedToken, error) {
	vt, err := v.delegate.Validate(ctx, raw, settings)
	if err != nil {
		return nil, err
	}

	tokenDomain, _ := vt.Claims["domain"].(string)
	if tokenDomain != v.domain || vt.ID == "" || v.tokens == nil {
		return vt, nil
	}

	stored, err := v.lookup(ctx, vt.ID)
	if err != nil {
		return nil, fmt.Errorf("revocation lookup for jti %s: %w", vt.ID, err)
	}
	if stored == nil {
		return nil, fmt.Errorf("%w: jti %s not present in domain token store", ErrTokenRevoked, vt.ID)
	}
	return vt, nil
}

func (v *domainTokenValidator) lookup(ctx context.Context, jti string) (*StoredToken, error) {
	if v.delegate.SupportedTokenType() == TokenTypeRefreshToken {
		return v.tokens.FindRefreshTokenByID(ctx, jti)
	}
	return v.tokens.FindAccessTokenByID(ctx, jti)
}
