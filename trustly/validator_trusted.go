package trustly

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/keksclan/goTrustly/internal/claims"
	"github.com/keksclan/goTrustly/internal/issuerkeys"
)

// trustedIssuerTokenValidator decorates a validator with a fallback to the
// domain's trusted external issuers. It engages only when the delegate
// failed specifically on signature verification and at least one trusted
// issuer is configured; temporal rejections propagate unchanged, since an
// expired token is expired regardless of who signed it.
type trustedIssuerTokenValidator struct {
	delegate TokenValidator
	domain   string
	resolver *issuerkeys.Resolver
	now      func() time.Time
	log      *zap.Logger
}

func newTrustedIssuerTokenValidator(delegate TokenValidator, domain string, resolver *issuerkeys.Resolver, now func() time.Time, log *zap.Logger) *trustedIssuerTokenValidator {
	return &trustedIssuerTokenValidator{
		delegate: delegate,
		domain:   domain,
		resolver: resolver,
		now:      now,
		log:      log,
	}
}

func (v *trustedIssuerTokenValidator) SupportedTokenType() string {
	return v.delegate.SupportedTokenType()
}

func (v *trustedIssuerTokenValidator) Validate(ctx context.Context, raw string, settings TokenExchangeSettings) (*ValidatedToken, error) {
	vt, delegateErr := v.delegate.Validate(ctx, raw, settings)
	if delegateErr == nil {
		return vt, nil
	}
	if !IsSignatureError(delegateErr) || len(settings.TrustedIssuers) == 0 {
		return nil, delegateErr
	}

	decoded, err := claims.Decode(raw)
	if err != nil {
		return nil, delegateErr
	}
	issuer := claims.String(decoded, claims.Issuer)
	if issuer == "" {
		return nil, ErrMissingIssuerClaim
	}

	ti := settings.TrustedIssuerFor(issuer)
	if ti == nil {
		return nil, fmt.Errorf("%w: %s", ErrUntrustedIssuer, issuer)
	}

	v.log.Debug("falling back to trusted issuer verification",
		zap.String("issuer", issuer),
		zap.String("token_type", v.delegate.SupportedTokenType()),
	)

	verified, err := v.resolver.Resolve(ctx, raw, issuerkeys.IssuerConfig{
		Issuer:      ti.Issuer,
		Method:      issuerkeys.Method(ti.KeyResolution),
		JWKSURL:     ti.JWKSURL,
		Certificate: ti.Certificate,
	})
	if err != nil {
		if errors.Is(err, issuerkeys.ErrConfiguration) {
			return nil, fmt.Errorf("%w: %w", ErrIssuerConfiguration, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrSignatureInvalid, err)
	}

	out := newValidatedToken(verified, v.delegate.SupportedTokenType(), v.domain)
	if err := checkTemporal(out, v.now()); err != nil {
		return nil, err
	}
	out.Scopes = ti.MapScopes(out.Scopes)
	out.TrustedIssuer = ti
	return out, nil
}
