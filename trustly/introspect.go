package trustly

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/keksclan/goTrustly/internal/claims"
)

// IntrospectionOptions selects the verification depth of an introspection
// call.
type IntrospectionOptions struct {
	// Online additionally checks the token against the live token store:
	// a token absent from the store is revoked, and a stored record past
	// its expiry is expired. Offline verification trusts the signature
	// alone.
	Online bool

	// CallerClientID identifies the introspecting relying party; the
	// legacy audience cross-check compares it against the backing client
	// of every matched protected resource.
	CallerClientID string
}

// IntrospectAccessToken reports whether the raw token is an active access
// token of this domain. A nil error means active; the returned
// ValidatedToken carries the claims for the RFC 7662 response.
func (c *Core) IntrospectAccessToken(ctx context.Context, raw string, opts IntrospectionOptions) (*ValidatedToken, error) {
	return c.introspect(ctx, raw, TokenTypeAccessToken, opts)
}

// IntrospectRefreshToken reports whether the raw token is an active refresh
// token of this domain.
func (c *Core) IntrospectRefreshToken(ctx context.Context, raw string, opts IntrospectionOptions) (*ValidatedToken, error) {
	return c.introspect(ctx, raw, TokenTypeRefreshToken, opts)
}

// introspect is the base flow shared by the access and refresh validators:
// decode, resolve the verification key via the token's audience, verify,
// apply temporal checks, and optionally consult the live store.
func (c *Core) introspect(ctx context.Context, raw, tokenType string, opts IntrospectionOptions) (*ValidatedToken, error) {
	decoded, err := claims.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed token", ErrInvalidToken)
	}

	resolution, err := c.resolveAudience(ctx, claims.Audiences(decoded[claims.Audience]), opts.CallerClientID)
	if err != nil {
		return nil, err
	}

	key, err := c.verificationKey(ctx, tokenType, resolution)
	if err != nil {
		return nil, err
	}

	var mc jwt.MapClaims
	parser := jwt.NewParser(jwt.WithoutClaimsValidation(), jwt.WithValidMethods(c.cfg.AllowedAlgs))
	if _, err := parser.ParseWithClaims(raw, &mc, func(*jwt.Token) (any, error) { return key, nil }); err != nil {
		// The concrete cause stays in the debug log; the caller only
		// learns the token is invalid.
		c.log.Debug("introspection signature verification failed",
			zap.String("token_type", tokenType),
			zap.String("domain", c.cfg.Domain),
			zap.Error(err),
		)
		return nil, ErrInvalidToken
	}

	vt := newValidatedToken(map[string]any(mc), tokenType, c.cfg.Domain)
	now := c.now()
	if err := checkTemporal(vt, now); err != nil {
		return nil, err
	}

	if opts.Online {
		if err := c.checkStore(ctx, vt, tokenType); err != nil {
			return nil, err
		}
	}
	return vt, nil
}

// audienceResolution is the outcome of matching a token's audience against
// the domain's registrations: either a single registered client or a
// non-empty set of protected resources.
type audienceResolution struct {
	client    *Client
	resources []ProtectedResource
}

// resolveAudience validates the token's audience values. A single audience
// value is first tried as a registered client id; multiple values, or a
// single value unknown to the client registry, are resolved against
// protected-resource registrations aggregated across all values. The legacy
// compatibility flag additionally requires every resource match to be backed
// by the introspecting caller's client id.
func (c *Core) resolveAudience(ctx context.Context, aud []string, callerClientID string) (*audienceResolution, error) {
	if len(aud) == 0 {
		return nil, ErrNoAudienceClaim
	}

	if len(aud) == 1 && c.clients != nil {
		client, err := c.clients.FindByClientID(ctx, c.cfg.Domain, aud[0])
		if err != nil {
			return nil, fmt.Errorf("client lookup for audience %s: %w", aud[0], err)
		}
		if client != nil {
			return &audienceResolution{client: client}, nil
		}
	}

	if c.resources != nil {
		var matched []ProtectedResource
		for _, identifier := range aud {
			rs, err := c.resources.FindByIdentifier(ctx, c.cfg.Domain, identifier)
			if err != nil {
				return nil, fmt.Errorf("protected resource lookup for audience %s: %w", identifier, err)
			}
			matched = append(matched, rs...)
		}
		if len(matched) > 0 {
			if *c.cfg.Introspection.StrictAudienceClientMatch {
				for _, r := range matched {
					if r.ClientID != callerClientID {
						return nil, fmt.Errorf("%w: resource %s", ErrClientMismatch, r.Identifier)
					}
				}
			}
			return &audienceResolution{resources: matched}, nil
		}
	}

	return nil, ErrAudienceMismatch
}

// verificationKey selects the key material for the resolved audience: the
// matched client's certificate, or the domain's own signing material for the
// protected-resource path.
func (c *Core) verificationKey(ctx context.Context, tokenType string, resolution *audienceResolution) (any, error) {
	if resolution.client != nil {
		key, err := c.keys.ClientVerificationKey(ctx, c.cfg.Domain, resolution.client)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrUnknownClient, resolution.client.ClientID)
		}
		return key, nil
	}
	key, err := c.keys.VerificationKey(ctx, c.cfg.Domain, tokenType)
	if err != nil {
		return nil, fmt.Errorf("domain verification key: %w", err)
	}
	return key, nil
}

// checkStore performs the online revocation and stored-expiry checks. The
// store round-trip is skipped for tokens issued within the freshness window:
// a just-issued token cannot yet have been revoked through normal flows, a
// documented latency/consistency trade-off. Tokens without a jti cannot be
// looked up and pass through.
func (c *Core) checkStore(ctx context.Context, vt *ValidatedToken, tokenType string) error {
	if vt.ID == "" || c.tokens == nil {
		return nil
	}
	if vt.IssuedAt != nil && c.now().Sub(*vt.IssuedAt) < c.cfg.Introspection.FreshnessWindow {
		return nil
	}

	var stored *StoredToken
	var err error
	if tokenType == TokenTypeRefreshToken {
		stored, err = c.tokens.FindRefreshTokenByID(ctx, vt.ID)
	} else {
		stored, err = c.tokens.FindAccessTokenByID(ctx, vt.ID)
	}
	if err != nil {
		return fmt.Errorf("store lookup for jti %s: %w", vt.ID, err)
	}
	if stored == nil {
		return fmt.Errorf("%w: jti %s not present in token store", ErrTokenRevoked, vt.ID)
	}
	if stored.ExpiresAt.Before(c.now()) {
		return fmt.Errorf("%w: stored expiry passed", ErrTokenExpired)
	}
	return nil
}
