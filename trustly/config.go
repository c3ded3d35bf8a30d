package trustly

import (
	"errors"
	"time"
)

// defaultAllowedAlgs lists the signature algorithms accepted for domain and
// trusted-issuer tokens: RSA, RSA-PSS and elliptic-curve families.
var defaultAllowedAlgs = []string{
	"RS256", "RS384", "RS512",
	"PS256", "PS384", "PS512",
	"ES256", "ES384", "ES512",
}

// Config configures a Core for one security domain.
type Config struct {
	// Domain identifies the owning security domain. Required.
	Domain string

	// TokenExchange is the domain's exchange policy.
	TokenExchange TokenExchangeSettings

	// Introspection configures the introspection validators.
	Introspection IntrospectionConfig

	// JWKS configures remote key fetching for trusted issuers.
	JWKS JWKSConfig

	// AllowedAlgs restricts accepted JWS algorithms. Defaults to the RSA,
	// RSA-PSS and EC families.
	AllowedAlgs []string
}

// IntrospectionConfig configures the introspection validators.
type IntrospectionConfig struct {
	// StrictAudienceClientMatch, when enabled, requires every
	// protected-resource audience match to be backed by the introspecting
	// caller's client id. Retained for backward compatibility; default true.
	StrictAudienceClientMatch *bool

	// FreshnessWindow is how recently a token must have been issued for
	// online introspection to skip the store round-trip. A just-issued
	// token cannot yet have been revoked through normal flows, so the
	// lookup is skipped as a latency/consistency trade-off. Default 1m.
	FreshnessWindow time.Duration
}

// JWKSConfig bounds remote key fetching for trusted issuers.
type JWKSConfig struct {
	// ConnectTimeout and ReadTimeout bound each JWKS fetch. Default 5s/5s.
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration

	// CacheTTL is how long a fetched key set stays fresh. Default 15m.
	CacheTTL time.Duration

	// AllowStale serves a previously fetched key set when a refresh fails,
	// tolerating transient endpoint outages. Default true.
	AllowStale *bool
}

func (c *Config) setDefaults() {
	if len(c.AllowedAlgs) == 0 {
		c.AllowedAlgs = defaultAllowedAlgs
	}
	if c.Introspection.StrictAudienceClientMatch == nil {
		t := true
		c.Introspection.StrictAudienceClientMatch = &t
	}
	if c.Introspection.FreshnessWindow == 0 {
		c.Introspection.FreshnessWindow = time.Minute
	}
	if c.JWKS.ConnectTimeout == 0 {
		c.JWKS.ConnectTimeout = 5 * time.Second
	}
	if c.JWKS.ReadTimeout == 0 {
		c.JWKS.ReadTimeout = 5 * time.Second
	}
	if c.JWKS.CacheTTL == 0 {
		c.JWKS.CacheTTL = 15 * time.Minute
	}
	if c.JWKS.AllowStale == nil {
		t := true
		c.JWKS.AllowStale = &t
	}
}

// Validate checks the configuration for inconsistencies that would otherwise
// only surface at request time.
func (c Config) Validate() error {
	if c.Domain == "" {
		return errors.New("domain is required")
	}
	for _, ti := range c.TokenExchange.TrustedIssuers {
		if ti.Issuer == "" {
			return errors.New("trusted issuer: issuer URL is required")
		}
		switch ti.KeyResolution {
		case KeyResolutionJWKSURL:
			if ti.JWKSURL == "" {
				return errors.New("trusted issuer " + ti.Issuer + ": jwks_url is required for JWKS_URL resolution")
			}
		case KeyResolutionPEM:
			if ti.Certificate == "" {
				return errors.New("trusted issuer " + ti.Issuer + ": certificate is required for PEM resolution")
			}
		default:
			return errors.New("trusted issuer " + ti.Issuer + ": unsupported key resolution method")
		}
	}
	return nil
}
