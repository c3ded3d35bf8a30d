// Package trustly implements the token-trust core of an authorization server:
// RFC 8693 token exchange and RFC 7662 token introspection sharing one
// validation core.
//
// The package decides whether a presented bearer token is genuine, unexpired,
// unrevoked, and entitled to be exchanged for an impersonation principal or
// reported as active to a relying party. Token minting, persistence, and the
// administrative surface are external collaborators (see collaborators.go).
//
// Concurrency: a Core is safe for concurrent use. All verification results
// are request-scoped values; the only shared mutable state is the per-issuer
// verification-processor cache, which is scoped to the Core instance and
// discarded wholesale with it on configuration reload.
package trustly

import (
	"sort"
	"strings"
	"time"
)

// RFC 8693 token type identifiers accepted by the exchange flow.
const (
	TokenTypeAccessToken  = "urn:ietf:params:oauth:token-type:access_token"
	TokenTypeRefreshToken = "urn:ietf:params:oauth:token-type:refresh_token"
	TokenTypeIDToken      = "urn:ietf:params:oauth:token-type:id_token"
	TokenTypeJWT          = "urn:ietf:params:oauth:token-type:jwt"
)

// GrantTypeTokenExchange is the RFC 8693 grant type URN.
const GrantTypeTokenExchange = "urn:ietf:params:oauth:grant-type:token-exchange"

// ScopeSet is an unordered set of scope names.
type ScopeSet map[string]struct{}

// NewScopeSet builds a ScopeSet from the given scope names, dropping duplicates.
func NewScopeSet(scopes ...string) ScopeSet {
	s := make(ScopeSet, len(scopes))
	for _, sc := range scopes {
		if sc != "" {
			s[sc] = struct{}{}
		}
	}
	return s
}

// Contains reports whether the scope is present in the set.
func (s ScopeSet) Contains(scope string) bool {
	_, ok := s[scope]
	return ok
}

// List returns the scopes in lexical order.
func (s ScopeSet) List() []string {
	out := make([]string, 0, len(s))
	for sc := range s {
		out = append(out, sc)
	}
	sort.Strings(out)
	return out
}

// String returns the scopes as a space-delimited string in lexical order.
func (s ScopeSet) String() string {
	return strings.Join(s.List(), " ")
}

// ValidatedToken is the normalized, immutable result of a successful token
// verification. It is constructed by a validator, consumed immediately by the
// exchange orchestrator or an introspection caller, and discarded; it is never
// persisted.
type ValidatedToken struct {
	// Subject is the sub claim. Always present on a successful validation.
	Subject string

	// Issuer is the iss claim, empty when the token carried none.
	Issuer string

	// ID is the jti claim. An empty ID permanently disables revocation
	// lookups for this token.
	ID string

	// Scopes holds the verified scope names.
	Scopes ScopeSet

	// Audience preserves the order of the aud claim values.
	Audience []string

	// Claims holds all claims of the verified token verbatim.
	Claims map[string]any

	// ExpiresAt, IssuedAt and NotBefore are nil when the corresponding
	// claim is absent.
	ExpiresAt *time.Time
	IssuedAt  *time.Time
	NotBefore *time.Time

	// ClientID is the client_id claim, empty when absent.
	ClientID string

	// TokenType is the declared RFC 8693 token-type URN this token was
	// validated under.
	TokenType string

	// Domain identifies the security domain the token was validated for.
	Domain string

	// TrustedIssuer references the external issuer configuration that
	// verified this token. Nil when the token was verified against the
	// domain's own signing material.
	TrustedIssuer *TrustedIssuer
}

// KeyResolutionMethod selects how verification key material for a trusted
// external issuer is obtained.
type KeyResolutionMethod string

const (
	// KeyResolutionJWKSURL fetches keys from the issuer's JWKS endpoint.
	KeyResolutionJWKSURL KeyResolutionMethod = "JWKS_URL"
	// KeyResolutionPEM uses a statically configured PEM certificate.
	KeyResolutionPEM KeyResolutionMethod = "PEM"
)

// FilterCriterion maps a user attribute to an expression evaluated against
// the validated token's claims. The claims are exposed to the expression as
// the `claims` variable; the expression result becomes the attribute's
// required value in an equality filter.
type FilterCriterion struct {
	Attribute  string `json:"attribute"`
	Expression string `json:"expression"`
}

// TrustedIssuer is the read-only configuration of an external issuer this
// domain trusts. It is owned by domain settings; the core only reads it and
// caches derived verification material keyed by the issuer URL.
type TrustedIssuer struct {
	// Issuer is the issuer URL and unique key of this configuration.
	Issuer string `json:"issuer"`

	// KeyResolution selects JWKS_URL or PEM.
	KeyResolution KeyResolutionMethod `json:"key_resolution"`

	// JWKSURL is the JWKS endpoint, required when KeyResolution is JWKS_URL.
	JWKSURL string `json:"jwks_url,omitempty"`

	// Certificate is a static PEM certificate or public key, required when
	// KeyResolution is PEM.
	Certificate string `json:"certificate,omitempty"`

	// BindUser enables resolving the external subject to a local user.
	BindUser bool `json:"bind_user"`

	// BindingCriteria are AND-combined when more than one is configured.
	BindingCriteria []FilterCriterion `json:"binding_criteria,omitempty"`

	// ScopeMappings translates external scope names to internal ones.
	// Scopes without a mapping entry are dropped.
	ScopeMappings map[string]string `json:"scope_mappings,omitempty"`
}

// MapScopes applies the issuer's scope-mapping table to the given scopes.
// Scopes with no mapping entry are dropped; with no table configured the
// result is empty.
func (ti *TrustedIssuer) MapScopes(scopes ScopeSet) ScopeSet {
	mapped := make(ScopeSet, len(scopes))
	for sc := range scopes {
		if internal, ok := ti.ScopeMappings[sc]; ok {
			mapped[internal] = struct{}{}
		}
	}
	return mapped
}

// TokenExchangeSettings is the read-only exchange policy of a domain.
// It is consumed per request and never mutated by this core.
type TokenExchangeSettings struct {
	// Enabled gates the whole exchange flow.
	Enabled bool `json:"enabled"`

	// AllowImpersonation permits impersonation exchanges. Impersonation is
	// currently the only supported exchange mode.
	AllowImpersonation bool `json:"allow_impersonation"`

	// AllowedSubjectTokenTypes lists the token-type URNs accepted as
	// subject_token_type.
	AllowedSubjectTokenTypes []string `json:"allowed_subject_token_types"`

	// TrustedIssuers lists the external issuers this domain trusts.
	TrustedIssuers []TrustedIssuer `json:"trusted_issuers,omitempty"`
}

// SubjectTokenTypeAllowed reports whether the URN is in the allow-list.
func (s TokenExchangeSettings) SubjectTokenTypeAllowed(urn string) bool {
	for _, t := range s.AllowedSubjectTokenTypes {
		if t == urn {
			return true
		}
	}
	return false
}

// TrustedIssuerFor returns the configured issuer matching the given issuer
// URL, or nil when none matches.
func (s TokenExchangeSettings) TrustedIssuerFor(issuer string) *TrustedIssuer {
	for i := range s.TrustedIssuers {
		if s.TrustedIssuers[i].Issuer == issuer {
			return &s.TrustedIssuers[i]
		}
	}
	return nil
}
