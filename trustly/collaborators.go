package trustly

import (
	"context"
	"time"
)

// KeyProvider supplies verification key material for tokens issued by the
// domain itself. External-issuer keys are resolved internally and are not
// part of this contract.
type KeyProvider interface {
	// VerificationKey returns the public key of the domain signing material
	// selected by the declared token-type URN. The returned value must be
	// an *rsa.PublicKey or *ecdsa.PublicKey.
	VerificationKey(ctx context.Context, domain, tokenType string) (any, error)

	// ClientVerificationKey returns the public key backing the given
	// client's signing certificate, used by introspection when the token's
	// audience resolves to a registered client.
	ClientVerificationKey(ctx context.Context, domain string, client *Client) (any, error)
}

// StoredToken is the live-store record of an issued token, consulted for
// revocation and stored-expiry checks.
type StoredToken struct {
	ID        string
	Subject   string
	ClientID  string
	ExpiresAt time.Time
}

// TokenStore is the repository contract behind revocation checks. Lookups
// return (nil, nil) when no record exists; a nil record means the token has
// been revoked or was never issued by this domain.
type TokenStore interface {
	FindAccessTokenByID(ctx context.Context, jti string) (*StoredToken, error)
	FindRefreshTokenByID(ctx context.Context, jti string) (*StoredToken, error)
}

// Client is a registered OAuth client of the domain.
type Client struct {
	ClientID      string
	CertificateID string
}

// ClientRegistry resolves registered clients. Lookups return (nil, nil) when
// no client is registered under the given id.
type ClientRegistry interface {
	FindByClientID(ctx context.Context, domain, clientID string) (*Client, error)
}

// ProtectedResource is a registered audience identifier distinct from an
// OAuth client, representing an API tokens can be intended for.
type ProtectedResource struct {
	Identifier string
	// ClientID is the backing client that registered the resource, used by
	// the legacy audience cross-check.
	ClientID string
}

// ProtectedResourceRegistry resolves protected-resource registrations by
// audience identifier. An empty slice means the identifier is unknown.
type ProtectedResourceRegistry interface {
	FindByIdentifier(ctx context.Context, domain, identifier string) ([]ProtectedResource, error)
}

// User is a local platform user resolved by the subject binding step.
type User struct {
	ID         string
	Username   string
	Source     string
	ExternalID string
}

// FilterClause is a single attribute=value equality condition.
type FilterClause struct {
	Attribute string
	Value     string
}

// Filter is a conjunction of equality clauses (AND semantics).
type Filter struct {
	Clauses []FilterClause
}

// UserLookup resolves users by an attribute filter. Implementations must
// return every match; the caller rejects ambiguous results.
type UserLookup interface {
	Search(ctx context.Context, domain string, filter Filter) ([]User, error)
}

// Collaborators bundles the external contracts this core consumes. Keys is
// required; the remaining collaborators are optional and disable the
// behavior that depends on them when nil (revocation checks, audience
// resolution, user binding).
type Collaborators struct {
	Keys      KeyProvider
	Tokens    TokenStore
	Clients   ClientRegistry
	Resources ProtectedResourceRegistry
	Users     UserLookup
}
