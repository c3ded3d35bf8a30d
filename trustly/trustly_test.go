package trustly

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Shared test fixtures: in-memory collaborators and token signing helpers.

var (
	testDomainKey  *rsa.PrivateKey
	testPartnerKey *rsa.PrivateKey
)

func init() {
	var err error
	testDomainKey, err = rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic(err)
	}
	testPartnerKey, err = rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic(err)
	}
}

func publicPEM(t *testing.T, key *rsa.PrivateKey) string {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

func signToken(t *testing.T, key *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	s, err := tok.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

type stubKeys struct {
	domainKey     any
	domainErr     error
	clientKey     any
	clientErr     error
	clientLookups int
}

func (s *stubKeys) VerificationKey(_ context.Context, _, _ string) (any, error) {
	if s.domainErr != nil {
		return nil, s.domainErr
	}
	return s.domainKey, nil
}

func (s *stubKeys) ClientVerificationKey(_ context.Context, _ string, _ *Client) (any, error) {
	s.clientLookups++
	if s.clientErr != nil {
		return nil, s.clientErr
	}
	return s.clientKey, nil
}

type stubStore struct {
	access  map[string]*StoredToken
	refresh map[string]*StoredToken
	err     error
	lookups int
}

func (s *stubStore) FindAccessTokenByID(_ context.Context, jti string) (*StoredToken, error) {
	s.lookups++
	if s.err != nil {
		return nil, s.err
	}
	return s.access[jti], nil
}

func (s *stubStore) FindRefreshTokenByID(_ context.Context, jti string) (*StoredToken, error) {
	s.lookups++
	if s.err != nil {
		return nil, s.err
	}
	return s.refresh[jti], nil
}

type stubClients struct {
	clients map[string]*Client
	err     error
	lookups int
}

func (s *stubClients) FindByClientID(_ context.Context, _, clientID string) (*Client, error) {
	s.lookups++
	if s.err != nil {
		return nil, s.err
	}
	return s.clients[clientID], nil
}

type stubResources struct {
	resources map[string][]ProtectedResource
	err       error
	lookups   int
}

func (s *stubResources) FindByIdentifier(_ context.Context, _, identifier string) ([]ProtectedResource, error) {
	s.lookups++
	if s.err != nil {
		return nil, s.err
	}
	return s.resources[identifier], nil
}

type stubUsers struct {
	users      []User
	err        error
	lastFilter Filter
}

func (s *stubUsers) Search(_ context.Context, _ string, filter Filter) ([]User, error) {
	s.lastFilter = filter
	if s.err != nil {
		return nil, s.err
	}
	return s.users, nil
}

const testDomain = "acme"

func baseConfig() Config {
	return Config{
		Domain: testDomain,
		TokenExchange: TokenExchangeSettings{
			Enabled:                  true,
			AllowImpersonation:       true,
			AllowedSubjectTokenTypes: []string{TokenTypeAccessToken, TokenTypeRefreshToken, TokenTypeJWT},
		},
	}
}

func newTestCore(t *testing.T, cfg Config, collab Collaborators, opts ...Option) *Core {
	t.Helper()
	if collab.Keys == nil {
		collab.Keys = &stubKeys{domainKey: &testDomainKey.PublicKey}
	}
	core, err := New(cfg, collab, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return core
}

func futureExp() int64 { return time.Now().Add(5 * time.Minute).Unix() }
