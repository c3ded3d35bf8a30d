package trustly

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TestExchangeIntrospectRoundTrip drives the full flow a relying party sees:
// exchange a subject token, mint a domain token from the result, and
// introspect the minted token. Subject, audience, and scopes must survive the
// round trip unchanged.
func TestExchangeIntrospectRoundTrip(t *testing.T) {
	const audience = "https://api.acme.test"
	const caller = "partner-app"

	exp := time.Now().Add(5 * time.Minute)
	subject := signToken(t, testDomainKey, jwt.MapClaims{
		"sub":    "user-1",
		"jti":    "jti-subject",
		"scope":  "orders:read orders:write",
		"aud":    audience,
		"domain": testDomain,
		"exp":    exp.Unix(),
	})

	store := &stubStore{access: map[string]*StoredToken{
		"jti-subject": {ID: "jti-subject", Subject: "user-1", ExpiresAt: exp},
	}}
	core := newTestCore(t, baseConfig(), Collaborators{
		Tokens: store,
		Resources: &stubResources{resources: map[string][]ProtectedResource{
			audience: {{Identifier: audience, ClientID: caller}},
		}},
	})

	result, err := core.Exchange(context.Background(), ExchangeRequest{
		SubjectToken:     subject,
		SubjectTokenType: TokenTypeAccessToken,
	}, &Client{ClientID: caller})
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}

	// Mint the way a token-issuing collaborator would: the principal's
	// claims plus the registered claims of the new token.
	minted := jwt.MapClaims{
		"sub": result.Principal.ID,
		"jti": "jti-minted",
		"aud": audience,
		"iat": time.Now().Unix(),
	}
	for claim, value := range result.Principal.Claims {
		minted[claim] = value
	}
	if result.ExpiresAt != nil {
		minted["exp"] = result.ExpiresAt.Unix()
	}
	raw := signToken(t, testDomainKey, minted)
	store.access["jti-minted"] = &StoredToken{ID: "jti-minted", Subject: result.Principal.ID, ExpiresAt: exp}

	vt, err := core.IntrospectAccessToken(context.Background(), raw, IntrospectionOptions{
		Online:         true,
		CallerClientID: caller,
	})
	if err != nil {
		t.Fatalf("IntrospectAccessToken: %v", err)
	}

	if vt.Subject != "user-1" {
		t.Errorf("subject changed across the round trip: got %s", vt.Subject)
	}
	if len(vt.Audience) != 1 || vt.Audience[0] != audience {
		t.Errorf("audience changed across the round trip: got %v", vt.Audience)
	}
	if got := vt.Scopes.String(); got != "orders:read orders:write" {
		t.Errorf("scopes changed across the round trip: got %q", got)
	}
	if vt.ExpiresAt == nil || vt.ExpiresAt.Unix() != exp.Unix() {
		t.Errorf("expected minted expiry %v, got %v", exp, vt.ExpiresAt)
	}
	if vt.Claims["original_sub"] != "user-1" || vt.Claims["token_exchange"] != true {
		t.Errorf("expected exchange bookkeeping claims, got %v", vt.Claims)
	}
}
