package trustly

import (
	"context"
	"errors"
	"testing"
)

func bindingCore(t *testing.T, users *stubUsers, criteria []FilterCriterion) (*Core, *TrustedIssuer) {
	t.Helper()
	cfg := baseConfig()
	cfg.TokenExchange.TrustedIssuers = []TrustedIssuer{{
		Issuer:          "https://partner-idp.example",
		KeyResolution:   KeyResolutionPEM,
		Certificate:     publicPEM(t, testPartnerKey),
		BindUser:        true,
		BindingCriteria: criteria,
	}}
	core := newTestCore(t, cfg, Collaborators{Users: users})
	return core, &core.cfg.TokenExchange.TrustedIssuers[0]
}

func TestResolveSubject(t *testing.T) {
	criteria := []FilterCriterion{
		{Attribute: "email", Expression: `claims.email`},
		{Attribute: "department", Expression: `claims.org .. "/" .. claims.team`},
	}

	tests := []struct {
		name      string
		claims    map[string]any
		users     *stubUsers
		wantErr   error
		checkUser func(*testing.T, *User, *stubUsers)
	}{
		{
			name: "all criteria combine into one AND filter",
			claims: map[string]any{
				"email": "casey@partner.example",
				"org":   "acme",
				"team":  "platform",
			},
			users: &stubUsers{users: []User{{ID: "u-1", Username: "casey"}}},
			checkUser: func(t *testing.T, u *User, s *stubUsers) {
				if u.ID != "u-1" {
					t.Errorf("expected user u-1, got %s", u.ID)
				}
				want := Filter{Clauses: []FilterClause{
					{Attribute: "email", Value: "casey@partner.example"},
					{Attribute: "department", Value: "acme/platform"},
				}}
				if len(s.lastFilter.Clauses) != len(want.Clauses) {
					t.Fatalf("expected %d clauses, got %+v", len(want.Clauses), s.lastFilter)
				}
				for i, c := range want.Clauses {
					if s.lastFilter.Clauses[i] != c {
						t.Errorf("clause %d: expected %+v, got %+v", i, c, s.lastFilter.Clauses[i])
					}
				}
			},
		},
		{
			name: "no matching user",
			claims: map[string]any{
				"email": "ghost@partner.example", "org": "a", "team": "b",
			},
			users:   &stubUsers{},
			wantErr: ErrBindingUserNotFound,
		},
		{
			name: "ambiguous match is never resolved by picking one",
			claims: map[string]any{
				"email": "dup@partner.example", "org": "a", "team": "b",
			},
			users:   &stubUsers{users: []User{{ID: "u-1"}, {ID: "u-2"}}},
			wantErr: ErrBindingAmbiguous,
		},
		{
			name: "criterion evaluating to empty",
			claims: map[string]any{
				"email": "   ", "org": "a", "team": "b",
			},
			users:   &stubUsers{},
			wantErr: ErrBindingEmptyValue,
		},
		{
			name: "criterion referencing a missing claim fails evaluation",
			claims: map[string]any{
				"email": "casey@partner.example",
			},
			users:   &stubUsers{},
			wantErr: ErrBindingEvaluation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, ti := bindingCore(t, tt.users, criteria)
			vt := &ValidatedToken{Claims: tt.claims, TrustedIssuer: ti}
			user, err := core.ResolveSubject(context.Background(), vt)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected error %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.checkUser != nil {
				tt.checkUser(t, user, tt.users)
			}
		})
	}
}

func TestResolveSubjectSkips(t *testing.T) {
	criteria := []FilterCriterion{{Attribute: "email", Expression: `claims.email`}}

	t.Run("nil token", func(t *testing.T) {
		core, _ := bindingCore(t, &stubUsers{}, criteria)
		if u, err := core.ResolveSubject(context.Background(), nil); u != nil || err != nil {
			t.Fatalf("expected (nil, nil), got (%v, %v)", u, err)
		}
	})

	t.Run("domain-issued token without trusted issuer", func(t *testing.T) {
		core, _ := bindingCore(t, &stubUsers{}, criteria)
		vt := &ValidatedToken{Claims: map[string]any{"email": "x"}}
		if u, err := core.ResolveSubject(context.Background(), vt); u != nil || err != nil {
			t.Fatalf("expected (nil, nil), got (%v, %v)", u, err)
		}
	})

	t.Run("issuer with binding disabled", func(t *testing.T) {
		core, ti := bindingCore(t, &stubUsers{}, criteria)
		off := *ti
		off.BindUser = false
		vt := &ValidatedToken{Claims: map[string]any{"email": "x"}, TrustedIssuer: &off}
		if u, err := core.ResolveSubject(context.Background(), vt); u != nil || err != nil {
			t.Fatalf("expected (nil, nil), got (%v, %v)", u, err)
		}
	})

	t.Run("issuer without criteria", func(t *testing.T) {
		cfg := baseConfig()
		cfg.TokenExchange.TrustedIssuers = []TrustedIssuer{{
			Issuer:        "https://partner-idp.example",
			KeyResolution: KeyResolutionPEM,
			Certificate:   publicPEM(t, testPartnerKey),
			BindUser:      true,
		}}
		core := newTestCore(t, cfg, Collaborators{Users: &stubUsers{}})
		vt := &ValidatedToken{
			Claims:        map[string]any{"email": "x"},
			TrustedIssuer: &core.cfg.TokenExchange.TrustedIssuers[0],
		}
		if u, err := core.ResolveSubject(context.Background(), vt); u != nil || err != nil {
			t.Fatalf("expected (nil, nil), got (%v, %v)", u, err)
		}
	})
}
