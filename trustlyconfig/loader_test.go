package trustlyconfig

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/keksclan/goTrustly/trustly"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestFromGo(t *testing.T) {
	cfg, err := FromGo(trustly.Config{Domain: "acme"}).Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Domain != "acme" {
		t.Errorf("expected domain acme, got %s", cfg.Domain)
	}

	if _, err := FromGo(trustly.Config{}).Load(context.Background()); err == nil {
		t.Errorf("expected validation failure for empty domain")
	}
}

func TestFromJSONFile(t *testing.T) {
	path := writeFile(t, "config.json", `{
		"domain": "acme",
		"allowed_algs": ["RS256"],
		"token_exchange": {
			"enabled": true,
			"allow_impersonation": true,
			"allowed_subject_token_types": ["urn:ietf:params:oauth:token-type:access_token"],
			"trusted_issuers": [{
				"issuer": "https://partner-idp.example",
				"key_resolution": "JWKS_URL",
				"jwks_url": "https://partner-idp.example/jwks",
				"bind_user": true,
				"binding_criteria": [{"attribute": "email", "expression": "claims.email"}],
				"scope_mappings": {"partner:read": "orders:read"}
			}]
		},
		"introspection": {
			"strict_audience_client_match": false,
			"freshness_window_sec": 120
		},
		"jwks": {
			"connect_timeout_ms": 2000,
			"read_timeout_ms": 3000,
			"cache_ttl_sec": 600
		}
	}`)

	cfg, err := FromJSONFile(path).Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Domain != "acme" {
		t.Errorf("expected domain acme, got %s", cfg.Domain)
	}
	if !cfg.TokenExchange.Enabled || !cfg.TokenExchange.AllowImpersonation {
		t.Errorf("exchange flags not mapped: %+v", cfg.TokenExchange)
	}
	if len(cfg.TokenExchange.TrustedIssuers) != 1 {
		t.Fatalf("expected one trusted issuer, got %d", len(cfg.TokenExchange.TrustedIssuers))
	}
	ti := cfg.TokenExchange.TrustedIssuers[0]
	if ti.Issuer != "https://partner-idp.example" || ti.KeyResolution != trustly.KeyResolutionJWKSURL {
		t.Errorf("issuer not mapped: %+v", ti)
	}
	if !ti.BindUser || len(ti.BindingCriteria) != 1 || ti.BindingCriteria[0].Attribute != "email" {
		t.Errorf("binding criteria not mapped: %+v", ti)
	}
	if ti.ScopeMappings["partner:read"] != "orders:read" {
		t.Errorf("scope mappings not mapped: %+v", ti.ScopeMappings)
	}
	if cfg.Introspection.StrictAudienceClientMatch == nil || *cfg.Introspection.StrictAudienceClientMatch {
		t.Errorf("expected strict audience match disabled")
	}
	if cfg.Introspection.FreshnessWindow != 2*time.Minute {
		t.Errorf("expected 2m freshness window, got %v", cfg.Introspection.FreshnessWindow)
	}
	if cfg.JWKS.ConnectTimeout != 2*time.Second || cfg.JWKS.ReadTimeout != 3*time.Second || cfg.JWKS.CacheTTL != 10*time.Minute {
		t.Errorf("jwks timeouts not mapped: %+v", cfg.JWKS)
	}
}

func TestFromJSONFileErrors(t *testing.T) {
	if _, err := FromJSONFile(filepath.Join(t.TempDir(), "missing.json")).Load(context.Background()); err == nil {
		t.Errorf("expected error for missing file")
	}

	broken := writeFile(t, "broken.json", `{`)
	if _, err := FromJSONFile(broken).Load(context.Background()); err == nil {
		t.Errorf("expected error for invalid JSON")
	}

	invalid := writeFile(t, "invalid.json", `{
		"domain": "acme",
		"token_exchange": {
			"trusted_issuers": [{"issuer": "https://x.example", "key_resolution": "JWKS_URL"}]
		}
	}`)
	if _, err := FromJSONFile(invalid).Load(context.Background()); err == nil {
		t.Errorf("expected validation failure for JWKS issuer without URL")
	}
}

func TestLoadLuaString(t *testing.T) {
	cfg, err := LoadLuaString(`
		return {
			domain = "acme",
			allowed_algs = {"RS256", "ES256"},
			token_exchange = {
				enabled = true,
				allow_impersonation = true,
				allowed_subject_token_types = {"urn:ietf:params:oauth:token-type:jwt"},
				trusted_issuers = {
					{
						issuer = "https://partner-idp.example",
						key_resolution = "PEM",
						certificate = "-----BEGIN PUBLIC KEY-----...",
						bind_user = true,
						binding_criteria = {
							{attribute = "email", expression = "claims.email"},
						},
						scope_mappings = {["partner:read"] = "orders:read"},
					},
				},
			},
			introspection = {
				strict_audience_client_match = true,
				freshness_window_sec = 60,
			},
			jwks = {
				cache_ttl_sec = 300,
				allow_stale = false,
			},
		}
	`)
	if err != nil {
		t.Fatalf("LoadLuaString: %v", err)
	}

	if cfg.Domain != "acme" {
		t.Errorf("expected domain acme, got %s", cfg.Domain)
	}
	if len(cfg.AllowedAlgs) != 2 {
		t.Errorf("expected 2 allowed algs, got %v", cfg.AllowedAlgs)
	}
	if len(cfg.TokenExchange.TrustedIssuers) != 1 {
		t.Fatalf("expected one trusted issuer, got %d", len(cfg.TokenExchange.TrustedIssuers))
	}
	ti := cfg.TokenExchange.TrustedIssuers[0]
	if ti.KeyResolution != trustly.KeyResolutionPEM || !ti.BindUser {
		t.Errorf("issuer not mapped: %+v", ti)
	}
	if len(ti.BindingCriteria) != 1 || ti.BindingCriteria[0].Expression != "claims.email" {
		t.Errorf("binding criteria not mapped: %+v", ti.BindingCriteria)
	}
	if ti.ScopeMappings["partner:read"] != "orders:read" {
		t.Errorf("scope mappings not mapped: %+v", ti.ScopeMappings)
	}
	if cfg.Introspection.FreshnessWindow != time.Minute {
		t.Errorf("expected 1m freshness window, got %v", cfg.Introspection.FreshnessWindow)
	}
	if cfg.JWKS.AllowStale == nil || *cfg.JWKS.AllowStale {
		t.Errorf("expected allow_stale false")
	}
}

func TestLoadLuaStringErrors(t *testing.T) {
	if _, err := LoadLuaString(`return "not a table"`); err == nil {
		t.Errorf("expected error for non-table return")
	}
	if _, err := LoadLuaString(`this is not lua`); err == nil {
		t.Errorf("expected error for invalid lua")
	}
	if _, err := LoadLuaString(`return { domain = "" }`); err == nil {
		t.Errorf("expected validation failure for empty domain")
	}
}

func TestStrictAudienceEnvOverride(t *testing.T) {
	t.Setenv(StrictAudienceEnvVar, "false")

	base := trustly.Config{Domain: "acme"}
	cfg, err := FromGo(base).Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Introspection.StrictAudienceClientMatch == nil || *cfg.Introspection.StrictAudienceClientMatch {
		t.Errorf("expected env override to disable the strict audience match")
	}

	t.Setenv(StrictAudienceEnvVar, "not-a-bool")
	cfg, err = FromGo(base).Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Introspection.StrictAudienceClientMatch != nil && !*cfg.Introspection.StrictAudienceClientMatch {
		t.Errorf("unparseable override must be ignored")
	}
}
