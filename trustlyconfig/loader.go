// Package trustlyconfig loads trustly.Config from Go values, JSON files,
// or Lua files. Every loader validates the config before returning it.
package trustlyconfig

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/keksclan/goTrustly/trustly"
)

// StrictAudienceEnvVar toggles the legacy audience/client cross-check for
// protected-resource introspection when set ("true"/"false"). It overrides
// whatever the loaded config says.
const StrictAudienceEnvVar = "TRUSTLY_STRICT_AUDIENCE_CLIENT_MATCH"

// Loader loads a trustly.Config from a source.
type Loader interface {
	Load(ctx context.Context) (*trustly.Config, error)
}

// goLoader returns a static config.
type goLoader struct {
	cfg trustly.Config
}

// FromGo creates a Loader that returns the provided config directly.
func FromGo(cfg trustly.Config) Loader {
	return &goLoader{cfg: cfg}
}

func (l *goLoader) Load(_ context.Context) (*trustly.Config, error) {
	cfg := l.cfg
	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return &cfg, nil
}

// jsonLoader loads config from a JSON file.
type jsonLoader struct {
	path string
}

// FromJSONFile creates a Loader that reads config from a JSON file.
func FromJSONFile(path string) Loader {
	return &jsonLoader{path: path}
}

// jsonConfig mirrors trustly.Config for JSON deserialization.
type jsonConfig struct {
	Domain        string            `json:"domain"`
	AllowedAlgs   []string          `json:"allowed_algs"`
	TokenExchange jsonTokenExchange `json:"token_exchange"`
	Introspection jsonIntrospection `json:"introspection"`
	JWKS          jsonJWKS          `json:"jwks"`
}

type jsonTokenExchange struct {
	Enabled                  bool                `json:"enabled"`
	AllowImpersonation       bool                `json:"allow_impersonation"`
	AllowedSubjectTokenTypes []string            `json:"allowed_subject_token_types"`
	TrustedIssuers           []jsonTrustedIssuer `json:"trusted_issuers"`
}

type jsonTrustedIssuer struct {
	Issuer          string               `json:"issuer"`
	KeyResolution   string               `json:"key_resolution"`
	JWKSURL         string               `json:"jwks_url"`
	Certificate     string               `json:"certificate"`
	BindUser        bool                 `json:"bind_user"`
	BindingCriteria []jsonBindingCriterion `json:"binding_criteria"`
	ScopeMappings   map[string]string    `json:"scope_mappings"`
}

type jsonBindingCriterion struct {
	Attribute  string `json:"attribute"`
	Expression string `json:"expression"`
}

type jsonIntrospection struct {
	StrictAudienceClientMatch *bool `json:"strict_audience_client_match"`
	FreshnessWindowSec        int   `json:"freshness_window_sec"`
}

type jsonJWKS struct {
	ConnectTimeoutMs int   `json:"connect_timeout_ms"`
	ReadTimeoutMs    int   `json:"read_timeout_ms"`
	CacheTTLSec      int   `json:"cache_ttl_sec"`
	AllowStale       *bool `json:"allow_stale"`
}

func (l *jsonLoader) Load(_ context.Context) (*trustly.Config, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("read json config: %w", err)
	}
	var jc jsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		return nil, fmt.Errorf("parse json config: %w", err)
	}
	cfg := jsonToConfig(jc)
	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return &cfg, nil
}

func jsonToConfig(jc jsonConfig) trustly.Config {
	cfg := trustly.Config{
		Domain:      jc.Domain,
		AllowedAlgs: jc.AllowedAlgs,
		TokenExchange: trustly.TokenExchangeSettings{
			Enabled:                  jc.TokenExchange.Enabled,
			AllowImpersonation:       jc.TokenExchange.AllowImpersonation,
			AllowedSubjectTokenTypes: jc.TokenExchange.AllowedSubjectTokenTypes,
		},
		Introspection: trustly.IntrospectionConfig{
			StrictAudienceClientMatch: jc.Introspection.StrictAudienceClientMatch,
			FreshnessWindow:           time.Duration(jc.Introspection.FreshnessWindowSec) * time.Second,
		},
		JWKS: trustly.JWKSConfig{
			ConnectTimeout: time.Duration(jc.JWKS.ConnectTimeoutMs) * time.Millisecond,
			ReadTimeout:    time.Duration(jc.JWKS.ReadTimeoutMs) * time.Millisecond,
			CacheTTL:       time.Duration(jc.JWKS.CacheTTLSec) * time.Second,
			AllowStale:     jc.JWKS.AllowStale,
		},
	}
	for _, ji := range jc.TokenExchange.TrustedIssuers {
		ti := trustly.TrustedIssuer{
			Issuer:        ji.Issuer,
			KeyResolution: trustly.KeyResolutionMethod(ji.KeyResolution),
			JWKSURL:       ji.JWKSURL,
			Certificate:   ji.Certificate,
			BindUser:      ji.BindUser,
			ScopeMappings: ji.ScopeMappings,
		}
		for _, jb := range ji.BindingCriteria {
			ti.BindingCriteria = append(ti.BindingCriteria, trustly.FilterCriterion{
				Attribute:  jb.Attribute,
				Expression: jb.Expression,
			})
		}
		cfg.TokenExchange.TrustedIssuers = append(cfg.TokenExchange.TrustedIssuers, ti)
	}
	return cfg
}

// luaLoader loads config from a Lua file.
type luaLoader struct {
	path string
}

// FromLuaFile creates a Loader that reads config from a Lua file.
func FromLuaFile(path string) Loader {
	return &luaLoader{path: path}
}

func (l *luaLoader) Load(_ context.Context) (*trustly.Config, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("read lua config file: %w", err)
	}
	return LoadLuaString(string(data))
}

// LoadLuaString parses a Lua config string and returns a trustly.Config.
// Exported for testing convenience.
func LoadLuaString(script string) (*trustly.Config, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()

	// Only open safe libs for config parsing
	for _, pair := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.LoadLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(pair.fn))
		L.Push(lua.LString(pair.name))
		L.Call(1, 0)
	}
	// Remove dangerous functions
	L.SetGlobal("dofile", lua.LNil)
	L.SetGlobal("loadfile", lua.LNil)
	L.SetGlobal("load", lua.LNil)
	L.SetGlobal("loadstring", lua.LNil)

	if err := L.DoString(script); err != nil {
		return nil, fmt.Errorf("lua config execution: %w", err)
	}

	ret := L.Get(-1)
	tbl, ok := ret.(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("lua config must return a table, got %s", ret.Type().String())
	}

	cfg := luaTableToConfig(tbl)
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func luaTableToConfig(tbl *lua.LTable) *trustly.Config {
	cfg := &trustly.Config{}

	cfg.Domain = getStringField(tbl, "domain")
	cfg.AllowedAlgs = getStringSliceField(tbl, "allowed_algs")

	exchTbl := getTableField(tbl, "token_exchange")
	if exchTbl != nil {
		cfg.TokenExchange.Enabled = getBoolField(exchTbl, "enabled")
		cfg.TokenExchange.AllowImpersonation = getBoolField(exchTbl, "allow_impersonation")
		cfg.TokenExchange.AllowedSubjectTokenTypes = getStringSliceField(exchTbl, "allowed_subject_token_types")

		issuersTbl := getTableField(exchTbl, "trusted_issuers")
		if issuersTbl != nil {
			issuersTbl.ForEach(func(_ lua.LValue, val lua.LValue) {
				t, ok := val.(*lua.LTable)
				if !ok {
					return
				}
				cfg.TokenExchange.TrustedIssuers = append(cfg.TokenExchange.TrustedIssuers, luaTableToIssuer(t))
			})
		}
	}

	introTbl := getTableField(tbl, "introspection")
	if introTbl != nil {
		if v := introTbl.RawGetString("strict_audience_client_match"); v != lua.LNil {
			if b, ok := v.(lua.LBool); ok {
				strict := bool(b)
				cfg.Introspection.StrictAudienceClientMatch = &strict
			}
		}
		if sec := getNumberField(introTbl, "freshness_window_sec"); sec > 0 {
			cfg.Introspection.FreshnessWindow = time.Duration(sec) * time.Second
		}
	}

	jwksTbl := getTableField(tbl, "jwks")
	if jwksTbl != nil {
		if ms := getNumberField(jwksTbl, "connect_timeout_ms"); ms > 0 {
			cfg.JWKS.ConnectTimeout = time.Duration(ms) * time.Millisecond
		}
		if ms := getNumberField(jwksTbl, "read_timeout_ms"); ms > 0 {
			cfg.JWKS.ReadTimeout = time.Duration(ms) * time.Millisecond
		}
		if sec := getNumberField(jwksTbl, "cache_ttl_sec"); sec > 0 {
			cfg.JWKS.CacheTTL = time.Duration(sec) * time.Second
		}
		if v := jwksTbl.RawGetString("allow_stale"); v != lua.LNil {
			if b, ok := v.(lua.LBool); ok {
				stale := bool(b)
				cfg.JWKS.AllowStale = &stale
			}
		}
	}

	return cfg
}

func luaTableToIssuer(tbl *lua.LTable) trustly.TrustedIssuer {
	ti := trustly.TrustedIssuer{
		Issuer:        getStringField(tbl, "issuer"),
		KeyResolution: trustly.KeyResolutionMethod(getStringField(tbl, "key_resolution")),
		JWKSURL:       getStringField(tbl, "jwks_url"),
		Certificate:   getStringField(tbl, "certificate"),
		BindUser:      getBoolField(tbl, "bind_user"),
		ScopeMappings: getStringMapField(tbl, "scope_mappings"),
	}
	criteriaTbl := getTableField(tbl, "binding_criteria")
	if criteriaTbl != nil {
		criteriaTbl.ForEach(func(_ lua.LValue, val lua.LValue) {
			t, ok := val.(*lua.LTable)
			if !ok {
				return
			}
			ti.BindingCriteria = append(ti.BindingCriteria, trustly.FilterCriterion{
				Attribute:  getStringField(t, "attribute"),
				Expression: getStringField(t, "expression"),
			})
		})
	}
	return ti
}

func applyEnvOverrides(cfg *trustly.Config) {
	if raw, ok := os.LookupEnv(StrictAudienceEnvVar); ok {
		if strict, err := strconv.ParseBool(raw); err == nil {
			cfg.Introspection.StrictAudienceClientMatch = &strict
		}
	}
}

// Lua table helper functions

func getStringField(tbl *lua.LTable, key string) string {
	v := tbl.RawGetString(key)
	if s, ok := v.(lua.LString); ok {
		return string(s)
	}
	return ""
}

func getNumberField(tbl *lua.LTable, key string) float64 {
	v := tbl.RawGetString(key)
	if n, ok := v.(lua.LNumber); ok {
		return float64(n)
	}
	return 0
}

func getBoolField(tbl *lua.LTable, key string) bool {
	v := tbl.RawGetString(key)
	if b, ok := v.(lua.LBool); ok {
		return bool(b)
	}
	return false
}

func getTableField(tbl *lua.LTable, key string) *lua.LTable {
	v := tbl.RawGetString(key)
	if t, ok := v.(*lua.LTable); ok {
		return t
	}
	return nil
}

func getStringSliceField(tbl *lua.LTable, key string) []string {
	v := tbl.RawGetString(key)
	t, ok := v.(*lua.LTable)
	if !ok {
		return nil
	}
	var result []string
	t.ForEach(func(_ lua.LValue, val lua.LValue) {
		if s, ok := val.(lua.LString); ok {
			result = append(result, string(s))
		}
	})
	return result
}

func getStringMapField(tbl *lua.LTable, key string) map[string]string {
	v := tbl.RawGetString(key)
	t, ok := v.(*lua.LTable)
	if !ok {
		return nil
	}
	result := make(map[string]string)
	t.ForEach(func(k lua.LValue, val lua.LValue) {
		if ks, ok := k.(lua.LString); ok {
			if vs, ok := val.(lua.LString); ok {
				result[string(ks)] = string(vs)
			}
		}
	})
	if len(result) == 0 {
		return nil
	}
	return result
}
