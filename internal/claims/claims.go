// Package claims normalizes heterogeneous JWT claim representations into
// plain Go containers. The same helpers are applied for scope and audience
// parsing wherever tokens are decoded, so the String vs list vs null handling
// lives in exactly one place.
package claims

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Registered claim names used across the core.
const (
	Subject           = "sub"
	Issuer            = "iss"
	Audience          = "aud"
	Expiration        = "exp"
	IssuedAt          = "iat"
	NotBefore         = "nbf"
	TokenID           = "jti"
	Scope             = "scope"
	ClientID          = "client_id"
	Domain            = "domain"
	PreferredUsername = "preferred_username"
)

var unverifiedParser = jwt.NewParser()

// Decode parses the token without verifying its signature and returns the
// claims verbatim. It is used to read routing hints (issuer, audience)
// before a verification strategy is selected; callers must never trust the
// result without a subsequent verification.
func Decode(raw string) (map[string]any, error) {
	var mc jwt.MapClaims
	if _, _, err := unverifiedParser.ParseUnverified(raw, &mc); err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	return map[string]any(mc), nil
}

// Scopes normalizes a scope claim value. Both the space-delimited string
// form and the list form are accepted; any other type yields an empty set.
func Scopes(v any) []string {
	switch val := v.(type) {
	case string:
		return strings.Fields(val)
	case []string:
		out := make([]string, 0, len(val))
		for _, s := range val {
			if s != "" {
				out = append(out, s)
			}
		}
		return out
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Audiences normalizes an aud claim value, preserving list order. Both the
// single-string form and the list form are accepted; any other type yields
// an empty list.
func Audiences(v any) []string {
	switch val := v.(type) {
	case string:
		if val == "" {
			return nil
		}
		return []string{val}
	case []string:
		out := make([]string, 0, len(val))
		for _, s := range val {
			if s != "" {
				out = append(out, s)
			}
		}
		return out
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Time normalizes a numeric-date claim value. Nil is returned when the claim
// is absent or not numeric.
func Time(v any) *time.Time {
	var secs float64
	switch val := v.(type) {
	case float64:
		secs = val
	case int64:
		secs = float64(val)
	case int:
		secs = float64(val)
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return nil
		}
		secs = f
	default:
		return nil
	}
	t := time.Unix(int64(secs), 0).UTC()
	return &t
}

// String returns the named claim as a string, or "" when absent or not a
// string.
func String(m map[string]any, name string) string {
	s, _ := m[name].(string)
	return s
}
