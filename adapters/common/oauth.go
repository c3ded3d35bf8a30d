// Package common provides shared adapter utilities for goTrustly: the RFC
// 8693 and RFC 7662 request parameter names, client credential parsing, the
// standard introspection response shape, and the mapping from core errors to
// OAuth error responses.
//
// Concurrency: All exported types and functions are safe for concurrent use.
package common

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"

	"github.com/keksclan/goTrustly/trustly"
)

// Request parameter names used by the token and introspection endpoints.
const (
	ParamGrantType          = "grant_type"
	ParamSubjectToken       = "subject_token"
	ParamSubjectTokenType   = "subject_token_type"
	ParamRequestedTokenType = "requested_token_type"
	ParamScope              = "scope"
	ParamToken              = "token"
	ParamTokenTypeHint      = "token_type_hint"
)

// HintRefreshToken is the token_type_hint value selecting the refresh-token
// introspection validator.
const HintRefreshToken = "refresh_token"

// ErrInvalidAuthorizationHeader is returned when client credentials cannot
// be read from the Authorization header.
var ErrInvalidAuthorizationHeader = errors.New("invalid authorization header")

// TokenMinter signs a new token from an exchange result. Minting is outside
// the token-trust core; endpoint adapters hand the exchange result to this
// collaborator.
type TokenMinter interface {
	// Mint returns the signed token and its lifetime in seconds.
	Mint(ctx context.Context, result *trustly.ExchangeResult) (token string, expiresIn int64, err error)
}

// ParseBasicCredentials extracts a client id and secret from a Basic
// Authorization header value.
func ParseBasicCredentials(header string) (clientID, clientSecret string, err error) {
	const prefix = "Basic "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", "", ErrInvalidAuthorizationHeader
	}
	decoded, err := base64.StdEncoding.DecodeString(header[len(prefix):])
	if err != nil {
		return "", "", ErrInvalidAuthorizationHeader
	}
	id, secret, ok := strings.Cut(string(decoded), ":")
	if !ok || id == "" {
		return "", "", ErrInvalidAuthorizationHeader
	}
	return id, secret, nil
}

// ExchangeResponse is the token endpoint's success body for an RFC 8693
// exchange.
type ExchangeResponse struct {
	AccessToken     string `json:"access_token"`
	IssuedTokenType string `json:"issued_token_type"`
	TokenType       string `json:"token_type"`
	ExpiresIn       int64  `json:"expires_in,omitempty"`
	Scope           string `json:"scope,omitempty"`
}

// NewExchangeResponse builds the success body from the exchange result and
// the minted token.
func NewExchangeResponse(result *trustly.ExchangeResult, token string, expiresIn int64) ExchangeResponse {
	return ExchangeResponse{
		AccessToken:     token,
		IssuedTokenType: result.IssuedTokenType,
		TokenType:       "Bearer",
		ExpiresIn:       expiresIn,
		Scope:           result.GrantedScopes.String(),
	}
}

// IntrospectionResponse is the RFC 7662 introspection response shape.
type IntrospectionResponse struct {
	Active    bool     `json:"active"`
	Scope     string   `json:"scope,omitempty"`
	ClientID  string   `json:"client_id,omitempty"`
	Username  string   `json:"username,omitempty"`
	TokenType string   `json:"token_type,omitempty"`
	Exp       int64    `json:"exp,omitempty"`
	Iat       int64    `json:"iat,omitempty"`
	Nbf       int64    `json:"nbf,omitempty"`
	Sub       string   `json:"sub,omitempty"`
	Aud       []string `json:"aud,omitempty"`
	Iss       string   `json:"iss,omitempty"`
	Jti       string   `json:"jti,omitempty"`
}

// InactiveResponse is the body returned for any token that failed
// introspection; per RFC 7662 nothing beyond active=false is disclosed.
func InactiveResponse() IntrospectionResponse {
	return IntrospectionResponse{Active: false}
}

// NewIntrospectionResponse shapes a validated token into the standard
// response.
func NewIntrospectionResponse(vt *trustly.ValidatedToken) IntrospectionResponse {
	resp := IntrospectionResponse{
		Active:    true,
		Scope:     vt.Scopes.String(),
		ClientID:  vt.ClientID,
		TokenType: "Bearer",
		Sub:       vt.Subject,
		Aud:       vt.Audience,
		Iss:       vt.Issuer,
		Jti:       vt.ID,
	}
	if username, ok := vt.Claims["preferred_username"].(string); ok {
		resp.Username = username
	}
	if vt.ExpiresAt != nil {
		resp.Exp = vt.ExpiresAt.Unix()
	}
	if vt.IssuedAt != nil {
		resp.Iat = vt.IssuedAt.Unix()
	}
	if vt.NotBefore != nil {
		resp.Nbf = vt.NotBefore.Unix()
	}
	return resp
}

// OAuthError is the RFC 6749 error response body.
type OAuthError struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

// MapExchangeError maps a core exchange error to an HTTP status and OAuth
// error body. Request-shape and policy failures become invalid_request;
// everything the validator chain rejects becomes invalid_grant; anything
// else is a server error with no internal detail.
func MapExchangeError(err error) (int, OAuthError) {
	switch {
	case errors.Is(err, trustly.ErrExchangeDisabled),
		errors.Is(err, trustly.ErrMissingSubjectToken),
		errors.Is(err, trustly.ErrMissingSubjectTokenType),
		errors.Is(err, trustly.ErrSubjectTokenTypeNotAllowed),
		errors.Is(err, trustly.ErrUnsupportedRequestedType),
		errors.Is(err, trustly.ErrImpersonationNotAllowed),
		errors.Is(err, trustly.ErrNoValidatorForTokenType):
		return http.StatusBadRequest, OAuthError{Code: "invalid_request", Description: err.Error()}
	case errors.Is(err, trustly.ErrTokenExpired),
		errors.Is(err, trustly.ErrTokenNotYetValid),
		errors.Is(err, trustly.ErrTokenRevoked),
		errors.Is(err, trustly.ErrInvalidToken),
		errors.Is(err, trustly.ErrSignatureInvalid),
		errors.Is(err, trustly.ErrUntrustedIssuer),
		errors.Is(err, trustly.ErrMissingIssuerClaim),
		errors.Is(err, trustly.ErrBindingUserNotFound),
		errors.Is(err, trustly.ErrBindingAmbiguous),
		errors.Is(err, trustly.ErrBindingEvaluation),
		errors.Is(err, trustly.ErrBindingEmptyValue),
		errors.Is(err, trustly.ErrBindingClaimsUnavailable),
		errors.Is(err, trustly.ErrBindingNoCriteria):
		return http.StatusBadRequest, OAuthError{Code: "invalid_grant", Description: err.Error()}
	default:
		return http.StatusInternalServerError, OAuthError{Code: "server_error"}
	}
}
