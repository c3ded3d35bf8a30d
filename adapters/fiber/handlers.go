// Package trustlyfiber provides Fiber handlers for goTrustly's two protocol
// flows: the RFC 8693 token-exchange grant on the token endpoint and RFC
// 7662 token introspection.
//
// Both handlers authenticate the calling client from the Basic Authorization
// header before any token work happens. On authentication failure a 401
// invalid_client response is returned; introspection of an invalid token
// returns 200 with active=false, as the RFC requires.
//
// Concurrency: All exported functions are safe for concurrent use.
package trustlyfiber

import (
	"github.com/gofiber/fiber/v2"

	"github.com/keksclan/goTrustly/adapters/common"
	"github.com/keksclan/goTrustly/clientauth"
	"github.com/keksclan/goTrustly/trustly"
)

// Option configures the introspection handler.
type Option func(*options)

type options struct {
	online bool
}

// WithOnlineVerification enables the live-store revocation and expiry
// checks for introspected tokens.
func WithOnlineVerification() Option {
	return func(o *options) {
		o.online = true
	}
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// TokenEndpoint returns a handler serving the token-exchange grant. The
// exchange result is handed to the minter; other grant types are rejected
// with unsupported_grant_type.
func TokenEndpoint(core *trustly.Core, clients *clientauth.Verifier, minter common.TokenMinter) fiber.Handler {
	return func(c *fiber.Ctx) error {
		clientID, ok := authenticateClient(c, clients)
		if !ok {
			return unauthorized(c)
		}

		if c.FormValue(common.ParamGrantType) != trustly.GrantTypeTokenExchange {
			return c.Status(fiber.StatusBadRequest).JSON(common.OAuthError{Code: "unsupported_grant_type"})
		}

		req := trustly.ExchangeRequest{
			SubjectToken:       c.FormValue(common.ParamSubjectToken),
			SubjectTokenType:   c.FormValue(common.ParamSubjectTokenType),
			RequestedTokenType: c.FormValue(common.ParamRequestedTokenType),
			Scope:              c.FormValue(common.ParamScope),
		}

		result, err := core.Exchange(c.UserContext(), req, &trustly.Client{ClientID: clientID})
		if err != nil {
			status, body := common.MapExchangeError(err)
			return c.Status(status).JSON(body)
		}

		token, expiresIn, err := minter.Mint(c.UserContext(), result)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(common.OAuthError{Code: "server_error"})
		}
		return c.JSON(common.NewExchangeResponse(result, token, expiresIn))
	}
}

// IntrospectionEndpoint returns a handler serving RFC 7662 introspection.
// The token_type_hint parameter selects the refresh-token validator;
// anything else introspects as an access token.
func IntrospectionEndpoint(core *trustly.Core, clients *clientauth.Verifier, opts ...Option) fiber.Handler {
	o := buildOptions(opts)
	return func(c *fiber.Ctx) error {
		clientID, ok := authenticateClient(c, clients)
		if !ok {
			return unauthorized(c)
		}

		raw := c.FormValue(common.ParamToken)
		if raw == "" {
			return c.Status(fiber.StatusBadRequest).JSON(common.OAuthError{Code: "invalid_request", Description: "token parameter is required"})
		}

		iopts := trustly.IntrospectionOptions{
			Online:         o.online,
			CallerClientID: clientID,
		}

		var vt *trustly.ValidatedToken
		var err error
		if c.FormValue(common.ParamTokenTypeHint) == common.HintRefreshToken {
			vt, err = core.IntrospectRefreshToken(c.UserContext(), raw, iopts)
		} else {
			vt, err = core.IntrospectAccessToken(c.UserContext(), raw, iopts)
		}
		if err != nil {
			return c.JSON(common.InactiveResponse())
		}
		return c.JSON(common.NewIntrospectionResponse(vt))
	}
}

func authenticateClient(c *fiber.Ctx, clients *clientauth.Verifier) (string, bool) {
	clientID, clientSecret, err := common.ParseBasicCredentials(c.Get(fiber.HeaderAuthorization))
	if err != nil {
		return "", false
	}
	if err := clients.Verify(c.UserContext(), clientID, clientSecret); err != nil {
		return "", false
	}
	return clientID, true
}

func unauthorized(c *fiber.Ctx) error {
	c.Set(fiber.HeaderWWWAuthenticate, `Basic realm="token endpoint"`)
	return c.Status(fiber.StatusUnauthorized).JSON(common.OAuthError{Code: "invalid_client"})
}
