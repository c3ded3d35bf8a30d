// Package trustlyfasthttp provides raw fasthttp handlers for goTrustly's
// token-exchange and introspection flows, mirroring the Fiber adapter for
// deployments that use fasthttp directly.
//
// Concurrency: All exported functions are safe for concurrent use.
package trustlyfasthttp

import (
	"encoding/json"

	"github.com/valyala/fasthttp"

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

// TokenEndpoint returns a request handler serving the token-exchange grant.
func TokenEndpoint(core *trustly.Core, clients *clientauth.Verifier, minter common.TokenMinter) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		clientID, ok := authenticateClient(ctx, clients)
		if !ok {
			unauthorized(ctx)
			return
		}

		if formValue(ctx, common.ParamGrantType) != trustly.GrantTypeTokenExchange {
			writeJSON(ctx, fasthttp.StatusBadRequest, common.OAuthError{Code: "unsupported_grant_type"})
			return
		}

		req := trustly.ExchangeRequest{
			SubjectToken:       formValue(ctx, common.ParamSubjectToken),
			SubjectTokenType:   formValue(ctx, common.ParamSubjectTokenType),
			RequestedTokenType: formValue(ctx, common.ParamRequestedTokenType),
			Scope:              formValue(ctx, common.ParamScope),
		}

		result, err := core.Exchange(ctx, req, &trustly.Client{ClientID: clientID})
		if err != nil {
			status, body := common.MapExchangeError(err)
			writeJSON(ctx, status, body)
			return
		}

		token, expiresIn, err := minter.Mint(ctx, result)
		if err != nil {
			writeJSON(ctx, fasthttp.StatusInternalServerError, common.OAuthError{Code: "server_error"})
			return
		}
		writeJSON(ctx, fasthttp.StatusOK, common.NewExchangeResponse(result, token, expiresIn))
	}
}

// IntrospectionEndpoint returns a request handler serving RFC 7662
// introspection.
func IntrospectionEndpoint(core *trustly.Core, clients *clientauth.Verifier, opts ...Option) fasthttp.RequestHandler {
	o := buildOptions(opts)
	return func(ctx *fasthttp.RequestCtx) {
		clientID, ok := authenticateClient(ctx, clients)
		if !ok {
			unauthorized(ctx)
			return
		}

		raw := formValue(ctx, common.ParamToken)
		if raw == "" {
			writeJSON(ctx, fasthttp.StatusBadRequest, common.OAuthError{Code: "invalid_request", Description: "token parameter is required"})
			return
		}

		iopts := trustly.IntrospectionOptions{
			Online:         o.online,
			CallerClientID: clientID,
		}

		var vt *trustly.ValidatedToken
		var err error
		if formValue(ctx, common.ParamTokenTypeHint) == common.HintRefreshToken {
			vt, err = core.IntrospectRefreshToken(ctx, raw, iopts)
		} else {
			vt, err = core.IntrospectAccessToken(ctx, raw, iopts)
		}
		if err != nil {
			writeJSON(ctx, fasthttp.StatusOK, common.InactiveResponse())
			return
		}
		writeJSON(ctx, fasthttp.StatusOK, common.NewIntrospectionResponse(vt))
	}
}

func authenticateClient(ctx *fasthttp.RequestCtx, clients *clientauth.Verifier) (string, bool) {
	header := string(ctx.Request.Header.Peek(fasthttp.HeaderAuthorization))
	clientID, clientSecret, err := common.ParseBasicCredentials(header)
	if err != nil {
		return "", false
	}
	if err := clients.Verify(ctx, clientID, clientSecret); err != nil {
		return "", false
	}
	return clientID, true
}

func formValue(ctx *fasthttp.RequestCtx, name string) string {
	return string(ctx.PostArgs().Peek(name))
}

func unauthorized(ctx *fasthttp.RequestCtx) {
	ctx.Response.Header.Set(fasthttp.HeaderWWWAuthenticate, `Basic realm="token endpoint"`)
	writeJSON(ctx, fasthttp.StatusUnauthorized, common.OAuthError{Code: "invalid_client"})
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, body any) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	_ = json.NewEncoder(ctx).Encode(body)
}
