package trustly

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/keksclan/goTrustly/internal/claims"
)

// internalSubjectClaim marks a subject the host platform issued itself; its
// value identifies an identity-provider source and external user id.
const internalSubjectClaim = "internal_sub"

// ExchangeRequest carries the RFC 8693 token-exchange request parameters.
type ExchangeRequest struct {
	SubjectToken       string
	SubjectTokenType   string
	RequestedTokenType string

	// Scope is read from the request but not applied: granted scopes are
	// the subject token's verified scopes, carried over 1:1. Scope
	// narrowing is a future extension point of this layer.
	Scope string
}

// Principal is the impersonated identity an exchange produces: it represents
// the subject token's owner, not the exchanging client.
type Principal struct {
	// ID is the subject of the validated token.
	ID string

	// Username is the preferred_username claim when present, else the subject.
	Username string

	// Source and ExternalID locate the backing identity-provider account
	// when the subject could be resolved to one. Empty otherwise.
	Source     string
	ExternalID string

	// Claims carries the granted scopes and exchange bookkeeping consumed
	// by the token-minting collaborator.
	Claims map[string]any
}

// ExchangeResult is handed to a token-minting collaborator outside this core.
type ExchangeResult struct {
	Principal        Principal
	IssuedTokenType  string
	ExpiresAt        *time.Time
	SubjectTokenID   string
	SubjectTokenType string
	GrantedScopes    ScopeSet
}

// Exchange validates the subject token and builds an impersonation exchange
// result. client is the authenticated client performing the exchange. Every
// policy gate is checked before any cryptographic work happens.
func (c *Core) Exchange(ctx context.Context, req ExchangeRequest, client *Client) (*ExchangeResult, error) {
	settings := c.cfg.TokenExchange

	if !settings.Enabled {
		return nil, ErrExchangeDisabled
	}
	if req.SubjectToken == "" {
		return nil, ErrMissingSubjectToken
	}
	if req.SubjectTokenType == "" {
		return nil, ErrMissingSubjectTokenType
	}
	if !settings.SubjectTokenTypeAllowed(req.SubjectTokenType) {
		return nil, fmt.Errorf("%w: %s", ErrSubjectTokenTypeNotAllowed, req.SubjectTokenType)
	}
	requestedType := req.RequestedTokenType
	if requestedType == "" {
		requestedType = TokenTypeAccessToken
	}
	if requestedType != TokenTypeAccessToken {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedRequestedType, requestedType)
	}
	// Impersonation is the only supported exchange mode.
	if !settings.AllowImpersonation {
		return nil, ErrImpersonationNotAllowed
	}

	validator, err := c.validatorFor(req.SubjectTokenType)
	if err != nil {
		return nil, err
	}

	vt, err := validator.Validate(ctx, req.SubjectToken, settings)
	if err != nil {
		c.log.Debug("subject token validation failed",
			zap.String("subject_token_type", req.SubjectTokenType),
			zap.String("domain", c.cfg.Domain),
			zap.Error(err),
		)
		return nil, err
	}

	granted := vt.Scopes

	clientID := ""
	if client != nil {
		clientID = client.ClientID
	}

	principal := Principal{
		ID:       vt.Subject,
		Username: vt.Subject,
		Claims: map[string]any{
			"original_sub":         vt.Subject,
			"scope":                granted.String(),
			"client_id":            clientID,
			"token_exchange":       true,
			"impersonation":        true,
			"subject_token_type":   req.SubjectTokenType,
			"requested_token_type": requestedType,
			"subject_token_id":     vt.ID,
		},
	}
	if username := claims.String(vt.Claims, claims.PreferredUsername); username != "" {
		principal.Username = username
	}
	if marker := claims.String(vt.Claims, internalSubjectClaim); marker != "" {
		if source, externalID, ok := c.parseInternalSubject(marker); ok {
			principal.Source = source
			principal.ExternalID = externalID
		}
	}

	if vt.TrustedIssuer != nil {
		user, err := c.ResolveSubject(ctx, vt)
		if err != nil {
			return nil, err
		}
		if user != nil {
			principal.Source = user.Source
			principal.ExternalID = user.ExternalID
			if user.Username != "" {
				principal.Username = user.Username
			}
		}
	}

	return &ExchangeResult{
		Principal:        principal,
		IssuedTokenType:  requestedType,
		ExpiresAt:        vt.ExpiresAt,
		SubjectTokenID:   vt.ID,
		SubjectTokenType: req.SubjectTokenType,
		GrantedScopes:    granted,
	}, nil
}
