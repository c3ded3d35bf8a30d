package trustly

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/keksclan/goTrustly/internal/binding"
	"github.com/keksclan/goTrustly/internal/issuerkeys"
)

// Core is the token-trust core of one security domain. It owns the validator
// chain, the trusted-issuer key resolver and the introspection validators.
//
// A Core is built for the lifetime of a domain's runtime configuration and
// discarded wholesale on configuration change; the issuer key cache is
// invalidated by discarding the Core, never in place.
type Core struct {
	cfg   Config
	log   *zap.Logger
	httpc *http.Client

	keys      KeyProvider
	tokens    TokenStore
	clients   ClientRegistry
	resources ProtectedResourceRegistry
	users     UserLookup

	resolver   *issuerkeys.Resolver
	validators []TokenValidator
	criteria   map[string][]*binding.CompiledCriterion

	parseInternalSubject func(string) (source, externalID string, ok bool)
	now                  func() time.Time
}

// New creates a Core for the given domain configuration and collaborators.
// Binding criteria expressions are compiled here so that configuration
// errors surface at construction time, not per request.
func New(cfg Config, collab Collaborators, opts ...Option) (*Core, error) {
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	if collab.Keys == nil {
		return nil, errors.New("the Keys collaborator is required")
	}

	c := &Core{
		cfg:                  cfg,
		log:                  zap.NewNop(),
		keys:                 collab.Keys,
		tokens:               collab.Tokens,
		clients:              collab.Clients,
		resources:            collab.Resources,
		users:                collab.Users,
		parseInternalSubject: parseInternalSubject,
		now:                  time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	resolver, err := issuerkeys.NewResolver(issuerkeys.Options{
		HTTPClient:     c.httpc,
		ConnectTimeout: cfg.JWKS.ConnectTimeout,
		ReadTimeout:    cfg.JWKS.ReadTimeout,
		CacheTTL:       cfg.JWKS.CacheTTL,
		AllowStale:     *cfg.JWKS.AllowStale,
		AllowedAlgs:    cfg.AllowedAlgs,
	})
	if err != nil {
		return nil, fmt.Errorf("init issuer key resolver: %w", err)
	}
	c.resolver = resolver

	c.criteria = make(map[string][]*binding.CompiledCriterion)
	for _, ti := range cfg.TokenExchange.TrustedIssuers {
		if !ti.BindUser || len(ti.BindingCriteria) == 0 {
			continue
		}
		compiled := make([]*binding.CompiledCriterion, 0, len(ti.BindingCriteria))
		for _, crit := range ti.BindingCriteria {
			cc, err := binding.Compile(crit.Attribute, crit.Expression)
			if err != nil {
				return nil, fmt.Errorf("issuer %s: %w", ti.Issuer, err)
			}
			compiled = append(compiled, cc)
		}
		c.criteria[ti.Issuer] = compiled
	}

	// Validators register under the token-type URNs accepted as
	// subject_token_type; each is the full default/domain/trusted chain.
	for _, urn := range []string{TokenTypeAccessToken, TokenTypeRefreshToken, TokenTypeJWT, TokenTypeIDToken} {
		c.validators = append(c.validators, c.buildChain(urn))
	}

	return c, nil
}

func (c *Core) buildChain(urn string) TokenValidator {
	var v TokenValidator = newDefaultTokenValidator(urn, c.cfg.Domain, c.keys, c.cfg.AllowedAlgs, c.now)
	v = newDomainTokenValidator(v, c.cfg.Domain, c.tokens)
	v = newTrustedIssuerTokenValidator(v, c.cfg.Domain, c.resolver, c.now, c.log)
	return v
}

// validatorFor returns the first registered validator supporting the given
// token-type URN.
func (c *Core) validatorFor(urn string) (TokenValidator, error) {
	for _, v := range c.validators {
		if v.SupportedTokenType() == urn {
			return v, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNoValidatorForTokenType, urn)
}

// Domain returns the security domain this core serves.
func (c *Core) Domain() string { return c.cfg.Domain }

// parseInternalSubject is the default internal-subject marker parser,
// accepting "source:external-id".
func parseInternalSubject(v string) (source, externalID string, ok bool) {
	source, externalID, ok = strings.Cut(v, ":")
	if !ok || source == "" || externalID == "" {
		return "", "", false
	}
	return source, externalID, true
}
