// Package issuerkeys resolves and caches verification key material for
// trusted external issuers. Each issuer URL maps to a lazily-built
// verification processor: a remote JWKS source with bounded timeouts and
// stale-set fallback, or a static PEM certificate parsed once.
//
// Concurrency: a Resolver is safe for concurrent use. Processor construction
// uses insert-if-absent semantics; concurrent callers racing on the same new
// issuer converge on one stored processor, losers discard theirs.
package issuerkeys

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/golang-jwt/jwt/v5"
)

// ErrConfiguration marks issuer configuration failures (malformed JWKS URL,
// unparsable PEM, unsupported resolution method). These are distinct from
// verification errors and are never retried.
var ErrConfiguration = errors.New("trusted issuer configuration error")

// ErrKeyNotFound is returned when no key in the issuer's material matches
// the token's kid.
var ErrKeyNotFound = errors.New("key not found in issuer key material")

// ErrUnsupportedKeyType is returned for key types other than RSA and EC.
var ErrUnsupportedKeyType = errors.New("unsupported key type")

// ErrMissingIssuer is returned when the verified token carries no iss claim.
var ErrMissingIssuer = errors.New("token has no issuer claim")

// Method selects how an issuer's keys are obtained.
type Method string

const (
	MethodJWKSURL Method = "JWKS_URL"
	MethodPEM     Method = "PEM"
)

// IssuerConfig is the key-resolution slice of a trusted issuer's
// configuration.
type IssuerConfig struct {
	Issuer      string
	Method      Method
	JWKSURL     string
	Certificate string
}

// Options configures a Resolver.
type Options struct {
	// HTTPClient overrides the JWKS fetch client. When nil a client with
	// the configured connect/read timeouts is built.
	HTTPClient *http.Client

	// ConnectTimeout and ReadTimeout bound each JWKS fetch. Defaults 5s/5s.
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration

	// CacheTTL is the freshness window of a fetched key set. Default 15m.
	CacheTTL time.Duration

	// AllowStale serves the last fetched key set when a refresh fails.
	AllowStale bool

	// AllowedAlgs restricts accepted JWS algorithms.
	AllowedAlgs []string
}

// processor exposes verification keys for one issuer.
type processor interface {
	// key returns the verification key for the given kid. An empty kid
	// selects the sole key when the material holds exactly one.
	key(ctx context.Context, kid string) (any, error)
}

// Resolver maintains the per-issuer processor cache and verifies tokens
// against trusted-issuer key material.
type Resolver struct {
	opts   Options
	httpc  *http.Client
	cache  *ristretto.Cache
	procs  sync.Map // issuer URL -> processor
	parser *jwt.Parser
}

// NewResolver builds a Resolver. The ristretto cache backs fetched JWKS key
// sets (fresh and stale tiers); processors themselves live for the lifetime
// of the Resolver and are discarded with it on configuration reload.
func NewResolver(opts Options) (*Resolver, error) {
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = 5 * time.Second
	}
	if opts.CacheTTL == 0 {
		opts.CacheTTL = 15 * time.Minute
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1 << 12,
		MaxCost:     1 << 10,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create jwks cache: %w", err)
	}

	httpc := opts.HTTPClient
	if httpc == nil {
		httpc = newJWKSHTTPClient(opts.ConnectTimeout, opts.ReadTimeout)
	}

	parserOpts := []jwt.ParserOption{
		// Temporal checks are deliberately not re-validated here; expiry
		// and not-before remain the caller's policy.
		jwt.WithoutClaimsValidation(),
	}
	if len(opts.AllowedAlgs) > 0 {
		parserOpts = append(parserOpts, jwt.WithValidMethods(opts.AllowedAlgs))
	}

	return &Resolver{
		opts:   opts,
		httpc:  httpc,
		cache:  cache,
		parser: jwt.NewParser(parserOpts...),
	}, nil
}

// Resolve verifies the raw token against the issuer's key material and
// returns its claims. Only the iss claim is mandatory at this level.
func (r *Resolver) Resolve(ctx context.Context, raw string, cfg IssuerConfig) (map[string]any, error) {
	proc, err := r.processorFor(cfg)
	if err != nil {
		return nil, err
	}

	var mc jwt.MapClaims
	_, err = r.parser.ParseWithClaims(raw, &mc, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		return proc.key(ctx, kid)
	})
	if err != nil {
		return nil, fmt.Errorf("verify against issuer %s: %w", cfg.Issuer, err)
	}

	if iss, _ := mc["iss"].(string); iss == "" {
		return nil, ErrMissingIssuer
	}
	return map[string]any(mc), nil
}

// processorFor returns the cached processor for the issuer, building it on
// first access. A racing duplicate construction on a cold cache is
// acceptable; the loser's processor is discarded without ever fetching keys
// (JWKS processors fetch lazily, PEM processors only parse).
func (r *Resolver) processorFor(cfg IssuerConfig) (processor, error) {
	if p, ok := r.procs.Load(cfg.Issuer); ok {
		return p.(processor), nil
	}
	built, err := r.buildProcessor(cfg)
	if err != nil {
		return nil, err
	}
	actual, _ := r.procs.LoadOrStore(cfg.Issuer, built)
	return actual.(processor), nil
}

func (r *Resolver) buildProcessor(cfg IssuerConfig) (processor, error) {
	switch cfg.Method {
	case MethodJWKSURL:
		u, err := url.Parse(cfg.JWKSURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return nil, fmt.Errorf("%w: issuer %s: malformed JWKS URL %q", ErrConfiguration, cfg.Issuer, cfg.JWKSURL)
		}
		return newJWKSProcessor(cfg.JWKSURL, r.httpc, r.cache, r.opts.CacheTTL, r.opts.AllowStale), nil
	case MethodPEM:
		p, err := newPEMProcessor(cfg.Certificate)
		if err != nil {
			return nil, fmt.Errorf("%w: issuer %s: %v", ErrConfiguration, cfg.Issuer, err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%w: issuer %s: unsupported key resolution method %q", ErrConfiguration, cfg.Issuer, cfg.Method)
	}
}
