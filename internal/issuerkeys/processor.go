package issuerkeys

import (
	"context"
	"crypto/ecdsa"
	"crypto/rsa"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"golang.org/x/sync/singleflight"
)

// maxJWKSResponseSize limits JWKS responses to prevent memory bombs.
const maxJWKSResponseSize = 1 << 20 // 1 MB

// newJWKSHTTPClient builds a client with separate connect and read bounds.
func newJWKSHTTPClient(connectTimeout, readTimeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: readTimeout,
		Transport: &http.Transport{
			DialContext:         (&net.Dialer{Timeout: connectTimeout}).DialContext,
			TLSHandshakeTimeout: connectTimeout,
		},
	}
}

// jwksProcessor resolves keys from a remote JWKS endpoint. Fetched key sets
// are cached in a fresh tier for the configured TTL and in a stale tier kept
// four times as long (minimum one hour); expiry of the fresh tier triggers an
// automatic refetch, and the stale tier tolerates transient outages of the
// endpoint when enabled.
type jwksProcessor struct {
	url        string
	httpc      *http.Client
	cache      *ristretto.Cache
	ttl        time.Duration
	allowStale bool
	sfGroup    singleflight.Group
}

func newJWKSProcessor(url string, httpc *http.Client, cache *ristretto.Cache, ttl time.Duration, allowStale bool) *jwksProcessor {
	return &jwksProcessor{
		url:        url,
		httpc:      httpc,
		cache:      cache,
		ttl:        ttl,
		allowStale: allowStale,
	}
}

func (p *jwksProcessor) key(ctx context.Context, kid string) (any, error) {
	freshKey := "jwks:fresh:" + p.url
	staleKey := "jwks:stale:" + p.url

	if val, ok := p.cache.Get(freshKey); ok {
		if set, ok := val.(jwk.Set); ok && set != nil {
			return keyFromSet(set, kid)
		}
	}

	// Singleflight suppresses fetch stampedes on concurrent cache misses.
	result, fetchErr, _ := p.sfGroup.Do(p.url, func() (any, error) {
		// Another goroutine may have populated the cache meanwhile.
		if val, ok := p.cache.Get(freshKey); ok {
			if set, ok := val.(jwk.Set); ok && set != nil {
				return set, nil
			}
		}
		// The fetch is shared by every waiter; the caller that happened
		// to start it must not cancel it for the others. The HTTP
		// client's connect and read timeouts still bound the request.
		return p.fetchSet(context.WithoutCancel(ctx))
	})
	if fetchErr == nil {
		set, ok := result.(jwk.Set)
		if !ok {
			return nil, fmt.Errorf("unexpected fetch result type %T for %s", result, p.url)
		}
		p.cache.SetWithTTL(freshKey, set, 1, p.ttl)
		staleTTL := max(p.ttl*4, time.Hour)
		p.cache.SetWithTTL(staleKey, set, 1, staleTTL)
		// ristretto applies sets asynchronously; flush so immediate
		// subsequent reads observe the fresh set.
		p.cache.Wait()
		return keyFromSet(set, kid)
	}

	if p.allowStale {
		if val, ok := p.cache.Get(staleKey); ok {
			if set, ok := val.(jwk.Set); ok && set != nil {
				return keyFromSet(set, kid)
			}
		}
	}

	return nil, fmt.Errorf("fetch JWKS: %w", fetchErr)
}

func (p *jwksProcessor) fetchSet(ctx context.Context) (jwk.Set, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := p.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	set, err := jwk.ParseReader(io.LimitReader(resp.Body, maxJWKSResponseSize))
	if err != nil {
		return nil, fmt.Errorf("parse jwks: %w", err)
	}
	return set, nil
}

// pemProcessor exposes the single key of a statically configured PEM
// certificate. The certificate is parsed once at construction; no network
// calls are made.
type pemProcessor struct {
	pub any
	kid string
}

func newPEMProcessor(certificate string) (*pemProcessor, error) {
	key, err := jwk.ParseKey([]byte(certificate), jwk.WithPEM(true))
	if err != nil {
		return nil, fmt.Errorf("parse PEM certificate: %w", err)
	}
	var raw any
	if err := key.Raw(&raw); err != nil {
		return nil, fmt.Errorf("extract key from PEM certificate: %w", err)
	}
	switch raw.(type) {
	case *rsa.PublicKey, *ecdsa.PublicKey:
	default:
		return nil, ErrUnsupportedKeyType
	}
	kid, _ := key.Get(jwk.KeyIDKey)
	kidStr, _ := kid.(string)
	return &pemProcessor{pub: raw, kid: kidStr}, nil
}

func (p *pemProcessor) key(_ context.Context, kid string) (any, error) {
	// A static certificate has exactly one key; only reject when the token
	// names a different kid than the certificate carries.
	if kid != "" && p.kid != "" && kid != p.kid {
		return nil, ErrKeyNotFound
	}
	return p.pub, nil
}

// keyFromSet looks a key up by kid, falling back to the sole key of a
// single-entry set when the token has no kid header.
func keyFromSet(set jwk.Set, kid string) (any, error) {
	var key jwk.Key
	if kid != "" {
		k, ok := set.LookupKeyID(kid)
		if !ok {
			return nil, ErrKeyNotFound
		}
		key = k
	} else {
		if set.Len() != 1 {
			return nil, ErrKeyNotFound
		}
		k, _ := set.Key(0)
		key = k
	}
	var raw any
	if err := key.Raw(&raw); err != nil {
		return nil, fmt.Errorf("extract raw key: %w", err)
	}
	switch raw.(type) {
	case *rsa.PublicKey, *ecdsa.PublicKey:
		return raw, nil
	default:
		return nil, ErrUnsupportedKeyType
	}
}
