package trustly

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Option configures optional Core behavior.
type Option func(*Core)

// WithLogger sets the structured logger. Validation failures are logged at
// debug level with subject-safe detail only. Defaults to a no-op logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *Core) {
		if log != nil {
			c.log = log
		}
	}
}

// WithHTTPClient overrides the HTTP client used for JWKS fetches. The
// configured JWKS timeouts are not applied to a caller-provided client.
func WithHTTPClient(httpc *http.Client) Option {
	return func(c *Core) {
		c.httpc = httpc
	}
}

// WithInternalSubjectParser overrides how the internal-subject marker claim
// is parsed into a user source and external id. The default parser accepts
// "source:external-id".
func WithInternalSubjectParser(parse func(string) (source, externalID string, ok bool)) Option {
	return func(c *Core) {
		if parse != nil {
			c.parseInternalSubject = parse
		}
	}
}

// withClock overrides the time source; used by tests.
func withClock(now func() time.Time) Option {
	return func(c *Core) {
		c.now = now
	}
}
