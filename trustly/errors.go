package trustly

import "errors"

// Configuration errors: surfaced immediately, never retried.
var (
	ErrExchangeDisabled           = errors.New("token exchange is not enabled for this domain")
	ErrMissingSubjectToken        = errors.New("missing parameter: subject_token")
	ErrMissingSubjectTokenType    = errors.New("missing parameter: subject_token_type")
	ErrSubjectTokenTypeNotAllowed = errors.New("subject_token_type is not allowed for this domain")
	ErrUnsupportedRequestedType   = errors.New("unsupported requested_token_type")
	ErrImpersonationNotAllowed    = errors.New("impersonation is not allowed for this domain")
	ErrNoValidatorForTokenType    = errors.New("no validator for token type")
	ErrIssuerConfiguration        = errors.New("invalid trusted issuer configuration")
)

// Verification errors: internal cause detail is logged at debug level but
// hidden from the caller.
var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrSignatureInvalid = errors.New("token signature verification failed")
)

// Temporal errors always propagate as-is and explicitly bypass the
// trusted-issuer fallback: an expired token is expired regardless of which
// issuer signed it.
var (
	ErrTokenExpired     = errors.New("token has expired")
	ErrTokenNotYetValid = errors.New("token is not valid yet")
)

// Trust errors carry caller-facing messages naming the offending condition.
var (
	ErrUntrustedIssuer    = errors.New("untrusted issuer")
	ErrMissingIssuerClaim = errors.New("token has no issuer claim")
	ErrNoAudienceClaim    = errors.New("no audience claim")
	ErrAudienceMismatch   = errors.New("audience values do not match any client or protected-resource identifier")
	ErrClientMismatch     = errors.New("protected resource is not owned by the introspecting client")
	ErrUnknownClient      = errors.New("invalid or unknown client")
)

// Revocation errors are treated as invalid-token by callers.
var (
	ErrTokenRevoked = errors.New("token has been revoked")
)

// Binding errors: ambiguity is a hard failure, never a best-effort pick.
var (
	ErrBindingClaimsUnavailable = errors.New("user binding: token claims unavailable")
	ErrBindingEvaluation        = errors.New("user binding: criterion evaluation failed")
	ErrBindingEmptyValue        = errors.New("user binding: criterion evaluated to an empty value")
	ErrBindingNoCriteria        = errors.New("user binding: no valid criteria configured")
	ErrBindingUserNotFound      = errors.New("user binding: no user matches the configured criteria")
	ErrBindingAmbiguous         = errors.New("user binding: multiple users match the configured criteria")
)

// IsTemporalError reports whether err is an expiry or not-yet-valid
// rejection. The trusted-issuer fallback never engages for these.
func IsTemporalError(err error) bool {
	return errors.Is(err, ErrTokenExpired) || errors.Is(err, ErrTokenNotYetValid)
}

// IsSignatureError reports whether err is specifically a signature
// verification failure, the only delegate failure the trusted-issuer
// fallback engages on.
func IsSignatureError(err error) bool {
	return errors.Is(err, ErrSignatureInvalid)
}
