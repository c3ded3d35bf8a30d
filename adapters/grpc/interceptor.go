// Package trustlygrpc provides gRPC interceptors for goTrustly.
//
// The interceptors extract a bearer token from the Authorization metadata
// header and introspect it through the token-trust core. On success, the
// resulting trustly.ValidatedToken is injected into the context; otherwise
// the call is rejected with codes.Unauthenticated.
//
// Concurrency: All exported functions are safe for concurrent use.
package trustlygrpc

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/keksclan/goTrustly/trustly"
)

type contextKey struct{}

// TokenFromContext retrieves the trustly.ValidatedToken stored in the
// context by the interceptor. Returns nil if no token is present.
func TokenFromContext(ctx context.Context) *trustly.ValidatedToken {
	v, _ := ctx.Value(contextKey{}).(*trustly.ValidatedToken)
	return v
}

func contextWithToken(ctx context.Context, vt *trustly.ValidatedToken) context.Context {
	return context.WithValue(ctx, contextKey{}, vt)
}

// Option configures the interceptors.
type Option func(*options)

type options struct {
	online         bool
	callerClientID string
}

// WithOnlineVerification enables the live-store revocation and expiry
// checks for introspected tokens.
func WithOnlineVerification() Option {
	return func(o *options) {
		o.online = true
	}
}

// WithCallerClientID sets the client id the audience cross-check compares
// protected-resource matches against.
func WithCallerClientID(clientID string) Option {
	return func(o *options) {
		o.callerClientID = clientID
	}
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// UnaryServerInterceptor returns a gRPC unary server interceptor that
// authenticates requests by introspecting the bearer token in the
// "authorization" metadata key as an access token.
func UnaryServerInterceptor(core *trustly.Core, opts ...Option) grpc.UnaryServerInterceptor {
	o := buildOptions(opts)
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		vt, err := introspectBearer(ctx, core, o)
		if err != nil {
			return nil, err
		}
		return handler(contextWithToken(ctx, vt), req)
	}
}

// StreamServerInterceptor returns the streaming counterpart of
// UnaryServerInterceptor. The validated token is attached to the stream's
// context.
func StreamServerInterceptor(core *trustly.Core, opts ...Option) grpc.StreamServerInterceptor {
	o := buildOptions(opts)
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		vt, err := introspectBearer(ss.Context(), core, o)
		if err != nil {
			return err
		}
		return handler(srv, &wrappedStream{ServerStream: ss, ctx: contextWithToken(ss.Context(), vt)})
	}
}

type wrappedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedStream) Context() context.Context { return w.ctx }

func introspectBearer(ctx context.Context, core *trustly.Core, o options) (*trustly.ValidatedToken, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing metadata")
	}
	values := md.Get("authorization")
	if len(values) == 0 {
		return nil, status.Error(codes.Unauthenticated, "missing authorization metadata")
	}
	const prefix = "Bearer "
	header := values[0]
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return nil, status.Error(codes.Unauthenticated, "authorization metadata is not a bearer token")
	}

	vt, err := core.IntrospectAccessToken(ctx, header[len(prefix):], trustly.IntrospectionOptions{
		Online:         o.online,
		CallerClientID: o.callerClientID,
	})
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "token is not active")
	}
	return vt, nil
}
