// Package auth provides bearer token authentication for the HTTP and gRPC APIs.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const (
	// AuthorizationHeader carries the bearer token on both transports
	AuthorizationHeader = "authorization"

	claimsContextKey contextKey = "claims"
)

// ErrMissingToken is returned when a request carries no bearer token
var ErrMissingToken = errors.New("missing bearer token")

// WithClaims returns a copy of ctx carrying claims.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey, claims)
}

// ClaimsFromContext extracts the authenticated claims from context
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey).(*Claims)
	return claims, ok
}

// bearerToken returns the token from an "Authorization: Bearer x" value.
func bearerToken(value string) (string, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(value), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", ErrMissingToken
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}

// Middleware returns HTTP middleware that requires a valid token granting scope.
// A nil manager disables authentication.
func Middleware(m *JWTManager, scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := bearerToken(r.Header.Get(AuthorizationHeader))
			if err != nil {
				writeAuthError(w, http.StatusUnauthorized, err)
				return
			}
			claims, err := m.ValidateToken(token)
			if err != nil {
				writeAuthError(w, http.StatusUnauthorized, err)
				return
			}
			if !claims.HasScope(scope) {
				writeAuthError(w, http.StatusForbidden, ErrInsufficientScope)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

func writeAuthError(w http.ResponseWriter, code int, err error) {
	if code == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="docsearch"`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

// Interceptor provides gRPC interceptors for bearer token validation
type Interceptor struct {
	manager     *JWTManager
	scope       string
	skipMethods map[string]bool
}

// NewInterceptor creates an interceptor requiring scope on every method
// except health checks and reflection.
func NewInterceptor(m *JWTManager, scope string) *Interceptor {
	return &Interceptor{
		manager: m,
		scope:   scope,
		skipMethods: map[string]bool{
			"/grpc.health.v1.Health/Check": true,
			"/grpc.health.v1.Health/Watch": true,
			"/grpc.health.v1.Health/List":  true,

			"/grpc.reflection.v1.ServerReflection/ServerReflectionInfo":      true,
			"/grpc.reflection.v1alpha.ServerReflection/ServerReflectionInfo": true,
		},
	}
}

// WithSkipMethods adds methods to skip authentication
func (i *Interceptor) WithSkipMethods(methods ...string) *Interceptor {
	for _, method := range methods {
		i.skipMethods[method] = true
	}
	return i
}

func (i *Interceptor) authenticate(ctx context.Context, method string) (context.Context, error) {
	if i.skipMethods[method] {
		return ctx, nil
	}
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing metadata")
	}
	values := md.Get(AuthorizationHeader)
	if len(values) == 0 {
		return nil, status.Error(codes.Unauthenticated, ErrMissingToken.Error())
	}
	token, err := bearerToken(values[0])
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, err.Error())
	}
	claims, err := i.manager.ValidateToken(token)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, err.Error())
	}
	if !claims.HasScope(i.scope) {
		return nil, status.Error(codes.PermissionDenied, ErrInsufficientScope.Error())
	}
	return WithClaims(ctx, claims), nil
}

// UnaryInterceptor returns a gRPC unary interceptor for token validation
func (i *Interceptor) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		ctx, err := i.authenticate(ctx, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamInterceptor returns a gRPC stream interceptor for token validation
func (i *Interceptor) StreamInterceptor() grpc.StreamServerInterceptor {
	return func(
		srv interface{},
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		ctx, err := i.authenticate(ss.Context(), info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &wrappedServerStream{ServerStream: ss, ctx: ctx})
	}
}

// wrappedServerStream wraps a grpc.ServerStream with a modified context
type wrappedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

// Context returns the wrapped context
func (w *wrappedServerStream) Context() context.Context {
	return w.ctx
}
