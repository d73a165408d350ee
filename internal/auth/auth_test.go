package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func newManager(t *testing.T) *JWTManager {
	t.Helper()
	return NewJWTManager(DefaultJWTConfig("test-secret"))
}

func TestJWTManager_RoundTrip(t *testing.T) {
	m := newManager(t)

	token, err := m.GenerateToken("ci-bot", ScopeAdmin)
	require.NoError(t, err)

	claims, err := m.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "ci-bot", claims.Subject)
	assert.Equal(t, "docsearch", claims.Issuer)
	assert.NotEmpty(t, claims.ID)
	assert.True(t, claims.HasScope(ScopeAdmin))
	assert.True(t, claims.HasScope(ScopeSearch))
}

func TestJWTManager_DefaultScope(t *testing.T) {
	m := newManager(t)

	token, err := m.GenerateToken("reader")
	require.NoError(t, err)
	claims, err := m.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, []string{ScopeSearch}, claims.Scopes)
	assert.False(t, claims.HasScope(ScopeAdmin))
}

func TestJWTManager_GenerateErrors(t *testing.T) {
	m := newManager(t)

	_, err := m.GenerateToken("")
	assert.ErrorIs(t, err, ErrInvalidClaims)

	_, err = m.GenerateToken("x", "write")
	assert.ErrorIs(t, err, ErrInvalidClaims)
}

func TestJWTManager_Expired(t *testing.T) {
	m := newManager(t)
	issued := time.Now().Add(-2 * time.Hour)
	m.now = func() time.Time { return issued }

	token, err := m.GenerateTokenWithExpiry("old", time.Hour)
	require.NoError(t, err)

	m.now = time.Now
	_, err = m.ValidateToken(token)
	assert.ErrorIs(t, err, ErrExpiredToken)

	expiry, err := m.TokenExpiry(token)
	require.NoError(t, err)
	assert.WithinDuration(t, issued.Add(time.Hour), expiry, time.Second)

	refreshed, err := m.RefreshToken(token)
	require.NoError(t, err)
	claims, err := m.ValidateToken(refreshed)
	require.NoError(t, err)
	assert.Equal(t, "old", claims.Subject)
}

func TestJWTManager_RejectsForeignTokens(t *testing.T) {
	m := newManager(t)
	other := NewJWTManager(DefaultJWTConfig("another-secret"))

	token, err := other.GenerateToken("intruder")
	require.NoError(t, err)
	_, err = m.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = m.RefreshToken(token)
	assert.Error(t, err)

	// wrong issuer
	cfg := DefaultJWTConfig("test-secret")
	cfg.Issuer = "elsewhere"
	token, err = NewJWTManager(cfg).GenerateToken("x")
	require.NoError(t, err)
	_, err = m.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	// none algorithm
	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "x", Issuer: "docsearch"},
		Scopes:           []string{ScopeAdmin},
	})
	raw, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = m.ValidateToken(raw)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestMiddleware(t *testing.T) {
	m := newManager(t)
	search, err := m.GenerateToken("reader", ScopeSearch)
	require.NoError(t, err)
	admin, err := m.GenerateToken("ops", ScopeAdmin)
	require.NoError(t, err)

	var seen string
	h := Middleware(m, ScopeAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		if ok {
			seen = claims.Subject
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"garbage", "Bearer not-a-jwt", http.StatusUnauthorized},
		{"insufficient scope", "Bearer " + search, http.StatusForbidden},
		{"admin", "Bearer " + admin, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/index", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusUnauthorized {
				assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))
			}
		})
	}
	assert.Equal(t, "ops", seen)
}

func TestMiddleware_NilManagerDisablesAuth(t *testing.T) {
	h := Middleware(nil, ScopeAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/status", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestInterceptor_Unary(t *testing.T) {
	m := newManager(t)
	token, err := m.GenerateToken("reader")
	require.NoError(t, err)

	intercept := NewInterceptor(m, ScopeSearch).UnaryInterceptor()
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		claims, _ := ClaimsFromContext(ctx)
		if claims == nil {
			return "anonymous", nil
		}
		return claims.Subject, nil
	}
	call := func(ctx context.Context, method string) (interface{}, error) {
		return intercept(ctx, nil, &grpc.UnaryServerInfo{FullMethod: method}, handler)
	}

	resp, err := call(context.Background(), "/grpc.health.v1.Health/Check")
	require.NoError(t, err)
	assert.Equal(t, "anonymous", resp)

	_, err = call(context.Background(), "/docsearch.v1.Search/Query")
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer "+token))
	resp, err = call(ctx, "/docsearch.v1.Search/Query")
	require.NoError(t, err)
	assert.Equal(t, "reader", resp)

	adminOnly := NewInterceptor(m, ScopeAdmin).UnaryInterceptor()
	_, err = adminOnly(ctx, nil, &grpc.UnaryServerInfo{FullMethod: "/docsearch.v1.Index/Refresh"}, handler)
	assert.Equal(t, codes.PermissionDenied, status.Code(err))
}
