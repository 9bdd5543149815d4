package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront-service/internal/auth"
	"storefront-service/pkg/ctxmanage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type staticVerifier map[string]auth.Claims

func (s staticVerifier) Verify(_ context.Context, token string) (auth.Claims, error) {
	c, ok := s[token]
	if !ok {
		return auth.Claims{}, auth.ErrInvalidToken
	}
	return c, nil
}

func claims(sub, adminRole string) auth.Claims {
	c := auth.Claims{AppMetadata: auth.AppMetadata{Role: adminRole}}
	c.Subject = sub
	return c
}

func newRouter(t *testing.T) *gin.Engine {
	t.Helper()
	m, err := NewMid(staticVerifier{
		"user-token":  claims("user-1", ""),
		"admin-token": claims("admin-1", "admin"),
	})
	require.NoError(t, err)

	r := gin.New()
	r.Use(Logger(), CORS([]string{"*"}))
	r.GET("/trace", func(c *gin.Context) {
		c.String(http.StatusOK, ctxmanage.GetTraceIdOfRequest(c))
	})
	authed := r.Group("/", m.Authentication())
	authed.GET("/me", func(c *gin.Context) {
		cl, ok := auth.FromContext(c.Request.Context())
		require.True(t, ok)
		c.String(http.StatusOK, cl.Subject)
	})
	authed.GET("/admin", Authorize(auth.RoleAdmin), func(c *gin.Context) {
		c.String(http.StatusOK, "admin")
	})
	return r
}

func do(r http.Handler, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestLoggerTraceId(t *testing.T) {
	r := newRouter(t)

	w := do(r, http.MethodGet, "/trace", map[string]string{TraceIdHeader: "trace-123"})
	assert.Equal(t, "trace-123", w.Body.String())
	assert.Equal(t, "trace-123", w.Header().Get(TraceIdHeader))

	w = do(r, http.MethodGet, "/trace", nil)
	assert.Len(t, w.Body.String(), 36)
	assert.Equal(t, w.Body.String(), w.Header().Get(TraceIdHeader))
}

func TestAuthentication(t *testing.T) {
	r := newRouter(t)
	tests := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{"missing header", "", http.StatusUnauthorized, `{"error":"Unauthorized"}`},
		{"wrong scheme", "Basic user-token", http.StatusUnauthorized, `{"error":"Unauthorized"}`},
		{"unknown token", "Bearer nope", http.StatusUnauthorized, `{"error":"Unauthorized"}`},
		{"valid token", "Bearer user-token", http.StatusOK, "user-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := map[string]string{}
			if tt.header != "" {
				h["Authorization"] = tt.header
			}
			w := do(r, http.MethodGet, "/me", h)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.body, w.Body.String())
		})
	}
}

func TestAuthorize(t *testing.T) {
	r := newRouter(t)

	w := do(r, http.MethodGet, "/admin", map[string]string{"Authorization": "Bearer user-token"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(r, http.MethodGet, "/admin", map[string]string{"Authorization": "Bearer admin-token"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCORS(t *testing.T) {
	r := newRouter(t)

	w := do(r, http.MethodOptions, "/me", map[string]string{"Origin": "https://shop.test"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "authorization")

	restricted := gin.New()
	restricted.Use(CORS([]string{"https://shop.test"}))
	restricted.GET("/x", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w = do(restricted, http.MethodGet, "/x", map[string]string{"Origin": "https://shop.test"})
	assert.Equal(t, "https://shop.test", w.Header().Get("Access-Control-Allow-Origin"))
	w = do(restricted, http.MethodGet, "/x", map[string]string{"Origin": "https://evil.test"})
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequireConfig(t *testing.T) {
	var missing []string
	r := gin.New()
	r.GET("/x", RequireConfig(func() []string { return missing }), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	missing = []string{"STRIPE_SECRET_KEY"}
	w := do(r, http.MethodGet, "/x", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"Missing server configuration"}`, w.Body.String())

	missing = nil
	w = do(r, http.MethodGet, "/x", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestNewMidRequiresVerifier(t *testing.T) {
	_, err := NewMid(nil)
	assert.Error(t, err)
}

type slowVerifier struct{}

func (slowVerifier) Verify(ctx context.Context, _ string) (auth.Claims, error) {
	select {
	case <-ctx.Done():
		return auth.Claims{}, ctx.Err()
	case <-time.After(10 * time.Millisecond):
		return auth.Claims{}, errors.New("upstream unavailable")
	}
}

func TestAuthenticationVerifierFailure(t *testing.T) {
	m, err := NewMid(slowVerifier{})
	require.NoError(t, err)
	r := gin.New()
	r.GET("/me", m.Authentication(), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := do(r, http.MethodGet, "/me", map[string]string{"Authorization": "Bearer x"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
