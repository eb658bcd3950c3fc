package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"acquisition-service/pkg/config"
)

var jwtCfg = config.JWTConfig{Enabled: true, Secret: "s3cret", Issuer: "acq"}

func farFuture() time.Time { return time.Now().Add(time.Hour) }

func newAuthRouter(cfg config.JWTConfig) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestContextMiddleware(), JWTAuthMiddleware(cfg))
	r.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, Actor(c))
	})
	return r
}

func signToken(t *testing.T, secret, issuer, subject string, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	s, err := tok.SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestJWTAuthMiddleware(t *testing.T) {
	cfg := config.JWTConfig{Enabled: true, Secret: "s3cret", Issuer: "acq"}
	r := newAuthRouter(cfg)

	cases := []struct {
		name   string
		header string
		code   int
		body   string
	}{
		{"missing", "", http.StatusUnauthorized, ""},
		{"valid", "Bearer " + signToken(t, "s3cret", "acq", "ops", time.Now().Add(time.Hour)), http.StatusOK, "ops"},
		{"wrong secret", "Bearer " + signToken(t, "other", "acq", "ops", time.Now().Add(time.Hour)), http.StatusUnauthorized, ""},
		{"wrong issuer", "Bearer " + signToken(t, "s3cret", "x", "ops", time.Now().Add(time.Hour)), http.StatusUnauthorized, ""},
		{"expired", "Bearer " + signToken(t, "s3cret", "acq", "ops", time.Now().Add(-time.Hour)), http.StatusUnauthorized, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ping", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.code, w.Code)
			if tc.code == http.StatusOK {
				assert.Equal(t, tc.body, w.Body.String())
			}
			assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
		})
	}
}

func TestJWTAuthMiddleware_Disabled(t *testing.T) {
	r := newAuthRouter(config.JWTConfig{})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
