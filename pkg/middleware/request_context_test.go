package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestRequestContextMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestContextMiddleware())
	r.GET("/whoami", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(RequestIDKey)+"|"+Actor(c))
	})

	t.Run("keeps caller request id and actor", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		req.Header.Set(HeaderRequestID, "req-42")
		req.Header.Set(HeaderActor, " alice ")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, "req-42|alice", w.Body.String())
		assert.Equal(t, "req-42", w.Header().Get(HeaderRequestID))
	})

	t.Run("generates request id", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/whoami", nil))

		id := w.Header().Get(HeaderRequestID)
		assert.Len(t, id, 36)
		assert.Equal(t, id+"|", w.Body.String())
	})
}

func TestJWTSubjectOverridesActorHeader(t *testing.T) {
	r := newAuthRouter(jwtCfg)
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(HeaderActor, "mallory")
	req.Header.Set("Authorization", "Bearer "+signToken(t, jwtCfg.Secret, jwtCfg.Issuer, "ops", farFuture()))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ops", w.Body.String())
}
