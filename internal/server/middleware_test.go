package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	obscontext "github.com/helixconsole/billing/internal/observability/context"
	"github.com/helixconsole/billing/internal/sessionctx"
)

func TestSessionMiddlewarePropagatesActor(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(SessionMiddleware())

	var (
		session   sessionctx.Session
		sessionOK bool
		actorType string
		actorID   string
	)
	r.GET("/whoami", func(c *gin.Context) {
		ctx := c.Request.Context()
		session, sessionOK = sessionctx.FromContext(ctx)
		actorType, actorID = obscontext.ActorFromContext(ctx)
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("X-User-Id", "usr_42")
	req.Header.Set("X-User-Email", "dev@acme.test")
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusNoContent, w.Code)
	require.True(t, sessionOK)
	assert.Equal(t, "usr_42", session.UserID)
	assert.Equal(t, "dev@acme.test", session.Email)
	assert.Equal(t, "user", actorType)
	assert.Equal(t, "usr_42", actorID)
}

func TestSessionMiddlewareAnonymousRequest(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(SessionMiddleware())

	var (
		sessionOK bool
		actorType string
	)
	r.GET("/whoami", func(c *gin.Context) {
		ctx := c.Request.Context()
		_, sessionOK = sessionctx.FromContext(ctx)
		actorType, _ = obscontext.ActorFromContext(ctx)
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/whoami", nil))

	require.Equal(t, http.StatusNoContent, w.Code)
	assert.False(t, sessionOK)
	assert.Empty(t, actorType)
}
