package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"

	obscontext "github.com/helixconsole/billing/internal/observability/context"
	"github.com/helixconsole/billing/internal/orgcontext"
	"github.com/helixconsole/billing/internal/sessionctx"
)

// OrgMiddleware resolves the :org_id route param into the request context.
func OrgMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.Param("org_id"))
		orgID, err := snowflake.ParseString(raw)
		if err != nil || orgID == 0 {
			AbortWithError(c, ErrInvalidRequest)
			return
		}

		ctx := orgcontext.WithOrgID(c.Request.Context(), orgID)
		ctx = obscontext.WithOrgID(ctx, orgID.String())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// SessionMiddleware reads the identity the console's auth gateway injects.
// Authentication itself happens upstream; billing only needs attribution.
func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader("X-User-Id"))
		if userID == "" {
			c.Next()
			return
		}

		ctx := sessionctx.WithSession(c.Request.Context(), sessionctx.Session{
			UserID: userID,
			Email:  strings.TrimSpace(c.GetHeader("X-User-Email")),
		})
		ctx = obscontext.WithActor(ctx, "user", userID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func orgIDFrom(c *gin.Context) (snowflake.ID, bool) {
	return orgcontext.OrgIDFromContext(c.Request.Context())
}
