package server

import (
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/collecta/internal/observability/context"
)

// HeaderOrg carries the tenant identifier on API requests.
const HeaderOrg = "X-Org-ID"

const ctxOrgID = "org_id"

// OrgContext resolves the tenant from the X-Org-ID header and rejects
// requests without one.
func (s *Server) OrgContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(HeaderOrg)
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Error: errorPayload{
				Code:    "missing_org",
				Message: "missing " + HeaderOrg + " header",
			}})
			return
		}

		orgID, err := snowflake.ParseString(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Error: errorPayload{
				Code:    "invalid_org",
				Message: "invalid " + HeaderOrg + " header",
			}})
			return
		}

		c.Set(ctxOrgID, orgID)
		ctx := obscontext.WithOrgID(c.Request.Context(), orgID.String())
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

func orgIDFromContext(c *gin.Context) snowflake.ID {
	if v, ok := c.Get(ctxOrgID); ok {
		if id, ok := v.(snowflake.ID); ok {
			return id
		}
	}
	return 0
}
