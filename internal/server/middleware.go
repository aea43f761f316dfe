package server

import (
	"strings"

	"github.com/gin-gonic/gin"
)

const contextIdentityIDKey = "identity_id"

func (s *Server) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := s.sessions.ReadToken(c)
		if !ok || strings.TrimSpace(token) == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		identity, _, err := s.gateway.AuthenticateSession(c.Request.Context(), token)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		c.Set(contextIdentityIDKey, identity.ID)
		c.Next()
	}
}

func identityIDFromContext(c *gin.Context) string {
	v, ok := c.Get(contextIdentityIDKey)
	if !ok {
		return ""
	}
	id, _ := v.(string)
	return id
}
