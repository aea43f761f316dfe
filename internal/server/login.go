package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	signupdomain "github.com/smallbiznis/reservio/internal/signup/domain"
)

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	token, err := s.signupsvc.BeginLogin(c.Request.Context(), signupdomain.LoginRequest{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.pendings.Set(c, token.Token)
	c.JSON(http.StatusOK, gin.H{
		"state": token.State,
		"email": token.Email,
	})
}

func (s *Server) LoginVerify(c *gin.Context) {
	var req VerifyCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	pendingToken, ok := s.pendings.ReadToken(c)
	if !ok {
		AbortWithError(c, invalidRequestError())
		return
	}

	grant, err := s.signupsvc.VerifyLoginCode(c.Request.Context(), pendingToken, strings.TrimSpace(req.Code))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.pendings.Clear(c)
	s.sessions.Set(c, grant.RawToken, grant.ExpiresAt)
	c.JSON(http.StatusOK, gin.H{
		"id":    grant.Identity.ID,
		"email": grant.Identity.Email,
	})
}

func (s *Server) Logout(c *gin.Context) {
	if token, ok := s.sessions.ReadToken(c); ok && strings.TrimSpace(token) != "" {
		if err := s.gateway.RevokeSession(c.Request.Context(), token); err != nil {
			AbortWithError(c, err)
			return
		}
	}

	s.sessions.Clear(c)
	c.Status(http.StatusNoContent)
}

func (s *Server) Me(c *gin.Context) {
	identityID := identityIDFromContext(c)
	if identityID == "" {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	identity, err := s.gateway.GetIdentity(c.Request.Context(), identityID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp := gin.H{
		"id":        identity.ID,
		"email":     identity.Email,
		"confirmed": identity.Confirmed,
	}

	store := s.tenantsvc.Store()
	if membership, err := store.FindMembershipByUser(c.Request.Context(), identity.ID); err == nil {
		resp["organization_id"] = membership.OrganizationID.String()
		resp["role"] = membership.Role
	}
	if profile, err := store.FindProfileByIdentity(c.Request.Context(), identity.ID); err == nil {
		resp["first_name"] = profile.FirstName
		resp["last_name"] = profile.LastName
	}

	c.JSON(http.StatusOK, resp)
}
