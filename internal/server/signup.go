package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	signupdomain "github.com/smallbiznis/reservio/internal/signup/domain"
)

type SignupBeginRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

func (s *Server) SignupBegin(c *gin.Context) {
	var req SignupBeginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	token, err := s.signupsvc.Begin(c.Request.Context(), signupdomain.BeginRequest{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
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

type VerifyCodeRequest struct {
	Code string `json:"code"`
}

func (s *Server) SignupVerify(c *gin.Context) {
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

	token, err := s.signupsvc.VerifyCode(c.Request.Context(), pendingToken, strings.TrimSpace(req.Code))
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

func (s *Server) ResendCode(c *gin.Context) {
	pendingToken, ok := s.pendings.ReadToken(c)
	if !ok {
		AbortWithError(c, invalidRequestError())
		return
	}

	if err := s.signupsvc.ResendCode(c.Request.Context(), pendingToken); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (s *Server) SignupPending(c *gin.Context) {
	pendingToken, ok := s.pendings.ReadToken(c)
	if !ok {
		AbortWithError(c, ErrNotFound)
		return
	}

	status, err := s.signupsvc.CheckPending(c.Request.Context(), pendingToken)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"state":       status.State,
		"email":       status.Email,
		"provisioned": status.Provisioned,
	})
}

type SignupCompleteRequest struct {
	OrganizationName string `json:"organization_name"`
	Country          string `json:"country"`
}

func (s *Server) SignupComplete(c *gin.Context) {
	var req SignupCompleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	pendingToken, ok := s.pendings.ReadToken(c)
	if !ok {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.signupsvc.CompleteOnboarding(c.Request.Context(), pendingToken, signupdomain.CompleteRequest{
		OrganizationName: req.OrganizationName,
		Country:          req.Country,
		IdempotencyKey:   strings.TrimSpace(c.GetHeader("Idempotency-Key")),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.pendings.Clear(c)
	if result.Grant != nil {
		s.sessions.Set(c, result.Grant.RawToken, result.Grant.ExpiresAt)
	}

	c.JSON(http.StatusOK, gin.H{
		"organization": gin.H{
			"id":       result.Organization.ID.String(),
			"name":     result.Organization.Name,
			"handle":   result.Organization.Handle,
			"country":  result.Organization.Country,
			"timezone": result.Organization.Timezone,
			"currency": result.Organization.Currency,
		},
	})
}
