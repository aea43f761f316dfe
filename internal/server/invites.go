package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	inviteservice "github.com/smallbiznis/reservio/internal/invite/service"
)

type CreateInviteRequest struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

func (s *Server) CreateInvite(c *gin.Context) {
	var req CreateInviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	actorID, orgID, err := s.actorOrganization(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	invite, err := s.invitesvc.Issue(c.Request.Context(), inviteservice.IssueRequest{
		OrganizationID: orgID,
		ActorUserID:    actorID,
		Email:          req.Email,
		Role:           req.Role,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":         invite.ID.String(),
		"email":      invite.Email,
		"role":       invite.Role,
		"expires_at": invite.ExpiresAt,
	})
}

func (s *Server) ListInvites(c *gin.Context) {
	actorID, orgID, err := s.actorOrganization(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	invites, err := s.invitesvc.List(c.Request.Context(), actorID, orgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	items := make([]gin.H, 0, len(invites))
	for _, invite := range invites {
		item := gin.H{
			"id":         invite.ID.String(),
			"email":      invite.Email,
			"role":       invite.Role,
			"expires_at": invite.ExpiresAt,
		}
		if invite.AcceptedAt != nil {
			item["accepted_at"] = invite.AcceptedAt
		}
		items = append(items, item)
	}

	c.JSON(http.StatusOK, gin.H{"invites": items})
}

func (s *Server) ListMembers(c *gin.Context) {
	actorID, orgID, err := s.actorOrganization(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	members, err := s.invitesvc.Members(c.Request.Context(), actorID, orgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	items := make([]gin.H, 0, len(members))
	for _, member := range members {
		items = append(items, gin.H{
			"id":         member.ID.String(),
			"user_id":    member.UserID,
			"role":       member.Role,
			"created_at": member.CreatedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{"members": items})
}

func (s *Server) RevokeInvite(c *gin.Context) {
	token := strings.TrimSpace(c.Param("token"))
	if token == "" {
		AbortWithError(c, invalidRequestError())
		return
	}

	actorID, orgID, err := s.actorOrganization(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.invitesvc.Revoke(c.Request.Context(), actorID, orgID, token); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

type AcceptInviteRequest struct {
	Token     string `json:"token"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

func (s *Server) AcceptInvite(c *gin.Context) {
	var req AcceptInviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if strings.TrimSpace(req.Token) == "" {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.invitesvc.Accept(c.Request.Context(), inviteservice.AcceptRequest{
		Token:     req.Token,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"organization_id": result.OrganizationID.String(),
		"identity_id":     result.IdentityID,
	})
}

// actorOrganization resolves the authenticated identity and the organization
// it belongs to. Every invite management route is scoped to that membership.
func (s *Server) actorOrganization(c *gin.Context) (string, snowflake.ID, error) {
	actorID := identityIDFromContext(c)
	if actorID == "" {
		return "", 0, ErrUnauthorized
	}

	membership, err := s.tenantsvc.Store().FindMembershipByUser(c.Request.Context(), actorID)
	if err != nil {
		return "", 0, err
	}
	return actorID, membership.OrganizationID, nil
}
