package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	identitydomain "github.com/smallbiznis/reservio/internal/identity/domain"
	invitedomain "github.com/smallbiznis/reservio/internal/invite/domain"
	"github.com/smallbiznis/reservio/internal/otp"
	"github.com/smallbiznis/reservio/internal/pending"
	"github.com/smallbiznis/reservio/internal/saga"
	signupdomain "github.com/smallbiznis/reservio/internal/signup/domain"
	"github.com/smallbiznis/reservio/internal/team"
	tenantdomain "github.com/smallbiznis/reservio/internal/tenant/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrConflict       = errors.New("conflict")
	ErrInternal       = errors.New("internal_error")
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		field, code, message := validationErrorDetail(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   field,
					Code:    code,
					Message: message,
				},
			},
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, identitydomain.ErrInvalidCredentials),
		errors.Is(err, identitydomain.ErrInvalidSession),
		errors.Is(err, identitydomain.ErrSessionExpired):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, team.ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case errors.Is(err, signupdomain.ErrProvisioningInFlight):
		return http.StatusConflict, errorPayload{
			Type:    "provisioning_in_flight",
			Message: "provisioning already in progress",
		}
	case errors.Is(err, signupdomain.ErrAlreadyProvisioned),
		errors.Is(err, tenantdomain.ErrMembershipExists):
		return http.StatusConflict, errorPayload{
			Type:    "already_provisioned",
			Message: "account already provisioned",
		}
	case errors.Is(err, signupdomain.ErrEmailTaken),
		errors.Is(err, identitydomain.ErrEmailTaken):
		return http.StatusConflict, errorPayload{
			Type:    "email_taken",
			Message: "email already registered",
		}
	case errors.Is(err, invitedomain.ErrInviteUsed):
		return http.StatusConflict, errorPayload{
			Type:    "invite_used",
			Message: "invite already used",
		}
	case errors.Is(err, signupdomain.ErrNotVerified):
		return http.StatusConflict, errorPayload{
			Type:    "not_verified",
			Message: "email is not verified",
		}
	case errors.Is(err, ErrConflict):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "conflict",
		}
	case errors.Is(err, pending.ErrExpired):
		return http.StatusGone, errorPayload{
			Type:    "gone",
			Message: "pending signup expired",
		}
	case errors.Is(err, invitedomain.ErrInviteExpired):
		return http.StatusGone, errorPayload{
			Type:    "gone",
			Message: "invite expired",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, identitydomain.ErrUpstream):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	case isPartialFailure(err):
		return http.StatusInternalServerError, errorPayload{
			Type:    "partial_failure",
			Message: "provisioning failed and could not be fully rolled back",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, signupdomain.ErrInvalidRequest),
		errors.Is(err, pending.ErrInvalid),
		errors.Is(err, otp.ErrNoChallenge),
		errors.Is(err, otp.ErrExpired),
		errors.Is(err, otp.ErrMismatch),
		errors.Is(err, tenantdomain.ErrInvalidName),
		errors.Is(err, tenantdomain.ErrInvalidRole),
		errors.Is(err, invitedomain.ErrInvalidEmail),
		errors.Is(err, invitedomain.ErrInvalidRole):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, identitydomain.ErrIdentityNotFound),
		errors.Is(err, identitydomain.ErrSessionNotFound),
		errors.Is(err, tenantdomain.ErrOrganizationNotFound),
		errors.Is(err, tenantdomain.ErrProfileNotFound),
		errors.Is(err, tenantdomain.ErrMembershipNotFound),
		errors.Is(err, invitedomain.ErrInviteNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func isPartialFailure(err error) bool {
	var pf *saga.PartialFailureError
	return errors.As(err, &pf)
}

func validationErrorDetail(err error) (field, code, message string) {
	switch {
	case errors.Is(err, pending.ErrInvalid):
		return "pending_token", "invalid_token", "pending signup token is invalid"
	case errors.Is(err, otp.ErrNoChallenge):
		return "code", "no_challenge", "no verification code was issued"
	case errors.Is(err, otp.ErrExpired):
		return "code", "code_expired", "verification code expired"
	case errors.Is(err, otp.ErrMismatch):
		return "code", "code_mismatch", "verification code does not match"
	case errors.Is(err, tenantdomain.ErrInvalidName):
		return "organization_name", "invalid_name", "organization name is required"
	case errors.Is(err, invitedomain.ErrInvalidEmail):
		return "email", "invalid_email", "email is invalid"
	case errors.Is(err, invitedomain.ErrInvalidRole), errors.Is(err, tenantdomain.ErrInvalidRole):
		return "role", "invalid_role", "role is invalid"
	default:
		return "request", "invalid_request", "invalid request"
	}
}

func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	switch {
	case status >= http.StatusInternalServerError:
		return "server_error", payload.Type
	case status >= http.StatusBadRequest:
		return "client_error", payload.Type
	default:
		return "", ""
	}
}
