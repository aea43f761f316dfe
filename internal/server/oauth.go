package server

import (
	"crypto/hmac"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	identityoauth "github.com/smallbiznis/reservio/internal/identity/oauth"
	obslogger "github.com/smallbiznis/reservio/internal/observability/logger"
	signupdomain "github.com/smallbiznis/reservio/internal/signup/domain"
)

const (
	oauthStateCookie     = "oauth_state"
	oauthVerifierCookie  = "oauth_code_verifier"
	oauthRedirectCookie  = "oauth_redirect_to"
	oauthStateTTL        = 10 * time.Minute
	oauthErrorRedirectTo = "/login?error=oauth_login"
)

func (s *Server) OAuthLogin(c *gin.Context) {
	provider := strings.TrimSpace(c.Param("provider"))
	if provider == "" {
		AbortWithError(c, ErrNotFound)
		return
	}

	if strings.TrimSpace(c.Query("error")) != "" {
		s.logOAuthError(c, provider)
		s.clearOAuthCookies(c)
		redirectToOAuthError(c)
		return
	}

	code := strings.TrimSpace(c.Query("code"))
	if code == "" {
		if err := s.startOAuthLogin(c, provider); err != nil {
			s.handleOAuthError(c, provider, err)
		}
		return
	}

	if err := s.handleOAuthCallback(c, provider, code); err != nil {
		s.handleOAuthError(c, provider, err)
	}
}

func (s *Server) startOAuthLogin(c *gin.Context, provider string) error {
	redirectURI := s.oauthRedirectURI(c, provider)
	redirect, err := s.signupsvc.OAuthBegin(c.Request.Context(), provider, redirectURI)
	if err != nil {
		return err
	}

	s.setOAuthCookie(c, oauthStateCookie, redirect.State, oauthStateTTL)
	if strings.TrimSpace(redirect.CodeVerifier) != "" {
		s.setOAuthCookie(c, oauthVerifierCookie, redirect.CodeVerifier, oauthStateTTL)
	}

	redirectTarget := sanitizeRedirectPath(firstNonEmpty(c.Query("redirectTo"), c.Query("redirect_to")))
	if redirectTarget != "" {
		s.setOAuthCookie(c, oauthRedirectCookie, redirectTarget, oauthStateTTL)
	}

	c.Redirect(http.StatusFound, redirect.URL)
	return nil
}

func (s *Server) handleOAuthCallback(c *gin.Context, provider string, code string) error {
	state := strings.TrimSpace(c.Query("state"))
	storedState, err := c.Cookie(oauthStateCookie)
	if err != nil || storedState == "" || state == "" || !subtleConstantEquals(state, storedState) {
		s.clearOAuthCookies(c)
		return ErrUnauthorized
	}

	verifier, _ := c.Cookie(oauthVerifierCookie)
	redirectTarget, _ := c.Cookie(oauthRedirectCookie)
	s.clearOAuthCookies(c)

	result, err := s.signupsvc.OAuthCallback(c.Request.Context(), provider, signupdomain.OAuthCallbackRequest{
		Code:         code,
		RedirectURI:  s.oauthRedirectURI(c, provider),
		CodeVerifier: verifier,
	})
	if err != nil {
		return err
	}

	if result.Grant != nil {
		s.sessions.Set(c, result.Grant.RawToken, result.Grant.ExpiresAt)
		target := sanitizeRedirectPath(redirectTarget)
		if target == "" {
			target = "/"
		}
		c.Redirect(http.StatusFound, target)
		return nil
	}

	// New user: carry the verified pending session into onboarding.
	s.pendings.Set(c, result.Pending.Token)
	c.Redirect(http.StatusFound, "/signup/complete")
	return nil
}

func (s *Server) oauthRedirectURI(c *gin.Context, provider string) string {
	base := strings.TrimRight(s.cfg.BaseURL, "/")
	if base == "" {
		base = requestBaseURL(c)
	}
	return fmt.Sprintf("%s/api/auth/oauth/%s", base, url.PathEscape(provider))
}

func requestBaseURL(c *gin.Context) string {
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	if proto := firstHeaderValue(c.GetHeader("X-Forwarded-Proto")); proto != "" {
		scheme = strings.ToLower(proto)
	}
	host := c.Request.Host
	if forwarded := firstHeaderValue(c.GetHeader("X-Forwarded-Host")); forwarded != "" {
		host = forwarded
	}
	return scheme + "://" + host
}

func (s *Server) handleOAuthError(c *gin.Context, provider string, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, identityoauth.ErrProviderNotFound),
		errors.Is(err, identityoauth.ErrInvalidProvider):
		AbortWithError(c, ErrNotFound)
	default:
		obslogger.FromContext(c.Request.Context()).Sugar().Warnw("oauth login failed", "provider", provider, "error", err)
		redirectToOAuthError(c)
	}
}

func (s *Server) logOAuthError(c *gin.Context, provider string) {
	obslogger.FromContext(c.Request.Context()).Sugar().Warnw("oauth login error",
		"provider", provider,
		"error", strings.TrimSpace(c.Query("error")),
		"description", strings.TrimSpace(c.Query("error_description")),
	)
}

func redirectToOAuthError(c *gin.Context) {
	c.Redirect(http.StatusFound, oauthErrorRedirectTo)
}

func firstHeaderValue(value string) string {
	if value == "" {
		return ""
	}
	if idx := strings.Index(value, ","); idx >= 0 {
		value = value[:idx]
	}
	return strings.TrimSpace(value)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func sanitizeRedirectPath(raw string) string {
	value := strings.TrimSpace(raw)
	if value == "" {
		return ""
	}
	if strings.HasPrefix(value, "//") || strings.HasPrefix(value, "http://") || strings.HasPrefix(value, "https://") {
		return ""
	}
	if !strings.HasPrefix(value, "/") {
		return ""
	}
	return value
}

func (s *Server) setOAuthCookie(c *gin.Context, name string, value string, ttl time.Duration) {
	maxAge := int(ttl.Seconds())
	if maxAge < 0 {
		maxAge = 0
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(name, value, maxAge, "/", "", s.cfg.AuthCookieSecure, true)
}

func (s *Server) clearOAuthCookies(c *gin.Context) {
	s.clearCookie(c, oauthStateCookie)
	s.clearCookie(c, oauthVerifierCookie)
	s.clearCookie(c, oauthRedirectCookie)
}

func (s *Server) clearCookie(c *gin.Context, name string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(name, "", -1, "/", "", s.cfg.AuthCookieSecure, true)
}

func subtleConstantEquals(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}
