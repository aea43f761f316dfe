package pending

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/smallbiznis/reservio/internal/config"
)

const CookieName = "pending_signup"

// CookieManager stores the pending session token on the client.
type CookieManager struct {
	secure bool
}

func NewCookieManager(cfg config.Config) *CookieManager {
	return &CookieManager{secure: cfg.AuthCookieSecure}
}

func (m *CookieManager) ReadToken(c *gin.Context) (string, bool) {
	token, err := c.Cookie(CookieName)
	if err != nil {
		return "", false
	}
	if strings.TrimSpace(token) == "" {
		return "", false
	}
	return token, true
}

func (m *CookieManager) Set(c *gin.Context, token string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(CookieName, token, int(time.Hour.Seconds()), "/", "", m.secure, true)
}

func (m *CookieManager) Clear(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(CookieName, "", -1, "/", "", m.secure, true)
}
