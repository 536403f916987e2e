package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	AccessTokenCookie  = "accessToken"
	RefreshTokenCookie = "refreshToken"
)

// CookieConfig controla los atributos de las cookies de auth.
type CookieConfig struct {
	Secure   bool
	SameSite http.SameSite
	Domain   string
	Path     string
}

// CookieHelper gestiona las cookies de autenticación.
type CookieHelper struct {
	config CookieConfig
}

func NewCookieHelper(config CookieConfig) *CookieHelper {
	if config.Path == "" {
		config.Path = "/"
	}
	return &CookieHelper{config: config}
}

// SetAuthCookies fija ambas cookies, siempre HttpOnly.
func (h *CookieHelper) SetAuthCookies(c *gin.Context, accessToken, refreshToken string, accessTTL, refreshTTL time.Duration) {
	h.setCookie(c, AccessTokenCookie, accessToken, int(accessTTL.Seconds()))
	h.setCookie(c, RefreshTokenCookie, refreshToken, int(refreshTTL.Seconds()))
}

// ClearAuthCookies expira ambas cookies en el navegador.
func (h *CookieHelper) ClearAuthCookies(c *gin.Context) {
	h.setCookie(c, AccessTokenCookie, "", -1)
	h.setCookie(c, RefreshTokenCookie, "", -1)
}

func (h *CookieHelper) AccessToken(c *gin.Context) string {
	token, err := c.Cookie(AccessTokenCookie)
	if err != nil {
		return ""
	}
	return token
}

func (h *CookieHelper) RefreshToken(c *gin.Context) string {
	token, err := c.Cookie(RefreshTokenCookie)
	if err != nil {
		return ""
	}
	return token
}

func (h *CookieHelper) setCookie(c *gin.Context, name, value string, maxAge int) {
	c.SetSameSite(h.config.SameSite)
	c.SetCookie(name, value, maxAge, h.config.Path, h.config.Domain, h.config.Secure, true)
}
