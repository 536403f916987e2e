package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"vidtube/internal/service"
)

const identityKey = "auth_identity"

// JWTAuthMiddleware valida el access token (cookie o header Bearer) y
// guarda la identidad autenticada en el contexto.
func JWTAuthMiddleware(jwtSvc *service.JWTService, cookies *CookieHelper) gin.HandlerFunc {
	return func(c *gin.Context) {
		if jwtSvc == nil {
			respondFailure(c, http.StatusInternalServerError, "Something went wrong")
			return
		}

		token := cookies.AccessToken(c)
		if token == "" {
			header := strings.TrimSpace(c.GetHeader("Authorization"))
			if len(header) > len("Bearer ") && strings.EqualFold(header[:len("Bearer ")], "bearer ") {
				token = strings.TrimSpace(header[len("Bearer "):])
			}
		}
		if token == "" {
			respondFailure(c, http.StatusUnauthorized, "Unauthorized request")
			return
		}

		claims, err := jwtSvc.Verify(token, service.AccessToken)
		if err != nil {
			if errors.Is(err, service.ErrTokenExpired) {
				respondFailure(c, http.StatusUnauthorized, "Access token expired")
				return
			}
			respondFailure(c, http.StatusUnauthorized, "Invalid access token")
			return
		}

		c.Set(identityKey, claims.Identity())
		c.Next()
	}
}

// CurrentIdentity obtiene la identidad autenticada desde el contexto.
func CurrentIdentity(c *gin.Context) (service.Identity, bool) {
	val, ok := c.Get(identityKey)
	if !ok {
		return service.Identity{}, false
	}
	id, ok := val.(service.Identity)
	return id, ok
}
