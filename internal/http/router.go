package http

import (
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"vidtube/internal/service"
)

// RouterConfig agrupa los ajustes del transporte HTTP.
type RouterConfig struct {
	CORSOrigin         string
	MaxMultipartMemory int64
}

// NewRouter configura el router de Gin con middlewares y rutas.
func NewRouter(
	logger *zap.Logger,
	cfg RouterConfig,
	jwtSvc *service.JWTService,
	cookies *CookieHelper,
	userH *UserHandler,
	healthH *HealthHandler,
) *gin.Engine {
	r := gin.New()
	if cfg.MaxMultipartMemory > 0 {
		r.MaxMultipartMemory = cfg.MaxMultipartMemory
	}

	// Middlewares basicos: logging, recovery, CORS y JSON content-type.
	r.Use(zapLoggerMiddleware(logger), gin.Recovery(), corsMiddleware(cfg.CORSOrigin), jsonContentTypeMiddleware())

	r.GET("/healthz", healthH.Health)

	users := r.Group("/api/v1/users")
	users.POST("/register", userH.Register)
	users.POST("/login", userH.Login)
	users.POST("/refresh-token", userH.RefreshAccessToken)

	secured := users.Group("", JWTAuthMiddleware(jwtSvc, cookies))
	secured.POST("/logout", userH.Logout)
	secured.POST("/change-password", userH.ChangePassword)
	secured.GET("/current-user", userH.GetCurrentUser)
	secured.PATCH("/update-account", userH.UpdateAccount)
	secured.PATCH("/avatar", userH.UpdateAvatar)
	secured.PATCH("/cover-image", userH.UpdateCoverImage)

	return r
}

// corsMiddleware permite credenciales solo para los orígenes listados
// (separados por coma). "*" responde con el comodín literal y sin
// credenciales, de modo que el navegador no envía cookies.
func corsMiddleware(origin string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "PATCH", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}
	var origins []string
	for _, o := range strings.Split(origin, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 || contains(origins, "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
		cfg.AllowCredentials = true
	}
	return cors.New(cfg)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// zapLoggerMiddleware crea un middleware simple de logging con zap.
func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", latency),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

// jsonContentTypeMiddleware fuerza Content-Type: application/json en responses.
func jsonContentTypeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Content-Type", "application/json")
		c.Next()
	}
}
