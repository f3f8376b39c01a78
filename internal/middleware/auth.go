package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/compassdigitalnl/compassdigital-cms-sub009/pkg/jwtutil"
	"github.com/compassdigitalnl/compassdigital-cms-sub009/pkg/logger"
	"github.com/compassdigitalnl/compassdigital-cms-sub009/prometheus"
)

const ServiceKeyHeader = "X-Service-Key"

// AuthMiddleware accepts either an admin JWT bearer token or the shared
// service-to-service key, for automated triggers like cron-driven syncs.
func AuthMiddleware(serviceKey string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			log := logger.FromContext(c)

			if key := c.Request().Header.Get(ServiceKeyHeader); key != "" {
				if serviceKey != "" && subtle.ConstantTimeCompare([]byte(key), []byte(serviceKey)) == 1 {
					c.Set("auth_subject", "service")
					return next(c)
				}
				log.Error("Invalid service key")
				prometheus.RecordAuthError("invalid_service_key")
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid service key"})
			}

			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				log.Error("Missing Authorization header")
				prometheus.RecordAuthError("missing_token")
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing authorization token"})
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				log.Error("Invalid Authorization header format")
				prometheus.RecordAuthError("invalid_auth_format")
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid authorization format, expected Bearer token"})
			}

			claims, err := jwtutil.ValidateToken(parts[1])
			if err != nil {
				log.Error("Invalid JWT token", zap.Error(err))
				prometheus.RecordAuthError("invalid_token")
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid or expired token"})
			}

			c.Set("auth_subject", claims.Email)
			c.Set("admin_role", claims.Role)
			return next(c)
		}
	}
}
