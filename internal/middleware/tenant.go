package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/compassdigitalnl/compassdigital-cms-sub009/internal/tenant"
	"github.com/compassdigitalnl/compassdigital-cms-sub009/pkg/logger"
)

// Headers injected into downstream request handling once a tenant resolves.
const (
	TenantIDHeader     = "X-Tenant-ID"
	TenantDomainHeader = "X-Tenant-Domain"
	TenantDBHeader     = "X-Tenant-DB"
	TenantPlanHeader   = "X-Tenant-Plan"
)

// TenantResolver is the lookup the middleware needs; *tenant.Resolver satisfies it.
type TenantResolver interface {
	Resolve(ctx context.Context, host string) (*tenant.Info, error)
}

// TenantContextMiddleware resolves the request's Host to a tenant and injects
// the tenant's identity and database connection string into the request.
// Read path only; requests for unknown or unready tenants are rejected with a
// configuration-error response.
func TenantContextMiddleware(resolver TenantResolver) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			log := logger.FromContext(c)
			host := c.Request().Host

			info, err := resolver.Resolve(c.Request().Context(), host)
			if err != nil {
				if errors.Is(err, tenant.ErrNotFound) {
					log.Warn("No active tenant for hostname", zap.String("host", host))
					return c.JSON(http.StatusNotFound, echo.Map{"error": "no active tenant matches this hostname"})
				}
				if errors.Is(err, tenant.ErrNotReady) {
					log.Warn("Tenant database not ready", zap.String("host", host))
					return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "tenant is still being provisioned"})
				}
				log.Error("Tenant resolution failed", zap.String("host", host), zap.Error(err))
				return c.JSON(http.StatusInternalServerError, echo.Map{"error": "tenant resolution failed"})
			}

			c.Set("tenant", info)
			c.Request().Header.Set(TenantIDHeader, info.ClientID)
			c.Request().Header.Set(TenantDomainHeader, info.Domain)
			c.Request().Header.Set(TenantDBHeader, info.DatabaseURL)
			c.Request().Header.Set(TenantPlanHeader, info.Plan)

			return next(c)
		}
	}
}
