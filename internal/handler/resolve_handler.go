package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/compassdigitalnl/compassdigital-cms-sub009/internal/tenant"
	"github.com/compassdigitalnl/compassdigital-cms-sub009/pkg/logger"
)

// ResolveTenant resolves a hostname to tenant identity for sidecar consumers
// that cannot mount the tenant middleware directly.
func ResolveTenant(c echo.Context) error {
	log := logger.FromContext(c)

	host := c.QueryParam("host")
	if host == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "host query parameter is required"})
	}

	info, err := resolver.Resolve(c.Request().Context(), host)
	if err != nil {
		if errors.Is(err, tenant.ErrNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "no active tenant matches this hostname"})
		}
		if errors.Is(err, tenant.ErrNotReady) {
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "tenant is still being provisioned"})
		}
		log.Error("Tenant resolution failed", zap.String("host", host), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "tenant resolution failed"})
	}

	return c.JSON(http.StatusOK, info)
}

// TenantContext returns the tenant identity the middleware bound to this
// request's hostname. Tenant-facing services call it to bootstrap a session.
func TenantContext(c echo.Context) error {
	info, ok := c.Get("tenant").(*tenant.Info)
	if !ok {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "tenant context missing"})
	}
	return c.JSON(http.StatusOK, info)
}
