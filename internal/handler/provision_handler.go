package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/compassdigitalnl/compassdigital-cms-sub009/internal/model"
	"github.com/compassdigitalnl/compassdigital-cms-sub009/internal/provision"
	"github.com/compassdigitalnl/compassdigital-cms-sub009/pkg/database"
	"github.com/compassdigitalnl/compassdigital-cms-sub009/pkg/logger"
	"github.com/compassdigitalnl/compassdigital-cms-sub009/prometheus"
)

// ProvisionClient runs the full provisioning sequence for a client: tenant
// database, provider site, environment, first deploy. Safe to re-invoke after
// a partial failure; completed steps are skipped.
func ProvisionClient(c echo.Context) error {
	log := logger.FromContext(c)
	clientID := c.Param("id")

	var req struct {
		Provider model.ProviderKind `json:"provider,omitempty"`
		ExtraEnv map[string]string  `json:"extra_env,omitempty"`
	}
	if err := c.Bind(&req); err != nil {
		log.Error("Failed to parse provision request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	result, err := orchestrator.Provision(c.Request().Context(), clientID, req.Provider, req.ExtraEnv)
	if err != nil {
		var stepErr *provision.StepError
		switch {
		case errors.Is(err, provision.ErrClientNotFound):
			return c.JSON(http.StatusNotFound, echo.Map{"error": "client not found", "client_id": clientID})
		case errors.Is(err, provision.ErrClientDeleted),
			errors.Is(err, provision.ErrClientSuspended),
			errors.Is(err, provision.ErrAlreadyActive):
			return c.JSON(http.StatusConflict, echo.Map{"error": err.Error(), "client_id": clientID})
		case errors.Is(err, provision.ErrMissingFields):
			return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error(), "client_id": clientID})
		case errors.Is(err, provision.ErrDatabaseConflict):
			// Fatal: retrying cannot fix a database bound to another client
			log.Error("Tenant database conflict", zap.String("client_id", clientID), zap.Error(err))
			return c.JSON(http.StatusConflict, echo.Map{"error": err.Error(), "client_id": clientID})
		case errors.As(err, &stepErr):
			// Structured failure: the caller sees which step broke and the
			// partial progress; the client stays retryable in provisioning.
			return c.JSON(http.StatusBadGateway, echo.Map{
				"success":   false,
				"client_id": clientID,
				"step":      stepErr.Step,
				"error":     stepErr.Err.Error(),
				"status":    result.Status,
				"logs":      result.Logs,
			})
		default:
			log.Error("Provisioning failed", zap.String("client_id", clientID), zap.Error(err))
			return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error(), "client_id": clientID})
		}
	}

	if result.InProgress {
		return c.JSON(http.StatusAccepted, result)
	}

	refreshActiveClients(log)
	return c.JSON(http.StatusOK, result)
}

// SyncFeatures pushes the client's current feature flags to its deployed
// environment without triggering a redeploy.
func SyncFeatures(c echo.Context) error {
	log := logger.FromContext(c)
	clientID := c.Param("id")

	var client model.Client
	if result := database.GetDB().First(&client, "id = ?", clientID); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "client not found", "client_id": clientID})
		}
		log.Error("Failed to load client", zap.Error(result.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to retrieve client"})
	}

	if client.Status == model.StatusDeleted {
		prometheus.RecordEnvSync("rejected")
		return c.JSON(http.StatusConflict, echo.Map{"error": "client is deleted", "client_id": clientID})
	}
	if client.Status != model.StatusActive {
		prometheus.RecordEnvSync("rejected")
		return c.JSON(http.StatusConflict, echo.Map{
			"error":     "client is not active; provision it before syncing features",
			"client_id": clientID,
			"status":    client.Status,
		})
	}

	result, err := synchronizer.Sync(c.Request().Context(), &client)
	if err != nil {
		prometheus.RecordEnvSync("failed")
		log.Error("Feature sync failed",
			zap.String("client_id", clientID),
			zap.Error(err))
		return c.JSON(http.StatusBadGateway, echo.Map{
			"error":     err.Error(),
			"client_id": clientID,
			"step":      "environment_applied",
		})
	}

	client.AuditLog = client.AuditLog.Append("", "feature sync pushed %d variables", len(result.SyncedVars))
	if err := database.GetDB().Model(&client).Update("audit_log", client.AuditLog).Error; err != nil {
		log.Error("Failed to record feature sync", zap.Error(err))
	}

	prometheus.RecordEnvSync("success")
	return c.JSON(http.StatusOK, result)
}
