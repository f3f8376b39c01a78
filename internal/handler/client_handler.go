package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/compassdigitalnl/compassdigital-cms-sub009/internal/model"
	"github.com/compassdigitalnl/compassdigital-cms-sub009/pkg/database"
	"github.com/compassdigitalnl/compassdigital-cms-sub009/pkg/logger"
	"github.com/compassdigitalnl/compassdigital-cms-sub009/prometheus"
)

// CreateClient creates a new client record in draft status. Provisioning is a
// separate, explicit step.
func CreateClient(c echo.Context) error {
	log := logger.FromContext(c)

	var req struct {
		Name         string             `json:"name"`
		Domain       string             `json:"domain"`
		Provider     model.ProviderKind `json:"provider,omitempty"`
		Plan         string             `json:"plan,omitempty"`
		FeatureFlags model.FeatureFlags `json:"feature_flags,omitempty"`
	}

	if err := c.Bind(&req); err != nil {
		log.Error("Failed to parse client creation request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Domain = strings.ToLower(strings.TrimSpace(req.Domain))
	if req.Name == "" || req.Domain == "" {
		log.Error("Invalid client data",
			zap.String("name", req.Name),
			zap.String("domain", req.Domain))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "name and domain are required"})
	}
	if req.Provider != "" && !req.Provider.IsValid() {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unsupported provider kind"})
	}
	if req.Plan == "" {
		req.Plan = "standard"
	}
	if req.FeatureFlags == nil {
		req.FeatureFlags = model.FeatureFlags{}
	}

	defer prometheus.TrackDBOperation("insert")(time.Now())

	var existing model.Client
	if result := database.GetDB().First(&existing, "domain = ?", req.Domain); result.Error == nil {
		log.Warn("Domain already taken",
			zap.String("domain", req.Domain),
			zap.String("existing_client", existing.ID))
		return c.JSON(http.StatusConflict, echo.Map{"error": "domain is already in use"})
	}

	client := model.Client{
		ID:           uuid.New().String(),
		Name:         req.Name,
		Domain:       req.Domain,
		Status:       model.StatusDraft,
		ProviderKind: req.Provider,
		Plan:         req.Plan,
		FeatureFlags: req.FeatureFlags,
		AuditLog:     model.AuditTrail{}.Append("", "client created"),
	}

	if result := database.GetDB().Create(&client); result.Error != nil {
		// A concurrent create for the same domain loses on the unique index
		if isDuplicateDomain(result.Error) {
			log.Warn("Domain already taken", zap.String("domain", req.Domain))
			return c.JSON(http.StatusConflict, echo.Map{"error": "domain is already in use"})
		}
		log.Error("Failed to create client", zap.Error(result.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "client creation failed"})
	}

	log.Info("Client created",
		zap.String("client_id", client.ID),
		zap.String("domain", client.Domain))

	return c.JSON(http.StatusCreated, client)
}

// ListClients returns all clients, optionally filtered by status.
func ListClients(c echo.Context) error {
	log := logger.FromContext(c)

	defer prometheus.TrackDBOperation("query")(time.Now())

	query := database.GetDB().Order("created_at DESC")
	if status := c.QueryParam("status"); status != "" {
		if !model.Status(status).IsValid() {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "unknown status"})
		}
		query = query.Where("status = ?", status)
	}

	var clients []model.Client
	if result := query.Find(&clients); result.Error != nil {
		log.Error("Failed to list clients", zap.Error(result.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to retrieve clients"})
	}

	return c.JSON(http.StatusOK, clients)
}

// GetClient retrieves one client, including its audit trail.
func GetClient(c echo.Context) error {
	log := logger.FromContext(c)

	defer prometheus.TrackDBOperation("query")(time.Now())

	var client model.Client
	if result := database.GetDB().First(&client, "id = ?", c.Param("id")); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "client not found"})
		}
		log.Error("Failed to load client", zap.Error(result.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to retrieve client"})
	}

	return c.JSON(http.StatusOK, client)
}

// UpdateFeatures merges new feature flag values onto a client. The deployed
// environment is not touched until a feature sync is requested.
func UpdateFeatures(c echo.Context) error {
	log := logger.FromContext(c)

	var req model.FeatureFlags
	if err := c.Bind(&req); err != nil {
		log.Error("Failed to parse feature flags", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}
	if len(req) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "no feature flags supplied"})
	}

	defer prometheus.TrackDBOperation("update")(time.Now())

	var client model.Client
	if result := database.GetDB().First(&client, "id = ?", c.Param("id")); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "client not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to retrieve client"})
	}

	if client.Status == model.StatusDeleted {
		return c.JSON(http.StatusConflict, echo.Map{"error": "client is deleted"})
	}

	if client.FeatureFlags == nil {
		client.FeatureFlags = model.FeatureFlags{}
	}
	for name, value := range req {
		client.FeatureFlags[name] = value
	}
	client.AuditLog = client.AuditLog.Append("", "feature flags updated (%d changed)", len(req))

	if err := database.GetDB().Model(&client).Updates(map[string]interface{}{
		"feature_flags": client.FeatureFlags,
		"audit_log":     client.AuditLog,
	}).Error; err != nil {
		log.Error("Failed to update feature flags", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to update feature flags"})
	}

	log.Info("Feature flags updated",
		zap.String("client_id", client.ID),
		zap.Int("changed", len(req)))

	return c.JSON(http.StatusOK, echo.Map{
		"message":       "feature flags updated; run a feature sync to push them to the deployment",
		"feature_flags": client.FeatureFlags,
	})
}

// SuspendClient moves an active client to suspended. Webhook reconciliation
// keeps working for suspended clients; provisioning does not.
func SuspendClient(c echo.Context) error {
	return transitionClient(c, model.StatusSuspended, "client suspended")
}

// ReactivateClient moves a suspended client back to active.
func ReactivateClient(c echo.Context) error {
	return transitionClient(c, model.StatusActive, "client reactivated")
}

// DeleteClient soft-deletes a client. The record is never physically removed
// and the deleted state is terminal.
func DeleteClient(c echo.Context) error {
	return transitionClient(c, model.StatusDeleted, "client deleted")
}

func transitionClient(c echo.Context, target model.Status, message string) error {
	log := logger.FromContext(c)

	defer prometheus.TrackDBOperation("update")(time.Now())

	var client model.Client
	if result := database.GetDB().First(&client, "id = ?", c.Param("id")); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "client not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to retrieve client"})
	}

	// A repeated delete is a no-op, not an error
	if client.Status == target {
		return c.JSON(http.StatusOK, echo.Map{"message": message, "status": client.Status})
	}

	if !client.Status.CanTransition(target) {
		log.Warn("Illegal lifecycle transition",
			zap.String("client_id", client.ID),
			zap.String("from", string(client.Status)),
			zap.String("to", string(target)))
		return c.JSON(http.StatusConflict, echo.Map{
			"error": "illegal lifecycle transition",
			"from":  client.Status,
			"to":    target,
		})
	}

	// Reactivation requires the bindings an active client must have
	if target == model.StatusActive && (!client.HasDatabaseBinding() || !client.HasSiteBinding()) {
		return c.JSON(http.StatusConflict, echo.Map{"error": "client has no deployment bindings; provision it instead"})
	}

	client.AuditLog = client.AuditLog.Append("", "%s", message)
	if err := database.GetDB().Model(&client).Updates(map[string]interface{}{
		"status":    target,
		"audit_log": client.AuditLog,
	}).Error; err != nil {
		log.Error("Failed to update client status", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to update client"})
	}

	// Route cache must not serve stale lifecycle state
	if resolver != nil {
		resolver.Invalidate(c.Request().Context(), client.Domain)
	}
	refreshActiveClients(log)

	log.Info("Client lifecycle changed",
		zap.String("client_id", client.ID),
		zap.String("from", string(client.Status)),
		zap.String("to", string(target)))

	return c.JSON(http.StatusOK, echo.Map{"message": message, "status": target})
}

// isDuplicateDomain reports whether an insert failed on the unique domain index.
func isDuplicateDomain(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

// refreshActiveClients recomputes the active-client gauge after a lifecycle change.
func refreshActiveClients(log *zap.Logger) {
	var count int64
	if err := database.GetDB().Model(&model.Client{}).
		Where("status = ?", model.StatusActive).Count(&count).Error; err != nil {
		log.Warn("Failed to count active clients", zap.Error(err))
		return
	}
	prometheus.ActiveClientsGauge.Set(float64(count))
}
