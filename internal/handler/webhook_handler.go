package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/compassdigitalnl/compassdigital-cms-sub009/internal/billing"
	"github.com/compassdigitalnl/compassdigital-cms-sub009/pkg/logger"
)

// PaymentWebhook ingests payment provider events. Intake always acknowledges
// the transport once the payload parses, even when the referenced client
// cannot be resolved, so provider-side retry storms cannot build up. Failures
// are logged server-side instead of surfaced to the provider.
func PaymentWebhook(c echo.Context) error {
	log := logger.FromContext(c)
	providerName := c.Param("provider")

	var req struct {
		TransactionID string  `json:"transaction_id"`
		ClientID      string  `json:"client_id,omitempty"`
		Domain        string  `json:"domain,omitempty"`
		Status        string  `json:"status"`
		Amount        float64 `json:"amount"`
		Method        string  `json:"method,omitempty"`
	}

	if err := c.Bind(&req); err != nil {
		log.Error("Unparseable webhook payload",
			zap.String("provider", providerName),
			zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid payload"})
	}

	if req.TransactionID == "" {
		log.Error("Webhook payload missing transaction id",
			zap.String("provider", providerName))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "transaction_id is required"})
	}

	clientRef := req.ClientID
	if clientRef == "" {
		clientRef = req.Domain
	}

	raw, _ := json.Marshal(req)
	outcome, err := reconciler.Apply(c.Request().Context(), billing.Event{
		Provider:      providerName,
		TransactionID: req.TransactionID,
		ClientRef:     clientRef,
		Status:        req.Status,
		Amount:        req.Amount,
		Method:        req.Method,
		Payload:       string(raw),
	})
	if err != nil {
		// Logged, acknowledged anyway: the provider retrying will not fix a
		// missing or deleted client.
		switch {
		case errors.Is(err, billing.ErrClientNotFound):
			log.Warn("Webhook for unknown client",
				zap.String("provider", providerName),
				zap.String("transaction_id", req.TransactionID),
				zap.String("client_ref", clientRef))
		case errors.Is(err, billing.ErrClientDeleted):
			log.Warn("Webhook for deleted client",
				zap.String("provider", providerName),
				zap.String("transaction_id", req.TransactionID),
				zap.String("client_ref", clientRef))
		default:
			log.Error("Webhook reconciliation failed",
				zap.String("provider", providerName),
				zap.String("transaction_id", req.TransactionID),
				zap.Error(err))
		}
		return c.JSON(http.StatusOK, echo.Map{"received": true})
	}

	if outcome.Duplicate {
		log.Info("Duplicate webhook acknowledged",
			zap.String("provider", providerName),
			zap.String("transaction_id", req.TransactionID))
	}

	return c.JSON(http.StatusOK, echo.Map{"received": true})
}
