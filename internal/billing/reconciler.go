package billing

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/compassdigitalnl/compassdigital-cms-sub009/internal/model"
	"github.com/compassdigitalnl/compassdigital-cms-sub009/prometheus"
)

var (
	ErrClientNotFound = errors.New("no client matches payment event")
	ErrClientDeleted  = errors.New("client is deleted, payment event refused")
)

// Event is one provider-issued payment notification, keyed by transaction id.
type Event struct {
	Provider      string
	TransactionID string
	ClientRef     string // client id or domain, as carried by the provider webhook
	Status        string
	Amount        float64
	Method        string
	Payload       string
}

// Outcome reports how an event was applied.
type Outcome struct {
	ClientID  string `json:"client_id"`
	Status    string `json:"status"`
	Applied   bool   `json:"applied"`
	Duplicate bool   `json:"duplicate"`
}

// Store is the slice of persistence the reconciler needs.
type Store interface {
	// FindClientByRef resolves a webhook's client reference (id or domain).
	FindClientByRef(ctx context.Context, ref string) (*model.Client, error)

	// InsertEvent records the event; returns false when the transaction id
	// was already recorded (duplicate delivery).
	InsertEvent(ctx context.Context, event *model.PaymentEvent) (bool, error)

	// ApplyCompleted adds to the client's financial counters atomically.
	ApplyCompleted(ctx context.Context, clientID string, amount, commission float64, paidAt time.Time) error
}

// GormStore implements Store on the platform database.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a GormStore.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// FindClientByRef resolves by id first, then by domain.
func (s *GormStore) FindClientByRef(ctx context.Context, ref string) (*model.Client, error) {
	var client model.Client
	result := s.db.WithContext(ctx).First(&client, "id = ? OR domain = ?", ref, ref)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrClientNotFound
		}
		return nil, result.Error
	}
	return &client, nil
}

// InsertEvent relies on the unique transaction_id index: a duplicate delivery
// inserts nothing and reports false.
func (s *GormStore) InsertEvent(ctx context.Context, event *model.PaymentEvent) (bool, error) {
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "transaction_id"}},
			DoNothing: true,
		}).
		Create(event)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ApplyCompleted increments counters with SQL expressions, never with
// read-modify-write, so concurrent events cannot lose updates.
func (s *GormStore) ApplyCompleted(ctx context.Context, clientID string, amount, commission float64, paidAt time.Time) error {
	return s.db.WithContext(ctx).Model(&model.Client{}).
		Where("id = ?", clientID).
		Updates(map[string]interface{}{
			"total_volume":    gorm.Expr("total_volume + ?", amount),
			"total_revenue":   gorm.Expr("total_revenue + ?", commission),
			"last_payment_at": paidAt,
		}).Error
}

// Reconciler applies payment provider events to client financial counters
// exactly once per transaction id, under at-least-once webhook delivery.
type Reconciler struct {
	store  Store
	logger *zap.Logger
}

// NewReconciler creates a Reconciler.
func NewReconciler(store Store, logger *zap.Logger) *Reconciler {
	return &Reconciler{store: store, logger: logger}
}

// Apply resolves the event's client, records the event, and for completed
// payments adds to the client's counters. Duplicate transaction ids are
// detected and skipped; counters never move twice for the same transaction.
func (r *Reconciler) Apply(ctx context.Context, event Event) (*Outcome, error) {
	status := strings.ToLower(strings.TrimSpace(event.Status))
	prometheus.RecordWebhookEvent(event.Provider, status)

	client, err := r.store.FindClientByRef(ctx, event.ClientRef)
	if err != nil {
		return nil, err
	}

	// Suspended clients keep their financial history; deleted clients accept nothing.
	if client.Status == model.StatusDeleted {
		return nil, ErrClientDeleted
	}

	commission := 0.0
	if status == "completed" {
		commission = Commission(event.Amount, event.Method, client.Plan)
	}

	inserted, err := r.store.InsertEvent(ctx, &model.PaymentEvent{
		TransactionID: event.TransactionID,
		ClientID:      client.ID,
		Provider:      event.Provider,
		Status:        status,
		Amount:        event.Amount,
		Method:        event.Method,
		Commission:    commission,
		Payload:       event.Payload,
	})
	if err != nil {
		return nil, err
	}
	if !inserted {
		r.logger.Info("Duplicate webhook delivery skipped",
			zap.String("transaction_id", event.TransactionID),
			zap.String("client_id", client.ID))
		prometheus.RecordWebhookDuplicate()
		return &Outcome{ClientID: client.ID, Status: status, Duplicate: true}, nil
	}

	switch status {
	case "completed":
		// Counters only ever increase; a non-positive amount is recorded as an
		// event but never applied.
		if event.Amount <= 0 {
			r.logger.Warn("Completed payment with non-positive amount, counters untouched",
				zap.String("transaction_id", event.TransactionID),
				zap.String("client_id", client.ID),
				zap.Float64("amount", event.Amount))
			return &Outcome{ClientID: client.ID, Status: status}, nil
		}
		paidAt := time.Now().UTC()
		if err := r.store.ApplyCompleted(ctx, client.ID, event.Amount, commission, paidAt); err != nil {
			return nil, err
		}
		r.logger.Info("Payment applied to client counters",
			zap.String("transaction_id", event.TransactionID),
			zap.String("client_id", client.ID),
			zap.Float64("amount", event.Amount),
			zap.Float64("commission", commission))
		return &Outcome{ClientID: client.ID, Status: status, Applied: true}, nil

	case "cancelled", "declined", "expired", "initialized", "pending":
		r.logger.Info("Payment event logged without counter mutation",
			zap.String("transaction_id", event.TransactionID),
			zap.String("client_id", client.ID),
			zap.String("status", status))
		return &Outcome{ClientID: client.ID, Status: status}, nil

	default:
		// Unknown statuses are recorded and otherwise ignored, so new
		// provider statuses cannot break intake.
		r.logger.Warn("Unknown payment status, event logged only",
			zap.String("transaction_id", event.TransactionID),
			zap.String("client_id", client.ID),
			zap.String("status", status))
		return &Outcome{ClientID: client.ID, Status: status}, nil
	}
}
