package billing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/compassdigitalnl/compassdigital-cms-sub009/internal/model"
)

// mockStore is a testify mock over the reconciler's persistence.
type mockStore struct {
	mock.Mock
}

func (m *mockStore) FindClientByRef(ctx context.Context, ref string) (*model.Client, error) {
	args := m.Called(ref)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Client), args.Error(1)
}

func (m *mockStore) InsertEvent(ctx context.Context, event *model.PaymentEvent) (bool, error) {
	args := m.Called(event)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) ApplyCompleted(ctx context.Context, clientID string, amount, commission float64, paidAt time.Time) error {
	args := m.Called(clientID, amount, commission)
	return args.Error(0)
}

func activeClient() *model.Client {
	return &model.Client{
		ID:     "client-1",
		Domain: "acme",
		Status: model.StatusActive,
		Plan:   "standard",
	}
}

func TestApplyCompletedIncrementsCounters(t *testing.T) {
	store := new(mockStore)
	store.On("FindClientByRef", "acme").Return(activeClient(), nil)
	store.On("InsertEvent", mock.MatchedBy(func(e *model.PaymentEvent) bool {
		return e.TransactionID == "tx-1" && e.Status == "completed" && e.ClientID == "client-1"
	})).Return(true, nil)
	store.On("ApplyCompleted", "client-1", 100.0, 1.5).Return(nil)

	r := NewReconciler(store, zap.NewNop())
	outcome, err := r.Apply(context.Background(), Event{
		Provider:      "mollie",
		TransactionID: "tx-1",
		ClientRef:     "acme",
		Status:        "completed",
		Amount:        100,
		Method:        "ideal",
	})
	require.NoError(t, err)

	assert.True(t, outcome.Applied)
	assert.False(t, outcome.Duplicate)
	store.AssertExpectations(t)
}

func TestApplyDuplicateDeliverySkipped(t *testing.T) {
	store := new(mockStore)
	store.On("FindClientByRef", "acme").Return(activeClient(), nil)
	store.On("InsertEvent", mock.Anything).Return(false, nil)

	r := NewReconciler(store, zap.NewNop())
	outcome, err := r.Apply(context.Background(), Event{
		Provider:      "mollie",
		TransactionID: "tx-1",
		ClientRef:     "acme",
		Status:        "completed",
		Amount:        100,
		Method:        "ideal",
	})
	require.NoError(t, err)

	// The same transaction id must not move the counters twice
	assert.True(t, outcome.Duplicate)
	assert.False(t, outcome.Applied)
	store.AssertNotCalled(t, "ApplyCompleted", mock.Anything, mock.Anything, mock.Anything)
}

func TestApplyNonCompletedStatusesLogOnly(t *testing.T) {
	for _, status := range []string{"cancelled", "declined", "expired", "initialized", "pending", "some_future_status"} {
		t.Run(status, func(t *testing.T) {
			store := new(mockStore)
			store.On("FindClientByRef", "acme").Return(activeClient(), nil)
			store.On("InsertEvent", mock.MatchedBy(func(e *model.PaymentEvent) bool {
				return e.Commission == 0
			})).Return(true, nil)

			r := NewReconciler(store, zap.NewNop())
			outcome, err := r.Apply(context.Background(), Event{
				Provider:      "mollie",
				TransactionID: "tx-" + status,
				ClientRef:     "acme",
				Status:        status,
				Amount:        100,
				Method:        "ideal",
			})
			require.NoError(t, err)

			assert.False(t, outcome.Applied)
			store.AssertNotCalled(t, "ApplyCompleted", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestApplyNonPositiveAmountNeverDecrements(t *testing.T) {
	for name, amount := range map[string]float64{"negative": -100, "zero": 0} {
		t.Run(name, func(t *testing.T) {
			store := new(mockStore)
			store.On("FindClientByRef", "acme").Return(activeClient(), nil)
			store.On("InsertEvent", mock.Anything).Return(true, nil)

			r := NewReconciler(store, zap.NewNop())
			outcome, err := r.Apply(context.Background(), Event{
				Provider:      "mollie",
				TransactionID: "tx-" + name,
				ClientRef:     "acme",
				Status:        "completed",
				Amount:        amount,
				Method:        "ideal",
			})
			require.NoError(t, err)

			// total_volume must never move downward
			assert.False(t, outcome.Applied)
			store.AssertNotCalled(t, "ApplyCompleted", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestApplySuspendedClientStillReconciles(t *testing.T) {
	suspended := activeClient()
	suspended.Status = model.StatusSuspended

	store := new(mockStore)
	store.On("FindClientByRef", "acme").Return(suspended, nil)
	store.On("InsertEvent", mock.Anything).Return(true, nil)
	store.On("ApplyCompleted", "client-1", 50.0, 0.75).Return(nil)

	r := NewReconciler(store, zap.NewNop())
	outcome, err := r.Apply(context.Background(), Event{
		Provider:      "mollie",
		TransactionID: "tx-2",
		ClientRef:     "acme",
		Status:        "completed",
		Amount:        50,
		Method:        "ideal",
	})
	require.NoError(t, err)
	assert.True(t, outcome.Applied)
}

func TestApplyDeletedClientRefused(t *testing.T) {
	deleted := activeClient()
	deleted.Status = model.StatusDeleted

	store := new(mockStore)
	store.On("FindClientByRef", "acme").Return(deleted, nil)

	r := NewReconciler(store, zap.NewNop())
	_, err := r.Apply(context.Background(), Event{
		Provider:      "mollie",
		TransactionID: "tx-3",
		ClientRef:     "acme",
		Status:        "completed",
		Amount:        50,
	})

	require.ErrorIs(t, err, ErrClientDeleted)
	store.AssertNotCalled(t, "InsertEvent", mock.Anything)
}

func TestApplyUnknownClient(t *testing.T) {
	store := new(mockStore)
	store.On("FindClientByRef", "nobody").Return(nil, ErrClientNotFound)

	r := NewReconciler(store, zap.NewNop())
	_, err := r.Apply(context.Background(), Event{
		Provider:      "mollie",
		TransactionID: "tx-4",
		ClientRef:     "nobody",
		Status:        "completed",
	})

	require.ErrorIs(t, err, ErrClientNotFound)
}
