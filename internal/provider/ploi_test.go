package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/compassdigitalnl/compassdigital-cms-sub009/pkg/config"
)

func newTestPloi(t *testing.T, handler http.HandlerFunc) (*PloiClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := NewPloiClient(config.PloiConfig{
		BaseURL:  srv.URL,
		APIToken: "test-token",
		ServerID: "7",
	}, zap.NewNop())
	// No retry waits in tests
	client.httpClient.SetRetryCount(0)
	return client, srv
}

func TestPloiRegisterSite(t *testing.T) {
	client, _ := newTestPloi(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/servers/7/sites", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"data":{"id":42,"root_domain":"acme.example.com","status":"active"}}`))
	})

	site, err := client.RegisterSite(context.Background(), "Acme", "acme.example.com")
	require.NoError(t, err)

	assert.Equal(t, "42", site.ID)
	assert.Equal(t, "https://acme.example.com", site.DeploymentURL)
	assert.Equal(t, "https://acme.example.com/admin", site.AdminURL)
}

func TestPloiGetEnvironmentMissingIsEmpty(t *testing.T) {
	client, _ := newTestPloi(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	raw, err := client.GetEnvironment(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, "", raw)
}

func TestPloiAuthErrorIsFatal(t *testing.T) {
	client, _ := newTestPloi(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := client.RegisterSite(context.Background(), "Acme", "acme.example.com")
	require.ErrorIs(t, err, ErrAuth)
}

func TestPloiValidationErrorSurfacedVerbatim(t *testing.T) {
	client, _ := newTestPloi(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"errors":{"root_domain":["The root domain has already been taken."]}}`))
	})

	err := client.SetEnvironment(context.Background(), "42", "A=1\n")
	require.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "already been taken")
}

func TestPloiServerErrorIsTransient(t *testing.T) {
	client, _ := newTestPloi(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := client.Deploy(context.Background(), "42")
	require.ErrorIs(t, err, ErrTransient)
}
