package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthHandler_GetHealth(t *testing.T) {
	handler := NewHealthHandler("1.0.0")

	output, err := handler.GetHealth(context.Background(), &HealthInput{})
	require.NoError(t, err)
	require.NotNil(t, output)

	assert.Equal(t, "healthy", output.Body.Status)
	assert.Equal(t, "1.0.0", output.Body.Version)
	assert.NotEmpty(t, output.Body.Timestamp)
	assert.GreaterOrEqual(t, output.Body.UptimeSeconds, 0.0)
	assert.Equal(t, "unknown", output.Body.Database.Status)
	assert.False(t, output.Body.Export.Active)
}

func TestHealthHandler_WithDatabase(t *testing.T) {
	h := newAPIHarness(t)

	resp := h.api.Get("/health")
	require.Equal(t, http.StatusOK, resp.Code)

	body := decodeJSON[HealthResponse](t, resp.Body.Bytes())
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, "1.2.3", body.Version)
	assert.Equal(t, "ok", body.Database.Status)
	assert.Equal(t, "sqlite", body.Database.Driver)
	assert.False(t, body.Export.Active)
}

func TestHealthHandler_ClosedDatabaseDegrades(t *testing.T) {
	h := newAPIHarness(t)
	require.NoError(t, h.db.Close())

	_, api := humatest.New(t)
	NewHealthHandler("1.2.3").WithDB(h.db).Register(api)

	resp := api.Get("/health")
	require.Equal(t, http.StatusOK, resp.Code)
	body := decodeJSON[HealthResponse](t, resp.Body.Bytes())
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "error", body.Database.Status)
}

func TestToMB(t *testing.T) {
	assert.InDelta(t, 1.0, toMB(1024*1024), 1e-9)
	assert.InDelta(t, 0.5, toMB(512*1024), 1e-9)
}
