package handler

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/Njanja2025/control-plane/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthEndpoints(t *testing.T) {
	f := newAPIFixture(t, nil)
	router := f.api.Router()

	for path, status := range map[string]string{
		"/health":    "healthy",
		"/readiness": "ready",
		"/liveness":  "alive",
	} {
		rec := doJSON(t, router, http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, rec.Code, path)

		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, status, body["status"], path)
		assert.Equal(t, "test", body["version"], path)
	}
}

func TestStatusEndpoint(t *testing.T) {
	f := newAPIFixture(t, nil)
	router := f.api.Router()

	f.reg.Register(domain.NewServiceInstance("api", "host-1", 8080, "", nil))

	rec := doJSON(t, router, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Version  string `json:"version"`
		Registry struct {
			Services  int `json:"services"`
			Instances int `json:"instances"`
		} `json:"registry"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "test", body.Version)
	assert.Equal(t, 1, body.Registry.Services)
	assert.Equal(t, 1, body.Registry.Instances)
}
