package handler

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

type stubStatus bool

func (s stubStatus) Loaded() bool { return bool(s) }

func newHealthRouter(h *HealthHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/", h.Root)
	r.GET("/health", h.Check)
	return r
}

func TestRoot(t *testing.T) {
	for _, loaded := range []bool{true, false} {
		r := newHealthRouter(NewHealthHandler(stubStatus(loaded), nil, time.Now()))

		status, body := doJSON(t, r, http.MethodGet, "/")
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, "ok", body["status"])
		assert.Equal(t, "AI Image Detector API is running", body["message"])
		assert.Equal(t, loaded, body["model_loaded"])
	}
}

func TestHealth(t *testing.T) {
	t.Run("without dependencies", func(t *testing.T) {
		r := newHealthRouter(NewHealthHandler(stubStatus(false), nil, time.Now()))

		status, body := doJSON(t, r, http.MethodGet, "/health")
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, "healthy", body["status"])
		assert.Equal(t, false, body["model_loaded"])
		assert.NotContains(t, body, "dependencies")
	})

	t.Run("dependency failures are reported but stay 200", func(t *testing.T) {
		checks := map[string]DependencyCheck{
			"redis": func(context.Context) error { return nil },
			"mysql": func(context.Context) error { return errors.New("connection refused") },
		}
		r := newHealthRouter(NewHealthHandler(stubStatus(true), checks, time.Now()))

		status, body := doJSON(t, r, http.MethodGet, "/health")
		assert.Equal(t, http.StatusOK, status)
		deps := body["dependencies"].(map[string]any)
		assert.Equal(t, map[string]any{"ok": true}, deps["redis"])
		assert.Equal(t, map[string]any{"ok": false, "message": "connection refused"}, deps["mysql"])
	})
}
