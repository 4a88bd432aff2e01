package handler

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
)

type ModelStatus interface {
	Loaded() bool
}

// DependencyCheck reports whether an optional backing service is reachable.
type DependencyCheck func(ctx context.Context) error

type dependencyStatus struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

type HealthHandler struct {
	models    ModelStatus
	checks    map[string]DependencyCheck
	startedAt time.Time
}

func NewHealthHandler(models ModelStatus, checks map[string]DependencyCheck, startedAt time.Time) *HealthHandler {
	return &HealthHandler{models: models, checks: checks, startedAt: startedAt}
}

func (h *HealthHandler) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"message":      "AI Image Detector API is running",
		"model_loaded": h.models.Loaded(),
	})
}

// Check always answers 200: the process is up even while no model is loaded or an
// audit dependency is down. Callers read model_loaded to decide readiness.
func (h *HealthHandler) Check(c *gin.Context) {
	body := gin.H{
		"status":       "healthy",
		"model_loaded": h.models.Loaded(),
		"uptime_sec":   int(time.Since(h.startedAt).Seconds()),
	}

	if len(h.checks) > 0 {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		names := make([]string, 0, len(h.checks))
		for name := range h.checks {
			names = append(names, name)
		}
		sort.Strings(names)

		deps := gin.H{}
		for _, name := range names {
			if err := h.checks[name](ctx); err != nil {
				deps[name] = dependencyStatus{OK: false, Message: err.Error()}
				continue
			}
			deps[name] = dependencyStatus{OK: true}
		}
		body["dependencies"] = deps
	}

	c.JSON(http.StatusOK, body)
}
