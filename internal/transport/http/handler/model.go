package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ai-image-detector/internal/model"
	"ai-image-detector/internal/serving"
	"ai-image-detector/internal/transport/http/response"
)

const recentEventLimit = 20

type ModelManager interface {
	Path() string
	Policy() serving.Policy
	Loaded() bool
	Info() *serving.ArtifactInfo
	Reload(ctx context.Context, path string) error
}

type LoadEventLister interface {
	ListRecent(ctx context.Context, limit int) ([]model.LoadEvent, error)
}

type ReloadBroadcaster interface {
	Publish(ctx context.Context, path string) error
}

type ModelHandler struct {
	models      ModelManager
	events      LoadEventLister
	broadcaster ReloadBroadcaster
	log         *zap.Logger
}

// NewModelHandler builds the model admin handler. events and broadcaster may be nil
// when MySQL or redis is disabled.
func NewModelHandler(models ModelManager, events LoadEventLister, broadcaster ReloadBroadcaster, log *zap.Logger) *ModelHandler {
	return &ModelHandler{
		models:      models,
		events:      events,
		broadcaster: broadcaster,
		log:         log,
	}
}

func (h *ModelHandler) Status(c *gin.Context) {
	body := gin.H{
		"model_loaded": h.models.Loaded(),
		"path":         h.models.Path(),
		"policy":       h.models.Policy(),
	}
	if info := h.models.Info(); info != nil {
		body["artifact"] = info
	}

	if h.events != nil {
		events, err := h.events.ListRecent(c.Request.Context(), recentEventLimit)
		if err != nil {
			h.log.Warn("list load events failed", zap.Error(err))
		} else {
			body["recent_events"] = events
		}
	}

	c.JSON(http.StatusOK, body)
}

// Reload re-reads the configured artifact. On failure the previous artifact keeps
// serving. On success the other replicas are told to follow.
func (h *ModelHandler) Reload(c *gin.Context) {
	ctx := c.Request.Context()
	path := h.models.Path()

	if err := h.models.Reload(ctx, path); err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeReloadFailed, err.Error())
		return
	}

	if h.broadcaster != nil {
		if err := h.broadcaster.Publish(ctx, path); err != nil {
			h.log.Warn("broadcast reload signal failed", zap.String("path", path), zap.Error(err))
		}
	}

	response.OK(c, gin.H{
		"model_loaded": h.models.Loaded(),
		"artifact":     h.models.Info(),
	})
}
