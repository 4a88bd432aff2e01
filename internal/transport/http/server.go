package http

import (
	"context"
	"errors"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"ai-image-detector/internal/bootstrap"
	"ai-image-detector/internal/transport/http/handler"
	"ai-image-detector/internal/transport/http/middleware"
)

var errConnectionClosed = errors.New("connection closed")

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(
		middleware.RequestLogger(app.Log.Named("http")),
		middleware.Recovery(app.Log.Named("http")),
		// Allowed headers are echoed from the preflight, so cors gets no list.
		middleware.AllowRequestedHeaders(app.Config.CORS.AllowOrigins),
		cors.New(cors.Config{
			AllowOrigins:     app.Config.CORS.AllowOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			ExposeHeaders:    []string{middleware.RequestIDHeader},
			AllowCredentials: true,
		}),
	)
	healthHandler := handler.NewHealthHandler(app.Models, dependencyChecks(app), app.StartedAt)
	detectHandler := handler.NewDetectHandler(app.Detector, app.Config.App.MaxUploadBytes, app.Log.Named("predict"))

	// Interface values stay untyped nil when a dependency is disabled.
	var events handler.LoadEventLister
	if app.LoadEvents != nil {
		events = app.LoadEvents
	}
	var broadcaster handler.ReloadBroadcaster
	if app.ReloadNotifier != nil {
		broadcaster = app.ReloadNotifier
	}
	modelHandler := handler.NewModelHandler(app.Models, events, broadcaster, app.Log.Named("model"))

	router.GET("/", healthHandler.Root)
	router.GET("/health", healthHandler.Check)
	router.POST("/predict", detectHandler.Predict)

	modelGroup := router.Group("/model")
	modelGroup.GET("", modelHandler.Status)
	modelGroup.POST("/reload", modelHandler.Reload)

	return router
}

func dependencyChecks(app *bootstrap.App) map[string]handler.DependencyCheck {
	checks := map[string]handler.DependencyCheck{}
	if app.MySQL != nil {
		checks["mysql"] = func(ctx context.Context) error {
			sqlDB, err := app.MySQL.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}
	}
	if app.Redis != nil {
		checks["redis"] = func(ctx context.Context) error {
			return app.Redis.Ping(ctx).Err()
		}
	}
	if app.MQConn != nil {
		checks["rabbitmq"] = func(context.Context) error {
			if app.MQConn.IsClosed() {
				return errConnectionClosed
			}
			return nil
		}
	}
	return checks
}
