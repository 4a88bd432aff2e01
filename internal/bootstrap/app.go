package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	appsvc "ai-image-detector/internal/app"
	"ai-image-detector/internal/config"
	"ai-image-detector/internal/logger"
	"ai-image-detector/internal/notify"
	mysqlClient "ai-image-detector/internal/platform/mysql"
	rabbitmqClient "ai-image-detector/internal/platform/rabbitmq"
	redisClient "ai-image-detector/internal/platform/redis"
	"ai-image-detector/internal/repository"
	"ai-image-detector/internal/serving"
	"ai-image-detector/internal/vision"
	"ai-image-detector/internal/worker"
)

type App struct {
	Config *config.Config
	Log    *zap.Logger

	Models       *serving.Handle
	Preprocessor *vision.Preprocessor
	Detector     *appsvc.DetectService

	// Optional infrastructure; nil when disabled in config.
	MySQL           *gorm.DB
	Redis           *redis.Client
	MQConn          *amqp.Connection
	LoadEvents      *repository.LoadEventRepository
	LoadEventWorker *worker.LoadEventWorker
	ReloadNotifier  *notify.ReloadNotifier

	Instance  string
	StartedAt time.Time

	closeLog func()
}

// New loads configuration, builds the logger and wires the application with the
// ONNX Runtime backend.
func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}

	log, closeLog, err := logger.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("build logger failed: %w", err)
	}

	pre, err := newPreprocessor(cfg.Model)
	if err != nil {
		return nil, err
	}
	backend := vision.NewONNXBackend(cfg.Model.ONNXSharedLibPath, cfg.Model.IntraOpThreads, pre.Shape())

	app, err := Build(ctx, cfg, log, backend)
	if err != nil {
		log.Error("bootstrap failed", zap.Error(err))
		closeLog()
		return nil, err
	}
	app.closeLog = closeLog
	return app, nil
}

// Build wires every component around backend. A missing or broken artifact does
// not fail startup; the service reports the model as not loaded until it appears.
func Build(ctx context.Context, cfg *config.Config, log *zap.Logger, backend serving.Backend) (*App, error) {
	pre, err := newPreprocessor(cfg.Model)
	if err != nil {
		return nil, err
	}
	policy, err := serving.ParsePolicy(cfg.Model.ReloadPolicy)
	if err != nil {
		return nil, err
	}

	app := &App{
		Config:       cfg,
		Log:          log,
		Preprocessor: pre,
		Instance:     uuid.NewString(),
		StartedAt:    time.Now(),
	}

	if err := app.connect(ctx); err != nil {
		_ = app.Close()
		return nil, err
	}

	var observers []serving.LoadObserver
	if recorder := app.newRecorder(); recorder != nil {
		observers = append(observers, recorder)
	}

	app.Models = serving.NewHandle(backend, serving.Options{
		Path:        cfg.Model.Path,
		Policy:      policy,
		LoadTimeout: cfg.Model.LoadTimeout.Duration,
		Logger:      log.Named("model"),
		Observers:   observers,
	})
	app.Detector = appsvc.NewDetectService(app.Models, pre)

	if err := app.Models.Init(ctx); err != nil {
		log.Warn("starting without a model", zap.String("path", cfg.Model.Path), zap.Error(err))
	}
	app.Models.Watch(cfg.Model.WatchInterval.Duration)

	if app.ReloadNotifier != nil {
		if err := app.ReloadNotifier.Start(ctx, app.Models); err != nil {
			_ = app.Close()
			return nil, fmt.Errorf("start reload notifier failed: %w", err)
		}
	}

	log.Info("application ready",
		zap.String("instance", app.Instance),
		zap.String("model_path", cfg.Model.Path),
		zap.String("reload_policy", string(policy)),
		zap.Bool("model_loaded", app.Models.Loaded()),
		zap.Bool("mysql", app.MySQL != nil),
		zap.Bool("redis", app.Redis != nil),
		zap.Bool("rabbitmq", app.MQConn != nil),
	)
	return app, nil
}

func newPreprocessor(cfg config.ModelConfig) (*vision.Preprocessor, error) {
	pre, err := vision.NewPreprocessor(cfg.ImageWidth, cfg.ImageHeight, cfg.Interpolation)
	if err != nil {
		return nil, fmt.Errorf("build preprocessor failed: %w", err)
	}
	pre.SetMaxPixels(cfg.MaxImagePixels)
	return pre, nil
}

func (a *App) connect(ctx context.Context) error {
	cfg := a.Config

	if cfg.MySQL.Enabled {
		db, err := mysqlClient.New(ctx, cfg.MySQLDSN(), a.Log)
		if err != nil {
			return err
		}
		a.MySQL = db
		if err := mysqlClient.Migrate(db); err != nil {
			return err
		}
		a.LoadEvents = repository.NewLoadEventRepository(db)
	}

	if cfg.Redis.Enabled {
		client, err := redisClient.New(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		a.Redis = client
		a.ReloadNotifier = notify.NewReloadNotifier(client, cfg.Redis.ReloadChannel, a.Instance, a.Log.Named("notify"))
	}

	if cfg.RabbitMQ.Enabled {
		conn, err := rabbitmqClient.New(ctx, cfg.RabbitMQ.URL)
		if err != nil {
			return err
		}
		a.MQConn = conn

		// Without a store there is nobody to consume the queue here; another
		// replica with MySQL enabled persists the events.
		if a.LoadEvents != nil {
			a.LoadEventWorker = worker.NewLoadEventWorker(conn, a.LoadEvents, cfg.RabbitMQ.LoadEventQueue, a.Log.Named("worker"))
			if err := a.LoadEventWorker.Start(ctx); err != nil {
				return fmt.Errorf("start load event worker failed: %w", err)
			}
		}
	}
	return nil
}

// newRecorder returns nil when neither a queue nor a store is configured.
func (a *App) newRecorder() *appsvc.LoadEventRecorder {
	// Interface values stay untyped nil when a dependency is disabled.
	var publisher appsvc.LoadEventPublisher
	if a.MQConn != nil {
		publisher = rabbitmqClient.NewLoadEventPublisher(a.MQConn, a.Config.RabbitMQ.LoadEventQueue)
	}
	var store appsvc.LoadEventStore
	if a.LoadEvents != nil {
		store = a.LoadEvents
	}
	if publisher == nil && store == nil {
		return nil
	}
	return appsvc.NewLoadEventRecorder(a.Instance, publisher, store, a.Log.Named("audit"))
}

// Close stops background work first so no reload publishes into a closed
// connection, then releases every client and finally flushes the log file.
func (a *App) Close() error {
	var errs []error
	if a.ReloadNotifier != nil {
		a.ReloadNotifier.Close()
	}
	if a.Models != nil {
		a.Models.Close()
	}
	if a.LoadEventWorker != nil {
		a.LoadEventWorker.Close()
	}
	if a.MQConn != nil {
		if err := a.MQConn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close rabbitmq failed: %w", err))
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis failed: %w", err))
		}
	}
	if a.MySQL != nil {
		if err := mysqlClient.Close(a.MySQL); err != nil {
			errs = append(errs, fmt.Errorf("close mysql failed: %w", err))
		}
	}
	err := errors.Join(errs...)
	if err != nil {
		a.Log.Error("close resources failed", zap.Error(err))
	}
	// Last: everything above may still log.
	if a.closeLog != nil {
		a.closeLog()
	}
	return err
}
