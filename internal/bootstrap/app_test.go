package bootstrap

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ai-image-detector/internal/config"
	"ai-image-detector/internal/vision"
)

type constSession struct{ score float32 }

func (s constSession) Run(ctx context.Context, input vision.Tensor) (float32, error) {
	return s.score, nil
}
func (s constSession) Close() error { return nil }

type constBackend struct{ score float32 }

func (b constBackend) Open(ctx context.Context, path string) (vision.Session, error) {
	return constSession{score: b.score}, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "absent.toml"))
	cfg, err := config.Load()
	require.NoError(t, err)
	cfg.Model.Path = filepath.Join(t.TempDir(), "cnn_model.onnx")
	cfg.Redis.Enabled = false
	cfg.RabbitMQ.Enabled = false
	cfg.MySQL.Enabled = false
	return cfg
}

func writeModel(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("onnx"), 0o644))
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 5), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestBuildWithoutArtifact(t *testing.T) {
	cfg := testConfig(t)

	app, err := Build(context.Background(), cfg, zap.NewNop(), constBackend{score: 0.9})
	require.NoError(t, err)
	defer app.Close()

	assert.False(t, app.Models.Loaded())
	assert.NotEmpty(t, app.Instance)
	assert.Nil(t, app.ReloadNotifier)
	assert.Nil(t, app.LoadEvents)
}

func TestBuildServesPredictions(t *testing.T) {
	cfg := testConfig(t)
	writeModel(t, cfg.Model.Path)

	app, err := Build(context.Background(), cfg, zap.NewNop(), constBackend{score: 0.9})
	require.NoError(t, err)
	defer app.Close()

	require.True(t, app.Models.Loaded())
	require.NoError(t, app.Detector.EnsureModel(context.Background()))

	result, err := app.Detector.Detect(context.Background(), pngBytes(t))
	require.NoError(t, err)
	assert.Equal(t, vision.LabelAIGenerated, result.Label)
	assert.InDelta(t, 0.9, result.Confidence, 1e-4)
}

func TestBuildRejectsUnknownPolicy(t *testing.T) {
	cfg := testConfig(t)
	cfg.Model.ReloadPolicy = "sometimes"

	_, err := Build(context.Background(), cfg, zap.NewNop(), constBackend{})
	assert.Error(t, err)
}

func TestBuildFailsOnUnreachableRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := testConfig(t)
	cfg.Redis.Enabled = true
	cfg.Redis.Addr = addr

	_, err := Build(context.Background(), cfg, zap.NewNop(), constBackend{})
	assert.ErrorContains(t, err, "ping redis")
}

func TestReloadSignalLoadsArtifact(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Redis.Enabled = true
	cfg.Redis.Addr = mr.Addr()
	cfg.Model.ReloadPolicy = config.ReloadNever

	app, err := Build(context.Background(), cfg, zap.NewNop(), constBackend{score: 0.1})
	require.NoError(t, err)
	defer app.Close()
	require.NotNil(t, app.ReloadNotifier)
	require.False(t, app.Models.Loaded())

	// A training job drops the artifact and announces it.
	writeModel(t, cfg.Model.Path)
	publisher := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer publisher.Close()
	require.NoError(t, publisher.Publish(context.Background(), cfg.Redis.ReloadChannel, cfg.Model.Path).Err())

	assert.Eventually(t, app.Models.Loaded, 2*time.Second, 10*time.Millisecond)
}

func TestCloseFlushesLoggerLast(t *testing.T) {
	cfg := testConfig(t)
	writeModel(t, cfg.Model.Path)

	app, err := Build(context.Background(), cfg, zap.NewNop(), constBackend{score: 0.5})
	require.NoError(t, err)

	var modelLoadedAtFlush bool
	calls := 0
	app.closeLog = func() {
		calls++
		modelLoadedAtFlush = app.Models.Loaded()
	}

	require.NoError(t, app.Close())
	assert.Equal(t, 1, calls)
	assert.False(t, modelLoadedAtFlush, "the model handle is closed before the log is flushed")
}
