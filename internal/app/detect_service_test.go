package app

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ai-image-detector/internal/serving"
	"ai-image-detector/internal/vision"
)

type stubModels struct {
	loaded    bool
	score     float32
	err       error
	refreshes int
	predicts  int
}

func (m *stubModels) Refresh(ctx context.Context) { m.refreshes++ }
func (m *stubModels) Loaded() bool                { return m.loaded }
func (m *stubModels) Predict(ctx context.Context, input vision.Tensor) (float32, error) {
	m.predicts++
	return m.score, m.err
}

type stubPreprocessor struct {
	err   error
	calls int
}

func (p *stubPreprocessor) Preprocess(data []byte) (vision.Tensor, error) {
	p.calls++
	if p.err != nil {
		return vision.Tensor{}, p.err
	}
	return vision.Tensor{Shape: []int64{1, 32, 32, 3}, Data: make([]float32, 32*32*3)}, nil
}

func TestEnsureModel(t *testing.T) {
	models := &stubModels{}
	svc := NewDetectService(models, &stubPreprocessor{})

	assert.ErrorIs(t, svc.EnsureModel(context.Background()), serving.ErrModelUnavailable)
	assert.Equal(t, 1, models.refreshes)

	models.loaded = true
	assert.NoError(t, svc.EnsureModel(context.Background()))
}

func TestValidateContentType(t *testing.T) {
	for _, ct := range []string{"image/jpeg", "image/png", "image/webp", "image/gif", "image/bmp", "IMAGE/PNG", "image/jpeg; q=1"} {
		assert.NoError(t, ValidateContentType(ct), ct)
	}
	for _, ct := range []string{"", "image/tiff", "application/pdf", "text/plain", "image/svg+xml", ";;"} {
		assert.ErrorIs(t, ValidateContentType(ct), ErrUnsupportedMediaType, ct)
	}
}

func TestDetect(t *testing.T) {
	models := &stubModels{loaded: true, score: 0.9}
	pre := &stubPreprocessor{}
	svc := NewDetectService(models, pre)

	result, err := svc.Detect(context.Background(), []byte("img"))
	require.NoError(t, err)
	assert.Equal(t, vision.LabelAIGenerated, result.Label)
	assert.True(t, result.IsAI)
	assert.InDelta(t, 0.9, result.Confidence, 1e-6)
	assert.Equal(t, 1, pre.calls)
	assert.Equal(t, 1, models.predicts)
}

func TestDetectStopsAtFirstFailure(t *testing.T) {
	models := &stubModels{loaded: true}
	pre := &stubPreprocessor{err: vision.ErrDecode}
	svc := NewDetectService(models, pre)

	_, err := svc.Detect(context.Background(), []byte("img"))
	assert.ErrorIs(t, err, vision.ErrDecode)
	assert.Equal(t, 0, models.predicts)

	pre.err = nil
	models.err = errors.Join(vision.ErrInference, errors.New("backend fault"))
	_, err = svc.Detect(context.Background(), []byte("img"))
	assert.ErrorIs(t, err, vision.ErrInference)
}
