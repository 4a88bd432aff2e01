package app

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"strings"

	"ai-image-detector/internal/serving"
	"ai-image-detector/internal/vision"
)

var (
	ErrUnsupportedMediaType = errors.New("unsupported media type")
	ErrMissingFile          = errors.New("missing image file")
	ErrUploadTooLarge       = errors.New("upload too large")
)

var allowedMediaTypes = map[string]struct{}{
	"image/jpeg": {},
	"image/png":  {},
	"image/webp": {},
	"image/gif":  {},
	"image/bmp":  {},
}

// ModelProvider is the subset of serving.Handle used to answer a request.
type ModelProvider interface {
	Refresh(ctx context.Context)
	Loaded() bool
	Predict(ctx context.Context, input vision.Tensor) (float32, error)
}

type ImagePreprocessor interface {
	Preprocess(data []byte) (vision.Tensor, error)
}

type DetectService struct {
	models       ModelProvider
	preprocessor ImagePreprocessor
}

func NewDetectService(models ModelProvider, preprocessor ImagePreprocessor) *DetectService {
	return &DetectService{
		models:       models,
		preprocessor: preprocessor,
	}
}

// EnsureModel applies the freshness policy and fails fast when no artifact is
// published, before anything is read from the request.
func (s *DetectService) EnsureModel(ctx context.Context) error {
	s.models.Refresh(ctx)
	if !s.models.Loaded() {
		return serving.ErrModelUnavailable
	}
	return nil
}

// ValidateContentType checks a declared upload Content-Type against the allowed
// image types. Parameters such as charset are ignored.
func ValidateContentType(contentType string) error {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrUnsupportedMediaType, contentType)
	}
	if _, ok := allowedMediaTypes[strings.ToLower(mediaType)]; !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedMediaType, mediaType)
	}
	return nil
}

// Detect preprocesses the image, runs the classifier and maps the score to a label.
func (s *DetectService) Detect(ctx context.Context, data []byte) (*vision.PredictionResult, error) {
	tensor, err := s.preprocessor.Preprocess(data)
	if err != nil {
		return nil, err
	}

	score, err := s.models.Predict(ctx, tensor)
	if err != nil {
		return nil, err
	}

	result := vision.Decide(float64(score))
	return &result, nil
}
