package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appsvc "ai-image-detector/internal/app"
	"ai-image-detector/internal/serving"
	"ai-image-detector/internal/transport/http/response"
	"ai-image-detector/internal/vision"
)

const fileField = "file"

var errMalformedUpload = errors.New("malformed multipart upload")

type Detector interface {
	EnsureModel(ctx context.Context) error
	Detect(ctx context.Context, data []byte) (*vision.PredictionResult, error)
}

type DetectHandler struct {
	detector       Detector
	maxUploadBytes int64
	log            *zap.Logger
}

func NewDetectHandler(detector Detector, maxUploadBytes int64, log *zap.Logger) *DetectHandler {
	return &DetectHandler{
		detector:       detector,
		maxUploadBytes: maxUploadBytes,
		log:            log,
	}
}

// Predict classifies the image in multipart field "file". The model check comes
// first so an unavailable model is reported without reading the upload.
func (h *DetectHandler) Predict(c *gin.Context) {
	ctx := c.Request.Context()

	if err := h.detector.EnsureModel(ctx); err != nil {
		h.fail(c, err)
		return
	}

	data, err := h.readImage(c)
	if err != nil {
		h.fail(c, err)
		return
	}

	result, err := h.detector.Detect(ctx, data)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.OK(c, result)
}

// readImage streams the multipart body until it finds the file part, checks the
// declared content type before reading it and enforces the upload limit.
func (h *DetectHandler) readImage(c *gin.Context) ([]byte, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)

	reader, err := c.Request.MultipartReader()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errMalformedUpload, err)
	}

	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: form field %q is required", appsvc.ErrMissingFile, fileField)
		}
		if err != nil {
			return nil, uploadError(err)
		}
		if part.FormName() != fileField {
			_ = part.Close()
			continue
		}

		if err := appsvc.ValidateContentType(part.Header.Get("Content-Type")); err != nil {
			_ = part.Close()
			return nil, err
		}

		data, err := io.ReadAll(part)
		_ = part.Close()
		if err != nil {
			return nil, uploadError(err)
		}
		return data, nil
	}
}

func uploadError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return fmt.Errorf("%w: limit is %d bytes", appsvc.ErrUploadTooLarge, tooLarge.Limit)
	}
	return fmt.Errorf("%w: %w", errMalformedUpload, err)
}

func (h *DetectHandler) fail(c *gin.Context, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("predict failed", zap.Int("status", status), zap.Error(err))
	}
	response.Error(c, status, code, err.Error())
}

func classify(err error) (status, code int) {
	switch {
	case errors.Is(err, serving.ErrModelUnavailable):
		return http.StatusServiceUnavailable, response.CodeModelUnavailable
	case errors.Is(err, appsvc.ErrUnsupportedMediaType):
		return http.StatusBadRequest, response.CodeUnsupportedType
	case errors.Is(err, appsvc.ErrUploadTooLarge):
		return http.StatusBadRequest, response.CodeUploadTooLarge
	case errors.Is(err, vision.ErrDecode):
		return http.StatusBadRequest, response.CodeDecodeFailed
	case errors.Is(err, appsvc.ErrMissingFile), errors.Is(err, errMalformedUpload):
		return http.StatusBadRequest, response.CodeBadRequest
	case errors.Is(err, vision.ErrInference):
		return http.StatusInternalServerError, response.CodeInferenceFailed
	default:
		return http.StatusInternalServerError, response.CodeInternalServer
	}
}
