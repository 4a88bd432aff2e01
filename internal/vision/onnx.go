package vision

import (
	"context"
	"fmt"
	"math"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// Session is one loaded classifier. Run must be safe for concurrent use.
type Session interface {
	Run(ctx context.Context, input Tensor) (float32, error)
	Close() error
}

// ONNXBackend opens ONNX classifier artifacts with ONNX Runtime.
type ONNXBackend struct {
	libPath        string
	intraOpThreads int
	inputShape     []int64

	initOnce sync.Once
	initErr  error
}

// NewONNXBackend creates a backend whose sessions accept tensors of inputShape
// (1, H, W, 3). The runtime library is initialized on the first Open.
func NewONNXBackend(onnxLibPath string, intraOpThreads int, inputShape []int64) *ONNXBackend {
	return &ONNXBackend{
		libPath:        onnxLibPath,
		intraOpThreads: intraOpThreads,
		inputShape:     inputShape,
	}
}

func (b *ONNXBackend) init() error {
	b.initOnce.Do(func() {
		if b.libPath != "" {
			ort.SetSharedLibraryPath(b.libPath)
		}
		if ort.IsInitialized() {
			return
		}
		if err := ort.InitializeEnvironment(); err != nil {
			b.initErr = fmt.Errorf("onnx init environment: %w", err)
		}
	})
	return b.initErr
}

// Open validates the artifact's input/output signature and creates a session.
// ONNX Runtime offers no cancellation for session creation; callers bound it with
// their own timeout.
func (b *ONNXBackend) Open(ctx context.Context, path string) (Session, error) {
	if err := b.init(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("onnx get input/output info: %w", err)
	}
	if len(inputs) != 1 || len(outputs) != 1 {
		return nil, fmt.Errorf("onnx model must have one input and one output, got %d/%d", len(inputs), len(outputs))
	}
	if err := matchShape(inputs[0].Dimensions, b.inputShape); err != nil {
		return nil, fmt.Errorf("onnx input %q: %w", inputs[0].Name, err)
	}
	outputShape, err := scalarOutputShape(outputs[0].Dimensions)
	if err != nil {
		return nil, fmt.Errorf("onnx output %q: %w", outputs[0].Name, err)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("onnx new session options: %w", err)
	}
	defer options.Destroy()
	if b.intraOpThreads > 0 {
		if err := options.SetIntraOpNumThreads(b.intraOpThreads); err != nil {
			return nil, fmt.Errorf("onnx set intra-op threads: %w", err)
		}
	}

	session, err := ort.NewDynamicAdvancedSession(path,
		[]string{inputs[0].Name}, []string{outputs[0].Name}, options)
	if err != nil {
		return nil, fmt.Errorf("onnx new session: %w", err)
	}
	return &onnxSession{
		session:     session,
		inputShape:  b.inputShape,
		outputShape: outputShape,
	}, nil
}

type onnxSession struct {
	session     *ort.DynamicAdvancedSession
	inputShape  []int64
	outputShape ort.Shape
}

// Run allocates per-call tensors so concurrent calls never share buffers.
func (s *onnxSession) Run(ctx context.Context, input Tensor) (float32, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := matchShape(input.Shape, s.inputShape); err != nil {
		return 0, fmt.Errorf("%w: input %w", ErrInference, err)
	}

	in, err := ort.NewTensor(ort.NewShape(s.inputShape...), input.Data)
	if err != nil {
		return 0, fmt.Errorf("%w: onnx new input tensor: %w", ErrInference, err)
	}
	defer in.Destroy()

	out, err := ort.NewEmptyTensor[float32](s.outputShape)
	if err != nil {
		return 0, fmt.Errorf("%w: onnx new output tensor: %w", ErrInference, err)
	}
	defer out.Destroy()

	if err := s.session.Run([]ort.Value{in}, []ort.Value{out}); err != nil {
		return 0, fmt.Errorf("%w: onnx run: %w", ErrInference, err)
	}
	return out.GetData()[0], nil
}

func (s *onnxSession) Close() error {
	return s.session.Destroy()
}

// matchShape compares a model dimension list against the expected shape; -1 in the
// model means any size.
func matchShape(got, want []int64) error {
	if len(got) != len(want) {
		return fmt.Errorf("shape %v does not match %v", got, want)
	}
	for i := range got {
		if got[i] != want[i] && got[i] != -1 {
			return fmt.Errorf("shape %v does not match %v", got, want)
		}
	}
	return nil
}

func scalarOutputShape(dims []int64) (ort.Shape, error) {
	shape := make(ort.Shape, len(dims))
	elements := int64(1)
	for i, d := range dims {
		if d < 0 {
			d = 1
		}
		shape[i] = d
		elements *= d
	}
	if len(dims) == 0 || elements != 1 {
		return nil, fmt.Errorf("expected a single score, got shape %v", dims)
	}
	return shape, nil
}

// ValidateScore rejects scores that cannot be a sigmoid probability.
func ValidateScore(score float32) error {
	f := float64(score)
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 || f > 1 {
		return fmt.Errorf("%w: score %v outside [0,1]", ErrInference, score)
	}
	return nil
}
