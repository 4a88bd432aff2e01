package vision

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const channels = 3

// DefaultMaxPixels caps the declared size of an upload before it is decoded, so a
// small compressed file cannot expand into gigabytes of pixels.
const DefaultMaxPixels int64 = 89_478_485

// Interpolation names accepted by NewPreprocessor.
const (
	InterpolationCatmullRom = "catmullrom"
	InterpolationBilinear   = "bilinear"
	InterpolationNearest    = "nearest"
)

// Tensor is a dense float32 tensor in NHWC layout.
type Tensor struct {
	Shape []int64
	Data  []float32
}

// Preprocessor turns encoded image bytes into the (1, H, W, 3) tensor the classifier
// was trained on: RGB, resized with a fixed interpolation, scaled to [0,1].
// There is no mean/std normalization.
type Preprocessor struct {
	width     int
	height    int
	scaler    draw.Interpolator
	maxPixels int64
}

func NewPreprocessor(width, height int, interpolation string) (*Preprocessor, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid target size %dx%d", width, height)
	}
	var scaler draw.Interpolator
	switch interpolation {
	case InterpolationCatmullRom, "":
		// Bicubic family, same as PIL's default Image.resize used in training.
		scaler = draw.CatmullRom
	case InterpolationBilinear:
		scaler = draw.BiLinear
	case InterpolationNearest:
		scaler = draw.NearestNeighbor
	default:
		return nil, fmt.Errorf("unknown interpolation %q", interpolation)
	}
	return &Preprocessor{width: width, height: height, scaler: scaler, maxPixels: DefaultMaxPixels}, nil
}

// SetMaxPixels changes the decoded-size limit. Non-positive values are ignored.
func (p *Preprocessor) SetMaxPixels(n int64) {
	if n > 0 {
		p.maxPixels = n
	}
}

// Shape returns the tensor shape produced by Preprocess.
func (p *Preprocessor) Shape() []int64 {
	return []int64{1, int64(p.height), int64(p.width), channels}
}

// Preprocess decodes data and converts it to a tensor. Decoding failures wrap ErrDecode.
func (p *Preprocessor) Preprocess(data []byte) (Tensor, error) {
	if len(data) == 0 {
		return Tensor{}, fmt.Errorf("%w: empty payload", ErrDecode)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Tensor{}, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); pixels > p.maxPixels {
		return Tensor{}, fmt.Errorf("%w: image is %dx%d, above the %d pixel limit",
			ErrDecode, cfg.Width, cfg.Height, p.maxPixels)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Tensor{}, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return p.PreprocessImage(img), nil
}

// PreprocessImage converts an already decoded image.
func (p *Preprocessor) PreprocessImage(img image.Image) Tensor {
	rgb := toOpaqueNRGBA(img)

	var pix []uint8
	var stride int
	if rgb.Rect.Dx() == p.width && rgb.Rect.Dy() == p.height {
		// Already at target size: no resampling, so re-encoding losslessly is idempotent.
		pix, stride = rgb.Pix, rgb.Stride
	} else {
		dst := image.NewRGBA(image.Rect(0, 0, p.width, p.height))
		p.scaler.Scale(dst, dst.Bounds(), rgb, rgb.Bounds(), draw.Src, nil)
		pix, stride = dst.Pix, dst.Stride
	}

	out := make([]float32, p.height*p.width*channels)
	for y := 0; y < p.height; y++ {
		row := pix[y*stride:]
		for x := 0; x < p.width; x++ {
			src := row[x*4:]
			dst := out[(y*p.width+x)*channels:]
			dst[0] = float32(src[0]) / 255.0
			dst[1] = float32(src[1]) / 255.0
			dst[2] = float32(src[2]) / 255.0
		}
	}
	return Tensor{Shape: p.Shape(), Data: out}
}

// toOpaqueNRGBA converts any color model to straight (non-premultiplied) RGB with the
// alpha channel discarded, the way PIL's convert("RGB") does. Grayscale expands to R=G=B.
func toOpaqueNRGBA(img image.Image) *image.NRGBA {
	b := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))

	if src, ok := img.(*image.NRGBA); ok {
		for y := 0; y < b.Dy(); y++ {
			srcRow := src.Pix[src.PixOffset(b.Min.X, b.Min.Y+y):]
			dstRow := out.Pix[y*out.Stride:]
			for x := 0; x < b.Dx(); x++ {
				i := x * 4
				dstRow[i], dstRow[i+1], dstRow[i+2], dstRow[i+3] = srcRow[i], srcRow[i+1], srcRow[i+2], 0xff
			}
		}
		return out
	}

	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			c.A = 0xff
			out.SetNRGBA(x, y, c)
		}
	}
	return out
}
