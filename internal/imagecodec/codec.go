// Package imagecodec converts encoded PNG/JPEG bytes to and from
// origin-anchored *image.NRGBA buffers.
package imagecodec

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"
)

const (
	FormatPNG  = "png"
	FormatJPEG = "jpeg"
)

// MaxPixels caps width*height of an accepted image.
const MaxPixels = 64 << 20

var (
	ErrEmpty             = errors.New("image data is empty")
	ErrUnsupportedFormat = errors.New("unsupported image format")
	ErrTooLarge          = errors.New("image is too large")
)

type Info struct {
	Format string
	Width  int
	Height int
}

func (i Info) MimeType() string {
	if i.Format == FormatJPEG {
		return "image/jpeg"
	}
	return "image/png"
}

// Probe reads the header only.
func Probe(data []byte) (Info, error) {
	if len(data) == 0 {
		return Info{}, ErrEmpty
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Info{}, fmt.Errorf("read header: %w", err)
	}

	switch format {
	case FormatPNG, FormatJPEG:
	default:
		return Info{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}

	if cfg.Width <= 0 || cfg.Height <= 0 {
		return Info{}, fmt.Errorf("invalid dimensions %dx%d", cfg.Width, cfg.Height)
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return Info{}, fmt.Errorf("%w: %dx%d", ErrTooLarge, cfg.Width, cfg.Height)
	}

	return Info{Format: format, Width: cfg.Width, Height: cfg.Height}, nil
}

func Decode(data []byte) (*image.NRGBA, error) {
	if _, err := Probe(data); err != nil {
		return nil, err
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	return ToNRGBA(img), nil
}

// ToNRGBA returns a fresh NRGBA copy anchored at (0,0). Sources without an
// alpha channel come out fully opaque.
func ToNRGBA(img image.Image) *image.NRGBA {
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))

	// draw.Src goes through premultiplied color and would lose the color
	// of fully transparent pixels, so NRGBA sources are copied row by row.
	if src, ok := img.(*image.NRGBA); ok {
		for y := 0; y < b.Dy(); y++ {
			si := src.PixOffset(b.Min.X, b.Min.Y+y)
			copy(dst.Pix[y*dst.Stride:(y+1)*dst.Stride], src.Pix[si:si+dst.Stride])
		}
		return dst
	}

	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG, imaging.PNGCompressionLevel(png.DefaultCompression)); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
