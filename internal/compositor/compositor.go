// Package compositor places a transparent cut-out onto a background image.
//
// The engine is stateless: every call works on its own buffers and never
// mutates its inputs, so it can be used from concurrent requests without
// locking.
package compositor

import (
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"

	"pin-ad-studio/internal/imagecodec"
)

// Placement anchors the scaled foreground's top-left corner on the
// background. X and Y are not validated: off-canvas parts are cropped.
type Placement struct {
	X     int
	Y     int
	Scale float64
}

type Result struct {
	Image *image.NRGBA
	// Clipped reports that part of the foreground fell outside the canvas.
	Clipped        bool
	ForegroundSize image.Point
}

type Output struct {
	PNG            []byte
	Width          int
	Height         int
	Clipped        bool
	ForegroundSize image.Point
}

func (p Placement) Validate() error {
	if math.IsNaN(p.Scale) || math.IsInf(p.Scale, 0) || p.Scale <= 0 {
		return &InvalidParameterError{Param: "scale", Value: p.Scale, Reason: "must be a positive number"}
	}
	return nil
}

// ScaledSize returns (round(w*scale), round(h*scale)).
func (p Placement) ScaledSize(w, h int) image.Point {
	return image.Pt(
		int(math.Round(float64(w)*p.Scale)),
		int(math.Round(float64(h)*p.Scale)),
	)
}

// CompositeBytes decodes both inputs, composites and encodes the result as PNG.
func CompositeBytes(background, foreground []byte, p Placement) (Output, error) {
	if err := p.Validate(); err != nil {
		return Output{}, err
	}

	bg, err := imagecodec.Decode(background)
	if err != nil {
		return Output{}, &DecodeError{Input: "background", Err: err}
	}
	fg, err := imagecodec.Decode(foreground)
	if err != nil {
		return Output{}, &DecodeError{Input: "foreground", Err: err}
	}

	res, err := Composite(bg, fg, p)
	if err != nil {
		return Output{}, err
	}

	encoded, err := imagecodec.EncodePNG(res.Image)
	if err != nil {
		return Output{}, fmt.Errorf("encode result: %w", err)
	}

	return Output{
		PNG:            encoded,
		Width:          res.Image.Rect.Dx(),
		Height:         res.Image.Rect.Dy(),
		Clipped:        res.Clipped,
		ForegroundSize: res.ForegroundSize,
	}, nil
}

// Composite scales foreground with Lanczos and alpha-blends it onto a copy of
// background at p. The output always has the background's dimensions.
func Composite(background, foreground *image.NRGBA, p Placement) (Result, error) {
	if err := p.Validate(); err != nil {
		return Result{}, err
	}
	if background == nil || foreground == nil {
		return Result{}, &InvalidParameterError{Param: "image", Reason: "must not be nil"}
	}

	fb := foreground.Bounds()
	size := p.ScaledSize(fb.Dx(), fb.Dy())
	if size.X < 1 || size.Y < 1 {
		return Result{}, &InvalidParameterError{
			Param:  "scale",
			Value:  p.Scale,
			Reason: fmt.Sprintf("scaled foreground %dx%d is empty", size.X, size.Y),
		}
	}
	if int64(size.X)*int64(size.Y) > imagecodec.MaxPixels {
		return Result{}, &InvalidParameterError{
			Param:  "scale",
			Value:  p.Scale,
			Reason: fmt.Sprintf("scaled foreground %dx%d exceeds %d pixels", size.X, size.Y, imagecodec.MaxPixels),
		}
	}

	fg := imagecodec.ToNRGBA(foreground)
	if size.X != fb.Dx() || size.Y != fb.Dy() {
		fg = imaging.Resize(fg, size.X, size.Y, imaging.Lanczos)
	}

	out := imagecodec.ToNRGBA(background)
	bw, bh := out.Rect.Dx(), out.Rect.Dy()

	availableWidth := bw - p.X
	availableHeight := bh - p.Y
	clipped := size.X > availableWidth || size.Y > availableHeight || p.X < 0 || p.Y < 0

	blend(out, fg, p.X, p.Y)

	return Result{Image: out, Clipped: clipped, ForegroundSize: size}, nil
}

// blend merges src onto dst at (ox, oy) using src alpha as the weight.
// Both images must be anchored at (0,0).
func blend(dst, src *image.NRGBA, ox, oy int) {
	x0, y0 := max(ox, 0), max(oy, 0)
	x1 := min(ox+src.Rect.Dx(), dst.Rect.Dx())
	y1 := min(oy+src.Rect.Dy(), dst.Rect.Dy())
	if x0 >= x1 || y0 >= y1 {
		return
	}

	for y := y0; y < y1; y++ {
		di := y*dst.Stride + x0*4
		si := (y-oy)*src.Stride + (x0-ox)*4
		for x := x0; x < x1; x, di, si = x+1, di+4, si+4 {
			a := uint32(src.Pix[si+3])
			switch a {
			case 0:
				continue
			case 255:
				copy(dst.Pix[di:di+4], src.Pix[si:si+4])
				continue
			}
			for c := 0; c < 3; c++ {
				f := uint32(src.Pix[si+c])
				b := uint32(dst.Pix[di+c])
				dst.Pix[di+c] = uint8((f*a + b*(255-a) + 127) / 255)
			}
			// coverage accumulates: an opaque background stays opaque
			ba := uint32(dst.Pix[di+3])
			dst.Pix[di+3] = uint8((a*255 + ba*(255-a) + 127) / 255)
		}
	}
}
