package pipeline

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pin-ad-studio/internal/adcopy"
	"pin-ad-studio/internal/compositor"
	"pin-ad-studio/internal/imagecodec"
)

type fakeRemover struct {
	out   []byte
	err   error
	calls atomic.Int32
}

func (f *fakeRemover) RemoveBackground(ctx context.Context, image []byte) ([]byte, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.out, nil
}

type fakeCopywriter struct {
	text  string
	err   error
	got   []byte
	opts  adcopy.PromptOptions
	calls int
}

func (f *fakeCopywriter) WriteAdCopy(ctx context.Context, image []byte, opts adcopy.PromptOptions) (string, error) {
	f.calls++
	f.got = image
	f.opts = opts
	return f.text, f.err
}

func fill(w, h int, c color.NRGBA) []byte {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	data, err := imagecodec.EncodePNG(img)
	if err != nil {
		panic(err)
	}
	return data
}

var (
	scene  = fill(800, 600, color.NRGBA{R: 20, G: 120, B: 40, A: 255})
	cutout = fill(200, 100, color.NRGBA{R: 240, G: 200, B: 10, A: 255})
	photo  = fill(200, 100, color.NRGBA{R: 9, G: 9, B: 9, A: 255})
)

func TestRunHappyPath(t *testing.T) {
	remover := &fakeRemover{out: cutout}
	writer := &fakeCopywriter{text: "**Premium gazebo** ✨"}
	p := New(Options{Remover: remover, Copywriter: writer, MinScale: 0.1})

	res, err := p.Run(context.Background(), Request{
		Pin:        photo,
		Advertiser: scene,
		Placement:  compositor.Placement{X: 100, Y: 0, Scale: 1.2},
		AdCopy:     adcopy.PromptOptions{Product: "gazebo"},
	})
	require.NoError(t, err)

	assert.Equal(t, 800, res.Width)
	assert.Equal(t, 600, res.Height)
	assert.False(t, res.Clipped)
	assert.Equal(t, "**Premium gazebo** ✨", res.AdCopy)
	assert.False(t, res.AdCopyFailed)

	assert.Equal(t, int32(1), remover.calls.Load())
	assert.Equal(t, res.Image, writer.got, "ad copy must see the composited PNG")
	assert.Equal(t, "gazebo", writer.opts.Product)

	img, err := imagecodec.Decode(res.Image)
	require.NoError(t, err)
	assert.Equal(t, color.NRGBA{R: 240, G: 200, B: 10, A: 255}, img.NRGBAAt(220, 60))
	assert.Equal(t, color.NRGBA{R: 20, G: 120, B: 40, A: 255}, img.NRGBAAt(50, 60))
}

func TestRunClippedStillSucceeds(t *testing.T) {
	p := New(Options{Remover: &fakeRemover{out: cutout}, Copywriter: &fakeCopywriter{text: "ok"}})

	res, err := p.Run(context.Background(), Request{
		Pin:        photo,
		Advertiser: fill(300, 300, color.NRGBA{A: 255}),
		Placement:  compositor.Placement{X: 100, Y: 0, Scale: 2},
	})
	require.NoError(t, err)
	assert.True(t, res.Clipped)
	assert.Equal(t, 300, res.Width)
	assert.Equal(t, 300, res.Height)
}

func TestRunRemoverFailureIsFatal(t *testing.T) {
	boom := errors.New("provider: invalid image")
	writer := &fakeCopywriter{text: "unused"}
	p := New(Options{Remover: &fakeRemover{err: boom}, Copywriter: writer})

	_, err := p.Run(context.Background(), Request{
		Pin: photo, Advertiser: scene, Placement: compositor.Placement{Scale: 1},
	})

	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StageBackgroundRemoval, se.Stage)
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, writer.calls)
}

func TestRunAdCopyFailureFallsBack(t *testing.T) {
	p := New(Options{
		Remover:    &fakeRemover{out: cutout},
		Copywriter: &fakeCopywriter{err: errors.New("throttled")},
	})

	res, err := p.Run(context.Background(), Request{
		Pin: photo, Advertiser: scene, Placement: compositor.Placement{Scale: 1},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Image)
	assert.True(t, res.AdCopyFailed)
	assert.Equal(t, adcopy.FailureMessage, res.AdCopy)
}

func TestRunSkipAdCopy(t *testing.T) {
	writer := &fakeCopywriter{text: "unused"}
	p := New(Options{Remover: &fakeRemover{out: cutout}, Copywriter: writer})

	res, err := p.Run(context.Background(), Request{
		Pin: photo, Advertiser: scene, Placement: compositor.Placement{Scale: 1}, SkipAdCopy: true,
	})
	require.NoError(t, err)
	assert.Empty(t, res.AdCopy)
	assert.False(t, res.AdCopyFailed)
	assert.Zero(t, writer.calls)
}

func TestRunRejectsBeforeRemoteCalls(t *testing.T) {
	remover := &fakeRemover{out: cutout}
	p := New(Options{Remover: remover, Copywriter: &fakeCopywriter{}, MinScale: 0.1})

	cases := map[string]Request{
		"zero scale":     {Pin: photo, Advertiser: scene, Placement: compositor.Placement{Scale: 0}},
		"negative scale": {Pin: photo, Advertiser: scene, Placement: compositor.Placement{Scale: -2}},
		"below minimum":  {Pin: photo, Advertiser: scene, Placement: compositor.Placement{Scale: 0.05}},
	}
	for name, req := range cases {
		_, err := p.Run(context.Background(), req)
		var ipe *compositor.InvalidParameterError
		assert.ErrorAs(t, err, &ipe, name)
	}

	_, err := p.Run(context.Background(), Request{Advertiser: scene, Placement: compositor.Placement{Scale: 1}})
	assert.ErrorIs(t, err, ErrMissingInput)

	assert.Zero(t, remover.calls.Load())
}

func TestRunDecodeErrors(t *testing.T) {
	p := New(Options{Remover: &fakeRemover{out: cutout}, Copywriter: &fakeCopywriter{text: "x"}})

	_, err := p.Run(context.Background(), Request{
		Pin: photo, Advertiser: scene[:64], Placement: compositor.Placement{Scale: 1},
	})
	var de *compositor.DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "background", de.Input)

	p = New(Options{Remover: &fakeRemover{out: []byte("not a png")}, Copywriter: &fakeCopywriter{text: "x"}})
	_, err = p.Run(context.Background(), Request{
		Pin: photo, Advertiser: scene, Placement: compositor.Placement{Scale: 1},
	})
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "foreground", de.Input)

	remover := &fakeRemover{out: cutout}
	p = New(Options{Remover: remover})
	_, err = p.Run(context.Background(), Request{
		Pin: []byte("GIF89a"), Advertiser: scene, Placement: compositor.Placement{Scale: 1},
	})
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "foreground", de.Input)
	assert.Zero(t, remover.calls.Load())
}

type slowRemover struct{}

func (slowRemover) RemoveBackground(ctx context.Context, image []byte) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(5 * time.Second):
		return cutout, nil
	}
}

func TestRunRemoveTimeout(t *testing.T) {
	p := New(Options{Remover: slowRemover{}, RemoveTimeout: 20 * time.Millisecond})

	_, err := p.Run(context.Background(), Request{
		Pin: photo, Advertiser: scene, Placement: compositor.Placement{Scale: 1},
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
