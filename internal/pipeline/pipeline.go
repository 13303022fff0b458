// Package pipeline runs background removal, compositing and ad copy
// generation for a single request.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"pin-ad-studio/internal/adcopy"
	"pin-ad-studio/internal/compositor"
	"pin-ad-studio/internal/imagecodec"
)

const (
	StageBackgroundRemoval = "background_removal"
	StageAdCopy            = "ad_copy"
)

type BackgroundRemover interface {
	RemoveBackground(ctx context.Context, image []byte) ([]byte, error)
}

type Copywriter interface {
	WriteAdCopy(ctx context.Context, image []byte, opts adcopy.PromptOptions) (string, error)
}

type Options struct {
	Remover    BackgroundRemover
	Copywriter Copywriter
	Logger     *slog.Logger

	RemoveTimeout time.Duration
	AdCopyTimeout time.Duration
	// MinScale is the smallest accepted scale; 0 only requires scale > 0.
	MinScale float64
}

type Request struct {
	Pin        []byte
	Advertiser []byte
	Placement  compositor.Placement
	AdCopy     adcopy.PromptOptions
	// SkipAdCopy leaves Result.AdCopy empty.
	SkipAdCopy bool
}

type Result struct {
	Image        []byte
	Width        int
	Height       int
	Clipped      bool
	AdCopy       string
	AdCopyFailed bool
	Timings      Timings
}

type Timings struct {
	RemoveBackground time.Duration
	Composite        time.Duration
	AdCopy           time.Duration
}

// StageError wraps a remote collaborator failure.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

var ErrMissingInput = errors.New("missing input image")

type Pipeline struct {
	remover       BackgroundRemover
	copywriter    Copywriter
	logger        *slog.Logger
	removeTimeout time.Duration
	adCopyTimeout time.Duration
	minScale      float64
}

func New(opts Options) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	removeTimeout := opts.RemoveTimeout
	if removeTimeout <= 0 {
		removeTimeout = 90 * time.Second
	}
	adCopyTimeout := opts.AdCopyTimeout
	if adCopyTimeout <= 0 {
		adCopyTimeout = 90 * time.Second
	}

	return &Pipeline{
		remover:       opts.Remover,
		copywriter:    opts.Copywriter,
		logger:        logger,
		removeTimeout: removeTimeout,
		adCopyTimeout: adCopyTimeout,
		minScale:      opts.MinScale,
	}
}

func (p *Pipeline) Run(ctx context.Context, req Request) (Result, error) {
	if err := p.validate(req); err != nil {
		return Result{}, err
	}

	var (
		res    Result
		cutout []byte
	)

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if _, err := imagecodec.Probe(req.Pin); err != nil {
			return &compositor.DecodeError{Input: "foreground", Err: err}
		}

		rctx, cancel := context.WithTimeout(gctx, p.removeTimeout)
		defer cancel()

		out, err := p.remover.RemoveBackground(rctx, req.Pin)
		if err != nil {
			return &StageError{Stage: StageBackgroundRemoval, Err: err}
		}
		cutout = out
		return nil
	})
	g.Go(func() error {
		if _, err := imagecodec.Probe(req.Advertiser); err != nil {
			return &compositor.DecodeError{Input: "background", Err: err}
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		p.logger.Error("pipeline failed", "stage", stageOf(err), "err", err)
		return Result{}, err
	}
	res.Timings.RemoveBackground = time.Since(start)

	start = time.Now()
	out, err := compositor.CompositeBytes(req.Advertiser, cutout, req.Placement)
	if err != nil {
		p.logger.Error("pipeline failed", "stage", "composite", "err", err)
		return Result{}, err
	}
	res.Timings.Composite = time.Since(start)
	res.Image = out.PNG
	res.Width = out.Width
	res.Height = out.Height
	res.Clipped = out.Clipped

	if out.Clipped {
		p.logger.Warn("overlay exceeds background and was cropped",
			"x", req.Placement.X, "y", req.Placement.Y, "scale", req.Placement.Scale,
			"overlay_w", out.ForegroundSize.X, "overlay_h", out.ForegroundSize.Y,
			"background_w", out.Width, "background_h", out.Height,
		)
	}

	if !req.SkipAdCopy {
		start = time.Now()
		res.AdCopy, res.AdCopyFailed = p.writeAdCopy(ctx, out.PNG, req.AdCopy)
		res.Timings.AdCopy = time.Since(start)
	}

	p.logger.Info("pipeline done",
		"width", res.Width, "height", res.Height, "clipped", res.Clipped,
		"ad_copy_failed", res.AdCopyFailed,
		"remove_ms", res.Timings.RemoveBackground.Milliseconds(),
		"composite_ms", res.Timings.Composite.Milliseconds(),
		"ad_copy_ms", res.Timings.AdCopy.Milliseconds(),
	)

	return res, nil
}

func (p *Pipeline) validate(req Request) error {
	if err := req.Placement.Validate(); err != nil {
		return err
	}
	if p.minScale > 0 && req.Placement.Scale < p.minScale {
		return &compositor.InvalidParameterError{
			Param:  "scale",
			Value:  req.Placement.Scale,
			Reason: fmt.Sprintf("must be at least %g", p.minScale),
		}
	}
	if len(req.Pin) == 0 {
		return fmt.Errorf("%w: pin", ErrMissingInput)
	}
	if len(req.Advertiser) == 0 {
		return fmt.Errorf("%w: advertiser", ErrMissingInput)
	}
	if p.remover == nil {
		return &StageError{Stage: StageBackgroundRemoval, Err: errors.New("remover is not configured")}
	}
	return nil
}

func (p *Pipeline) writeAdCopy(ctx context.Context, image []byte, opts adcopy.PromptOptions) (string, bool) {
	if p.copywriter == nil {
		return adcopy.FailureMessage, true
	}

	cctx, cancel := context.WithTimeout(ctx, p.adCopyTimeout)
	defer cancel()

	text, err := p.copywriter.WriteAdCopy(cctx, image, opts)
	if err != nil {
		p.logger.Error("ad copy failed", "stage", StageAdCopy, "err", err)
		return adcopy.FailureMessage, true
	}
	if text == "" {
		return adcopy.FailureMessage, true
	}
	return text, false
}

func stageOf(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return "decode"
}
