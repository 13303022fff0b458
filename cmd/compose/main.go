package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"pin-ad-studio/internal/adcopy"
	"pin-ad-studio/internal/app"
	"pin-ad-studio/internal/compositor"
	"pin-ad-studio/internal/config"
	"pin-ad-studio/internal/pipeline"
	"pin-ad-studio/internal/rembg"
)

type CLI struct {
	Background string  `help:"Advertiser image (PNG or JPEG)" required:"" type:"existingfile"`
	Foreground string  `help:"Pin image; use --remove-bg unless it already has a transparent background" required:"" type:"existingfile"`
	X          int     `help:"Left edge of the pin on the background" default:"100"`
	Y          int     `help:"Top edge of the pin on the background" default:"0"`
	Scale      float64 `help:"Pin scale factor" default:"1.2"`
	MinScale   float64 `help:"Smallest accepted scale" default:"0.1" hidden:""`
	Out        string  `help:"Output PNG path" default:"composite.png"`

	RemoveBg bool   `help:"Remove the pin's background with the configured provider first" name:"remove-bg"`
	AdCopy   bool   `help:"Write ad copy for the result with the configured model" name:"ad-copy"`
	Product  string `help:"Product hint for the ad copy"`
	Tone     string `help:"Ad copy tone" enum:"luxury,playful,minimal,cozy" default:"luxury"`
	CopyOut  string `help:"Write the ad copy to this file instead of stdout" name:"copy-out"`
}

func (c *CLI) Validate(kctx *kong.Context) error {
	if err := (compositor.Placement{X: c.X, Y: c.Y, Scale: c.Scale}).Validate(); err != nil {
		return err
	}
	if c.Scale < c.MinScale {
		return fmt.Errorf("scale %g is below the minimum %g", c.Scale, c.MinScale)
	}
	if filepath.Ext(c.Out) == "" {
		c.Out += ".png"
	}
	return nil
}

func (c *CLI) Run(ctx context.Context, logger *slog.Logger, stdout io.Writer) error {
	background, err := os.ReadFile(c.Background)
	if err != nil {
		return fmt.Errorf("reading background: %w", err)
	}
	foreground, err := os.ReadFile(c.Foreground)
	if err != nil {
		return fmt.Errorf("reading foreground: %w", err)
	}

	opts := pipeline.Options{
		Remover:  rembg.Passthrough{},
		Logger:   logger,
		MinScale: c.MinScale,
	}

	if c.RemoveBg || c.AdCopy {
		_ = godotenv.Load()
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("remote steps need configuration: %w", err)
		}
		httpClient := app.NewHTTPClient(cfg)

		if c.RemoveBg {
			if opts.Remover, err = app.NewRemover(cfg, httpClient, logger); err != nil {
				return err
			}
			opts.RemoveTimeout = cfg.RemoveTimeout
		}
		if c.AdCopy {
			opts.Copywriter = app.NewCopywriter(cfg, httpClient, logger)
			opts.AdCopyTimeout = cfg.AdCopyTimeout
		}
	}

	res, err := pipeline.New(opts).Run(ctx, pipeline.Request{
		Pin:        foreground,
		Advertiser: background,
		Placement:  compositor.Placement{X: c.X, Y: c.Y, Scale: c.Scale},
		AdCopy:     adcopy.PromptOptions{Product: c.Product, Tone: c.Tone},
		SkipAdCopy: !c.AdCopy,
	})
	if err != nil {
		return err
	}

	if err := os.WriteFile(c.Out, res.Image, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", c.Out, err)
	}
	if res.Clipped {
		logger.Warn("overlay exceeds background and was cropped", "x", c.X, "y", c.Y, "scale", c.Scale)
	}
	logger.Info("composite written", "out", c.Out, "width", res.Width, "height", res.Height)

	if !c.AdCopy {
		return nil
	}
	if c.CopyOut != "" {
		return os.WriteFile(c.CopyOut, []byte(res.AdCopy+"\n"), 0o644)
	}
	_, err = fmt.Fprintln(stdout, res.AdCopy)
	return err
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("compose"),
		kong.Description("Place a pin image onto an advertiser background and optionally write ad copy."),
		kong.UsageOnError(),
	)

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := cli.Run(ctx, logger, os.Stdout)
	var decodeErr *compositor.DecodeError
	if errors.As(err, &decodeErr) {
		kctx.Fatalf("cannot read the %s image: %v", decodeErr.Input, decodeErr.Err)
	}
	kctx.FatalIfErrorf(err)
}
