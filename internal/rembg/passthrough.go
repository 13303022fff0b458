package rembg

import (
	"context"
	"fmt"

	"pin-ad-studio/internal/imagecodec"
)

// Passthrough keeps the photo as is and only normalizes it to PNG. It is the
// "none" provider, useful offline and for pre-cut PNG pins.
type Passthrough struct{}

func (Passthrough) RemoveBackground(ctx context.Context, image []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img, err := imagecodec.Decode(image)
	if err != nil {
		return nil, fmt.Errorf("passthrough: %w", err)
	}
	return imagecodec.EncodePNG(img)
}

var (
	_ Remover = (*Client)(nil)
	_ Remover = Passthrough{}
)
