package render

import (
	"context"
	"fmt"
	"image"
	"image/draw"

	"inkframe/internal/core"

	qrcode "github.com/skip2/go-qrcode"
)

// RenderQR commits a frame showing a QR code for the configuration URL,
// centered on a white canvas at panel resolution
func (p *Pipeline) RenderQR(ctx context.Context, url string) error {
	bounds := p.driver.Bounds()

	size := bounds.Dx()
	if bounds.Dy() < size {
		size = bounds.Dy()
	}
	size -= 20

	qr, err := qrcode.New(url, qrcode.Medium)
	if err != nil {
		return fmt.Errorf("failed to build QR code: %w", err)
	}

	frame := image.NewRGBA(bounds)
	fillWhite(frame)

	qrImg := qr.Image(size)
	offset := image.Pt(
		bounds.Min.X+(bounds.Dx()-size)/2,
		bounds.Min.Y+(bounds.Dy()-size)/2,
	)
	draw.Draw(frame, image.Rectangle{Min: offset, Max: offset.Add(image.Pt(size, size))}, qrImg, qrImg.Bounds().Min, draw.Src)

	if err := p.driver.Commit(ctx, frame); err != nil {
		return fmt.Errorf("%w: %v", core.ErrDriverFailure, err)
	}

	p.logger.Info("Configuration QR code displayed", "url", url)
	return nil
}
