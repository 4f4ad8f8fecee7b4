package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"net/http"
	"time"

	"inkframe/internal/core"
	"inkframe/internal/display"
	"inkframe/internal/photos"

	"golang.org/x/image/draw"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// FitMode controls how a photo is mapped onto the panel geometry
type FitMode string

const (
	// FitFill scales and center-crops so the photo fills the panel
	FitFill FitMode = "fill"
	// FitContain letterboxes the whole photo onto a white canvas
	FitContain FitMode = "contain"
)

// Resolver interface for re-resolving expired download locators
type Resolver interface {
	ResolveDownloadURL(ctx context.Context, itemID string) (string, error)
}

// Pipeline fetches, decodes and fits photos, then commits them to the panel.
// A frame reaches the driver only after the full image has been fetched,
// decoded and resized; nothing partial is ever committed.
type Pipeline struct {
	driver     display.Driver
	resolver   Resolver
	httpClient *http.Client
	fit        FitMode
	logger     *slog.Logger
}

// NewPipeline creates a new render pipeline
func NewPipeline(driver display.Driver, resolver Resolver, fit FitMode, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if fit == "" {
		fit = FitFill
	}
	return &Pipeline{
		driver:   driver,
		resolver: resolver,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		fit:    fit,
		logger: logger,
	}
}

// RenderAndCommit downloads the item, fits it to the panel and commits it
func (p *Pipeline) RenderAndCommit(ctx context.Context, item core.MediaItem) error {
	data, err := p.fetch(ctx, item)
	if err != nil {
		return err
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: decode %s: %v", core.ErrItemUnusable, item.Filename, err)
	}

	frame := p.fitFrame(img)

	start := time.Now()
	if err := p.driver.Commit(ctx, frame); err != nil {
		return fmt.Errorf("%w: %v", core.ErrDriverFailure, err)
	}

	p.logger.Debug("Frame committed",
		"item_id", item.ID,
		"format", format,
		"commit_duration", time.Since(start).String())
	return nil
}

// fetch downloads the original-resolution bytes, re-resolving the ephemeral
// locator once if the cached one has expired
func (p *Pipeline) fetch(ctx context.Context, item core.MediaItem) ([]byte, error) {
	url := ""
	if item.BaseURL != "" {
		url = item.BaseURL + photos.DownloadSuffix
	}

	if url != "" {
		data, err := p.download(ctx, url)
		if err == nil {
			return data, nil
		}
		if !locatorExpired(err) {
			return nil, err
		}
		p.logger.Debug("Download locator stale, re-resolving", "item_id", item.ID)
	}

	fresh, err := p.resolver.ResolveDownloadURL(ctx, item.ID)
	if err != nil {
		return nil, err
	}
	return p.download(ctx, fresh)
}

// locatorExpired reports whether the failure looks like a timed-out locator
// (signed URLs answer auth-style or not-found once they lapse) rather than a
// network problem
func locatorExpired(err error) bool {
	return core.IsAuthError(err) || errors.Is(err, core.ErrItemUnusable)
}

// download GETs the signed URL with a single retry on transient failure
func (p *Pipeline) download(ctx context.Context, url string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(2 * time.Second):
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", core.ErrTransient, ctx.Err())
			}
		}

		data, err := p.doDownload(ctx, url)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if !core.IsTransient(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

func (p *Pipeline) doDownload(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create download request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, photos.ClassifyStatus(resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		// Truncated body: the decode step would reject it anyway, but there
		// is no point handing garbage onward
		return nil, fmt.Errorf("%w: %v", core.ErrTransient, err)
	}
	if resp.ContentLength > 0 && int64(len(data)) != resp.ContentLength {
		return nil, fmt.Errorf("%w: truncated download (%d of %d bytes)", core.ErrTransient, len(data), resp.ContentLength)
	}
	return data, nil
}

// fitFrame maps the decoded photo onto the exact panel geometry
func (p *Pipeline) fitFrame(img image.Image) *image.RGBA {
	bounds := p.driver.Bounds()
	frame := image.NewRGBA(bounds)

	if p.fit == FitContain {
		fillWhite(frame)
		dst := containRect(bounds, img.Bounds())
		draw.CatmullRom.Scale(frame, dst, img, img.Bounds(), draw.Over, nil)
		return frame
	}

	src := cropRect(bounds, img.Bounds())
	draw.CatmullRom.Scale(frame, bounds, img, src, draw.Src, nil)
	return frame
}

// cropRect picks the centered source region whose aspect ratio matches the
// panel, so scaling fills the panel with no letterboxing
func cropRect(panel, src image.Rectangle) image.Rectangle {
	pw, ph := panel.Dx(), panel.Dy()
	sw, sh := src.Dx(), src.Dy()

	// Compare aspect ratios without floating point: sw/sh vs pw/ph
	if sw*ph > pw*sh {
		// Source is wider: crop left and right
		cw := sh * pw / ph
		x0 := src.Min.X + (sw-cw)/2
		return image.Rect(x0, src.Min.Y, x0+cw, src.Max.Y)
	}
	// Source is taller: crop top and bottom
	ch := sw * ph / pw
	y0 := src.Min.Y + (sh-ch)/2
	return image.Rect(src.Min.X, y0, src.Max.X, y0+ch)
}

// containRect picks the centered destination region that shows the whole
// photo at panel scale
func containRect(panel, src image.Rectangle) image.Rectangle {
	pw, ph := panel.Dx(), panel.Dy()
	sw, sh := src.Dx(), src.Dy()

	if sw*ph > pw*sh {
		dh := sh * pw / sw
		y0 := panel.Min.Y + (ph-dh)/2
		return image.Rect(panel.Min.X, y0, panel.Max.X, y0+dh)
	}
	dw := sw * ph / sh
	x0 := panel.Min.X + (pw-dw)/2
	return image.Rect(x0, panel.Min.Y, x0+dw, panel.Max.Y)
}

func fillWhite(frame *image.RGBA) {
	for i := range frame.Pix {
		frame.Pix[i] = 0xff
	}
}
