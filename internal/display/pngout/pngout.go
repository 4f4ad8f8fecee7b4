// Package pngout is the headless display driver: frames are written to a PNG
// file instead of a panel. Used in development and on machines without the
// e-paper HAT attached.
package pngout

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"sync"
)

// Driver implements display.Driver by writing frames to disk
type Driver struct {
	path   string
	bounds image.Rectangle
	mu     sync.Mutex
}

// New creates a new PNG file driver
func New(path string, width, height int) *Driver {
	return &Driver{
		path:   path,
		bounds: image.Rect(0, 0, width, height),
	}
}

// Name returns the driver name
func (d *Driver) Name() string {
	return "png"
}

// Bounds returns the simulated panel geometry
func (d *Driver) Bounds() image.Rectangle {
	return d.bounds
}

// Commit writes the frame to the output path atomically
func (d *Driver) Commit(ctx context.Context, frame image.Image) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	tmp := d.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}

	if err := png.Encode(f, frame); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to encode frame: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close output file: %w", err)
	}
	if err := os.Rename(tmp, d.path); err != nil {
		return fmt.Errorf("failed to replace output file: %w", err)
	}
	return nil
}
