package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"

	"inkframe/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDriver struct {
	bounds  image.Rectangle
	commits []image.Image
	err     error
}

func (d *fakeDriver) Name() string            { return "fake" }
func (d *fakeDriver) Bounds() image.Rectangle { return d.bounds }

func (d *fakeDriver) Commit(ctx context.Context, frame image.Image) error {
	if d.err != nil {
		return d.err
	}
	d.commits = append(d.commits, frame)
	return nil
}

type fakeResolver struct {
	url   string
	err   error
	calls int
}

func (r *fakeResolver) ResolveDownloadURL(ctx context.Context, itemID string) (string, error) {
	r.calls++
	return r.url, r.err
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 0xff
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestPipeline_RenderAndCommit(t *testing.T) {
	photo := pngBytes(t, 200, 100)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/photo=d", r.URL.Path)
		w.Write(photo)
	}))
	defer server.Close()

	driver := &fakeDriver{bounds: image.Rect(0, 0, 100, 100)}
	pipeline := NewPipeline(driver, &fakeResolver{}, FitFill, nil)

	err := pipeline.RenderAndCommit(context.Background(), core.MediaItem{
		ID:      "p1",
		BaseURL: server.URL + "/photo",
	})
	require.NoError(t, err)

	require.Len(t, driver.commits, 1)
	assert.Equal(t, driver.bounds, driver.commits[0].Bounds(), "frame matches panel geometry exactly")
}

func TestPipeline_StaleLocatorReResolved(t *testing.T) {
	photo := pngBytes(t, 50, 50)
	mux := http.NewServeMux()
	mux.HandleFunc("/stale=d", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	mux.HandleFunc("/fresh=d", func(w http.ResponseWriter, r *http.Request) {
		w.Write(photo)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	driver := &fakeDriver{bounds: image.Rect(0, 0, 50, 50)}
	resolver := &fakeResolver{url: server.URL + "/fresh=d"}
	pipeline := NewPipeline(driver, resolver, FitFill, nil)

	err := pipeline.RenderAndCommit(context.Background(), core.MediaItem{
		ID:      "p1",
		BaseURL: server.URL + "/stale",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, resolver.calls, "expired locator resolved exactly once")
	assert.Len(t, driver.commits, 1)
}

func TestPipeline_DecodeFailureIsUnusableNotTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("this is not an image"))
	}))
	defer server.Close()

	driver := &fakeDriver{bounds: image.Rect(0, 0, 50, 50)}
	pipeline := NewPipeline(driver, &fakeResolver{}, FitFill, nil)

	err := pipeline.RenderAndCommit(context.Background(), core.MediaItem{
		ID:      "p1",
		BaseURL: server.URL + "/photo",
	})
	assert.ErrorIs(t, err, core.ErrItemUnusable)
	assert.NotErrorIs(t, err, core.ErrTransient)
	assert.Empty(t, driver.commits, "nothing undecodable ever reaches the panel")
}

func TestPipeline_TruncatedDownloadNeverCommitted(t *testing.T) {
	photo := pngBytes(t, 50, 50)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", fmt.Sprint(len(photo)))
		// Cut the body off mid-transfer
		w.Write(photo[:len(photo)/2])
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		conn, _, err := w.(http.Hijacker).Hijack()
		if err == nil {
			conn.Close()
		}
	}))
	defer server.Close()

	driver := &fakeDriver{bounds: image.Rect(0, 0, 50, 50)}
	resolver := &fakeResolver{url: server.URL + "/again=d"}
	pipeline := NewPipeline(driver, resolver, FitFill, nil)

	err := pipeline.RenderAndCommit(context.Background(), core.MediaItem{
		ID:      "p1",
		BaseURL: server.URL + "/photo",
	})
	assert.Error(t, err)
	assert.Empty(t, driver.commits, "a partial download must never be committed")
}

func TestPipeline_DriverFailureWrapped(t *testing.T) {
	photo := pngBytes(t, 50, 50)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(photo)
	}))
	defer server.Close()

	driver := &fakeDriver{bounds: image.Rect(0, 0, 50, 50), err: fmt.Errorf("spi write failed")}
	pipeline := NewPipeline(driver, &fakeResolver{}, FitFill, nil)

	err := pipeline.RenderAndCommit(context.Background(), core.MediaItem{
		ID:      "p1",
		BaseURL: server.URL + "/photo",
	})
	assert.ErrorIs(t, err, core.ErrDriverFailure)
}

func TestPipeline_RenderQR(t *testing.T) {
	driver := &fakeDriver{bounds: image.Rect(0, 0, 200, 100)}
	pipeline := NewPipeline(driver, &fakeResolver{}, FitFill, nil)

	err := pipeline.RenderQR(context.Background(), "http://192.168.1.10:5000")
	require.NoError(t, err)

	require.Len(t, driver.commits, 1)
	frame := driver.commits[0]
	assert.Equal(t, driver.bounds, frame.Bounds())

	// The border outside the centered QR stays white
	r, g, b, _ := frame.At(1, 1).RGBA()
	assert.Equal(t, uint32(0xffff), r)
	assert.Equal(t, uint32(0xffff), g)
	assert.Equal(t, uint32(0xffff), b)
}

func TestCropRect(t *testing.T) {
	panel := image.Rect(0, 0, 100, 100)

	// Wide source: crop left and right
	got := cropRect(panel, image.Rect(0, 0, 200, 100))
	assert.Equal(t, image.Rect(50, 0, 150, 100), got)

	// Tall source: crop top and bottom
	got = cropRect(panel, image.Rect(0, 0, 100, 300))
	assert.Equal(t, image.Rect(0, 100, 100, 200), got)

	// Matching aspect ratio: no crop
	got = cropRect(panel, image.Rect(0, 0, 400, 400))
	assert.Equal(t, image.Rect(0, 0, 400, 400), got)
}

func TestContainRect(t *testing.T) {
	panel := image.Rect(0, 0, 100, 100)

	got := containRect(panel, image.Rect(0, 0, 200, 100))
	assert.Equal(t, image.Rect(0, 25, 100, 75), got)

	got = containRect(panel, image.Rect(0, 0, 100, 200))
	assert.Equal(t, image.Rect(25, 0, 75, 100), got)
}

func TestFitModeContainLetterboxes(t *testing.T) {
	photo := pngBytes(t, 200, 100)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(photo)
	}))
	defer server.Close()

	driver := &fakeDriver{bounds: image.Rect(0, 0, 100, 100)}
	pipeline := NewPipeline(driver, &fakeResolver{}, FitContain, nil)

	err := pipeline.RenderAndCommit(context.Background(), core.MediaItem{ID: "p1", BaseURL: server.URL + "/photo"})
	require.NoError(t, err)

	require.Len(t, driver.commits, 1)
	frame := driver.commits[0]
	assert.Equal(t, color.RGBA{0xff, 0xff, 0xff, 0xff}, frame.At(50, 5), "letterbox band stays white")
}
