package display

import (
	"context"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubDriver struct {
	name string
}

func (d *stubDriver) Name() string            { return d.name }
func (d *stubDriver) Bounds() image.Rectangle { return image.Rect(0, 0, 600, 448) }

func (d *stubDriver) Commit(ctx context.Context, frame image.Image) error {
	return nil
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	registry := NewRegistry()

	require.NoError(t, registry.Register(&stubDriver{name: "png"}))

	driver, err := registry.Get("png")
	require.NoError(t, err)
	assert.Equal(t, "png", driver.Name())
}

func TestRegistry_DuplicateRegistration(t *testing.T) {
	registry := NewRegistry()

	require.NoError(t, registry.Register(&stubDriver{name: "inky"}))

	err := registry.Register(&stubDriver{name: "inky"})
	assert.ErrorIs(t, err, ErrDriverAlreadyExists)
}

func TestRegistry_GetUnknown(t *testing.T) {
	registry := NewRegistry()

	_, err := registry.Get("oled")
	assert.ErrorIs(t, err, ErrDriverNotFound)
}

func TestRegistry_List(t *testing.T) {
	registry := NewRegistry()

	require.NoError(t, registry.Register(&stubDriver{name: "png"}))
	require.NoError(t, registry.Register(&stubDriver{name: "inky"}))

	assert.ElementsMatch(t, []string{"png", "inky"}, registry.List())
}
