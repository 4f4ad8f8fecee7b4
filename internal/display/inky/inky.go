// Package inky drives UC8159-class 7-colour e-paper panels (Inky Impression)
// over SPI. A full refresh takes on the order of 30 seconds; Commit blocks
// until the panel reports ready.
package inky

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// UC8159 command set (subset used here)
const (
	cmdPanelSetting       = 0x00
	cmdPowerOff           = 0x02
	cmdPowerOn            = 0x04
	cmdBoosterSoftStart   = 0x06
	cmdDataStartTransmit  = 0x10
	cmdDisplayRefresh     = 0x12
	cmdPLLControl         = 0x30
	cmdVcomDataInterval   = 0x50
	cmdTconSetting        = 0x60
	cmdResolutionSetting  = 0x61
)

const busyTimeout = 40 * time.Second

// palette is the 7-colour ACeP gamut in panel code order
var palette = color.Palette{
	color.RGBA{0x00, 0x00, 0x00, 0xff}, // black
	color.RGBA{0xff, 0xff, 0xff, 0xff}, // white
	color.RGBA{0x00, 0x80, 0x00, 0xff}, // green
	color.RGBA{0x00, 0x00, 0xff, 0xff}, // blue
	color.RGBA{0xff, 0x00, 0x00, 0xff}, // red
	color.RGBA{0xff, 0xff, 0x00, 0xff}, // yellow
	color.RGBA{0xff, 0x80, 0x00, 0xff}, // orange
}

// Config contains the panel wiring
type Config struct {
	SPIPort  string // empty for the first available port
	DCPin    string
	ResetPin string
	BusyPin  string
	Width    int
	Height   int
}

// Driver implements display.Driver for the Inky Impression panel
type Driver struct {
	conn   spi.Conn
	port   spi.PortCloser
	dc     gpio.PinOut
	reset  gpio.PinOut
	busy   gpio.PinIn
	bounds image.Rectangle
	mu     sync.Mutex
}

// New opens the SPI port and GPIO pins and initializes the panel
func New(config Config) (*Driver, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize host: %w", err)
	}

	port, err := spireg.Open(config.SPIPort)
	if err != nil {
		return nil, fmt.Errorf("failed to open SPI port: %w", err)
	}

	conn, err := port.Connect(3*physic.MegaHertz, spi.Mode0, 8)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to connect SPI: %w", err)
	}

	dc := gpioreg.ByName(config.DCPin)
	reset := gpioreg.ByName(config.ResetPin)
	busy := gpioreg.ByName(config.BusyPin)
	if dc == nil || reset == nil || busy == nil {
		port.Close()
		return nil, fmt.Errorf("failed to resolve GPIO pins %s/%s/%s", config.DCPin, config.ResetPin, config.BusyPin)
	}

	d := &Driver{
		conn:   conn,
		port:   port,
		dc:     dc,
		reset:  reset,
		busy:   busy,
		bounds: image.Rect(0, 0, config.Width, config.Height),
	}

	if err := d.init(); err != nil {
		port.Close()
		return nil, err
	}
	return d, nil
}

// Name returns the driver name
func (d *Driver) Name() string {
	return "inky"
}

// Bounds returns the panel geometry
func (d *Driver) Bounds() image.Rectangle {
	return d.bounds
}

// Commit quantizes the frame to the 7-colour palette, streams it to panel RAM
// and triggers a full refresh. It blocks until the panel has latched the image.
func (d *Driver) Commit(ctx context.Context, frame image.Image) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if frame.Bounds().Size() != d.bounds.Size() {
		return fmt.Errorf("frame is %v, panel wants %v", frame.Bounds().Size(), d.bounds.Size())
	}

	buf := d.pack(frame)

	if err := d.command(cmdDataStartTransmit, buf...); err != nil {
		return fmt.Errorf("failed to write frame data: %w", err)
	}
	if err := d.command(cmdPowerOn); err != nil {
		return fmt.Errorf("failed to power on panel: %w", err)
	}
	if err := d.waitReady(); err != nil {
		return err
	}
	if err := d.command(cmdDisplayRefresh); err != nil {
		return fmt.Errorf("failed to trigger refresh: %w", err)
	}
	if err := d.waitReady(); err != nil {
		return err
	}
	if err := d.command(cmdPowerOff); err != nil {
		return fmt.Errorf("failed to power off panel: %w", err)
	}
	return d.waitReady()
}

// Halt releases the SPI port
func (d *Driver) Halt() error {
	return d.port.Close()
}

// init performs the hardware reset and register setup sequence
func (d *Driver) init() error {
	if err := d.reset.Out(gpio.Low); err != nil {
		return fmt.Errorf("failed to assert reset: %w", err)
	}
	time.Sleep(100 * time.Millisecond)
	if err := d.reset.Out(gpio.High); err != nil {
		return fmt.Errorf("failed to release reset: %w", err)
	}
	time.Sleep(100 * time.Millisecond)
	if err := d.waitReady(); err != nil {
		return err
	}

	w, h := d.bounds.Dx(), d.bounds.Dy()
	steps := []struct {
		cmd  byte
		data []byte
	}{
		{cmdResolutionSetting, []byte{byte(w >> 8), byte(w), byte(h >> 8), byte(h)}},
		{cmdPanelSetting, []byte{0xEF, 0x08}},
		{cmdBoosterSoftStart, []byte{0xC7, 0xC7, 0x1D}},
		{cmdPLLControl, []byte{0x3C}},
		{cmdVcomDataInterval, []byte{0x37}},
		{cmdTconSetting, []byte{0x22}},
	}
	for _, step := range steps {
		if err := d.command(step.cmd, step.data...); err != nil {
			return fmt.Errorf("panel setup command %#02x failed: %w", step.cmd, err)
		}
	}
	return nil
}

// pack quantizes the frame and packs two 4-bit colour codes per byte
func (d *Driver) pack(frame image.Image) []byte {
	w, h := d.bounds.Dx(), d.bounds.Dy()
	min := frame.Bounds().Min
	buf := make([]byte, 0, w*h/2)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x += 2 {
			left := byte(palette.Index(frame.At(min.X+x, min.Y+y)))
			right := byte(palette.Index(frame.At(min.X+x+1, min.Y+y)))
			buf = append(buf, left<<4|right)
		}
	}
	return buf
}

// command sends one command byte followed by its data bytes
func (d *Driver) command(cmd byte, data ...byte) error {
	if err := d.dc.Out(gpio.Low); err != nil {
		return err
	}
	if err := d.conn.Tx([]byte{cmd}, nil); err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	if err := d.dc.Out(gpio.High); err != nil {
		return err
	}
	// Large frame payloads must be chunked below the SPI transfer limit
	for off := 0; off < len(data); off += 4096 {
		end := off + 4096
		if end > len(data) {
			end = len(data)
		}
		if err := d.conn.Tx(data[off:end], nil); err != nil {
			return err
		}
	}
	return nil
}

// waitReady polls the busy line until the panel is idle
func (d *Driver) waitReady() error {
	deadline := time.Now().Add(busyTimeout)
	for d.busy.Read() == gpio.Low {
		if time.Now().After(deadline) {
			return fmt.Errorf("panel busy for more than %s", busyTimeout)
		}
		time.Sleep(10 * time.Millisecond)
	}
	return nil
}
