package platform

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/stianeikeland/go-rpio/v4"
	"lautenbacher.net/godac/config"
	"lautenbacher.net/godac/mcp48x1"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/pin"
)

// RpioPlatform talks to the BCM283x SPI0 controller through /dev/gpiomem
// and drives CS as a plain GPIO.
type RpioPlatform struct {
	*AbstractPlatform
	spiConn conn.Conn
	cs      *rpioPin
	mosi    *rpioPin
	sck     *rpioPin
}

func NewRpioPlatform(conf *config.Config) *RpioPlatform {
	return &RpioPlatform{
		AbstractPlatform: newAbstractPlatform(conf),
	}
}

func (p *RpioPlatform) Start() error {
	hw := p.config.Hardware

	slog.Info("Initialise GPIO and Spi...", "frequency", hw.SPI.Frequency)
	if err := rpio.Open(); err != nil {
		return fmt.Errorf("failed to open rpio: %w", err)
	}
	if err := rpio.SpiBegin(rpio.Spi0); err != nil {
		rpio.Close()
		return fmt.Errorf("failed to begin spi: %w", err)
	}
	rpio.SpiSpeed(hw.SPI.Frequency)
	// Mode 3: clock idles high, data sampled on the rising edge.
	rpio.SpiMode(1, 1)

	p.spiConn = p.guard(&rpioConn{})
	p.cs = newRpioPin(hw.Pins.CS)
	if err := p.cs.Out(gpio.High); err != nil {
		return err
	}
	p.mosi = newRpioPin(hw.Pins.MOSI)
	p.sck = newRpioPin(hw.Pins.SCK)

	p.setReady()
	return nil
}

func (p *RpioPlatform) Stop() {
	p.setInShutdown()

	if p.cs != nil {
		p.cs.Out(gpio.High)
	}
	rpio.SpiEnd(rpio.Spi0)
	if err := rpio.Close(); err != nil {
		slog.Error("Error closing rpio", "error", err)
	}
}

func (p *RpioPlatform) Conn() conn.Conn {
	return p.spiConn
}

func (p *RpioPlatform) ChipSelect() mcp48x1.PinOut {
	return p.cs
}

func (p *RpioPlatform) Pins() (mosi, sck pin.Pin) {
	return p.mosi, p.sck
}

// rpioConn adapts rpio's global SPI0 exchange to conn.Conn.
type rpioConn struct {
	mu  sync.Mutex
	buf []byte
}

func (c *rpioConn) String() string {
	return "rpio-spi0"
}

// Tx sends w and, when r is given, stores what was clocked back. w is never
// modified; SpiExchange works in place on a copy.
func (c *rpioConn) Tx(w, r []byte) error {
	if len(r) != 0 && len(r) != len(w) {
		return fmt.Errorf("rpio: read buffer length %d does not match write length %d", len(r), len(w))
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.buf = append(c.buf[:0], w...)
	rpio.SpiExchange(c.buf)
	copy(r, c.buf)
	return nil
}

func (c *rpioConn) Duplex() conn.Duplex {
	return conn.Full
}

// rpioPin exposes an rpio.Pin as an output pin with periph semantics.
type rpioPin struct {
	p  rpio.Pin
	nr int
}

func newRpioPin(nr int) *rpioPin {
	return &rpioPin{p: rpio.Pin(nr), nr: nr}
}

func (r *rpioPin) String() string {
	return r.Name()
}

func (r *rpioPin) Name() string {
	return fmt.Sprintf("GPIO%d", r.nr)
}

func (r *rpioPin) Number() int {
	return r.nr
}

func (r *rpioPin) Function() string {
	return "Out"
}

func (r *rpioPin) Func() pin.Func {
	return gpio.OUT
}

func (r *rpioPin) SupportedFuncs() []pin.Func {
	return []pin.Func{gpio.OUT}
}

func (r *rpioPin) SetFunc(f pin.Func) error {
	if f != gpio.OUT {
		return fmt.Errorf("%s: only %s is supported", r, gpio.OUT)
	}
	r.p.Output()
	return nil
}

func (r *rpioPin) Halt() error {
	return nil
}

func (r *rpioPin) Out(l gpio.Level) error {
	r.p.Output()
	if l == gpio.High {
		r.p.High()
	} else {
		r.p.Low()
	}
	return nil
}
