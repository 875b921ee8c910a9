// Package mcp48x1 drives the Microchip MCP4801/MCP4811/MCP4821 single channel
// SPI digital to analog converters.
//
// The chip is write-only. Every output request becomes one 16-bit command
// word clocked out MSB first while the chip-select line is held low:
//
//	15     write enable, 0 = write, 1 = ignore
//	14     unused
//	13     gain, 1 = 1x, 0 = 2x
//	12     power, 1 = active, 0 = shutdown
//	11-0   data, left aligned for the 8 and 10 bit variants
//
// The driver does not open or configure the SPI port. Connect it in mode 3
// (CPOL=1, CPHA=1), MSB first, at 20MHz or less before calling New.
//
// # Datasheet
//
// https://ww1.microchip.com/downloads/en/DeviceDoc/22244B.pdf
package mcp48x1

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/pin"
	"periph.io/x/conn/v3/spi"
)

// Resolution is the number of data bits of the chip variant.
type Resolution uint8

const (
	Resolution8  Resolution = 8  // MCP4801
	Resolution10 Resolution = 10 // MCP4811
	Resolution12 Resolution = 12 // MCP4821
)

func (r Resolution) String() string {
	switch r {
	case Resolution8:
		return "MCP4801"
	case Resolution10:
		return "MCP4811"
	case Resolution12:
		return "MCP4821"
	}
	return fmt.Sprintf("Resolution(%d)", uint8(r))
}

// Gain selects the output amplifier gain.
type Gain uint8

const (
	Gain1x Gain = 1
	Gain2x Gain = 2
)

func (g Gain) String() string {
	return fmt.Sprintf("%dx", uint8(g))
}

const (
	// VRef is the internal voltage reference.
	VRef = 2.048

	// SPIMode is the clock polarity and phase the chip samples on.
	SPIMode = spi.Mode3
	// MaxFrequency is the highest SCK rate in the datasheet.
	MaxFrequency = 20 * physic.MegaHertz
	// WordBits is the length of a command frame.
	WordBits = 16

	cmdWrite   uint16 = 0x0000
	ignoreBit  uint16 = 1 << 15
	gain1xBit  uint16 = 1 << 13
	activeBit  uint16 = 1 << 12
	dataMask12 uint16 = 0x0fff
)

var errInvalidResolution = errors.New("mcp48x1: invalid resolution")

// layout is how a resolution packs its code into the data field and how a
// voltage scales to a code (2^n / VRef).
type layout struct {
	mask  uint16
	shift uint
	scale float64
}

var layouts = map[Resolution]layout{
	Resolution8:  {mask: 0x00ff, shift: 4, scale: 125.0},
	Resolution10: {mask: 0x03ff, shift: 2, scale: 500.0},
	Resolution12: {mask: 0x0fff, shift: 0, scale: 2000.0},
}

// PinOut is the chip-select line. Any periph gpio.PinOut satisfies it.
type PinOut interface {
	String() string
	Out(l gpio.Level) error
}

// Opts holds the configuration of a device.
type Opts struct {
	Resolution Resolution
	// MOSI and SCK are kept for documentation only. The SPI port owns them.
	MOSI pin.Pin
	SCK  pin.Pin
	// CSDelay is waited after asserting and before releasing CS. Zero means
	// no delay, which meets the datasheet timing on a Raspberry Pi.
	CSDelay time.Duration
}

// Dev is a handle to one MCP48x1 chip.
//
// Dev is not safe for concurrent use. Devices sharing a bus must be
// serialized by the caller.
type Dev struct {
	c       conn.Conn
	cs      PinOut
	mosi    pin.Pin
	sck     pin.Pin
	res     Resolution
	lay     layout
	csDelay time.Duration
	gain    Gain
	gainBit uint16
	gainVal float64
	buf     [WordBits / 8]byte
}

// New returns a handle to the chip behind c and cs. The gain defaults to 1x
// and the chip-select line is driven high.
func New(c conn.Conn, cs PinOut, opts *Opts) (*Dev, error) {
	lay, ok := layouts[opts.Resolution]
	if !ok {
		return nil, errInvalidResolution
	}
	d := &Dev{
		c:       c,
		cs:      cs,
		mosi:    opts.MOSI,
		sck:     opts.SCK,
		res:     opts.Resolution,
		lay:     lay,
		csDelay: opts.CSDelay,
	}
	d.SetGain(Gain1x)
	if err := d.cs.Out(gpio.High); err != nil {
		return nil, d.wrap(err)
	}
	return d, nil
}

func (d *Dev) String() string {
	return fmt.Sprintf("%s{%s, cs=%s}", d.res, d.c, d.cs)
}

// Resolution returns the resolution the device was created with.
func (d *Dev) Resolution() Resolution {
	return d.res
}

// Gain returns the current gain.
func (d *Dev) Gain() Gain {
	return d.gain
}

// Pins returns the MOSI and SCK pins passed in Opts, if any.
func (d *Dev) Pins() (mosi, sck pin.Pin) {
	return d.mosi, d.sck
}

// FullScale is the output voltage of the largest code at the current gain.
func (d *Dev) FullScale() float64 {
	return VRef * d.gainVal * float64(d.lay.mask) / float64(d.lay.mask+1)
}

// SetGain sets the gain used by the next Put or PutVoltage. Unknown values
// are ignored.
func (d *Dev) SetGain(g Gain) {
	switch g {
	case Gain1x:
		d.gain, d.gainBit, d.gainVal = g, gain1xBit, 1.0
	case Gain2x:
		d.gain, d.gainBit, d.gainVal = g, 0, 2.0
	}
}

// Word returns the command word Put sends for code.
func (d *Dev) Word(code uint16) uint16 {
	return cmdWrite | d.gainBit | activeBit | d.data(code)
}

// Code converts a voltage at the current gain into an input code. The result
// is truncated, not rounded, and not clamped. Put masks it afterwards so
// values out of range wrap.
func (d *Dev) Code(v float64) uint16 {
	return uint16(int64(v / d.gainVal * d.lay.scale))
}

// Put writes the raw input code to the DAC.
func (d *Dev) Put(code uint16) error {
	return d.send(d.Word(code))
}

// PutVoltage converts v to a code and writes it.
func (d *Dev) PutVoltage(v float64) error {
	return d.Put(d.Code(v))
}

// Shutdown powers the output stage down. The next Put powers it up again.
func (d *Dev) Shutdown() error {
	return d.send(cmdWrite | d.gainBit)
}

func (d *Dev) data(code uint16) uint16 {
	return (code & d.lay.mask) << d.lay.shift
}

// send clocks w out between a CS high-low-high cycle.
func (d *Dev) send(w uint16) error {
	binary.BigEndian.PutUint16(d.buf[:], w)
	if err := d.cs.Out(gpio.Low); err != nil {
		return d.wrap(err)
	}
	d.wait()
	err := d.c.Tx(d.buf[:], nil)
	d.wait()
	if err2 := d.cs.Out(gpio.High); err == nil {
		err = err2
	}
	if err != nil {
		return d.wrap(err)
	}
	return nil
}

// sleep is replaced in tests.
var sleep = time.Sleep

func (d *Dev) wait() {
	if d.csDelay > 0 {
		sleep(d.csDelay)
	}
}

func (d *Dev) wrap(err error) error {
	return fmt.Errorf("mcp48x1: %w", err)
}

// Command is a decoded command word as the chip's input latch sees it.
type Command struct {
	Ignore bool
	Gain   Gain
	Active bool
	// Code is the input code, already shifted down for 8 and 10 bit parts.
	Code uint16
}

// Voltage is the output the command produces. Shutdown and ignored commands
// produce 0.
func (c Command) Voltage(r Resolution) float64 {
	if c.Ignore || !c.Active {
		return 0
	}
	return VRef * float64(c.Gain) * float64(c.Code) / float64(uint32(1)<<r)
}

// Decode interprets w the way a chip of resolution r does. Data bits below
// the resolution are discarded.
func Decode(w uint16, r Resolution) Command {
	lay, ok := layouts[r]
	if !ok {
		lay = layouts[Resolution12]
	}
	c := Command{
		Ignore: w&ignoreBit != 0,
		Gain:   Gain2x,
		Active: w&activeBit != 0,
		Code:   (w & dataMask12) >> lay.shift,
	}
	if w&gain1xBit != 0 {
		c.Gain = Gain1x
	}
	return c
}
