package platform

import (
	"fmt"
	"log/slog"

	"lautenbacher.net/godac/config"
	"lautenbacher.net/godac/mcp48x1"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/pin"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// PeriphPlatform drives the DAC through the Linux spidev interface.
type PeriphPlatform struct {
	*AbstractPlatform
	spiPort spi.PortCloser
	spiConn conn.Conn
	cs      gpio.PinIO
	mosi    pin.Pin
	sck     pin.Pin
}

func NewPeriphPlatform(conf *config.Config) *PeriphPlatform {
	return &PeriphPlatform{
		AbstractPlatform: newAbstractPlatform(conf),
		mosi:             gpio.INVALID,
		sck:              gpio.INVALID,
	}
}

func (s *PeriphPlatform) Start() error {
	hw := s.config.Hardware

	slog.Info("Initialise GPIO and Spi...", "port", hw.SPI.Port, "frequency", hw.SPI.Frequency)
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("failed to init periph: %w", err)
	}

	var err error
	s.spiPort, err = spireg.Open(hw.SPI.Port)
	if err != nil {
		return fmt.Errorf("failed to open spi: %w", err)
	}

	// Each 16 bit command goes out as two 8 bit words while CS is held low.
	c, err := s.spiPort.Connect(physic.Frequency(hw.SPI.Frequency)*physic.Hertz, mcp48x1.SPIMode, 8)
	if err != nil {
		s.spiPort.Close()
		return fmt.Errorf("failed to connect to spi device: %w", err)
	}
	s.spiConn = s.guard(c)

	s.cs = gpioreg.ByName(fmt.Sprintf("GPIO%d", hw.Pins.CS))
	if s.cs == nil {
		s.spiPort.Close()
		return fmt.Errorf("failed to find pin %d", hw.Pins.CS)
	}
	if err := s.cs.Out(gpio.High); err != nil {
		s.spiPort.Close()
		return fmt.Errorf("failed to set pin %d to output: %w", hw.Pins.CS, err)
	}

	// MOSI and SCK belong to the SPI controller. They are only looked up so
	// the device can report them.
	if p := gpioreg.ByName(fmt.Sprintf("GPIO%d", hw.Pins.MOSI)); p != nil {
		s.mosi = p
	}
	if p := gpioreg.ByName(fmt.Sprintf("GPIO%d", hw.Pins.SCK)); p != nil {
		s.sck = p
	}

	s.setReady()
	return nil
}

func (s *PeriphPlatform) Stop() {
	s.setInShutdown()

	if s.spiPort != nil {
		if err := s.spiPort.Close(); err != nil {
			slog.Error("Error closing spi port", "error", err)
		}
		s.spiPort = nil
	}
	if s.cs != nil {
		if err := s.cs.Halt(); err != nil {
			slog.Error("Error halting chip select pin", "pin", s.cs, "error", err)
		}
		s.cs = nil
	}
}

func (s *PeriphPlatform) Conn() conn.Conn {
	return s.spiConn
}

func (s *PeriphPlatform) ChipSelect() mcp48x1.PinOut {
	return s.cs
}

func (s *PeriphPlatform) Pins() (mosi, sck pin.Pin) {
	return s.mosi, s.sck
}
