package platform

import (
	"fmt"
	"os"

	"lautenbacher.net/godac/config"
	"lautenbacher.net/godac/mcp48x1"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/pin"
)

// Platform hides where the DAC lives: a real SPI bus driven through periph or
// go-rpio, or the in-memory simulation with its terminal viewer.
type Platform interface {
	// Start opens the bus and claims the chip-select pin.
	Start() error

	// Stop releases all platform resources. The connection refuses further
	// transfers once Stop has begun.
	Stop()

	// Conn is the SPI connection the DAC is attached to.
	Conn() conn.Conn

	// ChipSelect is the pin wired to the DAC's CS input.
	ChipSelect() mcp48x1.PinOut

	// Pins reports the MOSI and SCK pins for diagnostics.
	Pins() (mosi, sck pin.Pin)

	// Ready is closed once the platform can take transfers.
	Ready() <-chan bool
}

// New selects the backend named in conf.Hardware.Backend. ossignal receives
// os.Interrupt and syscall.SIGHUP from the simulation viewer keys.
func New(conf *config.Config, ossignal chan os.Signal) (Platform, error) {
	switch conf.Hardware.Backend {
	case config.BackendPeriph:
		return NewPeriphPlatform(conf), nil
	case config.BackendRpio:
		return NewRpioPlatform(conf), nil
	case config.BackendSim:
		p := NewSimPlatform(conf)
		p.SetViewer(NewDACViewer(conf.DAC, ossignal))
		return p, nil
	default:
		return nil, fmt.Errorf("unknown hardware backend: %s", conf.Hardware.Backend)
	}
}
