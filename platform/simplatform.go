package platform

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"lautenbacher.net/godac/config"
	"lautenbacher.net/godac/mcp48x1"
	"lautenbacher.net/godac/util"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/pin"
)

// Sample is the simulated chip's output after a command was latched.
type Sample struct {
	Word    uint16
	Command mcp48x1.Command
	Voltage float64
	At      time.Time
}

// SimPlatform replaces the bus with an in-memory MCP48x1. Optionally a
// DACViewer shows what the chip outputs.
type SimPlatform struct {
	*AbstractPlatform
	chip     *simChip
	spiConn  conn.Conn
	viewer   *DACViewer
	cancel   context.CancelFunc
	viewerWg sync.WaitGroup
}

func NewSimPlatform(conf *config.Config) *SimPlatform {
	return &SimPlatform{
		AbstractPlatform: newAbstractPlatform(conf),
		chip:             newSimChip(mcp48x1.Resolution(conf.DAC.Resolution)),
	}
}

// SetViewer attaches the terminal viewer. Without one the platform is ready
// as soon as it started.
func (s *SimPlatform) SetViewer(v *DACViewer) {
	s.viewer = v
}

// Samples publishes the latest latched output.
func (s *SimPlatform) Samples() *util.AtomicEvent[Sample] {
	return s.chip.samples
}

func (s *SimPlatform) Start() error {
	s.spiConn = s.guard(&simConn{chip: s.chip})
	if s.viewer == nil {
		s.setReady()
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.viewer.onFirstDraw = s.setReady

	s.viewerWg.Add(2)
	go func() {
		defer s.viewerWg.Done()
		s.viewer.Run()
	}()
	go func() {
		defer s.viewerWg.Done()
		// Redraws are paced; samples in between are coalesced by the event.
		for {
			sample, ok := s.chip.samples.Wait(ctx)
			if !ok {
				return
			}
			s.viewer.Update(sample)
			select {
			case <-ctx.Done():
				return
			case <-time.After(refreshInterval):
			}
		}
	}()
	return nil
}

func (s *SimPlatform) Stop() {
	s.setInShutdown()
	if s.viewer != nil {
		s.cancel()
		s.viewer.Stop()
		s.viewerWg.Wait()
	}
}

func (s *SimPlatform) Conn() conn.Conn {
	return s.spiConn
}

func (s *SimPlatform) ChipSelect() mcp48x1.PinOut {
	return &simCS{chip: s.chip}
}

func (s *SimPlatform) Pins() (mosi, sck pin.Pin) {
	return gpio.INVALID, gpio.INVALID
}

// simChip models the input shift register and output latch of the DAC.
// Bytes are only clocked in while CS is low; the command is latched on the
// rising CS edge if exactly 16 bits arrived.
type simChip struct {
	mu      sync.Mutex
	res     mcp48x1.Resolution
	cs      gpio.Level
	shift   []byte
	output  Sample
	samples *util.AtomicEvent[Sample]
}

func newSimChip(res mcp48x1.Resolution) *simChip {
	return &simChip{
		res:     res,
		cs:      gpio.High,
		samples: util.NewAtomicEvent[Sample](),
	}
}

func (c *simChip) clockIn(w []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cs == gpio.High {
		slog.Warn("Simulated DAC ignores transfer while CS is high", "bytes", len(w))
		return
	}
	c.shift = append(c.shift, w...)
}

func (c *simChip) selectChip(l gpio.Level) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rising := c.cs == gpio.Low && l == gpio.High
	c.cs = l
	if l == gpio.Low {
		c.shift = c.shift[:0]
		return
	}
	if rising {
		c.latch()
	}
}

// latch must be called with mu held.
func (c *simChip) latch() {
	if len(c.shift) != 2 {
		if len(c.shift) != 0 {
			slog.Warn("Simulated DAC drops incomplete command", "bits", 8*len(c.shift))
		}
		return
	}
	w := uint16(c.shift[0])<<8 | uint16(c.shift[1])
	cmd := mcp48x1.Decode(w, c.res)
	if cmd.Ignore {
		slog.Debug("Simulated DAC ignores command", "word", fmt.Sprintf("%#04x", w))
		return
	}
	c.output = Sample{
		Word:    w,
		Command: cmd,
		Voltage: cmd.Voltage(c.res),
		At:      time.Now(),
	}
	c.samples.Send(c.output)
}

// Output is the value currently latched by the simulated chip.
func (s *SimPlatform) Output() Sample {
	return s.chip.current()
}

func (c *simChip) current() Sample {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.output
}

type simConn struct {
	chip *simChip
}

func (s *simConn) String() string {
	return "sim-spi"
}

// Tx clocks w into the chip. The MCP48x1 has no data output, so r reads
// back as zeros.
func (s *simConn) Tx(w, r []byte) error {
	s.chip.clockIn(w)
	clear(r)
	return nil
}

func (s *simConn) Duplex() conn.Duplex {
	return conn.Half
}

type simCS struct {
	chip *simChip
}

func (p *simCS) String() string {
	return "SIM_CS"
}

func (p *simCS) Out(l gpio.Level) error {
	p.chip.selectChip(l)
	return nil
}
