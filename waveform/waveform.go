// Package waveform drives a DAC output with periodic signals.
package waveform

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/gammazero/deque"
	"lautenbacher.net/godac/config"
)

// Output is what a generator writes to. *mcp48x1.Dev satisfies it.
type Output interface {
	Put(code uint16) error
	PutVoltage(v float64) error
}

// Generator writes a signal to an Output until ctx is done. Run returns nil
// on cancellation and the first output error otherwise.
type Generator interface {
	Run(ctx context.Context, out Output) error
	String() string
}

// FromConfig builds the generator selected by cfg.Kind. cfg is expected to
// have been validated.
func FromConfig(cfg config.WaveformConfig) (Generator, error) {
	switch cfg.Kind {
	case config.KindConstant:
		return &Constant{Voltage: cfg.Constant.Voltage}, nil
	case config.KindSteps:
		return NewSteps(cfg.Steps.Voltages, cfg.Steps.Hold), nil
	case config.KindSawtooth:
		return &Sawtooth{MaxCode: cfg.Sawtooth.MaxCode, Interval: cfg.Sawtooth.Interval}, nil
	case config.KindSine:
		return &Sine{
			Low:            cfg.Sine.Low,
			High:           cfg.Sine.High,
			Frequency:      cfg.Sine.Frequency,
			SampleInterval: cfg.Sine.SampleInterval,
		}, nil
	default:
		return nil, fmt.Errorf("unknown waveform kind: %s", cfg.Kind)
	}
}

// wait blocks for one tick. It reports false when ctx is done.
func wait(ctx context.Context, tick <-chan time.Time) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case <-ctx.Done():
		return false
	case <-tick:
		return true
	}
}

// Constant sets a single voltage and holds it.
type Constant struct {
	Voltage float64
}

func (c *Constant) Run(ctx context.Context, out Output) error {
	if err := out.PutVoltage(c.Voltage); err != nil {
		return fmt.Errorf("constant %.3f V: %w", c.Voltage, err)
	}
	<-ctx.Done()
	return nil
}

func (c *Constant) String() string {
	return fmt.Sprintf("constant(%.3f V)", c.Voltage)
}

// Steps cycles through a list of voltages, holding each one for Hold.
type Steps struct {
	voltages *deque.Deque[float64]
	hold     time.Duration
}

func NewSteps(voltages []float64, hold time.Duration) *Steps {
	q := new(deque.Deque[float64])
	q.Grow(len(voltages))
	for _, v := range voltages {
		q.PushBack(v)
	}
	return &Steps{voltages: q, hold: hold}
}

func (s *Steps) Run(ctx context.Context, out Output) error {
	if s.voltages.Len() == 0 {
		<-ctx.Done()
		return nil
	}
	tick := time.NewTicker(s.hold)
	defer tick.Stop()
	for {
		v := s.voltages.Front()
		if err := out.PutVoltage(v); err != nil {
			return fmt.Errorf("step %.3f V: %w", v, err)
		}
		s.voltages.Rotate(1)
		if !wait(ctx, tick.C) {
			return nil
		}
	}
}

func (s *Steps) String() string {
	parts := make([]string, s.voltages.Len())
	for i := range s.voltages.Len() {
		parts[i] = fmt.Sprintf("%.3f", s.voltages.At(i))
	}
	return fmt.Sprintf("steps(%v V every %s)", parts, s.hold)
}

// Sawtooth ramps the raw code from 0 to MaxCode-1 and wraps around.
type Sawtooth struct {
	MaxCode  int
	Interval time.Duration
}

func (s *Sawtooth) Run(ctx context.Context, out Output) error {
	tick := time.NewTicker(s.Interval)
	defer tick.Stop()
	code := 0
	for {
		if err := out.Put(uint16(code)); err != nil {
			return fmt.Errorf("sawtooth code %d: %w", code, err)
		}
		code = (code + 1) % s.MaxCode
		if !wait(ctx, tick.C) {
			return nil
		}
	}
}

func (s *Sawtooth) String() string {
	return fmt.Sprintf("sawtooth(0..%d every %s)", s.MaxCode-1, s.Interval)
}

// Sine oscillates between Low and High volts at Frequency Hz, sampled every
// SampleInterval.
type Sine struct {
	Low            float64
	High           float64
	Frequency      float64
	SampleInterval time.Duration
}

// At is the voltage t into the period. The signal starts at Low.
func (s *Sine) At(t time.Duration) float64 {
	phase := 2 * math.Pi * s.Frequency * t.Seconds()
	return s.Low + (s.High-s.Low)*(1-math.Cos(phase))/2
}

func (s *Sine) Run(ctx context.Context, out Output) error {
	tick := time.NewTicker(s.SampleInterval)
	defer tick.Stop()
	// The phase is derived from the sample count so missed ticks stretch the
	// signal instead of skipping samples.
	for n := 0; ; n++ {
		v := s.At(time.Duration(n) * s.SampleInterval)
		if err := out.PutVoltage(v); err != nil {
			return fmt.Errorf("sine sample %d: %w", n, err)
		}
		if !wait(ctx, tick.C) {
			return nil
		}
	}
}

func (s *Sine) String() string {
	return fmt.Sprintf("sine(%.3f..%.3f V at %g Hz, sampled every %s)", s.Low, s.High, s.Frequency, s.SampleInterval)
}
