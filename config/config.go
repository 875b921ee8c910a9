package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"golang.org/x/exp/maps"
	"gopkg.in/yaml.v3"
)

const CONFILE = "godac.yml"

// Backend names accepted in Hardware.Backend.
const (
	BackendPeriph = "periph"
	BackendRpio   = "rpio"
	BackendSim    = "sim"
)

// Waveform kinds accepted in Waveform.Kind.
const (
	KindConstant = "constant"
	KindSteps    = "steps"
	KindSawtooth = "sawtooth"
	KindSine     = "sine"
)

const (
	vRef         = 2.048
	maxFrequency = 20_000_000
	spiMode      = 3
)

type Config struct {
	Hardware HardwareConfig `yaml:"Hardware"`
	DAC      DACConfig      `yaml:"DAC" json:"DAC"`
	Waveform WaveformConfig `yaml:"Waveform" json:"Waveform"`
	Web      WebConfig      `yaml:"Web"`
	Logging  LoggingConfig  `yaml:"Logging"`
}

type HardwareConfig struct {
	Backend string        `yaml:"Backend"`
	SPI     SPIConfig     `yaml:"SPI"`
	Pins    PinsConfig    `yaml:"Pins"`
	CSDelay time.Duration `yaml:"CSDelay"`
}

type SPIConfig struct {
	// Port is the periph port name, e.g. /dev/spidev0.0. Empty picks the
	// first available port. The rpio backend always uses SPI0.
	Port      string `yaml:"Port"`
	Frequency int    `yaml:"Frequency"`
	Mode      int    `yaml:"Mode"`
}

// PinsConfig holds BCM GPIO numbers.
type PinsConfig struct {
	CS   int `yaml:"CS"`
	MOSI int `yaml:"MOSI"`
	SCK  int `yaml:"SCK"`
}

type DACConfig struct {
	Resolution int `yaml:"Resolution" json:"Resolution"`
	Gain       int `yaml:"Gain" json:"Gain"`
}

type WaveformConfig struct {
	Kind     string         `yaml:"Kind" json:"Kind"`
	Constant ConstantConfig `yaml:"Constant" json:"Constant"`
	Steps    StepsConfig    `yaml:"Steps" json:"Steps"`
	Sawtooth SawtoothConfig `yaml:"Sawtooth" json:"Sawtooth"`
	Sine     SineConfig     `yaml:"Sine" json:"Sine"`
}

type ConstantConfig struct {
	Voltage float64 `yaml:"Voltage" json:"Voltage"`
}

type StepsConfig struct {
	Voltages []float64    `yaml:"Voltages" json:"Voltages"`
	Hold     time.Duration `yaml:"Hold" json:"Hold"`
}

type SawtoothConfig struct {
	MaxCode  int           `yaml:"MaxCode" json:"MaxCode"`
	Interval time.Duration `yaml:"Interval" json:"Interval"`
}

type SineConfig struct {
	Low            float64       `yaml:"Low" json:"Low"`
	High           float64       `yaml:"High" json:"High"`
	Frequency      float64       `yaml:"Frequency" json:"Frequency"`
	SampleInterval time.Duration `yaml:"SampleInterval" json:"SampleInterval"`
}

type WebConfig struct {
	Enabled bool   `yaml:"Enabled"`
	Addr    string `yaml:"Addr"`
}

type LoggingConfig struct {
	Level  string `yaml:"Level"`
	Format string `yaml:"Format"`
	File   string `yaml:"File"`
}

// ReadConfig decodes and validates the YAML file cfile.
func ReadConfig(cfile string) (Config, error) {
	conf, err := DecodeConfig(cfile)
	if err != nil {
		return conf, err
	}
	if err := conf.Validate(); err != nil {
		return conf, fmt.Errorf("invalid config file %s: %w", cfile, err)
	}
	return conf, nil
}

// DecodeConfig decodes cfile without validating it, for callers that adjust
// settings before calling Validate.
func DecodeConfig(cfile string) (Config, error) {
	var conf Config
	f, err := os.Open(cfile)
	if err != nil {
		return conf, fmt.Errorf("can't open config file %s: %w", cfile, err)
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)
	if err := decoder.Decode(&conf); err != nil {
		return conf, fmt.Errorf("can't decode config file %s: %w", cfile, err)
	}
	return conf, nil
}

// Validate checks the configuration as a whole. All problems are reported
// together.
func (c *Config) Validate() error {
	var errs []error

	switch c.Hardware.Backend {
	case BackendPeriph, BackendRpio, BackendSim:
	default:
		errs = append(errs, fmt.Errorf("Hardware.Backend %q must be one of %s, %s, %s",
			c.Hardware.Backend, BackendPeriph, BackendRpio, BackendSim))
	}
	if c.Hardware.SPI.Frequency <= 0 || c.Hardware.SPI.Frequency > maxFrequency {
		errs = append(errs, fmt.Errorf("Hardware.SPI.Frequency %d must be between 1 and %d", c.Hardware.SPI.Frequency, maxFrequency))
	}
	if c.Hardware.SPI.Mode != spiMode {
		errs = append(errs, fmt.Errorf("Hardware.SPI.Mode %d is not supported, the MCP48x1 needs mode %d", c.Hardware.SPI.Mode, spiMode))
	}
	if c.Hardware.CSDelay < 0 {
		errs = append(errs, errors.New("Hardware.CSDelay must not be negative"))
	}
	pins := map[string]int{"CS": c.Hardware.Pins.CS, "MOSI": c.Hardware.Pins.MOSI, "SCK": c.Hardware.Pins.SCK}
	names := maps.Keys(pins)
	slices.Sort(names)
	for _, name := range names {
		if p := pins[name]; p < 0 || p > 53 {
			errs = append(errs, fmt.Errorf("Hardware.Pins.%s %d must be between 0 and 53", name, p))
		}
	}

	if err := c.Runtime().Validate(); err != nil {
		errs = append(errs, err)
	}

	if c.Web.Enabled && c.Web.Addr == "" {
		errs = append(errs, errors.New("Web.Addr must be set when Web is enabled"))
	}

	switch strings.ToUpper(c.Logging.Level) {
	case "", "DEBUG", "INFO", "WARN", "ERROR":
	default:
		errs = append(errs, fmt.Errorf("Logging.Level %q is unknown", c.Logging.Level))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("Logging.Format %q must be text or json", c.Logging.Format))
	}

	return errors.Join(errs...)
}

// Runtime returns the runtime editable part of c.
func (c *Config) Runtime() RuntimeConfig {
	return RuntimeConfig{DAC: c.DAC, Waveform: c.Waveform}
}

// Merge replaces the runtime editable part of c with r.
func (c *Config) Merge(r RuntimeConfig) {
	c.DAC = r.DAC
	c.Waveform = r.Waveform
}

// FullScale is the largest voltage the configured DAC can represent.
func (d DACConfig) FullScale() float64 {
	return vRef * float64(d.Gain)
}

func (d DACConfig) validate() []error {
	var errs []error
	switch d.Resolution {
	case 8, 10, 12:
	default:
		errs = append(errs, fmt.Errorf("DAC.Resolution %d must be 8, 10 or 12", d.Resolution))
	}
	if d.Gain != 1 && d.Gain != 2 {
		errs = append(errs, fmt.Errorf("DAC.Gain %d must be 1 or 2", d.Gain))
	}
	return errs
}

func (w WaveformConfig) validate(d DACConfig) []error {
	var errs []error
	fullScale := d.FullScale()
	checkVoltage := func(name string, v float64) {
		if v < 0 || v >= fullScale {
			errs = append(errs, fmt.Errorf("%s %.3f must be between 0 and %.3f", name, v, fullScale))
		}
	}

	switch w.Kind {
	case KindConstant:
		checkVoltage("Waveform.Constant.Voltage", w.Constant.Voltage)
	case KindSteps:
		if len(w.Steps.Voltages) == 0 {
			errs = append(errs, errors.New("Waveform.Steps.Voltages must not be empty"))
		}
		for i, v := range w.Steps.Voltages {
			checkVoltage(fmt.Sprintf("Waveform.Steps.Voltages[%d]", i), v)
		}
		if w.Steps.Hold <= 0 {
			errs = append(errs, errors.New("Waveform.Steps.Hold must be positive"))
		}
	case KindSawtooth:
		maxCode := 1 << d.Resolution
		if w.Sawtooth.MaxCode < 1 || w.Sawtooth.MaxCode > maxCode {
			errs = append(errs, fmt.Errorf("Waveform.Sawtooth.MaxCode %d must be between 1 and %d", w.Sawtooth.MaxCode, maxCode))
		}
		if w.Sawtooth.Interval <= 0 {
			errs = append(errs, errors.New("Waveform.Sawtooth.Interval must be positive"))
		}
	case KindSine:
		checkVoltage("Waveform.Sine.Low", w.Sine.Low)
		checkVoltage("Waveform.Sine.High", w.Sine.High)
		if w.Sine.Low > w.Sine.High {
			errs = append(errs, errors.New("Waveform.Sine.Low must not be above Waveform.Sine.High"))
		}
		if w.Sine.Frequency <= 0 {
			errs = append(errs, errors.New("Waveform.Sine.Frequency must be positive"))
		}
		if w.Sine.SampleInterval <= 0 {
			errs = append(errs, errors.New("Waveform.Sine.SampleInterval must be positive"))
		}
	default:
		errs = append(errs, fmt.Errorf("Waveform.Kind %q must be one of %s, %s, %s, %s",
			w.Kind, KindConstant, KindSteps, KindSawtooth, KindSine))
	}
	return errs
}
