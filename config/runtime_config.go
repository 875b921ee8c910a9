package config

import "errors"

// RuntimeConfig defines the subset of the configuration that can be
// safely modified at runtime through the web API. It excludes the
// hardware wiring and logging settings.
type RuntimeConfig struct {
	DAC      DACConfig      `yaml:"DAC" json:"DAC"`
	Waveform WaveformConfig `yaml:"Waveform" json:"Waveform"`
}

// Validate checks the DAC settings and the waveform against them.
func (r RuntimeConfig) Validate() error {
	errs := r.DAC.validate()
	if len(errs) == 0 {
		errs = r.Waveform.validate(r.DAC)
	}
	return errors.Join(errs...)
}
