package config

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getValidRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		DAC: DACConfig{Resolution: 12, Gain: 2},
		Waveform: WaveformConfig{
			Kind:     KindSteps,
			Constant: ConstantConfig{Voltage: 1.0},
			Steps:    StepsConfig{Voltages: []float64{0, 1.65, 3.3}, Hold: 4 * time.Second},
			Sawtooth: SawtoothConfig{MaxCode: 3300, Interval: 50 * time.Microsecond},
			Sine:     SineConfig{Low: 0, High: 3.3, Frequency: 1, SampleInterval: time.Millisecond},
		},
	}
}

func TestConfigHandler_Get(t *testing.T) {
	configFile := createConfigFile(t, getBaseConfig())
	handler := ConfigHandler(configFile)

	req := httptest.NewRequest(http.MethodGet, "/api/config", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var got RuntimeConfig
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, getValidRuntimeConfig(), got)
}

func TestConfigHandler_MethodNotAllowed(t *testing.T) {
	handler := ConfigHandler(createConfigFile(t, getBaseConfig()))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/config", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestConfigHandler_SetValidation(t *testing.T) {
	tests := []struct {
		name         string
		payload      RuntimeConfig
		wantStatus   int
		wantErrorMsg string
		shouldModify bool
	}{
		{
			name: "Valid Update",
			payload: func() RuntimeConfig {
				c := getValidRuntimeConfig()
				c.Waveform.Kind = KindSawtooth
				c.Waveform.Sawtooth.MaxCode = 4096
				return c
			}(),
			wantStatus:   http.StatusOK,
			shouldModify: true,
		},
		{
			name: "Voltage above full scale",
			payload: func() RuntimeConfig {
				c := getValidRuntimeConfig()
				c.DAC.Gain = 1
				return c
			}(),
			wantStatus:   http.StatusBadRequest,
			wantErrorMsg: "must be between 0 and 2.048",
		},
		{
			name: "Resolution change",
			payload: func() RuntimeConfig {
				c := getValidRuntimeConfig()
				c.DAC.Resolution = 8
				return c
			}(),
			wantStatus:   http.StatusBadRequest,
			wantErrorMsg: "can't be changed at runtime",
		},
		{
			name: "Unknown kind",
			payload: func() RuntimeConfig {
				c := getValidRuntimeConfig()
				c.Waveform.Kind = "noise"
				return c
			}(),
			wantStatus:   http.StatusBadRequest,
			wantErrorMsg: "Waveform.Kind \"noise\"",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configFile := createConfigFile(t, getBaseConfig())
			handler := ConfigHandler(configFile)

			body, _ := json.Marshal(tt.payload)
			req := httptest.NewRequest(http.MethodPost, "/api/config", bytes.NewBuffer(body))
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantErrorMsg != "" {
				assert.Contains(t, w.Body.String(), tt.wantErrorMsg)
			}

			currentConfig, err := ReadConfig(configFile)
			require.NoError(t, err)
			if tt.shouldModify {
				assert.Equal(t, tt.payload, currentConfig.Runtime())
				assert.Equal(t, BackendSim, currentConfig.Hardware.Backend, "hardware settings must survive the update")
				assert.Equal(t, "/tmp/godac.log", currentConfig.Logging.File)
			} else {
				assert.Equal(t, getValidRuntimeConfig(), currentConfig.Runtime(), "file must not change")
			}
		})
	}
}

func TestConfigHandler_InvalidBody(t *testing.T) {
	handler := ConfigHandler(createConfigFile(t, getBaseConfig()))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/config", bytes.NewBufferString("{")))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid request body")
}
