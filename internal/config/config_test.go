package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dsp.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 4, cfg.DSP.MaxThreads)
	assert.True(t, cfg.DSP.EnablePerformanceMonitoring)
	assert.False(t, cfg.DSP.EnableMultithreading)
	assert.Equal(t, 16*1024*1024, cfg.DSP.MemoryPoolSize)
	assert.Equal(t, 10.0, cfg.DSP.TargetCPUUsage)
	assert.Equal(t, 20.0, cfg.DSP.MaxLatencyMS)
	assert.Equal(t, 16, cfg.DSP.MaxEffects)

	assert.Equal(t, 1024, cfg.Audio.BlockSize)
	assert.Equal(t, "room", cfg.Reverb.Type)
	assert.Equal(t, 0.7, cfg.Reverb.Diffusion)
	assert.Equal(t, "flat", cfg.Equalizer.Preset)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.DSP.MaxEffects)
}

func TestLoad_OverridesFromFile(t *testing.T) {
	path := writeConfig(t, `
audio:
  block_size: 512
  sample_rate: 48000
dsp:
  enable_multithreading: true
  max_threads: 2
  max_effects: 8
reverb:
  enabled: true
  type: hall
  wet_level: 0.45
equalizer:
  preset: rock
  bands: [1, 2, 3]
logging:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 512, cfg.Audio.BlockSize)
	assert.Equal(t, 48000, cfg.Audio.SampleRate)
	assert.True(t, cfg.DSP.EnableMultithreading)
	assert.Equal(t, 2, cfg.DSP.MaxThreads)
	assert.Equal(t, 8, cfg.DSP.MaxEffects)
	assert.Equal(t, "hall", cfg.Reverb.Type)
	assert.Equal(t, 0.45, cfg.Reverb.WetLevel)
	assert.Equal(t, 1.0, cfg.Reverb.DryLevel)
	assert.Equal(t, []float64{1, 2, 3}, cfg.Equalizer.Bands)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, path, cfg.ConfigFile())
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"block size", "audio:\n  block_size: 1\n"},
		{"channels", "audio:\n  channels: 12\n"},
		{"threads", "dsp:\n  max_threads: 0\n"},
		{"cpu target", "dsp:\n  target_cpu_usage: 150\n"},
		{"reverb type", "reverb:\n  type: spring\n"},
		{"replay gain mode", "replay_gain:\n  mode: loud\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestLoad_MalformedYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "dsp: [unterminated\n"))
	assert.Error(t, err)
}

func TestConfig_SetAndSave(t *testing.T) {
	path := writeConfig(t, "dsp:\n  max_effects: 4\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	require.NoError(t, cfg.Set("dsp.max_effects", 6))
	assert.Equal(t, 6, cfg.DSPSettings().MaxEffects)

	out := filepath.Join(t.TempDir(), "nested", "saved.yaml")
	require.NoError(t, cfg.SaveAs(out))

	reloaded, err := Load(out)
	require.NoError(t, err)
	assert.Equal(t, 6, reloaded.DSP.MaxEffects)
}
