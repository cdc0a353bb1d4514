package dsp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/winramp/winramp-dsp/internal/config"
)

func TestMonitor_RealtimeFactor(t *testing.T) {
	tests := []struct {
		name    string
		elapsed time.Duration
		want    float64
	}{
		{"faster than real time", 10 * time.Millisecond, 0.01},
		{"exactly real time", time.Second, 1},
		{"slower than real time", 2 * time.Second, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMonitor()
			m.Start()
			// One second of audio.
			m.Record(44100, 44100, tt.elapsed)
			s := m.Stats()
			assert.InDelta(t, tt.want, s.RealtimeFactor, 1e-9)
			assert.InDelta(t, tt.want*100, s.CPUPercent, 1e-9)
		})
	}

	assert.Zero(t, NewMonitor().Stats().RealtimeFactor)
}

func TestMonitor_Stats(t *testing.T) {
	m := NewMonitor()
	m.Record(1024, 44100, time.Millisecond)
	assert.Zero(t, m.Stats().Calls, "a stopped monitor records nothing")

	m.Start()
	require.True(t, m.IsMonitoring())
	// 4410 frames at 44.1 kHz is 100 ms of audio.
	m.Record(2205, 44100, 2*time.Millisecond)
	m.Record(2205, 44100, 8*time.Millisecond)
	m.RecordError()

	s := m.Stats()
	assert.Equal(t, int64(4410), s.TotalSamples)
	assert.Equal(t, int64(2), s.Calls)
	assert.InDelta(t, 10, s.TotalMS, 1e-9)
	assert.InDelta(t, 5, s.AvgMS, 1e-9)
	assert.InDelta(t, 2, s.MinMS, 1e-9)
	assert.InDelta(t, 8, s.MaxMS, 1e-9)
	assert.InDelta(t, 10, s.CPUPercent, 1e-9)
	assert.InDelta(t, 0.1, s.RealtimeFactor, 1e-9)
	assert.Equal(t, int64(1), s.Errors)

	m.Stop()
	m.Record(2205, 44100, time.Second)
	assert.Equal(t, int64(2), m.Stats().Calls)

	m.Start()
	assert.Zero(t, m.Stats().Calls, "start clears the counters")
}

func TestMonitor_NilIsSafe(t *testing.T) {
	var m *Monitor
	assert.NotPanics(t, func() {
		m.Record(1, 44100, time.Millisecond)
		m.RecordError()
	})
}

func TestMonitor_Warnings(t *testing.T) {
	cfg := config.DSPConfig{TargetCPUUsage: 10, MaxLatencyMS: 20}

	tests := []struct {
		name    string
		elapsed time.Duration
		latency time.Duration
		errors  int
		want    []string
	}{
		{"within budget", 10 * time.Millisecond, 20 * time.Millisecond, 0, nil},
		{"cpu under the margin", 14 * time.Millisecond, 0, 0, nil},
		{"cpu over", 20 * time.Millisecond, 0, 0, []string{"CPU usage 20.0% exceeds target 10.0%"}},
		{"latency over", 0, 40 * time.Millisecond, 0, []string{"latency 40.0 ms exceeds maximum 20.0 ms"}},
		{"errors", 0, 0, 2, []string{"2 processing errors"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMonitor()
			m.Start()
			m.Record(4410, 44100, tt.elapsed)
			for i := 0; i < tt.errors; i++ {
				m.RecordError()
			}
			assert.Equal(t, tt.want, m.Warnings(cfg, tt.latency))
		})
	}
}
