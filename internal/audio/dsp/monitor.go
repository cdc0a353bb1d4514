package dsp

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/winramp/winramp-dsp/internal/config"
)

// Stats is a snapshot of the processing load measured by a Monitor.
type Stats struct {
	TotalSamples   int64
	Calls          int64
	TotalMS        float64
	AvgMS          float64
	MinMS          float64
	MaxMS          float64
	CPUPercent     float64
	// RealtimeFactor is processing time over audio time; below 1 the
	// chain keeps up with playback.
	RealtimeFactor float64
	Errors         int64
}

// Monitor accumulates chain timings. Record is cheap enough for the
// processing path; nothing is recorded while the monitor is stopped.
type Monitor struct {
	running atomic.Bool

	mu           sync.Mutex
	totalSamples int64
	calls        int64
	errors       int64
	total        time.Duration
	minTime      time.Duration
	maxTime      time.Duration
	audio        time.Duration
}

func NewMonitor() *Monitor {
	return &Monitor{}
}

// Start clears the counters and begins recording.
func (m *Monitor) Start() {
	m.Reset()
	m.running.Store(true)
}

func (m *Monitor) Stop()              { m.running.Store(false) }
func (m *Monitor) IsMonitoring() bool { return m.running.Load() }

func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalSamples, m.calls, m.errors = 0, 0, 0
	m.total, m.minTime, m.maxTime, m.audio = 0, 0, 0, 0
}

// Record adds one processed block of frames at rate that took elapsed.
func (m *Monitor) Record(frames, rate int, elapsed time.Duration) {
	if m == nil || !m.running.Load() || rate <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalSamples += int64(frames)
	m.calls++
	m.total += elapsed
	m.audio += time.Duration(frames) * time.Second / time.Duration(rate)
	if m.calls == 1 || elapsed < m.minTime {
		m.minTime = elapsed
	}
	if elapsed > m.maxTime {
		m.maxTime = elapsed
	}
}

func (m *Monitor) RecordError() {
	if m == nil || !m.running.Load() {
		return
	}
	m.mu.Lock()
	m.errors++
	m.mu.Unlock()
}

func (m *Monitor) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Stats{
		TotalSamples: m.totalSamples,
		Calls:        m.calls,
		TotalMS:      durationMS(m.total),
		MinMS:        durationMS(m.minTime),
		MaxMS:        durationMS(m.maxTime),
		Errors:       m.errors,
	}
	if m.calls > 0 {
		s.AvgMS = s.TotalMS / float64(m.calls)
	}
	if m.audio > 0 {
		s.RealtimeFactor = float64(m.total) / float64(m.audio)
		s.CPUPercent = s.RealtimeFactor * 100
	}
	return s
}

// Warnings compares the stats against the configured budget. CPU and
// latency only warn once they exceed 1.5 times their target.
func (m *Monitor) Warnings(cfg config.DSPConfig, latency time.Duration) []string {
	s := m.Stats()
	var warnings []string
	if cfg.TargetCPUUsage > 0 && s.CPUPercent > cfg.TargetCPUUsage*1.5 {
		warnings = append(warnings, fmt.Sprintf("CPU usage %.1f%% exceeds target %.1f%%",
			s.CPUPercent, cfg.TargetCPUUsage))
	}
	if ms := durationMS(latency); cfg.MaxLatencyMS > 0 && ms > cfg.MaxLatencyMS*1.5 {
		warnings = append(warnings, fmt.Sprintf("latency %.1f ms exceeds maximum %.1f ms",
			ms, cfg.MaxLatencyMS))
	}
	if s.Errors > 0 {
		warnings = append(warnings, fmt.Sprintf("%d processing errors", s.Errors))
	}
	return warnings
}

func durationMS(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
