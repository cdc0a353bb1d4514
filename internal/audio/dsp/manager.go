package dsp

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/winramp/winramp-dsp/internal/audio/chunk"
	"github.com/winramp/winramp-dsp/internal/audio/dsp/preset"
	"github.com/winramp/winramp-dsp/internal/config"
	"github.com/winramp/winramp-dsp/internal/domain"
	"github.com/winramp/winramp-dsp/internal/logger"
)

// Manager owns a chain together with its monitor, worker pool and preset
// store. All methods are safe for concurrent use. ProcessChain takes no
// lock: chain edits and config changes publish new state that the next
// chunk picks up. ProcessChain itself is meant for a single audio
// goroutine.
type Manager struct {
	mu      sync.Mutex // guards cfg and pool
	cfg     config.DSPConfig
	chain   *Chain
	monitor *Monitor
	pool    *workerPool
	presets *preset.Store
	log     *logger.Logger
	closed  atomic.Bool
}

// NewManager builds a manager from ctx. A nil ctx uses DefaultContext.
func NewManager(ctx *Context) *Manager {
	if ctx == nil {
		ctx = DefaultContext()
	}
	log := ctx.logger().With(logger.String("component", "dsp"))
	m := &Manager{
		cfg:     ctx.Config,
		chain:   NewChain(log, ctx.Config.MaxEffects),
		monitor: NewMonitor(),
		presets: ctx.Presets,
		log:     log,
	}
	m.chain.SetMonitor(m.monitor)
	m.applyConfig(ctx.Config)

	log.Info("DSP manager initialized",
		logger.Bool("multithreading", ctx.Config.EnableMultithreading),
		logger.Int("max_effects", ctx.Config.MaxEffects),
	)
	return m
}

// applyConfig must be called with mu held.
func (m *Manager) applyConfig(cfg config.DSPConfig) {
	m.cfg = cfg
	m.chain.setMaxEffects(cfg.MaxEffects)

	// The new pool is published before the old one closes, so a chunk in
	// flight either finishes on the old pool or falls back to running its
	// effects in sequence.
	wantPool := cfg.EnableMultithreading && cfg.MaxThreads > 1
	if m.pool == nil || !wantPool || m.pool.size != cfg.MaxThreads {
		old := m.pool
		m.pool = nil
		if wantPool {
			m.pool = newWorkerPool(cfg.MaxThreads)
		}
		m.chain.setPool(m.pool)
		if old != nil {
			old.close()
		}
	}

	if cfg.EnablePerformanceMonitoring {
		if !m.monitor.IsMonitoring() {
			m.monitor.Start()
		}
	} else {
		m.monitor.Stop()
	}
}

// UpdateConfig applies new DSP settings. Effects beyond a lowered
// max_effects stay in place; Validate reports them.
func (m *Manager) UpdateConfig(cfg config.DSPConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applyConfig(cfg)
	m.log.Info("DSP config updated",
		logger.Bool("multithreading", cfg.EnableMultithreading),
		logger.Int("max_threads", cfg.MaxThreads),
		logger.Bool("monitoring", cfg.EnablePerformanceMonitoring),
	)
}

func (m *Manager) Config() config.DSPConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

func (m *Manager) Monitor() *Monitor { return m.monitor }

// ProcessChain runs the chain over c in place.
func (m *Manager) ProcessChain(ctx context.Context, c *chunk.Chunk) error {
	if m.closed.Load() {
		return domain.ErrManagerClosed
	}
	return m.chain.Process(ctx, c)
}

func (m *Manager) AddEffect(e Effect) error {
	if err := m.chain.Add(e); err != nil {
		return err
	}
	m.log.Debug("Effect added", logger.String("effect", e.Name()), logger.Int("count", m.chain.Len()))
	return nil
}

func (m *Manager) InsertEffect(i int, e Effect) error {
	return m.chain.Insert(i, e)
}

func (m *Manager) RemoveEffect(i int) (Effect, error) {
	return m.chain.Remove(i)
}

func (m *Manager) RemoveEffectByName(name string) error {
	return m.chain.RemoveByName(name)
}

func (m *Manager) MoveEffect(from, to int) error {
	return m.chain.Move(from, to)
}

func (m *Manager) ClearEffects() {
	m.chain.Clear()
}

func (m *Manager) Effect(i int) (Effect, error) {
	return m.chain.At(i)
}

// FindEffect returns the first effect called name.
func (m *Manager) FindEffect(name string) (Effect, error) {
	for _, e := range m.chain.Effects() {
		if e.Name() == name {
			return e, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", domain.ErrEffectNotFound, name)
}

func (m *Manager) Effects() []Effect {
	return m.chain.Effects()
}

func (m *Manager) EffectCount() int {
	return m.chain.Len()
}

// Reset clears the processing state of every effect before the next
// chunk is processed.
func (m *Manager) Reset() {
	m.chain.RequestReset()
}

// CreateEffect builds an effect from its template.
func CreateEffect(t EffectType) (Effect, error) {
	switch t {
	case EffectEqualizer:
		return NewEqualizer(), nil
	case EffectReverb:
		return NewReverb(), nil
	case EffectLimiter:
		return NewLimiter(), nil
	case EffectVolume:
		return NewVolume(), nil
	case EffectReplayGain:
		return NewReplayGain(), nil
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedEffect, t)
}

// EffectTemplates describes every effect CreateEffect can build.
func EffectTemplates() []EffectParams {
	types := []EffectType{EffectEqualizer, EffectReverb, EffectLimiter, EffectVolume, EffectReplayGain}
	out := make([]EffectParams, 0, len(types))
	for _, t := range types {
		e, err := CreateEffect(t)
		if err != nil {
			continue
		}
		out = append(out, e.Params())
	}
	return out
}

func (m *Manager) CreateEffect(t EffectType) (Effect, error) {
	return CreateEffect(t)
}

// StandardChain replaces the chain with a 10-band equalizer, a reverb and a
// volume control.
func (m *Manager) StandardChain() error {
	if err := m.chain.Replace([]Effect{NewEqualizer(), NewReverb(), NewVolume()}); err != nil {
		return err
	}
	m.log.Info("Standard chain created", logger.Int("effects", m.chain.Len()))
	return nil
}

// ConfigureChain replaces the chain with the effects cfg enables, in the
// order replay gain, equalizer, reverb, volume, limiter.
func (m *Manager) ConfigureChain(cfg *config.Config) error {
	var effects []Effect

	if cfg.ReplayGain.Enabled {
		rg := NewReplayGain()
		mode, err := ParseReplayGainMode(cfg.ReplayGain.Mode)
		if err != nil {
			return err
		}
		rg.SetMode(mode)
		rg.SetPreAmp(cfg.ReplayGain.PreAmp)
		rg.SetPreventClipping(cfg.ReplayGain.PreventClipping)
		effects = append(effects, rg)
	}

	if cfg.Equalizer.Enabled {
		eq := NewEqualizer()
		if name := cfg.Equalizer.Preset; name != "" {
			if err := m.applyPreset(eq, name); err != nil {
				return err
			}
		}
		if len(cfg.Equalizer.Bands) > 0 {
			eq.SetGains(cfg.Equalizer.Bands)
		}
		eq.SetOutputGain(cfg.Equalizer.OutputGain)
		if cfg.Equalizer.AutoGain {
			eq.AutoGainCompensate()
		}
		effects = append(effects, eq)
	}

	if cfg.Reverb.Enabled {
		rv := NewReverb()
		if name := cfg.Reverb.Preset; name != "" {
			if err := m.applyPreset(rv, name); err != nil {
				return err
			}
		} else {
			t, err := ParseReverbType(cfg.Reverb.Type)
			if err != nil {
				return err
			}
			p := rv.Parameters()
			p.Type = t
			p.RoomSize = cfg.Reverb.RoomSize
			p.Damping = cfg.Reverb.Damping
			p.WetLevel = cfg.Reverb.WetLevel
			p.DryLevel = cfg.Reverb.DryLevel
			p.Width = cfg.Reverb.Width
			p.PreDelay = cfg.Reverb.PreDelay
			p.DecayTime = cfg.Reverb.DecayTime
			p.Diffusion = cfg.Reverb.Diffusion
			p.EnableModulation = cfg.Reverb.EnableModulation
			p.EnableFiltering = cfg.Reverb.EnableFiltering
			rv.SetParameters(p)
		}
		if w := cfg.Reverb.WetOverride; w != nil {
			rv.SetWetLevel(*w)
		}
		effects = append(effects, rv)
	}

	vol := NewVolume()
	vol.SetGainDB(cfg.Audio.VolumeDB)
	effects = append(effects, vol)

	if cfg.Limiter.Enabled {
		lim := NewLimiter()
		lim.SetThreshold(cfg.Limiter.Threshold)
		lim.SetRelease(cfg.Limiter.Release)
		effects = append(effects, lim)
	}

	if err := m.chain.Replace(effects); err != nil {
		return err
	}
	m.log.Info("Chain configured", logger.Int("effects", len(effects)))
	return nil
}

// presetLoader is implemented by effects with built-in presets.
type presetLoader interface {
	LoadPreset(name string) error
	Presets() []string
}

// SaveEffectPreset stores the settings of the effect at i under name.
func (m *Manager) SaveEffectPreset(i int, name string) error {
	if m.presets == nil {
		return fmt.Errorf("%w: no preset store", domain.ErrPresetNotFound)
	}
	e, err := m.Effect(i)
	if err != nil {
		return err
	}
	p := preset.New(name)
	e.GetPreset(p)
	if err := m.presets.Save(name, p); err != nil {
		return err
	}
	m.log.Info("Effect preset saved", logger.String("effect", e.Name()), logger.String("preset", name))
	return nil
}

// LoadEffectPreset applies a stored preset to the effect at i, falling back
// to the effect's built-in presets.
func (m *Manager) LoadEffectPreset(i int, name string) error {
	e, err := m.Effect(i)
	if err != nil {
		return err
	}
	return m.applyPreset(e, name)
}

func (m *Manager) applyPreset(e Effect, name string) error {
	if m.presets != nil {
		p, err := m.presets.Load(name)
		switch {
		case err == nil:
			return e.SetPreset(p)
		case !errors.Is(err, domain.ErrPresetNotFound):
			return err
		}
	}
	if l, ok := e.(presetLoader); ok {
		return l.LoadPreset(name)
	}
	return fmt.Errorf("%w: %q", domain.ErrPresetNotFound, name)
}

// AvailablePresets lists stored presets followed by the built-in presets
// of the effects in the chain.
func (m *Manager) AvailablePresets() ([]string, error) {
	var names []string
	if m.presets != nil {
		stored, err := m.presets.List()
		if err != nil {
			return nil, err
		}
		names = append(names, stored...)
	}
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		seen[n] = true
	}
	for _, e := range m.Effects() {
		l, ok := e.(presetLoader)
		if !ok {
			continue
		}
		for _, n := range l.Presets() {
			if !seen[n] {
				seen[n] = true
				names = append(names, n)
			}
		}
	}
	return names, nil
}

// EstimateTotalCPU sums the CPU estimates, in percent, of active effects.
func (m *Manager) EstimateTotalCPU() float64 {
	total := 0.0
	for _, e := range m.Effects() {
		if e.Enabled() && !e.Bypassed() {
			total += e.Params().CPUEstimate
		}
	}
	return total
}

func (m *Manager) EstimateTotalLatency() time.Duration {
	return m.chain.Latency()
}

func (m *Manager) Validate() ValidationResult {
	return m.chain.Validate()
}

// CheckPerformance logs and returns the monitor's warnings.
func (m *Manager) CheckPerformance() []string {
	warnings := m.monitor.Warnings(m.Config(), m.EstimateTotalLatency())
	for _, w := range warnings {
		m.log.Warn("DSP performance", logger.String("warning", w))
	}
	return warnings
}

// Report describes the chain, its settings and the measured load.
func (m *Manager) Report() string {
	cfg := m.Config()
	effects := m.Effects()

	var b strings.Builder
	b.WriteString("DSP Manager Report\n")
	b.WriteString("==================\n")
	fmt.Fprintf(&b, "Effects: %d\n", len(effects))
	fmt.Fprintf(&b, "Multithreading: %s (max %d threads)\n", onOff(cfg.EnableMultithreading), cfg.MaxThreads)
	fmt.Fprintf(&b, "Performance monitoring: %s\n", onOff(cfg.EnablePerformanceMonitoring))
	fmt.Fprintf(&b, "Memory pool: %.1f MiB\n", float64(cfg.MemoryPoolSize)/(1<<20))

	b.WriteString("\nEffect chain:\n")
	for i, e := range effects {
		p := e.Params()
		state := "enabled"
		switch {
		case !p.Enabled:
			state = "disabled"
		case p.Bypassed:
			state = "bypassed"
		}
		fmt.Fprintf(&b, "  [%d] %s (%s) latency %.2f ms, CPU %.1f%%, %s\n",
			i, p.Name, p.Type, p.LatencyMS, p.CPUEstimate, state)
	}
	fmt.Fprintf(&b, "Total latency: %.2f ms\n", durationMS(m.EstimateTotalLatency()))
	fmt.Fprintf(&b, "Estimated CPU: %.1f%%\n", m.EstimateTotalCPU())

	s := m.monitor.Stats()
	b.WriteString("\nPerformance:\n")
	fmt.Fprintf(&b, "  Samples processed: %d\n", s.TotalSamples)
	fmt.Fprintf(&b, "  Calls: %d\n", s.Calls)
	fmt.Fprintf(&b, "  Total time: %.3f ms\n", s.TotalMS)
	fmt.Fprintf(&b, "  Average time: %.3f ms (min %.3f, max %.3f)\n", s.AvgMS, s.MinMS, s.MaxMS)
	fmt.Fprintf(&b, "  CPU usage: %.2f%%\n", s.CPUPercent)
	fmt.Fprintf(&b, "  Realtime factor: %.3f (processing time / audio time)\n", s.RealtimeFactor)
	fmt.Fprintf(&b, "  Errors: %d\n", s.Errors)

	if warnings := m.CheckPerformance(); len(warnings) > 0 {
		b.WriteString("\nWarnings:\n")
		for _, w := range warnings {
			fmt.Fprintf(&b, "  - %s\n", w)
		}
	}
	return b.String()
}

func onOff(b bool) string {
	if b {
		return "enabled"
	}
	return "disabled"
}

// Benchmark pushes duration of stereo noise at 44.1 kHz through copies of
// the chain's effects and returns the measured load. The live chain and the
// manager's monitor are left untouched, so it can run while audio plays.
func (m *Manager) Benchmark(ctx context.Context, duration time.Duration) (Stats, error) {
	const (
		rate     = 44100
		channels = 2
		block    = 1024
	)
	if m.closed.Load() {
		return Stats{}, domain.ErrManagerClosed
	}
	frames := int(duration.Seconds() * rate)
	if frames <= 0 {
		return Stats{}, fmt.Errorf("%w: benchmark duration %s", domain.ErrInvalidParameter, duration)
	}

	chain := NewChain(m.log, 0)
	var effects []Effect
	for _, e := range m.chain.Effects() {
		dup, err := cloneEffect(e)
		if err != nil {
			m.log.Warn("Effect left out of benchmark", logger.String("effect", e.Name()), logger.Error(err))
			continue
		}
		effects = append(effects, dup)
	}
	if err := chain.Replace(effects); err != nil {
		return Stats{}, err
	}
	m.mu.Lock()
	chain.setPool(m.pool)
	m.mu.Unlock()
	bench := NewMonitor()
	bench.Start()
	chain.SetMonitor(bench)

	rng := rand.New(rand.NewPCG(1, 2))
	noise := make([]float32, block*channels)
	for i := range noise {
		noise[i] = float32(rng.Float64()*2-1) * 0.5
	}
	c := chunk.New(block, channels, rate)

	for done := 0; done < frames; done += block {
		n := min(block, frames-done)
		c.SetData(noise[:n*channels], n, channels, rate)
		if err := chain.Process(ctx, c); err != nil {
			return bench.Stats(), err
		}
	}

	s := bench.Stats()
	m.log.Info("Benchmark finished",
		logger.Duration("audio", duration),
		logger.Float64("cpu_percent", s.CPUPercent),
		logger.Float64("realtime_factor", s.RealtimeFactor),
	)
	return s, nil
}

// cloneEffect builds a fresh effect of e's type carrying e's settings.
func cloneEffect(e Effect) (Effect, error) {
	dup, err := CreateEffect(e.Type())
	if err != nil {
		return nil, err
	}
	p := preset.New(e.Name())
	e.GetPreset(p)
	if err := dup.SetPreset(p); err != nil {
		return nil, err
	}
	return dup, nil
}

// Close stops the worker pool and releases the effects. Further
// processing returns ErrManagerClosed.
func (m *Manager) Close() error {
	if m.closed.Swap(true) {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chain.setPool(nil)
	if m.pool != nil {
		m.pool.close()
		m.pool = nil
	}
	m.monitor.Stop()
	m.chain.Clear()
	m.log.Info("DSP manager closed")
	return nil
}
