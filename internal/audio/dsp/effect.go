package dsp

import (
	"fmt"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"github.com/winramp/winramp-dsp/internal/audio/chunk"
	"github.com/winramp/winramp-dsp/internal/audio/dsp/preset"
	"github.com/winramp/winramp-dsp/internal/domain"
)

// EffectType identifies the kind of processing an effect performs.
type EffectType int

const (
	EffectUnknown EffectType = iota
	EffectEqualizer
	EffectCompressor
	EffectLimiter
	EffectReverb
	EffectEcho
	EffectChorus
	EffectFlanger
	EffectPhaser
	EffectDistortion
	EffectGate
	EffectVolume
	EffectCrossfeed
	EffectResampler
	EffectConvolver
	EffectReplayGain
)

var effectTypeNames = [...]string{
	EffectUnknown:    "unknown",
	EffectEqualizer:  "equalizer",
	EffectCompressor: "compressor",
	EffectLimiter:    "limiter",
	EffectReverb:     "reverb",
	EffectEcho:       "echo",
	EffectChorus:     "chorus",
	EffectFlanger:    "flanger",
	EffectPhaser:     "phaser",
	EffectDistortion: "distortion",
	EffectGate:       "gate",
	EffectVolume:     "volume",
	EffectCrossfeed:  "crossfeed",
	EffectResampler:  "resampler",
	EffectConvolver:  "convolver",
	EffectReplayGain: "replay_gain",
}

func (t EffectType) String() string {
	if t < 0 || int(t) >= len(effectTypeNames) {
		return effectTypeNames[EffectUnknown]
	}
	return effectTypeNames[t]
}

// ParseEffectType accepts the names returned by String, case-insensitively.
func ParseEffectType(s string) (EffectType, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	name = strings.ReplaceAll(name, "-", "_")
	for i, n := range effectTypeNames {
		if n == name {
			return EffectType(i), nil
		}
	}
	return EffectUnknown, fmt.Errorf("%w: %q", domain.ErrUnsupportedEffect, s)
}

// ConfigParam describes one numeric parameter an effect accepts through
// SetParam.
type ConfigParam struct {
	Name        string
	Description string
	Default     float64
	Min         float64
	Max         float64
	Step        float64
}

// Clamp limits v to the parameter range.
func (p ConfigParam) Clamp(v float64) float64 {
	return math.Max(p.Min, math.Min(p.Max, v))
}

// EffectParams is the descriptive snapshot of an effect.
type EffectParams struct {
	Type        EffectType
	Name        string
	Description string
	Enabled     bool
	Bypassed    bool
	CPUEstimate float64 // percent of one core
	LatencyMS   float64
	Config      []ConfigParam
}

// Param looks up a parameter description by name.
func (p EffectParams) Param(name string) (ConfigParam, bool) {
	for _, c := range p.Config {
		if c.Name == name {
			return c, true
		}
	}
	return ConfigParam{}, false
}

// State is the lifecycle position of an effect.
type State int32

const (
	StateUninstantiated State = iota
	StateInstantiated
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateUninstantiated:
		return "uninstantiated"
	case StateInstantiated:
		return "instantiated"
	case StateRunning:
		return "running"
	default:
		return "unknown"
	}
}

// Effect is one stage of a processing chain. Run mutates the chunk in place
// and never fails: an effect that cannot handle the chunk leaves it untouched.
type Effect interface {
	Params() EffectParams
	Name() string
	Type() EffectType

	// Instantiate prepares the effect for format, allocating everything Run
	// needs. On error the effect stays uninstantiated.
	Instantiate(format chunk.Format) error
	Run(c *chunk.Chunk)
	Reset()
	Latency() time.Duration
	SupportsFormat(format chunk.Format) bool

	SetEnabled(enabled bool)
	Enabled() bool
	SetBypassed(bypassed bool)
	Bypassed() bool
	State() State

	GetPreset(p *preset.Preset)
	SetPreset(p *preset.Preset) error
	SetParam(name string, value float64) error
	Param(name string) (float64, bool)
	Validate() error
}

// ChannelScoped is implemented by effects that only touch a subset of the
// channels of a chunk. Bit n of the mask stands for channel n.
type ChannelScoped interface {
	ChannelMask(channels int) uint32
}

// base carries the bookkeeping every effect shares. It is embedded by value.
type base struct {
	typ         EffectType
	name        string
	description string
	cpuEstimate float64
	config      []ConfigParam

	enabled  atomic.Bool
	bypassed atomic.Bool
	state    atomic.Int32

	// format is only touched from the processing path.
	format chunk.Format
}

// setup fills in the descriptor and enables the effect.
func (b *base) setup(typ EffectType, name, description string, cpu float64, config []ConfigParam) {
	b.typ = typ
	b.name = name
	b.description = description
	b.cpuEstimate = cpu
	b.config = config
	b.enabled.Store(true)
}

func (b *base) Name() string     { return b.name }
func (b *base) Type() EffectType { return b.typ }

func (b *base) SetEnabled(enabled bool)   { b.enabled.Store(enabled) }
func (b *base) Enabled() bool             { return b.enabled.Load() }
func (b *base) SetBypassed(bypassed bool) { b.bypassed.Store(bypassed) }
func (b *base) Bypassed() bool            { return b.bypassed.Load() }
func (b *base) State() State              { return State(b.state.Load()) }

func (b *base) params(latency time.Duration) EffectParams {
	cfg := make([]ConfigParam, len(b.config))
	copy(cfg, b.config)
	return EffectParams{
		Type:        b.typ,
		Name:        b.name,
		Description: b.description,
		Enabled:     b.Enabled(),
		Bypassed:    b.Bypassed(),
		CPUEstimate: b.cpuEstimate,
		LatencyMS:   float64(latency) / float64(time.Millisecond),
		Config:      cfg,
	}
}

// SupportsFormat accepts every format inside the chunk limits.
func (b *base) SupportsFormat(format chunk.Format) bool {
	return format.Validate() == nil
}

// checkFormat is the common front half of Instantiate.
func (b *base) checkFormat(format chunk.Format) error {
	if err := format.Validate(); err != nil {
		b.state.Store(int32(StateUninstantiated))
		return fmt.Errorf("%s: %w", b.name, err)
	}
	return nil
}

func (b *base) instantiated(format chunk.Format) {
	b.format = format
	b.state.Store(int32(StateInstantiated))
}

// active reports whether Run should touch c and moves the effect to running.
func (b *base) active(c *chunk.Chunk) bool {
	if c == nil || c.IsEmpty() || !b.Enabled() || b.Bypassed() {
		return false
	}
	if b.State() == StateUninstantiated {
		return false
	}
	if c.SampleRate() != b.format.SampleRate || c.Channels() != b.format.Channels {
		return false
	}
	b.state.Store(int32(StateRunning))
	return true
}

func (b *base) resetState() {
	if b.State() != StateUninstantiated {
		b.state.Store(int32(StateInstantiated))
	}
}

// resolve validates a SetParam call against the declared parameters and
// returns the clamped value.
func (b *base) resolve(name string, value float64) (float64, error) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, fmt.Errorf("%w: %s=%v", domain.ErrInvalidParameter, name, value)
	}
	for _, c := range b.config {
		if c.Name == name {
			return c.Clamp(value), nil
		}
	}
	return 0, fmt.Errorf("%w: %s has no parameter %q", domain.ErrUnknownParameter, b.name, name)
}

// setCommon handles the parameters every effect understands.
func (b *base) setCommon(name string, value float64) bool {
	switch name {
	case "bypass":
		b.SetBypassed(value >= 0.5)
	case "enabled":
		b.SetEnabled(value >= 0.5)
	default:
		return false
	}
	return true
}

func (b *base) common(name string) (float64, bool) {
	switch name {
	case "bypass":
		return boolFloat(b.Bypassed()), true
	case "enabled":
		return boolFloat(b.Enabled()), true
	}
	return 0, false
}

// writePreset stores the fields every preset carries.
func (b *base) writePreset(p *preset.Preset) {
	p.SetString(preset.EffectTypeKey, b.typ.String())
	p.SetFloat("enabled", boolFloat(b.Enabled()))
	p.SetFloat("bypass", boolFloat(b.Bypassed()))
}

// checkPreset rejects presets written for another effect type.
func (b *base) checkPreset(p *preset.Preset) error {
	if p == nil || !p.IsValid() {
		return fmt.Errorf("%w: empty preset", domain.ErrInvalidPreset)
	}
	if kind, ok := p.String(preset.EffectTypeKey); ok && kind != b.typ.String() {
		return fmt.Errorf("%w: preset %q is for %s, not %s",
			domain.ErrInvalidPreset, p.Name(), kind, b.typ)
	}
	return nil
}

func (b *base) readCommon(p *preset.Preset) {
	if v, ok := p.Float("enabled"); ok {
		b.SetEnabled(v >= 0.5)
	}
	if v, ok := p.Float("bypass"); ok {
		b.SetBypassed(v >= 0.5)
	}
}

// bypassParam and enabledParam are appended to every effect's parameter list.
var (
	bypassParam  = ConfigParam{Name: "bypass", Description: "Bypass", Default: 0, Min: 0, Max: 1, Step: 1}
	enabledParam = ConfigParam{Name: "enabled", Description: "Enabled", Default: 1, Min: 0, Max: 1, Step: 1}
)

func withCommon(params ...ConfigParam) []ConfigParam {
	return append([]ConfigParam{bypassParam, enabledParam}, params...)
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func msToDuration(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}
