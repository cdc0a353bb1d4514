package dsp

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/winramp/winramp-dsp/internal/audio/chunk"
	"github.com/winramp/winramp-dsp/internal/audio/dsp/filter"
	"github.com/winramp/winramp-dsp/internal/audio/dsp/preset"
	"github.com/winramp/winramp-dsp/internal/domain"
)

// ReverbType selects the reverb algorithm.
type ReverbType int

const (
	ReverbRoom ReverbType = iota
	ReverbHall
	ReverbPlate

	reverbTypeCount
)

func (t ReverbType) String() string {
	switch t {
	case ReverbRoom:
		return "room"
	case ReverbHall:
		return "hall"
	case ReverbPlate:
		return "plate"
	default:
		return "unknown"
	}
}

func ParseReverbType(s string) (ReverbType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "room":
		return ReverbRoom, nil
	case "hall":
		return ReverbHall, nil
	case "plate":
		return ReverbPlate, nil
	}
	return ReverbRoom, fmt.Errorf("%w: reverb type %q", domain.ErrInvalidParameter, s)
}

const (
	MaxPreDelayMS     = 100.0
	MinDecayTime      = 0.1
	MaxDecayTime      = 10.0
	MinModulationRate = 0.01
	MaxModulationRate = 10.0
	DefaultDiffusion  = 0.7

	// Frames processed per internal pass; longer chunks are split.
	reverbBlock = 1024

	inputHighPassHz = 80.0
	outputLowPassHz = 18000.0
	filterQ         = 0.7
)

// ReverbParameters holds every user-facing reverb setting.
type ReverbParameters struct {
	Type             ReverbType
	RoomSize         float64
	Damping          float64
	WetLevel         float64
	DryLevel         float64
	Width            float64
	PreDelay         float64 // ms
	// DecayTime is stored and reported but does not drive the tank: the
	// tail length follows RoomSize and Damping, see EstimateRT60.
	DecayTime        float64 // s
	Diffusion        float64
	ModulationRate   float64 // Hz
	ModulationDepth  float64
	EnableModulation bool
	EnableFiltering  bool
}

func DefaultReverbParameters() ReverbParameters {
	return ReverbParameters{
		Type:             ReverbRoom,
		RoomSize:         0.5,
		Damping:          0.5,
		WetLevel:         0.3,
		DryLevel:         1.0,
		Width:            1.0,
		PreDelay:         0,
		DecayTime:        1.0,
		Diffusion:        DefaultDiffusion,
		ModulationRate:   0.2,
		ModulationDepth:  0.1,
		EnableModulation: true,
		EnableFiltering:  false,
	}
}

// Clamped returns p with every field forced into its range.
func (p ReverbParameters) Clamped() ReverbParameters {
	if p.Type < 0 || p.Type >= reverbTypeCount {
		p.Type = ReverbRoom
	}
	p.RoomSize = clamp(p.RoomSize, 0, 1)
	p.Damping = clamp(p.Damping, 0, 1)
	p.WetLevel = clamp(p.WetLevel, 0, 1)
	p.DryLevel = clamp(p.DryLevel, 0, 1)
	p.Width = clamp(p.Width, 0, 1)
	p.Diffusion = clamp(p.Diffusion, 0, 1)
	p.ModulationDepth = clamp(p.ModulationDepth, 0, 1)
	p.PreDelay = clamp(p.PreDelay, 0, MaxPreDelayMS)
	p.DecayTime = clamp(p.DecayTime, MinDecayTime, MaxDecayTime)
	p.ModulationRate = clamp(p.ModulationRate, MinModulationRate, MaxModulationRate)
	return p
}

// Validate reports fields outside their range.
func (p ReverbParameters) Validate() error {
	var problems []string
	check := func(name string, v, lo, hi float64) {
		if v < lo || v > hi || v != v {
			problems = append(problems, fmt.Sprintf("%s %.3f out of range [%g, %g]", name, v, lo, hi))
		}
	}
	if p.Type < 0 || p.Type >= reverbTypeCount {
		problems = append(problems, fmt.Sprintf("unknown reverb type %d", p.Type))
	}
	check("room_size", p.RoomSize, 0, 1)
	check("damping", p.Damping, 0, 1)
	check("wet_level", p.WetLevel, 0, 1)
	check("dry_level", p.DryLevel, 0, 1)
	check("width", p.Width, 0, 1)
	check("diffusion", p.Diffusion, 0, 1)
	check("modulation_depth", p.ModulationDepth, 0, 1)
	check("predelay", p.PreDelay, 0, MaxPreDelayMS)
	check("decay_time", p.DecayTime, MinDecayTime, MaxDecayTime)
	check("modulation_rate", p.ModulationRate, MinModulationRate, MaxModulationRate)
	if p.WetLevel == 0 && p.DryLevel == 0 {
		problems = append(problems, "wet_level and dry_level are both zero")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", domain.ErrInvalidParameter, strings.Join(problems, "; "))
	}
	return nil
}

type reverbSnapshot struct {
	params  ReverbParameters
	version uint64
}

// Reverb is an algorithmic reverb with room, hall and plate engines. All
// three engines are built at Instantiate so switching type or room size
// while running does not allocate.
type Reverb struct {
	base

	mu      sync.Mutex
	snap    atomic.Pointer[reverbSnapshot]
	version uint64

	// Processing path state.
	sampleRate int
	channels   int
	engines    [reverbTypeCount]reverbEngine
	applied    [reverbTypeCount]uint64
	shared     uint64
	preDelay   int
	lines      []delayLine
	highPass   []filter.Biquad
	lowPass    []filter.Biquad
	mods       []*modulator
	in, wet    [][]float64
	scratch    []float64
}

// NewReverb returns a reverb with the default parameters.
func NewReverb() *Reverb {
	return NewReverbWithParameters(DefaultReverbParameters())
}

func NewReverbWithParameters(p ReverbParameters) *Reverb {
	r := &Reverb{}
	r.setup(EffectReverb, "Reverb", "Algorithmic reverb (room, hall, plate)", 15, withCommon(
		ConfigParam{Name: "type", Description: "Reverb Type", Default: 0, Min: 0, Max: float64(reverbTypeCount - 1), Step: 1},
		ConfigParam{Name: "room_size", Description: "Room Size", Default: 0.5, Min: 0, Max: 1, Step: 0.01},
		ConfigParam{Name: "damping", Description: "Damping", Default: 0.5, Min: 0, Max: 1, Step: 0.01},
		ConfigParam{Name: "wet_level", Description: "Wet Level", Default: 0.3, Min: 0, Max: 1, Step: 0.01},
		ConfigParam{Name: "dry_level", Description: "Dry Level", Default: 1, Min: 0, Max: 1, Step: 0.01},
		ConfigParam{Name: "width", Description: "Stereo Width", Default: 1, Min: 0, Max: 1, Step: 0.01},
		ConfigParam{Name: "predelay", Description: "Pre-delay (ms)", Default: 0, Min: 0, Max: MaxPreDelayMS, Step: 1},
		ConfigParam{Name: "decay_time", Description: "Decay Time (s)", Default: 1, Min: MinDecayTime, Max: MaxDecayTime, Step: 0.1},
		ConfigParam{Name: "diffusion", Description: "Diffusion", Default: DefaultDiffusion, Min: 0, Max: 1, Step: 0.01},
		ConfigParam{Name: "modulation_rate", Description: "Modulation Rate (Hz)", Default: 0.2, Min: MinModulationRate, Max: MaxModulationRate, Step: 0.01},
		ConfigParam{Name: "modulation_depth", Description: "Modulation Depth", Default: 0.1, Min: 0, Max: 1, Step: 0.01},
		ConfigParam{Name: "enable_modulation", Description: "Modulation", Default: 1, Min: 0, Max: 1, Step: 1},
		ConfigParam{Name: "enable_filtering", Description: "Input/Output Filtering", Default: 0, Min: 0, Max: 1, Step: 1},
	))
	r.publish(p.Clamped())
	return r
}

// publish must be called with mu held, or before the reverb is shared.
func (r *Reverb) publish(p ReverbParameters) {
	r.version++
	r.snap.Store(&reverbSnapshot{params: p, version: r.version})
}

func (r *Reverb) edit(fn func(p *ReverbParameters)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.snap.Load().params
	fn(&p)
	r.publish(p.Clamped())
}

// Parameters returns the current settings.
func (r *Reverb) Parameters() ReverbParameters {
	return r.snap.Load().params
}

// SetParameters replaces every setting; values are clamped.
func (r *Reverb) SetParameters(p ReverbParameters) {
	r.edit(func(dst *ReverbParameters) { *dst = p })
}

func (r *Reverb) SetType(t ReverbType)   { r.edit(func(p *ReverbParameters) { p.Type = t }) }
func (r *Reverb) SetRoomSize(v float64)  { r.edit(func(p *ReverbParameters) { p.RoomSize = v }) }
func (r *Reverb) SetDamping(v float64)   { r.edit(func(p *ReverbParameters) { p.Damping = v }) }
func (r *Reverb) SetWetLevel(v float64)  { r.edit(func(p *ReverbParameters) { p.WetLevel = v }) }
func (r *Reverb) SetDryLevel(v float64)  { r.edit(func(p *ReverbParameters) { p.DryLevel = v }) }
func (r *Reverb) SetWidth(v float64)     { r.edit(func(p *ReverbParameters) { p.Width = v }) }
func (r *Reverb) SetPreDelay(ms float64) { r.edit(func(p *ReverbParameters) { p.PreDelay = ms }) }
func (r *Reverb) SetDecayTime(s float64) { r.edit(func(p *ReverbParameters) { p.DecayTime = s }) }
func (r *Reverb) SetDiffusion(v float64) { r.edit(func(p *ReverbParameters) { p.Diffusion = v }) }
func (r *Reverb) SetFilteringEnabled(b bool) {
	r.edit(func(p *ReverbParameters) { p.EnableFiltering = b })
}

// SetModulation sets the LFO rate in Hz and its depth.
func (r *Reverb) SetModulation(rate, depth float64) {
	r.edit(func(p *ReverbParameters) {
		p.ModulationRate = rate
		p.ModulationDepth = depth
	})
}

func (r *Reverb) SetModulationEnabled(b bool) {
	r.edit(func(p *ReverbParameters) { p.EnableModulation = b })
}

func (r *Reverb) Params() EffectParams {
	return r.params(r.Latency())
}

// Latency is the pre-delay, plus the hall's longer build-up.
func (r *Reverb) Latency() time.Duration {
	p := r.Parameters()
	ms := p.PreDelay
	if p.Type == ReverbHall {
		ms += hallTuning.latencyMS
	}
	return msToDuration(ms)
}

// Instantiate builds all engines and scratch buffers for format.
func (r *Reverb) Instantiate(format chunk.Format) error {
	if err := r.checkFormat(format); err != nil {
		return err
	}
	rate, channels := format.SampleRate, format.Channels

	r.engines[ReverbRoom] = newRoomEngine(rate, channels)
	r.engines[ReverbHall] = newHallEngine(rate, channels)
	r.engines[ReverbPlate] = newPlateEngine(rate, channels)
	r.applied = [reverbTypeCount]uint64{}
	r.shared = 0

	hp := filter.HighPassCoefficients(inputHighPassHz, filterQ, float64(rate))
	lp := filter.LowPassCoefficients(filter.ClampFrequency(outputLowPassHz, float64(rate)), filterQ, float64(rate))

	r.lines = make([]delayLine, channels)
	r.highPass = make([]filter.Biquad, channels)
	r.lowPass = make([]filter.Biquad, channels)
	r.mods = make([]*modulator, channels)
	r.in = make([][]float64, channels)
	r.wet = make([][]float64, channels)
	for ch := 0; ch < channels; ch++ {
		r.lines[ch] = newDelayLine(msToSamples(MaxPreDelayMS, rate) + 1)
		r.highPass[ch] = filter.Biquad{Coefficients: hp}
		r.lowPass[ch] = filter.Biquad{Coefficients: lp}
		r.mods[ch] = newModulator(rate, uint64(ch)+1)
		r.in[ch] = make([]float64, reverbBlock)
		r.wet[ch] = make([]float64, reverbBlock)
	}
	r.scratch = make([]float64, reverbBlock)
	r.sampleRate = rate
	r.channels = channels

	r.instantiated(format)
	return nil
}

// Run mixes the reverberated signal into c. With a wet level of zero the
// result is exactly the dry level times the input.
func (r *Reverb) Run(c *chunk.Chunk) {
	if !r.active(c) {
		return
	}
	snap := r.snap.Load()
	p := snap.params

	if p.WetLevel == 0 {
		if p.DryLevel != 1 {
			c.ApplyGain(float32(p.DryLevel))
		}
		return
	}

	engine := r.engines[p.Type]
	if r.applied[p.Type] != snap.version {
		engine.configure(p)
		r.applied[p.Type] = snap.version
	}
	if r.shared != snap.version {
		r.preDelay = int(p.PreDelay * float64(r.sampleRate) / 1000)
		rate := engine.modulationRate(p)
		for _, m := range r.mods {
			m.set(rate, p.ModulationDepth)
		}
		r.shared = snap.version
	}

	data := c.Data()
	frames := c.Frames()
	for start := 0; start < frames; start += reverbBlock {
		n := min(reverbBlock, frames-start)
		r.processBlock(data[start*r.channels:(start+n)*r.channels], n, p, engine)
	}
}

func (r *Reverb) processBlock(block []float32, n int, p ReverbParameters, engine reverbEngine) {
	channels := r.channels

	for ch := 0; ch < channels; ch++ {
		in := r.in[ch][:n]
		line := &r.lines[ch]
		for i := range in {
			line.write(float64(block[i*channels+ch]))
			in[i] = line.tap(r.preDelay)
		}
		if p.EnableFiltering {
			r.highPass[ch].ProcessBlock64(in)
		}
	}

	engine.process(r.in, r.wet, n, r.scratch)

	for ch := 0; ch < channels; ch++ {
		wet := r.wet[ch][:n]
		if p.EnableModulation && p.ModulationDepth > 0 {
			m := r.mods[ch]
			for i := range wet {
				wet[i] *= 1 + m.next()*p.ModulationDepth
			}
		}
		if p.EnableFiltering {
			r.lowPass[ch].ProcessBlock64(wet)
		}
	}

	// Width narrows the wet signal only; the dry path reaches the mix untouched.
	if channels == 2 && p.Width != 1 {
		left, right := r.wet[0][:n], r.wet[1][:n]
		for i := range left {
			mid := (left[i] + right[i]) * 0.5
			side := (left[i] - right[i]) * 0.5 * p.Width
			left[i] = mid + side
			right[i] = mid - side
		}
	}

	for ch := 0; ch < channels; ch++ {
		wet := r.wet[ch]
		for i := 0; i < n; i++ {
			idx := i*channels + ch
			block[idx] = float32(p.DryLevel*float64(block[idx]) + p.WetLevel*wet[i])
		}
	}
}

// Reset silences every delay line and filter.
func (r *Reverb) Reset() {
	for _, e := range r.engines {
		if e != nil {
			e.reset()
		}
	}
	for ch := range r.lines {
		r.lines[ch].reset()
		r.highPass[ch].Reset()
		r.lowPass[ch].Reset()
		r.mods[ch].reset()
	}
	r.resetState()
}

func (r *Reverb) Validate() error {
	return r.Parameters().Validate()
}

func (r *Reverb) SetParam(name string, value float64) error {
	if r.setCommon(name, value) {
		return nil
	}
	v, err := r.resolve(name, value)
	if err != nil {
		return err
	}
	r.edit(func(p *ReverbParameters) { setReverbField(p, name, v) })
	return nil
}

func (r *Reverb) Param(name string) (float64, bool) {
	if v, ok := r.common(name); ok {
		return v, true
	}
	return reverbField(r.Parameters(), name)
}

func setReverbField(p *ReverbParameters, name string, v float64) bool {
	switch name {
	case "type":
		p.Type = ReverbType(int(v))
	case "room_size":
		p.RoomSize = v
	case "damping":
		p.Damping = v
	case "wet_level":
		p.WetLevel = v
	case "dry_level":
		p.DryLevel = v
	case "width":
		p.Width = v
	case "predelay":
		p.PreDelay = v
	case "decay_time":
		p.DecayTime = v
	case "diffusion":
		p.Diffusion = v
	case "modulation_rate":
		p.ModulationRate = v
	case "modulation_depth":
		p.ModulationDepth = v
	case "enable_modulation":
		p.EnableModulation = v >= 0.5
	case "enable_filtering":
		p.EnableFiltering = v >= 0.5
	default:
		return false
	}
	return true
}

func reverbField(p ReverbParameters, name string) (float64, bool) {
	switch name {
	case "type":
		return float64(p.Type), true
	case "room_size":
		return p.RoomSize, true
	case "damping":
		return p.Damping, true
	case "wet_level":
		return p.WetLevel, true
	case "dry_level":
		return p.DryLevel, true
	case "width":
		return p.Width, true
	case "predelay":
		return p.PreDelay, true
	case "decay_time":
		return p.DecayTime, true
	case "diffusion":
		return p.Diffusion, true
	case "modulation_rate":
		return p.ModulationRate, true
	case "modulation_depth":
		return p.ModulationDepth, true
	case "enable_modulation":
		return boolFloat(p.EnableModulation), true
	case "enable_filtering":
		return boolFloat(p.EnableFiltering), true
	}
	return 0, false
}

var reverbPresetKeys = []string{
	"room_size", "damping", "wet_level", "dry_level", "width", "predelay",
	"decay_time", "diffusion", "modulation_rate", "modulation_depth",
	"enable_modulation", "enable_filtering",
}

func (r *Reverb) GetPreset(p *preset.Preset) {
	params := r.Parameters()
	r.writePreset(p)
	p.SetString("reverb_type", params.Type.String())
	for _, key := range reverbPresetKeys {
		v, _ := reverbField(params, key)
		p.SetFloat(key, v)
	}
}

// SetPreset overrides the settings present in p; absent keys keep their
// current value.
func (r *Reverb) SetPreset(p *preset.Preset) error {
	if err := r.checkPreset(p); err != nil {
		return err
	}
	next := r.Parameters()
	if name, ok := p.String("reverb_type"); ok {
		t, err := ParseReverbType(name)
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrInvalidPreset, err)
		}
		next.Type = t
	}
	for _, key := range reverbPresetKeys {
		if v, ok := p.Float(key); ok {
			setReverbField(&next, key, v)
		}
	}
	r.SetParameters(next)
	r.readCommon(p)
	return nil
}
