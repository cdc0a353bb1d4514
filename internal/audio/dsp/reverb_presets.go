package dsp

import (
	"fmt"
	"math"
	"strings"

	"github.com/winramp/winramp-dsp/internal/domain"
)

// RoomPreset scales a small-to-large room by size in [0, 1].
func RoomPreset(size float64) ReverbParameters {
	size = clamp(size, 0, 1)
	p := DefaultReverbParameters()
	p.Type = ReverbRoom
	p.RoomSize = size
	p.Damping = 0.3 + 0.4*size
	p.WetLevel = 0.2 + 0.3*size
	p.DecayTime = 0.5 + 1.5*size
	p.Diffusion = 0.6 + 0.3*size
	p.PreDelay = 0
	return p.Clamped()
}

// HallPreset scales a concert hall by size in [0, 1].
func HallPreset(size float64) ReverbParameters {
	size = clamp(size, 0, 1)
	p := DefaultReverbParameters()
	p.Type = ReverbHall
	p.RoomSize = size
	p.Damping = 0.2 + 0.3*size
	p.WetLevel = 0.3 + 0.4*size
	p.DecayTime = 1 + 2*size
	p.Diffusion = 0.7 + 0.2*size
	p.PreDelay = 10 + 20*size
	return p.Clamped()
}

func PlatePreset() ReverbParameters {
	p := DefaultReverbParameters()
	p.Type = ReverbPlate
	p.RoomSize = 0.8
	p.Damping = 0.1
	p.WetLevel = 0.4
	p.DecayTime = 2.5
	p.Diffusion = 0.9
	p.ModulationRate = 0.5
	p.ModulationDepth = 0.2
	return p
}

// CathedralPreset is a very large, bright hall with a long pre-delay.
func CathedralPreset() ReverbParameters {
	p := DefaultReverbParameters()
	p.Type = ReverbHall
	p.RoomSize = 0.95
	p.Damping = 0.1
	p.WetLevel = 0.5
	p.DecayTime = 5
	p.Diffusion = 0.95
	p.PreDelay = 50
	p.Width = 1
	return p
}

var reverbPresets = []struct {
	name   string
	params func() ReverbParameters
}{
	{"small_room", func() ReverbParameters { return RoomPreset(0.2) }},
	{"medium_room", func() ReverbParameters { return RoomPreset(0.5) }},
	{"large_room", func() ReverbParameters { return RoomPreset(0.8) }},
	{"hall", func() ReverbParameters { return HallPreset(0.7) }},
	{"plate", PlatePreset},
	{"cathedral", CathedralPreset},
}

// ReverbPresets lists the names LoadPreset accepts.
func ReverbPresets() []string {
	names := make([]string, len(reverbPresets))
	for i, p := range reverbPresets {
		names[i] = p.name
	}
	return names
}

// ReverbPresetParameters returns the settings of a built-in preset.
func ReverbPresetParameters(name string) (ReverbParameters, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	for _, p := range reverbPresets {
		if p.name == key {
			return p.params(), nil
		}
	}
	return ReverbParameters{}, fmt.Errorf("%w: reverb preset %q", domain.ErrPresetNotFound, name)
}

func (r *Reverb) Presets() []string {
	return ReverbPresets()
}

// LoadPreset replaces every setting with a built-in preset.
func (r *Reverb) LoadPreset(name string) error {
	p, err := ReverbPresetParameters(name)
	if err != nil {
		return err
	}
	r.SetParameters(p)
	return nil
}

// EstimateRT60 is a rough decay time in seconds for the given settings.
func EstimateRT60(roomSize, damping, diffusion float64) float64 {
	rt := 0.5 + 2*roomSize
	return rt * (1 - 0.5*damping) * (1 + 0.2*diffusion)
}

// EstimateDensity is a relative echo density; larger and more diffuse rooms
// score higher.
func EstimateDensity(roomSize, diffusion float64) float64 {
	return 0.5 + 0.5*roomSize + 0.3*diffusion
}

// CombDelays returns the room engine's comb lengths in samples.
func CombDelays(roomSize float64, sampleRate int) []int {
	roomSize = clamp(roomSize, 0, 1)
	delays := make([]int, len(roomTuning.combs))
	for i := range delays {
		delays[i] = roomTuning.combDelay(i, roomSize, sampleRate)
	}
	return delays
}

// AllpassDelays returns the room engine's allpass lengths in samples.
func AllpassDelays(sampleRate int) []int {
	delays := make([]int, len(roomTuning.allpassMS))
	for i, ms := range roomTuning.allpassMS {
		delays[i] = msToSamples(ms, sampleRate)
	}
	return delays
}

// RoomAcoustics summarises an impulse response. Only RT60 is measured; the
// perceptual scores are fixed reference values.
type RoomAcoustics struct {
	RT60        float64
	Clarity     float64
	Definition  float64
	Envelopment float64
	Warmth      float64
	Brilliance  float64
}

// AnalyzeImpulseResponse measures the time from the peak of ir until it
// last exceeds -60 dB relative to the peak.
func AnalyzeImpulseResponse(ir []float64, sampleRate int) RoomAcoustics {
	var ac RoomAcoustics
	if len(ir) == 0 || sampleRate <= 0 {
		return ac
	}

	peakIdx, peak := 0, 0.0
	for i, v := range ir {
		if a := math.Abs(v); a > peak {
			peak, peakIdx = a, i
		}
	}
	if peak == 0 {
		return ac
	}

	target := peak * 0.001
	end := peakIdx
	for i := len(ir) - 1; i > peakIdx; i-- {
		if math.Abs(ir[i]) >= target {
			end = i + 1
			break
		}
	}

	ac.RT60 = float64(end-peakIdx) / float64(sampleRate)
	ac.Clarity = 0.8
	ac.Definition = 0.7
	ac.Envelopment = 0.9
	ac.Warmth = 0.6
	ac.Brilliance = 0.5
	return ac
}

// Report describes the current settings in a human-readable block.
func (r *Reverb) Report() string {
	p := r.Parameters()
	var b strings.Builder
	fmt.Fprintf(&b, "Reverb: %s\n", p.Type)
	fmt.Fprintf(&b, "  Room Size:   %.2f\n", p.RoomSize)
	fmt.Fprintf(&b, "  Damping:     %.2f\n", p.Damping)
	fmt.Fprintf(&b, "  Wet/Dry:     %.2f / %.2f\n", p.WetLevel, p.DryLevel)
	fmt.Fprintf(&b, "  Width:       %.2f\n", p.Width)
	fmt.Fprintf(&b, "  Pre-delay:   %.1f ms\n", p.PreDelay)
	fmt.Fprintf(&b, "  Decay:       %.2f s (estimated RT60 %.2f s)\n",
		p.DecayTime, EstimateRT60(p.RoomSize, p.Damping, p.Diffusion))
	fmt.Fprintf(&b, "  Diffusion:   %.2f (density %.2f)\n",
		p.Diffusion, EstimateDensity(p.RoomSize, p.Diffusion))
	if p.EnableModulation {
		fmt.Fprintf(&b, "  Modulation:  %.2f Hz, depth %.2f\n", p.ModulationRate, p.ModulationDepth)
	} else {
		b.WriteString("  Modulation:  off\n")
	}
	fmt.Fprintf(&b, "  Filtering:   %t\n", p.EnableFiltering)
	fmt.Fprintf(&b, "  Latency:     %s\n", r.Latency())
	return b.String()
}
