package dsp

import (
	"fmt"
	"sort"

	"github.com/winramp/winramp-dsp/internal/audio/dsp/filter"
	"github.com/winramp/winramp-dsp/internal/domain"
)

// ISO 10-band centre frequencies.
var isoFrequencies = [10]float64{
	31.25, // Sub-bass
	62.5,  // Bass
	125,   // Low-mid
	250,   // Mid
	500,   // Mid
	1000,  // Mid-high
	2000,  // High-mid
	4000,  // Presence
	8000,  // Brilliance
	16000, // Air
}

// Third-octave centres from 20 Hz to 20 kHz.
var iso31Frequencies = [31]float64{
	20, 25, 31.5, 40, 50, 63, 80, 100, 125, 160,
	200, 250, 315, 400, 500, 630, 800, 1000, 1250, 1600,
	2000, 2500, 3150, 4000, 5000, 6300, 8000, 10000, 12500, 16000,
	20000,
}

// Gain curves applied over the ISO 10-band layout.
var eqCurves = map[string][10]float64{
	"classical":    {0, 0, 2, 1.5, 0, 0, 1, 1.5, 0, 0},
	"rock":         {3, 2, 0, 0, 0, 0, 2, 1, 0, 0},
	"jazz":         {0, 1.5, 1, 0, 0, 1, 1.5, 0, 0, 0},
	"pop":          {0, 0, 0, 0, 1, 2, 1.5, 0, 1, 0},
	"headphone":    {2, 1, 0, 0, 0, 0, 0, 0, 2, 1.5},
	"v_shape":      {3, 2, 0, 0, 0, 0, 0, 0, 3, 2},
	"smiley":       {4, 2, 0, 0, 0, 0, 0, 0, 4, 2},
	"loudness":     {2, 1, 0, 0, 0, 0, 0, 0, 1.5, 1},
	"dance":        {6, 5, 2, 0, 0, -2, -2, -2, 0, 0},
	"bass_boost":   {8, 6, 4, 2, 0, 0, 0, 0, 0, 0},
	"treble_boost": {0, 0, 0, 0, 0, 0, 2, 4, 6, 8},
	"vocal":        {-2, -3, -3, 1, 4, 4, 3, 1, 0, -1},
	"powerful":     {6, 5, 0, -2, 1, 3, 5, 6, 4, 0},
}

func isoBands(freqs []float64, bandwidth float64) []Band {
	bands := make([]Band, len(freqs))
	for i, f := range freqs {
		bands[i] = NewBand(filter.Peak, f, 0, bandwidth)
		bands[i].Name = fmt.Sprintf("ISO_%d", i)
	}
	return bands
}

// EqualizerPresets lists the names LoadPreset accepts.
func EqualizerPresets() []string {
	names := []string{"flat", "iso", "iso31"}
	curves := make([]string, 0, len(eqCurves))
	for name := range eqCurves {
		curves = append(curves, name)
	}
	sort.Strings(curves)
	return append(names, curves...)
}

// Presets returns the built-in preset names.
func (eq *Equalizer) Presets() []string {
	return EqualizerPresets()
}

// LoadPreset applies a built-in preset. "flat" zeroes the gain of the
// current bands and leaves their layout alone; "iso" and "iso31" replace the
// layout with flat ISO bands; the genre curves load the ISO 10-band layout
// with their gains.
func (eq *Equalizer) LoadPreset(name string) error {
	switch name {
	case "flat":
		if eq.BandCount() == 0 {
			return eq.loadLayout(isoBands(isoFrequencies[:], 1))
		}
		eq.SetAllBandsGain(0)
		return nil
	case "iso":
		return eq.loadLayout(isoBands(isoFrequencies[:], 1))
	case "iso31":
		return eq.loadLayout(isoBands(iso31Frequencies[:], 1.0/3))
	}

	gains, ok := eqCurves[name]
	if !ok {
		return fmt.Errorf("%w: equalizer preset %q", domain.ErrPresetNotFound, name)
	}
	bands := isoBands(isoFrequencies[:], 1)
	for i := range bands {
		bands[i].Gain = gains[i]
	}
	return eq.loadLayout(bands)
}

func (eq *Equalizer) loadLayout(bands []Band) error {
	return eq.update(true, func(_ []Band, gain float64) ([]Band, float64, error) {
		return bands, gain, nil
	})
}
