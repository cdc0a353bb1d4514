package dsp

import (
	"fmt"
	"math"
	"math/cmplx"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cwbudde/algo-vecmath"

	"github.com/winramp/winramp-dsp/internal/audio/chunk"
	"github.com/winramp/winramp-dsp/internal/audio/dsp/filter"
	"github.com/winramp/winramp-dsp/internal/audio/dsp/preset"
	"github.com/winramp/winramp-dsp/internal/domain"
)

const (
	MaxBands = 32

	MinBandFrequency = 10.0
	MaxBandFrequency = 20000.0
	MaxBandGain      = 24.0
	MinBandwidth     = 0.1
	MaxBandwidth     = 10.0

	// Bands whose gain is closer to 0 dB than this are not processed.
	negligibleGainDB = 0.01

	// Coefficients are computed at this rate until the first Instantiate.
	defaultSampleRate = 44100
)

// Band is one section of the equalizer. Bandwidth is in octaves for peaking
// bands, the slope for shelves and Q for the pass filters.
type Band struct {
	Name      string
	Type      filter.Kind
	Frequency float64 // Hz
	Gain      float64 // dB
	Bandwidth float64
	Enabled   bool
}

// NewBand returns an enabled band with its values clamped into range.
func NewBand(kind filter.Kind, freq, gainDB, bandwidth float64) Band {
	return Band{
		Type:      kind,
		Frequency: freq,
		Gain:      gainDB,
		Bandwidth: bandwidth,
		Enabled:   true,
	}.Clamped()
}

// Clamped returns b with frequency, gain and bandwidth forced into range.
func (b Band) Clamped() Band {
	b.Frequency = clamp(b.Frequency, MinBandFrequency, MaxBandFrequency)
	b.Gain = clamp(b.Gain, -MaxBandGain, MaxBandGain)
	b.Bandwidth = clamp(b.Bandwidth, MinBandwidth, MaxBandwidth)
	return b
}

func (b Band) negligible() bool {
	return b.Type.HasGain() && math.Abs(b.Gain) < negligibleGainDB
}

func (b Band) coefficients(sampleRate float64) filter.Coefficients {
	return filter.Design(b.Type, filter.ClampFrequency(b.Frequency, sampleRate), b.Gain, b.Bandwidth, sampleRate)
}

// eqSnapshot is immutable once published.
type eqSnapshot struct {
	bands        []Band
	coeffs       []filter.Coefficients
	live         []bool
	sampleRate   float64
	outputGainDB float64
	outputGain   float32
	// layout changes whenever bands are added, removed or replaced; the
	// filter history only lines up with the snapshot it was built for.
	layout uint64
}

func buildSnapshot(bands []Band, sampleRate, outputGainDB float64) *eqSnapshot {
	s := &eqSnapshot{
		bands:        bands,
		coeffs:       make([]filter.Coefficients, len(bands)),
		live:         make([]bool, len(bands)),
		sampleRate:   sampleRate,
		outputGainDB: outputGainDB,
		outputGain:   float32(filter.DBToLinear(outputGainDB)),
	}
	for i, b := range bands {
		s.coeffs[i] = b.coefficients(sampleRate)
		s.live[i] = b.Enabled && !b.negligible()
	}
	return s
}

func (s *eqSnapshot) copyBands() []Band {
	out := make([]Band, len(s.bands))
	copy(out, s.bands)
	return out
}

func (s *eqSnapshot) response(freq float64) complex128 {
	h := complex(1, 0)
	for i, b := range s.bands {
		if b.Enabled {
			h *= s.coeffs[i].Response(freq, s.sampleRate)
		}
	}
	return h
}

// Equalizer is a cascade of up to MaxBands biquad sections. Control-path
// edits build a new snapshot and publish it atomically; Run only ever loads
// the current snapshot.
type Equalizer struct {
	base

	mu   sync.Mutex // serializes edits
	snap atomic.Pointer[eqSnapshot]

	// Processing path state, sized at Instantiate.
	hist       []filter.History
	channels   int
	histLayout uint64
}

// NewEqualizer returns a 10-band ISO equalizer with a flat response.
func NewEqualizer() *Equalizer {
	eq := &Equalizer{}
	eq.setup(EffectEqualizer, "Equalizer", "Parametric equalizer", 5, withCommon(
		ConfigParam{Name: "output_gain", Description: "Overall Gain", Default: 0, Min: -MaxBandGain, Max: MaxBandGain, Step: 0.1},
	))
	eq.snap.Store(buildSnapshot(isoBands(isoFrequencies[:], 1), defaultSampleRate, 0))
	return eq
}

// NewEqualizerWithBands returns an equalizer holding bands, clamped.
func NewEqualizerWithBands(bands []Band) (*Equalizer, error) {
	if len(bands) > MaxBands {
		return nil, fmt.Errorf("%w: %d > %d", domain.ErrTooManyBands, len(bands), MaxBands)
	}
	eq := NewEqualizer()
	next := make([]Band, len(bands))
	for i, b := range bands {
		next[i] = b.Clamped()
	}
	eq.snap.Store(buildSnapshot(next, defaultSampleRate, 0))
	return eq, nil
}

// update applies fn to a copy of the current bands and publishes the result.
// structural marks edits that change band order or count, after which the
// filter history no longer lines up with the bands.
func (eq *Equalizer) update(structural bool, fn func(bands []Band, gainDB float64) ([]Band, float64, error)) error {
	eq.mu.Lock()
	defer eq.mu.Unlock()

	cur := eq.snap.Load()
	bands, gain, err := fn(cur.copyBands(), cur.outputGainDB)
	if err != nil {
		return err
	}
	next := buildSnapshot(bands, cur.sampleRate, gain)
	next.layout = cur.layout
	if structural {
		next.layout++
	}
	eq.snap.Store(next)
	return nil
}

func (eq *Equalizer) editBand(index int, fn func(b *Band)) error {
	return eq.update(false, func(bands []Band, gain float64) ([]Band, float64, error) {
		if index < 0 || index >= len(bands) {
			return nil, 0, fmt.Errorf("%w: band %d of %d", domain.ErrIndexOutOfRange, index, len(bands))
		}
		fn(&bands[index])
		bands[index] = bands[index].Clamped()
		return bands, gain, nil
	})
}

func (eq *Equalizer) Params() EffectParams {
	return eq.params(eq.Latency())
}

// Latency is zero: biquad sections add no block delay.
func (eq *Equalizer) Latency() time.Duration {
	return 0
}

// Instantiate recomputes every band for the format's sample rate and sizes
// the per-channel history.
func (eq *Equalizer) Instantiate(format chunk.Format) error {
	if err := eq.checkFormat(format); err != nil {
		return err
	}

	eq.mu.Lock()
	cur := eq.snap.Load()
	next := buildSnapshot(cur.copyBands(), float64(format.SampleRate), cur.outputGainDB)
	next.layout = cur.layout
	eq.snap.Store(next)
	eq.mu.Unlock()

	need := MaxBands * format.Channels
	if cap(eq.hist) < need {
		eq.hist = make([]filter.History, need)
	} else {
		eq.hist = eq.hist[:need]
		clear(eq.hist)
	}
	eq.channels = format.Channels
	eq.histLayout = next.layout

	eq.instantiated(format)
	return nil
}

// Run filters every channel through each live band in order.
func (eq *Equalizer) Run(c *chunk.Chunk) {
	if !eq.active(c) {
		return
	}
	snap := eq.snap.Load()
	if snap.layout != eq.histLayout {
		clear(eq.hist)
		eq.histLayout = snap.layout
	}

	data := c.Data()
	channels := eq.channels
	for i := range snap.bands {
		if !snap.live[i] {
			continue
		}
		coeff := &snap.coeffs[i]
		hist := eq.hist[i*channels : (i+1)*channels]
		for ch := 0; ch < channels; ch++ {
			coeff.ProcessStrided(&hist[ch], data, ch, channels)
		}
	}

	if snap.outputGain != 1 {
		c.ApplyGain(snap.outputGain)
	}
}

// Reset clears the filter history of every band.
func (eq *Equalizer) Reset() {
	clear(eq.hist)
	eq.resetState()
}

// Validate reports bands the current sample rate cannot represent.
func (eq *Equalizer) Validate() error {
	snap := eq.snap.Load()
	if len(snap.bands) > MaxBands {
		return fmt.Errorf("%w: %d bands", domain.ErrTooManyBands, len(snap.bands))
	}
	nyquist := snap.sampleRate / 2
	var problems []string
	for i, b := range snap.bands {
		if !b.Enabled {
			continue
		}
		if b.Frequency >= nyquist {
			problems = append(problems, fmt.Sprintf("band %d at %.0f Hz is above Nyquist (%.0f Hz)", i, b.Frequency, nyquist))
		}
		if !snap.coeffs[i].IsStable() {
			problems = append(problems, fmt.Sprintf("band %d is unstable", i))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", domain.ErrInvalidParameter, strings.Join(problems, "; "))
	}
	return nil
}

// AddBand appends b and returns its index.
func (eq *Equalizer) AddBand(b Band) (int, error) {
	index := -1
	err := eq.update(true, func(bands []Band, gain float64) ([]Band, float64, error) {
		if len(bands) >= MaxBands {
			return nil, 0, fmt.Errorf("%w: limit is %d", domain.ErrTooManyBands, MaxBands)
		}
		index = len(bands)
		return append(bands, b.Clamped()), gain, nil
	})
	return index, err
}

func (eq *Equalizer) RemoveBand(index int) error {
	return eq.update(true, func(bands []Band, gain float64) ([]Band, float64, error) {
		if index < 0 || index >= len(bands) {
			return nil, 0, fmt.Errorf("%w: band %d of %d", domain.ErrIndexOutOfRange, index, len(bands))
		}
		return append(bands[:index], bands[index+1:]...), gain, nil
	})
}

func (eq *Equalizer) ClearBands() {
	_ = eq.update(true, func(_ []Band, gain float64) ([]Band, float64, error) {
		return nil, gain, nil
	})
}

// Band returns a copy of band index.
func (eq *Equalizer) Band(index int) (Band, bool) {
	snap := eq.snap.Load()
	if index < 0 || index >= len(snap.bands) {
		return Band{}, false
	}
	return snap.bands[index], true
}

// Bands returns a copy of every band.
func (eq *Equalizer) Bands() []Band {
	return eq.snap.Load().copyBands()
}

func (eq *Equalizer) BandCount() int {
	return len(eq.snap.Load().bands)
}

func (eq *Equalizer) SetBand(index int, b Band) error {
	return eq.editBand(index, func(dst *Band) { *dst = b })
}

func (eq *Equalizer) SetBandFrequency(index int, freq float64) error {
	return eq.editBand(index, func(b *Band) { b.Frequency = freq })
}

func (eq *Equalizer) SetBandGain(index int, gainDB float64) error {
	return eq.editBand(index, func(b *Band) { b.Gain = gainDB })
}

func (eq *Equalizer) SetBandBandwidth(index int, bandwidth float64) error {
	return eq.editBand(index, func(b *Band) { b.Bandwidth = bandwidth })
}

func (eq *Equalizer) SetBandEnabled(index int, enabled bool) error {
	return eq.editBand(index, func(b *Band) { b.Enabled = enabled })
}

func (eq *Equalizer) SetBandType(index int, kind filter.Kind) error {
	return eq.editBand(index, func(b *Band) { b.Type = kind })
}

// SetAllBandsGain sets every band to gainDB.
func (eq *Equalizer) SetAllBandsGain(gainDB float64) {
	_ = eq.update(false, func(bands []Band, gain float64) ([]Band, float64, error) {
		for i := range bands {
			bands[i].Gain = gainDB
			bands[i] = bands[i].Clamped()
		}
		return bands, gain, nil
	})
}

// SetGains assigns gains to the first len(gains) bands.
func (eq *Equalizer) SetGains(gains []float64) {
	_ = eq.update(false, func(bands []Band, gain float64) ([]Band, float64, error) {
		for i := 0; i < len(gains) && i < len(bands); i++ {
			bands[i].Gain = gains[i]
			bands[i] = bands[i].Clamped()
		}
		return bands, gain, nil
	})
}

// Gains returns the gain of every band.
func (eq *Equalizer) Gains() []float64 {
	snap := eq.snap.Load()
	gains := make([]float64, len(snap.bands))
	for i, b := range snap.bands {
		gains[i] = b.Gain
	}
	return gains
}

// ResetAllBands returns every band to 0 dB and removes the output trim.
func (eq *Equalizer) ResetAllBands() {
	_ = eq.update(false, func(bands []Band, _ float64) ([]Band, float64, error) {
		for i := range bands {
			bands[i].Gain = 0
		}
		return bands, 0, nil
	})
}

// CopyBandSettings copies frequency, gain, bandwidth, type and enabled state
// from band src to band dst.
func (eq *Equalizer) CopyBandSettings(src, dst int) error {
	return eq.update(false, func(bands []Band, gain float64) ([]Band, float64, error) {
		if src < 0 || src >= len(bands) || dst < 0 || dst >= len(bands) {
			return nil, 0, fmt.Errorf("%w: copy %d -> %d of %d", domain.ErrIndexOutOfRange, src, dst, len(bands))
		}
		name := bands[dst].Name
		bands[dst] = bands[src]
		bands[dst].Name = name
		return bands, gain, nil
	})
}

// SetOutputGain sets the trim applied after all bands, in dB.
func (eq *Equalizer) SetOutputGain(gainDB float64) {
	_ = eq.update(false, func(bands []Band, _ float64) ([]Band, float64, error) {
		return bands, clamp(gainDB, -MaxBandGain, MaxBandGain), nil
	})
}

func (eq *Equalizer) OutputGain() float64 {
	return eq.snap.Load().outputGainDB
}

// AutoGainCompensate sets the output trim to cancel the largest boost.
func (eq *Equalizer) AutoGainCompensate() {
	_ = eq.update(false, func(bands []Band, _ float64) ([]Band, float64, error) {
		peak := 0.0
		for _, b := range bands {
			if b.Enabled && b.Type.HasGain() && b.Gain > peak {
				peak = b.Gain
			}
		}
		return bands, -peak, nil
	})
}

// Response is the product of the enabled bands' responses at freq.
func (eq *Equalizer) Response(freq float64) complex128 {
	return eq.snap.Load().response(freq)
}

func (eq *Equalizer) ResponseDB(freq float64) float64 {
	return filter.LinearToDB(cmplx.Abs(eq.Response(freq)))
}

// ResponseCurve returns the magnitude in dB at each frequency.
func (eq *Equalizer) ResponseCurve(freqs []float64) []float64 {
	snap := eq.snap.Load()
	re := make([]float64, len(freqs))
	im := make([]float64, len(freqs))
	for i, f := range freqs {
		h := snap.response(f)
		re[i], im[i] = real(h), imag(h)
	}

	mag := make([]float64, len(freqs))
	vecmath.Magnitude(mag, re, im)
	for i, m := range mag {
		mag[i] = filter.LinearToDB(m)
	}
	return mag
}

// SetParam accepts output_gain plus per-band keys of the form
// band.<index>.<frequency|gain|bandwidth|enabled|type>.
func (eq *Equalizer) SetParam(name string, value float64) error {
	if eq.setCommon(name, value) {
		return nil
	}
	if index, field, ok := parseBandKey(name); ok {
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return fmt.Errorf("%w: %s=%v", domain.ErrInvalidParameter, name, value)
		}
		switch field {
		case "frequency":
			return eq.SetBandFrequency(index, value)
		case "gain":
			return eq.SetBandGain(index, value)
		case "bandwidth":
			return eq.SetBandBandwidth(index, value)
		case "enabled":
			return eq.SetBandEnabled(index, value >= 0.5)
		case "type":
			if value < float64(filter.Peak) || value > float64(filter.HighPass) {
				return fmt.Errorf("%w: %s=%v", domain.ErrInvalidParameter, name, value)
			}
			return eq.SetBandType(index, filter.Kind(int(value)))
		}
		return fmt.Errorf("%w: %q", domain.ErrUnknownParameter, name)
	}

	v, err := eq.resolve(name, value)
	if err != nil {
		return err
	}
	eq.SetOutputGain(v)
	return nil
}

func (eq *Equalizer) Param(name string) (float64, bool) {
	if v, ok := eq.common(name); ok {
		return v, true
	}
	if index, field, ok := parseBandKey(name); ok {
		b, ok := eq.Band(index)
		if !ok {
			return 0, false
		}
		switch field {
		case "frequency":
			return b.Frequency, true
		case "gain":
			return b.Gain, true
		case "bandwidth":
			return b.Bandwidth, true
		case "enabled":
			return boolFloat(b.Enabled), true
		case "type":
			return float64(b.Type), true
		}
		return 0, false
	}
	if name == "output_gain" {
		return eq.OutputGain(), true
	}
	return 0, false
}

func bandKey(index int, field string) string {
	return fmt.Sprintf("band.%02d.%s", index, field)
}

func parseBandKey(name string) (int, string, bool) {
	parts := strings.Split(name, ".")
	if len(parts) != 3 || parts[0] != "band" {
		return 0, "", false
	}
	index, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, "", false
	}
	return index, parts[2], true
}

// GetPreset writes the band layout into p.
func (eq *Equalizer) GetPreset(p *preset.Preset) {
	snap := eq.snap.Load()
	eq.writePreset(p)
	p.SetFloat("output_gain", snap.outputGainDB)
	p.SetFloat("band_count", float64(len(snap.bands)))
	for i, b := range snap.bands {
		p.SetFloat(bandKey(i, "frequency"), b.Frequency)
		p.SetFloat(bandKey(i, "gain"), b.Gain)
		p.SetFloat(bandKey(i, "bandwidth"), b.Bandwidth)
		p.SetFloat(bandKey(i, "enabled"), boolFloat(b.Enabled))
		p.SetString(bandKey(i, "type"), b.Type.String())
		if b.Name != "" {
			p.SetString(bandKey(i, "name"), b.Name)
		}
	}
}

// SetPreset replaces the band layout with the one stored in p. Nothing
// changes if p is malformed.
func (eq *Equalizer) SetPreset(p *preset.Preset) error {
	if err := eq.checkPreset(p); err != nil {
		return err
	}

	count := int(p.FloatOr("band_count", -1))
	if count < 0 {
		return fmt.Errorf("%w: %q has no band_count", domain.ErrInvalidPreset, p.Name())
	}
	if count > MaxBands {
		return fmt.Errorf("%w: %d bands", domain.ErrTooManyBands, count)
	}

	bands := make([]Band, count)
	for i := range bands {
		freq, ok := p.Float(bandKey(i, "frequency"))
		if !ok {
			return fmt.Errorf("%w: %q lacks band %d", domain.ErrInvalidPreset, p.Name(), i)
		}
		kind, err := filter.ParseKind(p.StringOr(bandKey(i, "type"), "peak"))
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrInvalidPreset, err)
		}
		bands[i] = Band{
			Name:      p.StringOr(bandKey(i, "name"), ""),
			Type:      kind,
			Frequency: freq,
			Gain:      p.FloatOr(bandKey(i, "gain"), 0),
			Bandwidth: p.FloatOr(bandKey(i, "bandwidth"), 1),
			Enabled:   p.FloatOr(bandKey(i, "enabled"), 1) >= 0.5,
		}.Clamped()
	}
	outputGain := clamp(p.FloatOr("output_gain", 0), -MaxBandGain, MaxBandGain)

	if err := eq.update(true, func([]Band, float64) ([]Band, float64, error) {
		return bands, outputGain, nil
	}); err != nil {
		return err
	}
	eq.readCommon(p)
	return nil
}
