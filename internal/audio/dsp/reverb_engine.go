package dsp

import (
	"math"
	"math/rand/v2"

	"github.com/cwbudde/algo-vecmath"

	"github.com/winramp/winramp-dsp/internal/audio/dsp/filter"
)

// Comb lengths are tuned at this rate and scaled to the running one.
const referenceRate = 44100.0

var (
	roomCombTuning  = []float64{1553, 1613, 1759, 1831, 1933, 2011, 2087, 2153}
	hallCombTuning  = []float64{1777, 1847, 1913, 1993, 2053, 2111, 2179, 2237, 2293, 2357, 2411, 2473}
	plateAllpassLen = []float64{149, 163, 181, 197, 211, 227, 241, 257, 271, 283, 293, 307, 317, 331, 347, 359}

	// Rows mix the first four channels of a plate.
	plateMatrix = [4][4]float64{
		{0.5, 0.3, 0.1, 0.1},
		{0.1, 0.5, 0.3, 0.1},
		{0.1, 0.1, 0.5, 0.3},
		{0.3, 0.1, 0.1, 0.5},
	}
)

const (
	earlyMix      = 0.3
	maxAllpassFB  = 0.9
	plateChannels = 4
)

// reverbEngine is implemented by roomEngine, hallEngine and plateEngine only.
// process reads the dry signal from in and writes the wet signal to out; in
// may be modified. Nothing in configure or process allocates.
type reverbEngine interface {
	configure(p ReverbParameters)
	process(in, out [][]float64, n int, scratch []float64)
	reset()
	modulationRate(p ReverbParameters) float64
}

// delayLine is a fixed-capacity circular buffer read at an integer offset.
type delayLine struct {
	buf []float64
	pos int
}

func newDelayLine(capacity int) delayLine {
	if capacity < 1 {
		capacity = 1
	}
	return delayLine{buf: make([]float64, capacity)}
}

func (d *delayLine) write(x float64) {
	d.buf[d.pos] = x
	d.pos++
	if d.pos == len(d.buf) {
		d.pos = 0
	}
}

// tap returns the sample written delay writes ago; tap(0) is the newest.
func (d *delayLine) tap(delay int) float64 {
	i := d.pos - 1 - delay
	for i < 0 {
		i += len(d.buf)
	}
	return d.buf[i]
}

func (d *delayLine) reset() {
	clear(d.buf)
	d.pos = 0
}

// earlyReflections is a tapped delay line; each tap is one first-order echo.
type earlyReflections struct {
	line  delayLine
	taps  []int
	gains []float64
}

func newEarlyReflections(tapsMS, gains []float64, sampleRate int) *earlyReflections {
	er := &earlyReflections{
		taps:  make([]int, len(tapsMS)),
		gains: gains,
	}
	longest := 0
	for i, ms := range tapsMS {
		er.taps[i] = msToSamples(ms, sampleRate)
		longest = max(longest, er.taps[i])
	}
	er.line = newDelayLine(longest + 1)
	return er
}

// process returns the reflections of the signal so far, then stores x.
func (er *earlyReflections) process(x float64) float64 {
	out := 0.0
	for i, t := range er.taps {
		out += er.line.tap(t-1) * er.gains[i]
	}
	er.line.write(x)
	return out
}

func (er *earlyReflections) reset() {
	er.line.reset()
}

// modulator is a sine LFO with a small amount of noise.
type modulator struct {
	rate, depth float64
	phase       float64
	step        float64
	rng         *rand.Rand
}

func newModulator(sampleRate int, seed uint64) *modulator {
	return &modulator{
		step: 1 / float64(sampleRate),
		rng:  rand.New(rand.NewPCG(seed, 0x9e3779b97f4a7c15)),
	}
}

func (m *modulator) set(rate, depth float64) {
	m.rate = clamp(rate, MinModulationRate, MaxModulationRate*2)
	m.depth = clamp(depth, 0, 1)
}

func (m *modulator) next() float64 {
	lfo := m.depth * math.Sin(2*math.Pi*m.phase)
	m.phase += m.rate * m.step
	if m.phase >= 1 {
		m.phase -= 1
	}
	noise := 0.1 * m.depth * (2*m.rng.Float64() - 1)
	return lfo + noise
}

func (m *modulator) reset() {
	m.phase = 0
}

// tankTuning describes a comb-and-allpass reverb.
type tankTuning struct {
	combs        []float64
	combOffset   float64 // delay scale at room size 0
	combSpread   float64 // extra scale for the last comb at room size 1
	feedbackBase float64
	feedbackRoom float64
	allpassMS    []float64
	allpassFB    float64
	earlyMS      []float64
	earlyGains   []float64
	latencyMS    float64
}

var (
	roomTuning = tankTuning{
		combs:        roomCombTuning,
		combOffset:   0.8,
		combSpread:   0.4,
		feedbackBase: 0.84,
		feedbackRoom: 0.2,
		allpassMS:    []float64{100, 150, 200, 250},
		allpassFB:    0.5,
		earlyMS:      []float64{1, 2, 3, 5},
		earlyGains:   []float64{0.8, 0.6, 0.4, 0.2},
	}
	hallTuning = tankTuning{
		combs:        hallCombTuning,
		combOffset:   0.9,
		combSpread:   0.2,
		feedbackBase: 0.88,
		feedbackRoom: 0.15,
		allpassMS:    []float64{150, 225, 300, 375, 450, 525},
		allpassFB:    0.6,
		earlyMS:      []float64{5, 11, 17, 23, 31},
		earlyGains:   []float64{0.7, 0.6, 0.5, 0.4, 0.3},
		latencyMS:    50,
	}
)

// combDelay is the length in samples of comb i. Later combs stretch more as
// the room grows.
func (t tankTuning) combDelay(i int, roomSize float64, sampleRate int) int {
	last := float64(len(t.combs) - 1)
	spread := t.combOffset + t.combSpread*(float64(i)/last)*roomSize
	return int(math.Round(t.combs[i] * spread * float64(sampleRate) / referenceRate))
}

type tankChannel struct {
	combs     []*filter.Comb
	allpasses []*filter.Allpass
	early     *earlyReflections
}

// tank is the comb bank shared by the room and hall variants.
type tank struct {
	tuning     tankTuning
	sampleRate int
	channels   []tankChannel
	norm       float64
}

func newTank(t tankTuning, sampleRate, channels int) tank {
	scale := float64(sampleRate) / referenceRate
	tk := tank{
		tuning:     t,
		sampleRate: sampleRate,
		channels:   make([]tankChannel, channels),
		norm:       1 / float64(len(t.combs)),
	}
	for ch := range tk.channels {
		c := tankChannel{
			combs:     make([]*filter.Comb, len(t.combs)),
			allpasses: make([]*filter.Allpass, len(t.allpassMS)),
			early:     newEarlyReflections(t.earlyMS, t.earlyGains, sampleRate),
		}
		for i, length := range t.combs {
			// Capacity for the largest room.
			c.combs[i] = filter.NewComb(int(math.Ceil(length*(t.combOffset+t.combSpread)*scale)) + 1)
		}
		for i, ms := range t.allpassMS {
			c.allpasses[i] = filter.NewAllpass(msToSamples(ms, sampleRate))
		}
		tk.channels[ch] = c
	}
	return tk
}

func (tk *tank) configure(p ReverbParameters) {
	feedback := tk.tuning.feedbackBase - tk.tuning.feedbackRoom*p.RoomSize
	apFeedback := allpassFeedback(tk.tuning.allpassFB, p.Diffusion)

	for ch := range tk.channels {
		c := &tk.channels[ch]
		for i, comb := range c.combs {
			comb.SetDelay(tk.tuning.combDelay(i, p.RoomSize, tk.sampleRate))
			comb.SetFeedback(feedback)
			comb.SetDamping(p.Damping)
		}
		for _, ap := range c.allpasses {
			ap.SetFeedback(apFeedback)
		}
	}
}

func (tk *tank) process(in, out [][]float64, n int, scratch []float64) {
	tmp := scratch[:n]
	for ch := range in {
		c := &tk.channels[ch]
		x := in[ch][:n]
		acc := out[ch][:n]

		for i, v := range x {
			x[i] = v + earlyMix*c.early.process(v)
		}

		clear(acc)
		for _, comb := range c.combs {
			comb.ProcessInto(tmp, x)
			vecmath.AddBlockInPlace(acc, tmp)
		}
		vecmath.ScaleBlock(acc, acc, tk.norm)

		for _, ap := range c.allpasses {
			ap.ProcessBlock(acc)
		}
	}
}

func (tk *tank) reset() {
	for ch := range tk.channels {
		c := &tk.channels[ch]
		for _, comb := range c.combs {
			comb.Reset()
		}
		for _, ap := range c.allpasses {
			ap.Reset()
		}
		c.early.reset()
	}
}

func (tk *tank) modulationRate(p ReverbParameters) float64 { return p.ModulationRate }

type roomEngine struct{ tank }

func newRoomEngine(sampleRate, channels int) *roomEngine {
	return &roomEngine{tank: newTank(roomTuning, sampleRate, channels)}
}

type hallEngine struct{ tank }

func newHallEngine(sampleRate, channels int) *hallEngine {
	return &hallEngine{tank: newTank(hallTuning, sampleRate, channels)}
}

// plateEngine diffuses across channels with a fixed matrix and then through
// a long allpass chain per channel.
type plateEngine struct {
	allpasses [][]*filter.Allpass
	diffusion float64
}

func newPlateEngine(sampleRate, channels int) *plateEngine {
	scale := float64(sampleRate) / referenceRate
	pe := &plateEngine{allpasses: make([][]*filter.Allpass, channels)}
	for ch := range pe.allpasses {
		chain := make([]*filter.Allpass, len(plateAllpassLen))
		for i, n := range plateAllpassLen {
			chain[i] = filter.NewAllpass(int(math.Round(n * scale)))
		}
		pe.allpasses[ch] = chain
	}
	return pe
}

func (pe *plateEngine) configure(p ReverbParameters) {
	pe.diffusion = p.Diffusion
	fb := allpassFeedback(0.7, p.Diffusion)
	for _, chain := range pe.allpasses {
		for _, ap := range chain {
			ap.SetFeedback(fb)
		}
	}
}

func (pe *plateEngine) process(in, out [][]float64, n int, _ []float64) {
	channels := len(in)
	mixed := min(channels, plateChannels)
	d := pe.diffusion

	var v [plateChannels]float64
	for i := 0; i < n; i++ {
		for j := 0; j < mixed; j++ {
			v[j] = in[j][i]
		}
		for j := 0; j < mixed; j++ {
			sum := 0.0
			for k := 0; k < mixed; k++ {
				sum += plateMatrix[j][k] * v[k]
			}
			out[j][i] = (1-d)*v[j] + d*sum
		}
		for j := mixed; j < channels; j++ {
			out[j][i] = in[j][i]
		}
	}

	for ch := 0; ch < channels; ch++ {
		buf := out[ch][:n]
		for _, ap := range pe.allpasses[ch] {
			ap.ProcessBlock(buf)
		}
	}
}

func (pe *plateEngine) reset() {
	for _, chain := range pe.allpasses {
		for _, ap := range chain {
			ap.Reset()
		}
	}
}

func (pe *plateEngine) modulationRate(p ReverbParameters) float64 { return 2 * p.ModulationRate }

// allpassFeedback scales the nominal feedback by diffusion, with the default
// diffusion of 0.7 giving the nominal value.
func allpassFeedback(nominal, diffusion float64) float64 {
	return clamp(nominal*diffusion/DefaultDiffusion, 0, maxAllpassFB)
}

func msToSamples(ms float64, sampleRate int) int {
	return max(1, int(math.Round(ms*float64(sampleRate)/1000)))
}
