package dsp

import (
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/winramp/winramp-dsp/internal/audio/chunk"
	"github.com/winramp/winramp-dsp/internal/audio/dsp/preset"
)

var stereo44k = chunk.Format{SampleRate: 44100, Channels: 2}

func sineChunk(freq, amp float64, frames, channels, rate int) *chunk.Chunk {
	c := chunk.New(frames, channels, rate)
	data := c.Data()
	for i := 0; i < frames; i++ {
		v := float32(amp * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
		for ch := 0; ch < channels; ch++ {
			data[i*channels+ch] = v
		}
	}
	return c
}

func noiseChunk(seed uint64, frames, channels, rate int) *chunk.Chunk {
	rng := rand.New(rand.NewPCG(seed, seed+1))
	c := chunk.New(frames, channels, rate)
	for i := range c.Data() {
		c.Data()[i] = float32(rng.Float64()*2-1) * 0.5
	}
	return c
}

func constantChunk(v float32, frames, channels, rate int) *chunk.Chunk {
	c := chunk.New(frames, channels, rate)
	for i := range c.Data() {
		c.Data()[i] = v
	}
	return c
}

func impulseChunk(frames, channels, rate int) *chunk.Chunk {
	c := chunk.New(frames, channels, rate)
	for ch := 0; ch < channels; ch++ {
		c.Data()[ch] = 1
	}
	return c
}

// rms over frames [from, to) of one channel.
func channelRMS(c *chunk.Chunk, ch, from, to int) float64 {
	data := c.Data()
	channels := c.Channels()
	sum := 0.0
	for i := from; i < to; i++ {
		v := float64(data[i*channels+ch])
		sum += v * v
	}
	return math.Sqrt(sum / float64(to-from))
}

func requireFinite(t *testing.T, c *chunk.Chunk) {
	t.Helper()
	for i, v := range c.Data() {
		f := float64(v)
		require.False(t, math.IsNaN(f) || math.IsInf(f, 0), "sample %d is %v", i, v)
	}
}

func mustInstantiate(t *testing.T, e Effect, format chunk.Format) {
	t.Helper()
	require.NoError(t, e.Instantiate(format))
	require.Equal(t, StateInstantiated, e.State())
}

// probeEffect records how the chain drives it.
type probeEffect struct {
	base

	instantiations int
	runs           int
	declineMono    bool
	onRun          func(c *chunk.Chunk)
	latency        time.Duration
	invalid        error
}

func newProbe(name string) *probeEffect {
	p := &probeEffect{}
	p.setup(EffectGate, name, "test probe", 1, withCommon())
	return p
}

func (p *probeEffect) Params() EffectParams   { return p.params(p.latency) }
func (p *probeEffect) Latency() time.Duration { return p.latency }
func (p *probeEffect) Validate() error        { return p.invalid }
func (p *probeEffect) Reset()                 { p.resetState() }

func (p *probeEffect) Instantiate(format chunk.Format) error {
	p.instantiations++
	if err := p.checkFormat(format); err != nil {
		return err
	}
	if p.declineMono && format.Channels == 1 {
		p.state.Store(int32(StateUninstantiated))
		return errMonoDeclined
	}
	p.instantiated(format)
	return nil
}

func (p *probeEffect) Run(c *chunk.Chunk) {
	if !p.active(c) {
		return
	}
	p.runs++
	if p.onRun != nil {
		p.onRun(c)
	}
}

func (p *probeEffect) GetPreset(pr *preset.Preset)       { p.writePreset(pr) }
func (p *probeEffect) SetPreset(pr *preset.Preset) error { return p.checkPreset(pr) }

func (p *probeEffect) SetParam(name string, value float64) error {
	if p.setCommon(name, value) {
		return nil
	}
	_, err := p.resolve(name, value)
	return err
}

func (p *probeEffect) Param(name string) (float64, bool) { return p.common(name) }

type probeError string

func (e probeError) Error() string { return string(e) }

const errMonoDeclined = probeError("mono not supported")
