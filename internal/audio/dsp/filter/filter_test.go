package filter

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const rate = 44100.0

func TestPeakingCoefficients_GainAtCenter(t *testing.T) {
	tests := []struct {
		name   string
		freq   float64
		gain   float64
		octave float64
	}{
		{"boost 1k", 1000, 6, 1},
		{"cut 1k", 1000, -6, 1},
		{"narrow boost", 250, 12, 0.3},
		{"wide cut", 4000, -18, 3},
		{"max boost", 63, 24, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := PeakingCoefficients(tt.freq, tt.gain, tt.octave, rate)
			assert.InDelta(t, tt.gain, c.MagnitudeDB(tt.freq, rate), 0.01)
			assert.True(t, c.IsStable())
		})
	}
}

func TestPeakingCoefficients_ZeroGainIsIdentity(t *testing.T) {
	c := PeakingCoefficients(1000, 0, 1, rate)
	for _, f := range []float64{20, 440, 1000, 10000, 20000} {
		assert.InDelta(t, 0, c.MagnitudeDB(f, rate), 1e-9)
	}
}

func TestShelves(t *testing.T) {
	low := LowShelfCoefficients(200, 6, 1, rate)
	assert.InDelta(t, 6, low.MagnitudeDB(5, rate), 0.05)
	assert.InDelta(t, 0, low.MagnitudeDB(15000, rate), 0.05)

	high := HighShelfCoefficients(5000, -9, 1, rate)
	assert.InDelta(t, -9, high.MagnitudeDB(21000, rate), 0.1)
	assert.InDelta(t, 0, high.MagnitudeDB(30, rate), 0.05)
}

func TestPassFilters(t *testing.T) {
	lp := LowPassCoefficients(1000, math.Sqrt2/2, rate)
	assert.InDelta(t, 0, lp.MagnitudeDB(10, rate), 0.01)
	assert.InDelta(t, -3.01, lp.MagnitudeDB(1000, rate), 0.05)
	assert.Less(t, lp.MagnitudeDB(10000, rate), -30.0)

	hp := HighPassCoefficients(1000, math.Sqrt2/2, rate)
	assert.InDelta(t, 0, hp.MagnitudeDB(20000, rate), 0.05)
	assert.Less(t, hp.MagnitudeDB(50, rate), -40.0)
}

func TestDesign_ClampsAboveNyquist(t *testing.T) {
	c := Design(Peak, 30000, 6, 1, rate)
	for _, v := range []float64{c.B0, c.B1, c.B2, c.A1, c.A2} {
		assert.False(t, math.IsNaN(v))
	}
	assert.Equal(t, 0.499*rate, ClampFrequency(30000, rate))
	assert.Equal(t, 1000.0, ClampFrequency(1000, rate))
}

func TestBiquad_IdentityPassesThrough(t *testing.T) {
	b := NewBiquad(Identity)
	buf := []float32{0.5, -0.25, 1, 0}
	want := append([]float32(nil), buf...)
	b.ProcessBlock(buf)
	assert.Equal(t, want, buf)
}

func TestBiquad_StridedMatchesMono(t *testing.T) {
	c := PeakingCoefficients(500, 9, 1, rate)
	mono := NewBiquad(c)
	left := NewBiquad(c)

	signal := make([]float32, 64)
	interleaved := make([]float32, 128)
	for i := range signal {
		v := float32(math.Sin(float64(i) * 0.3))
		signal[i] = v
		interleaved[2*i] = v
		interleaved[2*i+1] = 7
	}

	mono.ProcessBlock(signal)
	left.ProcessStrided(interleaved, 0, 2)

	for i := range signal {
		assert.Equal(t, signal[i], interleaved[2*i])
		assert.Equal(t, float32(7), interleaved[2*i+1])
	}
}

func TestBiquad_ResetKeepsCoefficients(t *testing.T) {
	c := LowPassCoefficients(2000, 0.7, rate)
	b := NewBiquad(c)
	b.Process(1)
	b.Process(0.5)
	b.Reset()

	assert.Equal(t, History{}, b.History)
	assert.Equal(t, c, b.Coefficients)
}

func TestComb_PureDelay(t *testing.T) {
	const delay = 5
	c := NewComb(16)
	c.SetDelay(delay)
	c.SetFeedback(0)
	c.SetDamping(0)

	in := make([]float64, 32)
	for i := range in {
		in[i] = float64(i + 1)
	}
	out := make([]float64, len(in))
	c.ProcessInto(out, in)

	for i := range out {
		if i < delay {
			assert.Zero(t, out[i])
		} else {
			assert.Equal(t, in[i-delay], out[i], "sample %d", i)
		}
	}
}

func TestComb_FeedbackDecays(t *testing.T) {
	c := NewComb(10)
	c.SetDelay(10)
	c.SetFeedback(0.5)

	buf := make([]float64, 31)
	buf[0] = 1
	c.ProcessBlock(buf)

	assert.InDelta(t, 1.0, buf[10], 1e-12)
	assert.InDelta(t, 0.5, buf[20], 1e-12)
	assert.InDelta(t, 0.25, buf[30], 1e-12)
}

func TestComb_SetDelayClamps(t *testing.T) {
	c := NewComb(8)
	c.SetDelay(100)
	assert.Equal(t, 8, c.Delay())
	c.SetDelay(0)
	assert.Equal(t, 1, c.Delay())
}

func TestAllpass_ImpulseResponse(t *testing.T) {
	a := NewAllpass(4)
	a.SetDelay(4)
	a.SetFeedback(0.5)

	buf := make([]float64, 9)
	buf[0] = 1
	a.ProcessBlock(buf)

	assert.Equal(t, -1.0, buf[0])
	assert.Equal(t, 1.0, buf[4])
	assert.Equal(t, 0.5, buf[8])

	a.Reset()
	assert.Equal(t, 0.0, a.Process(0))
}

func TestConversions(t *testing.T) {
	assert.InDelta(t, 69, FrequencyToMIDI(440), 1e-9)
	assert.InDelta(t, 880, MIDIToFrequency(81), 1e-9)
	assert.InDelta(t, 1, FrequencyToOctave(2000, 1000), 1e-12)
	assert.InDelta(t, 0.5, QToBandwidth(2), 1e-12)
	assert.InDelta(t, 2, BandwidthToQ(0.5), 1e-12)
	assert.InDelta(t, math.Sqrt2, OctaveToQ(1), 1e-12)
	assert.InDelta(t, 1, QToOctave(OctaveToQ(1)), 1e-9)
	assert.InDelta(t, 2, DBToLinear(20*math.Log10(2)), 1e-12)
	assert.InDelta(t, -6.0206, LinearToDB(0.5), 1e-4)
	assert.Equal(t, MinDB, LinearToDB(0))
}

func TestParseKind(t *testing.T) {
	for _, k := range []Kind{Peak, LowShelf, HighShelf, LowPass, HighPass} {
		got, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
	_, err := ParseKind("notch")
	assert.Error(t, err)
}
