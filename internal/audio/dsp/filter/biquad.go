// Package filter provides the recursive filter building blocks used by the
// equalizer and reverb: biquad sections, feedback combs and Schroeder allpass
// stages.
package filter

import (
	"math"
	"math/cmplx"
)

// Coefficients of a second-order section normalised so that a0 == 1.
//
//	y[n] = B0*x[n] + B1*x[n-1] + B2*x[n-2] - A1*y[n-1] - A2*y[n-2]
type Coefficients struct {
	B0, B1, B2 float64
	A1, A2     float64
}

// Identity passes input through unchanged.
var Identity = Coefficients{B0: 1}

// History is the direct form I state of one channel.
type History struct {
	X1, X2 float64
	Y1, Y2 float64
}

// Reset clears the history.
func (h *History) Reset() {
	*h = History{}
}

// Process filters one sample through c using h as state.
func (c *Coefficients) Process(h *History, x float64) float64 {
	y := c.B0*x + c.B1*h.X1 + c.B2*h.X2 - c.A1*h.Y1 - c.A2*h.Y2
	h.X2 = h.X1
	h.X1 = x
	h.Y2 = h.Y1
	h.Y1 = y
	return y
}

// ProcessStrided filters one channel of an interleaved buffer in place,
// starting at offset and stepping by stride.
func (c *Coefficients) ProcessStrided(h *History, data []float32, offset, stride int) {
	b0, b1, b2 := c.B0, c.B1, c.B2
	a1, a2 := c.A1, c.A2
	x1, x2 := h.X1, h.X2
	y1, y2 := h.Y1, h.Y2

	for i := offset; i < len(data); i += stride {
		x0 := float64(data[i])
		y0 := b0*x0 + b1*x1 + b2*x2 - a1*y1 - a2*y2
		data[i] = float32(y0)

		x2 = x1
		x1 = x0
		y2 = y1
		y1 = y0
	}

	h.X1, h.X2 = x1, x2
	h.Y1, h.Y2 = y1, y2
}

// Response evaluates H(z) at z = e^{-jω} for freq at the given sample rate.
func (c *Coefficients) Response(freq, sampleRate float64) complex128 {
	w := 2 * math.Pi * freq / sampleRate
	z1 := cmplx.Exp(complex(0, -w))
	z2 := cmplx.Exp(complex(0, -2*w))

	num := complex(c.B0, 0) + complex(c.B1, 0)*z1 + complex(c.B2, 0)*z2
	den := complex(1, 0) + complex(c.A1, 0)*z1 + complex(c.A2, 0)*z2
	return num / den
}

// MagnitudeDB returns 20*log10(|H(f)|).
func (c *Coefficients) MagnitudeDB(freq, sampleRate float64) float64 {
	return LinearToDB(cmplx.Abs(c.Response(freq, sampleRate)))
}

// IsStable reports whether both poles lie inside the unit circle.
func (c *Coefficients) IsStable() bool {
	return math.Abs(c.A2) < 1 && math.Abs(c.A1) < 1+c.A2
}

// Biquad is a single-channel second-order IIR filter.
type Biquad struct {
	Coefficients
	History
}

// NewBiquad returns a filter with the given coefficients and cleared state.
func NewBiquad(c Coefficients) *Biquad {
	return &Biquad{Coefficients: c}
}

// SetCoefficients replaces the coefficients and keeps the history.
func (b *Biquad) SetCoefficients(c Coefficients) {
	b.Coefficients = c
}

// Process filters one sample.
func (b *Biquad) Process(x float64) float64 {
	return b.Coefficients.Process(&b.History, x)
}

// ProcessBlock filters a mono buffer in place.
func (b *Biquad) ProcessBlock(buf []float32) {
	b.Coefficients.ProcessStrided(&b.History, buf, 0, 1)
}

// ProcessStrided filters one channel of an interleaved buffer in place.
func (b *Biquad) ProcessStrided(data []float32, offset, stride int) {
	b.Coefficients.ProcessStrided(&b.History, data, offset, stride)
}

// ProcessBlock64 filters a float64 buffer in place.
func (b *Biquad) ProcessBlock64(buf []float64) {
	for i, x := range buf {
		buf[i] = b.Coefficients.Process(&b.History, x)
	}
}

// Reset clears the history. Coefficients are kept.
func (b *Biquad) Reset() {
	b.History.Reset()
}
