package filter

import (
	"fmt"
	"math"
	"strings"
)

// Kind selects the response shape of a designed section.
type Kind int

const (
	Peak Kind = iota
	LowShelf
	HighShelf
	LowPass
	HighPass
)

func (k Kind) String() string {
	switch k {
	case Peak:
		return "peak"
	case LowShelf:
		return "low_shelf"
	case HighShelf:
		return "high_shelf"
	case LowPass:
		return "low_pass"
	case HighPass:
		return "high_pass"
	default:
		return "unknown"
	}
}

// HasGain reports whether the gain parameter affects the response.
func (k Kind) HasGain() bool {
	return k == Peak || k == LowShelf || k == HighShelf
}

// ParseKind accepts the names returned by Kind.String.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "peak", "peaking", "bell":
		return Peak, nil
	case "low_shelf", "lowshelf":
		return LowShelf, nil
	case "high_shelf", "highshelf":
		return HighShelf, nil
	case "low_pass", "lowpass":
		return LowPass, nil
	case "high_pass", "highpass":
		return HighPass, nil
	}
	return Peak, fmt.Errorf("unknown filter kind %q", s)
}

// Design builds coefficients for kind. bandwidth is in octaves for Peak, the
// shelf slope for shelves and Q for the pass filters.
func Design(kind Kind, freq, gainDB, bandwidth, sampleRate float64) Coefficients {
	switch kind {
	case LowShelf:
		return LowShelfCoefficients(freq, gainDB, bandwidth, sampleRate)
	case HighShelf:
		return HighShelfCoefficients(freq, gainDB, bandwidth, sampleRate)
	case LowPass:
		return LowPassCoefficients(freq, bandwidth, sampleRate)
	case HighPass:
		return HighPassCoefficients(freq, bandwidth, sampleRate)
	default:
		return PeakingCoefficients(freq, gainDB, bandwidth, sampleRate)
	}
}

// PeakingCoefficients designs a peaking bell with bandwidth in octaves.
func PeakingCoefficients(freq, gainDB, octaves, sampleRate float64) Coefficients {
	a := math.Pow(10, gainDB/40)
	w := omega(freq, sampleRate)
	sinW, cosW := math.Sin(w), math.Cos(w)
	if octaves <= 0 {
		octaves = 1
	}
	alpha := sinW * math.Sinh(math.Ln2/2*octaves*w/sinW)

	return normalize(
		1+alpha*a,
		-2*cosW,
		1-alpha*a,
		1+alpha/a,
		-2*cosW,
		1-alpha/a,
	)
}

// LowShelfCoefficients designs a low shelf with the given slope.
func LowShelfCoefficients(freq, gainDB, slope, sampleRate float64) Coefficients {
	a := math.Pow(10, gainDB/40)
	w := omega(freq, sampleRate)
	cosW := math.Cos(w)
	alpha := shelfAlpha(a, math.Sin(w), slope)
	sqrtA2 := 2 * math.Sqrt(a) * alpha

	return normalize(
		a*((a+1)-(a-1)*cosW+sqrtA2),
		2*a*((a-1)-(a+1)*cosW),
		a*((a+1)-(a-1)*cosW-sqrtA2),
		(a+1)+(a-1)*cosW+sqrtA2,
		-2*((a-1)+(a+1)*cosW),
		(a+1)+(a-1)*cosW-sqrtA2,
	)
}

// HighShelfCoefficients designs a high shelf with the given slope.
func HighShelfCoefficients(freq, gainDB, slope, sampleRate float64) Coefficients {
	a := math.Pow(10, gainDB/40)
	w := omega(freq, sampleRate)
	cosW := math.Cos(w)
	alpha := shelfAlpha(a, math.Sin(w), slope)
	sqrtA2 := 2 * math.Sqrt(a) * alpha

	return normalize(
		a*((a+1)+(a-1)*cosW+sqrtA2),
		-2*a*((a-1)+(a+1)*cosW),
		a*((a+1)+(a-1)*cosW-sqrtA2),
		(a+1)-(a-1)*cosW+sqrtA2,
		2*((a-1)-(a+1)*cosW),
		(a+1)-(a-1)*cosW-sqrtA2,
	)
}

// LowPassCoefficients designs a second-order low-pass.
func LowPassCoefficients(freq, q, sampleRate float64) Coefficients {
	w := omega(freq, sampleRate)
	cosW := math.Cos(w)
	alpha := math.Sin(w) / (2 * positiveQ(q))

	return normalize(
		(1-cosW)/2,
		1-cosW,
		(1-cosW)/2,
		1+alpha,
		-2*cosW,
		1-alpha,
	)
}

// HighPassCoefficients designs a second-order high-pass.
func HighPassCoefficients(freq, q, sampleRate float64) Coefficients {
	w := omega(freq, sampleRate)
	cosW := math.Cos(w)
	alpha := math.Sin(w) / (2 * positiveQ(q))

	return normalize(
		(1+cosW)/2,
		-(1 + cosW),
		(1+cosW)/2,
		1+alpha,
		-2*cosW,
		1-alpha,
	)
}

// ClampFrequency keeps freq strictly between 0 and Nyquist.
func ClampFrequency(freq, sampleRate float64) float64 {
	if nyquist := sampleRate / 2; freq >= nyquist {
		return 0.499 * sampleRate
	}
	if freq < 1 {
		return 1
	}
	return freq
}

func omega(freq, sampleRate float64) float64 {
	return 2 * math.Pi * ClampFrequency(freq, sampleRate) / sampleRate
}

func shelfAlpha(a, sinW, slope float64) float64 {
	if slope <= 0 {
		slope = 1
	}
	arg := (a+1/a)*(1/slope-1) + 2
	if arg < 0 {
		arg = 0
	}
	return sinW / 2 * math.Sqrt(arg)
}

func positiveQ(q float64) float64 {
	if q <= 0 {
		return math.Sqrt2 / 2
	}
	return q
}

func normalize(b0, b1, b2, a0, a1, a2 float64) Coefficients {
	return Coefficients{
		B0: b0 / a0,
		B1: b1 / a0,
		B2: b2 / a0,
		A1: a1 / a0,
		A2: a2 / a0,
	}
}
