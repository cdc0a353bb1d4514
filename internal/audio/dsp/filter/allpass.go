package filter

// Allpass is a Schroeder allpass diffuser.
type Allpass struct {
	buf      []float64
	delay    int
	pos      int
	feedback float64
}

func NewAllpass(capacity int) *Allpass {
	if capacity < 1 {
		capacity = 1
	}
	return &Allpass{
		buf:      make([]float64, capacity),
		delay:    capacity,
		feedback: 0.5,
	}
}

func (a *Allpass) Capacity() int { return len(a.buf) }
func (a *Allpass) Delay() int    { return a.delay }

// SetDelay sets the delay in samples, clamped to [1, Capacity].
func (a *Allpass) SetDelay(n int) {
	n = clampInt(n, 1, len(a.buf))
	if n == a.delay {
		return
	}
	a.delay = n
	if a.pos >= n {
		a.pos = 0
	}
}

func (a *Allpass) SetFeedback(fb float64) { a.feedback = fb }

func (a *Allpass) Process(x float64) float64 {
	delayed := a.buf[a.pos]
	a.buf[a.pos] = x + a.feedback*delayed
	a.pos++
	if a.pos >= a.delay {
		a.pos = 0
	}
	return delayed - x
}

func (a *Allpass) ProcessBlock(buf []float64) {
	for i, x := range buf {
		buf[i] = a.Process(x)
	}
}

func (a *Allpass) Reset() {
	clear(a.buf)
	a.pos = 0
}
