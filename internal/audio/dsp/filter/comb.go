package filter

// Comb is a feedback comb with a one-pole low-pass in the loop. The buffer is
// sized once; SetDelay only moves the wrap point.
type Comb struct {
	buf      []float64
	delay    int
	pos      int
	feedback float64
	damping  float64
	state    float64
}

// NewComb allocates a comb able to hold capacity samples of delay.
func NewComb(capacity int) *Comb {
	if capacity < 1 {
		capacity = 1
	}
	return &Comb{
		buf:   make([]float64, capacity),
		delay: capacity,
	}
}

func (c *Comb) Capacity() int { return len(c.buf) }
func (c *Comb) Delay() int    { return c.delay }

// SetDelay sets the loop length in samples, clamped to [1, Capacity].
func (c *Comb) SetDelay(n int) {
	n = clampInt(n, 1, len(c.buf))
	if n == c.delay {
		return
	}
	c.delay = n
	if c.pos >= n {
		c.pos = 0
	}
}

func (c *Comb) SetFeedback(fb float64) { c.feedback = fb }
func (c *Comb) SetDamping(d float64)   { c.damping = d }

// Process pushes one sample and returns the damped delayed output.
func (c *Comb) Process(x float64) float64 {
	delayed := c.buf[c.pos]
	c.state = delayed + c.damping*(c.state-delayed)
	c.buf[c.pos] = x + c.feedback*c.state
	c.pos++
	if c.pos >= c.delay {
		c.pos = 0
	}
	return c.state
}

// ProcessBlock filters buf in place.
func (c *Comb) ProcessBlock(buf []float64) {
	for i, x := range buf {
		buf[i] = c.Process(x)
	}
}

// ProcessInto writes the response to in into out without touching in.
func (c *Comb) ProcessInto(out, in []float64) {
	for i, x := range in {
		out[i] = c.Process(x)
	}
}

func (c *Comb) Reset() {
	clear(c.buf)
	c.pos = 0
	c.state = 0
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
