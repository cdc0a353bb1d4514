package dsp

import (
	"context"

	"github.com/faiface/beep"

	"github.com/winramp/winramp-dsp/internal/audio/chunk"
)

// Streamer runs a Manager's chain over a stereo beep.Streamer.
type Streamer struct {
	src  beep.Streamer
	m    *Manager
	ctx  context.Context
	rate int
	buf  *chunk.Chunk
	err  error
}

// NewStreamer wraps src, whose samples play at rate. Processing stops with
// an error once ctx is done.
func NewStreamer(ctx context.Context, src beep.Streamer, m *Manager, rate beep.SampleRate) *Streamer {
	return &Streamer{
		src:  src,
		m:    m,
		ctx:  ctx,
		rate: int(rate),
		buf:  chunk.New(0, 2, int(rate)),
	}
}

func (s *Streamer) Stream(samples [][2]float64) (int, bool) {
	if s.err != nil {
		return 0, false
	}
	n, ok := s.src.Stream(samples)
	if n == 0 {
		return n, ok
	}

	s.buf.Resize(n, 2)
	data := s.buf.Data()
	for i := 0; i < n; i++ {
		data[2*i] = float32(samples[i][0])
		data[2*i+1] = float32(samples[i][1])
	}
	if err := s.m.ProcessChain(s.ctx, s.buf); err != nil {
		s.err = err
		return 0, false
	}
	for i := 0; i < n; i++ {
		samples[i][0] = float64(data[2*i])
		samples[i][1] = float64(data[2*i+1])
	}
	return n, ok
}

func (s *Streamer) Err() error {
	if s.err != nil {
		return s.err
	}
	return s.src.Err()
}
