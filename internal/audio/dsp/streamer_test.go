package dsp

import (
	"context"
	"testing"

	"github.com/faiface/beep"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/winramp/winramp-dsp/internal/audio/dsp/filter"
	"github.com/winramp/winramp-dsp/internal/domain"
)

// constantStreamer yields n frames of v on both channels.
func constantStreamer(v float64, n int) beep.Streamer {
	left := n
	return beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
		if left == 0 {
			return 0, false
		}
		k := min(len(samples), left)
		for i := 0; i < k; i++ {
			samples[i] = [2]float64{v, v}
		}
		left -= k
		return k, true
	})
}

func TestStreamer_AppliesChain(t *testing.T) {
	m := newTestManager(t, nil)
	vol := NewVolume()
	vol.SetGainDB(-6)
	require.NoError(t, m.AddEffect(vol))

	s := NewStreamer(context.Background(), constantStreamer(0.5, 300), m, beep.SampleRate(44100))
	want := float64(0.5 * float32(filter.DBToLinear(-6)))

	total := 0
	buf := make([][2]float64, 128)
	for {
		n, ok := s.Stream(buf)
		for i := 0; i < n; i++ {
			require.InDelta(t, want, buf[i][0], 1e-6)
			require.InDelta(t, want, buf[i][1], 1e-6)
		}
		total += n
		if !ok {
			break
		}
	}
	assert.Equal(t, 300, total)
	assert.NoError(t, s.Err())
}

func TestStreamer_StopsOnError(t *testing.T) {
	m := newTestManager(t, nil)
	require.NoError(t, m.AddEffect(NewVolume()))
	require.NoError(t, m.Close())

	s := NewStreamer(context.Background(), constantStreamer(0.5, 300), m, beep.SampleRate(44100))
	n, ok := s.Stream(make([][2]float64, 64))
	assert.Zero(t, n)
	assert.False(t, ok)
	assert.ErrorIs(t, s.Err(), domain.ErrManagerClosed)

	n, ok = s.Stream(make([][2]float64, 64))
	assert.Zero(t, n)
	assert.False(t, ok)
}
