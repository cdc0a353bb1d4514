package chunk

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/winramp/winramp-dsp/internal/domain"
)

func TestFormat_Validate(t *testing.T) {
	tests := []struct {
		name    string
		format  Format
		wantErr error
	}{
		{"CD stereo", Format{44100, 2}, nil},
		{"lowest rate", Format{8000, 1}, nil},
		{"highest rate", Format{192000, 8}, nil},
		{"rate too low", Format{7999, 2}, domain.ErrInvalidSampleRate},
		{"rate too high", Format{192001, 2}, domain.ErrInvalidSampleRate},
		{"no channels", Format{44100, 0}, domain.ErrInvalidChannels},
		{"too many channels", Format{44100, 9}, domain.ErrInvalidChannels},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.format.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestChannelConfig(t *testing.T) {
	assert.Equal(t, uint32(0x4), ChannelConfig(1))
	assert.Equal(t, uint32(0x3), ChannelConfig(2))
	assert.Equal(t, uint32(0x103), ChannelConfig(3))
	assert.Equal(t, uint32(0x3F), ChannelConfig(6))
	assert.Equal(t, uint32(0xFF), ChannelConfig(8))
	assert.Equal(t, uint32(0xF), ChannelConfig(4))
	assert.Equal(t, uint32(0x1F), ChannelConfig(5))
}

func TestChunk_ResizeKeepsLengthInvariant(t *testing.T) {
	c := New(0, 1, 44100)
	frameCounts := []int{0, 1, 7, 256, 4096, 65537, 1 << 20}
	for channels := 1; channels <= 8; channels++ {
		for _, frames := range frameCounts {
			c.Resize(frames, channels)
			require.Equal(t, frames*channels, len(c.Data()), "frames=%d channels=%d", frames, channels)
			assert.Equal(t, frames, c.Frames())
			assert.Equal(t, channels, c.Channels())
			assert.Equal(t, ChannelConfig(channels), c.ChannelConfig())
		}
	}
}

func TestChunk_ResizeZeroFillsNewRegion(t *testing.T) {
	c := NewFromSamples([]float32{1, 2, 3, 4}, 2, 44100)
	c.Resize(1, 2)
	c.Resize(4, 2)

	assert.Equal(t, []float32{1, 2, 0, 0, 0, 0, 0, 0}, c.Data())
}

func TestChunk_CopyFromAndClone(t *testing.T) {
	src := NewFromSamples([]float32{0.1, -0.2, 0.3, -0.4}, 2, 48000)
	dst := New(10, 1, 8000)

	dst.CopyFrom(src)
	assert.Equal(t, src.Data(), dst.Data())
	assert.Equal(t, src.Format(), dst.Format())

	clone := src.Clone()
	clone.Data()[0] = 9
	assert.Equal(t, float32(0.1), src.Data()[0])
}

func TestChunk_ApplyGainAndRamp(t *testing.T) {
	c := NewFromSamples([]float32{1, 1, 1, 1, 1, 1}, 2, 44100)
	c.ApplyGain(0.5)
	assert.Equal(t, []float32{0.5, 0.5, 0.5, 0.5, 0.5, 0.5}, c.Data())

	c = NewFromSamples([]float32{1, 1, 1, 1, 1, 1}, 2, 44100)
	c.ApplyRamp(0, 1)
	assert.InDeltaSlice(t, []float32{0, 0, 0.5, 0.5, 1, 1}, c.Data(), 1e-6)
}

func TestChunk_RMSAndPeak(t *testing.T) {
	c := NewFromSamples([]float32{1, -1, 1, -1}, 1, 44100)
	assert.InDelta(t, 1.0, c.RMS(), 1e-9)
	assert.InDelta(t, 1.0, c.Peak(), 1e-9)

	stereo := NewFromSamples([]float32{0.5, -0.25, -0.5, 0.25}, 2, 44100)
	assert.InDelta(t, 0.5, stereo.ChannelRMS(0), 1e-9)
	assert.InDelta(t, 0.25, stereo.ChannelPeak(1), 1e-9)
	assert.Zero(t, stereo.ChannelRMS(5))
}

func TestChunk_ChannelRoundTrip(t *testing.T) {
	c := NewFromSamples([]float32{1, 2, 3, 4, 5, 6}, 3, 44100)
	left := c.Channel(0, nil)
	assert.Equal(t, []float32{1, 4}, left)

	c.SetChannel(2, []float32{9, 9})
	assert.Equal(t, []float32{1, 2, 9, 4, 5, 9}, c.Data())
}

func TestChunk_Validation(t *testing.T) {
	c := New(4, 2, 44100)
	assert.True(t, c.IsValid())
	assert.NoError(t, c.ValidateFormat())
	assert.NoError(t, c.ValidateData())

	c.Data()[3] = float32(math.NaN())
	assert.ErrorIs(t, c.ValidateData(), domain.ErrNonFiniteSample)

	bad := New(4, 2, 1000)
	assert.False(t, bad.IsValid())
	assert.ErrorIs(t, bad.ValidateFormat(), domain.ErrInvalidSampleRate)
}

func TestChunk_DurationAndBytes(t *testing.T) {
	c := Silence(500*time.Millisecond, 2, 48000)
	assert.Equal(t, 24000, c.Frames())
	assert.Equal(t, 500*time.Millisecond, c.Duration())
	assert.Equal(t, 24000*2*4, c.DataBytes())
	assert.InDelta(t, 0.0, c.Peak(), 0)
}

func TestChunk_Reset(t *testing.T) {
	c := New(16, 2, 44100)
	c.Reset()
	assert.True(t, c.IsEmpty())
	assert.Zero(t, c.SampleRate())
	assert.Zero(t, c.Channels())
}

func TestConcatenate(t *testing.T) {
	a := NewFromSamples([]float32{1, 2}, 2, 44100)
	b := NewFromSamples([]float32{3, 4, 5, 6}, 2, 44100)

	out, err := Concatenate(a, b)
	require.NoError(t, err)
	assert.Equal(t, 3, out.Frames())
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, out.Data())

	_, err = Concatenate(a, NewFromSamples([]float32{1}, 1, 44100))
	assert.ErrorIs(t, err, domain.ErrAudioFormatMismatch)
}
