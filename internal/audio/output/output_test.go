package output

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/winramp/winramp-dsp/internal/audio/chunk"
	"github.com/winramp/winramp-dsp/internal/domain"
)

func TestWAVSink_WritesReadableFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	sink, err := NewWAVFileSink(path, 16, nil)
	require.NoError(t, err)

	format := chunk.Format{SampleRate: 44100, Channels: 2}
	require.NoError(t, sink.Open(format))
	require.NoError(t, sink.Open(format))

	c := chunk.NewFromSamples([]float32{0.5, -0.5, 1.5, -1.5}, 2, 44100)
	for i := 0; i < 3; i++ {
		require.NoError(t, sink.Write(c))
	}
	require.NoError(t, sink.Close())
	assert.Equal(t, Stats{Chunks: 3, Frames: 6}, sink.Stats())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	dec := wav.NewDecoder(f)
	require.True(t, dec.IsValidFile())
	buf, err := dec.FullPCMBuffer()
	require.NoError(t, err)
	assert.Equal(t, 44100, buf.Format.SampleRate)
	assert.Equal(t, 2, buf.Format.NumChannels)
	assert.Equal(t, []int{16383, -16383, 32767, -32767}, buf.Data[:4])
	assert.Len(t, buf.Data, 12)
}

func TestWAVSink_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := NewWAVFileSink(filepath.Join(dir, "x.wav"), 8, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidParameter)

	sink, err := NewWAVFileSink(filepath.Join(dir, "x.wav"), 24, nil)
	require.NoError(t, err)
	c := chunk.New(8, 1, 8000)
	assert.ErrorIs(t, sink.Write(c), domain.ErrSinkNotOpen)

	require.NoError(t, sink.Open(c.Format()))
	assert.ErrorIs(t, sink.Open(chunk.Format{SampleRate: 8000, Channels: 2}), domain.ErrAudioFormatMismatch)
	assert.ErrorIs(t, sink.Write(chunk.New(8, 2, 8000)), domain.ErrAudioFormatMismatch)

	require.NoError(t, sink.Close())
	require.NoError(t, sink.Close())
	assert.ErrorIs(t, sink.Write(c), domain.ErrSinkClosed)

	unopened, err := NewWAVFileSink(filepath.Join(dir, "never.wav"), 16, nil)
	require.NoError(t, err)
	require.NoError(t, unopened.Close())
	assert.NoFileExists(t, filepath.Join(dir, "never.wav"))
}

func TestDiscardSink(t *testing.T) {
	sink := NewDiscardSink()
	c := chunk.NewFromSamples([]float32{0.1, -0.7, 0.3, 0.2}, 2, 48000)

	assert.ErrorIs(t, sink.Write(c), domain.ErrSinkNotOpen)
	assert.Error(t, sink.Open(chunk.Format{SampleRate: 1, Channels: 2}))

	require.NoError(t, sink.Open(c.Format()))
	require.NoError(t, sink.Write(c))
	require.NoError(t, sink.Write(c))
	assert.Equal(t, Stats{Chunks: 2, Frames: 4}, sink.Stats())
	assert.InDelta(t, 0.7, sink.Peak(), 1e-6)
	assert.Equal(t, c.Format(), sink.Format())

	require.NoError(t, sink.Close())
	assert.ErrorIs(t, sink.Write(c), domain.ErrSinkClosed)
}

func TestConvertFloat32ToInt(t *testing.T) {
	tests := []struct {
		name     string
		bitDepth int
		in       []float32
		want     []int
	}{
		{"16 bit", 16, []float32{0, 1, -1, 0.5}, []int{0, 32767, -32767, 16383}},
		{"24 bit", 24, []float32{1, -0.25}, []int{8388607, -2097151}},
		{"clamps", 16, []float32{2, -3}, []int{32767, -32767}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ConvertFloat32ToInt(nil, tt.in, tt.bitDepth))
		})
	}

	dst := make([]int, 0, 8)
	out := ConvertFloat32ToInt(dst, []float32{0.5}, 16)
	assert.Equal(t, cap(dst), cap(out))
}

func TestByteQueue(t *testing.T) {
	q := newByteQueue(8)
	p := make([]byte, 8)

	n, err := q.Read(p)
	require.NoError(t, err)
	assert.Equal(t, 8, n)
	assert.Equal(t, int64(1), q.underruns())

	require.NoError(t, q.write([]byte{1, 2, 3, 4}))
	assert.Equal(t, 4, q.buffered())
	n, err = q.Read(p)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, p[:n])

	q.close()
	_, err = q.Read(p)
	assert.ErrorIs(t, err, io.EOF)
	assert.ErrorIs(t, q.write([]byte{1}), domain.ErrSinkClosed)
}

func TestLookupDevice(t *testing.T) {
	d, err := LookupDevice("")
	require.NoError(t, err)
	assert.True(t, d.IsDefault)

	_, err = LookupDevice("hdmi-2")
	assert.ErrorIs(t, err, domain.ErrAudioDeviceNotFound)
}
