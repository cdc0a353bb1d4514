package decoder

import (
	"fmt"
	"io"

	"github.com/go-audio/aiff"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/winramp/winramp-dsp/internal/audio/chunk"
	"github.com/winramp/winramp-dsp/internal/domain"
)

// pcmDecoder is what the go-audio WAV and AIFF decoders have in common.
type pcmDecoder interface {
	Format() *goaudio.Format
	PCMBuffer(buf *goaudio.IntBuffer) (int, error)
}

type pcmReader struct {
	dec      pcmDecoder
	buf      *goaudio.IntBuffer
	scale    float32
	channels int
}

func newPCMReader(dec pcmDecoder, bitDepth int) *pcmReader {
	format := dec.Format()
	return &pcmReader{
		dec:      dec,
		buf:      &goaudio.IntBuffer{Format: format, SourceBitDepth: bitDepth},
		scale:    intScale(bitDepth),
		channels: format.NumChannels,
	}
}

func (r *pcmReader) readFrames(dst []float32) (int, error) {
	want := len(dst) / r.channels * r.channels
	if want == 0 {
		return 0, nil
	}
	if cap(r.buf.Data) < want {
		r.buf.Data = make([]int, want)
	}
	r.buf.Data = r.buf.Data[:want]

	n, err := r.dec.PCMBuffer(r.buf)
	frames := n / r.channels
	for i := 0; i < frames*r.channels; i++ {
		dst[i] = float32(r.buf.Data[i]) / r.scale
	}
	if err != nil && err != io.EOF {
		return frames, err
	}
	if n < want {
		return frames, io.EOF
	}
	return frames, err
}

// OpenWAV decodes integer PCM WAV data.
func OpenWAV(rs io.ReadSeeker, closer io.Closer) (Source, error) {
	md := readMetadata(rs)
	dec := wav.NewDecoder(rs)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%w: not a WAV file", domain.ErrUnsupportedFormat)
	}
	dec.ReadInfo()
	if err := dec.Err(); err != nil {
		return nil, fmt.Errorf("failed to read WAV header: %w", err)
	}
	if dec.WavAudioFormat != 1 {
		return nil, fmt.Errorf("%w: WAV encoding %d, only integer PCM is supported",
			domain.ErrUnsupportedFormat, dec.WavAudioFormat)
	}
	if err := dec.FwdToPCM(); err != nil {
		return nil, fmt.Errorf("failed to locate WAV data: %w", err)
	}

	format := chunk.Format{SampleRate: int(dec.SampleRate), Channels: int(dec.NumChans)}
	md.BitDepth = int(dec.BitDepth)
	md.Encoding = "pcm"

	s, err := newStream(format, newPCMReader(dec, int(dec.BitDepth)), closer, md)
	if err != nil {
		return nil, err
	}
	if frameSize := int(dec.NumChans) * int(dec.BitDepth) / 8; frameSize > 0 {
		s.totalFrames = int64(dec.PCMSize / frameSize)
	}
	md.Duration = s.Duration()
	return s, nil
}

// OpenAIFF decodes integer PCM AIFF data.
func OpenAIFF(rs io.ReadSeeker, closer io.Closer) (Source, error) {
	md := readMetadata(rs)
	dec := aiff.NewDecoder(rs)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%w: not an AIFF file", domain.ErrUnsupportedFormat)
	}
	dec.ReadInfo()
	if err := dec.Err(); err != nil {
		return nil, fmt.Errorf("failed to read AIFF header: %w", err)
	}

	format := chunk.Format{SampleRate: dec.SampleRate, Channels: int(dec.NumChans)}
	md.BitDepth = int(dec.BitDepth)
	md.Encoding = "pcm"

	s, err := newStream(format, newPCMReader(dec, int(dec.BitDepth)), closer, md)
	if err != nil {
		return nil, err
	}
	s.totalFrames = int64(dec.NumSampleFrames)
	md.Duration = s.Duration()
	return s, nil
}
