package decoder

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"

	"github.com/winramp/winramp-dsp/internal/audio/chunk"
	"github.com/winramp/winramp-dsp/internal/domain"
)

// go-mp3 always produces interleaved 16-bit little-endian stereo.
const (
	mp3Channels  = 2
	mp3FrameSize = mp3Channels * 2
)

type mp3Reader struct {
	dec *mp3.Decoder
	buf []byte
}

func (r *mp3Reader) readFrames(dst []float32) (int, error) {
	want := len(dst) / mp3Channels * mp3FrameSize
	if cap(r.buf) < want {
		r.buf = make([]byte, want)
	}
	buf := r.buf[:want]

	// Fill whole frames only; go-mp3 may return odd byte counts.
	n, err := io.ReadFull(r.dec, buf)
	frames := n / mp3FrameSize
	for i := 0; i < frames*mp3Channels; i++ {
		dst[i] = float32(int16(binary.LittleEndian.Uint16(buf[i*2:]))) / 32768
	}

	switch err {
	case nil:
		return frames, nil
	case io.EOF, io.ErrUnexpectedEOF:
		return frames, io.EOF
	default:
		return frames, fmt.Errorf("failed to decode MP3: %w", err)
	}
}

// OpenMP3 decodes an MPEG-1/2 layer III stream.
func OpenMP3(rs io.ReadSeeker, closer io.Closer) (Source, error) {
	md := readMetadata(rs)

	dec, err := mp3.NewDecoder(rs)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create MP3 decoder: %v", domain.ErrUnsupportedFormat, err)
	}
	md.BitDepth = 16
	md.Encoding = "mp3"

	format := chunk.Format{SampleRate: dec.SampleRate(), Channels: mp3Channels}
	s, err := newStream(format, &mp3Reader{dec: dec}, closer, md)
	if err != nil {
		return nil, err
	}
	if length := dec.Length(); length > 0 {
		s.totalFrames = length / mp3FrameSize
	}
	md.Duration = s.Duration()
	return s, nil
}
