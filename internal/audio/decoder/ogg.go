package decoder

import (
	"fmt"
	"io"
	"strings"

	"github.com/jfreymuth/oggvorbis"

	"github.com/winramp/winramp-dsp/internal/audio/chunk"
	"github.com/winramp/winramp-dsp/internal/domain"
)

type oggReader struct {
	dec      *oggvorbis.Reader
	channels int
}

// readFrames reads until dst holds whole frames; oggvorbis returns at most
// one Vorbis packet per call and counts values, not frames.
func (r *oggReader) readFrames(dst []float32) (int, error) {
	want := len(dst) / r.channels * r.channels
	n := 0
	for n < want {
		k, err := r.dec.Read(dst[n:want])
		n += k
		if err == io.EOF {
			return n / r.channels, io.EOF
		}
		if err != nil {
			return n / r.channels, fmt.Errorf("failed to decode Vorbis: %w", err)
		}
		if k == 0 {
			break
		}
	}
	return n / r.channels, nil
}

// OpenOgg decodes Ogg Vorbis.
func OpenOgg(rs io.ReadSeeker, closer io.Closer) (Source, error) {
	md := readMetadata(rs)

	dec, err := oggvorbis.NewReader(rs)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open Ogg Vorbis stream: %v", domain.ErrUnsupportedFormat, err)
	}

	comments := dec.CommentHeader().Comments
	tags := make([][2]string, 0, len(comments))
	for _, c := range comments {
		if name, value, ok := strings.Cut(c, "="); ok {
			tags = append(tags, [2]string{name, value})
		}
	}
	applyVorbisComments(md, tags)
	md.Encoding = "vorbis"

	format := chunk.Format{SampleRate: dec.SampleRate(), Channels: dec.Channels()}
	s, err := newStream(format, &oggReader{dec: dec, channels: format.Channels}, closer, md)
	if err != nil {
		return nil, err
	}
	if length := dec.Length(); length > 0 {
		s.totalFrames = length
	}
	md.Duration = s.Duration()
	return s, nil
}
