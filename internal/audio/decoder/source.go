// Package decoder turns audio files into chunks for the DSP chain. Each
// format is a thin adapter over a third-party decoder.
package decoder

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/winramp/winramp-dsp/internal/audio/chunk"
	"github.com/winramp/winramp-dsp/internal/domain"
)

// DefaultBlockFrames is the read size used when the caller passes an empty
// chunk to Read.
const DefaultBlockFrames = 1024

// Source yields decoded audio as chunks.
type Source interface {
	// Format is the sample rate and channel count of every chunk Read
	// produces.
	Format() chunk.Format

	// Read replaces the contents of c with the next frames of the stream,
	// at most c.Frames() of them (DefaultBlockFrames for an empty chunk).
	// A short chunk is only returned at the end of the stream. Once the
	// stream is exhausted Read empties c and returns domain.ErrEndOfStream.
	Read(c *chunk.Chunk) error

	Metadata() *Metadata
	Close() error
}

// Metadata contains track metadata extracted from the audio file
type Metadata struct {
	Title       string
	Artist      string
	Album       string
	AlbumArtist string
	Genre       string
	Year        int
	TrackNumber int
	DiscNumber  int
	Comment     string
	Duration    time.Duration
	BitDepth    int
	Encoding    string

	// ReplayGain values in dB and linear peak; HasTrackGain and
	// HasAlbumGain report whether the tags were present.
	TrackGain    float64
	TrackPeak    float64
	AlbumGain    float64
	AlbumPeak    float64
	HasTrackGain bool
	HasAlbumGain bool

	AlbumArt     []byte
	AlbumArtMIME string
}

// frameReader is the part each format adapter implements.
type frameReader interface {
	// readFrames decodes up to len(dst)/channels frames into dst and
	// returns how many it wrote. It returns io.EOF at the end of the
	// stream, possibly together with a final partial block.
	readFrames(dst []float32) (int, error)
}

// stream implements Source on top of a frameReader.
type stream struct {
	format   chunk.Format
	metadata *Metadata
	reader   frameReader
	closer   io.Closer

	totalFrames int64
	position    int64
	eof         bool
}

func newStream(format chunk.Format, reader frameReader, closer io.Closer, md *Metadata) (*stream, error) {
	if err := format.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUnsupportedFormat, err)
	}
	if md == nil {
		md = &Metadata{}
	}
	return &stream{format: format, metadata: md, reader: reader, closer: closer}, nil
}

func (s *stream) Format() chunk.Format { return s.format }
func (s *stream) Metadata() *Metadata  { return s.metadata }

// Duration is the stream length, or zero when the container does not say.
func (s *stream) Duration() time.Duration {
	return framesToDuration(s.totalFrames, s.format.SampleRate)
}

// Position is the amount of audio returned by Read so far.
func (s *stream) Position() time.Duration {
	return framesToDuration(s.position, s.format.SampleRate)
}

func (s *stream) Read(c *chunk.Chunk) error {
	channels := s.format.Channels
	if s.eof {
		c.Resize(0, channels)
		return domain.ErrEndOfStream
	}

	want := c.Frames()
	if want <= 0 {
		want = DefaultBlockFrames
	}
	c.Resize(want, channels)
	c.SetSampleRate(s.format.SampleRate)
	data := c.Data()

	n := 0
	for n < want {
		k, err := s.reader.readFrames(data[n*channels:])
		n += k
		if errors.Is(err, io.EOF) || (k == 0 && err == nil) {
			s.eof = true
			break
		}
		if err != nil {
			c.SetFrames(n)
			s.position += int64(n)
			return fmt.Errorf("decode: %w", err)
		}
	}

	c.SetFrames(n)
	s.position += int64(n)
	if n == 0 {
		return domain.ErrEndOfStream
	}
	return nil
}

func (s *stream) Close() error {
	if s.closer == nil {
		return nil
	}
	err := s.closer.Close()
	s.closer = nil
	return err
}

func framesToDuration(frames int64, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(frames) * time.Second / time.Duration(rate)
}

// intScale is the divisor that maps signed PCM of the given depth to
// [-1, 1).
func intScale(bitDepth int) float32 {
	if bitDepth <= 0 || bitDepth > 32 {
		bitDepth = 16
	}
	return float32(uint64(1) << (bitDepth - 1))
}
