package decoder

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"
	"github.com/mewkiz/flac/meta"

	"github.com/winramp/winramp-dsp/internal/audio/chunk"
	"github.com/winramp/winramp-dsp/internal/domain"
)

// flacReader hands out decoded FLAC frames. A FLAC frame holds a few
// thousand samples, so the remainder of the current one is kept between
// calls.
type flacReader struct {
	stream   *flac.Stream
	frame    *frame.Frame
	offset   int
	channels int
	scale    float32
}

func (r *flacReader) readFrames(dst []float32) (int, error) {
	want := len(dst) / r.channels
	n := 0
	for n < want {
		if r.frame == nil || r.offset >= int(r.frame.BlockSize) {
			f, err := r.stream.ParseNext()
			if err != nil {
				if err == io.EOF {
					return n, io.EOF
				}
				return n, fmt.Errorf("failed to parse FLAC frame: %w", err)
			}
			r.frame, r.offset = f, 0
		}

		k := min(want-n, int(r.frame.BlockSize)-r.offset)
		for ch := 0; ch < r.channels; ch++ {
			samples := r.frame.Subframes[ch].Samples[r.offset : r.offset+k]
			for i, s := range samples {
				dst[(n+i)*r.channels+ch] = float32(s) / r.scale
			}
		}
		r.offset += k
		n += k
	}
	return n, nil
}

// OpenFLAC decodes a FLAC stream. Vorbis comments and pictures in the
// metadata blocks take precedence over anything tag finds.
func OpenFLAC(rs io.ReadSeeker, closer io.Closer) (Source, error) {
	md := readMetadata(rs)

	stream, err := flac.Parse(rs)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse FLAC stream: %v", domain.ErrUnsupportedFormat, err)
	}

	info := stream.Info
	for _, block := range stream.Blocks {
		switch b := block.Body.(type) {
		case *meta.VorbisComment:
			applyVorbisComments(md, b.Tags)
		case *meta.Picture:
			md.AlbumArt = b.Data
			md.AlbumArtMIME = b.MIME
		}
	}
	md.BitDepth = int(info.BitsPerSample)
	md.Encoding = "flac"

	format := chunk.Format{SampleRate: int(info.SampleRate), Channels: int(info.NChannels)}
	reader := &flacReader{
		stream:   stream,
		channels: format.Channels,
		scale:    intScale(int(info.BitsPerSample)),
	}
	s, err := newStream(format, reader, multiCloser{stream, closer}, md)
	if err != nil {
		stream.Close()
		return nil, err
	}
	s.totalFrames = int64(info.NSamples)
	md.Duration = s.Duration()
	return s, nil
}

// applyVorbisComments fills md from FLAC/Ogg style NAME=value pairs.
func applyVorbisComments(md *Metadata, tags [][2]string) {
	raw := make(map[string]interface{}, len(tags))
	for _, t := range tags {
		value := t[1]
		switch strings.ToUpper(t[0]) {
		case "TITLE":
			md.Title = value
		case "ARTIST":
			md.Artist = value
		case "ALBUM":
			md.Album = value
		case "ALBUMARTIST":
			md.AlbumArtist = value
		case "GENRE":
			md.Genre = value
		case "DATE", "YEAR":
			if len(value) >= 4 {
				if y, err := strconv.Atoi(value[:4]); err == nil {
					md.Year = y
				}
			}
		case "TRACKNUMBER":
			md.TrackNumber = leadingInt(value)
		case "DISCNUMBER":
			md.DiscNumber = leadingInt(value)
		case "COMMENT", "DESCRIPTION":
			md.Comment = value
		default:
			raw[strings.ToLower(t[0])] = value
		}
	}
	applyReplayGain(md, raw)
}

// leadingInt parses "3" and "3/12" alike.
func leadingInt(s string) int {
	if i := strings.IndexByte(s, '/'); i >= 0 {
		s = s[:i]
	}
	n, _ := strconv.Atoi(strings.TrimSpace(s))
	return n
}

// multiCloser closes every non-nil closer and returns the first error.
// flac.Stream closes its reader itself, so a second close of the same file
// is not an error.
type multiCloser []io.Closer

func (m multiCloser) Close() error {
	var first error
	for _, c := range m {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil && !errors.Is(err, os.ErrClosed) && first == nil {
			first = err
		}
	}
	return first
}
