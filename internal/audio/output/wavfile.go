package output

import (
	"fmt"
	"os"
	"sync"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/winramp/winramp-dsp/internal/audio/chunk"
	"github.com/winramp/winramp-dsp/internal/domain"
	"github.com/winramp/winramp-dsp/internal/logger"
)

// WAVSink writes integer PCM WAV. The header is finalised on Close, so the
// destination must be seekable.
type WAVSink struct {
	log      *logger.Logger
	path     string
	bitDepth int

	mu     sync.Mutex
	file   *os.File
	enc    *wav.Encoder
	buf    *goaudio.IntBuffer
	format chunk.Format
	stats  Stats
	closed bool
}

// NewWAVFileSink writes to path, creating or truncating it on Open.
// bitDepth is 16 or 24.
func NewWAVFileSink(path string, bitDepth int, log *logger.Logger) (*WAVSink, error) {
	if bitDepth != 16 && bitDepth != 24 {
		return nil, fmt.Errorf("%w: bit depth %d, want 16 or 24", domain.ErrInvalidParameter, bitDepth)
	}
	if log == nil {
		log = logger.Nop()
	}
	return &WAVSink{log: log, path: path, bitDepth: bitDepth}, nil
}

func (w *WAVSink) Open(format chunk.Format) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return domain.ErrSinkClosed
	}
	if w.enc != nil {
		if format == w.format {
			return nil
		}
		return fmt.Errorf("%w: sink opened as %s, got %s", domain.ErrAudioFormatMismatch, w.format, format)
	}
	if err := format.Validate(); err != nil {
		return err
	}

	f, err := os.Create(w.path)
	if err != nil {
		return domain.NewDomainErrorWithDetails(domain.ErrCodeSink, "failed to create output file", w.path, err)
	}
	w.file = f
	w.format = format
	w.enc = wav.NewEncoder(f, format.SampleRate, w.bitDepth, format.Channels, 1)
	w.buf = &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: format.Channels, SampleRate: format.SampleRate},
		SourceBitDepth: w.bitDepth,
	}

	w.log.Debug("WAV output opened",
		logger.String("path", w.path),
		logger.Int("bit_depth", w.bitDepth),
		logger.String("format", format.String()))
	return nil
}

func (w *WAVSink) Write(c *chunk.Chunk) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return domain.ErrSinkClosed
	}
	if w.enc == nil {
		return domain.ErrSinkNotOpen
	}
	if c.Format() != w.format {
		return fmt.Errorf("%w: sink opened as %s, got %s", domain.ErrAudioFormatMismatch, w.format, c.Format())
	}
	if c.IsEmpty() {
		return nil
	}

	w.buf.Data = ConvertFloat32ToInt(w.buf.Data, c.Data(), w.bitDepth)
	if err := w.enc.Write(w.buf); err != nil {
		return domain.NewDomainError(domain.ErrCodeSink, "failed to write WAV data", err)
	}
	w.stats.Chunks++
	w.stats.Frames += int64(c.Frames())
	return nil
}

func (w *WAVSink) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// Close writes the final header. Closing a sink that was never opened
// creates no file.
func (w *WAVSink) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	if w.enc == nil {
		return nil
	}

	encErr := w.enc.Close()
	fileErr := w.file.Close()
	if encErr != nil {
		return domain.NewDomainError(domain.ErrCodeSink, "failed to finalise WAV file", encErr)
	}
	if fileErr != nil {
		return fileErr
	}
	w.log.Info("WAV output written",
		logger.String("path", w.path),
		logger.Int64("frames", w.stats.Frames))
	return nil
}

// DiscardSink drops everything it is given. It is used for benchmarking
// and dry runs.
type DiscardSink struct {
	mu     sync.Mutex
	format chunk.Format
	stats  Stats
	peak   float64
	open   bool
	closed bool
}

func NewDiscardSink() *DiscardSink {
	return &DiscardSink{}
}

func (d *DiscardSink) Open(format chunk.Format) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return domain.ErrSinkClosed
	}
	if err := format.Validate(); err != nil {
		return err
	}
	d.format = format
	d.open = true
	return nil
}

func (d *DiscardSink) Write(c *chunk.Chunk) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return domain.ErrSinkClosed
	}
	if !d.open {
		return domain.ErrSinkNotOpen
	}
	d.stats.Chunks++
	d.stats.Frames += int64(c.Frames())
	d.peak = max(d.peak, c.Peak())
	return nil
}

func (d *DiscardSink) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *DiscardSink) Format() chunk.Format {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.format
}

func (d *DiscardSink) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// Peak is the largest absolute sample seen.
func (d *DiscardSink) Peak() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.peak
}

var (
	_ Sink = (*OtoSink)(nil)
	_ Sink = (*WAVSink)(nil)
	_ Sink = (*DiscardSink)(nil)
)
