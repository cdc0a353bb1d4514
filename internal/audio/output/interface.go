// Package output delivers processed chunks to a destination: the sound
// card, a file, or nowhere.
package output

import (
	"github.com/winramp/winramp-dsp/internal/audio/chunk"
)

// Sink consumes processed audio.
type Sink interface {
	// Open prepares the sink for chunks of the given format. Opening an
	// open sink with the same format is a no-op.
	Open(format chunk.Format) error

	// Write delivers one chunk. It may block until the destination has
	// room for it.
	Write(c *chunk.Chunk) error

	// Close flushes pending audio and releases the destination.
	Close() error
}

// Device describes an audio output device.
type Device struct {
	ID          string
	Name        string
	Type        string
	IsDefault   bool
	MaxChannels int
	SampleRates []int
}

// Stats are the running totals of a sink.
type Stats struct {
	Chunks int64
	Frames int64
}

// ConvertFloat32ToInt converts samples to signed integers of the given bit
// depth, clamping to [-1, 1]. dst is reused when large enough.
func ConvertFloat32ToInt(dst []int, src []float32, bitDepth int) []int {
	if cap(dst) < len(src) {
		dst = make([]int, len(src))
	}
	dst = dst[:len(src)]
	scale := float32(int64(1)<<(bitDepth-1) - 1)
	for i, sample := range src {
		if sample < -1.0 {
			sample = -1.0
		} else if sample > 1.0 {
			sample = 1.0
		}
		dst[i] = int(sample * scale)
	}
	return dst
}
