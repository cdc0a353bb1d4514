// Package chunk holds the block of interleaved audio that flows through the
// DSP chain.
package chunk

import (
	"fmt"
	"math"
	"time"

	"github.com/winramp/winramp-dsp/internal/domain"
)

const (
	MinSampleRate = 8000
	MaxSampleRate = 192000
	MinChannels   = 1
	MaxChannels   = 8
)

// Speaker bits used to build channel configuration masks.
const (
	SpeakerFrontLeft   uint32 = 1 << 0
	SpeakerFrontRight  uint32 = 1 << 1
	SpeakerFrontCenter uint32 = 1 << 2
	SpeakerLFE         uint32 = 1 << 3
	SpeakerBackLeft    uint32 = 1 << 4
	SpeakerBackRight   uint32 = 1 << 5
	SpeakerBackCenter  uint32 = 1 << 8
)

// Format describes the sample rate and channel layout of a chunk.
type Format struct {
	SampleRate int
	Channels   int
}

// Validate reports whether the format is within the supported range.
func (f Format) Validate() error {
	if f.SampleRate < MinSampleRate || f.SampleRate > MaxSampleRate {
		return fmt.Errorf("%w: %d Hz", domain.ErrInvalidSampleRate, f.SampleRate)
	}
	if f.Channels < MinChannels || f.Channels > MaxChannels {
		return fmt.Errorf("%w: %d", domain.ErrInvalidChannels, f.Channels)
	}
	return nil
}

func (f Format) String() string {
	return fmt.Sprintf("%d Hz/%dch", f.SampleRate, f.Channels)
}

// ChannelConfig returns the speaker mask for a channel count.
func ChannelConfig(channels int) uint32 {
	switch channels {
	case 1:
		return SpeakerFrontCenter
	case 2:
		return SpeakerFrontLeft | SpeakerFrontRight
	case 3:
		return SpeakerFrontLeft | SpeakerFrontRight | SpeakerBackCenter
	case 6:
		return SpeakerFrontLeft | SpeakerFrontRight | SpeakerFrontCenter |
			SpeakerLFE | SpeakerBackLeft | SpeakerBackRight
	case 8:
		return 0xFF
	}
	if channels <= 0 {
		return 0
	}
	return (1 << uint(channels)) - 1
}

// Chunk is a block of interleaved float samples. len(data) is always
// frames*channels.
type Chunk struct {
	data          []float32
	frames        int
	channels      int
	sampleRate    int
	channelConfig uint32
}

// New allocates a silent chunk.
func New(frames, channels, sampleRate int) *Chunk {
	c := &Chunk{sampleRate: sampleRate}
	c.Resize(frames, channels)
	return c
}

// NewFromSamples copies interleaved samples into a new chunk.
func NewFromSamples(samples []float32, channels, sampleRate int) *Chunk {
	c := &Chunk{}
	if channels <= 0 {
		channels = 1
	}
	c.SetData(samples, len(samples)/channels, channels, sampleRate)
	return c
}

// Silence returns a zeroed chunk of the given duration.
func Silence(d time.Duration, channels, sampleRate int) *Chunk {
	frames := int(d.Seconds() * float64(sampleRate))
	return New(frames, channels, sampleRate)
}

func (c *Chunk) Data() []float32       { return c.data }
func (c *Chunk) Frames() int           { return c.frames }
func (c *Chunk) Channels() int         { return c.channels }
func (c *Chunk) SampleRate() int       { return c.sampleRate }
func (c *Chunk) ChannelConfig() uint32 { return c.channelConfig }
func (c *Chunk) Len() int              { return len(c.data) }

func (c *Chunk) Format() Format {
	return Format{SampleRate: c.sampleRate, Channels: c.channels}
}

func (c *Chunk) SetSampleRate(rate int) {
	c.sampleRate = rate
}

// SetFrames changes the frame count keeping the channel layout.
func (c *Chunk) SetFrames(frames int) {
	c.Resize(frames, c.channels)
}

// SetChannels changes the channel count keeping the frame count.
func (c *Chunk) SetChannels(channels int) {
	c.Resize(c.frames, channels)
}

// Resize sets frames and channels together. Storage is reused when capacity
// allows; samples beyond the previous length are zeroed.
func (c *Chunk) Resize(frames, channels int) {
	if frames < 0 {
		frames = 0
	}
	if channels < 0 {
		channels = 0
	}
	n := frames * channels
	old := len(c.data)
	if n > cap(c.data) {
		grown := make([]float32, n)
		copy(grown, c.data)
		c.data = grown
	} else {
		c.data = c.data[:n]
		if n > old {
			clear(c.data[old:])
		}
	}
	c.frames = frames
	c.channels = channels
	c.channelConfig = ChannelConfig(channels)
}

// SetData replaces the contents with a copy of samples.
func (c *Chunk) SetData(samples []float32, frames, channels, sampleRate int) {
	c.Resize(frames, channels)
	copy(c.data, samples)
	c.sampleRate = sampleRate
}

// CopyFrom makes c an exact copy of other, format included.
func (c *Chunk) CopyFrom(other *Chunk) {
	c.Resize(other.frames, other.channels)
	copy(c.data, other.data)
	c.sampleRate = other.sampleRate
}

// Clone returns a deep copy.
func (c *Chunk) Clone() *Chunk {
	dup := &Chunk{}
	dup.CopyFrom(c)
	return dup
}

// Reset drops all samples and the format.
func (c *Chunk) Reset() {
	c.data = c.data[:0]
	c.frames = 0
	c.channels = 0
	c.sampleRate = 0
	c.channelConfig = 0
}

// Clear zeroes the samples.
func (c *Chunk) Clear() {
	clear(c.data)
}

// ApplyGain scales every sample by gain.
func (c *Chunk) ApplyGain(gain float32) {
	if gain == 1 {
		return
	}
	for i := range c.data {
		c.data[i] *= gain
	}
}

// ApplyRamp multiplies frames by a gain moving linearly from start to end.
func (c *Chunk) ApplyRamp(start, end float32) {
	if c.frames == 0 {
		return
	}
	step := float32(0)
	if c.frames > 1 {
		step = (end - start) / float32(c.frames-1)
	}
	g := start
	for f := 0; f < c.frames; f++ {
		base := f * c.channels
		for ch := 0; ch < c.channels; ch++ {
			c.data[base+ch] *= g
		}
		g += step
	}
}

// RMS over all channels.
func (c *Chunk) RMS() float64 {
	if len(c.data) == 0 {
		return 0
	}
	var sum float64
	for _, s := range c.data {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(c.data)))
}

// Peak absolute sample value over all channels.
func (c *Chunk) Peak() float64 {
	var peak float64
	for _, s := range c.data {
		if a := math.Abs(float64(s)); a > peak {
			peak = a
		}
	}
	return peak
}

func (c *Chunk) ChannelRMS(ch int) float64 {
	if ch < 0 || ch >= c.channels || c.frames == 0 {
		return 0
	}
	var sum float64
	for i := ch; i < len(c.data); i += c.channels {
		v := float64(c.data[i])
		sum += v * v
	}
	return math.Sqrt(sum / float64(c.frames))
}

func (c *Chunk) ChannelPeak(ch int) float64 {
	if ch < 0 || ch >= c.channels {
		return 0
	}
	var peak float64
	for i := ch; i < len(c.data); i += c.channels {
		if a := math.Abs(float64(c.data[i])); a > peak {
			peak = a
		}
	}
	return peak
}

// Duration of the chunk at its sample rate.
func (c *Chunk) Duration() time.Duration {
	if c.sampleRate <= 0 {
		return 0
	}
	return time.Duration(c.frames) * time.Second / time.Duration(c.sampleRate)
}

// DataBytes is the size of the sample buffer in bytes.
func (c *Chunk) DataBytes() int {
	return len(c.data) * 4
}

// Channel copies one channel into dst and returns the filled slice. dst is
// grown when it is too small.
func (c *Chunk) Channel(ch int, dst []float32) []float32 {
	if ch < 0 || ch >= c.channels {
		return dst[:0]
	}
	if cap(dst) < c.frames {
		dst = make([]float32, c.frames)
	}
	dst = dst[:c.frames]
	for f := 0; f < c.frames; f++ {
		dst[f] = c.data[f*c.channels+ch]
	}
	return dst
}

// SetChannel writes src into one channel. Extra samples are ignored.
func (c *Chunk) SetChannel(ch int, src []float32) {
	if ch < 0 || ch >= c.channels {
		return
	}
	n := min(len(src), c.frames)
	for f := 0; f < n; f++ {
		c.data[f*c.channels+ch] = src[f]
	}
}

// IsValid reports whether the format is supported and the length invariant
// holds.
func (c *Chunk) IsValid() bool {
	return c.Format().Validate() == nil && len(c.data) == c.frames*c.channels
}

func (c *Chunk) IsEmpty() bool {
	return c.frames == 0 || len(c.data) == 0
}

func (c *Chunk) ValidateFormat() error {
	if err := c.Format().Validate(); err != nil {
		return err
	}
	if len(c.data) != c.frames*c.channels {
		return fmt.Errorf("%w: %d samples for %d frames x %d channels",
			domain.ErrInvalidFormat, len(c.data), c.frames, c.channels)
	}
	return nil
}

// ValidateData fails on the first NaN or infinite sample.
func (c *Chunk) ValidateData() error {
	for i, s := range c.data {
		f := float64(s)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w at index %d", domain.ErrNonFiniteSample, i)
		}
	}
	return nil
}

// Concatenate joins chunks of identical format into a new chunk.
func Concatenate(chunks ...*Chunk) (*Chunk, error) {
	if len(chunks) == 0 {
		return &Chunk{}, nil
	}
	format := chunks[0].Format()
	frames := 0
	for _, c := range chunks {
		if c.Format() != format {
			return nil, fmt.Errorf("%w: %s vs %s", domain.ErrAudioFormatMismatch, format, c.Format())
		}
		frames += c.frames
	}
	out := New(frames, format.Channels, format.SampleRate)
	offset := 0
	for _, c := range chunks {
		offset += copy(out.data[offset:], c.data)
	}
	return out, nil
}
