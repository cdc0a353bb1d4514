package output

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/winramp/winramp-dsp/internal/audio/chunk"
	"github.com/winramp/winramp-dsp/internal/domain"
	"github.com/winramp/winramp-dsp/internal/logger"
)

// oto allows one context per process; every OtoSink shares it.
var (
	otoMu      sync.Mutex
	otoContext *oto.Context
	otoFormat  chunk.Format
)

func sharedContext(format chunk.Format, buffer time.Duration) (*oto.Context, error) {
	otoMu.Lock()
	defer otoMu.Unlock()

	if otoContext != nil {
		if otoFormat != format {
			return nil, domain.NewDomainErrorWithDetails(domain.ErrCodeSink,
				"audio device already running", fmt.Sprintf("opened as %s", otoFormat), domain.ErrAudioFormatMismatch)
		}
		return otoContext, nil
	}

	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   format.SampleRate,
		ChannelCount: format.Channels,
		Format:       oto.FormatFloat32LE,
		BufferSize:   buffer,
	})
	if err != nil {
		return nil, domain.NewDomainError(domain.ErrCodeSink, "failed to create audio context", err)
	}
	<-ready

	otoContext, otoFormat = ctx, format
	return ctx, nil
}

// DefaultDevice is the only device oto exposes.
var DefaultDevice = &Device{
	ID:          "default",
	Name:        "Default Audio Device",
	Type:        "Oto",
	IsDefault:   true,
	MaxChannels: 2,
	SampleRates: []int{22050, 44100, 48000, 88200, 96000, 192000},
}

// LookupDevice resolves a configured device name. An empty name and
// "default" both mean the system default.
func LookupDevice(id string) (*Device, error) {
	if id == "" || id == DefaultDevice.ID {
		return DefaultDevice, nil
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrAudioDeviceNotFound, id)
}

// OtoSink plays chunks on the default audio device.
type OtoSink struct {
	log     *logger.Logger
	latency time.Duration

	mu      sync.Mutex
	format  chunk.Format
	player  *oto.Player
	queue   *byteQueue
	scratch []byte
	stats   Stats
	open    bool
	paused  bool
	closed  bool
}

// NewOtoSink returns a device sink with the given output latency. Zero
// lets oto choose.
func NewOtoSink(latency time.Duration, log *logger.Logger) *OtoSink {
	if log == nil {
		log = logger.Nop()
	}
	return &OtoSink{log: log, latency: latency}
}

func (o *OtoSink) Open(format chunk.Format) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return domain.ErrSinkClosed
	}
	if o.open {
		if format == o.format {
			return nil
		}
		return fmt.Errorf("%w: sink opened as %s, got %s", domain.ErrAudioFormatMismatch, o.format, format)
	}
	if err := format.Validate(); err != nil {
		return err
	}
	if format.Channels > DefaultDevice.MaxChannels {
		return fmt.Errorf("%w: device supports %d channels, got %d",
			domain.ErrInvalidChannels, DefaultDevice.MaxChannels, format.Channels)
	}

	ctx, err := sharedContext(format, o.latency)
	if err != nil {
		return err
	}

	// Hold about half a second of audio ahead of the device.
	frameBytes := format.Channels * 4
	o.queue = newByteQueue(format.SampleRate / 2 * frameBytes)
	o.player = ctx.NewPlayer(o.queue)
	o.format = format
	o.open = true

	o.log.Info("Audio output opened",
		logger.String("device", DefaultDevice.Name),
		logger.Int("sample_rate", format.SampleRate),
		logger.Int("channels", format.Channels))
	return nil
}

// Write queues c for playback, blocking while the queue is full.
func (o *OtoSink) Write(c *chunk.Chunk) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return domain.ErrSinkClosed
	}
	if !o.open {
		o.mu.Unlock()
		return domain.ErrSinkNotOpen
	}
	if c.Format() != o.format {
		o.mu.Unlock()
		return fmt.Errorf("%w: sink opened as %s, got %s", domain.ErrAudioFormatMismatch, o.format, c.Format())
	}

	data := c.Data()
	if cap(o.scratch) < len(data)*4 {
		o.scratch = make([]byte, len(data)*4)
	}
	buf := o.scratch[:len(data)*4]
	for i, s := range data {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(s))
	}
	queue, player, paused := o.queue, o.player, o.paused
	o.stats.Chunks++
	o.stats.Frames += int64(c.Frames())
	o.mu.Unlock()

	// Writes come from a single pipeline goroutine, so scratch is not
	// shared while the queue blocks.
	if err := queue.write(buf); err != nil {
		return err
	}
	if !paused && !player.IsPlaying() {
		player.Play()
	}
	return nil
}

// Pause stops the device without dropping queued audio.
func (o *OtoSink) Pause() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.paused = true
	if o.player != nil {
		o.player.Pause()
	}
}

// Resume continues after Pause.
func (o *OtoSink) Resume() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.paused = false
	if o.player != nil && o.queue.buffered() > 0 {
		o.player.Play()
	}
}

// Latency is the amount of audio queued but not yet heard.
func (o *OtoSink) Latency() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.open {
		return 0
	}
	bytes := o.queue.buffered() + o.player.BufferedSize()
	frames := bytes / (o.format.Channels * 4)
	return time.Duration(frames) * time.Second / time.Duration(o.format.SampleRate)
}

// Underruns counts the reads the device made while the queue was empty.
func (o *OtoSink) Underruns() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.queue == nil {
		return 0
	}
	return o.queue.underruns()
}

func (o *OtoSink) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stats
}

// Close waits for queued audio to play out, then releases the player.
func (o *OtoSink) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	player, queue := o.player, o.queue
	o.mu.Unlock()

	if player == nil {
		return nil
	}
	queue.close()
	for player.IsPlaying() {
		time.Sleep(10 * time.Millisecond)
	}
	err := player.Close()
	if err != nil {
		return domain.NewDomainError(domain.ErrCodeSink, "failed to close audio player", err)
	}
	o.log.Debug("Audio output closed", logger.Int64("frames", o.stats.Frames))
	return nil
}

// byteQueue is the bounded buffer between Write and the oto player. The
// player must never block, so reads on an empty queue return silence.
type byteQueue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	buf      []byte
	limit    int
	closed   bool
	underrun int64
}

func newByteQueue(limit int) *byteQueue {
	q := &byteQueue{limit: limit}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *byteQueue) write(p []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.buf) > 0 && len(q.buf)+len(p) > q.limit && !q.closed {
		q.cond.Wait()
	}
	if q.closed {
		return domain.ErrSinkClosed
	}
	q.buf = append(q.buf, p...)
	return nil
}

func (q *byteQueue) Read(p []byte) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.buf) == 0 {
		if q.closed {
			return 0, io.EOF
		}
		q.underrun++
		n := len(p) &^ 3
		clear(p[:n])
		return n, nil
	}

	n := copy(p, q.buf)
	q.buf = q.buf[:copy(q.buf, q.buf[n:])]
	q.cond.Broadcast()
	return n, nil
}

func (q *byteQueue) buffered() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}

func (q *byteQueue) underruns() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.underrun
}

func (q *byteQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}
