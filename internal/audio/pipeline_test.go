package audio

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/winramp/winramp-dsp/internal/audio/chunk"
	"github.com/winramp/winramp-dsp/internal/audio/decoder"
	"github.com/winramp/winramp-dsp/internal/audio/dsp"
	"github.com/winramp/winramp-dsp/internal/audio/dsp/filter"
	"github.com/winramp/winramp-dsp/internal/audio/output"
	"github.com/winramp/winramp-dsp/internal/config"
	"github.com/winramp/winramp-dsp/internal/domain"
)

// constSource yields frames of a constant value, then fails with failErr
// if set.
type constSource struct {
	format  chunk.Format
	value   float32
	left    int
	failErr error
	md      *decoder.Metadata
}

func newConstSource(value float32, frames int) *constSource {
	return &constSource{
		format: chunk.Format{SampleRate: 44100, Channels: 2},
		value:  value,
		left:   frames,
		md:     &decoder.Metadata{Duration: time.Duration(frames) * time.Second / 44100},
	}
}

func (s *constSource) Format() chunk.Format         { return s.format }
func (s *constSource) Metadata() *decoder.Metadata { return s.md }
func (s *constSource) Close() error                 { return nil }

func (s *constSource) Read(c *chunk.Chunk) error {
	if s.left == 0 {
		c.Resize(0, s.format.Channels)
		if s.failErr != nil {
			return s.failErr
		}
		return domain.ErrEndOfStream
	}
	n := min(c.Frames(), s.left)
	c.Resize(n, s.format.Channels)
	c.SetSampleRate(s.format.SampleRate)
	data := c.Data()
	for i := range data {
		data[i] = s.value
	}
	s.left -= n
	return nil
}

func newManager(t *testing.T, effects ...dsp.Effect) *dsp.Manager {
	t.Helper()
	m := dsp.NewManager(dsp.NewContext(nil, config.Default().DSP, nil))
	for _, e := range effects {
		require.NoError(t, m.AddEffect(e))
	}
	t.Cleanup(func() { m.Close() })
	return m
}

// recorder collects events; it is safe for use from the pipeline goroutine.
type recorder struct {
	mu     sync.Mutex
	states []State
	blocks int
	final  *Progress
	errs   []error
}

func (r *recorder) listen(event Event, data interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch event {
	case EventStateChanged:
		r.states = append(r.states, data.(State))
	case EventBlockProcessed:
		r.blocks++
	case EventFinished:
		pr := data.(Progress)
		r.final = &pr
	case EventError:
		r.errs = append(r.errs, data.(error))
	}
}

func TestPipeline_RunsToEnd(t *testing.T) {
	vol := dsp.NewVolume()
	vol.SetGainDB(-6)
	src := newConstSource(0.5, 10000)
	sink := output.NewDiscardSink()
	p := NewPipeline(src, newManager(t, vol), sink, Options{BlockFrames: 1024})

	rec := &recorder{}
	p.AddListener(rec.listen)
	require.NoError(t, p.Run(context.Background()))

	assert.Equal(t, StateFinished, p.State())
	assert.Equal(t, output.Stats{Chunks: 10, Frames: 10000}, sink.Stats())
	assert.InDelta(t, 0.5*filter.DBToLinear(-6), sink.Peak(), 1e-6)

	assert.Equal(t, []State{StateRunning, StateFinished}, rec.states)
	assert.Equal(t, 10, rec.blocks)
	require.NotNil(t, rec.final)
	assert.Equal(t, int64(10000), rec.final.Frames)
	assert.Equal(t, rec.final.Duration, rec.final.Position)

	// Run closes the sink.
	assert.ErrorIs(t, sink.Write(chunk.New(1, 2, 44100)), domain.ErrSinkClosed)
}

func TestPipeline_ReplayGainFromMetadata(t *testing.T) {
	tests := []struct {
		name string
		mode dsp.ReplayGainMode
		md   decoder.Metadata
		want float64
	}{
		{
			name: "track",
			mode: dsp.ReplayGainTrack,
			md:   decoder.Metadata{TrackGain: -6, TrackPeak: 0.5, HasTrackGain: true},
			want: -6,
		},
		{
			name: "album",
			mode: dsp.ReplayGainAlbum,
			md: decoder.Metadata{
				TrackGain: -6, TrackPeak: 0.5, HasTrackGain: true,
				AlbumGain: -3, AlbumPeak: 0.5, HasAlbumGain: true,
			},
			want: -3,
		},
		{
			name: "album falls back to track",
			mode: dsp.ReplayGainAlbum,
			md:   decoder.Metadata{TrackGain: -9, TrackPeak: 0.5, HasTrackGain: true},
			want: -9,
		},
		{
			name: "untagged",
			mode: dsp.ReplayGainTrack,
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rg := dsp.NewReplayGain()
			rg.SetMode(tt.mode)
			rg.SetTrackGain(12, 0.1) // stale values from a previous track

			src := newConstSource(0.5, 2048)
			md := tt.md
			src.md = &md
			sink := output.NewDiscardSink()
			require.NoError(t, NewPipeline(src, newManager(t, rg), sink, Options{}).Run(context.Background()))

			assert.InDelta(t, filter.DBToLinear(tt.want), rg.Gain(), 1e-6)
			assert.InDelta(t, 0.5*filter.DBToLinear(tt.want), sink.Peak(), 1e-5)
		})
	}
}

func TestPipeline_SourceError(t *testing.T) {
	boom := errors.New("corrupt frame")
	src := newConstSource(0.1, 100)
	src.failErr = boom
	p := NewPipeline(src, newManager(t), output.NewDiscardSink(), Options{BlockFrames: 64})

	rec := &recorder{}
	p.AddListener(rec.listen)
	err := p.Run(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StateError, p.State())
	assert.ErrorIs(t, p.Err(), boom)
	require.Len(t, rec.errs, 1)
	assert.Nil(t, rec.final)
	assert.Equal(t, int64(2), p.Progress().Blocks)
}

func TestPipeline_ClosedManager(t *testing.T) {
	m := newManager(t)
	require.NoError(t, m.Close())
	p := NewPipeline(newConstSource(0.1, 100), m, output.NewDiscardSink(), Options{})
	assert.ErrorIs(t, p.Run(context.Background()), domain.ErrManagerClosed)
	assert.Equal(t, StateError, p.State())
}

func TestPipeline_PauseResumeStop(t *testing.T) {
	t.Run("resume", func(t *testing.T) {
		sink := output.NewDiscardSink()
		p := NewPipeline(newConstSource(0.1, 1000), newManager(t), sink, Options{BlockFrames: 100})
		p.AddListener(func(event Event, data interface{}) {
			if event == EventBlockProcessed && data.(Progress).Blocks == 2 {
				require.NoError(t, p.Pause())
			}
		})

		done := make(chan error, 1)
		go func() { done <- p.Run(context.Background()) }()

		require.Eventually(t, func() bool { return p.State() == StatePaused }, time.Second, time.Millisecond)
		assert.Equal(t, int64(2), p.Progress().Blocks)
		assert.ErrorIs(t, p.Pause(), ErrNotRunning)

		require.NoError(t, p.Resume())
		require.NoError(t, <-done)
		assert.Equal(t, StateFinished, p.State())
		assert.Equal(t, int64(1000), sink.Stats().Frames)
	})

	t.Run("stop while paused", func(t *testing.T) {
		sink := output.NewDiscardSink()
		p := NewPipeline(newConstSource(0.1, 1000), newManager(t), sink, Options{BlockFrames: 100})
		p.AddListener(func(event Event, data interface{}) {
			if event == EventBlockProcessed && data.(Progress).Blocks == 3 {
				require.NoError(t, p.Pause())
			}
		})

		done := make(chan error, 1)
		go func() { done <- p.Run(context.Background()) }()

		require.Eventually(t, func() bool { return p.State() == StatePaused }, time.Second, time.Millisecond)
		p.Stop()
		require.NoError(t, <-done)
		assert.Equal(t, StateStopped, p.State())
		assert.Equal(t, int64(300), sink.Stats().Frames)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		p := NewPipeline(newConstSource(0.1, 1000), newManager(t), output.NewDiscardSink(), Options{BlockFrames: 100})
		p.AddListener(func(event Event, data interface{}) {
			if event == EventBlockProcessed {
				cancel()
			}
		})
		assert.ErrorIs(t, p.Run(ctx), context.Canceled)
		assert.Equal(t, StateStopped, p.State())
		assert.Equal(t, int64(1), p.Progress().Blocks)
	})

	t.Run("not running", func(t *testing.T) {
		p := NewPipeline(newConstSource(0.1, 10), newManager(t), output.NewDiscardSink(), Options{})
		assert.ErrorIs(t, p.Pause(), ErrNotRunning)
		assert.ErrorIs(t, p.Resume(), ErrNotRunning)
		p.Stop()
		assert.Equal(t, StateStopped, p.State())
	})
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateStopped, "stopped"},
		{StateRunning, "running"},
		{StatePaused, "paused"},
		{StateFinished, "finished"},
		{StateError, "error"},
		{State(42), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.state.String())
	}
}
