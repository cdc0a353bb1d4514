// Package audio drives decoded audio through the DSP chain to an output.
package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/winramp/winramp-dsp/internal/audio/chunk"
	"github.com/winramp/winramp-dsp/internal/audio/decoder"
	"github.com/winramp/winramp-dsp/internal/audio/dsp"
	"github.com/winramp/winramp-dsp/internal/audio/output"
	"github.com/winramp/winramp-dsp/internal/domain"
	"github.com/winramp/winramp-dsp/internal/logger"
)

var (
	ErrAlreadyRunning = errors.New("pipeline already running")
	ErrNotRunning     = errors.New("pipeline not running")
)

// State represents the current state of the pipeline
type State int32

const (
	StateStopped State = iota
	StateRunning
	StatePaused
	StateFinished
	StateError
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateFinished:
		return "finished"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Event represents pipeline events
type Event int

const (
	EventStateChanged Event = iota
	EventBlockProcessed
	EventFinished
	EventError
)

// EventListener is called synchronously, without pipeline locks held, and
// must not block. data is a State for EventStateChanged, a Progress for
// EventBlockProcessed and EventFinished, and an error for EventError.
type EventListener func(event Event, data interface{})

// Progress counts what the pipeline has delivered to the sink.
type Progress struct {
	Blocks   int64
	Frames   int64
	Position time.Duration
	Duration time.Duration
}

// Options tune a Pipeline. Zero values select the defaults.
type Options struct {
	// BlockFrames is the number of frames read per block.
	BlockFrames int
	// CheckEvery runs the manager's performance check every n blocks.
	CheckEvery int
	Log        *logger.Logger
}

const (
	defaultCheckEvery = 100
)

// Pipeline pulls blocks from a source, runs them through a manager's chain
// and writes them to a sink.
type Pipeline struct {
	source  decoder.Source
	manager *dsp.Manager
	sink    output.Sink
	log     *logger.Logger

	blockFrames int
	checkEvery  int

	mu       sync.Mutex
	cond     *sync.Cond
	state    State
	stopping bool
	cancel   context.CancelFunc
	err      error

	blocks atomic.Int64
	frames atomic.Int64

	listenerMu sync.RWMutex
	listeners  []EventListener
}

// NewPipeline wires source, manager and sink together. The pipeline does
// not own the source; Run closes the sink when it returns.
func NewPipeline(source decoder.Source, manager *dsp.Manager, sink output.Sink, opts Options) *Pipeline {
	if opts.BlockFrames <= 0 {
		opts.BlockFrames = decoder.DefaultBlockFrames
	}
	if opts.CheckEvery <= 0 {
		opts.CheckEvery = defaultCheckEvery
	}
	if opts.Log == nil {
		opts.Log = logger.Nop()
	}
	p := &Pipeline{
		source:      source,
		manager:     manager,
		sink:        sink,
		log:         opts.Log,
		blockFrames: opts.BlockFrames,
		checkEvery:  opts.CheckEvery,
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Run processes the source to the end, until ctx is cancelled or Stop is
// called. It returns nil when the source is exhausted or Stop was called.
func (p *Pipeline) Run(ctx context.Context) error {
	p.mu.Lock()
	if p.state == StateRunning || p.state == StatePaused {
		p.mu.Unlock()
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.stopping = false
	p.err = nil
	p.blocks.Store(0)
	p.frames.Store(0)
	p.state = StateRunning
	p.mu.Unlock()
	p.notify(EventStateChanged, StateRunning)

	defer cancel()
	stopWaking := context.AfterFunc(ctx, func() {
		p.mu.Lock()
		p.cond.Broadcast()
		p.mu.Unlock()
	})
	defer stopWaking()

	err := p.run(ctx)
	if closeErr := p.sink.Close(); closeErr != nil && err == nil {
		err = closeErr
	}

	p.mu.Lock()
	stopping := p.stopping
	switch {
	case err == nil:
		p.state = StateFinished
	case stopping, errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		p.state = StateStopped
	default:
		p.state = StateError
		p.err = err
	}
	state := p.state
	p.mu.Unlock()
	p.notify(EventStateChanged, state)

	switch state {
	case StateFinished:
		progress := p.Progress()
		p.notify(EventFinished, progress)
		p.log.Info("Pipeline finished",
			logger.Int64("frames", progress.Frames),
			logger.Duration("position", progress.Position))
		return nil
	case StateError:
		p.notify(EventError, err)
		p.log.Error("Pipeline failed", logger.Error(err))
		return err
	}
	if stopping {
		return nil
	}
	return err
}

func (p *Pipeline) run(ctx context.Context) error {
	format := p.source.Format()
	if err := p.sink.Open(format); err != nil {
		return fmt.Errorf("failed to open output: %w", err)
	}
	p.applyReplayGain()

	p.log.Info("Pipeline started",
		logger.String("format", format.String()),
		logger.Int("block_frames", p.blockFrames),
		logger.Int("effects", p.manager.EffectCount()))

	buf := chunk.New(p.blockFrames, format.Channels, format.SampleRate)
	for {
		if err := p.waitWhilePaused(ctx); err != nil {
			return err
		}

		buf.Resize(p.blockFrames, format.Channels)
		err := p.source.Read(buf)
		if errors.Is(err, domain.ErrEndOfStream) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read source: %w", err)
		}

		if err := p.manager.ProcessChain(ctx, buf); err != nil {
			return err
		}
		if err := p.sink.Write(buf); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}

		blocks := p.blocks.Add(1)
		p.frames.Add(int64(buf.Frames()))
		p.notify(EventBlockProcessed, p.Progress())

		if blocks%int64(p.checkEvery) == 0 {
			p.manager.CheckPerformance()
		}
	}
}

func (p *Pipeline) waitWhilePaused(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.state == StatePaused && ctx.Err() == nil {
		p.cond.Wait()
	}
	return ctx.Err()
}

// applyReplayGain hands the source's ReplayGain tags to any ReplayGain
// effect in the chain. Album mode falls back to the track values when the
// file has no album gain.
func (p *Pipeline) applyReplayGain() {
	md := p.source.Metadata()
	for _, e := range p.manager.Effects() {
		rg, ok := e.(*dsp.ReplayGain)
		if !ok {
			continue
		}
		rg.ClearGains()
		if md == nil {
			continue
		}
		if md.HasTrackGain {
			rg.SetTrackGain(md.TrackGain, md.TrackPeak)
		}
		switch {
		case md.HasAlbumGain:
			rg.SetAlbumGain(md.AlbumGain, md.AlbumPeak)
		case md.HasTrackGain:
			rg.SetAlbumGain(md.TrackGain, md.TrackPeak)
		}
		p.log.Debug("ReplayGain applied",
			logger.String("mode", rg.Mode().String()),
			logger.Float64("gain", rg.Gain()))
	}
}

// Pause holds processing after the current block.
func (p *Pipeline) Pause() error {
	if err := p.transition(StateRunning, StatePaused); err != nil {
		return err
	}
	if s, ok := p.sink.(interface{ Pause() }); ok {
		s.Pause()
	}
	p.notify(EventStateChanged, StatePaused)
	return nil
}

// Resume continues after Pause.
func (p *Pipeline) Resume() error {
	if s, ok := p.sink.(interface{ Resume() }); ok && p.State() == StatePaused {
		s.Resume()
	}
	if err := p.transition(StatePaused, StateRunning); err != nil {
		return err
	}
	p.notify(EventStateChanged, StateRunning)
	return nil
}

func (p *Pipeline) transition(from, to State) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != from {
		return fmt.Errorf("%w: pipeline is %s", ErrNotRunning, p.state)
	}
	p.state = to
	p.cond.Broadcast()
	return nil
}

// Stop ends a running or paused pipeline. Run returns once the current
// block is done.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateRunning && p.state != StatePaused {
		return
	}
	p.stopping = true
	if p.cancel != nil {
		p.cancel()
	}
	p.cond.Broadcast()
}

func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Err is the error that moved the pipeline into StateError.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *Pipeline) Progress() Progress {
	frames := p.frames.Load()
	rate := p.source.Format().SampleRate
	pr := Progress{Blocks: p.blocks.Load(), Frames: frames}
	if rate > 0 {
		pr.Position = time.Duration(frames) * time.Second / time.Duration(rate)
	}
	if md := p.source.Metadata(); md != nil {
		pr.Duration = md.Duration
	}
	return pr
}

// AddListener adds an event listener
func (p *Pipeline) AddListener(listener EventListener) {
	p.listenerMu.Lock()
	defer p.listenerMu.Unlock()
	p.listeners = append(p.listeners, listener)
}

func (p *Pipeline) notify(event Event, data interface{}) {
	p.listenerMu.RLock()
	listeners := make([]EventListener, len(p.listeners))
	copy(listeners, p.listeners)
	p.listenerMu.RUnlock()

	for _, listener := range listeners {
		listener(event, data)
	}
}
