package dsp

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/winramp/winramp-dsp/internal/audio/chunk"
	"github.com/winramp/winramp-dsp/internal/domain"
	"github.com/winramp/winramp-dsp/internal/logger"
)

// EffectTiming is the time spent in one effect while monitoring was on.
type EffectTiming struct {
	Name  string
	Calls int64
	Total time.Duration
}

func (t EffectTiming) Average() time.Duration {
	if t.Calls == 0 {
		return 0
	}
	return t.Total / time.Duration(t.Calls)
}

type slot struct {
	effect Effect

	// format is the format the effect was last instantiated for; declined
	// is set when that attempt failed. Only Process touches them.
	format   chunk.Format
	declined bool

	calls atomic.Int64
	nanos atomic.Int64
}

// chainState is the slot list seen by Process. A published state is never
// modified; edits build a new one.
type chainState struct {
	slots []*slot
	// group is scratch for runGroup, used only by the processing goroutine.
	group []Effect
}

var emptyState = &chainState{}

// Chain runs effects in order over a chunk. The chain owns its effects.
// Structural edits may run concurrently with Process: they publish a new
// slot list that the next block picks up. Process itself must not be
// called from more than one goroutine at a time.
type Chain struct {
	mu         sync.Mutex // serializes edits
	state      atomic.Pointer[chainState]
	enabled    atomic.Bool
	resetReq   atomic.Bool
	maxEffects int

	log     *logger.Logger
	monitor atomic.Pointer[Monitor]
	pool    atomic.Pointer[workerPool]

	wg sync.WaitGroup
}

// NewChain returns an empty chain. maxEffects of zero means unlimited.
func NewChain(log *logger.Logger, maxEffects int) *Chain {
	if log == nil {
		log = logger.Nop()
	}
	c := &Chain{log: log, maxEffects: maxEffects}
	c.state.Store(emptyState)
	c.enabled.Store(true)
	return c
}

// SetMonitor attaches m; per-effect timings are kept while it records.
func (ch *Chain) SetMonitor(m *Monitor) { ch.monitor.Store(m) }

func (ch *Chain) setPool(p *workerPool) { ch.pool.Store(p) }

func (ch *Chain) setMaxEffects(n int) {
	ch.mu.Lock()
	ch.maxEffects = n
	ch.mu.Unlock()
}

func (ch *Chain) SetEnabled(enabled bool) { ch.enabled.Store(enabled) }
func (ch *Chain) Enabled() bool           { return ch.enabled.Load() }

func (ch *Chain) slots() []*slot { return ch.state.Load().slots }

func (ch *Chain) Len() int { return len(ch.slots()) }

// publish must be called with mu held.
func (ch *Chain) publish(slots []*slot) {
	ch.state.Store(&chainState{slots: slots, group: make([]Effect, 0, len(slots))})
}

// Add appends e to the end of the chain.
func (ch *Chain) Add(e Effect) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.insert(len(ch.slots()), e)
}

// Insert places e before index i; i == Len appends.
func (ch *Chain) Insert(i int, e Effect) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.insert(i, e)
}

func (ch *Chain) insert(i int, e Effect) error {
	old := ch.slots()
	if e == nil {
		return fmt.Errorf("%w: nil effect", domain.ErrInvalidParameter)
	}
	if i < 0 || i > len(old) {
		return fmt.Errorf("%w: insert at %d, chain has %d effects", domain.ErrIndexOutOfRange, i, len(old))
	}
	if ch.maxEffects > 0 && len(old) >= ch.maxEffects {
		return fmt.Errorf("%w: limit is %d", domain.ErrChainFull, ch.maxEffects)
	}
	slots := make([]*slot, 0, len(old)+1)
	slots = append(slots, old[:i]...)
	slots = append(slots, &slot{effect: e})
	slots = append(slots, old[i:]...)
	ch.publish(slots)
	return nil
}

// Remove detaches the effect at i and hands it back to the caller.
func (ch *Chain) Remove(i int) (Effect, error) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.remove(i)
}

func (ch *Chain) remove(i int) (Effect, error) {
	old := ch.slots()
	if i < 0 || i >= len(old) {
		return nil, fmt.Errorf("%w: remove %d, chain has %d effects", domain.ErrIndexOutOfRange, i, len(old))
	}
	slots := make([]*slot, 0, len(old)-1)
	slots = append(slots, old[:i]...)
	slots = append(slots, old[i+1:]...)
	ch.publish(slots)
	return old[i].effect, nil
}

// RemoveByName removes the first effect called name.
func (ch *Chain) RemoveByName(name string) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	i := ch.Find(name)
	if i < 0 {
		return fmt.Errorf("%w: %q", domain.ErrEffectNotFound, name)
	}
	_, err := ch.remove(i)
	return err
}

// Move relocates the effect at from so that it ends up at index to.
func (ch *Chain) Move(from, to int) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	slots := append([]*slot(nil), ch.slots()...)
	n := len(slots)
	if from < 0 || from >= n || to < 0 || to >= n {
		return fmt.Errorf("%w: move %d to %d, chain has %d effects", domain.ErrIndexOutOfRange, from, to, n)
	}
	s := slots[from]
	if from < to {
		copy(slots[from:to], slots[from+1:to+1])
	} else {
		copy(slots[to+1:from+1], slots[to:from])
	}
	slots[to] = s
	ch.publish(slots)
	return nil
}

func (ch *Chain) Clear() {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.state.Store(emptyState)
}

// Replace swaps the whole effect list in one step. Nothing is published
// when effects exceeds the limit.
func (ch *Chain) Replace(effects []Effect) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.maxEffects > 0 && len(effects) > ch.maxEffects {
		return fmt.Errorf("%w: limit is %d", domain.ErrChainFull, ch.maxEffects)
	}
	slots := make([]*slot, 0, len(effects))
	for _, e := range effects {
		if e == nil {
			return fmt.Errorf("%w: nil effect", domain.ErrInvalidParameter)
		}
		slots = append(slots, &slot{effect: e})
	}
	ch.publish(slots)
	return nil
}

func (ch *Chain) At(i int) (Effect, error) {
	slots := ch.slots()
	if i < 0 || i >= len(slots) {
		return nil, fmt.Errorf("%w: %d", domain.ErrIndexOutOfRange, i)
	}
	return slots[i].effect, nil
}

// Find returns the index of the first effect called name, or -1.
func (ch *Chain) Find(name string) int {
	for i, s := range ch.slots() {
		if s.effect.Name() == name {
			return i
		}
	}
	return -1
}

// Effects returns the effects in order. The slice is a copy; the effects
// are not.
func (ch *Chain) Effects() []Effect {
	slots := ch.slots()
	out := make([]Effect, len(slots))
	for i, s := range slots {
		out[i] = s.effect
	}
	return out
}

// Latency sums the latency of the effects that will run.
func (ch *Chain) Latency() time.Duration {
	var total time.Duration
	for _, s := range ch.slots() {
		if s.effect.Enabled() && !s.effect.Bypassed() {
			total += s.effect.Latency()
		}
	}
	return total
}

// Reset clears the processing state of every effect. It must not run
// concurrently with Process; use RequestReset from other goroutines.
func (ch *Chain) Reset() {
	ch.resetReq.Store(false)
	for _, s := range ch.slots() {
		s.effect.Reset()
	}
}

// RequestReset makes the next Process call reset every effect before it
// runs them.
func (ch *Chain) RequestReset() { ch.resetReq.Store(true) }

func (ch *Chain) Timings() []EffectTiming {
	slots := ch.slots()
	out := make([]EffectTiming, len(slots))
	for i, s := range slots {
		out[i] = EffectTiming{
			Name:  s.effect.Name(),
			Calls: s.calls.Load(),
			Total: time.Duration(s.nanos.Load()),
		}
	}
	return out
}

func (ch *Chain) ResetTimings() {
	for _, s := range ch.slots() {
		s.calls.Store(0)
		s.nanos.Store(0)
	}
}

// Process runs every effect over c in place. ctx is checked between
// effects; on cancellation c holds the output of the effects that already
// ran and the context error is returned. An effect that cannot be
// instantiated for the chunk's format is skipped until the format changes.
func (ch *Chain) Process(ctx context.Context, c *chunk.Chunk) error {
	if ch.resetReq.Swap(false) {
		for _, s := range ch.slots() {
			s.effect.Reset()
		}
	}
	if c == nil || c.IsEmpty() || !ch.Enabled() {
		return nil
	}
	start := time.Now()
	format := c.Format()
	state := ch.state.Load()
	monitor := ch.monitor.Load()
	pool := ch.pool.Load()

	for i := 0; i < len(state.slots); {
		if err := ctx.Err(); err != nil {
			return err
		}
		s := state.slots[i]
		if !ch.prepare(s, format, monitor) {
			i++
			continue
		}
		if pool != nil {
			if n := ch.runGroup(state, i, c, format, pool, monitor); n > 0 {
				i += n
				continue
			}
		}
		ch.run(s, c, monitor)
		i++
	}

	monitor.Record(c.Frames(), c.SampleRate(), time.Since(start))
	return nil
}

// prepare reports whether s should run for format, instantiating it when
// the format changed since its last instantiation.
func (ch *Chain) prepare(s *slot, format chunk.Format, monitor *Monitor) bool {
	if !s.effect.Enabled() || s.effect.Bypassed() {
		return false
	}
	if s.format == format {
		if s.declined {
			return false
		}
		if s.effect.State() != StateUninstantiated {
			return true
		}
	}

	s.format = format
	if err := s.effect.Instantiate(format); err != nil {
		s.declined = true
		monitor.RecordError()
		ch.log.Warn("Effect declined format",
			logger.String("effect", s.effect.Name()),
			logger.String("format", format.String()),
			logger.Error(err))
		return false
	}
	s.declined = false
	ch.log.Debug("Effect instantiated",
		logger.String("effect", s.effect.Name()),
		logger.String("format", format.String()))
	return true
}

func (ch *Chain) run(s *slot, c *chunk.Chunk, monitor *Monitor) {
	if !timing(monitor) {
		s.effect.Run(c)
		return
	}
	t := time.Now()
	s.effect.Run(c)
	s.calls.Add(1)
	s.nanos.Add(int64(time.Since(t)))
}

func timing(m *Monitor) bool {
	return m != nil && m.IsMonitoring()
}

// runGroup runs the effects starting at i that touch disjoint channels on
// the worker pool. It returns how many ran, or zero when fewer than two
// qualify, or the pool has been closed, and the caller should run slot i
// alone.
func (ch *Chain) runGroup(state *chainState, i int, c *chunk.Chunk, format chunk.Format, pool *workerPool, monitor *Monitor) int {
	group := state.group[:0]
	var used uint32
	for j := i; j < len(state.slots); j++ {
		s := state.slots[j]
		scoped, ok := s.effect.(ChannelScoped)
		if !ok || !ch.prepare(s, format, monitor) {
			break
		}
		mask := scoped.ChannelMask(format.Channels)
		if overlaps(used, mask) {
			break
		}
		used |= mask
		group = append(group, s.effect)
	}
	if len(group) < 2 {
		return 0
	}

	t := time.Now()
	if !pool.run(group, c, &ch.wg) {
		return 0
	}
	if timing(monitor) {
		elapsed := int64(time.Since(t))
		for _, s := range state.slots[i : i+len(group)] {
			s.calls.Add(1)
			s.nanos.Add(elapsed)
		}
	}
	return len(group)
}
