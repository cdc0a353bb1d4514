package dsp

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/winramp/winramp-dsp/internal/audio/chunk"
)

type workerTask struct {
	effect Effect
	chunk  *chunk.Chunk
	done   *sync.WaitGroup
}

// workerPool runs effects on a fixed set of goroutines that live until
// close. Submitting a task does not allocate.
type workerPool struct {
	tasks chan workerTask
	wg    sync.WaitGroup
	once  sync.Once
	size  int

	// active counts run calls in flight; closed turns new ones away so
	// close can wait for the rest before shutting the workers down.
	active atomic.Int32
	closed atomic.Bool
}

func newWorkerPool(size int) *workerPool {
	if size < 1 {
		size = 1
	}
	p := &workerPool{
		tasks: make(chan workerTask, size),
		size:  size,
	}
	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.worker()
	}
	return p
}

func (p *workerPool) worker() {
	defer p.wg.Done()
	for t := range p.tasks {
		t.effect.Run(t.chunk)
		t.done.Done()
	}
}

// run executes every effect against c concurrently and waits for all of
// them. The effects must write disjoint channels. It returns false without
// running anything once the pool is closing.
func (p *workerPool) run(effects []Effect, c *chunk.Chunk, done *sync.WaitGroup) bool {
	p.active.Add(1)
	defer p.active.Add(-1)
	if p.closed.Load() {
		return false
	}
	done.Add(len(effects))
	for _, e := range effects {
		p.tasks <- workerTask{effect: e, chunk: c, done: done}
	}
	done.Wait()
	return true
}

func (p *workerPool) close() {
	p.once.Do(func() {
		p.closed.Store(true)
		for p.active.Load() > 0 {
			time.Sleep(100 * time.Microsecond)
		}
		close(p.tasks)
		p.wg.Wait()
	})
}
