// Package workerpool implements the fixed-N worker pool used by the
// render manager (SPEC_FULL.md §4.2). Each worker owns its own goroutine
// and a per-worker function queue that is always drained before the
// worker takes from the shared, bounded task queue. A full task queue
// drops the oldest pending task (FIFO overwrite), never the newest.
package workerpool

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

// Worker is implemented by callers; Init runs once on the worker's own
// goroutine at startup and may fail, Process runs for each queued task.
type Worker interface {
	Init() error
	Process(task any)
}

// Handle identifies one worker within a Pool.
type Handle int

// Pool is a fixed set of worker goroutines draining a shared, bounded
// task queue plus per-worker function queues.
type Pool struct {
	mu         sync.Mutex
	cond       *sync.Cond
	queueLimit int
	tasks      []any
	workers    map[Handle]*workerState
	nextHandle Handle
	stopped    bool
}

type workerState struct {
	worker Worker
	fnQ    []func()
	stop   bool
	done   chan struct{}
}

// New creates an empty pool whose shared task queue holds at most
// queueLimit entries.
func New(queueLimit int) *Pool {
	if queueLimit <= 0 {
		queueLimit = 1000
	}
	p := &Pool{
		queueLimit: queueLimit,
		workers:    make(map[Handle]*workerState),
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// PushWorker spawns worker on its own goroutine. initDone, if non-nil, is
// invoked once Init() returns (success or error) with that error.
func (p *Pool) PushWorker(worker Worker, initDone func(error)) Handle {
	p.mu.Lock()
	h := p.nextHandle
	p.nextHandle++
	ws := &workerState{worker: worker, done: make(chan struct{})}
	p.workers[h] = ws
	p.mu.Unlock()

	go p.runWorker(h, ws, initDone)
	return h
}

func (p *Pool) runWorker(h Handle, ws *workerState, initDone func(error)) {
	err := ws.worker.Init()
	if initDone != nil {
		initDone(err)
	}
	if err != nil {
		log.WithError(err).WithField("worker", h).Error("workerpool: init failed")
	}

	for {
		fn, task, ok := p.next(ws)
		if !ok {
			close(ws.done)
			return
		}
		if fn != nil {
			fn()
			continue
		}
		ws.worker.Process(task)
	}
}

// next blocks until there is a function for this worker, a shared task,
// or the worker has been told to stop. The boolean result is false only
// when the worker should exit.
func (p *Pool) next(ws *workerState) (fn func(), task any, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		if len(ws.fnQ) > 0 {
			fn = ws.fnQ[0]
			ws.fnQ = ws.fnQ[1:]
			return fn, nil, true
		}
		if ws.stop {
			return nil, nil, false
		}
		if len(p.tasks) > 0 {
			task = p.tasks[0]
			p.tasks = p.tasks[1:]
			return nil, task, true
		}
		p.cond.Wait()
	}
}

// PostTask enqueues a task onto the shared queue. If the queue is at its
// limit, the oldest pending task is dropped to make room.
func (p *Pool) PostTask(task any) {
	p.mu.Lock()
	if len(p.tasks) >= p.queueLimit {
		p.tasks = p.tasks[1:]
		log.Warn("workerpool: queue full, dropped oldest task")
	}
	p.tasks = append(p.tasks, task)
	p.mu.Unlock()
	p.cond.Signal()
}

// ExecuteOnWorker enqueues fn to run on the specific worker's own
// goroutine, ahead of any shared tasks, in FIFO order relative to other
// functions posted to the same worker.
func (p *Pool) ExecuteOnWorker(h Handle, fn func()) {
	p.mu.Lock()
	ws, exists := p.workers[h]
	if !exists {
		p.mu.Unlock()
		return
	}
	ws.fnQ = append(ws.fnQ, fn)
	p.mu.Unlock()
	p.cond.Broadcast()
}

// Workers returns the handles of all currently live workers.
func (p *Pool) Workers() []Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Handle, 0, len(p.workers))
	for h := range p.workers {
		out = append(out, h)
	}
	return out
}

// RemoveWorker stops and removes a single worker, waiting for its
// goroutine to exit.
func (p *Pool) RemoveWorker(h Handle) {
	p.mu.Lock()
	ws, exists := p.workers[h]
	if !exists {
		p.mu.Unlock()
		return
	}
	ws.stop = true
	delete(p.workers, h)
	p.mu.Unlock()
	p.cond.Broadcast()
	<-ws.done
}

// Stop signals every worker to exit after draining its function queue,
// wakes them all, and waits for every goroutine to return.
func (p *Pool) Stop() {
	p.mu.Lock()
	p.stopped = true
	all := make([]*workerState, 0, len(p.workers))
	for _, ws := range p.workers {
		ws.stop = true
		all = append(all, ws)
	}
	p.mu.Unlock()
	p.cond.Broadcast()
	for _, ws := range all {
		<-ws.done
	}
}
