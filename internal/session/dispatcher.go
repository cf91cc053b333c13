package session

import (
	"sync"
)

// dispatcher serializes work per key. All jobs for one key run in order on
// that key's worker goroutine; different keys run independently.
type dispatcher struct {
	mu      sync.Mutex
	workers map[string]chan func()
	quit    chan struct{}
	wg      sync.WaitGroup
	closed  bool
}

func newDispatcher() *dispatcher {
	return &dispatcher{
		workers: make(map[string]chan func()),
		quit:    make(chan struct{}),
	}
}

func (d *dispatcher) worker(key string) chan func() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}

	jobs, ok := d.workers[key]
	if !ok {
		jobs = make(chan func(), 32)
		d.workers[key] = jobs
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for {
				select {
				case job := <-jobs:
					job()
				case <-d.quit:
					// Drain jobs already queued before shutdown.
					for {
						select {
						case job := <-jobs:
							job()
						default:
							return
						}
					}
				}
			}
		}()
	}
	return jobs
}

// dispatch queues a job for the key. Jobs for the same key never overlap.
// Returns false if the dispatcher is closed.
func (d *dispatcher) dispatch(key string, job func()) bool {
	jobs := d.worker(key)
	if jobs == nil {
		return false
	}
	select {
	case jobs <- job:
		return true
	case <-d.quit:
		return false
	}
}

// do runs a job on the key's worker and waits for it to finish. Returns
// false if the dispatcher is closed and the job never ran.
func (d *dispatcher) do(key string, job func()) bool {
	done := make(chan struct{})
	ok := d.dispatch(key, func() {
		defer close(done)
		job()
	})
	if !ok {
		return false
	}
	<-done
	return true
}

// close stops every worker after letting queued jobs finish.
func (d *dispatcher) close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	close(d.quit)
	d.wg.Wait()
}
