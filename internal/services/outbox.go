package services

import (
	"context"
	"sync"
)

// outbox runs one tenant's side effects (webhooks, metadata writes,
// teardown) in enqueue order on a single goroutine. It never blocks the
// producer.
type outbox struct {
	mu     sync.Mutex
	jobs   []func()
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func newOutbox() *outbox {
	o := &outbox{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go o.run()
	return o
}

// push enqueues job. It reports false once the outbox is closed.
func (o *outbox) push(job func()) bool {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return false
	}
	o.jobs = append(o.jobs, job)
	o.mu.Unlock()

	select {
	case o.wake <- struct{}{}:
	default:
	}
	return true
}

// close stops accepting jobs. Jobs already queued still run.
func (o *outbox) close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()

	select {
	case o.wake <- struct{}{}:
	default:
	}
}

func (o *outbox) wait(ctx context.Context) error {
	select {
	case <-o.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *outbox) run() {
	defer close(o.done)
	for {
		o.mu.Lock()
		if len(o.jobs) == 0 {
			closed := o.closed
			o.mu.Unlock()
			if closed {
				return
			}
			<-o.wake
			continue
		}
		job := o.jobs[0]
		o.jobs[0] = nil
		o.jobs = o.jobs[1:]
		o.mu.Unlock()

		job()
	}
}
