package jobs

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"disputeflow-backend/services"
)

// Job classes. Delay is the fixed requeue backoff, Timeout bounds one
// attempt's external calls.
type Class struct {
	Name        string
	MaxAttempts int
	Delay       time.Duration
	Timeout     time.Duration
}

var (
	ClassRender = Class{Name: "render", MaxAttempts: 3, Delay: 60 * time.Second, Timeout: 60 * time.Second}
	ClassSend   = Class{Name: "send", MaxAttempts: 3, Delay: 120 * time.Second, Timeout: 30 * time.Second}
	ClassPull   = Class{Name: "pull", MaxAttempts: 3, Delay: 300 * time.Second, Timeout: 60 * time.Second}
)

// Job is one unit of asynchronous work. Run is retried per the class policy
// when it fails with an ExternalServiceError; every other error is permanent.
type Job struct {
	Id      string
	Class   Class
	Run     func(ctx context.Context) error
	attempt int
}

// Runner is the in-process worker pool. Jobs are requeued with their class
// delay on retryable failure; after MaxAttempts the job is logged as
// permanently failed and dropped (the owning entity is already in its
// explicit failure state by then).
type Runner struct {
	queue   chan *Job
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	timers  sync.WaitGroup
	started bool
	mu      sync.Mutex
}

func NewRunner(queueSize int) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		queue:  make(chan *Job, queueSize),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches the worker goroutines. Idempotent.
func (r *Runner) Start(workers int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true
	for i := 0; i < workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}
}

// Enqueue adds a job. Blocks when the queue is full so producers back off
// instead of dropping work.
func (r *Runner) Enqueue(j *Job) {
	select {
	case r.queue <- j:
	case <-r.ctx.Done():
	}
}

// Shutdown stops accepting work, cancels pending requeues and waits for
// in-flight jobs. Queued jobs no worker picked up are dropped; every job is
// re-derivable from its entity's persisted state. The queue is never closed,
// so a late Enqueue is a no-op rather than a panic.
func (r *Runner) Shutdown() {
	r.cancel()
	r.timers.Wait()
	r.wg.Wait()
}

func (r *Runner) worker() {
	defer r.wg.Done()
	for {
		select {
		case <-r.ctx.Done():
			return
		case j := <-r.queue:
			r.runOnce(j)
		}
	}
}

func (r *Runner) runOnce(j *Job) {
	j.attempt++
	ctx := r.ctx
	var cancel context.CancelFunc
	if j.Class.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, j.Class.Timeout)
	}
	err := j.Run(ctx)
	if cancel != nil {
		cancel()
	}
	if err == nil {
		return
	}

	if !retryable(err) {
		log.Printf("job %s [%s]: permanent failure after attempt %d: %v", j.Id, j.Class.Name, j.attempt, err)
		return
	}
	if j.attempt >= j.Class.MaxAttempts {
		log.Printf("job %s [%s]: retries exhausted (%d attempts): %v", j.Id, j.Class.Name, j.attempt, err)
		return
	}

	log.Printf("job %s [%s]: attempt %d failed, retrying in %s: %v",
		j.Id, j.Class.Name, j.attempt, j.Class.Delay, err)
	r.timers.Add(1)
	go func() {
		defer r.timers.Done()
		t := time.NewTimer(j.Class.Delay)
		defer t.Stop()
		select {
		case <-t.C:
			r.Enqueue(j)
		case <-r.ctx.Done():
		}
	}()
}

// retryable: provider failures and timeouts retry, everything else is a bug
// or a state condition that retrying cannot fix. A PendingRenderError on a
// send job retries because the queued render will eventually satisfy it.
func retryable(err error) bool {
	if services.IsExternal(err) || services.IsPendingRender(err) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
