package bot

import (
	"context"
	"runtime/debug"
	"sync"

	"github.com/rs/zerolog"
)

type userQueue struct {
	jobs    []func(ctx context.Context)
	running bool
}

// Dispatcher serializes work per user. Each user with pending work gets one
// goroutine that drains its FIFO queue and exits when the queue is empty;
// different users run in parallel. Submit never blocks.
type Dispatcher struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    zerolog.Logger

	mu      sync.Mutex
	queues  map[int64]*userQueue
	stopped bool
	wg      sync.WaitGroup
}

// NewDispatcher creates a new Dispatcher.
func NewDispatcher(log zerolog.Logger) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		ctx:    ctx,
		cancel: cancel,
		log:    log.With().Str("component", "dispatcher").Logger(),
		queues: make(map[int64]*userQueue),
	}
}

// Submit queues fn behind every earlier job of the same user. Work submitted
// after Stop is dropped.
func (d *Dispatcher) Submit(telegramID int64, fn func(ctx context.Context)) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		d.log.Warn().Int64("telegram_id", telegramID).Msg("Dispatcher stopped, dropping job")
		return
	}

	q, ok := d.queues[telegramID]
	if !ok {
		q = &userQueue{}
		d.queues[telegramID] = q
	}
	q.jobs = append(q.jobs, fn)
	if !q.running {
		q.running = true
		d.wg.Add(1)
		go d.drain(telegramID, q)
	}
}

func (d *Dispatcher) drain(telegramID int64, q *userQueue) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		if len(q.jobs) == 0 {
			q.running = false
			delete(d.queues, telegramID)
			d.mu.Unlock()
			return
		}
		fn := q.jobs[0]
		q.jobs[0] = nil
		q.jobs = q.jobs[1:]
		d.mu.Unlock()

		d.run(telegramID, fn)
	}
}

func (d *Dispatcher) run(telegramID int64, fn func(ctx context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error().
				Int64("telegram_id", telegramID).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("Recovered from panic in user job")
		}
	}()
	fn(d.ctx)
}

// Active counts users with queued or running work.
func (d *Dispatcher) Active() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queues)
}

// Stop refuses new work and waits for queued jobs to finish. When ctx ends
// first, the jobs' context is cancelled and Stop returns ctx.Err().
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	defer d.cancel()
	select {
	case <-done:
		d.log.Info().Msg("Dispatcher drained")
		return nil
	case <-ctx.Done():
		d.log.Warn().Msg("Dispatcher stop timed out, cancelling jobs")
		return ctx.Err()
	}
}
