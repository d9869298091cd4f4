package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"log/slog"

	"splatgate/internal/analysis"
	"splatgate/internal/logging"
	"splatgate/internal/storage"
)

// ErrQueueFull is returned by Submit when no queue slot is free.
var ErrQueueFull = errors.New("job queue is full")

// ErrStopped is returned by Submit and Run once the pipeline is shutting down.
var ErrStopped = errors.New("pipeline stopped")

// JobType enumerates supported job categories.
type JobType string

const (
	// JobAnalyze runs the full gate: extract, assess, decide, hand off.
	JobAnalyze JobType = "analyze"
	// JobMetrics extracts keyframes and measures them without gating.
	JobMetrics JobType = "metrics"
)

// Job represents a single request.
type Job struct {
	ID      string         `json:"id"`
	Type    JobType        `json:"type"`
	Source  string         `json:"source"` // video file or pre-extracted frame directory
	Options map[string]any `json:"options,omitempty"`
}

// Result captures the outcome of a Job. A gate rejection is a normal Result
// with Meta["passed"] == false, not an Error.
type Result struct {
	Job      Job                     `json:"job"`
	Error    error                   `json:"-"`
	Meta     map[string]any          `json:"meta,omitempty"`
	Report   *analysis.QualityReport `json:"report,omitempty"`
	Decision *analysis.Decision      `json:"decision,omitempty"`
	Metrics  []analysis.FrameMetrics `json:"metrics,omitempty"`
}

// Status returns the terminal job status stored for r.
func (r Result) Status() string {
	switch {
	case r.Error != nil:
		return "failed"
	case r.Decision == nil:
		return "completed"
	case r.Decision.Proceed:
		return "passed"
	default:
		return "rejected"
	}
}

// Processor executes a job and returns a Result.
type Processor interface {
	Process(ctx context.Context, job Job) Result
}

// Options sizes the worker pool.
type Options struct {
	Concurrency int
	QueueSize   int
}

// Pipeline orchestrates job dispatch across workers.
type Pipeline struct {
	processor Processor
	log       *slog.Logger
	jobs      chan Job
	wg        sync.WaitGroup
	cancel    context.CancelFunc
	stopOnce  sync.Once
	done      chan struct{}
	store     *storage.Store
	mu        sync.Mutex
	stopped   bool
	subs      map[int]chan Result
	nextSubID int
	waiters   map[string]chan Result
}

// New starts opts.Concurrency workers running proc.
func New(ctx context.Context, opts Options, proc Processor, logger *slog.Logger, store *storage.Store) *Pipeline {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.QueueSize < 1 {
		opts.QueueSize = opts.Concurrency * 2
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(ctx)
	p := &Pipeline{
		processor: proc,
		log:       logger,
		jobs:      make(chan Job, opts.QueueSize),
		cancel:    cancel,
		done:      make(chan struct{}),
		store:     store,
		subs:      make(map[int]chan Result),
		waiters:   make(map[string]chan Result),
	}
	for i := 0; i < opts.Concurrency; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	return p
}

// Submit adds a job to the queue without blocking. The job is recorded
// before it becomes visible to workers.
func (p *Pipeline) Submit(job Job) error {
	if p.isStopped() {
		return ErrStopped
	}
	if p.store != nil {
		optsJSON, _ := json.Marshal(job.Options)
		if err := p.store.RecordJobQueued(storage.JobRecord{
			ID:          job.ID,
			JobType:     string(job.Type),
			Status:      "queued",
			Source:      job.Source,
			OptionsJSON: string(optsJSON),
		}); err != nil {
			p.log.Warn("failed to record queued job", "id", job.ID, "error", err)
		}
	}

	err := p.enqueue(job)
	if err != nil && p.store != nil {
		_ = p.store.RecordJobResult(job.ID, "failed", nil, err.Error())
	}
	return err
}

// enqueue pushes job under mu so it cannot race Stop closing the queue.
func (p *Pipeline) enqueue(job Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrStopped
	}
	select {
	case p.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

func (p *Pipeline) isStopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

// Stop signals workers to exit and waits for completion.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.stopped = true
		close(p.jobs)
		p.mu.Unlock()

		p.cancel()
		p.wg.Wait()
		close(p.done)

		p.mu.Lock()
		for id, ch := range p.subs {
			close(ch)
			delete(p.subs, id)
		}
		p.mu.Unlock()
	})
}

func (p *Pipeline) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			p.deliver(p.run(ctx, job))
		}
	}
}

func (p *Pipeline) run(ctx context.Context, job Job) Result {
	start := time.Now()
	logging.LogJobStart(p.log, string(job.Type), job.ID, job.Source, job.Options)
	if p.store != nil {
		_ = p.store.RecordJobStart(job.ID)
	}

	res := p.processor.Process(ctx, job)
	res.Job = job
	duration := time.Since(start)

	if res.Error != nil {
		logging.LogJobError(p.log, string(job.Type), job.ID, duration, res.Error, map[string]any{"source": job.Source})
	} else {
		logging.LogJobComplete(p.log, string(job.Type), job.ID, duration, res.Meta)
	}
	if p.store != nil {
		if err := p.store.RecordJobResult(job.ID, res.Status(), res.Meta, errString(res.Error)); err != nil {
			p.log.Warn("failed to record job result", "id", job.ID, "error", err)
		}
	}
	return res
}

// Subscribe returns a channel for receiving job results and an unsubscribe function.
func (p *Pipeline) Subscribe() (<-chan Result, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan Result, 8)
	if p.stopped {
		close(ch)
		return ch, func() {}
	}
	id := p.nextSubID
	p.nextSubID++
	p.subs[id] = ch
	unsub := func() {
		p.mu.Lock()
		if c, ok := p.subs[id]; ok {
			close(c)
			delete(p.subs, id)
		}
		p.mu.Unlock()
	}
	return ch, unsub
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// deliver hands res to the goroutine blocked in Run for that job, if any,
// then fans it out to subscribers. Subscribers with a full buffer miss it;
// the Run waiter never does.
func (p *Pipeline) deliver(res Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ch, ok := p.waiters[res.Job.ID]; ok {
		ch <- res
		delete(p.waiters, res.Job.ID)
	}
	for id, ch := range p.subs {
		select {
		case ch <- res:
		default:
			p.log.Warn("result channel full", "subscriber", id, "job", res.Job.ID)
		}
	}
}

// Run submits job and blocks until it finishes. The returned error covers
// submission, cancellation and shutdown only; job failures are in
// Result.Error.
func (p *Pipeline) Run(ctx context.Context, job Job) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{Job: job}, err
	}
	ch := make(chan Result, 1)
	p.mu.Lock()
	p.waiters[job.ID] = ch
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		if p.waiters[job.ID] == ch {
			delete(p.waiters, job.ID)
		}
		p.mu.Unlock()
	}()

	if err := p.Submit(job); err != nil {
		return Result{Job: job}, err
	}
	select {
	case res := <-ch:
		return res, nil
	case <-ctx.Done():
		return Result{Job: job}, ctx.Err()
	case <-p.done:
		select {
		case res := <-ch:
			return res, nil
		default:
			return Result{Job: job}, ErrStopped
		}
	}
}
