package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"log/slog"

	"splatgate/internal/analysis"
	"splatgate/internal/storage"
)

type blockingProcessor struct {
	started chan string
	release chan struct{}
}

func (p *blockingProcessor) Process(ctx context.Context, job Job) Result {
	p.started <- job.ID
	<-p.release
	d := analysis.Decision{Proceed: job.ID == "ok", Reason: "stub"}
	return Result{Job: job, Decision: &d, Meta: map[string]any{"passed": d.Proceed}}
}

func waitResult(t *testing.T, ch <-chan Result, id string) Result {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case res := <-ch:
			if res.Job.ID == id {
				return res
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", id)
		}
	}
}

func TestSubmitFailsFastWhenQueueIsFull(t *testing.T) {
	proc := &blockingProcessor{started: make(chan string, 4), release: make(chan struct{})}
	p := New(context.Background(), Options{Concurrency: 1, QueueSize: 1}, proc, slog.Default(), nil)
	defer p.Stop()

	if err := p.Submit(Job{ID: "first", Type: JobAnalyze}); err != nil {
		t.Fatalf("submit first: %v", err)
	}
	<-proc.started
	if err := p.Submit(Job{ID: "second", Type: JobAnalyze}); err != nil {
		t.Fatalf("submit second: %v", err)
	}
	if err := p.Submit(Job{ID: "third", Type: JobAnalyze}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	close(proc.release)
}

func TestResultsAreBroadcastAndRecorded(t *testing.T) {
	store, err := storage.New(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	proc := &blockingProcessor{started: make(chan string, 4), release: make(chan struct{})}
	close(proc.release)
	p := New(context.Background(), Options{Concurrency: 2}, proc, slog.Default(), store)
	defer p.Stop()

	results, unsub := p.Subscribe()
	defer unsub()

	if err := p.Submit(Job{ID: "ok", Type: JobAnalyze, Source: "a.mp4"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := p.Submit(Job{ID: "bad", Type: JobAnalyze, Source: "b.mp4"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res := waitResult(t, results, "ok"); res.Status() != "passed" {
		t.Fatalf("expected passed, got %s", res.Status())
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		jobs, err := store.RecentJobs(10)
		if err != nil {
			t.Fatalf("recent jobs: %v", err)
		}
		statuses := map[string]string{}
		for _, j := range jobs {
			statuses[j.ID] = j.Status
		}
		if statuses["ok"] == "passed" && statuses["bad"] == "rejected" {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("unexpected job statuses %v", statuses)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStopClosesSubscribers(t *testing.T) {
	proc := &blockingProcessor{started: make(chan string, 1), release: make(chan struct{})}
	p := New(context.Background(), Options{}, proc, nil, nil)
	results, _ := p.Subscribe()
	p.Stop()
	if _, ok := <-results; ok {
		t.Fatalf("expected subscriber channel to be closed")
	}
}

func TestRunWaitsForMatchingResult(t *testing.T) {
	proc := &blockingProcessor{started: make(chan string, 4), release: make(chan struct{})}
	close(proc.release)
	p := New(context.Background(), Options{Concurrency: 2}, proc, slog.Default(), nil)
	defer p.Stop()

	res, err := p.Run(context.Background(), Job{ID: "ok", Type: JobAnalyze})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Job.ID != "ok" || res.Status() != "passed" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestRunHonoursCancellation(t *testing.T) {
	proc := &blockingProcessor{started: make(chan string, 4), release: make(chan struct{})}
	p := New(context.Background(), Options{Concurrency: 1}, proc, slog.Default(), nil)
	defer func() {
		close(proc.release)
		p.Stop()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := p.Run(ctx, Job{ID: "slow", Type: JobAnalyze}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestSubmitAfterStopIsRejected(t *testing.T) {
	store, err := storage.New(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	proc := &blockingProcessor{started: make(chan string, 1), release: make(chan struct{})}
	p := New(context.Background(), Options{}, proc, slog.Default(), store)
	p.Stop()

	if err := p.Submit(Job{ID: "late", Type: JobAnalyze}); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
	if _, err := p.Run(context.Background(), Job{ID: "later", Type: JobAnalyze}); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped from Run, got %v", err)
	}
	if jobs, err := store.RecentJobs(10); err != nil || len(jobs) != 0 {
		t.Fatalf("a stopped pipeline must not record jobs, got %v (%v)", jobs, err)
	}

	results, unsub := p.Subscribe()
	defer unsub()
	if _, ok := <-results; ok {
		t.Fatalf("expected a closed channel after Stop")
	}
}

func TestRunIsNotStarvedBySlowSubscribers(t *testing.T) {
	proc := &blockingProcessor{started: make(chan string, 64), release: make(chan struct{})}
	close(proc.release)
	p := New(context.Background(), Options{Concurrency: 1, QueueSize: 32}, proc, slog.Default(), nil)
	defer p.Stop()

	// Never drained, so its buffer fills after eight results.
	_, unsub := p.Subscribe()
	defer unsub()

	for i := 0; i < 20; i++ {
		if err := p.Submit(Job{ID: "noise-" + string(rune('a'+i)), Type: JobAnalyze}); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := p.Run(ctx, Job{ID: "ok", Type: JobAnalyze})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Job.ID != "ok" || res.Status() != "passed" {
		t.Fatalf("unexpected result %+v", res)
	}
}
