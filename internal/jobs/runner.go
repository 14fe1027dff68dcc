// Package jobs runs the portal's periodic background work.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrUnknownJob is returned by RunNow for names that were never added
var ErrUnknownJob = errors.New("unknown job")

// Func is one run of a job
type Func func(ctx context.Context) error

type job struct {
	name     string
	interval time.Duration
	run      Func
}

// Runner runs named jobs on fixed intervals
type Runner struct {
	mu   sync.Mutex
	jobs []job
	done chan struct{}
	wg   sync.WaitGroup

	stopOnce sync.Once
}

// NewRunner creates an empty runner
func NewRunner() *Runner {
	return &Runner{done: make(chan struct{})}
}

// Add registers a job; jobs with a non-positive interval are skipped
func (r *Runner) Add(name string, interval time.Duration, run Func) {
	if interval <= 0 {
		zap.L().Info("job disabled", zap.String("job", name))
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, job{name: name, interval: interval, run: run})
}

// Names returns the registered job names in order
func (r *Runner) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, len(r.jobs))
	for i, j := range r.jobs {
		names[i] = j.name
	}
	return names
}

// Start launches one goroutine per job
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range r.jobs {
		r.wg.Add(1)
		go r.loop(ctx, j)
	}
	zap.L().Info("job runner started", zap.Int("jobs", len(r.jobs)))
}

// Stop signals every job loop and waits for in-flight runs to finish.
// It is safe to call more than once.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
		r.wg.Wait()
		zap.L().Info("job runner stopped")
	})
}

// RunNow runs a job once in the caller's goroutine
func (r *Runner) RunNow(ctx context.Context, name string) error {
	r.mu.Lock()
	var found *job
	for i := range r.jobs {
		if r.jobs[i].name == name {
			found = &r.jobs[i]
			break
		}
	}
	r.mu.Unlock()
	if found == nil {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return r.runOnce(ctx, *found)
}

func (r *Runner) loop(ctx context.Context, j job) {
	defer r.wg.Done()
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runOnce(ctx, j)
		}
	}
}

// runOnce logs failures and panics; a failing job keeps its schedule
func (r *Runner) runOnce(ctx context.Context, j job) (err error) {
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("job %s panicked: %v", j.name, p)
		}
		if err != nil {
			zap.L().Error("job failed", zap.String("job", j.name), zap.Duration("duration", time.Since(start)), zap.Error(err))
			return
		}
		zap.L().Debug("job finished", zap.String("job", j.name), zap.Duration("duration", time.Since(start)))
	}()
	return j.run(ctx)
}
