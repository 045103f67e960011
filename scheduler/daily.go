// Package scheduler triggers a job at a fixed interval.
//
// Runs never overlap: ticks that arrive while a run is still going are
// dropped, and RunOnce refuses to start while another run holds the lock.
// A failed run is logged and the next tick runs the job again.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/playlistbot/playlistbot/logger"
)

// DefaultInterval is the interval used when none is configured.
const DefaultInterval = 24 * time.Hour

// ErrRunInProgress is returned by RunOnce while another run is executing.
var ErrRunInProgress = errors.New("a run is already in progress")

// minAllowedInterval guards against configurations that would hammer the
// mail provider.
var minAllowedInterval = time.Minute

// Job is the work executed on every tick.
type Job func(ctx context.Context) error

// Options configures a Daily scheduler.
type Options struct {
	Interval   time.Duration // Defaults to DefaultInterval
	RunOnStart bool          // Run as soon as Start is called
	RunTimeout time.Duration // Upper bound per run, zero for none
}

// Daily runs a Job at a fixed interval.
type Daily struct {
	job        Job
	interval   time.Duration
	runOnStart bool
	runTimeout time.Duration

	runMu    sync.Mutex
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func New(job Job, opts Options) *Daily {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Daily{
		job:        job,
		interval:   interval,
		runOnStart: opts.RunOnStart,
		runTimeout: opts.RunTimeout,
		stopCh:     make(chan struct{}),
	}
}

// Start runs the scheduling loop in a goroutine until ctx is done or Stop
// is called.
func (d *Daily) Start(ctx context.Context) {
	interval := d.interval
	if interval < minAllowedInterval {
		logger.Warn("[SCHEDULER] configured interval is less than minimum allowed, using minimum",
			"interval", interval, "minimum", minAllowedInterval)
		interval = minAllowedInterval
	}
	logger.Info("[SCHEDULER] starting", "interval", interval, "run_on_start", d.runOnStart)

	ticker := time.NewTicker(interval)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer ticker.Stop()

		if d.runOnStart {
			d.tick(ctx)
		}

		for {
			select {
			case <-ctx.Done():
				logger.Info("[SCHEDULER] stopped due to context cancellation")
				return
			case <-d.stopCh:
				logger.Info("[SCHEDULER] stopped due to stop signal")
				return
			case <-ticker.C:
				d.tick(ctx)
			}
		}
	}()
}

// Stop signals the loop to exit and waits for an in-flight run to finish.
func (d *Daily) Stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
	d.wg.Wait()
}

// RunOnce executes the job immediately unless a run is in progress.
func (d *Daily) RunOnce(ctx context.Context) error {
	if !d.runMu.TryLock() {
		return ErrRunInProgress
	}
	defer d.runMu.Unlock()

	if d.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.runTimeout)
		defer cancel()
	}
	return d.job(ctx)
}

func (d *Daily) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	err := d.RunOnce(ctx)
	switch {
	case errors.Is(err, ErrRunInProgress):
		logger.Warn("[SCHEDULER] skipping tick, previous run still in progress")
	case err != nil:
		logger.Error("[SCHEDULER] run failed", "error", err)
	}
}
