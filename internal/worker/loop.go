// Package worker contains the single-consumer loop that claims pending
// jobs and drives the simulation engine to completion, one job at a time.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"dronesim/internal/engine"
	"dronesim/internal/jobs"
	"dronesim/internal/logger"
	"dronesim/internal/metrics"
	"dronesim/internal/store"
)

// Config holds the loop's timing knobs.
type Config struct {
	// PollInterval is how long the loop idles after finding the queue
	// empty. A job-ready notification cuts the wait short.
	PollInterval time.Duration

	// EngineTimeout bounds one engine invocation. It is the only mechanism
	// by which a hung simulation becomes a failed job.
	EngineTimeout time.Duration
}

// Loop claims jobs from the queue and runs them through the engine. The
// reference topology runs exactly one Loop per queue.
type Loop struct {
	manager *jobs.Manager
	queue   store.Queue
	engine  engine.Engine
	cfg     Config

	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewLoop creates a worker loop. Defaults: 2s poll interval, 30m engine
// timeout.
func NewLoop(manager *jobs.Manager, queue store.Queue, eng engine.Engine, cfg Config) *Loop {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.EngineTimeout <= 0 {
		cfg.EngineTimeout = 30 * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Loop{
		manager: manager,
		queue:   queue,
		engine:  eng,
		cfg:     cfg,
		wake:    make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Wake returns the channel that cuts an idle wait short. Senders must not
// block: use a non-blocking send, a full channel means the loop is already
// awake.
func (l *Loop) Wake() chan<- struct{} {
	return l.wake
}

// Start begins processing in a background goroutine.
func (l *Loop) Start() {
	logger.Logger.Info().
		Dur("poll_interval", l.cfg.PollInterval).
		Dur("engine_timeout", l.cfg.EngineTimeout).
		Msg("Starting worker loop")
	metrics.WorkerActive.Set(1)

	l.wg.Add(1)
	go l.run()
}

// Stop shuts the loop down and waits for an in-flight job to finish its
// current registry call.
func (l *Loop) Stop() {
	logger.Logger.Info().Msg("Stopping worker loop")
	l.cancel()
	l.wg.Wait()
	metrics.WorkerActive.Set(0)
	logger.Logger.Info().Msg("Worker loop stopped")
}

func (l *Loop) run() {
	defer l.wg.Done()

	for {
		if l.ctx.Err() != nil {
			return
		}

		id, err := l.queue.ClaimNext(l.ctx, 0)
		if errors.Is(err, store.ErrEmpty) {
			l.idle()
			continue
		}
		if err != nil {
			if l.ctx.Err() != nil {
				return
			}
			logger.Logger.Error().Err(err).Msg("Failed to claim next job")
			l.idle()
			continue
		}

		l.process(id)
	}
}

// idle waits for the next poll tick, returning early on a job-ready
// notification. This is the polling fallback: correctness never depends on
// a notification arriving.
func (l *Loop) idle() {
	timer := time.NewTimer(l.cfg.PollInterval)
	defer timer.Stop()

	select {
	case <-l.ctx.Done():
	case <-timer.C:
	case <-l.wake:
		metrics.WakeupsTotal.Inc()
	}
}

func (l *Loop) process(id string) {
	log := logger.WithJobID(id)
	log.Info().Msg("Claimed job")

	err := l.withRetry(func() error {
		_, err := l.manager.MarkProcessing(l.ctx, id)
		return err
	})
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, jobs.ErrInvalidTransition) {
		// Deleted or already resolved between enqueue and claim; drop it.
		log.Warn().Err(err).Msg("Skipping claimed job")
		metrics.JobsSkippedTotal.Inc()
		return
	}
	if err != nil {
		// The job may still be pending but is no longer queued. Surfaced
		// for manual intervention rather than silently advancing.
		log.Error().Err(err).Msg("Could not mark job as processing; job needs attention")
		return
	}

	start := time.Now()
	runCtx, cancel := context.WithTimeout(l.ctx, l.cfg.EngineTimeout)
	result, runErr := l.engine.Run(runCtx, l.jobConfig(id, log), l.progressFunc(id, log))
	cancel()
	metrics.SimulationDuration.Observe(time.Since(start).Seconds())

	if runErr != nil {
		log.Error().Err(runErr).Msg("Simulation failed")
		l.finalize(id, log, func() error {
			_, err := l.manager.Fail(l.ctx, id, runErr.Error())
			return err
		})
		return
	}

	log.Info().Dur("duration", time.Since(start)).Msg("Simulation finished")
	l.finalize(id, log, func() error {
		_, err := l.manager.Complete(l.ctx, id, result)
		return err
	})
}

// jobConfig re-reads the job's config. The record is known to exist: the
// loop just marked it processing. A read failure degrades to an empty
// config, which the engine rejects, failing the job through the normal
// path.
func (l *Loop) jobConfig(id string, log *zerolog.Logger) store.Document {
	job, err := l.manager.Get(l.ctx, id)
	if err != nil {
		log.Error().Err(err).Msg("Could not re-read job config")
		return nil
	}
	return job.Config
}

func (l *Loop) progressFunc(id string, log *zerolog.Logger) engine.ProgressFunc {
	return func(percent int) {
		err := l.withRetry(func() error {
			_, err := l.manager.ReportProgress(l.ctx, id, percent)
			return err
		})
		if err != nil {
			// A rejected progress report is a bug in the engine's callback
			// ordering; the run itself continues.
			log.Error().Err(err).Int("percent", percent).Msg("Progress report rejected")
		}
	}
}

func (l *Loop) finalize(id string, log *zerolog.Logger, op func() error) {
	if err := l.withRetry(op); err != nil {
		log.Error().Err(err).Msg("Could not finalize job; job needs attention")
	}
}

// withRetry retries transient failures with bounded exponential backoff.
// Typed registry errors are deliberate answers, not outages, and pass
// through immediately.
func (l *Loop) withRetry(op func() error) error {
	backoff := retry.WithMaxRetries(5, retry.NewExponential(200*time.Millisecond))
	return retry.Do(l.ctx, backoff, func(ctx context.Context) error {
		err := op()
		if err == nil || isPermanent(err) {
			return err
		}
		return retry.RetryableError(err)
	})
}

func isPermanent(err error) bool {
	return errors.Is(err, store.ErrNotFound) ||
		errors.Is(err, jobs.ErrInvalidTransition) ||
		errors.Is(err, jobs.ErrInvalidProgress) ||
		errors.Is(err, jobs.ErrInvalidConfig)
}
