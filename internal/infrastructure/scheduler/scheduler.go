package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Job is a unit of background work run on a fixed interval
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// JobConfig controls how often a job runs and how long one run may take
type JobConfig struct {
	Interval time.Duration
	Timeout  time.Duration
	// RunOnStart runs the job once immediately instead of waiting a full interval
	RunOnStart bool
}

// JobStats is a snapshot of one job's run history
type JobStats struct {
	Runs      int64
	Failures  int64
	LastRunAt time.Time
	LastError string
}

type registeredJob struct {
	job     Job
	config  JobConfig
	running atomic.Bool

	mu    sync.Mutex
	stats JobStats
}

// Scheduler runs registered jobs on their intervals, one goroutine per job.
// A run that is still in progress when its next tick fires is skipped, so a
// job never overlaps with itself.
type Scheduler struct {
	logger *zap.Logger
	now    func() time.Time

	mu        sync.Mutex
	jobs      []*registeredJob
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	isRunning bool
}

// NewScheduler creates a new scheduler instance
func NewScheduler(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{logger: logger.Named("scheduler"), now: time.Now}
}

// Register adds a job. Jobs must be registered before Start.
func (s *Scheduler) Register(job Job, cfg JobConfig) error {
	if cfg.Interval <= 0 {
		return fmt.Errorf("%w: %s interval must be positive", ErrInvalidConfig, job.Name())
	}
	if cfg.Timeout <= 0 || cfg.Timeout > cfg.Interval {
		cfg.Timeout = cfg.Interval
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return ErrSchedulerRunning
	}
	for _, j := range s.jobs {
		if j.job.Name() == job.Name() {
			return fmt.Errorf("%w: %s", ErrDuplicateJob, job.Name())
		}
	}
	s.jobs = append(s.jobs, &registeredJob{job: job, config: cfg})
	return nil
}

// Start starts one loop per registered job
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return nil
	}
	s.isRunning = true

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for _, j := range s.jobs {
		s.wg.Add(1)
		go s.loop(ctx, j)
	}

	s.logger.Info("Scheduler started", zap.Int("jobs", len(s.jobs)))
	return nil
}

// Stop cancels running jobs and waits for their loops to exit
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Scheduler stop timed out")
		return ctx.Err()
	}
}

// IsRunning reports whether the scheduler has been started
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

// Stats returns run statistics keyed by job name
func (s *Scheduler) Stats() map[string]JobStats {
	s.mu.Lock()
	jobs := append([]*registeredJob(nil), s.jobs...)
	s.mu.Unlock()

	out := make(map[string]JobStats, len(jobs))
	for _, j := range jobs {
		j.mu.Lock()
		out[j.job.Name()] = j.stats
		j.mu.Unlock()
	}
	return out
}

func (s *Scheduler) loop(ctx context.Context, j *registeredJob) {
	defer s.wg.Done()

	if j.config.RunOnStart {
		s.runOnce(ctx, j)
	}

	ticker := time.NewTicker(j.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("Job loop stopping", zap.String("job", j.job.Name()))
			return
		case <-ticker.C:
			s.runOnce(ctx, j)
		}
	}
}

// runOnce executes a job with its timeout; panics are recovered and counted as failures
func (s *Scheduler) runOnce(ctx context.Context, j *registeredJob) {
	if !j.running.CompareAndSwap(false, true) {
		s.logger.Debug("Skipping overlapping run", zap.String("job", j.job.Name()))
		return
	}
	defer j.running.Store(false)

	jobCtx, cancel := context.WithTimeout(ctx, j.config.Timeout)
	defer cancel()

	started := s.now()
	err := safeRun(jobCtx, j.job)

	j.mu.Lock()
	j.stats.Runs++
	j.stats.LastRunAt = started
	j.stats.LastError = ""
	if err != nil {
		j.stats.Failures++
		j.stats.LastError = err.Error()
	}
	j.mu.Unlock()

	if err != nil {
		s.logger.Error("Job failed",
			zap.String("job", j.job.Name()),
			zap.Duration("elapsed", s.now().Sub(started)),
			zap.Error(err),
		)
		return
	}
	s.logger.Debug("Job completed",
		zap.String("job", j.job.Name()),
		zap.Duration("elapsed", s.now().Sub(started)),
	)
}

func safeRun(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job.Name(), r)
		}
	}()
	return job.Run(ctx)
}
