package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/autoenrol/internal/models"
	"github.com/noah-isme/autoenrol/pkg/config"
	appErrors "github.com/noah-isme/autoenrol/pkg/errors"
	"github.com/noah-isme/autoenrol/pkg/jobs"
	"github.com/noah-isme/autoenrol/pkg/trace"
)

// Batch job types.
const (
	JobSync  = "sync"
	JobSweep = "sweep"
)

type bulkSyncer interface {
	SyncEnrolments(ctx context.Context, sink trace.Sink, courseID string, check bool) (*models.BulkSyncResult, error)
}

type sweeper interface {
	Sweep(ctx context.Context, sink trace.Sink, courseID string) (*models.SweepResult, error)
}

// BatchPayload scopes a queued batch run.
type BatchPayload struct {
	CourseID string
}

// SchedulerService runs bulk syncs and sweeps on a single worker queue, on
// a timer and on demand. Runs never overlap within one process.
type SchedulerService struct {
	syncer  bulkSyncer
	sweeper sweeper
	queue   *jobs.Queue
	cfg     config.SchedulerConfig
	logger  *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSchedulerService constructs SchedulerService.
func NewSchedulerService(syncer bulkSyncer, sweeper sweeper, logger *zap.Logger, cfg config.SchedulerConfig) *SchedulerService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &SchedulerService{syncer: syncer, sweeper: sweeper, cfg: cfg, logger: logger}
	s.queue = jobs.NewQueue("autoenrol-batch", s.handle, jobs.QueueConfig{
		Workers:    1,
		BufferSize: 8,
		MaxRetries: cfg.Retries,
		RetryDelay: 30 * time.Second,
		Logger:     logger,
	})
	return s
}

// Start begins consuming jobs and, when enabled, the recurring timers.
func (s *SchedulerService) Start(ctx context.Context) {
	s.queue.Start(ctx)
	if !s.cfg.Enabled {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.every(ctx, JobSync, s.cfg.SyncInterval)
	s.every(ctx, JobSweep, s.cfg.SweepInterval)
	s.logger.Info("scheduler started",
		zap.Duration("sync_interval", s.cfg.SyncInterval), zap.Duration("sweep_interval", s.cfg.SweepInterval))
}

// Stop halts the timers and waits for the running job to return.
func (s *SchedulerService) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()
	s.wg.Wait()
	s.queue.Stop()
}

// TriggerSync queues a bulk sync, optionally for one course.
func (s *SchedulerService) TriggerSync(courseID string) error {
	return s.enqueue(JobSync, courseID)
}

// TriggerSweep queues an expiration sweep, optionally for one course.
func (s *SchedulerService) TriggerSweep(courseID string) error {
	return s.enqueue(JobSweep, courseID)
}

func (s *SchedulerService) every(ctx context.Context, jobType string, interval time.Duration) {
	if interval <= 0 {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.enqueue(jobType, ""); err != nil {
					s.logger.Debug("scheduled run skipped", zap.String("job", jobType), zap.Error(err))
				}
			}
		}
	}()
}

func (s *SchedulerService) enqueue(jobType, courseID string) error {
	err := s.queue.Enqueue(jobs.Job{ID: courseID, Type: jobType, Payload: BatchPayload{CourseID: courseID}})
	if errors.Is(err, jobs.ErrDuplicate) {
		return appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("%s already queued", jobType))
	}
	if errors.Is(err, jobs.ErrQueueFull) {
		return appErrors.Clone(appErrors.ErrConflict, "batch queue is full, retry later")
	}
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to queue batch job")
	}
	return nil
}

func (s *SchedulerService) handle(ctx context.Context, job jobs.Job) error {
	payload, _ := job.Payload.(BatchPayload)
	logger := s.logger.With(zap.String("job", job.Type), zap.String("course_id", payload.CourseID), zap.Int("attempt", job.Attempt))
	sink := trace.NewZap(logger)

	switch job.Type {
	case JobSync:
		result, err := s.syncer.SyncEnrolments(ctx, sink, payload.CourseID, false)
		if err != nil {
			return err
		}
		logger.Info("bulk sync finished", zap.String("status", string(result.Status)), zap.Int("users", result.Users))
	case JobSweep:
		result, err := s.sweeper.Sweep(ctx, sink, payload.CourseID)
		if err != nil {
			return err
		}
		logger.Info("sweep finished", zap.String("status", string(result.Status)),
			zap.Int("unenrolled", result.Unenrolled), zap.Int("suspended", result.Suspended), zap.Int("notified", result.Notified))
	default:
		logger.Warn("unknown batch job type")
	}
	return nil
}
