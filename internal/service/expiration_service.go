package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/autoenrol/internal/models"
	"github.com/noah-isme/autoenrol/pkg/config"
	appErrors "github.com/noah-isme/autoenrol/pkg/errors"
	"github.com/noah-isme/autoenrol/pkg/trace"
)

type inactivityStreamer interface {
	StreamInactiveByLogin(ctx context.Context, instanceID string, cutoff time.Time, fn func(models.EnrolmentActivity) error) error
	StreamInactiveByAccess(ctx context.Context, instanceID string, cutoff time.Time, fn func(models.EnrolmentActivity) error) error
}

type expiryRunner interface {
	Process(ctx context.Context, tick func() error, sink trace.Sink, courseID string, result *models.SweepResult) error
}

// ExpirationConfig holds the sweeper settings.
type ExpirationConfig struct {
	Enabled bool
	Budget  config.BatchConfig
}

// ExpirationService is the expiration sweeper. It unenrols users who have
// been away longer than an instance's threshold, then hands generic time end
// expiry to the expiry processor.
type ExpirationService struct {
	instances instanceReader
	activity  inactivityStreamer
	manager   *EnrolmentManager
	expiry    expiryRunner
	metrics   *MetricsService
	cfg       ExpirationConfig
	logger    *zap.Logger
	now       func() time.Time
}

// NewExpirationService constructs ExpirationService.
func NewExpirationService(instances instanceReader, activity inactivityStreamer, manager *EnrolmentManager, expiry expiryRunner, metrics *MetricsService, logger *zap.Logger, cfg ExpirationConfig) *ExpirationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExpirationService{instances: instances, activity: activity, manager: manager, expiry: expiry, metrics: metrics, cfg: cfg, logger: logger, now: time.Now}
}

// Sweep runs one expiration pass, optionally limited to a course. Each row is
// committed on its own, so a budget interruption keeps the work already done.
func (s *ExpirationService) Sweep(ctx context.Context, sink trace.Sink, courseID string) (*models.SweepResult, error) {
	sink = trace.OrNull(sink)
	started := s.now()
	result := &models.SweepResult{Status: models.RunCompleted}

	if !s.cfg.Enabled {
		sink.Output("Autoenrol plugin not enabled")
		result.Status = models.RunDisabled
		return result, nil
	}

	b := startBudget(ctx, s.cfg.Budget)
	defer b.Close()
	ctx = b.Context()

	err := s.sweepInactive(ctx, b, sink, courseID, result)
	if err == nil && s.expiry != nil {
		err = s.expiry.Process(ctx, b.Tick, sink, courseID, result)
	}

	if b.Exceeded(err) {
		result.Status = models.RunBudget
		sink.Output("Sweep interrupted: %v", err)
		s.metrics.ObserveBatch("sweep", result.Status, s.now().Sub(started))
		return result, nil
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "expiration sweep failed")
	}
	s.metrics.ObserveBatch("sweep", result.Status, s.now().Sub(started))
	return result, nil
}

func (s *ExpirationService) sweepInactive(ctx context.Context, b *budget, sink trace.Sink, courseID string, result *models.SweepResult) error {
	instances, err := s.instances.List(ctx, models.InstanceFilter{CourseID: courseID, WithNoSeeOnly: true})
	if err != nil {
		return err
	}

	for i := range instances {
		instance := &instances[i]
		threshold := instance.NoSeeThreshold()
		if threshold <= 0 {
			continue
		}
		cutoff := s.now().UTC().Add(-threshold)
		days := int64(threshold / (24 * time.Hour))

		passes := []struct {
			reason string
			line   string
			stream func(context.Context, string, time.Time, func(models.EnrolmentActivity) error) error
		}{
			{"login", "unenrolling user %s from course %s as they did not log in for at least %d days", s.activity.StreamInactiveByLogin},
			{"course_access", "unenrolling user %s from course %s as they have not accessed the course for at least %d days", s.activity.StreamInactiveByAccess},
		}
		for _, pass := range passes {
			err := pass.stream(ctx, instance.ID, cutoff, func(row models.EnrolmentActivity) error {
				if err := b.Tick(); err != nil {
					return err
				}
				enrolment := row.UserEnrolment
				if err := s.manager.Unenrol(ctx, instance, &enrolment); err != nil {
					if b.Exceeded(err) {
						return err
					}
					s.logger.Warn("inactivity unenrol failed",
						zap.String("instance_id", instance.ID), zap.String("user_id", row.UserID), zap.Error(err))
					return nil
				}
				sink.Output(pass.line, row.UserID, instance.CourseID, days)
				s.metrics.RecordSweepAction(pass.reason, models.EffectUnenrolled)
				result.Unenrolled++
				return nil
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}
