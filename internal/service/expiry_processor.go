package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/autoenrol/internal/models"
	"github.com/noah-isme/autoenrol/pkg/config"
	"github.com/noah-isme/autoenrol/pkg/trace"
)

type expiryStore interface {
	StreamExpired(ctx context.Context, courseID string, now time.Time, fn func(models.EnrolmentActivity) error) error
	StreamExpiring(ctx context.Context, instanceID string, now, until time.Time, fn func(models.EnrolmentActivity) error) error
	MarkExpiryNotified(ctx context.Context, id string, at time.Time) error
}

type expiryNotifier interface {
	SendExpiryNotice(ctx context.Context, instance *models.EnrolmentInstance, enrolment *models.UserEnrolment) (int, error)
}

// ExpiryProcessor handles enrolments whose time end is near or past.
type ExpiryProcessor struct {
	instances instanceReader
	store     expiryStore
	manager   *EnrolmentManager
	notifier  expiryNotifier
	action    string
	metrics   *MetricsService
	logger    *zap.Logger
	now       func() time.Time
}

// NewExpiryProcessor constructs ExpiryProcessor. action is one of the
// config.Action values and applies to enrolments past their time end.
func NewExpiryProcessor(instances instanceReader, store expiryStore, manager *EnrolmentManager, notifier expiryNotifier, action string, metrics *MetricsService, logger *zap.Logger) *ExpiryProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if action == "" {
		action = config.ActionSuspend
	}
	return &ExpiryProcessor{instances: instances, store: store, manager: manager, notifier: notifier, action: action, metrics: metrics, logger: logger, now: time.Now}
}

// Process sends pending expiry notices, then applies the expired action.
func (p *ExpiryProcessor) Process(ctx context.Context, tick func() error, sink trace.Sink, courseID string, result *models.SweepResult) error {
	sink = trace.OrNull(sink)
	if err := p.notify(ctx, tick, sink, courseID, result); err != nil {
		return err
	}
	if p.action == config.ActionKeep {
		return nil
	}
	return p.expire(ctx, tick, sink, courseID, result)
}

func (p *ExpiryProcessor) notify(ctx context.Context, tick func() error, sink trace.Sink, courseID string, result *models.SweepResult) error {
	if p.notifier == nil {
		return nil
	}
	instances, err := p.instances.List(ctx, models.InstanceFilter{CourseID: courseID, Status: models.InstanceStatusEnabled, WithExpiryNotify: true})
	if err != nil {
		return err
	}
	for i := range instances {
		instance := &instances[i]
		window := instance.ExpiryWindow()
		if instance.ExpiryNotifyMode == models.ExpiryNotifyOff || window <= 0 {
			continue
		}
		now := p.now().UTC()
		err := p.store.StreamExpiring(ctx, instance.ID, now, now.Add(window), func(row models.EnrolmentActivity) error {
			if err := tick(); err != nil {
				return err
			}
			enrolment := row.UserEnrolment
			sent, err := p.notifier.SendExpiryNotice(ctx, instance, &enrolment)
			if err != nil {
				p.logger.Warn("expiry notice failed",
					zap.String("instance_id", instance.ID), zap.String("user_id", row.UserID), zap.Error(err))
				return nil
			}
			if err := p.store.MarkExpiryNotified(ctx, enrolment.ID, now); err != nil {
				return err
			}
			if sent > 0 {
				sink.Output("notified expiry of user %s enrolment in course %s", row.UserID, instance.CourseID)
				result.Notified++
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *ExpiryProcessor) expire(ctx context.Context, tick func() error, sink trace.Sink, courseID string, result *models.SweepResult) error {
	instances, err := p.instances.List(ctx, models.InstanceFilter{CourseID: courseID})
	if err != nil {
		return err
	}
	byID := make(map[string]*models.EnrolmentInstance, len(instances))
	for i := range instances {
		byID[instances[i].ID] = &instances[i]
	}

	return p.store.StreamExpired(ctx, courseID, p.now().UTC(), func(row models.EnrolmentActivity) error {
		if err := tick(); err != nil {
			return err
		}
		instance, ok := byID[row.InstanceID]
		if !ok {
			return nil
		}
		enrolment := row.UserEnrolment
		effect, err := p.manager.Apply(ctx, p.action, instance, &enrolment)
		if err != nil {
			p.logger.Warn("expired enrolment action failed",
				zap.String("instance_id", instance.ID), zap.String("user_id", row.UserID), zap.Error(err))
			return nil
		}
		if effect == models.EffectNone {
			return nil
		}
		sink.Output("%s expired enrolment of user %s in course %s", effect, row.UserID, instance.CourseID)
		p.metrics.RecordSweepAction("expired", effect)
		result.Expired++
		switch effect {
		case models.EffectSuspended:
			result.Suspended++
		case models.EffectUnenrolled:
			result.Unenrolled++
		}
		return nil
	})
}
