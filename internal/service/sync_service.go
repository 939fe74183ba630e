package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/autoenrol/internal/models"
	"github.com/noah-isme/autoenrol/internal/rules"
	"github.com/noah-isme/autoenrol/pkg/config"
	appErrors "github.com/noah-isme/autoenrol/pkg/errors"
	"github.com/noah-isme/autoenrol/pkg/trace"
)

type instanceReader interface {
	FindByID(ctx context.Context, id string) (*models.EnrolmentInstance, error)
	List(ctx context.Context, filter models.InstanceFilter) ([]models.EnrolmentInstance, error)
}

type enrolmentReader interface {
	Find(ctx context.Context, instanceID, userID string) (*models.UserEnrolment, error)
	CountByInstance(ctx context.Context, instanceID string) (int, error)
	HasOtherActive(ctx context.Context, courseID, userID, excludeInstanceID, roleID string, now time.Time) (bool, error)
}

type userLookup interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	StreamSyncCandidates(ctx context.Context, guestUsername string, fn func(*models.User) error) error
}

type ruleBuilder interface {
	ForInstance(instance *models.EnrolmentInstance) (rules.Evaluator, error)
}

type groupRefresher interface {
	RefreshGroup(ctx context.Context, instance *models.EnrolmentInstance, user *models.User) error
}

type welcomeSender interface {
	SendWelcome(ctx context.Context, instance *models.EnrolmentInstance, user *models.User) error
}

// SyncConfig carries the plugin-level settings the synchronizer reads.
type SyncConfig struct {
	Enabled       bool
	GuestUsername string
	UnenrolAction string
	Budget        config.BatchConfig
}

type planAction int

const (
	planNone planAction = iota
	planEnrol
	planRefresh
	planRemove
)

type plan struct {
	action   planAction
	reason   string
	existing *models.UserEnrolment
}

// SyncService is the enrolment synchronizer: it reconciles one user against
// one instance, or every user against every enabled instance.
type SyncService struct {
	instances  instanceReader
	enrolments enrolmentReader
	users      userLookup
	rules      ruleBuilder
	manager    *EnrolmentManager
	groups     groupRefresher
	welcome    welcomeSender
	cache      *CacheService
	metrics    *MetricsService
	cfg        SyncConfig
	logger     *zap.Logger
	now        func() time.Time
}

// NewSyncService constructs SyncService.
func NewSyncService(instances instanceReader, enrolments enrolmentReader, users userLookup, ruleBuilder ruleBuilder, manager *EnrolmentManager, groups groupRefresher, welcome welcomeSender, cache *CacheService, metrics *MetricsService, logger *zap.Logger, cfg SyncConfig) *SyncService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.UnenrolAction == "" {
		cfg.UnenrolAction = config.ActionUnenrol
	}
	return &SyncService{
		instances:  instances,
		enrolments: enrolments,
		users:      users,
		rules:      ruleBuilder,
		manager:    manager,
		groups:     groups,
		welcome:    welcome,
		cache:      cache,
		metrics:    metrics,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// SyncUser reconciles one user against one instance. Guard failures are
// reported as EffectNone with a reason, never as errors.
func (s *SyncService) SyncUser(ctx context.Context, instance *models.EnrolmentInstance, user *models.User, trigger models.Trigger) (models.SyncResult, error) {
	if instance == nil || instance.Plugin != models.PluginName {
		return models.SyncResult{}, appErrors.Clone(appErrors.ErrInvalidInstance, "instance is not an autoenrol instance")
	}
	result := models.SyncResult{InstanceID: instance.ID, CourseID: instance.CourseID, Effect: models.EffectNone}
	if user == nil {
		result.Reason = "no user"
		return result, nil
	}
	result.UserID = user.ID

	p, err := s.decide(ctx, instance, user, trigger)
	if err != nil {
		return result, err
	}
	result.Reason = p.reason

	effect, err := s.apply(ctx, instance, user, p)
	result.Effect = effect
	if err != nil {
		return result, err
	}
	s.metrics.RecordSyncEffect(trigger, effect)
	if effect != models.EffectNone {
		s.logger.Info("user synced",
			zap.String("instance_id", instance.ID),
			zap.String("course_id", instance.CourseID),
			zap.String("user_id", user.ID),
			zap.String("trigger", string(trigger)),
			zap.String("effect", string(effect)))
	}
	return result, nil
}

// SyncUserEnrolments runs the login sync across every enabled instance.
// A failing instance does not stop the others.
func (s *SyncService) SyncUserEnrolments(ctx context.Context, user *models.User) ([]models.SyncResult, error) {
	if !s.cfg.Enabled {
		return nil, appErrors.ErrPluginDisabled
	}
	if user == nil || user.IsGuest(s.cfg.GuestUsername) {
		return nil, nil
	}

	instances, err := s.enabledInstances(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrol instances")
	}

	results := make([]models.SyncResult, 0, len(instances))
	var errs []error
	for i := range instances {
		res, err := s.SyncUser(ctx, &instances[i], user, models.TriggerLogin)
		if err != nil {
			s.logger.Warn("login sync failed",
				zap.String("instance_id", instances[i].ID), zap.String("user_id", user.ID), zap.Error(err))
			errs = append(errs, fmt.Errorf("instance %s: %w", instances[i].ID, err))
			continue
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

// SyncLogin loads the user and runs the login sync for them.
func (s *SyncService) SyncLogin(ctx context.Context, userID string) ([]models.SyncResult, error) {
	if !s.cfg.Enabled {
		return nil, appErrors.ErrPluginDisabled
	}
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, notFoundOr(err, "user not found", "failed to load user")
	}
	return s.SyncUserEnrolments(ctx, user)
}

// SyncInstanceUser loads both sides by id and syncs them under trigger.
func (s *SyncService) SyncInstanceUser(ctx context.Context, instanceID, userID string, trigger models.Trigger) (models.SyncResult, error) {
	if !s.cfg.Enabled {
		return models.SyncResult{}, appErrors.ErrPluginDisabled
	}
	instance, err := s.instances.FindByID(ctx, instanceID)
	if err != nil {
		return models.SyncResult{}, notFoundOr(err, "enrol instance not found", "failed to load enrol instance")
	}
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return models.SyncResult{}, notFoundOr(err, "user not found", "failed to load user")
	}
	return s.SyncUser(ctx, instance, user, trigger)
}

// SyncEnrolments reconciles every candidate user against the enabled
// instances, optionally within one course. In check mode nothing is written
// and the planned effects are returned instead.
func (s *SyncService) SyncEnrolments(ctx context.Context, sink trace.Sink, courseID string, check bool) (*models.BulkSyncResult, error) {
	sink = trace.OrNull(sink)
	started := s.now()
	result := &models.BulkSyncResult{Status: models.RunCompleted, Check: check, Effects: map[models.Effect]int{}}

	if !s.cfg.Enabled {
		sink.Output("Autoenrol plugin not enabled")
		result.Status = models.RunDisabled
		return result, nil
	}

	b := startBudget(ctx, s.cfg.Budget)
	defer b.Close()
	ctx = b.Context()

	instances, err := s.instances.List(ctx, models.InstanceFilter{CourseID: courseID, Status: models.InstanceStatusEnabled})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrol instances")
	}
	result.Instances = len(instances)
	if len(instances) == 0 {
		sink.Output("No autoenrol instances to synchronize")
		return result, nil
	}

	err = s.users.StreamSyncCandidates(ctx, s.cfg.GuestUsername, func(user *models.User) error {
		if err := b.Tick(); err != nil {
			return err
		}
		result.Users++
		for i := range instances {
			instance := &instances[i]
			if check {
				res, err := s.Plan(ctx, instance, user, models.TriggerBulk)
				if err != nil {
					return err
				}
				result.Effects[res.Effect]++
				if res.Effect != models.EffectNone {
					result.Planned = append(result.Planned, res)
				}
				continue
			}
			res, err := s.SyncUser(ctx, instance, user, models.TriggerBulk)
			if err != nil {
				if b.Exceeded(err) {
					return err
				}
				s.logger.Warn("bulk sync failed for user",
					zap.String("instance_id", instance.ID), zap.String("user_id", user.ID), zap.Error(err))
				continue
			}
			result.Effects[res.Effect]++
		}
		return nil
	})

	if check {
		sink.Output("Check for synchronization to %d users", result.Users)
	}
	if b.Exceeded(err) {
		result.Status = models.RunBudget
		sink.Output("Synchronization interrupted after %d users: %v", result.Users, err)
		s.metrics.ObserveBatch("sync", result.Status, s.now().Sub(started))
		return result, nil
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "bulk sync failed")
	}

	if !check {
		sink.Output("Synchronized %d users: %d enrolled, %d unenrolled, %d suspended", result.Users,
			result.Effects[models.EffectEnrolled], result.Effects[models.EffectUnenrolled], result.Effects[models.EffectSuspended])
	}
	s.metrics.ObserveBatch("sync", result.Status, s.now().Sub(started))
	return result, nil
}

// Plan reports what SyncUser would do without writing anything.
func (s *SyncService) Plan(ctx context.Context, instance *models.EnrolmentInstance, user *models.User, trigger models.Trigger) (models.SyncResult, error) {
	result := models.SyncResult{InstanceID: instance.ID, CourseID: instance.CourseID, UserID: user.ID, Effect: models.EffectNone}
	p, err := s.decide(ctx, instance, user, trigger)
	if err != nil {
		return result, err
	}
	result.Reason = p.reason
	switch p.action {
	case planEnrol:
		result.Effect = models.EffectEnrolled
	case planRemove:
		result.Effect = s.removalEffect(p.existing)
	}
	return result, nil
}

func (s *SyncService) removalEffect(existing *models.UserEnrolment) models.Effect {
	switch s.cfg.UnenrolAction {
	case config.ActionSuspend, config.ActionSuspendNoRoles:
		if existing.Status == models.UserEnrolmentSuspended {
			return models.EffectNone
		}
		return models.EffectSuspended
	case config.ActionKeep:
		return models.EffectNone
	}
	return models.EffectUnenrolled
}

func (s *SyncService) decide(ctx context.Context, instance *models.EnrolmentInstance, user *models.User, trigger models.Trigger) (plan, error) {
	if user.IsGuest(s.cfg.GuestUsername) {
		return plan{reason: "guest user"}, nil
	}

	existing, err := s.enrolments.Find(ctx, instance.ID, user.ID)
	if err != nil {
		return plan{}, fmt.Errorf("find enrolment: %w", err)
	}
	if existing != nil {
		return s.decideExisting(ctx, instance, user, existing)
	}
	if !triggerAllowed(instance.EnrolMethod, trigger) {
		return plan{reason: "enrol method does not accept " + string(trigger)}, nil
	}

	if !instance.Enabled() {
		return plan{reason: "instance disabled"}, nil
	}
	if !instance.NewEnrolsAllowed {
		return plan{reason: "new enrolments disabled"}, nil
	}
	now := s.now().UTC()
	if !instance.WithinWindow(now) {
		return plan{reason: "outside enrolment window"}, nil
	}
	if instance.MaxEnrolled > 0 {
		count, err := s.enrolments.CountByInstance(ctx, instance.ID)
		if err != nil {
			return plan{}, fmt.Errorf("count enrolments: %w", err)
		}
		if count >= instance.MaxEnrolled {
			return plan{reason: "enrolment limit reached"}, nil
		}
	}
	if !instance.AlwaysEnrol {
		other, err := s.enrolments.HasOtherActive(ctx, instance.CourseID, user.ID, instance.ID, "", now)
		if err != nil {
			return plan{}, fmt.Errorf("check other enrolments: %w", err)
		}
		if other {
			return plan{reason: "already enrolled by another method"}, nil
		}
	}
	matched, err := s.matches(ctx, instance, user)
	if err != nil {
		return plan{}, err
	}
	if !matched {
		return plan{reason: "rule does not match"}, nil
	}
	return plan{action: planEnrol, reason: "rule matches"}, nil
}

func (s *SyncService) decideExisting(ctx context.Context, instance *models.EnrolmentInstance, user *models.User, existing *models.UserEnrolment) (plan, error) {
	if !instance.Enabled() {
		return plan{reason: "instance disabled", existing: existing}, nil
	}
	matched, err := s.matches(ctx, instance, user)
	if err != nil {
		return plan{}, err
	}
	if matched {
		return plan{action: planRefresh, reason: "already enrolled", existing: existing}, nil
	}
	return plan{action: planRemove, reason: "rule no longer matches", existing: existing}, nil
}

func (s *SyncService) matches(ctx context.Context, instance *models.EnrolmentInstance, user *models.User) (bool, error) {
	evaluator, err := s.rules.ForInstance(instance)
	if err != nil {
		return false, err
	}
	matched, err := evaluator.Matches(ctx, user)
	if err != nil {
		return false, fmt.Errorf("evaluate rule: %w", err)
	}
	return matched, nil
}

func (s *SyncService) apply(ctx context.Context, instance *models.EnrolmentInstance, user *models.User, p plan) (models.Effect, error) {
	switch p.action {
	case planEnrol:
		_, created, err := s.manager.Enrol(ctx, instance, user.ID)
		if err != nil {
			return models.EffectNone, err
		}
		if !created {
			return models.EffectNone, nil
		}
		s.afterEnrol(ctx, instance, user)
		return models.EffectEnrolled, nil
	case planRefresh:
		if err := s.groups.RefreshGroup(ctx, instance, user); err != nil {
			return models.EffectNone, err
		}
		return models.EffectNone, nil
	case planRemove:
		return s.manager.Apply(ctx, s.cfg.UnenrolAction, instance, p.existing)
	}
	return models.EffectNone, nil
}

// afterEnrol runs the group and welcome follow-ups. The enrolment already
// stands, so their failures are logged and retried by the next pass.
func (s *SyncService) afterEnrol(ctx context.Context, instance *models.EnrolmentInstance, user *models.User) {
	if err := s.groups.RefreshGroup(ctx, instance, user); err != nil {
		s.logger.Warn("group refresh after enrol failed",
			zap.String("instance_id", instance.ID), zap.String("user_id", user.ID), zap.Error(err))
	}
	if s.welcome == nil || instance.WelcomeMessageMode == models.WelcomeOff || instance.WelcomeMessageMode == "" {
		return
	}
	if err := s.welcome.SendWelcome(ctx, instance, user); err != nil {
		s.logger.Warn("welcome message failed",
			zap.String("instance_id", instance.ID), zap.String("user_id", user.ID), zap.Error(err))
	}
}

func (s *SyncService) enabledInstances(ctx context.Context) ([]models.EnrolmentInstance, error) {
	load := func(ctx context.Context) ([]models.EnrolmentInstance, error) {
		return s.instances.List(ctx, models.InstanceFilter{Status: models.InstanceStatusEnabled})
	}
	if s.cache == nil {
		return load(ctx)
	}
	return s.cache.EnabledInstances(ctx, load)
}

// triggerAllowed reports whether trigger may create an enrolment for an
// instance using method.
func triggerAllowed(method models.EnrolMethod, trigger models.Trigger) bool {
	switch trigger {
	case models.TriggerConfirmation:
		return true
	case models.TriggerLogin:
		return method == models.EnrolOnLogin
	case models.TriggerCourseAccess:
		return method == models.EnrolOnCourseAccess || method == models.EnrolOnLogin
	case models.TriggerBulk:
		return method != models.EnrolOnConfirmation
	}
	return false
}

func notFoundOr(err error, notFound, internal string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, notFound)
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, internal)
}
