package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/autoenrol/internal/models"
	"github.com/noah-isme/autoenrol/pkg/config"
	appErrors "github.com/noah-isme/autoenrol/pkg/errors"
	"github.com/noah-isme/autoenrol/pkg/trace"
)

type instanceStore interface {
	FindByID(ctx context.Context, id string) (*models.EnrolmentInstance, error)
	List(ctx context.Context, filter models.InstanceFilter) ([]models.EnrolmentInstance, error)
	Create(ctx context.Context, instance *models.EnrolmentInstance) error
	SetNewEnrolsAllowed(ctx context.Context, id string, allowed bool) error
	UpdateRole(ctx context.Context, id, roleID string) error
	Delete(ctx context.Context, id string) error
}

type instanceEnrolments interface {
	Find(ctx context.Context, instanceID, userID string) (*models.UserEnrolment, error)
	ListByInstance(ctx context.Context, instanceID string) ([]models.UserEnrolment, error)
	DeleteByInstance(ctx context.Context, instanceID string) error
}

type instanceRoles interface {
	IsAssignable(ctx context.Context, roleID string) (bool, error)
	UnassignItem(ctx context.Context, component, itemID string) error
}

type userChecker interface {
	Exists(ctx context.Context, id string) (bool, error)
}

type ownedGroupCleaner interface {
	DeleteOwnedGroups(ctx context.Context, instance *models.EnrolmentInstance) (int, error)
}

// InstanceService administers enrol instances: creation with plugin
// defaults, deletion, and the operator maintenance commands.
type InstanceService struct {
	instances  instanceStore
	enrolments instanceEnrolments
	roles      instanceRoles
	users      userChecker
	courses    courseReader
	groups     ownedGroupCleaner
	manager    *EnrolmentManager
	cache      *CacheService
	validator  *validator.Validate
	cfg        config.AutoenrolConfig
	logger     *zap.Logger
	now        func() time.Time
}

// NewInstanceService constructs InstanceService.
func NewInstanceService(instances instanceStore, enrolments instanceEnrolments, roles instanceRoles, users userChecker, courses courseReader, groups ownedGroupCleaner, manager *EnrolmentManager, cache *CacheService, validate *validator.Validate, logger *zap.Logger, cfg config.AutoenrolConfig) *InstanceService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InstanceService{
		instances:  instances,
		enrolments: enrolments,
		roles:      roles,
		users:      users,
		courses:    courses,
		groups:     groups,
		manager:    manager,
		cache:      cache,
		validator:  validate,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// InstanceName returns the display name of an instance.
func InstanceName(instance *models.EnrolmentInstance) string {
	if instance == nil || strings.TrimSpace(instance.Name) == "" {
		return "Auto Enrol"
	}
	return fmt.Sprintf("Auto (%s)", instance.Name)
}

// Get returns an autoenrol instance by id.
func (s *InstanceService) Get(ctx context.Context, id string) (*models.EnrolmentInstance, error) {
	instance, err := s.instances.FindByID(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "enrol instance not found", "failed to load enrol instance")
	}
	if instance.Plugin != models.PluginName {
		return nil, appErrors.Clone(appErrors.ErrInvalidInstance, "instance is not an autoenrol instance")
	}
	return instance, nil
}

// AddDefaultInstance attaches an instance built from the plugin defaults.
func (s *InstanceService) AddDefaultInstance(ctx context.Context, courseID string) (*models.EnrolmentInstance, error) {
	if _, err := s.courses.FindByID(ctx, courseID); err != nil {
		return nil, notFoundOr(err, "course not found", "failed to load course")
	}

	status := models.InstanceStatusDisabled
	if s.cfg.DefaultEnabled {
		status = models.InstanceStatusEnabled
	}
	instance := &models.EnrolmentInstance{
		CourseID:           courseID,
		Plugin:             models.PluginName,
		Status:             status,
		RoleID:             s.cfg.DefaultRoleID,
		EnrolMethod:        models.EnrolOnCourseAccess,
		EnrolPeriod:        int64(s.cfg.DefaultEnrolPeriod / time.Second),
		NewEnrolsAllowed:   s.cfg.DefaultNewEnrols,
		SelfUnenrolAllowed: s.cfg.DefaultSelfUnenrol,
		GroupByField:       models.NoGroupField,
		WelcomeMessageMode: models.WelcomeOff,
		ExpiryNotifyMode:   models.ExpiryNotifyOff,
	}
	if err := s.validator.Struct(instance); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid default instance settings")
	}
	assignable, err := s.roles.IsAssignable(ctx, instance.RoleID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check role")
	}
	if !assignable {
		return nil, appErrors.Clone(appErrors.ErrValidation, "role is not assignable in course context")
	}

	if err := s.instances.Create(ctx, instance); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create enrol instance")
	}
	s.cache.InvalidateInstances(ctx)
	s.logger.Info("enrol instance created", zap.String("instance_id", instance.ID), zap.String("name", InstanceName(instance)), zap.String("course_id", courseID))
	return instance, nil
}

// DeleteInstance removes an instance with its owned groups, roles and enrolments.
func (s *InstanceService) DeleteInstance(ctx context.Context, id string) error {
	instance, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	if s.cfg.RemoveGroups && s.groups != nil {
		removed, err := s.groups.DeleteOwnedGroups(ctx, instance)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete auto-managed groups")
		}
		s.logger.Info("auto-managed groups deleted", zap.String("instance_id", id), zap.Int("count", removed))
	}
	if err := s.roles.UnassignItem(ctx, models.Component, instance.ID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to remove role assignments")
	}
	if err := s.enrolments.DeleteByInstance(ctx, instance.ID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to remove enrolments")
	}
	if err := s.instances.Delete(ctx, instance.ID); err != nil {
		return notFoundOr(err, "enrol instance not found", "failed to delete enrol instance")
	}
	s.cache.InvalidateInstances(ctx)
	s.logger.Info("enrol instance deleted", zap.String("instance_id", id), zap.String("name", InstanceName(instance)), zap.String("course_id", instance.CourseID))
	return nil
}

// CanSelfUnenrol reports whether users may leave the instance themselves.
// On-login instances would enrol them again at the next login.
func CanSelfUnenrol(instance *models.EnrolmentInstance) bool {
	return instance != nil && instance.SelfUnenrolAllowed && instance.EnrolMethod != models.EnrolOnLogin
}

// SelfUnenrol removes a user's own enrolment when the instance allows it.
func (s *InstanceService) SelfUnenrol(ctx context.Context, instanceID, userID string) error {
	instance, err := s.Get(ctx, instanceID)
	if err != nil {
		return err
	}
	if !CanSelfUnenrol(instance) {
		return appErrors.Clone(appErrors.ErrForbidden, "self unenrolment is not allowed for this instance")
	}
	enrolment, err := s.enrolments.Find(ctx, instance.ID, userID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrolment")
	}
	if enrolment == nil {
		return appErrors.Clone(appErrors.ErrNotFound, "user is not enrolled through this instance")
	}
	if err := s.manager.Unenrol(ctx, instance, enrolment); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to unenrol user")
	}
	s.logger.Info("user unenrolled self", zap.String("instance_id", instance.ID), zap.String("user_id", userID))
	return nil
}

// EnableNewEnrolments lists, or with check false re-enables, every instance
// that has new enrolments switched off. It returns the number found.
func (s *InstanceService) EnableNewEnrolments(ctx context.Context, sink trace.Sink, check bool) (int, error) {
	sink = trace.OrNull(sink)
	disabled := false
	instances, err := s.instances.List(ctx, models.InstanceFilter{NewEnrolsAllowed: &disabled})
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrol instances")
	}
	if len(instances) == 0 {
		sink.Output("Great! No new enrolments disabled on your site")
		return 0, nil
	}

	sink.Output("Found %d instances of autoenrol with new enrolments disable", len(instances))
	for _, instance := range instances {
		if check {
			sink.Output("%s/enrol/autoenrol/edit.php?courseid=%s&id=%s", s.cfg.SiteURL, instance.CourseID, instance.ID)
			continue
		}
		if err := s.instances.SetNewEnrolsAllowed(ctx, instance.ID, true); err != nil {
			return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enable new enrolments")
		}
	}
	if !check {
		sink.Output("Enabled %d instances of autoenrol", len(instances))
		s.cache.InvalidateInstances(ctx)
	}
	return len(instances), nil
}

// FixRoles fills missing instance roles with the default role and assigns
// each instance role to every user it enrols. In slow mode deleted or missing
// users are skipped. It returns the number of roles assigned.
func (s *InstanceService) FixRoles(ctx context.Context, sink trace.Sink, slow bool) (int, error) {
	sink = trace.OrNull(sink)
	instances, err := s.instances.List(ctx, models.InstanceFilter{})
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrol instances")
	}
	if len(instances) == 0 {
		sink.Output("No autoenrol instances on your site")
		return 0, nil
	}

	sink.Output("Found %d instances of autoenrol", len(instances))
	count := 0
	for i := range instances {
		instance := &instances[i]
		if instance.RoleID == "" {
			if s.cfg.DefaultRoleID == "" {
				s.logger.Warn("instance has no role and no default role is configured", zap.String("instance_id", instance.ID))
				continue
			}
			if err := s.instances.UpdateRole(ctx, instance.ID, s.cfg.DefaultRoleID); err != nil {
				return count, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to set default role")
			}
			instance.RoleID = s.cfg.DefaultRoleID
		}

		enrolments, err := s.enrolments.ListByInstance(ctx, instance.ID)
		if err != nil {
			return count, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrolments")
		}
		for _, enrolment := range enrolments {
			if enrolment.UserID == "" {
				continue
			}
			if slow {
				exists, err := s.users.Exists(ctx, enrolment.UserID)
				if err != nil {
					return count, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check user")
				}
				if !exists {
					continue
				}
			}
			if err := s.manager.AssignRole(ctx, instance, enrolment.UserID); err != nil {
				return count, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to assign role")
			}
			count++
		}
	}
	sink.Output("Assigned %d roles", count)
	return count, nil
}

// CourseExists reports whether the course is known to the host.
func (s *InstanceService) CourseExists(ctx context.Context, courseID string) (bool, error) {
	if _, err := s.courses.FindByID(ctx, courseID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("load course: %w", err)
	}
	return true, nil
}
