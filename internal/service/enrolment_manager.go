package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/autoenrol/internal/models"
	"github.com/noah-isme/autoenrol/pkg/config"
)

type enrolmentWriter interface {
	Create(ctx context.Context, enrolment *models.UserEnrolment) (bool, error)
	UpdateStatus(ctx context.Context, id string, status models.UserEnrolmentStatus) (bool, error)
	Delete(ctx context.Context, id string) error
	HasOtherActive(ctx context.Context, courseID, userID, excludeInstanceID, roleID string, now time.Time) (bool, error)
}

type roleAssigner interface {
	Assign(ctx context.Context, assignment models.RoleAssignment) error
	UnassignAll(ctx context.Context, userID, courseID, component, itemID string) error
}

type membershipCleaner interface {
	RemoveOwnedMemberships(ctx context.Context, instance *models.EnrolmentInstance, userID string) error
}

// EnrolmentManager holds the enrol, unenrol and suspend primitives shared by
// the synchronizer and the sweeper. Each call commits on its own.
type EnrolmentManager struct {
	enrolments enrolmentWriter
	roles      roleAssigner
	groups     membershipCleaner
	retention  string
	logger     *zap.Logger
	now        func() time.Time
}

// NewEnrolmentManager constructs EnrolmentManager.
func NewEnrolmentManager(enrolments enrolmentWriter, roles roleAssigner, groups membershipCleaner, retention string, logger *zap.Logger) *EnrolmentManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if retention == "" {
		retention = config.RetainForAnyEnrolment
	}
	return &EnrolmentManager{enrolments: enrolments, roles: roles, groups: groups, retention: retention, logger: logger, now: time.Now}
}

// Enrol creates the user's record for the instance and assigns its role.
// created is false when a concurrent writer got there first.
func (m *EnrolmentManager) Enrol(ctx context.Context, instance *models.EnrolmentInstance, userID string) (*models.UserEnrolment, bool, error) {
	now := m.now().UTC()
	enrolment := &models.UserEnrolment{
		ID:         uuid.NewString(),
		InstanceID: instance.ID,
		UserID:     userID,
		Status:     models.UserEnrolmentActive,
		TimeStart:  now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if period := instance.Period(); period > 0 {
		end := now.Add(period)
		enrolment.TimeEnd = &end
	}

	created, err := m.enrolments.Create(ctx, enrolment)
	if err != nil {
		return nil, false, fmt.Errorf("create enrolment: %w", err)
	}
	if !created {
		return enrolment, false, nil
	}

	if err := m.assignRole(ctx, instance, userID); err != nil {
		return enrolment, true, err
	}
	return enrolment, true, nil
}

// AssignRole grants the instance role to the user if not already held.
func (m *EnrolmentManager) AssignRole(ctx context.Context, instance *models.EnrolmentInstance, userID string) error {
	return m.assignRole(ctx, instance, userID)
}

func (m *EnrolmentManager) assignRole(ctx context.Context, instance *models.EnrolmentInstance, userID string) error {
	if instance.RoleID == "" {
		return nil
	}
	err := m.roles.Assign(ctx, models.RoleAssignment{
		ID:        uuid.NewString(),
		RoleID:    instance.RoleID,
		UserID:    userID,
		CourseID:  instance.CourseID,
		Component: models.Component,
		ItemID:    instance.ID,
	})
	if err != nil {
		return fmt.Errorf("assign role: %w", err)
	}
	return nil
}

// Unenrol removes owned group memberships, plugin roles and the record.
func (m *EnrolmentManager) Unenrol(ctx context.Context, instance *models.EnrolmentInstance, enrolment *models.UserEnrolment) error {
	if m.groups != nil {
		if err := m.groups.RemoveOwnedMemberships(ctx, instance, enrolment.UserID); err != nil {
			return err
		}
	}
	if err := m.roles.UnassignAll(ctx, enrolment.UserID, instance.CourseID, models.Component, instance.ID); err != nil {
		return fmt.Errorf("unassign roles: %w", err)
	}
	if err := m.enrolments.Delete(ctx, enrolment.ID); err != nil {
		return fmt.Errorf("delete enrolment: %w", err)
	}
	return nil
}

// Suspend flips the record to suspended. changed is false if it already was.
func (m *EnrolmentManager) Suspend(ctx context.Context, enrolment *models.UserEnrolment) (bool, error) {
	changed, err := m.enrolments.UpdateStatus(ctx, enrolment.ID, models.UserEnrolmentSuspended)
	if err != nil {
		return false, fmt.Errorf("suspend enrolment: %w", err)
	}
	enrolment.Status = models.UserEnrolmentSuspended
	return changed, nil
}

// SuspendAndStripRoles suspends the record and removes the plugin's roles
// unless the retention policy finds another enrolment still granting access.
func (m *EnrolmentManager) SuspendAndStripRoles(ctx context.Context, instance *models.EnrolmentInstance, enrolment *models.UserEnrolment) (bool, error) {
	changed, err := m.Suspend(ctx, enrolment)
	if err != nil {
		return false, err
	}

	keep, err := m.retainRoles(ctx, instance, enrolment.UserID)
	if err != nil {
		return changed, err
	}
	if keep {
		return changed, nil
	}
	if err := m.roles.UnassignAll(ctx, enrolment.UserID, instance.CourseID, models.Component, instance.ID); err != nil {
		return changed, fmt.Errorf("unassign roles: %w", err)
	}
	return changed, nil
}

func (m *EnrolmentManager) retainRoles(ctx context.Context, instance *models.EnrolmentInstance, userID string) (bool, error) {
	var roleID string
	switch m.retention {
	case config.RetainNever:
		return false, nil
	case config.RetainForSameRole:
		roleID = instance.RoleID
	}
	other, err := m.enrolments.HasOtherActive(ctx, instance.CourseID, userID, instance.ID, roleID, m.now().UTC())
	if err != nil {
		return false, fmt.Errorf("check other enrolments: %w", err)
	}
	return other, nil
}

// Apply performs a configured removal action and reports its effect.
func (m *EnrolmentManager) Apply(ctx context.Context, action string, instance *models.EnrolmentInstance, enrolment *models.UserEnrolment) (models.Effect, error) {
	switch action {
	case config.ActionKeep:
		return models.EffectNone, nil
	case config.ActionSuspend:
		changed, err := m.Suspend(ctx, enrolment)
		return suspendedEffect(changed), err
	case config.ActionSuspendNoRoles:
		changed, err := m.SuspendAndStripRoles(ctx, instance, enrolment)
		return suspendedEffect(changed), err
	default:
		if err := m.Unenrol(ctx, instance, enrolment); err != nil {
			return models.EffectNone, err
		}
		return models.EffectUnenrolled, nil
	}
}

func suspendedEffect(changed bool) models.Effect {
	if changed {
		return models.EffectSuspended
	}
	return models.EffectNone
}
