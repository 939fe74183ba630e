package service

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"github.com/noah-isme/autoenrol/internal/models"
)

// GroupDescription is written on every group the engine creates.
const GroupDescription = "This group has been automatically created by the Auto Enrol plugin. It will be deleted if you remove the Auto Enrol plugin from the course."

const maxIDNumberLength = 100

type groupStore interface {
	FindByIDNumber(ctx context.Context, courseID, idnumber string) (*models.Group, error)
	FindByName(ctx context.Context, courseID, name string) (*models.Group, error)
	Create(ctx context.Context, group *models.Group) (*models.Group, error)
	ListByIDNumberPrefix(ctx context.Context, courseID, prefix string) ([]models.Group, error)
	ListUserGroupsByPrefix(ctx context.Context, courseID, userID, prefix string) ([]models.Group, error)
	AddMember(ctx context.Context, groupID, userID, component, itemID string) error
	RemoveMember(ctx context.Context, groupID, userID string) error
	Delete(ctx context.Context, groupID string) error
}

type fieldValuer interface {
	Value(ctx context.Context, user *models.User, field string) (string, error)
}

// OwnerTag is the idnumber prefix shared by every group an instance owns.
func OwnerTag(instanceID string) string {
	return models.PluginName + "|" + instanceID + "|"
}

// GroupKey derives the stable idnumber of the group named name for an instance.
func GroupKey(instanceID, name string) string {
	sum, _ := blake2b.New(16, nil)
	sum.Write([]byte(name))
	return OwnerTag(instanceID) + hex.EncodeToString(sum.Sum(nil))
}

// legacyIDNumber is the literal tag older groups were created with.
func legacyIDNumber(instanceID, name string) string {
	id := OwnerTag(instanceID) + name
	if len(id) <= maxIDNumberLength {
		return id
	}
	id = id[:maxIDNumberLength]
	for !utf8.ValidString(id) {
		id = id[:len(id)-1]
	}
	return id
}

// GroupService keeps each user in at most one auto-managed group per instance.
type GroupService struct {
	groups   groupStore
	resolver fieldValuer
	logger   *zap.Logger
	now      func() time.Time
}

// NewGroupService constructs GroupService.
func NewGroupService(groups groupStore, resolver fieldValuer, logger *zap.Logger) *GroupService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GroupService{groups: groups, resolver: resolver, logger: logger, now: time.Now}
}

// TargetName resolves the group a user belongs in for an instance.
func (s *GroupService) TargetName(ctx context.Context, instance *models.EnrolmentInstance, user *models.User) (string, error) {
	if name := strings.TrimSpace(instance.GroupName); name != "" {
		return name, nil
	}
	value, err := s.resolver.Value(ctx, user, instance.GroupByField)
	if err != nil {
		return "", err
	}
	if value = strings.TrimSpace(value); value != "" {
		return value, nil
	}
	return "No " + instance.GroupByField, nil
}

// RefreshGroup moves the user into the group matching their current field value.
func (s *GroupService) RefreshGroup(ctx context.Context, instance *models.EnrolmentInstance, user *models.User) error {
	if !instance.Grouped() || user == nil {
		return nil
	}

	name, err := s.TargetName(ctx, instance, user)
	if err != nil {
		return fmt.Errorf("resolve group name: %w", err)
	}
	target, err := s.ensureGroup(ctx, instance, name)
	if err != nil {
		return err
	}

	current, err := s.groups.ListUserGroupsByPrefix(ctx, instance.CourseID, user.ID, OwnerTag(instance.ID))
	if err != nil {
		return fmt.Errorf("list owned memberships: %w", err)
	}
	member := false
	for _, g := range current {
		if g.ID == target.ID {
			member = true
			continue
		}
		if err := s.groups.RemoveMember(ctx, g.ID, user.ID); err != nil {
			return fmt.Errorf("leave group %s: %w", g.ID, err)
		}
		s.logger.Debug("removed stale group membership",
			zap.String("instance_id", instance.ID), zap.String("user_id", user.ID), zap.String("group", g.Name))
	}
	if member {
		return nil
	}

	if err := s.groups.AddMember(ctx, target.ID, user.ID, models.Component, instance.ID); err != nil {
		return fmt.Errorf("join group %s: %w", target.ID, err)
	}
	return nil
}

// RemoveOwnedMemberships drops a user from every group owned by the instance.
func (s *GroupService) RemoveOwnedMemberships(ctx context.Context, instance *models.EnrolmentInstance, userID string) error {
	current, err := s.groups.ListUserGroupsByPrefix(ctx, instance.CourseID, userID, OwnerTag(instance.ID))
	if err != nil {
		return fmt.Errorf("list owned memberships: %w", err)
	}
	for _, g := range current {
		if err := s.groups.RemoveMember(ctx, g.ID, userID); err != nil {
			return fmt.Errorf("leave group %s: %w", g.ID, err)
		}
	}
	return nil
}

// DeleteOwnedGroups removes every group the instance created and returns how many.
func (s *GroupService) DeleteOwnedGroups(ctx context.Context, instance *models.EnrolmentInstance) (int, error) {
	owned, err := s.groups.ListByIDNumberPrefix(ctx, instance.CourseID, OwnerTag(instance.ID))
	if err != nil {
		return 0, fmt.Errorf("list owned groups: %w", err)
	}
	for i, g := range owned {
		if err := s.groups.Delete(ctx, g.ID); err != nil {
			return i, fmt.Errorf("delete group %s: %w", g.ID, err)
		}
	}
	return len(owned), nil
}

func (s *GroupService) ensureGroup(ctx context.Context, instance *models.EnrolmentInstance, name string) (*models.Group, error) {
	key := GroupKey(instance.ID, name)
	for _, idnumber := range []string{key, legacyIDNumber(instance.ID, name)} {
		g, err := s.groups.FindByIDNumber(ctx, instance.CourseID, idnumber)
		if err != nil {
			return nil, fmt.Errorf("find group: %w", err)
		}
		if g != nil {
			return g, nil
		}
	}

	g, err := s.groups.FindByName(ctx, instance.CourseID, name)
	if err != nil {
		return nil, fmt.Errorf("find group by name: %w", err)
	}
	if g != nil && strings.HasPrefix(g.IDNumber, OwnerTag(instance.ID)) {
		return g, nil
	}

	created, err := s.groups.Create(ctx, &models.Group{
		ID:          uuid.NewString(),
		CourseID:    instance.CourseID,
		Name:        name,
		IDNumber:    key,
		Description: GroupDescription,
		CreatedAt:   s.now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("create group: %w", err)
	}
	s.logger.Info("created auto-managed group",
		zap.String("instance_id", instance.ID), zap.String("course_id", instance.CourseID), zap.String("group", name))
	return created, nil
}
