package rules

import (
	"context"
	"fmt"

	"github.com/noah-isme/autoenrol/internal/models"
)

// ProfileProvider supplies custom profile field values keyed by field short name.
type ProfileProvider interface {
	CustomFields(ctx context.Context, userID string) (map[string]string, error)
}

// Resolver reads a named attribute from the user record or the custom profile.
type Resolver struct {
	profiles ProfileProvider
}

func NewResolver(profiles ProfileProvider) *Resolver {
	return &Resolver{profiles: profiles}
}

// Value returns the attribute, or "" when the user or the field is absent.
func (r *Resolver) Value(ctx context.Context, user *models.User, field string) (string, error) {
	if field == "" || user == nil {
		return "", nil
	}
	if v, ok := user.StandardField(field); ok {
		return v, nil
	}
	if r == nil || r.profiles == nil || user.ID == "" {
		return "", nil
	}
	fields, err := r.profiles.CustomFields(ctx, user.ID)
	if err != nil {
		return "", fmt.Errorf("load profile fields for user %s: %w", user.ID, err)
	}
	return fields[field], nil
}
