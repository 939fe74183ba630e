package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/noah-isme/autoenrol/internal/models"
)

// ProfileConditionType is the availability plugin that compares profile fields.
const ProfileConditionType = "profile"

// Profile comparison operators.
const (
	OpIsEqualTo      = "isequalto"
	OpContains       = "contains"
	OpDoesNotContain = "doesnotcontain"
	OpStartsWith     = "startswith"
	OpEndsWith       = "endswith"
	OpIsEmpty        = "isempty"
	OpIsNotEmpty     = "isnotempty"
)

// ProfileCondition compares a standard (sf) or custom (cf) field with v.
type ProfileCondition struct {
	StandardField string `json:"sf,omitempty"`
	CustomField   string `json:"cf,omitempty"`
	Operator      string `json:"op"`
	Value         string `json:"v,omitempty"`

	resolver *Resolver
}

func newProfileCondition(raw json.RawMessage, resolver *Resolver) (Condition, error) {
	cond := &ProfileCondition{resolver: resolver}
	if err := json.Unmarshal(raw, cond); err != nil {
		return nil, fmt.Errorf("decode profile condition: %w", err)
	}
	if cond.StandardField == "" && cond.CustomField == "" {
		return nil, fmt.Errorf("profile condition names no field")
	}
	if cond.StandardField != "" && !models.IsStandardField(cond.StandardField) {
		return nil, fmt.Errorf("unknown standard field %q", cond.StandardField)
	}
	switch cond.Operator {
	case OpIsEqualTo, OpContains, OpDoesNotContain, OpStartsWith, OpEndsWith, OpIsEmpty, OpIsNotEmpty:
	default:
		return nil, fmt.Errorf("unknown profile operator %q", cond.Operator)
	}
	return cond, nil
}

// Evaluate compares case-insensitively.
func (c *ProfileCondition) Evaluate(ctx context.Context, user *models.User) (bool, error) {
	field := c.StandardField
	if field == "" {
		field = c.CustomField
	}
	got, err := c.resolver.Value(ctx, user, field)
	if err != nil {
		return false, err
	}
	got = strings.ToLower(strings.TrimSpace(got))
	want := strings.ToLower(strings.TrimSpace(c.Value))

	switch c.Operator {
	case OpIsEqualTo:
		return got == want, nil
	case OpContains:
		return strings.Contains(got, want), nil
	case OpDoesNotContain:
		return !strings.Contains(got, want), nil
	case OpStartsWith:
		return strings.HasPrefix(got, want), nil
	case OpEndsWith:
		return strings.HasSuffix(got, want), nil
	case OpIsEmpty:
		return got == "", nil
	default:
		return got != "", nil
	}
}
