// Package rules decides whether a user satisfies an enrol instance's membership rule.
package rules

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/noah-isme/autoenrol/internal/models"
	appErrors "github.com/noah-isme/autoenrol/pkg/errors"
)

// Evaluator is implemented by every rule representation.
type Evaluator interface {
	Matches(ctx context.Context, user *models.User) (bool, error)
}

// Unconditional matches every user.
type Unconditional struct{}

func (Unconditional) Matches(context.Context, *models.User) (bool, error) { return true, nil }

// Builder turns stored rule definitions into evaluators.
type Builder struct {
	resolver *Resolver
	registry *Registry
}

// NewBuilder wires the resolver used by legacy rules and the condition registry used by trees.
func NewBuilder(resolver *Resolver, registry *Registry) *Builder {
	return &Builder{resolver: resolver, registry: registry}
}

// ForInstance returns the evaluator for the instance's stored rule. A broken
// definition is a configuration error, not a mismatch. An untagged non-empty
// definition is read as a tree.
func (b *Builder) ForInstance(instance *models.EnrolmentInstance) (Evaluator, error) {
	if instance == nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidInstance, "nil enrol instance")
	}
	if !instance.RuleDefinition.Valid || isEmptyDefinition(instance.RuleDefinition.JSONText) {
		return Unconditional{}, nil
	}

	switch instance.RuleKind {
	case models.RuleKindLegacy:
		var def LegacyDefinition
		if err := json.Unmarshal(instance.RuleDefinition.JSONText, &def); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInvalidInstance.Code, appErrors.ErrInvalidInstance.Status,
				fmt.Sprintf("decode legacy rule for instance %s", instance.ID))
		}
		return NewLegacyFieldMatch(def, b.resolver), nil
	case models.RuleKindNone, models.RuleKindTree:
		tree, err := ParseTree(json.RawMessage(instance.RuleDefinition.JSONText), b.registry)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInvalidInstance.Code, appErrors.ErrInvalidInstance.Status,
				fmt.Sprintf("parse rule tree for instance %s", instance.ID))
		}
		return tree, nil
	default:
		return nil, appErrors.Clone(appErrors.ErrInvalidInstance, fmt.Sprintf("unknown rule kind %q on instance %s", instance.RuleKind, instance.ID))
	}
}

func isEmptyDefinition(raw []byte) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) || bytes.Equal(trimmed, []byte("{}"))
}
