package rules

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/noah-isme/autoenrol/internal/models"
)

// Factory builds a condition from its raw JSON.
type Factory func(raw json.RawMessage, resolver *Resolver) (Condition, error)

// Registry maps condition types to factories, gated by an allow-list.
type Registry struct {
	factories map[string]Factory
	allowed   map[string]bool
	resolver  *Resolver
	logger    *zap.Logger
}

// NewRegistry returns a registry with the built-in profile condition registered.
// Only types in allowed are evaluated; an empty list allows nothing.
func NewRegistry(resolver *Resolver, allowed []string, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		factories: make(map[string]Factory),
		allowed:   make(map[string]bool, len(allowed)),
		resolver:  resolver,
		logger:    logger,
	}
	for _, a := range allowed {
		r.allowed[a] = true
	}
	r.Register(ProfileConditionType, newProfileCondition)
	return r
}

// Register adds or replaces a factory.
func (r *Registry) Register(conditionType string, factory Factory) {
	r.factories[conditionType] = factory
}

// Build returns the condition for conditionType. Unknown or disallowed types
// yield a condition that never matches.
func (r *Registry) Build(conditionType string, raw json.RawMessage) (Condition, error) {
	factory, ok := r.factories[conditionType]
	if !ok || !r.allowed[conditionType] {
		r.logger.Warn("condition type not available, evaluating as false",
			zap.String("type", conditionType), zap.Bool("registered", ok))
		return denied{conditionType: conditionType}, nil
	}
	return factory(raw, r.resolver)
}

type denied struct {
	conditionType string
}

func (denied) Evaluate(context.Context, *models.User) (bool, error) { return false, nil }
