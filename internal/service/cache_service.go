package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/autoenrol/internal/models"
	appErrors "github.com/noah-isme/autoenrol/pkg/errors"
)

const enabledInstancesKey = "instances:enabled"

// CacheRepository abstracts persistence for cached payloads.
type CacheRepository interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// CacheService keeps the enabled instance list warm for the login path.
// Cache failures are logged and fall through to the loader.
type CacheService struct {
	repo    CacheRepository
	metrics *MetricsService
	ttl     time.Duration
	logger  *zap.Logger
	enabled bool
}

// NewCacheService constructs a cache service.
func NewCacheService(repo CacheRepository, metrics *MetricsService, ttl time.Duration, logger *zap.Logger, enabled bool) *CacheService {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheService{repo: repo, metrics: metrics, ttl: ttl, logger: logger, enabled: enabled}
}

// Enabled indicates whether caching is active.
func (s *CacheService) Enabled() bool {
	return s != nil && s.enabled && s.repo != nil
}

// EnabledInstances returns the cached list or loads and stores it.
func (s *CacheService) EnabledInstances(ctx context.Context, load func(context.Context) ([]models.EnrolmentInstance, error)) ([]models.EnrolmentInstance, error) {
	if !s.Enabled() {
		return load(ctx)
	}

	var cached []models.EnrolmentInstance
	err := s.repo.Get(ctx, enabledInstancesKey, &cached)
	switch {
	case err == nil:
		s.metrics.RecordCacheLookup(true)
		return cached, nil
	case errors.Is(err, appErrors.ErrCacheMiss):
		s.metrics.RecordCacheLookup(false)
	default:
		s.metrics.RecordCacheLookup(false)
		s.logger.Warn("instance cache read failed", zap.Error(err))
	}

	instances, err := load(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Set(ctx, enabledInstancesKey, instances, s.ttl); err != nil {
		s.logger.Warn("instance cache write failed", zap.Error(err))
	}
	return instances, nil
}

// InvalidateInstances drops the cached list after an instance changes.
func (s *CacheService) InvalidateInstances(ctx context.Context) {
	if !s.Enabled() {
		return
	}
	if err := s.repo.Delete(ctx, enabledInstancesKey); err != nil {
		s.logger.Warn("instance cache invalidate failed", zap.Error(err))
	}
}
