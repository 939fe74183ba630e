package main

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/autoenrol/internal/repository"
	"github.com/noah-isme/autoenrol/internal/rules"
	"github.com/noah-isme/autoenrol/internal/service"
	"github.com/noah-isme/autoenrol/pkg/cache"
	"github.com/noah-isme/autoenrol/pkg/config"
	"github.com/noah-isme/autoenrol/pkg/database"
	"github.com/noah-isme/autoenrol/pkg/logger"
)

// application holds the wired services shared by every command.
type application struct {
	cfg    *config.Config
	logger *zap.Logger
	db     *sqlx.DB
	redis  *redis.Client

	metrics   *service.MetricsService
	tokens    *service.TokenService
	sync      *service.SyncService
	sweep     *service.ExpirationService
	instances *service.InstanceService
	scheduler *service.SchedulerService
}

func newTokenService(cfg *config.Config) *service.TokenService {
	return service.NewTokenService(service.TokenConfig{
		Secret:   cfg.JWT.Secret,
		Issuer:   cfg.JWT.Issuer,
		Audience: cfg.JWT.Audience,
		TTL:      cfg.JWT.Expiration,
	})
}

func newApplication(ctx context.Context, cfg *config.Config, component string) (*application, error) {
	logr, err := logger.New(cfg, component)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		_ = logr.Sync()
		return nil, fmt.Errorf("connect database: %w", err)
	}

	redisClient, err := cache.NewRedis(ctx, cfg.Redis, cfg.Cache.Enabled)
	if err != nil {
		logr.Warn("redis unavailable, instance cache disabled", zap.Error(err))
		redisClient = nil
	}

	app := &application{cfg: cfg, logger: logr, db: db, redis: redisClient}
	app.wire()
	return app, nil
}

func (a *application) wire() {
	cfg := a.cfg
	plugin := cfg.Autoenrol

	instanceRepo := repository.NewInstanceRepository(a.db)
	enrolmentRepo := repository.NewUserEnrolmentRepository(a.db)
	userRepo := repository.NewUserRepository(a.db)
	profileRepo := repository.NewProfileRepository(a.db)
	groupRepo := repository.NewGroupRepository(a.db)
	roleRepo := repository.NewRoleRepository(a.db)
	courseRepo := repository.NewCourseRepository(a.db)
	outboxRepo := repository.NewOutboxRepository(a.db)

	a.metrics = service.NewMetricsService()
	a.tokens = newTokenService(cfg)

	var cacheRepo service.CacheRepository
	if a.redis != nil {
		cacheRepo = repository.NewCacheRepository(a.redis, "autoenrol")
	}
	cacheSvc := service.NewCacheService(cacheRepo, a.metrics, cfg.Cache.TTL, a.logger.Named("cache"), cfg.Cache.Enabled && cacheRepo != nil)

	resolver := rules.NewResolver(profileRepo)
	builder := rules.NewBuilder(resolver, rules.NewRegistry(resolver, plugin.AvailabilityPlugins, a.logger.Named("rules")))

	groups := service.NewGroupService(groupRepo, resolver, a.logger.Named("groups"))
	manager := service.NewEnrolmentManager(enrolmentRepo, roleRepo, groups, plugin.RoleRetention, a.logger.Named("enrolments"))
	messages := service.NewMessageService(courseRepo, roleRepo, userRepo, outboxRepo, a.logger.Named("messages"), service.MessageConfig{
		SiteURL:        plugin.SiteURL,
		NoReplyAddress: plugin.NoReplyAddress,
		ContactRoles:   plugin.CourseContactRoles,
	})

	a.sync = service.NewSyncService(instanceRepo, enrolmentRepo, userRepo, builder, manager, groups, messages, cacheSvc, a.metrics, a.logger.Named("sync"), service.SyncConfig{
		Enabled:       plugin.Enabled,
		GuestUsername: plugin.GuestUsername,
		UnenrolAction: plugin.UnenrolAction,
		Budget:        cfg.Batch,
	})

	expiry := service.NewExpiryProcessor(instanceRepo, enrolmentRepo, manager, messages, plugin.ExpiredAction, a.metrics, a.logger.Named("expiry"))
	a.sweep = service.NewExpirationService(instanceRepo, enrolmentRepo, manager, expiry, a.metrics, a.logger.Named("sweep"), service.ExpirationConfig{
		Enabled: plugin.Enabled,
		Budget:  cfg.Batch,
	})

	a.instances = service.NewInstanceService(instanceRepo, enrolmentRepo, roleRepo, userRepo, courseRepo, groups, manager, cacheSvc, validator.New(), a.logger.Named("instances"), plugin)
	a.scheduler = service.NewSchedulerService(a.sync, a.sweep, a.logger.Named("scheduler"), cfg.Scheduler)
}

func (a *application) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
	_ = a.logger.Sync()
}
