package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Actions applied when an enrolment stops matching its rule or expires.
const (
	ActionKeep           = "KEEP"
	ActionUnenrol        = "UNENROL"
	ActionSuspend        = "SUSPEND"
	ActionSuspendNoRoles = "SUSPEND_NO_ROLES"
)

// Role retention policies for suspend-and-remove-roles.
const (
	RetainForAnyEnrolment = "ANY_ENROLMENT"
	RetainForSameRole     = "SAME_ROLE"
	RetainNever           = "NEVER"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Log       LogConfig
	Autoenrol AutoenrolConfig
	Batch     BatchConfig
	Scheduler SchedulerConfig
	Cache     InstanceCacheConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// JWTConfig configures the service tokens presented by the host platform.
type JWTConfig struct {
	Secret     string
	Issuer     string
	Audience   string
	Expiration time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

// AutoenrolConfig holds the plugin-level settings shared by every instance.
type AutoenrolConfig struct {
	Enabled             bool
	DefaultRoleID       string
	DefaultEnabled      bool
	DefaultNewEnrols    bool
	DefaultSelfUnenrol  bool
	DefaultEnrolPeriod  time.Duration
	RemoveGroups        bool
	UnenrolAction       string
	ExpiredAction       string
	RoleRetention       string
	AvailabilityPlugins []string
	SiteURL             string
	NoReplyAddress      string
	CourseContactRoles  []string
	GuestUsername       string
}

// BatchConfig bounds a single bulk sync or sweep run.
type BatchConfig struct {
	MaxDuration   time.Duration
	MemoryLimitMB int64
	CheckEvery    int
}

// SchedulerConfig toggles the recurring sync and sweep jobs.
type SchedulerConfig struct {
	Enabled       bool
	SyncInterval  time.Duration
	SweepInterval time.Duration
	Retries       int
}

// InstanceCacheConfig governs caching of the enabled instance list used at login.
type InstanceCacheConfig struct {
	Enabled bool
	TTL     time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Issuer:     v.GetString("JWT_ISSUER"),
		Audience:   v.GetString("JWT_AUDIENCE"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
	}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Autoenrol = AutoenrolConfig{
		Enabled:             v.GetBool("AUTOENROL_ENABLED"),
		DefaultRoleID:       v.GetString("AUTOENROL_DEFAULT_ROLE_ID"),
		DefaultEnabled:      v.GetBool("AUTOENROL_DEFAULT_STATUS"),
		DefaultNewEnrols:    v.GetBool("AUTOENROL_DEFAULT_NEW_ENROLS"),
		DefaultSelfUnenrol:  v.GetBool("AUTOENROL_DEFAULT_SELF_UNENROL"),
		DefaultEnrolPeriod:  parseDuration(v.GetString("AUTOENROL_DEFAULT_ENROL_PERIOD"), 0),
		RemoveGroups:        v.GetBool("AUTOENROL_REMOVE_GROUPS"),
		UnenrolAction:       oneOf(v.GetString("AUTOENROL_UNENROL_ACTION"), ActionUnenrol, ActionUnenrol, ActionSuspend, ActionSuspendNoRoles),
		ExpiredAction:       oneOf(v.GetString("AUTOENROL_EXPIRED_ACTION"), ActionSuspend, ActionKeep, ActionUnenrol, ActionSuspend, ActionSuspendNoRoles),
		RoleRetention:       oneOf(v.GetString("AUTOENROL_ROLE_RETENTION"), RetainForAnyEnrolment, RetainForAnyEnrolment, RetainForSameRole, RetainNever),
		AvailabilityPlugins: splitAndTrim(v.GetString("AUTOENROL_AVAILABILITY_PLUGINS")),
		SiteURL:             strings.TrimRight(v.GetString("AUTOENROL_SITE_URL"), "/"),
		NoReplyAddress:      v.GetString("AUTOENROL_NOREPLY_ADDRESS"),
		CourseContactRoles:  splitAndTrim(v.GetString("AUTOENROL_COURSE_CONTACT_ROLES")),
		GuestUsername:       v.GetString("AUTOENROL_GUEST_USERNAME"),
	}

	checkEvery := v.GetInt("SYNC_BUDGET_CHECK_EVERY")
	if checkEvery <= 0 {
		checkEvery = 100
	}
	cfg.Batch = BatchConfig{
		MaxDuration:   parseDuration(v.GetString("SYNC_MAX_DURATION"), 2*time.Hour),
		MemoryLimitMB: v.GetInt64("SYNC_MEMORY_LIMIT_MB"),
		CheckEvery:    checkEvery,
	}

	cfg.Scheduler = SchedulerConfig{
		Enabled:       v.GetBool("ENABLE_SCHEDULER"),
		SyncInterval:  parseDuration(v.GetString("SYNC_INTERVAL"), time.Hour),
		SweepInterval: parseDuration(v.GetString("SWEEP_INTERVAL"), 24*time.Hour),
		Retries:       v.GetInt("SCHEDULER_RETRIES"),
	}

	cfg.Cache = InstanceCacheConfig{
		Enabled: v.GetBool("INSTANCE_CACHE_ENABLED"),
		TTL:     parseDuration(v.GetString("INSTANCE_CACHE_TTL"), 5*time.Minute),
	}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "moodle")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "autoenrol")
	v.SetDefault("JWT_AUDIENCE", "autoenrol-host")
	v.SetDefault("JWT_EXPIRATION", "24h")

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("AUTOENROL_ENABLED", true)
	v.SetDefault("AUTOENROL_DEFAULT_ROLE_ID", "")
	v.SetDefault("AUTOENROL_DEFAULT_STATUS", true)
	v.SetDefault("AUTOENROL_DEFAULT_NEW_ENROLS", true)
	v.SetDefault("AUTOENROL_DEFAULT_SELF_UNENROL", false)
	v.SetDefault("AUTOENROL_DEFAULT_ENROL_PERIOD", "0s")
	v.SetDefault("AUTOENROL_REMOVE_GROUPS", true)
	v.SetDefault("AUTOENROL_UNENROL_ACTION", ActionUnenrol)
	v.SetDefault("AUTOENROL_EXPIRED_ACTION", ActionSuspend)
	v.SetDefault("AUTOENROL_ROLE_RETENTION", RetainForAnyEnrolment)
	v.SetDefault("AUTOENROL_AVAILABILITY_PLUGINS", "profile")
	v.SetDefault("AUTOENROL_SITE_URL", "http://localhost")
	v.SetDefault("AUTOENROL_NOREPLY_ADDRESS", "noreply@localhost")
	v.SetDefault("AUTOENROL_COURSE_CONTACT_ROLES", "editingteacher")
	v.SetDefault("AUTOENROL_GUEST_USERNAME", "guest")

	v.SetDefault("SYNC_MAX_DURATION", "2h")
	v.SetDefault("SYNC_MEMORY_LIMIT_MB", 1024)
	v.SetDefault("SYNC_BUDGET_CHECK_EVERY", 100)

	v.SetDefault("ENABLE_SCHEDULER", false)
	v.SetDefault("SYNC_INTERVAL", "1h")
	v.SetDefault("SWEEP_INTERVAL", "24h")
	v.SetDefault("SCHEDULER_RETRIES", 3)

	v.SetDefault("INSTANCE_CACHE_ENABLED", false)
	v.SetDefault("INSTANCE_CACHE_TTL", "5m")
}

func isMissingFile(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

// oneOf upper-cases raw and returns it when it is one of allowed, otherwise fallback.
func oneOf(raw, fallback string, allowed ...string) string {
	value := strings.ToUpper(strings.TrimSpace(raw))
	for _, a := range allowed {
		if value == a {
			return value
		}
	}
	return fallback
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
