// Package config loads the flywheel service configuration.
//
// Values come from a YAML file (CONFIG_PATH, default config.yml), then from
// .env files and process environment variables declared with `env` tags, and
// finally from built-in defaults for anything left unset.
package config

import (
	"fmt"
	"strconv"
	"time"
)

// Default service configuration values.
const (
	defaultServiceName    = "flywheel"
	defaultServiceVersion = "1.0.0"
	defaultServicePort    = 8095
	defaultLogLevel       = "info"
	defaultLogFormat      = "json"
)

// Default database configuration values.
const (
	defaultDBHost         = "localhost"
	defaultDBPort         = 5432
	defaultDBUser         = "postgres"
	defaultDBName         = "flywheel"
	defaultDBSSLMode      = "disable"
	defaultDBMaxConns     = 10
	defaultDBMaxIdleConns = 5
	defaultDBConnLifetime = 5 * time.Minute
)

// Default task schedules.
const (
	DefaultFeeCollectionCron = "0 */6 * * *"
	DefaultBuybackCron       = "30 */6 * * *"
	DefaultMarketcapCron     = "*/15 * * * *"
	DefaultDiscoveryCron     = "0 * * * *"
	DefaultRetryCron         = "*/5 * * * *"
)

// Default retry queue values.
const (
	DefaultMaxRetries        = 5
	DefaultBackoffBase       = 60 * time.Second
	DefaultBackoffCap        = 3600 * time.Second
	DefaultBackoffMultiplier = 2
	DefaultBatchSize         = 10
	DefaultItemDelay         = time.Second
	DefaultCleanupAfterDays  = 7
	DefaultStaleProcessing   = 15 * time.Minute
	DefaultFallbackDir       = "data/retry-fallback"
)

// Default gateway and flywheel values.
const (
	defaultGatewayURL       = "http://localhost:8899"
	defaultGatewayTimeout   = 60 * time.Second
	defaultGatewayAttempts  = 3
	defaultBreakerThreshold = 5
	defaultBreakerTimeout   = time.Minute
	defaultMinBuybackSOL    = 0.01
	defaultSOLReserve       = 0.05
	defaultSlippageBps      = 100
	defaultMaxPoolsPerRound = 10
	defaultRedisChannel     = "flywheel:operations"
)

// Config holds the application configuration.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Logging   LoggingConfig   `yaml:"logging"`
	Auth      AuthConfig      `yaml:"auth"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Flywheel  FlywheelConfig  `yaml:"flywheel"`
	Retry     RetryConfig     `yaml:"retry"`
}

// ServiceConfig holds service identity and runtime settings.
type ServiceConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	Port    int    `env:"FLYWHEEL_PORT" yaml:"port"`
	Debug   bool   `env:"APP_DEBUG"     yaml:"debug"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host                  string        `env:"POSTGRES_FLYWHEEL_HOST"     yaml:"host"`
	Port                  int           `env:"POSTGRES_FLYWHEEL_PORT"     yaml:"port"`
	User                  string        `env:"POSTGRES_FLYWHEEL_USER"     yaml:"user"`
	Password              string        `env:"POSTGRES_FLYWHEEL_PASSWORD" yaml:"password"` //nolint:gosec // DB connection config
	Database              string        `env:"POSTGRES_FLYWHEEL_DB"       yaml:"database"`
	SSLMode               string        `yaml:"sslmode"`
	MaxConnections        int           `yaml:"max_connections"`
	MaxIdleConns          int           `yaml:"max_idle_connections"`
	ConnectionMaxLifetime time.Duration `yaml:"connection_max_lifetime"`
}

// DSN returns the lib/pq connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode)
}

// URL returns the postgres:// form used by golang-migrate.
func (d *DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=%s",
		d.User, d.Password, d.Host+":"+strconv.Itoa(d.Port), d.Database, d.SSLMode)
}

// RedisConfig holds Redis settings for the outcome event publisher.
// An empty Address disables publishing.
type RedisConfig struct {
	Address  string `env:"REDIS_ADDRESS"  yaml:"address"`
	Password string `env:"REDIS_PASSWORD" yaml:"password"` //nolint:gosec // Redis auth config
	DB       int    `env:"REDIS_DB"       yaml:"db"`
	Channel  string `yaml:"channel"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL"  yaml:"level"`
	Format string `env:"LOG_FORMAT" yaml:"format"`
}

// AuthConfig holds authentication settings for the action endpoints.
type AuthConfig struct {
	JWTSecret string `env:"AUTH_JWT_SECRET" yaml:"jwt_secret"` //nolint:gosec // JWT signing secret
}

// GatewayConfig configures the HTTP chain gateway that signs and submits transactions.
type GatewayConfig struct {
	URL              string        `env:"CHAIN_GATEWAY_URL"     yaml:"url"`
	APIKey           string        `env:"CHAIN_GATEWAY_API_KEY" yaml:"api_key"` //nolint:gosec // gateway credential
	Timeout          time.Duration `yaml:"timeout"`
	RetryAttempts    int           `yaml:"retry_attempts"`
	BreakerThreshold int           `yaml:"breaker_threshold"`
	BreakerTimeout   time.Duration `yaml:"breaker_timeout"`
	RateLimitRPS     int           `yaml:"rate_limit_rps"` // zero is unlimited
}

// TaskSchedule is the cron line for one scheduled task.
type TaskSchedule struct {
	Cron     string `yaml:"cron"`
	Disabled bool   `yaml:"disabled"`
}

// SchedulerConfig holds the schedule of every recurring task.
type SchedulerConfig struct {
	FeeCollection TaskSchedule `yaml:"fee_collection"`
	Buyback       TaskSchedule `yaml:"buyback"`
	Marketcap     TaskSchedule `yaml:"marketcap"`
	Discovery     TaskSchedule `yaml:"discovery"`
	Retry         TaskSchedule `yaml:"retry"`
}

// FlywheelConfig holds business knobs for the buyback and burn cycle.
type FlywheelConfig struct {
	PlatformTokenMint  string  `env:"PLATFORM_TOKEN_MINT"  yaml:"platform_token_mint"`
	BurnAfterBuyback   bool    `env:"BURN_AFTER_BUYBACK"   yaml:"burn_after_buyback"`
	MinBuybackSOL      float64 `yaml:"min_buyback_sol"`
	SOLReserve         float64 `yaml:"sol_reserve"`
	SlippageBps        int     `yaml:"slippage_bps"`
	MaxPoolsPerBuyback int     `yaml:"max_pools_per_buyback"`
}

// RetryConfig holds retry queue settings.
type RetryConfig struct {
	MaxRetries           int           `env:"RETRY_MAX_RETRIES"        yaml:"max_retries"`
	BackoffBase          time.Duration `yaml:"backoff_base"`
	BackoffCap           time.Duration `yaml:"backoff_cap"`
	BackoffMultiplier    float64       `env:"RETRY_BACKOFF_MULTIPLIER" yaml:"backoff_multiplier"`
	BatchSize            int           `yaml:"batch_size"`
	ItemDelay            time.Duration `yaml:"item_delay"`
	CleanupAfterDays     int           `yaml:"cleanup_after_days"`
	StaleProcessingAfter time.Duration `yaml:"stale_processing_after"`
	FallbackDir          string        `env:"RETRY_FALLBACK_DIR"       yaml:"fallback_dir"`
}

// Load loads configuration from a YAML file, applies env overrides, defaults, then validates.
func Load(path string) (*Config, error) {
	cfg, loadErr := loadFile(path, setDefaults)
	if loadErr != nil {
		return nil, fmt.Errorf("load config: %w", loadErr)
	}

	if validateErr := cfg.Validate(); validateErr != nil {
		return nil, fmt.Errorf("validate config: %w", validateErr)
	}

	return cfg, nil
}

// Validate checks that the configuration is usable.
// Cron expressions are not checked here: an invalid one only disables its task.
func (c *Config) Validate() error {
	if err := ValidatePort("service.port", c.Service.Port); err != nil {
		return err
	}
	if c.Database.Host == "" {
		return &ValidationError{Field: "database.host", Message: "is required"}
	}
	if c.Database.Database == "" {
		return &ValidationError{Field: "database.database", Message: "is required"}
	}
	if err := ValidateLogLevel(c.Logging.Level); err != nil {
		return err
	}
	if c.Retry.MaxRetries < 1 {
		return &ValidationError{Field: "retry.max_retries", Message: "must be at least 1"}
	}
	if c.Retry.BackoffMultiplier < 1 {
		return &ValidationError{Field: "retry.backoff_multiplier", Message: "must be at least 1"}
	}
	if c.Retry.BackoffCap < c.Retry.BackoffBase {
		return &ValidationError{Field: "retry.backoff_cap", Message: "must not be below retry.backoff_base"}
	}
	if err := ValidateNonNegative("flywheel.min_buyback_sol", c.Flywheel.MinBuybackSOL); err != nil {
		return err
	}
	if err := ValidateNonNegative("flywheel.sol_reserve", c.Flywheel.SOLReserve); err != nil {
		return err
	}
	if c.Flywheel.SlippageBps < 0 || c.Flywheel.SlippageBps > maxSlippageBps {
		return &ValidationError{Field: "flywheel.slippage_bps", Message: "must be between 0 and 10000"}
	}
	return nil
}

const maxSlippageBps = 10000

func setDefaults(cfg *Config) {
	setServiceDefaults(&cfg.Service)
	setDatabaseDefaults(&cfg.Database)
	setLoggingDefaults(&cfg.Logging)
	setGatewayDefaults(&cfg.Gateway)
	setSchedulerDefaults(&cfg.Scheduler)
	setFlywheelDefaults(&cfg.Flywheel)
	setRetryDefaults(&cfg.Retry)

	if cfg.Redis.Channel == "" {
		cfg.Redis.Channel = defaultRedisChannel
	}
}

func setServiceDefaults(s *ServiceConfig) {
	if s.Name == "" {
		s.Name = defaultServiceName
	}
	if s.Version == "" {
		s.Version = defaultServiceVersion
	}
	if s.Port == 0 {
		s.Port = defaultServicePort
	}
}

func setDatabaseDefaults(d *DatabaseConfig) {
	if d.Host == "" {
		d.Host = defaultDBHost
	}
	if d.Port == 0 {
		d.Port = defaultDBPort
	}
	if d.User == "" {
		d.User = defaultDBUser
	}
	if d.Database == "" {
		d.Database = defaultDBName
	}
	if d.SSLMode == "" {
		d.SSLMode = defaultDBSSLMode
	}
	if d.MaxConnections == 0 {
		d.MaxConnections = defaultDBMaxConns
	}
	if d.MaxIdleConns == 0 {
		d.MaxIdleConns = defaultDBMaxIdleConns
	}
	if d.ConnectionMaxLifetime == 0 {
		d.ConnectionMaxLifetime = defaultDBConnLifetime
	}
}

func setLoggingDefaults(l *LoggingConfig) {
	if l.Level == "" {
		l.Level = defaultLogLevel
	}
	if l.Format == "" {
		l.Format = defaultLogFormat
	}
}

func setGatewayDefaults(g *GatewayConfig) {
	if g.URL == "" {
		g.URL = defaultGatewayURL
	}
	if g.Timeout == 0 {
		g.Timeout = defaultGatewayTimeout
	}
	if g.RetryAttempts == 0 {
		g.RetryAttempts = defaultGatewayAttempts
	}
	if g.BreakerThreshold == 0 {
		g.BreakerThreshold = defaultBreakerThreshold
	}
	if g.BreakerTimeout == 0 {
		g.BreakerTimeout = defaultBreakerTimeout
	}
}

func setSchedulerDefaults(s *SchedulerConfig) {
	defaultCron(&s.FeeCollection, DefaultFeeCollectionCron)
	defaultCron(&s.Buyback, DefaultBuybackCron)
	defaultCron(&s.Marketcap, DefaultMarketcapCron)
	defaultCron(&s.Discovery, DefaultDiscoveryCron)
	defaultCron(&s.Retry, DefaultRetryCron)
}

func defaultCron(t *TaskSchedule, expr string) {
	if t.Cron == "" {
		t.Cron = expr
	}
}

func setFlywheelDefaults(f *FlywheelConfig) {
	if f.MinBuybackSOL == 0 {
		f.MinBuybackSOL = defaultMinBuybackSOL
	}
	if f.SOLReserve == 0 {
		f.SOLReserve = defaultSOLReserve
	}
	if f.SlippageBps == 0 {
		f.SlippageBps = defaultSlippageBps
	}
	if f.MaxPoolsPerBuyback == 0 {
		f.MaxPoolsPerBuyback = defaultMaxPoolsPerRound
	}
}

func setRetryDefaults(r *RetryConfig) {
	if r.MaxRetries == 0 {
		r.MaxRetries = DefaultMaxRetries
	}
	if r.BackoffBase == 0 {
		r.BackoffBase = DefaultBackoffBase
	}
	if r.BackoffCap == 0 {
		r.BackoffCap = DefaultBackoffCap
	}
	if r.BackoffMultiplier == 0 {
		r.BackoffMultiplier = DefaultBackoffMultiplier
	}
	if r.BatchSize == 0 {
		r.BatchSize = DefaultBatchSize
	}
	if r.ItemDelay == 0 {
		r.ItemDelay = DefaultItemDelay
	}
	if r.CleanupAfterDays == 0 {
		r.CleanupAfterDays = DefaultCleanupAfterDays
	}
	if r.StaleProcessingAfter == 0 {
		r.StaleProcessingAfter = DefaultStaleProcessing
	}
	if r.FallbackDir == "" {
		r.FallbackDir = DefaultFallbackDir
	}
}
