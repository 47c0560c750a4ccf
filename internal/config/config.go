package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	defaultServerPort       = 8000
	defaultServerTimeout    = 30 * time.Second
	defaultShutdownTimeout  = 30 * time.Second
	defaultDatabasePort     = 5432
	defaultMaxOpenConns     = 10
	defaultMaxIdleConns     = 2
	defaultConnMaxLifetime  = 5 * time.Minute
	defaultRedisURL         = "redis://localhost:6379/0"
	defaultCheckTimeout     = 2 * time.Second
	defaultRequestTimeout   = 5 * time.Second
	defaultSentinelKey      = "health_check"
	defaultSentinelTTL      = 10 * time.Second
	defaultBackupDir        = "backups"
	defaultDumpBinary       = "pg_dump"
	defaultDumpTimeout      = 30 * time.Minute
	defaultBackupSchedule   = "30 2 * * *"
	defaultLockTTL          = 2 * time.Minute
	defaultRetentionDays    = 30
	defaultSweepSchedule    = "0 3 * * *"
	defaultUploadTimeout    = 5 * time.Minute
	defaultUploadMaxRetries = 3
	defaultPprofPort        = 6060
	defaultOperatorRPS      = 2
	defaultOperatorBurst    = 5

	// StorageBackendS3 enables remote upload to an S3-compatible store.
	StorageBackendS3 = "s3"

	// LockBackendLocal guards backups with a file lock in the backup directory,
	// shared by every process on the host.
	LockBackendLocal = "local"
	// LockBackendRedis guards backups with a Redis lock shared by all instances.
	LockBackendRedis = "redis"
)

// Config is the complete siteops configuration. It is built once at process
// entry and passed down; nothing below the bootstrap reads the environment.
type Config struct {
	Debug     bool            `env:"APP_DEBUG" yaml:"debug"`
	Logging   LoggingConfig   `yaml:"logging"`
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Health    HealthConfig    `yaml:"health"`
	Backup    BackupConfig    `yaml:"backup"`
	Retention RetentionConfig `yaml:"retention"`
	Storage   StorageConfig   `yaml:"storage"`
	Profiling ProfilingConfig `yaml:"profiling"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `env:"LOG_LEVEL" yaml:"level"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `env:"SERVER_HOST"      yaml:"host"`
	Port            int           `env:"SERVER_PORT"      yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" yaml:"shutdown_timeout"`
	// OperatorRPS and OperatorBurst throttle the /api/v1 routes.
	OperatorRPS   int `env:"OPERATOR_RATE_LIMIT" yaml:"operator_rps"`
	OperatorBurst int `yaml:"operator_burst"`
}

// Address returns the listen address in host:port form.
func (c *ServerConfig) Address() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// AuthConfig holds operator authentication settings.
type AuthConfig struct {
	// JWTSecret signs operator tokens. Operator routes are disabled when empty.
	JWTSecret string `env:"AUTH_JWT_SECRET" yaml:"jwt_secret"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host            string        `env:"DB_HOST"    yaml:"host"`
	Port            int           `env:"DB_PORT"    yaml:"port"`
	User            string        `env:"DB_USER"    yaml:"user"`
	Password        string        `env:"DB_PASS"    yaml:"password"`
	DBName          string        `env:"DB_NAME"    yaml:"dbname"`
	SSLMode         string        `env:"DB_SSLMODE" yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// DSN returns the lib/pq key/value connection string. Every value is quoted
// so passwords with spaces, quotes or backslashes survive parsing.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		dsnQuote(c.Host), c.Port, dsnQuote(c.User), dsnQuote(c.Password),
		dsnQuote(c.DBName), dsnQuote(c.SSLMode),
	)
}

var dsnEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

func dsnQuote(v string) string {
	return "'" + dsnEscaper.Replace(v) + "'"
}

// DumpArgs returns the pg_dump connection arguments. The password is passed
// through PGPASSWORD, never on the command line.
func (c *DatabaseConfig) DumpArgs() []string {
	return []string{
		"-h", c.Host,
		"-p", strconv.Itoa(c.Port),
		"-U", c.User,
		"-d", c.DBName,
		"--no-password",
	}
}

// RedisConfig holds the cache connection URL.
type RedisConfig struct {
	URL string `env:"REDIS_URL" yaml:"url"`
}

// HealthConfig holds health probe settings.
type HealthConfig struct {
	CheckTimeout   time.Duration `env:"HEALTH_CHECK_TIMEOUT"   yaml:"check_timeout"`
	RequestTimeout time.Duration `env:"HEALTH_REQUEST_TIMEOUT" yaml:"request_timeout"`
	SentinelKey    string        `yaml:"sentinel_key"`
	SentinelTTL    time.Duration `yaml:"sentinel_ttl"`
}

// BackupConfig holds backup manager settings.
type BackupConfig struct {
	Dir          string        `env:"BACKUP_DIR"           yaml:"dir"`
	DumpBinary   string        `env:"PG_DUMP_PATH"         yaml:"dump_binary"`
	DumpTimeout  time.Duration `env:"BACKUP_DUMP_TIMEOUT"  yaml:"dump_timeout"`
	Schedule     string        `env:"BACKUP_SCHEDULE"      yaml:"schedule"`
	LockBackend  string        `env:"BACKUP_LOCK_BACKEND"  yaml:"lock_backend"`
	LockTTL      time.Duration `yaml:"lock_ttl"`
	ObjectPrefix string        `env:"BACKUP_OBJECT_PREFIX" yaml:"object_prefix"`
}

// RetentionConfig holds retention sweep settings.
type RetentionConfig struct {
	MaxAgeDays int    `env:"BACKUP_RETENTION_DAYS" yaml:"max_age_days"`
	Schedule   string `env:"BACKUP_SWEEP_SCHEDULE" yaml:"schedule"`
}

// StorageConfig holds remote object storage settings.
type StorageConfig struct {
	// Backend selects the remote store. Only "s3" enables uploads.
	Backend       string        `env:"MEDIA_BACKEND"    yaml:"backend"`
	Endpoint      string        `env:"S3_ENDPOINT"      yaml:"endpoint"`
	AccessKey     string        `env:"S3_ACCESS_KEY"    yaml:"access_key"`
	SecretKey     string        `env:"S3_SECRET_KEY"    yaml:"secret_key"`
	UseSSL        bool          `env:"S3_USE_SSL"       yaml:"use_ssl"`
	Bucket        string        `env:"S3_BUCKET"        yaml:"bucket"`
	Region        string        `env:"S3_REGION"        yaml:"region"`
	UploadTimeout time.Duration `env:"S3_UPLOAD_TIMEOUT" yaml:"upload_timeout"`
	MaxRetries    int           `yaml:"max_retries"`
}

// Enabled reports whether remote upload is configured.
func (c *StorageConfig) Enabled() bool {
	return c.Backend == StorageBackendS3
}

// ProfilingConfig holds optional profiling settings.
type ProfilingConfig struct {
	PprofEnabled       bool   `env:"ENABLE_PROFILING"            yaml:"pprof_enabled"`
	PprofPort          int    `env:"PPROF_PORT"                  yaml:"pprof_port"`
	PyroscopeEnabled   bool   `env:"ENABLE_CONTINUOUS_PROFILING" yaml:"pyroscope_enabled"`
	PyroscopeServerURL string `env:"PYROSCOPE_SERVER_URL"        yaml:"pyroscope_server_url"`
	Environment        string `env:"PYROSCOPE_ENVIRONMENT"       yaml:"environment"`
}

// LoadConfig loads the configuration from path (may be empty) and the environment.
func LoadConfig(path string) (*Config, error) {
	cfg, err := load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}

	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaultServerPort
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultServerTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultServerTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = defaultShutdownTimeout
	}
	if cfg.Server.OperatorRPS == 0 {
		cfg.Server.OperatorRPS = defaultOperatorRPS
	}
	if cfg.Server.OperatorBurst == 0 {
		cfg.Server.OperatorBurst = defaultOperatorBurst
	}

	setDatabaseDefaults(&cfg.Database)

	if cfg.Redis.URL == "" {
		cfg.Redis.URL = defaultRedisURL
	}

	if cfg.Health.CheckTimeout == 0 {
		cfg.Health.CheckTimeout = defaultCheckTimeout
	}
	if cfg.Health.RequestTimeout == 0 {
		cfg.Health.RequestTimeout = defaultRequestTimeout
	}
	if cfg.Health.SentinelKey == "" {
		cfg.Health.SentinelKey = defaultSentinelKey
	}
	if cfg.Health.SentinelTTL == 0 {
		cfg.Health.SentinelTTL = defaultSentinelTTL
	}

	setBackupDefaults(&cfg.Backup)

	if cfg.Retention.MaxAgeDays == 0 {
		cfg.Retention.MaxAgeDays = defaultRetentionDays
	}
	if cfg.Retention.Schedule == "" {
		cfg.Retention.Schedule = defaultSweepSchedule
	}

	if cfg.Storage.UploadTimeout == 0 {
		cfg.Storage.UploadTimeout = defaultUploadTimeout
	}
	if cfg.Storage.MaxRetries == 0 {
		cfg.Storage.MaxRetries = defaultUploadMaxRetries
	}

	if cfg.Profiling.PprofPort == 0 {
		cfg.Profiling.PprofPort = defaultPprofPort
	}
}

func setDatabaseDefaults(db *DatabaseConfig) {
	if db.Host == "" {
		db.Host = "localhost"
	}
	if db.Port == 0 {
		db.Port = defaultDatabasePort
	}
	if db.User == "" {
		db.User = "postgres"
	}
	if db.DBName == "" {
		db.DBName = "mysite"
	}
	if db.SSLMode == "" {
		db.SSLMode = "disable"
	}
	if db.MaxOpenConns == 0 {
		db.MaxOpenConns = defaultMaxOpenConns
	}
	if db.MaxIdleConns == 0 {
		db.MaxIdleConns = defaultMaxIdleConns
	}
	if db.ConnMaxLifetime == 0 {
		db.ConnMaxLifetime = defaultConnMaxLifetime
	}
}

func setBackupDefaults(b *BackupConfig) {
	if b.Dir == "" {
		b.Dir = defaultBackupDir
	}
	if b.DumpBinary == "" {
		b.DumpBinary = defaultDumpBinary
	}
	if b.DumpTimeout == 0 {
		b.DumpTimeout = defaultDumpTimeout
	}
	if b.Schedule == "" {
		b.Schedule = defaultBackupSchedule
	}
	if b.LockBackend == "" {
		b.LockBackend = LockBackendLocal
	}
	if b.LockTTL == 0 {
		b.LockTTL = defaultLockTTL
	}
}
