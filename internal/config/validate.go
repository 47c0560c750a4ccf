package config

import (
	"fmt"
	"strings"
)

const maxPort = 65535

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return &ValidationError{Field: field, Message: "is required"}
	}
	return nil
}

func validatePort(field string, port int) error {
	if port < 1 || port > maxPort {
		return &ValidationError{Field: field, Message: "must be between 1 and 65535"}
	}
	return nil
}

// Validate checks the configuration for values the core cannot run with.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return &ValidationError{Field: "logging.level", Message: "must be one of: debug, info, warn, error"}
	}

	if err := validatePort("server.port", c.Server.Port); err != nil {
		return err
	}
	if err := required("database.host", c.Database.Host); err != nil {
		return err
	}
	if err := validatePort("database.port", c.Database.Port); err != nil {
		return err
	}
	if err := required("database.user", c.Database.User); err != nil {
		return err
	}
	if err := required("database.dbname", c.Database.DBName); err != nil {
		return err
	}
	if err := required("redis.url", c.Redis.URL); err != nil {
		return err
	}
	if c.Health.CheckTimeout <= 0 {
		return &ValidationError{Field: "health.check_timeout", Message: "must be positive"}
	}

	if err := c.validateBackup(); err != nil {
		return err
	}

	if c.Retention.MaxAgeDays < 1 {
		return &ValidationError{Field: "retention.max_age_days", Message: "must be at least 1"}
	}

	return c.validateStorage()
}

func (c *Config) validateBackup() error {
	if err := required("backup.dir", c.Backup.Dir); err != nil {
		return err
	}
	if err := required("backup.dump_binary", c.Backup.DumpBinary); err != nil {
		return err
	}
	if c.Backup.DumpTimeout <= 0 {
		return &ValidationError{Field: "backup.dump_timeout", Message: "must be positive"}
	}
	switch c.Backup.LockBackend {
	case LockBackendLocal, LockBackendRedis:
	default:
		return &ValidationError{Field: "backup.lock_backend", Message: "must be one of: local, redis"}
	}
	return nil
}

func (c *Config) validateStorage() error {
	if !c.Storage.Enabled() {
		return nil
	}
	if err := required("storage.endpoint", c.Storage.Endpoint); err != nil {
		return err
	}
	if err := required("storage.access_key", c.Storage.AccessKey); err != nil {
		return err
	}
	if err := required("storage.secret_key", c.Storage.SecretKey); err != nil {
		return err
	}
	if err := required("storage.bucket", c.Storage.Bucket); err != nil {
		return err
	}
	if c.Storage.MaxRetries < 0 {
		return &ValidationError{Field: "storage.max_retries", Message: "must be non-negative"}
	}
	return nil
}
