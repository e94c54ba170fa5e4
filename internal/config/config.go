/**
 * @description
 * This file handles configuration management for the renewal service.
 * It loads settings from environment variables (and an optional .env file),
 * providing defaults for cron schedules and batch tuning.
 */
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the renewal service.
type Config struct {
	ServerPort                string `mapstructure:"SERVER_PORT"`
	DatabaseURL               string `mapstructure:"DATABASE_URL"`
	RabbitMQURL               string `mapstructure:"RABBITMQ_URL"`
	NotificationExchange      string `mapstructure:"NOTIFICATION_EXCHANGE"`
	RedisURL                  string `mapstructure:"REDIS_URL"`
	RedisKeyPrefix            string `mapstructure:"REDIS_KEY_PREFIX"`
	CronSecret                string `mapstructure:"CRON_SECRET"`
	Timezone                  string `mapstructure:"APP_TIMEZONE"`
	RenewalJobSchedule        string `mapstructure:"RENEWAL_JOB_SCHEDULE"`
	ReminderJobSchedule       string `mapstructure:"REMINDER_JOB_SCHEDULE"`
	CancelFollowUpJobSchedule string `mapstructure:"CANCEL_FOLLOWUP_JOB_SCHEDULE"`
	CancelFollowUpAfterHours  int    `mapstructure:"CANCEL_FOLLOWUP_AFTER_HOURS"`
	BatchConcurrency          int    `mapstructure:"BATCH_CONCURRENCY"`
	TriggerRateLimitPerMinute int    `mapstructure:"TRIGGER_RATE_LIMIT_PER_MINUTE"`
	JobLockTTLSeconds         int    `mapstructure:"JOB_LOCK_TTL_SECONDS"`
	RunMigrations             bool   `mapstructure:"RUN_MIGRATIONS"`
	MetricsEnabled            bool   `mapstructure:"METRICS_ENABLED"`
	LogLevel                  string `mapstructure:"LOG_LEVEL"`
}

var keys = []string{
	"SERVER_PORT",
	"DATABASE_URL",
	"RABBITMQ_URL",
	"NOTIFICATION_EXCHANGE",
	"REDIS_URL",
	"REDIS_KEY_PREFIX",
	"CRON_SECRET",
	"APP_TIMEZONE",
	"RENEWAL_JOB_SCHEDULE",
	"REMINDER_JOB_SCHEDULE",
	"CANCEL_FOLLOWUP_JOB_SCHEDULE",
	"CANCEL_FOLLOWUP_AFTER_HOURS",
	"BATCH_CONCURRENCY",
	"TRIGGER_RATE_LIMIT_PER_MINUTE",
	"JOB_LOCK_TTL_SECONDS",
	"RUN_MIGRATIONS",
	"METRICS_ENABLED",
	"LOG_LEVEL",
}

// LoadConfig reads configuration from environment variables, falling back to
// a .env file in path when present.
func LoadConfig(path string) (*Config, error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("NOTIFICATION_EXCHANGE", "notification_events")
	viper.SetDefault("REDIS_KEY_PREFIX", "subsnooze")
	viper.SetDefault("APP_TIMEZONE", "UTC")
	viper.SetDefault("RENEWAL_JOB_SCHEDULE", "5 0 * * *")          // 00:05 daily, before reminders.
	viper.SetDefault("REMINDER_JOB_SCHEDULE", "0 9 * * *")         // 09:00 daily.
	viper.SetDefault("CANCEL_FOLLOWUP_JOB_SCHEDULE", "0 10 * * *") // 10:00 daily.
	viper.SetDefault("CANCEL_FOLLOWUP_AFTER_HOURS", 48)
	viper.SetDefault("BATCH_CONCURRENCY", 8)
	viper.SetDefault("TRIGGER_RATE_LIMIT_PER_MINUTE", 6)
	viper.SetDefault("JOB_LOCK_TTL_SECONDS", 900)
	viper.SetDefault("RUN_MIGRATIONS", true)
	viper.SetDefault("METRICS_ENABLED", true)
	viper.SetDefault("LOG_LEVEL", "info")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	for _, key := range keys {
		_ = viper.BindEnv(key)
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	config.DatabaseURL = strings.TrimSpace(config.DatabaseURL)
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.CronSecret = strings.TrimSpace(config.CronSecret)
	config.RedisKeyPrefix = strings.TrimSuffix(strings.TrimSpace(config.RedisKeyPrefix), ":")
	if config.RedisKeyPrefix == "" {
		config.RedisKeyPrefix = "subsnooze"
	}

	if err := config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL must be set")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("APP_TIMEZONE %q: %w", c.Timezone, err)
	}
	if c.BatchConcurrency < 1 {
		return fmt.Errorf("BATCH_CONCURRENCY must be at least 1, got %d", c.BatchConcurrency)
	}
	if c.CancelFollowUpAfterHours < 1 {
		return fmt.Errorf("CANCEL_FOLLOWUP_AFTER_HOURS must be at least 1, got %d", c.CancelFollowUpAfterHours)
	}
	return nil
}

// Location returns the default calendar timezone, used for users without a
// valid timezone of their own and for cron schedules.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// CancelFollowUpAfter is the delay before an unverified cancellation is followed up.
func (c *Config) CancelFollowUpAfter() time.Duration {
	return time.Duration(c.CancelFollowUpAfterHours) * time.Hour
}

// JobLockTTL bounds how long a crashed job run can hold its lock.
func (c *Config) JobLockTTL() time.Duration {
	if c.JobLockTTLSeconds <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(c.JobLockTTLSeconds) * time.Second
}
