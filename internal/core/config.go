// Package core contains the business logic for tasksync: the task cache and
// optimistic mutation engine, view derivation, payload validation,
// configuration and scheduled refresh.
package core

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"github.com/valter-silva-au/tasksync/pkg/models"
)

// Bounds for the API settings. Values outside them are rejected rather than
// clamped.
const (
	MinTimeoutMS = 1000
	MaxTimeoutMS = 60000
	MaxRetries   = 5
)

// ConfigFileName is the base name of the YAML configuration file.
const ConfigFileName = ".tsyncconfig"

// ConfigurationManager loads and validates the client configuration.
type ConfigurationManager interface {
	LoadConfig() (*models.ClientConfig, error)
	ValidateConfig(cfg *models.ClientConfig) error
}

// viperConfigManager reads .tsyncconfig from basePath with TSYNC_*
// environment overrides.
type viperConfigManager struct {
	basePath string
}

// NewConfigurationManager creates a ConfigurationManager that reads
// configuration relative to basePath.
func NewConfigurationManager(basePath string) ConfigurationManager {
	return &viperConfigManager{basePath: basePath}
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() *models.ClientConfig {
	return &models.ClientConfig{
		API: models.APIConfig{
			BaseURL:   "http://localhost:8080",
			TimeoutMS: 10000,
			Retries:   2,
		},
		Notifications: models.NotificationConfig{Enabled: true},
		Alerts: models.AlertConfig{
			FailureRatePercent: 50,
			MinMutations:       5,
			MaxRetries:         20,
		},
	}
}

// LoadConfig reads the configuration file if present, applies environment
// overrides, and validates the result.
func (cm *viperConfigManager) LoadConfig() (*models.ClientConfig, error) {
	def := DefaultConfig()

	v := viper.New()
	v.SetConfigName(ConfigFileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(cm.basePath)
	v.SetEnvPrefix("TSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("api.base_url", def.API.BaseURL)
	v.SetDefault("api.timeout_ms", def.API.TimeoutMS)
	v.SetDefault("api.retries", def.API.Retries)
	v.SetDefault("api.token", "")
	v.SetDefault("debug", false)
	v.SetDefault("refresh.schedule", "")
	v.SetDefault("notifications.enabled", def.Notifications.Enabled)
	v.SetDefault("notifications.slack.webhook_url", "")
	v.SetDefault("alerts.failure_rate_percent", def.Alerts.FailureRatePercent)
	v.SetDefault("alerts.min_mutations", def.Alerts.MinMutations)
	v.SetDefault("alerts.max_retries", def.Alerts.MaxRetries)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading %s: %w", ConfigFileName, err)
		}
	}

	cfg := &models.ClientConfig{
		API: models.APIConfig{
			BaseURL:   strings.TrimSpace(v.GetString("api.base_url")),
			TimeoutMS: v.GetInt("api.timeout_ms"),
			Retries:   v.GetInt("api.retries"),
			Token:     v.GetString("api.token"),
		},
		Debug:       v.GetBool("debug"),
		RefreshCron: strings.TrimSpace(v.GetString("refresh.schedule")),
		Notifications: models.NotificationConfig{
			Enabled: v.GetBool("notifications.enabled"),
			Slack: models.SlackConfig{
				WebhookURL: v.GetString("notifications.slack.webhook_url"),
			},
		},
		Alerts: models.AlertConfig{
			FailureRatePercent: v.GetInt("alerts.failure_rate_percent"),
			MinMutations:       v.GetInt("alerts.min_mutations"),
			MaxRetries:         v.GetInt("alerts.max_retries"),
		},
	}

	if err := cm.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ValidateConfig reports every out-of-range value at once.
func (cm *viperConfigManager) ValidateConfig(cfg *models.ClientConfig) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	var errs []string

	if cfg.API.BaseURL == "" {
		errs = append(errs, "api.base_url must not be empty")
	} else if u, err := url.Parse(cfg.API.BaseURL); err != nil ||
		(u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Sprintf("api.base_url %q must be an absolute http(s) URL", cfg.API.BaseURL))
	}

	if cfg.API.TimeoutMS < MinTimeoutMS || cfg.API.TimeoutMS > MaxTimeoutMS {
		errs = append(errs, fmt.Sprintf(
			"api.timeout_ms %d is invalid, must be between %d and %d",
			cfg.API.TimeoutMS, MinTimeoutMS, MaxTimeoutMS,
		))
	}

	if cfg.API.Retries < 0 || cfg.API.Retries > MaxRetries {
		errs = append(errs, fmt.Sprintf(
			"api.retries %d is invalid, must be between 0 and %d",
			cfg.API.Retries, MaxRetries,
		))
	}

	if cfg.RefreshCron != "" {
		if _, err := cron.ParseStandard(cfg.RefreshCron); err != nil {
			errs = append(errs, fmt.Sprintf("refresh.schedule %q is invalid: %v", cfg.RefreshCron, err))
		}
	}

	if cfg.Alerts.FailureRatePercent < 0 || cfg.Alerts.FailureRatePercent > 100 {
		errs = append(errs, fmt.Sprintf(
			"alerts.failure_rate_percent %d is invalid, must be between 0 and 100",
			cfg.Alerts.FailureRatePercent,
		))
	}
	if cfg.Alerts.MinMutations < 0 {
		errs = append(errs, fmt.Sprintf("alerts.min_mutations must be non-negative, got %d", cfg.Alerts.MinMutations))
	}
	if cfg.Alerts.MaxRetries < 0 {
		errs = append(errs, fmt.Sprintf("alerts.max_retries must be non-negative, got %d", cfg.Alerts.MaxRetries))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
