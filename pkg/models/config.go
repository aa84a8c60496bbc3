package models

import "time"

// APIConfig holds the settings consumed by the transport.
type APIConfig struct {
	BaseURL   string `yaml:"base_url" mapstructure:"base_url"`
	TimeoutMS int    `yaml:"timeout_ms" mapstructure:"timeout_ms"`
	Retries   int    `yaml:"retries" mapstructure:"retries"`
	Token     string `yaml:"token,omitempty" mapstructure:"token"`
}

// Timeout returns the request timeout as a duration.
func (c APIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// SlackConfig holds Slack webhook settings.
type SlackConfig struct {
	WebhookURL string `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// NotificationConfig controls where notification intents are forwarded
// besides the local event log.
type NotificationConfig struct {
	Enabled bool        `yaml:"enabled" mapstructure:"enabled"`
	Slack   SlackConfig `yaml:"slack" mapstructure:"slack"`
}

// AlertConfig holds alert thresholds evaluated over the event log.
type AlertConfig struct {
	FailureRatePercent int `yaml:"failure_rate_percent" mapstructure:"failure_rate_percent"`
	MinMutations       int `yaml:"min_mutations" mapstructure:"min_mutations"`
	MaxRetries         int `yaml:"max_retries" mapstructure:"max_retries"`
}

// ClientConfig is the fully resolved configuration read from .tsyncconfig
// and TSYNC_* environment variables.
type ClientConfig struct {
	API           APIConfig          `yaml:"api" mapstructure:"api"`
	Debug         bool               `yaml:"debug" mapstructure:"debug"`
	RefreshCron   string             `yaml:"refresh_schedule,omitempty" mapstructure:"refresh_schedule"`
	Notifications NotificationConfig `yaml:"notifications" mapstructure:"notifications"`
	Alerts        AlertConfig        `yaml:"alerts" mapstructure:"alerts"`
}
