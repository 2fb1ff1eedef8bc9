// Package config provides YAML-based configuration loading for Intake.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// DefaultModels is the model fallback order used when service.models is empty.
var DefaultModels = []string{"gpt-4o", "gpt-4o-mini", "gpt-4-turbo"}

// Config is the top-level Intake configuration, loaded from intake.yaml.
type Config struct {
	Owner     string          `yaml:"owner"`
	Database  DatabaseConfig  `yaml:"database"`
	Service   ServiceConfig   `yaml:"service"`
	Interview InterviewConfig `yaml:"interview"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Notify    NotifyConfig    `yaml:"notify"`
}

// DatabaseConfig selects and locates the session store.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "mysql"
	Path   string `yaml:"path"`   // sqlite file
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	Name   string `yaml:"name"`
}

// ServiceConfig holds connection settings for the remote reasoning service.
type ServiceConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	OAuth   OAuthConfig   `yaml:"oauth"`
	Timeout time.Duration `yaml:"timeout"`
	Models  []string      `yaml:"models"`
}

// OAuthConfig enables client-credentials auth against the reasoning service.
type OAuthConfig struct {
	TokenURL     string   `yaml:"token_url"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	Scopes       []string `yaml:"scopes"`
}

// Enabled reports whether client-credentials auth is configured.
func (o OAuthConfig) Enabled() bool {
	return o.ClientID != "" && o.TokenURL != ""
}

// InterviewConfig tunes the termination policy and retry engine.
type InterviewConfig struct {
	MinimumQuestionsBeforeReady int           `yaml:"minimum_questions_before_ready"`
	MaxTotalQuestions           int           `yaml:"max_total_questions"`
	AskMoreMaxQuestions         int           `yaml:"ask_more_max_questions"`
	BaselineConfidence          int           `yaml:"baseline_confidence"`
	TargetConfidence            int           `yaml:"target_confidence"`
	AskMoreTargetConfidence     int           `yaml:"ask_more_target_confidence"`
	RetryAttempts               int           `yaml:"retry_attempts"`
	RetryBaseDelay              time.Duration `yaml:"retry_base_delay"`
}

// DashboardConfig holds HTTP API settings.
type DashboardConfig struct {
	Port int `yaml:"port"`
}

// ArchiveConfig controls the idle-session archive sweep.
type ArchiveConfig struct {
	Schedule string        `yaml:"schedule"` // 5-field cron expression
	After    time.Duration `yaml:"after"`
}

// NotifyConfig configures completion notices to a chat channel.
type NotifyConfig struct {
	Platform  string `yaml:"platform"` // "", "slack" or "discord"
	BotToken  string `yaml:"bot_token"`
	ChannelID string `yaml:"channel_id"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		c.Database.Path = "intake.db"
	}
	if c.Database.Driver == "mysql" {
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 3306
		}
		if c.Database.Name == "" && c.Owner != "" {
			c.Database.Name = "intake_" + c.Owner
		}
	}

	if c.Service.Timeout == 0 {
		c.Service.Timeout = 60 * time.Second
	}
	if len(c.Service.Models) == 0 {
		c.Service.Models = append([]string(nil), DefaultModels...)
	}

	iv := &c.Interview
	if iv.MinimumQuestionsBeforeReady == 0 {
		iv.MinimumQuestionsBeforeReady = 2
	}
	if iv.MaxTotalQuestions == 0 {
		iv.MaxTotalQuestions = 11
	}
	if iv.AskMoreMaxQuestions == 0 {
		iv.AskMoreMaxQuestions = 5
	}
	if iv.BaselineConfidence == 0 {
		iv.BaselineConfidence = 85
	}
	if iv.TargetConfidence == 0 {
		iv.TargetConfidence = 90
	}
	if iv.AskMoreTargetConfidence == 0 {
		iv.AskMoreTargetConfidence = 95
	}
	if iv.RetryAttempts == 0 {
		iv.RetryAttempts = 3
	}
	if iv.RetryBaseDelay == 0 {
		iv.RetryBaseDelay = time.Second
	}

	if c.Dashboard.Port == 0 {
		c.Dashboard.Port = 8080
	}
	if c.Archive.Schedule == "" {
		c.Archive.Schedule = "*/15 * * * *"
	}
	if c.Archive.After == 0 {
		c.Archive.After = 24 * time.Hour
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Owner == "" {
		errs = append(errs, "owner is required")
	}
	if c.Service.BaseURL == "" {
		errs = append(errs, "service.base_url is required")
	}

	switch c.Database.Driver {
	case "sqlite":
	case "mysql":
		if c.Database.Name == "" {
			errs = append(errs, "database.name is required for mysql")
		}
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q is not supported (sqlite, mysql)", c.Database.Driver))
	}

	if o := c.Service.OAuth; o.ClientID != "" && o.TokenURL == "" {
		errs = append(errs, "service.oauth.token_url is required when client_id is set")
	}

	iv := c.Interview
	for _, pct := range []struct {
		name  string
		value int
	}{
		{"baseline_confidence", iv.BaselineConfidence},
		{"target_confidence", iv.TargetConfidence},
		{"ask_more_target_confidence", iv.AskMoreTargetConfidence},
	} {
		if pct.value < 0 || pct.value > 100 {
			errs = append(errs, fmt.Sprintf("interview.%s must be between 0 and 100", pct.name))
		}
	}
	if iv.MinimumQuestionsBeforeReady < 0 {
		errs = append(errs, "interview.minimum_questions_before_ready must not be negative")
	}
	if iv.MinimumQuestionsBeforeReady > iv.MaxTotalQuestions {
		errs = append(errs, "interview.minimum_questions_before_ready exceeds max_total_questions")
	}
	if iv.AskMoreMaxQuestions > iv.MaxTotalQuestions {
		errs = append(errs, "interview.ask_more_max_questions exceeds max_total_questions")
	}
	if iv.RetryAttempts < 1 {
		errs = append(errs, "interview.retry_attempts must be at least 1")
	}
	if iv.RetryBaseDelay < 0 {
		errs = append(errs, "interview.retry_base_delay must not be negative")
	}

	if _, err := cron.ParseStandard(c.Archive.Schedule); err != nil {
		errs = append(errs, fmt.Sprintf("archive.schedule %q: %v", c.Archive.Schedule, err))
	}

	switch c.Notify.Platform {
	case "":
	case "slack", "discord":
		if c.Notify.BotToken == "" {
			errs = append(errs, "notify.bot_token is required")
		}
		if c.Notify.ChannelID == "" {
			errs = append(errs, "notify.channel_id is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("notify.platform %q is not supported (slack, discord)", c.Notify.Platform))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
