package main

import (
	"fmt"

	"github.com/zulandar/intake/internal/config"
	"github.com/zulandar/intake/internal/db"
	"github.com/zulandar/intake/internal/interview"
	"github.com/zulandar/intake/internal/notify"
	"github.com/zulandar/intake/internal/notify/discord"
	"github.com/zulandar/intake/internal/notify/slack"
	"github.com/zulandar/intake/internal/reasoning"
	"golang.org/x/oauth2/clientcredentials"
	"gorm.io/gorm"
)

// newService builds the reasoning service client. Tests replace it.
var newService = func(cfg config.ServiceConfig) (reasoning.Service, error) {
	opts := reasoning.ClientOpts{
		BaseURL: cfg.BaseURL,
		APIKey:  cfg.APIKey,
		Timeout: cfg.Timeout,
	}
	if cfg.OAuth.Enabled() {
		opts.OAuth = &clientcredentials.Config{
			ClientID:     cfg.OAuth.ClientID,
			ClientSecret: cfg.OAuth.ClientSecret,
			TokenURL:     cfg.OAuth.TokenURL,
			Scopes:       cfg.OAuth.Scopes,
		}
	}
	return reasoning.NewClient(opts)
}

func connectFromConfig(configPath string) (*config.Config, *gorm.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	gormDB, err := db.Open(cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	return cfg, gormDB, nil
}

// newManager wires the session manager from config: service client, store
// and optional notifier.
func newManager(cfg *config.Config, gormDB *gorm.DB) (*interview.Manager, error) {
	svc, err := newService(cfg.Service)
	if err != nil {
		return nil, err
	}
	store, err := interview.NewStore(gormDB)
	if err != nil {
		return nil, err
	}
	notifier, err := newNotifier(cfg.Notify)
	if err != nil {
		return nil, err
	}

	ic := cfg.Interview
	return interview.NewManager(interview.ManagerOpts{
		Service:  svc,
		Store:    store,
		Notifier: notifier,
		Policy: interview.Policy{
			MinimumQuestionsBeforeReady: ic.MinimumQuestionsBeforeReady,
			MaxTotalQuestions:           ic.MaxTotalQuestions,
			AskMoreMaxQuestions:         ic.AskMoreMaxQuestions,
		},
		Models:                  cfg.Service.Models,
		RetryAttempts:           ic.RetryAttempts,
		RetryBaseDelay:          ic.RetryBaseDelay,
		RequesterID:             cfg.Owner,
		BaselineConfidence:      ic.BaselineConfidence,
		TargetConfidence:        ic.TargetConfidence,
		AskMoreTargetConfidence: ic.AskMoreTargetConfidence,
	})
}

// newNotifier returns the configured chat notifier, or nil when none is set.
func newNotifier(cfg config.NotifyConfig) (notify.Notifier, error) {
	switch cfg.Platform {
	case "":
		return nil, nil
	case "slack":
		return slack.New(slack.NotifierOpts{BotToken: cfg.BotToken, ChannelID: cfg.ChannelID})
	case "discord":
		return discord.New(discord.NotifierOpts{BotToken: cfg.BotToken, ChannelID: cfg.ChannelID})
	default:
		return nil, fmt.Errorf("unsupported notify platform %q", cfg.Platform)
	}
}
