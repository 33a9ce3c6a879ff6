package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/zulandar/gavel/internal/config"
	"github.com/zulandar/gavel/internal/db"
	"github.com/zulandar/gavel/internal/hooks"
	"github.com/zulandar/gavel/internal/hooks/discord"
	"github.com/zulandar/gavel/internal/hooks/slack"
	"github.com/zulandar/gavel/internal/llm"
	"github.com/zulandar/gavel/internal/orchestrator"
	"github.com/zulandar/gavel/internal/policy"
	"github.com/zulandar/gavel/internal/store"
	"github.com/zulandar/gavel/internal/turn"
	"gorm.io/gorm"
)

const defaultConfigPath = "gavel.yaml"

// loadConfig reads the config file. When the flag was left at its default
// and no file exists, built-in defaults plus the environment are used.
func loadConfig(cmd *cobra.Command, path string) (*config.Config, error) {
	if !cmd.Flags().Changed("config") {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return config.Default()
		}
	}
	return config.Load(path)
}

func connectDB(cfg *config.Config) (*gorm.DB, error) {
	return db.Connect(db.ConnectOpts{
		Driver:   cfg.Database.Driver,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.Name,
		Path:     cfg.Database.Path,
	})
}

// openStore returns the configured backend and a func that releases it.
func openStore(cfg *config.Config) (store.Store, func(), error) {
	if cfg.Store.Backend == config.BackendMemory {
		return store.NewMemoryStore(), func() {}, nil
	}
	gdb, err := connectDB(cfg)
	if err != nil {
		return nil, nil, err
	}
	if err := db.AutoMigrate(gdb); err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if sqlDB, err := gdb.DB(); err == nil {
			sqlDB.Close()
		}
	}
	return store.NewGormStore(gdb), closeFn, nil
}

func newGenerator(cfg *config.Config) llm.Generator {
	if cfg.LLM.Provider == config.ProviderOpenAI {
		return llm.NewClient(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.Timeout)
	}
	return llm.NewOffline()
}

func newTurnGenerator(cfg *config.Config, st store.Store) *turn.Generator {
	return turn.New(st, newGenerator(cfg), policy.NewModerator(cfg.Moderation), turn.Config{
		Budget:         cfg.BudgetPolicy(),
		Temperature:    cfg.LLM.Temperature,
		HistoryTurns:   cfg.LLM.HistoryTurns,
		USDPer1KTokens: cfg.Cost.USDPer1KTokens,
	})
}

func orchestratorConfig(cfg *config.Config) orchestrator.Config {
	o := cfg.Orchestrator
	return orchestrator.Config{
		DirectRounds:          o.DirectRounds,
		CrossRounds:           o.CrossRounds,
		RecapEvery:            o.RecapEvery,
		RandomEventProb:       o.RandomEventProb,
		JudgeInterruptProb:    o.JudgeInterruptProb,
		WitnessCap:            cfg.CapPolicy(),
		ReadingCharsPerSecond: o.ReadingCharsPerSecond,
		PrefetchRatio:         o.PrefetchRatio,
		MaxPause:              o.MaxPause,
		PhaseDurations:        cfg.PhaseDurations(),
		VerdictWindow:         o.VerdictWindow,
		SentenceWindow:        o.SentenceWindow,
	}
}

// runOptions builds the per-session hook collaborators from the broadcast
// section.
func runOptions(cfg *config.Config, out io.Writer) (orchestrator.RunOptions, error) {
	opts := orchestrator.RunOptions{HookTimeout: cfg.Broadcast.HookTimeout}
	if cfg.Broadcast.Narration == "log" {
		opts.Narrator = &hooks.LogNarrator{Out: out}
	}

	var posters []hooks.Poster
	if c := cfg.Broadcast.Slack; c.Enabled() {
		p, err := slack.New(slack.PosterOpts{BotToken: c.BotToken, ChannelID: c.ChannelID})
		if err != nil {
			return opts, err
		}
		posters = append(posters, p)
	}
	if c := cfg.Broadcast.Discord; c.Enabled() {
		p, err := discord.New(discord.PosterOpts{BotToken: c.BotToken, ChannelID: c.ChannelID})
		if err != nil {
			return opts, err
		}
		posters = append(posters, p)
	}
	if len(posters) > 0 {
		opts.Broadcaster = &hooks.ChatBroadcaster{Posters: posters}
	}
	return opts, nil
}

func describeBackend(cfg *config.Config) string {
	if cfg.Store.Backend == config.BackendMemory {
		return "memory"
	}
	if cfg.Database.Driver == db.DriverSQLite {
		return fmt.Sprintf("sqlite (%s)", cfg.Database.Path)
	}
	return fmt.Sprintf("mysql (%s:%d/%s)", cfg.Database.Host, cfg.Database.Port, cfg.Database.Name)
}
