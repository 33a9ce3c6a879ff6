package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/zulandar/gavel/internal/court"
	"github.com/zulandar/gavel/internal/policy"
)

// envOverlay holds the settings that may come from the environment. Secrets
// and token-economics knobs live here so they need not be written to disk.
// Unset variables leave the file value alone.
type envOverlay struct {
	RoleMaxTokens          string   `env:"GAVEL_ROLE_MAX_TOKENS"`
	WitnessMaxTokens       *int     `env:"GAVEL_WITNESS_MAX_TOKENS"`
	WitnessMaxSeconds      *float64 `env:"GAVEL_WITNESS_MAX_SECONDS"`
	WitnessTokensPerSecond *float64 `env:"GAVEL_WITNESS_TOKENS_PER_SECOND"`
	USDPer1KTokens         *float64 `env:"GAVEL_USD_PER_1K_TOKENS"`

	StoreBackend string `env:"GAVEL_STORE"`
	DBPassword   string `env:"GAVEL_DB_PASSWORD"`
	Port         int    `env:"GAVEL_PORT"`

	LLMProvider string `env:"GAVEL_LLM_PROVIDER"`
	LLMAPIKey   string `env:"GAVEL_LLM_API_KEY"`
	LLMBaseURL  string `env:"GAVEL_LLM_BASE_URL"`
	LLMModel    string `env:"GAVEL_LLM_MODEL"`

	BlockedTerms []string `env:"GAVEL_BLOCKED_TERMS" envSeparator:","`

	GitHubToken     string `env:"GAVEL_GITHUB_TOKEN"`
	SlackBotToken   string `env:"GAVEL_SLACK_BOT_TOKEN"`
	DiscordBotToken string `env:"GAVEL_DISCORD_BOT_TOKEN"`
	OTelEndpoint    string `env:"GAVEL_OTEL_ENDPOINT"`
}

// applyEnv overlays environ (KEY=VALUE pairs) onto c.
func (c *Config) applyEnv(environ []string) error {
	var o envOverlay
	if err := env.ParseWithOptions(&o, env.Options{Environment: toMap(environ)}); err != nil {
		return fmt.Errorf("config: environment: %w", err)
	}

	if o.RoleMaxTokens != "" {
		caps, err := policy.ParseRoleTokens(o.RoleMaxTokens)
		if err != nil {
			return fmt.Errorf("config: GAVEL_ROLE_MAX_TOKENS: %w", err)
		}
		if c.Budget.RoleMax == nil {
			c.Budget.RoleMax = make(map[string]int)
		}
		for role, n := range caps {
			c.Budget.RoleMax[string(role)] = n
		}
	}
	if o.WitnessMaxTokens != nil {
		c.WitnessCap.MaxTokens = *o.WitnessMaxTokens
	}
	if o.WitnessMaxSeconds != nil {
		c.WitnessCap.MaxSeconds = *o.WitnessMaxSeconds
	}
	if o.WitnessTokensPerSecond != nil {
		c.WitnessCap.TokensPerSecond = *o.WitnessTokensPerSecond
	}
	if o.USDPer1KTokens != nil {
		c.Cost.USDPer1KTokens = *o.USDPer1KTokens
	}

	setString(&c.Store.Backend, o.StoreBackend)
	setString(&c.Database.Password, o.DBPassword)
	if o.Port != 0 {
		c.Server.Port = o.Port
	}
	setString(&c.LLM.Provider, o.LLMProvider)
	setString(&c.LLM.APIKey, o.LLMAPIKey)
	setString(&c.LLM.BaseURL, o.LLMBaseURL)
	setString(&c.LLM.Model, o.LLMModel)
	for _, t := range o.BlockedTerms {
		if t = strings.TrimSpace(t); t != "" {
			c.Moderation.Blocked = append(c.Moderation.Blocked, t)
		}
	}
	setString(&c.Archive.Token, o.GitHubToken)
	setString(&c.Broadcast.Slack.BotToken, o.SlackBotToken)
	setString(&c.Broadcast.Discord.BotToken, o.DiscordBotToken)
	setString(&c.Telemetry.OTLPEndpoint, o.OTelEndpoint)
	return nil
}

// RoleCaps returns the configured hard caps as a role map.
func (c *Config) RoleCaps() map[court.Role]int {
	return c.BudgetPolicy().RoleMax
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func toMap(environ []string) map[string]string {
	m := make(map[string]string, len(environ))
	for _, kv := range environ {
		if k, v, ok := strings.Cut(kv, "="); ok {
			m[k] = v
		}
	}
	return m
}
