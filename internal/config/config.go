// Package config provides YAML-based configuration loading for Gavel, with
// secrets and token-economics knobs overridable from the environment.
package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/zulandar/gavel/internal/court"
	"github.com/zulandar/gavel/internal/docket"
	"github.com/zulandar/gavel/internal/policy"
	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendDatabase = "database"
)

// LLM providers.
const (
	ProviderOffline = "offline"
	ProviderOpenAI  = "openai"
)

// Config is the top-level Gavel configuration, loaded from gavel.yaml.
type Config struct {
	Database     DatabaseConfig         `yaml:"database"`
	Store        StoreConfig            `yaml:"store"`
	Server       ServerConfig           `yaml:"server"`
	LLM          LLMConfig              `yaml:"llm"`
	Orchestrator OrchestratorConfig     `yaml:"orchestrator"`
	Budget       BudgetConfig           `yaml:"budget"`
	WitnessCap   WitnessCapConfig       `yaml:"witness_cap"`
	Moderation   policy.ModerationTerms `yaml:"moderation"`
	Votes        VotesConfig            `yaml:"votes"`
	Recordings   RecordingsConfig       `yaml:"recordings"`
	Broadcast    BroadcastConfig        `yaml:"broadcast"`
	Archive      ArchiveConfig          `yaml:"archive"`
	Docket       []DocketEntry          `yaml:"docket"`
	Cost         CostConfig             `yaml:"cost"`
	Telemetry    TelemetryConfig        `yaml:"telemetry"`
}

// DatabaseConfig selects the durable backend connection.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // sqlite or mysql
	Path     string `yaml:"path"`   // sqlite file
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

// StoreConfig selects the session store backend.
type StoreConfig struct {
	Backend string `yaml:"backend"`
}

// ServerConfig holds HTTP settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LLMConfig configures the text generation backend.
type LLMConfig struct {
	Provider     string        `yaml:"provider"`
	BaseURL      string        `yaml:"base_url"`
	APIKey       string        `yaml:"api_key"`
	Model        string        `yaml:"model"`
	Temperature  float64       `yaml:"temperature"`
	Timeout      time.Duration `yaml:"timeout"`
	HistoryTurns int           `yaml:"history_turns"`
}

// OrchestratorConfig shapes and paces each proceeding.
type OrchestratorConfig struct {
	DirectRounds          int                      `yaml:"direct_rounds"`
	CrossRounds           int                      `yaml:"cross_rounds"`
	RecapEvery            int                      `yaml:"recap_every"`
	RandomEventProb       float64                  `yaml:"random_event_prob"`
	JudgeInterruptProb    float64                  `yaml:"judge_interrupt_prob"`
	ReadingCharsPerSecond float64                  `yaml:"reading_chars_per_second"`
	PrefetchRatio         float64                  `yaml:"prefetch_ratio"`
	MaxPause              time.Duration            `yaml:"max_pause"`
	PhaseDurations        map[string]time.Duration `yaml:"phase_durations"`
	VerdictWindow         time.Duration            `yaml:"verdict_window"`
	SentenceWindow        time.Duration            `yaml:"sentence_window"`
}

// BudgetConfig holds token ceilings keyed by role or phase name.
type BudgetConfig struct {
	RoleDefaults map[string]int `yaml:"role_defaults"`
	RoleMax      map[string]int `yaml:"role_max"`
	PhaseMax     map[string]int `yaml:"phase_max"`
}

// WitnessCapConfig bounds witness answers.
type WitnessCapConfig struct {
	MaxTokens       int     `yaml:"max_tokens"`
	MaxSeconds      float64 `yaml:"max_seconds"`
	TokensPerSecond float64 `yaml:"tokens_per_second"`
}

// VotesConfig configures the vote spam guard.
type VotesConfig struct {
	Cooldown time.Duration `yaml:"cooldown"`
}

// RecordingsConfig configures the event recorder.
type RecordingsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

// BroadcastConfig configures the best-effort collaborators.
type BroadcastConfig struct {
	Narration   string        `yaml:"narration"` // "log" or "none"
	HookTimeout time.Duration `yaml:"hook_timeout"`
	Slack       ChatConfig    `yaml:"slack"`
	Discord     ChatConfig    `yaml:"discord"`
}

// ChatConfig holds one chat poster. It is enabled when both fields are set.
type ChatConfig struct {
	BotToken  string `yaml:"bot_token"`
	ChannelID string `yaml:"channel_id"`
}

// Enabled reports whether the poster is configured.
func (c ChatConfig) Enabled() bool { return c.BotToken != "" && c.ChannelID != "" }

// ArchiveConfig configures gist publishing.
type ArchiveConfig struct {
	Token   string `yaml:"token"`
	BaseURL string `yaml:"base_url"`
}

// DocketEntry schedules a recurring case.
type DocketEntry struct {
	Schedule     string   `yaml:"schedule"`
	Topic        string   `yaml:"topic"`
	CaseType     string   `yaml:"case_type"`
	Participants []string `yaml:"participants"`
}

// CostConfig prices the token estimate.
type CostConfig struct {
	USDPer1KTokens float64 `yaml:"usd_per_1k_tokens"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	ServiceName  string `yaml:"service_name"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// Load reads a YAML config file from path, overlays the environment and
// returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return parse(data, os.Environ())
}

// Parse unmarshals YAML bytes into a validated Config. The environment is
// not consulted.
func Parse(data []byte) (*Config, error) {
	return parse(data, nil)
}

// Default returns the configuration used when no file is given, with the
// environment applied.
func Default() (*Config, error) {
	return parse(nil, os.Environ())
}

func parse(data []byte, environ []string) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if environ != nil {
		if err := cfg.applyEnv(environ); err != nil {
			return nil, err
		}
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Store.Backend == "" {
		c.Store.Backend = BackendMemory
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		c.Database.Path = "gavel.db"
	}
	if c.Database.Host == "" {
		c.Database.Host = "127.0.0.1"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 3306
	}
	if c.Database.Name == "" {
		c.Database.Name = "gavel"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = ProviderOffline
	}
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = "https://api.openai.com/v1"
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "gpt-4o-mini"
	}
	if c.LLM.Temperature == 0 {
		c.LLM.Temperature = 0.8
	}
	if c.LLM.Timeout == 0 {
		c.LLM.Timeout = 30 * time.Second
	}
	if c.Votes.Cooldown == 0 {
		c.Votes.Cooldown = 2 * time.Second
	}
	if c.Recordings.Dir == "" {
		c.Recordings.Dir = "recordings"
	}
	if c.Broadcast.Narration == "" {
		c.Broadcast.Narration = "none"
	}
	if c.Broadcast.HookTimeout == 0 {
		c.Broadcast.HookTimeout = 5 * time.Second
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "gavel"
	}
}

// validate checks that all fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Store.Backend {
	case BackendMemory, BackendDatabase:
	default:
		errs = append(errs, fmt.Sprintf("store.backend %q must be %q or %q", c.Store.Backend, BackendMemory, BackendDatabase))
	}
	switch c.Database.Driver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q must be sqlite or mysql", c.Database.Driver))
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port %d is out of range", c.Server.Port))
	}
	switch c.LLM.Provider {
	case ProviderOffline:
	case ProviderOpenAI:
		if c.LLM.APIKey == "" {
			errs = append(errs, "llm.api_key (or GAVEL_LLM_API_KEY) is required for the openai provider")
		}
	default:
		errs = append(errs, fmt.Sprintf("llm.provider %q must be %q or %q", c.LLM.Provider, ProviderOffline, ProviderOpenAI))
	}

	o := c.Orchestrator
	for _, p := range []struct {
		name string
		v    float64
	}{{"random_event_prob", o.RandomEventProb}, {"judge_interrupt_prob", o.JudgeInterruptProb}} {
		if p.v < 0 || p.v > 1 {
			errs = append(errs, fmt.Sprintf("orchestrator.%s %g must be between 0 and 1", p.name, p.v))
		}
	}
	if o.PrefetchRatio < 0 || o.PrefetchRatio > 1 {
		errs = append(errs, fmt.Sprintf("orchestrator.prefetch_ratio %g must be between 0 and 1", o.PrefetchRatio))
	}
	for _, name := range sortedKeys(o.PhaseDurations) {
		if _, err := court.ParsePhase(name); err != nil {
			errs = append(errs, fmt.Sprintf("orchestrator.phase_durations: unknown phase %q", name))
		}
	}

	for section, m := range map[string]map[string]int{"role_defaults": c.Budget.RoleDefaults, "role_max": c.Budget.RoleMax} {
		for _, name := range sortedKeys(m) {
			if _, err := court.ParseRole(name); err != nil {
				errs = append(errs, fmt.Sprintf("budget.%s: unknown role %q", section, name))
			}
			if m[name] < 0 {
				errs = append(errs, fmt.Sprintf("budget.%s.%s must not be negative", section, name))
			}
		}
	}
	for _, name := range sortedKeys(c.Budget.PhaseMax) {
		if _, err := court.ParsePhase(name); err != nil {
			errs = append(errs, fmt.Sprintf("budget.phase_max: unknown phase %q", name))
		}
	}

	if c.WitnessCap.MaxTokens < 0 || c.WitnessCap.MaxSeconds < 0 || c.WitnessCap.TokensPerSecond < 0 {
		errs = append(errs, "witness_cap values must not be negative")
	}
	if c.Cost.USDPer1KTokens < 0 {
		errs = append(errs, "cost.usd_per_1k_tokens must not be negative")
	}
	switch c.Broadcast.Narration {
	case "log", "none":
	default:
		errs = append(errs, fmt.Sprintf("broadcast.narration %q must be log or none", c.Broadcast.Narration))
	}

	for i, d := range c.Docket {
		if _, err := docket.ParseSchedule(d.Schedule); err != nil {
			errs = append(errs, fmt.Sprintf("docket[%d].schedule %q is invalid", i, d.Schedule))
		}
		if strings.TrimSpace(d.Topic) == "" {
			errs = append(errs, fmt.Sprintf("docket[%d].topic is required", i))
		}
		if _, err := court.ParseCaseType(d.CaseType); err != nil {
			errs = append(errs, fmt.Sprintf("docket[%d].case_type %q is invalid", i, d.CaseType))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// BudgetPolicy converts the budget section. validate has already checked
// every key.
func (c *Config) BudgetPolicy() policy.BudgetConfig {
	out := policy.BudgetConfig{
		RoleDefaults: make(map[court.Role]int),
		RoleMax:      make(map[court.Role]int),
		PhaseMax:     make(map[court.Phase]int),
	}
	for k, v := range c.Budget.RoleDefaults {
		out.RoleDefaults[court.Role(k)] = v
	}
	for k, v := range c.Budget.RoleMax {
		out.RoleMax[court.Role(k)] = v
	}
	for k, v := range c.Budget.PhaseMax {
		out.PhaseMax[court.Phase(k)] = v
	}
	return out
}

// CapPolicy converts the witness_cap section.
func (c *Config) CapPolicy() policy.CapPolicy {
	return policy.CapPolicy{
		MaxTokens:       c.WitnessCap.MaxTokens,
		MaxSeconds:      c.WitnessCap.MaxSeconds,
		TokensPerSecond: c.WitnessCap.TokensPerSecond,
	}
}

// PhaseDurations converts the orchestrator phase durations.
func (c *Config) PhaseDurations() map[court.Phase]time.Duration {
	out := make(map[court.Phase]time.Duration, len(c.Orchestrator.PhaseDurations))
	for k, v := range c.Orchestrator.PhaseDurations {
		out[court.Phase(k)] = v
	}
	return out
}

// DocketEntries converts the docket section.
func (c *Config) DocketEntries() []docket.Entry {
	out := make([]docket.Entry, 0, len(c.Docket))
	for _, d := range c.Docket {
		out = append(out, docket.Entry{
			Schedule:     d.Schedule,
			Topic:        d.Topic,
			CaseType:     court.CaseType(d.CaseType),
			Participants: d.Participants,
		})
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
