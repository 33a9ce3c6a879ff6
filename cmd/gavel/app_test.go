package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/gavel/internal/config"
	"github.com/zulandar/gavel/internal/court"
	"github.com/zulandar/gavel/internal/hooks"
	"github.com/zulandar/gavel/internal/llm"
	"github.com/zulandar/gavel/internal/store"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "x"}
	cmd.Flags().StringP("config", "c", defaultConfigPath, "")
	return cmd
}

func TestLoadConfig_DefaultWhenAbsent(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := loadConfig(configCmd(), defaultConfigPath)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Store.Backend != config.BackendMemory || cfg.LLM.Provider != config.ProviderOffline {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoadConfig_ReadsDefaultPath(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	os.WriteFile(filepath.Join(dir, defaultConfigPath), []byte("server:\n  port: 9999\n"), 0644)

	cfg, err := loadConfig(configCmd(), defaultConfigPath)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("port = %d, want 9999", cfg.Server.Port)
	}
}

func TestOpenStore(t *testing.T) {
	cfg, _ := config.Parse(nil)
	st, closeFn, err := openStore(cfg)
	if err != nil {
		t.Fatalf("openStore memory: %v", err)
	}
	closeFn()
	if _, ok := st.(*store.MemoryStore); !ok {
		t.Errorf("store = %T, want *store.MemoryStore", st)
	}

	cfg, err = config.Parse([]byte("store:\n  backend: database\ndatabase:\n  driver: sqlite\n  path: " + filepath.Join(t.TempDir(), "g.db") + "\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	st, closeFn, err = openStore(cfg)
	if err != nil {
		t.Fatalf("openStore sqlite: %v", err)
	}
	defer closeFn()
	if _, ok := st.(*store.GormStore); !ok {
		t.Errorf("store = %T, want *store.GormStore", st)
	}
	if _, err := st.CreateSession(context.Background(), store.CreateInput{Topic: "Migrated"}); err != nil {
		t.Errorf("CreateSession on migrated db: %v", err)
	}
}

func TestNewGenerator(t *testing.T) {
	cfg, _ := config.Parse(nil)
	if _, ok := newGenerator(cfg).(*llm.Offline); !ok {
		t.Error("offline provider should yield *llm.Offline")
	}
	cfg, _ = config.Parse([]byte("llm:\n  provider: openai\n  api_key: k\n  model: m\n"))
	c, ok := newGenerator(cfg).(*llm.Client)
	if !ok {
		t.Fatal("openai provider should yield *llm.Client")
	}
	if c.Model != "m" || c.APIKey != "k" {
		t.Errorf("client = %+v", c)
	}
}

func TestRunOptions(t *testing.T) {
	tests := []struct {
		name        string
		yaml        string
		narrator    bool
		posterCount int
	}{
		{"nothing", "", false, 0},
		{"log narration", "broadcast:\n  narration: log\n", true, 0},
		{"slack only", "broadcast:\n  slack:\n    bot_token: xoxb\n    channel_id: C1\n", false, 1},
		{"slack missing channel", "broadcast:\n  slack:\n    bot_token: xoxb\n", false, 0},
		{"both", "broadcast:\n  slack:\n    bot_token: xoxb\n    channel_id: C1\n  discord:\n    bot_token: d\n    channel_id: \"9\"\n", false, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := config.Parse([]byte(tt.yaml))
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			opts, err := runOptions(cfg, new(bytes.Buffer))
			if err != nil {
				t.Fatalf("runOptions: %v", err)
			}
			if (opts.Narrator != nil) != tt.narrator {
				t.Errorf("narrator = %v, want %v", opts.Narrator, tt.narrator)
			}
			if tt.posterCount == 0 {
				if opts.Broadcaster != nil {
					t.Errorf("broadcaster = %v, want nil", opts.Broadcaster)
				}
				return
			}
			b, ok := opts.Broadcaster.(*hooks.ChatBroadcaster)
			if !ok || len(b.Posters) != tt.posterCount {
				t.Errorf("broadcaster = %#v, want %d posters", opts.Broadcaster, tt.posterCount)
			}
			if opts.HookTimeout != 5*time.Second {
				t.Errorf("HookTimeout = %s", opts.HookTimeout)
			}
		})
	}
}

func TestOrchestratorConfig(t *testing.T) {
	cfg, err := config.Parse([]byte(`
orchestrator:
  direct_rounds: 4
  recap_every: 3
  max_pause: 2s
  phase_durations:
    closings: 45s
witness_cap:
  max_tokens: 80
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	oc := orchestratorConfig(cfg)
	if oc.DirectRounds != 4 || oc.RecapEvery != 3 || oc.MaxPause != 2*time.Second {
		t.Errorf("config = %+v", oc)
	}
	if oc.WitnessCap.MaxTokens != 80 {
		t.Errorf("WitnessCap = %+v", oc.WitnessCap)
	}
	if oc.PhaseDurations[court.PhaseClosings] != 45*time.Second {
		t.Errorf("PhaseDurations = %v", oc.PhaseDurations)
	}
}

func TestDescribeBackend(t *testing.T) {
	mem, _ := config.Parse(nil)
	if got := describeBackend(mem); got != "memory" {
		t.Errorf("memory = %q", got)
	}
	sq, _ := config.Parse([]byte("store:\n  backend: database\n"))
	if got := describeBackend(sq); got != "sqlite (gavel.db)" {
		t.Errorf("sqlite = %q", got)
	}
	my, _ := config.Parse([]byte("store:\n  backend: database\ndatabase:\n  driver: mysql\n"))
	if got := describeBackend(my); got != "mysql (127.0.0.1:3306/gavel)" {
		t.Errorf("mysql = %q", got)
	}
}
