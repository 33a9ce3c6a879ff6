package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/gavel/internal/config"
	"github.com/zulandar/gavel/internal/court"
	"github.com/zulandar/gavel/internal/store"
)

func newRecoverCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Fail sessions interrupted by a crash",
		Long: `Marks every session left running by a previous process as failed and lists
the pending sessions that "gavel serve" would start. Only meaningful with the
database store backend.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecover(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Gavel config file")
	return cmd
}

func runRecover(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, err := loadConfig(cmd, configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Store.Backend == config.BackendMemory {
		fmt.Fprintln(out, "Memory store keeps nothing across restarts; nothing to recover.")
		return nil
	}

	st, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	ctx := cmd.Context()
	running, err := st.ListSessions(ctx, store.ListFilter{Status: court.StatusRunning})
	if err != nil {
		return err
	}
	pending, err := st.RecoverInterruptedSessions(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Interrupted sessions marked failed: %d\n", len(running))
	fmt.Fprintf(out, "Pending sessions: %d\n", len(pending))
	for _, id := range pending {
		fmt.Fprintf(out, "  %s\n", id)
	}
	return nil
}
