package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zulandar/gavel/internal/court"
	"github.com/zulandar/gavel/internal/docket"
	"github.com/zulandar/gavel/internal/orchestrator"
	"github.com/zulandar/gavel/internal/replay"
	"github.com/zulandar/gavel/internal/server"
	"github.com/zulandar/gavel/internal/store"
	"github.com/zulandar/gavel/internal/telemetry"
	"github.com/zulandar/gavel/internal/voteguard"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Gavel HTTP server",
		Long: `Runs the HTTP control surface and orchestrates sessions in the background.

On start-up, sessions left running by a previous process are failed and
pending ones are started. Docket entries from the config create sessions on
their cron schedules.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Gavel config file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "HTTP port (overrides config)")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int) error {
	out := cmd.OutOrStdout()

	cfg, err := loadConfig(cmd, configPath)
	if err != nil {
		return err
	}
	if port > 0 {
		cfg.Server.Port = port
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer shutdownTracing(context.Background())

	st, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()
	fmt.Fprintf(out, "Store: %s\n", describeBackend(cfg))

	orch := orchestrator.New(st, newTurnGenerator(cfg, st), orchestratorConfig(cfg))
	votes := voteguard.New(cfg.Votes.Cooldown)

	runOpts, err := runOptions(cfg, out)
	if err != nil {
		return err
	}
	runOpts.Done = func(sessionID string, _ error) { votes.ForgetSession(sessionID) }

	var rec *replay.Recorder
	if cfg.Recordings.Enabled {
		if rec, err = replay.NewRecorder(cfg.Recordings.Dir); err != nil {
			return err
		}
		defer rec.Close()
		fmt.Fprintf(out, "Recording sessions to %s\n", cfg.Recordings.Dir)
	}

	launch := func(sessionID string) {
		orch.Go(ctx, sessionID, runOpts)
	}
	record := func(s *court.Session) {
		if rec == nil {
			return
		}
		if err := rec.Start(st, s); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "record %s: %v\n", s.ID, err)
		}
	}

	pending, err := st.RecoverInterruptedSessions(ctx)
	if err != nil {
		return err
	}
	for _, id := range pending {
		if rec != nil {
			s, err := st.GetSession(ctx, id)
			if err != nil {
				return err
			}
			record(s)
		}
		launch(id)
	}
	if len(pending) > 0 {
		fmt.Fprintf(out, "Resumed %d pending session(s)\n", len(pending))
	}

	var dk *docket.Docket
	if len(cfg.Docket) > 0 {
		dk, err = docket.New(cfg.DocketEntries(), func(ctx context.Context, in store.CreateInput) (*court.Session, error) {
			s, err := st.CreateSession(ctx, in)
			if err != nil {
				return nil, err
			}
			record(s)
			launch(s.ID)
			return s, nil
		})
		if err != nil {
			return err
		}
		dk.Start(ctx)
		defer dk.Stop()
	}

	srv, err := server.New(server.Options{
		Store:    st,
		Votes:    votes,
		Recorder: rec,
		Launch:   launch,
		Docket:   dk,
		Port:     cfg.Server.Port,
		Out:      out,
	})
	if err != nil {
		return err
	}
	err = srv.Run(ctx)

	// Cancelling ctx fails every running session; wait for them to record it.
	stop()
	orch.Wait()
	return err
}
