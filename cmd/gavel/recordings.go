package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/gavel/internal/archive"
	"github.com/zulandar/gavel/internal/config"
	"github.com/zulandar/gavel/internal/replay"
)

func newRecordingsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "recordings",
		Short: "Manage session recordings",
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Gavel config file")

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List recordings in the recordings directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecordingsList(cmd, configPath)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "publish <session-id>",
		Short: "Upload a recording as a secret GitHub gist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecordingsPublish(cmd, configPath, args[0])
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "fetch <gist-id>",
		Short: "Download a recording from a gist into the recordings directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecordingsFetch(cmd, configPath, args[0])
		},
	})
	return cmd
}

func runRecordingsList(cmd *cobra.Command, configPath string) error {
	cfg, err := loadConfig(cmd, configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	rec, err := replay.NewRecorder(cfg.Recordings.Dir)
	if err != nil {
		return err
	}
	list, err := rec.List()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(list) == 0 {
		fmt.Fprintf(out, "No recordings in %s\n", cfg.Recordings.Dir)
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tBYTES\tUPDATED")
	for _, r := range list {
		fmt.Fprintf(w, "%s\t%d\t%s\n", r.SessionID, r.Bytes, r.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

func newArchive(cmd *cobra.Command, cfg *config.Config) (*archive.Archive, error) {
	return archive.New(cmd.Context(), archive.Options{
		Token:   cfg.Archive.Token,
		BaseURL: cfg.Archive.BaseURL,
		Dir:     cfg.Recordings.Dir,
	})
}

func runRecordingsPublish(cmd *cobra.Command, configPath, sessionID string) error {
	cfg, err := loadConfig(cmd, configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Archive.Token == "" {
		return fmt.Errorf("archive.token (or GAVEL_GITHUB_TOKEN) is required to publish")
	}
	a, err := newArchive(cmd, cfg)
	if err != nil {
		return err
	}
	pub, err := a.Publish(cmd.Context(), sessionID)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Published %s (%d events) as gist %s\n%s\n", sessionID, pub.Frames, pub.GistID, pub.URL)
	return nil
}

func runRecordingsFetch(cmd *cobra.Command, configPath, gistID string) error {
	cfg, err := loadConfig(cmd, configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a, err := newArchive(cmd, cfg)
	if err != nil {
		return err
	}
	sessionID, path, err := a.Fetch(cmd.Context(), gistID)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Fetched recording of %s to %s\n", sessionID, path)
	return nil
}
