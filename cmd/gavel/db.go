package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/gavel/internal/db"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}

	cmd.AddCommand(newDBMigrateCmd())
	return cmd
}

func newDBMigrateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the session tables",
		Long:  "Connects to the configured database (sqlite or mysql) and migrates the session and turn tables.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBMigrate(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Gavel config file")
	return cmd
}

func runDBMigrate(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, err := loadConfig(cmd, configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	gdb, err := connectDB(cfg)
	if err != nil {
		return err
	}
	if sqlDB, err := gdb.DB(); err == nil {
		defer sqlDB.Close()
	}
	fmt.Fprintf(out, "Connected to %s\n", describeDatabase(cfg.Database.Driver, cfg.Database.Path, cfg.Database.Host, cfg.Database.Port, cfg.Database.Name))

	if err := db.AutoMigrate(gdb); err != nil {
		return err
	}
	fmt.Fprintf(out, "Migrated %d tables\n", len(db.AllModels()))
	return nil
}

func describeDatabase(driver, path, host string, port int, name string) string {
	if driver == db.DriverSQLite {
		return "sqlite " + path
	}
	return fmt.Sprintf("mysql %s:%d/%s", host, port, name)
}
