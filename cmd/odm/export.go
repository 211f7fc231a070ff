package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"odmcore/internal/core"
	"odmcore/internal/persistence"
)

func (a *app) exportCmd() *cobra.Command {
	var tables []string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the input tables to CSV files, SQLite or Postgres",
	}
	cmd.PersistentFlags().StringSliceVar(&tables, "table", nil, "Tables to export (default: all non-empty)")

	var dir, prefix string
	csvCmd := &cobra.Command{
		Use:   "csv",
		Short: "Write one <prefix>_<Table>.csv file per non-empty table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			target := a.cfg.Export
			target.Driver = persistence.DriverCSV
			if dir != "" {
				target.CSVDir = dir
			}
			if cmd.Flags().Changed("prefix") {
				target.CSVPrefix = prefix
			}
			return a.export(cmd, target, tables)
		},
	}
	csvCmd.Flags().StringVar(&dir, "dir", "", "Output directory")
	csvCmd.Flags().StringVar(&prefix, "prefix", "", "File name prefix")

	var path string
	var remote bool
	sqliteCmd := &cobra.Command{
		Use:   "sqlite",
		Short: "Replace rows into an SQLite database, creating it when missing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			target := a.cfg.Export
			target.Driver = persistence.DriverSQLite
			if path != "" {
				target.SQLitePath = path
			}
			if remote {
				target.DDLSource = persistence.DDLRemote
			}
			return a.export(cmd, target, tables)
		},
	}
	sqliteCmd.Flags().StringVar(&path, "path", "", "Database file")
	sqliteCmd.Flags().BoolVar(&remote, "remote-ddl", false, "Create new databases from the published DDL script")

	var dsn string
	postgresCmd := &cobra.Command{
		Use:   "postgres",
		Short: "Upsert rows into Postgres",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			target := a.cfg.Export
			target.Driver = persistence.DriverPostgres
			if dsn != "" {
				target.PostgresDSN = dsn
			}
			return a.export(cmd, target, tables)
		},
	}
	postgresCmd.Flags().StringVar(&dsn, "dsn", "", "Postgres DSN")

	cmd.AddCommand(csvCmd, sqliteCmd, postgresCmd)
	return cmd
}

func (a *app) export(cmd *cobra.Command, target persistence.Config, tables []string) error {
	ctx, cancel := signalContext()
	defer cancel()
	src, err := a.readInput(ctx)
	if err != nil {
		return err
	}
	store := core.NewStore(core.WithLogger(a.logger))
	if _, err := store.Append(ctx, src); err != nil {
		return err
	}
	report, err := persistence.Export(ctx, target, store.Snapshot(), a.logger, tables...)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(report.Rows))
	for name := range report.Rows {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d rows\n", name, report.Rows[name])
		if skipped := report.Skipped[name]; len(skipped) > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "  skipped columns: %v\n", skipped)
		}
	}
	return nil
}
