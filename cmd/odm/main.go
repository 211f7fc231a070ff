// Command odm runs the wastewater ODM batch: ingest tables, merge them per
// sample, classify site signal and write or serve the GeoJSON layers.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"odmcore/internal/config"
	"odmcore/internal/core"
	"odmcore/internal/logging"
	"odmcore/internal/persistence"
)

// app carries the state shared by every subcommand.
type app struct {
	configPath string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
	out    io.Writer
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{out: out}
	root := &cobra.Command{
		Use:           "odm",
		Short:         "Normalize wastewater ODM tables and render weekly signal layers",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(a.configPath)
			if err != nil {
				return err
			}
			if a.verbose {
				cfg.Log.Level = "debug"
			}
			logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
			if err != nil {
				return err
			}
			a.cfg, a.logger = cfg, logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Path to the YAML configuration")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Enable debug logging")
	root.SetOut(out)

	root.AddCommand(a.runCmd(), a.geojsonCmd(), a.exportCmd(), a.serveCmd(), a.schemaCmd())
	return root
}

// readInput loads the configured input tables.
func (a *app) readInput(ctx context.Context) (core.Source, error) {
	src, err := persistence.Read(ctx, a.cfg.Input)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return src, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
