package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"odmcore/internal/adapters/httpapi"
	"odmcore/internal/core"
	"odmcore/internal/pipeline"
)

func (a *app) serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the batch once and serve the layers over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			if addr != "" {
				a.cfg.Serve.Addr = addr
			}
			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			metrics := core.NewPrometheusRecorder(reg)

			src, err := a.readInput(ctx)
			if err != nil {
				return err
			}
			opts, err := pipeline.OptionsFromConfig(ctx, a.cfg, a.logger, metrics)
			if err != nil {
				return err
			}
			run := pipeline.New(opts)
			if _, err := run.Execute(ctx, src); err != nil {
				return err
			}
			a.logger.Info("serving run", zap.String("run_id", run.ID()), zap.String("addr", a.cfg.Serve.Addr))
			handler := httpapi.NewHandler(run, opts.Blob, reg, a.logger)
			return httpapi.Serve(ctx, a.cfg.Serve.Addr, handler, a.cfg.ReadTimeout(), a.logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides serve.addr)")
	return cmd
}
