package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/paulmach/orb/geojson"
	"github.com/spf13/cobra"

	"odmcore/internal/pipeline"
)

func (a *app) runCmd() *cobra.Command {
	var outputDir string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the batch and write the layers",
		Long: `Reads the configured input tables, merges them per sample, classifies
each site's weekly signal and writes the site and polygon layers to the
output directory. When blob publication is enabled the outputs are also
published under runs/<run-id>/ with a manifest.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			if outputDir != "" {
				a.cfg.Output.Dir = outputDir
			}
			src, err := a.readInput(ctx)
			if err != nil {
				return err
			}
			opts, err := pipeline.OptionsFromConfig(ctx, a.cfg, a.logger, nil)
			if err != nil {
				return err
			}
			run := pipeline.New(opts)
			res, err := run.Execute(ctx, src)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "run %s: %d samples, %d sites, %d polygons\n",
				res.RunID, res.Samples, len(res.Sites.Features), len(res.Polygons.Features))
			for _, f := range res.Files {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", f)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&outputDir, "out", "o", "", "Output directory (overrides output.dir)")
	return cmd
}

func (a *app) geojsonCmd() *cobra.Command {
	var (
		outPath string
		types   []string
	)
	cmd := &cobra.Command{
		Use:       "geojson [sites|polygons]",
		Short:     "Print one layer as GeoJSON",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"sites", "polygons"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			src, err := a.readInput(ctx)
			if err != nil {
				return err
			}
			opts, err := pipeline.OptionsFromConfig(ctx, a.cfg, a.logger, nil)
			if err != nil {
				return err
			}
			opts.OutputDir, opts.CSVPrefix, opts.Blob = "", "", nil
			if len(types) > 0 {
				opts.PolygonTypes = types
			}
			res, err := pipeline.New(opts).Execute(ctx, src)
			if err != nil {
				return err
			}
			var fc *geojson.FeatureCollection
			switch args[0] {
			case "sites":
				fc = res.Sites
			case "polygons":
				fc = res.Polygons
			default:
				return fmt.Errorf("unknown layer %q (want sites or polygons)", args[0])
			}
			body, err := fc.MarshalJSON()
			if err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), outPath, body)
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Write to this file instead of stdout")
	cmd.Flags().StringSliceVar(&types, "type", nil, "Polygon types to keep (overrides output.polygon_types)")
	return cmd
}

func writeOutput(stdout io.Writer, path string, body []byte) error {
	if path == "" {
		_, err := fmt.Fprintln(stdout, string(body))
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	return os.WriteFile(path, body, 0o600)
}
