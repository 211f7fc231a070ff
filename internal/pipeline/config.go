package pipeline

import (
	"context"

	"go.uber.org/zap"

	"odmcore/internal/blob"
	"odmcore/internal/config"
	"odmcore/internal/core"
)

// OptionsFromConfig maps a loaded configuration onto run options, opening
// the blob store when publication is enabled.
func OptionsFromConfig(ctx context.Context, cfg *config.Config, logger *zap.Logger, metrics core.MetricsRecorder) (Options, error) {
	window, err := cfg.LayerWindow()
	if err != nil {
		return Options{}, err
	}
	opts := Options{
		Window:         window,
		Threshold:      cfg.Classifier.Threshold,
		PointOrder:     cfg.AxisOrder(),
		PublicHealth:   cfg.Consolidate.PublicHealth,
		PolygonTypes:   cfg.Output.PolygonTypes,
		DropProperties: cfg.Output.DropProperties,
		OutputDir:      cfg.Output.Dir,
		SiteLayer:      cfg.Output.SiteLayer,
		PolygonLayer:   cfg.Output.PolygonLayer,
		CSVPrefix:      cfg.Output.CSVPrefix,
		Promote:        cfg.Blob.Promote,
		Logger:         logger,
		Metrics:        metrics,
	}
	if cfg.Blob.Publish {
		store, err := blob.Open(ctx, cfg.Blob.Config)
		if err != nil {
			return Options{}, err
		}
		opts.Blob = store
	}
	return opts, nil
}
