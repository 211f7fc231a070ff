// Package config loads the odm YAML configuration, applies ODM_*
// environment overrides and validates the result.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"odmcore/internal/blob"
	"odmcore/internal/geo"
	"odmcore/internal/persistence"
	"odmcore/internal/signal"
)

// DateLayout is the layout of window bounds.
const DateLayout = "2006-01-02"

// Config represents the odm configuration.
type Config struct {
	Input       persistence.Config `yaml:"input"`
	Window      WindowConfig       `yaml:"window"`
	Classifier  ClassifierConfig   `yaml:"classifier"`
	Consolidate ConsolidateConfig  `yaml:"consolidate"`
	Output      OutputConfig       `yaml:"output"`
	Export      persistence.Config `yaml:"export"`
	Blob        BlobConfig         `yaml:"blob"`
	Log         LogConfig          `yaml:"log"`
	Serve       ServeConfig        `yaml:"serve"`
}

// WindowConfig bounds the plotted period as [start, end). Empty start means
// 2021-01-01, empty end means now.
type WindowConfig struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

// ClassifierConfig tunes collection method selection.
type ClassifierConfig struct {
	Threshold int `yaml:"threshold"`
}

// ConsolidateConfig tunes the per-sample merge.
type ConsolidateConfig struct {
	PointOrder   string `yaml:"point_order"`
	PublicHealth bool   `yaml:"public_health"`
}

// OutputConfig names the files a run writes.
type OutputConfig struct {
	Dir            string   `yaml:"dir"`
	SiteLayer      string   `yaml:"site_layer"`
	PolygonLayer   string   `yaml:"polygon_layer"`
	PolygonTypes   []string `yaml:"polygon_types"`
	DropProperties []string `yaml:"drop_properties"`
	// CSVPrefix, when set, also writes the store's tables as CSV files.
	CSVPrefix string `yaml:"csv_prefix"`
}

// BlobConfig enables artifact publication.
type BlobConfig struct {
	blob.Config `yaml:",inline"`
	Publish     bool `yaml:"publish"`
	Promote     bool `yaml:"promote"`
}

// LogConfig selects the logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ServeConfig configures odm serve.
type ServeConfig struct {
	Addr string `yaml:"addr"`
	// ReadTimeoutSeconds bounds request reads.
	ReadTimeoutSeconds int `yaml:"read_timeout_seconds"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Input:      persistence.Config{Driver: persistence.DriverCSV, CSVDir: "./data"},
		Classifier: ClassifierConfig{Threshold: signal.DefaultThreshold},
		Consolidate: ConsolidateConfig{
			PointOrder: string(geo.LatLong),
		},
		Output: OutputConfig{
			Dir:          "./out",
			SiteLayer:    "sites.geojson",
			PolygonLayer: "polygons.geojson",
		},
		Export: persistence.Config{Driver: persistence.DriverSQLite}.WithDefaults(),
		Blob:   BlobConfig{Config: blob.Config{Driver: blob.DriverFilesystem}},
		Log:    LogConfig{Level: "info", Format: "json"},
		Serve:  ServeConfig{Addr: ":8080", ReadTimeoutSeconds: 10},
	}
}

// LoadConfig reads path over the defaults, applies environment overrides
// and validates. An empty path skips the file.
func LoadConfig(path string) (*Config, error) {
	config := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	config.applyEnv()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) applyEnv() {
	set := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	c.Export = persistence.ConfigFromEnv(c.Export)
	c.Blob.Config = blob.ConfigFromEnv(c.Blob.Config)
	set("ODM_INPUT_DIR", &c.Input.CSVDir)
	set("ODM_INPUT_PREFIX", &c.Input.CSVPrefix)
	set("ODM_OUTPUT_DIR", &c.Output.Dir)
	set("ODM_WINDOW_START", &c.Window.Start)
	set("ODM_WINDOW_END", &c.Window.End)
	set("ODM_LOG_LEVEL", &c.Log.Level)
	set("ODM_LOG_FORMAT", &c.Log.Format)
	set("ODM_SERVE_ADDR", &c.Serve.Addr)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []error
	if err := c.Input.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("input: %w", err))
	}
	if err := c.Export.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("export: %w", err))
	}
	w, err := c.LayerWindow()
	if err != nil {
		errs = append(errs, err)
	} else if !w.End.IsZero() && !w.Start.IsZero() && !w.Start.Before(w.End) {
		errs = append(errs, fmt.Errorf("window: start %s must precede end %s", c.Window.Start, c.Window.End))
	}
	if c.Classifier.Threshold < 1 {
		errs = append(errs, fmt.Errorf("classifier: threshold must be at least 1"))
	}
	if _, err := geo.ParseAxisOrder(c.Consolidate.PointOrder); err != nil {
		errs = append(errs, fmt.Errorf("consolidate: %w", err))
	}
	switch c.Blob.Driver {
	case "", blob.DriverFilesystem, blob.DriverMemory, blob.DriverS3:
	default:
		errs = append(errs, fmt.Errorf("blob: unknown driver %s", c.Blob.Driver))
	}
	if c.Blob.Driver == blob.DriverS3 && c.Blob.Publish && c.Blob.S3.Bucket == "" {
		errs = append(errs, fmt.Errorf("blob: s3 bucket required"))
	}
	if c.Output.SiteLayer == "" || c.Output.PolygonLayer == "" {
		errs = append(errs, fmt.Errorf("output: layer file names required"))
	}
	if c.Serve.ReadTimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("serve: read_timeout_seconds must not be negative"))
	}
	return errors.Join(errs...)
}

// LayerWindow parses the configured window.
func (c *Config) LayerWindow() (signal.Window, error) {
	var w signal.Window
	for _, b := range []struct {
		raw string
		dst *time.Time
	}{{c.Window.Start, &w.Start}, {c.Window.End, &w.End}} {
		if strings.TrimSpace(b.raw) == "" {
			continue
		}
		t, err := time.ParseInLocation(DateLayout, strings.TrimSpace(b.raw), time.UTC)
		if err != nil {
			return signal.Window{}, fmt.Errorf("window: %w", err)
		}
		*b.dst = t
	}
	return w, nil
}

// AxisOrder returns the validated point order.
func (c *Config) AxisOrder() geo.AxisOrder {
	order, err := geo.ParseAxisOrder(c.Consolidate.PointOrder)
	if err != nil {
		return geo.LatLong
	}
	return order
}

// ReadTimeout returns the server read timeout.
func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.Serve.ReadTimeoutSeconds) * time.Second
}
