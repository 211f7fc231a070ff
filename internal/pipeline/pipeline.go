// Package pipeline runs one batch over a snapshot: ingest the sources into a
// store, merge per sample, classify each site and write the point and
// polygon layers, optionally publishing them to a blob store.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb/geojson"
	"go.uber.org/zap"

	"odmcore/internal/adapters/csvfiles"
	"odmcore/internal/blob"
	"odmcore/internal/consolidate"
	"odmcore/internal/core"
	"odmcore/internal/geo"
	"odmcore/internal/signal"
	"odmcore/pkg/schema"
)

// Options configures a Run.
type Options struct {
	Window       signal.Window
	Threshold    int
	PointOrder   geo.AxisOrder
	PublicHealth bool

	// PolygonTypes filters the polygon layer; empty keeps every polygon.
	PolygonTypes []string
	// DropProperties are removed from every feature of both layers.
	DropProperties []string

	// OutputDir receives the layers; empty skips writing files.
	OutputDir    string
	SiteLayer    string
	PolygonLayer string
	// CSVPrefix, when set, also writes the store's tables into OutputDir.
	CSVPrefix string

	// Blob, when set, receives every written file under runs/<id>/.
	Blob blob.Store
	// Promote copies the published files to latest/ once the run finished.
	Promote bool

	Logger  *zap.Logger
	Metrics core.MetricsRecorder
	Now     func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Threshold <= 0 {
		o.Threshold = signal.DefaultThreshold
	}
	if o.PointOrder == "" {
		o.PointOrder = geo.LatLong
	}
	if o.SiteLayer == "" {
		o.SiteLayer = "sites.geojson"
	}
	if o.PolygonLayer == "" {
		o.PolygonLayer = "polygons.geojson"
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Result summarizes a completed run.
type Result struct {
	RunID    string
	Samples  int
	Sites    *geojson.FeatureCollection
	Polygons *geojson.FeatureCollection
	// Files are the paths written under OutputDir.
	Files    []string
	Manifest *blob.Manifest
}

// Run is one batch execution. It owns its store; nothing is shared between
// runs.
type Run struct {
	id    string
	opts  Options
	store *core.Store

	mu     sync.RWMutex
	result *Result
}

// New constructs a run with a fresh identifier and an empty store.
func New(opts Options) *Run {
	opts = opts.withDefaults()
	id := uuid.NewString()
	opts.Logger = opts.Logger.With(zap.String("run_id", id))
	return &Run{
		id:    id,
		opts:  opts,
		store: core.NewStore(core.WithLogger(opts.Logger), core.WithMetrics(opts.Metrics)),
	}
}

// ID returns the run identifier.
func (r *Run) ID() string { return r.id }

// Store returns the run's table store.
func (r *Run) Store() *core.Store { return r.store }

// Result returns the last completed result, or nil before Execute succeeds.
func (r *Run) Result() *Result {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.result
}

func (r *Run) observe(ctx context.Context, op string, start time.Time, err error) {
	if r.opts.Metrics != nil {
		r.opts.Metrics.Observe(ctx, op, err == nil, time.Since(start))
	}
}

// Ingest appends every source to the store in order. The first rejected
// source stops ingestion; earlier sources stay committed.
func (r *Run) Ingest(ctx context.Context, sources ...core.Source) error {
	for i, src := range sources {
		res, err := r.store.Append(ctx, src)
		if err != nil {
			return fmt.Errorf("ingest source %d: %w", i, err)
		}
		if len(res.Violations) > 0 {
			r.opts.Logger.Warn("source ingested with warnings",
				zap.Int("source", i), zap.Int("violations", len(res.Violations)))
		}
	}
	return nil
}

// Execute ingests sources, builds both layers, writes them and publishes
// them when a blob store is configured.
func (r *Run) Execute(ctx context.Context, sources ...core.Source) (res *Result, err error) {
	start := time.Now()
	defer func() { r.observe(ctx, "pipeline_execute", start, err) }()

	if err := r.Ingest(ctx, sources...); err != nil {
		return nil, err
	}
	combined, err := consolidate.CombinePerSample(ctx, r.store.Snapshot(), consolidate.Options{
		PointOrder:   r.opts.PointOrder,
		PublicHealth: r.opts.PublicHealth,
		Logger:       r.opts.Logger,
		Metrics:      r.opts.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("combine per sample: %w", err)
	}
	sites, err := signal.BuildSiteLayer(r.store.Table(schema.TableSite), combined, signal.LayerOptions{
		Window:    r.opts.Window,
		Threshold: r.opts.Threshold,
		Now:       r.opts.Now,
		Logger:    r.opts.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("site layer: %w", err)
	}
	polygons := r.store.PolygonGeoJSON(r.opts.PolygonTypes...)
	dropProperties(sites, r.opts.DropProperties)
	dropProperties(polygons, r.opts.DropProperties)

	res = &Result{RunID: r.id, Samples: combined.Len(), Sites: sites, Polygons: polygons}
	r.opts.Logger.Info("layers built",
		zap.Int("samples", res.Samples),
		zap.Int("sites", len(sites.Features)),
		zap.Int("polygons", len(polygons.Features)))

	artifacts, err := r.render(res)
	if err != nil {
		return nil, err
	}
	if r.opts.OutputDir != "" {
		if res.Files, err = r.writeFiles(ctx, artifacts); err != nil {
			return nil, err
		}
	}
	if r.opts.Blob != nil {
		manifest, err := r.publish(ctx, artifacts)
		if err != nil {
			return nil, err
		}
		res.Manifest = &manifest
	}
	r.mu.Lock()
	r.result = res
	r.mu.Unlock()
	return res, nil
}

func dropProperties(fc *geojson.FeatureCollection, names []string) {
	if len(names) == 0 {
		return
	}
	for _, f := range fc.Features {
		for _, n := range names {
			delete(f.Properties, n)
		}
	}
}

type artifact struct {
	name    string
	payload []byte
}

func (r *Run) render(res *Result) ([]artifact, error) {
	var out []artifact
	for _, layer := range []struct {
		name string
		fc   *geojson.FeatureCollection
	}{{r.opts.SiteLayer, res.Sites}, {r.opts.PolygonLayer, res.Polygons}} {
		payload, err := json.Marshal(layer.fc)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", layer.name, err)
		}
		out = append(out, artifact{name: layer.name, payload: payload})
	}
	if r.opts.CSVPrefix == "" {
		return out, nil
	}
	snapshot := r.store.Snapshot()
	for _, name := range schema.TableNames() {
		f := snapshot.Table(name)
		if f.Empty() {
			continue
		}
		var buf bytes.Buffer
		if err := csvfiles.Encode(&buf, f); err != nil {
			return nil, fmt.Errorf("encode %s: %w", name, err)
		}
		out = append(out, artifact{name: csvfiles.FileName(r.opts.CSVPrefix, name), payload: buf.Bytes()})
	}
	return out, nil
}

func (r *Run) writeFiles(ctx context.Context, artifacts []artifact) ([]string, error) {
	if err := os.MkdirAll(r.opts.OutputDir, 0o750); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	paths := make([]string, 0, len(artifacts))
	for _, a := range artifacts {
		if err := ctx.Err(); err != nil {
			return paths, err
		}
		path := filepath.Join(r.opts.OutputDir, a.name)
		if err := writeAtomic(path, a.payload); err != nil {
			return paths, fmt.Errorf("write %s: %w", a.name, err)
		}
		paths = append(paths, path)
	}
	r.opts.Logger.Info("outputs written", zap.String("dir", r.opts.OutputDir), zap.Int("files", len(paths)))
	return paths, nil
}

func writeAtomic(path string, payload []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}

func (r *Run) publish(ctx context.Context, artifacts []artifact) (blob.Manifest, error) {
	start := time.Now()
	pub, err := blob.NewPublisher(r.opts.Blob, r.id)
	if err != nil {
		return blob.Manifest{}, err
	}
	names := make([]string, 0, len(artifacts))
	for _, a := range artifacts {
		if _, err := pub.Put(ctx, a.name, bytes.NewReader(a.payload), blob.ContentTypeFor(a.name)); err != nil {
			r.observe(ctx, "pipeline_publish", start, err)
			return blob.Manifest{}, fmt.Errorf("publish %s: %w", a.name, err)
		}
		names = append(names, a.name)
	}
	manifest, err := pub.Finish(ctx)
	if err == nil && r.opts.Promote {
		err = pub.Promote(ctx, names...)
	}
	r.observe(ctx, "pipeline_publish", start, err)
	if err != nil {
		return blob.Manifest{}, err
	}
	r.opts.Logger.Info("run published",
		zap.String("driver", string(r.opts.Blob.Driver())),
		zap.Int("artifacts", len(manifest.Artifacts)),
		zap.Bool("promoted", r.opts.Promote))
	return manifest, nil
}

// Sites returns the site layer of the last completed execution.
func (r *Run) Sites(context.Context) (*geojson.FeatureCollection, error) {
	res := r.Result()
	if res == nil {
		return nil, fmt.Errorf("run %s has not completed", r.id)
	}
	return res.Sites, nil
}

// Polygons renders the polygon layer of the run's store filtered by types.
func (r *Run) Polygons(_ context.Context, types ...string) (*geojson.FeatureCollection, error) {
	fc := r.store.PolygonGeoJSON(types...)
	dropProperties(fc, r.opts.DropProperties)
	return fc, nil
}
