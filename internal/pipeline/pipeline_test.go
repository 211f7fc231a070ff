package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"odmcore/internal/blob"
	"odmcore/internal/config"
	"odmcore/internal/core"
	"odmcore/internal/signal"
	fixtures "odmcore/testutil"
)

func date(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

func dataset() *fixtures.Tables {
	return fixtures.Dataset(fixtures.DatasetOptions{Seed: 21, Sites: 2, Weeks: 8, Start: date(2021, 3, 1)})
}

func TestExecuteWritesAndPublishesLayers(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := blob.NewMemory()
	metrics := &recorder{ops: map[string]int{}}
	run := New(Options{
		Window:         signal.Window{Start: date(2021, 2, 28), End: date(2021, 5, 2)},
		PolygonTypes:   []string{"SWRCAT"},
		DropProperties: []string{"description"},
		OutputDir:      dir,
		CSVPrefix:      "qc",
		Blob:           store,
		Promote:        true,
		Metrics:        metrics,
		Now:            func() time.Time { return date(2021, 6, 1) },
	})

	res, err := run.Execute(ctx, dataset())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.RunID != run.ID() || res.Samples < 16 {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(res.Sites.Features) != 2 || len(res.Polygons.Features) != 1 {
		t.Fatalf("expected 2 sites and 1 polygon, got %d and %d", len(res.Sites.Features), len(res.Polygons.Features))
	}
	for _, f := range res.Sites.Features {
		if _, ok := f.Properties["description"]; ok {
			t.Fatalf("dropped property still present: %v", f.Properties)
		}
	}

	// Two layers plus one CSV per non-empty table.
	if len(res.Files) < 2+4 {
		t.Fatalf("expected layers and csv files, got %v", res.Files)
	}
	raw, err := os.ReadFile(filepath.Join(dir, "sites.geojson"))
	if err != nil {
		t.Fatalf("read layer: %v", err)
	}
	var decoded struct {
		Type     string            `json:"type"`
		Features []json.RawMessage `json:"features"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil || decoded.Type != "FeatureCollection" || len(decoded.Features) != 2 {
		t.Fatalf("unexpected site layer file: %v %+v", err, decoded.Type)
	}
	if _, err := os.Stat(filepath.Join(dir, "qc_Sample.csv")); err != nil {
		t.Fatalf("csv export missing: %v", err)
	}

	if res.Manifest == nil || len(res.Manifest.Artifacts) != len(res.Files) {
		t.Fatalf("manifest must list every written file")
	}
	runs, err := blob.Runs(ctx, store)
	if err != nil || len(runs) != 1 || runs[0] != run.ID() {
		t.Fatalf("unexpected runs %v %v", runs, err)
	}
	info, rc, err := store.Get(ctx, blob.LatestPrefix+"polygons.geojson")
	if err != nil {
		t.Fatalf("promoted layer missing: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if info.ContentType != "application/geo+json" || !strings.Contains(string(body), "qc_swrcat_01") {
		t.Fatalf("unexpected promoted polygons %s %s", info.ContentType, body)
	}

	if metrics.ops["pipeline_execute"] != 1 || metrics.ops["pipeline_publish"] != 1 || metrics.ops["append"] != 1 {
		t.Fatalf("unexpected operations %v", metrics.ops)
	}

	sites, err := run.Sites(ctx)
	if err != nil || sites != res.Sites {
		t.Fatalf("run must serve its last site layer")
	}
	if fc, _ := run.Polygons(ctx, "other"); len(fc.Features) != 0 {
		t.Fatalf("type filter must apply")
	}
}

type recorder struct {
	mu  sync.Mutex
	ops map[string]int
}

func (r *recorder) Observe(_ context.Context, op string, success bool, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if success {
		r.ops[op]++
	}
}

func TestExecuteRejectsInvalidSource(t *testing.T) {
	run := New(Options{})
	bad := fixtures.NewTables()
	bad.Invalid = true
	_, err := run.Execute(context.Background(), dataset(), bad)
	if !errors.Is(err, core.ErrInvalidData) {
		t.Fatalf("expected invalid data, got %v", err)
	}
	if run.Result() != nil {
		t.Fatalf("failed run must not expose a result")
	}
	if _, err := run.Sites(context.Background()); err == nil {
		t.Fatalf("sites before completion must fail")
	}
	// Sources accepted before the rejected one stay committed.
	if run.Store().Len("Sample") != 16 {
		t.Fatalf("expected first source committed, got %d samples", run.Store().Len("Sample"))
	}
}

func TestRunsAreIndependent(t *testing.T) {
	a, b := New(Options{}), New(Options{})
	if a.ID() == b.ID() || a.Store() == b.Store() {
		t.Fatalf("runs must not share identity or state")
	}
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Window.Start = "2021-03-01"
	cfg.Blob.Publish = true
	cfg.Blob.Driver = blob.DriverMemory
	cfg.Output.PolygonTypes = []string{"swrCat"}
	opts, err := OptionsFromConfig(context.Background(), cfg, nil, nil)
	if err != nil {
		t.Fatalf("options: %v", err)
	}
	if !opts.Window.Start.Equal(date(2021, 3, 1)) || opts.Threshold != signal.DefaultThreshold {
		t.Fatalf("unexpected options %+v", opts)
	}
	if opts.Blob == nil || opts.Blob.Driver() != blob.DriverMemory {
		t.Fatalf("blob store must be opened when publishing")
	}
	cfg.Window.Start = "bad"
	if _, err := OptionsFromConfig(context.Background(), cfg, nil, nil); err == nil {
		t.Fatalf("expected window error")
	}
}
