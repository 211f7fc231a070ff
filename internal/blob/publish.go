package blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"
)

const (
	// RunsPrefix holds one directory per pipeline run.
	RunsPrefix = "runs/"
	// LatestPrefix mirrors the artifacts of the most recently promoted run.
	LatestPrefix = "latest/"
	// ManifestName is the per-run index written by Publisher.Finish.
	ManifestName = "manifest.json"
)

// Publisher writes the artifacts of one run under runs/<run-id>/.
type Publisher struct {
	store Store
	runID string
	now   func() time.Time
	names []string
}

// NewPublisher scopes store to runID.
func NewPublisher(store Store, runID string) (*Publisher, error) {
	if strings.TrimSpace(runID) == "" || strings.Contains(runID, "/") {
		return nil, fmt.Errorf("invalid run id %q", runID)
	}
	return &Publisher{store: store, runID: runID, now: func() time.Time { return time.Now().UTC() }}, nil
}

// RunID returns the run identifier.
func (p *Publisher) RunID() string { return p.runID }

// Key returns the store key of a run artifact.
func (p *Publisher) Key(name string) string { return RunsPrefix + p.runID + "/" + name }

// Put writes one artifact. Run artifacts are create-only.
func (p *Publisher) Put(ctx context.Context, name string, r io.Reader, contentType string) (Info, error) {
	info, err := p.store.Put(ctx, p.Key(name), r, PutOptions{
		ContentType: contentType,
		Metadata:    map[string]string{"run-id": p.runID},
	})
	if err != nil {
		return Info{}, fmt.Errorf("publish %s: %w", name, err)
	}
	p.names = append(p.names, name)
	return info, nil
}

// PutJSON encodes v and writes it as name.
func (p *Publisher) PutJSON(ctx context.Context, name string, v any) (Info, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Info{}, fmt.Errorf("encode %s: %w", name, err)
	}
	return p.Put(ctx, name, bytes.NewReader(b), ContentTypeFor(name))
}

// Manifest describes a finished run.
type Manifest struct {
	RunID      string    `json:"run_id"`
	FinishedAt time.Time `json:"finished_at"`
	Artifacts  []Info    `json:"artifacts"`
}

// Finish writes the run manifest listing every artifact put so far.
func (p *Publisher) Finish(ctx context.Context) (Manifest, error) {
	m := Manifest{RunID: p.runID, FinishedAt: p.now()}
	for _, name := range p.names {
		info, err := p.store.Head(ctx, p.Key(name))
		if err != nil {
			return Manifest{}, err
		}
		m.Artifacts = append(m.Artifacts, info)
	}
	if _, err := p.PutJSON(ctx, ManifestName, m); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// Promote copies the named run artifacts to latest/, replacing what was
// there.
func (p *Publisher) Promote(ctx context.Context, names ...string) error {
	for _, name := range names {
		info, rc, err := p.store.Get(ctx, p.Key(name))
		if err != nil {
			return err
		}
		_, err = p.store.Put(ctx, LatestPrefix+name, rc, PutOptions{
			ContentType: info.ContentType,
			Metadata:    map[string]string{"run-id": p.runID},
			Replace:     true,
		})
		_ = rc.Close()
		if err != nil {
			return fmt.Errorf("promote %s: %w", name, err)
		}
	}
	return nil
}

// Runs lists the run identifiers present in store, sorted.
func Runs(ctx context.Context, store Store) ([]string, error) {
	infos, err := store.List(ctx, RunsPrefix)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var ids []string
	for _, info := range infos {
		id, _, ok := strings.Cut(strings.TrimPrefix(info.Key, RunsPrefix), "/")
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// ContentTypeFor guesses the content type of an artifact from its extension.
func ContentTypeFor(name string) string {
	switch path.Ext(name) {
	case ".geojson":
		return "application/geo+json"
	case ".json":
		return "application/json"
	case ".csv":
		return "text/csv"
	default:
		return "application/octet-stream"
	}
}
