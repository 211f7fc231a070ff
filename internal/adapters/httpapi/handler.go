// Package httpapi serves the site and polygon layers, the severity legend,
// published run artifacts and Prometheus metrics over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/paulmach/orb/geojson"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"odmcore/internal/blob"
	"odmcore/internal/entitymodel"
	"odmcore/internal/signal"
)

const geoJSONContentType = "application/geo+json"

// Layers provides the rendered layers.
type Layers interface {
	Sites(ctx context.Context) (*geojson.FeatureCollection, error)
	Polygons(ctx context.Context, types ...string) (*geojson.FeatureCollection, error)
}

// Handler routes the API.
type Handler struct {
	Layers    Layers
	Artifacts blob.Store
	Gatherer  prometheus.Gatherer
	Logger    *zap.Logger

	router *mux.Router
}

// NewHandler builds the router. A nil artifacts store disables /runs; a nil
// gatherer serves the default registry.
func NewHandler(layers Layers, artifacts blob.Store, gatherer prometheus.Gatherer, logger *zap.Logger) *Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{Layers: layers, Artifacts: artifacts, Gatherer: gatherer, Logger: logger}
	router := mux.NewRouter()
	router.HandleFunc("/healthz", h.handleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	router.Handle("/schema", entitymodel.NewSchemaHandler()).Methods(http.MethodGet)
	router.HandleFunc("/layers/sites.geojson", h.handleSites).Methods(http.MethodGet)
	router.HandleFunc("/layers/polygons.geojson", h.handlePolygons).Methods(http.MethodGet)
	router.HandleFunc("/layers/legend", h.handleLegend).Methods(http.MethodGet)
	router.HandleFunc("/runs", h.handleRuns).Methods(http.MethodGet)
	router.HandleFunc("/runs/{id}/{name}", h.handleArtifact).Methods(http.MethodGet)
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	h.router = router
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"schema_version": entitymodel.Version(),
	})
}

func (h *Handler) handleSites(w http.ResponseWriter, r *http.Request) {
	if h.Layers == nil {
		writeError(w, http.StatusServiceUnavailable, "layers not configured")
		return
	}
	fc, err := h.Layers.Sites(r.Context())
	if err != nil {
		h.Logger.Warn("site layer unavailable", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeGeoJSON(w, fc)
}

// polygonTypes accepts repeated and comma separated type parameters.
func polygonTypes(r *http.Request) []string {
	var out []string
	for _, raw := range r.URL.Query()["type"] {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				out = append(out, t)
			}
		}
	}
	return out
}

func (h *Handler) handlePolygons(w http.ResponseWriter, r *http.Request) {
	if h.Layers == nil {
		writeError(w, http.StatusServiceUnavailable, "layers not configured")
		return
	}
	fc, err := h.Layers.Polygons(r.Context(), polygonTypes(r)...)
	if err != nil {
		h.Logger.Warn("polygon layer unavailable", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeGeoJSON(w, fc)
}

func (h *Handler) handleLegend(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"levels": signal.Levels})
}

func (h *Handler) handleRuns(w http.ResponseWriter, r *http.Request) {
	if h.Artifacts == nil {
		writeError(w, http.StatusNotFound, "artifact store not configured")
		return
	}
	ids, err := blob.Runs(r.Context(), h.Artifacts)
	if err != nil {
		h.Logger.Error("list runs", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list runs failed")
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": ids})
}

func (h *Handler) handleArtifact(w http.ResponseWriter, r *http.Request) {
	if h.Artifacts == nil {
		writeError(w, http.StatusNotFound, "artifact store not configured")
		return
	}
	vars := mux.Vars(r)
	pub, err := blob.NewPublisher(h.Artifacts, vars["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	info, rc, err := h.Artifacts.Get(r.Context(), pub.Key(vars["name"]))
	switch {
	case errors.Is(err, blob.ErrNotFound):
		writeError(w, http.StatusNotFound, "artifact not found")
		return
	case err != nil:
		h.Logger.Error("read artifact", zap.String("key", pub.Key(vars["name"])), zap.Error(err))
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer func() { _ = rc.Close() }()
	if info.ContentType != "" {
		w.Header().Set("Content-Type", info.ContentType)
	}
	if info.ETag != "" {
		w.Header().Set("ETag", info.ETag)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, rc)
}

func writeGeoJSON(w http.ResponseWriter, fc *geojson.FeatureCollection) {
	body, err := json.Marshal(fc)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", geoJSONContentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}
