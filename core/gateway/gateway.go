// Package gateway exposes the state server over HTTP and WebSocket.
package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/abr-vis/abr-server/core/infra/config"
	"github.com/abr-vis/abr-server/core/infra/logging"
	"github.com/abr-vis/abr-server/core/infra/metrics"
	"github.com/abr-vis/abr-server/core/infra/schema"
	"github.com/abr-vis/abr-server/core/notify"
	"github.com/abr-vis/abr-server/core/state"
	"github.com/abr-vis/abr-server/core/visassets"
)

// LatestThumbnailName is the filename of the most recently pushed render
// preview.
const LatestThumbnailName = "latest-thumbnail.png"

// Options collects the collaborators a Server needs.
type Options struct {
	Config   *config.Config
	Store    *state.Store
	Notifier *notify.Notifier
	Assets   *visassets.Manager
	Schemas  *schema.Registry
	Metrics  metrics.GatewayMetrics
}

// Server routes API requests to the state store, the schema registry and the
// asset pipeline.
type Server struct {
	cfg      *config.Config
	store    *state.Store
	notifier *notify.Notifier
	assets   *visassets.Manager
	schemas  *schema.Registry
	metrics  metrics.GatewayMetrics
	receive  *schema.Validator
}

// New builds a Server. The receive validator checks inbound WebSocket
// messages; pass nil to skip validation.
func New(opts Options) *Server {
	s := &Server{
		cfg:      opts.Config,
		store:    opts.Store,
		notifier: opts.Notifier,
		assets:   opts.Assets,
		schemas:  opts.Schemas,
		metrics:  opts.Metrics,
	}
	if opts.Schemas != nil && opts.Config != nil {
		if v, ok := opts.Schemas.Validator(opts.Config.ReceiveSchema); ok {
			s.receive = v
		}
	}
	s.registerActions()
	return s
}

// Handler returns the full route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "Nothing to see here; this URL is for computers")
	})

	mux.HandleFunc("GET /api/state/", s.instrumented("/api/state", s.handleGetState))
	mux.HandleFunc("GET /api/state", s.instrumented("/api/state", s.handleGetState))
	mux.HandleFunc("PUT /api/state/", s.instrumented("/api/state", s.handlePutState))
	mux.HandleFunc("PUT /api/state", s.instrumented("/api/state", s.handlePutState))
	mux.HandleFunc("DELETE /api/remove-path/", s.instrumented("/api/remove-path", s.handleRemovePath))
	mux.HandleFunc("DELETE /api/remove/{value}", s.instrumented("/api/remove/{value}", s.handleRemoveAll))
	mux.HandleFunc("POST /api/undo", s.instrumented("/api/undo", s.handleUndo))
	mux.HandleFunc("POST /api/redo", s.instrumented("/api/redo", s.handleRedo))

	mux.HandleFunc("GET /api/schemas/{name}", s.instrumented("/api/schemas/{name}", s.handleGetSchema))

	mux.HandleFunc("GET /api/list-states", s.instrumented("/api/list-states", s.handleListStates))
	mux.HandleFunc("POST /api/save-state/{name}", s.instrumented("/api/save-state/{name}", s.handleSaveState))
	mux.HandleFunc("PUT /api/load-state/{name}", s.instrumented("/api/load-state/{name}", s.handleLoadState))
	mux.HandleFunc("DELETE /api/delete-state/{name}", s.instrumented("/api/delete-state/{name}", s.handleDeleteState))
	mux.HandleFunc("GET /api/thumbnail", s.instrumented("/api/thumbnail", s.handleThumbnail))
	mux.HandleFunc("GET /api/thumbnail/{name}", s.instrumented("/api/thumbnail/{name}", s.handleThumbnail))

	mux.HandleFunc("GET /api/visassets", s.instrumented("/api/visassets", s.handleListVisAssets))
	mux.HandleFunc("GET /api/datasets", s.instrumented("/api/datasets", s.handleListDatasets))
	mux.HandleFunc("POST /api/download-visasset/{uuid}", s.instrumented("/api/download-visasset/{uuid}", s.handleDownloadVisAsset))
	mux.HandleFunc("DELETE /api/remove-visasset/{uuid}", s.instrumented("/api/remove-visasset/{uuid}", s.handleRemoveVisAsset))
	mux.HandleFunc("POST /api/save-local-visasset/{uuid}", s.instrumented("/api/save-local-visasset/{uuid}", s.handleSaveLocalVisAsset))

	mux.HandleFunc("/ws", s.handleWS)

	return corsMiddleware(mux)
}

// ---- state handlers ----

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	path := state.ParsePath("/api/state", r.URL.Path)
	// An absent path reads as null, not as an error.
	value, _ := s.store.Get(path)
	writeJSON(w, map[string]any{"state": value})
}

func (s *Server) handlePutState(w http.ResponseWriter, r *http.Request) {
	path := state.ParsePath("/api/state", r.URL.Path)
	var value any
	if err := json.NewDecoder(r.Body).Decode(&value); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if err := s.store.Set(path, value); err != nil {
		writeStateError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleRemovePath(w http.ResponseWriter, r *http.Request) {
	path := state.ParsePath("/api/remove-path", r.URL.Path)
	if err := s.store.Remove(path); err != nil {
		writeStateError(w, err)
		return
	}
	fmt.Fprint(w, "OK")
}

func (s *Server) handleRemoveAll(w http.ResponseWriter, r *http.Request) {
	if err := s.store.RemoveAll(r.PathValue("value")); err != nil {
		writeStateError(w, err)
		return
	}
	fmt.Fprint(w, "OK")
}

func (s *Server) handleUndo(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Undo(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleRedo(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Redo(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func writeStateError(w http.ResponseWriter, err error) {
	var verr *schema.ValidationError
	if errors.As(err, &verr) {
		http.Error(w, verr.Error(), http.StatusBadRequest)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

// ---- schema handlers ----

func (s *Server) handleGetSchema(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	data, ok := s.schemas.Get(name)
	if !ok {
		http.Error(w, "Schema not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/schema+json")
	w.Write(data)
}

// ---- saved state handlers ----

func (s *Server) handleListStates(w http.ResponseWriter, r *http.Request) {
	var states []string
	entries, err := os.ReadDir(s.cfg.StatesDir())
	if err == nil {
		for _, e := range entries {
			if !e.IsDir() {
				states = append(states, e.Name())
			}
		}
	}
	sort.Strings(states)
	if states == nil {
		states = []string{}
	}
	writeJSON(w, map[string]any{"states": states})
}

func (s *Server) handleSaveState(w http.ResponseWriter, r *http.Request) {
	name, err := stateFileName(r.PathValue("name"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := os.MkdirAll(s.cfg.StatesDir(), 0o755); err != nil {
		http.Error(w, "Error saving state: "+name, http.StatusBadRequest)
		return
	}
	doc := s.store.Snapshot()
	data, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		http.Error(w, "Error saving state: "+name, http.StatusBadRequest)
		return
	}
	path := filepath.Join(s.cfg.StatesDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		http.Error(w, "Error saving state: "+name, http.StatusBadRequest)
		return
	}
	logging.Info("gateway", "saved state", "name", name)

	// Keep a thumbnail alongside the saved state when one exists.
	latest := filepath.Join(s.cfg.ThumbnailDir(), LatestThumbnailName)
	if data, err := os.ReadFile(latest); err == nil {
		dst := filepath.Join(s.cfg.ThumbnailDir(), strings.TrimSuffix(name, ".json")+".png")
		if err := os.WriteFile(dst, data, 0o644); err != nil {
			logging.Warn("gateway", "thumbnail copy failed", "name", name, "error", err)
		}
	}
	fmt.Fprint(w, "Saved state "+name)
}

func (s *Server) handleLoadState(w http.ResponseWriter, r *http.Request) {
	name, err := stateFileName(r.PathValue("name"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	// #nosec G304 -- name is validated against traversal above.
	data, err := os.ReadFile(filepath.Join(s.cfg.StatesDir(), name))
	if err != nil {
		http.Error(w, "State does not exist: "+name, http.StatusNotFound)
		return
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		http.Error(w, "State file is not valid JSON: "+name, http.StatusBadRequest)
		return
	}
	if err := s.store.Set(nil, doc); err != nil {
		writeStateError(w, err)
		return
	}
	logging.Info("gateway", "loaded state", "name", name)
	fmt.Fprint(w, "Loaded state "+name)
}

func (s *Server) handleDeleteState(w http.ResponseWriter, r *http.Request) {
	name, err := stateFileName(r.PathValue("name"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := os.Remove(filepath.Join(s.cfg.StatesDir(), name)); err != nil {
		http.Error(w, "State does not exist: "+name, http.StatusNotFound)
		return
	}
	fmt.Fprint(w, "Deleted state "+name)
}

func (s *Server) handleThumbnail(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if name == "" {
		name = LatestThumbnailName
	}
	if !validFileName(name) {
		http.Error(w, "invalid thumbnail name", http.StatusBadRequest)
		return
	}
	// #nosec G304 -- name is validated against traversal above.
	data, err := os.ReadFile(filepath.Join(s.cfg.ThumbnailDir(), name))
	if err != nil {
		http.Error(w, "Error loading thumbnail "+name, http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Write(data)
}

// ---- visasset and dataset handlers ----

func (s *Server) handleListVisAssets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.assets.List())
}

func (s *Server) handleListDatasets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, listDatasets(s.cfg.DatasetDir()))
}

func (s *Server) handleDownloadVisAsset(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("uuid")

	// The body may carry an alternate library to search.
	var req struct {
		HostPath string `json:"hostPath"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	failed := s.assets.Download(id, req.HostPath)
	if len(failed) > 0 {
		http.Error(w, fmt.Sprintf("Failed to download files: %v", failed), http.StatusInternalServerError)
		return
	}
	s.notifier.AnnounceVisAssetsCache()
	fmt.Fprint(w, "Downloaded files")
}

func (s *Server) handleRemoveVisAsset(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("uuid")
	if err := s.assets.Remove(id); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.notifier.AnnounceVisAssetsCache()
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleSaveLocalVisAsset(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("uuid")
	value, ok := s.store.Get([]string{"localVisAssets", id})
	if !ok {
		http.Error(w, "Unable to save Local VisAsset", http.StatusBadRequest)
		return
	}
	payload, ok := value.(map[string]any)
	if !ok {
		http.Error(w, "Unable to save Local VisAsset", http.StatusBadRequest)
		return
	}
	preview, err := s.assets.SaveLocal(payload)
	if err != nil {
		logging.Error("gateway", "local asset save failed", "id", id, "error", err)
		http.Error(w, "Unable to save Local VisAsset", http.StatusBadRequest)
		return
	}
	if !preview {
		// Only assets with a synthesized preview count as complete.
		http.Error(w, "Unable to save Local VisAsset", http.StatusBadRequest)
		return
	}
	s.notifier.AnnounceVisAssetsCache()
	fmt.Fprint(w, "Saved visasset")
}

// listDatasets walks organization/dataset/KeyData and returns the metadata of
// every keydata header file, keyed by organization then dataset.
func listDatasets(root string) map[string]any {
	out := map[string]any{}
	orgs, err := os.ReadDir(root)
	if err != nil {
		return out
	}
	for _, org := range orgs {
		if !org.IsDir() {
			continue
		}
		orgData := map[string]any{}
		datasets, err := os.ReadDir(filepath.Join(root, org.Name()))
		if err != nil {
			continue
		}
		for _, ds := range datasets {
			if !ds.IsDir() {
				continue
			}
			keyDataDir := filepath.Join(root, org.Name(), ds.Name(), "KeyData")
			files, err := os.ReadDir(keyDataDir)
			if err != nil {
				continue
			}
			keyData := map[string]any{}
			for _, f := range files {
				if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
					continue
				}
				// #nosec G304 -- paths stay inside the dataset root.
				data, err := os.ReadFile(filepath.Join(keyDataDir, f.Name()))
				if err != nil {
					continue
				}
				var header map[string]any
				if err := json.Unmarshal(data, &header); err != nil {
					continue
				}
				keyData[strings.TrimSuffix(f.Name(), ".json")] = header
			}
			orgData[ds.Name()] = keyData
		}
		out[org.Name()] = orgData
	}
	return out
}

// ---- plumbing ----

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func stateFileName(name string) (string, error) {
	if !validFileName(name) {
		return "", fmt.Errorf("invalid state name")
	}
	if !strings.HasSuffix(name, ".json") {
		name += ".json"
	}
	return name, nil
}

func validFileName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, "/\\")
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrumented(route string, fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		fn(rec, r)
		if s.metrics != nil {
			s.metrics.ObserveRequest(r.Method, route, fmt.Sprintf("%d", rec.status), time.Since(start).Seconds())
		}
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := strings.TrimSpace(r.Header.Get("Origin")); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, PUT, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
