// Package visassets fetches and stores the asset bundles (manifest, data
// files, preview image) referenced from the state document.
package visassets

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/abr-vis/abr-server/core/infra/logging"
	"github.com/abr-vis/abr-server/core/infra/metrics"
	"github.com/abr-vis/abr-server/core/notify"
)

const (
	// ManifestName is the manifest filename inside every asset directory.
	ManifestName = "artifact.json"
	// PreviewName is the synthesized preview for local colormap assets.
	PreviewName = "thumbnail.png"

	// TargetSaveLocal is the inbound message target that asks the
	// pipeline to materialize a locally defined asset.
	TargetSaveLocal notify.Target = "save-local-visasset"

	previewWidth  = 200
	previewHeight = 30
)

// Manager resolves asset identifiers against a set of library hosts and
// owns the on-disk asset directories.
type Manager struct {
	root      string
	libraries []string
	client    *http.Client
	workers   int
	metrics   metrics.Metrics
}

// NewManager creates a Manager rooted at dir, searching the given default
// library. workers bounds concurrent file transfers.
func NewManager(dir, library string, workers int, m metrics.Metrics) *Manager {
	if workers <= 0 {
		workers = 8
	}
	if m == nil {
		m = metrics.Noop{}
	}
	mgr := &Manager{
		root:    dir,
		client:  http.DefaultClient,
		workers: workers,
		metrics: m,
	}
	if library != "" {
		mgr.libraries = []string{library}
	}
	return mgr
}

// Dir returns the on-disk directory for an asset identifier.
func (m *Manager) Dir(id string) string {
	return filepath.Join(m.root, id)
}

// IsLocal reports whether the asset's manifest is already on disk.
func (m *Manager) IsLocal(id string) bool {
	_, err := os.Stat(filepath.Join(m.Dir(id), ManifestName))
	return err == nil
}

// Download fetches an asset's manifest, preview and every data file it
// declares, from each known library plus the optional extra one. Files
// already on disk are not re-fetched. It returns the union of per-file
// failures across all attempted libraries; an empty result means the asset
// is fully resolved. Failures never abort sibling downloads.
func (m *Manager) Download(id, extraLibrary string) []string {
	libraries := append([]string(nil), m.libraries...)
	if extraLibrary != "" && !contains(libraries, extraLibrary) {
		libraries = append(libraries, extraLibrary)
	}

	var failed []string
	for _, host := range libraries {
		failed = append(failed, m.downloadFrom(host, id)...)
	}
	return failed
}

func (m *Manager) downloadFrom(host, id string) []string {
	vaDir := m.Dir(id)
	manifestPath := filepath.Join(vaDir, ManifestName)
	vaURL := strings.TrimSuffix(host, "/") + "/" + id + "/"

	if !m.fetchIfMissing(vaURL+ManifestName, manifestPath) {
		return []string{manifestPath}
	}

	// #nosec G304 -- manifest lives in our own asset directory.
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return []string{manifestPath}
	}
	var manifest map[string]any
	if err := json.Unmarshal(data, &manifest); err != nil {
		logging.Error("visassets", "bad manifest", "id", id, "error", err)
		return []string{manifestPath}
	}

	var failed []string
	if preview, ok := manifest["preview"].(string); ok && preview != "" {
		previewPath := filepath.Join(vaDir, preview)
		if !m.fetchIfMissing(vaURL+preview, previewPath) {
			failed = append(failed, previewPath)
		}
	}

	files := collectStrings(manifest["artifactData"], nil)

	var wg sync.WaitGroup
	var mu sync.Mutex
	sem := make(chan struct{}, m.workers)
	for _, name := range files {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			if !m.fetchIfMissing(vaURL+name, filepath.Join(vaDir, name)) {
				mu.Lock()
				failed = append(failed, name)
				mu.Unlock()
			}
		}(name)
	}
	wg.Wait()
	return failed
}

// fetchIfMissing downloads url into path unless path already exists.
func (m *Manager) fetchIfMissing(url, path string) bool {
	if _, err := os.Stat(path); err == nil {
		return true
	}
	resp, err := m.client.Get(url)
	if err != nil {
		m.metrics.IncDownloads("failed")
		logging.Warn("visassets", "download failed", "url", url, "error", err)
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		m.metrics.IncDownloads("failed")
		return false
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		m.metrics.IncDownloads("failed")
		return false
	}
	f, err := os.Create(path)
	if err != nil {
		m.metrics.IncDownloads("failed")
		return false
	}
	defer f.Close()
	if _, err := io.Copy(f, resp.Body); err != nil {
		m.metrics.IncDownloads("failed")
		os.Remove(path)
		return false
	}
	m.metrics.IncDownloads("ok")
	return true
}

// SaveLocal writes an inline asset (manifest plus filename -> contents) to a
// fresh asset directory under a newly generated identifier. For colormap
// assets it synthesizes a preview raster; the returned bool reports whether
// a preview was produced.
func (m *Manager) SaveLocal(payload map[string]any) (bool, error) {
	manifest, ok := payload["artifactJson"].(map[string]any)
	if !ok {
		return false, fmt.Errorf("payload has no artifactJson")
	}
	contents, ok := payload["artifactDataContents"].(map[string]any)
	if !ok {
		return false, fmt.Errorf("payload has no artifactDataContents")
	}

	newID := uuid.New().String()
	manifest = copyManifest(manifest)
	manifest["uuid"] = newID

	vaDir := m.Dir(newID)
	if err := os.MkdirAll(vaDir, 0o755); err != nil {
		return false, fmt.Errorf("create asset dir: %w", err)
	}
	data, err := json.Marshal(manifest)
	if err != nil {
		return false, fmt.Errorf("marshal manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(vaDir, ManifestName), data, 0o644); err != nil {
		return false, fmt.Errorf("write manifest: %w", err)
	}
	for name, body := range contents {
		text, ok := body.(string)
		if !ok {
			return false, fmt.Errorf("content %s is not a string", name)
		}
		if err := os.WriteFile(filepath.Join(vaDir, name), []byte(text), 0o644); err != nil {
			return false, fmt.Errorf("write %s: %w", name, err)
		}
	}

	kind, _ := manifest["type"].(string)
	if kind != "colormap" {
		return false, nil
	}
	xmlBody, ok := contents["colormap.xml"].(string)
	if !ok {
		return false, fmt.Errorf("colormap asset has no colormap.xml")
	}
	cm, err := parseColormapXML([]byte(xmlBody))
	if err != nil {
		return false, err
	}
	if err := cm.writePNG(filepath.Join(vaDir, PreviewName), previewWidth, previewHeight); err != nil {
		return false, err
	}
	logging.Info("visassets", "saved local asset", "id", newID)
	return true, nil
}

// List returns the manifest of every asset currently on disk, keyed by
// asset identifier. Directories without a readable manifest are skipped.
func (m *Manager) List() map[string]map[string]any {
	out := map[string]map[string]any{}
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return out
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		// #nosec G304 -- paths stay inside the asset root.
		data, err := os.ReadFile(filepath.Join(m.root, e.Name(), ManifestName))
		if err != nil {
			continue
		}
		var manifest map[string]any
		if err := json.Unmarshal(data, &manifest); err != nil {
			logging.Warn("visassets", "unreadable manifest", "id", e.Name())
			continue
		}
		out[e.Name()] = manifest
	}
	return out
}

// Remove deletes an asset's directory tree. Removing an absent asset is a
// no-op.
func (m *Manager) Remove(id string) error {
	if id == "" {
		return fmt.Errorf("asset id required")
	}
	return os.RemoveAll(m.Dir(id))
}

// RegisterWith subscribes the pipeline to inbound local-save messages. The
// lookup resolves an asset id to its inline payload in the current state.
func (m *Manager) RegisterWith(n *notify.Notifier, lookup func(id string) (map[string]any, bool)) {
	n.AddAction(TargetSaveLocal, func(msg map[string]any, senderID uuid.UUID) {
		id, _ := msg["uuid"].(string)
		payload, ok := lookup(id)
		if !ok {
			logging.Error("visassets", "local asset not in state", "id", id)
			return
		}
		preview, err := m.SaveLocal(payload)
		if err != nil {
			logging.Error("visassets", "local save failed", "id", id, "error", err)
			return
		}
		if !preview {
			logging.Error("visassets", "local save produced no preview", "id", id)
			return
		}
		n.Notify(notify.NewMessage(notify.TargetVisAssetsCache))
	})
}

// collectStrings gathers every string leaf under a manifest subtree.
func collectStrings(v any, out []string) []string {
	switch t := v.(type) {
	case string:
		out = append(out, t)
	case []any:
		for _, item := range t {
			out = collectStrings(item, out)
		}
	case map[string]any:
		for _, item := range t {
			out = collectStrings(item, out)
		}
	}
	return out
}

func copyManifest(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
