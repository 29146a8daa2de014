package visassets

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/abr-vis/abr-server/core/infra/metrics"
	"github.com/abr-vis/abr-server/core/notify"
)

func newLibraryServer(t *testing.T, files map[string]string) *httptest.Server {
	t.Helper()
	var mu sync.Mutex
	hits := map[string]int{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits[r.URL.Path]++
		mu.Unlock()
		body, ok := files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testManifest(t *testing.T) string {
	t.Helper()
	manifest := map[string]any{
		"uuid":    "abc123",
		"type":    "glyph",
		"preview": "preview.png",
		"artifactData": map[string]any{
			"lod0": []any{"mesh.obj", "normals.obj"},
		},
	}
	data, err := json.Marshal(manifest)
	if err != nil {
		t.Fatalf("marshal manifest: %v", err)
	}
	return string(data)
}

func TestDownloadFetchesAllFiles(t *testing.T) {
	srv := newLibraryServer(t, map[string]string{
		"/abc123/artifact.json": testManifest(t),
		"/abc123/preview.png":   "png-bytes",
		"/abc123/mesh.obj":      "mesh",
		"/abc123/normals.obj":   "normals",
	})
	root := t.TempDir()
	mgr := NewManager(root, srv.URL, 4, metrics.Noop{})

	failed := mgr.Download("abc123", "")
	if len(failed) != 0 {
		t.Fatalf("expected no failures, got %v", failed)
	}
	for _, name := range []string{"artifact.json", "preview.png", "mesh.obj", "normals.obj"} {
		if _, err := os.Stat(filepath.Join(root, "abc123", name)); err != nil {
			t.Fatalf("missing %s: %v", name, err)
		}
	}
	if !mgr.IsLocal("abc123") {
		t.Fatalf("asset should report local after download")
	}
}

func TestDownloadSkipsExistingFiles(t *testing.T) {
	root := t.TempDir()
	vaDir := filepath.Join(root, "abc123")
	if err := os.MkdirAll(vaDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(vaDir, "mesh.obj"), []byte("existing"), 0o644); err != nil {
		t.Fatal(err)
	}

	// mesh.obj is deliberately absent from the server: a re-fetch would fail.
	srv := newLibraryServer(t, map[string]string{
		"/abc123/artifact.json": testManifest(t),
		"/abc123/preview.png":   "png-bytes",
		"/abc123/normals.obj":   "normals",
	})
	mgr := NewManager(root, srv.URL, 4, metrics.Noop{})

	failed := mgr.Download("abc123", "")
	if len(failed) != 0 {
		t.Fatalf("expected no failures, got %v", failed)
	}
	data, err := os.ReadFile(filepath.Join(vaDir, "mesh.obj"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "existing" {
		t.Fatalf("existing file was overwritten: %q", data)
	}
}

func TestDownloadAccumulatesFailures(t *testing.T) {
	srv := newLibraryServer(t, map[string]string{
		"/abc123/artifact.json": testManifest(t),
		"/abc123/preview.png":   "png-bytes",
		"/abc123/mesh.obj":      "mesh",
		// normals.obj missing on purpose.
	})
	mgr := NewManager(t.TempDir(), srv.URL, 4, metrics.Noop{})

	failed := mgr.Download("abc123", "")
	if len(failed) != 1 || failed[0] != "normals.obj" {
		t.Fatalf("expected normals.obj to fail, got %v", failed)
	}
}

func TestDownloadMissingManifest(t *testing.T) {
	srv := newLibraryServer(t, map[string]string{})
	mgr := NewManager(t.TempDir(), srv.URL, 4, metrics.Noop{})

	failed := mgr.Download("nope", "")
	if len(failed) != 1 {
		t.Fatalf("expected the manifest fetch to fail, got %v", failed)
	}
}

func TestDownloadExtraLibrary(t *testing.T) {
	srv := newLibraryServer(t, map[string]string{
		"/abc123/artifact.json": testManifest(t),
		"/abc123/preview.png":   "png-bytes",
		"/abc123/mesh.obj":      "mesh",
		"/abc123/normals.obj":   "normals",
	})
	// No default library at all; only the per-call one resolves anything.
	mgr := NewManager(t.TempDir(), "", 4, metrics.Noop{})

	failed := mgr.Download("abc123", srv.URL)
	if len(failed) != 0 {
		t.Fatalf("expected no failures, got %v", failed)
	}
}

func TestSaveLocalColormap(t *testing.T) {
	root := t.TempDir()
	mgr := NewManager(root, "", 4, metrics.Noop{})

	preview, err := mgr.SaveLocal(map[string]any{
		"artifactJson": map[string]any{
			"uuid": "original-id",
			"type": "colormap",
		},
		"artifactDataContents": map[string]any{
			"colormap.xml": sampleColormapXML,
		},
	})
	if err != nil {
		t.Fatalf("SaveLocal: %v", err)
	}
	if !preview {
		t.Fatalf("colormap save should produce a preview")
	}

	assets := mgr.List()
	if len(assets) != 1 {
		t.Fatalf("expected 1 asset, got %d", len(assets))
	}
	for id, manifest := range assets {
		if manifest["uuid"] != id {
			t.Fatalf("manifest uuid %v does not match directory %s", manifest["uuid"], id)
		}
		if id == "original-id" {
			t.Fatalf("local save must mint a fresh identifier")
		}
		if _, err := os.Stat(filepath.Join(root, id, PreviewName)); err != nil {
			t.Fatalf("missing preview: %v", err)
		}
		if _, err := os.Stat(filepath.Join(root, id, "colormap.xml")); err != nil {
			t.Fatalf("missing data file: %v", err)
		}
	}
}

func TestSaveLocalNonColormap(t *testing.T) {
	mgr := NewManager(t.TempDir(), "", 4, metrics.Noop{})
	preview, err := mgr.SaveLocal(map[string]any{
		"artifactJson": map[string]any{
			"uuid": "x",
			"type": "glyph",
		},
		"artifactDataContents": map[string]any{
			"mesh.obj": "data",
		},
	})
	if err != nil {
		t.Fatalf("SaveLocal: %v", err)
	}
	if preview {
		t.Fatalf("non-colormap save should not produce a preview")
	}
}

func TestSaveLocalRejectsBadPayload(t *testing.T) {
	mgr := NewManager(t.TempDir(), "", 4, metrics.Noop{})
	if _, err := mgr.SaveLocal(map[string]any{}); err == nil {
		t.Fatalf("expected error for empty payload")
	}
}

func TestRemove(t *testing.T) {
	root := t.TempDir()
	mgr := NewManager(root, "", 4, metrics.Noop{})
	vaDir := filepath.Join(root, "gone")
	if err := os.MkdirAll(vaDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := mgr.Remove("gone"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := os.Stat(vaDir); !os.IsNotExist(err) {
		t.Fatalf("directory should be gone")
	}
	// Removing again is fine.
	if err := mgr.Remove("gone"); err != nil {
		t.Fatalf("second Remove: %v", err)
	}
	if err := mgr.Remove(""); err == nil {
		t.Fatalf("empty id must be rejected")
	}
}

func TestRegisterWithSaveLocalAction(t *testing.T) {
	mgr := NewManager(t.TempDir(), "", 4, metrics.Noop{})
	n := notify.New(metrics.Noop{})

	payloads := map[string]map[string]any{
		"local-1": {
			"artifactJson": map[string]any{
				"uuid": "local-1",
				"type": "colormap",
			},
			"artifactDataContents": map[string]any{
				"colormap.xml": sampleColormapXML,
			},
		},
	}
	mgr.RegisterWith(n, func(id string) (map[string]any, bool) {
		p, ok := payloads[id]
		return p, ok
	})

	sub := &recordingSubscriber{}
	n.Subscribe(sub)

	n.Receive(map[string]any{
		"target": string(TargetSaveLocal),
		"uuid":   "local-1",
	}, uuid.Nil)

	if len(mgr.List()) != 1 {
		t.Fatalf("expected the asset to be saved")
	}
	if got := sub.targets(); len(got) != 1 || got[0] != notify.TargetVisAssetsCache {
		t.Fatalf("expected a cache update announcement, got %v", got)
	}
}

func TestSaveLocalActionWithoutPreviewSkipsAnnouncement(t *testing.T) {
	mgr := NewManager(t.TempDir(), "", 4, metrics.Noop{})
	n := notify.New(metrics.Noop{})

	payloads := map[string]map[string]any{
		"local-2": {
			"artifactJson": map[string]any{
				"uuid": "local-2",
				"type": "glyph",
			},
			"artifactDataContents": map[string]any{
				"mesh.obj": "data",
			},
		},
	}
	mgr.RegisterWith(n, func(id string) (map[string]any, bool) {
		p, ok := payloads[id]
		return p, ok
	})

	sub := &recordingSubscriber{}
	n.Subscribe(sub)

	n.Receive(map[string]any{
		"target": string(TargetSaveLocal),
		"uuid":   "local-2",
	}, uuid.Nil)

	// The files land on disk but an incomplete asset is not announced.
	if len(mgr.List()) != 1 {
		t.Fatalf("expected the asset files to be written")
	}
	if got := sub.targets(); len(got) != 0 {
		t.Fatalf("incomplete save must not announce, got %v", got)
	}
}

type recordingSubscriber struct {
	mu   sync.Mutex
	seen []notify.Target
}

func (r *recordingSubscriber) SendJSON(v any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if msg, ok := v.(notify.Message); ok {
		r.seen = append(r.seen, msg.Target)
	}
	return nil
}

func (r *recordingSubscriber) targets() []notify.Target {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Target(nil), r.seen...)
}
