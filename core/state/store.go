package state

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/abr-vis/abr-server/core/infra/logging"
	"github.com/abr-vis/abr-server/core/infra/metrics"
	"github.com/abr-vis/abr-server/core/infra/schema"
)

var (
	ErrNothingToUndo = errors.New("nothing to undo")
	ErrNothingToRedo = errors.New("nothing to redo")
)

// Announcer broadcasts state lifecycle events to connected clients.
type Announcer interface {
	AnnounceState()
	AnnounceVisAssetsCache()
}

// AssetResolver materializes the files backing an asset identifier and
// returns the paths that failed to download.
type AssetResolver interface {
	Download(id, extraLibrary string) []string
}

// Options configures a Store.
type Options struct {
	Validator       *schema.Validator
	BackupPath      string
	BackupRetention time.Duration
	HistoryLimit    int
	Announcer       Announcer
	Resolver        AssetResolver
	DownloadAssets  bool
	Metrics         metrics.Metrics
}

// Store owns the canonical document and its pending working copy. All
// mutation goes through the commit protocol: validate pending, back up,
// diff against committed, push the diff onto the undo stack, swap, announce.
//
// One mutex covers pending mutation, validation, diffing and the swap, so a
// concurrent mutation can never be observed mid-validation. Asset resolution
// and notification run outside the lock.
type Store struct {
	mu         sync.Mutex
	validator  *schema.Validator
	defaultDoc map[string]any
	committed  map[string]any
	pending    map[string]any

	undo         []Patch
	redo         []Patch
	historyLimit int

	backups        *backupStore
	announcer      Announcer
	resolver       AssetResolver
	downloadAssets bool
	metrics        metrics.Metrics
}

// New builds a Store seeded with a blank document carrying the schema's
// default version, and verifies that document against the schema.
func New(opts Options) (*Store, error) {
	if opts.Validator == nil {
		return nil, errors.New("state: validator is required")
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 100
	}
	if opts.BackupRetention <= 0 {
		opts.BackupRetention = 24 * time.Hour
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Noop{}
	}

	defaultDoc := map[string]any{}
	if version, ok := opts.Validator.VersionDefault(); ok {
		defaultDoc["version"] = version
		logging.Info("state", "using schema", "name", opts.Validator.Name(), "version", version)
	}
	if err := opts.Validator.Validate(defaultDoc); err != nil {
		return nil, err
	}

	s := &Store{
		validator:      opts.Validator,
		defaultDoc:     defaultDoc,
		committed:      copyDoc(defaultDoc),
		pending:        copyDoc(defaultDoc),
		historyLimit:   opts.HistoryLimit,
		announcer:      opts.Announcer,
		resolver:       opts.Resolver,
		downloadAssets: opts.DownloadAssets,
		metrics:        opts.Metrics,
	}
	if opts.BackupPath != "" {
		s.backups = newBackupStore(opts.BackupPath, opts.BackupRetention)
	}
	return s, nil
}

// SetValidator swaps the schema validator, e.g. after a schema file reload.
// The committed document is left alone; the new schema applies from the next
// commit on.
func (s *Store) SetValidator(v *schema.Validator) {
	if v == nil {
		return
	}
	s.mu.Lock()
	s.validator = v
	s.mu.Unlock()
}

// Get reads from the committed document only. The pending copy is never
// visible to readers.
func (s *Store) Get(path []string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := getPath(s.committed, path)
	if !ok {
		return nil, false
	}
	return deepCopy(v), true
}

// Snapshot returns a deep copy of the committed document.
func (s *Store) Snapshot() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyDoc(s.committed)
}

// Set writes value into the pending copy at path (the empty path replaces
// the whole document) and runs the commit protocol.
func (s *Store) Set(path []string, value any) error {
	s.mu.Lock()
	if len(path) == 0 {
		root, ok := value.(map[string]any)
		if !ok {
			s.mu.Unlock()
			s.metrics.IncCommits("invalid")
			return &schema.ValidationError{Path: "", Message: "document root must be a mapping"}
		}
		s.pending = copyDoc(root)
	} else {
		if err := setPath(s.pending, path, deepCopy(value)); err != nil {
			s.pending = copyDoc(s.committed)
			s.mu.Unlock()
			s.metrics.IncCommits("invalid")
			return &schema.ValidationError{Path: strings.Join(path, "/"), Message: err.Error()}
		}
	}
	return s.commitAndNotify()
}

// Remove deletes the node at path from the pending copy (the empty path
// resets pending to the default document) and runs the commit protocol.
func (s *Store) Remove(path []string) error {
	s.mu.Lock()
	if len(path) == 0 {
		s.pending = copyDoc(s.defaultDoc)
	} else {
		removePath(s.pending, path)
	}
	return s.commitAndNotify()
}

// RemoveAll deletes every occurrence of key anywhere in the document,
// depth-first, and always commits, even when nothing matched.
func (s *Store) RemoveAll(key string) error {
	s.mu.Lock()
	working := copyDoc(s.committed)
	removeAll(working, key)
	s.pending = working
	return s.commitAndNotify()
}

// Undo pops the undo stack and applies the inverse diff. Already-committed
// states are assumed valid, so no re-validation happens.
func (s *Store) Undo() error {
	s.mu.Lock()
	n := len(s.undo)
	if n == 0 {
		s.mu.Unlock()
		s.metrics.IncHistory("undo", "empty")
		return ErrNothingToUndo
	}
	patch := s.undo[n-1]
	s.undo = s.undo[:n-1]
	s.applyHistoryLocked(patch.Revert(s.committed))
	s.redo = append(s.redo, patch)
	s.mu.Unlock()

	s.metrics.IncHistory("undo", "ok")
	s.announceState()
	return nil
}

// Redo pops the redo stack and re-applies the diff.
func (s *Store) Redo() error {
	s.mu.Lock()
	n := len(s.redo)
	if n == 0 {
		s.mu.Unlock()
		s.metrics.IncHistory("redo", "empty")
		return ErrNothingToRedo
	}
	patch := s.redo[n-1]
	s.redo = s.redo[:n-1]
	s.applyHistoryLocked(patch.Apply(s.committed))
	s.undo = append(s.undo, patch)
	s.mu.Unlock()

	s.metrics.IncHistory("redo", "ok")
	s.announceState()
	return nil
}

func (s *Store) applyHistoryLocked(restored any) {
	doc, ok := restored.(map[string]any)
	if !ok {
		doc = map[string]any{}
	}
	s.committed = doc
	s.pending = copyDoc(doc)
}

// commitAndNotify finishes the commit protocol. Called with the lock held;
// releases it before notifying and resolving assets.
func (s *Store) commitAndNotify() error {
	err := s.commitLocked()
	s.mu.Unlock()
	if err != nil {
		s.metrics.IncCommits("invalid")
		return err
	}
	s.metrics.IncCommits("ok")
	s.announceState()
	if s.downloadAssets {
		s.resolveAssets()
	}
	return nil
}

func (s *Store) commitLocked() error {
	if err := s.validator.Validate(s.pending); err != nil {
		s.pending = copyDoc(s.committed)
		return err
	}

	if s.backups != nil {
		if err := s.backups.write(s.pending); err != nil {
			// A failed backup never loses the edit.
			logging.Warn("state", "backup write failed", "error", err)
		}
	}

	patch := Diff(s.committed, s.pending)
	if len(patch) > 0 {
		s.undo = append(s.undo, patch)
		if len(s.undo) > s.historyLimit {
			s.undo = append(s.undo[:0:0], s.undo[len(s.undo)-s.historyLimit:]...)
		}
		s.redo = s.redo[:0]
		s.committed = copyDoc(s.pending)
	}
	return nil
}

func (s *Store) announceState() {
	if s.announcer != nil {
		s.announcer.AnnounceState()
	}
}

// resolveAssets scans the committed document for asset references that are
// not declared under localVisAssets and downloads each at most once.
// Download failures are logged and never fail the triggering commit.
func (s *Store) resolveAssets() {
	if s.resolver == nil {
		return
	}
	s.mu.Lock()
	doc := copyDoc(s.committed)
	s.mu.Unlock()

	local := map[string]bool{}
	if lv, ok := doc["localVisAssets"].(map[string]any); ok {
		for id := range lv {
			local[id] = true
		}
	}
	refs := findAll(doc, func(m map[string]any) bool {
		id, ok := m["inputValue"].(string)
		if !ok {
			return false
		}
		genre, _ := m["inputGenre"].(string)
		return genre == "VisAsset" && !local[id]
	})
	if len(refs) == 0 {
		return
	}

	var failed []string
	seen := map[string]bool{}
	for _, ref := range refs {
		id := ref["inputValue"].(string)
		if seen[id] {
			continue
		}
		seen[id] = true
		failed = append(failed, s.resolver.Download(id, "")...)
	}
	if len(failed) > 0 {
		logging.Warn("state", "failed to download visassets", "files", strings.Join(failed, ", "))
	}
	if s.announcer != nil {
		s.announcer.AnnounceVisAssetsCache()
	}
}
