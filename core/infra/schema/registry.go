package schema

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/abr-vis/abr-server/core/infra/logging"
)

// Registry loads JSON schemas from a directory and keeps compiled validators
// for each, recompiling when a schema file changes on disk.
type Registry struct {
	dir string

	mu         sync.RWMutex
	raw        map[string][]byte
	validators map[string]*Validator

	watcher  *fsnotify.Watcher
	onReload func(name string)
}

// NewRegistry reads every .json file under dir and compiles it.
func NewRegistry(dir string) (*Registry, error) {
	r := &Registry{
		dir:        dir,
		raw:        make(map[string][]byte),
		validators: make(map[string]*Validator),
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read schema dir %s: %w", dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		if err := r.load(entry.Name()); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) load(name string) error {
	// #nosec G304 -- schema files come from the operator-provided schema dir.
	data, err := os.ReadFile(filepath.Join(r.dir, name))
	if err != nil {
		return fmt.Errorf("read schema %s: %w", name, err)
	}
	validator, err := Compile(name, data)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.raw[name] = data
	r.validators[name] = validator
	r.mu.Unlock()
	return nil
}

// Get returns the raw schema bytes for serving to clients.
func (r *Registry) Get(name string) ([]byte, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	data, ok := r.raw[name]
	return data, ok
}

// Validator returns the compiled validator for a schema name.
func (r *Registry) Validator(name string) (*Validator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.validators[name]
	return v, ok
}

// List returns the known schema names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.raw))
	for name := range r.raw {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// OnReload registers a callback invoked after a schema recompiles from a
// file change. Set it before calling Watch.
func (r *Registry) OnReload(fn func(name string)) {
	r.onReload = fn
}

// Watch recompiles schemas when their files change, until ctx is done.
// A schema that fails to recompile keeps its previous compiled form.
func (r *Registry) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create schema watcher: %w", err)
	}
	if err := watcher.Add(r.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch schema dir %s: %w", r.dir, err)
	}
	r.watcher = watcher

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				name := filepath.Base(event.Name)
				if !strings.HasSuffix(name, ".json") {
					continue
				}
				if err := r.load(name); err != nil {
					logging.Error("schema", "reload failed", "schema", name, "error", err)
					continue
				}
				logging.Info("schema", "reloaded", "schema", name)
				if r.onReload != nil {
					r.onReload(name)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logging.Error("schema", "watch error", "error", err)
			}
		}
	}()
	return nil
}
