// Package hidden keeps the operator-curated set of users excluded from
// comparison reports. The set lives in a small JSON file next to the
// database so it survives restarts and resyncs.
package hidden

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// Registry is the persisted hidden-user set, keyed by the stable identity
// used in comparison reports. Safe for concurrent use.
type Registry struct {
	mu   sync.Mutex
	path string
	ids  map[string]struct{}
}

// Open loads the registry file, creating an empty registry when the file
// does not exist yet.
func Open(path string) (*Registry, error) {
	r := &Registry{
		path: path,
		ids:  map[string]struct{}{},
	}

	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return r, nil
	}

	if err != nil {
		return nil, errors.Wrap(err, "read hidden user registry")
	}

	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, errors.Wrap(err, "decode hidden user registry")
	}

	for _, id := range ids {
		r.ids[id] = struct{}{}
	}

	return r, nil
}

// Hide adds a user to the set and persists. Hiding an already hidden user
// is a no-op.
func (r *Registry) Hide(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.ids[id]; ok {
		return nil
	}

	r.ids[id] = struct{}{}

	return r.save()
}

// Unhide removes a user from the set and persists.
func (r *Registry) Unhide(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.ids[id]; !ok {
		return nil
	}

	delete(r.ids, id)

	return r.save()
}

// IsHidden reports whether the user is in the set.
func (r *Registry) IsHidden(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.ids[id]

	return ok
}

// List returns the hidden identities in sorted order.
func (r *Registry) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.ids))
	for id := range r.ids {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}

// save writes the set through a temp file and rename, so a crash cannot
// leave a truncated registry behind. Caller holds the lock.
func (r *Registry) save() error {
	ids := make([]string, 0, len(r.ids))
	for id := range r.ids {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	raw, err := json.MarshalIndent(ids, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode hidden user registry")
	}

	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return errors.Wrap(err, "write hidden user registry")
	}

	if err := os.Rename(tmp, filepath.Clean(r.path)); err != nil {
		return errors.Wrap(err, "replace hidden user registry")
	}

	return nil
}
