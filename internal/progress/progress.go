// Package progress records which curriculum modules the user has completed.
//
// Persistence model:
//   - The whole list is read once when the tracker opens.
//   - Every change rewrites the whole list through the Store.
//   - Order of completion is preserved; duplicates are never stored.
package progress

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/petasbytes/codeplayground/internal/telemetry"
)

// Store persists the completed-module list.
type Store interface {
	// Load returns the saved list. A store with nothing saved returns nil, nil.
	Load(ctx context.Context) ([]string, error)
	// Save replaces the saved list.
	Save(ctx context.Context, ids []string) error
	Close() error
}

// Tracker is safe for concurrent use.
type Tracker struct {
	store Store

	mu  sync.Mutex
	ids []string
}

// Open loads the saved list from store.
func Open(ctx context.Context, store Store) (*Tracker, error) {
	ids, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load progress: %w", err)
	}
	var clean []string
	for _, id := range ids {
		if id != "" && !slices.Contains(clean, id) {
			clean = append(clean, id)
		}
	}
	return &Tracker{store: store, ids: clean}, nil
}

// Complete marks id as completed. It reports whether the list changed; an
// already completed id is a no-op and does not touch the store. On a save
// failure the in-memory list is left unchanged.
func (t *Tracker) Complete(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, fmt.Errorf("complete: empty module id")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if slices.Contains(t.ids, id) {
		return false, nil
	}
	next := append(slices.Clone(t.ids), id)
	if err := t.store.Save(ctx, next); err != nil {
		return false, fmt.Errorf("save progress: %w", err)
	}
	t.ids = next
	telemetry.EmitContext(ctx, "module_completed", map[string]any{
		"module_id": id,
		"completed": len(next),
	})
	return true, nil
}

// Completed returns the completed ids in completion order.
func (t *Tracker) Completed() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.ids)
}

func (t *Tracker) IsComplete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Contains(t.ids, id)
}

// Close releases the underlying store.
func (t *Tracker) Close() error { return t.store.Close() }
