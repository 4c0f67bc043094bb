// Package settings is the typed key/value store behind every user preference
// the chat layer reads: selected models, retrieval sizes and prompt overrides.
package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/Desarso/tldwchat/stores"
)

// Repository stores raw JSON values by name and notifies listeners on change.
type Repository interface {
	Get(ctx context.Context, name string) ([]byte, bool, error)
	Set(ctx context.Context, name string, raw []byte) error
	All(ctx context.Context) (map[string]json.RawMessage, error)
	// Subscribe registers fn for changes of name. The returned func removes it.
	Subscribe(name string, fn func(raw []byte)) (unsubscribe func())
}

// watchers fans a change out to the listeners of one key.
type watchers struct {
	mu     sync.Mutex
	nextID int
	byName map[string]map[int]func([]byte)
}

func (w *watchers) subscribe(name string, fn func([]byte)) func() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.byName == nil {
		w.byName = make(map[string]map[int]func([]byte))
	}
	if w.byName[name] == nil {
		w.byName[name] = make(map[int]func([]byte))
	}
	id := w.nextID
	w.nextID++
	w.byName[name][id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			w.mu.Lock()
			defer w.mu.Unlock()
			delete(w.byName[name], id)
			if len(w.byName[name]) == 0 {
				delete(w.byName, name)
			}
		})
	}
}

func (w *watchers) notify(name string, raw []byte) {
	w.mu.Lock()
	ids := make([]int, 0, len(w.byName[name]))
	for id := range w.byName[name] {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func([]byte), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, w.byName[name][id])
	}
	w.mu.Unlock()

	// Listeners run outside the lock so they may read the repository again.
	for _, fn := range fns {
		fn(raw)
	}
}

// MemoryRepository keeps settings in process memory. Temporary chats and
// tests use it.
type MemoryRepository struct {
	mu     sync.RWMutex
	values map[string][]byte
	watchers
}

// NewMemoryRepository returns an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{values: make(map[string][]byte)}
}

func (r *MemoryRepository) Get(_ context.Context, name string) ([]byte, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	raw, ok := r.values[name]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), raw...), true, nil
}

func (r *MemoryRepository) Set(_ context.Context, name string, raw []byte) error {
	if !json.Valid(raw) {
		return fmt.Errorf("setting %s: value is not valid JSON", name)
	}
	r.mu.Lock()
	r.values[name] = append([]byte(nil), raw...)
	r.mu.Unlock()
	r.notify(name, raw)
	return nil
}

func (r *MemoryRepository) All(_ context.Context) (map[string]json.RawMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]json.RawMessage, len(r.values))
	for k, v := range r.values {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out, nil
}

func (r *MemoryRepository) Subscribe(name string, fn func(raw []byte)) func() {
	return r.subscribe(name, fn)
}

// StoreRepository persists settings through the gorm settings table.
type StoreRepository struct {
	store stores.SettingsStore
	watchers
}

// NewStoreRepository wraps a settings store.
func NewStoreRepository(store stores.SettingsStore) *StoreRepository {
	return &StoreRepository{store: store}
}

func (r *StoreRepository) Get(ctx context.Context, name string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	value, ok, err := r.store.GetSetting(name)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read setting %s: %w", name, err)
	}
	if !ok {
		return nil, false, nil
	}
	return []byte(value), true, nil
}

func (r *StoreRepository) Set(ctx context.Context, name string, raw []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !json.Valid(raw) {
		return fmt.Errorf("setting %s: value is not valid JSON", name)
	}
	if err := r.store.SetSetting(name, string(raw)); err != nil {
		return fmt.Errorf("failed to write setting %s: %w", name, err)
	}
	r.notify(name, raw)
	return nil
}

func (r *StoreRepository) All(ctx context.Context) (map[string]json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	values, err := r.store.ListSettings()
	if err != nil {
		return nil, fmt.Errorf("failed to list settings: %w", err)
	}
	out := make(map[string]json.RawMessage, len(values))
	for k, v := range values {
		out[k] = json.RawMessage(v)
	}
	return out, nil
}

func (r *StoreRepository) Subscribe(name string, fn func(raw []byte)) func() {
	return r.subscribe(name, fn)
}
