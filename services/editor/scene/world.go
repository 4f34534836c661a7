// SPDX-License-Identifier: MIT OR Apache-2.0

// Package scene implements the entity/component store the history engine
// edits against.
//
// Description:
//
//	Entities live in a flat arena keyed by UUID with parent/child expressed
//	as ID references. The package implements the snapshot.Provider
//	capability: scoped capture (field, entity, subtree) and exact restore.
//	The history engine depends only on that capability, never on the arena
//	itself.
//
// Thread Safety: World is safe for concurrent use. All mutating editor
// traffic is expected to come from a single editing session at a time;
// the lock exists so read-only UI (hierarchy panels) can observe a
// consistent view.
package scene

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/ordokr/OrdoPlayEditor/services/editor/snapshot"
)

// World is the live entity arena.
type World struct {
	mu       sync.RWMutex
	entities map[EntityID]*Entity
	store    *snapshot.Store
	logger   *slog.Logger
}

// NewWorld creates an empty world that interns captures into store.
//
// Inputs:
//   - store: Snapshot store for capture payloads. Must not be nil.
//   - logger: Logger for diagnostics. If nil, uses slog.Default().
func NewWorld(store *snapshot.Store, logger *slog.Logger) *World {
	if store == nil {
		panic("scene: snapshot store must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &World{
		entities: make(map[EntityID]*Entity),
		store:    store,
		logger:   logger.With("component", "scene"),
	}
}

// Store returns the snapshot store captures are interned into.
func (w *World) Store() *snapshot.Store {
	return w.store
}

// Spawn creates a new entity under parent (uuid.Nil for a root) and
// returns its ID.
func (w *World) Spawn(name string, parent EntityID) (EntityID, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if parent != uuid.Nil {
		if _, ok := w.entities[parent]; !ok {
			return uuid.Nil, &snapshot.ValidationError{
				Target: snapshot.Target{Entity: parent, Kind: snapshot.KindEntity},
				Reason: "parent does not exist",
			}
		}
	}

	id := NewEntityID()
	w.entities[id] = &Entity{
		ID:        id,
		Name:      name,
		Parent:    parent,
		Transform: IdentityTransform(),
		Visible:   true,
	}
	if parent != uuid.Nil {
		p := w.entities[parent]
		p.Children = append(p.Children, id)
	}
	return id, nil
}

// Get returns a copy of the entity record.
func (w *World) Get(id EntityID) (Entity, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	e, ok := w.entities[id]
	if !ok {
		return Entity{}, false
	}
	return *e.clone(), true
}

// Exists reports whether the entity is present.
func (w *World) Exists(id EntityID) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.entities[id]
	return ok
}

// Len returns the number of live entities.
func (w *World) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.entities)
}

// Roots returns all entities without a parent.
func (w *World) Roots() []EntityID {
	w.mu.RLock()
	defer w.mu.RUnlock()

	var roots []EntityID
	for id, e := range w.entities {
		if e.Parent == uuid.Nil {
			roots = append(roots, id)
		}
	}
	return roots
}

// SetTransform replaces the entity's transform.
func (w *World) SetTransform(id EntityID, t Transform) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	e, ok := w.entities[id]
	if !ok {
		return w.missing(id)
	}
	e.Transform = t
	return nil
}

// SetName renames the entity.
func (w *World) SetName(id EntityID, name string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	e, ok := w.entities[id]
	if !ok {
		return w.missing(id)
	}
	e.Name = name
	return nil
}

// SetVisible toggles entity visibility.
func (w *World) SetVisible(id EntityID, visible bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	e, ok := w.entities[id]
	if !ok {
		return w.missing(id)
	}
	e.Visible = visible
	return nil
}

// SetProperty sets a free-form numeric component field.
func (w *World) SetProperty(id EntityID, key string, value float64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	e, ok := w.entities[id]
	if !ok {
		return w.missing(id)
	}
	if e.Properties == nil {
		e.Properties = make(map[string]float64)
	}
	e.Properties[key] = value
	return nil
}

// Delete removes the entity and every descendant.
func (w *World) Delete(id EntityID) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	e, ok := w.entities[id]
	if !ok {
		return w.missing(id)
	}

	for _, sub := range w.subtreeIDsLocked(id) {
		delete(w.entities, sub)
	}
	w.detachLocked(e.Parent, id)
	return nil
}

// Reparent moves the entity under newParent (uuid.Nil detaches to root).
//
// Moving an entity under itself or one of its descendants is rejected;
// that is the aliasing case ID-based hierarchy exists to keep impossible.
func (w *World) Reparent(id, newParent EntityID) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	e, ok := w.entities[id]
	if !ok {
		return w.missing(id)
	}
	if newParent != uuid.Nil {
		if _, ok := w.entities[newParent]; !ok {
			return w.missing(newParent)
		}
		for _, sub := range w.subtreeIDsLocked(id) {
			if sub == newParent {
				return &snapshot.ValidationError{
					Target: snapshot.Target{Entity: id, Kind: snapshot.KindSubtree},
					Reason: "new parent is inside the moved subtree",
				}
			}
		}
	}

	w.detachLocked(e.Parent, id)
	e.Parent = newParent
	if newParent != uuid.Nil {
		p := w.entities[newParent]
		p.Children = append(p.Children, id)
	}
	return nil
}

// Duplicate deep-copies the entity and its whole subtree under the same
// parent, assigning fresh IDs throughout, and returns the new root ID.
//
// Every descendant is cloned; duplicating only the root and orphaning its
// children is the classic structural-edit bug this method exists to avoid.
func (w *World) Duplicate(id EntityID) (EntityID, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	src, ok := w.entities[id]
	if !ok {
		return uuid.Nil, w.missing(id)
	}

	mapping := make(map[EntityID]EntityID)
	for _, sub := range w.subtreeIDsLocked(id) {
		mapping[sub] = NewEntityID()
	}

	for _, sub := range w.subtreeIDsLocked(id) {
		orig := w.entities[sub]
		dup := orig.clone()
		dup.ID = mapping[sub]
		if sub == id {
			dup.Parent = src.Parent
		} else {
			dup.Parent = mapping[orig.Parent]
		}
		for i, c := range dup.Children {
			dup.Children[i] = mapping[c]
		}
		w.entities[dup.ID] = dup
	}

	newRoot := mapping[id]
	if src.Parent != uuid.Nil {
		p := w.entities[src.Parent]
		p.Children = append(p.Children, newRoot)
	}
	return newRoot, nil
}

// SubtreeIDs returns the entity and all descendants in depth-first
// preorder. Returns nil if the entity does not exist.
func (w *World) SubtreeIDs(id EntityID) []EntityID {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if _, ok := w.entities[id]; !ok {
		return nil
	}
	return w.subtreeIDsLocked(id)
}

// subtreeIDsLocked walks the subtree in DFS preorder. Caller holds the lock.
func (w *World) subtreeIDsLocked(id EntityID) []EntityID {
	out := []EntityID{id}
	e := w.entities[id]
	for _, c := range e.Children {
		if _, ok := w.entities[c]; ok {
			out = append(out, w.subtreeIDsLocked(c)...)
		}
	}
	return out
}

// detachLocked removes child from parent's children list. Caller holds the
// lock.
func (w *World) detachLocked(parent, child EntityID) {
	if parent == uuid.Nil {
		return
	}
	p, ok := w.entities[parent]
	if !ok {
		return
	}
	out := p.Children[:0]
	for _, c := range p.Children {
		if c != child {
			out = append(out, c)
		}
	}
	p.Children = out
}

// missing builds the ValidationError for an absent entity.
func (w *World) missing(id EntityID) error {
	return &snapshot.ValidationError{
		Target: snapshot.Target{Entity: id, Kind: snapshot.KindEntity},
		Reason: fmt.Sprintf("entity %s does not exist", id),
	}
}
