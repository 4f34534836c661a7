// SPDX-License-Identifier: MIT OR Apache-2.0

package scene

import "github.com/google/uuid"

// EntityID uniquely identifies an entity for its whole lifetime.
//
// Hierarchy is expressed through ID references rather than owning links, so
// entity graphs stay acyclic by construction and subtree snapshots are
// simply ID sets plus per-ID state.
type EntityID = uuid.UUID

// NewEntityID returns a fresh random entity ID.
func NewEntityID() EntityID {
	return uuid.New()
}

// Entity is one record in the world arena.
type Entity struct {
	// ID is the stable identity of this entity.
	ID EntityID

	// Name is the user-visible entity name.
	Name string

	// Parent is the owning entity, or uuid.Nil for roots.
	Parent EntityID

	// Children are the direct children in display order.
	Children []EntityID

	// Transform is the spatial component.
	Transform Transform

	// Visible toggles rendering of this entity.
	Visible bool

	// Properties holds free-form numeric component fields keyed by name.
	Properties map[string]float64
}

// clone returns a deep copy of the entity record.
func (e *Entity) clone() *Entity {
	c := *e
	c.Children = append([]EntityID(nil), e.Children...)
	if e.Properties != nil {
		c.Properties = make(map[string]float64, len(e.Properties))
		for k, v := range e.Properties {
			c.Properties[k] = v
		}
	}
	return &c
}

// Selection tracks the entities the user is operating on.
//
// Kept here because "duplicate + reparent + select" is the canonical
// multi-step transaction; tools snapshot and restore selection alongside
// structural edits.
type Selection struct {
	entities []EntityID
}

// Contains reports whether the entity is selected.
func (s *Selection) Contains(id EntityID) bool {
	for _, e := range s.entities {
		if e == id {
			return true
		}
	}
	return false
}

// Add selects an entity (idempotent).
func (s *Selection) Add(id EntityID) {
	if !s.Contains(id) {
		s.entities = append(s.entities, id)
	}
}

// Remove deselects an entity.
func (s *Selection) Remove(id EntityID) {
	out := s.entities[:0]
	for _, e := range s.entities {
		if e != id {
			out = append(out, e)
		}
	}
	s.entities = out
}

// Toggle flips an entity's selected state.
func (s *Selection) Toggle(id EntityID) {
	if s.Contains(id) {
		s.Remove(id)
	} else {
		s.Add(id)
	}
}

// Set replaces the selection with a single entity.
func (s *Selection) Set(id EntityID) {
	s.entities = s.entities[:0]
	s.entities = append(s.entities, id)
}

// Clear empties the selection.
func (s *Selection) Clear() {
	s.entities = s.entities[:0]
}

// Primary returns the most recently selected entity and whether one exists.
func (s *Selection) Primary() (EntityID, bool) {
	if len(s.entities) == 0 {
		return uuid.Nil, false
	}
	return s.entities[len(s.entities)-1], true
}

// All returns a copy of the selected entities in selection order.
func (s *Selection) All() []EntityID {
	return append([]EntityID(nil), s.entities...)
}

// Len returns the number of selected entities.
func (s *Selection) Len() int {
	return len(s.entities)
}
