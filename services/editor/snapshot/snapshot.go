// SPDX-License-Identifier: MIT OR Apache-2.0

// Package snapshot implements the copy-on-write snapshot store backing the
// editor's undo/redo history.
//
// Description:
//
//	State captures are opaque, tagged, versioned payloads interned into a
//	content-addressed chunk table. Two captures of identical state share one
//	chunk, and a subtree capture shares the chunks of every entity that did
//	not change since an earlier capture. Retaining thousands of historical
//	snapshots therefore costs proportional to total edits, not
//	edits x world-size.
//
//	The package never interprets payload bytes. Producing and consuming them
//	is the job of the state provider (the entity/component store), reached
//	through the Provider capability.
//
// Thread Safety: Snapshot and Ref are immutable values. Store is safe for
// concurrent use.
package snapshot

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind identifies the scope of a capture target.
type Kind int

const (
	// KindField targets a single named field of one entity.
	KindField Kind = iota

	// KindEntity targets one entity record, relationships included.
	KindEntity

	// KindSubtree targets an entity and every descendant.
	KindSubtree
)

// String returns the human-readable name of the kind.
func (k Kind) String() string {
	switch k {
	case KindField:
		return "field"
	case KindEntity:
		return "entity"
	case KindSubtree:
		return "subtree"
	default:
		return "unknown"
	}
}

// Target is a stable reference to the unit of state a snapshot covers.
//
// Description:
//
//	Entities are referenced by UUID, never by pointer, so a target stays
//	meaningful across delete/recreate cycles and process-internal moves.
//	Field is only set for KindField targets.
type Target struct {
	// Entity is the root entity the capture applies to.
	Entity uuid.UUID

	// Field names the captured field for KindField targets ("transform",
	// "name", "visible", or "prop:<key>").
	Field string

	// Kind is the capture scope.
	Kind Kind
}

// String formats the target for logs and error messages.
func (t Target) String() string {
	if t.Kind == KindField {
		return fmt.Sprintf("%s/%s.%s", t.Kind, t.Entity, t.Field)
	}
	return fmt.Sprintf("%s/%s", t.Kind, t.Entity)
}

// Ref is a content-addressed reference to one interned payload chunk.
type Ref struct {
	// Hash is the SHA-256 of the chunk payload.
	Hash [32]byte

	// Size is the payload length in bytes.
	Size int64
}

// Snapshot is an immutable, versioned capture of a scoped piece of world
// state.
//
// Description:
//
//	A snapshot owns no bytes directly; Refs point into the Store that
//	produced it. Field and entity snapshots carry a single chunk. Subtree
//	snapshots carry a manifest chunk first, followed by one chunk per
//	entity record in manifest order. A subtree snapshot with only a
//	manifest chunk is a tombstone: the listed entities must not exist
//	after restore.
type Snapshot struct {
	// Tag identifies the payload schema. Restore dispatches on it directly
	// and never probes alternatives.
	Tag string

	// SchemaVersion is the payload schema revision under Tag.
	SchemaVersion uint16

	// Refs are the interned chunks composing this capture.
	Refs []Ref

	// TakenAt is when the capture was made (Unix milliseconds UTC).
	TakenAt int64
}

// Size returns the total payload bytes referenced by the snapshot.
//
// Shared chunks are counted once per reference; the Store's retained-bytes
// accounting is what dedupes across snapshots.
func (s Snapshot) Size() int64 {
	var n int64
	for _, r := range s.Refs {
		n += r.Size
	}
	return n
}

// IsZero reports whether the snapshot is the zero value (no capture).
func (s Snapshot) IsZero() bool {
	return s.Tag == "" && len(s.Refs) == 0
}

// New assembles a snapshot from interned chunks, stamping the capture time.
func New(tag string, schemaVersion uint16, refs []Ref) Snapshot {
	return Snapshot{
		Tag:           tag,
		SchemaVersion: schemaVersion,
		Refs:          refs,
		TakenAt:       time.Now().UnixMilli(),
	}
}

// Provider is the narrow state-provider capability the history engine
// depends on.
//
// Description:
//
//	Implemented by the external entity/component store. Capture must be
//	synchronous and reflect a single consistent instant; Restore writes a
//	capture back and fails with *ApplyError or *SchemaMismatchError rather
//	than partially applying.
type Provider interface {
	// Capture produces an immutable capture of current state at target.
	Capture(target Target) (Snapshot, error)

	// Restore writes the captured state back into live state at target.
	Restore(target Target, snap Snapshot) error
}
