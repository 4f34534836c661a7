// SPDX-License-Identifier: MIT OR Apache-2.0

// Package history implements the transactional undo/redo engine: reversible
// operations, atomic operation groups, gesture coalescing, and the
// budget-bounded history stack machine.
//
// Description:
//
//	State captures come from the snapshot package; this package never
//	interprets payload bytes. All mutation of a History instance happens
//	under a single logical owner (the editing session); concurrent
//	read-only access for UI listings observes a consistent view.
package history

import "github.com/ordokr/OrdoPlayEditor/services/editor/snapshot"

// Operation is one atomic reversible edit.
//
// Description:
//
//	Holds tagged before/after captures of the affected unit. Immutable
//	after commit (the coalescer replaces the After of a still-mergeable
//	operation, which is the one sanctioned exception). Applying After and
//	then Before is a no-op relative to the state prior to the edit.
type Operation struct {
	// Target is the stable reference to the affected unit.
	Target snapshot.Target

	// Kind classifies the edit ("transform.set", "entity.delete", ...).
	// Coalescing requires identical kinds.
	Kind string

	// Before is the capture taken before the edit.
	Before snapshot.Snapshot

	// After is the capture taken after the edit.
	After snapshot.Snapshot

	// Description is the human-readable label for UI history lists.
	Description string
}

// Apply writes the after-state back, i.e. performs (or re-performs) the
// edit.
//
// Outputs:
//   - error: *snapshot.ApplyError or *snapshot.SchemaMismatchError from the
//     provider; nil on success.
func (op *Operation) Apply(p snapshot.Provider) error {
	return p.Restore(op.Target, op.After)
}

// Revert writes the before-state back, undoing the edit.
func (op *Operation) Revert(p snapshot.Provider) error {
	return p.Restore(op.Target, op.Before)
}

// Size returns the approximate retained byte cost of the operation.
func (op *Operation) Size() int64 {
	return op.Before.Size() + op.After.Size()
}

// release drops the operation's ownership of its capture chunks.
func (op *Operation) release(store *snapshot.Store) {
	store.Release(op.Before)
	store.Release(op.After)
}
