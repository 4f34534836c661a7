// SPDX-License-Identifier: MIT OR Apache-2.0

package history

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ordokr/OrdoPlayEditor/services/editor/snapshot"
)

// OperationGroup is an ordered sequence of operations committed and
// reverted as one unit (a transaction).
//
// Description:
//
//	Groups are built by the session while a transaction is open and are
//	immutable once committed, except for coalescer merges. A group is
//	owned by exactly one stack at a time and moves between the undo and
//	redo stacks without being duplicated.
type OperationGroup struct {
	// ID is the transaction id shared by all member operations.
	ID uuid.UUID

	// Description labels the whole transaction in history lists. When the
	// group holds a single operation, that operation's description wins.
	Description string

	// Ops are the member operations in commit order.
	Ops []Operation

	// CommittedAt is when the group was closed. The coalescer slides it
	// forward on merge so a continuous gesture stays mergeable.
	CommittedAt time.Time
}

// NewGroup creates an empty group with a fresh transaction id.
func NewGroup(description string) *OperationGroup {
	return &OperationGroup{
		ID:          uuid.New(),
		Description: description,
	}
}

// Append adds an operation to the open group.
func (g *OperationGroup) Append(op Operation) {
	g.Ops = append(g.Ops, op)
}

// Empty reports whether the group holds no operations. Empty groups are
// never pushed to history.
func (g *OperationGroup) Empty() bool {
	return len(g.Ops) == 0
}

// Len returns the number of member operations.
func (g *OperationGroup) Len() int {
	return len(g.Ops)
}

// Size returns the approximate retained byte cost of the group.
func (g *OperationGroup) Size() int64 {
	var n int64
	for i := range g.Ops {
		n += g.Ops[i].Size()
	}
	return n
}

// Label returns the UI label: the group description, or the sole member's
// description for implicit single-op groups.
func (g *OperationGroup) Label() string {
	if g.Description != "" {
		return g.Description
	}
	if len(g.Ops) == 1 {
		return g.Ops[0].Description
	}
	return fmt.Sprintf("%d edits", len(g.Ops))
}

// ApplyAll applies member operations in forward order.
//
// Description:
//
//	On the first failure every previously-applied member of this call is
//	reverted in reverse order, so world state ends exactly where it
//	started. The original failure is returned; a rollback failure (which
//	would leave the world inconsistent) is joined onto it.
func (g *OperationGroup) ApplyAll(p snapshot.Provider) error {
	for i := range g.Ops {
		if err := g.Ops[i].Apply(p); err != nil {
			return g.rollback(p, i, err, false)
		}
	}
	return nil
}

// RevertAll reverts member operations in reverse order (last edit undone
// first), with the same all-or-nothing contract as ApplyAll.
func (g *OperationGroup) RevertAll(p snapshot.Provider) error {
	for i := len(g.Ops) - 1; i >= 0; i-- {
		if err := g.Ops[i].Revert(p); err != nil {
			return g.rollback(p, i, err, true)
		}
	}
	return nil
}

// rollback restores the members touched before index failed. reverting
// says which direction the failed pass was running.
func (g *OperationGroup) rollback(p snapshot.Provider, failed int, cause error, reverting bool) error {
	var rollbackErrs []error
	if reverting {
		// Reverts ran from the end down to failed+1; re-apply them in
		// forward order.
		for i := failed + 1; i < len(g.Ops); i++ {
			if err := g.Ops[i].Apply(p); err != nil {
				rollbackErrs = append(rollbackErrs, err)
			}
		}
	} else {
		for i := failed - 1; i >= 0; i-- {
			if err := g.Ops[i].Revert(p); err != nil {
				rollbackErrs = append(rollbackErrs, err)
			}
		}
	}
	if len(rollbackErrs) > 0 {
		return errors.Join(
			fmt.Errorf("group %q failed at operation %d: %w", g.Label(), failed, cause),
			fmt.Errorf("rollback also failed, world state may be inconsistent: %w",
				errors.Join(rollbackErrs...)),
		)
	}
	return fmt.Errorf("group %q failed at operation %d: %w", g.Label(), failed, cause)
}

// release drops the group's ownership of all capture chunks. Called when
// the group is destroyed by eviction, redo discard, or teardown.
func (g *OperationGroup) release(store *snapshot.Store) {
	for i := range g.Ops {
		g.Ops[i].release(store)
	}
}
