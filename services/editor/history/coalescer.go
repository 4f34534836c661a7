// SPDX-License-Identifier: MIT OR Apache-2.0

package history

import (
	"time"

	"github.com/ordokr/OrdoPlayEditor/services/editor/snapshot"
)

// DefaultCoalesceWindow is how long after a commit a compatible follow-up
// edit still merges into it.
const DefaultCoalesceWindow = 500 * time.Millisecond

// Coalescer merges compatible consecutive groups so a continuous gesture
// (drag, slider, color wheel) produces one undo entry instead of one per
// intermediate event.
//
// Description:
//
//	A new group merges into the current top of the undo stack iff both
//	hold exactly one operation, the operations share target and kind, the
//	new group committed within the window of the top's (possibly slid)
//	commit time, and nothing invalidated the top since it was pushed
//	(undo/redo or a differing edit landing on top). Merging keeps the
//	top's before, adopts the new after, and keeps the top's stack
//	position.
//
// Thread Safety: Not safe for concurrent use on its own; History calls it
// under its write lock.
type Coalescer struct {
	window time.Duration
	store  *snapshot.Store
}

// NewCoalescer creates a coalescer with the given merge window.
//
// Inputs:
//   - window: Merge window. If <= 0, DefaultCoalesceWindow is used.
//   - store: Snapshot store, used to release captures replaced by a merge.
func NewCoalescer(window time.Duration, store *snapshot.Store) *Coalescer {
	if window <= 0 {
		window = DefaultCoalesceWindow
	}
	return &Coalescer{window: window, store: store}
}

// Window returns the configured merge window.
func (c *Coalescer) Window() time.Duration {
	return c.window
}

// CanMerge reports whether incoming may be folded into top.
func (c *Coalescer) CanMerge(top, incoming *OperationGroup) bool {
	if top == nil || incoming == nil {
		return false
	}
	if top.Len() != 1 || incoming.Len() != 1 {
		return false
	}
	a, b := &top.Ops[0], &incoming.Ops[0]
	if a.Target != b.Target || a.Kind != b.Kind {
		return false
	}
	return incoming.CommittedAt.Sub(top.CommittedAt) <= c.window
}

// Merge folds incoming into top, releasing the captures the merge makes
// unreachable (top's old after, incoming's before).
//
// Outputs:
//   - int64: The retained-size delta of top (new size minus old size);
//     History applies it to its memory accounting.
func (c *Coalescer) Merge(top, incoming *OperationGroup) int64 {
	oldSize := top.Size()

	c.store.Release(top.Ops[0].After)
	c.store.Release(incoming.Ops[0].Before)
	top.Ops[0].After = incoming.Ops[0].After
	top.Ops[0].Description = incoming.Ops[0].Description
	top.CommittedAt = incoming.CommittedAt

	return top.Size() - oldSize
}
