// SPDX-License-Identifier: MIT OR Apache-2.0

package history

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ordokr/OrdoPlayEditor/services/editor/snapshot"
)

// DefaultBudgetBytes is the default memory budget for retained groups.
const DefaultBudgetBytes int64 = 64 << 20 // 64 MiB

// DefaultMaxDepth is the default maximum number of undoable groups.
const DefaultMaxDepth = 100

// Options configures a History instance.
type Options struct {
	// BudgetBytes caps the approximate bytes retained across both stacks.
	// Exceeding it triggers oldest-first eviction. Default: 64 MiB.
	BudgetBytes int64

	// MaxDepth caps the number of groups on the undo stack.
	// Default: 100.
	MaxDepth int

	// CoalesceWindow is the gesture merge window.
	// Default: DefaultCoalesceWindow.
	CoalesceWindow time.Duration

	// Logger for diagnostics. If nil, uses slog.Default().
	Logger *slog.Logger
}

// DefaultOptions returns production defaults.
func DefaultOptions() Options {
	return Options{
		BudgetBytes:    DefaultBudgetBytes,
		MaxDepth:       DefaultMaxDepth,
		CoalesceWindow: DefaultCoalesceWindow,
	}
}

// EvictionNotice reports groups dropped to stay inside the budget.
//
// Eviction is a soft condition, not an error: it permanently forfeits the
// ability to undo past the evicted point and is surfaced to the caller so
// the UI can tell the user, never silently swallowed.
type EvictionNotice struct {
	// Groups is how many groups were evicted.
	Groups int

	// FreedBytes is the retained size the evicted groups accounted for.
	FreedBytes int64
}

// Occurred reports whether any eviction happened.
func (n EvictionNotice) Occurred() bool {
	return n.Groups > 0
}

// CommitResult describes what Commit did with a group.
type CommitResult struct {
	// Pushed is true when the group became a new history entry.
	Pushed bool

	// Merged is true when the group was coalesced into the previous entry.
	Merged bool

	// Evicted reports any eviction pass triggered by the commit.
	Evicted EvictionNotice
}

// Entry is a read-only history listing row.
type Entry struct {
	// Description is the UI label of the group.
	Description string

	// Ops is the number of member operations.
	Ops int

	// SizeBytes is the approximate retained cost.
	SizeBytes int64

	// CommittedAt is when the group was committed.
	CommittedAt time.Time

	// Applied is true for undo-stack entries (currently in effect) and
	// false for redo-stack entries (undone, awaiting redo).
	Applied bool
}

// Stats summarizes history occupancy.
type Stats struct {
	UndoDepth   int
	RedoDepth   int
	MemoryUsed  int64
	BudgetBytes int64
	Clean       bool
}

// History is the undo/redo stack machine.
//
// Description:
//
//	Owns the two stacks, the save cursor, the memory accounting, and the
//	eviction policy, and consults the Coalescer before creating new
//	entries. A History is session-scoped: it is held by the editing
//	context and passed to collaborators by reference, never ambient
//	global state.
//
// Thread Safety: Mutation (Commit, Undo, Redo, Clear) must come from a
// single logical owner at a time; the internal lock makes concurrent
// read-only listing safe alongside that owner.
type History struct {
	mu sync.RWMutex

	undo []*OperationGroup
	redo []*OperationGroup

	// saveIndex is len(undo) at the last Save. -1 means the saved point
	// was evicted or sits on a discarded redo branch and can no longer be
	// reached by undo/redo alone.
	saveIndex int

	memoryUsed int64
	budget     int64
	maxDepth   int

	// coalesceOK is true while the top undo entry is still a legal merge
	// target (no undo/redo since it was pushed).
	coalesceOK bool

	provider snapshot.Provider
	store    *snapshot.Store
	coal     *Coalescer
	logger   *slog.Logger
}

// New creates a history bound to a state provider and snapshot store.
//
// Inputs:
//   - provider: State-provider capability for apply/revert. Must not be nil.
//   - store: Snapshot store holding capture payloads. Must not be nil.
//   - opts: Configuration; zero fields take defaults.
//
// Outputs:
//   - *History: Ready-to-use history. Never nil.
func New(provider snapshot.Provider, store *snapshot.Store, opts Options) *History {
	if provider == nil {
		panic("history: provider must not be nil")
	}
	if store == nil {
		panic("history: snapshot store must not be nil")
	}
	if opts.BudgetBytes <= 0 {
		opts.BudgetBytes = DefaultBudgetBytes
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &History{
		provider: provider,
		store:    store,
		coal:     NewCoalescer(opts.CoalesceWindow, store),
		budget:   opts.BudgetBytes,
		maxDepth: opts.MaxDepth,
		logger:   logger.With("component", "history"),
	}
}

// Commit hands a closed group to history.
//
// Description:
//
//	An empty group is a no-op and is never pushed. Otherwise the
//	coalescer gets first refusal; if it merges, the previous entry absorbs
//	the new after-state in place. Failing that the group is pushed: the
//	redo stack is discarded (branching history is not supported) and an
//	eviction pass runs if the budget is exceeded.
func (h *History) Commit(g *OperationGroup) (CommitResult, error) {
	if g == nil {
		return CommitResult{}, ErrNilGroup
	}
	if g.Empty() {
		return CommitResult{}, nil
	}
	if g.CommittedAt.IsZero() {
		g.CommittedAt = time.Now()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.coalesceOK && len(h.undo) > 0 {
		top := h.undo[len(h.undo)-1]
		if h.coal.CanMerge(top, g) {
			h.memoryUsed += h.coal.Merge(top, g)
			// The saved state no longer matches any reachable cursor
			// position once the top entry mutates in place.
			if h.saveIndex == len(h.undo) {
				h.saveIndex = -1
			}
			historyCoalescedTotal.Inc()
			notice := h.evictLocked()
			h.updateGaugesLocked()
			h.logger.Debug("coalesced edit into previous entry",
				"label", top.Label(),
				"memory_used", h.memoryUsed)
			return CommitResult{Merged: true, Evicted: notice}, nil
		}
	}

	notice := h.pushLocked(g)
	return CommitResult{Pushed: true, Evicted: notice}, nil
}

// pushLocked appends a group, discarding the redo branch. Caller holds the
// write lock.
func (h *History) pushLocked(g *OperationGroup) EvictionNotice {
	for _, r := range h.redo {
		h.memoryUsed -= r.Size()
		r.release(h.store)
	}
	h.redo = nil
	if h.saveIndex > len(h.undo) {
		// The saved point lived on the branch we just discarded.
		h.saveIndex = -1
	}

	h.undo = append(h.undo, g)
	h.memoryUsed += g.Size()
	h.coalesceOK = true
	historyPushesTotal.Inc()

	notice := h.evictLocked()
	h.updateGaugesLocked()
	h.logger.Debug("pushed group",
		"label", g.Label(),
		"ops", g.Len(),
		"size_bytes", g.Size(),
		"memory_used", h.memoryUsed)
	return notice
}

// evictLocked drops oldest undo entries until depth and budget hold.
// Caller holds the write lock. The newest entry is never evicted even if
// it alone exceeds the budget; the budget is a soft bound.
func (h *History) evictLocked() EvictionNotice {
	var notice EvictionNotice
	for (h.memoryUsed > h.budget || len(h.undo) > h.maxDepth) && len(h.undo) > 1 {
		oldest := h.undo[0]
		h.undo = h.undo[1:]
		size := oldest.Size()
		h.memoryUsed -= size
		oldest.release(h.store)

		notice.Groups++
		notice.FreedBytes += size
		historyEvictionsTotal.Inc()

		if h.saveIndex >= 0 {
			h.saveIndex--
			if h.saveIndex < 0 {
				h.saveIndex = -1
			}
		}
	}
	if notice.Occurred() {
		h.logger.Warn("evicted oldest history entries to stay inside budget",
			"evicted", notice.Groups,
			"freed_bytes", notice.FreedBytes,
			"memory_used", h.memoryUsed,
			"budget", h.budget)
	}
	if h.memoryUsed > h.budget {
		h.logger.Warn("single retained group exceeds history budget",
			"memory_used", h.memoryUsed,
			"budget", h.budget)
	}
	return notice
}

// Undo reverts the most recent group and moves it to the redo stack.
//
// Outputs:
//   - error: ErrNothingToUndo when the undo stack is empty. A schema
//     mismatch is permanent, so the poisoned entry is discarded and the
//     error returned; any other revert error leaves the stack untouched,
//     so the undo stays retryable.
func (h *History) Undo() error {
	start := time.Now()
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.undo) == 0 {
		return ErrNothingToUndo
	}
	top := h.undo[len(h.undo)-1]
	if err := top.RevertAll(h.provider); err != nil {
		var mismatch *snapshot.SchemaMismatchError
		if errors.As(err, &mismatch) {
			// Retrying an incompatible capture can never succeed, and
			// keeping it on top would block every entry beneath it.
			// The world is unchanged (RevertAll rolled back), so only
			// the stack shrinks; entries below stay undoable because
			// their captures hold absolute state, not deltas.
			h.undo = h.undo[:len(h.undo)-1]
			if h.saveIndex > len(h.undo) {
				// Positions above the discarded entry slide down one.
				h.saveIndex--
			}
			h.discardLocked(top, "undo")
			return err
		}
		h.logger.Error("undo failed, entry retained",
			"label", top.Label(),
			"error", err)
		return err
	}

	h.undo = h.undo[:len(h.undo)-1]
	h.redo = append(h.redo, top)
	h.coalesceOK = false
	h.updateGaugesLocked()
	historyOpDuration.WithLabelValues("undo").Observe(time.Since(start).Seconds())
	h.logger.Info("undo", "label", top.Label())
	return nil
}

// Redo re-applies the most recently undone group and moves it back to the
// undo stack. Same discard and retry contract as Undo.
func (h *History) Redo() error {
	start := time.Now()
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.redo) == 0 {
		return ErrNothingToRedo
	}
	top := h.redo[len(h.redo)-1]
	if err := top.ApplyAll(h.provider); err != nil {
		var mismatch *snapshot.SchemaMismatchError
		if errors.As(err, &mismatch) {
			h.redo = h.redo[:len(h.redo)-1]
			switch {
			case h.saveIndex == len(h.undo)+1:
				// The saved point was the poisoned entry's own state.
				h.saveIndex = -1
			case h.saveIndex > len(h.undo)+1:
				h.saveIndex--
			}
			h.discardLocked(top, "redo")
			return err
		}
		h.logger.Error("redo failed, entry retained",
			"label", top.Label(),
			"error", err)
		return err
	}

	h.redo = h.redo[:len(h.redo)-1]
	h.undo = append(h.undo, top)
	h.coalesceOK = false
	h.updateGaugesLocked()
	historyOpDuration.WithLabelValues("redo").Observe(time.Since(start).Seconds())
	h.logger.Info("redo", "label", top.Label())
	return nil
}

// discardLocked releases a schema-poisoned group already removed from its
// stack. Caller holds the write lock and has adjusted saveIndex.
func (h *History) discardLocked(g *OperationGroup, op string) {
	h.memoryUsed -= g.Size()
	g.release(h.store)
	h.coalesceOK = false
	h.updateGaugesLocked()
	historyDiscardsTotal.Inc()
	h.logger.Error(op+" failed on incompatible snapshot, entry discarded",
		"label", g.Label(),
		"memory_used", h.memoryUsed)
}

// CanUndo reports whether an undo entry exists.
func (h *History) CanUndo() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.undo) > 0
}

// CanRedo reports whether a redo entry exists.
func (h *History) CanRedo() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.redo) > 0
}

// PeekUndoDescription returns the label of the next undo entry.
func (h *History) PeekUndoDescription() (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.undo) == 0 {
		return "", false
	}
	return h.undo[len(h.undo)-1].Label(), true
}

// PeekRedoDescription returns the label of the next redo entry.
func (h *History) PeekRedoDescription() (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.redo) == 0 {
		return "", false
	}
	return h.redo[len(h.redo)-1].Label(), true
}

// List returns up to limit entries, newest first, spanning both stacks.
// Redo (future) entries come first, marked Applied=false.
//
// Inputs:
//   - limit: Maximum entries. <= 0 means no limit.
func (h *History) List(limit int) []Entry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	total := len(h.undo) + len(h.redo)
	if limit <= 0 || limit > total {
		limit = total
	}
	out := make([]Entry, 0, limit)

	// Redo stack bottom-to-top is furthest-future first.
	for i := 0; i < len(h.redo) && len(out) < limit; i++ {
		out = append(out, h.entryOf(h.redo[i], false))
	}
	for i := len(h.undo) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, h.entryOf(h.undo[i], true))
	}
	return out
}

func (h *History) entryOf(g *OperationGroup, applied bool) Entry {
	return Entry{
		Description: g.Label(),
		Ops:         g.Len(),
		SizeBytes:   g.Size(),
		CommittedAt: g.CommittedAt,
		Applied:     applied,
	}
}

// Save marks the current cursor position as the last-saved point. It
// performs no I/O; persistence belongs to the scene-serialization
// collaborator.
func (h *History) Save() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.saveIndex = len(h.undo)
}

// IsClean reports whether the cursor sits at the last-saved point.
func (h *History) IsClean() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.saveIndex == len(h.undo)
}

// MemoryUsed returns the approximate retained bytes across both stacks.
func (h *History) MemoryUsed() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.memoryUsed
}

// StatsSnapshot returns current occupancy counters.
func (h *History) StatsSnapshot() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return Stats{
		UndoDepth:   len(h.undo),
		RedoDepth:   len(h.redo),
		MemoryUsed:  h.memoryUsed,
		BudgetBytes: h.budget,
		Clean:       h.saveIndex == len(h.undo),
	}
}

// Clear drops all history, releasing every retained capture. Used when a
// new scene is created or loaded.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, g := range h.undo {
		g.release(h.store)
	}
	for _, g := range h.redo {
		g.release(h.store)
	}
	h.undo = nil
	h.redo = nil
	h.memoryUsed = 0
	h.saveIndex = 0
	h.coalesceOK = false
	h.updateGaugesLocked()
}

// updateGaugesLocked refreshes the exported gauges. Caller holds a lock.
func (h *History) updateGaugesLocked() {
	historyMemoryBytes.Set(float64(h.memoryUsed))
	historyDepthGauge.WithLabelValues("undo").Set(float64(len(h.undo)))
	historyDepthGauge.WithLabelValues("redo").Set(float64(len(h.redo)))
}
