// SPDX-License-Identifier: MIT OR Apache-2.0

package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ordokr/OrdoPlayEditor/services/editor/scene"
	"github.com/ordokr/OrdoPlayEditor/services/editor/snapshot"
)

type fixture struct {
	world *scene.World
	store *snapshot.Store
	hist  *History
	// clock hands out strictly increasing commit times so tests choose
	// whether consecutive groups land inside the merge window.
	clock time.Time
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	store := snapshot.NewStore(nil)
	world := scene.NewWorld(store, nil)
	return &fixture{
		world: world,
		store: store,
		hist:  New(world, store, opts),
		clock: time.Now(),
	}
}

func (f *fixture) spawn(t *testing.T, name string) scene.EntityID {
	t.Helper()
	id, err := f.world.Spawn(name, scene.EntityID{})
	require.NoError(t, err)
	return id
}

// moveOp performs a position edit and returns the recording operation.
func (f *fixture) moveOp(t *testing.T, id scene.EntityID, pos [3]float64) Operation {
	t.Helper()
	target := snapshot.Target{Entity: id, Field: scene.FieldTransform, Kind: snapshot.KindField}
	before, err := f.world.Capture(target)
	require.NoError(t, err)

	e, ok := f.world.Get(id)
	require.True(t, ok)
	tr := e.Transform
	tr.Position = pos
	require.NoError(t, f.world.SetTransform(id, tr))

	after, err := f.world.Capture(target)
	require.NoError(t, err)
	return Operation{
		Target:      target,
		Kind:        "transform.translate",
		Before:      before,
		After:       after,
		Description: "Move " + e.Name,
	}
}

// commitMove wraps a move in a single-op group. gap controls the commit
// timestamp distance from the previous commit.
func (f *fixture) commitMove(t *testing.T, id scene.EntityID, pos [3]float64, gap time.Duration) CommitResult {
	t.Helper()
	g := NewGroup("")
	g.Append(f.moveOp(t, id, pos))
	f.clock = f.clock.Add(gap)
	g.CommittedAt = f.clock
	res, err := f.hist.Commit(g)
	require.NoError(t, err)
	return res
}

func (f *fixture) position(t *testing.T, id scene.EntityID) [3]float64 {
	t.Helper()
	e, ok := f.world.Get(id)
	require.True(t, ok)
	return e.Transform.Position
}

// outsideWindow is a commit gap that always defeats coalescing.
const outsideWindow = DefaultCoalesceWindow + time.Second

// -----------------------------------------------------------------------------
// Undo / Redo Round-Trip Tests
// -----------------------------------------------------------------------------

func TestHistory_UndoRedoRoundTrip(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	id := f.spawn(t, "crate")

	f.commitMove(t, id, [3]float64{1, 0, 0}, outsideWindow)
	f.commitMove(t, id, [3]float64{2, 0, 0}, outsideWindow)
	assert.Equal(t, [3]float64{2, 0, 0}, f.position(t, id))

	require.NoError(t, f.hist.Undo())
	assert.Equal(t, [3]float64{1, 0, 0}, f.position(t, id))

	require.NoError(t, f.hist.Undo())
	assert.Equal(t, [3]float64{0, 0, 0}, f.position(t, id))
	assert.False(t, f.hist.CanUndo())

	require.NoError(t, f.hist.Redo())
	assert.Equal(t, [3]float64{1, 0, 0}, f.position(t, id))

	require.NoError(t, f.hist.Redo())
	assert.Equal(t, [3]float64{2, 0, 0}, f.position(t, id))
	assert.False(t, f.hist.CanRedo())
}

func TestHistory_EmptyStacks(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	assert.ErrorIs(t, f.hist.Undo(), ErrNothingToUndo)
	assert.ErrorIs(t, f.hist.Redo(), ErrNothingToRedo)
}

func TestHistory_Commit(t *testing.T) {
	t.Run("nil group", func(t *testing.T) {
		f := newFixture(t, DefaultOptions())
		_, err := f.hist.Commit(nil)
		assert.ErrorIs(t, err, ErrNilGroup)
	})

	t.Run("empty group is a no-op", func(t *testing.T) {
		f := newFixture(t, DefaultOptions())
		res, err := f.hist.Commit(NewGroup("nothing"))
		require.NoError(t, err)
		assert.False(t, res.Pushed)
		assert.False(t, res.Merged)
		assert.False(t, f.hist.CanUndo())
	})
}

// -----------------------------------------------------------------------------
// Branch Discard Tests
// -----------------------------------------------------------------------------

func TestHistory_CommitDiscardsRedoBranch(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	id := f.spawn(t, "crate")

	f.commitMove(t, id, [3]float64{1, 0, 0}, outsideWindow)
	f.commitMove(t, id, [3]float64{2, 0, 0}, outsideWindow)
	require.NoError(t, f.hist.Undo())
	assert.True(t, f.hist.CanRedo())

	f.commitMove(t, id, [3]float64{5, 0, 0}, outsideWindow)
	assert.False(t, f.hist.CanRedo())

	stats := f.hist.StatsSnapshot()
	assert.Equal(t, 2, stats.UndoDepth)
	assert.Zero(t, stats.RedoDepth)

	// The discarded branch is fully unwound: undo twice lands at origin.
	require.NoError(t, f.hist.Undo())
	require.NoError(t, f.hist.Undo())
	assert.Equal(t, [3]float64{0, 0, 0}, f.position(t, id))
}

// -----------------------------------------------------------------------------
// Coalescing Tests
// -----------------------------------------------------------------------------

func TestHistory_Coalescing(t *testing.T) {
	t.Run("continuous gesture merges into one entry", func(t *testing.T) {
		f := newFixture(t, DefaultOptions())
		id := f.spawn(t, "slider")

		for i := 1; i <= 10; i++ {
			res := f.commitMove(t, id, [3]float64{float64(i), 0, 0}, 50*time.Millisecond)
			if i == 1 {
				assert.True(t, res.Pushed)
			} else {
				assert.True(t, res.Merged)
			}
		}

		assert.Equal(t, 1, f.hist.StatsSnapshot().UndoDepth)
		require.NoError(t, f.hist.Undo())
		assert.Equal(t, [3]float64{0, 0, 0}, f.position(t, id))

		require.NoError(t, f.hist.Redo())
		assert.Equal(t, [3]float64{10, 0, 0}, f.position(t, id))
	})

	t.Run("gap beyond window starts a new entry", func(t *testing.T) {
		f := newFixture(t, DefaultOptions())
		id := f.spawn(t, "slider")

		f.commitMove(t, id, [3]float64{1, 0, 0}, 50*time.Millisecond)
		f.commitMove(t, id, [3]float64{2, 0, 0}, outsideWindow)
		assert.Equal(t, 2, f.hist.StatsSnapshot().UndoDepth)
	})

	t.Run("different targets never merge", func(t *testing.T) {
		f := newFixture(t, DefaultOptions())
		a := f.spawn(t, "a")
		b := f.spawn(t, "b")

		f.commitMove(t, a, [3]float64{1, 0, 0}, 50*time.Millisecond)
		f.commitMove(t, b, [3]float64{1, 0, 0}, 50*time.Millisecond)
		assert.Equal(t, 2, f.hist.StatsSnapshot().UndoDepth)
	})

	t.Run("undo ends the gesture", func(t *testing.T) {
		f := newFixture(t, DefaultOptions())
		id := f.spawn(t, "slider")

		f.commitMove(t, id, [3]float64{1, 0, 0}, 50*time.Millisecond)
		require.NoError(t, f.hist.Undo())
		require.NoError(t, f.hist.Redo())

		// Same target, inside the window, but the entry is no longer a
		// legal merge target.
		res := f.commitMove(t, id, [3]float64{2, 0, 0}, 50*time.Millisecond)
		assert.True(t, res.Pushed)
		assert.Equal(t, 2, f.hist.StatsSnapshot().UndoDepth)
	})

	t.Run("merge slides the window forward", func(t *testing.T) {
		f := newFixture(t, DefaultOptions())
		id := f.spawn(t, "slider")

		f.commitMove(t, id, [3]float64{1, 0, 0}, 50*time.Millisecond)
		// Each step is inside the window relative to the previous one,
		// even though the last is far from the first.
		for i := 2; i <= 6; i++ {
			res := f.commitMove(t, id, [3]float64{float64(i), 0, 0}, 400*time.Millisecond)
			assert.True(t, res.Merged)
		}
		assert.Equal(t, 1, f.hist.StatsSnapshot().UndoDepth)
	})
}

// -----------------------------------------------------------------------------
// Eviction Tests
// -----------------------------------------------------------------------------

func TestHistory_Eviction(t *testing.T) {
	t.Run("depth cap evicts oldest first", func(t *testing.T) {
		f := newFixture(t, Options{MaxDepth: 2})
		id := f.spawn(t, "crate")

		f.commitMove(t, id, [3]float64{1, 0, 0}, outsideWindow)
		f.commitMove(t, id, [3]float64{2, 0, 0}, outsideWindow)
		res := f.commitMove(t, id, [3]float64{3, 0, 0}, outsideWindow)
		require.True(t, res.Evicted.Occurred())
		assert.Equal(t, 1, res.Evicted.Groups)
		assert.Positive(t, res.Evicted.FreedBytes)

		// Undo bottoms out at the oldest surviving entry's before-state.
		require.NoError(t, f.hist.Undo())
		require.NoError(t, f.hist.Undo())
		assert.ErrorIs(t, f.hist.Undo(), ErrNothingToUndo)
		assert.Equal(t, [3]float64{1, 0, 0}, f.position(t, id))
	})

	t.Run("memory budget evicts but keeps the newest entry", func(t *testing.T) {
		f := newFixture(t, Options{BudgetBytes: 1})
		id := f.spawn(t, "crate")

		f.commitMove(t, id, [3]float64{1, 0, 0}, outsideWindow)
		res := f.commitMove(t, id, [3]float64{2, 0, 0}, outsideWindow)
		assert.True(t, res.Evicted.Occurred())

		stats := f.hist.StatsSnapshot()
		assert.Equal(t, 1, stats.UndoDepth)
		// Soft bound: the lone surviving entry may still exceed it.
		assert.Positive(t, stats.MemoryUsed)
	})

	t.Run("eviction forfeits the saved point", func(t *testing.T) {
		f := newFixture(t, Options{MaxDepth: 2})
		id := f.spawn(t, "crate")
		require.True(t, f.hist.IsClean(), "pristine scene is the saved state")

		f.commitMove(t, id, [3]float64{1, 0, 0}, outsideWindow)
		f.commitMove(t, id, [3]float64{2, 0, 0}, outsideWindow)
		f.commitMove(t, id, [3]float64{3, 0, 0}, outsideWindow)

		// The pristine state fell off the bottom; no amount of undo
		// reaches it again.
		require.NoError(t, f.hist.Undo())
		require.NoError(t, f.hist.Undo())
		assert.False(t, f.hist.IsClean())
	})

	t.Run("saved entry survives eviction of older entries", func(t *testing.T) {
		f := newFixture(t, Options{MaxDepth: 2})
		id := f.spawn(t, "crate")

		f.commitMove(t, id, [3]float64{1, 0, 0}, outsideWindow)
		f.hist.Save()
		f.commitMove(t, id, [3]float64{2, 0, 0}, outsideWindow)
		f.commitMove(t, id, [3]float64{3, 0, 0}, outsideWindow)

		// The evicted entry is older than the saved point, which stays
		// reachable at the new stack bottom.
		require.NoError(t, f.hist.Undo())
		require.NoError(t, f.hist.Undo())
		assert.True(t, f.hist.IsClean())
	})
}

// -----------------------------------------------------------------------------
// Save / Clean Tests
// -----------------------------------------------------------------------------

func TestHistory_SaveState(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	id := f.spawn(t, "crate")

	assert.True(t, f.hist.IsClean(), "new history starts clean")

	f.commitMove(t, id, [3]float64{1, 0, 0}, outsideWindow)
	assert.False(t, f.hist.IsClean())

	f.hist.Save()
	assert.True(t, f.hist.IsClean())

	f.commitMove(t, id, [3]float64{2, 0, 0}, outsideWindow)
	assert.False(t, f.hist.IsClean())

	// Undoing back to the saved point restores cleanliness.
	require.NoError(t, f.hist.Undo())
	assert.True(t, f.hist.IsClean())

	require.NoError(t, f.hist.Undo())
	assert.False(t, f.hist.IsClean())

	require.NoError(t, f.hist.Redo())
	assert.True(t, f.hist.IsClean())

	t.Run("saved point on discarded branch", func(t *testing.T) {
		require.NoError(t, f.hist.Undo()) // cursor below the saved point
		f.commitMove(t, id, [3]float64{9, 0, 0}, outsideWindow)
		assert.False(t, f.hist.IsClean())

		// The saved spot is gone for good; walking back does not help.
		require.NoError(t, f.hist.Undo())
		assert.False(t, f.hist.IsClean())
	})
}

func TestHistory_MergeOntoSavedEntryDirties(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	id := f.spawn(t, "slider")

	f.commitMove(t, id, [3]float64{1, 0, 0}, 50*time.Millisecond)
	f.hist.Save()
	require.True(t, f.hist.IsClean())

	res := f.commitMove(t, id, [3]float64{2, 0, 0}, 50*time.Millisecond)
	require.True(t, res.Merged)

	// The entry the save pointed at was mutated in place.
	assert.False(t, f.hist.IsClean())
	require.NoError(t, f.hist.Undo())
	assert.False(t, f.hist.IsClean())
}

// -----------------------------------------------------------------------------
// Failed Undo Tests
// -----------------------------------------------------------------------------

func TestHistory_FailedUndoIsRetryable(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	id := f.spawn(t, "fragile")

	f.commitMove(t, id, [3]float64{1, 0, 0}, outsideWindow)

	// Deleting the entity out from under the history makes the revert
	// fail; the entry must survive for retry.
	require.NoError(t, f.world.Delete(id))
	err := f.hist.Undo()
	var aerr *snapshot.ApplyError
	require.ErrorAs(t, err, &aerr)
	assert.True(t, f.hist.CanUndo())
	assert.Equal(t, 1, f.hist.StatsSnapshot().UndoDepth)
}

// commitPoisonedMove commits a single-op move whose before-capture claims a
// schema version the provider cannot read back.
func (f *fixture) commitPoisonedMove(t *testing.T, id scene.EntityID, pos [3]float64) {
	t.Helper()
	op := f.moveOp(t, id, pos)
	op.Before.SchemaVersion = scene.SchemaVersion + 1
	g := NewGroup("")
	g.Append(op)
	f.clock = f.clock.Add(outsideWindow)
	g.CommittedAt = f.clock
	_, err := f.hist.Commit(g)
	require.NoError(t, err)
}

func TestHistory_IncompatibleEntryDiscardedOnUndo(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	id := f.spawn(t, "relic")

	f.commitMove(t, id, [3]float64{1, 0, 0}, outsideWindow)
	f.commitPoisonedMove(t, id, [3]float64{2, 0, 0})
	startMem := f.hist.MemoryUsed()

	err := f.hist.Undo()
	var serr *snapshot.SchemaMismatchError
	require.ErrorAs(t, err, &serr)

	// The poisoned entry is gone, not parked on the redo stack, and its
	// captures are no longer accounted for.
	stats := f.hist.StatsSnapshot()
	assert.Equal(t, 1, stats.UndoDepth)
	assert.Zero(t, stats.RedoDepth)
	assert.Less(t, stats.MemoryUsed, startMem)

	// The failed undo left the world untouched.
	assert.Equal(t, [3]float64{2, 0, 0}, f.position(t, id))

	// The valid entry beneath is no longer blocked; its capture holds
	// absolute state, so undo lands exactly at its before-state.
	require.NoError(t, f.hist.Undo())
	assert.Equal(t, [3]float64{0, 0, 0}, f.position(t, id))
	assert.True(t, f.hist.IsClean(), "back at the pristine saved state")
}

func TestHistory_IncompatibleEntryDiscardedOnRedo(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	id := f.spawn(t, "relic")

	op := f.moveOp(t, id, [3]float64{1, 0, 0})
	op.After.SchemaVersion = scene.SchemaVersion + 1
	g := NewGroup("")
	g.Append(op)
	f.clock = f.clock.Add(outsideWindow)
	g.CommittedAt = f.clock
	_, err := f.hist.Commit(g)
	require.NoError(t, err)

	// Undo restores the readable before-capture and parks the entry on
	// the redo stack; redo then trips over the poisoned after-capture.
	require.NoError(t, f.hist.Undo())
	err = f.hist.Redo()
	var serr *snapshot.SchemaMismatchError
	require.ErrorAs(t, err, &serr)

	stats := f.hist.StatsSnapshot()
	assert.Zero(t, stats.UndoDepth)
	assert.Zero(t, stats.RedoDepth)
	assert.ErrorIs(t, f.hist.Redo(), ErrNothingToRedo)
	assert.Equal(t, [3]float64{0, 0, 0}, f.position(t, id))
}

// -----------------------------------------------------------------------------
// Listing Tests
// -----------------------------------------------------------------------------

func TestHistory_List(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	id := f.spawn(t, "crate")

	f.commitMove(t, id, [3]float64{1, 0, 0}, outsideWindow)
	f.commitMove(t, id, [3]float64{2, 0, 0}, outsideWindow)
	f.commitMove(t, id, [3]float64{3, 0, 0}, outsideWindow)
	require.NoError(t, f.hist.Undo())

	entries := f.hist.List(0)
	require.Len(t, entries, 3)
	assert.False(t, entries[0].Applied, "redo entries come first")
	assert.True(t, entries[1].Applied)
	assert.True(t, entries[2].Applied)
	assert.Equal(t, "Move crate", entries[0].Description)
	assert.Equal(t, 1, entries[0].Ops)
	assert.Positive(t, entries[0].SizeBytes)

	t.Run("limit", func(t *testing.T) {
		assert.Len(t, f.hist.List(2), 2)
	})

	t.Run("peek", func(t *testing.T) {
		desc, ok := f.hist.PeekUndoDescription()
		require.True(t, ok)
		assert.Equal(t, "Move crate", desc)
		_, ok = f.hist.PeekRedoDescription()
		assert.True(t, ok)
	})
}

// -----------------------------------------------------------------------------
// Clear Tests
// -----------------------------------------------------------------------------

func TestHistory_Clear(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	id := f.spawn(t, "crate")

	f.commitMove(t, id, [3]float64{1, 0, 0}, outsideWindow)
	f.commitMove(t, id, [3]float64{2, 0, 0}, outsideWindow)
	require.NoError(t, f.hist.Undo())
	require.Positive(t, f.hist.MemoryUsed())

	f.hist.Clear()
	stats := f.hist.StatsSnapshot()
	assert.Zero(t, stats.UndoDepth)
	assert.Zero(t, stats.RedoDepth)
	assert.Zero(t, stats.MemoryUsed)
	assert.True(t, f.hist.IsClean())
	assert.ErrorIs(t, f.hist.Undo(), ErrNothingToUndo)
}
