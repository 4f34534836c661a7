// SPDX-License-Identifier: MIT OR Apache-2.0

package scene

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ordokr/OrdoPlayEditor/services/editor/snapshot"
)

func newTestWorld(t *testing.T) *World {
	t.Helper()
	return NewWorld(snapshot.NewStore(nil), nil)
}

// -----------------------------------------------------------------------------
// Spawn / Get Tests
// -----------------------------------------------------------------------------

func TestWorld_Spawn(t *testing.T) {
	t.Run("root entity", func(t *testing.T) {
		w := newTestWorld(t)
		id, err := w.Spawn("player", EntityID{})
		require.NoError(t, err)

		e, ok := w.Get(id)
		require.True(t, ok)
		assert.Equal(t, "player", e.Name)
		assert.Equal(t, IdentityTransform(), e.Transform)
		assert.True(t, e.Visible)
		assert.Equal(t, []EntityID{id}, w.Roots())
	})

	t.Run("child entity", func(t *testing.T) {
		w := newTestWorld(t)
		parent, err := w.Spawn("level", EntityID{})
		require.NoError(t, err)
		child, err := w.Spawn("prop", parent)
		require.NoError(t, err)

		p, _ := w.Get(parent)
		assert.Equal(t, []EntityID{child}, p.Children)
		c, _ := w.Get(child)
		assert.Equal(t, parent, c.Parent)
	})

	t.Run("unknown parent", func(t *testing.T) {
		w := newTestWorld(t)
		_, err := w.Spawn("orphan", NewEntityID())
		var verr *snapshot.ValidationError
		assert.ErrorAs(t, err, &verr)
	})
}

func TestWorld_Get_ReturnsCopy(t *testing.T) {
	w := newTestWorld(t)
	id, err := w.Spawn("prop", EntityID{})
	require.NoError(t, err)

	e, _ := w.Get(id)
	e.Name = "mutated"
	e.Transform.Position[0] = 99

	fresh, _ := w.Get(id)
	assert.Equal(t, "prop", fresh.Name)
	assert.Zero(t, fresh.Transform.Position[0])
}

// -----------------------------------------------------------------------------
// Field Setter Tests
// -----------------------------------------------------------------------------

func TestWorld_Setters(t *testing.T) {
	w := newTestWorld(t)
	id, err := w.Spawn("crate", EntityID{})
	require.NoError(t, err)

	tr := IdentityTransform()
	tr.Position = [3]float64{1, 2, 3}
	require.NoError(t, w.SetTransform(id, tr))
	require.NoError(t, w.SetName(id, "barrel"))
	require.NoError(t, w.SetVisible(id, false))
	require.NoError(t, w.SetProperty(id, "health", 75))

	e, _ := w.Get(id)
	assert.Equal(t, tr, e.Transform)
	assert.Equal(t, "barrel", e.Name)
	assert.False(t, e.Visible)
	assert.Equal(t, 75.0, e.Properties["health"])

	t.Run("missing entity", func(t *testing.T) {
		err := w.SetName(NewEntityID(), "ghost")
		var verr *snapshot.ValidationError
		assert.ErrorAs(t, err, &verr)
	})
}

// -----------------------------------------------------------------------------
// Structural Edit Tests
// -----------------------------------------------------------------------------

func TestWorld_Delete(t *testing.T) {
	w := newTestWorld(t)
	root, err := w.Spawn("building", EntityID{})
	require.NoError(t, err)
	floor, err := w.Spawn("floor", root)
	require.NoError(t, err)
	door, err := w.Spawn("door", floor)
	require.NoError(t, err)

	require.NoError(t, w.Delete(floor))
	assert.False(t, w.Exists(floor))
	assert.False(t, w.Exists(door))
	assert.True(t, w.Exists(root))

	r, _ := w.Get(root)
	assert.Empty(t, r.Children)
}

func TestWorld_Reparent(t *testing.T) {
	w := newTestWorld(t)
	a, _ := w.Spawn("a", EntityID{})
	b, _ := w.Spawn("b", EntityID{})
	child, _ := w.Spawn("child", a)

	require.NoError(t, w.Reparent(child, b))
	c, _ := w.Get(child)
	assert.Equal(t, b, c.Parent)
	pa, _ := w.Get(a)
	assert.Empty(t, pa.Children)
	pb, _ := w.Get(b)
	assert.Equal(t, []EntityID{child}, pb.Children)

	t.Run("rejects cycles", func(t *testing.T) {
		err := w.Reparent(b, child)
		var verr *snapshot.ValidationError
		assert.ErrorAs(t, err, &verr)
	})

	t.Run("rejects self", func(t *testing.T) {
		err := w.Reparent(a, a)
		var verr *snapshot.ValidationError
		assert.ErrorAs(t, err, &verr)
	})
}

func TestWorld_Duplicate(t *testing.T) {
	w := newTestWorld(t)
	root, _ := w.Spawn("tower", EntityID{})
	top, _ := w.Spawn("top", root)
	require.NoError(t, w.SetProperty(top, "height", 12))

	dup, err := w.Duplicate(root)
	require.NoError(t, err)
	assert.NotEqual(t, root, dup)

	d, ok := w.Get(dup)
	require.True(t, ok)
	assert.Equal(t, "tower", d.Name)
	require.Len(t, d.Children, 1)
	assert.NotEqual(t, top, d.Children[0])

	dtop, _ := w.Get(d.Children[0])
	assert.Equal(t, "top", dtop.Name)
	assert.Equal(t, 12.0, dtop.Properties["height"])

	// The copy is independent of the original.
	require.NoError(t, w.SetName(top, "renamed"))
	dtop, _ = w.Get(d.Children[0])
	assert.Equal(t, "top", dtop.Name)
}

func TestWorld_SubtreeIDs(t *testing.T) {
	w := newTestWorld(t)
	root, _ := w.Spawn("root", EntityID{})
	a, _ := w.Spawn("a", root)
	b, _ := w.Spawn("b", root)
	aa, _ := w.Spawn("aa", a)

	ids := w.SubtreeIDs(root)
	assert.Equal(t, []EntityID{root, a, aa, b}, ids)
	assert.Empty(t, w.SubtreeIDs(NewEntityID()))
}

// -----------------------------------------------------------------------------
// Selection Tests
// -----------------------------------------------------------------------------

func TestSelection(t *testing.T) {
	var sel Selection
	a, b := NewEntityID(), NewEntityID()

	_, ok := sel.Primary()
	assert.False(t, ok)

	sel.Add(a)
	sel.Add(b)
	sel.Add(a) // no duplicate
	assert.Equal(t, 2, sel.Len())

	primary, ok := sel.Primary()
	require.True(t, ok)
	assert.Equal(t, b, primary)

	sel.Toggle(b)
	assert.False(t, sel.Contains(b))
	sel.Set(b)
	assert.Equal(t, 1, sel.Len())
	sel.Clear()
	assert.Zero(t, sel.Len())
}

// -----------------------------------------------------------------------------
// Transform Tests
// -----------------------------------------------------------------------------

func TestQuatFromEulerDegrees(t *testing.T) {
	t.Run("zero rotation is identity", func(t *testing.T) {
		q := QuatFromEulerDegrees(0, 0, 0)
		assert.InDelta(t, 0, q[0], 1e-12)
		assert.InDelta(t, 0, q[1], 1e-12)
		assert.InDelta(t, 0, q[2], 1e-12)
		assert.InDelta(t, 1, q[3], 1e-12)
	})

	t.Run("unit length", func(t *testing.T) {
		q := QuatFromEulerDegrees(30, 45, 60)
		norm := q[0]*q[0] + q[1]*q[1] + q[2]*q[2] + q[3]*q[3]
		assert.InDelta(t, 1, norm, 1e-9)
	})
}
