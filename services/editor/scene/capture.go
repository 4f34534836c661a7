// SPDX-License-Identifier: MIT OR Apache-2.0

package scene

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/ordokr/OrdoPlayEditor/services/editor/snapshot"
)

// Snapshot payload tags. Restore dispatches on the tag directly; an
// unrecognized tag or a newer schema version is a SchemaMismatch, never a
// parse-until-something-fits probe.
const (
	// TagField is a single-field capture payload.
	TagField = "ordoplay.scene.field"

	// TagEntity is a whole-entity record payload.
	TagEntity = "ordoplay.scene.entity"

	// TagSubtree is a manifest-plus-records subtree payload.
	TagSubtree = "ordoplay.scene.subtree"
)

// SchemaVersion is the current payload schema revision for all scene tags.
const SchemaVersion uint16 = 1

// Field names addressable by KindField targets.
const (
	FieldTransform = "transform"
	FieldName      = "name"
	FieldVisible   = "visible"

	// PropFieldPrefix addresses one Properties key, e.g. "prop:mass".
	PropFieldPrefix = "prop:"
)

// fieldRecord is the gob payload of a field capture.
type fieldRecord struct {
	Field string
	Value any
}

// propEntry is one Properties pair, kept sorted for deterministic payload
// bytes (identical state must hash to the same chunk).
type propEntry struct {
	Key   string
	Value float64
}

// entityRecord is the gob payload of an entity capture.
type entityRecord struct {
	ID        EntityID
	Name      string
	Parent    EntityID
	Children  []EntityID
	Transform Transform
	Visible   bool
	Props     []propEntry
}

// subtreeManifest is the first chunk of a subtree capture.
//
// IDs are in depth-first preorder; record chunks follow in the same order.
// Absent marks a tombstone: the subtree rooted at Root must not exist after
// restore.
type subtreeManifest struct {
	Root   EntityID
	Parent EntityID
	Absent bool
	IDs    []EntityID
}

func init() {
	gob.Register(Transform{})
	gob.Register(float64(0))
	gob.Register("")
	gob.Register(false)
}

// Capture implements snapshot.Provider.
//
// Description:
//
//	Synchronously captures current state at target. Field and entity
//	captures intern one chunk; subtree captures intern a manifest plus one
//	chunk per entity so unchanged descendants share storage with earlier
//	captures. A subtree target whose root does not exist yields a
//	tombstone, which is the natural "before" of spawn/duplicate and the
//	"after" of delete.
//
// Outputs:
//   - snapshot.Snapshot: The capture.
//   - error: *snapshot.ValidationError if the target cannot be captured.
func (w *World) Capture(target snapshot.Target) (snapshot.Snapshot, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	switch target.Kind {
	case snapshot.KindField:
		return w.captureFieldLocked(target)
	case snapshot.KindEntity:
		return w.captureEntityLocked(target)
	case snapshot.KindSubtree:
		return w.captureSubtreeLocked(target)
	default:
		return snapshot.Snapshot{}, &snapshot.ValidationError{
			Target: target,
			Reason: "unknown capture kind",
		}
	}
}

func (w *World) captureFieldLocked(target snapshot.Target) (snapshot.Snapshot, error) {
	e, ok := w.entities[target.Entity]
	if !ok {
		return snapshot.Snapshot{}, &snapshot.ValidationError{
			Target: target,
			Reason: "entity does not exist",
		}
	}

	rec := fieldRecord{Field: target.Field}
	switch {
	case target.Field == FieldTransform:
		// The transform is captured whole. Never split rotation into
		// channels here.
		rec.Value = e.Transform
	case target.Field == FieldName:
		rec.Value = e.Name
	case target.Field == FieldVisible:
		rec.Value = e.Visible
	case len(target.Field) > len(PropFieldPrefix) && target.Field[:len(PropFieldPrefix)] == PropFieldPrefix:
		key := target.Field[len(PropFieldPrefix):]
		v, ok := e.Properties[key]
		if !ok {
			return snapshot.Snapshot{}, &snapshot.ValidationError{
				Target: target,
				Reason: fmt.Sprintf("property %q does not exist", key),
			}
		}
		rec.Value = v
	default:
		return snapshot.Snapshot{}, &snapshot.ValidationError{
			Target: target,
			Reason: fmt.Sprintf("unknown field %q", target.Field),
		}
	}

	payload, err := encodePayload(rec)
	if err != nil {
		return snapshot.Snapshot{}, err
	}
	ref := w.store.Intern(payload)
	return snapshot.New(TagField, SchemaVersion, []snapshot.Ref{ref}), nil
}

func (w *World) captureEntityLocked(target snapshot.Target) (snapshot.Snapshot, error) {
	e, ok := w.entities[target.Entity]
	if !ok {
		return snapshot.Snapshot{}, &snapshot.ValidationError{
			Target: target,
			Reason: "entity does not exist",
		}
	}

	payload, err := encodePayload(recordOf(e))
	if err != nil {
		return snapshot.Snapshot{}, err
	}
	ref := w.store.Intern(payload)
	return snapshot.New(TagEntity, SchemaVersion, []snapshot.Ref{ref}), nil
}

func (w *World) captureSubtreeLocked(target snapshot.Target) (snapshot.Snapshot, error) {
	root, ok := w.entities[target.Entity]
	if !ok {
		// Tombstone: the subtree does not exist at capture time.
		payload, err := encodePayload(subtreeManifest{Root: target.Entity, Absent: true})
		if err != nil {
			return snapshot.Snapshot{}, err
		}
		ref := w.store.Intern(payload)
		return snapshot.New(TagSubtree, SchemaVersion, []snapshot.Ref{ref}), nil
	}

	ids := w.subtreeIDsLocked(target.Entity)
	manifest := subtreeManifest{Root: target.Entity, Parent: root.Parent, IDs: ids}
	payload, err := encodePayload(manifest)
	if err != nil {
		return snapshot.Snapshot{}, err
	}

	refs := make([]snapshot.Ref, 0, 1+len(ids))
	refs = append(refs, w.store.Intern(payload))
	for _, id := range ids {
		rec, err := encodePayload(recordOf(w.entities[id]))
		if err != nil {
			return snapshot.Snapshot{}, err
		}
		refs = append(refs, w.store.Intern(rec))
	}
	return snapshot.New(TagSubtree, SchemaVersion, refs), nil
}

// CaptureAbsent returns a tombstone snapshot asserting the subtree
// rooted at id does not exist, regardless of current world state.
//
// Spawn and Duplicate allocate their IDs internally, so the "before"
// of those edits cannot be captured ahead of the mutation. Callers
// build it after the fact with this method; reverting to it deletes
// the spawned subtree.
func (w *World) CaptureAbsent(id EntityID) (snapshot.Snapshot, error) {
	payload, err := encodePayload(subtreeManifest{Root: id, Absent: true})
	if err != nil {
		return snapshot.Snapshot{}, err
	}
	ref := w.store.Intern(payload)
	return snapshot.New(TagSubtree, SchemaVersion, []snapshot.Ref{ref}), nil
}

// Restore implements snapshot.Provider.
//
// Description:
//
//	Writes a capture back into live state. Dispatches on the snapshot tag;
//	fails with *snapshot.SchemaMismatchError for unknown tags or newer
//	schema versions, and with *snapshot.ApplyError when the target is gone
//	or structurally incompatible. A failed restore leaves the world
//	unchanged.
func (w *World) Restore(target snapshot.Target, snap snapshot.Snapshot) error {
	if snap.IsZero() {
		return snapshot.ErrEmptySnapshot
	}
	if err := w.checkSchema(snap); err != nil {
		return err
	}
	if len(snap.Refs) == 0 {
		return &snapshot.ApplyError{Target: target, Reason: "snapshot holds no chunks"}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	switch snap.Tag {
	case TagField:
		return w.restoreFieldLocked(target, snap)
	case TagEntity:
		return w.restoreEntityLocked(target, snap)
	case TagSubtree:
		return w.restoreSubtreeLocked(target, snap)
	default:
		// checkSchema already rejected unknown tags.
		return &snapshot.SchemaMismatchError{Tag: snap.Tag}
	}
}

// checkSchema validates tag and version before any mutation.
func (w *World) checkSchema(snap snapshot.Snapshot) error {
	switch snap.Tag {
	case TagField, TagEntity, TagSubtree:
	default:
		return &snapshot.SchemaMismatchError{Tag: snap.Tag, SchemaVersion: snap.SchemaVersion}
	}
	if snap.SchemaVersion > SchemaVersion {
		return &snapshot.SchemaMismatchError{
			Tag:           snap.Tag,
			SchemaVersion: snap.SchemaVersion,
			Supported:     SchemaVersion,
		}
	}
	return nil
}

func (w *World) restoreFieldLocked(target snapshot.Target, snap snapshot.Snapshot) error {
	var rec fieldRecord
	if err := w.decodeChunk(target, snap.Refs[0], &rec); err != nil {
		return err
	}
	if rec.Field != target.Field {
		return &snapshot.ApplyError{
			Target: target,
			Reason: fmt.Sprintf("snapshot captured field %q", rec.Field),
		}
	}

	e, ok := w.entities[target.Entity]
	if !ok {
		return &snapshot.ApplyError{Target: target, Reason: "entity no longer exists"}
	}

	switch {
	case rec.Field == FieldTransform:
		t, ok := rec.Value.(Transform)
		if !ok {
			return w.badValue(target, rec.Value)
		}
		e.Transform = t
	case rec.Field == FieldName:
		s, ok := rec.Value.(string)
		if !ok {
			return w.badValue(target, rec.Value)
		}
		e.Name = s
	case rec.Field == FieldVisible:
		b, ok := rec.Value.(bool)
		if !ok {
			return w.badValue(target, rec.Value)
		}
		e.Visible = b
	case len(rec.Field) > len(PropFieldPrefix) && rec.Field[:len(PropFieldPrefix)] == PropFieldPrefix:
		v, ok := rec.Value.(float64)
		if !ok {
			return w.badValue(target, rec.Value)
		}
		if e.Properties == nil {
			e.Properties = make(map[string]float64)
		}
		e.Properties[rec.Field[len(PropFieldPrefix):]] = v
	default:
		return &snapshot.ApplyError{
			Target: target,
			Reason: fmt.Sprintf("unknown field %q", rec.Field),
		}
	}
	return nil
}

func (w *World) restoreEntityLocked(target snapshot.Target, snap snapshot.Snapshot) error {
	var rec entityRecord
	if err := w.decodeChunk(target, snap.Refs[0], &rec); err != nil {
		return err
	}
	if rec.ID != target.Entity {
		return &snapshot.ApplyError{
			Target: target,
			Reason: fmt.Sprintf("snapshot captured entity %s", rec.ID),
		}
	}
	if rec.Parent != uuid.Nil {
		if _, ok := w.entities[rec.Parent]; !ok {
			return &snapshot.ApplyError{Target: target, Reason: "captured parent no longer exists"}
		}
	}

	if old, ok := w.entities[rec.ID]; ok && old.Parent != rec.Parent {
		w.detachLocked(old.Parent, rec.ID)
	}
	w.entities[rec.ID] = entityOf(rec)
	w.attachLocked(rec.Parent, rec.ID)
	return nil
}

func (w *World) restoreSubtreeLocked(target snapshot.Target, snap snapshot.Snapshot) error {
	var manifest subtreeManifest
	if err := w.decodeChunk(target, snap.Refs[0], &manifest); err != nil {
		return err
	}
	if manifest.Root != target.Entity {
		return &snapshot.ApplyError{
			Target: target,
			Reason: fmt.Sprintf("snapshot captured subtree %s", manifest.Root),
		}
	}

	if manifest.Absent {
		root, ok := w.entities[manifest.Root]
		if !ok {
			return nil // already absent
		}
		for _, id := range w.subtreeIDsLocked(manifest.Root) {
			delete(w.entities, id)
		}
		w.detachLocked(root.Parent, manifest.Root)
		return nil
	}

	if len(snap.Refs) != 1+len(manifest.IDs) {
		return &snapshot.ApplyError{
			Target: target,
			Reason: fmt.Sprintf("subtree snapshot has %d record chunks, manifest lists %d entities",
				len(snap.Refs)-1, len(manifest.IDs)),
		}
	}
	if manifest.Parent != uuid.Nil {
		if _, ok := w.entities[manifest.Parent]; !ok {
			return &snapshot.ApplyError{Target: target, Reason: "captured parent no longer exists"}
		}
	}

	// Decode every record before touching the world so a corrupt chunk
	// cannot leave a half-restored subtree.
	records := make([]entityRecord, len(manifest.IDs))
	for i, id := range manifest.IDs {
		if err := w.decodeChunk(target, snap.Refs[1+i], &records[i]); err != nil {
			return err
		}
		if records[i].ID != id {
			return &snapshot.ApplyError{
				Target: target,
				Reason: fmt.Sprintf("record %d is for entity %s, manifest lists %s",
					i, records[i].ID, id),
			}
		}
	}

	// Drop live descendants that are not part of the captured subtree.
	inSnapshot := make(map[EntityID]bool, len(manifest.IDs))
	for _, id := range manifest.IDs {
		inSnapshot[id] = true
	}
	if old, ok := w.entities[manifest.Root]; ok {
		for _, id := range w.subtreeIDsLocked(manifest.Root) {
			if !inSnapshot[id] {
				delete(w.entities, id)
			}
		}
		if old.Parent != manifest.Parent {
			w.detachLocked(old.Parent, manifest.Root)
		}
	}

	for _, rec := range records {
		w.entities[rec.ID] = entityOf(rec)
	}
	w.attachLocked(manifest.Parent, manifest.Root)
	return nil
}

// attachLocked ensures child appears in parent's children list.
func (w *World) attachLocked(parent, child EntityID) {
	if parent == uuid.Nil {
		return
	}
	p, ok := w.entities[parent]
	if !ok {
		return
	}
	for _, c := range p.Children {
		if c == child {
			return
		}
	}
	p.Children = append(p.Children, child)
}

// decodeChunk fetches and decodes one payload chunk.
func (w *World) decodeChunk(target snapshot.Target, ref snapshot.Ref, v any) error {
	payload, err := w.store.Payload(ref)
	if err != nil {
		return &snapshot.ApplyError{Target: target, Reason: "payload chunk missing", Err: err}
	}
	if err := decodePayload(payload, v); err != nil {
		return &snapshot.ApplyError{Target: target, Reason: "payload decode failed", Err: err}
	}
	return nil
}

func (w *World) badValue(target snapshot.Target, v any) error {
	return &snapshot.ApplyError{
		Target: target,
		Reason: fmt.Sprintf("payload value has unexpected type %T", v),
	}
}

// recordOf converts a live entity to its capture record. Properties are
// sorted so identical state always produces identical payload bytes.
func recordOf(e *Entity) entityRecord {
	rec := entityRecord{
		ID:        e.ID,
		Name:      e.Name,
		Parent:    e.Parent,
		Children:  append([]EntityID(nil), e.Children...),
		Transform: e.Transform,
		Visible:   e.Visible,
	}
	if len(e.Properties) > 0 {
		rec.Props = make([]propEntry, 0, len(e.Properties))
		for k, v := range e.Properties {
			rec.Props = append(rec.Props, propEntry{Key: k, Value: v})
		}
		sort.Slice(rec.Props, func(i, j int) bool { return rec.Props[i].Key < rec.Props[j].Key })
	}
	return rec
}

// entityOf converts a capture record back to a live entity.
func entityOf(rec entityRecord) *Entity {
	e := &Entity{
		ID:        rec.ID,
		Name:      rec.Name,
		Parent:    rec.Parent,
		Children:  append([]EntityID(nil), rec.Children...),
		Transform: rec.Transform,
		Visible:   rec.Visible,
	}
	if len(rec.Props) > 0 {
		e.Properties = make(map[string]float64, len(rec.Props))
		for _, p := range rec.Props {
			e.Properties[p.Key] = p.Value
		}
	}
	return e
}

func encodePayload(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("encoding snapshot payload: %w", err)
	}
	return buf.Bytes(), nil
}

func decodePayload(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}
