// SPDX-License-Identifier: MIT OR Apache-2.0

package snapshot

import (
	"crypto/sha256"
	"log/slog"
	"sync"
)

// Store is the content-addressed chunk table behind all snapshots.
//
// Description:
//
//	Payloads are interned by SHA-256. Interning bytes that are already
//	retained bumps a refcount instead of storing a second copy; this is
//	what makes before/after capture affordable at scale, since the "before"
//	of one edit is usually byte-identical to the "after" of the previous
//	one, and unchanged entities inside a subtree capture hash to chunks
//	that already exist.
//
//	Ownership is explicit: whoever holds a Snapshot holds one reference to
//	each of its chunks and must Release it exactly once when the snapshot
//	is discarded. Chunks are freed at refcount zero.
//
// Thread Safety: Safe for concurrent use.
type Store struct {
	mu     sync.Mutex
	chunks map[[32]byte]*chunk
	logger *slog.Logger

	retainedBytes int64
	interned      uint64
	deduped       uint64
}

type chunk struct {
	data []byte
	refs int64
}

// StoreStats describes current store occupancy.
type StoreStats struct {
	// Chunks is the number of distinct retained chunks.
	Chunks int

	// RetainedBytes is the total payload bytes retained, counting shared
	// chunks once.
	RetainedBytes int64

	// Interned is the total number of Intern calls served.
	Interned uint64

	// Deduped is how many Intern calls were satisfied by an existing chunk.
	Deduped uint64
}

// NewStore creates an empty snapshot store.
//
// Inputs:
//   - logger: Logger for diagnostics. If nil, uses slog.Default().
//
// Outputs:
//   - *Store: Ready-to-use store. Never nil.
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		chunks: make(map[[32]byte]*chunk),
		logger: logger.With("component", "snapshot_store"),
	}
}

// Intern stores a payload and returns a reference to it.
//
// Description:
//
//	The payload is copied; callers may reuse their buffer. The returned
//	reference carries one ownership count that must eventually be released
//	(directly or through Release of the snapshot holding it).
func (s *Store) Intern(payload []byte) Ref {
	hash := sha256.Sum256(payload)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.interned++
	if c, ok := s.chunks[hash]; ok {
		c.refs++
		s.deduped++
		return Ref{Hash: hash, Size: int64(len(c.data))}
	}

	data := make([]byte, len(payload))
	copy(data, payload)
	s.chunks[hash] = &chunk{data: data, refs: 1}
	s.retainedBytes += int64(len(data))
	return Ref{Hash: hash, Size: int64(len(data))}
}

// Retain adds one ownership count to every chunk of the snapshot.
//
// Used when a snapshot value is duplicated into a second owner (for
// example the merged "after" of a coalesced group).
func (s *Store) Retain(snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Validate all refs first so a partial retain never happens.
	for _, r := range snap.Refs {
		if _, ok := s.chunks[r.Hash]; !ok {
			return ErrUnknownChunk
		}
	}
	for _, r := range snap.Refs {
		s.chunks[r.Hash].refs++
	}
	return nil
}

// Release drops one ownership count from every chunk of the snapshot,
// freeing chunks that reach zero.
//
// Releasing a snapshot whose chunks are unknown is a no-op per chunk; that
// happens legitimately when a SchemaMismatch entry was already torn down.
func (s *Store) Release(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range snap.Refs {
		c, ok := s.chunks[r.Hash]
		if !ok {
			continue
		}
		c.refs--
		if c.refs <= 0 {
			s.retainedBytes -= int64(len(c.data))
			delete(s.chunks, r.Hash)
		}
	}
}

// Payload returns a copy of the chunk's bytes.
//
// Outputs:
//   - []byte: Payload copy, safe for the caller to modify.
//   - error: ErrUnknownChunk if the chunk is not retained.
func (s *Store) Payload(ref Ref) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.chunks[ref.Hash]
	if !ok {
		return nil, ErrUnknownChunk
	}
	out := make([]byte, len(c.data))
	copy(out, c.data)
	return out, nil
}

// Contains reports whether the chunk is currently retained.
func (s *Store) Contains(ref Ref) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.chunks[ref.Hash]
	return ok
}

// Stats returns current occupancy counters.
func (s *Store) Stats() StoreStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StoreStats{
		Chunks:        len(s.chunks),
		RetainedBytes: s.retainedBytes,
		Interned:      s.interned,
		Deduped:       s.deduped,
	}
}

// Diff compares two snapshots by chunk identity.
//
// Description:
//
//	Reports how many payload bytes the two captures share and how many are
//	unique to each side. Used for memory cost estimates in history
//	listings; correctness never depends on it.
type Diff struct {
	// SharedBytes is the total size of chunks present in both snapshots.
	SharedBytes int64

	// OnlyABytes is the total size of chunks only in a.
	OnlyABytes int64

	// OnlyBBytes is the total size of chunks only in b.
	OnlyBBytes int64
}

// DiffSnapshots computes the chunk-level difference between two snapshots.
func DiffSnapshots(a, b Snapshot) Diff {
	inA := make(map[[32]byte]int64, len(a.Refs))
	for _, r := range a.Refs {
		inA[r.Hash] = r.Size
	}

	var d Diff
	seen := make(map[[32]byte]bool, len(b.Refs))
	for _, r := range b.Refs {
		if seen[r.Hash] {
			continue
		}
		seen[r.Hash] = true
		if _, ok := inA[r.Hash]; ok {
			d.SharedBytes += r.Size
		} else {
			d.OnlyBBytes += r.Size
		}
	}
	counted := make(map[[32]byte]bool, len(a.Refs))
	for _, r := range a.Refs {
		if counted[r.Hash] {
			continue
		}
		counted[r.Hash] = true
		if !seen[r.Hash] {
			d.OnlyABytes += r.Size
		}
	}
	return d
}
