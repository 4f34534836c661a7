// SPDX-License-Identifier: MIT OR Apache-2.0

// Package session is the command/editing-tool boundary of the history
// engine.
//
// Description:
//
//	Tools bracket multi-step edits with Begin/End, submit single edits as
//	(target, before, after, description) tuples, and may Cancel an
//	in-progress gesture, which restores the state captured at gesture
//	start and pushes nothing. UI surfaces drive Undo/Redo and the peek and
//	listing queries through the same session.
//
// Thread Safety: A session serializes all mutation internally; exactly one
// logical owner (the active editing session) drives edits at a time, and
// read-only queries are safe alongside it.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ordokr/OrdoPlayEditor/services/editor/history"
	"github.com/ordokr/OrdoPlayEditor/services/editor/snapshot"
)

var (
	// ErrTransactionOpen is returned by Begin when a transaction is
	// already open. Nested transactions are not supported.
	ErrTransactionOpen = errors.New("a transaction is already open")

	// ErrNoTransaction is returned by End and Cancel without an open
	// transaction.
	ErrNoTransaction = errors.New("no open transaction")

	// ErrIncompleteEdit is returned for edits missing a capture.
	ErrIncompleteEdit = errors.New("edit must carry both before and after captures")
)

// Edit is one submitted reversible edit.
//
// The captures must have been taken synchronously around the mutation, on
// the thread committing it: Before at gesture start (or just before the
// mutation), After at the moment the edit is final. Deferred or
// background-thread capture can interleave with asset reloads and corrupt
// the pair, which is why the session accepts only completed captures.
type Edit struct {
	// Target is the affected unit.
	Target snapshot.Target

	// Kind classifies the edit for coalescing ("transform.set", ...).
	Kind string

	// Before is the capture taken before the mutation.
	Before snapshot.Snapshot

	// After is the capture taken after the mutation.
	After snapshot.Snapshot

	// Description labels the edit in history lists.
	Description string
}

// Session owns one editing context's history.
type Session struct {
	mu     sync.Mutex
	world  snapshot.Provider
	store  *snapshot.Store
	hist   *history.History
	open   *history.OperationGroup
	logger *slog.Logger
}

// New creates a session around a state provider.
//
// Inputs:
//   - world: State-provider capability. Must not be nil.
//   - store: Snapshot store shared with the provider. Must not be nil.
//   - opts: History configuration; zero fields take defaults.
//   - logger: Logger for diagnostics. If nil, uses slog.Default().
func New(world snapshot.Provider, store *snapshot.Store, opts history.Options, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Logger == nil {
		opts.Logger = logger
	}
	return &Session{
		world:  world,
		store:  store,
		hist:   history.New(world, store, opts),
		logger: logger.With("component", "session"),
	}
}

// History exposes the underlying history for read-only UI queries.
func (s *Session) History() *history.History {
	return s.hist
}

// Begin opens an explicit transaction scope.
//
// Outputs:
//   - error: ErrTransactionOpen if a transaction is already open.
func (s *Session) Begin(description string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.open != nil {
		return ErrTransactionOpen
	}
	s.open = history.NewGroup(description)
	s.logger.Debug("transaction opened", "description", description)
	return nil
}

// InTransaction reports whether a transaction is open.
func (s *Session) InTransaction() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open != nil
}

// Submit records one completed edit.
//
// Description:
//
//	Inside an open transaction the edit is appended to the pending group.
//	Without one, the edit becomes an implicit single-operation group and
//	is committed immediately (coalescer first, then push).
func (s *Session) Submit(ctx context.Context, e Edit) (history.CommitResult, error) {
	if e.Before.IsZero() || e.After.IsZero() {
		return history.CommitResult{}, ErrIncompleteEdit
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	op := history.Operation{
		Target:      e.Target,
		Kind:        e.Kind,
		Before:      e.Before,
		After:       e.After,
		Description: e.Description,
	}

	if s.open != nil {
		s.open.Append(op)
		return history.CommitResult{}, nil
	}

	g := history.NewGroup("")
	g.Append(op)
	g.CommittedAt = time.Now()
	return s.commit(ctx, g)
}

// End closes the open transaction and commits it.
//
// Closing an empty transaction is a no-op; nothing reaches history.
func (s *Session) End(ctx context.Context) (history.CommitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.open == nil {
		return history.CommitResult{}, ErrNoTransaction
	}
	g := s.open
	s.open = nil

	if g.Empty() {
		s.logger.Debug("empty transaction closed", "description", g.Description)
		return history.CommitResult{}, nil
	}
	g.CommittedAt = time.Now()
	return s.commit(ctx, g)
}

// Cancel abandons the open transaction, restoring live state to the
// captures taken at gesture start. History receives nothing.
func (s *Session) Cancel(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.open == nil {
		return ErrNoTransaction
	}
	g := s.open
	s.open = nil

	_, span := otel.Tracer("editor").Start(ctx, "session.Cancel",
		trace.WithAttributes(
			attribute.String("description", g.Description),
			attribute.Int("ops", g.Len()),
		),
	)
	defer span.End()

	if g.Empty() {
		return nil
	}
	if err := g.RevertAll(s.world); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "gesture rollback failed")
		return fmt.Errorf("cancel transaction %q: %w", g.Description, err)
	}
	s.release(g)
	s.logger.Info("transaction cancelled", "description", g.Description, "ops", g.Len())
	return nil
}

// commit hands a closed group to history under a span. Caller holds s.mu.
func (s *Session) commit(ctx context.Context, g *history.OperationGroup) (history.CommitResult, error) {
	_, span := otel.Tracer("editor").Start(ctx, "session.Commit",
		trace.WithAttributes(
			attribute.String("label", g.Label()),
			attribute.Int("ops", g.Len()),
			attribute.Int64("size_bytes", g.Size()),
		),
	)
	defer span.End()

	res, err := s.hist.Commit(g)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "commit failed")
		return res, err
	}
	span.SetAttributes(
		attribute.Bool("merged", res.Merged),
		attribute.Int("evicted", res.Evicted.Groups),
	)
	if res.Evicted.Occurred() {
		s.logger.Warn("oldest undo steps discarded to stay inside memory budget",
			"evicted", res.Evicted.Groups,
			"freed_bytes", res.Evicted.FreedBytes)
	}
	return res, nil
}

// Undo reverts the most recent committed group.
func (s *Session) Undo(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	label, _ := s.hist.PeekUndoDescription()
	_, span := otel.Tracer("editor").Start(ctx, "session.Undo",
		trace.WithAttributes(attribute.String("label", label)),
	)
	defer span.End()

	if err := s.hist.Undo(); err != nil {
		if !errors.Is(err, history.ErrNothingToUndo) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "undo failed")
		}
		return err
	}
	return nil
}

// Redo re-applies the most recently undone group.
func (s *Session) Redo(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	label, _ := s.hist.PeekRedoDescription()
	_, span := otel.Tracer("editor").Start(ctx, "session.Redo",
		trace.WithAttributes(attribute.String("label", label)),
	)
	defer span.End()

	if err := s.hist.Redo(); err != nil {
		if !errors.Is(err, history.ErrNothingToRedo) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "redo failed")
		}
		return err
	}
	return nil
}

// CanUndo reports whether an undo entry exists.
func (s *Session) CanUndo() bool { return s.hist.CanUndo() }

// CanRedo reports whether a redo entry exists.
func (s *Session) CanRedo() bool { return s.hist.CanRedo() }

// PeekUndoDescription returns the label of the next undo entry.
func (s *Session) PeekUndoDescription() (string, bool) {
	return s.hist.PeekUndoDescription()
}

// PeekRedoDescription returns the label of the next redo entry.
func (s *Session) PeekRedoDescription() (string, bool) {
	return s.hist.PeekRedoDescription()
}

// List returns up to limit history rows, newest first.
func (s *Session) List(limit int) []history.Entry {
	return s.hist.List(limit)
}

// Save marks the current cursor as the last-saved point. No I/O happens
// here; scene serialization is the persistence collaborator's job.
func (s *Session) Save() {
	s.hist.Save()
	s.logger.Debug("save point marked")
}

// IsClean reports whether the cursor sits at the last-saved point.
func (s *Session) IsClean() bool {
	return s.hist.IsClean()
}

// release drops a dead group's capture ownership.
func (s *Session) release(g *history.OperationGroup) {
	for i := range g.Ops {
		s.store.Release(g.Ops[i].Before)
		s.store.Release(g.Ops[i].After)
	}
}
