// SPDX-License-Identifier: MIT OR Apache-2.0

package snapshot

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownChunk is returned when a snapshot references a chunk the
	// store no longer retains (released or never interned here).
	ErrUnknownChunk = errors.New("snapshot chunk not retained by store")

	// ErrEmptySnapshot is returned when a zero-value snapshot is used where
	// a capture is required.
	ErrEmptySnapshot = errors.New("snapshot is empty")
)

// ValidationError reports an edit precondition that failed before any
// mutation started. World state is untouched.
type ValidationError struct {
	// Target is the unit the edit was aimed at.
	Target Target

	// Reason is a human-readable description of the unmet precondition.
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Target, e.Reason)
}

// ApplyError reports that a mutation or its inverse could not be performed
// against current world state. The originating history entry is left
// untouched so the action stays retryable.
type ApplyError struct {
	// Target is the unit the restore was aimed at.
	Target Target

	// Reason is a human-readable description of the failure.
	Reason string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *ApplyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("apply failed for %s: %s: %v", e.Target, e.Reason, e.Err)
	}
	return fmt.Sprintf("apply failed for %s: %s", e.Target, e.Reason)
}

// Unwrap returns the underlying cause.
func (e *ApplyError) Unwrap() error {
	return e.Err
}

// SchemaMismatchError reports that a retained snapshot's tag or version is
// incompatible with the currently loaded schema. The affected history entry
// is permanently unusable; everything else remains valid.
type SchemaMismatchError struct {
	// Tag is the snapshot's type tag.
	Tag string

	// SchemaVersion is the snapshot's schema version.
	SchemaVersion uint16

	// Supported is the newest version the provider understands for Tag,
	// or 0 when the tag itself is unknown.
	Supported uint16
}

// Error implements the error interface.
func (e *SchemaMismatchError) Error() string {
	if e.Supported == 0 {
		return fmt.Sprintf("snapshot tag %q is not recognized", e.Tag)
	}
	return fmt.Sprintf("snapshot %q v%d is incompatible (supported: v%d)",
		e.Tag, e.SchemaVersion, e.Supported)
}
