// SPDX-License-Identifier: MIT OR Apache-2.0

package history

import "errors"

var (
	// ErrNothingToUndo is returned when Undo is called with an empty undo
	// stack.
	ErrNothingToUndo = errors.New("nothing to undo")

	// ErrNothingToRedo is returned when Redo is called with an empty redo
	// stack.
	ErrNothingToRedo = errors.New("nothing to redo")

	// ErrNilGroup is returned when a nil group is committed.
	ErrNilGroup = errors.New("operation group must not be nil")
)
