package types

import (
	"errors"
	"fmt"
)

// Storage errors.
var (
	ErrNotFound    = errors.New("entity not found")
	ErrInvalidID   = errors.New("invalid entity ID")
	ErrInvalidData = errors.New("invalid entity data")
	ErrIO          = errors.New("storage write failed")
)

// Diff errors. An instance failing with one of these is skipped; the diff
// continues.
var (
	ErrSchema            = errors.New("unresolvable layer or feature")
	ErrDanglingReference = errors.New("reference to missing annotation")
	ErrLoad              = errors.New("annotation set failed to load")
)

// Merge errors. Each aborts only the merge in progress and leaves the merged
// set unchanged.
var (
	ErrAlreadyMerged       = errors.New("identical annotation already merged")
	ErrAmbiguousAttachment = errors.New("attachment point is stacked")
	ErrAttachmentNotFound  = errors.New("attachment point not merged")
	ErrPositionMismatch    = errors.New("annotation is not at the requested position")
)

// LoadError records an owner whose annotation set could not be read.
type LoadError struct {
	Owner string
	Err   error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.Owner, e.Err)
}

// Unwrap exposes both ErrLoad and the underlying cause to errors.Is.
func (e *LoadError) Unwrap() []error {
	return []error{ErrLoad, e.Err}
}
