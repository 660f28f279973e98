package types

import (
	"context"
	"time"
)

// Owner is one roster entry for a document.
type Owner struct {
	ID string `json:"owner"`
	// Finished marks an annotator who has completed the document.
	Finished bool `json:"finished"`
}

// Segment is one display window of a document, [Begin, End).
type Segment struct {
	Begin int `json:"begin"`
	End   int `json:"end"`
}

// Store is the storage collaborator consumed by curation. Implementations
// return copies: callers may mutate what they read without affecting the
// store.
type Store interface {
	// ListOwners returns the annotators of a document, including reserved
	// owners when present.
	ListOwners(ctx context.Context, document string) ([]Owner, error)

	// ReadAnnotationSet returns one owner's annotations for a document.
	// Returns an error wrapping ErrNotFound if the set is absent.
	ReadAnnotationSet(ctx context.Context, document, owner string) (*AnnotationSet, error)

	// LayerSchema returns the layer schema.
	LayerSchema(ctx context.Context) (*Schema, error)

	// ReadMergedSet returns the curated set of a document, or an error
	// wrapping ErrNotFound before the first curation.
	ReadMergedSet(ctx context.Context, document string) (*AnnotationSet, error)

	// WriteMergedSet persists the curated set of a document.
	WriteMergedSet(ctx context.Context, document string, set *AnnotationSet) error

	// SegmentBoundaries returns the display segmentation of a document.
	SegmentBoundaries(ctx context.Context, document string) ([]Segment, error)
}

// UnlockFunc releases a lock acquired through Locker.
type UnlockFunc func(ctx context.Context) error

// Locker serializes writers of one document's merged set.
type Locker interface {
	// Lock blocks until the lock for key is held or ctx is done. The ttl
	// bounds how long a lock may be held by a crashed holder; in-process
	// implementations may ignore it.
	Lock(ctx context.Context, key string, ttl time.Duration) (UnlockFunc, error)
}
