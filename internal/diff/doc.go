// Package diff groups annotations from several owners by position and
// partitions each position's annotations into configurations of identical
// instances.
//
// Diff is a pure function over immutable snapshots. Results may be computed
// per segment in parallel without synchronization.
package diff
