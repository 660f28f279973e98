// Package merge materializes curated annotations: the policy gate for
// automatic merging, single-instance merges driven by a curator, position
// clears, and the seed pass that builds the first merged set of a document.
//
// Merge functions mutate the merged set they are given and are not safe for
// concurrent use on the same set. Callers serialize writers per document,
// for example with MemoryLocker or a distributed types.Locker.
package merge
