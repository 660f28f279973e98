// Package types defines the annotation data model, the layer schema, the
// Store and Locker interfaces, configuration, and the standard errors shared
// by the diff, merge and curation packages.
package types
