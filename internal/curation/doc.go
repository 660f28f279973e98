// Package curation builds the curator's view of a document: it loads every
// annotator's set, summarizes agreement per display segment, seeds the merged
// set on first access, and serializes curator merges and clears per document.
package curation
