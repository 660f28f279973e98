// Package sqlite provides the public API for the SQLite concord backend.
// This package exposes the factory functions for creating SQLite backends
// while keeping implementation details internal.
package sqlite

import (
	"log/slog"

	"github.com/mesh-intelligence/concord/internal/sqlite"
	"github.com/mesh-intelligence/concord/pkg/types"
)

// Backend is the SQLite implementation of types.Backend. Beyond the Store
// methods it offers PutDocument, PutSegments, PutAnnotationSet and
// PutLayers for loading documents.
type Backend = sqlite.Backend

// NewBackend creates a new SQLite backend instance.
// The backend is not attached; call Attach with a Config to initialize.
//
// Example:
//
//	backend := sqlite.NewBackend(logger)
//	err := backend.Attach(types.Config{
//	    Backend: types.BackendSQLite,
//	    DataDir: ".concord-db",
//	})
//	defer backend.Detach()
func NewBackend(logger *slog.Logger) *Backend {
	return sqlite.NewBackend(logger)
}

// Open creates a backend and attaches it with config. The caller must
// Detach it.
func Open(config types.Config, logger *slog.Logger) (*Backend, error) {
	b := sqlite.NewBackend(logger)
	if err := b.Attach(config); err != nil {
		return nil, err
	}
	return b, nil
}

// ParseLayers decodes and validates a layers.yaml document.
func ParseLayers(data []byte) (*types.Schema, error) {
	return sqlite.ParseLayers(data)
}
