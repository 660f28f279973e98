package types

import "errors"

// Backend is a Store with a lifecycle. Callers attach to a backend, use it as
// a Store, and detach when done.
type Backend interface {
	Store

	// Attach connects the backend described by config. Creates the DataDir
	// if it does not exist. Returns ErrAlreadyAttached if called while
	// already attached.
	Attach(config Config) error

	// Detach releases backend resources. Idempotent: multiple calls succeed.
	// After Detach, operations return ErrBackendDetached.
	Detach() error
}

// Backend lifecycle errors.
var (
	ErrBackendDetached = errors.New("backend is detached")
	ErrAlreadyAttached = errors.New("backend is already attached")
)
