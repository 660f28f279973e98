// Package concord holds build metadata shared by the binary and tools.
package concord

// Version is the concord release version.
const Version = "0.1.0"

// ModulePath is the Go module path of concord.
const ModulePath = "github.com/mesh-intelligence/concord"
