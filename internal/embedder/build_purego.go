//go:build !cgo_sqlite
// +build !cgo_sqlite

package embedder

// Default build: the embedding disk cache uses the pure Go driver, so
// cross-compilation needs no C toolchain.
//
// Build command:
//   CGO_ENABLED=0 go build ./...

import (
	_ "modernc.org/sqlite"
)

const (
	// DriverName is the SQLite driver used by the disk cache.
	DriverName = "sqlite"

	// BuildMode describes the current build configuration.
	BuildMode = "purego"
)
