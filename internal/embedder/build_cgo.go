//go:build cgo_sqlite
// +build cgo_sqlite

package embedder

// Compiled with the cgo_sqlite tag: the embedding disk cache uses the
// C-backed driver.
//
// Build command:
//   CGO_ENABLED=1 go build -tags cgo_sqlite ./...

import (
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DriverName is the SQLite driver used by the disk cache.
	DriverName = "sqlite3"

	// BuildMode describes the current build configuration.
	BuildMode = "cgo"
)
