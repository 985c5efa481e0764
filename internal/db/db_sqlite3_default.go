//go:build !sqlite3_cgo

package db

// The default build needs no C toolchain; SQLite runs as embedded wasm.
import (
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

const (
	driverID   = "ncruces/go-sqlite3"
	driverName = "sqlite3"
)
