//go:build cgo && sqlite3_cgo

package db

// Built with -tags sqlite3_cgo for hosts where the system SQLite is preferred.
import (
	_ "github.com/mattn/go-sqlite3"
)

const (
	driverID   = "mattn/go-sqlite3"
	driverName = "sqlite3"
)
