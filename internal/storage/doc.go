// Package storage keeps the run journal: one record per pass plus one record
// per clone it created.
//
// Drivers:
//   - "file": JSON Lines next to the configured path
//   - "sqlite": SQLite database (modernc.org/sqlite, no cgo)
package storage
