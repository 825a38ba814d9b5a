// Package database opens the SQLite file holding the switch device
// directory and keeps its schema current.
//
// The skill only reads the switch_devices table; rows are maintained by an
// installer tool or by hand. WAL mode lets those writes proceed while the
// skill refreshes its cache.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if _, err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migrations only move forward. Files are named
// YYYYMMDD_HHMMSS_description.up.sql and are embedded by the top-level
// migrations package.
package database
